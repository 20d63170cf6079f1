// Package objectstore resolves an ingest Item's source reference into
// raw document content (spec §4.13): an s3://bucket/key URI is
// downloaded via the AWS SDK v2 manager.Downloader, anything else is
// treated as a local filesystem path. Grounded on the teacher's
// internal/storage.S3Client (downloader construction, part size/
// concurrency knobs, per-call request timeout).
package objectstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
)

// Config configures the S3 downloader.
type Config struct {
	Region           string
	Endpoint         string
	ForcePathStyle   bool
	DownloadPartSize int64
	Concurrency      int
	RequestTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.DownloadPartSize <= 0 {
		c.DownloadPartSize = manager.DefaultDownloadPartSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = manager.DefaultDownloadConcurrency
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Resolver implements ingest.ContentResolver: it resolves a document
// source reference to its raw text content.
type Resolver struct {
	downloader *manager.Downloader
	cfg        Config
}

// New builds a Resolver. ctx is only used to load AWS credentials/
// region configuration at construction time.
func New(ctx context.Context, cfg Config) (*Resolver, error) {
	cfg.applyDefaults()

	var options []func(*config.LoadOptions) error
	if cfg.Region != "" {
		options = append(options, config.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, opts ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: true, SigningRegion: region}, nil
		})
		options = append(options, config.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindInternal, "loading aws config", err)
	}

	s3Options := []func(*s3.Options){}
	if cfg.ForcePathStyle {
		s3Options = append(s3Options, func(o *s3.Options) { o.UsePathStyle = true })
	}
	client := s3.NewFromConfig(awsCfg, s3Options...)

	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = cfg.DownloadPartSize
		d.Concurrency = cfg.Concurrency
	})

	return &Resolver{downloader: downloader, cfg: cfg}, nil
}

// Resolve fetches the content at source, an "s3://bucket/key" URI or a
// local filesystem path, and returns it decoded as text. contentType
// is advisory only; parsing by format is not this adapter's concern.
func (r *Resolver) Resolve(ctx context.Context, source, contentType string) (string, error) {
	bucket, key, ok := parseS3URI(source)
	if !ok {
		data, err := os.ReadFile(source)
		if err != nil {
			return "", kberrors.Wrap(kberrors.KindNotFound, fmt.Sprintf("reading local source %q", source), err)
		}
		return string(data), nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	buf := manager.NewWriteAtBuffer([]byte{})
	_, err := r.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", kberrors.Wrap(kberrors.KindBackendUnavailable, fmt.Sprintf("downloading s3://%s/%s", bucket, key), err)
	}
	return string(buf.Bytes()), nil
}

// parseS3URI splits an "s3://bucket/key" reference into its bucket and
// key parts. It reports false for anything not using the s3 scheme.
func parseS3URI(source string) (bucket, key string, ok bool) {
	const prefix = "s3://"
	if !strings.HasPrefix(source, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(source, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
