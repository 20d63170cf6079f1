package vectorstore

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName enforces the naming rule every collection
// (one per project) must satisfy.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("collection name must match ^[a-z0-9_]{1,64}$, got %q", name)
	}
	return nil
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host     string
	Port     int
	UseTLS   bool
	Distance qdrant.Distance
}

func (c *QdrantConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Distance == 0 {
		c.Distance = qdrant.Distance_Cosine
	}
}

// QdrantBackend implements Backend against a Qdrant server over gRPC.
type QdrantBackend struct {
	client *qdrant.Client
	config QdrantConfig
}

// NewQdrantBackend dials the configured Qdrant server.
func NewQdrantBackend(config QdrantConfig) (*QdrantBackend, error) {
	config.applyDefaults()
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	return &QdrantBackend{client: client, config: config}, nil
}

// Close releases the underlying gRPC connection.
func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

// Ping implements serving.HealthProbe by round-tripping Qdrant's own
// health check RPC.
func (b *QdrantBackend) Ping(ctx context.Context) error {
	_, err := b.client.HealthCheck(ctx)
	return err
}

// CreateCollection implements Backend.
func (b *QdrantBackend) CreateCollection(ctx context.Context, name string, dimension int) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: b.config.Distance,
		}),
	})
}

// DeleteCollection implements Backend.
func (b *QdrantBackend) DeleteCollection(ctx context.Context, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	return b.client.DeleteCollection(ctx, name)
}

// Upsert implements Backend.
func (b *QdrantBackend) Upsert(ctx context.Context, collection string, vectors []Vector) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	points := make([]*qdrant.PointStruct, len(vectors))
	for i, v := range vectors {
		payload := map[string]*qdrant.Value{
			"chunk_id": {Kind: &qdrant.Value_StringValue{StringValue: v.ChunkID}},
			"doc_id":   {Kind: &qdrant.Value_StringValue{StringValue: v.DocID}},
		}
		for k, val := range v.Metadata {
			payload[k] = toQdrantValue(val)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(v.ChunkID)).String()),
			Vectors: qdrant.NewVectors(v.Values...),
			Payload: payload,
		}
	}
	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: collection, Points: points})
	return err
}

// QueryByVector implements Backend.
func (b *QdrantBackend) QueryByVector(ctx context.Context, collection string, vector []float32, k int, filter Filter) ([]Match, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	var qFilter *qdrant.Filter
	if len(filter) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filter))
		for key, value := range filter {
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   key,
						Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
					},
				},
			})
		}
		qFilter = &qdrant.Filter{Must: conditions}
	}

	points, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
		Filter:         qFilter,
	})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		chunkID := ""
		if p.Payload != nil {
			if v, ok := p.Payload["chunk_id"]; ok {
				if s, ok := v.Kind.(*qdrant.Value_StringValue); ok {
					chunkID = s.StringValue
				}
			}
		}
		matches = append(matches, Match{ChunkID: chunkID, Score: float64(p.Score), Values: extractVectorOutput(p.Vectors)})
	}
	return matches, nil
}

// extractVectorOutput recovers a point's dense vector from Qdrant's
// VectorsOutput wrapper, returning nil if the response carried none
// (e.g. WithVectors wasn't requested).
func extractVectorOutput(vectors *qdrant.VectorsOutput) []float32 {
	if vectors == nil {
		return nil
	}
	if vec := vectors.GetVector(); vec != nil {
		if dense := vec.GetDense(); dense != nil {
			return dense.GetData()
		}
	}
	return nil
}

// DeleteByDoc implements Backend.
func (b *QdrantBackend) DeleteByDoc(ctx context.Context, collection string, docID string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{{
						ConditionOneOf: &qdrant.Condition_Field{
							Field: &qdrant.FieldCondition{
								Key:   "doc_id",
								Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: docID}},
							},
						},
					}},
				},
			},
		},
	})
	return err
}

// Size implements Backend.
func (b *QdrantBackend) Size(ctx context.Context, collection string) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	info, err := b.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, err
	}
	if info.PointsCount == nil {
		return 0, nil
	}
	return int(*info.PointsCount), nil
}

func toQdrantValue(v interface{}) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}
