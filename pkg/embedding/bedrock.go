package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockProvider generates embeddings using Amazon Bedrock foundation
// models (Titan, Cohere).
type BedrockProvider struct {
	client *bedrockruntime.Client
	region string
}

// NewBedrockProvider constructs a BedrockProvider for the given AWS
// region, using the default credential chain.
func NewBedrockProvider(ctx context.Context, region string) (*BedrockProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &BedrockProvider{client: bedrockruntime.NewFromConfig(cfg), region: region}, nil
}

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type cohereEmbedRequest struct {
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type,omitempty"`
}

type cohereEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// GenerateEmbedding implements Provider.
func (p *BedrockProvider) GenerateEmbedding(ctx context.Context, text string, modelID string) ([]float32, error) {
	var bedrockModelID string
	var body []byte
	var err error

	switch modelID {
	case "titan-embed-text-v2":
		bedrockModelID = "amazon.titan-embed-text-v2:0"
		body, err = json.Marshal(titanEmbedRequest{InputText: text})
	case "embed-english-v3", "embed-multilingual-v3":
		bedrockModelID = "cohere." + modelID
		body, err = json.Marshal(cohereEmbedRequest{Texts: []string{text}, InputType: "search_document"})
	default:
		return nil, fmt.Errorf("unsupported embedding model: %s", modelID)
	}
	if err != nil {
		return nil, fmt.Errorf("marshaling embedding request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(bedrockModelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("invoking bedrock model %s: %w", bedrockModelID, err)
	}

	if modelID == "titan-embed-text-v2" {
		var resp titanEmbedResponse
		if err := json.Unmarshal(output.Body, &resp); err != nil {
			return nil, fmt.Errorf("parsing titan response: %w", err)
		}
		return resp.Embedding, nil
	}

	var resp cohereEmbedResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("parsing cohere response: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("bedrock returned no embeddings")
	}
	return resp.Embeddings[0], nil
}

// SupportedModels implements Provider.
func (p *BedrockProvider) SupportedModels() []string {
	return []string{"titan-embed-text-v2", "embed-english-v3", "embed-multilingual-v3"}
}

// Ping implements serving.EmbeddingHealthProbe by issuing a minimal
// embedding request against the default model and reporting whether
// Bedrock served it.
func (p *BedrockProvider) Ping(ctx context.Context) error {
	_, err := p.GenerateEmbedding(ctx, "healthcheck", "titan-embed-text-v2")
	return err
}
