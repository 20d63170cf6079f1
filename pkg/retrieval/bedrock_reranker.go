package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockRerankProvider scores (query, document) pairs with a Cohere
// rerank model hosted on Amazon Bedrock, implementing RerankProvider.
type BedrockRerankProvider struct {
	client *bedrockruntime.Client
}

// NewBedrockRerankProvider dials Bedrock in the given region using the
// default credential chain.
func NewBedrockRerankProvider(ctx context.Context, region string) (*BedrockRerankProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &BedrockRerankProvider{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

type cohereRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type cohereRerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type cohereRerankResponse struct {
	Results []cohereRerankResult `json:"results"`
}

// Rerank scores every document against query using model, returning
// one score per input document in the same order regardless of the
// order Bedrock returns results in.
func (p *BedrockRerankProvider) Rerank(ctx context.Context, query string, documents []string, model string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(cohereRerankRequest{Query: query, Documents: documents, TopN: len(documents)})
	if err != nil {
		return nil, fmt.Errorf("marshaling rerank request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("invoking bedrock rerank model %s: %w", model, err)
	}

	var resp cohereRerankResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("parsing rerank response: %w", err)
	}

	scores := make([]float64, len(documents))
	for _, r := range resp.Results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.RelevanceScore
		}
	}
	return scores, nil
}
