package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ca-srg/cravings/internal/embedding"
)

const (
	DefaultEmbeddingModel = "amazon.titan-embed-text-v2:0"
	DefaultChatModel      = "anthropic.claude-3-haiku-20240307-v1:0"
)

type invoker interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient implements embedding.BatchEmbedder with Titan text
// embeddings, or embedding.ChatClient with Anthropic models, depending on
// the model id it was created for.
type BedrockClient struct {
	client     invoker
	modelID    string
	region     string
	dimensions int
}

// TitanEmbeddingRequest represents the request structure for Titan embedding models
type TitanEmbeddingRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize,omitempty"`
}

// TitanEmbeddingResponse represents the response structure from Titan embedding models
type TitanEmbeddingResponse struct {
	Embedding           []float64 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// ChatRequest is the Anthropic messages payload accepted by Bedrock.
type ChatRequest struct {
	Messages         []embedding.ChatMessage `json:"messages"`
	MaxTokens        int                     `json:"max_tokens,omitempty"`
	Temperature      float64                 `json:"temperature"`
	AnthropicVersion string                  `json:"anthropic_version,omitempty"`
	System           string                  `json:"system,omitempty"`
}

// ChatResponse represents the response from chat models
type ChatResponse struct {
	Content []ChatContent `json:"content"`
}

// ChatContent represents the content in chat response
type ChatContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewBedrockClient creates a client for one Bedrock model.
func NewBedrockClient(awsConfig aws.Config, modelID string, dimensions int) *BedrockClient {
	return newWithInvoker(bedrockruntime.NewFromConfig(awsConfig), awsConfig.Region, modelID, dimensions)
}

func newWithInvoker(client invoker, region, modelID string, dimensions int) *BedrockClient {
	if modelID == "" {
		modelID = DefaultEmbeddingModel
	}
	if dimensions <= 0 {
		dimensions = 1024
	}
	return &BedrockClient{
		client:     client,
		modelID:    modelID,
		region:     region,
		dimensions: dimensions,
	}
}

// Embed creates a normalized Titan embedding for text.
func (c *BedrockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	requestBody, err := json.Marshal(TitanEmbeddingRequest{
		InputText:  text,
		Dimensions: c.dimensions,
		Normalize:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.invoke(ctx, requestBody)
	if err != nil {
		return nil, err
	}

	var response TitanEmbeddingResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("no embedding data in response")
	}
	return embedding.ToFloat32(response.Embedding), nil
}

// EmbedBatch embeds each text in turn; Titan has no multi-input request.
func (c *BedrockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed input %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Complete generates a chat response using the configured chat model
func (c *BedrockClient) Complete(ctx context.Context, messages []embedding.ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("messages cannot be empty")
	}

	var systemPrompts []string
	sanitized := make([]embedding.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if strings.EqualFold(msg.Role, "system") {
			systemPrompts = append(systemPrompts, msg.Content)
			continue
		}
		sanitized = append(sanitized, msg)
	}
	if len(sanitized) == 0 {
		return "", fmt.Errorf("chat messages must include at least one user or assistant message")
	}

	request := ChatRequest{
		Messages:         sanitized,
		MaxTokens:        1024,
		AnthropicVersion: "bedrock-2023-05-31",
	}
	if len(systemPrompts) > 0 {
		request.System = strings.Join(systemPrompts, "\n\n")
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.invoke(ctx, requestBody)
	if err != nil {
		return "", err
	}

	var response ChatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(response.Content) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	return response.Content[0].Text, nil
}

func (c *BedrockClient) invoke(ctx context.Context, requestBody []byte) ([]byte, error) {
	result, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke bedrock model %s: %w", c.modelID, err)
	}
	return result.Body, nil
}

// ModelID returns the Bedrock model this client invokes.
func (c *BedrockClient) ModelID() string {
	return c.modelID
}

// GetRegion returns the AWS region the client was configured for.
func (c *BedrockClient) GetRegion() string {
	return c.region
}
