package genai

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"

	"courserag/internal/embedding"
)

// Client generates embeddings using Google's Gemini API.
type Client struct {
	client    *genai.Client
	model     string
	taskType  string
	dimension int
}

// Config configures the Gemini embeddings client.
type Config struct {
	APIKeyEnv string
	Model     string
	// TaskType: SEMANTIC_SIMILARITY, RETRIEVAL_QUERY, RETRIEVAL_DOCUMENT
	TaskType  string
	Dimension int
}

// NewClient creates a new Gemini embedding client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "GEMINI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 768
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Client{
		client:    client,
		model:     cfg.Model,
		taskType:  taskType(cfg.TaskType),
		dimension: cfg.Dimension,
	}, nil
}

// Catalog titles and chunks are compared symmetrically, so semantic
// similarity is the default.
func taskType(s string) string {
	switch s {
	case "RETRIEVAL_QUERY", "RETRIEVAL_DOCUMENT", "QUESTION_ANSWERING", "CLUSTERING", "CLASSIFICATION":
		return s
	default:
		return "SEMANTIC_SIMILARITY"
	}
}

// Name returns the engine name.
func (c *Client) Name() string { return "genai:" + c.model }

// Dimension returns the requested output dimensionality.
func (c *Client) Dimension() int { return c.dimension }

// Embed generates an L2-normalized embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	dim := int32(c.dimension)
	result, err := c.client.Models.EmbedContent(ctx,
		c.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{
			TaskType:             c.taskType,
			OutputDimensionality: &dim,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	v := embedding.FromFloat32(result.Embeddings[0].Values)
	embedding.Normalize(v)
	return v, nil
}
