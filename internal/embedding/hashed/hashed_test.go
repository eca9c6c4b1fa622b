package hashed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courserag/internal/embedding"
)

func embed(t *testing.T, e *Embedder, text string) []float64 {
	t.Helper()
	v, err := e.Embed(context.Background(), text)
	require.NoError(t, err)
	return v
}

func TestEmbedIsNormalizedAndDeterministic(t *testing.T) {
	e := NewEmbedder(64)
	a := embed(t, e, "Building retrieval systems")
	b := embed(t, e, "Building retrieval systems")

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	norm := 0.0
	for _, x := range a {
		norm += x * x
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestEmptyTextIsZeroVector(t *testing.T) {
	v := embed(t, NewEmbedder(0), "   ")
	assert.Len(t, v, DefaultDimension)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestMisspelledTitleStaysClosest(t *testing.T) {
	e := NewEmbedder(512)
	query := embed(t, e, "into to x")
	intro := embed(t, e, "Intro to X")
	other := embed(t, e, "Advanced Y")

	assert.Greater(t, embedding.Cosine(query, intro), embedding.Cosine(query, other))
}

func TestPartialNameMatchesCourse(t *testing.T) {
	e := NewEmbedder(512)
	query := embed(t, e, "MCP")
	mcp := embed(t, e, "MCP: Build Rich-Context AI Apps with Anthropic")
	other := embed(t, e, "Advanced Retrieval for AI with Chroma")

	assert.Greater(t, embedding.Cosine(query, mcp), embedding.Cosine(query, other))
}

func TestName(t *testing.T) {
	e := NewEmbedder(8)
	assert.Equal(t, "hashed", e.Name())
	assert.Equal(t, 8, e.Dimension())
}
