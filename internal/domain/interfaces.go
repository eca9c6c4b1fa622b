package domain

import (
	"context"
	"errors"
	"fmt"
)

// Lesson is a numbered section of a course transcript.
type Lesson struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Link   string `json:"link,omitempty"`
}

// Course is the metadata parsed from a transcript header. Title is the unique key.
type Course struct {
	Title      string   `json:"title"`
	Link       string   `json:"link"`
	Instructor string   `json:"instructor"`
	Lessons    []Lesson `json:"lessons"`
}

// Chunk is a retrievable slice of a course transcript.
type Chunk struct {
	Text         string
	CourseTitle  string
	LessonNumber *int
	ChunkIndex   int
	Embedding    []float64
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// CatalogSummary lists the courses known to the index.
type CatalogSummary struct {
	Total  int      `json:"total_courses"`
	Titles []string `json:"course_titles"`
}

// ToolCallResult is what a tool hands back to the orchestrator.
type ToolCallResult struct {
	Text    string
	Sources []string
	// Empty is set when a search succeeded but matched nothing.
	Empty bool
}

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Answer is the result of a single question.
type Answer struct {
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	SessionID string   `json:"session_id"`
}

// ErrNoSuchCourse is returned when a course name cannot be resolved against the catalog.
var ErrNoSuchCourse = errors.New("no such course")

// ErrModelCall marks failures of the language model service.
var ErrModelCall = errors.New("language model call failed")

// GenerationError is surfaced to callers when a model round-trip fails.
type GenerationError struct {
	Stage string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed during %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() []error { return []error{ErrModelCall, e.Err} }

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// HistoryStore keeps a bounded message log per session id.
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, msgs ...Message) error
	Recent(ctx context.Context, sessionID string) ([]Message, error)
	Close() error
}
