// Package tools defines the closed set of tools the assistant can offer to a
// language model. Adding a tool means adding a Kind, its schema and a case
// in Set.Execute.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"courserag/internal/domain"
	"courserag/internal/index"
)

type Kind int

const (
	SearchCourseContent Kind = iota
	GetCourseOutline
)

var kindNames = map[Kind]string{
	SearchCourseContent: "search_course_content",
	GetCourseOutline:    "get_course_outline",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown_tool(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind maps a tool name back to its Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

var (
	ErrUnknownTool        = errors.New("unknown tool")
	ErrMalformedArguments = errors.New("malformed tool arguments")
)

// Schema describes a tool to a language model. Parameters is a JSON schema.
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Catalog is the part of the index the tools read from.
type Catalog interface {
	ResolveCourseName(ctx context.Context, hint string) (string, error)
	Search(ctx context.Context, query string, f index.Filter, topK int) ([]domain.SearchResult, error)
	CourseOutline(ctx context.Context, title string) (index.Entry, error)
}

// Set is the tool set offered to the model.
type Set struct {
	catalog Catalog
	topK    int
	kinds   []Kind
	log     *zap.Logger
}

// NewSet offers the given kinds, or every kind when none are named.
func NewSet(catalog Catalog, topK int, log *zap.Logger, kinds ...Kind) *Set {
	if topK <= 0 {
		topK = 5
	}
	if len(kinds) == 0 {
		kinds = []Kind{SearchCourseContent, GetCourseOutline}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Set{catalog: catalog, topK: topK, kinds: kinds, log: log}
}

func (s *Set) Kinds() []Kind { return s.kinds }

// Schemas returns the declared schema of every offered tool.
func (s *Set) Schemas() []Schema {
	out := make([]Schema, 0, len(s.kinds))
	for _, k := range s.kinds {
		out = append(out, schemaFor(k))
	}
	return out
}

func (s *Set) offers(k Kind) bool {
	for _, have := range s.kinds {
		if have == k {
			return true
		}
	}
	return false
}

// Execute runs the named tool with JSON-encoded arguments.
func (s *Set) Execute(ctx context.Context, name, arguments string) (domain.ToolCallResult, error) {
	kind, ok := ParseKind(name)
	if !ok || !s.offers(kind) {
		return domain.ToolCallResult{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	s.log.Debug("executing tool", zap.Stringer("tool", kind), zap.String("arguments", arguments))
	switch kind {
	case SearchCourseContent:
		var args SearchArgs
		if err := decodeArgs(arguments, &args); err != nil {
			return domain.ToolCallResult{}, err
		}
		return s.Search(ctx, args)
	case GetCourseOutline:
		var args OutlineArgs
		if err := decodeArgs(arguments, &args); err != nil {
			return domain.ToolCallResult{}, err
		}
		return s.Outline(ctx, args)
	default:
		return domain.ToolCallResult{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

func decodeArgs(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	return nil
}

// LessonNumber accepts a JSON number or a numeric string; models produce
// both.
type LessonNumber struct {
	N *int
}

func (l *LessonNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		l.N = nil
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return fmt.Errorf("lesson_number %s is not an integer", string(b))
	}
	l.N = domain.IntPtr(int(f))
	return nil
}
