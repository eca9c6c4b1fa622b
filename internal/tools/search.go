package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"courserag/internal/domain"
	"courserag/internal/index"
)

type SearchArgs struct {
	Query        string       `json:"query"`
	CourseName   string       `json:"course_name,omitempty"`
	LessonNumber LessonNumber `json:"lesson_number"`
}

var searchSchema = Schema{
	Name:        SearchCourseContent.String(),
	Description: "Search course materials with smart course name matching and lesson filtering",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to search for in the course content",
			},
			"course_name": map[string]any{
				"type":        "string",
				"description": "Course title (partial matches work, e.g. 'MCP', 'Introduction')",
			},
			"lesson_number": map[string]any{
				"type":        "integer",
				"description": "Specific lesson number to search within (e.g. 1, 2, 3)",
			},
		},
		"required": []string{"query"},
	},
}

// Search resolves the course hint, searches the content collection and
// formats the hits as labeled excerpts with one source per excerpt.
func (s *Set) Search(ctx context.Context, args SearchArgs) (domain.ToolCallResult, error) {
	if strings.TrimSpace(args.Query) == "" {
		return domain.ToolCallResult{}, fmt.Errorf("%w: query is required", ErrMalformedArguments)
	}
	title := ""
	if hint := strings.TrimSpace(args.CourseName); hint != "" {
		resolved, err := s.catalog.ResolveCourseName(ctx, hint)
		if err != nil {
			if errors.Is(err, domain.ErrNoSuchCourse) {
				return domain.ToolCallResult{}, fmt.Errorf("%w: %q", domain.ErrNoSuchCourse, hint)
			}
			return domain.ToolCallResult{}, err
		}
		title = resolved
	}
	results, err := s.catalog.Search(ctx, args.Query, index.Filter{CourseTitle: title, LessonNumber: args.LessonNumber.N}, s.topK)
	if err != nil {
		return domain.ToolCallResult{}, err
	}
	if len(results) == 0 {
		return domain.ToolCallResult{Text: emptyText(title, args.LessonNumber.N), Sources: []string{}, Empty: true}, nil
	}
	return FormatResults(results), nil
}

// FormatResults renders search hits in result order. Sources are not
// deduplicated: two hits from one lesson give two identical sources.
func FormatResults(results []domain.SearchResult) domain.ToolCallResult {
	excerpts := make([]string, len(results))
	sources := make([]string, len(results))
	for i, r := range results {
		label := r.Chunk.CourseTitle
		if r.Chunk.LessonNumber != nil {
			label = fmt.Sprintf("%s - Lesson %d", label, *r.Chunk.LessonNumber)
		}
		excerpts[i] = "[" + label + "] " + r.Chunk.Text
		sources[i] = label
	}
	return domain.ToolCallResult{Text: strings.Join(excerpts, "\n\n"), Sources: sources}
}

func emptyText(title string, lesson *int) string {
	var b strings.Builder
	b.WriteString("No relevant content found")
	if title != "" {
		fmt.Fprintf(&b, " in course '%s'", title)
	}
	if lesson != nil {
		if title == "" {
			b.WriteString(" in")
		}
		fmt.Fprintf(&b, " lesson %d", *lesson)
	}
	b.WriteString(".")
	return b.String()
}
