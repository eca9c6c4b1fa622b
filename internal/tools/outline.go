package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"courserag/internal/domain"
	"courserag/internal/index"
)

type OutlineArgs struct {
	CourseName string `json:"course_name"`
}

var outlineSchema = Schema{
	Name:        GetCourseOutline.String(),
	Description: "Get a course outline: title, link, instructor and the numbered list of lessons",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"course_name": map[string]any{
				"type":        "string",
				"description": "Course title (partial matches work)",
			},
		},
		"required": []string{"course_name"},
	},
}

func schemaFor(k Kind) Schema {
	switch k {
	case GetCourseOutline:
		return outlineSchema
	default:
		return searchSchema
	}
}

// Outline resolves the course hint and describes the course and its lessons.
func (s *Set) Outline(ctx context.Context, args OutlineArgs) (domain.ToolCallResult, error) {
	hint := strings.TrimSpace(args.CourseName)
	if hint == "" {
		return domain.ToolCallResult{}, fmt.Errorf("%w: course_name is required", ErrMalformedArguments)
	}
	title, err := s.catalog.ResolveCourseName(ctx, hint)
	if err != nil {
		if errors.Is(err, domain.ErrNoSuchCourse) {
			return domain.ToolCallResult{}, fmt.Errorf("%w: %q", domain.ErrNoSuchCourse, hint)
		}
		return domain.ToolCallResult{}, err
	}
	entry, err := s.catalog.CourseOutline(ctx, title)
	if err != nil {
		return domain.ToolCallResult{}, err
	}
	return domain.ToolCallResult{Text: FormatOutline(entry), Sources: []string{entry.Course.Title}}, nil
}

func FormatOutline(e index.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Course: %s\n", e.Course.Title)
	if e.Course.Link != "" {
		fmt.Fprintf(&b, "Link: %s\n", e.Course.Link)
	}
	if e.Course.Instructor != "" {
		fmt.Fprintf(&b, "Instructor: %s\n", e.Course.Instructor)
	}
	if e.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", e.Summary)
	}
	fmt.Fprintf(&b, "Lessons (%d):", len(e.Course.Lessons))
	for _, l := range e.Course.Lessons {
		fmt.Fprintf(&b, "\n  Lesson %d: %s", l.Number, l.Title)
	}
	return b.String()
}
