package mcpserver

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courserag/internal/domain"
	"courserag/internal/embedding/hashed"
	"courserag/internal/index"
	"courserag/internal/tools"
	"courserag/internal/vectorstore/memory"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	ix := index.New(memory.NewStorage(), hashed.NewEmbedder(256), nil)
	c := domain.Course{Title: "Intro to X", Instructor: "Ada", Lessons: []domain.Lesson{{Number: 1, Title: "Vectors"}}}
	require.NoError(t, ix.ReplaceCourse(ctx, c, []domain.Chunk{
		{Text: "Lesson 1 content: Vectors are lists of numbers.", CourseTitle: c.Title, LessonNumber: domain.IntPtr(1), ChunkIndex: 0},
	}, ""))
	return New(tools.NewSet(ix, 5, nil), ix, "test", nil)
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestSearchTool(t *testing.T) {
	s := newServer(t)

	res, err := s.handleSearch(context.Background(), call("search_course_content", map[string]any{
		"query":         "vectors",
		"course_name":   "intro",
		"lesson_number": float64(1),
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "[Intro to X - Lesson 1] Lesson 1 content: Vectors are lists of numbers.")
	assert.Contains(t, text(t, res), "Sources: Intro to X - Lesson 1")
}

func TestSearchToolRequiresQuery(t *testing.T) {
	s := newServer(t)
	res, err := s.handleSearch(context.Background(), call("search_course_content", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSearchToolEmptyResult(t *testing.T) {
	s := newServer(t)
	res, err := s.handleSearch(context.Background(), call("search_course_content", map[string]any{
		"query":         "vectors",
		"lesson_number": float64(4),
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "No relevant content found in lesson 4.", text(t, res))
}

func TestSearchToolNullLessonNumberSearchesAllLessons(t *testing.T) {
	s := newServer(t)
	res, err := s.handleSearch(context.Background(), call("search_course_content", map[string]any{
		"query":         "vectors",
		"lesson_number": nil,
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "[Intro to X - Lesson 1]")
	assert.NotContains(t, text(t, res), "lesson 0")
}

func TestSearchToolRejectsFractionalLessonNumber(t *testing.T) {
	s := newServer(t)
	res, err := s.handleSearch(context.Background(), call("search_course_content", map[string]any{
		"query":         "vectors",
		"lesson_number": 1.5,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "not an integer")
}

func TestOutlineTool(t *testing.T) {
	s := newServer(t)
	res, err := s.handleOutline(context.Background(), call("get_course_outline", map[string]any{"course_name": "Intro to X"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "Lesson 1: Vectors")
}

func TestListCoursesTool(t *testing.T) {
	s := newServer(t)
	res, err := s.handleListCourses(context.Background(), call("list_courses", nil))
	require.NoError(t, err)
	assert.Equal(t, "Intro to X", text(t, res))
}
