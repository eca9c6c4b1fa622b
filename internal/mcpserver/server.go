// Package mcpserver exposes the course tools over the Model Context
// Protocol so other assistants can search the index.
package mcpserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"courserag/internal/domain"
	"courserag/internal/tools"
)

// CourseLister reports the catalog.
type CourseLister interface {
	ListCourses(ctx context.Context) (domain.CatalogSummary, error)
}

type Server struct {
	tools   *tools.Set
	courses CourseLister
	mcp     *server.MCPServer
	log     *zap.Logger
}

func New(set *tools.Set, courses CourseLister, version string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		tools:   set,
		courses: courses,
		mcp:     server.NewMCPServer("courserag", version, server.WithToolCapabilities(false)),
		log:     log,
	}
	for _, k := range set.Kinds() {
		switch k {
		case tools.SearchCourseContent:
			s.mcp.AddTool(mcp.NewTool(k.String(),
				mcp.WithDescription(searchDescription(set)),
				mcp.WithString("query", mcp.Required(), mcp.Description("What to search for in the course content")),
				mcp.WithString("course_name", mcp.Description("Course title (partial matches work)")),
				mcp.WithNumber("lesson_number", mcp.Description("Specific lesson number to search within")),
			), s.handleSearch)
		case tools.GetCourseOutline:
			s.mcp.AddTool(mcp.NewTool(k.String(),
				mcp.WithDescription("Get a course outline: title, link, instructor and lessons"),
				mcp.WithString("course_name", mcp.Required(), mcp.Description("Course title (partial matches work)")),
			), s.handleOutline)
		}
	}
	if courses != nil {
		s.mcp.AddTool(mcp.NewTool("list_courses",
			mcp.WithDescription("List the titles of all indexed courses"),
		), s.handleListCourses)
	}
	return s
}

// ServeStdio blocks serving requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func searchDescription(set *tools.Set) string {
	for _, sc := range set.Schemas() {
		if sc.Name == tools.SearchCourseContent.String() {
			return sc.Description
		}
	}
	return "Search course materials"
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := tools.SearchArgs{Query: query, CourseName: req.GetString("course_name", "")}
	// null means no lesson filter; fractional numbers are rejected.
	if raw, ok := req.GetArguments()["lesson_number"]; ok {
		b, err := json.Marshal(raw)
		if err == nil {
			err = json.Unmarshal(b, &args.LessonNumber)
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	res, err := s.tools.Search(ctx, args)
	return s.result(req.Params.Name, res, err)
}

func (s *Server) handleOutline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("course_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.tools.Outline(ctx, tools.OutlineArgs{CourseName: name})
	return s.result(req.Params.Name, res, err)
}

func (s *Server) handleListCourses(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := s.courses.ListCourses(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if summary.Total == 0 {
		return mcp.NewToolResultText("No courses indexed."), nil
	}
	return mcp.NewToolResultText(strings.Join(summary.Titles, "\n")), nil
}

// result reports tool failures to the client as error results rather than
// protocol errors.
func (s *Server) result(tool string, res domain.ToolCallResult, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		s.log.Info("mcp tool failed", zap.String("tool", tool), zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}
	text := res.Text
	if len(res.Sources) > 0 {
		text += "\n\nSources: " + strings.Join(res.Sources, "; ")
	}
	return mcp.NewToolResultText(text), nil
}
