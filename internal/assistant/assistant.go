// Package assistant runs one question through the language model, allowing
// at most one tool call before the final answer.
package assistant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"courserag/internal/domain"
	"courserag/internal/llm"
	"courserag/internal/tools"
)

const systemPrompt = `You are an assistant that answers questions about course materials.

Tools:
- search_course_content: searches lesson transcripts. Use it for questions about what a course teaches.
- get_course_outline: returns a course's title, link, instructor and lesson list. Use it for questions about course structure.
Use at most one tool per question. Answer general knowledge questions without a tool.
If a tool finds nothing, say that no information was found.

Answers must be brief, accurate and direct. Do not mention the search or the tools, and do not explain your reasoning.`

// State is a step of answering one question.
type State int

const (
	AwaitingModel State = iota
	ToolRequested
	AwaitingModelFinal
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingModel:
		return "awaiting_model"
	case ToolRequested:
		return "tool_requested"
	case AwaitingModelFinal:
		return "awaiting_model_final"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ToolRunner is the tool set offered to the model.
type ToolRunner interface {
	Schemas() []tools.Schema
	Execute(ctx context.Context, name, arguments string) (domain.ToolCallResult, error)
}

type Assistant struct {
	model   llm.Client
	tools   ToolRunner
	history domain.HistoryStore
	log     *zap.Logger
}

func New(model llm.Client, toolset ToolRunner, history domain.HistoryStore, log *zap.Logger) *Assistant {
	if log == nil {
		log = zap.NewNop()
	}
	return &Assistant{model: model, tools: toolset, history: history, log: log}
}

// Answer answers query within the given session. Model failures are
// returned as *domain.GenerationError; tool failures are handed to the model
// as text.
func (a *Assistant) Answer(ctx context.Context, sessionID, query string) (domain.Answer, error) {
	log := a.log.With(zap.String("session", sessionID))
	state := AwaitingModel

	messages := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}
	messages = append(messages, a.recent(ctx, sessionID, log)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	resp, err := a.model.Complete(ctx, llm.Request{Messages: messages, Tools: toolDefinitions(a.tools.Schemas())})
	if err != nil {
		return domain.Answer{}, &domain.GenerationError{Stage: state.String(), Err: err}
	}

	sources := []string{}
	if len(resp.ToolCalls) > 0 {
		call := resp.ToolCalls[0]
		if len(resp.ToolCalls) > 1 {
			log.Debug("model requested several tools, executing the first only", zap.Int("requested", len(resp.ToolCalls)))
		}
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		state = transition(log, state, ToolRequested)

		result := a.runTool(ctx, call, log)
		sources = result.Sources

		state = transition(log, state, AwaitingModelFinal)
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: []llm.ToolCall{call}},
			llm.Message{Role: llm.RoleTool, Content: result.Text, ToolCallID: call.ID},
		)
		// no tools on the second round: the model must answer
		resp, err = a.model.Complete(ctx, llm.Request{Messages: messages})
		if err != nil {
			return domain.Answer{}, &domain.GenerationError{Stage: state.String(), Err: err}
		}
	}
	transition(log, state, Done)

	answer := domain.Answer{Answer: resp.Text, Sources: sources, SessionID: sessionID}
	if a.history != nil {
		err := a.history.Append(ctx, sessionID,
			domain.Message{Role: domain.RoleUser, Content: query},
			domain.Message{Role: domain.RoleAssistant, Content: answer.Answer},
		)
		if err != nil {
			log.Warn("failed to record history", zap.Error(err))
		}
	}
	return answer, nil
}

func (a *Assistant) recent(ctx context.Context, sessionID string, log *zap.Logger) []llm.Message {
	if a.history == nil {
		return nil
	}
	past, err := a.history.Recent(ctx, sessionID)
	if err != nil {
		log.Warn("failed to load history, answering without it", zap.Error(err))
		return nil
	}
	out := make([]llm.Message, 0, len(past))
	for _, m := range past {
		role := llm.RoleUser
		if m.Role == domain.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// runTool executes call and folds any failure into the text the model sees.
func (a *Assistant) runTool(ctx context.Context, call llm.ToolCall, log *zap.Logger) domain.ToolCallResult {
	result, err := a.tools.Execute(ctx, call.Name, call.Arguments)
	if err == nil {
		if result.Sources == nil {
			result.Sources = []string{}
		}
		log.Debug("tool finished", zap.String("tool", call.Name), zap.Int("sources", len(result.Sources)), zap.Bool("empty", result.Empty))
		return result
	}
	log.Info("tool call failed", zap.String("tool", call.Name), zap.Error(err))
	return domain.ToolCallResult{Text: failureText(call.Name, err), Sources: []string{}}
}

func failureText(tool string, err error) string {
	switch {
	case errors.Is(err, domain.ErrNoSuchCourse):
		return fmt.Sprintf("No course found matching the requested name (%v). No information is available for it.", err)
	case errors.Is(err, tools.ErrUnknownTool):
		return fmt.Sprintf("Tool %q is not available.", tool)
	case errors.Is(err, tools.ErrMalformedArguments):
		return fmt.Sprintf("The arguments for %s were invalid: %v", tool, err)
	default:
		return fmt.Sprintf("%s failed: %v", tool, err)
	}
}

func transition(log *zap.Logger, from, to State) State {
	log.Debug("assistant state", zap.Stringer("from", from), zap.Stringer("to", to))
	return to
}

func toolDefinitions(schemas []tools.Schema) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(schemas))
	for i, s := range schemas {
		out[i] = llm.ToolDefinition{Name: s.Name, Description: s.Description, InputSchema: s.Parameters}
	}
	return out
}
