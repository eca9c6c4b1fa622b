package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"courserag/internal/domain"
)

// ChatPort is the TUI-facing subset of the service.
type ChatPort interface {
	Answer(ctx context.Context, query, sessionID string) (domain.Answer, error)
}

type exchange struct {
	query   string
	answer  string
	sources []string
	err     error
}

type answerMsg struct {
	answer domain.Answer
	err    error
}

// Model is the Bubble Tea model for the chat.
type Model struct {
	ctx       context.Context
	service   ChatPort
	sessionID string
	subtitle  string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	history []exchange
	waiting bool
	status  string
	ready   bool
}

// New creates a chat model. subtitle is shown under the header, typically
// the list of loaded courses.
func New(ctx context.Context, service ChatPort, sessionID, subtitle string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the courses and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(statusStyle))
	return Model{
		ctx:       ctx,
		service:   service,
		sessionID: sessionID,
		subtitle:  subtitle,
		input:     ti,
		viewport:  viewport.New(0, 0),
		spinner:   sp,
		status:    "Ready. Esc or Ctrl+C to quit.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header + subtitle, status, input box, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil
	case answerMsg:
		m.waiting = false
		last := &m.history[len(m.history)-1]
		last.err = msg.err
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			last.answer = msg.answer.Answer
			last.sources = msg.answer.Sources
			m.sessionID = msg.answer.SessionID
			m.status = "Session " + shortID(m.sessionID)
		}
		m.refresh()
		return m, nil
	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.waiting {
				return m, nil
			}
			m.input.Reset()
			m.history = append(m.history, exchange{query: q})
			m.waiting = true
			m.status = "Thinking..."
			m.refresh()
			return m, tea.Batch(m.spinner.Tick, m.ask(q))
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask runs the question off the update loop.
func (m Model) ask(q string) tea.Cmd {
	ctx, service, session := m.ctx, m.service, m.sessionID
	return func() tea.Msg {
		ans, err := service.Answer(ctx, q, session)
		return answerMsg{answer: ans, err: err}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("Course Materials Assistant")
	subtitle := subtitleStyle.Render(m.subtitle)
	status := statusStyle.Render(m.status)
	if m.waiting {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + subtitle + "\n" +
		transcriptBoxStyle.Render(m.viewport.View()) + "\n" +
		queryBoxStyle.Render(m.input.View()) + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.history) == 0 {
		return subtitleStyle.Render("No questions yet.")
	}
	width := max(10, m.viewport.Width-2)
	var b strings.Builder
	for i, ex := range m.history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(queryStyle.Render("You: " + ex.query))
		b.WriteString("\n")
		switch {
		case ex.err != nil:
			b.WriteString(errorStyle.Width(width).Render(ex.err.Error()))
		case ex.answer == "" && ex.sources == nil:
			b.WriteString(subtitleStyle.Render("..."))
		default:
			b.WriteString(lipgloss.NewStyle().Width(width).Render(ex.answer))
			if len(ex.sources) > 0 {
				b.WriteString("\n")
				b.WriteString(sourceStyle.Width(width).Render("Sources: " + strings.Join(ex.sources, "; ")))
			}
		}
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var (
	headerStyle        = lipgloss.NewStyle().Bold(true)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	queryStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	sourceStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Summary renders the catalog line shown under the header.
func Summary(c domain.CatalogSummary) string {
	if c.Total == 0 {
		return "No courses loaded."
	}
	return fmt.Sprintf("%d courses: %s", c.Total, strings.Join(c.Titles, ", "))
}
