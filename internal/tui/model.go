// Package tui is the terminal driver of a coaching session. It walks the
// flow state machine and talks to a goalcoach server for every turn.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/ashureev/goalcoach/internal/client"
	"github.com/ashureev/goalcoach/internal/conversation"
	"github.com/ashureev/goalcoach/internal/domain"
	"github.com/ashureev/goalcoach/internal/flow"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Backend is the part of the API the terminal client uses.
type Backend interface {
	Chat(ctx context.Context, req client.ChatRequest) (client.ChatReply, error)
	GeneratePlan(ctx context.Context, userID string, persona domain.Persona) (domain.Plan, error)
	SavePlan(ctx context.Context, userID string, p domain.Plan, persona domain.Persona) (string, error)
	AcceptPlan(ctx context.Context, userID, recordID string) error
	ResetConversation(ctx context.Context, userID string) error
}

// Options configure a session.
type Options struct {
	UserID string
	// Goal is sent with the first turn. When empty the first user message
	// is used.
	Goal            string
	TransitionDelay time.Duration
	RequestTimeout  time.Duration
}

type replyMsg struct {
	reply client.ChatReply
	err   error
}

// generatePlanMsg fires once the transition pause is over.
type generatePlanMsg struct{}

type planMsg struct {
	plan     domain.Plan
	recordID string
	err      error
}

type acceptedMsg struct {
	err error
}

const inputAreaHeight = 3

// Model is the root bubbletea model.
type Model struct {
	backend    Backend
	opts       Options
	flow       *flow.Flow
	cursor     int
	suggestion int
	goal       string
	recordID   string
	// fresh is set until the first turn of a conversation has been answered.
	// That turn clears any history the server holds for the user.
	fresh bool
	status     string
	err        error

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model
	progress progress.Model
	width    int
	height   int
	quitting bool
}

// New creates a session model.
func New(backend Backend, opts Options) Model {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	ti := textinput.New()
	ti.Placeholder = "Type your answer... (tab for suggestions)"
	ti.CharLimit = 2000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		backend:  backend,
		opts:     opts,
		flow:     flow.New(),
		goal:     strings.TrimSpace(opts.Goal),
		input:    ti,
		spinner:  sp,
		viewport: viewport.New(0, 0),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

// Flow exposes the session state.
func (m Model) Flow() *flow.Flow { return m.flow }

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		return m.handleKey(msg)

	case replyMsg:
		return m.handleReply(msg)

	case generatePlanMsg:
		m.status = "Creating your personalized plan..."
		return m, tea.Batch(m.generatePlan(), m.spinner.Tick)

	case planMsg:
		m.status = ""
		if msg.err != nil {
			m.err = msg.err
			_ = m.flow.PlanFailed()
		} else {
			m.err = nil
			m.recordID = msg.recordID
			_ = m.flow.PlanReady(msg.plan)
		}
		m.refreshViewport()
		return m, nil

	case acceptedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		_ = m.flow.Accept()
		return m, nil

	case spinner.TickMsg:
		if !m.flow.Loading() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.flow.Stage() {
	case flow.StageIntro:
		switch msg.String() {
		case "enter", " ":
			_ = m.flow.Start()
		case "q":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case flow.StagePersonaSelection:
		return m.handlePersonaKey(msg)

	case flow.StageConversation:
		return m.handleConversationKey(msg)

	case flow.StagePlanReview:
		switch msg.String() {
		case "r":
			if err := m.flow.Refine(); err == nil {
				m.input.Focus()
				m.refreshViewport()
			}
		case "a":
			return m, m.acceptPlan()
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case flow.StageComplete:
		if k := msg.String(); k == "enter" || k == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) handlePersonaKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	personas := domain.Personas()
	switch msg.String() {
	case "up", "k", "left", "h":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j", "right", "l":
		if m.cursor < len(personas)-1 {
			m.cursor++
		}
	case "1", "2", "3":
		m.cursor = int(msg.String()[0] - '1')
	case "enter":
		if err := m.flow.SelectPersona(personas[m.cursor]); err != nil {
			m.err = err
			return m, nil
		}
		if err := m.flow.EnterConversation(); err != nil {
			m.err = err
			return m, nil
		}
		m.fresh = true
		m.input.Focus()
		m.refreshViewport()
	}
	return m, nil
}

func (m Model) handleConversationKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.flow.Loading() {
			return m, nil
		}
		if _, err := m.flow.BeginTurn(text); err != nil {
			m.err = err
			return m, nil
		}
		m.err = nil
		m.input.SetValue("")
		if m.goal == "" {
			m.goal = text
		}
		m.refreshViewport()
		return m, tea.Batch(m.sendTurn(text), m.spinner.Tick)

	case "tab":
		if s := m.flow.Suggestions(); len(s) > 0 {
			m.input.SetValue(s[m.suggestion%len(s)])
			m.input.CursorEnd()
			m.suggestion++
		}
		return m, nil
	}

	if m.flow.Loading() {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleReply(msg replyMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.err = msg.err
		_ = m.flow.FailTurn()
		m.refreshViewport()
		return m, nil
	}
	m.err = nil
	m.fresh = false
	decision := conversation.Decision{
		NextUtterance:      msg.reply.Reply,
		ShouldGeneratePlan: msg.reply.GeneratePlan,
	}
	if err := m.flow.CompleteTurn(decision); err != nil {
		m.err = err
		return m, nil
	}
	m.refreshViewport()
	if !decision.ShouldGeneratePlan {
		return m, nil
	}
	return m, m.afterTransition()
}

// afterTransition waits so the transition utterance can be read before
// plan generation starts.
func (m Model) afterTransition() tea.Cmd {
	if m.opts.TransitionDelay <= 0 {
		return func() tea.Msg { return generatePlanMsg{} }
	}
	return tea.Tick(m.opts.TransitionDelay, func(time.Time) tea.Msg { return generatePlanMsg{} })
}

// sendTurn posts one user turn. The first turn of a conversation carries
// the goal and clears the server-side history first.
func (m Model) sendTurn(text string) tea.Cmd {
	req := client.ChatRequest{
		UserID:  m.opts.UserID,
		Message: text,
		Persona: m.flow.Persona(),
	}
	if m.fresh {
		req.Goal = m.goal
	}
	backend, timeout, fresh := m.backend, m.opts.RequestTimeout, m.fresh
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if fresh {
			if err := backend.ResetConversation(ctx, req.UserID); err != nil {
				return replyMsg{err: err}
			}
		}
		reply, err := backend.Chat(ctx, req)
		return replyMsg{reply: reply, err: err}
	}
}

func (m Model) generatePlan() tea.Cmd {
	backend, timeout := m.backend, m.opts.RequestTimeout
	userID, persona := m.opts.UserID, m.flow.Persona()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		p, err := backend.GeneratePlan(ctx, userID, persona)
		if err != nil {
			return planMsg{err: err}
		}
		id, err := backend.SavePlan(ctx, userID, p, persona)
		if err != nil {
			return planMsg{err: err}
		}
		return planMsg{plan: p, recordID: id}
	}
}

func (m Model) acceptPlan() tea.Cmd {
	backend, timeout := m.backend, m.opts.RequestTimeout
	userID, recordID := m.opts.UserID, m.recordID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return acceptedMsg{err: backend.AcceptPlan(ctx, userID, recordID)}
	}
}

func (m *Model) setSize(width, height int) {
	m.width = width
	m.height = height
	m.progress.Width = max(width-4, 10)
	m.input.Width = max(width-6, 10)
	m.viewport.Width = width
	// header (2 lines) + help line + input area
	m.viewport.Height = max(height-3-inputAreaHeight, 0)
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if m.width == 0 {
		return
	}
	switch m.flow.Stage() {
	case flow.StageConversation:
		m.viewport.SetContent(m.renderMessages())
		m.viewport.GotoBottom()
	case flow.StagePlanReview:
		m.viewport.SetContent(m.renderPlan())
		m.viewport.GotoTop()
	}
}
