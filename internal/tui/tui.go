// Package tui is the terminal decision surface: a stage sidebar, the
// current stage's artifacts and an editor for input and feedback.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yalochat/sdlc-assistant/internal/engine"
)

// Controller is the part of the engine the surface drives.
type Controller interface {
	Decide(ctx context.Context, d engine.Decision) (*engine.View, error)
	View() *engine.View
	Registry() *engine.Registry
}

// PublishDefaults prefill the publish form.
type PublishDefaults struct {
	Repo   string
	Token  string
	Branch string
}

type mode int

const (
	modeBrowse mode = iota
	modeInput
	modeFeedback
	modeGoto
	modePublish
)

const sidebarWidth = 34

// decisionMsg carries the outcome of an asynchronous Decide call.
type decisionMsg struct {
	view *engine.View
	err  error
}

// Model is the bubbletea model.
type Model struct {
	ctrl     Controller
	ctx      context.Context
	defaults PublishDefaults

	view   *engine.View
	mode   mode
	busy   bool
	notice string
	cursor int

	editor   textarea.Model
	viewport viewport.Model
	repo     textinput.Model
	token    textinput.Model
	field    int

	width  int
	height int
}

// New creates a model bound to a controller.
func New(ctx context.Context, ctrl Controller, defaults PublishDefaults) *Model {
	ed := textarea.New()
	ed.Placeholder = "Describe the problem, or write feedback..."
	ed.ShowLineNumbers = false
	ed.CharLimit = 0
	ed.SetHeight(5)

	repo := textinput.New()
	repo.Placeholder = "owner/repo"
	repo.SetValue(defaults.Repo)

	token := textinput.New()
	token.Placeholder = "GitHub token"
	token.EchoMode = textinput.EchoPassword
	token.EchoCharacter = '•'
	token.SetValue(defaults.Token)

	m := &Model{
		ctrl:     ctrl,
		ctx:      ctx,
		defaults: defaults,
		view:     ctrl.View(),
		editor:   ed,
		viewport: viewport.New(80, 20),
		repo:     repo,
		token:    token,
		width:    120,
		height:   30,
	}
	m.resize()
	return m
}

// Run starts the interactive program and blocks until the user quits.
func Run(ctx context.Context, ctrl Controller, defaults PublishDefaults) error {
	p := tea.NewProgram(New(ctx, ctrl, defaults), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case decisionMsg:
		m.busy = false
		m.view = msg.view
		if m.view == nil {
			m.view = m.ctrl.View()
		}
		if msg.err == nil {
			m.notice = "applied"
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.busy {
			return m, nil
		}
		switch m.mode {
		case modeInput, modeFeedback:
			return m.updateEditor(msg)
		case modeGoto:
			return m.updateGoto(msg)
		case modePublish:
			return m.updatePublish(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m *Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "i", "enter":
		if m.allowed(engine.DecisionSubmitInput) {
			m.mode = modeInput
			m.editor.Reset()
			return m, m.editor.Focus()
		}
	case "a":
		return m, m.decide(engine.Approve())
	case "f":
		if m.allowed(engine.DecisionFeedback) {
			m.mode = modeFeedback
			m.editor.Reset()
			return m, m.editor.Focus()
		}
		m.notice = "this stage takes no feedback"
	case "g":
		m.mode = modeGoto
		m.cursor = m.stageIndex(m.view.Stage)
	case "r":
		return m, m.decide(engine.Retry())
	case "p":
		if m.allowed(engine.DecisionPublish) {
			m.mode = modePublish
			m.field = 0
			m.token.Blur()
			return m, m.repo.Focus()
		}
		m.notice = "publishing happens at the Deployment gate"
	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) updateEditor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeBrowse
		m.editor.Blur()
		return m, nil
	case "ctrl+s":
		text := m.editor.Value()
		kind := m.mode
		m.mode = modeBrowse
		m.editor.Blur()
		m.editor.Reset()
		if kind == modeInput {
			return m, m.decide(engine.SubmitInput(text))
		}
		return m, m.decide(engine.SubmitFeedback(text))
	}
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	return m, cmd
}

func (m *Model) updateGoto(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	stages := m.ctrl.Registry().Stages()
	switch msg.String() {
	case "esc", "g":
		m.mode = modeBrowse
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(stages)-1 {
			m.cursor++
		}
	case "enter":
		m.mode = modeBrowse
		return m, m.decide(engine.NavigateTo(stages[m.cursor].Name))
	}
	return m, nil
}

func (m *Model) updatePublish(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeBrowse
		m.repo.Blur()
		m.token.Blur()
		return m, nil
	case "tab", "shift+tab":
		return m, m.switchField()
	case "enter":
		if m.field == 0 {
			return m, m.switchField()
		}
		m.mode = modeBrowse
		m.repo.Blur()
		m.token.Blur()
		return m, m.decide(engine.Publish(engine.PublishTarget{
			Repo:       strings.TrimSpace(m.repo.Value()),
			Credential: m.token.Value(),
			Branch:     m.defaults.Branch,
		}))
	}
	var cmd tea.Cmd
	if m.field == 0 {
		m.repo, cmd = m.repo.Update(msg)
	} else {
		m.token, cmd = m.token.Update(msg)
	}
	return m, cmd
}

func (m *Model) switchField() tea.Cmd {
	if m.field == 0 {
		m.field = 1
		m.repo.Blur()
		return m.token.Focus()
	}
	m.field = 0
	m.token.Blur()
	return m.repo.Focus()
}

// decide runs a decision off the UI loop. Input is ignored until it returns.
func (m *Model) decide(d engine.Decision) tea.Cmd {
	m.busy = true
	m.notice = ""
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		v, err := ctrl.Decide(ctx, d)
		return decisionMsg{view: v, err: err}
	}
}

func (m *Model) allowed(kind engine.DecisionKind) bool {
	for _, k := range m.view.Available {
		if k == kind {
			return true
		}
	}
	return false
}

func (m *Model) stageIndex(stage engine.Stage) int {
	for i, s := range m.ctrl.Registry().Stages() {
		if s.Name == stage {
			return i
		}
	}
	return 0
}

func (m *Model) resize() {
	mainWidth := m.width - sidebarWidth - 4
	if mainWidth < 20 {
		mainWidth = 20
	}
	m.editor.SetWidth(mainWidth - 4)
	m.repo.Width = mainWidth - 10
	m.token.Width = mainWidth - 10

	// header, status, help and the editor box
	vpHeight := m.height - 14
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.viewport.Width = mainWidth
	m.viewport.Height = vpHeight
	m.refresh()
}

// refresh re-renders the artifact pane from the current view.
func (m *Model) refresh() {
	var b strings.Builder
	files := engine.ExportFiles(m.view.Artifacts)
	if len(files) == 0 {
		b.WriteString(helpStyle.Render("No artifacts yet."))
	}
	for _, f := range files {
		b.WriteString(artifactKeyStyle.Render(f.Label))
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Width(m.viewport.Width).Render(f.Content))
		b.WriteString("\n\n")
	}
	m.viewport.SetContent(b.String())
}

// View implements tea.Model.
func (m *Model) View() string {
	main := lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		m.viewport.View(),
		m.statusLine(),
		m.footer(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, m.sidebar(), " ", main)
}

func (m *Model) header() string {
	status := lipgloss.NewStyle().Foreground(statusColor(string(m.view.Status))).Render(string(m.view.Status))
	return headerStyle.Render(string(m.view.Stage)) + " " + status + helpStyle.Render("  run "+m.view.RunID)
}

func (m *Model) sidebar() string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Stages"))
	b.WriteString("\n")
	for i, s := range m.ctrl.Registry().Stages() {
		marker := "  "
		if m.mode == modeGoto && i == m.cursor {
			marker = cursorStyle.Render("> ")
		}
		line := fmt.Sprintf("%d. %s", s.Order, s.Name)
		if s.Name == m.view.Stage {
			line = currentStageStyle.Render(line)
		} else {
			line = stageStyle.Render(line)
		}
		b.WriteString(marker + line + "\n")
	}
	return sidebarStyle.Width(sidebarWidth).Render(b.String())
}

func (m *Model) statusLine() string {
	switch {
	case m.busy:
		return noticeStyle.Render("working...")
	case m.view.Condition != nil:
		return conditionStyle.Render(fmt.Sprintf("[%s] %s", m.view.Condition.Kind, m.view.Condition.Message))
	case m.notice != "":
		return noticeStyle.Render(m.notice)
	}
	return ""
}

func (m *Model) footer() string {
	switch m.mode {
	case modeInput, modeFeedback:
		title := "Problem statement"
		if m.mode == modeFeedback {
			title = "Feedback"
		}
		return boxStyle.Render(title+"\n"+m.editor.View()) + "\n" + helpStyle.Render("ctrl+s submit • esc cancel")
	case modeGoto:
		return helpStyle.Render("↑/↓ choose • enter go • esc cancel")
	case modePublish:
		return boxStyle.Render("Repo  "+m.repo.View()+"\nToken "+m.token.View()) + "\n" +
			helpStyle.Render("tab switch • enter publish • esc cancel")
	}

	var keys []string
	if m.allowed(engine.DecisionSubmitInput) {
		keys = append(keys, "i input")
	}
	if m.allowed(engine.DecisionApprove) {
		keys = append(keys, "a approve")
	}
	if m.allowed(engine.DecisionFeedback) {
		keys = append(keys, "f feedback")
	}
	keys = append(keys, "g goto")
	if m.allowed(engine.DecisionRetry) {
		keys = append(keys, "r retry")
	}
	if m.allowed(engine.DecisionPublish) {
		keys = append(keys, "p publish")
	}
	keys = append(keys, "q quit")
	return helpStyle.Render(strings.Join(keys, " • "))
}
