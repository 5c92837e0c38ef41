package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ent0n29/guardian/internal/escalation"
	"github.com/ent0n29/guardian/internal/monitor"
)

// guardianService is the slice of monitor.Service the terminal drives.
type guardianService interface {
	SubmitText(ctx context.Context, sessionID, text string) (monitor.TurnOutcome, error)
	SubmitAudio(ctx context.Context, sessionID, path string) (monitor.TurnOutcome, error)
	SubmitImage(ctx context.Context, sessionID, path string) (monitor.TurnOutcome, error)
	Confirm(ctx context.Context, sessionID string, choice escalation.Choice) (escalation.Step, error)
	SetMode(sessionID string, mode escalation.Mode) error
}

type turnDoneMsg struct {
	out monitor.TurnOutcome
	err error
}

type confirmDoneMsg struct {
	step escalation.Step
	err  error
}

type modeDoneMsg struct {
	mode escalation.Mode
	err  error
}

type uiTheme struct {
	root     lipgloss.Style
	header   lipgloss.Style
	user     lipgloss.Style
	guardian lipgloss.Style
	verdict  lipgloss.Style
	prompt   lipgloss.Style
	alert    lipgloss.Style
	system   lipgloss.Style
	errLine  lipgloss.Style
	footer   lipgloss.Style
}

func newTheme() uiTheme {
	mint := lipgloss.Color("#05ffa1")
	blue := lipgloss.Color("#01cdfe")
	pink := lipgloss.Color("#ff71ce")
	amber := lipgloss.Color("#ffd166")
	muted := lipgloss.Color("#7f8c98")
	return uiTheme{
		root:     lipgloss.NewStyle().Padding(0, 1),
		header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#fffb96")).Background(lipgloss.Color("#2d1b4e")).Padding(0, 1),
		user:     lipgloss.NewStyle().Foreground(mint).Bold(true),
		guardian: lipgloss.NewStyle().Foreground(blue).Bold(true),
		verdict:  lipgloss.NewStyle().Foreground(muted).Italic(true),
		prompt:   lipgloss.NewStyle().Foreground(amber).Bold(true),
		alert:    lipgloss.NewStyle().Foreground(pink).Bold(true),
		system:   lipgloss.NewStyle().Foreground(muted),
		errLine:  lipgloss.NewStyle().Foreground(pink),
		footer:   lipgloss.NewStyle().Foreground(muted),
	}
}

type model struct {
	ctx       context.Context
	svc       guardianService
	sessionID string
	userName  string
	mode      escalation.Mode
	state     escalation.State

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    uiTheme

	lines  []string
	busy   bool
	width  int
	height int
}

func newModel(ctx context.Context, svc guardianService, sessionID string, mode escalation.Mode, userName string) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Tell GuardianAI what is happening. /help for commands."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	timeline := viewport.New(80, 20)
	timeline.MouseWheelEnabled = true

	m := model{
		ctx:       ctx,
		svc:       svc,
		sessionID: sessionID,
		userName:  userName,
		mode:      mode,
		state:     escalation.StateIdle,
		input:     input,
		timeline:  timeline,
		spinner:   sp,
		theme:     newTheme(),
	}
	m.appendLine(m.theme.system.Render(fmt.Sprintf("session %s started in %s mode", sessionID, mode)))
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.timeline.Width = max(20, msg.Width-2)
		m.timeline.Height = max(5, msg.Height-4)
		m.input.Width = max(10, msg.Width-4)
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if text == "" {
				return m, nil
			}
			return m.submit(text)
		}

	case turnDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.appendLine(m.theme.errLine.Render("error: " + msg.err.Error()))
			break
		}
		m.renderTurn(msg.out)

	case confirmDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.appendLine(m.theme.errLine.Render("error: " + msg.err.Error()))
			break
		}
		m.renderStep(msg.step)

	case modeDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.appendLine(m.theme.errLine.Render("error: " + msg.err.Error()))
			break
		}
		m.mode = msg.mode
		m.appendLine(m.theme.system.Render("escalation mode: " + string(msg.mode)))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.timeline, cmd = m.timeline.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit routes one line of input: slash commands, a yes/no answer while a
// prompt is pending, or a regular message.
func (m model) submit(text string) (tea.Model, tea.Cmd) {
	if m.state.Pending() {
		choice, err := escalation.ParseChoice(text)
		if err != nil {
			m.appendLine(m.theme.prompt.Render("Please answer yes or no."))
			return m, nil
		}
		m.appendLine(m.theme.user.Render(m.userName+": ") + string(choice))
		m.busy = true
		ctx, svc, id := m.ctx, m.svc, m.sessionID
		return m, func() tea.Msg {
			step, err := svc.Confirm(ctx, id, choice)
			return confirmDoneMsg{step: step, err: err}
		}
	}

	if strings.HasPrefix(text, "/") {
		return m.command(text)
	}

	m.appendLine(m.theme.user.Render(m.userName+": ") + text)
	m.busy = true
	ctx, svc, id := m.ctx, m.svc, m.sessionID
	return m, func() tea.Msg {
		out, err := svc.SubmitText(ctx, id, text)
		return turnDoneMsg{out: out, err: err}
	}
}

func (m model) command(text string) (tea.Model, tea.Cmd) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	arg = strings.TrimSpace(arg)
	ctx, svc, id := m.ctx, m.svc, m.sessionID

	switch strings.ToLower(name) {
	case "quit", "exit":
		return m, tea.Quit
	case "help":
		m.appendLine(m.theme.system.Render("/mode assistive|autonomous  /audio <file>  /image <file>  /quit"))
		return m, nil
	case "mode":
		mode, err := escalation.ParseMode(arg)
		if err != nil || arg == "" {
			m.appendLine(m.theme.errLine.Render("usage: /mode assistive|autonomous"))
			return m, nil
		}
		m.busy = true
		return m, func() tea.Msg {
			return modeDoneMsg{mode: mode, err: svc.SetMode(id, mode)}
		}
	case "audio", "image":
		if arg == "" {
			m.appendLine(m.theme.errLine.Render("usage: /" + name + " <file>"))
			return m, nil
		}
		m.appendLine(m.theme.user.Render(m.userName+": ") + m.theme.system.Render("["+name+"] "+arg))
		m.busy = true
		submit := svc.SubmitAudio
		if name == "image" {
			submit = svc.SubmitImage
		}
		return m, func() tea.Msg {
			out, err := submit(ctx, id, arg)
			return turnDoneMsg{out: out, err: err}
		}
	default:
		m.appendLine(m.theme.errLine.Render("unknown command /" + name))
		return m, nil
	}
}

func (m *model) renderTurn(out monitor.TurnOutcome) {
	if out.Input != "" && strings.HasPrefix(out.Input, "[") {
		m.appendLine(m.theme.system.Render(out.Input))
	}
	m.appendLine(m.theme.guardian.Render("GuardianAI: ") + replyText(out.Reply))
	if v := out.Verdict; v != nil {
		m.appendLine(m.theme.verdict.Render(fmt.Sprintf("  Risk: %s · Action: %s · %s", v.RawRisk, v.RawAction, v.Analysis)))
	}
	if out.Step.Ignored {
		m.appendLine(m.theme.system.Render("  (verdict noted while a question is open)"))
	}
	m.renderStep(out.Step)
}

func (m *model) renderStep(step escalation.Step) {
	m.state = step.To
	for _, ev := range step.Events {
		switch {
		case ev.RequiresReply:
			m.appendLine(m.theme.prompt.Render(ev.Message + " (yes/no)"))
		case ev.Kind == escalation.EventNotifyAll:
			m.appendLine(m.theme.alert.Render(ev.Message))
			for _, n := range ev.Notifications {
				m.appendLine(m.theme.alert.Render(fmt.Sprintf("  → %s (%s)", n.ContactLabel, n.Address)))
			}
		default:
			m.appendLine(m.theme.guardian.Render("GuardianAI: ") + ev.Message)
		}
	}
}

// replyText drops the trailing verdict object from what the user reads.
func replyText(reply string) string {
	r := strings.TrimSpace(reply)
	r = strings.TrimSpace(strings.TrimSuffix(r, "```"))
	if i := strings.LastIndex(r, "{"); i > 0 && strings.HasSuffix(r, "}") {
		r = strings.TrimSpace(r[:i])
	}
	return strings.TrimSpace(strings.TrimSuffix(r, "```json"))
}

func (m *model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *model) refresh() {
	m.timeline.SetContent(strings.Join(m.lines, "\n"))
	m.timeline.GotoBottom()
}

func (m model) View() string {
	header := m.theme.header.Render(fmt.Sprintf("GuardianAI · %s · mode=%s · state=%s", m.userName, m.mode, m.state))
	status := ""
	if m.busy {
		status = m.spinner.View() + " thinking"
	}
	footer := m.theme.footer.Render("enter to send · esc to quit " + status)
	return m.theme.root.Render(lipgloss.JoinVertical(lipgloss.Left, header, m.timeline.View(), m.input.View(), footer))
}
