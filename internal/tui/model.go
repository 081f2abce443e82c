// Package tui renders the chat turn in the terminal and drives the input
// controller from key presses.
package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/golos/internal/controller"
	"github.com/zhouzirui/golos/internal/dictation"
)

const (
	headerText      = "Добро пожаловать в наш ChatGPT-клиент"
	placeholderText = "Ask whatever you want"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("#062D69")).Padding(0, 1)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	replyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).MarginTop(1)
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	listeningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// Controller is the subset of controller.Controller the UI drives.
type Controller interface {
	Snapshot() controller.Turn
	UpdateDraft(text string)
	ToggleDictation(ctx context.Context) error
	Submit(ctx context.Context) error
	DictationSupported() bool
}

// Notifier coalesces controller change notifications into a channel the
// bubbletea loop can wait on. Notify never blocks.
type Notifier struct {
	ch chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify matches controller.Options.OnChange.
func (n *Notifier) Notify(controller.Turn) {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

type (
	turnChangedMsg struct{}
	submitDoneMsg  struct{ err error }
	toggleDoneMsg  struct {
		err error
		// stopping 表示发起切换时正在听写，即这次是停止操作。
		stopping bool
	}
)

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctx      context.Context
	ctrl     Controller
	notifier *Notifier

	input  textinput.Model
	spin   spinner.Model
	turn   controller.Turn
	status string
	width  int
}

// New creates the chat screen model. ctx bounds every controller call made
// from the UI.
func New(ctx context.Context, ctrl Controller, notifier *Notifier) Model {
	in := textinput.New()
	in.Placeholder = placeholderText
	in.Prompt = "> "
	in.CharLimit = 0
	in.Width = 60
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	turn := ctrl.Snapshot()
	in.SetValue(turn.Draft)

	return Model{
		ctx:      ctx,
		ctrl:     ctrl,
		notifier: notifier,
		input:    in,
		spin:     s,
		turn:     turn,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForChange())
}

func (m Model) waitForChange() tea.Cmd {
	if m.notifier == nil {
		return nil
	}
	ch := m.notifier.ch
	return func() tea.Msg {
		<-ch
		return turnChangedMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-4, 10)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			// 请求进行中时提交键无效。
			if m.turn.Loading {
				return m, nil
			}
			m.status = ""
			return m, m.submit()
		case "ctrl+d":
			if !m.ctrl.DictationSupported() {
				return m, nil
			}
			m.status = ""
			return m, m.toggleDictation()
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if value := m.input.Value(); value != m.turn.Draft {
			m.ctrl.UpdateDraft(value)
			m.turn.Draft = value
		}
		return m, cmd

	case turnChangedMsg:
		wasLoading := m.turn.Loading
		m = m.sync()
		cmds := []tea.Cmd{m.waitForChange()}
		if m.turn.Loading && !wasLoading {
			cmds = append(cmds, m.spin.Tick)
		}
		return m, tea.Batch(cmds...)

	case submitDoneMsg:
		// 失败原因已由 controller 记录到日志，界面只展示 turn 上的固定文案。
		return m.sync(), nil

	case toggleDoneMsg:
		switch {
		case msg.err == nil:
		case msg.stopping:
			m.status = "Не удалось остановить диктовку."
		case dictation.CodeOf(msg.err) == "":
			// 带错误码的启动失败已记录在 turn 上
			m.status = "Не удалось запустить диктовку."
		}
		return m.sync(), nil

	case spinner.TickMsg:
		if !m.turn.Loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// sync pulls the latest turn from the controller. Dictation may have
// appended to the draft, so the input follows the controller.
func (m Model) sync() Model {
	m.turn = m.ctrl.Snapshot()
	if m.input.Value() != m.turn.Draft {
		m.input.SetValue(m.turn.Draft)
		m.input.CursorEnd()
	}
	return m
}

func (m Model) submit() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return submitDoneMsg{err: ctrl.Submit(ctx)}
	}
}

func (m Model) toggleDictation() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	stopping := m.turn.Dictation == dictation.StatusListening
	return func() tea.Msg {
		return toggleDoneMsg{err: ctrl.ToggleDictation(ctx), stopping: stopping}
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(headerText))
	b.WriteString("\n\n")

	if m.turn.Dictation == dictation.StatusListening {
		b.WriteString(listeningStyle.Render("● "))
	}
	b.WriteString(m.input.View())
	if m.turn.Loading {
		b.WriteString(" ")
		b.WriteString(m.spin.View())
	}
	b.WriteString("\n")

	b.WriteString(hintStyle.Render(m.hint()))
	b.WriteString("\n")

	if m.turn.Error != "" {
		b.WriteString(errorStyle.Render(m.turn.Error))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(errorStyle.Render(m.status))
		b.WriteString("\n")
	}
	if m.turn.DictationError != "" {
		b.WriteString(hintStyle.Render("ошибка распознавания: " + m.turn.DictationError))
		b.WriteString("\n")
	}

	if m.turn.Reply != "" {
		width := m.width
		if width <= 0 {
			width = 80
		}
		b.WriteString(replyStyle.Width(width).Render(m.turn.Reply))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) hint() string {
	parts := []string{"enter: отправить"}
	if m.ctrl.DictationSupported() {
		parts = append(parts, "ctrl+d: диктовка")
	}
	parts = append(parts, "esc: выход")
	return strings.Join(parts, " · ")
}
