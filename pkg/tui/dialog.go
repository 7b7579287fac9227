// Package tui renders the save dialog in a terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kol-signals/pkg/dialog"
	"github.com/kol-signals/pkg/models"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	bullishStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#16a34a"))
	bearishStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e53935"))
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#2196F3"))
	selectedStyle = lipgloss.NewStyle().Bold(true)
	buttonStyle   = lipgloss.NewStyle().Padding(0, 1).Background(lipgloss.Color("#101F38")).Foreground(lipgloss.Color("#f2f2f2"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#2a3850")).Padding(0, 1)
)

// Result is how the dialog ended.
type Result struct {
	Saved        bool
	Notification *dialog.Notification
}

type submitDoneMsg struct {
	view dialog.View
	err  error
}

// noteBox keeps the last notification; the controller may write it from the
// submit command's goroutine.
type noteBox struct {
	mu   sync.Mutex
	last *dialog.Notification
}

func (b *noteBox) Notify(n dialog.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = &n
}

func (b *noteBox) get() *dialog.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Model drives one dialog.Dialog through a dialog.Controller.
type Model struct {
	ctx    context.Context
	ctrl   *dialog.Controller
	d      *dialog.Dialog
	notes  *noteBox
	view   dialog.View
	cursor int
	busy   bool
	saved  bool
	done   bool
}

// New builds the model. deps.Notifier and deps.OnClose are taken over by the
// model; the rest are used as given.
func New(ctx context.Context, deps dialog.Deps, d *dialog.Dialog) Model {
	notes := &noteBox{}
	deps.Notifier = notes
	m := Model{ctx: ctx, d: d, notes: notes, view: d.View()}
	m.ctrl = dialog.NewController(deps)
	return m
}

// Run shows the dialog until it closes.
func Run(ctx context.Context, deps dialog.Deps, d *dialog.Dialog) (Result, error) {
	final, err := tea.NewProgram(New(ctx, deps, d), tea.WithContext(ctx)).Run()
	if err != nil {
		return Result{}, err
	}
	return final.(Model).Result(), nil
}

func (m Model) Result() Result {
	return Result{Saved: m.saved, Notification: m.notes.get()}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case submitDoneMsg:
		m.busy = false
		m.view = msg.view
		if m.d.Closed() {
			m.saved = msg.err == nil
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.done = true
			return m, tea.Quit
		}
		if m.busy {
			return m, nil
		}
		return m.key(msg)
	}
	return m, nil
}

func (m Model) key(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.apply(dialog.Cancel{})
	case tea.KeyLeft:
		m.apply(dialog.ChooseSentiment{Sentiment: models.Bullish})
	case tea.KeyRight:
		m.apply(dialog.ChooseSentiment{Sentiment: models.Bearish})
	case tea.KeyUp:
		if m.cursor > 0 {
			m.cursor--
		}
	case tea.KeyDown:
		if m.cursor < len(m.options())-1 {
			m.cursor++
		}
	case tea.KeyEnter:
		if opts := m.options(); m.cursor < len(opts) {
			m.apply(dialog.ChooseProject{ID: opts[m.cursor].ID})
		}
	case tea.KeyBackspace:
		if q := []rune(m.view.Query); len(q) > 0 {
			m.query(string(q[:len(q)-1]))
		}
	case tea.KeyRunes, tea.KeySpace:
		m.query(m.view.Query + string(msg.Runes))
	case tea.KeyCtrlS:
		if !m.view.SubmitEnabled {
			return m, nil
		}
		m.busy = true
		m.view.SubmitLabel = dialog.LabelSaving
		ctx, ctrl, d := m.ctx, m.ctrl, m.d
		return m, func() tea.Msg {
			v, err := ctrl.Dispatch(ctx, d, dialog.Submit{})
			return submitDoneMsg{view: v, err: err}
		}
	}

	if m.d.Closed() {
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) query(text string) {
	m.apply(dialog.Query{Text: text})
	m.cursor = 0
}

func (m *Model) apply(ev dialog.Event) {
	m.view, _ = m.ctrl.Dispatch(m.ctx, m.d, ev)
	if n := len(m.options()); m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
}

func (m Model) options() []dialog.ProjectOption {
	return append(append([]dialog.ProjectOption(nil), m.view.Recent...), m.view.Others...)
}

func (m Model) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	post := m.d.Post()
	b.WriteString(titleStyle.Render("Save signal"))
	fmt.Fprintf(&b, "  %s\n", mutedStyle.Render("@"+post.AuthorHandle()))
	if post.Text != "" {
		b.WriteString(mutedStyle.Render(truncate(post.Text, 72)) + "\n")
	}
	b.WriteString("\n")

	bull, bear := "  Bullish  ", "  Bearish  "
	switch models.Sentiment(m.view.Sentiment) {
	case models.Bullish:
		bull = bullishStyle.Render("[ Bullish ]")
	case models.Bearish:
		bear = bearishStyle.Render("[ Bearish ]")
	}
	fmt.Fprintf(&b, "%s %s\n\n", bull, bear)

	fmt.Fprintf(&b, "Project: %s▌\n", m.view.Query)
	i := 0
	section := func(title string, opts []dialog.ProjectOption) {
		if len(opts) == 0 {
			return
		}
		b.WriteString(mutedStyle.Render(title) + "\n")
		for _, o := range opts {
			line := fmt.Sprintf("%s @%s", o.DisplayName, o.Handle)
			if o.Selected {
				line = selectedStyle.Render("✓ " + line)
			} else {
				line = "  " + line
			}
			if i == m.cursor {
				line = cursorStyle.Render(">") + line
			} else {
				line = " " + line
			}
			b.WriteString(line + "\n")
			i++
		}
	}
	section("Recent", m.view.Recent)
	section("All projects", m.view.Others)
	if m.view.Empty != "" {
		b.WriteString(mutedStyle.Render(m.view.Empty) + "\n")
	}
	b.WriteString("\n")

	label := m.view.SubmitLabel
	if m.view.SubmitEnabled || m.busy {
		b.WriteString(buttonStyle.Render(label))
	} else {
		b.WriteString(mutedStyle.Render("[" + label + "]"))
	}
	b.WriteString("\n")

	if n := m.notes.get(); n != nil && n.Level == dialog.LevelError {
		b.WriteString(bearishStyle.Render(n.Message) + "\n")
	}
	b.WriteString(mutedStyle.Render("←/→ sentiment · type to search · ↑/↓ enter pick · ctrl+s save · esc cancel"))
	return boxStyle.Render(b.String()) + "\n"
}

func truncate(s string, n int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
