package cmd

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-coredump/inspector"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// header and footer lines around the viewport.
const chromeHeight = 4

type debugModel struct {
	session  *inspector.Session
	out      *bytes.Buffer
	filename string
	log      strings.Builder
	history  []string
	histIdx  int
	input    textinput.Model
	view     viewport.Model
	ready    bool
}

func newDebugModel(filename string, newSession func(io.Writer, bool) *inspector.Session) *debugModel {
	ti := textinput.New()
	ti.Prompt = prompt
	ti.Placeholder = "bt"
	ti.Focus()

	out := &bytes.Buffer{}
	m := &debugModel{
		session:  newSession(out, true),
		out:      out,
		filename: filename,
		input:    ti,
	}
	m.log.WriteString(helpStyle.Render(`Type "help" for commands, "quit" to leave.`))
	m.log.WriteString("\n")
	return m
}

func (m *debugModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *debugModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := msg.Height - chromeHeight
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.view = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.view.Width = msg.Width
			m.view.Height = height
		}
		m.input.Width = msg.Width - len(prompt) - 1
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit

		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			if line == "q" || line == "quit" || line == "exit" {
				return m, tea.Quit
			}
			m.execute(line)
			return m, nil

		case "up":
			if m.histIdx > 0 {
				m.histIdx--
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.histIdx < len(m.history)-1 {
				m.histIdx++
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			} else {
				m.histIdx = len(m.history)
				m.input.SetValue("")
			}
			return m, nil

		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// execute runs line and appends the command and its output to the log.
func (m *debugModel) execute(line string) {
	m.history = append(m.history, line)
	m.histIdx = len(m.history)

	m.out.Reset()
	err := m.session.Execute(line)
	m.log.WriteString(commandStyle.Render(prompt + line))
	m.log.WriteString("\n")
	m.log.Write(m.out.Bytes())
	if err != nil {
		m.log.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", err)))
		m.log.WriteString("\n")
	}
	m.refresh()
}

func (m *debugModel) refresh() {
	if !m.ready {
		return
	}
	m.view.SetContent(m.log.String())
	m.view.GotoBottom()
}

func (m *debugModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("WASM Coredump"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	if idx, ok := m.session.Selected(); ok {
		b.WriteString(helpStyle.Render(fmt.Sprintf("  frame #%d", idx)))
	}
	b.WriteString("\n")
	b.WriteString(m.view.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter run • ↑/↓ history • pgup/pgdown scroll • ctrl+c quit"))
	return b.String()
}

func runTUI(filename string, newSession func(io.Writer, bool) *inspector.Session) error {
	p := tea.NewProgram(newDebugModel(filename, newSession), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
