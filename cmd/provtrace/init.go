package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"provtrace/internal/config"
)

// question is one prompt of the init dialogue. An empty answer keeps Default.
type question struct {
	Key     string
	Prompt  string
	Default string
}

const (
	keyWaysDir = "ways_dir"
	keyOutput  = "output"
	keyFormat  = "format"
)

var initQuestions = []question{
	{Key: keyWaysDir, Prompt: "Ways directory", Default: config.DefaultWaysDir},
	{Key: keyOutput, Prompt: "Manifest output file", Default: "provenance-manifest.json"},
	{Key: keyFormat, Prompt: "Manifest format (json, yaml)", Default: "json"},
}

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
)

func runInit(cmd *cobra.Command, f *flags) error {
	path := f.configPath
	if path == "" {
		path = config.FileName
	}
	answers, err := promptQuestions(initQuestions, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := writeInitConfig(path, answers); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Config written to %s\n", path)
	return nil
}

// writeInitConfig saves a config built from answers. It refuses to
// overwrite an existing file.
func writeInitConfig(path string, answers map[string]string) error {
	cfg := config.Default()
	if v := answers[keyWaysDir]; v != "" {
		cfg.WaysDir = v
	}
	if v := answers[keyOutput]; v != "" {
		cfg.Output = v
	}
	if v := answers[keyFormat]; v != "" {
		cfg.Format = strings.ToLower(v)
	}
	if err := config.Save(path, cfg); err != nil {
		if errors.Is(err, config.ErrExists) {
			return fmt.Errorf("%w; remove it first to start over", err)
		}
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// TUI prompt helpers
// ---------------------------------------------------------------------------

// promptModel is a bubbletea model that asks one question at a time.
type promptModel struct {
	questions []question
	idx       int
	inputs    []textinput.Model
	done      bool
}

func newPromptModel(questions []question) promptModel {
	inputs := make([]textinput.Model, len(questions))
	for i, q := range questions {
		ti := textinput.New()
		ti.Placeholder = q.Default
		ti.CharLimit = 512
		inputs[i] = ti
	}
	m := promptModel{questions: questions, inputs: inputs}
	if len(inputs) > 0 {
		m.inputs[0].Focus()
	}
	return m
}

func (m promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.idx < len(m.inputs)-1 {
				m.inputs[m.idx].Blur()
				m.idx++
				m.inputs[m.idx].Focus()
				return m, textinput.Blink
			}
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.inputs[m.idx], cmd = m.inputs[m.idx].Update(msg)
	return m, cmd
}

func (m promptModel) View() string {
	if m.done || len(m.questions) == 0 {
		return ""
	}
	q := m.questions[m.idx]
	hint := hintStyle.Render(fmt.Sprintf("(%d/%d, enter to accept, esc to cancel)", m.idx+1, len(m.questions)))
	return fmt.Sprintf("%s %s\n%s\n", promptStyle.Render(q.Prompt+":"), hint, m.inputs[m.idx].View())
}

// answers returns the entered values keyed by question, with defaults
// filled in for empty inputs.
func (m promptModel) answers() map[string]string {
	out := make(map[string]string, len(m.questions))
	for i, q := range m.questions {
		v := strings.TrimSpace(m.inputs[i].Value())
		if v == "" {
			v = q.Default
		}
		out[q.Key] = v
	}
	return out
}

// promptQuestions runs the TUI on in/out and returns the answers.
func promptQuestions(questions []question, in io.Reader, out io.Writer) (map[string]string, error) {
	if len(questions) == 0 {
		return map[string]string{}, nil
	}
	p := tea.NewProgram(newPromptModel(questions), tea.WithInput(in), tea.WithOutput(out))
	result, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("run prompt: %w", err)
	}
	final, ok := result.(promptModel)
	if !ok || !final.done {
		return nil, errors.New("prompt cancelled")
	}
	return final.answers(), nil
}
