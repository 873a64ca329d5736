// Package tui renders a live view of a monitored build in the terminal.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pipeline-relay/src/broker"
	"pipeline-relay/src/contracts"
	"pipeline-relay/src/monitor"
	"pipeline-relay/src/snapshot"
)

const (
	minNameWidth = 5
	maxNameWidth = 40
	statusWidth  = 16
)

// EventMsg is one snapshot event read from the broker.
type EventMsg contracts.SnapshotEvent

// FailedMsg ends the view with an error that never made it onto the
// event stream, such as a failed trigger.
type FailedMsg struct{ Message string }

type streamClosedMsg struct{}

// MonitorModel is the Bubble Tea model for following one build.
// It locks onto the first run it sees for its job and ignores the rest of
// the topic.
type MonitorModel struct {
	job      string
	events   <-chan broker.Message
	failures <-chan string
	styles   *StyleConfig
	spinner  spinner.Model

	runID    string
	last     snapshot.PipelineSnapshot
	polls    int
	err      string
	done     bool
	quitting bool
	width    int
}

// NewMonitorModel creates a model fed by events. failures may be nil.
func NewMonitorModel(job string, events <-chan broker.Message, failures <-chan string) MonitorModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700"))),
	)
	return MonitorModel{
		job:      job,
		events:   events,
		failures: failures,
		styles:   DefaultStyles(),
		spinner:  s,
	}
}

func (m MonitorModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, waitForEvent(m.events)}
	if m.failures != nil {
		cmds = append(cmds, waitForFailure(m.failures))
	}
	return tea.Batch(cmds...)
}

func waitForEvent(ch <-chan broker.Message) tea.Cmd {
	return func() tea.Msg {
		for msg := range ch {
			var ev contracts.SnapshotEvent
			if err := json.Unmarshal(msg.Value, &ev); err == nil {
				return EventMsg(ev)
			}
		}
		return streamClosedMsg{}
	}
}

func waitForFailure(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return FailedMsg{Message: msg}
	}
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EventMsg:
		if !m.accepts(msg) {
			return m, waitForEvent(m.events)
		}
		m.runID = msg.RunID
		m.polls = msg.Sequence
		if msg.Error != "" {
			m.err = msg.Error
		} else {
			m.last = msg.Snapshot
		}
		if msg.Final {
			m.done = true
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case FailedMsg:
		m.err = msg.Message
		m.done = true
		return m, tea.Quit

	case streamClosedMsg:
		if m.err == "" && !m.done {
			m.err = "event stream closed before the build finished"
		}
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m MonitorModel) accepts(ev EventMsg) bool {
	if m.runID != "" {
		return ev.RunID == m.runID
	}
	return m.job == "" || ev.Snapshot.Build.JobName == m.job
}

// Done reports whether the run ended, as opposed to the user quitting.
func (m MonitorModel) Done() bool { return m.done }

// Err returns the failure that ended the run, if any.
func (m MonitorModel) Err() string { return m.err }

// Last returns the most recent successful snapshot.
func (m MonitorModel) Last() snapshot.PipelineSnapshot { return m.last }

func (m MonitorModel) View() string {
	lines := []string{m.styles.TitleStyle().Render(m.title()), m.statusLine(), ""}

	if len(m.last.Stages) > 0 {
		lines = append(lines, m.stageTable()...)
		lines = append(lines, "", m.summary())
	} else if m.polls > 0 {
		lines = append(lines, m.styles.HelpStyle().Render(snapshot.NoStagesMessage))
	}

	if !m.done {
		lines = append(lines, "", m.styles.HelpStyle().Render("q quit (the build keeps running)"))
	}

	for i, l := range lines {
		lines[i] = FitLine(l, m.width)
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m MonitorModel) title() string {
	if m.last.Build.BuildNumber > 0 {
		return fmt.Sprintf("Pipeline Relay │ %s", m.last.Build)
	}
	return fmt.Sprintf("Pipeline Relay │ %s", m.job)
}

func (m MonitorModel) statusLine() string {
	switch {
	case m.err != "":
		return lipgloss.NewStyle().Foreground(m.styles.Failure).Bold(true).Render("✗ " + m.err)
	case m.done:
		phase := monitor.PhaseOf(m.last)
		style := m.styles.StatusStyle(snapshot.ParseStatus(m.last.OverallStatus))
		return style.Render(fmt.Sprintf("● %s after %d polls", phase, m.polls))
	case m.polls == 0:
		return fmt.Sprintf("%s Waiting for %s to start...", m.spinner.View(), m.job)
	default:
		return fmt.Sprintf("%s %s · poll %d", m.spinner.View(), monitor.PhaseOf(m.last), m.polls)
	}
}

func (m MonitorModel) stageTable() []string {
	nameWidth := minNameWidth
	for _, st := range m.last.Stages {
		nameWidth = max(nameWidth, VisualWidth(st.Name))
	}
	nameWidth = min(nameWidth, maxNameWidth)

	header := fmt.Sprintf("%s  %s  %s",
		TruncateAndPad("Stage", nameWidth, false),
		TruncateAndPad("Status", statusWidth, false),
		"Duration")
	rows := []string{m.styles.HeaderStyle().Render(header)}

	for _, st := range m.last.Stages {
		status := TruncateAndPad(snapshot.Glyph(st.Status)+" "+string(st.Status), statusWidth, false)
		rows = append(rows, fmt.Sprintf("%s  %s  %s",
			TruncateAndPad(st.Name, nameWidth, true),
			m.styles.StatusStyle(st.Status).Render(status),
			snapshot.FormatSeconds(st.DurationMillis)))
	}
	return rows
}

func (m MonitorModel) summary() string {
	s := m.last
	return m.styles.HelpStyle().Render(fmt.Sprintf("Stages %d · Successful %d · Duration %s · Status %s",
		len(s.Stages), s.SuccessfulStages(), snapshot.FormatSeconds(s.TotalDurationMillis), s.OverallStatus))
}

// Run shows the monitor until the run ends or the user quits, and returns
// the final model.
func Run(ctx context.Context, model MonitorModel, in io.Reader, out io.Writer) (MonitorModel, error) {
	p := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	final, err := p.Run()
	if err != nil {
		return model, err
	}
	result, ok := final.(MonitorModel)
	if !ok {
		return model, fmt.Errorf("unexpected final monitor model type %T", final)
	}
	return result, nil
}
