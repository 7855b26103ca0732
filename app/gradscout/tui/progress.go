package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/gradscout/framework"
)

// StageRow is one line of the progress view.
type StageRow struct {
	Name     string
	Title    string
	Status   framework.StageStatus
	Attempts int
	Duration time.Duration
	Error    string
}

// RowsFor lists a pipeline's stages as pending rows.
func RowsFor(stages []*framework.StageDefinition) []StageRow {
	rows := make([]StageRow, 0, len(stages))
	for _, st := range stages {
		rows = append(rows, StageRow{Name: st.Name(), Title: st.Title(), Status: framework.StagePending})
	}
	return rows
}

type runEventMsg struct{ event framework.RunEvent }

type streamClosedMsg struct{}

// Progress renders a live stage list for one run until the final record
// arrives.
type Progress struct {
	rows    []StageRow
	events  <-chan framework.RunEvent
	spinner spinner.Model
	started time.Time
	now     func() time.Time

	final       *framework.Recommendation
	run         *framework.PipelineRun
	interrupted bool
	width       int
}

// NewProgress builds the model over an event stream.
func NewProgress(rows []StageRow, events <-chan framework.RunEvent) Progress {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = inProgressStyle
	p := Progress{
		rows:    append([]StageRow(nil), rows...),
		events:  events,
		spinner: sp,
		now:     time.Now,
	}
	p.started = p.now()
	p.markNextRunning()
	return p
}

// RunProgress drives the progress view to completion and returns the
// recommendation and run it observed. interrupted reports that the user
// pressed ctrl+c; the caller owns cancelling the run itself.
func RunProgress(ctx context.Context, rows []StageRow, events <-chan framework.RunEvent, out io.Writer) (final *framework.Recommendation, run *framework.PipelineRun, interrupted bool, err error) {
	program := tea.NewProgram(
		NewProgress(rows, events),
		tea.WithContext(ctx),
		tea.WithOutput(out),
	)
	model, err := program.Run()
	if p, ok := model.(Progress); ok {
		return p.final, p.run, p.interrupted, err
	}
	return nil, nil, false, err
}

func waitForEvent(events <-chan framework.RunEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return runEventMsg{event: ev}
	}
}

// Init fulfills the Bubble Tea Model interface.
func (p Progress) Init() tea.Cmd {
	return tea.Batch(p.spinner.Tick, waitForEvent(p.events))
}

// Update applies stage events as they arrive.
func (p Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width = msg.Width
		return p, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			p.interrupted = true
			return p, tea.Quit
		}
		return p, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		p.spinner, cmd = p.spinner.Update(msg)
		return p, cmd
	case runEventMsg:
		p = p.apply(msg.event)
		if p.final != nil {
			return p, tea.Quit
		}
		return p, waitForEvent(p.events)
	case streamClosedMsg:
		return p, tea.Quit
	}
	return p, nil
}

func (p Progress) apply(ev framework.RunEvent) Progress {
	if ev.Stage != nil {
		for i := range p.rows {
			if p.rows[i].Name != ev.Stage.Stage {
				continue
			}
			p.rows[i].Status = ev.Stage.Status
			p.rows[i].Attempts = ev.Stage.Attempts
			p.rows[i].Duration = ev.Stage.Duration
			if ev.Stage.Error != nil {
				p.rows[i].Error = ev.Stage.Error.Error()
			}
		}
		p.markNextRunning()
	}
	if ev.Final != nil {
		p.final = ev.Final
		p.run = ev.Run
		for i := range p.rows {
			if p.rows[i].Status == framework.StageRunning {
				p.rows[i].Status = framework.StagePending
			}
		}
	}
	return p
}

// markNextRunning flags the first pending stage; stages run strictly in
// order so it is the one executing.
func (p *Progress) markNextRunning() {
	for i := range p.rows {
		switch p.rows[i].Status {
		case framework.StageRunning:
			return
		case framework.StagePending:
			p.rows[i].Status = framework.StageRunning
			return
		}
	}
}

// Rows returns the current stage rows.
func (p Progress) Rows() []StageRow {
	return append([]StageRow(nil), p.rows...)
}

// View draws the stage list and a status line.
func (p Progress) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("gradscout"))
	b.WriteString(dimStyle.Render("  finding programs for your profile"))
	b.WriteString("\n\n")
	done := 0
	for _, row := range p.rows {
		if row.Status == framework.StageSucceeded || row.Status == framework.StageFailed {
			done++
		}
		b.WriteString(p.renderRow(row))
		b.WriteString("\n")
	}
	status := fmt.Sprintf("%d/%d stages | %s", done, len(p.rows), formatDuration(p.now().Sub(p.started)))
	if p.final != nil {
		status = fmt.Sprintf("%s | %s", status, p.final.Status)
	}
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(status))
	b.WriteString("\n")
	return b.String()
}

func (p Progress) renderRow(row StageRow) string {
	var icon string
	var title string
	switch row.Status {
	case framework.StageSucceeded:
		icon = completedStyle.Render("✓")
		title = textStyle.Render(row.Title)
	case framework.StageFailed:
		icon = failedStyle.Render("✗")
		title = failedStyle.Render(row.Title)
	case framework.StageRunning:
		icon = p.spinner.View()
		title = inProgressStyle.Render(row.Title)
	default:
		icon = pendingStyle.Render("○")
		title = pendingStyle.Render(row.Title)
	}
	line := fmt.Sprintf("%s %s", icon, title)
	if row.Duration > 0 {
		line += dimStyle.Render(fmt.Sprintf(" (%s", formatDuration(row.Duration)))
		if row.Attempts > 1 {
			line += dimStyle.Render(fmt.Sprintf(", %d attempts", row.Attempts))
		}
		line += dimStyle.Render(")")
	}
	if row.Error != "" {
		line = lipgloss.JoinVertical(lipgloss.Left, line, "    "+detailStyle.Render(truncate(row.Error, 120)))
	}
	return line
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:1]
	}
	return s[:n-1] + "…"
}
