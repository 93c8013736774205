// Package ui provides reusable terminal components for the loanmaster CLI:
// spinners, rebuild progress bars and tables.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dahovitech/loanmaster-sub001/cli/styles"
)

// SpinnerModel is a spinner with a message, used for long-running calls.
type SpinnerModel struct {
	spinner  spinner.Model
	message  string
	quitting bool
	done     bool
	result   string
	err      error
}

// NewSpinner creates a spinner with the given message.
func NewSpinner(message string) SpinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(styles.Primary)
	return SpinnerModel{
		spinner: s,
		message: message,
	}
}

func (m SpinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m SpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case SpinnerDoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m SpinnerModel) View() string {
	if m.done {
		if m.err != nil {
			return styles.FormatError(m.result) + "\n"
		}
		return styles.FormatSuccess(m.result) + "\n"
	}
	if m.quitting {
		return styles.FormatWarning("Cancelled") + "\n"
	}
	return m.spinner.View() + " " + styles.Normal.Render(m.message) + "\n"
}

// SpinnerDoneMsg signals that the spinner operation is complete.
type SpinnerDoneMsg struct {
	Result string
	Err    error
}

// RebuildModel renders projection rebuild progress as a bar with an event
// counter. Feed it RebuildProgressMsg values from a ProgressCallback.
type RebuildModel struct {
	progress       progress.Model
	projectionName string
	processed      int64
	total          int64
	done           bool
	err            error
}

// NewRebuild creates a rebuild progress view for a projection.
func NewRebuild(projectionName string) RebuildModel {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
	)
	return RebuildModel{
		progress:       p,
		projectionName: projectionName,
	}
}

func (m RebuildModel) Init() tea.Cmd {
	return nil
}

func (m RebuildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case RebuildProgressMsg:
		m.processed = msg.Processed
		m.total = msg.Total
		m.done = msg.Completed
		m.err = msg.Err
		if m.done {
			return m, tea.Quit
		}
		return m, nil

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m RebuildModel) View() string {
	if m.done {
		if m.err != nil {
			return styles.FormatError(fmt.Sprintf("rebuild of %s failed: %v", m.projectionName, m.err)) + "\n"
		}
		return styles.FormatSuccess(fmt.Sprintf("rebuilt %s (%d events)", m.projectionName, m.processed)) + "\n"
	}

	percent := 0.0
	if m.total > 0 {
		percent = float64(m.processed) / float64(m.total)
	}
	counter := styles.Muted.Render(fmt.Sprintf("%d/%d events", m.processed, m.total))
	return m.progress.ViewAs(percent) + " " + counter + "\n"
}

// RebuildProgressMsg updates the rebuild progress view.
type RebuildProgressMsg struct {
	Processed int64
	Total     int64
	Completed bool
	Err       error
}

// Table renders an aligned bordered table.
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable creates a table with headers.
func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{
		headers: headers,
		widths:  widths,
	}
}

// AddRow adds a row, padding or truncating to the header count.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := 0; i < len(t.headers); i++ {
		if i < len(values) {
			row[i] = values[i]
			if len(values[i]) > t.widths[i] {
				t.widths[i] = len(values[i])
			}
		}
	}
	t.rows = append(t.rows, row)
}

// Render returns the formatted table string.
func (t *Table) Render() string {
	if len(t.headers) == 0 {
		return ""
	}

	var sb strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.Primary).
		Padding(0, 1)
	cellStyle := lipgloss.NewStyle().
		Foreground(styles.Text).
		Padding(0, 1)
	borderStyle := lipgloss.NewStyle().
		Foreground(styles.Border)

	writeBorder := func(left, mid, right string) {
		sb.WriteString(borderStyle.Render(left))
		for i, w := range t.widths {
			sb.WriteString(borderStyle.Render(strings.Repeat("─", w+2)))
			if i < len(t.widths)-1 {
				sb.WriteString(borderStyle.Render(mid))
			}
		}
		sb.WriteString(borderStyle.Render(right))
		sb.WriteString("\n")
	}

	writeBorder("┌", "┬", "┐")

	sb.WriteString(borderStyle.Render("│"))
	for i, h := range t.headers {
		sb.WriteString(headerStyle.Width(t.widths[i]).Render(h))
		sb.WriteString(borderStyle.Render("│"))
	}
	sb.WriteString("\n")

	writeBorder("├", "┼", "┤")

	for _, row := range t.rows {
		sb.WriteString(borderStyle.Render("│"))
		for i, cell := range row {
			sb.WriteString(cellStyle.Width(t.widths[i]).Render(cell))
			sb.WriteString(borderStyle.Render("│"))
		}
		sb.WriteString("\n")
	}

	writeBorder("└", "┴", "┘")

	return sb.String()
}

// StatusBadge returns a styled badge for loan and projection states.
func StatusBadge(status string) string {
	switch strings.ToLower(status) {
	case "active", "running", "healthy", "ok", "completed", "funded", "approved":
		return lipgloss.NewStyle().
			Background(styles.Success).
			Foreground(lipgloss.Color("#000000")).
			Padding(0, 1).
			Render(status)
	case "pending", "under_review", "catching_up", "waiting":
		return lipgloss.NewStyle().
			Background(styles.Warning).
			Foreground(lipgloss.Color("#000000")).
			Padding(0, 1).
			Render(status)
	case "error", "failed", "faulted", "rejected", "defaulted", "dead_letter":
		return lipgloss.NewStyle().
			Background(styles.Error).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1).
			Render(status)
	default:
		return lipgloss.NewStyle().
			Background(styles.Surface).
			Foreground(styles.Text).
			Padding(0, 1).
			Render(status)
	}
}

// Banner returns the CLI banner line.
func Banner() string {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.Primary).
		Render("loanmaster") +
		" " +
		styles.Muted.Render("- event-sourced loan ledger")
}

// Divider returns a horizontal divider line.
func Divider(width int) string {
	return styles.Dim.Render(strings.Repeat("─", width))
}
