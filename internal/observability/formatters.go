// Package observability provides formatted terminal output for the CLI:
// event lines, live stage status and finding summaries.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/jonathan/fleet-diagnostics/internal/reducer"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

var (
	okText     = color.New(color.FgGreen).SprintFunc()
	failText   = color.New(color.FgRed).SprintFunc()
	activeText = color.New(color.FgCyan).SprintFunc()
	dimText    = color.New(color.Faint).SprintFunc()
	warnText   = color.New(color.FgYellow).SprintFunc()
)

// Printer handles formatted output for the CLI
type Printer struct {
	out     io.Writer
	verbose bool
}

// NewPrinter creates a new Printer that writes to the given writer. Token
// events are printed only when verbose is set.
func NewPrinter(out io.Writer, verbose bool) *Printer {
	return &Printer{out: out, verbose: verbose}
}

// truncate shortens s to at most n runes
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-3]) + "..."
}

// printBox prints a formatted box with a title and content. Padding is
// computed on the uncoloured text so escape codes do not skew the border.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, lines []string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)
	for _, line := range lines {
		fmt.Fprintf(p.out, "│ %s │\n", line)
	}
	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// boxLine truncates and pads plain text, then applies paint
func boxLine(text string, paint func(a ...any) string) string {
	text = truncate(text, boxWidth-4)
	pad := strings.Repeat(" ", boxWidth-4-utf8.RuneCountInString(text))
	if paint == nil {
		return text + pad
	}
	return paint(text) + pad
}

// PrintEvent outputs one event as a single line
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintEvent(ev types.Event) {
	if ev.Kind == types.KindToken {
		if p.verbose {
			fmt.Fprint(p.out, dimText(ev.Message))
		}
		return
	}

	stamp := ev.Time().Format("15:04:05.000")
	label := fmt.Sprintf("[%s]", ev.Stage)
	switch ev.Kind {
	case types.KindStarted:
		label = activeText(label)
	case types.KindCompleted:
		label = okText(label)
	case types.KindFailed:
		label = failText(label)
	}
	fmt.Fprintf(p.out, "%s %s %s %s\n", dimText(stamp), label, ev.Kind, ev.Message)
}

var statusSymbol = map[reducer.Status]string{
	reducer.StatusIdle:   "·",
	reducer.StatusActive: "▶",
	reducer.StatusDone:   "✓",
	reducer.StatusFailed: "✗",
}

// PrintStages outputs the status of every stage in declaration order
func (p *Printer) PrintStages(st reducer.State) {
	lines := make([]string, 0, len(types.AllStages()))
	for _, id := range types.AllStages() {
		status := st.Status(id)
		text := fmt.Sprintf("%s %-15s %s", statusSymbol[status], id, status)
		var paint func(a ...any) string
		switch status {
		case reducer.StatusActive:
			paint = activeText
		case reducer.StatusDone:
			paint = okText
		case reducer.StatusFailed:
			paint = failText
		default:
			paint = dimText
		}
		lines = append(lines, boxLine(text, paint))
	}

	title := "PIPELINE"
	if active := st.Active(); active != "" {
		title = fmt.Sprintf("PIPELINE (active: %s)", active)
	}
	p.printBox(title, lines)
}

var severityRank = map[types.Severity]int{
	types.SeverityCritical: 0,
	types.SeverityHigh:     1,
	types.SeverityMedium:   2,
	types.SeverityLow:      3,
}

// PrintFindings outputs the most severe findings
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintFindings(findings []types.Finding) {
	if len(findings) == 0 {
		border := strings.Repeat("─", boxWidth-2)
		fmt.Fprintf(p.out, "┌%s┐\n", border)
		fmt.Fprintf(p.out, "│ %s │\n", boxLine("✅ NO ANOMALIES FOUND", okText))
		fmt.Fprintf(p.out, "└%s┘\n", border)
		return
	}

	sorted := make([]types.Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return severityRank[sorted[i].Severity] < severityRank[sorted[j].Severity]
	})

	lines := []string{boxLine(fmt.Sprintf("Found %d anomalies:", len(findings)), nil), boxLine("", nil)}
	count := min(len(sorted), maxItemsToShow)
	for i := 0; i < count; i++ {
		f := sorted[i]
		paint := warnText
		if f.Severity.Urgent() {
			paint = failText
		}
		head := fmt.Sprintf("⚠ %s  %s  %s", strings.ToUpper(string(f.Severity)), f.VehicleID, f.Type)
		if f.Row > 0 {
			head += fmt.Sprintf(" (row %d)", f.Row)
		}
		lines = append(lines, boxLine(head, paint))
		lines = append(lines, boxLine("  "+f.Description, nil))
		if f.Recommendation != "" {
			lines = append(lines, boxLine("  → "+f.Recommendation, dimText))
		}
		if i < count-1 {
			lines = append(lines, boxLine("", nil))
		}
	}
	if len(sorted) > maxItemsToShow {
		lines = append(lines, boxLine("", nil), boxLine(fmt.Sprintf("... and %d more", len(sorted)-maxItemsToShow), nil))
	}

	p.printBox("DETECTED ANOMALIES", lines)
}

// PrintFailure outputs a classified failure
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintFailure(err *types.StageError) {
	if err == nil {
		return
	}
	fmt.Fprintf(p.out, "%s %s (%s): %s\n", failText("✗"), err.Stage, err.Kind, err.Message)
}

// PrintBooking outputs a confirmed appointment
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintBooking(b *types.Booking) {
	if b == nil {
		return
	}
	fmt.Fprintf(p.out, "%s %s (appointment %s)\n", okText("✓"), b.Message, b.AppointmentID)
}
