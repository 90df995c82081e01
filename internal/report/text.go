// internal/report/text.go
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/FairForge/loadprobe/internal/loadtest"
)

const (
	completedLine = "Test completed (server cannot cope with this rate)"
	stoppedLine   = "Stopped"
	answerMarker  = "<- answer"
)

var columns = []struct {
	title string
	width int
}{
	{"Requests/s (attempted)", 22},
	{"Requests/s (actual)", 19},
	{"Median time", 11},
	{"Successful", 10},
	{"Result", 22},
}

// WriteText renders the burst table of r to w, highlighting the answer row.
// Colour is only emitted when w is a terminal.
func WriteText(w io.Writer, r *loadtest.Report) error {
	renderer := lipgloss.NewRenderer(w)
	header := renderer.NewStyle().Bold(true)
	cell := renderer.NewStyle().Align(lipgloss.Right)
	answer := renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failed := renderer.NewStyle().Foreground(lipgloss.Color("9"))

	var b strings.Builder
	fmt.Fprintf(&b, "Target: %s\n", r.Target.URL)
	if r.ID != "" {
		fmt.Fprintf(&b, "Run:    %s\n", r.ID)
	}
	b.WriteString("\n")

	titles := make([]string, len(columns))
	for i, c := range columns {
		titles[i] = header.Width(c.width).Align(lipgloss.Right).Render(c.title)
	}
	b.WriteString(strings.Join(titles, "  "))
	b.WriteString("\n")

	for _, burst := range r.Bursts {
		fields := []string{
			formatRate(burst.AttemptedRate),
			fmt.Sprintf("%.2f", burst.ActualRate),
			fmt.Sprintf("%d ms", burst.MedianLatencyMs),
			fmt.Sprintf("%.1f%%", burst.SuccessPercent),
			string(burst.Verdict),
		}
		cells := make([]string, len(fields))
		for i, f := range fields {
			cells[i] = cell.Width(columns[i].width).Render(f)
		}
		line := strings.Join(cells, "  ")

		switch {
		case isAnswer(r, burst):
			line = answer.Render(line + "  " + answerMarker)
		case !burst.Passed:
			line = failed.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if r.Found() {
		fmt.Fprintf(&b, "Sustainable rate: %s requests/s\n", formatRate(r.AnswerRate()))
	} else {
		b.WriteString("Sustainable rate: none found\n")
	}
	b.WriteString(FinalLine(r))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// FinalLine is the closing message of a search: the completion notice when
// the failure limit was reached, otherwise a plain stop.
func FinalLine(r *loadtest.Report) string {
	if r.StopReason == loadtest.StopExhausted {
		return completedLine
	}
	return stoppedLine
}

func isAnswer(r *loadtest.Report, b loadtest.BurstResult) bool {
	return r.Answer != nil && r.Answer.Seq == b.Seq
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64)
}
