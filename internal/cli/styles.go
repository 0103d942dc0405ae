package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/notify"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/render"
)

var (
	accent  = lipgloss.Color("#50E3C2")
	border  = lipgloss.Color("#2D6A80")
	muted   = lipgloss.Color("#8CA1AE")
	danger  = lipgloss.Color("#FF6B6B")
	warning = lipgloss.Color("#F6AE2D")
	online  = lipgloss.Color("#2E7D32")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(muted)

	errorStyle = lipgloss.NewStyle().
			Foreground(danger).
			Bold(true)

	kindStyles = map[notify.Kind]lipgloss.Style{
		notify.KindSuccess: lipgloss.NewStyle().Foreground(online).Bold(true),
		notify.KindError:   errorStyle,
		notify.KindWarning: lipgloss.NewStyle().Foreground(warning).Bold(true),
		notify.KindInfo:    mutedStyle,
	}
)

const barWidth = 40

func renderPanel(title, body string) string {
	return panelStyle.Render(titleStyle.Render(title) + "\n" + strings.TrimRight(body, "\n"))
}

// renderBars draws the chart series as one horizontal bar per point.
func renderBars(series render.ChartSeries) string {
	if len(series.Values) == 0 {
		return ""
	}
	hi := series.Values[0]
	for _, v := range series.Values[1:] {
		hi = max(hi, v)
	}

	var b strings.Builder
	for i, v := range series.Values {
		width := 0
		if hi > 0 && v > 0 {
			width = max(1, int(v/hi*barWidth+0.5))
		}
		label := ""
		if i < len(series.Labels) {
			label = series.Labels[i]
		}
		fmt.Fprintf(&b, "%s %s %.2f\n", mutedStyle.Render(label), strings.Repeat("█", width), v)
	}
	return b.String()
}

// printerSink prints every shown notification.
type printerSink struct {
	out io.Writer
}

func (p printerSink) Show(n notify.Notification) {
	style, ok := kindStyles[n.Kind]
	if !ok {
		style = mutedStyle
	}
	fmt.Fprintln(p.out, style.Render(n.Message))
}

func (printerSink) Dismiss(notify.Notification) {}
