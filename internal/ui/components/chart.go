package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/j-veylop/limitwatch/internal/ui/styles"
)

// RenderLineChart plots remaining percentages on a fixed 0-100 axis.
func RenderLineChart(data []float64, width, height int, caption string) string {
	if len(data) == 0 {
		return styles.HelpStyle.Render("No data available")
	}

	// Ensure minimum dimensions
	if width < 20 {
		width = 20
	}
	if height < 3 {
		height = 3
	}

	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.LowerBound(0),
		asciigraph.UpperBound(100),
		asciigraph.Precision(0),
		asciigraph.Caption(caption),
	)
}

// RenderSparkline creates an inline sparkline of remaining percentages on an
// absolute 0-100 scale, each cell colored by its level. Fewer than two values
// render as a flat rule.
func RenderSparkline(values []float64, width int) string {
	if len(values) < 2 {
		return styles.MutedStyle.Render(strings.Repeat("─", width))
	}

	sparkChars := []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	// Sample values to fit width
	var result strings.Builder
	step := float64(len(values)) / float64(width)
	for i := range width {
		idx := min(int(float64(i)*step), len(values)-1)
		val := values[idx]

		normalized := max(0, min(1, val/100))
		c := sparkChars[int(normalized*float64(len(sparkChars)-1))]
		result.WriteString(lipgloss.NewStyle().Foreground(styles.PercentColor(val)).Render(string(c)))
	}

	return result.String()
}

// Trend compares the first and last thirds of a series and describes the
// direction of travel.
func Trend(values []float64) string {
	if len(values) < 2 {
		return styles.MutedStyle.Render("--")
	}

	third := max(len(values)/3, 1)
	first := mean(values[:third])
	last := mean(values[len(values)-third:])
	diff := last - first

	switch {
	case diff > -1 && diff < 1:
		return styles.MutedStyle.Render("= stable")
	case diff > 10:
		return styles.SuccessTextStyle.Render("^ rising")
	case diff > 0:
		return lipgloss.NewStyle().Foreground(styles.Current.Good).Render("^") + " " + styles.MutedStyle.Render("rising")
	case diff < -10:
		return styles.ErrorTextStyle.Render("v falling")
	default:
		return lipgloss.NewStyle().Foreground(styles.Current.Caution).Render("v") + " " + styles.MutedStyle.Render("falling")
	}
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Percent renders a remaining percentage colored by level.
func Percent(pct float64, precision int) string {
	return lipgloss.NewStyle().Foreground(styles.PercentColor(pct)).Render(fmt.Sprintf("%.*f%%", precision, pct))
}
