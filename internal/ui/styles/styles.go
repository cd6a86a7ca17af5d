// Package styles defines the visual styling for the application.
package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Palette is the set of colors a theme assigns.
type Palette struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Subtle    lipgloss.Color
	Text      lipgloss.Color
	Muted     lipgloss.Color
	Success   lipgloss.Color
	Good      lipgloss.Color
	Warning   lipgloss.Color
	Caution   lipgloss.Color
	Error     lipgloss.Color
}

// Palettes maps theme names to palettes.
var Palettes = map[string]Palette{
	"default": {
		Primary:   lipgloss.Color("33"),
		Secondary: lipgloss.Color("63"),
		Subtle:    lipgloss.Color("240"),
		Text:      lipgloss.Color("252"),
		Muted:     lipgloss.Color("245"),
		Success:   lipgloss.Color("42"),
		Good:      lipgloss.Color("119"),
		Warning:   lipgloss.Color("220"),
		Caution:   lipgloss.Color("208"),
		Error:     lipgloss.Color("196"),
	},
	"dark": {
		Primary:   lipgloss.Color("39"),
		Secondary: lipgloss.Color("141"),
		Subtle:    lipgloss.Color("238"),
		Text:      lipgloss.Color("255"),
		Muted:     lipgloss.Color("243"),
		Success:   lipgloss.Color("48"),
		Good:      lipgloss.Color("156"),
		Warning:   lipgloss.Color("227"),
		Caution:   lipgloss.Color("215"),
		Error:     lipgloss.Color("203"),
	},
	"light": {
		Primary:   lipgloss.Color("25"),
		Secondary: lipgloss.Color("55"),
		Subtle:    lipgloss.Color("250"),
		Text:      lipgloss.Color("235"),
		Muted:     lipgloss.Color("242"),
		Success:   lipgloss.Color("28"),
		Good:      lipgloss.Color("34"),
		Warning:   lipgloss.Color("136"),
		Caution:   lipgloss.Color("166"),
		Error:     lipgloss.Color("160"),
	},
}

// Current is the active palette.
var Current = Palettes["default"]

// Styles derived from the active palette. SetTheme rebuilds them.
var (
	TitleStyle       lipgloss.Style
	HeaderStyle      lipgloss.Style
	MutedStyle       lipgloss.Style
	ErrorTextStyle   lipgloss.Style
	WarningTextStyle lipgloss.Style
	SuccessTextStyle lipgloss.Style
	TableHeaderStyle lipgloss.Style
	CardStyle        lipgloss.Style
	HelpStyle        lipgloss.Style
)

func init() {
	build()
}

// SetTheme switches to the named palette. Unknown names keep the default.
func SetTheme(name string) {
	p, ok := Palettes[name]
	if !ok {
		p = Palettes["default"]
	}
	Current = p
	build()
}

// DisableColor strips colors from all subsequent rendering.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func build() {
	TitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Current.Primary)

	HeaderStyle = lipgloss.NewStyle().
		Foreground(Current.Muted)

	MutedStyle = lipgloss.NewStyle().
		Foreground(Current.Subtle)

	ErrorTextStyle = lipgloss.NewStyle().
		Foreground(Current.Error)

	WarningTextStyle = lipgloss.NewStyle().
		Foreground(Current.Warning)

	SuccessTextStyle = lipgloss.NewStyle().
		Foreground(Current.Success)

	TableHeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Current.Text).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(Current.Primary)

	CardStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Current.Primary).
		Padding(1, 2)

	HelpStyle = lipgloss.NewStyle().
		Foreground(Current.Muted)
}

// namedColors maps the color names providers use to terminal colors.
var namedColors = map[string]lipgloss.Color{
	"cyan":    lipgloss.Color("6"),
	"magenta": lipgloss.Color("5"),
	"yellow":  lipgloss.Color("3"),
	"green":   lipgloss.Color("2"),
	"red":     lipgloss.Color("1"),
	"white":   lipgloss.Color("7"),
	"blue":    lipgloss.Color("4"),
}

// Named returns the terminal color for a provider color name.
func Named(name string) lipgloss.Color {
	if c, ok := namedColors[name]; ok {
		return c
	}
	return namedColors["white"]
}

// Foreground returns a style coloring text with the named color.
func Foreground(name string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(Named(name))
}

// PercentColor grades a remaining percentage in five steps.
func PercentColor(pct float64) lipgloss.Color {
	switch {
	case pct >= 80:
		return Current.Success
	case pct >= 60:
		return Current.Good
	case pct >= 40:
		return Current.Warning
	case pct >= 20:
		return Current.Caution
	default:
		return Current.Error
	}
}

// BarColor picks a bar color. For used-mode bars a high share is bad.
func BarColor(shown float64, used bool) lipgloss.Color {
	if used {
		switch {
		case shown <= 20:
			return Current.Success
		case shown <= 50:
			return Current.Warning
		default:
			return Current.Error
		}
	}
	switch {
	case shown <= 20:
		return Current.Error
	case shown <= 50:
		return Current.Warning
	default:
		return Current.Success
	}
}
