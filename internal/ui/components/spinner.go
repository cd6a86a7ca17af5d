package components

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/limitwatch/internal/ui/styles"
)

// LoadingSpinner is a spinner followed by a status label.
type LoadingSpinner struct {
	model spinner.Model
	label string
}

// NewSpinner creates a spinner showing label.
func NewSpinner(label string) LoadingSpinner {
	return LoadingSpinner{
		model: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(styles.Current.Primary)),
		),
		label: label,
	}
}

// Init starts the animation.
func (l LoadingSpinner) Init() tea.Cmd {
	return l.model.Tick
}

// Update advances the animation on spinner ticks.
func (l LoadingSpinner) Update(msg tea.Msg) (LoadingSpinner, tea.Cmd) {
	var cmd tea.Cmd
	l.model, cmd = l.model.Update(msg)
	return l, cmd
}

// View renders the spinner and its label.
func (l LoadingSpinner) View() string {
	return l.model.View() + " " + styles.MutedStyle.Render(l.label)
}

func (l *LoadingSpinner) SetLabel(label string) {
	l.label = label
}

func (l LoadingSpinner) Label() string {
	return l.label
}

// Centered renders the view in the middle of a width by height area.
func (l LoadingSpinner) Centered(width, height int) string {
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, l.View())
}
