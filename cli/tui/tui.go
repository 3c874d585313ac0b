package tui

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// View types.
const (
	ViewReplay  = "replay"
	ViewInspect = "inspect_artifact"
	ViewStats   = "stats_metrics"
)

// SupportedTUIViews returns the view types that support TUI mode.
func SupportedTUIViews() []string {
	return []string{ViewReplay, ViewInspect, ViewStats}
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// NewModel returns the model for viewType.
func NewModel(viewType string, data any) (tea.Model, error) {
	switch viewType {
	case ViewReplay:
		return NewReplayModel(data), nil
	case ViewInspect, ViewStats:
		return NewDetailModel(viewType, data), nil
	default:
		return nil, fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
}

// Run starts the TUI for viewType and blocks until the user quits.
func Run(viewType string, data any) error {
	model, err := NewModel(viewType, data)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

type keyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "scroll up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "scroll down"),
	),
}
