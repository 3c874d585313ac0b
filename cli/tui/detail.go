package tui

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/pixelport/dispatch"
	"github.com/pithecene-io/pixelport/metrics"
)

// DetailModel is a static view for artifact inspection and metric snapshots.
type DetailModel struct {
	viewType string
	data     any
}

// NewDetailModel creates a detail view for viewType.
func NewDetailModel(viewType string, data any) DetailModel {
	return DetailModel{viewType: viewType, data: data}
}

// Init implements tea.Model.
func (m DetailModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m DetailModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m DetailModel) View() string {
	var body string
	switch d := m.data.(type) {
	case dispatch.Inspection:
		body = renderInspection(d)
	case *dispatch.Inspection:
		if d != nil {
			body = renderInspection(*d)
		}
	case metrics.Snapshot:
		body = renderSnapshot(d)
	case *metrics.Snapshot:
		if d != nil {
			body = renderSnapshot(*d)
		}
	}
	if body == "" {
		return ErrorStyle.Render(fmt.Sprintf("unsupported data for %s: %T", m.viewType, m.data)) + "\n"
	}
	return body + "\n" + HelpStyle.Render("q quit") + "\n"
}

func renderInspection(in dispatch.Inspection) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Artifact"))
	b.WriteString("\n")
	b.WriteString(field("Size", fmt.Sprintf("%d bytes", in.Size)))
	b.WriteString(field("Signature", in.Signature))
	b.WriteString(field("Content", string(in.Content)))
	if in.Width > 0 {
		b.WriteString(field("Geometry", fmt.Sprintf("%dx%d", in.Width, in.Height)))
	}
	if in.Frames > 0 {
		b.WriteString(field("Frames", fmt.Sprintf("%d (loop %d)", in.Frames, in.LoopCount)))
	}
	if in.RenderBytes > 0 {
		b.WriteString(field("Render bytes", fmt.Sprintf("%d", in.RenderBytes)))
	}
	out := BoxStyle.Render(b.String())
	if in.Problem != "" {
		out += "\n" + ErrorStyle.Render(in.Problem)
	}
	return out
}

func renderSnapshot(s metrics.Snapshot) string {
	boxes := []string{
		statBox("Started", s.SessionsStarted),
		statBox("Completed", s.SessionsCompleted),
		statBox("Dispatched", s.SessionsDispatched),
		statBox("Resets", s.Resets),
	}
	storage := []string{
		statBox("Memory", s.MemoryBackings),
		statBox("Spool", s.SpoolBackings),
		statBox("Fallbacks", s.LadderFallbacks),
		statBox("Compactions", s.Compactions),
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Metrics " + s.DeviceID))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, storage...))
	b.WriteString("\n\n")
	b.WriteString(field("Chunks", fmt.Sprintf("%d (%d bytes)", s.ChunksReceived, s.BytesReceived)))
	b.WriteString(field("Dropped", fmt.Sprintf("%d stray, %d straggler, %d rejected", s.StraysDropped, s.StragglersDropped, s.PacketsRejected)))
	b.WriteString(field("Events", fmt.Sprintf("%d published, %d errors, %d dropped", s.EventsPublished, s.EventPublishErrors, s.EventsDropped)))
	if len(s.ResetsByReason) > 0 {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("Reset reasons"))
		b.WriteString("\n")
		for _, reason := range slices.Sorted(maps.Keys(s.ResetsByReason)) {
			b.WriteString(field("  "+reason, fmt.Sprintf("%d", s.ResetsByReason[reason])))
		}
	}
	return b.String()
}

func statBox(label string, value int64) string {
	return StatBoxStyle.Render(
		StatValueStyle.Render(fmt.Sprintf("%d", value)) + "\n" + StatLabelStyle.Render(label),
	)
}
