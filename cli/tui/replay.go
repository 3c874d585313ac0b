package tui

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/pixelport/runtime"
)

// eventPaneHeight is the viewport height before the first resize.
const eventPaneHeight = 12

// ReplayModel shows a replay report: one stat box per channel and a
// scrollable event log.
type ReplayModel struct {
	report *runtime.ReplayReport
	events viewport.Model
	ready  bool
}

// NewReplayModel creates a replay view. data must be a *runtime.ReplayReport.
func NewReplayModel(data any) ReplayModel {
	report, _ := data.(*runtime.ReplayReport)
	vp := viewport.New(80, eventPaneHeight)
	vp.SetContent(renderEvents(report))
	return ReplayModel{report: report, events: vp}
}

// Init implements tea.Model.
func (m ReplayModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ReplayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.events.Width = msg.Width
		// Header, stat boxes and help take roughly fourteen rows.
		m.events.Height = max(msg.Height-14, 3)
		m.ready = true
	}
	var cmd tea.Cmd
	m.events, cmd = m.events.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m ReplayModel) View() string {
	if m.report == nil {
		return ErrorStyle.Render("no replay report") + "\n"
	}
	var b strings.Builder
	r := m.report

	b.WriteString(TitleStyle.Render("Replay " + r.DeviceID))
	b.WriteString("\n")
	b.WriteString(field("Outcome", StateStyle(string(r.Outcome)).Render(string(r.Outcome))))
	b.WriteString(field("Message", r.Message))
	b.WriteString(field("Records", fmt.Sprintf("%d (%d skipped)", r.Records, r.Skipped)))
	b.WriteString(field("MTU", fmt.Sprintf("%d", r.MTU)))
	b.WriteString(field("Duration", fmt.Sprintf("%dms", r.DurationMs)))
	b.WriteString("\n")

	var boxes []string
	for _, name := range slices.Sorted(maps.Keys(r.Channels)) {
		boxes = append(boxes, channelBox(name, r.Channels[name]))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	b.WriteString(LabelStyle.Render("Events"))
	b.WriteString("\n")
	b.WriteString(m.events.View())
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render(keys.Up.Help().Key + "/" + keys.Down.Help().Key + " scroll • q quit"))
	return b.String()
}

func field(label, value string) string {
	return LabelStyle.Render(label+":") + " " + ValueStyle.Render(value) + "\n"
}

func channelBox(name string, cs *runtime.ChannelSummary) string {
	if cs == nil {
		return ""
	}
	state := "idle"
	if cs.Open {
		state = "awaiting_data"
	}
	lines := []string{
		StatLabelStyle.Render(name),
		StateStyle(state).Render(state),
		StatValueStyle.Render(fmt.Sprintf("%d/%d", cs.Completed, cs.Started)),
		StatLabelStyle.Render("completed"),
		fmt.Sprintf("%d frag, %d B", cs.Fragments, cs.Bytes),
	}
	if cs.Resets > 0 {
		lines = append(lines, ErrorStyle.Render(fmt.Sprintf("%d resets", cs.Resets)))
		for _, reason := range slices.Sorted(maps.Keys(cs.ResetReasons)) {
			lines = append(lines, fmt.Sprintf("%s: %d", reason, cs.ResetReasons[reason]))
		}
	}
	return StatBoxStyle.Width(26).Render(strings.Join(lines, "\n"))
}

func renderEvents(r *runtime.ReplayReport) string {
	if r == nil || len(r.Events) == 0 {
		return HelpStyle.Render("(no events)")
	}
	var b strings.Builder
	for _, ev := range r.Events {
		line := fmt.Sprintf("%s %-9s %s",
			ev.Timestamp.Format("15:04:05.000"),
			ev.Channel,
			StateStyle(string(ev.Type)).Render(string(ev.Type)))
		if ev.Content != "" {
			line += " " + string(ev.Content)
		}
		if ev.Reason != "" {
			line += " reason=" + string(ev.Reason)
		}
		line += fmt.Sprintf(" %d/%d bytes", ev.ReceivedBytes, ev.ExpectedBytes)
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
