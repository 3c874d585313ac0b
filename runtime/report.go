package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/pixelport/metrics"
	"github.com/pithecene-io/pixelport/types"
)

// ReplayReport is the structured result of a replay, written by --report.
type ReplayReport struct {
	DeviceID   string `json:"device_id,omitempty"`
	Version    string `json:"capture_version"`
	MTU        int    `json:"mtu"`
	Records    int    `json:"records"`
	Skipped    int    `json:"skipped"`
	DurationMs int64  `json:"duration_ms"`

	Outcome  Outcome `json:"outcome"`
	Message  string  `json:"message"`
	ExitCode int     `json:"exit_code"`

	Channels map[string]*ChannelSummary `json:"channels"`
	Events   []types.TransferEvent      `json:"events"`
	Metrics  *metrics.Snapshot          `json:"metrics"`
}

// ChannelSummary aggregates one channel's replay.
type ChannelSummary struct {
	Fragments    int64            `json:"fragments"`
	Bytes        int64            `json:"bytes"`
	Started      int64            `json:"started"`
	Completed    int64            `json:"completed"`
	Resets       int64            `json:"resets"`
	ResetReasons map[string]int64 `json:"reset_reasons,omitempty"`
	Content      map[string]int64 `json:"content,omitempty"`
	// Open is true when the session was awaiting data after the replay.
	Open bool `json:"open"`
}

func newReplayReport() *ReplayReport {
	r := &ReplayReport{Channels: make(map[string]*ChannelSummary, types.ChannelCount)}
	for _, ch := range types.Channels {
		r.Channels[ch.String()] = &ChannelSummary{
			ResetReasons: make(map[string]int64),
			Content:      make(map[string]int64),
		}
	}
	return r
}

// Emit implements transfer.EventSink by folding ev into the summary.
func (r *ReplayReport) Emit(ev types.TransferEvent) {
	r.Events = append(r.Events, ev)
	cs, ok := r.Channels[ev.Channel]
	if !ok {
		return
	}
	switch ev.Type {
	case types.EventSessionStarted:
		cs.Started++
	case types.EventSessionCompleted:
		cs.Completed++
		cs.Content[string(ev.Content)]++
	case types.EventSessionReset:
		cs.Resets++
		cs.ResetReasons[string(ev.Reason)]++
	}
}

// WriteReport writes the report as JSON to path. "-" writes to stderr.
func WriteReport(report *ReplayReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}
	if path == "-" {
		if err := writeReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

func writeReportTo(report *ReplayReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalReport(report *ReplayReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}
