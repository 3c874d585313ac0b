package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pithecene-io/pixelport/iox"
	"github.com/pithecene-io/pixelport/types"
)

// ErrMissingHeader is returned when a capture does not open with a header frame.
var ErrMissingHeader = errors.New("capture: missing header frame")

// Capture is a decoded capture stream.
type Capture struct {
	Header  types.CaptureHeader
	Records []types.CaptureRecord
	// Skipped counts records that failed to decode and were dropped.
	Skipped int
}

// Duration returns the offset of the last record.
func (c *Capture) Duration() time.Duration {
	if len(c.Records) == 0 {
		return 0
	}
	return time.Duration(c.Records[len(c.Records)-1].OffsetMs) * time.Millisecond
}

// Bytes returns the total fragment bytes per channel.
func (c *Capture) Bytes() map[types.Channel]int64 {
	out := make(map[types.Channel]int64, types.ChannelCount)
	for _, r := range c.Records {
		out[r.Channel] += int64(len(r.Data))
	}
	return out
}

// NewHeader returns a header for a capture recorded at mtu.
func NewHeader(mtu int, deviceID string) types.CaptureHeader {
	return types.CaptureHeader{
		Type:     types.CaptureHeaderType,
		Version:  types.Version,
		MTU:      mtu,
		DeviceID: deviceID,
	}
}

// NewRecord returns a fragment record.
func NewRecord(ch types.Channel, offset time.Duration, data []byte) types.CaptureRecord {
	return types.CaptureRecord{
		Type:     types.CaptureRecordType,
		Channel:  ch,
		OffsetMs: offset.Milliseconds(),
		Data:     data,
	}
}

// Read decodes a whole capture. Records that fail to decode are skipped
// and counted; fatal frame errors abort.
func Read(r io.Reader) (*Capture, error) {
	dec := NewFrameDecoder(r)

	payload, err := dec.ReadFrame()
	if err == io.EOF {
		return nil, ErrMissingHeader
	}
	if err != nil {
		return nil, err
	}
	first, err := DecodeFrame(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingHeader, err)
	}
	h, ok := first.(*types.CaptureHeader)
	if !ok {
		return nil, ErrMissingHeader
	}

	c := &Capture{Header: *h}
	for {
		payload, err := dec.ReadFrame()
		if err == io.EOF {
			return c, nil
		}
		if err != nil {
			return c, err
		}
		v, err := DecodeFrame(payload)
		if err != nil {
			c.Skipped++
			continue
		}
		rec, ok := v.(*types.CaptureRecord)
		if !ok || !rec.Channel.Valid() {
			c.Skipped++
			continue
		}
		c.Records = append(c.Records, *rec)
	}
}

// ReadFile decodes the capture at path.
func ReadFile(path string) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(f)
	return Read(f)
}

// Write encodes c to w.
func Write(w io.Writer, c *Capture) error {
	enc := NewFrameEncoder(w)
	if err := enc.WriteFrame(&c.Header); err != nil {
		return err
	}
	for i := range c.Records {
		if err := enc.WriteFrame(&c.Records[i]); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

// WriteFile encodes c to path.
func WriteFile(path string, c *Capture) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Write(f, c)
}

// Recorder appends live fragments to a capture stream, stamping each with
// its offset from the first. Safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	enc   *FrameEncoder
	now   func() time.Time
	start time.Time
	n     int
}

// NewRecorder writes h to w and returns a recorder for the records.
// now may be nil to use the wall clock.
func NewRecorder(w io.Writer, h types.CaptureHeader, now func() time.Time) (*Recorder, error) {
	if now == nil {
		now = time.Now
	}
	enc := NewFrameEncoder(w)
	if err := enc.WriteFrame(&h); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return &Recorder{enc: enc, now: now}, nil
}

// Record appends one fragment.
func (r *Recorder) Record(ch types.Channel, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.now()
	if r.n == 0 {
		r.start = t
	}
	rec := NewRecord(ch, t.Sub(r.start), data)
	if err := r.enc.WriteFrame(&rec); err != nil {
		return err
	}
	r.n++
	return nil
}

// Count returns the number of records written.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
