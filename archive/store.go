// Package archive keeps a gallery of dispatched artifacts in a lode store.
//
// Each artifact's bytes land as a file under a Hive-partitioned path and an
// index record is appended to a JSONL dataset partitioned by device, day and
// content kind. The backend is the local filesystem, memory or S3.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"

	"github.com/pithecene-io/pixelport/iox"
	"github.com/pithecene-io/pixelport/types"
)

// DefaultDataset is the lode dataset holding the gallery index.
const DefaultDataset = "pixelport"

// Backends.
const (
	BackendFS     = "fs"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// S3Config holds configuration for the S3 backend.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string `yaml:"bucket"`
	// Prefix is the key prefix within the bucket.
	Prefix string `yaml:"prefix"`
	// Region is the AWS region; empty uses the default chain.
	Region string `yaml:"region"`
	// Endpoint is a custom endpoint for S3-compatible providers.
	Endpoint string `yaml:"endpoint"`
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool `yaml:"use_path_style"`
}

// Config selects and configures the archive backend.
type Config struct {
	// Backend is fs, memory or s3.
	Backend string `yaml:"backend"`
	// Root is the base directory for the fs backend.
	Root string `yaml:"root"`
	// Dataset is the lode dataset ID (default DefaultDataset).
	Dataset string   `yaml:"dataset"`
	S3      S3Config `yaml:"s3"`
}

// Validate checks the backend settings.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFS:
		if c.Root == "" {
			return errors.New("archive: fs backend requires a root directory")
		}
	case BackendMemory:
	case BackendS3:
		if c.S3.Bucket == "" {
			return errors.New("archive: s3 backend requires a bucket")
		}
	default:
		return fmt.Errorf("archive: unknown backend %q (must be fs, memory or s3)", c.Backend)
	}
	return nil
}

// NewFactory returns the lode store factory for cfg. The S3 backend uses the
// AWS SDK default credential chain.
func NewFactory(ctx context.Context, cfg Config) (lode.StoreFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendFS:
		return lode.NewFSFactory(cfg.Root), nil
	case BackendMemory:
		return lode.NewMemoryFactory(), nil
	}

	var opts []func(*config.LoadOptions) error
	if cfg.S3.Region != "" {
		opts = append(opts, config.WithRegion(cfg.S3.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, wrap("init", cfg.S3.Bucket, fmt.Errorf("load AWS config: %w", err))
	}
	var s3Opts []func(*s3.Options)
	if cfg.S3.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.S3.Endpoint) })
	}
	if cfg.S3.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)
	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{Bucket: cfg.S3.Bucket, Prefix: cfg.S3.Prefix})
	}, nil
}

// Entry is one archived artifact.
type Entry struct {
	Device     string            `json:"device" yaml:"device"`
	Day        string            `json:"day" yaml:"day"`
	Content    types.ContentKind `json:"content" yaml:"content"`
	Channel    string            `json:"channel,omitempty" yaml:"channel,omitempty"`
	Name       string            `json:"name" yaml:"name"`
	Path       string            `json:"path" yaml:"path"`
	Size       int64             `json:"size" yaml:"size"`
	Width      int               `json:"width,omitempty" yaml:"width,omitempty"`
	Height     int               `json:"height,omitempty" yaml:"height,omitempty"`
	Checksum   string            `json:"checksum" yaml:"checksum"`
	ReceivedAt time.Time         `json:"received_at" yaml:"received_at"`
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	Content types.ContentKind
	Day     string
}

func (f Filter) match(e Entry) bool {
	return (f.Content == "" || e.Content == f.Content) && (f.Day == "" || e.Day == f.Day)
}

// Store is the gallery over one lode store.
type Store struct {
	dataset lode.Dataset
	store   lode.Store
	name    string
	device  string
}

// Open creates the store for cfg.
func Open(ctx context.Context, cfg Config, device string) (*Store, error) {
	factory, err := NewFactory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return OpenWithFactory(cfg.Dataset, device, factory)
}

// OpenWithFactory creates a store from factory. Artifact files and the index
// share the single store the factory returns.
func OpenWithFactory(dataset, device string, factory lode.StoreFactory) (*Store, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	if device == "" {
		return nil, errors.New("archive: device id is required")
	}
	st, err := factory()
	if err != nil {
		return nil, wrap("init", dataset, err)
	}
	shared := func() (lode.Store, error) { return st, nil }
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		shared,
		lode.WithHiveLayout("device", "day", "content"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrap("init", dataset, err)
	}
	return &Store{dataset: ds, store: st, name: dataset, device: device}, nil
}

// Day formats t as a partition day (YYYY-MM-DD, UTC).
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func extension(kind types.ContentKind) string {
	if kind == types.ContentAnimation {
		return "gif"
	}
	return "raw"
}

func (s *Store) filePath(e Entry) string {
	return fmt.Sprintf("datasets/%s/partitions/device=%s/day=%s/content=%s/files/%s",
		s.name, e.Device, e.Day, e.Content, e.Name)
}

// Put stores data and indexes it. Device, Day, Name, Path, Size and Checksum
// are filled in; the caller sets Content, Channel, ReceivedAt and, for still
// images, the geometry.
func (s *Store) Put(ctx context.Context, e Entry, data []byte) (Entry, error) {
	sum := sha256.Sum256(data)
	return s.put(ctx, e, int64(len(data)), hex.EncodeToString(sum[:]), bytes.NewReader(data))
}

// PutFile archives the file at path, streaming it rather than loading it.
func (s *Store) PutFile(ctx context.Context, e Entry, path string) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer iox.DiscardClose(f)

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return Entry{}, fmt.Errorf("archive: read %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Entry{}, fmt.Errorf("archive: rewind %s: %w", path, err)
	}
	return s.put(ctx, e, size, hex.EncodeToString(h.Sum(nil)), f)
}

func (s *Store) put(ctx context.Context, e Entry, size int64, checksum string, r io.Reader) (Entry, error) {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	e.Device = s.device
	e.Day = Day(e.ReceivedAt)
	e.Name = fmt.Sprintf("%d.%s", e.ReceivedAt.UnixNano(), extension(e.Content))
	e.Path = s.filePath(e)
	e.Size = size
	e.Checksum = checksum

	if err := s.store.Put(ctx, e.Path, r); err != nil {
		return Entry{}, wrap("write", e.Path, err)
	}
	if _, err := s.dataset.Write(ctx, []any{toRecord(e)}, lode.Metadata{}); err != nil {
		return Entry{}, wrap("write", s.name, err)
	}
	return e, nil
}

// List returns the archived entries matching f, oldest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	snapshots, err := s.dataset.Snapshots(ctx)
	if err != nil {
		werr := wrap("list", s.name, err)
		if errors.Is(werr, ErrNotFound) {
			return nil, nil
		}
		return nil, werr
	}

	seen := make(map[string]struct{})
	var out []Entry
	for _, snap := range snapshots {
		if f.Content != "" && !snapshotHas(snap, "content", string(f.Content)) {
			continue
		}
		if f.Day != "" && !snapshotHas(snap, "day", f.Day) {
			continue
		}
		data, err := s.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap("read", fmt.Sprintf("%s/snapshot/%s", s.name, snap.ID), err)
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok {
				continue
			}
			e := fromRecord(record)
			if e.Path == "" || !f.match(e) {
				continue
			}
			if _, dup := seen[e.Path]; dup {
				continue
			}
			seen[e.Path] = struct{}{}
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

// Get returns the bytes of an archived artifact.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, wrap("read", path, err)
	}
	defer iox.DiscardClose(rc)
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, wrap("read", path, err)
	}
	return b, nil
}

// snapshotHas reports whether any file in snap lies under an exact key=value
// partition segment.
func snapshotHas(snap *lode.DatasetSnapshot, key, value string) bool {
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}

func toRecord(e Entry) map[string]any {
	return map[string]any{
		"device":      e.Device,
		"day":         e.Day,
		"content":     string(e.Content),
		"channel":     e.Channel,
		"name":        e.Name,
		"path":        e.Path,
		"size":        e.Size,
		"width":       e.Width,
		"height":      e.Height,
		"checksum":    e.Checksum,
		"received_at": e.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
}

func fromRecord(r map[string]any) Entry {
	e := Entry{
		Device:   toString(r["device"]),
		Day:      toString(r["day"]),
		Content:  types.ContentKind(toString(r["content"])),
		Channel:  toString(r["channel"]),
		Name:     toString(r["name"]),
		Path:     toString(r["path"]),
		Size:     toInt64(r["size"]),
		Width:    int(toInt64(r["width"])),
		Height:   int(toInt64(r["height"])),
		Checksum: toString(r["checksum"]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, toString(r["received_at"])); err == nil {
		e.ReceivedAt = ts
	}
	return e
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
