// Package bridge accepts transfer fragments over a WebSocket connection.
//
// Each binary message carries one fragment: a channel byte (0 image,
// 1 animation) followed by the raw write exactly as the wireless link would
// deliver it. Only one sender is served at a time; fragments from two senders
// would interleave within a session.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pithecene-io/pixelport/log"
	"github.com/pithecene-io/pixelport/metrics"
	"github.com/pithecene-io/pixelport/types"
)

// Sink receives fragments from the bridge. Submit may block until the host
// loop accepts the fragment or ctx is done.
type Sink interface {
	Submit(ctx context.Context, f types.Fragment) error
}

// Defaults.
const (
	DefaultAddr            = ":8787"
	DefaultPath            = "/ws"
	DefaultMaxMessageBytes = 64 * 1024
	DefaultIdleTimeout     = 60 * time.Second
	DefaultPingInterval    = 25 * time.Second
)

const writeWait = 10 * time.Second

// Config configures the bridge listener.
type Config struct {
	Addr            string        `yaml:"addr"`
	Path            string        `yaml:"path"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
}

// DefaultConfig returns the default listener settings.
func DefaultConfig() Config {
	return Config{
		Addr:            DefaultAddr,
		Path:            DefaultPath,
		MaxMessageBytes: DefaultMaxMessageBytes,
		IdleTimeout:     DefaultIdleTimeout,
		PingInterval:    DefaultPingInterval,
	}
}

// Validate checks the listener settings.
func (c Config) Validate() error {
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("bridge: path must start with /, got %q", c.Path)
	}
	if c.MaxMessageBytes < 2 {
		return fmt.Errorf("bridge: max message bytes must be at least 2, got %d", c.MaxMessageBytes)
	}
	if c.IdleTimeout < 0 || c.PingInterval < 0 {
		return errors.New("bridge: timeouts must not be negative")
	}
	if c.IdleTimeout > 0 && c.PingInterval >= c.IdleTimeout {
		return errors.New("bridge: ping interval must be shorter than the idle timeout")
	}
	return nil
}

// Options configures optional collaborators.
type Options struct {
	Logger  *log.Logger
	Metrics *metrics.Collector
	// Health, if set, backs /healthz: a non-nil error reports 503.
	Health func() error
}

// Server serves the bridge endpoint.
type Server struct {
	config   Config
	sink     Sink
	logger   *log.Logger
	metrics  *metrics.Collector
	health   func() error
	upgrader websocket.Upgrader
	active   atomic.Bool
}

// New creates a bridge server delivering fragments to sink.
func New(config Config, sink Sink, opts Options) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errors.New("bridge: sink is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Server{
		config:  config,
		sink:    sink,
		logger:  logger,
		metrics: opts.Metrics,
		health:  opts.Health,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Handler returns the HTTP handler serving the endpoint and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if s.health != nil {
			if err := s.health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// ListenAndServe serves until ctx is done, then shuts the listener down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.config.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("bridge listening", map[string]any{"addr": addr, "path": s.config.Path})

	select {
	case err := <-errCh:
		return fmt.Errorf("bridge: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("bridge shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge: %w", err)
	}
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if !s.active.CompareAndSwap(false, true) {
		http.Error(w, "another sender is connected", http.StatusConflict)
		return
	}
	defer s.active.Store(false)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("bridge upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	defer func() { _ = conn.Close() }()

	s.metrics.IncBridgeConnection()
	remote := r.RemoteAddr
	s.logger.Info("bridge sender connected", map[string]any{"remote": remote})

	conn.SetReadLimit(s.config.MaxMessageBytes)
	var writeMu sync.Mutex
	if s.config.IdleTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		})
	}
	if s.config.PingInterval > 0 {
		stopPing := make(chan struct{})
		defer close(stopPing)
		go func() {
			ticker := time.NewTicker(s.config.PingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-stopPing:
					return
				case <-ticker.C:
					writeMu.Lock()
					_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
					writeMu.Unlock()
				}
			}
		}()
	}

	forwarded := 0
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.logger.Info("bridge idle timeout", map[string]any{"remote": remote})
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("bridge read error", map[string]any{"remote": remote, "error": err.Error()})
			}
			break
		}
		if s.config.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}

		frag, err := Decode(messageType, message)
		if err != nil {
			s.metrics.IncBridgeRejected()
			s.logger.Debug("bridge message rejected", map[string]any{"error": err.Error(), "size": len(message)})
			continue
		}
		if err := s.sink.Submit(r.Context(), frag); err != nil {
			s.logger.Warn("bridge submit failed", map[string]any{"error": err.Error()})
			writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "host stopped"), time.Now().Add(writeWait))
			writeMu.Unlock()
			break
		}
		s.metrics.IncBridgeMessage()
		forwarded++
	}
	s.logger.Info("bridge sender disconnected", map[string]any{"remote": remote, "fragments": forwarded})
}

// ErrMalformed is returned by Decode for messages that carry no fragment.
var ErrMalformed = errors.New("bridge: malformed message")

// Decode parses one bridge message into a fragment.
func Decode(messageType int, message []byte) (types.Fragment, error) {
	if messageType != websocket.BinaryMessage {
		return types.Fragment{}, fmt.Errorf("%w: not a binary message", ErrMalformed)
	}
	if len(message) < 2 {
		return types.Fragment{}, fmt.Errorf("%w: %d bytes", ErrMalformed, len(message))
	}
	ch := types.Channel(message[0])
	if !ch.Valid() {
		return types.Fragment{}, fmt.Errorf("%w: unknown channel %d", ErrMalformed, message[0])
	}
	return types.Fragment{Channel: ch, Data: message[1:]}, nil
}

// Encode frames a fragment as a bridge message payload.
func Encode(f types.Fragment) []byte {
	out := make([]byte, 0, len(f.Data)+1)
	out = append(out, byte(f.Channel))
	return append(out, f.Data...)
}
