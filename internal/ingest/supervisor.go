package ingest

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/eddiefleurent/dealer-gamma-engine/internal/resilience"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/retry"
)

// Supervisor owns a Stream's lifecycle: it connects, forwards frames and
// errors to the caller, and reconnects with exponential backoff + jitter
// on failure, re-subscribing in batches once reconnected.
type Supervisor struct {
	url             string
	header          http.Header
	symbols         []string
	capacity        int
	subscribeBatch  int
	backoff         *retry.Backoff
	dialer          *resilience.CircuitBreakerDialer
	logger          *log.Logger

	messages chan Frame
	stream   *Stream
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	URL              string
	Header           http.Header
	Symbols          []string
	ChannelCapacity  int
	SubscribeBatch   int
	ReconnectInitial time.Duration
	ReconnectCap     time.Duration
	Logger           *log.Logger
}

// NewSupervisor builds a Supervisor from cfg.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	capacity := cfg.ChannelCapacity
	if capacity <= 0 {
		capacity = 4096
	}
	batch := cfg.SubscribeBatch
	if batch <= 0 {
		batch = 50
	}

	s := &Supervisor{
		url:            cfg.URL,
		header:         cfg.Header,
		symbols:        cfg.Symbols,
		capacity:       capacity,
		subscribeBatch: batch,
		backoff:        retry.NewBackoff(cfg.ReconnectInitial, cfg.ReconnectCap, 2.0),
		logger:         logger,
		messages:       make(chan Frame, capacity),
	}
	s.dialer = resilience.NewCircuitBreakerDialer(s.dialOnce)
	return s
}

// interBatchDelay throttles batched resubscription after a reconnect, per
// the reconnect supervisor's documented cadence.
const interBatchDelay = 50 * time.Millisecond

func (s *Supervisor) dialOnce(ctx context.Context) error {
	stream := NewStream(s.url, s.header, nil, s.capacity)
	if err := stream.Connect(ctx); err != nil {
		return err
	}
	s.stream = stream
	return s.resubscribeBatched(ctx, stream)
}

func (s *Supervisor) resubscribeBatched(ctx context.Context, stream *Stream) error {
	for start := 0; start < len(s.symbols); start += s.subscribeBatch {
		end := start + s.subscribeBatch
		if end > len(s.symbols) {
			end = len(s.symbols)
		}
		if err := stream.Subscribe(s.symbols[start:end]...); err != nil {
			return err
		}
		if end >= len(s.symbols) {
			break
		}
		select {
		case <-time.After(interBatchDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Messages returns the channel on which every frame from every connection
// this supervisor has owned is delivered.
func (s *Supervisor) Messages() <-chan Frame { return s.messages }

// Run drives the connect/forward/reconnect loop until ctx is canceled. It
// never returns except on context cancellation, matching the always-on
// nature of the ingest task.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.dialer.Dial(ctx); err != nil {
			s.logger.Printf("ingest: connect failed: %v", err)
			if !s.sleepBackoff(ctx) {
				return ctx.Err()
			}
			continue
		}

		s.backoff.Reset()
		stream := s.stream
		if !s.forward(ctx, stream) {
			return ctx.Err()
		}
		if !s.sleepBackoff(ctx) {
			return ctx.Err()
		}
	}
}

// forward drains one connection's messages and errors into the
// supervisor's output channel until it fails or ctx is canceled. Returns
// false if the caller should stop entirely (context canceled).
func (s *Supervisor) forward(ctx context.Context, stream *Stream) bool {
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			return false
		case frame, ok := <-stream.Messages():
			if !ok {
				return true
			}
			select {
			case s.messages <- frame:
			case <-ctx.Done():
				return false
			}
		case err, ok := <-stream.Errors():
			if ok {
				s.logger.Printf("ingest: stream error: %v", err)
			}
			return true
		}
	}
}

func (s *Supervisor) sleepBackoff(ctx context.Context) bool {
	delay := s.backoff.Next()
	s.logger.Printf("ingest: reconnecting in %v", delay)
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
