// Package ingest connects to the upstream trade/quote WebSocket feed and
// exposes parsed frames on channels, reconnecting with backoff on failure.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// underlyingQuotePrefix marks index-level quotes (e.g. "I:SPX") that
// populate the underlying spot rather than an option's own NBBO.
const underlyingQuotePrefix = "I:"

// Frame is a decoded wire message: either a trade ("T") or a quote ("Q").
type Frame struct {
	Event  string  `json:"ev"`
	Symbol string  `json:"sym"`
	Price  float64 `json:"p,omitempty"`
	Size   int64   `json:"s,omitempty"`
	Bid    float64 `json:"bp,omitempty"`
	Ask    float64 `json:"ap,omitempty"`
	Time   int64   `json:"t"`
}

// IsTrade reports whether this frame is a trade tick.
func (f Frame) IsTrade() bool { return f.Event == "T" }

// IsQuote reports whether this frame is an NBBO update.
func (f Frame) IsQuote() bool { return f.Event == "Q" }

// IsUnderlyingQuote reports whether this frame is an index-level quote
// carrying the underlying spot rather than an option's own NBBO.
func (f Frame) IsUnderlyingQuote() bool {
	return f.IsQuote() && strings.HasPrefix(f.Symbol, underlyingQuotePrefix)
}

// Stream is a single WebSocket connection to the upstream feed. It mirrors
// the connect/readLoop/Messages/Errors/Close shape of a typical streaming
// market-data client, generalized from a single-vendor quote stream to
// this feed's trade+quote frame format.
type Stream struct {
	url      string
	header   http.Header
	symbols  []string

	mu       sync.Mutex
	conn     *websocket.Conn
	running  bool
	messages chan Frame
	errors   chan error
	done     chan struct{}
}

// NewStream creates a Stream for url, authenticated via header, that will
// subscribe to symbols once connected. capacity bounds the messages channel
// so a slow consumer applies backpressure instead of growing memory
// without limit.
func NewStream(url string, header http.Header, symbols []string, capacity int) *Stream {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Stream{
		url:      url,
		header:   header,
		symbols:  symbols,
		messages: make(chan Frame, capacity),
		errors:   make(chan error, 16),
		done:     make(chan struct{}),
	}
}

// Connect dials the feed, sends the initial subscribe message, and starts
// the read loop. Batching is the caller's
// responsibility via Subscribe; Connect subscribes to everything in one
// shot for simplicity at startup.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return fmt.Errorf("ingest: dialing %s: %w", s.url, err)
	}

	s.conn = conn
	s.running = true
	s.done = make(chan struct{})

	if len(s.symbols) > 0 {
		if err := s.subscribe(s.symbols); err != nil {
			_ = s.conn.Close()
			s.running = false
			return err
		}
	}

	go s.readLoop()
	return nil
}

func (s *Stream) subscribe(symbols []string) error {
	msg := map[string]interface{}{"action": "subscribe", "symbols": symbols}
	return s.conn.WriteJSON(msg)
}

// Subscribe adds symbols to the live subscription, or buffers them if the
// stream hasn't connected yet.
func (s *Stream) Subscribe(symbols ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.symbols = append(s.symbols, symbols...)
		return nil
	}
	if err := s.subscribe(symbols); err != nil {
		return err
	}
	s.symbols = append(s.symbols, symbols...)
	return nil
}

// Messages returns the channel of decoded trade/quote frames.
func (s *Stream) Messages() <-chan Frame { return s.messages }

// Errors returns the channel of read and frame-decode errors. A read error
// ends the read loop, after which the channel is closed and the caller
// should Close and reconnect; a decode error skips that one frame and the
// connection keeps reading.
func (s *Stream) Errors() <-chan error { return s.errors }

func (s *Stream) readLoop() {
	defer close(s.errors)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.errors <- fmt.Errorf("ingest: read: %w", err):
			default:
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			select {
			case s.errors <- fmt.Errorf("ingest: decode: %w", err):
			default:
			}
			continue
		}

		select {
		case s.messages <- frame:
		default:
			// Backpressure policy: drop the oldest buffered frame to make
			// room rather than block the read loop on a full channel.
			select {
			case <-s.messages:
			default:
			}
			select {
			case s.messages <- frame:
			default:
			}
		}
	}
}

// Close tears down the connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	close(s.done)
	s.running = false
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// IsConnected reports whether the stream currently has a live connection.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
