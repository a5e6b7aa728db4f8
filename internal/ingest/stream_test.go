package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTradeServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Drain the subscribe message, then push one trade frame.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteJSON(Frame{Event: "T", Symbol: "SPXW260130C05000000", Price: 10.5, Size: 3, Time: 1})
		time.Sleep(50 * time.Millisecond)
	}))
}

func TestConnectReceivesFrame(t *testing.T) {
	srv := echoTradeServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	s := NewStream(wsURL, nil, []string{"SPXW260130C05000000"}, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx))
	defer s.Close()

	select {
	case f := <-s.Messages():
		assert.True(t, f.IsTrade())
		assert.Equal(t, "SPXW260130C05000000", f.Symbol)
	case err := <-s.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestFrameIsTradeIsQuote(t *testing.T) {
	trade := Frame{Event: "T"}
	quote := Frame{Event: "Q"}
	assert.True(t, trade.IsTrade())
	assert.False(t, trade.IsQuote())
	assert.True(t, quote.IsQuote())
	assert.False(t, quote.IsTrade())
}

func TestFrameIsUnderlyingQuote(t *testing.T) {
	underlying := Frame{Event: "Q", Symbol: "I:SPX"}
	option := Frame{Event: "Q", Symbol: "SPXW260130C05000000"}
	trade := Frame{Event: "T", Symbol: "I:SPX"}

	assert.True(t, underlying.IsUnderlyingQuote())
	assert.False(t, option.IsUnderlyingQuote())
	assert.False(t, trade.IsUnderlyingQuote(), "a trade on the index symbol is not an underlying quote")
}

func TestNewStreamDefaultsCapacity(t *testing.T) {
	s := NewStream("wss://example.invalid", nil, nil, 0)
	assert.Equal(t, 4096, cap(s.messages))
}

func TestConnectFailureReturnsError(t *testing.T) {
	s := NewStream("ws://127.0.0.1:1/does-not-exist", nil, nil, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := s.Connect(ctx)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "dialing") || err != nil)
}

func TestCloseIsIdempotentWhenNeverConnected(t *testing.T) {
	s := NewStream("ws://127.0.0.1:1/x", nil, nil, 1)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.False(t, s.IsConnected())
}
