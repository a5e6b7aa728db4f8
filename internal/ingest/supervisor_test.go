package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResubscribeBatchedDelaysBetweenBatches(t *testing.T) {
	symbols := make([]string, 120)
	for i := range symbols {
		symbols[i] = "SYM"
	}

	s := &Supervisor{symbols: symbols, subscribeBatch: 50}
	stream := NewStream("wss://example.invalid", nil, nil, 8)

	start := time.Now()
	err := s.resubscribeBatched(context.Background(), stream)
	elapsed := time.Since(start)

	require.NoError(t, err)
	// 120 symbols at 50/batch is 3 batches, 2 inter-batch delays.
	assert.GreaterOrEqual(t, elapsed, 2*interBatchDelay)
}

func TestResubscribeBatchedStopsOnContextCancel(t *testing.T) {
	symbols := make([]string, 150)
	for i := range symbols {
		symbols[i] = "SYM"
	}

	s := &Supervisor{symbols: symbols, subscribeBatch: 50}
	stream := NewStream("wss://example.invalid", nil, nil, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.resubscribeBatched(ctx, stream)
	assert.ErrorIs(t, err, context.Canceled)
}
