package gammastore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendCreatesAndWritesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "gamma.log")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Append(context.Background(), 1.0, 123.45))
	require.NoError(t, sink.Append(context.Background(), 2.0, -67.8))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1,123.45\n2,-67.8\n", string(data))
}

func TestAppendRespectsCanceledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gamma.log")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = sink.Append(ctx, 1.0, 1.0)
	assert.Error(t, err)
}
