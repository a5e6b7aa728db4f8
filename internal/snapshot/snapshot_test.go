package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	body := `{"under_px": 5000.5, "rows": [
		{"strike": 5000, "right": "C", "bid": 10.0, "ask": 10.5, "iv": 0.2, "gamma": 0.002, "under_px": 5000.5, "expiry": "260130"}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	l := NewLoader()
	snap, err := l.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5000.5, snap.UnderPx)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, "C", snap.Rows[0].Right)
}

func TestLoadMissingFile(t *testing.T) {
	l := NewLoader()
	_, err := l.Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	l := NewLoader()
	_, err := l.Load(path)
	assert.Error(t, err)
}
