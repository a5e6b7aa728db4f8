package main

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunFailsOnMissingConfig(t *testing.T) {
	logger := log.New(os.Stderr, "", 0)
	err := run(filepath.Join(t.TempDir(), "nonexistent.yaml"), logger)
	assert.Error(t, err)
}
