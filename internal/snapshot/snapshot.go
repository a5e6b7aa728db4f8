// Package snapshot loads the startup chain snapshot. The engine uses only
// its underlying price, as a fallback spot; the subscribed symbol universe
// comes from configuration, not from the snapshot rows. The producer
// of this snapshot (a periodic Parquet export) is out of scope for this
// repository; JSON is the stand-in wire format it consumes here.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
)

// Row is one contract's state as of the snapshot timestamp.
type Row struct {
	Strike   float64 `json:"strike"`
	Right    string  `json:"right"` // "C" | "P"
	Bid      float64 `json:"bid"`
	Ask      float64 `json:"ask"`
	IV       float64 `json:"iv"`
	Gamma    float64 `json:"gamma"`
	UnderPx  float64 `json:"under_px"`
	Expiry   string  `json:"expiry"`
}

// Snapshot is the full startup feed: every row plus the underlying price it
// was captured at.
type Snapshot struct {
	Rows    []Row   `json:"rows"`
	UnderPx float64 `json:"under_px"`
}

// Loader reads a Snapshot from a JSON file.
type Loader struct{}

// NewLoader creates a Loader.
func NewLoader() *Loader { return &Loader{} }

// Load parses the snapshot at path.
func (l *Loader) Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator-configured
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: reading %q: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: parsing %q: %w", path, err)
	}
	return snap, nil
}
