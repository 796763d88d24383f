// Package state implements stable save/restore of the opaque blob
// (cycles_log, metadata_entries, lp_entries, user_settings, metrics_tuple)
// across process restarts (spec.md §4.10, §6).
//
// Uses encoding/gob (stdlib) — no third-party serialization library
// appears anywhere in the retrieved example pack; see DESIGN.md for the
// full justification of this stdlib exception.
package state

import (
	"bytes"
	"encoding/gob"

	"github.com/luxfi/geth/log"

	"github.com/luxfi/aggregator/internal/lpcache"
	"github.com/luxfi/aggregator/internal/metacache"
	"github.com/luxfi/aggregator/internal/metrics"
	"github.com/luxfi/aggregator/internal/usersettings"
)

// Blob is the full persisted layout.
type Blob struct {
	CyclesLog       []string
	MetadataEntries []metacache.StableEntry
	LPEntries       []lpcache.StableEntry
	UserSettings    []usersettings.StableEntry
	Metrics         metrics.Snapshot
}

// Save serializes blob to bytes. Restore(Save(blob)) round-trips exactly
// (spec.md §8 "Stable round-trip").
func Save(blob Blob) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blob); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Restore deserializes a previously-saved blob. The blob is decoded as one
// unit: a decode failure yields an empty Blob, so every component starts
// empty, not only the one that failed; startup is not aborted.
func Restore(data []byte) Blob {
	var blob Blob
	if len(data) == 0 {
		return blob
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blob); err != nil {
		log.Warn("stable state restore failed, starting with empty state", "err", err)
		return Blob{}
	}
	return blob
}
