// Package config loads the ledgers/dex endpoint tables from the config
// file, overlays process-environment overrides, and watches that file for
// hot reload (spec.md §4.1, §6). The pool description file is loaded by
// internal/poolreg, not by this package, and is not watched.
//
// Grounded on the teacher's (github.com/luxfi/evm) direct requires
// github.com/spf13/viper and github.com/fsnotify/fsnotify — viper's
// WatchConfig wires fsnotify internally, which is the documented idiom for
// this exact dependency pair.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/luxfi/geth/log"
	"github.com/spf13/viper"

	"github.com/luxfi/aggregator/internal/domain"
)

// Table is the parsed, env-overridden endpoint table for one config
// section ([ledgers] or [dex]).
type Table map[string]domain.EndpointID

// Snapshot is one fully-loaded configuration generation.
type Snapshot struct {
	Ledgers        Table
	Dex            Table
	DexControllers map[string]string
	Generation     uint64
}

// Loader reads the tabular config file and keeps the latest Snapshot,
// re-parsing on file-system change events.
type Loader struct {
	mu       sync.RWMutex
	v        *viper.Viper
	path     string
	snapshot Snapshot
	gen      uint64

	onReload []func(Snapshot)
}

// NewLoader constructs a Loader for the given TOML config path. The file
// may be missing: per spec.md §4.1 failure semantics, a missing or
// malformed file yields an empty table, not a fatal error, because
// adapters are discovered dynamically.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	return &Loader{v: v, path: path}
}

// OnReload registers a callback invoked after every successful reload
// (including the first Load). Used by the resolver and adapter registry to
// clear their own caches per spec.md §4.1's "Hot reload" rule.
func (l *Loader) OnReload(fn func(Snapshot)) {
	l.mu.Lock()
	l.onReload = append(l.onReload, fn)
	l.mu.Unlock()
}

// Load parses the config file once and stores the resulting Snapshot.
func (l *Loader) Load() Snapshot {
	snap := l.parse()

	l.mu.Lock()
	l.gen++
	snap.Generation = l.gen
	l.snapshot = snap
	callbacks := append([]func(Snapshot){}, l.onReload...)
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(snap)
	}
	return snap
}

// Watch starts an fsnotify-driven watch on the config file; on write/create
// events it re-runs Load and fires the registered reload callbacks.
// Grounded on viper.WatchConfig's documented use of fsnotify.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		log.Info("config file changed, reloading", "path", e.Name)
		l.Load()
	})
	l.v.WatchConfig()
}

// Current returns the most recently loaded Snapshot.
func (l *Loader) Current() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

func (l *Loader) parse() Snapshot {
	snap := Snapshot{
		Ledgers:        Table{},
		Dex:            Table{},
		DexControllers: map[string]string{},
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			log.Warn("config file missing, running with no adapters", "path", l.path)
			return snap
		}
		log.Warn("config file malformed, running with no adapters", "path", l.path, "err", err)
		return snap
	}

	for name, raw := range l.v.GetStringMapString("ledgers") {
		if id, ok := parseEndpointID(raw); ok {
			snap.Ledgers[strings.ToUpper(name)] = id
		}
	}
	for name, raw := range l.v.GetStringMapString("dex") {
		if id, ok := parseEndpointID(raw); ok {
			snap.Dex[strings.ToUpper(name)] = id
		}
	}
	for name, raw := range l.v.GetStringMapString("dex_controllers") {
		snap.DexControllers[strings.ToUpper(name)] = raw
	}

	applyEnvOverrides(snap.Ledgers)
	applyEnvOverrides(snap.Dex)

	return snap
}

// parseEndpointID validates the raw endpoint-id string has its own
// (trivial, non-empty) grammar; malformed entries are rejected per
// spec.md §4.1.
func parseEndpointID(raw string) (domain.EndpointID, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	return domain.EndpointID(trimmed), true
}

// applyEnvOverrides replaces any table entry whose key matches a known
// environment variable name, emitting a warning per spec.md §4.1.
func applyEnvOverrides(t Table) {
	for name := range t {
		if v, ok := os.LookupEnv(name); ok {
			if id, ok := parseEndpointID(v); ok {
				log.Warn("endpoint overridden by environment", "name", name)
				t[name] = id
			}
		}
	}
}

// Error returned when a config path is required but empty.
var ErrNoPath = fmt.Errorf("config: no path configured")
