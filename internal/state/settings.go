package state

import (
	"maps"
	"math"
	"sync/atomic"
	"time"
)

// Settings is an immutable set of named intervals, in seconds, received
// from the remote controller.
type Settings struct {
	values  map[string]float64
	Updated time.Time
}

// Get returns the raw value for key.
func (s *Settings) Get(key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.values[key]
	return v, ok
}

// Values returns a copy of all settings.
func (s *Settings) Values() map[string]float64 {
	if s == nil {
		return map[string]float64{}
	}
	return maps.Clone(s.values)
}

// SettingsStore publishes Settings snapshots. Writers replace the whole
// set; readers never see a partial update.
type SettingsStore struct {
	current atomic.Pointer[Settings]
}

// Replace installs a new snapshot built from values. The map is copied.
func (s *SettingsStore) Replace(values map[string]float64) {
	s.current.Store(&Settings{values: maps.Clone(values), Updated: time.Now()})
}

// Load returns the current snapshot, or nil before the first Replace.
func (s *SettingsStore) Load() *Settings {
	return s.current.Load()
}

// Interval returns the named interval when it is set to a positive, finite
// number of seconds, and def otherwise.
func (s *SettingsStore) Interval(key string, def time.Duration) time.Duration {
	v, ok := s.Load().Get(key)
	if !ok || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return def
	}
	return time.Duration(v * float64(time.Second))
}
