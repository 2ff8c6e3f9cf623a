/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package store implements the Shared Store (spec.md §3, §4.B): a
// thread-safe in-memory projection of the last-known value of every
// configured (device, metric) pair, plus upstream health state. It is the
// sole rendezvous between the Poller and the OPC UA binding.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fieldwire/lorawan-opcua-gateway/pkg/models"
)

// ErrUnknownKey is returned by Get/Set when the (device, metric) pair was
// not part of the Config snapshot at startup (I1).
var ErrUnknownKey = errors.New("unknown device/metric key")

// ErrKindMismatch is returned by Set when the value's tag does not match
// the metric's declared kind.
var ErrKindMismatch = errors.New("value kind does not match declared kind")

// Key identifies one Store entry: a device and its upstream metric name.
// The OPC UA binding's address space is keyed by MetricAlias, but the
// Store itself is keyed by the upstream MetricName (spec.md §3) — the
// binding resolves each alias to its upstream name from Config once, when
// it builds the address space.
type Key struct {
	DeviceID   string
	MetricName string
}

type entry struct {
	mu         sync.RWMutex
	kind       models.Kind
	value      models.Value
	set        bool
	observedAt time.Time
}

// Store is the concurrent map of last-known values plus upstream health.
// The entries map itself is read without a lock: it is filled once in New
// and never written afterwards (I1). Each entry has its own RWMutex so
// Get/Set on different keys never contend (I2).
type Store struct {
	entries map[Key]*entry

	healthMu sync.RWMutex
	health   models.Health
}

// New constructs a Store with exactly one entry per configured metric
// (I1). Entries are unset (Option::None) until the first successful poll
// writes them (I3).
func New(cfg *models.GatewayConfig) *Store {
	s := &Store{entries: make(map[Key]*entry)}

	for _, app := range cfg.Applications {
		for _, dev := range app.Devices {
			for _, m := range dev.Metrics {
				key := Key{DeviceID: dev.DeviceID, MetricName: m.MetricName}
				s.entries[key] = &entry{kind: m.Kind}
			}
		}
	}

	s.health.LastProbeAt = time.Now()

	return s
}

// Get returns the current value for key, or ok=false if it has never been
// populated. It fails with ErrUnknownKey if key was not part of the
// configured topology.
func (s *Store) Get(key Key) (value models.Value, ok bool, err error) {
	e, found := s.entries[key]
	if !found {
		return models.Value{}, false, fmt.Errorf("%w: %s/%s", ErrUnknownKey, key.DeviceID, key.MetricName)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.set {
		return models.Zero(e.kind), false, nil
	}

	return e.value, true, nil
}

// Set overwrites the entry for key. It never creates new entries (I1) and
// never clears an existing value on failure — a rejected Set simply
// returns an error and leaves the prior value untouched (I3).
func (s *Store) Set(key Key, value models.Value) error {
	e, found := s.entries[key]
	if !found {
		return fmt.Errorf("%w: %s/%s", ErrUnknownKey, key.DeviceID, key.MetricName)
	}

	if value.Kind != e.kind {
		return fmt.Errorf("%w: %s/%s wants %s, got %s", ErrKindMismatch, key.DeviceID, key.MetricName, e.kind, value.Kind)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.value = value
	e.set = true
	e.observedAt = time.Now()

	return nil
}

// DeclaredKind returns the declared kind for key, or ok=false if key was
// not part of the configured topology.
func (s *Store) DeclaredKind(key Key) (models.Kind, bool) {
	e, found := s.entries[key]
	if !found {
		return "", false
	}

	return e.kind, true
}

// ObservedAt returns the time of the most recent successful Set for key, or
// ok=false if it has never been populated. The OPC UA binding uses this as
// a variable's source_timestamp (spec.md §4.D).
func (s *Store) ObservedAt(key Key) (t time.Time, ok bool) {
	e, found := s.entries[key]
	if !found {
		return time.Time{}, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.observedAt, e.set
}

// SetHealth updates the upstream liveness record (I4: only called by the
// Poller's liveness probe, never by individual metric-fetch failures).
func (s *Store) SetHealth(reachable bool, rtt time.Duration) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	s.health = models.Health{
		UpstreamReachable: reachable,
		LastRoundTrip:     rtt,
		LastProbeAt:       time.Now(),
	}
}

// GetHealth returns a copy of the current health record.
func (s *Store) GetHealth() models.Health {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()

	return s.health
}

// KeyCount reports the number of keys in the Store — used by tests to
// verify P1 (key stability).
func (s *Store) KeyCount() int {
	return len(s.entries)
}
