// Package fleet keeps the latest reading of every coffee machine seen by
// the gateway.
package fleet

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"coffee-telemetry/internal/telemetry"
)

type Device struct {
	DeviceID        string    `json:"device_id"`
	TotalCups       int64     `json:"total_cups"`
	TotalBeansUsage int64     `json:"total_beans_usage"`
	Messages        uint64    `json:"messages"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

func (d Device) Envelope() telemetry.Envelope {
	return telemetry.Envelope{
		DeviceID:        d.DeviceID,
		TotalCups:       d.TotalCups,
		TotalBeansUsage: d.TotalBeansUsage,
	}
}

// Snapshot is the aggregated mapping forwarded to cloud sinks.
type Snapshot map[string]telemetry.Envelope

type Store struct {
	mu      sync.RWMutex
	byID    map[string]*Device
	version uint64

	subMu sync.Mutex
	subs  map[int64]chan struct{}
	subID atomic.Int64
}

func NewStore() *Store {
	return &Store{
		byID: map[string]*Device{},
		subs: map[int64]chan struct{}{},
	}
}

// Upsert records the latest reading for e.DeviceID. Readings replace
// the previous values as-is; the store does not enforce monotonic
// counters because a restarted simulator starts again from zero.
func (s *Store) Upsert(e telemetry.Envelope, now time.Time) Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(e, now)
}

// UpsertSnapshot is Upsert followed by Snapshot under one lock. The
// returned version grows with every write, so callers can order
// snapshots taken by concurrent writers.
func (s *Store) UpsertSnapshot(e telemetry.Envelope, now time.Time) (Device, Snapshot, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.upsertLocked(e, now)
	return d, s.snapshotLocked(), s.version
}

func (s *Store) upsertLocked(e telemetry.Envelope, now time.Time) Device {
	d := s.byID[e.DeviceID]
	if d == nil {
		d = &Device{DeviceID: e.DeviceID, FirstSeen: now}
		s.byID[e.DeviceID] = d
	}
	d.TotalCups = e.TotalCups
	d.TotalBeansUsage = e.TotalBeansUsage
	d.Messages++
	d.LastSeen = now
	s.version++

	s.notifyLocked()
	return *d
}

func (s *Store) Get(id string) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// List returns copies sorted by device id.
func (s *Store) List() []Device {
	s.mu.RLock()
	out := make([]Device, 0, len(s.byID))
	for _, d := range s.byID {
		out = append(out, *d)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	out := make(Snapshot, len(s.byID))
	for id, d := range s.byID {
		out[id] = d.Envelope()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Subscribe emits a signal (coalesced) when the store changes.
func (s *Store) Subscribe(ctx context.Context) <-chan struct{} {
	id := s.subID.Add(1)
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	s.subs[id] = ch
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, id)
		close(ch)
		s.subMu.Unlock()
	}()

	return ch
}

func (s *Store) notifyLocked() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
