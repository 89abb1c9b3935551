package publish

import "coffee-telemetry/internal/consumption"

// StateStore holds the latest simulated state per device id. It belongs
// to a single Loop and is not safe for concurrent use.
type StateStore struct {
	m map[string]consumption.DeviceState
}

func NewStateStore() *StateStore {
	return &StateStore{m: map[string]consumption.DeviceState{}}
}

// Get returns nil for a device that has not ticked yet.
func (s *StateStore) Get(id string) *consumption.DeviceState {
	st, ok := s.m[id]
	if !ok {
		return nil
	}
	return &st
}

func (s *StateStore) Set(id string, st consumption.DeviceState) {
	s.m[id] = st
}

func (s *StateStore) Len() int { return len(s.m) }
