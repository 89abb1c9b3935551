package fleet

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffee-telemetry/internal/telemetry"
)

func TestStore_UpsertAndGet(t *testing.T) {
	s := NewStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Upsert(telemetry.Envelope{DeviceID: "A", TotalCups: 1, TotalBeansUsage: 12}, t0)
	d := s.Upsert(telemetry.Envelope{DeviceID: "A", TotalCups: 2, TotalBeansUsage: 30}, t0.Add(time.Second))

	assert.Equal(t, int64(2), d.TotalCups)
	assert.Equal(t, uint64(2), d.Messages)
	assert.Equal(t, t0, d.FirstSeen)
	assert.Equal(t, t0.Add(time.Second), d.LastSeen)

	got, ok := s.Get("A")
	require.True(t, ok)
	assert.Equal(t, d, got)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_ListSorted(t *testing.T) {
	s := NewStore()
	now := time.Now()
	for _, id := range []string{"c", "a", "b"} {
		s.Upsert(telemetry.Envelope{DeviceID: id}, now)
	}
	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].DeviceID)
	assert.Equal(t, "b", list[1].DeviceID)
	assert.Equal(t, "c", list[2].DeviceID)
	assert.Equal(t, 3, s.Len())
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewStore()
	s.Upsert(telemetry.Envelope{DeviceID: "A", TotalCups: 1}, time.Now())

	snap := s.Snapshot()
	snap["A"] = telemetry.Envelope{DeviceID: "A", TotalCups: 99}
	snap["B"] = telemetry.Envelope{DeviceID: "B"}

	again := s.Snapshot()
	assert.Equal(t, int64(1), again["A"].TotalCups)
	assert.Len(t, again, 1)
}

func TestStore_SubscribeCoalesces(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)

	for i := 0; i < 5; i++ {
		s.Upsert(telemetry.Envelope{DeviceID: "A", TotalCups: int64(i)}, time.Now())
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no change signal")
	}
	select {
	case <-ch:
		t.Fatal("signals were not coalesced")
	default:
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestStore_ConcurrentUpsert(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Upsert(telemetry.Envelope{DeviceID: "A", TotalCups: int64(j)}, time.Now())
			}
		}()
	}
	wg.Wait()

	d, ok := s.Get("A")
	require.True(t, ok)
	assert.Equal(t, uint64(800), d.Messages)
}

func TestStore_UpsertSnapshotIsConsistent(t *testing.T) {
	s := NewStore()
	now := time.Now()

	_, snap1, v1 := s.UpsertSnapshot(telemetry.Envelope{DeviceID: "A", TotalCups: 1}, now)
	d, snap2, v2 := s.UpsertSnapshot(telemetry.Envelope{DeviceID: "B", TotalCups: 4}, now)

	assert.Equal(t, "B", d.DeviceID)
	assert.Less(t, v1, v2)
	assert.Len(t, snap1, 1)
	assert.Equal(t, Snapshot{
		"A": {DeviceID: "A", TotalCups: 1},
		"B": {DeviceID: "B", TotalCups: 4},
	}, snap2)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("m-%d", i)
			_, snap, _ := s.UpsertSnapshot(telemetry.Envelope{DeviceID: id, TotalCups: int64(i)}, now)
			assert.Contains(t, snap, id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 34, s.Len())
}
