package publish

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffee-telemetry/internal/consumption"
	"coffee-telemetry/internal/telemetry"
)

type message struct {
	topic   string
	payload []byte
}

type recorder struct {
	mu   sync.Mutex
	msgs []message
	fail map[string]bool
}

func (r *recorder) Publish(topic string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[topic] {
		return errors.New("not connected")
	}
	r.msgs = append(r.msgs, message{topic: topic, payload: payload})
	return nil
}

func (r *recorder) snapshot() []message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message(nil), r.msgs...)
}

func newLoop(t *testing.T, ids []string, pub Publisher) (*Loop, *StateStore) {
	t.Helper()
	m, err := consumption.New(consumption.DefaultParams(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	states := NewStateStore()
	l, err := New(Config{BaseTopic: "base", DeviceIDs: ids, Interval: 10 * time.Millisecond}, m, pub, states, nil)
	require.NoError(t, err)
	return l, states
}

func TestTick_OneMessagePerDeviceTopic(t *testing.T) {
	rec := &recorder{}
	l, states := newLoop(t, []string{"A", "B"}, rec)

	l.Tick()

	msgs := rec.snapshot()
	require.Len(t, msgs, 2)
	seen := map[string]int{}
	for _, m := range msgs {
		seen[m.topic]++
		var env telemetry.Envelope
		require.NoError(t, json.Unmarshal(m.payload, &env))
		assert.Equal(t, strings.TrimPrefix(m.topic, "base/"), env.DeviceID)
		assert.Equal(t, *states.Get(env.DeviceID), env.State())
	}
	assert.Equal(t, map[string]int{"base/A": 1, "base/B": 1}, seen)
}

func TestTick_CountersNeverDecrease(t *testing.T) {
	rec := &recorder{}
	l, _ := newLoop(t, []string{"A"}, rec)
	for i := 0; i < 100; i++ {
		l.Tick()
	}
	var prev telemetry.Envelope
	for _, m := range rec.snapshot() {
		var env telemetry.Envelope
		require.NoError(t, json.Unmarshal(m.payload, &env))
		require.GreaterOrEqual(t, env.TotalCups, prev.TotalCups)
		require.GreaterOrEqual(t, env.TotalBeansUsage, prev.TotalBeansUsage)
		prev = env
	}
}

func TestTick_PublishFailureDoesNotStopOthers(t *testing.T) {
	rec := &recorder{fail: map[string]bool{"base/A": true}}
	l, states := newLoop(t, []string{"A", "B"}, rec)

	l.Tick()

	msgs := rec.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "base/B", msgs[0].topic)
	assert.NotNil(t, states.Get("A"), "state advances even when publish fails")
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	rec := &recorder{}
	l, _ := newLoop(t, []string{"A"}, rec)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_Validation(t *testing.T) {
	m, err := consumption.New(consumption.DefaultParams(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	_, err = New(Config{}, m, &recorder{}, NewStateStore(), nil)
	assert.Error(t, err, "empty device list")

	_, err = New(Config{DeviceIDs: []string{"A"}}, nil, &recorder{}, NewStateStore(), nil)
	assert.Error(t, err)

	l, err := New(Config{DeviceIDs: []string{"A"}}, m, &recorder{}, NewStateStore(), nil)
	require.NoError(t, err)
	assert.Equal(t, telemetry.DefaultBaseTopic, l.cfg.BaseTopic)
	assert.Equal(t, DefaultInterval, l.cfg.Interval)
}

func TestStateStore(t *testing.T) {
	s := NewStateStore()
	assert.Nil(t, s.Get("A"))
	s.Set("A", consumption.DeviceState{TotalCups: 1})
	got := s.Get("A")
	require.NotNil(t, got)
	got.TotalCups = 99
	assert.Equal(t, int64(1), s.Get("A").TotalCups, "Get returns a copy")
	assert.Equal(t, 1, s.Len())
}
