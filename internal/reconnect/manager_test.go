package reconnect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propsync-service/internal/breaker"
	"propsync-service/internal/config"
	"propsync-service/internal/netmon"
	"propsync-service/internal/notify"
)

type recordingSink struct {
	notify.NopSink
	mu        sync.Mutex
	scheduled []time.Duration
	succeeded chan struct{}
	exhausted chan int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		succeeded: make(chan struct{}, 16),
		exhausted: make(chan int, 1),
	}
}

func (s *recordingSink) ReconnectScheduled(attempt int, delay time.Duration) {
	s.mu.Lock()
	s.scheduled = append(s.scheduled, delay)
	s.mu.Unlock()
}

func (s *recordingSink) ReconnectSucceeded() {
	s.succeeded <- struct{}{}
}

func (s *recordingSink) ReconnectExhausted(attempts int) {
	select {
	case s.exhausted <- attempts:
	default:
	}
}

func (s *recordingSink) scheduledDelays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.scheduled...)
}

func testBreaker() *breaker.Breaker {
	return breaker.New(config.BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
		FailureWindow:    time.Hour,
	})
}

func fastConfig() config.ReconnectConfig {
	return config.ReconnectConfig{
		InitialDelay:       5 * time.Millisecond,
		MaxDelay:           20 * time.Millisecond,
		BackoffFactor:      2.0,
		JitterFraction:     0,
		MaxAttempts:        0,
		ResetInterval:      0,
		StabilizationDelay: 5 * time.Millisecond,
	}
}

func TestGrowthMatchesBackoffSchedule(t *testing.T) {
	m := NewManager(config.ReconnectConfig{
		InitialDelay:  1000 * time.Millisecond,
		MaxDelay:      8000 * time.Millisecond,
		BackoffFactor: 2.0,
	}, testBreaker(), netmon.NewNotifier(), notify.NopSink{})

	// Delays used for five consecutive failing attempts.
	d := m.cfg.InitialDelay
	var seen []time.Duration
	for i := 0; i < 5; i++ {
		seen = append(seen, d)
		d = m.grow(d)
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		8000 * time.Millisecond,
	}
	assert.Equal(t, want, seen)
}

func TestJitterBounds(t *testing.T) {
	m := NewManager(config.ReconnectConfig{
		InitialDelay:   time.Second,
		MaxDelay:       time.Minute,
		BackoffFactor:  2.0,
		JitterFraction: 0.25,
	}, testBreaker(), netmon.NewNotifier(), notify.NopSink{})

	for i := 0; i < 1000; i++ {
		d := m.jittered(time.Second)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}

	m.cfg.JitterFraction = 0
	assert.Equal(t, time.Second, m.jittered(time.Second))
}

func TestFailingProbeBacksOffToCap(t *testing.T) {
	sink := newRecordingSink()
	m := NewManager(fastConfig(), testBreaker(), netmon.NewNotifier(), sink)
	defer m.Stop()

	m.Start(func(context.Context) bool { return false })

	require.Eventually(t, func() bool {
		return len(sink.scheduledDelays()) >= 4
	}, 3*time.Second, 5*time.Millisecond)

	delays := sink.scheduledDelays()[:4]
	// First attempt ran at the initial delay; the reported schedule starts
	// with the first grown delay and never exceeds the cap.
	assert.Equal(t, 10*time.Millisecond, delays[0])
	assert.Equal(t, 20*time.Millisecond, delays[1])
	assert.Equal(t, 20*time.Millisecond, delays[2])
	for _, d := range delays {
		assert.LessOrEqual(t, d, 20*time.Millisecond)
	}
}

func TestSuccessResetsBreakerAndSchedule(t *testing.T) {
	sink := newRecordingSink()
	brk := testBreaker()
	net := netmon.NewNotifier()

	// Trip the breaker first.
	_ = brk.Execute(context.Background(), "probe", func(context.Context) error {
		return errors.New("down")
	})
	require.True(t, brk.IsOpen())

	reconnected := make(chan struct{}, 1)
	m := NewManager(fastConfig(), brk, net, sink)
	m.SetOnReconnected(func() { reconnected <- struct{}{} })
	defer m.Stop()

	m.Start(func(context.Context) bool { return true })

	select {
	case <-sink.succeeded:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a successful reconnect")
	}
	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("expected the reconnected callback")
	}

	assert.False(t, brk.IsOpen(), "verified probe success must reset the breaker")

	st := m.Status()
	assert.Zero(t, st.Attempts)
	assert.Equal(t, fastConfig().InitialDelay, st.CurrentDelay)
	assert.False(t, st.LastSuccess.IsZero())
}

func TestMaxAttemptsSurfacesTerminalFailure(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 3

	sink := newRecordingSink()
	m := NewManager(cfg, testBreaker(), netmon.NewNotifier(), sink)
	defer m.Stop()

	var probes int32
	m.Start(func(context.Context) bool {
		atomic.AddInt32(&probes, 1)
		return false
	})

	select {
	case attempts := <-sink.exhausted:
		assert.Equal(t, 3, attempts)
	case <-time.After(3 * time.Second):
		t.Fatal("expected exhaustion after max attempts")
	}

	// No further probes get scheduled.
	settled := atomic.LoadInt32(&probes)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, atomic.LoadInt32(&probes))
}

func TestOfflineCancelsSchedule(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = 50 * time.Millisecond

	net := netmon.NewNotifier()
	m := NewManager(cfg, testBreaker(), net, newRecordingSink())
	defer m.Stop()

	var probes int32
	m.Start(func(context.Context) bool {
		atomic.AddInt32(&probes, 1)
		return false
	})

	net.SetOnline(false)
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&probes), "no probe should fire while offline")
}

func TestOnlineEdgeProbesAfterStabilization(t *testing.T) {
	sink := newRecordingSink()
	net := netmon.NewNotifier()
	net.SetOnline(false)

	m := NewManager(fastConfig(), testBreaker(), net, sink)
	defer m.Stop()

	// Offline at start: nothing scheduled.
	m.Start(func(context.Context) bool { return true })
	time.Sleep(30 * time.Millisecond)
	select {
	case <-sink.succeeded:
		t.Fatal("probe ran while offline")
	default:
	}

	net.SetOnline(true)
	select {
	case <-sink.succeeded:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a probe after the online edge")
	}
}

func TestForceReconnectResetsBackoff(t *testing.T) {
	sink := newRecordingSink()
	m := NewManager(fastConfig(), testBreaker(), netmon.NewNotifier(), sink)
	defer m.Stop()

	var healthy int32
	m.Start(func(context.Context) bool {
		return atomic.LoadInt32(&healthy) == 1
	})

	// Let the backoff grow past the initial delay.
	require.Eventually(t, func() bool {
		return m.Status().CurrentDelay > fastConfig().InitialDelay
	}, 3*time.Second, 5*time.Millisecond)

	atomic.StoreInt32(&healthy, 1)
	m.ForceReconnect()

	select {
	case <-sink.succeeded:
	case <-time.After(3 * time.Second):
		t.Fatal("expected forced reconnect to succeed")
	}

	st := m.Status()
	assert.Zero(t, st.Attempts)
	assert.Equal(t, fastConfig().InitialDelay, st.CurrentDelay)
}

func TestStopIsIdempotent(t *testing.T) {
	m := NewManager(fastConfig(), testBreaker(), netmon.NewNotifier(), newRecordingSink())
	m.Start(func(context.Context) bool { return true })

	m.Stop()
	m.Stop()
}
