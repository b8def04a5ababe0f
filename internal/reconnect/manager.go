package reconnect

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"propsync-service/internal/breaker"
	"propsync-service/internal/config"
	"propsync-service/internal/logger"
	"propsync-service/internal/netmon"
	"propsync-service/internal/notify"
)

// Probe checks whether the remote store is reachable. It must respect ctx
// cancellation; the manager imposes no timeout of its own.
type Probe func(ctx context.Context) bool

// Manager owns the retry schedule for re-establishing remote connectivity.
// It backs off exponentially with jitter between failed probes, reacts to
// network edges, and resets the circuit breaker once a probe verifies the
// store is healthy again.
type Manager struct {
	cfg  config.ReconnectConfig
	brk  *breaker.Breaker
	net  *netmon.Notifier
	sink notify.Sink

	mu          sync.Mutex
	probe       Probe
	attempts    int
	delay       time.Duration
	timer       *time.Timer
	probing     bool
	started     bool
	stopped     bool
	lastSuccess time.Time
	rng         *rand.Rand

	onReconnected func()
	onExhausted   func()

	ctx    context.Context
	cancel context.CancelFunc
	events chan netmon.Event
	wg     sync.WaitGroup
}

type Status struct {
	Attempts     int           `json:"attempts"`
	CurrentDelay time.Duration `json:"currentDelay"`
	LastSuccess  time.Time     `json:"lastSuccess,omitempty"`
	Probing      bool          `json:"probing"`
}

func NewManager(cfg config.ReconnectConfig, brk *breaker.Breaker, net *netmon.Notifier, sink notify.Sink) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		brk:    brk,
		net:    net,
		sink:   sink,
		delay:  cfg.InitialDelay,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnReconnected registers the callback invoked after a successful probe.
// Must be called before Start.
func (m *Manager) SetOnReconnected(fn func()) {
	m.onReconnected = fn
}

// SetOnExhausted registers the terminal-failure callback fired when
// MaxAttempts is reached. Must be called before Start.
func (m *Manager) SetOnExhausted(fn func()) {
	m.onExhausted = fn
}

// Start begins the probe schedule if the network is currently online.
func (m *Manager) Start(probe Probe) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.probe = probe
	m.events = m.net.Subscribe()

	if m.net.IsOnline() {
		m.scheduleLocked(m.delay, true)
	}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.eventLoop()

	logger.Log.Info("Reconnection manager started",
		zap.Duration("initialDelay", m.cfg.InitialDelay),
		zap.Duration("maxDelay", m.cfg.MaxDelay),
		zap.Float64("backoffFactor", m.cfg.BackoffFactor),
	)
}

// ForceReconnect cancels any pending schedule, resets the backoff, and runs
// a probe right away. Used for explicit "retry now" actions; it probes even
// when the network signal still says offline, since the probe itself is the
// ground truth.
func (m *Manager) ForceReconnect() {
	m.mu.Lock()
	if m.stopped || m.probe == nil {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.delay = m.cfg.InitialDelay
	m.cancelTimerLocked()
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runProbe(true)
	}()
}

// Stop cancels all timers and unregisters listeners. Safe to call multiple
// times.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.cancelTimerLocked()
	events := m.events
	m.mu.Unlock()

	m.cancel()
	if events != nil {
		m.net.Unsubscribe(events)
	}
	m.wg.Wait()

	logger.Log.Info("Reconnection manager stopped")
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Attempts:     m.attempts,
		CurrentDelay: m.delay,
		LastSuccess:  m.lastSuccess,
		Probing:      m.probing,
	}
}

func (m *Manager) eventLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-m.events:
			if !ok {
				return
			}
			switch ev {
			case netmon.EventOnline:
				m.handleOnline()
			case netmon.EventOffline:
				m.handleOffline()
			}
		}
	}
}

// handleOnline replaces whatever was scheduled with a probe after a short
// stabilization delay. Probing the instant the interface flaps back up
// tends to race the network actually carrying traffic.
func (m *Manager) handleOnline() {
	m.sink.ConnectionChanged(true)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.scheduleLocked(m.cfg.StabilizationDelay, false)
}

// handleOffline cancels pending schedules. An in-flight probe is left to
// resolve; its result is still bookkept, but no follow-up is scheduled until
// the next online edge.
func (m *Manager) handleOffline() {
	m.sink.ConnectionChanged(false)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
}

// scheduleLocked arms the probe timer. Callers must hold m.mu.
func (m *Manager) scheduleLocked(d time.Duration, jitter bool) {
	m.cancelTimerLocked()
	if jitter {
		d = m.jittered(d)
	}
	m.timer = time.AfterFunc(d, func() {
		m.runProbe(false)
	})
}

func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// grow advances the backoff delay, capped at MaxDelay.
func (m *Manager) grow(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * m.cfg.BackoffFactor)
	if d > m.cfg.MaxDelay {
		d = m.cfg.MaxDelay
	}
	return d
}

// jittered perturbs d by up to ±JitterFraction·d so that many clients
// recovering from the same outage do not retry in lockstep.
func (m *Manager) jittered(d time.Duration) time.Duration {
	jf := m.cfg.JitterFraction
	if jf <= 0 {
		return d
	}
	offset := (m.rng.Float64()*2 - 1) * jf * float64(d)
	return time.Duration(float64(d) + offset)
}

func (m *Manager) runProbe(force bool) {
	m.mu.Lock()
	if m.stopped || m.probing || m.probe == nil {
		m.mu.Unlock()
		return
	}
	if !force && !m.net.IsOnline() {
		// Went offline between scheduling and firing; wait for the edge.
		m.mu.Unlock()
		return
	}
	m.probing = true
	probe := m.probe
	m.mu.Unlock()

	ok := probe(m.ctx)

	m.mu.Lock()
	m.probing = false
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if ok {
		m.handleSuccessLocked()
	} else {
		m.handleFailureLocked()
	}
}

// handleSuccessLocked resets the schedule, closes the breaker, and arms the
// low-frequency re-check timer. Called with m.mu held; releases it.
func (m *Manager) handleSuccessLocked() {
	m.attempts = 0
	m.delay = m.cfg.InitialDelay
	m.lastSuccess = time.Now()

	// Trust but verify: re-probe after a long quiet interval.
	if m.net.IsOnline() && m.cfg.ResetInterval > 0 {
		m.scheduleLocked(m.cfg.ResetInterval, false)
	}
	cb := m.onReconnected
	m.mu.Unlock()

	// The probe has verified health; no point waiting out the cooldown.
	m.brk.Reset()
	m.sink.ReconnectSucceeded()
	if cb != nil {
		cb()
	}
}

// handleFailureLocked grows the backoff and schedules the next attempt, or
// surfaces terminal failure once MaxAttempts is reached. Called with m.mu
// held; releases it.
func (m *Manager) handleFailureLocked() {
	m.attempts++
	attempt := m.attempts
	m.delay = m.grow(m.delay)

	if m.cfg.MaxAttempts > 0 && m.attempts >= m.cfg.MaxAttempts {
		cb := m.onExhausted
		m.mu.Unlock()
		m.sink.ReconnectFailed(attempt)
		m.sink.ReconnectExhausted(attempt)
		if cb != nil {
			cb()
		}
		return
	}

	online := m.net.IsOnline()
	delay := m.delay
	if online {
		m.scheduleLocked(delay, true)
	}
	m.mu.Unlock()

	m.sink.ReconnectFailed(attempt)
	if online {
		m.sink.ReconnectScheduled(attempt+1, delay)
	}
}
