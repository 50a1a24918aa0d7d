package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/wppagent/internal/bus"
	"github.com/matheus3301/wppagent/internal/events"
	"github.com/matheus3301/wppagent/internal/metrics"
	"github.com/matheus3301/wppagent/internal/status"
	"go.uber.org/zap"
)

// Vault persists session credentials and holds the key protecting them.
type Vault interface {
	Persist() error
	Erase() error
	Zero()
}

// Config tunes the Manager.
type Config struct {
	HistoryReplay bool
	Backoff       Backoff
	MaxAttempts   int
	// FlushEvery persists credentials periodically while connected; zero
	// disables it.
	FlushEvery time.Duration
}

type stopper interface{ Stop() bool }

var allStates = func() []string {
	out := make([]string, len(status.All))
	for i, s := range status.All {
		out[i] = string(s)
	}
	return out
}()

// Manager is the single owner of the protocol session.
type Manager struct {
	proto      Protocol
	vault      Vault
	dispatcher *events.Dispatcher
	machine    *status.Machine
	bus        *bus.Bus
	metrics    *metrics.Metrics
	logger     *zap.Logger
	cfg        Config

	afterFunc func(time.Duration, func()) stopper

	// ctx outlives individual Connect calls and is used for retries.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	attempts  int
	timer     stopper
	failed    bool
	stopped   bool
	loggedOut bool
	erased    bool
	lastQR    string
	flushStop context.CancelFunc
}

// NewManager wires the protocol's sink to the manager.
func NewManager(p Protocol, v Vault, d *events.Dispatcher, b *bus.Bus, mx *metrics.Metrics, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		proto:      p,
		vault:      v,
		dispatcher: d,
		machine:    status.NewMachine(b),
		bus:        b,
		metrics:    mx,
		logger:     logger,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	mx.SetConnState(string(status.Idle), allStates...)
	p.SetSink(m)
	return m
}

// Subscribe registers an observer for normalized inbound events.
func (m *Manager) Subscribe(o events.Observer) {
	m.dispatcher.Subscribe(o)
}

// State returns the current connection state.
func (m *Manager) State() status.State { return m.machine.Current() }

// StateSince returns when the current state was entered.
func (m *Manager) StateSince() time.Time { return m.machine.Since() }

// IsConnected reports whether operations are currently allowed.
func (m *Manager) IsConnected() bool { return m.machine.Current() == status.Connected }

// IsLoggedIn reports whether the protocol holds paired credentials.
func (m *Manager) IsLoggedIn() bool { return m.proto.IsLoggedIn() }

// Attempts returns the number of reconnects scheduled since the last
// successful connection.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Failed reports whether the reconnect budget was exhausted.
func (m *Manager) Failed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed
}

// LastQR returns the most recent pairing code, empty once connected.
func (m *Manager) LastQR() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQR
}

// Connect starts a session. A failed dial is returned and also schedules a
// retry, so callers may treat the error as informational.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.loggedOut {
		m.mu.Unlock()
		return ErrLoggedOut
	}
	switch m.machine.Current() {
	case status.Connected, status.Connecting:
		m.mu.Unlock()
		return nil
	}
	m.stopped = false
	m.failed = false
	m.attempts = 0
	m.stopTimerLocked()
	m.transitionLocked(status.Connecting)
	m.startFlushLocked()
	m.mu.Unlock()

	return m.dial(ctx)
}

func (m *Manager) dial(ctx context.Context) error {
	err := m.proto.Connect(ctx, ConnectOptions{HistoryReplay: m.cfg.HistoryReplay})
	if err == nil {
		return nil
	}
	m.logger.Warn("connect failed", zap.Error(err))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.machine.Current() == status.Connecting {
		m.transitionLocked(status.Disconnected)
	}
	m.scheduleRetryLocked()
	return fmt.Errorf("connect: %w", err)
}

// Disconnect tears the session down without reconnecting.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	m.stopTimerLocked()
	m.stopFlushLocked()
	m.mu.Unlock()

	m.proto.Disconnect()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.machine.Current() != status.Idle {
		m.transitionLocked(status.Idle)
	}
}

// Logout unlinks the device remotely, erases the stored credentials and
// wipes the key. The manager cannot connect again afterwards.
func (m *Manager) Logout(ctx context.Context) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	m.mu.Lock()
	m.stopped = true
	m.stopTimerLocked()
	m.stopFlushLocked()
	m.mu.Unlock()

	if err := m.proto.Logout(ctx); err != nil {
		m.mu.Lock()
		m.stopped = false
		m.startFlushLocked()
		m.mu.Unlock()
		return fmt.Errorf("logout: %w", err)
	}
	m.proto.Disconnect()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.loggedOut = true
	m.attempts = 0
	m.lastQR = ""
	if m.machine.Current() != status.Idle {
		m.transitionLocked(status.Idle)
	}
	m.erased = true
	m.cancel()
	if err := m.vault.Erase(); err != nil {
		m.logger.Error("failed to erase credentials", zap.Error(err))
	}
	m.vault.Zero()
	m.publish(bus.KindConnLoggedOut, "logout")
	return nil
}

// HandleLifecycle implements Sink.
func (m *Manager) HandleLifecycle(l Lifecycle) {
	switch l.Kind {
	case LifecycleQR:
		m.mu.Lock()
		m.lastQR = l.QR
		m.mu.Unlock()
		m.publish(bus.KindConnQR, l.QR)

	case LifecycleConnected:
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.stopped {
			return
		}
		if m.machine.Current() == status.Disconnected {
			m.transitionLocked(status.Connecting)
		}
		if m.machine.Current() == status.Connecting {
			m.transitionLocked(status.Connected)
		}
		m.attempts = 0
		m.failed = false
		m.lastQR = ""
		m.stopTimerLocked()
		m.logger.Info("connected")

	case LifecycleClosed:
		m.handleClosed(l)

	case LifecycleCredentialsChanged:
		m.persist()
	}
}

func (m *Manager) handleClosed(l Lifecycle) {
	m.mu.Lock()
	cur := m.machine.Current()
	if m.stopped || (cur != status.Connected && cur != status.Connecting) {
		m.mu.Unlock()
		return
	}
	m.transitionLocked(status.Disconnected)

	log := m.logger.With(zap.Stringer("cause", l.Cause), zap.String("reason", l.Reason))
	if !l.Cause.Terminal() {
		log.Warn("connection closed")
		m.scheduleRetryLocked()
		m.mu.Unlock()
		return
	}
	log.Warn("logged out by remote")
	m.loggedOut = true
	m.attempts = 0
	m.lastQR = ""
	m.stopTimerLocked()
	m.mu.Unlock()

	// the protocol has dropped its device keys; store that state too
	m.persist()
	m.publish(bus.KindConnLoggedOut, l.Cause.String())
}

// HandleEvent implements Sink. Events are queued for ordered delivery.
func (m *Manager) HandleEvent(e events.Event) {
	if !m.dispatcher.Push(e) {
		m.logger.Debug("event after close", zap.String("kind", e.Kind()))
	}
}

func (m *Manager) scheduleRetryLocked() {
	if m.stopped || m.loggedOut || m.timer != nil {
		return
	}
	if m.attempts >= m.cfg.MaxAttempts {
		if !m.failed {
			m.failed = true
			m.logger.Error("reconnect attempts exhausted", zap.Int("attempts", m.attempts))
			m.publish(bus.KindConnFailed, m.attempts)
		}
		return
	}
	delay := m.cfg.Backoff.Delay(m.attempts)
	m.attempts++
	m.metrics.ReconnectAttempt()
	m.logger.Info("reconnect scheduled", zap.Int("attempt", m.attempts), zap.Duration("delay", delay))
	m.publish(bus.KindConnReconnecting, m.attempts)
	m.timer = m.afterFunc(delay, m.retry)
}

func (m *Manager) retry() {
	m.mu.Lock()
	m.timer = nil
	if m.stopped || m.loggedOut || m.machine.Current() != status.Disconnected {
		m.mu.Unlock()
		return
	}
	m.transitionLocked(status.Connecting)
	m.mu.Unlock()

	_ = m.dial(m.ctx)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) transitionLocked(to status.State) {
	if err := m.machine.Transition(to); err != nil {
		m.logger.Warn("state transition rejected", zap.Error(err))
		return
	}
	m.metrics.SetConnState(string(to), allStates...)
}

// persist re-encrypts credentials. A failure is logged and the next
// credential change tries again.
func (m *Manager) persist() {
	m.mu.Lock()
	erased := m.erased
	m.mu.Unlock()
	if erased {
		return
	}
	if err := m.vault.Persist(); err != nil {
		m.metrics.CredentialPersistFailed()
		m.logger.Error("failed to persist credentials", zap.Error(err))
	}
}

// startFlushLocked starts the periodic persist loop once per Connect. Ticks
// while not connected are skipped.
func (m *Manager) startFlushLocked() {
	if m.cfg.FlushEvery <= 0 || m.flushStop != nil {
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.flushStop = cancel
	go func() {
		t := time.NewTicker(m.cfg.FlushEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if m.IsConnected() {
					m.persist()
				}
			}
		}
	}()
}

func (m *Manager) stopFlushLocked() {
	if m.flushStop != nil {
		m.flushStop()
		m.flushStop = nil
	}
}

func (m *Manager) publish(kind string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
