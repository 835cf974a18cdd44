package usecase

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"PollPulse/internal/domain/models"
	domrepo "PollPulse/internal/domain/repository"
	"PollPulse/internal/service/stream"
	applogger "PollPulse/pkg/logger"
)

// DefaultReconnectDelay is the fixed backoff between a transport failure and
// the next attempt.
const DefaultReconnectDelay = 3 * time.Second

// StatsListener receives every snapshot fanned out by the manager. Each call
// gets its own copy.
type StatsListener func(models.StatsSnapshot)

// Listener is a registration handle; pointer identity is the removal key.
type Listener struct {
	fn     StatsListener
	active atomic.Bool
}

// StreamManager keeps at most one transport open, for the most recently
// requested poll, and fans its events out to every registered listener.
//
// A failed transport is replaced after a fixed delay, indefinitely, until
// Disconnect or a Connect to another poll. Every transport and timer
// callback carries the generation it was created in; callbacks from an older
// generation are ignored, so nothing fires for a superseded transport.
//
// Transports are opened and closed with mu held, so a Transport's Close must
// not call back into its handlers.
type StreamManager struct {
	newTransport stream.Factory
	delay        time.Duration
	log          *applogger.Logger
	metrics      domrepo.Metrics

	mu        sync.Mutex
	pollID    models.PollID
	transport stream.Transport
	connected bool
	gen       uint64
	timer     *time.Timer
	listeners []*Listener
}

// ManagerOption configures StreamManager.
type ManagerOption func(*StreamManager)

func WithReconnectDelay(d time.Duration) ManagerOption {
	return func(m *StreamManager) {
		if d > 0 {
			m.delay = d
		}
	}
}

func WithManagerLogger(l *applogger.Logger) ManagerOption {
	return func(m *StreamManager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithManagerMetrics(mt domrepo.Metrics) ManagerOption {
	return func(m *StreamManager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// NewStreamManager creates an idle manager. One instance is shared by every
// view of the process.
func NewStreamManager(factory stream.Factory, opts ...ManagerOption) *StreamManager {
	m := &StreamManager{
		newTransport: factory,
		delay:        DefaultReconnectDelay,
		log:          applogger.Nop(),
		metrics:      domrepo.NopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(applogger.String("component", "stream_manager"))
	return m
}

// Connect streams pollID. It is a no-op when a transport for the same poll is
// already open or dialing; otherwise the current transport and any pending
// reconnect are dropped and a new transport is opened.
func (m *StreamManager) Connect(pollID models.PollID) error {
	if !pollID.Valid() {
		return models.ErrInvalidPollID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pollID == pollID && m.transport != nil {
		return nil
	}
	m.resetLocked()
	m.pollID = pollID
	if err := m.openLocked(); err != nil {
		m.pollID = 0
		return err
	}
	return nil
}

// Disconnect closes the transport and cancels any pending reconnect.
// Listeners stay registered. Safe to call any number of times.
func (m *StreamManager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pollID != 0 {
		m.log.Debug("stream disconnect", applogger.Int64("poll_id", int64(m.pollID)))
	}
	m.resetLocked()
	m.pollID = 0
}

// Close is Disconnect; it lets the manager sit in a shutdown list.
func (m *StreamManager) Close() error {
	m.Disconnect()
	return nil
}

// resetLocked invalidates every outstanding callback and releases the
// transport and the timer.
func (m *StreamManager) resetLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.transport != nil {
		_ = m.transport.Close()
		m.transport = nil
	}
	if m.connected {
		m.connected = false
		m.metrics.SetStreamConnected(false)
	}
}

func (m *StreamManager) openLocked() error {
	m.gen++
	gen, id := m.gen, m.pollID

	t := m.newTransport()
	t.OnOpen(func() { m.handleOpen(gen) })
	t.OnEvent(stream.EventInitial, func(b []byte) { m.handleEvent(gen, stream.EventInitial, b) })
	t.OnEvent(stream.EventUpdate, func(b []byte) { m.handleEvent(gen, stream.EventUpdate, b) })
	t.OnError(func(err error) { m.handleError(gen, err) })

	if err := t.Open(id); err != nil {
		_ = t.Close()
		return fmt.Errorf("open stream for poll %d: %w", id, err)
	}
	m.transport = t
	m.log.Debug("stream connecting", applogger.Int64("poll_id", int64(id)))
	return nil
}

func (m *StreamManager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *StreamManager) handleOpen(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.markConnectedLocked()
	m.log.Info("stream connected", applogger.Int64("poll_id", int64(m.pollID)))
}

func (m *StreamManager) markConnectedLocked() {
	if !m.connected {
		m.connected = true
		m.metrics.SetStreamConnected(true)
	}
}

func (m *StreamManager) handleEvent(gen uint64, name string, data []byte) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.markConnectedLocked()
	id := m.pollID
	listeners := m.listeners
	m.mu.Unlock()

	var s models.StatsSnapshot
	err := json.Unmarshal(data, &s)
	if err == nil {
		err = s.Validate()
	}
	if err != nil {
		m.metrics.RecordStreamEvent(name, "malformed")
		m.log.Warn("dropping malformed stream event",
			applogger.String("event", name),
			applogger.Int64("poll_id", int64(id)),
			applogger.Error(err),
		)
		return
	}
	if s.PollID == 0 {
		s.PollID = id
	}
	if s.PollID != id {
		m.metrics.RecordStreamEvent(name, "stale")
		m.log.Warn("dropping event for another poll",
			applogger.Int64("poll_id", int64(id)),
			applogger.Int64("payload_poll_id", int64(s.PollID)),
		)
		return
	}
	m.metrics.RecordStreamEvent(name, "applied")

	s = s.WithPercentages()
	for _, l := range listeners {
		if !l.active.Load() {
			continue
		}
		// a listener may have disconnected or switched polls
		if !m.current(gen) {
			return
		}
		l.fn(s.Clone())
	}
}

func (m *StreamManager) handleError(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}

	m.resetLocked()
	m.scheduleLocked()
	m.log.Warn("stream failed, reconnect scheduled",
		applogger.Int64("poll_id", int64(m.pollID)),
		applogger.Duration("delay_ms", m.delay),
		applogger.Error(err),
	)
}

// scheduleLocked arms a single reconnect attempt after the fixed delay.
func (m *StreamManager) scheduleLocked() {
	next := m.gen
	m.timer = time.AfterFunc(m.delay, func() { m.reconnect(next) })
	m.metrics.RecordReconnect()
}

func (m *StreamManager) reconnect(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.pollID == 0 {
		return
	}
	m.timer = nil
	if err := m.openLocked(); err != nil {
		m.resetLocked()
		m.scheduleLocked()
		m.log.Warn("stream reconnect failed, retry scheduled",
			applogger.Int64("poll_id", int64(m.pollID)),
			applogger.Duration("delay_ms", m.delay),
			applogger.Error(err),
		)
	}
}

// AddListener registers fn. Listeners added while idle receive nothing until
// a stream is connected.
func (m *StreamManager) AddListener(fn StatsListener) *Listener {
	l := &Listener{fn: fn}
	l.active.Store(true)

	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]*Listener, 0, len(m.listeners)+1)
	next = append(next, m.listeners...)
	m.listeners = append(next, l)
	return l
}

// RemoveListener unregisters l. It is safe to call from inside a listener;
// a removed listener gets no further events, including the remainder of a
// fan-out in progress.
func (m *StreamManager) RemoveListener(l *Listener) {
	if l == nil {
		return
	}
	l.active.Store(false)

	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]*Listener, 0, len(m.listeners))
	for _, x := range m.listeners {
		if x != l {
			next = append(next, x)
		}
	}
	m.listeners = next
}

// PollID returns the poll being streamed, 0 when idle.
func (m *StreamManager) PollID() models.PollID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollID
}

// Connected reports whether the current transport is open.
func (m *StreamManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *StreamManager) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

func (m *StreamManager) reconnectPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}
