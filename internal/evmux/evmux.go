package evmux

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"raksha.dev/sosclient/internal/metrics"
)

// Domain events delivered over the shared channel.
const (
	EventDeviceState = "device-state-change"
	EventTelemetry   = "device-telemetry-update"
	EventAccident    = "accident-detected"
	EventAlert       = "alert-created"
)

// Handler receives the raw data of one inbound frame.
type Handler func(data json.RawMessage)

// Frame is one named event off the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Conn is one established transport connection.
type Conn interface {
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Dialer establishes a connection to the backend event channel.
type Dialer func(ctx context.Context) (Conn, error)

type entry struct {
	id string
	fn Handler
}

type stateEntry struct {
	id string
	fn func(connected bool)
}

// Mux owns exactly one long-lived connection and fans named events out
// to independent subscribers. The connection is dialed lazily on the
// first subscription and reused by every later one; reconnection after
// transport loss is internal and invisible to subscribers, whose
// registrations survive the drop. Frames with no registered handler
// are dropped, not buffered.
type Mux struct {
	mu        sync.Mutex
	dial      Dialer
	started   bool
	connected bool
	closed    bool
	cancel    context.CancelFunc
	handlers  map[string][]entry
	stateSubs []stateEntry
	log       log.Logger
}

func New(dial Dialer) *Mux {
	m := &Mux{dial: dial, handlers: make(map[string][]entry)}
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "evmux").Value()
	return m
}

// On registers a handler for an event name and returns a capability
// that removes exactly that handler. Handlers for one event fire in
// registration order.
func (m *Mux) On(event string, h Handler) (unsubscribe func()) {
	m.mu.Lock()
	id := uuid.NewString()
	m.handlers[event] = append(m.handlers[event], entry{id: id, fn: h})
	m.ensureStartedLocked()
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.handlers[event]
		for i := range list {
			if list[i].id == id {
				m.handlers[event] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// OnState registers a connection-state observer, called on every
// connected/disconnected transition. Derived view of the one shared
// connection, not a separate one.
func (m *Mux) OnState(fn func(connected bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := uuid.NewString()
	m.stateSubs = append(m.stateSubs, stateEntry{id: id, fn: fn})
	m.ensureStartedLocked()
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i := range m.stateSubs {
			if m.stateSubs[i].id == id {
				m.stateSubs = append(m.stateSubs[:i:i], m.stateSubs[i+1:]...)
				return
			}
		}
	}
}

func (m *Mux) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Close tears the connection down permanently.
func (m *Mux) Close() {
	m.mu.Lock()
	m.closed = true
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Mux) ensureStartedLocked() {
	if m.started || m.closed {
		return
	}
	m.started = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx)
}

func (m *Mux) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := m.dial(ctx)
		if err != nil {
			m.log.Warn().Err(err).Dur("backoff", backoff).Msg("dial failed")
			metrics.Reconnects.Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		m.setConnected(true)
		m.readAll(ctx, conn)
		conn.Close()
		m.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		metrics.Reconnects.Inc()
		m.log.Info().Msg("transport lost, reconnecting")
	}
}

func (m *Mux) readAll(ctx context.Context, conn Conn) {
	for {
		frame, err := conn.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.log.Warn().Err(err).Msg("read failed")
			}
			return
		}
		m.dispatch(frame)
	}
}

// dispatch fans one frame out synchronously, in registration order,
// against the handler set at dispatch time.
func (m *Mux) dispatch(frame Frame) {
	m.mu.Lock()
	list := m.handlers[frame.Event]
	fns := make([]Handler, len(list))
	for i, e := range list {
		fns[i] = e.fn
	}
	m.mu.Unlock()
	metrics.FramesDispatched.Inc()
	for _, fn := range fns {
		fn(frame.Data)
	}
}

func (m *Mux) setConnected(v bool) {
	m.mu.Lock()
	if m.connected == v {
		m.mu.Unlock()
		return
	}
	m.connected = v
	subs := make([]stateEntry, len(m.stateSubs))
	copy(subs, m.stateSubs)
	m.mu.Unlock()
	for _, s := range subs {
		s.fn(v)
	}
}
