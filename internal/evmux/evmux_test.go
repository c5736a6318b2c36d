package evmux

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type scriptConn struct {
	frames chan Frame
}

func (c *scriptConn) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case f, ok := <-c.frames:
		if !ok {
			return Frame{}, errors.New("connection lost")
		}
		return f, nil
	}
}

func (c *scriptConn) Close() error { return nil }

// scriptDialer hands out one scripted connection per dial.
type scriptDialer struct {
	mu    sync.Mutex
	conns []*scriptConn
	dials int
}

func (d *scriptDialer) dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dials >= len(d.conns) {
		return nil, errors.New("no more scripted connections")
	}
	c := d.conns[d.dials]
	d.dials++
	return c, nil
}

func (d *scriptDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestLazySingleConnection(t *testing.T) {
	d := &scriptDialer{conns: []*scriptConn{{frames: make(chan Frame)}}}
	m := New(d.dial)
	defer m.Close()

	if d.dialCount() != 0 {
		t.Fatal("dialed before first subscription")
	}
	m.On(EventAlert, func(json.RawMessage) {})
	m.On(EventAccident, func(json.RawMessage) {})
	m.On(EventTelemetry, func(json.RawMessage) {})
	waitFor(t, func() bool { return m.Connected() })
	if d.dialCount() != 1 {
		t.Errorf("dials = %d", d.dialCount())
	}
}

func TestDispatchInRegistrationOrder(t *testing.T) {
	c := &scriptConn{frames: make(chan Frame, 1)}
	d := &scriptDialer{conns: []*scriptConn{c}}
	m := New(d.dial)
	defer m.Close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		m.On(EventAlert, func(json.RawMessage) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	waitFor(t, func() bool { return m.Connected() })
	c.frames <- Frame{Event: EventAlert, Data: json.RawMessage(`{"id":1}`)}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	})
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestUnsubscribeRemovesExactlyOne(t *testing.T) {
	c := &scriptConn{frames: make(chan Frame, 4)}
	d := &scriptDialer{conns: []*scriptConn{c}}
	m := New(d.dial)
	defer m.Close()

	var a, b atomic.Int64
	unsubA := m.On(EventDeviceState, func(json.RawMessage) { a.Add(1) })
	m.On(EventDeviceState, func(json.RawMessage) { b.Add(1) })
	waitFor(t, func() bool { return m.Connected() })

	c.frames <- Frame{Event: EventDeviceState}
	waitFor(t, func() bool { return a.Load() == 1 && b.Load() == 1 })

	unsubA()
	unsubA() // invoking the capability twice is harmless
	c.frames <- Frame{Event: EventDeviceState}
	waitFor(t, func() bool { return b.Load() == 2 })
	if a.Load() != 1 {
		t.Errorf("removed handler fired again, a=%d", a.Load())
	}
}

func TestNoHandlerNoBuffering(t *testing.T) {
	c := &scriptConn{frames: make(chan Frame, 2)}
	d := &scriptDialer{conns: []*scriptConn{c}}
	m := New(d.dial)
	defer m.Close()

	m.On(EventTelemetry, func(json.RawMessage) {})
	waitFor(t, func() bool { return m.Connected() })

	// delivered with no subscriber: dropped, not replayed later
	c.frames <- Frame{Event: EventAlert}
	waitFor(t, func() bool { return len(c.frames) == 0 })
	time.Sleep(10 * time.Millisecond)

	var n atomic.Int64
	m.On(EventAlert, func(json.RawMessage) { n.Add(1) })
	c.frames <- Frame{Event: EventAlert}
	waitFor(t, func() bool { return n.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if n.Load() != 1 {
		t.Errorf("late subscriber saw buffered frame, n=%d", n.Load())
	}
}

func TestReconnectKeepsSubscriptions(t *testing.T) {
	c1 := &scriptConn{frames: make(chan Frame, 1)}
	c2 := &scriptConn{frames: make(chan Frame, 1)}
	d := &scriptDialer{conns: []*scriptConn{c1, c2}}
	m := New(d.dial)
	defer m.Close()

	var got atomic.Int64
	var transitions atomic.Int64
	m.On(EventAccident, func(json.RawMessage) { got.Add(1) })
	m.OnState(func(connected bool) { transitions.Add(1) })

	waitFor(t, func() bool { return m.Connected() })
	c1.frames <- Frame{Event: EventAccident}
	waitFor(t, func() bool { return got.Load() == 1 })

	close(c1.frames) // drop the transport
	waitFor(t, func() bool { return d.dialCount() == 2 && m.Connected() })

	c2.frames <- Frame{Event: EventAccident}
	waitFor(t, func() bool { return got.Load() == 2 })
	// observer saw connect, disconnect, reconnect
	if transitions.Load() < 3 {
		t.Errorf("transitions = %d", transitions.Load())
	}
}

func TestSameEventManyIndependentConsumers(t *testing.T) {
	c := &scriptConn{frames: make(chan Frame, 2)}
	d := &scriptDialer{conns: []*scriptConn{c}}
	m := New(d.dial)
	defer m.Close()

	var a, b, x atomic.Int64
	m.On(EventAlert, func(json.RawMessage) { a.Add(1) })
	unsubB := m.On(EventAlert, func(json.RawMessage) { b.Add(1) })
	m.On(EventAlert, func(json.RawMessage) { x.Add(1) })
	waitFor(t, func() bool { return m.Connected() })

	c.frames <- Frame{Event: EventAlert}
	waitFor(t, func() bool { return a.Load() == 1 && b.Load() == 1 && x.Load() == 1 })

	unsubB()
	c.frames <- Frame{Event: EventAlert}
	waitFor(t, func() bool { return a.Load() == 2 && x.Load() == 2 })
	if b.Load() != 1 {
		t.Errorf("b = %d", b.Load())
	}
}
