package track

import (
	"context"
	"sync"
	"testing"
	"time"

	"raksha.dev/sosclient/internal/gate"
	"raksha.dev/sosclient/internal/geo"
	"raksha.dev/sosclient/internal/subject"
)

type fakeSource struct {
	mu    sync.Mutex
	perm  geo.Permission
	fix   geo.Fix
	err   error
	delay time.Duration
	reads int
}

func (f *fakeSource) Permission(ctx context.Context) geo.Permission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perm
}

func (f *fakeSource) Current(ctx context.Context) (geo.Fix, error) {
	f.mu.Lock()
	delay, fix, err := f.delay, f.fix, f.err
	f.reads++
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return geo.Fix{}, err
	}
	return fix, nil
}

func (f *fakeSource) set(fix geo.Fix, err error) {
	f.mu.Lock()
	f.fix, f.err = fix, err
	f.mu.Unlock()
}

type memCache struct {
	mu    sync.Mutex
	fix   *geo.Fix
	saves int
}

func (c *memCache) Load() (geo.Fix, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fix == nil {
		return geo.Fix{}, false
	}
	return *c.fix, true
}

func (c *memCache) Save(fix geo.Fix) {
	c.mu.Lock()
	c.fix = &fix
	c.saves++
	c.mu.Unlock()
}

type fakeRoster struct {
	cands []gate.Candidate
}

func (r *fakeRoster) Devices(ctx context.Context) ([]gate.Candidate, error) {
	return r.cands, nil
}

type fakePub struct {
	mu    sync.Mutex
	calls [][]string
	fixes []geo.Fix
}

func (p *fakePub) PublishAll(ctx context.Context, ids []string, fix geo.Fix) int {
	p.mu.Lock()
	p.calls = append(p.calls, ids)
	p.fixes = append(p.fixes, fix)
	p.mu.Unlock()
	return len(ids)
}

func (p *fakePub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type subjectBox struct {
	mu  sync.Mutex
	sub subject.Context
}

func (b *subjectBox) get() subject.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sub
}

func (b *subjectBox) set(s subject.Context) {
	b.mu.Lock()
	b.sub = s
	b.mu.Unlock()
}

func newTestTracker(src *fakeSource, box *subjectBox, cands []gate.Candidate, interval time.Duration) (*Tracker, *memCache, *fakePub) {
	cache := &memCache{}
	pub := &fakePub{}
	t := New(Config{
		Source:    src,
		Cache:     cache,
		Roster:    &fakeRoster{cands: cands},
		Publisher: pub,
		Subject:   box.get,
		Interval:  interval,
	})
	return t, cache, pub
}

func userBox() *subjectBox {
	return &subjectBox{sub: subject.Context{Role: subject.RoleUser, Authenticated: true}}
}

func TestNonUserNeverStartsTracking(t *testing.T) {
	for _, role := range []subject.Role{subject.RolePolice, subject.RoleHospital, subject.RoleAdmin, subject.RoleSuperadmin} {
		src := &fakeSource{perm: geo.Granted}
		box := &subjectBox{sub: subject.Context{Role: role, Authenticated: true}}
		tr, _, _ := newTestTracker(src, box, nil, 5*time.Millisecond)
		tr.StartTracking()
		if _, tracking := tr.Status(); tracking {
			t.Errorf("role %s armed a timer", role)
		}
		tr.Dispose()
	}
}

func TestUnsupportedPlatform(t *testing.T) {
	src := &fakeSource{perm: geo.Unavailable}
	tr, _, _ := newTestTracker(src, userBox(), nil, time.Minute)
	if err := tr.RequestPermission(context.Background()); err != geo.ErrUnsupported {
		t.Errorf("got %v", err)
	}
	tr.StartTracking()
	if _, tracking := tr.Status(); tracking {
		t.Error("tracking armed in unavailable state")
	}
}

func TestRequestPermissionDeniedThenRetry(t *testing.T) {
	src := &fakeSource{perm: geo.Prompt, err: geo.ErrPermissionDenied}
	tr, cache, pub := newTestTracker(src, userBox(), []gate.Candidate{{DeviceID: "D1", Status: gate.StatusOnline}}, time.Minute)

	if err := tr.RequestPermission(context.Background()); err == nil {
		t.Fatal("expected denial")
	}
	if status, _ := tr.Status(); status != geo.Denied {
		t.Fatalf("status %v", status)
	}

	// denied is not terminal: an explicit retry may still succeed
	src.set(geo.Fix{Latitude: 12.9, Longitude: 77.6, CapturedAt: 1}, nil)
	if err := tr.RequestPermission(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if status, _ := tr.Status(); status != geo.Granted {
		t.Fatalf("status %v", status)
	}
	if cache.saves != 1 {
		t.Errorf("cache saves = %d", cache.saves)
	}
	if pub.count() != 1 {
		t.Errorf("publish count = %d", pub.count())
	}
}

func TestRequestPermissionTransientFailure(t *testing.T) {
	src := &fakeSource{perm: geo.Prompt, err: geo.ErrTimeout}
	tr, _, _ := newTestTracker(src, userBox(), nil, time.Minute)
	if err := tr.RequestPermission(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	// timeout must not move the state machine
	if status, _ := tr.Status(); status != geo.Prompt {
		t.Errorf("status %v", status)
	}
}

func TestTickPublishesOnlineDevicesOnly(t *testing.T) {
	src := &fakeSource{perm: geo.Granted}
	acc := 5.0
	src.set(geo.Fix{Latitude: 12.9, Longitude: 77.6, Accuracy: &acc, CapturedAt: 10}, nil)
	cands := []gate.Candidate{
		{DeviceID: "D1", Status: gate.StatusOnline},
		{DeviceID: "D2", Status: gate.StatusOffline},
	}
	tr, cache, pub := newTestTracker(src, userBox(), cands, 10*time.Millisecond)
	tr.StartTracking()
	defer tr.Dispose()

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.count() < 2 {
		t.Fatal("no publishes observed")
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	for _, ids := range pub.calls {
		if len(ids) != 1 || ids[0] != "D1" {
			t.Errorf("gated ids = %v", ids)
		}
	}
	if pub.fixes[0].Latitude != 12.9 || pub.fixes[0].Longitude != 77.6 {
		t.Errorf("fix = %+v", pub.fixes[0])
	}
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.saves == 0 {
		t.Error("fix not mirrored into cache")
	}
}

func TestTransientReadFailureKeepsPolling(t *testing.T) {
	src := &fakeSource{perm: geo.Granted, err: geo.ErrPositionUnavailable}
	tr, _, pub := newTestTracker(src, userBox(), []gate.Candidate{{DeviceID: "D1", Status: gate.StatusOnline}}, 10*time.Millisecond)
	tr.StartTracking()
	defer tr.Dispose()

	time.Sleep(50 * time.Millisecond)
	if _, tracking := tr.Status(); !tracking {
		t.Fatal("transient error stopped the timer")
	}
	if tr.LastError() == nil {
		t.Error("error not recorded")
	}

	// recovery on a later tick
	src.set(geo.Fix{Latitude: 1, Longitude: 2, CapturedAt: 3}, nil)
	deadline := time.Now().Add(2 * time.Second)
	for pub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.count() == 0 {
		t.Error("polling did not recover after transient failure")
	}
}

func TestStartTrackingIdempotent(t *testing.T) {
	src := &fakeSource{perm: geo.Granted}
	src.set(geo.Fix{Latitude: 1, Longitude: 1, CapturedAt: 1}, nil)
	tr, _, pub := newTestTracker(src, userBox(), []gate.Candidate{{DeviceID: "D1", Status: gate.StatusOnline}}, 10*time.Millisecond)
	tr.StartTracking()
	tr.StartTracking()
	tr.StartTracking()

	tr.StopTracking()
	tr.StopTracking()
	time.Sleep(30 * time.Millisecond)
	n := pub.count()
	// a leaked duplicate timer would keep publishing after the stop
	time.Sleep(50 * time.Millisecond)
	if pub.count() != n {
		t.Errorf("publishes after stop: %d -> %d", n, pub.count())
	}
}

func TestPermissionRevocationForcesStop(t *testing.T) {
	src := &fakeSource{perm: geo.Granted}
	src.set(geo.Fix{Latitude: 1, Longitude: 1, CapturedAt: 1}, nil)
	tr, _, _ := newTestTracker(src, userBox(), nil, time.Minute)
	tr.StartTracking()
	if _, tracking := tr.Status(); !tracking {
		t.Fatal("not tracking")
	}
	tr.OnPermissionChange(geo.Denied)
	status, tracking := tr.Status()
	if status != geo.Denied || tracking {
		t.Errorf("status=%v tracking=%v", status, tracking)
	}
}

func TestRoleChangeForcesStop(t *testing.T) {
	src := &fakeSource{perm: geo.Granted}
	src.set(geo.Fix{Latitude: 1, Longitude: 1, CapturedAt: 1}, nil)
	box := userBox()
	tr, _, _ := newTestTracker(src, box, nil, 10*time.Millisecond)
	tr.StartTracking()

	box.set(subject.Context{Role: subject.RolePolice, Authenticated: true})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, tracking := tr.Status(); !tracking {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("tracking survived a role change")
}

func TestAuthLossForcesStop(t *testing.T) {
	src := &fakeSource{perm: geo.Granted}
	src.set(geo.Fix{Latitude: 1, Longitude: 1, CapturedAt: 1}, nil)
	box := userBox()
	tr, _, _ := newTestTracker(src, box, nil, 10*time.Millisecond)
	tr.StartTracking()

	box.set(subject.Context{Role: subject.RoleUser, Authenticated: false})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, tracking := tr.Status(); !tracking {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("tracking survived auth loss")
}

func TestInFlightFixDiscardedAfterStop(t *testing.T) {
	src := &fakeSource{perm: geo.Granted, delay: 80 * time.Millisecond}
	src.set(geo.Fix{Latitude: 9, Longitude: 9, CapturedAt: 9}, nil)
	tr, cache, pub := newTestTracker(src, userBox(), []gate.Candidate{{DeviceID: "D1", Status: gate.StatusOnline}}, time.Minute)
	tr.StartTracking()
	time.Sleep(10 * time.Millisecond) // immediate cycle now in flight
	tr.StopTracking()

	time.Sleep(150 * time.Millisecond)
	if pub.count() != 0 {
		t.Errorf("late fix published %d times", pub.count())
	}
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.saves != 0 {
		t.Error("late fix written to cache")
	}
}

func TestCachePrimedAtStartup(t *testing.T) {
	src := &fakeSource{perm: geo.Prompt}
	cache := &memCache{}
	cache.Save(geo.Fix{Latitude: 3, Longitude: 4, CapturedAt: 5})
	cache.saves = 0
	tr := New(Config{
		Source:    src,
		Cache:     cache,
		Roster:    &fakeRoster{},
		Publisher: &fakePub{},
		Subject:   userBox().get,
	})
	fix, ok := tr.LastKnown()
	if !ok || fix.CapturedAt != 5 {
		t.Errorf("got %+v ok=%v", fix, ok)
	}
}
