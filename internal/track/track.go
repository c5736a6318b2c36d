package track

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/phuslu/log"

	"raksha.dev/sosclient/internal/gate"
	"raksha.dev/sosclient/internal/geo"
	"raksha.dev/sosclient/internal/metrics"
	"raksha.dev/sosclient/internal/roster"
	"raksha.dev/sosclient/internal/subject"
)

// DefaultInterval between polling ticks.
const DefaultInterval = 20 * time.Second

// Publisher pushes an accepted fix for each gated device.
type Publisher interface {
	PublishAll(ctx context.Context, deviceIds []string, fix geo.Fix) int
}

// Cache is the persisted last-known-fix slot.
type Cache interface {
	Load() (geo.Fix, bool)
	Save(fix geo.Fix)
}

type Config struct {
	Source    geo.Source
	Cache     Cache
	Roster    roster.Client
	Publisher Publisher
	Subject   subject.Supplier
	// Interval between polling ticks; zero means DefaultInterval.
	Interval time.Duration
}

// Tracker owns the permission state and the polling loop. At most one
// polling session is active at a time; starting while active is a
// no-op. Only the end-user role may run continuous tracking.
//
// Position reads are not serialized against the timer: a slow read may
// still be in flight when the next tick fires, and each read completes
// independently against the tracking state at its own completion time.
// This tolerates consistently slow GPS hardware without starving
// updates; late results after a stop are discarded via the session
// generation counter.
type Tracker struct {
	mu       sync.Mutex
	status   geo.Permission
	tracking bool
	gen      uint64
	cur      *geo.Fix
	lastErr  error
	done     chan struct{}
	ticker   *time.Ticker

	src      geo.Source
	cache    Cache
	roster   roster.Client
	pub      Publisher
	subject  subject.Supplier
	interval time.Duration
	log      log.Logger
}

// New queries the platform permission state and primes the last known
// fix from the cache. An unusable platform pins the tracker to the
// unavailable state for the whole session.
func New(config Config) *Tracker {
	t := &Tracker{
		src:      config.Source,
		cache:    config.Cache,
		roster:   config.Roster,
		pub:      config.Publisher,
		subject:  config.Subject,
		interval: config.Interval,
	}
	if t.interval == 0 {
		t.interval = DefaultInterval
	}
	t.log = log.DefaultLogger
	t.log.Context = log.NewContext(nil).Str("module", "track").Value()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.status = t.src.Permission(ctx)
	if fix, ok := t.cache.Load(); ok {
		t.cur = &fix
	}
	t.log.Info().Str("permission", t.status.String()).Msg("tracker initialized")
	return t
}

// Status reports the permission state and whether polling is active.
func (t *Tracker) Status() (geo.Permission, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.tracking
}

// LastKnown returns the most recent fix, cached or live.
func (t *Tracker) LastKnown() (geo.Fix, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return geo.Fix{}, false
	}
	return *t.cur, true
}

// LastError returns the most recent transient sampling error.
func (t *Tracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// RequestPermission performs a one-shot position read to drive the
// permission prompt. Valid from prompt or denied; a denial moves to
// denied, any other failure leaves the state unchanged so the caller
// may retry.
func (t *Tracker) RequestPermission(ctx context.Context) error {
	t.mu.Lock()
	switch t.status {
	case geo.Unavailable:
		t.mu.Unlock()
		return geo.ErrUnsupported
	case geo.Granted:
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	fix, err := t.src.Current(ctx)
	if err != nil {
		if errors.Is(err, geo.ErrPermissionDenied) {
			t.mu.Lock()
			t.status = geo.Denied
			t.mu.Unlock()
			t.log.Info().Msg("location permission denied")
		}
		return err
	}

	t.mu.Lock()
	t.status = geo.Granted
	t.cur = &fix
	t.mu.Unlock()
	t.cache.Save(fix)
	t.publishGated(ctx, fix)
	t.log.Info().Msg("location permission granted")
	return nil
}

// StartTracking arms the polling timer. Valid only when permission is
// granted, tracking is off and the subject is an authenticated end
// user; anything else is a no-op. The first fix+publish cycle runs
// immediately, the timer then fires every interval.
func (t *Tracker) StartTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tracking {
		return
	}
	if t.status != geo.Granted {
		return
	}
	sub := t.subject()
	if sub.Role != subject.RoleUser || !sub.Authenticated {
		return
	}
	t.tracking = true
	t.gen++
	gen := t.gen
	t.done = make(chan struct{})
	t.ticker = time.NewTicker(t.interval)
	go t.sample(gen)
	go t.loop(t.ticker, t.done, gen)
	t.log.Info().Dur("interval", t.interval).Msg("tracking started")
}

// StopTracking cancels the timer. Idempotent. A read already in flight
// completes but its result is discarded.
func (t *Tracker) StopTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Tracker) stopLocked() {
	if !t.tracking {
		return
	}
	t.tracking = false
	t.gen++
	t.ticker.Stop()
	close(t.done)
	t.log.Info().Msg("tracking stopped")
}

// Dispose tears the tracker down. The host must call it when the
// owning session ends.
func (t *Tracker) Dispose() {
	t.StopTracking()
}

// OnPermissionChange feeds asynchronous platform permission updates
// (user revoking in settings). Revocation force-stops tracking.
func (t *Tracker) OnPermissionChange(p geo.Permission) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == geo.Unavailable {
		return
	}
	if p == geo.Denied && t.status == geo.Granted {
		t.log.Info().Msg("permission revoked by platform")
	}
	t.status = p
	if p != geo.Granted {
		t.stopLocked()
	}
}

func (t *Tracker) loop(ticker *time.Ticker, done chan struct{}, gen uint64) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// A responder/admin session or a logged-out session must
			// never keep emitting location.
			sub := t.subject()
			if sub.Role != subject.RoleUser || !sub.Authenticated {
				t.mu.Lock()
				t.stopLocked()
				t.mu.Unlock()
				return
			}
			metrics.PollTicks.Inc()
			go t.sample(gen)
		}
	}
}

// sample runs one fix+publish cycle. Reads may overlap across ticks;
// the generation check discards results that complete after a stop.
func (t *Tracker) sample(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()
	fix, err := t.src.Current(ctx)
	if err != nil {
		if errors.Is(err, geo.ErrPermissionDenied) {
			// The platform revoked permission underneath us.
			t.OnPermissionChange(geo.Denied)
			return
		}
		t.mu.Lock()
		t.lastErr = err
		t.mu.Unlock()
		metrics.FixErrors.Inc()
		t.log.Warn().Err(err).Msg("position read failed, keeping timer armed")
		return
	}

	t.mu.Lock()
	if !t.tracking || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.cur = &fix
	t.lastErr = nil
	t.mu.Unlock()

	t.cache.Save(fix)
	t.publishGated(ctx, fix)
}

// publishGated fans the fix out to whatever devices the gate admits.
// No candidates is not an error; no network call happens.
func (t *Tracker) publishGated(ctx context.Context, fix geo.Fix) {
	candidates, err := t.roster.Devices(ctx)
	if err != nil {
		t.log.Warn().Err(err).Msg("roster query failed, skipping publish")
		return
	}
	ids := gate.MayPublish(t.subject().Role, candidates)
	if len(ids) == 0 {
		return
	}
	t.pub.PublishAll(ctx, ids, fix)
}
