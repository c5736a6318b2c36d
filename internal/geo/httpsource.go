package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/phuslu/log"
)

// HTTPSource reads positions from a local platform location bridge
// (geoclue/termux style daemon exposing one-shot reads over loopback).
type HTTPSource struct {
	base    string
	hc      *http.Client
	log     log.Logger
	timeout time.Duration
	maxAge  time.Duration

	mu   sync.Mutex
	last *Fix
}

type HTTPSourceConfig struct {
	BaseURL string
	// Timeout bounds one hardware read. Zero means 30s.
	Timeout time.Duration
	// MaxAge is how stale a memoized fix may be and still satisfy a
	// read without touching hardware. Zero means 10s.
	MaxAge time.Duration
}

func NewHTTPSource(config HTTPSourceConfig) *HTTPSource {
	s := &HTTPSource{base: config.BaseURL}
	s.timeout = config.Timeout
	if s.timeout == 0 {
		s.timeout = 30 * time.Second
	}
	s.maxAge = config.MaxAge
	if s.maxAge == 0 {
		s.maxAge = 10 * time.Second
	}
	s.hc = &http.Client{Timeout: s.timeout}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "geosource").Value()
	return s
}

type permissionResponse struct {
	State string `json:"state"`
}

func (s *HTTPSource) Permission(ctx context.Context) Permission {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/permission", nil)
	if err != nil {
		return Unavailable
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Msg("permission query failed, treating as unavailable")
		return Unavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Unavailable
	}
	var pr permissionResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return Unavailable
	}
	switch pr.State {
	case "prompt":
		return Prompt
	case "granted":
		return Granted
	case "denied":
		return Denied
	default:
		return Unavailable
	}
}

func (s *HTTPSource) Current(ctx context.Context) (Fix, error) {
	s.mu.Lock()
	if s.last != nil && time.Since(s.last.CapturedTime()) <= s.maxAge {
		fix := *s.last
		s.mu.Unlock()
		return fix, nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/position", nil)
	if err != nil {
		return Fix{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Fix{}, ErrTimeout
		}
		return Fix{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusForbidden:
		return Fix{}, ErrPermissionDenied
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusServiceUnavailable:
		return Fix{}, ErrPositionUnavailable
	case resp.StatusCode != http.StatusOK:
		return Fix{}, fmt.Errorf("%w: status %d", ErrPositionUnavailable, resp.StatusCode)
	}
	var fix Fix
	if err := json.NewDecoder(resp.Body).Decode(&fix); err != nil {
		return Fix{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}
	if fix.CapturedAt == 0 {
		fix.CapturedAt = time.Now().UnixMilli()
	}
	s.mu.Lock()
	s.last = &fix
	s.mu.Unlock()
	return fix, nil
}
