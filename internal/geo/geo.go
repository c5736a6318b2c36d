package geo

import (
	"context"
	"errors"
	"time"
)

// Permission mirrors the platform permission state for location access.
type Permission int

const (
	Unavailable Permission = iota
	Prompt
	Granted
	Denied
)

func (p Permission) String() string {
	switch p {
	case Prompt:
		return "prompt"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unavailable"
	}
}

var (
	ErrPermissionDenied    = errors.New("geo: permission denied")
	ErrPositionUnavailable = errors.New("geo: position unavailable")
	ErrTimeout             = errors.New("geo: position read timed out")
	ErrUnsupported         = errors.New("geo: no location capability")
)

// Fix is one sampled position. Immutable once created; a fix with a later
// CapturedAt supersedes an earlier one (last-write-wins in the cache).
type Fix struct {
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	CapturedAt int64    `json:"captured_at"`
}

func (f Fix) CapturedTime() time.Time {
	return time.UnixMilli(f.CapturedAt)
}

// Source is the one-shot position primitive plus its permission query.
type Source interface {
	// Permission reports the current permission state. Returning
	// Unavailable means the platform has no geolocation capability at
	// all; this is terminal for the session.
	Permission(ctx context.Context) Permission
	// Current performs a single position read. Errors are one of the
	// sentinel values above, possibly wrapped.
	Current(ctx context.Context) (Fix, error)
}
