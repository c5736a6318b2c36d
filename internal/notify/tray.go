package notify

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"raksha.dev/sosclient/internal/metrics"
)

const (
	ActionOpen    = "open"
	ActionDismiss = "dismiss"
)

// vibrationPattern matches the dashboard's alert buzz.
var vibrationPattern = []int{200, 100, 200, 100, 400}

var ErrUnknownTag = errors.New("notify: no notification with that tag")

// Notification is one visible entry on the platform notification
// surface. Alerts never auto-dismiss and always carry the open/dismiss
// action pair.
type Notification struct {
	Tag                string         `json:"tag"`
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon"`
	Badge              string         `json:"badge"`
	URL                string         `json:"url"`
	Data               map[string]any `json:"data,omitempty"`
	Vibrate            []int          `json:"vibrate"`
	RequireInteraction bool           `json:"require_interaction"`
	Renotify           bool           `json:"renotify"`
	Actions            []string       `json:"actions"`
	ShownAt            time.Time      `json:"shown_at"`
	// Replaced counts same-tag re-deliveries folded into this entry.
	Replaced int `json:"replaced"`
}

// Recorder persists delivery records for diagnostics. Nil disables it.
type Recorder interface {
	Record(tag, title string, replaced bool, shownAt time.Time)
}

// Navigator routes an accepted click to a browser context.
type Navigator interface {
	Navigate(target string)
}

// Tray is the tag-deduplicated notification surface. A payload whose
// tag matches a visible notification replaces it and re-alerts
// (renotify), it never stacks; repeated pushes for one alert id must
// not flood the tray.
type Tray struct {
	mu    sync.Mutex
	items map[string]*Notification
	order []string

	nav Navigator
	rec Recorder
	log zerolog.Logger
}

func NewTray(nav Navigator, rec Recorder, logger zerolog.Logger) *Tray {
	return &Tray{
		items: make(map[string]*Notification),
		nav:   nav,
		rec:   rec,
		log:   logger.With().Str("module", "tray").Logger(),
	}
}

// Show materializes a normalized payload as a notification.
func (t *Tray) Show(p Payload) *Notification {
	n := &Notification{
		Tag:                p.Tag,
		Title:              p.Title,
		Body:               p.Body,
		Icon:               p.Icon,
		Badge:              p.Badge,
		URL:                p.URL,
		Data:               p.Data,
		Vibrate:            vibrationPattern,
		RequireInteraction: true,
		Renotify:           true,
		Actions:            []string{ActionOpen, ActionDismiss},
		ShownAt:            time.Now(),
	}
	t.mu.Lock()
	prev, replacing := t.items[p.Tag]
	if replacing {
		n.Replaced = prev.Replaced + 1
	} else {
		t.order = append(t.order, p.Tag)
	}
	t.items[p.Tag] = n
	t.mu.Unlock()

	metrics.NotificationsShown.Inc()
	if t.rec != nil {
		t.rec.Record(n.Tag, n.Title, replacing, n.ShownAt)
	}
	t.log.Info().Str("tag", n.Tag).Bool("replaced", replacing).Msg("notification shown")
	return n
}

// Click handles a user interaction. Dismiss closes with no navigation;
// open (or a body click with no action) closes and issues exactly one
// navigate-or-open call for the notification's URL.
func (t *Tray) Click(tag, action string) error {
	t.mu.Lock()
	n, ok := t.items[tag]
	if ok {
		delete(t.items, tag)
		for i, v := range t.order {
			if v == tag {
				t.order = append(t.order[:i:i], t.order[i+1:]...)
				break
			}
		}
	}
	t.mu.Unlock()
	if !ok {
		return ErrUnknownTag
	}
	if action == ActionDismiss {
		t.log.Debug().Str("tag", tag).Msg("notification dismissed")
		return nil
	}
	t.nav.Navigate(n.URL)
	t.log.Debug().Str("tag", tag).Str("url", n.URL).Msg("notification opened")
	return nil
}

// List returns visible notifications in first-shown order.
func (t *Tray) List() []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Notification, 0, len(t.order))
	for _, tag := range t.order {
		out = append(out, *t.items[tag])
	}
	return out
}
