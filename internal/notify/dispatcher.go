package notify

import (
	"github.com/rs/zerolog"
)

// Dispatcher is the background push handler. It runs independently of
// the tracking agent; the only coupling is the payload contract. It
// must never crash on a bad delivery, every failure degrades to the
// plain-text fallback notification.
type Dispatcher struct {
	tray     *Tray
	registry *Registry
	log      zerolog.Logger
}

func NewDispatcher(tray *Tray, registry *Registry, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		tray:     tray,
		registry: registry,
		log:      logger.With().Str("module", "dispatcher").Logger(),
	}
}

// Activate takes control immediately: every already-open context is
// claimed so pushes route without a manual reload, the same way a
// fresh service worker skips waiting and claims its clients.
func (d *Dispatcher) Activate() {
	d.registry.ClaimAll()
	d.log.Info().Msg("dispatcher activated, contexts claimed")
}

// HandlePush materializes one inbound push delivery.
func (d *Dispatcher) HandlePush(raw []byte) *Notification {
	p := Normalize(raw)
	return d.tray.Show(p)
}

// HandleClick routes one notification interaction.
func (d *Dispatcher) HandleClick(tag, action string) error {
	return d.tray.Click(tag, action)
}
