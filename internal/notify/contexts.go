package notify

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Command is an instruction queued for one browser context, delivered
// when the context polls.
type Command struct {
	Op  string `json:"op"` // navigate, focus, open
	URL string `json:"url,omitempty"`
}

// BrowserContext is one open page registered with the dispatcher.
type BrowserContext struct {
	Id      string `json:"id"`
	URL     string `json:"url"`
	Claimed bool   `json:"claimed"`

	commands []Command
}

// Registry tracks open browser contexts at the app origin and routes
// click navigation into them. An existing same-origin context is
// reused (navigate + focus, exactly one); with none open, a new
// context is opened at the target URL.
type Registry struct {
	mu       sync.Mutex
	origin   string
	contexts []*BrowserContext
	log      zerolog.Logger
}

func NewRegistry(origin string, logger zerolog.Logger) *Registry {
	return &Registry{origin: origin, log: logger.With().Str("module", "contexts").Logger()}
}

// Register adds a newly opened page. Registration happens before the
// dispatcher claims it; ClaimAll flips every context to claimed.
func (r *Registry) Register(url string) *BrowserContext {
	c := &BrowserContext{Id: uuid.NewString(), URL: url}
	r.mu.Lock()
	r.contexts = append(r.contexts, c)
	r.mu.Unlock()
	r.log.Debug().Str("context_id", c.Id).Str("url", url).Msg("context registered")
	return c
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.contexts {
		if c.Id == id {
			r.contexts = append(r.contexts[:i:i], r.contexts[i+1:]...)
			return
		}
	}
}

// ClaimAll takes control of every registered context immediately, so a
// new dispatcher version starts routing without any page reload.
func (r *Registry) ClaimAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contexts {
		c.Claimed = true
	}
}

// Navigate routes a notification click. Exactly one context receives a
// navigation per call; other open contexts are untouched. Relative
// targets resolve against the app origin.
func (r *Registry) Navigate(target string) {
	if strings.HasPrefix(target, "/") {
		target = r.origin + target
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contexts {
		if strings.HasPrefix(c.URL, r.origin) {
			c.commands = append(c.commands, Command{Op: "navigate", URL: target}, Command{Op: "focus"})
			c.URL = target
			r.log.Debug().Str("context_id", c.Id).Str("url", target).Msg("reusing open context")
			return
		}
	}
	c := &BrowserContext{Id: uuid.NewString(), URL: target, Claimed: true}
	c.commands = append(c.commands, Command{Op: "open", URL: target})
	r.contexts = append(r.contexts, c)
	r.log.Debug().Str("context_id", c.Id).Str("url", target).Msg("opening new context")
}

// Drain pops the pending commands of one context.
func (r *Registry) Drain(id string) ([]Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contexts {
		if c.Id == id {
			cmds := c.commands
			c.commands = nil
			return cmds, true
		}
	}
	return nil, false
}

func (r *Registry) List() []BrowserContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BrowserContext, 0, len(r.contexts))
	for _, c := range r.contexts {
		out = append(out, BrowserContext{Id: c.Id, URL: c.URL, Claimed: c.Claimed})
	}
	return out
}
