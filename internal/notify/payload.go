package notify

import (
	"encoding/json"
	"strings"
)

// Hard-coded defaults for inbound push payloads; every field of a
// delivery is optional.
const (
	DefaultTitle = "Raksha Emergency Alert"
	DefaultBody  = "An emergency alert was received."
	DefaultIcon  = "/icons/alert-192.png"
	DefaultBadge = "/icons/badge-72.png"
	DefaultTag   = "raksha-alert"
	DefaultURL   = "/"
)

// Payload is a normalized push delivery. Tag is the deduplication key:
// a payload arriving with the tag of a visible notification replaces
// it instead of stacking.
type Payload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon"`
	Badge string         `json:"badge"`
	URL   string         `json:"url"`
	Tag   string         `json:"tag"`
	Data  map[string]any `json:"data,omitempty"`
}

type rawPayload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon"`
	Badge string         `json:"badge"`
	URL   string         `json:"url"`
	Tag   string         `json:"tag"`
	Data  map[string]any `json:"data"`
}

// Normalize turns a raw push delivery into a Payload. It never fails:
// anything that does not parse as a JSON object degrades to a
// plain-text body merged into the defaults, so a malformed push still
// surfaces as an alert.
func Normalize(raw []byte) Payload {
	p := Payload{
		Title: DefaultTitle,
		Body:  DefaultBody,
		Icon:  DefaultIcon,
		Badge: DefaultBadge,
		URL:   DefaultURL,
		Tag:   DefaultTag,
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return p
	}
	var rp rawPayload
	if err := json.Unmarshal(raw, &rp); err != nil {
		p.Body = text
		return p
	}
	if rp.Title != "" {
		p.Title = rp.Title
	}
	if rp.Body != "" {
		p.Body = rp.Body
	}
	if rp.Icon != "" {
		p.Icon = rp.Icon
	}
	if rp.Badge != "" {
		p.Badge = rp.Badge
	}
	if rp.URL != "" {
		p.URL = rp.URL
	}
	if rp.Tag != "" {
		p.Tag = rp.Tag
	}
	p.Data = rp.Data
	return p
}
