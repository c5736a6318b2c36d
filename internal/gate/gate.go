package gate

import "raksha.dev/sosclient/internal/subject"

type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

// Candidate is one roster entry considered for a location publish.
// Fetched fresh on every sync attempt, never cached here.
type Candidate struct {
	DeviceID string
	Status   DeviceStatus
}

// MayPublish decides which devices a fix may be published for. Only the
// end-user role publishes its own position; offline devices are skipped
// outright because a browser fix must not be fabricated as telemetry
// for unreachable hardware. An empty result is not an error.
func MayPublish(role subject.Role, candidates []Candidate) []string {
	if role != subject.RoleUser {
		return nil
	}
	var ids []string
	for _, c := range candidates {
		if c.Status == StatusOnline {
			ids = append(ids, c.DeviceID)
		}
	}
	return ids
}
