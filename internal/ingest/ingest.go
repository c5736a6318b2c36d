package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/phuslu/log"

	"raksha.dev/sosclient/internal/geo"
	"raksha.dev/sosclient/internal/metrics"
)

// fixSource tags published fixes as sampled by the user's browser
// session, as opposed to hardware tracker telemetry.
const fixSource = "browser"

// Publisher posts an accepted fix to the backend location-ingest
// endpoint, once per gated device. Device publishes are independent:
// one failure never aborts the rest, and nothing is retried inside a
// tick (the next poll tick retries naturally).
type Publisher struct {
	base  string
	token string
	hc    *http.Client
	log   log.Logger
}

func NewPublisher(baseURL, token string) *Publisher {
	p := &Publisher{base: baseURL, token: token}
	p.hc = &http.Client{Timeout: 10 * time.Second}
	p.log = log.DefaultLogger
	p.log.Context = log.NewContext(nil).Str("module", "ingest").Value()
	return p
}

type locationModel struct {
	DeviceId  string   `json:"deviceId"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Source    string   `json:"source"`
}

// PublishAll fans the fix out to every device id. Failures are logged
// per device and dropped; they are never surfaced to the end user.
// Returns the count of accepted publishes (tests and metrics use it).
func (p *Publisher) PublishAll(ctx context.Context, deviceIds []string, fix geo.Fix) int {
	ok := 0
	for _, id := range deviceIds {
		if err := p.publish(ctx, id, fix); err != nil {
			p.log.Warn().Err(err).Str("device_id", id).Msg("location publish failed")
			metrics.PublishFailed.Inc()
		} else {
			ok++
			metrics.PublishOk.Inc()
		}
	}
	return ok
}

func (p *Publisher) publish(ctx context.Context, deviceId string, fix geo.Fix) error {
	body, err := json.Marshal(locationModel{
		DeviceId:  deviceId,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Accuracy:  fix.Accuracy,
		Source:    fixSource,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/locations", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &PublishError{DeviceId: deviceId, Status: resp.StatusCode}
	}
	return nil
}

type PublishError struct {
	DeviceId string
	Status   int
}

func (e *PublishError) Error() string {
	return "ingest: publish failed for device " + e.DeviceId
}
