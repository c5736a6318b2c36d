package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/phuslu/log"

	"raksha.dev/sosclient/internal/gate"
)

// Client queries the caller's device roster. Results are intentionally
// not cached; staleness is bounded by one polling interval.
type Client interface {
	Devices(ctx context.Context) ([]gate.Candidate, error)
}

type HTTPClient struct {
	base  string
	token string
	hc    *http.Client
	log   log.Logger
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	c := &HTTPClient{base: baseURL, token: token}
	c.hc = &http.Client{Timeout: 10 * time.Second}
	c.log = log.DefaultLogger
	c.log.Context = log.NewContext(nil).Str("module", "roster").Value()
	return c
}

type deviceModel struct {
	Id     string `json:"id"`
	Status string `json:"status"`
}

func (c *HTTPClient) Devices(ctx context.Context) ([]gate.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/devices", nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roster: status %d", resp.StatusCode)
	}
	var devices []deviceModel
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		return nil, err
	}
	candidates := make([]gate.Candidate, 0, len(devices))
	for _, d := range devices {
		candidates = append(candidates, gate.Candidate{DeviceID: d.Id, Status: gate.DeviceStatus(d.Status)})
	}
	return candidates, nil
}
