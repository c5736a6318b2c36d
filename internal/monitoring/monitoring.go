package monitoring

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"raksha.dev/sosclient/internal/evmux"
	"raksha.dev/sosclient/internal/metrics"
	"raksha.dev/sosclient/internal/track"
	"raksha.dev/sosclient/internal/util"
)

// Server exposes the agent's runtime status and the metrics scrape
// endpoint.
type Server struct {
	tracker *track.Tracker
	mux     *evmux.Mux
	server  *http.Server
}

type Config struct {
	ListenAddr string
}

type statusModel struct {
	Permission   string  `json:"permission"`
	Tracking     bool    `json:"tracking"`
	Connected    bool    `json:"connected"`
	LastFixAgeMs *int64  `json:"last_fix_age_ms"`
	LastError    *string `json:"last_error"`
}

func NewServer(tracker *track.Tracker, mux *evmux.Mux, config *Config) *Server {
	m := &Server{tracker: tracker, mux: mux}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", m.serve_status)
	r.Handle("/metrics", metrics.Handler())
	m.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return m
}

func (m *Server) Run() {
	err := m.server.ListenAndServe()
	if err != nil {
		panic(err)
	}
}

func (m *Server) serve_status(w http.ResponseWriter, r *http.Request) {
	permission, tracking := m.tracker.Status()
	res := statusModel{
		Permission: permission.String(),
		Tracking:   tracking,
		Connected:  m.mux.Connected(),
	}
	if fix, ok := m.tracker.LastKnown(); ok {
		age := time.Since(fix.CapturedTime()).Milliseconds()
		res.LastFixAgeMs = &age
	}
	if err := m.tracker.LastError(); err != nil {
		s := err.Error()
		res.LastError = &s
	}
	util.JsonWrite(w, res)
}

func (m *Server) GetHandler() http.Handler {
	return m.server.Handler
}
