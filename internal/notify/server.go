package notify

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"raksha.dev/sosclient/internal/util"
)

// Server is the HTTP surface of the notification dispatcher: inbound
// push deliveries, click callbacks and context registration. Deliveries
// and clicks arrive from browser origins, hence the cors layer.
type Server struct {
	server     *http.Server
	dispatcher *Dispatcher
	tray       *Tray
	registry   *Registry
	validate   *validator.Validate
	log        zerolog.Logger
}

type ServerConfig struct {
	ListenAddr     string
	AllowedOrigins []string
}

func NewServer(dispatcher *Dispatcher, tray *Tray, registry *Registry, config ServerConfig, logger zerolog.Logger) *Server {
	s := &Server{
		dispatcher: dispatcher,
		tray:       tray,
		registry:   registry,
		validate:   validator.New(),
		log:        logger.With().Str("module", "notify-http").Logger(),
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))
	r.Post("/push", s.handlePush)
	r.Get("/notifications", s.handleList)
	r.Post("/notifications/{tag}/click", s.handleClick)
	r.Post("/contexts", s.handleRegisterContext)
	r.Get("/contexts/{id}/commands", s.handleCommands)
	r.Delete("/contexts/{id}", s.handleUnregisterContext)

	s.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

// Run activates the dispatcher and serves until the listener fails.
func (s *Server) Run() {
	s.dispatcher.Activate()
	s.log.Info().Str("addr", s.server.Addr).Msg("starting notifier")
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error().Err(err).Msg("notifier stopped")
		panic(err)
	}
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n := s.dispatcher.HandlePush(raw)
	w.WriteHeader(http.StatusCreated)
	util.JsonWrite(w, n)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, s.tray.List())
}

type clickRequestModel struct {
	Action string `json:"action" validate:"omitempty,oneof=open dismiss"`
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	req := clickRequestModel{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := s.validate.Struct(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.dispatcher.HandleClick(tag, req.Action); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	util.JsonWrite(w, map[string]int{"status": 0})
}

type registerContextRequestModel struct {
	URL string `json:"url" validate:"required,url"`
}

func (s *Server) handleRegisterContext(w http.ResponseWriter, r *http.Request) {
	req := registerContextRequestModel{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c := s.registry.Register(req.URL)
	w.WriteHeader(http.StatusCreated)
	util.JsonWrite(w, c)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	cmds, ok := s.registry.Drain(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "unknown context", http.StatusNotFound)
		return
	}
	if cmds == nil {
		cmds = []Command{}
	}
	util.JsonWrite(w, cmds)
}

func (s *Server) handleUnregisterContext(w http.ResponseWriter, r *http.Request) {
	s.registry.Unregister(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}
