// Package api exposes the engine over HTTP/JSON.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rewired-gh/jackpotengine/internal/engine"
	"github.com/rewired-gh/jackpotengine/internal/logger"
)

var log = logger.With("api")

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP server.
type Options struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// Server serves the engine API.
type Server struct {
	engine         *engine.Engine
	pinger         Pinger
	opts           Options
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	streamInterval time.Duration
}

// NewServer creates a server; pinger may be nil.
func NewServer(e *engine.Engine, pinger Pinger, opts Options) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Server{
		engine:         e,
		pinger:         pinger,
		opts:           opts,
		upgrader:       newUpgrader(opts.CORSOrigins),
		streamInterval: streamPollInterval,
	}
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.instrument)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.withTimeout)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api.HandleFunc("/calibration/fit", s.handleFit).Methods(http.MethodPost)
	api.HandleFunc("/calibration/activate", s.handleActivate).Methods(http.MethodPost)
	api.HandleFunc("/calibration/active", s.handleGetActive).Methods(http.MethodGet)
	api.HandleFunc("/calibration/curves", s.handleCurves).Methods(http.MethodGet)

	api.HandleFunc("/jackpots", s.handleSaveJackpot).Methods(http.MethodPost)
	api.HandleFunc("/jackpots/{id}", s.handleGetJackpot).Methods(http.MethodGet)
	api.HandleFunc("/jackpots/{id}/sync", s.handleSyncJackpot).Methods(http.MethodPost)
	api.HandleFunc("/jackpots/{id}/results", s.handleResults).Methods(http.MethodPost)

	api.HandleFunc("/tickets/generate", s.handleGenerate).Methods(http.MethodPost)
	api.HandleFunc("/tickets/score", s.handleScore).Methods(http.MethodPost)
	api.HandleFunc("/tickets/saved/{name}", s.handleSavedTickets).Methods(http.MethodGet)

	api.HandleFunc("/thresholds/learn", s.handleLearn).Methods(http.MethodPost)
	api.HandleFunc("/thresholds/current", s.handleCurrentThreshold).Methods(http.MethodGet)
	api.HandleFunc("/thresholds/history", s.handleThresholdHistory).Methods(http.MethodGet)
	api.HandleFunc("/weights/learn", s.handleLearnWeights).Methods(http.MethodPost)
	api.HandleFunc("/weights", s.handleWeights).Methods(http.MethodGet)

	api.HandleFunc("/tasks/{id}", s.handleTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/stream", s.handleTaskStream).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.HandlerFor(s.engine.Metrics().Registry(), promhttp.HandlerOpts{}))

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(router)
}

// Start listens until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	log.Info("Listening on %s", s.opts.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error("Server shutdown error: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.engine.Metrics().RecordRequest(route, strconv.Itoa(rec.status), time.Since(start).Seconds())
		log.Debug("%s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	if s.opts.RequestTimeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
