package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"sitehive/internal/database"
	"sitehive/internal/huts"
	"sitehive/internal/ingest"
)

// maxBodyBytes bounds request bodies; ingest batches are the largest.
const maxBodyBytes = 8 << 20

// Options carries the server's collaborators.
type Options struct {
	Store  *database.Store
	Ingest *ingest.Service
	Ledger *huts.Ledger
	// AdminKey gates the dashboard and admin routes. Empty leaves them open.
	AdminKey string
	Now      func() time.Time
}

// Server exposes the agent and dashboard API.
type Server struct {
	store    *database.Store
	ingest   *ingest.Service
	ledger   *huts.Ledger
	adminKey string
	now      func() time.Time
	log      *slog.Logger
	router   *mux.Router
}

// New constructs a Server with routes configured.
func New(opts Options, logger *slog.Logger) (*Server, error) {
	if opts.Store == nil || opts.Ingest == nil || opts.Ledger == nil {
		return nil, errors.New("server: store, ingest service and ledger are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		store:    opts.Store,
		ingest:   opts.Ingest,
		ledger:   opts.Ledger,
		adminKey: opts.AdminKey,
		now:      func() time.Time { return opts.Now().UTC() },
		log:      logger.With("component", "http"),
		router:   mux.NewRouter(),
	}

	s.routes()
	return s, nil
}

// Handler exposes the configured router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.requestID, s.recoverer, s.accessLog)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()

	// agent routes authenticate per site inside the handlers
	api.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	api.HandleFunc("/agents/bootstrap", s.handleBootstrap).Methods(http.MethodPost)

	admin := api.NewRoute().Subrouter()
	admin.Use(s.requireAdmin)

	admin.HandleFunc("/sites", s.listSites).Methods(http.MethodGet)
	admin.HandleFunc("/sites", s.createSite).Methods(http.MethodPost)
	admin.HandleFunc("/sites/{code}", s.getSite).Methods(http.MethodGet)
	admin.HandleFunc("/sites/{code}", s.updateSite).Methods(http.MethodPatch)
	admin.HandleFunc("/sites/{code}", s.deleteSite).Methods(http.MethodDelete)
	admin.HandleFunc("/sites/{code}/devices", s.listSiteDevices).Methods(http.MethodGet)
	admin.HandleFunc("/sites/{code}/miners", s.listSiteMiners).Methods(http.MethodGet)
	admin.HandleFunc("/sites/{code}/summary", s.getSiteSummary).Methods(http.MethodGet)

	admin.HandleFunc("/devices/{id:[0-9]+}/metrics", s.listDeviceMetrics).Methods(http.MethodGet)

	admin.HandleFunc("/huts", s.listHuts).Methods(http.MethodGet)
	admin.HandleFunc("/huts", s.createHut).Methods(http.MethodPost)
	admin.HandleFunc("/huts/{code}", s.getHut).Methods(http.MethodGet)
	admin.HandleFunc("/huts/{code}", s.updateHut).Methods(http.MethodPatch)
	admin.HandleFunc("/huts/{code}", s.deleteHut).Methods(http.MethodDelete)
	admin.HandleFunc("/huts/{code}/assignment", s.assignHut).Methods(http.MethodPut)
	admin.HandleFunc("/huts/{code}/assignments", s.listHutAssignments).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger(r).Error("health check failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ctxKey int

const requestIDKey ctxKey = iota

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger(r).Error("handler panic", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger(r).Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// logger returns the component logger tagged with the request id.
func (s *Server) logger(r *http.Request) *slog.Logger {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return s.log.With("request_id", id)
	}
	return s.log
}
