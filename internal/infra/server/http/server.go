// Package httpserver exposes the HTTP control surface for scopes, positions,
// notifications and stream connections.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"github.com/coachpo/arbwatch/errs"
	"github.com/coachpo/arbwatch/internal/app/scope"
	"github.com/coachpo/arbwatch/internal/domain/schema"
	"github.com/coachpo/arbwatch/internal/domain/subscription"
	"github.com/coachpo/arbwatch/internal/infra/config"
	"github.com/coachpo/arbwatch/internal/observability"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	defaultNotificationLimit = 50
	requestTimeout           = 15 * time.Second
)

// Supervisor is the scope control plane served over HTTP.
type Supervisor interface {
	Views(ctx context.Context) ([]scope.View, error)
	Scope(id string) (*scope.Scope, bool)
	ActiveID() string
	Activate(ctx context.Context, id string) error
	UpdateConfig(ctx context.Context, cfg config.ScopeConfig) (config.ScopeConfig, error)
	Connections() []scope.ConnectionView
	Reconnect(ctx context.Context, channel subscription.Channel) error
}

// NotificationReader serves persisted notifications.
type NotificationReader interface {
	Recent(ctx context.Context, scope string, limit int) ([]schema.Notification, error)
}

// Options wires the handler. Journal and Store are optional.
type Options struct {
	Environment config.Environment
	Supervisor  Supervisor
	Store       *config.AppConfigStore
	Journal     NotificationReader
	Logger      observability.Logger
}

type httpServer struct {
	environment config.Environment
	supervisor  Supervisor
	store       *config.AppConfigStore
	journal     NotificationReader
	logger      observability.Logger
}

// NewHandler builds the router.
func NewHandler(opts Options) http.Handler {
	s := &httpServer{
		environment: opts.Environment,
		supervisor:  opts.Supervisor,
		store:       opts.Store,
		journal:     opts.Journal,
		logger:      observability.OrGlobal(opts.Logger),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(withCORS)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	r.Get("/healthz", s.health)
	r.Get("/config", s.exportConfig)
	r.Route("/scopes", func(r chi.Router) {
		r.Get("/", s.listScopes)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getScope)
			r.Put("/", s.putScope)
			r.Post("/activate", s.activateScope)
			r.Post("/poll", s.pollScope)
			r.Get("/positions", s.getPositions)
			r.Get("/notifications", s.getNotifications)
		})
	})
	r.Route("/connections", func(r chi.Router) {
		r.Get("/", s.listConnections)
		r.Post("/{channel}/reconnect", s.reconnect)
	})
	return r
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"environment": s.environment,
		"activeScope": s.supervisor.ActiveID(),
	})
}

func (s *httpServer) listScopes(w http.ResponseWriter, r *http.Request) {
	views, err := s.supervisor.Views(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": s.supervisor.ActiveID(), "scopes": views})
}

func (s *httpServer) getScope(w http.ResponseWriter, r *http.Request) {
	view, ok := s.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *httpServer) putScope(w http.ResponseWriter, r *http.Request) {
	var cfg config.ScopeConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		writeDecodeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if cfg.ID == "" {
		cfg.ID = id
	}
	if cfg.ID != id {
		writeError(w, http.StatusBadRequest, "scope id in body does not match path")
		return
	}
	saved, err := s.supervisor.UpdateConfig(r.Context(), cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *httpServer) activateScope(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.supervisor.Activate(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "active": id})
}

func (s *httpServer) pollScope(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := sc.PollNow(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *httpServer) getPositions(w http.ResponseWriter, r *http.Request) {
	view, ok := s.view(w, r)
	if !ok {
		return
	}
	positions := view.Positions
	if positions == nil {
		positions = []schema.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scope":     view.ID,
		"positions": positions,
		"priceOnly": view.PriceOnly,
		"error":     view.PositionsError,
		"updatedAt": view.UpdatedAt,
	})
}

// getNotifications serves the in-memory history, or the journal with ?source=journal.
func (s *httpServer) getNotifications(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.lookup(w, r)
	if !ok {
		return
	}
	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var notes []schema.Notification
	switch strings.ToLower(r.URL.Query().Get("source")) {
	case "", "memory":
		notes = sc.History().Recent(limit)
	case "journal":
		if s.journal == nil {
			writeError(w, http.StatusServiceUnavailable, "notification journal disabled")
			return
		}
		var err error
		notes, err = s.journal.Recent(r.Context(), sc.ID(), limit)
		if err != nil {
			s.logger.Warn("journal read failed", observability.F("scope", sc.ID()), observability.Err(err))
			writeError(w, http.StatusBadGateway, "journal read failed")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "source must be memory or journal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scope": sc.ID(), "notifications": notes})
}

func (s *httpServer) listConnections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"connections": s.supervisor.Connections()})
}

func (s *httpServer) reconnect(w http.ResponseWriter, r *http.Request) {
	channel := subscription.Channel(strings.ToLower(chi.URLParam(r, "channel")))
	if err := s.supervisor.Reconnect(r.Context(), channel); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "channel": string(channel)})
}

func (s *httpServer) lookup(w http.ResponseWriter, r *http.Request) (*scope.Scope, bool) {
	id := chi.URLParam(r, "id")
	sc, ok := s.supervisor.Scope(id)
	if !ok {
		writeError(w, http.StatusNotFound, "scope "+strconv.Quote(id)+" not found")
		return nil, false
	}
	return sc, true
}

func (s *httpServer) view(w http.ResponseWriter, r *http.Request) (scope.View, bool) {
	sc, ok := s.lookup(w, r)
	if !ok {
		return scope.View{}, false
	}
	view, err := sc.View(r.Context())
	if err != nil {
		writeErr(w, err)
		return scope.View{}, false
	}
	return view, true
}

func (s *httpServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			observability.F("method", r.Method),
			observability.F("path", r.URL.Path),
			observability.F("status", ww.Status()),
			observability.F("bytes", ww.BytesWritten()),
			observability.F("duration", time.Since(start)),
			observability.F("request_id", middleware.GetReqID(r.Context())))
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if code, ok := errs.CodeOf(err); ok {
		switch code {
		case errs.CodeNotFound:
			status = http.StatusNotFound
		case errs.CodeInvalid, errs.CodeConfiguration:
			status = http.StatusBadRequest
		case errs.CodeUnavailable:
			status = http.StatusServiceUnavailable
		case errs.CodeCollaborator, errs.CodeExchange, errs.CodeNetwork:
			status = http.StatusBadGateway
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
