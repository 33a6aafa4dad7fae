package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"parkledger/internal/config"
	"parkledger/internal/domain"
	"parkledger/internal/metrics"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ReportWriter streams a lot's ledger report.
type ReportWriter interface {
	WriteLotReport(ctx context.Context, lotID int64, w io.Writer) error
}

// ReadinessChecker reports whether backing storage is reachable.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// HTTPServer exposes the ledger over a JSON HTTP API.
type HTTPServer struct {
	cfg     config.APIConfig
	ledger  domain.BookingLedger
	lots    domain.InventoryService
	reports ReportWriter
	ready   ReadinessChecker
	server  *http.Server
	auth    *HTTPAuth
	log     zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, ledger domain.BookingLedger, lots domain.InventoryService, reports ReportWriter, ready ReadinessChecker, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:     cfg,
		ledger:  ledger,
		lots:    lots,
		reports: reports,
		ready:   ready,
		auth:    NewHTTPAuth(cfg),
		log:     zerolog.Nop(),
	}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// Handler builds the routed handler; it is exported for httptest.
func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(routeMetrics)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.auth.Wrap)

	v1.HandleFunc("/bookings", s.handleCreateBooking).Methods(http.MethodPost)
	v1.HandleFunc("/bookings", s.handleListBookings).Methods(http.MethodGet)
	v1.HandleFunc("/bookings/{id:[0-9]+}", s.handleGetBooking).Methods(http.MethodGet)
	v1.HandleFunc("/bookings/{id:[0-9]+}/release", s.handleReleaseBooking).Methods(http.MethodPost)
	v1.HandleFunc("/bookings/{id:[0-9]+}/cancel", s.handleCancelBooking).Methods(http.MethodPost)

	v1.HandleFunc("/lots", s.handleListLots).Methods(http.MethodGet)
	v1.HandleFunc("/lots", s.handleCreateLot).Methods(http.MethodPost)
	v1.HandleFunc("/lots/{lotID:[0-9]+}", s.handleGetLot).Methods(http.MethodGet)
	v1.HandleFunc("/lots/{lotID:[0-9]+}", s.handleDeleteLot).Methods(http.MethodDelete)
	v1.HandleFunc("/lots/{lotID:[0-9]+}/rate", s.handleUpdateRate).Methods(http.MethodPut)
	v1.HandleFunc("/lots/{lotID:[0-9]+}/intervals", s.handleIntervals).Methods(http.MethodGet)
	v1.HandleFunc("/lots/{lotID:[0-9]+}/availability", s.handleAvailability).Methods(http.MethodGet)
	v1.HandleFunc("/lots/{lotID:[0-9]+}/export", s.handleExport).Methods(http.MethodGet)

	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.log}), handlers.PrintRecoveryStack(false))
	return handlers.ProxyHeaders(s.loggingMiddleware(recovery(r)))
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HTTPAuth provides API-key auth, per-key rate limiting and requester
// resolution for HTTP endpoints.
type HTTPAuth struct {
	cfg        config.APIConfig
	clients    map[string]config.APIClientKey
	limiter    *rateLimiter
	requesters *requesterResolver
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{
		cfg:        cfg,
		clients:    m,
		limiter:    newRateLimiter(cfg.RateLimit),
		requesters: newRequesterResolver(cfg.Auth),
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		requester, err := a.requesters.resolve(r.Header.Get("Authorization"), r.Header.Get(a.requesters.header))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if requester != "" {
			r = r.WithContext(withRequester(r.Context(), requester))
		}

		next.ServeHTTP(w, r)
	})
}

var errPermissionDenied = errors.New("permission denied")

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(headerOrDefault(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault)))
	extra := strings.TrimSpace(r.Header.Get(headerOrDefault(a.cfg.Auth.HeaderExtra, apiExtraHeaderDefault)))
	if apiKey == "" || extra == "" {
		return fmt.Errorf("missing api key headers")
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return fmt.Errorf("invalid api key")
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return fmt.Errorf("invalid extra header")
	}

	if !hasPermission(client, requiredPermissionHTTP(r)) {
		return errPermissionDenied
	}
	return nil
}

func requiredPermissionHTTP(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	switch {
	case strings.HasPrefix(path, "/bookings"):
		if r.Method == http.MethodGet {
			return permReadBookings
		}
		return permWriteBookings
	case strings.HasPrefix(path, "/lots"):
		if r.Method == http.MethodGet {
			return permReadLots
		}
		return permAdminLots
	}
	return ""
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(headerOrDefault(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault))); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// routeMetrics counts requests per route template so ids do not explode
// label cardinality.
func routeMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		metrics.IncHTTP(endpoint)
		next.ServeHTTP(w, r)
	})
}

type recoveryLogger struct {
	log zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error().Msg(fmt.Sprint(v...))
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeLedgerError maps a ledger error to its HTTP status. Internal
// failures are logged and reported without detail.
func (s *HTTPServer) writeLedgerError(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
