package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"sorosusu/core/events"
	"sorosusu/crypto"
	"sorosusu/gateway/middleware"
	"sorosusu/integrations/archive"
	"sorosusu/native/susu"
)

const (
	maxRequestBytes   = 1 << 20 // 1 MiB
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// BalanceReader exposes ledger balances.
type BalanceReader interface {
	Balance(token string, addr [20]byte) (*big.Int, error)
}

// EventLister exposes archived events.
type EventLister interface {
	List(ctx context.Context, filter archive.Filter) ([]archive.Record, error)
}

type Config struct {
	Engine        *susu.Engine
	Bank          BalanceReader
	Archive       EventLister
	Hub           *events.Hub
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
	// Gatherers are served on /metrics next to the observability registry.
	Gatherers []prometheus.Gatherer
}

// Server exposes the circle engine over HTTP. The engine holds no locks, so
// every engine call made by a handler runs under mu.
type Server struct {
	cfg    Config
	engine *susu.Engine
	logger *slog.Logger

	mu sync.Mutex
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("rpc: engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, engine: cfg.Engine, logger: logger}, nil
}

// Handler builds the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(s.cfg.CORS))
	if s.cfg.Authenticator != nil {
		r.Use(s.cfg.Authenticator.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", s.metricsHandler())

	r.Route("/v1", func(v1 chi.Router) {
		if s.cfg.RateLimiter != nil {
			v1.Use(s.cfg.RateLimiter.Middleware)
		}
		v1.Route("/circles", func(c chi.Router) {
			s.handle(c, http.MethodPost, "/", "circles.create", true, s.handleCreateCircle)
			s.handle(c, http.MethodGet, "/", "circles.count", false, s.handleCircleCount)
			c.Route("/{id}", func(cr chi.Router) {
				s.handle(cr, http.MethodGet, "/", "circles.get", false, s.handleGetCircle)
				s.handle(cr, http.MethodPost, "/join", "circles.join", true, s.handleJoin)
				s.handle(cr, http.MethodPost, "/deposit", "circles.deposit", true, s.handleDeposit)
				s.handle(cr, http.MethodPost, "/payouts", "circles.payout", true, s.handleProcessPayout)
				s.handle(cr, http.MethodPost, "/rollover", "circles.rollover", true, s.handleRollover)
				s.handle(cr, http.MethodPost, "/early-payouts", "circles.early_payout.request", true, s.handleRequestEarlyPayout)
				s.handle(cr, http.MethodPost, "/early-payouts/{member}/approve", "circles.early_payout.approve", true, s.handleApproveEarlyPayout)
				s.handle(cr, http.MethodGet, "/cycle", "circles.cycle", false, s.handleCycleInfo)
				s.handle(cr, http.MethodGet, "/payout-status", "circles.payout_status", false, s.handlePayoutStatus)
				s.handle(cr, http.MethodGet, "/reserve", "circles.reserve", false, s.handleReserve)
				s.handle(cr, http.MethodGet, "/members/{member}", "circles.member", false, s.handleMember)
				s.handle(cr, http.MethodGet, "/events", "circles.events", false, s.handleCircleEvents)
				s.handle(cr, http.MethodGet, "/stream", "circles.stream", false, s.handleStream)
			})
		})
		v1.Route("/protocol", func(p chi.Router) {
			s.handle(p, http.MethodPost, "/initialize", "protocol.initialize", true, s.handleInitialize)
			s.handle(p, http.MethodPut, "/fee", "protocol.fee.set", true, s.handleSetProtocolFee)
			s.handle(p, http.MethodGet, "/fee", "protocol.fee.get", false, s.handleGetProtocolFee)
		})
		s.handle(v1, http.MethodGet, "/balances/{address}", "balances.get", false, s.handleBalance)
	})

	return otelhttp.NewHandler(r, "susud")
}

func (s *Server) handle(r chi.Router, method, pattern, name string, requireAuth bool, fn http.HandlerFunc) {
	var h http.Handler = fn
	if requireAuth {
		h = middleware.Require(h)
	}
	if s.cfg.Observability != nil {
		h = s.cfg.Observability.Middleware(name)(h)
	}
	r.Method(method, pattern, h)
}

func (s *Server) metricsHandler() http.Handler {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
	if s.cfg.Observability != nil {
		gatherers = append(gatherers, s.cfg.Observability.Registry())
	}
	gatherers = append(gatherers, s.cfg.Gatherers...)
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

// ListenAndServe serves until ctx is cancelled, then drains connections.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc: shutdown: %w", err)
	}
	return nil
}

// locked runs fn under the host mutex.
func (s *Server) locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeEngineError maps engine sentinels to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, susu.ErrCircleNotFound), errors.Is(err, susu.ErrNoPendingEarlyPayoutRequest):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, susu.ErrUnauthorized):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, susu.ErrInsufficientAllowance):
		status, code = http.StatusPaymentRequired, "insufficient_allowance"
	case errors.Is(err, susu.ErrInvalidFeeConfig), errors.Is(err, susu.ErrInvalidCircle):
		status, code = http.StatusUnprocessableEntity, "invalid_argument"
	case errors.Is(err, susu.ErrAlreadyJoined),
		errors.Is(err, susu.ErrMaxMembersReached),
		errors.Is(err, susu.ErrCycleNotComplete),
		errors.Is(err, susu.ErrDuplicatePayout),
		errors.Is(err, susu.ErrDuplicateEarlyPayoutRequest),
		errors.Is(err, susu.ErrAlreadyRecipient),
		errors.Is(err, susu.ErrAlreadyInitialized),
		errors.Is(err, susu.ErrNotInitialized),
		errors.Is(err, susu.ErrAlreadyContributed),
		errors.Is(err, susu.ErrCircleIDExhausted):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, susu.ErrCustodyNotConfigured):
		status, code = http.StatusServiceUnavailable, "unavailable"
	}
	writeError(w, status, code, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("decode body: %v", err))
		return false
	}
	return true
}

func caller(r *http.Request) [20]byte {
	identity, _ := crypto.IdentityFromContext(r.Context())
	return identity.Array()
}

func circleIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid circle id %q", raw))
		return 0, false
	}
	return id, true
}

func addressParam(w http.ResponseWriter, raw, field string) ([20]byte, bool) {
	addr, err := crypto.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid %s: %v", field, err))
		return [20]byte{}, false
	}
	return addr.Array(), true
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}
