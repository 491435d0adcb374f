package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakeledger/core/outbox"
	"stakeledger/core/state"
	"stakeledger/native/accrual"
	nativecommon "stakeledger/native/common"
	"stakeledger/observability"
	"stakeledger/observability/metrics"
	"stakeledger/rpc/middleware"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeNotFound       = -32004
	codeConflict       = -32009
	codeRateLimited    = -32020
	codeModulePaused   = -32030
)

// Journal is the state overlay seen by the server: it commits or drops
// pending writes and holds transfer batches until the outbox has them.
type Journal interface {
	Commit() error
	Discard()
	QueuePendingTransfers(operation string, at uint64, transfers []accrual.Transfer) (uint64, error)
	OldestPendingTransfers() (*state.PendingTransfers, error)
	AckPendingTransfers(seq uint64) error
}

// Outbox journals transfer instructions.
type Outbox interface {
	Enqueue(ctx context.Context, batch, operation string, transfers []accrual.Transfer, at time.Time) ([]outbox.Instruction, error)
	List(ctx context.Context, filter outbox.Filter) ([]outbox.Instruction, error)
	MarkDispatched(ctx context.Context, id string, at time.Time) error
}

// Config carries the policy knobs of the server.
type Config struct {
	ServiceName string
	AdminScope  string
	Auth        middleware.AuthConfig
	RateLimit   middleware.RateLimit
	Quota       nativecommon.Quota
	LogRequests bool
}

// Server exposes the accrual engine over JSON-RPC 2.0. Engine operations are
// serialized. Transfers are committed with the state change that produced
// them and copied to the outbox afterwards.
type Server struct {
	engine  *accrual.Engine
	state   Journal
	outbox  Outbox
	rates   accrual.RatioSource
	logger  *slog.Logger
	metrics *metrics.AccrualMetrics
	clock   func() time.Time
	cfg     Config

	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability

	mu          sync.Mutex
	usage       map[string]nativecommon.QuotaNow
	usageWindow uint64
}

// NewServer wires the engine and its collaborators. rates and box may be nil,
// in which case the corresponding methods report an error.
func NewServer(engine *accrual.Engine, journal Journal, box Outbox, rates accrual.RatioSource, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AdminScope == "" {
		cfg.AdminScope = "accrual:admin"
	}
	return &Server{
		engine:  engine,
		state:   journal,
		outbox:  box,
		rates:   rates,
		logger:  logger.With(slog.String("component", "rpc")),
		metrics: metrics.Accrual(),
		clock:   time.Now,
		cfg:     cfg,
		auth:    middleware.NewAuthenticator(cfg.Auth, logger),
		limiter: middleware.NewRateLimiter(cfg.RateLimit),
		obs:     middleware.NewObservability(cfg.ServiceName, cfg.LogRequests, logger),
		usage:   make(map[string]nativecommon.QuotaNow),
	}
}

// Handler builds the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/rpc", func(sr chi.Router) {
		sr.Use(s.obs.Middleware("rpc"))
		sr.Use(s.limiter.Middleware("rpc"))
		sr.Use(s.auth.Middleware())
		sr.Post("/", s.handle)
	})
	return otelhttp.NewHandler(r, "accruald")
}

type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

type handlerFunc func(ctx context.Context, caller middleware.Claims, params json.RawMessage) (interface{}, error)

type method struct {
	fn    handlerFunc
	admin bool
}

func (s *Server) methods() map[string]method {
	return map[string]method{
		"accrual_stake":              {fn: s.stake},
		"accrual_unstake":            {fn: s.unstake},
		"accrual_restake":            {fn: s.restake},
		"accrual_claim":              {fn: s.claim},
		"accrual_claimPosition":      {fn: s.claimPosition},
		"accrual_recognize":          {fn: s.recognize, admin: true},
		"accrual_recognizeConverted": {fn: s.recognizeConverted, admin: true},
		"accrual_setTier":            {fn: s.setTier, admin: true},
		"accrual_removeTier":         {fn: s.removeTier, admin: true},
		"accrual_position":           {fn: s.position},
		"accrual_positions":          {fn: s.positions},
		"accrual_pendingRewards":     {fn: s.pendingRewards},
		"accrual_index":              {fn: s.index},
		"accrual_tiers":              {fn: s.tiers},
		"accrual_tierTotals":         {fn: s.tierTotals},
		"accrual_totals":             {fn: s.totals},
		"accrual_essence":            {fn: s.essence},
		"accrual_totalEssence":       {fn: s.totalEssence},
		"accrual_unvested":           {fn: s.unvested},
		"outbox_list":                {fn: s.outboxList, admin: true},
		"outbox_markDispatched":      {fn: s.outboxMarkDispatched, admin: true},
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "failed to read request body", err.Error())
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large", nil)
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	m, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	caller, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "authentication required", nil)
		return
	}
	if m.admin && !caller.HasScope(s.cfg.AdminScope) {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "admin scope required", nil)
		return
	}
	result, err := m.fn(r.Context(), caller, req.Params)
	if err != nil {
		status, code, message := classifyError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("rpc call failed",
				slog.String("method", req.Method),
				slog.String("owner", caller.Subject),
				slog.String("error", err.Error()))
		}
		writeError(w, status, req.ID, code, message, err.Error())
		return
	}
	writeResult(w, req.ID, result)
}

// execute runs one mutating engine call under the server lock. The returned
// transfers are queued in the state overlay and committed with the change;
// the queue is then drained into the outbox.
func (s *Server) execute(ctx context.Context, kind string, fn func(now uint64) ([]accrual.Transfer, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := unixSeconds(s.clock())
	transfers, err := fn(now)
	s.metrics.ObserveOperation(kind, err)
	if err != nil {
		s.state.Discard()
		return err
	}
	if len(transfers) > 0 {
		if _, err := s.state.QueuePendingTransfers(kind, now, transfers); err != nil {
			s.state.Discard()
			return &commitError{err: err}
		}
	}
	if err := s.state.Commit(); err != nil {
		s.state.Discard()
		return &commitError{err: err}
	}
	s.observeTransfers(transfers)
	if err := s.drainPending(ctx); err != nil {
		s.logger.Warn("transfers kept pending",
			slog.String("operation", kind),
			slog.String("error", err.Error()))
	}
	return nil
}

// FlushPending copies committed transfer batches that have not reached the
// outbox yet, oldest first.
func (s *Server) FlushPending(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainPending(ctx)
}

func (s *Server) drainPending(ctx context.Context) error {
	if s.outbox == nil {
		return nil
	}
	for {
		batch, err := s.state.OldestPendingTransfers()
		if err != nil {
			return err
		}
		if batch == nil {
			return nil
		}
		queued, err := s.outbox.Enqueue(ctx, pendingBatchID(batch.Seq), batch.Operation, batch.Transfers, time.Unix(int64(batch.At), 0))
		if err != nil {
			observability.Transfers().RecordEnqueueFailure()
			return fmt.Errorf("enqueue batch %d: %w", batch.Seq, err)
		}
		if err := s.state.AckPendingTransfers(batch.Seq); err != nil {
			s.state.Discard()
			return err
		}
		if err := s.state.Commit(); err != nil {
			s.state.Discard()
			return fmt.Errorf("ack batch %d: %w", batch.Seq, err)
		}
		for _, inst := range queued {
			observability.Transfers().RecordTransfer(inst.Asset, inst.Reason, inst.Amount)
		}
	}
}

func pendingBatchID(seq uint64) string {
	return "pending-" + strconv.FormatUint(seq, 10)
}

func (s *Server) observeTransfers(transfers []accrual.Transfer) {
	for _, tr := range transfers {
		switch tr.Reason {
		case accrual.TransferReasonReward:
			s.metrics.ObservePaid(tr.Asset, tr.Amount)
		case accrual.TransferReasonPenalty:
			s.metrics.ObservePenalty(tr.Recipient, tr.Amount)
		}
	}
}

// chargeQuota accounts one owner request against the configured window.
func (s *Server) chargeQuota(owner string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := s.cfg.Quota.Window(unixSeconds(s.clock()))
	if window != s.usageWindow {
		s.evictUsage(window)
	}
	next, err := nativecommon.CheckQuota(s.cfg.Quota, window, s.usage[owner], 1, amount)
	if err != nil {
		observability.ModuleMetrics().RecordThrottle("rpc", observability.ThrottleOwnerQuota)
		return err
	}
	s.usage[owner] = next
	return nil
}

// evictUsage drops counters of windows other than the current one. It runs
// once per window change.
func (s *Server) evictUsage(window uint64) {
	for owner, usage := range s.usage {
		if usage.WindowID != window {
			delete(s.usage, owner)
		}
	}
	s.usageWindow = window
}

func unixSeconds(t time.Time) uint64 {
	if t.Unix() <= 0 {
		return 0
	}
	return uint64(t.Unix())
}

type commitError struct{ err error }

func (e *commitError) Error() string { return "commit state: " + e.err.Error() }
func (e *commitError) Unwrap() error { return e.err }

var errOutboxDisabled = errors.New("outbox not configured")
