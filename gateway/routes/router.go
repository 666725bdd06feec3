package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"afrochain/core/broker"
	"afrochain/core/types"
	"afrochain/gateway/idempotency"
	"afrochain/gateway/middleware"
	"afrochain/native/provenance"
	"afrochain/native/supplychain"
)

// Broker is the set of inbound operations the gateway exposes.
type Broker interface {
	Health(ctx context.Context) types.Envelope
	ProcessPayment(ctx context.Context, req broker.PaymentRequest) types.Envelope
	Balance(ctx context.Context, network, address string) types.Envelope
	TxStatus(ctx context.Context, network, ref string) types.Envelope
	DeployEscrow(ctx context.Context, req broker.EscrowRequest) types.Envelope
	GetEscrow(ctx context.Context, id string) types.Envelope
	ReleaseEscrow(ctx context.Context, id string) types.Envelope
	RefundEscrow(ctx context.Context, id string) types.Envelope
	RaiseDispute(ctx context.Context, id, reason string) types.Envelope
	MintCertificate(ctx context.Context, attrs provenance.Attributes) types.Envelope
	VerifyCertificate(ctx context.Context, batchID string) types.Envelope
	AppendSupplyChainStep(ctx context.Context, batchID string, step supplychain.StepInput) types.Envelope
	SupplyChainHistory(ctx context.Context, batchID string) types.Envelope
}

var _ Broker = (*broker.Broker)(nil)

// ServiceRoute groups the endpoints that share a rate limit and scope.
type ServiceRoute struct {
	Name           string
	Prefix         string
	RequireAuth    bool
	RequiredScopes []string
	RateLimitKey   string
	mount          func(api *api, r chi.Router)
}

// DefaultRoutes lists every /v1 endpoint group.
func DefaultRoutes() []ServiceRoute {
	return []ServiceRoute{
		{Name: "payments", Prefix: "/v1/payments", RequireAuth: true, RequiredScopes: []string{"payments"}, RateLimitKey: "payments", mount: mountPayments},
		{Name: "balances", Prefix: "/v1/balances", RequireAuth: true, RequiredScopes: []string{"payments"}, RateLimitKey: "reads", mount: mountBalances},
		{Name: "tx", Prefix: "/v1/tx", RequireAuth: true, RequiredScopes: []string{"payments"}, RateLimitKey: "reads", mount: mountTx},
		{Name: "escrows", Prefix: "/v1/escrows", RequireAuth: true, RequiredScopes: []string{"escrow"}, RateLimitKey: "escrow", mount: mountEscrows},
		{Name: "certificates", Prefix: "/v1/certificates", RequireAuth: true, RequiredScopes: []string{"provenance"}, RateLimitKey: "provenance", mount: mountCertificates},
		{Name: "batches", Prefix: "/v1/batches", RequireAuth: true, RequiredScopes: []string{"provenance"}, RateLimitKey: "provenance", mount: mountBatches},
	}
}

type Config struct {
	Broker         Broker
	Routes         []ServiceRoute
	Authenticator  *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	Idempotency    *idempotency.Guard
	CORS           middleware.CORSConfig
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Logger         *slog.Logger
}

func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	routes := cfg.Routes
	if routes == nil {
		routes = DefaultRoutes()
	}
	a := &api{
		broker:  cfg.Broker,
		timeout: cfg.RequestTimeout,
		maxBody: cfg.MaxBodyBytes,
		logger:  logger.With("component", "gateway"),
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	instrument := func(name string) func(http.Handler) http.Handler {
		if obs == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return obs.Middleware(name)
	}

	r.With(instrument("health")).Get("/healthz", a.handle("health", func(r *http.Request) types.Envelope {
		return a.broker.Health(r.Context())
	}))

	for _, route := range routes {
		route := route
		r.Route(route.Prefix, func(sr chi.Router) {
			sr.Use(instrument(route.Name))
			if cfg.RateLimiter != nil && route.RateLimitKey != "" {
				sr.Use(cfg.RateLimiter.Middleware(route.RateLimitKey))
			}
			if cfg.Authenticator != nil && route.RequireAuth {
				sr.Use(cfg.Authenticator.Middleware(route.RequiredScopes...))
			}
			if cfg.Idempotency != nil {
				sr.Use(cfg.Idempotency.Middleware)
			}
			if route.mount != nil {
				route.mount(a, sr)
			}
		})
	}

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}
	return r
}
