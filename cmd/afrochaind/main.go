package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"afrochain/config"
	"afrochain/core/broker"
	"afrochain/core/events"
	"afrochain/core/mode"
	gatewayconfig "afrochain/gateway/config"
	"afrochain/gateway/idempotency"
	"afrochain/gateway/middleware"
	"afrochain/gateway/routes"
	"afrochain/native/escrow"
	"afrochain/native/payments"
	"afrochain/native/provenance"
	"afrochain/native/supplychain"
	"afrochain/observability"
	"afrochain/observability/logging"
	"afrochain/observability/metrics"
	telemetry "afrochain/observability/otel"
	"afrochain/storage"
)

func main() {
	configFile := flag.String("config", "./afrochain.toml", "Path to the node configuration file")
	gatewayFile := flag.String("gateway-config", "", "Path to the gateway YAML file (overrides GatewayConfig)")
	flag.Parse()

	if err := run(*configFile, *gatewayFile); err != nil {
		fmt.Fprintf(os.Stderr, "afrochaind: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, gatewayFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.SetupWithOptions("afrochaind", cfg.Env, logging.Options{
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSizeMB,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "afrochaind",
		Environment: cfg.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	ctrl, err := mode.New(ctx, cfg, db, logger)
	if err != nil {
		return fmt.Errorf("select ledger modes: %w", err)
	}
	defer ctrl.Close()

	emitter := events.Fanout{events.LogEmitter{Logger: logger}, observability.EventCounter{}}

	escrowStore, closeEscrow, err := openEscrowStore(cfg, db)
	if err != nil {
		return err
	}
	defer closeEscrow()
	escrows := escrow.NewEngine(escrowStore, ctrl.Contracts())
	escrows.SetEmitter(emitter)
	escrows.SetLogger(logger)
	escrows.SetAutoRefundAfter(cfg.Escrow.AutoRefundAfter.Duration)
	escrows.SetTransitionHook(func(from, to escrow.Status) {
		metrics.Ledger().RecordEscrowTransition(from.String(), to.String())
	})

	registry, err := supplychain.NewRegistry(db)
	if err != nil {
		return fmt.Errorf("load supply-chain topics: %w", err)
	}
	supply := supplychain.NewLedger(ctrl.Topics(), registry)
	supply.SetEmitter(emitter)
	supply.SetLogger(logger)

	certificates := provenance.NewService(provenance.NewKVStore(db), ctrl.Tokens(), supply)
	certificates.SetEmitter(emitter)
	certificates.SetLogger(logger)

	b := broker.New(ctrl, broker.Services{
		Payments:     payments.NewOrchestrator(ctrl, emitter, logger),
		Escrow:       escrows,
		Certificates: certificates,
		Supply:       supply,
	}, logger)

	if strings.TrimSpace(gatewayFile) == "" {
		gatewayFile = cfg.GatewayConfig
	}
	gwCfg, err := gatewayconfig.Load(gatewayFile)
	if err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}
	if gwCfg.Auth.Enabled && strings.TrimSpace(gwCfg.Auth.HMACSecret) == "" {
		if !strings.EqualFold(cfg.Env, "dev") {
			return fmt.Errorf("gateway auth enabled without a secret; set %s", gatewayconfig.EnvJWTSecret)
		}
		logger.Warn("gateway auth disabled in dev: no secret configured")
		gwCfg.Auth.Disable()
	}

	handler, closeGateway, err := buildGateway(gwCfg, b, logger)
	if err != nil {
		return err
	}
	defer closeGateway()

	return serve(ctx, gwCfg, handler, logger)
}

// openEscrowStore returns the SQL store when a driver is configured and the
// key-value store otherwise.
func openEscrowStore(cfg *config.Config, db storage.Database) (escrow.Store, func(), error) {
	driver := strings.TrimSpace(cfg.Storage.EscrowSQLDriver)
	if driver == "" {
		return escrow.NewKVStore(db), func() {}, nil
	}
	store, err := escrow.OpenSQLStore(driver, cfg.Storage.EscrowSQLDSN)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func buildGateway(cfg gatewayconfig.Config, b *broker.Broker, logger *slog.Logger) (http.Handler, func(), error) {
	closer := func() {}

	var guard *idempotency.Guard
	if cfg.Idempotency.Enabled {
		store, err := idempotency.Open(cfg.Idempotency.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open idempotency store: %w", err)
		}
		guard = idempotency.NewGuard(store, cfg.MaxBodyBytes, logger)
		closer = func() { _ = store.Close() }
	}

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, entry := range cfg.RateLimits {
		limits[entry.ID] = middleware.RateLimit{RequestsPerMinute: entry.RequestsPerMinute, Burst: entry.Burst}
	}
	if len(limits) == 0 {
		limits["payments"] = middleware.RateLimit{RequestsPerMinute: 60, Burst: 10}
		limits["escrow"] = middleware.RateLimit{RequestsPerMinute: 60, Burst: 10}
		limits["provenance"] = middleware.RateLimit{RequestsPerMinute: 120, Burst: 20}
		limits["reads"] = middleware.RateLimit{RequestsPerMinute: 600, Burst: 60}
	}

	var obs *middleware.Observability
	if cfg.Observability.Metrics || cfg.Observability.Tracing {
		obs = middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName:   cfg.Observability.ServiceName,
			MetricsPrefix: cfg.Observability.MetricsPrefix,
			LogRequests:   cfg.Observability.LogRequests,
			Enabled:       true,
		}, logger)
	}

	router := routes.New(routes.Config{
		Broker: b,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:        cfg.Auth.Enabled,
			HMACSecret:     cfg.Auth.HMACSecret,
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			ScopeClaim:     cfg.Auth.ScopeClaim,
			OptionalPaths:  cfg.Auth.OptionalPaths,
			AllowAnonymous: cfg.Auth.AllowAnonymous,
			ClockSkew:      cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter:   middleware.NewRateLimiter(limits, logger),
		Observability: obs,
		Idempotency:   guard,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
		},
		RequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Logger:         logger,
	})

	handler := http.Handler(router)
	if cfg.Observability.Tracing {
		handler = otelhttp.NewHandler(router, "afrochain-gateway")
	}
	return handler, closer, nil
}

func serve(ctx context.Context, cfg gatewayconfig.Config, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if cfg.Security.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(cfg.Security.TLSCertFile, cfg.Security.TLSKeyFile)
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("load TLS key pair: %w", err)
		}
		server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		listener = tls.NewListener(listener, server.TLSConfig)
	}

	errCh := make(chan error, 1)
	go func() {
		scheme := "http"
		if cfg.Security.TLSEnabled() {
			scheme = "https"
		}
		logger.Info("gateway listening", "address", scheme+"://"+listener.Addr().String())
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	return nil
}
