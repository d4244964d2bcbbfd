// geolink-node is the GeoLink engine server: location ingest, rule matching,
// and Soroban contract execution behind one HTTP surface.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/auth"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/chain"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/config"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/dispatch"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/executor"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/geomatch"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/observability"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/queue"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/registry"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/rules"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/server"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/wasmstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "geolink-node: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.SetupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := observability.New(ctx, observability.Config{
		ServiceName:  "geolink-node",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.TelemetryEnabled,
		Insecure:     true,
	})
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	contractStore := registry.NewPostgresContracts(db)
	ruleStore := rules.NewPostgresRules(db)
	fenceStore := rules.NewPostgresGeofences(db)
	queueStore := queue.NewPostgresQueue(db)
	history := queue.NewPostgresHistory(db)
	users := auth.NewPostgresUsers(db)
	passkeys := executor.NewPasskeyCache(db)
	for _, init := range []func(context.Context) error{
		contractStore.Init, ruleStore.Init, fenceStore.Init,
		queueStore.Init, history.Init, users.Init, passkeys.Init,
	} {
		if err := init(ctx); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}

	network := contracts.Network(cfg.Network)
	rpc := chain.NewHTTPClient(cfg.SorobanRPCURL)
	invoker := chain.NewInvoker(rpc, logger)
	discoverer := registry.NewDiscoverer(rpc, logger)

	var wasmStore wasmstore.Store
	switch cfg.WasmStoreBackend {
	case "s3":
		wasmStore, err = wasmstore.NewS3Store(ctx, cfg.WasmS3Bucket)
	default:
		wasmStore, err = wasmstore.NewFSStore(cfg.WasmDir)
	}
	if err != nil {
		return fmt.Errorf("initializing wasm store: %w", err)
	}

	matcher := geomatch.NewMatcher(ruleStore, fenceStore, logger)
	quorum := rules.NewQuorumChecker(db, fenceStore)
	manager := queue.NewManager(db, history, logger)
	projections := queue.NewProjections(db, ruleStore, contractStore, chain.NativeSAC(network), logger)

	exec := executor.New(contractStore, ruleStore, queueStore, quorum, manager,
		passkeys, invoker, network, cfg.ServiceSecretKey, logger)
	balances := executor.NewChainBalances(rpc, invoker, network, cfg.ServiceSecretKey, logger)
	dispatcher := dispatch.NewDispatcher(matcher, queueStore, history, quorum,
		ruleStore, contractStore, exec, balances, metrics,
		cfg.ServiceSecretKey != "", logger)

	var ingestLimiter func(http.Handler) http.Handler
	if cfg.RedisAddr != "" {
		rl := api.NewRedisIngestLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.IngestRPM, cfg.IngestBurst)
		ingestLimiter = rl.Middleware
	}

	srv := server.New(server.Deps{
		Contracts:     contractStore,
		Discoverer:    discoverer,
		Rules:         ruleStore,
		Geofences:     fenceStore,
		Quorum:        quorum,
		Matcher:       matcher,
		Projections:   projections,
		Manager:       manager,
		Dispatcher:    dispatcher,
		Executor:      exec,
		Wasm:          wasmStore,
		IngestLimiter: ingestLimiter,
		Logger:        logger,
	})

	authMW := auth.NewMiddleware(auth.NewJWTValidator([]byte(cfg.JWTSecret)), users)
	ipLimiter := api.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	handler := api.RequestID(ipLimiter.Middleware(authMW(srv.Routes())))

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port, "network", cfg.Network)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", "error", err)
	}
	return nil
}
