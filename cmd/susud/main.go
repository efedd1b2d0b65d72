package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"sorosusu/config"
	"sorosusu/core/events"
	"sorosusu/core/state"
	"sorosusu/crypto"
	"sorosusu/gateway/middleware"
	"sorosusu/integrations/archive"
	"sorosusu/integrations/webhooks"
	"sorosusu/native/bank"
	"sorosusu/native/susu"
	"sorosusu/observability"
	"sorosusu/observability/logging"
	telemetry "sorosusu/observability/otel"
	"sorosusu/rpc"
	"sorosusu/storage"
)

const custodyModule = "susu-custody"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfgPath := flag.String("config", "./susud.toml", "path to susud configuration")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.SetupWithOptions("susud", cfg.Environment, logging.Options{
		File:  cfg.LogFile,
		Level: logging.ParseLevel(cfg.LogLevel),
	})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded",
		"path", *cfgPath,
		"listen", cfg.ListenAddress,
		"dataDir", cfg.DataDir,
		logging.MaskField("hmacSecret", cfg.Auth.HMACSecret),
		logging.MaskField("webhookSecret", cfg.Webhook.Secret),
		logging.MaskField("archiveDsn", cfg.ArchiveDSN),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("susud stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "susud",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	store := state.NewStore(db)

	hub := events.NewHub(0)
	sink := events.Multi{observability.Events(), hub}

	archiveDSN := strings.TrimSpace(cfg.ArchiveDSN)
	if archiveDSN == "" {
		archiveDSN = filepath.Join(cfg.DataDir, "events.db")
	}
	eventArchive, err := archive.Open(archiveDSN, logger.With("component", "archive"))
	if err != nil {
		return err
	}
	defer eventArchive.Close()
	sink = append(sink, eventArchive)

	if url := strings.TrimSpace(cfg.Webhook.URL); url != "" {
		dispatcher, err := webhooks.NewDispatcher(url, []byte(cfg.Webhook.Secret),
			webhooks.WithEventPrefixes(cfg.Webhook.Events...),
			webhooks.WithLogger(logger.With("component", "webhooks")),
		)
		if err != nil {
			return err
		}
		defer dispatcher.Close()
		sink = append(sink, dispatcher)
	}

	ledger := bank.NewLedger(store)
	ledger.SetLogger(logger.With("component", "bank"))
	if err := applyGenesis(ledger, cfg, logger); err != nil {
		return err
	}
	ledger.SetEmitter(sink)

	custody, ok, err := cfg.Custody()
	if err != nil {
		return err
	}
	if !ok {
		custody = state.ModuleAddress(custodyModule)
	}

	engine := susu.NewEngine()
	engine.SetState(store)
	engine.SetTransferer(ledger)
	engine.SetAuthenticator(crypto.IdentityAuthenticator{})
	engine.SetCustodyAddress(custody)
	engine.SetPayoutSettlement(cfg.SettlePayouts)
	engine.SetLogger(logger.With("component", "susu"))
	engine.SetEmitter(sink)
	logger.Info("circle engine ready",
		"custody", crypto.AddressFromArray(custody).String(),
		"settlePayouts", cfg.SettlePayouts,
	)

	replay, err := middleware.OpenLevelDBReplayStore(filepath.Join(cfg.DataDir, "replay"))
	if err != nil {
		return err
	}
	defer replay.Close()

	apiMetrics := observability.API()
	limiter := middleware.NewRateLimiter(middleware.RateLimit{
		RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
		Burst:             cfg.RateLimit.Burst,
	}, logger.With("component", "ratelimit"))
	limiter.OnThrottle(apiMetrics.RecordThrottle)

	server, err := rpc.NewServer(rpc.Config{
		Engine:  engine,
		Bank:    ledger,
		Archive: eventArchive,
		Hub:     hub,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret:      cfg.Auth.HMACSecret,
			Issuer:          cfg.Auth.Issuer,
			Audience:        cfg.Auth.Audience,
			ClockSkew:       cfg.Auth.ClockSkew.Duration,
			AllowSignatures: true,
			Replay:          replay,
		}, logger.With("component", "auth")),
		RateLimiter: limiter,
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "susud",
			LogRequests: cfg.Environment != "prod",
			Observe:     apiMetrics.Observe,
		}, logger.With("component", "http")),
		CORS:   middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Logger: logger.With("component", "rpc"),
	})
	if err != nil {
		return err
	}
	return server.ListenAndServe(ctx, cfg.ListenAddress)
}

// applyGenesis credits configured balances. Allocations whose balance is
// already non-zero are skipped, so a restart never credits twice.
func applyGenesis(ledger *bank.Ledger, cfg *config.Config, logger *slog.Logger) error {
	balances, err := cfg.GenesisBalances()
	if err != nil {
		return err
	}
	for _, alloc := range balances {
		current, err := ledger.Balance(alloc.Token, alloc.Address)
		if err != nil {
			return err
		}
		if current.Sign() > 0 {
			continue
		}
		if err := ledger.Credit(alloc.Token, alloc.Address, alloc.Amount); err != nil {
			return fmt.Errorf("genesis credit %s: %w", crypto.AddressFromArray(alloc.Address), err)
		}
		logger.Info("genesis balance credited",
			"address", crypto.AddressFromArray(alloc.Address).String(),
			"token", alloc.Token,
			"amount", alloc.Amount.String(),
		)
	}
	return nil
}
