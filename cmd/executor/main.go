// Command executor is the Launcher binary (C15): the single admissible
// entry point into live trading. It loads configuration, runs the
// hash-verified startup sequence, and then supervises the orchestrator
// until it exits or the process receives a shutdown signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luzhengheng/MT5-sub005/internal/breaker"
	"github.com/luzhengheng/MT5-sub005/internal/config"
	"github.com/luzhengheng/MT5-sub005/internal/drift"
	"github.com/luzhengheng/MT5-sub005/internal/gateway"
	"github.com/luzhengheng/MT5-sub005/internal/latency"
	"github.com/luzhengheng/MT5-sub005/internal/launcher"
	"github.com/luzhengheng/MT5-sub005/internal/marketdata"
	"github.com/luzhengheng/MT5-sub005/internal/metrics"
	"github.com/luzhengheng/MT5-sub005/internal/orchestrator"
	"github.com/luzhengheng/MT5-sub005/internal/risk"
	"github.com/luzhengheng/MT5-sub005/internal/secrets"
	"github.com/luzhengheng/MT5-sub005/internal/shadow"
	"github.com/luzhengheng/MT5-sub005/internal/signal"
	"github.com/luzhengheng/MT5-sub005/internal/symbolloop"
)

// accountPollInterval governs how often the executor polls GET_ACCOUNT to
// feed the risk monitor (spec §4.5); the gateway protocol has no push
// channel for account state, so the risk monitor can only be as fresh as
// this poll.
const accountPollInterval = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	verifyKeys := flag.Bool("verify-keys", false, "verify gateway credentials and secrets backend reachability, then exit")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	secretsClient, err := secrets.NewClient(secrets.Config{
		Address:    cfg.Vault.Address,
		AuthMethod: "token",
		MountPath:  "secret",
		SecretPath: cfg.Vault.Path,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to secrets backend")
	}
	cachingSecrets := secrets.NewCachingClient(secretsClient, 5*time.Minute)

	validator := config.NewValidator(cfg, config.ValidatorOptions{
		VerifyConnectivity: true,
		VerifyKeys:         *verifyKeys,
		Timeout:            5 * time.Second,
	}, cachingSecrets)

	if *verifyKeys {
		if err := validator.ValidateStartup(context.Background()); err != nil {
			log.Error().Err(err).Msg("key verification failed")
			os.Exit(1)
		}
		log.Info().Msg("gateway credentials verified")
		os.Exit(0)
	}

	if err := validator.ValidateStartup(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("startup validation failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	durable, err := breaker.NewManager(cfg.Breaker.FilePath, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open durable circuit breaker")
	}
	if durable.ShouldHalt() {
		log.Fatal().Str("reason", durable.Reason()).Msg("circuit breaker is already engaged, refusing to start")
	}

	transient := breaker.NewTransientManager(nil, nil, nil)

	creds, err := cachingSecrets.GetGatewayCredentials(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve gateway credentials")
	}
	log.Info().Str("server", creds.ServerName).Msg("resolved gateway credentials")

	latencySensor := latency.NewSensor("gateway", latency.Config{
		WindowSize:       cfg.Latency.WindowSize,
		WarningMS:        cfg.Latency.WarningMS,
		CriticalMS:       cfg.Latency.CriticalMS,
		SpikeEngageCount: cfg.Latency.SpikeEngageCount,
	}, durable, log.Logger)

	gw, err := gateway.NewClient(ctx, gateway.Config{
		Addr:               cfg.Gateway.Endpoint,
		Timeout:            time.Duration(cfg.Gateway.TimeoutMS) * time.Millisecond,
		Retry:              gateway.DefaultRetryConfig(),
		RequireRealAccount: cfg.Gateway.RequireRealAcc,
		OnRoundTrip: func(d time.Duration) {
			latencySensor.Observe(context.Background(), d)
		},
	}, transient, durable, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to gateway adapter")
	}
	defer gw.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	replayCache := marketdata.NewReplayCache(redisClient, time.Minute)
	subscriber, err := marketdata.NewSubscriber(ctx, marketdata.Config{
		NATSUrl:       cfg.MarketData.NATSUrl,
		Subjects:      tickSubjects(cfg.App.Symbols),
		BufferSize:    cfg.MarketData.BufferSize,
		LagEngageHigh: cfg.MarketData.LagEngageHigh,
	}, replayCache, durable, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start market data subscriber")
	}
	defer subscriber.Close()

	riskMonitor := risk.NewMonitor(risk.Limits{
		MaxDrawdown:     cfg.Risk.MaxDrawdown,
		DrawdownWarning: cfg.Risk.DrawdownWarning,
		MaxLeverage:     cfg.Risk.MaxLeverage,
		LeverageWarning: cfg.Risk.LeverageWarning,
	}, durable, log.Logger)
	go pollAccount(ctx, gw, riskMonitor, log.Logger)

	driftSensors := make(map[string]*drift.Sensor, len(cfg.App.Symbols))
	for _, symbol := range cfg.App.Symbols {
		driftSensors[symbol] = drift.NewSensor(symbol, drift.Config{
			ReferenceWindow: cfg.Drift.ReferenceWindow,
			CurrentWindow:   cfg.Drift.CurrentWindow,
			Buckets:         cfg.Drift.Buckets,
			Smoothing:       cfg.Drift.Smoothing,
			PSIThreshold:    cfg.Drift.PSIThreshold,
			EventsPerDayMax: cfg.Drift.EventsPerDayMax,
		}, durable, log.Logger)
	}

	coefficients := signal.NewCoefficientStore(cfg.Launch.InitialCoefficient)
	aggregator := metrics.NewAggregator(log.Logger)

	recorder, err := shadow.New("/var/lib/mt5crs/shadow", log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start shadow recorder")
	}
	defer recorder.Close()

	factory := loopFactory(cfg, gw, durable, coefficients, recorder, aggregator, riskMonitor, driftSensors, log.Logger)
	orch := orchestrator.New(cfg.App.Symbols, subscriber, gw, durable, factory, log.Logger)
	controlServer := orchestrator.NewControlServer(cfg.Monitoring.PrometheusPort, orch, durable, log.Logger)

	l := launcher.New(launcher.Config{
		ArtifactPath:      cfg.Launch.ArtifactPath,
		MinGatewayVersion: cfg.Launch.MinGatewayVersion,
		Coefficients:      coefficients,
		Canary: gateway.OpenOrderRequest{
			Symbol: cfg.Launch.CanarySymbol,
			Side:   cfg.Launch.CanarySide,
		},
		CanaryVolume:    cfg.Launch.CanaryVolume,
		Gateway:         gw,
		Durable:         durable,
		RunOrchestrator: orch.Run,
		Log:             log.Logger,
	})

	decision, err := l.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("launcher startup sequence failed")
	}
	log.Info().Str("decision", string(decision.Decision)).Msg("trading started")

	go func() {
		if err := controlServer.Start(); err != nil {
			log.Error().Err(err).Msg("control server exited")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal_Notify(sigChan)

	errChan := make(chan error, 1)
	go func() { errChan <- l.Wait() }()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("orchestrator exited with error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := controlServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down control server")
	}

	<-errChan
	log.Info().Msg("executor shutdown complete")
}

// signal_Notify registers the process's shutdown signals; named with an
// underscore only to avoid colliding with the signal package import.
func signal_Notify(ch chan os.Signal) {
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
}

// tickSubjects maps each enabled symbol to its NATS tick subject.
func tickSubjects(symbols []string) []string {
	subjects := make([]string, len(symbols))
	for i, s := range symbols {
		subjects[i] = fmt.Sprintf("ticks.%s", s)
	}
	return subjects
}

// pollAccount periodically reads GET_ACCOUNT and folds it into the risk
// monitor; the gateway protocol has no push channel for account state, so
// the monitor can only be as fresh as this poll (spec §4.5).
func pollAccount(ctx context.Context, gw gateway.Broker, monitor *risk.Monitor, log zerolog.Logger) {
	ticker := time.NewTicker(accountPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			acct, err := gw.GetAccount(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("risk monitor account poll failed")
				continue
			}
			monitor.Update(ctx, acct.Equity, acct.Balance, acct.Margin)
		}
	}
}

// loopFactory builds a symbol loop's configuration, drawing its sizing
// coefficient from the shared store the Launcher seeds at startup.
func loopFactory(
	cfg *config.Config,
	gw gateway.Broker,
	durable *breaker.Manager,
	coefficients *signal.CoefficientStore,
	recorder *shadow.Recorder,
	aggregator *metrics.Aggregator,
	riskMonitor *risk.Monitor,
	driftSensors map[string]*drift.Sensor,
	log zerolog.Logger,
) orchestrator.LoopFactory {
	base := signal.RiskConfig{
		RiskPerTrade:    cfg.Risk.RiskPerTrade,
		ContractSize:    100000,
		VolumeStep:      0.01,
		MaxPositionSize: cfg.Risk.MaxPositionSize,
		Threshold:       signal.DefaultThreshold,
	}
	model := signal.MomentumModel{PriceScale: 0.01}

	return func(symbol string, paused *atomic.Bool) symbolloop.Config {
		return symbolloop.Config{
			Symbol:               symbol,
			Gateway:              gw,
			Durable:              durable,
			Model:                model,
			RiskConfig:           coefficients.RiskConfig(base),
			MaxPerSymbolExposure: 0.1,
			ContractSize:         base.ContractSize,
			StopDistance:         0.0020,
			Extract:              extractMidAndOpen,
			EquitySource: func() float64 {
				snap, ok := riskMonitor.Latest()
				if !ok {
					return 0
				}
				return snap.Equity
			},
			Recorder: recorder,
			Exposure: aggregator,
			Drift:    driftSensors[symbol],
			Paused:   paused,
			Log:      log,
		}
	}
}

// extractMidAndOpen hands MomentumModel the tick's mid price as both the
// current and reference price; a real deployment would track a rolling
// reference separately rather than collapsing momentum to zero on every
// tick.
func extractMidAndOpen(tick marketdata.Tick) signal.Features {
	mid := tick.Mid()
	return signal.Features{mid, mid}
}
