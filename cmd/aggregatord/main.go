// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// aggregatord runs the portfolio-aggregation service: config/pool hot
// reload, the aggregation & cache engine, the claim-rewards state
// machine, background warm-up/eviction/resource-balance loops, and the
// HTTP + GraphQL request surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/geth/log"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/luxfi/aggregator/internal/adapter"
	"github.com/luxfi/aggregator/internal/cert"
	"github.com/luxfi/aggregator/internal/claim"
	"github.com/luxfi/aggregator/internal/clock"
	"github.com/luxfi/aggregator/internal/config"
	"github.com/luxfi/aggregator/internal/dispatch"
	"github.com/luxfi/aggregator/internal/domain"
	"github.com/luxfi/aggregator/internal/engine"
	"github.com/luxfi/aggregator/internal/holdingscache"
	"github.com/luxfi/aggregator/internal/httpapi"
	"github.com/luxfi/aggregator/internal/ledger"
	"github.com/luxfi/aggregator/internal/lpcache"
	"github.com/luxfi/aggregator/internal/metacache"
	"github.com/luxfi/aggregator/internal/metrics"
	"github.com/luxfi/aggregator/internal/neuron"
	"github.com/luxfi/aggregator/internal/poolreg"
	"github.com/luxfi/aggregator/internal/resolver"
	"github.com/luxfi/aggregator/internal/resources"
	"github.com/luxfi/aggregator/internal/state"
	"github.com/luxfi/aggregator/internal/usersettings"
	"github.com/luxfi/aggregator/internal/warmup"
)

const clientIdentifier = "aggregatord"

// gitSHA and buildTime are set at build time via -ldflags, matching the
// GIT_SHA / BUILD_TIME env vars spec.md §6 names for get_version.
var (
	gitSHA    = "dev"
	buildTime = "unknown"
)

var (
	configFlag = &cli.StringFlag{Name: "config", Usage: "path to the ledgers/dex TOML config", Value: "config.toml", EnvVars: []string{"LEDGERS_FILE"}}
	poolsFlag  = &cli.StringFlag{Name: "pools", Usage: "path to the pool description file", Value: "pools.toml", EnvVars: []string{"POOLS_FILE"}}
	listenFlag = &cli.StringFlag{Name: "listen", Usage: "HTTP listen address", Value: ":8080"}
	logLevel   = &cli.StringFlag{Name: "log-level", Usage: "log level (trace|debug|info|warn|error)", Value: "info"}
	statePath  = &cli.StringFlag{Name: "state-file", Usage: "path to the stable-state save file", Value: "aggregatord.state"}

	callPriceFlag  = &cli.Uint64Flag{Name: "call-price", Usage: "per-call cost in cycles", Value: 0, EnvVars: []string{"CALL_PRICE_CYCLES"}}
	claimPriceFlag = &cli.Uint64Flag{Name: "claim-price", Usage: "per-claim cost in cycles", Value: 0, EnvVars: []string{"CLAIM_PRICE_CYCLES"}}

	maxHoldingsFlag         = &cli.IntFlag{Name: "max-holdings", Usage: "truncation cap on merged holdings", Value: engine.DefaultMaxHoldings, EnvVars: []string{"MAX_HOLDINGS"}}
	fetchAdapterTimeoutFlag = &cli.Int64Flag{Name: "fetch-adapter-timeout-secs", Usage: "per-endpoint ledger/dex sub-fetch timeout", Value: 5, EnvVars: []string{"FETCH_ADAPTER_TIMEOUT_SECS"}}
	cyclesLogFileFlag       = &cli.StringFlag{Name: "cycles-log-file", Usage: "path to the rotating cycles/refill log", Value: "cycles.log", EnvVars: []string{"CYCLES_LOG_FILE"}}
	cycleBackoffMaxFlag     = &cli.Int64Flag{Name: "cycle-backoff-max", Usage: "max refill backoff in minutes", Value: 64, EnvVars: []string{"CYCLE_BACKOFF_MAX"}}

	claimWalletsFlag        = &cli.StringSliceFlag{Name: "claim-wallets", Usage: "identities allowed to claim on behalf of another user", EnvVars: []string{"CLAIM_WALLETS"}}
	claimDenylistFlag       = &cli.StringSliceFlag{Name: "claim-denylist", Usage: "identities denied from claiming", EnvVars: []string{"CLAIM_DENYLIST"}}
	claimDailyLimitFlag     = &cli.IntFlag{Name: "claim-daily-limit", Usage: "max claim attempts per window", Value: claim.DefaultDailyLimit, EnvVars: []string{"CLAIM_DAILY_LIMIT"}}
	claimLimitWindowFlag    = &cli.Int64Flag{Name: "claim-limit-window-secs", Usage: "daily rate window length", Value: 24 * 3600, EnvVars: []string{"CLAIM_LIMIT_WINDOW_SECS"}}
	claimCooldownFlag       = &cli.Int64Flag{Name: "claim-cooldown-secs", Usage: "per-user claim cooldown", Value: 60, EnvVars: []string{"CLAIM_COOLDOWN_SECS"}}
	claimLockTimeoutFlag    = &cli.Int64Flag{Name: "claim-lock-timeout-secs", Usage: "reentrancy lock timeout", Value: 300, EnvVars: []string{"CLAIM_LOCK_TIMEOUT_SECS"}}
	claimMaxTotalFlag       = &cli.StringFlag{Name: "claim-max-total", Usage: "cap on total claimed amount per call (empty means uncapped)", Value: "", EnvVars: []string{"CLAIM_MAX_TOTAL"}}
	maxClaimPerCallFlag     = &cli.IntFlag{Name: "max-claim-per-call", Usage: "truncate claim fan-out to this many adapters (0 means no truncation)", Value: claim.DefaultMaxClaimPerCall, EnvVars: []string{"MAX_CLAIM_PER_CALL"}}
	claimAdapterTimeoutFlag = &cli.Int64Flag{Name: "claim-adapter-timeout-secs", Usage: "per-adapter claim_rewards timeout", Value: 10, EnvVars: []string{"CLAIM_ADAPTER_TIMEOUT_SECS"}}

	app = &cli.App{
		Name:    clientIdentifier,
		Usage:   "portfolio-aggregation service",
		Version: gitSHA,
	}
)

func init() {
	app.Flags = []cli.Flag{
		configFlag, poolsFlag, listenFlag, logLevel, statePath, callPriceFlag, claimPriceFlag,
		maxHoldingsFlag, fetchAdapterTimeoutFlag, cyclesLogFileFlag, cycleBackoffMaxFlag,
		claimWalletsFlag, claimDenylistFlag, claimDailyLimitFlag, claimLimitWindowFlag,
		claimCooldownFlag, claimLockTimeoutFlag, claimMaxTotalFlag, maxClaimPerCallFlag,
		claimAdapterTimeoutFlag,
	}
	app.Action = run

	app.Before = func(ctx *cli.Context) error {
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, levelFromString(ctx.String("log-level")), true)))
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func levelFromString(s string) log.Level {
	switch s {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

func run(cliCtx *cli.Context) error {
	mainClock := clock.Real{}

	cfgLoader := config.NewLoader(cliCtx.String("config"))
	pools := poolreg.NewRegistry(cliCtx.String("pools"))
	pools.Reload()

	transport := &unconfiguredTransport{}

	res := resolver.New(transport)
	meta := metacache.New(transport, mainClock)
	lpCache := lpcache.New(mainClock)
	holdings := holdingscache.New(mainClock)
	settings := usersettings.NewStore()
	certStore := cert.NewStore()
	adapters := adapter.NewRegistry(adapter.DefaultConstructors(transport))
	warmupScheduler := warmup.New(mainClock, meta)

	cfgLoader.OnReload(func(snap config.Snapshot) {
		res.Reload(cliCtx.Context, snap.Ledgers, snap.DexControllers)
		merged := map[string]domain.EndpointID{}
		for k, v := range snap.Ledgers {
			merged[k] = v
		}
		for k, v := range snap.Dex {
			merged[k] = v
		}
		adapters.Reload(merged)

		endpoints := make([]domain.EndpointID, 0, len(merged))
		for _, id := range merged {
			endpoints = append(endpoints, id)
		}
		warmupScheduler.Init(endpoints)
	})
	cfgLoader.Load()
	cfgLoader.Watch()

	fetchTimeout := time.Duration(cliCtx.Int64("fetch-adapter-timeout-secs")) * time.Second

	ledgerFetcher := ledger.New(res, meta, transport)
	ledgerFetcher.Timeout = fetchTimeout
	neuronFetcher := neuron.New(transport)
	eng := engine.New(ledgerFetcher, neuronFetcher, adapters, holdings, settings, certStore)
	eng.MaxHoldings = cliCtx.Int("max-holdings")
	eng.AdapterTimeout = fetchTimeout

	claimCfg := claim.DefaultConfig()
	claimCfg.DailyLimit = cliCtx.Int("claim-daily-limit")
	claimCfg.LimitWindow = cliCtx.Int64("claim-limit-window-secs") * clock.Second
	claimCfg.Cooldown = cliCtx.Int64("claim-cooldown-secs") * clock.Second
	claimCfg.LockTimeout = cliCtx.Int64("claim-lock-timeout-secs") * clock.Second
	claimCfg.AdapterTimeout = time.Duration(cliCtx.Int64("claim-adapter-timeout-secs")) * time.Second
	claimCfg.MaxClaimPerCall = cliCtx.Int("max-claim-per-call")
	claimCfg.Wallets = toSet(cliCtx.StringSlice("claim-wallets"))
	claimCfg.Denylist = toSet(cliCtx.StringSlice("claim-denylist"))
	if raw := cliCtx.String("claim-max-total"); raw != "" {
		total, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("parse claim-max-total: %w", err)
		}
		claimCfg.MaxTotal = total
	}
	claimEng := claim.New(claimCfg, mainClock, adapters)

	metricsReg := metrics.NewRegistry()
	resourcesMaintainer := resources.New(mainClock, nil, 0, cliCtx.Int64("cycle-backoff-max"))
	resourcesMaintainer.SetSink(&lumberjack.Logger{Filename: cliCtx.String("cycles-log-file")})
	evictionTimer := warmup.NewEvictionTimer(lpCache)

	if saved, err := os.ReadFile(cliCtx.String("state-file")); err == nil {
		blob := state.Restore(saved)
		meta.Restore(blob.MetadataEntries)
		lpCache.Restore(blob.LPEntries)
		settings.Restore(blob.UserSettings)
		metricsReg.Restore(blob.Metrics)
		resourcesMaintainer.Restore(blob.CyclesLog)
		log.Info("restored stable state", "path", cliCtx.String("state-file"))
	}

	disp := dispatch.New(eng, claimEng, settings, certStore, metricsReg, resourcesMaintainer, pools,
		dispatch.Prices{Call: cliCtx.Uint64("call-price"), Claim: cliCtx.Uint64("claim-price")},
		dispatch.VersionInfo{GitSHA: gitSHA, BuildTime: buildTime})

	server := &http.Server{
		Addr:         cliCtx.String("listen"),
		Handler:      httpapi.New(disp),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	heartbeatTicker := time.NewTicker(time.Minute)
	timerTicker := time.NewTicker(time.Hour)
	evictionTicker := time.NewTicker(time.Duration(clock.Week))
	defer heartbeatTicker.Stop()
	defer timerTicker.Stop()
	defer evictionTicker.Stop()

	go func() {
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-heartbeatTicker.C:
				disp.Heartbeat(bgCtx)
				warmupScheduler.Tick(bgCtx)
			case <-timerTicker.C:
				cfgLoader.Load()
				pools.Reload()
			case <-evictionTicker.C:
				evictionTimer.Fire()
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancelBg()

		blob := state.Blob{
			CyclesLog:       resourcesMaintainer.Events(),
			MetadataEntries: meta.Save(),
			LPEntries:       lpCache.Save(),
			UserSettings:    settings.Save(),
			Metrics:         metricsReg.Snapshot(),
		}
		data, err := state.Save(blob)
		if err == nil {
			if err := os.WriteFile(cliCtx.String("state-file"), data, 0o600); err != nil {
				log.Warn("failed to persist stable state", "err", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", "err", err)
		}
	}()

	log.Info("aggregatord listening", "addr", cliCtx.String("listen"))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("aggregatord stopped")
	return nil
}

// toSet turns a flag-provided identity list into the set shape
// claim.Config.Wallets/Denylist expect.
func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

// unconfiguredTransport satisfies every outbound collaborator interface
// (resolver.Prober, metacache.Fetcher, ledger.BalanceClient, neuron.Client,
// adapter.Client) with a uniform "not configured" failure. The concrete
// wire protocol to ledgers/neurons/DEX adapters is out of scope for this
// service (spec.md §1); a production deployment supplies a real
// implementation of these same interfaces in its place.
type unconfiguredTransport struct{}

var errTransportNotConfigured = errors.New("outbound transport not configured")

func (unconfiguredTransport) ProbeMetadata(ctx context.Context, id domain.EndpointID) error {
	return errTransportNotConfigured
}

func (unconfiguredTransport) ProbeControllers(ctx context.Context, id domain.EndpointID) ([]string, error) {
	return nil, errTransportNotConfigured
}

func (unconfiguredTransport) FetchMetadata(ctx context.Context, id domain.EndpointID) (metacache.Metadata, error) {
	return metacache.Metadata{}, errTransportNotConfigured
}

func (unconfiguredTransport) BalanceOf(ctx context.Context, id domain.EndpointID, user domain.UserID) (*big.Int, error) {
	return nil, errTransportNotConfigured
}

func (unconfiguredTransport) ListNeurons(ctx context.Context, user domain.UserID) ([]domain.Holding, error) {
	return nil, errTransportNotConfigured
}

func (unconfiguredTransport) Positions(ctx context.Context, id domain.EndpointID, user domain.UserID) ([]domain.Holding, error) {
	return nil, errTransportNotConfigured
}

func (unconfiguredTransport) Claimable(ctx context.Context, id domain.EndpointID, user domain.UserID) ([]domain.Reward, error) {
	return nil, errTransportNotConfigured
}

func (unconfiguredTransport) Claim(ctx context.Context, id domain.EndpointID, user domain.UserID) (string, error) {
	return "", errTransportNotConfigured
}
