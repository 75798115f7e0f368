package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidationKeeper/internal/auction"
	"liquidationKeeper/internal/auctioneer"
	"liquidationKeeper/internal/cache"
	"liquidationKeeper/internal/chain"
	"liquidationKeeper/internal/collector"
	"liquidationKeeper/internal/config"
	"liquidationKeeper/internal/engine"
	"liquidationKeeper/internal/inventory"
	"liquidationKeeper/internal/lending"
	"liquidationKeeper/internal/metrics"
	"liquidationKeeper/internal/model"
	"liquidationKeeper/internal/positions"
	"liquidationKeeper/internal/risk"
	"liquidationKeeper/internal/storage"
	"liquidationKeeper/internal/storage/memory"
	"liquidationKeeper/internal/storage/postgres"
	"liquidationKeeper/internal/storage/redis"
	"liquidationKeeper/internal/storage/sqlite"
	"liquidationKeeper/internal/stream"
	"liquidationKeeper/internal/submit"
)

func runKeeper(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg, err = normalizeAddresses(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	reader, err := lending.NewReader(chainClient, lending.ReaderConfig{
		Oracle:         cfg.Oracle,
		OracleDecimals: cfg.OracleDecimals,
		Router:         cfg.Router,
	}, logger.Named("reader"))
	if err != nil {
		return err
	}

	assets, err := validateMarket(ctx, reader, cfg, logger)
	if err != nil {
		return err
	}

	mirror, err := openMirror(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open mirror: %w", err)
	}
	defer mirror.Close()

	snap, err := mirror.Load(ctx)
	if err != nil {
		logger.Warn("mirror load failed, starting empty", zap.Error(err))
		snap = storage.Snapshot{}
	}

	head, err := chainClient.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	keeperMetrics := metrics.New(registry)

	priceCache := cache.New(assets, cfg.Pools, cfg.RefreshBlocks, reader, reader, mirror, logger.Named("cache"))
	priceCache.Restore(snap.Pools)
	backstop, err := backstopToken(ctx, reader, cfg)
	if err != nil {
		return err
	}
	holdingAssets := assets
	if backstop.Token != "" {
		priceCache.SetBackstop(backstop.Token, cfg.BackstopQuote, reader)
		holdingAssets = append(append([]string(nil), assets...), backstop.Token)
	}
	if err := priceCache.Refresh(ctx, head); err != nil {
		logger.Warn("initial refresh failed", zap.Uint64("block", head), zap.Error(err))
	}

	tracker := positions.NewTracker(positions.Config{
		SignificanceThreshold: cfg.SignificanceThreshold,
		TrackMaxHF:            cfg.TrackMaxHF,
	}, reader, priceCache, mirror, logger.Named("positions"))
	auctions := auction.NewRegistry()
	inv := inventory.New(inventory.Config{
		Account:     cfg.Account,
		Assets:      holdingAssets,
		Pools:       cfg.Pools,
		MinHF:       cfg.MinHF,
		SwapEnabled: cfg.SwapEnabled,
	}, reader, priceCache, logger.Named("inventory"))
	auc := auctioneer.New(auctioneer.Config{
		MinHF:                cfg.MinHF,
		RequiredProfit:       cfg.RequiredProfit,
		BidPercentage:        cfg.BidPercentage,
		FillCost:             cfg.FillCost,
		TrackMaxHF:           cfg.TrackMaxHF,
		PendingRetryBlocks:   cfg.PendingRetryBlocks,
		SupportedCollateral:  cfg.SupportedCollateral,
		SupportedLiabilities: cfg.SupportedLiabilities,
		Backstop:             backstop,
	}, priceCache, auctions, inv, logger.Named("auctioneer"))

	restored := tracker.Restore(ctx, snap.Users, head)
	candidates := startupAuctions(snap.Auctions, tracker.Keys(), cfg.Pools, cfg.Backstop)
	open := restoreAuctions(ctx, reader, auctions, auc, candidates, head, logger)
	logger.Info("state restored",
		zap.Int("users", restored),
		zap.Int("mirrored_users", len(snap.Users)),
		zap.Int("auctions", open),
		zap.Int("auctions_scanned", len(candidates)),
		zap.Uint64("head", head),
	)

	encoder, err := lending.NewEncoder(cfg.Executor, reader)
	if err != nil {
		return err
	}
	var submitter engine.Submitter
	if cfg.DryRun {
		submitter = submit.NewDryRunSubmitter(cfg.Account, encoder, chainClient, logger.Named("submit"))
	} else {
		submitter, err = submit.NewChainSubmitter(cfg.Account, encoder, chainClient, cfg.SubmitRate, logger.Named("submit"))
		if err != nil {
			return err
		}
	}

	deps := engine.Deps{
		Cache:      priceCache,
		Tracker:    tracker,
		Registry:   auctions,
		Auctioneer: auc,
		Inventory:  inv,
		Submitter:  submitter,
		Mirror:     mirror,
		Metrics:    keeperMetrics,
	}
	if journal := storage.NewJournal(cfg.Journal); journal != nil {
		deps.Journal = journal
	}
	if cfg.ArbEnabled() {
		deps.Arb = inventory.NewArb(cfg.SupportedCollateral, cfg.ArbFee, reader, logger.Named("arb"))
	}
	loop, err := engine.New(engine.Config{
		PendingRetryBlocks: cfg.PendingRetryBlocks,
		MaxSubmitRetries:   cfg.MaxSubmitRetries,
	}, deps, logger.Named("engine"))
	if err != nil {
		return err
	}

	decoder, err := lending.NewDecoder(lending.DecoderConfig{
		Pools:          cfg.Pools,
		Oracle:         cfg.Oracle,
		OracleDecimals: cfg.OracleDecimals,
	})
	if err != nil {
		return err
	}
	source := collector.New(collector.Config{
		FromBlock:         cfg.FromBlock,
		BatchSize:         cfg.BatchSize,
		PollInterval:      cfg.PollInterval,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		Pools:             cfg.Pools,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
	}, chainClient, decoder, logger.Named("collector"))

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, registry, logger)
	}

	logger.Info("keeper start",
		zap.String("rpc", cfg.RPCURL),
		zap.Strings("pools", cfg.Pools),
		zap.Int("assets", len(assets)),
		zap.String("account", cfg.Account),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("arbitrage", cfg.ArbEnabled()),
		zap.String("mirror", cfg.Mirror),
	)

	var (
		wg          sync.WaitGroup
		chainEvents = make(chan model.Event, 256)
		orders      chan model.Event
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := source.Run(ctx, chainEvents); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("collector stopped", zap.Error(err))
			stop()
		}
	}()
	if deps.Arb != nil {
		orders = make(chan model.Event, 64)
		orderStream := stream.NewOrderStream(stream.Options{
			URL:       cfg.OrdersWS,
			Normalize: lending.NormalizeAddress,
		}, logger.Named("orders"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := orderStream.Run(ctx, orders); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("order stream stopped", zap.Error(err))
			}
		}()
	}

	err = loop.Run(ctx, chainEvents, orders)
	stop()
	wg.Wait()
	logger.Info("keeper stopped", zap.Uint64("block", loop.Block()))
	return err
}

// normalizeAddresses rewrites every configured address into the checksummed ids used
// across the keeper.
func normalizeAddresses(cfg config.Config) (config.Config, error) {
	var err error
	if cfg.Pools, err = normalizeAll(cfg.Pools); err != nil {
		return cfg, err
	}
	if cfg.SupportedCollateral, err = normalizeAll(cfg.SupportedCollateral); err != nil {
		return cfg, err
	}
	if cfg.SupportedLiabilities, err = normalizeAll(cfg.SupportedLiabilities); err != nil {
		return cfg, err
	}
	for _, field := range []*string{&cfg.Oracle, &cfg.Account, &cfg.Executor, &cfg.Router, &cfg.Backstop, &cfg.BackstopToken, &cfg.BackstopQuote} {
		if *field == "" {
			continue
		}
		if *field, err = lending.NormalizeAddress(*field); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func normalizeAll(items []string) ([]string, error) {
	out := make([]string, 0, len(items))
	for _, item := range items {
		id, err := lending.NormalizeAddress(item)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// validateMarket checks that every pool answers getReserveList and that every supported
// asset is a reserve of some pool. It returns the union of reserve assets.
func validateMarket(ctx context.Context, reader *lending.Reader, cfg config.Config, logger *zap.Logger) ([]string, error) {
	reserves := make(map[string]struct{})
	for _, pool := range cfg.Pools {
		assets, err := reader.ReserveList(ctx, pool, 0)
		if err != nil {
			return nil, &model.ConfigError{Field: "pools", Value: pool, Reason: fmt.Sprintf("getReserveList failed: %v", err)}
		}
		for _, asset := range assets {
			reserves[asset] = struct{}{}
		}
	}
	for field, list := range map[string][]string{
		"supported-collateral":  cfg.SupportedCollateral,
		"supported-liabilities": cfg.SupportedLiabilities,
	} {
		for _, asset := range list {
			if _, ok := reserves[asset]; !ok {
				return nil, &model.ConfigError{Field: field, Value: asset, Reason: "not a reserve of any configured pool"}
			}
		}
	}

	if cfg.BackstopQuote != "" {
		if _, ok := reserves[cfg.BackstopQuote]; !ok {
			return nil, &model.ConfigError{Field: "backstop-quote", Value: cfg.BackstopQuote, Reason: "not a reserve of any configured pool"}
		}
	}

	if onChain, err := reader.OracleDecimals(ctx); err != nil {
		logger.Warn("oracle decimals unavailable", zap.Error(err))
	} else if onChain != cfg.OracleDecimals {
		logger.Warn("oracle decimals differ from config, using config",
			zap.Int32("configured", cfg.OracleDecimals),
			zap.Int32("oracle", onChain),
		)
	}

	out := make([]string, 0, len(reserves))
	for asset := range reserves {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out, nil
}

// auctionReader reads one auction from chain.
type auctionReader interface {
	FetchAuction(ctx context.Context, pool, user string, kind model.AuctionKind, block uint64) (model.Auction, bool, error)
}

// startupAuctions lists every auction the keeper may act on after a restart: the mirrored
// ones, a liquidation per tracked user, and the backstop's bad debt and interest auctions
// in each pool.
func startupAuctions(mirrored []model.Auction, tracked []model.PositionKey, pools []string, backstop string) []model.AuctionID {
	seen := make(map[model.AuctionID]struct{})
	var out []model.AuctionID
	add := func(id model.AuctionID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, au := range mirrored {
		add(au.ID)
	}
	for _, key := range tracked {
		add(model.AuctionID{Pool: key.Pool, User: key.User, Kind: model.AuctionLiquidation})
	}
	if backstop != "" {
		for _, pool := range pools {
			add(model.AuctionID{Pool: pool, User: backstop, Kind: model.AuctionBadDebt})
			add(model.AuctionID{Pool: pool, User: backstop, Kind: model.AuctionInterest})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// restoreAuctions reads each candidate auction at head and registers the ones still open.
func restoreAuctions(ctx context.Context, reader auctionReader, registry *auction.Registry, auc *auctioneer.Auctioneer, candidates []model.AuctionID, head uint64, logger *zap.Logger) int {
	live := make([]model.Auction, 0, len(candidates))
	for _, id := range candidates {
		current, ok, err := reader.FetchAuction(ctx, id.Pool, id.User, id.Kind, head)
		if err != nil {
			logger.Warn("restore auction failed", zap.String("auction", id.String()), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		live = append(live, current)
	}
	count := registry.Restore(live)
	for _, au := range registry.Open() {
		auc.OnAuctionOpened(au)
	}
	return count
}

// backstopToken reads the backstop LP token's decimals. An unset token disables backstop
// valuation and auctions paying in it are skipped as unknown reserves.
func backstopToken(ctx context.Context, reader *lending.Reader, cfg config.Config) (risk.Backstop, error) {
	if cfg.BackstopToken == "" {
		return risk.Backstop{}, nil
	}
	decimals, err := reader.TokenDecimals(ctx, cfg.BackstopToken)
	if err != nil {
		return risk.Backstop{}, &model.ConfigError{Field: "backstop-token", Value: cfg.BackstopToken, Reason: fmt.Sprintf("decimals: %v", err)}
	}
	return risk.Backstop{Token: cfg.BackstopToken, Decimals: decimals}, nil
}

func openMirror(ctx context.Context, cfg config.Config) (*storage.Mirror, error) {
	switch cfg.Mirror {
	case config.MirrorPostgres:
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		return storage.NewMirror(store), nil
	case config.MirrorRedis:
		store, err := redis.NewStore(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, "keeper")
		if err != nil {
			return nil, err
		}
		return storage.NewMirror(store), nil
	case config.MirrorSQLite:
		store, err := sqlite.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return storage.NewMirror(store), nil
	default:
		return storage.NewMirror(memory.NewStore()), nil
	}
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", zap.Error(err))
	}
}
