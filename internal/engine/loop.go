package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"liquidationKeeper/internal/auction"
	"liquidationKeeper/internal/auctioneer"
	"liquidationKeeper/internal/cache"
	"liquidationKeeper/internal/inventory"
	"liquidationKeeper/internal/metrics"
	"liquidationKeeper/internal/model"
	"liquidationKeeper/internal/positions"
)

const (
	DefaultPendingRetryBlocks uint64 = 20
	DefaultMaxSubmitRetries          = 3
)

// Submitter hands an action to the chain and reports the outcome.
type Submitter interface {
	Submit(ctx context.Context, action model.Action) model.Outcome
}

// Mirror receives the final snapshot and auction set changes.
type Mirror interface {
	PutPrices(ctx context.Context, prices []model.AssetPrice) error
	PutPool(ctx context.Context, pool model.PoolSnapshot) error
	PutAuctions(ctx context.Context, auctions []model.Auction) error
}

// Journal records submission outcomes.
type Journal interface {
	RecordOutcomes(block uint64, outcomes ...model.Outcome) error
}

type Config struct {
	PendingRetryBlocks uint64
	MaxSubmitRetries   int
}

// Deps are the components the loop drives. Inventory, Arb, Mirror, Journal and Metrics
// are optional.
type Deps struct {
	Cache      *cache.Cache
	Tracker    *positions.Tracker
	Registry   *auction.Registry
	Auctioneer *auctioneer.Auctioneer
	Inventory  *inventory.Inventory
	Arb        *inventory.Arb
	Submitter  Submitter
	Mirror     Mirror
	Journal    Journal
	Metrics    *metrics.Metrics
}

// Loop is the single writer of the in-memory model. Every event is handled to completion
// before the next one; submissions run in their own goroutines and report back through
// the outcome channel.
type Loop struct {
	cfg  Config
	deps Deps

	block         uint64
	height        atomic.Uint64
	dirty         map[model.PositionKey]struct{}
	inventoryDue  bool
	auctionsDirty bool
	attempts      *attempts
	pending       int
	outcomes      chan model.Outcome
	stopping      bool

	logger *zap.Logger
}

func New(cfg Config, deps Deps, logger *zap.Logger) (*Loop, error) {
	if deps.Cache == nil || deps.Tracker == nil || deps.Registry == nil || deps.Auctioneer == nil {
		return nil, fmt.Errorf("cache, tracker, registry and auctioneer are required")
	}
	if deps.Submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if cfg.PendingRetryBlocks == 0 {
		cfg.PendingRetryBlocks = DefaultPendingRetryBlocks
	}
	if cfg.MaxSubmitRetries <= 0 {
		cfg.MaxSubmitRetries = DefaultMaxSubmitRetries
	}
	return &Loop{
		cfg:          cfg,
		deps:         deps,
		dirty:        make(map[model.PositionKey]struct{}),
		inventoryDue: deps.Inventory != nil,
		attempts:     newAttempts(cfg.PendingRetryBlocks, cfg.MaxSubmitRetries),
		outcomes:     make(chan model.Outcome, 64),
		logger:       logger,
	}, nil
}

// Block returns the last block the loop handled. Safe to call from any goroutine.
func (l *Loop) Block() uint64 {
	return l.height.Load()
}

// Run consumes chain events and marketplace orders until ctx is done, then drains
// in-flight submissions and persists the final snapshot. orders may be nil.
func (l *Loop) Run(ctx context.Context, chain <-chan model.Event, orders <-chan model.Event) error {
	for chain != nil || orders != nil {
		select {
		case <-ctx.Done():
			return l.shutdown()
		case ev, ok := <-chain:
			if !ok {
				chain = nil
				continue
			}
			l.Handle(ctx, ev)
		case ev, ok := <-orders:
			if !ok {
				orders = nil
				continue
			}
			l.Handle(ctx, ev)
		case out := <-l.outcomes:
			l.settle(out)
		}
	}
	l.logger.Info("event sources closed")
	return l.shutdown()
}

// Handle processes one event to completion.
func (l *Loop) Handle(ctx context.Context, ev model.Event) {
	if l.stopping {
		return
	}
	l.deps.Metrics.Events.WithLabelValues(string(ev.Kind)).Inc()
	switch ev.Kind {
	case model.EventPool:
		if ev.Pool != nil {
			l.onPoolEvent(ctx, *ev.Pool)
		}
	case model.EventNewBlock:
		l.onNewBlock(ctx, ev.Block)
	case model.EventMarketplaceOrder:
		if ev.Order != nil {
			l.onOrder(ctx, *ev.Order)
		}
	default:
		l.logger.Warn("unknown event kind", zap.String("kind", string(ev.Kind)))
	}
}

func (l *Loop) onPoolEvent(ctx context.Context, ev model.PoolEvent) {
	switch ev.Kind {
	case model.PoolOracleUpdate:
		l.deps.Cache.SetPrice(ctx, ev.Asset, ev.Price, ev.Block)
		l.markDirty(l.deps.Tracker.Holding(ev.Asset)...)
		return
	case model.PoolSetReserve:
		if _, err := l.deps.Cache.RefreshPool(ctx, ev.Pool, ev.Block); err != nil {
			l.logger.Warn("refresh pool failed", zap.String("pool", ev.Pool), zap.Error(err))
		}
		for _, key := range l.deps.Tracker.Keys() {
			if key.Pool == ev.Pool {
				l.markDirty(key)
			}
		}
		return
	case model.PoolSupply, model.PoolWithdraw, model.PoolSupplyCollateral, model.PoolWithdrawCollateral:
		l.deps.Cache.ApplyRate(ev.Pool, ev.Asset, ev.Amount, ev.Tokens, true)
	case model.PoolBorrow, model.PoolRepay:
		l.deps.Cache.ApplyRate(ev.Pool, ev.Asset, ev.Amount, ev.Tokens, false)
	case model.PoolNewLiquidationAuction, model.PoolNewAuction:
		l.onAuctionOpened(ev)
		return
	case model.PoolDeleteLiquidationAuction:
		l.onAuctionClosed(ev.AuctionID(), "deleted", l.deps.Registry.MarkExpired(ev.AuctionID()))
		l.markDirty(ev.PositionKey())
		return
	case model.PoolFillAuction:
		status, changed := l.deps.Registry.ApplyFill(ev.ID, ev.AuctionID(), ev.FillPercent)
		if changed {
			l.auctionsDirty = true
		}
		if changed && status == model.AuctionFilled {
			l.onAuctionClosed(ev.AuctionID(), "filled", true)
		}
	}

	if l.deps.Inventory != nil && (l.deps.Inventory.IsAccount(ev.User) || l.deps.Inventory.IsAccount(ev.Filler)) {
		l.inventoryDue = true
	}
	keys, err := l.deps.Tracker.Ingest(ctx, ev)
	if err != nil {
		l.logger.Warn("ingest pool event failed",
			zap.String("event", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err),
		)
	}
	l.markDirty(keys...)
}

func (l *Loop) onAuctionOpened(ev model.PoolEvent) {
	au := model.Auction{
		ID:         ev.AuctionID(),
		Bid:        model.CloneAmounts(ev.Bid),
		Lot:        model.CloneAmounts(ev.Lot),
		StartBlock: ev.AuctionBlock,
		Status:     model.AuctionOpen,
	}
	if au.StartBlock == 0 {
		au.StartBlock = ev.Block
	}
	if !l.deps.Registry.RecordNew(au) {
		return
	}
	l.auctionsDirty = true
	l.deps.Auctioneer.OnAuctionOpened(au)
	if au.ID.Kind != model.AuctionInterest {
		key := model.PositionKey{User: au.ID.User, Pool: au.ID.Pool}
		l.attempts.clear(model.CreateAuctionID(key, au.ID.Kind))
	}
	l.logger.Info("auction opened",
		zap.String("auction", au.ID.String()),
		zap.Uint64("start_block", au.StartBlock),
	)
}

func (l *Loop) onAuctionClosed(id model.AuctionID, how string, changed bool) {
	if !changed {
		return
	}
	l.auctionsDirty = true
	l.deps.Auctioneer.OnAuctionClosed(id)
	l.attempts.clear(model.FillAuctionID(id))
	l.markDirty(model.PositionKey{User: id.User, Pool: id.Pool})
	l.logger.Info("auction closed", zap.String("auction", id.String()), zap.String("how", how))
}

func (l *Loop) onNewBlock(ctx context.Context, block uint64) {
	timer := time.Now()
	defer func() {
		l.deps.Metrics.BlockProcessing.Observe(time.Since(timer).Seconds())
	}()
	if block > l.block {
		l.block = block
		l.height.Store(block)
	}

	refreshed, err := l.deps.Cache.Tick(ctx, block)
	if err != nil {
		l.logger.Warn("cache refresh failed", zap.Uint64("block", block), zap.Error(err))
	}
	if refreshed {
		for _, key := range l.deps.Tracker.Prune(block) {
			l.deps.Auctioneer.Forget(key)
		}
		l.markDirty(l.deps.Tracker.Keys()...)
		if l.deps.Inventory != nil {
			l.inventoryDue = true
		}
	}

	if l.deps.Inventory != nil && l.inventoryDue {
		if err := l.deps.Inventory.Reconcile(ctx, block); err != nil {
			l.logger.Warn("inventory reconcile failed", zap.Uint64("block", block), zap.Error(err))
		} else {
			l.inventoryDue = false
		}
	}

	l.evaluateUsers(block)
	l.fillAuctions(ctx, block)
	l.rebalance(block)
	l.attempts.sweep(block)
	l.persistAuctions(ctx)

	l.deps.Metrics.LastBlock.Set(float64(block))
	l.deps.Metrics.TrackedUsers.Set(float64(l.deps.Tracker.Len()))
	l.deps.Metrics.OpenAuctions.Set(float64(l.deps.Registry.Len()))
}

func (l *Loop) evaluateUsers(block uint64) {
	for _, key := range l.deps.Auctioneer.PendingDue(block) {
		l.markDirty(key)
	}
	keys := make([]model.PositionKey, 0, len(l.dirty))
	for key := range l.dirty {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, key := range keys {
		pos, ok := l.deps.Tracker.Get(key.User, key.Pool)
		if !ok {
			l.deps.Auctioneer.Forget(key)
			delete(l.dirty, key)
			continue
		}
		actions, err := l.deps.Auctioneer.EvaluateUser(pos, block)
		if err != nil {
			if errors.Is(err, model.ErrStaleData) {
				// retried on the next block
				l.skip("stale_data", zap.String("position", key.String()), zap.Error(err))
				continue
			}
			l.skip("evaluate_error", zap.String("position", key.String()), zap.Error(err))
		}
		delete(l.dirty, key)
		for _, action := range actions {
			l.dispatch(action)
		}
	}
}

func (l *Loop) fillAuctions(ctx context.Context, block uint64) {
	if l.deps.Registry.Len() == 0 {
		return
	}
	if err := l.deps.Cache.EnsureFresh(ctx, block); err != nil {
		l.logger.Warn("refresh before fill failed", zap.Uint64("block", block), zap.Error(err))
	}
	candidates, skipped := l.deps.Auctioneer.FillCandidates(block)
	for _, s := range skipped {
		l.deps.Metrics.Skipped.WithLabelValues(s.Reason).Inc()
	}
	for _, c := range candidates {
		l.dispatch(c.Action)
	}
}

func (l *Loop) rebalance(block uint64) {
	if l.deps.Inventory == nil {
		return
	}
	actions, err := l.deps.Inventory.RebalanceActions(block)
	if err != nil {
		l.skip(reasonOf(err), zap.String("stage", "rebalance"), zap.Error(err))
	}
	for _, action := range actions {
		l.dispatch(action)
	}
}

func (l *Loop) onOrder(ctx context.Context, order model.MarketOrder) {
	if l.deps.Arb == nil {
		return
	}
	if order.Kind == model.OrderCancel {
		l.deps.Arb.Forget(order.ID)
		l.attempts.clear(model.ArbID(order.ID))
		return
	}
	action, err := l.deps.Arb.Evaluate(ctx, order)
	if err != nil {
		l.skip("quote_error", zap.String("order", order.ID), zap.Error(err))
		return
	}
	if action == nil {
		return
	}
	action.Block = l.block
	if !l.dispatch(*action) {
		l.deps.Arb.Release(order.ID, false)
	}
}

// dispatch submits an action unless the retry policy holds it back.
func (l *Loop) dispatch(action model.Action) bool {
	if l.stopping {
		return false
	}
	ok, reason := l.attempts.admit(action.ID, l.block)
	if !ok {
		l.deps.Metrics.Skipped.WithLabelValues(reason).Inc()
		l.logger.Debug("action held back", zap.String("action_id", action.ID), zap.String("reason", reason))
		return false
	}
	l.pending++
	l.deps.Metrics.Actions.WithLabelValues(string(action.Type)).Inc()
	l.logger.Info("action emitted",
		zap.String("action_id", action.ID),
		zap.String("request_id", action.RequestID),
		zap.String("type", string(action.Type)),
		zap.Uint64("block", l.block),
	)

	submitter, out := l.deps.Submitter, l.outcomes
	go func() {
		// outcomes of in-flight submissions are awaited on shutdown
		out <- submitter.Submit(context.Background(), action)
	}()
	return true
}

func (l *Loop) settle(out model.Outcome) {
	l.pending--
	action := out.Action
	l.deps.Metrics.Outcomes.WithLabelValues(string(action.Type), string(out.Status)).Inc()
	if l.deps.Journal != nil {
		if err := l.deps.Journal.RecordOutcomes(l.block, out); err != nil {
			l.logger.Warn("journal write failed", zap.Error(err))
		}
	}

	failure := l.outcomeErr(out)
	if errors.Is(failure, model.ErrRaceLost) {
		l.attempts.drop(action.ID)
		l.skip(reasonOf(failure), zap.String("action_id", action.ID), zap.String("reason", out.Reason))
		return
	}

	exhausted := l.attempts.settle(out)
	if action.Type == model.ActionArbExecute && l.deps.Arb != nil {
		l.deps.Arb.Release(action.OrderID, out.Status == model.OutcomeSubmitted)
	}

	if out.Status == model.OutcomeSubmitted {
		l.logger.Info("action submitted",
			zap.String("action_id", action.ID),
			zap.String("tx", out.TxRef),
		)
		if action.Type == model.ActionRepay || action.Type == model.ActionSwap || action.Type == model.ActionFillAuction {
			l.inventoryDue = l.deps.Inventory != nil
		}
		return
	}

	l.logger.Warn("action failed",
		zap.String("action_id", action.ID),
		zap.String("status", string(out.Status)),
		zap.String("class", reasonOf(failure)),
		zap.String("reason", out.Reason),
	)
	if !exhausted {
		return
	}
	l.skip("retries_exhausted", zap.String("action_id", action.ID), zap.String("last_reason", out.Reason))
	if action.Type == model.ActionCreateAuction {
		l.deps.Auctioneer.GiveUp(model.PositionKey{User: action.User, Pool: action.Pool})
	}
}

// outcomeErr classifies a failed outcome. A rejected fill whose auction is no longer open
// was beaten by another filler and is not retried.
func (l *Loop) outcomeErr(out model.Outcome) error {
	if out.Status == model.OutcomeSubmitted {
		return nil
	}
	err := out.Err
	if err == nil {
		err = errors.New(out.Reason)
	}
	if out.Status != model.OutcomeRejected || out.Action.Type != model.ActionFillAuction {
		return err
	}
	id := model.AuctionID{Pool: out.Action.Pool, User: out.Action.User, Kind: out.Action.Kind}
	if au, ok := l.deps.Registry.Get(id); ok && au.Status == model.AuctionOpen {
		return err
	}
	return fmt.Errorf("fill %s: %w", id, model.ErrRaceLost)
}

// Drain waits for every in-flight submission and settles it.
func (l *Loop) Drain(ctx context.Context) error {
	for l.pending > 0 {
		select {
		case out := <-l.outcomes:
			l.settle(out)
		case <-ctx.Done():
			return fmt.Errorf("drain submissions: %w", ctx.Err())
		}
	}
	return nil
}

func (l *Loop) shutdown() error {
	l.stopping = true
	l.logger.Info("shutting down", zap.Int("in_flight", l.pending))
	if err := l.Drain(context.Background()); err != nil {
		return err
	}
	return l.Persist(context.Background())
}

// Persist writes the current prices, pools and open auctions to the mirror.
func (l *Loop) Persist(ctx context.Context) error {
	if l.deps.Mirror == nil {
		return nil
	}
	if err := l.deps.Mirror.PutPrices(ctx, l.deps.Cache.PriceSnapshot()); err != nil {
		return fmt.Errorf("persist prices: %w", err)
	}
	for _, pool := range l.deps.Cache.PoolSnapshots() {
		if err := l.deps.Mirror.PutPool(ctx, pool); err != nil {
			return fmt.Errorf("persist pool %s: %w", pool.Pool, err)
		}
	}
	if err := l.deps.Mirror.PutAuctions(ctx, l.deps.Registry.Snapshot()); err != nil {
		return fmt.Errorf("persist auctions: %w", err)
	}
	l.auctionsDirty = false
	return nil
}

func (l *Loop) persistAuctions(ctx context.Context) {
	if !l.auctionsDirty || l.deps.Mirror == nil {
		return
	}
	if err := l.deps.Mirror.PutAuctions(ctx, l.deps.Registry.Snapshot()); err != nil {
		l.logger.Warn("mirror auctions failed", zap.Error(err))
		return
	}
	l.auctionsDirty = false
}

func (l *Loop) markDirty(keys ...model.PositionKey) {
	for _, key := range keys {
		l.dirty[key] = struct{}{}
	}
}

func (l *Loop) skip(reason string, fields ...zap.Field) {
	l.deps.Metrics.Skipped.WithLabelValues(reason).Inc()
	l.logger.Info("opportunity skipped", append([]zap.Field{zap.String("reason", reason)}, fields...)...)
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, model.ErrStaleData):
		return "stale_data"
	case errors.Is(err, model.ErrUnknownReserve):
		return "unknown_reserve"
	case errors.Is(err, model.ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, model.ErrRaceLost):
		return "race_lost"
	case errors.Is(err, model.ErrSubmissionRejected):
		return "rejected"
	default:
		return "error"
	}
}
