package positions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"liquidationKeeper/internal/model"
	"liquidationKeeper/internal/risk"
)

// DefaultTrackMaxHF drops users whose borrowing power exceeds five times their debt.
var DefaultTrackMaxHF = decimal.NewFromInt(6)

// PositionSource reads a user's full position from chain.
type PositionSource interface {
	FetchPosition(ctx context.Context, user, pool string, block uint64) (model.Position, error)
}

// Market supplies the pool configs and prices used for significance checks.
type Market interface {
	Pool(pool string) (model.PoolSnapshot, bool)
	PriceSet(block uint64) (model.PriceSet, error)
}

// UserRegistry durably records users once they become significant.
type UserRegistry interface {
	UpsertUser(ctx context.Context, key model.PositionKey) error
}

type Config struct {
	SignificanceThreshold decimal.Decimal
	TrackMaxHF            decimal.Decimal
}

// Tracker owns the positions of significant users.
type Tracker struct {
	mu         sync.RWMutex
	positions  map[model.PositionKey]model.Position
	registered map[model.PositionKey]struct{}
	seen       *model.SeenSet

	cfg    Config
	source PositionSource
	market Market
	users  UserRegistry
	logger *zap.Logger
}

// NewTracker builds a tracker. users may be nil.
func NewTracker(cfg Config, source PositionSource, market Market, users UserRegistry, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TrackMaxHF.Sign() <= 0 {
		cfg.TrackMaxHF = DefaultTrackMaxHF
	}
	return &Tracker{
		positions:  make(map[model.PositionKey]model.Position),
		registered: make(map[model.PositionKey]struct{}),
		seen:       model.NewSeenSet(0),
		cfg:        cfg,
		source:     source,
		market:     market,
		users:      users,
		logger:     logger,
	}
}

// IsSignificant reports whether a position is worth tracking.
func (t *Tracker) IsSignificant(pos model.Position, pool model.PoolSnapshot, prices model.PriceSet) bool {
	if pos.IsEmpty() || !pos.HasLiabilities() {
		return false
	}
	snap, err := risk.Evaluate(pos, pool, prices)
	if err != nil {
		return false
	}
	if snap.WeightedLiability.LessThan(t.cfg.SignificanceThreshold) {
		return false
	}
	return !snap.HealthFactor.GreaterThan(t.cfg.TrackMaxHF)
}

// Ingest applies a pool event and returns the positions whose health may have changed.
// Events already seen are ignored.
func (t *Tracker) Ingest(ctx context.Context, ev model.PoolEvent) ([]model.PositionKey, error) {
	t.mu.Lock()
	fresh := t.seen.Add(ev.ID)
	t.mu.Unlock()
	if !fresh {
		return nil, nil
	}

	key := ev.PositionKey()
	switch ev.Kind {
	case model.PoolSupplyCollateral:
		return t.applyDelta(key, ev, func(p *model.Position) { p.AddCollateral(ev.Asset, ev.Tokens) }, false)
	case model.PoolRepay:
		return t.applyDelta(key, ev, func(p *model.Position) { p.AddLiability(ev.Asset, ev.Tokens.Neg()) }, false)
	case model.PoolBadDebt:
		return t.applyDelta(key, ev, func(p *model.Position) { p.AddLiability(ev.Asset, ev.Tokens.Neg()) }, false)
	case model.PoolWithdrawCollateral:
		if t.tracked(key) {
			return t.applyDelta(key, ev, func(p *model.Position) { p.AddCollateral(ev.Asset, ev.Tokens.Neg()) }, true)
		}
		return t.discover(ctx, key, ev.Block)
	case model.PoolBorrow:
		if t.tracked(key) {
			return t.applyDelta(key, ev, func(p *model.Position) { p.AddLiability(ev.Asset, ev.Tokens) }, true)
		}
		return t.discover(ctx, key, ev.Block)
	case model.PoolFillAuction:
		// fills move collateral and debt by amounts the event does not carry
		var keys []model.PositionKey
		for _, k := range []model.PositionKey{key, {User: ev.Filler, Pool: ev.Pool}} {
			if k.User == "" || !t.tracked(k) {
				continue
			}
			changed, err := t.Refetch(ctx, k, ev.Block)
			if err != nil {
				return keys, err
			}
			keys = append(keys, changed...)
		}
		return keys, nil
	default:
		return nil, nil
	}
}

func (t *Tracker) tracked(key model.PositionKey) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.positions[key]
	return ok
}

// applyDelta mutates a tracked position. Improving changes re-check significance.
func (t *Tracker) applyDelta(key model.PositionKey, ev model.PoolEvent, fn func(*model.Position), degrading bool) ([]model.PositionKey, error) {
	t.mu.Lock()
	pos, ok := t.positions[key]
	if !ok {
		t.mu.Unlock()
		return nil, nil
	}
	pos = pos.Clone()
	fn(&pos)
	pos.LastSeenBlock = ev.Block
	t.positions[key] = pos
	t.mu.Unlock()

	if !degrading && !t.keep(pos, ev.Block) {
		t.Remove(key)
		t.logger.Debug("position dropped", zap.String("position", key.String()), zap.String("event", string(ev.Kind)))
	}
	return []model.PositionKey{key}, nil
}

// keep decides whether a tracked position stays. Unknown significance keeps it.
func (t *Tracker) keep(pos model.Position, block uint64) bool {
	if pos.IsEmpty() {
		return false
	}
	ok, err := t.significance(pos, block)
	if err != nil {
		return true
	}
	return ok
}

func (t *Tracker) significance(pos model.Position, block uint64) (bool, error) {
	if t.market == nil {
		return false, fmt.Errorf("market is nil")
	}
	pool, ok := t.market.Pool(pos.Pool)
	if !ok {
		return false, fmt.Errorf("pool %s: %w", pos.Pool, model.ErrUnknownReserve)
	}
	prices, err := t.market.PriceSet(block)
	if err != nil {
		return false, err
	}
	return t.IsSignificant(pos, pool, prices), nil
}

// discover fetches an untracked user's position and starts tracking it when significant.
func (t *Tracker) discover(ctx context.Context, key model.PositionKey, block uint64) ([]model.PositionKey, error) {
	if t.source == nil {
		return nil, nil
	}
	pos, err := t.source.FetchPosition(ctx, key.User, key.Pool, block)
	if err != nil {
		return nil, fmt.Errorf("fetch position %s: %w", key, err)
	}
	pos.User, pos.Pool, pos.LastSeenBlock = key.User, key.Pool, block
	if pos.IsEmpty() {
		return nil, nil
	}

	significant, err := t.significance(pos, block)
	if err != nil {
		if !errors.Is(err, model.ErrStaleData) {
			return nil, fmt.Errorf("check significance %s: %w", key, err)
		}
		// keep it until fresh prices can say otherwise
		t.logger.Debug("tracking position with stale prices", zap.String("position", key.String()))
		significant = pos.HasLiabilities()
	}
	if !significant {
		return nil, nil
	}
	t.Track(ctx, pos)
	return []model.PositionKey{key}, nil
}

// Refetch replaces a position with the chain's view and drops it when no longer significant.
func (t *Tracker) Refetch(ctx context.Context, key model.PositionKey, block uint64) ([]model.PositionKey, error) {
	if t.source == nil {
		return nil, nil
	}
	pos, err := t.source.FetchPosition(ctx, key.User, key.Pool, block)
	if err != nil {
		return nil, fmt.Errorf("fetch position %s: %w", key, err)
	}
	pos.User, pos.Pool, pos.LastSeenBlock = key.User, key.Pool, block
	if !t.keep(pos, block) {
		t.Remove(key)
		return []model.PositionKey{key}, nil
	}
	t.mu.Lock()
	t.positions[key] = pos.Clone()
	t.mu.Unlock()
	return []model.PositionKey{key}, nil
}

// Track starts tracking a position and records the user once in the registry.
func (t *Tracker) Track(ctx context.Context, pos model.Position) {
	key := pos.Key()
	t.mu.Lock()
	t.positions[key] = pos.Clone()
	_, done := t.registered[key]
	t.mu.Unlock()

	if done || t.users == nil {
		return
	}
	if err := t.users.UpsertUser(ctx, key); err != nil {
		t.logger.Warn("upsert user failed", zap.Error(err), zap.String("position", key.String()))
		return
	}
	t.mu.Lock()
	t.registered[key] = struct{}{}
	t.mu.Unlock()
}

// Restore re-fetches mirrored users and tracks the significant ones.
func (t *Tracker) Restore(ctx context.Context, keys []model.PositionKey, block uint64) int {
	count := 0
	for _, key := range keys {
		t.mu.Lock()
		t.registered[key] = struct{}{}
		t.mu.Unlock()

		tracked, err := t.discover(ctx, key, block)
		if err != nil {
			t.logger.Warn("restore position failed", zap.Error(err), zap.String("position", key.String()))
			continue
		}
		count += len(tracked)
	}
	return count
}

// Prune drops tracked positions that are no longer significant at block.
func (t *Tracker) Prune(block uint64) []model.PositionKey {
	var dropped []model.PositionKey
	for _, pos := range t.Snapshot() {
		ok, err := t.significance(pos, block)
		if err != nil || ok {
			continue
		}
		t.Remove(pos.Key())
		dropped = append(dropped, pos.Key())
	}
	return dropped
}

func (t *Tracker) Get(user, pool string) (model.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[model.PositionKey{User: user, Pool: pool}]
	if !ok {
		return model.Position{}, false
	}
	return pos.Clone(), true
}

func (t *Tracker) Remove(key model.PositionKey) {
	t.mu.Lock()
	delete(t.positions, key)
	t.mu.Unlock()
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

// Keys lists tracked positions in a stable order.
func (t *Tracker) Keys() []model.PositionKey {
	t.mu.RLock()
	keys := make([]model.PositionKey, 0, len(t.positions))
	for k := range t.positions {
		keys = append(keys, k)
	}
	t.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Holding lists tracked positions that hold asset on either side.
func (t *Tracker) Holding(asset string) []model.PositionKey {
	t.mu.RLock()
	var keys []model.PositionKey
	for k, pos := range t.positions {
		_, c := pos.Collateral[asset]
		_, l := pos.Liabilities[asset]
		if c || l {
			keys = append(keys, k)
		}
	}
	t.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Snapshot returns copies of every tracked position in key order.
func (t *Tracker) Snapshot() []model.Position {
	keys := t.Keys()
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Position, 0, len(keys))
	for _, k := range keys {
		if pos, ok := t.positions[k]; ok {
			out = append(out, pos.Clone())
		}
	}
	return out
}
