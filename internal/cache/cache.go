package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"liquidationKeeper/internal/model"
)

// DefaultCadence is the number of blocks between periodic refreshes.
const DefaultCadence uint64 = 10

// PriceSource reads oracle prices.
type PriceSource interface {
	FetchPrices(ctx context.Context, assets []string, block uint64) (map[string]decimal.Decimal, error)
}

// PoolSource reads pool reserve configurations.
type PoolSource interface {
	FetchPool(ctx context.Context, pool string, block uint64) (model.PoolSnapshot, error)
}

// Quoter prices one token in another through a swap router, in whole units.
type Quoter interface {
	QuoteSell(ctx context.Context, asset, quote string, amount decimal.Decimal) (decimal.Decimal, error)
}

// Mirror receives write-through copies of refreshed data.
type Mirror interface {
	PutPrices(ctx context.Context, prices []model.AssetPrice) error
	PutPool(ctx context.Context, pool model.PoolSnapshot) error
}

// Cache holds oracle prices and pool reserve configs with bounded staleness.
type Cache struct {
	mu          sync.RWMutex
	prices      map[string]model.AssetPrice
	pools       map[string]model.PoolSnapshot
	assets      []string
	poolIDs     []string
	cadence     uint64
	lastRefresh uint64
	refreshed   bool

	priceSource PriceSource
	poolSource  PoolSource
	mirror      Mirror
	logger      *zap.Logger

	backstopToken string
	backstopQuote string
	quoter        Quoter
}

// New builds a cache for the given assets and pools. mirror may be nil.
func New(assets, pools []string, cadence uint64, prices PriceSource, poolSource PoolSource, mirror Mirror, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cadence == 0 {
		cadence = DefaultCadence
	}
	return &Cache{
		prices:      make(map[string]model.AssetPrice),
		pools:       make(map[string]model.PoolSnapshot),
		assets:      dedupe(assets),
		poolIDs:     dedupe(pools),
		cadence:     cadence,
		priceSource: prices,
		poolSource:  poolSource,
		mirror:      mirror,
		logger:      logger,
	}
}

// Cadence returns the refresh cadence in blocks.
func (c *Cache) Cadence() uint64 {
	return c.cadence
}

// Assets returns the tracked asset ids.
func (c *Cache) Assets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.assets...)
}

// Pools returns the tracked pool ids.
func (c *Cache) Pools() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.poolIDs...)
}

// SetBackstop prices the backstop LP token on every refresh by quoting one whole token
// into quote, which must be an oracle-priced reserve. The token is never sent to the oracle.
func (c *Cache) SetBackstop(token, quote string, quoter Quoter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backstopToken = token
	c.backstopQuote = quote
	c.quoter = quoter
}

// RefreshPrices fetches prices for assets and returns how many were updated.
func (c *Cache) RefreshPrices(ctx context.Context, assets []string, block uint64) (int, error) {
	if c.priceSource == nil {
		return 0, fmt.Errorf("price source is nil")
	}
	if len(assets) == 0 {
		return 0, nil
	}
	fetched, err := c.priceSource.FetchPrices(ctx, assets, block)
	if err != nil {
		return 0, fmt.Errorf("fetch prices: %w", err)
	}

	updates := make([]model.AssetPrice, 0, len(fetched))
	c.mu.Lock()
	for asset, price := range fetched {
		p := model.AssetPrice{Asset: asset, Price: price, UpdatedBlock: block}
		c.prices[asset] = p
		updates = append(updates, p)
		if !contains(c.assets, asset) {
			c.assets = append(c.assets, asset)
		}
	}
	c.mu.Unlock()

	if c.mirror != nil && len(updates) > 0 {
		sort.Slice(updates, func(i, j int) bool { return updates[i].Asset < updates[j].Asset })
		if err := c.mirror.PutPrices(ctx, updates); err != nil {
			c.logger.Warn("mirror prices failed", zap.Error(err), zap.Uint64("block", block))
		}
	}
	return len(updates), nil
}

// RefreshPool fetches and stores a pool's reserve configs.
func (c *Cache) RefreshPool(ctx context.Context, pool string, block uint64) (model.PoolSnapshot, error) {
	if c.poolSource == nil {
		return model.PoolSnapshot{}, fmt.Errorf("pool source is nil")
	}
	snap, err := c.poolSource.FetchPool(ctx, pool, block)
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("fetch pool %s: %w", pool, err)
	}
	snap.Pool = pool
	snap.UpdatedBlock = block

	c.mu.Lock()
	c.pools[pool] = snap.Clone()
	if !contains(c.poolIDs, pool) {
		c.poolIDs = append(c.poolIDs, pool)
	}
	c.mu.Unlock()

	if c.mirror != nil {
		if err := c.mirror.PutPool(ctx, snap); err != nil {
			c.logger.Warn("mirror pool failed", zap.Error(err), zap.String("pool", pool))
		}
	}
	return snap, nil
}

// Refresh reloads every pool and every known asset price.
func (c *Cache) Refresh(ctx context.Context, block uint64) error {
	for _, pool := range c.Pools() {
		snap, err := c.RefreshPool(ctx, pool, block)
		if err != nil {
			return err
		}
		c.mu.Lock()
		for _, asset := range snap.Assets() {
			if !contains(c.assets, asset) {
				c.assets = append(c.assets, asset)
			}
		}
		c.mu.Unlock()
	}

	if _, err := c.RefreshPrices(ctx, c.Assets(), block); err != nil {
		return err
	}
	c.refreshBackstop(ctx, block)

	c.mu.Lock()
	c.lastRefresh = block
	c.refreshed = true
	c.mu.Unlock()

	c.logger.Debug("cache refreshed", zap.Uint64("block", block))
	return nil
}

// refreshBackstop leaves the previous backstop price in place on failure; it goes stale
// after one cadence and auctions paying in it are skipped until a quote succeeds.
func (c *Cache) refreshBackstop(ctx context.Context, block uint64) {
	c.mu.RLock()
	token, quote, quoter := c.backstopToken, c.backstopQuote, c.quoter
	c.mu.RUnlock()
	if token == "" || quoter == nil {
		return
	}
	quotePrice, err := c.Price(quote, block)
	if err != nil {
		c.logger.Warn("backstop quote asset unpriced", zap.String("quote", quote), zap.Error(err))
		return
	}
	out, err := quoter.QuoteSell(ctx, token, quote, decimal.NewFromInt(1))
	if err != nil {
		c.logger.Warn("backstop quote failed", zap.String("token", token), zap.Error(err))
		return
	}
	p := model.AssetPrice{Asset: token, Price: out.Mul(quotePrice), UpdatedBlock: block}
	c.mu.Lock()
	c.prices[token] = p
	c.mu.Unlock()

	if c.mirror != nil {
		if err := c.mirror.PutPrices(ctx, []model.AssetPrice{p}); err != nil {
			c.logger.Warn("mirror backstop price failed", zap.Error(err), zap.Uint64("block", block))
		}
	}
}

// Due reports whether data would be older than the cadence at block.
func (c *Cache) Due(block uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.refreshed || block >= c.lastRefresh+c.cadence
}

// Tick runs the periodic refresh and reports whether one happened.
func (c *Cache) Tick(ctx context.Context, block uint64) (bool, error) {
	if !c.Due(block) {
		return false, nil
	}
	if err := c.Refresh(ctx, block); err != nil {
		return false, err
	}
	return true, nil
}

// EnsureFresh forces a refresh when cached data would be stale at block.
func (c *Cache) EnsureFresh(ctx context.Context, block uint64) error {
	_, err := c.Tick(ctx, block)
	return err
}

// Price returns the price of asset, or a stale error when it is missing or too old.
func (c *Cache) Price(asset string, block uint64) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.priceLocked(asset, block)
}

func (c *Cache) priceLocked(asset string, block uint64) (decimal.Decimal, error) {
	p, ok := c.prices[asset]
	if !ok {
		return decimal.Zero, &model.StalePriceError{Asset: asset, Block: block, Never: true}
	}
	if block > p.UpdatedBlock && block-p.UpdatedBlock > c.cadence {
		return decimal.Zero, &model.StalePriceError{Asset: asset, Block: block, UpdatedBlock: p.UpdatedBlock}
	}
	return p.Price, nil
}

// PriceSet returns every fresh oracle price, failing on the first stale one. A fresh
// backstop price is included; a stale one is left out for the valuation to report.
func (c *Cache) PriceSet(block uint64) (model.PriceSet, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(model.PriceSet, len(c.prices))
	for _, asset := range c.assets {
		price, err := c.priceLocked(asset, block)
		if err != nil {
			return nil, err
		}
		out[asset] = price
	}
	if c.backstopToken != "" && !contains(c.assets, c.backstopToken) {
		if price, err := c.priceLocked(c.backstopToken, block); err == nil {
			out[c.backstopToken] = price
		}
	}
	return out, nil
}

// Pool returns a copy of a cached pool snapshot.
func (c *Cache) Pool(pool string) (model.PoolSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.pools[pool]
	if !ok {
		return model.PoolSnapshot{}, false
	}
	return snap.Clone(), true
}

// SetPrice records a pushed oracle price for one asset.
func (c *Cache) SetPrice(ctx context.Context, asset string, price decimal.Decimal, block uint64) {
	p := model.AssetPrice{Asset: asset, Price: price, UpdatedBlock: block}
	c.mu.Lock()
	c.prices[asset] = p
	if !contains(c.assets, asset) {
		c.assets = append(c.assets, asset)
	}
	c.mu.Unlock()

	if c.mirror != nil {
		if err := c.mirror.PutPrices(ctx, []model.AssetPrice{p}); err != nil {
			c.logger.Warn("mirror price failed", zap.Error(err), zap.String("asset", asset))
		}
	}
}

// ApplyRate re-estimates a b- or d-token rate from an event's underlying amount and token delta.
func (c *Cache) ApplyRate(pool, asset string, amount, tokens decimal.Decimal, bRate bool) bool {
	if tokens.Sign() <= 0 || amount.Sign() <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.pools[pool]
	if !ok {
		return false
	}
	cfg, ok := snap.Reserves[asset]
	if !ok {
		return false
	}
	rate := amount.DivRound(tokens, 9)
	if bRate {
		cfg.BRate = rate
	} else {
		cfg.DRate = rate
	}
	snap.Reserves[asset] = cfg
	c.pools[pool] = snap
	return true
}

// Restore seeds pools from a mirror snapshot. Mirrored prices are loaded as never
// refreshed, so they cannot be used before the first live refresh.
func (c *Cache) Restore(pools []model.PoolSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, snap := range pools {
		if snap.Pool == "" {
			continue
		}
		c.pools[snap.Pool] = snap.Clone()
	}
}

// PriceSnapshot returns the cached prices for persistence.
func (c *Cache) PriceSnapshot() []model.AssetPrice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.AssetPrice, 0, len(c.prices))
	for _, p := range c.prices {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// PoolSnapshots returns every cached pool for persistence.
func (c *Cache) PoolSnapshots() []model.PoolSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.PoolSnapshot, 0, len(c.pools))
	for _, snap := range c.pools {
		out = append(out, snap.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pool < out[j].Pool })
	return out
}

func contains(items []string, item string) bool {
	for _, v := range items {
		if v == item {
			return true
		}
	}
	return false
}

func dedupe(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || contains(out, item) {
			continue
		}
		out = append(out, item)
	}
	return out
}
