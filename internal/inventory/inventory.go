package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"liquidationKeeper/internal/model"
	"liquidationKeeper/internal/risk"
)

// swapSlippage is the share of expected swap output we accept losing.
var swapSlippage = decimal.RequireFromString("0.01")

// Source reads our account from chain.
type Source interface {
	BalanceOf(ctx context.Context, asset, account string, block uint64) (decimal.Decimal, error)
	FetchPosition(ctx context.Context, user, pool string, block uint64) (model.Position, error)
}

// Market supplies pool configs and fresh prices.
type Market interface {
	Pool(pool string) (model.PoolSnapshot, bool)
	PriceSet(block uint64) (model.PriceSet, error)
}

type Config struct {
	Account string
	Assets  []string
	Pools   []string
	MinHF   decimal.Decimal
	// SwapEnabled allows selling collateral through the executor when wallet balances
	// cannot cover the debt.
	SwapEnabled bool
}

// Inventory mirrors our wallet balances and per-pool positions.
type Inventory struct {
	mu         sync.RWMutex
	cfg        Config
	wallet     map[string]decimal.Decimal
	positions  map[string]model.Position
	reconciled uint64

	source Source
	market Market
	logger *zap.Logger
}

func New(cfg Config, source Source, market Market, logger *zap.Logger) *Inventory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinHF.Sign() <= 0 {
		cfg.MinHF = decimal.RequireFromString("1.2")
	}
	return &Inventory{
		cfg:       cfg,
		wallet:    make(map[string]decimal.Decimal),
		positions: make(map[string]model.Position),
		source:    source,
		market:    market,
		logger:    logger,
	}
}

// Reconcile reloads wallet balances and our positions in every pool.
func (inv *Inventory) Reconcile(ctx context.Context, block uint64) error {
	if inv.source == nil {
		return fmt.Errorf("inventory source is nil")
	}
	wallet := make(map[string]decimal.Decimal, len(inv.cfg.Assets))
	for _, asset := range inv.cfg.Assets {
		bal, err := inv.source.BalanceOf(ctx, asset, inv.cfg.Account, block)
		if err != nil {
			return fmt.Errorf("balance of %s: %w", asset, err)
		}
		if bal.Sign() > 0 {
			wallet[asset] = bal
		}
	}
	positions := make(map[string]model.Position, len(inv.cfg.Pools))
	for _, pool := range inv.cfg.Pools {
		pos, err := inv.source.FetchPosition(ctx, inv.cfg.Account, pool, block)
		if err != nil {
			return fmt.Errorf("fetch own position in %s: %w", pool, err)
		}
		pos.User, pos.Pool, pos.LastSeenBlock = inv.cfg.Account, pool, block
		if !pos.IsEmpty() {
			positions[pool] = pos
		}
	}

	inv.mu.Lock()
	inv.wallet = wallet
	inv.positions = positions
	inv.reconciled = block
	inv.mu.Unlock()

	inv.logger.Debug("inventory reconciled",
		zap.Uint64("block", block),
		zap.Int("assets", len(wallet)),
		zap.Int("positions", len(positions)),
	)
	return nil
}

// Wallet returns our balance of asset in base units.
func (inv *Inventory) Wallet(asset string) decimal.Decimal {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.wallet[asset]
}

// Position returns our position in a pool.
func (inv *Inventory) Position(pool string) (model.Position, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	pos, ok := inv.positions[pool]
	if !ok {
		return model.Position{}, false
	}
	return pos.Clone(), true
}

// ReconciledAt returns the block of the last successful reconcile.
func (inv *Inventory) ReconciledAt() uint64 {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.reconciled
}

// IsAccount reports whether user is our own account.
func (inv *Inventory) IsAccount(user string) bool {
	return user != "" && user == inv.cfg.Account
}

type debt struct {
	asset  string
	tokens decimal.Decimal
	value  decimal.Decimal
}

// RebalanceActions pays down debt we carry from fills in pools where our health is below
// MinHF. Each repay, largest debt first, is sized to reach MinHF and capped by the wallet;
// when the wallet cannot get there and swaps are enabled, collateral is sold into the
// largest remaining debt asset.
func (inv *Inventory) RebalanceActions(block uint64) ([]model.Action, error) {
	prices, err := inv.market.PriceSet(block)
	if err != nil {
		return nil, err
	}

	inv.mu.RLock()
	pools := make([]string, 0, len(inv.positions))
	for pool := range inv.positions {
		pools = append(pools, pool)
	}
	wallet := model.CloneAmounts(inv.wallet)
	inv.mu.RUnlock()
	sort.Strings(pools)

	var actions []model.Action
	for _, poolID := range pools {
		own, ok := inv.Position(poolID)
		if !ok || !own.HasLiabilities() {
			continue
		}
		pool, ok := inv.market.Pool(poolID)
		if !ok {
			return actions, fmt.Errorf("pool %s: %w", poolID, model.ErrUnknownReserve)
		}
		acts, err := inv.rebalancePool(own, pool, prices, wallet, block)
		if err != nil {
			return actions, fmt.Errorf("rebalance %s: %w", poolID, err)
		}
		actions = append(actions, acts...)
	}
	return actions, nil
}

func (inv *Inventory) rebalancePool(own model.Position, pool model.PoolSnapshot, prices model.PriceSet, wallet map[string]decimal.Decimal, block uint64) ([]model.Action, error) {
	snap, err := risk.Evaluate(own, pool, prices)
	if err != nil {
		return nil, err
	}
	if !snap.HealthFactor.LessThan(inv.cfg.MinHF) {
		return nil, nil
	}
	debts, err := sortedDebts(own, pool, prices)
	if err != nil {
		return nil, err
	}

	var actions []model.Action
	for _, dbt := range debts {
		cfg, _ := pool.Reserve(dbt.asset)
		if cfg.DRate.Sign() <= 0 {
			continue
		}
		owed := dbt.tokens.Mul(cfg.DRate).Ceil()
		amount := decimal.Min(owed, wallet[dbt.asset], repayToTarget(snap, cfg, prices[dbt.asset], inv.cfg.MinHF))
		if amount.Sign() <= 0 {
			continue
		}
		wallet[dbt.asset] = wallet[dbt.asset].Sub(amount)
		own.AddLiability(dbt.asset, amount.Div(cfg.DRate).Neg())
		actions = append(actions, model.Action{
			ID:        model.RepayID(pool.Pool, dbt.asset),
			RequestID: uuid.NewString(),
			Type:      model.ActionRepay,
			Pool:      pool.Pool,
			User:      inv.cfg.Account,
			Asset:     dbt.asset,
			Amount:    amount,
			Block:     block,
		})

		if snap, err = risk.Evaluate(own, pool, prices); err != nil {
			return actions, err
		}
		if !snap.HealthFactor.LessThan(inv.cfg.MinHF) {
			return actions, nil
		}
	}

	if !inv.cfg.SwapEnabled || !own.HasLiabilities() {
		return actions, nil
	}
	if swap, ok := inv.swapAction(own, pool, prices, block); ok {
		actions = append(actions, swap)
	}
	return actions, nil
}

// repayToTarget returns the underlying base units of a debt asset whose repayment lifts the
// position to minHF, rounded up.
func repayToTarget(snap risk.HealthSnapshot, cfg model.ReserveConfig, price, minHF decimal.Decimal) decimal.Decimal {
	if price.Sign() <= 0 || cfg.LiabilityFactor.Sign() <= 0 {
		return decimal.Zero
	}
	excess := snap.WeightedLiability.Sub(snap.WeightedCollateral.Div(minHF))
	if excess.Sign() <= 0 {
		return decimal.Zero
	}
	return excess.Mul(cfg.LiabilityFactor).Div(price).Shift(int32(cfg.Decimals)).Ceil()
}

// swapAction sells our largest collateral into the largest remaining debt asset.
func (inv *Inventory) swapAction(own model.Position, pool model.PoolSnapshot, prices model.PriceSet, block uint64) (model.Action, bool) {
	debts, err := sortedDebts(own, pool, prices)
	if err != nil || len(debts) == 0 {
		return model.Action{}, false
	}
	target := debts[0]
	outCfg, _ := pool.Reserve(target.asset)

	var (
		inAsset string
		inValue decimal.Decimal
	)
	assets := make([]string, 0, len(own.Collateral))
	for asset := range own.Collateral {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		if asset == target.asset {
			continue
		}
		cfg, ok := pool.Reserve(asset)
		if !ok {
			continue
		}
		value, _, err := risk.AssetValue(cfg, prices[asset], own.Collateral[asset], risk.Collateral)
		if err != nil || value.Sign() <= 0 {
			continue
		}
		if value.GreaterThan(inValue) {
			inAsset, inValue = asset, value
		}
	}
	if inAsset == "" || prices[inAsset].Sign() <= 0 || prices[target.asset].Sign() <= 0 {
		return model.Action{}, false
	}

	sellValue := decimal.Min(inValue, target.value)
	inCfg, _ := pool.Reserve(inAsset)
	amountIn := sellValue.Div(prices[inAsset]).Shift(int32(inCfg.Decimals)).Ceil()
	minOut := sellValue.Div(prices[target.asset]).Shift(int32(outCfg.Decimals)).
		Mul(decimal.NewFromInt(1).Sub(swapSlippage)).Floor()

	return model.Action{
		ID:        model.SwapID(pool.Pool, inAsset, target.asset),
		RequestID: uuid.NewString(),
		Type:      model.ActionSwap,
		Pool:      pool.Pool,
		User:      inv.cfg.Account,
		Asset:     inAsset,
		AssetOut:  target.asset,
		Amount:    amountIn,
		MinOut:    minOut,
		Block:     block,
	}, true
}

func sortedDebts(own model.Position, pool model.PoolSnapshot, prices model.PriceSet) ([]debt, error) {
	debts := make([]debt, 0, len(own.Liabilities))
	for asset, tokens := range own.Liabilities {
		cfg, ok := pool.Reserve(asset)
		if !ok {
			return nil, fmt.Errorf("asset %s: %w", asset, model.ErrUnknownReserve)
		}
		price, ok := prices[asset]
		if !ok {
			return nil, &model.StalePriceError{Asset: asset, Never: true}
		}
		value, _, err := risk.AssetValue(cfg, price, tokens, risk.Liability)
		if err != nil {
			return nil, err
		}
		debts = append(debts, debt{asset: asset, tokens: tokens, value: value})
	}
	sort.Slice(debts, func(i, j int) bool {
		if !debts[i].value.Equal(debts[j].value) {
			return debts[i].value.GreaterThan(debts[j].value)
		}
		return debts[i].asset < debts[j].asset
	})
	return debts, nil
}
