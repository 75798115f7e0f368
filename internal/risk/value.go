package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"liquidationKeeper/internal/model"
)

// Side selects how a raw token amount converts to underlying value.
type Side int

const (
	// Collateral amounts are b-tokens, weighted by the collateral factor.
	Collateral Side = iota
	// Liability amounts are d-tokens, weighted by the inverse liability factor.
	Liability
	// Underlying amounts are plain token units with no weighting.
	Underlying
)

// AssetValue returns the raw and weighted value of amount base units of asset.
func AssetValue(cfg model.ReserveConfig, price decimal.Decimal, amount decimal.Decimal, side Side) (decimal.Decimal, decimal.Decimal, error) {
	units := amount.Shift(-int32(cfg.Decimals))
	switch side {
	case Collateral:
		raw := units.Mul(cfg.BRate).Mul(price)
		return raw, raw.Mul(cfg.CollateralFactor), nil
	case Liability:
		if cfg.LiabilityFactor.Sign() <= 0 {
			return decimal.Zero, decimal.Zero, fmt.Errorf("reserve %s: liability factor is zero", cfg.Asset)
		}
		raw := units.Mul(cfg.DRate).Mul(price)
		return raw, raw.Div(cfg.LiabilityFactor), nil
	default:
		raw := units.Mul(price)
		return raw, raw, nil
	}
}

// SumValues values every entry of amounts against the pool and prices.
func SumValues(amounts map[string]decimal.Decimal, pool model.PoolSnapshot, prices model.PriceSet, side Side) (decimal.Decimal, decimal.Decimal, error) {
	total := decimal.Zero
	weighted := decimal.Zero
	for asset, amount := range amounts {
		if amount.Sign() == 0 {
			continue
		}
		cfg, ok := pool.Reserve(asset)
		if !ok {
			return decimal.Zero, decimal.Zero, fmt.Errorf("pool %s asset %s: %w", pool.Pool, asset, model.ErrUnknownReserve)
		}
		price, ok := prices[asset]
		if !ok {
			return decimal.Zero, decimal.Zero, &model.StalePriceError{Asset: asset, Never: true}
		}
		raw, adj, err := AssetValue(cfg, price, amount, side)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		total = total.Add(raw)
		weighted = weighted.Add(adj)
	}
	return total, weighted, nil
}

// AuctionSides returns how the bid and lot legs of an auction kind are denominated.
// Liquidations trade d-tokens for b-tokens, bad debt trades d-tokens for backstop tokens and
// interest auctions trade plain tokens both ways.
func AuctionSides(kind model.AuctionKind) (bid Side, lot Side) {
	switch kind {
	case model.AuctionLiquidation:
		return Liability, Collateral
	case model.AuctionBadDebt:
		return Liability, Underlying
	default:
		return Underlying, Underlying
	}
}

// Backstop names a pool backstop's LP token. It is not a pool reserve: bad debt auctions
// pay it out as the lot and interest auctions take it as the bid.
type Backstop struct {
	Token    string
	Decimals uint8
}

// Value prices amount base units of the backstop token.
func (b Backstop) Value(amount decimal.Decimal, prices model.PriceSet) (decimal.Decimal, error) {
	price, ok := prices[b.Token]
	if !ok {
		return decimal.Zero, &model.StalePriceError{Asset: b.Token, Never: true}
	}
	return amount.Shift(-int32(b.Decimals)).Mul(price), nil
}

// Leg reports whether the bid (isBid) or lot leg of kind is paid in the backstop token.
func (b Backstop) Leg(kind model.AuctionKind, isBid bool) bool {
	if b.Token == "" {
		return false
	}
	return (kind == model.AuctionBadDebt && !isBid) || (kind == model.AuctionInterest && isBid)
}

// LegValue values the bid (isBid) or lot leg of an auction of kind. Backstop token entries
// are unweighted; everything else must be a pool reserve.
func LegValue(kind model.AuctionKind, isBid bool, amounts map[string]decimal.Decimal, pool model.PoolSnapshot, prices model.PriceSet, backstop Backstop) (decimal.Decimal, decimal.Decimal, error) {
	bid, lot := AuctionSides(kind)
	side := lot
	if isBid {
		side = bid
	}
	if !backstop.Leg(kind, isBid) {
		return SumValues(amounts, pool, prices, side)
	}

	reserves := make(map[string]decimal.Decimal, len(amounts))
	lp := decimal.Zero
	for asset, amount := range amounts {
		if asset != backstop.Token {
			reserves[asset] = amount
			continue
		}
		v, err := backstop.Value(amount, prices)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		lp = lp.Add(v)
	}
	raw, weighted, err := SumValues(reserves, pool, prices, side)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return raw.Add(lp), weighted.Add(lp), nil
}
