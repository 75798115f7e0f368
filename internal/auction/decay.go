package auction

import (
	"github.com/shopspring/decimal"

	"liquidationKeeper/internal/model"
)

// Curve maps blocks elapsed since an auction started to lot and bid multipliers in [0, 1].
type Curve interface {
	Modifiers(elapsed uint64) (lot decimal.Decimal, bid decimal.Decimal)
}

// LinearCurve ramps the lot up over one phase, then decays the bid over a second phase.
type LinearCurve struct {
	PerBlock    decimal.Decimal
	PhaseBlocks uint64
}

// DefaultCurve moves 0.5% per block over two 200 block phases.
func DefaultCurve() LinearCurve {
	return LinearCurve{PerBlock: decimal.RequireFromString("0.005"), PhaseBlocks: 200}
}

func (c LinearCurve) Modifiers(elapsed uint64) (decimal.Decimal, decimal.Decimal) {
	one := decimal.NewFromInt(1)
	if elapsed <= c.PhaseBlocks {
		lot := c.PerBlock.Mul(decimal.NewFromInt(int64(elapsed)))
		return decimal.Min(lot, one), one
	}
	if elapsed >= 2*c.PhaseBlocks {
		return one, decimal.Zero
	}
	bid := one.Sub(c.PerBlock.Mul(decimal.NewFromInt(int64(elapsed - c.PhaseBlocks))))
	return one, decimal.Max(bid, decimal.Zero)
}

// SteppedCurve holds the inner curve's modifiers constant for Step blocks at a time.
type SteppedCurve struct {
	Inner Curve
	Step  uint64
}

func (c SteppedCurve) Modifiers(elapsed uint64) (decimal.Decimal, decimal.Decimal) {
	if c.Step > 1 {
		elapsed -= elapsed % c.Step
	}
	return c.Inner.Modifiers(elapsed)
}

// Decay returns the bid and lot an auction offers at block. It reads the auction only.
// Amounts are scaled to the unfilled share; bids round up and lots round down to whole
// base units, and zero entries are dropped.
func Decay(a model.Auction, block uint64, curve Curve) (map[string]decimal.Decimal, map[string]decimal.Decimal) {
	var elapsed uint64
	if block > a.StartBlock {
		elapsed = block - a.StartBlock
	}
	lotMod, bidMod := curve.Modifiers(elapsed)

	remaining := decimal.NewFromInt(100 - clampPct(a.PctFilled)).Div(decimal.NewFromInt(100))

	bid := make(map[string]decimal.Decimal, len(a.Bid))
	for asset, amount := range a.Bid {
		scaled := amount.Mul(remaining).Mul(bidMod).Ceil()
		if scaled.Sign() > 0 {
			bid[asset] = scaled
		}
	}
	lot := make(map[string]decimal.Decimal, len(a.Lot))
	for asset, amount := range a.Lot {
		scaled := amount.Mul(remaining).Mul(lotMod).Floor()
		if scaled.Sign() > 0 {
			lot[asset] = scaled
		}
	}
	return bid, lot
}

func clampPct(pct int64) int64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
