package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"liquidationKeeper/internal/model"
)

// HealthPrecision is the number of decimals the protocol keeps for health factors.
const HealthPrecision = 7

// MaxHealthFactor stands in for the health of a position without debt.
var MaxHealthFactor = decimal.NewFromInt(1_000_000)

var liquidationTargetHF = decimal.RequireFromString("1.1")

// HealthSnapshot is derived from a position and a price set; it is never cached.
type HealthSnapshot struct {
	Key                model.PositionKey
	CollateralValue    decimal.Decimal
	LiabilityValue     decimal.Decimal
	WeightedCollateral decimal.Decimal
	WeightedLiability  decimal.Decimal
	HealthFactor       decimal.Decimal
	Liquidatable       bool
}

// Evaluate computes the health of a position. It has no side effects.
func Evaluate(pos model.Position, pool model.PoolSnapshot, prices model.PriceSet) (HealthSnapshot, error) {
	collateral, weightedCollateral, err := SumValues(pos.Collateral, pool, prices, Collateral)
	if err != nil {
		return HealthSnapshot{}, fmt.Errorf("value collateral: %w", err)
	}
	liabilities, weightedLiabilities, err := SumValues(pos.Liabilities, pool, prices, Liability)
	if err != nil {
		return HealthSnapshot{}, fmt.Errorf("value liabilities: %w", err)
	}

	snap := HealthSnapshot{
		Key:                pos.Key(),
		CollateralValue:    collateral,
		LiabilityValue:     liabilities,
		WeightedCollateral: weightedCollateral,
		WeightedLiability:  weightedLiabilities,
		HealthFactor:       MaxHealthFactor,
	}
	if weightedLiabilities.Sign() > 0 {
		snap.HealthFactor = weightedCollateral.Div(weightedLiabilities).Truncate(HealthPrecision)
		snap.Liquidatable = weightedCollateral.LessThan(weightedLiabilities)
	}
	return snap, nil
}

// Verdict is the tracking decision for a position.
type Verdict int

const (
	VerdictIgnore Verdict = iota
	VerdictWatch
	VerdictLiquidate
	VerdictBadDebt
)

func (v Verdict) String() string {
	switch v {
	case VerdictWatch:
		return "watch"
	case VerdictLiquidate:
		return "liquidate"
	case VerdictBadDebt:
		return "bad_debt"
	default:
		return "ignore"
	}
}

// Classification pairs a verdict with the share of the position to auction.
type Classification struct {
	Verdict Verdict
	Percent int64
}

// Classify scores a snapshot. Positions healthier than ignoreAbove are not worth tracking.
func Classify(s HealthSnapshot, ignoreAbove decimal.Decimal) Classification {
	switch {
	case s.WeightedCollateral.Sign() == 0 && s.WeightedLiability.Sign() > 0:
		return Classification{Verdict: VerdictBadDebt}
	case s.WeightedLiability.Sign() == 0:
		return Classification{Verdict: VerdictIgnore}
	case s.Liquidatable:
		return Classification{
			Verdict: VerdictLiquidate,
			Percent: liquidationPercent(s.WeightedLiability, s.LiabilityValue, s.WeightedCollateral, s.CollateralValue),
		}
	case ignoreAbove.Sign() > 0 && s.HealthFactor.GreaterThan(ignoreAbove):
		return Classification{Verdict: VerdictIgnore}
	default:
		return Classification{Verdict: VerdictWatch}
	}
}

// liquidationPercent estimates the share of liabilities to auction so the user lands near
// the 1.1 target health factor after the liquidation incentive.
func liquidationPercent(adjLiabilities, liabilities, adjCollateral, collateral decimal.Decimal) int64 {
	if liabilities.Sign() <= 0 || collateral.Sign() <= 0 {
		return 100
	}
	one := decimal.NewFromInt(1)
	two := decimal.NewFromInt(2)

	invLF := adjLiabilities.Div(liabilities)
	cf := adjCollateral.Div(collateral)
	numerator := adjLiabilities.Mul(liquidationTargetHF).Sub(adjCollateral)
	incentive := one.Add(one.Sub(cf.Div(invLF)).Div(two))
	denominator := invLF.Mul(liquidationTargetHF).Sub(cf.Mul(incentive))
	if denominator.Sign() <= 0 {
		return 100
	}

	pct := numerator.Div(denominator).Div(liabilities).Mul(decimal.NewFromInt(100)).IntPart()
	if pct < 1 {
		return 1
	}
	if pct > 100 {
		return 100
	}
	return pct
}
