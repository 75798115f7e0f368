package model

import (
	"github.com/shopspring/decimal"
)

// PositionKey identifies a user's position in one pool.
type PositionKey struct {
	User string `json:"user"`
	Pool string `json:"pool"`
}

func (k PositionKey) String() string {
	return k.Pool + "/" + k.User
}

// Position holds raw b-token collateral and d-token liabilities per asset.
type Position struct {
	User          string                     `json:"user"`
	Pool          string                     `json:"pool"`
	Collateral    map[string]decimal.Decimal `json:"collateral"`
	Liabilities   map[string]decimal.Decimal `json:"liabilities"`
	LastSeenBlock uint64                     `json:"last_seen_block"`
}

// NewPosition returns an empty position for the key.
func NewPosition(key PositionKey) Position {
	return Position{
		User:        key.User,
		Pool:        key.Pool,
		Collateral:  make(map[string]decimal.Decimal),
		Liabilities: make(map[string]decimal.Decimal),
	}
}

func (p Position) Key() PositionKey {
	return PositionKey{User: p.User, Pool: p.Pool}
}

// IsEmpty reports whether the position holds nothing.
func (p Position) IsEmpty() bool {
	return !hasPositive(p.Collateral) && !hasPositive(p.Liabilities)
}

// HasLiabilities reports whether any debt remains.
func (p Position) HasLiabilities() bool {
	return hasPositive(p.Liabilities)
}

// HasCollateral reports whether any collateral remains.
func (p Position) HasCollateral() bool {
	return hasPositive(p.Collateral)
}

// Clone returns a deep copy.
func (p Position) Clone() Position {
	out := p
	out.Collateral = CloneAmounts(p.Collateral)
	out.Liabilities = CloneAmounts(p.Liabilities)
	return out
}

// AddCollateral applies a signed b-token delta, flooring at zero.
func (p *Position) AddCollateral(asset string, delta decimal.Decimal) {
	if p.Collateral == nil {
		p.Collateral = make(map[string]decimal.Decimal)
	}
	applyDelta(p.Collateral, asset, delta)
}

// AddLiability applies a signed d-token delta, flooring at zero.
func (p *Position) AddLiability(asset string, delta decimal.Decimal) {
	if p.Liabilities == nil {
		p.Liabilities = make(map[string]decimal.Decimal)
	}
	applyDelta(p.Liabilities, asset, delta)
}

// CloneAmounts copies an asset amount map.
func CloneAmounts(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func applyDelta(m map[string]decimal.Decimal, asset string, delta decimal.Decimal) {
	next := m[asset].Add(delta)
	if next.Sign() <= 0 {
		delete(m, asset)
		return
	}
	m[asset] = next
}

func hasPositive(m map[string]decimal.Decimal) bool {
	for _, v := range m {
		if v.Sign() > 0 {
			return true
		}
	}
	return false
}
