package model

import (
	"github.com/shopspring/decimal"
)

// AssetPrice is an oracle price normalized to whole units of the quote asset.
type AssetPrice struct {
	Asset        string          `json:"asset"`
	Price        decimal.Decimal `json:"price"`
	UpdatedBlock uint64          `json:"updated_block"`
}

// PriceSet maps asset id to a fresh price.
type PriceSet map[string]decimal.Decimal

// ReserveConfig describes one asset reserve of a pool.
type ReserveConfig struct {
	Asset            string          `json:"asset"`
	Index            uint32          `json:"index"`
	Decimals         uint8           `json:"decimals"`
	CollateralFactor decimal.Decimal `json:"collateral_factor"`
	LiabilityFactor  decimal.Decimal `json:"liability_factor"`
	BRate            decimal.Decimal `json:"b_rate"`
	DRate            decimal.Decimal `json:"d_rate"`
}

// PoolSnapshot is the cached reserve state of a pool.
type PoolSnapshot struct {
	Pool         string                   `json:"pool"`
	Reserves     map[string]ReserveConfig `json:"reserves"`
	UpdatedBlock uint64                   `json:"updated_block"`
}

// Reserve returns the reserve config for an asset.
func (p PoolSnapshot) Reserve(asset string) (ReserveConfig, bool) {
	cfg, ok := p.Reserves[asset]
	return cfg, ok
}

// Clone returns a deep copy safe to hand out of a cache.
func (p PoolSnapshot) Clone() PoolSnapshot {
	out := PoolSnapshot{
		Pool:         p.Pool,
		Reserves:     make(map[string]ReserveConfig, len(p.Reserves)),
		UpdatedBlock: p.UpdatedBlock,
	}
	for asset, cfg := range p.Reserves {
		out.Reserves[asset] = cfg
	}
	return out
}

// Assets lists the reserve assets of the pool.
func (p PoolSnapshot) Assets() []string {
	out := make([]string, 0, len(p.Reserves))
	for asset := range p.Reserves {
		out = append(out, asset)
	}
	return out
}
