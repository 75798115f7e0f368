package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// EventKind separates the input streams of the event loop.
type EventKind string

const (
	EventNewBlock         EventKind = "new_block"
	EventPool             EventKind = "pool_event"
	EventMarketplaceOrder EventKind = "marketplace_order"
)

// Event is one input of the event loop.
type Event struct {
	Kind  EventKind    `json:"kind"`
	Block uint64       `json:"block"`
	Pool  *PoolEvent   `json:"pool,omitempty"`
	Order *MarketOrder `json:"order,omitempty"`
}

// PoolEventKind names a decoded pool or oracle log.
type PoolEventKind string

const (
	PoolSupply                   PoolEventKind = "supply"
	PoolWithdraw                 PoolEventKind = "withdraw"
	PoolSupplyCollateral         PoolEventKind = "supply_collateral"
	PoolWithdrawCollateral       PoolEventKind = "withdraw_collateral"
	PoolBorrow                   PoolEventKind = "borrow"
	PoolRepay                    PoolEventKind = "repay"
	PoolNewLiquidationAuction    PoolEventKind = "new_liquidation_auction"
	PoolNewAuction               PoolEventKind = "new_auction"
	PoolDeleteLiquidationAuction PoolEventKind = "delete_liquidation_auction"
	PoolFillAuction              PoolEventKind = "fill_auction"
	PoolBadDebt                  PoolEventKind = "bad_debt"
	PoolSetReserve               PoolEventKind = "set_reserve"
	PoolOracleUpdate             PoolEventKind = "oracle_update"
)

// PoolEvent is a decoded protocol event. Amount is in underlying units and
// Tokens in b- or d-token units, both raw on-chain integers.
type PoolEvent struct {
	ID           string                     `json:"id"`
	Pool         string                     `json:"pool"`
	Kind         PoolEventKind              `json:"kind"`
	Block        uint64                     `json:"block"`
	TxHash       string                     `json:"tx_hash"`
	LogIndex     uint64                     `json:"log_index"`
	User         string                     `json:"user,omitempty"`
	Asset        string                     `json:"asset,omitempty"`
	Amount       decimal.Decimal            `json:"amount"`
	Tokens       decimal.Decimal            `json:"tokens"`
	AuctionKind  AuctionKind                `json:"auction_kind"`
	Bid          map[string]decimal.Decimal `json:"bid,omitempty"`
	Lot          map[string]decimal.Decimal `json:"lot,omitempty"`
	AuctionBlock uint64                     `json:"auction_block,omitempty"`
	FillPercent  int64                      `json:"fill_percent,omitempty"`
	Filler       string                     `json:"filler,omitempty"`
	Price        decimal.Decimal            `json:"price"`
}

// EventID builds the identity of a log, unique per chain.
func EventID(block uint64, txHash string, logIndex uint64) string {
	return fmt.Sprintf("%d:%s:%d", block, txHash, logIndex)
}

// PositionKey returns the (user, pool) the event refers to.
func (e PoolEvent) PositionKey() PositionKey {
	return PositionKey{User: e.User, Pool: e.Pool}
}

// AuctionID returns the auction the event refers to.
func (e PoolEvent) AuctionID() AuctionID {
	return AuctionID{Pool: e.Pool, User: e.User, Kind: e.AuctionKind}
}

// OrderKind distinguishes new orders from cancellations.
type OrderKind string

const (
	OrderNew    OrderKind = "new"
	OrderCancel OrderKind = "cancel"
)

// MarketOrder is an off-chain sell order. Cost and Fee are in QuoteAsset whole units,
// Amount in Asset whole units.
type MarketOrder struct {
	ID         string          `json:"id"`
	Kind       OrderKind       `json:"kind"`
	Asset      string          `json:"asset"`
	QuoteAsset string          `json:"quote_asset"`
	Amount     decimal.Decimal `json:"amount"`
	Cost       decimal.Decimal `json:"cost"`
	Fee        decimal.Decimal `json:"fee"`
}
