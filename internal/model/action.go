package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ActionType enumerates the on-chain actions the keeper can emit.
type ActionType string

const (
	ActionCreateAuction ActionType = "create_auction"
	ActionFillAuction   ActionType = "fill_auction"
	ActionRepay         ActionType = "repay"
	ActionSwap          ActionType = "swap"
	ActionArbExecute    ActionType = "arb_execute"
)

// Action is a fully materialized request for the submitter.
// ID is the logical action id used for retry accounting; RequestID is unique per emission.
type Action struct {
	ID             string          `json:"id"`
	RequestID      string          `json:"request_id"`
	Type           ActionType      `json:"type"`
	Pool           string          `json:"pool,omitempty"`
	User           string          `json:"user,omitempty"`
	Kind           AuctionKind     `json:"kind"`
	Percent        int64           `json:"percent,omitempty"`
	Asset          string          `json:"asset,omitempty"`
	AssetOut       string          `json:"asset_out,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	MinOut         decimal.Decimal `json:"min_out"`
	MaxCost        decimal.Decimal `json:"max_cost"`
	OrderID        string          `json:"order_id,omitempty"`
	ExpectedProfit decimal.Decimal `json:"expected_profit"`
	Block          uint64          `json:"block"`
}

// CreateAuctionID is the logical id of an auction creation for a user.
func CreateAuctionID(key PositionKey, kind AuctionKind) string {
	return fmt.Sprintf("create:%s:%s:%s", key.Pool, key.User, kind)
}

// FillAuctionID is the logical id of a fill of an auction.
func FillAuctionID(id AuctionID) string {
	return fmt.Sprintf("fill:%s:%s:%s", id.Pool, id.User, id.Kind)
}

// RepayID is the logical id of a repayment of one debt asset in a pool.
func RepayID(pool, asset string) string {
	return fmt.Sprintf("repay:%s:%s", pool, asset)
}

// SwapID is the logical id of a collateral sale.
func SwapID(pool, assetIn, assetOut string) string {
	return fmt.Sprintf("swap:%s:%s:%s", pool, assetIn, assetOut)
}

// ArbID is the logical id of an arbitrage against one order.
func ArbID(orderID string) string {
	return "arb:" + orderID
}

// OutcomeStatus is the submitter's verdict on an action.
type OutcomeStatus string

const (
	OutcomeSubmitted OutcomeStatus = "submitted"
	OutcomeRejected  OutcomeStatus = "rejected"
	OutcomeError     OutcomeStatus = "error"
)

// Outcome is the result of submitting an action.
type Outcome struct {
	Action Action        `json:"action"`
	Status OutcomeStatus `json:"status"`
	TxRef  string        `json:"tx_ref,omitempty"`
	Reason string        `json:"reason,omitempty"`
	// Err is set on rejected outcomes and wraps ErrSubmissionRejected.
	Err error `json:"-"`
}

// ArbOpportunity links an off-chain sell order to an on-chain quote. Never persisted.
type ArbOpportunity struct {
	OrderID  string
	Asset    string
	Quote    string
	Amount   decimal.Decimal
	Cost     decimal.Decimal
	Proceeds decimal.Decimal
	Fees     decimal.Decimal
	Net      decimal.Decimal
}
