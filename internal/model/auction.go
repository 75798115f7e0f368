package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AuctionKind follows the protocol's auction type numbering.
type AuctionKind uint8

const (
	AuctionLiquidation AuctionKind = 0
	AuctionBadDebt     AuctionKind = 1
	AuctionInterest    AuctionKind = 2
)

func (k AuctionKind) String() string {
	switch k {
	case AuctionLiquidation:
		return "liquidation"
	case AuctionBadDebt:
		return "bad_debt"
	case AuctionInterest:
		return "interest"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is a known kind.
func (k AuctionKind) Valid() bool {
	return k <= AuctionInterest
}

// AuctionStatus is the lifecycle state of a recorded auction.
type AuctionStatus string

const (
	AuctionOpen    AuctionStatus = "open"
	AuctionFilled  AuctionStatus = "filled"
	AuctionExpired AuctionStatus = "expired"
)

// AuctionID identifies an auction; at most one is open per id.
type AuctionID struct {
	Pool string      `json:"pool"`
	User string      `json:"user"`
	Kind AuctionKind `json:"kind"`
}

func (id AuctionID) String() string {
	return fmt.Sprintf("%s/%s/%s", id.Pool, id.User, id.Kind)
}

// Auction is an on-chain auction as observed from pool events.
// Bid holds what the filler pays, Lot what the filler receives.
type Auction struct {
	ID         AuctionID                  `json:"id"`
	Bid        map[string]decimal.Decimal `json:"bid"`
	Lot        map[string]decimal.Decimal `json:"lot"`
	StartBlock uint64                     `json:"start_block"`
	PctFilled  int64                      `json:"pct_filled"`
	Status     AuctionStatus              `json:"status"`
}

// Clone returns a deep copy.
func (a Auction) Clone() Auction {
	out := a
	out.Bid = CloneAmounts(a.Bid)
	out.Lot = CloneAmounts(a.Lot)
	return out
}
