package auction_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidationKeeper/internal/auction"
	"liquidationKeeper/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleAuction() model.Auction {
	return model.Auction{
		ID:         model.AuctionID{Pool: "pool", User: "U", Kind: model.AuctionLiquidation},
		Bid:        map[string]decimal.Decimal{"xlm": d("1000")},
		Lot:        map[string]decimal.Decimal{"usdc": d("2000")},
		StartBlock: 100,
		Status:     model.AuctionOpen,
	}
}

func TestLinearCurveModifiers(t *testing.T) {
	curve := auction.DefaultCurve()

	cases := []struct {
		elapsed uint64
		lot     string
		bid     string
	}{
		{0, "0", "1"},
		{5, "0.025", "1"},
		{100, "0.5", "1"},
		{200, "1", "1"},
		{250, "1", "0.75"},
		{399, "1", "0.005"},
		{400, "1", "0"},
		{1000, "1", "0"},
	}
	for _, tc := range cases {
		lot, bid := curve.Modifiers(tc.elapsed)
		assert.True(t, lot.Equal(d(tc.lot)), "elapsed %d lot %s", tc.elapsed, lot)
		assert.True(t, bid.Equal(d(tc.bid)), "elapsed %d bid %s", tc.elapsed, bid)
	}
}

func TestSteppedCurveHoldsWithinStep(t *testing.T) {
	curve := auction.SteppedCurve{Inner: auction.DefaultCurve(), Step: 10}

	lot5, _ := curve.Modifiers(5)
	lot9, _ := curve.Modifiers(9)
	lot10, _ := curve.Modifiers(10)
	assert.True(t, lot5.IsZero())
	assert.True(t, lot9.IsZero())
	assert.True(t, lot10.Equal(d("0.05")))
}

func TestDecayRoundsAndScalesByUnfilledShare(t *testing.T) {
	a := sampleAuction()
	a.Bid = map[string]decimal.Decimal{"xlm": d("1001")}
	a.Lot = map[string]decimal.Decimal{"usdc": d("2001")}
	a.PctFilled = 50

	bid, lot := auction.Decay(a, a.StartBlock+100, auction.DefaultCurve())
	// bid 1001 * 0.5 = 500.5 rounds up, lot 2001 * 0.5 * 0.5 = 500.25 rounds down
	assert.True(t, bid["xlm"].Equal(d("501")), bid["xlm"].String())
	assert.True(t, lot["usdc"].Equal(d("500")), lot["usdc"].String())
}

func TestDecayDropsZeroEntries(t *testing.T) {
	a := sampleAuction()

	bid, lot := auction.Decay(a, a.StartBlock, auction.DefaultCurve())
	assert.Len(t, lot, 0)
	assert.True(t, bid["xlm"].Equal(d("1000")))

	bid, lot = auction.Decay(a, a.StartBlock+400, auction.DefaultCurve())
	assert.Len(t, bid, 0)
	assert.True(t, lot["usdc"].Equal(d("2000")))
}

func TestDecayIsMonotonicAndReadOnly(t *testing.T) {
	a := sampleAuction()
	before := a.Clone()
	curve := auction.DefaultCurve()

	prevLot := decimal.Zero
	prevBid := d("1000")
	for block := a.StartBlock; block <= a.StartBlock+450; block++ {
		bid, lot := auction.Decay(a, block, curve)
		curLot := lot["usdc"]
		curBid := bid["xlm"]
		require.False(t, curLot.LessThan(prevLot), "lot decreased at %d", block)
		require.False(t, curBid.GreaterThan(prevBid), "bid increased at %d", block)
		prevLot, prevBid = curLot, curBid

		again, againLot := auction.Decay(a, block, curve)
		require.True(t, again["xlm"].Equal(curBid))
		require.True(t, againLot["usdc"].Equal(curLot))
	}
	assert.Equal(t, before, a)
}

func TestDecayBeforeStartUsesStart(t *testing.T) {
	a := sampleAuction()
	bid, lot := auction.Decay(a, a.StartBlock-10, auction.DefaultCurve())
	assert.Len(t, lot, 0)
	assert.True(t, bid["xlm"].Equal(d("1000")))
}
