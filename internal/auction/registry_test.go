package auction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidationKeeper/internal/auction"
	"liquidationKeeper/internal/model"
)

func TestRecordNewIsIdempotent(t *testing.T) {
	reg := auction.NewRegistry()
	a := sampleAuction()

	require.True(t, reg.RecordNew(a))
	assert.False(t, reg.RecordNew(a))
	assert.Equal(t, 1, reg.Len())

	other := a
	other.ID.Kind = model.AuctionInterest
	assert.True(t, reg.RecordNew(other))
	assert.Len(t, reg.OpenFor("U", "pool"), 2)
	assert.Len(t, reg.OpenFor("V", "pool"), 0)
}

func TestClosedAuctionIsNotRecreatedByRedelivery(t *testing.T) {
	reg := auction.NewRegistry()
	a := sampleAuction()

	require.True(t, reg.RecordNew(a))
	require.True(t, reg.MarkFilled(a.ID))
	assert.False(t, reg.MarkFilled(a.ID))

	assert.False(t, reg.RecordNew(a), "same auction re-delivered after close")

	next := a
	next.StartBlock = a.StartBlock + 500
	assert.True(t, reg.RecordNew(next), "a later auction for the same user is new")
}

func TestMarkExpired(t *testing.T) {
	reg := auction.NewRegistry()
	a := sampleAuction()
	require.True(t, reg.RecordNew(a))

	assert.True(t, reg.MarkExpired(a.ID))
	_, ok := reg.Get(a.ID)
	assert.False(t, ok)
	assert.False(t, reg.MarkExpired(a.ID))
}

func TestApplyFillPartialAndDuplicate(t *testing.T) {
	reg := auction.NewRegistry()
	a := sampleAuction()
	require.True(t, reg.RecordNew(a))

	status, changed := reg.ApplyFill("1:0xa:0", a.ID, 50)
	require.True(t, changed)
	assert.Equal(t, model.AuctionOpen, status)

	got, ok := reg.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, int64(50), got.PctFilled)

	_, changed = reg.ApplyFill("1:0xa:0", a.ID, 50)
	assert.False(t, changed, "duplicate event must be ignored")

	_, changed = reg.ApplyFill("2:0xb:0", a.ID, 50)
	require.True(t, changed)
	got, _ = reg.Get(a.ID)
	assert.Equal(t, int64(75), got.PctFilled)

	status, changed = reg.ApplyFill("3:0xc:0", a.ID, 100)
	require.True(t, changed)
	assert.Equal(t, model.AuctionFilled, status)
	assert.Equal(t, 0, reg.Len())
}

func TestDuplicateReplayLeavesSameState(t *testing.T) {
	a := sampleAuction()
	b := sampleAuction()
	b.ID.User = "V"

	replay := func(reg *auction.Registry) {
		reg.RecordNew(a)
		reg.RecordNew(b)
		reg.ApplyFill("5:0x1:1", a.ID, 40)
		reg.ApplyFill("6:0x2:1", b.ID, 100)
	}

	once := auction.NewRegistry()
	replay(once)

	twice := auction.NewRegistry()
	replay(twice)
	replay(twice)

	assert.Equal(t, once.Snapshot(), twice.Snapshot())
}

func TestRestoreSkipsClosed(t *testing.T) {
	reg := auction.NewRegistry()
	open := sampleAuction()
	filled := sampleAuction()
	filled.ID.User = "V"
	filled.Status = model.AuctionFilled

	assert.Equal(t, 1, reg.Restore([]model.Auction{open, filled}))
	assert.Equal(t, 1, reg.Len())
}
