package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"liquidationKeeper/internal/auction"
	"liquidationKeeper/internal/auctioneer"
	"liquidationKeeper/internal/config"
	"liquidationKeeper/internal/model"
)

func TestNormalizeAddresses(t *testing.T) {
	cfg := config.Config{
		Pools:                []string{"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
		SupportedCollateral:  []string{"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"},
		SupportedLiabilities: []string{"0xcccccccccccccccccccccccccccccccccccccccc"},
		Oracle:               "0xdddddddddddddddddddddddddddddddddddddddd",
		Account:              "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee",
	}
	out, err := normalizeAddresses(cfg)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(cfg.Pools[0]).Hex(), out.Pools[0])
	assert.Equal(t, common.HexToAddress(cfg.SupportedCollateral[0]).Hex(), out.SupportedCollateral[0])
	assert.Equal(t, common.HexToAddress(cfg.Oracle).Hex(), out.Oracle)
	assert.NotEqual(t, cfg.Oracle, out.Oracle)
	assert.Empty(t, out.Router)

	cfg.Pools = []string{"not-an-address"}
	_, err = normalizeAddresses(cfg)
	assert.Error(t, err)
}

func TestOpenMirrorBackends(t *testing.T) {
	ctx := context.Background()
	key := model.PositionKey{User: "u", Pool: "p"}

	memory, err := openMirror(ctx, config.Config{Mirror: config.MirrorMemory})
	require.NoError(t, err)
	require.NoError(t, memory.UpsertUser(ctx, key))
	snap, err := memory.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.PositionKey{key}, snap.Users)
	require.NoError(t, memory.Close())

	path := filepath.Join(t.TempDir(), "keeper.db")
	sqlite, err := openMirror(ctx, config.Config{Mirror: config.MirrorSQLite, SQLitePath: path})
	require.NoError(t, err)
	require.NoError(t, sqlite.UpsertUser(ctx, key))
	require.NoError(t, sqlite.Close())

	reopened, err := openMirror(ctx, config.Config{Mirror: config.MirrorSQLite, SQLitePath: path})
	require.NoError(t, err)
	defer reopened.Close()
	snap, err = reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.PositionKey{key}, snap.Users)
}

type chainAuctions struct {
	live  map[model.AuctionID]model.Auction
	fail  map[model.AuctionID]bool
	reads []model.AuctionID
}

func (c *chainAuctions) FetchAuction(_ context.Context, pool, user string, kind model.AuctionKind, _ uint64) (model.Auction, bool, error) {
	id := model.AuctionID{Pool: pool, User: user, Kind: kind}
	c.reads = append(c.reads, id)
	if c.fail[id] {
		return model.Auction{}, false, errors.New("rpc down")
	}
	au, ok := c.live[id]
	return au, ok, nil
}

func TestStartupAuctionsCoverTrackedUsersAndBackstop(t *testing.T) {
	mirrored := []model.Auction{{ID: model.AuctionID{Pool: "p1", User: "u1", Kind: model.AuctionLiquidation}}}
	tracked := []model.PositionKey{{User: "u1", Pool: "p1"}, {User: "u2", Pool: "p2"}}

	ids := startupAuctions(mirrored, tracked, []string{"p1", "p2"}, "bs")
	assert.ElementsMatch(t, []model.AuctionID{
		{Pool: "p1", User: "u1", Kind: model.AuctionLiquidation},
		{Pool: "p2", User: "u2", Kind: model.AuctionLiquidation},
		{Pool: "p1", User: "bs", Kind: model.AuctionBadDebt},
		{Pool: "p1", User: "bs", Kind: model.AuctionInterest},
		{Pool: "p2", User: "bs", Kind: model.AuctionBadDebt},
		{Pool: "p2", User: "bs", Kind: model.AuctionInterest},
	}, ids)

	ids = startupAuctions(nil, tracked, []string{"p1"}, "")
	assert.Len(t, ids, 2, "no backstop scan without a backstop address")
}

func TestRestoreAuctionsRecordsWhatIsLive(t *testing.T) {
	userAuction := model.AuctionID{Pool: "p1", User: "u1", Kind: model.AuctionLiquidation}
	interest := model.AuctionID{Pool: "p1", User: "bs", Kind: model.AuctionInterest}
	badDebt := model.AuctionID{Pool: "p1", User: "bs", Kind: model.AuctionBadDebt}
	gone := model.AuctionID{Pool: "p2", User: "u2", Kind: model.AuctionLiquidation}

	reader := &chainAuctions{
		live: map[model.AuctionID]model.Auction{
			userAuction: {ID: userAuction, Bid: map[string]decimal.Decimal{"x": decimal.NewFromInt(1)}, StartBlock: 90},
			interest:    {ID: interest, Lot: map[string]decimal.Decimal{"x": decimal.NewFromInt(5)}, StartBlock: 95},
		},
		fail: map[model.AuctionID]bool{badDebt: true},
	}
	registry := auction.NewRegistry()
	auc := auctioneer.New(auctioneer.Config{}, nil, registry, nil, nil)

	count := restoreAuctions(context.Background(), reader, registry, auc, []model.AuctionID{userAuction, interest, badDebt, gone}, 100, zap.NewNop())
	assert.Equal(t, 2, count)
	assert.Len(t, reader.reads, 4)

	_, ok := registry.Get(interest)
	assert.True(t, ok, "backstop interest auctions are found without a mirror")
	_, ok = registry.Get(gone)
	assert.False(t, ok)
	assert.Equal(t, auctioneer.StateAuctionOpen, auc.State(model.PositionKey{User: "u1", Pool: "p1"}))
}
