package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidationKeeper/internal/model"
	"liquidationKeeper/internal/storage"
	"liquidationKeeper/internal/storage/memory"
	"liquidationKeeper/internal/storage/postgres"
	"liquidationKeeper/internal/storage/redis"
	"liquidationKeeper/internal/storage/sqlite"
)

func backends(t *testing.T) map[string]storage.Store {
	t.Helper()
	ctx := context.Background()
	out := map[string]storage.Store{"memory": memory.NewStore()}

	lite, err := sqlite.NewStore(ctx, filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	out["sqlite"] = lite

	if dsn := os.Getenv("KEEPER_TEST_PG_DSN"); dsn != "" {
		pg, err := postgres.NewStore(ctx, dsn)
		require.NoError(t, err)
		for _, bucket := range []string{storage.BucketPrices, storage.BucketPools, storage.BucketUsers, storage.BucketAuctions} {
			require.NoError(t, pg.Replace(ctx, bucket, nil))
		}
		out["postgres"] = pg
	}
	if addr := os.Getenv("KEEPER_TEST_REDIS_ADDR"); addr != "" {
		rd, err := redis.NewStore(ctx, addr, "", 0, "keeper-test-"+t.Name())
		require.NoError(t, err)
		for _, bucket := range []string{storage.BucketPrices, storage.BucketPools, storage.BucketUsers, storage.BucketAuctions} {
			require.NoError(t, rd.Replace(ctx, bucket, nil))
		}
		out["redis"] = rd
	}
	return out
}

func TestMirrorRoundTrip(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := storage.NewMirror(store)
			defer m.Close()

			require.NoError(t, m.PutPrices(ctx, []model.AssetPrice{
				{Asset: "USDC", Price: decimal.NewFromInt(1), UpdatedBlock: 10},
				{Asset: "XLM", Price: decimal.RequireFromString("0.1"), UpdatedBlock: 10},
			}))
			require.NoError(t, m.PutPrices(ctx, []model.AssetPrice{
				{Asset: "XLM", Price: decimal.RequireFromString("0.12"), UpdatedBlock: 11},
			}))
			require.NoError(t, m.PutPool(ctx, model.PoolSnapshot{
				Pool: "P1",
				Reserves: map[string]model.ReserveConfig{
					"USDC": {Asset: "USDC", Decimals: 6, CollateralFactor: decimal.RequireFromString("0.95"), LiabilityFactor: decimal.NewFromInt(1), BRate: decimal.NewFromInt(1), DRate: decimal.NewFromInt(1)},
				},
				UpdatedBlock: 11,
			}))
			require.NoError(t, m.UpsertUser(ctx, model.PositionKey{Pool: "P1", User: "U1"}))
			require.NoError(t, m.UpsertUser(ctx, model.PositionKey{Pool: "P1", User: "U1"}))
			require.NoError(t, m.UpsertUser(ctx, model.PositionKey{Pool: "P1", User: "U2"}))

			first := model.Auction{
				ID:         model.AuctionID{Pool: "P1", User: "U1", Kind: model.AuctionLiquidation},
				Bid:        map[string]decimal.Decimal{"USDC": decimal.NewFromInt(100)},
				Lot:        map[string]decimal.Decimal{"XLM": decimal.NewFromInt(1000)},
				StartBlock: 9,
				Status:     model.AuctionOpen,
			}
			second := first.Clone()
			second.ID.User = "U2"
			require.NoError(t, m.PutAuctions(ctx, []model.Auction{first, second}))
			require.NoError(t, m.PutAuctions(ctx, []model.Auction{second}))

			snap, err := m.Load(ctx)
			require.NoError(t, err)

			require.Len(t, snap.Prices, 2)
			assert.Equal(t, "USDC", snap.Prices[0].Asset)
			assert.Equal(t, "0.12", snap.Prices[1].Price.String())
			assert.Equal(t, uint64(11), snap.Prices[1].UpdatedBlock)

			require.Len(t, snap.Pools, 1)
			assert.Equal(t, "0.95", snap.Pools[0].Reserves["USDC"].CollateralFactor.String())
			assert.Equal(t, uint8(6), snap.Pools[0].Reserves["USDC"].Decimals)

			assert.Equal(t, []model.PositionKey{{Pool: "P1", User: "U1"}, {Pool: "P1", User: "U2"}}, snap.Users)

			require.Len(t, snap.Auctions, 1)
			assert.Equal(t, "U2", snap.Auctions[0].ID.User)
			assert.Equal(t, "1000", snap.Auctions[0].Lot["XLM"].String())

			require.NoError(t, m.PutAuctions(ctx, nil))
			snap, err = m.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, snap.Auctions)
		})
	}
}

func TestMirrorLoadRejectsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Put(ctx, storage.BucketPrices, "XLM", []byte("{")))

	_, err := storage.NewMirror(store).Load(ctx)
	assert.ErrorContains(t, err, "decode prices XLM")
}
