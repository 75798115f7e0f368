package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"liquidationKeeper/internal/model"
)

// Buckets group mirror keys by entity type.
const (
	BucketPrices   = "prices"
	BucketPools    = "pools"
	BucketUsers    = "users"
	BucketAuctions = "auctions"
)

// Store is the key-value contract every backend implements. Keys are opaque strings
// and values JSON documents.
type Store interface {
	Put(ctx context.Context, bucket, key string, value []byte) error
	// Replace swaps the whole content of a bucket atomically.
	Replace(ctx context.Context, bucket string, entries map[string][]byte) error
	List(ctx context.Context, bucket string) (map[string][]byte, error)
	Close() error
}

// Snapshot is everything the mirror can hand back at startup.
type Snapshot struct {
	Prices   []model.AssetPrice
	Pools    []model.PoolSnapshot
	Users    []model.PositionKey
	Auctions []model.Auction
}

// Mirror keeps an eventually consistent copy of the keeper's state in a Store.
// It is never authoritative.
type Mirror struct {
	store Store
}

func NewMirror(store Store) *Mirror {
	return &Mirror{store: store}
}

func (m *Mirror) PutPrices(ctx context.Context, prices []model.AssetPrice) error {
	for _, price := range prices {
		if err := m.put(ctx, BucketPrices, price.Asset, price); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) PutPool(ctx context.Context, pool model.PoolSnapshot) error {
	return m.put(ctx, BucketPools, pool.Pool, pool)
}

// UpsertUser records a user once it became significant in a pool.
func (m *Mirror) UpsertUser(ctx context.Context, key model.PositionKey) error {
	return m.put(ctx, BucketUsers, key.String(), key)
}

// PutAuctions replaces the mirrored set of open auctions.
func (m *Mirror) PutAuctions(ctx context.Context, auctions []model.Auction) error {
	entries := make(map[string][]byte, len(auctions))
	for _, au := range auctions {
		data, err := json.Marshal(au)
		if err != nil {
			return fmt.Errorf("marshal auction %s: %w", au.ID, err)
		}
		entries[au.ID.String()] = data
	}
	if err := m.store.Replace(ctx, BucketAuctions, entries); err != nil {
		return fmt.Errorf("replace auctions: %w", err)
	}
	return nil
}

// Load reads the whole mirror. Entries are sorted by key.
func (m *Mirror) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := loadBucket(ctx, m.store, BucketPrices, &snap.Prices); err != nil {
		return Snapshot{}, err
	}
	if err := loadBucket(ctx, m.store, BucketPools, &snap.Pools); err != nil {
		return Snapshot{}, err
	}
	if err := loadBucket(ctx, m.store, BucketUsers, &snap.Users); err != nil {
		return Snapshot{}, err
	}
	if err := loadBucket(ctx, m.store, BucketAuctions, &snap.Auctions); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (m *Mirror) Close() error {
	return m.store.Close()
}

func (m *Mirror) put(ctx context.Context, bucket, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", bucket, key, err)
	}
	if err := m.store.Put(ctx, bucket, key, data); err != nil {
		return fmt.Errorf("put %s %s: %w", bucket, key, err)
	}
	return nil
}

func loadBucket[T any](ctx context.Context, store Store, bucket string, out *[]T) error {
	entries, err := store.List(ctx, bucket)
	if err != nil {
		return fmt.Errorf("list %s: %w", bucket, err)
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	items := make([]T, 0, len(keys))
	for _, key := range keys {
		var item T
		if err := json.Unmarshal(entries[key], &item); err != nil {
			return fmt.Errorf("decode %s %s: %w", bucket, key, err)
		}
		items = append(items, item)
	}
	*out = items
	return nil
}
