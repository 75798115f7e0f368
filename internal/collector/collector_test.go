package collector

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidationKeeper/internal/model"
)

var testTopic = common.HexToHash("0x01")

type fakeChain struct {
	mu        sync.Mutex
	latest    uint64
	logs      []types.Log
	failures  int
	filterErr error
	ranges    []Window
}

func (f *fakeChain) GetChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, from, to uint64, _ []common.Address, _ []common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, f.filterErr
	}
	f.ranges = append(f.ranges, Window{From: from, To: to})
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeDecoder struct{}

func (fakeDecoder) Addresses() []common.Address { return nil }
func (fakeDecoder) Topics() []common.Hash       { return []common.Hash{testTopic} }
func (fakeDecoder) CanDecode(topic0 string) bool {
	return topic0 == testTopic.Hex()
}

func (fakeDecoder) Decode(log model.LogRecord) (*model.PoolEvent, error) {
	if log.Data == "0xff" {
		return nil, errors.New("bad data")
	}
	return &model.PoolEvent{
		ID:       model.EventID(log.BlockNumber, log.TxHash, log.LogIndex),
		Kind:     model.PoolBorrow,
		Block:    log.BlockNumber,
		LogIndex: log.LogIndex,
		TxHash:   log.TxHash,
	}, nil
}

func testLog(block uint64, index uint, data []byte) types.Log {
	return types.Log{
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
		Topics:      []common.Hash{testTopic},
		Data:        data,
	}
}

func TestCollectSortsDedupesAndReportsDecodeErrors(t *testing.T) {
	chain := &fakeChain{logs: []types.Log{
		testLog(11, 2, nil),
		testLog(10, 5, nil),
		testLog(10, 1, nil),
		testLog(10, 1, nil),
		testLog(12, 0, []byte{0xff}),
		{BlockNumber: 12, Index: 3, Topics: []common.Hash{common.HexToHash("0x02")}},
	}}
	c := New(Config{BatchSize: 10, RetryBackoff: time.Millisecond}, chain, fakeDecoder{}, nil)

	events, failures, err := c.Collect(context.Background(), Window{From: 10, To: 12})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(10), events[0].Block)
	assert.Equal(t, uint64(1), events[0].LogIndex)
	assert.Equal(t, uint64(5), events[1].LogIndex)
	assert.Equal(t, uint64(11), events[2].Block)
	require.Len(t, failures, 1)
	assert.Equal(t, uint64(12), failures[0].BlockNumber)

	again, _, err := c.Collect(context.Background(), Window{From: 10, To: 12})
	require.NoError(t, err)
	assert.Empty(t, again, "logs already delivered are dropped")
}

func TestCollectRetriesFilterLogs(t *testing.T) {
	chain := &fakeChain{logs: []types.Log{testLog(5, 0, nil)}, failures: 2, filterErr: errors.New("rate limited")}
	c := New(Config{MaxRetries: 3, RetryBackoff: time.Millisecond}, chain, fakeDecoder{}, nil)

	events, _, err := c.Collect(context.Background(), Window{From: 5, To: 5})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	chain.failures, chain.filterErr = 5, errors.New("down")
	_, _, err = c.Collect(context.Background(), Window{From: 6, To: 6})
	assert.Error(t, err)
}

func TestRunEmitsBlocksInOrderAndCheckpoints(t *testing.T) {
	chain := &fakeChain{latest: 13, logs: []types.Log{testLog(10, 0, nil), testLog(10, 1, nil), testLog(12, 0, nil)}}
	path := filepath.Join(t.TempDir(), "cp.json")
	c := New(Config{
		FromBlock:         10,
		BatchSize:         2,
		PollInterval:      5 * time.Millisecond,
		CheckpointPath:    path,
		CheckpointEnabled: true,
		RetryBackoff:      time.Millisecond,
	}, chain, fakeDecoder{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.Event, 32)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, out) }()

	var got []model.Event
	for len(got) < 7 {
		select {
		case ev := <-out:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	kinds := make([]string, 0, len(got))
	for _, ev := range got {
		kinds = append(kinds, string(ev.Kind)+":"+big.NewInt(int64(ev.Block)).String())
	}
	assert.Equal(t, []string{
		"pool_event:10", "pool_event:10", "new_block:10", "new_block:11",
		"pool_event:12", "new_block:12", "new_block:13",
	}, kinds)

	cp, ok, err := NewCheckpointStore(path, true, nil).Load(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(13), cp.Block)
	assert.Equal(t, uint64(1), cp.ChainID)
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	require.NoError(t, NewCheckpointStore(path, true, nil).Save(1, 20))

	chain := &fakeChain{latest: 21}
	c := New(Config{FromBlock: 5, BatchSize: 100, CheckpointPath: path, CheckpointEnabled: true}, chain, fakeDecoder{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.Event, 4)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, out) }()

	select {
	case ev := <-out:
		assert.Equal(t, model.EventNewBlock, ev.Kind)
		assert.Equal(t, uint64(21), ev.Block)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	cancel()
	<-done

	chain.mu.Lock()
	defer chain.mu.Unlock()
	require.NotEmpty(t, chain.ranges)
	assert.Equal(t, Window{From: 21, To: 21}, chain.ranges[0])
}

func TestCheckpointRejectsOtherChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	require.NoError(t, NewCheckpointStore(path, true, nil).Save(56, 20))

	c := New(Config{CheckpointPath: path, CheckpointEnabled: true}, &fakeChain{latest: 30}, fakeDecoder{}, nil)
	err := c.Run(context.Background(), make(chan model.Event, 1))
	assert.ErrorContains(t, err, "does not match")
}

func TestCheckpointDisabled(t *testing.T) {
	store := NewCheckpointStore("", true, nil)
	require.NoError(t, store.Save(1, 5))
	_, ok, err := store.Load(1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpointRecordsWatchedPools(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cp.json")
	require.NoError(t, NewCheckpointStore(path, true, []string{"p1", "p2"}).Save(1, 40))

	cp, ok, err := NewCheckpointStore(path, true, nil).Load(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(40), cp.Block)
	assert.Equal(t, []string{"p3"}, cp.NewPools([]string{"p1", "p2", "p3"}))
	assert.Empty(t, cp.NewPools([]string{"p2"}))

	_, _, err = NewCheckpointStore(path, true, nil).Load(56)
	assert.ErrorContains(t, err, "does not match")
}
