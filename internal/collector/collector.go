package collector

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"liquidationKeeper/internal/model"
)

// ChainReader is the slice of the chain client the collector needs.
type ChainReader interface {
	GetChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// LogDecoder turns raw logs into pool events.
type LogDecoder interface {
	Addresses() []common.Address
	Topics() []common.Hash
	CanDecode(topic0 string) bool
	Decode(log model.LogRecord) (*model.PoolEvent, error)
}

// Config holds runtime settings for the collector.
type Config struct {
	// FromBlock is the first block to read when no checkpoint exists. Zero starts at the chain head.
	FromBlock         uint64
	BatchSize         uint64
	PollInterval      time.Duration
	CheckpointPath    string
	CheckpointEnabled bool
	// Pools are recorded in the checkpoint so pools added later can be reported.
	Pools             []string
	MaxRetries        int
	RetryBackoff      time.Duration
	SeenCapacity      int
}

// Collector polls the chain for pool and oracle logs and emits them as events in chain order.
type Collector struct {
	cfg        Config
	chain      ChainReader
	decoder    LogDecoder
	checkpoint *CheckpointStore
	retry      retrier
	seen       *model.SeenSet
	chainID    uint64
	logger     *zap.Logger
}

func New(cfg Config, chainReader ChainReader, decoder LogDecoder, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 500
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Collector{
		cfg:        cfg,
		chain:      chainReader,
		decoder:    decoder,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled, cfg.Pools),
		retry:      newRetrier(cfg.MaxRetries, cfg.RetryBackoff, logger),
		seen:       model.NewSeenSet(cfg.SeenCapacity),
		logger:     logger,
	}
}

// Init resolves the chain id. Run calls it when needed.
func (c *Collector) Init(ctx context.Context) error {
	if c.chain == nil {
		return fmt.Errorf("chain client is nil")
	}
	if c.decoder == nil {
		return fmt.Errorf("decoder is nil")
	}
	if c.chainID != 0 {
		return nil
	}
	var chainID *big.Int
	err := c.retry.do(ctx, "chain_id", func(ctx context.Context) error {
		var err error
		chainID, err = c.chain.GetChainID(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	c.chainID = chainID.Uint64()
	return nil
}

// Run emits events until ctx is cancelled. Every block with pool events is followed by
// a NewBlock event for it, and every polled range ends with a NewBlock for its last block.
// RPC failures are logged and retried on the next poll.
func (c *Collector) Run(ctx context.Context, out chan<- model.Event) error {
	if err := c.Init(ctx); err != nil {
		return err
	}
	next, err := c.startBlock(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("collector start", zap.Uint64("from", next), zap.Uint64("chain_id", c.chainID))

	for {
		latest, err := c.latestWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("latest block failed", zap.Error(err))
		} else if next <= latest {
			advanced, err := c.catchUp(ctx, next, latest, out)
			if err != nil {
				return err
			}
			if advanced > next {
				next = advanced
				continue
			}
		}

		timer := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// catchUp processes [from, to] batch by batch and returns the next block to read.
// Only cancellation is returned as an error.
func (c *Collector) catchUp(ctx context.Context, from, to uint64, out chan<- model.Event) (uint64, error) {
	windows, err := Windows(from, to, c.cfg.BatchSize)
	if err != nil {
		return from, err
	}
	for _, blockRange := range windows {
		events, _, err := c.Collect(ctx, blockRange)
		if err != nil {
			if ctx.Err() != nil {
				return from, ctx.Err()
			}
			c.logger.Warn("collect range failed", zap.Error(err),
				zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
			return from, nil
		}
		if err := emit(ctx, out, blockRange, events); err != nil {
			return from, err
		}
		if err := c.checkpoint.Save(c.chainID, blockRange.To); err != nil {
			c.logger.Warn("checkpoint save failed", zap.Error(err))
		}
		c.logger.Debug("range complete", zap.Int("events", len(events)),
			zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		from = blockRange.To + 1
	}
	return from, nil
}

func (c *Collector) startBlock(ctx context.Context) (uint64, error) {
	cp, ok, err := c.checkpoint.Load(c.chainID)
	if err != nil {
		return 0, err
	}
	if ok {
		if added := cp.NewPools(c.cfg.Pools); len(cp.Pools) > 0 && len(added) > 0 {
			c.logger.Warn("pools not covered by checkpoint, earlier positions are found through later events only",
				zap.Strings("pools", added))
		}
		if cp.Block+1 > c.cfg.FromBlock {
			c.logger.Info("resume from checkpoint", zap.Uint64("block", cp.Block))
			return cp.Block + 1, nil
		}
	}
	if c.cfg.FromBlock > 0 {
		return c.cfg.FromBlock, nil
	}
	latest, err := c.latestWithRetry(ctx)
	if err != nil {
		return 0, fmt.Errorf("get latest block: %w", err)
	}
	return latest, nil
}

// Collect fetches and decodes the logs of one range, sorted in chain order.
// Logs that fail to decode are returned as decode errors and never abort the range.
func (c *Collector) Collect(ctx context.Context, blockRange Window) ([]model.PoolEvent, []model.DecodeError, error) {
	if err := c.Init(ctx); err != nil {
		return nil, nil, err
	}
	logs, err := c.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
	if err != nil {
		return nil, nil, fmt.Errorf("filter logs: %w", err)
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	ingestedAt := time.Now().UTC()
	events := make([]model.PoolEvent, 0, len(logs))
	var failures []model.DecodeError
	for _, log := range logs {
		if log.Removed {
			continue
		}
		if !c.seen.Add(model.EventID(log.BlockNumber, log.TxHash.Hex(), uint64(log.Index))) {
			continue
		}
		record := buildLogRecord(c.chainID, log, ingestedAt)
		if topic0 := record.Topic0(); topic0 == "" || !c.decoder.CanDecode(topic0) {
			continue
		}
		event, err := c.decoder.Decode(record)
		if err != nil {
			c.logger.Warn("decode log failed", zap.Error(err),
				zap.Uint64("block", record.BlockNumber), zap.String("tx", record.TxHash))
			failures = append(failures, record.Failure(err))
			continue
		}
		events = append(events, *event)
	}
	return events, failures, nil
}

func emit(ctx context.Context, out chan<- model.Event, blockRange Window, events []model.PoolEvent) error {
	send := func(ev model.Event) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- ev:
			return nil
		}
	}

	for i := range events {
		ev := events[i]
		if err := send(model.Event{Kind: model.EventPool, Block: ev.Block, Pool: &ev}); err != nil {
			return err
		}
		lastInBlock := i == len(events)-1 || events[i+1].Block != ev.Block
		if lastInBlock && ev.Block != blockRange.To {
			if err := send(model.Event{Kind: model.EventNewBlock, Block: ev.Block}); err != nil {
				return err
			}
		}
	}
	return send(model.Event{Kind: model.EventNewBlock, Block: blockRange.To})
}

func (c *Collector) latestWithRetry(ctx context.Context) (uint64, error) {
	var latest uint64
	err := c.retry.do(ctx, "latest_block", func(ctx context.Context) error {
		var err error
		latest, err = c.chain.LatestBlockNumber(ctx)
		return err
	})
	return latest, err
}

func (c *Collector) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := c.retry.do(ctx, "filter_logs", func(ctx context.Context) error {
		var err error
		logs, err = c.chain.FilterLogs(ctx, fromBlock, toBlock, c.decoder.Addresses(), c.decoder.Topics())
		return err
	})
	return logs, err
}

func buildLogRecord(chainID uint64, log types.Log, ingestedAt time.Time) model.LogRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		ChainID:     chainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Removed:     log.Removed,
		IngestedAt:  ingestedAt.Format(time.RFC3339Nano),
	}
}
