package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidationKeeper/internal/chain"
	"liquidationKeeper/internal/collector"
	"liquidationKeeper/internal/config"
	"liquidationKeeper/internal/lending"
)

// runDecode replays a block range through the collector and writes the decoded pool
// events plus any decode failures as JSONL. Nothing is evaluated or submitted.
func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	decoder, err := lending.NewDecoder(lending.DecoderConfig{
		Pools:          cfg.Pools,
		Oracle:         cfg.Oracle,
		OracleDecimals: cfg.OracleDecimals,
	})
	if err != nil {
		return err
	}
	source := collector.New(collector.Config{
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chainClient, decoder, logger.Named("collector"))
	if err := source.Init(ctx); err != nil {
		return err
	}

	to := cfg.ToBlock
	if to == 0 {
		if to, err = chainClient.LatestBlockNumber(ctx); err != nil {
			return fmt.Errorf("latest block: %w", err)
		}
	}
	ranges, err := collector.Windows(cfg.FromBlock, to, cfg.BatchSize)
	if err != nil {
		return err
	}

	outWriter, err := newJSONLWriter(cfg.Out)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	var errWriter *jsonlWriter
	if cfg.Errors != "" {
		if errWriter, err = newJSONLWriter(cfg.Errors); err != nil {
			return err
		}
		defer errWriter.Close()
	}

	logger.Info("decode start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", to),
		zap.Int("ranges", len(ranges)),
		zap.String("out", cfg.Out),
	)

	var decoded, failed int
	for _, blockRange := range ranges {
		events, failures, err := source.Collect(ctx, blockRange)
		if err != nil {
			return fmt.Errorf("collect %d-%d: %w", blockRange.From, blockRange.To, err)
		}
		for _, ev := range events {
			if err := outWriter.Write(ev); err != nil {
				return err
			}
		}
		for _, failure := range failures {
			if err := errWriter.Write(failure); err != nil {
				return err
			}
		}
		decoded += len(events)
		failed += len(failures)
		logger.Debug("range decoded",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Int("events", len(events)),
		)
	}

	logger.Info("decode complete",
		zap.Int("decoded", decoded),
		zap.Int("failed", failed),
	)
	return nil
}

type jsonlWriter struct {
	file   *os.File
	writer *bufio.Writer
}

// newJSONLWriter truncates path, creating its directory when needed.
func newJSONLWriter(path string) (*jsonlWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return &jsonlWriter{file: file, writer: bufio.NewWriter(file)}, nil
}

// Write is a no-op on a nil writer.
func (w *jsonlWriter) Write(value interface{}) error {
	if w == nil {
		return nil
	}
	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (w *jsonlWriter) Close() error {
	if w == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
