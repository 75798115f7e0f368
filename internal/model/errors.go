package model

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleData marks price or pool data older than the refresh cadence.
	ErrStaleData = errors.New("stale data")
	// ErrRaceLost marks an auction that was filled or removed before we acted.
	ErrRaceLost = errors.New("race lost")
	// ErrSubmissionRejected marks a dry-run or mempool rejection.
	ErrSubmissionRejected = errors.New("submission rejected")
	// ErrInsufficientInventory marks a bid we cannot cover from allowed assets.
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrIrrecoverableConfig marks configuration that cannot run.
	ErrIrrecoverableConfig = errors.New("irrecoverable config")
	// ErrUnknownReserve marks an asset missing from a pool's reserves.
	ErrUnknownReserve = errors.New("unknown reserve")
)

// StalePriceError is returned when a decision needs a price that is missing or too old.
type StalePriceError struct {
	Asset        string
	Block        uint64
	UpdatedBlock uint64
	Never        bool
}

func (e *StalePriceError) Error() string {
	if e.Never {
		return fmt.Sprintf("stale price %s: never refreshed", e.Asset)
	}
	return fmt.Sprintf("stale price %s: updated at %d, now %d", e.Asset, e.UpdatedBlock, e.Block)
}

func (e *StalePriceError) Unwrap() error { return ErrStaleData }

// SubmissionRejectedError carries the submitter's reason for a logical action.
type SubmissionRejectedError struct {
	ActionID string
	Reason   string
}

func (e *SubmissionRejectedError) Error() string {
	return fmt.Sprintf("action %s rejected: %s", e.ActionID, e.Reason)
}

func (e *SubmissionRejectedError) Unwrap() error { return ErrSubmissionRejected }

// ConfigError reports an unusable configuration value. Fatal at startup only.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("config %s=%q: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrIrrecoverableConfig }
