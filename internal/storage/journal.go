package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"liquidationKeeper/internal/model"
)

// JournalEntry is one line of the action journal.
type JournalEntry struct {
	Time      time.Time           `json:"time"`
	Block     uint64              `json:"block"`
	ActionID  string              `json:"action_id"`
	RequestID string              `json:"request_id"`
	Type      model.ActionType    `json:"type"`
	Status    model.OutcomeStatus `json:"status,omitempty"`
	TxRef     string              `json:"tx_ref,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Action    model.Action        `json:"action"`
}

// Journal appends submitted actions and their outcomes to a JSONL file.
type Journal struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewJournal returns nil for an empty path; a nil journal drops records.
func NewJournal(path string) *Journal {
	if path == "" {
		return nil
	}
	return &Journal{path: path, now: time.Now}
}

// RecordOutcomes appends one line per outcome.
func (j *Journal) RecordOutcomes(block uint64, outcomes ...model.Outcome) error {
	if j == nil || len(outcomes) == 0 {
		return nil
	}
	entries := make([]JournalEntry, 0, len(outcomes))
	now := j.now().UTC()
	for _, out := range outcomes {
		entries = append(entries, JournalEntry{
			Time:      now,
			Block:     block,
			ActionID:  out.Action.ID,
			RequestID: out.Action.RequestID,
			Type:      out.Action.Type,
			Status:    out.Status,
			TxRef:     out.TxRef,
			Reason:    out.Reason,
			Action:    out.Action,
		})
	}
	return j.append(entries)
}

func (j *Journal) append(entries []JournalEntry) error {
	dir := filepath.Dir(j.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal journal entry: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write journal entry: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return nil
}

// ReadJournal loads every entry of a journal file.
func ReadJournal(path string) ([]JournalEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("decode journal line %d: %w", len(entries)+1, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return entries, nil
}
