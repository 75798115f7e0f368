package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPositionDeltasFloorAtZero(t *testing.T) {
	pos := NewPosition(PositionKey{User: "u", Pool: "p"})
	pos.AddCollateral("usdc", decimal.NewFromInt(100))
	pos.AddLiability("xlm", decimal.NewFromInt(40))

	pos.AddLiability("xlm", decimal.NewFromInt(-50))
	if pos.HasLiabilities() {
		t.Fatalf("liabilities should be cleared: %+v", pos.Liabilities)
	}
	if _, ok := pos.Liabilities["xlm"]; ok {
		t.Fatalf("zero entry should be removed")
	}

	pos.AddCollateral("usdc", decimal.NewFromInt(-100))
	if !pos.IsEmpty() {
		t.Fatalf("position should be empty")
	}
}

func TestPositionCloneIsDeep(t *testing.T) {
	pos := NewPosition(PositionKey{User: "u", Pool: "p"})
	pos.AddCollateral("usdc", decimal.NewFromInt(5))

	clone := pos.Clone()
	clone.AddCollateral("usdc", decimal.NewFromInt(5))

	if !pos.Collateral["usdc"].Equal(decimal.NewFromInt(5)) {
		t.Fatalf("original mutated: %s", pos.Collateral["usdc"])
	}
}

func TestPoolEventJSONStringAmounts(t *testing.T) {
	event := PoolEvent{
		ID:     EventID(10, "0xabc", 2),
		Kind:   PoolBorrow,
		Amount: decimal.RequireFromString("12345678901234567890"),
		Tokens: decimal.NewFromInt(42),
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := decoded["amount"].(string); !ok {
		t.Fatalf("amount should be string")
	}
	if decoded["id"] != "10:0xabc:2" {
		t.Fatalf("unexpected id: %v", decoded["id"])
	}
}

func TestSeenSetEvictsOldest(t *testing.T) {
	seen := NewSeenSet(2)
	if !seen.Add("a") || !seen.Add("b") {
		t.Fatalf("first adds should be new")
	}
	if seen.Add("a") {
		t.Fatalf("duplicate should not be new")
	}
	seen.Add("c")
	if !seen.Add("a") {
		t.Fatalf("evicted id should be new again")
	}
	if seen.Len() != 2 {
		t.Fatalf("len = %d", seen.Len())
	}
}
