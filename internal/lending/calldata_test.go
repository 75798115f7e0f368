package lending

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"liquidationKeeper/internal/model"
)

type staticDecimals map[string]uint8

func (s staticDecimals) TokenDecimals(_ context.Context, asset string) (uint8, error) {
	return s[asset], nil
}

var testExecutor = common.HexToAddress("0x7777777777777777777777777777777777777777")

func newTestEncoder(t *testing.T) *Encoder {
	t.Helper()
	enc, err := NewEncoder(testExecutor.Hex(), staticDecimals{testXLM.Hex(): 7, testUSDC.Hex(): 6})
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	return enc
}

func TestEncodeCreateAndFill(t *testing.T) {
	poolABI := mustABI(t, PoolABI)
	enc := newTestEncoder(t)

	to, data, err := enc.EncodeAction(context.Background(), model.Action{
		Type: model.ActionCreateAuction, Pool: testPool.Hex(), User: testUser.Hex(),
		Kind: model.AuctionLiquidation, Percent: 72,
	})
	if err != nil {
		t.Fatalf("encode create: %v", err)
	}
	if to != testPool {
		t.Fatalf("target mismatch: %s", to.Hex())
	}
	method := poolABI.Methods["newLiquidationAuction"]
	if !bytes.Equal(data[:4], method.ID) {
		t.Fatalf("selector mismatch")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack create: %v", err)
	}
	if args[0].(common.Address) != testUser || args[1].(*big.Int).Int64() != 72 {
		t.Fatalf("create args mismatch: %v", args)
	}

	_, data, err = enc.EncodeAction(context.Background(), model.Action{
		Type: model.ActionCreateAuction, Pool: testPool.Hex(), User: testUser.Hex(),
		Kind: model.AuctionBadDebt, Percent: 100,
	})
	if err != nil {
		t.Fatalf("encode bad debt: %v", err)
	}
	if !bytes.Equal(data[:4], poolABI.Methods["badDebt"].ID) {
		t.Fatalf("bad debt selector mismatch")
	}

	if _, _, err := enc.EncodeAction(context.Background(), model.Action{
		Type: model.ActionCreateAuction, Pool: testPool.Hex(), User: testUser.Hex(),
		Kind: model.AuctionInterest,
	}); err == nil {
		t.Fatalf("expected error creating interest auction")
	}

	_, data, err = enc.EncodeAction(context.Background(), model.Action{
		Type: model.ActionFillAuction, Pool: testPool.Hex(), User: testUser.Hex(),
		Kind: model.AuctionInterest, Percent: 50,
	})
	if err != nil {
		t.Fatalf("encode fill: %v", err)
	}
	fill := poolABI.Methods["fillAuction"]
	args, err = fill.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack fill: %v", err)
	}
	if args[1].(uint8) != 2 || args[2].(*big.Int).Int64() != 50 {
		t.Fatalf("fill args mismatch: %v", args)
	}

	if _, _, err := enc.EncodeAction(context.Background(), model.Action{
		Type: model.ActionFillAuction, Pool: testPool.Hex(), User: testUser.Hex(), Percent: 0,
	}); err == nil {
		t.Fatalf("expected error for zero fill percent")
	}
}

func TestEncodeRepayAndSwap(t *testing.T) {
	poolABI := mustABI(t, PoolABI)
	executorABI := mustABI(t, ExecutorABI)
	enc := newTestEncoder(t)

	to, data, err := enc.EncodeAction(context.Background(), model.Action{
		Type: model.ActionRepay, Pool: testPool.Hex(), Asset: testXLM.Hex(), Amount: decimal.RequireFromString("30.2"),
	})
	if err != nil {
		t.Fatalf("encode repay: %v", err)
	}
	if to != testPool {
		t.Fatalf("repay target mismatch")
	}
	args, err := poolABI.Methods["repay"].Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack repay: %v", err)
	}
	if args[1].(*big.Int).Int64() != 31 {
		t.Fatalf("repay amount should round up: %v", args[1])
	}

	to, data, err = enc.EncodeAction(context.Background(), model.Action{
		Type: model.ActionSwap, Pool: testPool.Hex(), Asset: testUSDC.Hex(), AssetOut: testXLM.Hex(),
		Amount: decimal.NewFromInt(80), MinOut: decimal.NewFromInt(79),
	})
	if err != nil {
		t.Fatalf("encode swap: %v", err)
	}
	if to != testExecutor {
		t.Fatalf("swap target mismatch")
	}
	args, err = executorABI.Methods["swap"].Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack swap: %v", err)
	}
	if args[3].(*big.Int).Int64() != 80 || args[4].(*big.Int).Int64() != 79 {
		t.Fatalf("swap args mismatch: %v", args)
	}

	noExec, _ := NewEncoder("", nil)
	if _, _, err := noExec.EncodeAction(context.Background(), model.Action{
		Type: model.ActionSwap, Pool: testPool.Hex(), Asset: testUSDC.Hex(), AssetOut: testXLM.Hex(),
	}); err == nil {
		t.Fatalf("expected error without executor")
	}
}

func TestEncodeArb(t *testing.T) {
	executorABI := mustABI(t, ExecutorABI)
	enc := newTestEncoder(t)

	_, data, err := enc.EncodeAction(context.Background(), model.Action{
		Type: model.ActionArbExecute, OrderID: "o-1", Asset: testXLM.Hex(), AssetOut: testUSDC.Hex(),
		Amount: decimal.NewFromInt(100), MaxCost: decimal.NewFromInt(50), MinOut: decimal.NewFromInt(52),
	})
	if err != nil {
		t.Fatalf("encode arb: %v", err)
	}
	args, err := executorABI.Methods["execute"].Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack execute: %v", err)
	}
	if args[0].([32]byte) != [32]byte(crypto.Keccak256Hash([]byte("o-1"))) {
		t.Fatalf("order id mismatch")
	}
	if args[2].(*big.Int).Cmp(scaled(100, 7)) != 0 {
		t.Fatalf("amount mismatch: %v", args[2])
	}
	if args[3].(*big.Int).Cmp(scaled(50, 6)) != 0 || args[4].(*big.Int).Cmp(scaled(52, 6)) != 0 {
		t.Fatalf("quote amounts mismatch: %v %v", args[3], args[4])
	}

	if _, _, err := enc.EncodeAction(context.Background(), model.Action{Type: "unknown"}); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}
