package lending

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"liquidationKeeper/internal/model"
)

var (
	testPool   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testOracle = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testUser   = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testUSDC   = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	testXLM    = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	decoder, err := NewDecoder(DecoderConfig{
		Pools:          []string{testPool.Hex()},
		Oracle:         testOracle.Hex(),
		OracleDecimals: 7,
	})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	return decoder
}

func TestDecoderBalanceChanges(t *testing.T) {
	poolABI, err := PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := newTestDecoder(t)

	cases := map[string]model.PoolEventKind{
		"Supply":             model.PoolSupply,
		"Withdraw":           model.PoolWithdraw,
		"SupplyCollateral":   model.PoolSupplyCollateral,
		"WithdrawCollateral": model.PoolWithdrawCollateral,
		"Borrow":             model.PoolBorrow,
		"Repay":              model.PoolRepay,
	}
	for name, kind := range cases {
		data, err := poolABI.Events[name].Inputs.NonIndexed().Pack(big.NewInt(1_000_000), big.NewInt(990_000))
		if err != nil {
			t.Fatalf("pack %s: %v", name, err)
		}
		logRecord := buildLogRecord(testPool, poolABI.Events[name].ID, data, []common.Hash{
			topicFromAddress(testUSDC),
			topicFromAddress(testUser),
		})
		if !decoder.CanDecode(logRecord.Topics[0]) {
			t.Fatalf("%s topic not recognised", name)
		}

		event, err := decoder.Decode(logRecord)
		if err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
		if event.Kind != kind {
			t.Fatalf("%s kind mismatch: %s", name, event.Kind)
		}
		if event.User != testUser.Hex() || event.Asset != testUSDC.Hex() || event.Pool != testPool.Hex() {
			t.Fatalf("%s address mismatch: %+v", name, event)
		}
		if event.Amount.String() != "1000000" || event.Tokens.String() != "990000" {
			t.Fatalf("%s amounts mismatch: %s %s", name, event.Amount, event.Tokens)
		}
		if event.ID != model.EventID(12345, "0xdef", 1) {
			t.Fatalf("%s id mismatch: %s", name, event.ID)
		}
	}
}

func TestDecoderAuctions(t *testing.T) {
	poolABI, err := PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := newTestDecoder(t)

	liqData, err := poolABI.Events["NewLiquidationAuction"].Inputs.NonIndexed().Pack(
		[]common.Address{testXLM},
		[]*big.Int{big.NewInt(500)},
		[]common.Address{testUSDC, testXLM},
		[]*big.Int{big.NewInt(700), big.NewInt(0)},
		big.NewInt(12340),
	)
	if err != nil {
		t.Fatalf("pack liquidation auction: %v", err)
	}
	liq, err := decoder.Decode(buildLogRecord(testPool, poolABI.Events["NewLiquidationAuction"].ID, liqData, []common.Hash{
		topicFromAddress(testUser),
	}))
	if err != nil {
		t.Fatalf("decode liquidation auction: %v", err)
	}
	if liq.Kind != model.PoolNewLiquidationAuction || liq.AuctionKind != model.AuctionLiquidation {
		t.Fatalf("liquidation kind mismatch: %+v", liq)
	}
	if liq.AuctionBlock != 12340 {
		t.Fatalf("auction block mismatch: %d", liq.AuctionBlock)
	}
	if len(liq.Lot) != 1 || liq.Lot[testUSDC.Hex()].String() != "700" {
		t.Fatalf("zero lot amounts should be dropped: %v", liq.Lot)
	}
	if liq.Bid[testXLM.Hex()].String() != "500" {
		t.Fatalf("bid mismatch: %v", liq.Bid)
	}

	interestData, err := poolABI.Events["NewAuction"].Inputs.NonIndexed().Pack(
		[]common.Address{testUSDC},
		[]*big.Int{big.NewInt(10)},
		[]common.Address{testXLM},
		[]*big.Int{big.NewInt(20)},
		big.NewInt(0),
	)
	if err != nil {
		t.Fatalf("pack auction: %v", err)
	}
	interest, err := decoder.Decode(buildLogRecord(testPool, poolABI.Events["NewAuction"].ID, interestData, []common.Hash{
		topicFromUint(2),
		topicFromAddress(testUser),
	}))
	if err != nil {
		t.Fatalf("decode auction: %v", err)
	}
	if interest.AuctionKind != model.AuctionInterest {
		t.Fatalf("auction kind mismatch: %s", interest.AuctionKind)
	}
	if interest.AuctionBlock != 12345 {
		t.Fatalf("zero auction block should fall back to the log block: %d", interest.AuctionBlock)
	}

	_, err = decoder.Decode(buildLogRecord(testPool, poolABI.Events["NewAuction"].ID, interestData, []common.Hash{
		topicFromUint(9),
		topicFromAddress(testUser),
	}))
	if err == nil {
		t.Fatalf("expected error for unknown auction type")
	}

	del, err := decoder.Decode(buildLogRecord(testPool, poolABI.Events["DeleteLiquidationAuction"].ID, nil, []common.Hash{
		topicFromAddress(testUser),
	}))
	if err != nil {
		t.Fatalf("decode delete: %v", err)
	}
	if del.Kind != model.PoolDeleteLiquidationAuction || del.User != testUser.Hex() {
		t.Fatalf("delete mismatch: %+v", del)
	}
}

func TestDecoderFillAndBadDebt(t *testing.T) {
	poolABI, err := PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := newTestDecoder(t)
	filler := common.HexToAddress("0x4444444444444444444444444444444444444444")

	fillData, err := poolABI.Events["FillAuction"].Inputs.NonIndexed().Pack(filler, big.NewInt(60))
	if err != nil {
		t.Fatalf("pack fill: %v", err)
	}
	fill, err := decoder.Decode(buildLogRecord(testPool, poolABI.Events["FillAuction"].ID, fillData, []common.Hash{
		topicFromAddress(testUser),
		topicFromUint(1),
	}))
	if err != nil {
		t.Fatalf("decode fill: %v", err)
	}
	if fill.AuctionKind != model.AuctionBadDebt || fill.FillPercent != 60 || fill.Filler != filler.Hex() {
		t.Fatalf("fill mismatch: %+v", fill)
	}

	overData, _ := poolABI.Events["FillAuction"].Inputs.NonIndexed().Pack(filler, big.NewInt(101))
	if _, err := decoder.Decode(buildLogRecord(testPool, poolABI.Events["FillAuction"].ID, overData, []common.Hash{
		topicFromAddress(testUser),
		topicFromUint(0),
	})); err == nil {
		t.Fatalf("expected error for fill percent above 100")
	}

	badData, err := poolABI.Events["BadDebt"].Inputs.NonIndexed().Pack(big.NewInt(42))
	if err != nil {
		t.Fatalf("pack bad debt: %v", err)
	}
	bad, err := decoder.Decode(buildLogRecord(testPool, poolABI.Events["BadDebt"].ID, badData, []common.Hash{
		topicFromAddress(testUser),
		topicFromAddress(testXLM),
	}))
	if err != nil {
		t.Fatalf("decode bad debt: %v", err)
	}
	if bad.Kind != model.PoolBadDebt || bad.Asset != testXLM.Hex() || bad.Tokens.String() != "42" {
		t.Fatalf("bad debt mismatch: %+v", bad)
	}
}

func TestDecoderOracleUpdate(t *testing.T) {
	oracleABI, err := OracleABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := newTestDecoder(t)

	data, err := oracleABI.Events["PriceUpdate"].Inputs.NonIndexed().Pack(big.NewInt(12345678))
	if err != nil {
		t.Fatalf("pack price: %v", err)
	}
	event, err := decoder.Decode(buildLogRecord(testOracle, oracleABI.Events["PriceUpdate"].ID, data, []common.Hash{
		topicFromAddress(testXLM),
	}))
	if err != nil {
		t.Fatalf("decode price: %v", err)
	}
	if event.Kind != model.PoolOracleUpdate || event.Asset != testXLM.Hex() {
		t.Fatalf("price mismatch: %+v", event)
	}
	if event.Price.String() != "1.2345678" {
		t.Fatalf("price scaling mismatch: %s", event.Price)
	}

	if _, err := decoder.Decode(buildLogRecord(testPool, oracleABI.Events["PriceUpdate"].ID, data, []common.Hash{
		topicFromAddress(testXLM),
	})); err == nil {
		t.Fatalf("expected error for price update from a pool")
	}
}

func TestDecoderRejectsUnknownInput(t *testing.T) {
	poolABI, err := PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := newTestDecoder(t)

	if decoder.CanDecode("0x" + common.Bytes2Hex(make([]byte, 32))) {
		t.Fatalf("zero topic should not decode")
	}

	data, _ := poolABI.Events["Borrow"].Inputs.NonIndexed().Pack(big.NewInt(1), big.NewInt(1))
	stranger := common.HexToAddress("0x5555555555555555555555555555555555555555")
	if _, err := decoder.Decode(buildLogRecord(stranger, poolABI.Events["Borrow"].ID, data, []common.Hash{
		topicFromAddress(testUSDC),
		topicFromAddress(testUser),
	})); err == nil {
		t.Fatalf("expected error for unknown pool")
	}

	if _, err := decoder.Decode(buildLogRecord(testPool, poolABI.Events["Borrow"].ID, data, []common.Hash{
		topicFromAddress(testUSDC),
	})); err == nil {
		t.Fatalf("expected error for missing topic")
	}

	if got := len(decoder.Addresses()); got != 2 {
		t.Fatalf("addresses mismatch: %d", got)
	}
	if got := len(decoder.Topics()); got != 13 {
		t.Fatalf("topics mismatch: %d", got)
	}
}

func buildLogRecord(contract common.Address, topic0 common.Hash, data []byte, indexed []common.Hash) model.LogRecord {
	topics := make([]string, 0, len(indexed)+1)
	topics = append(topics, topic0.Hex())
	for _, topic := range indexed {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		ChainID:     1,
		BlockNumber: 12345,
		BlockHash:   "0xabc",
		TxHash:      "0xdef",
		LogIndex:    1,
		Address:     contract.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(data),
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func topicFromUint(value uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(value))
}
