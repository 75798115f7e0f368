package lending

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"liquidationKeeper/internal/model"
)

// DecoderConfig configures which contracts the decoder accepts.
type DecoderConfig struct {
	Pools          []string
	Oracle         string
	OracleDecimals int32
}

// Decoder turns pool and oracle logs into pool events.
type Decoder struct {
	poolABI        abi.ABI
	oracleABI      abi.ABI
	poolTopics     map[string]string
	oracleTopics   map[string]string
	pools          map[common.Address]struct{}
	oracle         common.Address
	oracleDecimals int32
}

var poolEventKinds = map[string]model.PoolEventKind{
	"Supply":                   model.PoolSupply,
	"Withdraw":                 model.PoolWithdraw,
	"SupplyCollateral":         model.PoolSupplyCollateral,
	"WithdrawCollateral":       model.PoolWithdrawCollateral,
	"Borrow":                   model.PoolBorrow,
	"Repay":                    model.PoolRepay,
	"NewLiquidationAuction":    model.PoolNewLiquidationAuction,
	"NewAuction":               model.PoolNewAuction,
	"DeleteLiquidationAuction": model.PoolDeleteLiquidationAuction,
	"FillAuction":              model.PoolFillAuction,
	"BadDebt":                  model.PoolBadDebt,
	"SetReserve":               model.PoolSetReserve,
}

// NewDecoder builds a decoder for the configured pools and oracle.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	parsedPool, err := PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	parsedOracle, err := OracleABI()
	if err != nil {
		return nil, fmt.Errorf("parse oracle abi: %w", err)
	}

	d := &Decoder{
		poolABI:        parsedPool,
		oracleABI:      parsedOracle,
		poolTopics:     make(map[string]string, len(poolEventKinds)),
		oracleTopics:   map[string]string{strings.ToLower(parsedOracle.Events["PriceUpdate"].ID.Hex()): "PriceUpdate"},
		pools:          make(map[common.Address]struct{}, len(cfg.Pools)),
		oracleDecimals: cfg.OracleDecimals,
	}
	for name := range poolEventKinds {
		d.poolTopics[strings.ToLower(parsedPool.Events[name].ID.Hex())] = name
	}
	for _, pool := range cfg.Pools {
		addr, err := toAddress(strings.TrimSpace(pool))
		if err != nil {
			return nil, fmt.Errorf("pool: %w", err)
		}
		d.pools[addr] = struct{}{}
	}
	if cfg.Oracle != "" {
		addr, err := toAddress(strings.TrimSpace(cfg.Oracle))
		if err != nil {
			return nil, fmt.Errorf("oracle: %w", err)
		}
		d.oracle = addr
	}
	return d, nil
}

// Addresses lists the contracts whose logs the decoder accepts.
func (d *Decoder) Addresses() []common.Address {
	out := make([]common.Address, 0, len(d.pools)+1)
	for addr := range d.pools {
		out = append(out, addr)
	}
	if d.oracle != (common.Address{}) {
		out = append(out, d.oracle)
	}
	return out
}

// Topics lists every event signature the decoder understands.
func (d *Decoder) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(d.poolTopics)+len(d.oracleTopics))
	for topic := range d.poolTopics {
		out = append(out, common.HexToHash(topic))
	}
	for topic := range d.oracleTopics {
		out = append(out, common.HexToHash(topic))
	}
	return out
}

// CanDecode checks if the topic0 is supported.
func (d *Decoder) CanDecode(topic0 string) bool {
	topic0 = strings.ToLower(topic0)
	if _, ok := d.poolTopics[topic0]; ok {
		return true
	}
	_, ok := d.oracleTopics[topic0]
	return ok
}

// Decode converts a LogRecord into a PoolEvent.
func (d *Decoder) Decode(log model.LogRecord) (*model.PoolEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("invalid contract address: %s", log.Address)
	}
	addr := common.HexToAddress(log.Address)
	topic0 := log.Topic0()

	ev := &model.PoolEvent{
		ID:       log.ID(),
		Pool:     addr.Hex(),
		Block:    log.BlockNumber,
		TxHash:   log.TxHash,
		LogIndex: log.LogIndex,
	}

	if name, ok := d.oracleTopics[topic0]; ok {
		if addr != d.oracle {
			return nil, fmt.Errorf("%s from unexpected contract %s", name, addr.Hex())
		}
		if err := d.decodePriceUpdate(log, ev); err != nil {
			return nil, err
		}
		return ev, nil
	}

	name, ok := d.poolTopics[topic0]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0])
	}
	if len(d.pools) > 0 {
		if _, ok := d.pools[addr]; !ok {
			return nil, fmt.Errorf("%s from unknown pool %s", name, addr.Hex())
		}
	}
	ev.Kind = poolEventKinds[name]

	var err error
	switch name {
	case "Supply", "Withdraw", "SupplyCollateral", "WithdrawCollateral", "Borrow", "Repay":
		err = d.decodeBalanceChange(name, log, ev)
	case "NewLiquidationAuction":
		err = d.decodeNewLiquidationAuction(log, ev)
	case "NewAuction":
		err = d.decodeNewAuction(log, ev)
	case "DeleteLiquidationAuction":
		err = d.decodeDeleteLiquidationAuction(log, ev)
	case "FillAuction":
		err = d.decodeFillAuction(log, ev)
	case "BadDebt":
		err = d.decodeBadDebt(log, ev)
	case "SetReserve":
		err = d.decodeSetReserve(log, ev)
	default:
		err = fmt.Errorf("unsupported event name: %s", name)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (d *Decoder) decodeBalanceChange(name string, log model.LogRecord, ev *model.PoolEvent) error {
	event := d.poolABI.Events[name]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return err
	}
	var indexed struct {
		Asset common.Address
		User  common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return err
	}
	if len(values) != 2 {
		return fmt.Errorf("unexpected %s values: %d", name, len(values))
	}
	amount, err := asBigInt(values[0])
	if err != nil {
		return err
	}
	tokens, err := asBigInt(values[1])
	if err != nil {
		return err
	}

	ev.Asset = indexed.Asset.Hex()
	ev.User = indexed.User.Hex()
	ev.Amount = decimal.NewFromBigInt(amount, 0)
	ev.Tokens = decimal.NewFromBigInt(tokens, 0)
	return nil
}

func (d *Decoder) decodeNewLiquidationAuction(log model.LogRecord, ev *model.PoolEvent) error {
	event := d.poolABI.Events["NewLiquidationAuction"]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return err
	}
	var indexed struct {
		User common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return err
	}

	ev.User = indexed.User.Hex()
	ev.AuctionKind = model.AuctionLiquidation
	return fillAuctionData(values, ev)
}

func (d *Decoder) decodeNewAuction(log model.LogRecord, ev *model.PoolEvent) error {
	event := d.poolABI.Events["NewAuction"]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return err
	}
	var indexed struct {
		AuctionType uint8
		User        common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	kind := model.AuctionKind(indexed.AuctionType)
	if !kind.Valid() {
		return fmt.Errorf("unknown auction type %d", indexed.AuctionType)
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return err
	}

	ev.User = indexed.User.Hex()
	ev.AuctionKind = kind
	return fillAuctionData(values, ev)
}

// fillAuctionData reads bidAssets, bidAmounts, lotAssets, lotAmounts and block.
func fillAuctionData(values []interface{}, ev *model.PoolEvent) error {
	bid, lot, block, err := auctionData(values)
	if err != nil {
		return err
	}
	ev.Bid, ev.Lot = bid, lot
	ev.AuctionBlock = block
	if ev.AuctionBlock == 0 {
		ev.AuctionBlock = ev.Block
	}
	return nil
}

func auctionData(values []interface{}) (map[string]decimal.Decimal, map[string]decimal.Decimal, uint64, error) {
	if len(values) != 5 {
		return nil, nil, 0, fmt.Errorf("unexpected auction values: %d", len(values))
	}
	bidAssets, err := asAddresses(values[0])
	if err != nil {
		return nil, nil, 0, err
	}
	bidAmounts, err := asBigInts(values[1])
	if err != nil {
		return nil, nil, 0, err
	}
	lotAssets, err := asAddresses(values[2])
	if err != nil {
		return nil, nil, 0, err
	}
	lotAmounts, err := asBigInts(values[3])
	if err != nil {
		return nil, nil, 0, err
	}
	block, err := asBigInt(values[4])
	if err != nil {
		return nil, nil, 0, err
	}
	bid, err := amountsMap(bidAssets, bidAmounts)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("bid: %w", err)
	}
	lot, err := amountsMap(lotAssets, lotAmounts)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("lot: %w", err)
	}
	if !block.IsUint64() {
		return nil, nil, 0, fmt.Errorf("auction block overflow: %s", block)
	}
	return bid, lot, block.Uint64(), nil
}

func (d *Decoder) decodeDeleteLiquidationAuction(log model.LogRecord, ev *model.PoolEvent) error {
	event := d.poolABI.Events["DeleteLiquidationAuction"]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return err
	}
	var indexed struct {
		User common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	ev.User = indexed.User.Hex()
	ev.AuctionKind = model.AuctionLiquidation
	return nil
}

func (d *Decoder) decodeFillAuction(log model.LogRecord, ev *model.PoolEvent) error {
	event := d.poolABI.Events["FillAuction"]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return err
	}
	var indexed struct {
		User        common.Address
		AuctionType uint8
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	kind := model.AuctionKind(indexed.AuctionType)
	if !kind.Valid() {
		return fmt.Errorf("unknown auction type %d", indexed.AuctionType)
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return err
	}
	if len(values) != 2 {
		return fmt.Errorf("unexpected fill values: %d", len(values))
	}
	filler, err := asAddress(values[0])
	if err != nil {
		return err
	}
	pct, err := asBigInt(values[1])
	if err != nil {
		return err
	}
	if !pct.IsInt64() || pct.Sign() < 0 || pct.Int64() > 100 {
		return fmt.Errorf("fill percent out of range: %s", pct)
	}

	ev.User = indexed.User.Hex()
	ev.AuctionKind = kind
	ev.Filler = filler.Hex()
	ev.FillPercent = pct.Int64()
	return nil
}

func (d *Decoder) decodeBadDebt(log model.LogRecord, ev *model.PoolEvent) error {
	event := d.poolABI.Events["BadDebt"]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return err
	}
	var indexed struct {
		User  common.Address
		Asset common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return err
	}
	if len(values) != 1 {
		return fmt.Errorf("unexpected bad debt values: %d", len(values))
	}
	tokens, err := asBigInt(values[0])
	if err != nil {
		return err
	}

	ev.User = indexed.User.Hex()
	ev.Asset = indexed.Asset.Hex()
	ev.Tokens = decimal.NewFromBigInt(tokens, 0)
	return nil
}

func (d *Decoder) decodeSetReserve(log model.LogRecord, ev *model.PoolEvent) error {
	event := d.poolABI.Events["SetReserve"]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return err
	}
	var indexed struct {
		Asset common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	ev.Asset = indexed.Asset.Hex()
	return nil
}

func (d *Decoder) decodePriceUpdate(log model.LogRecord, ev *model.PoolEvent) error {
	event := d.oracleABI.Events["PriceUpdate"]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return err
	}
	var indexed struct {
		Asset common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return err
	}
	if len(values) != 1 {
		return fmt.Errorf("unexpected price values: %d", len(values))
	}
	price, err := asBigInt(values[0])
	if err != nil {
		return err
	}

	ev.Kind = model.PoolOracleUpdate
	ev.Pool = ""
	ev.Asset = indexed.Asset.Hex()
	ev.Price = fromFixed(price, d.oracleDecimals)
	return nil
}
