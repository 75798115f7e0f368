package lending

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"liquidationKeeper/internal/model"
)

// Caller performs read-only contract calls. chain.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type ReaderConfig struct {
	Oracle         string
	OracleDecimals int32
	Router         string
}

// Reader loads pool, oracle, position and token state through eth_call.
// A block of 0 reads the latest state.
type Reader struct {
	caller         Caller
	oracle         common.Address
	router         common.Address
	oracleDecimals int32

	mu       sync.RWMutex
	decimals map[common.Address]uint8

	logger *zap.Logger
}

func NewReader(caller Caller, cfg ReaderConfig, logger *zap.Logger) (*Reader, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain caller is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reader{
		caller:         caller,
		oracleDecimals: cfg.OracleDecimals,
		decimals:       make(map[common.Address]uint8),
		logger:         logger,
	}
	if cfg.Oracle != "" {
		addr, err := toAddress(cfg.Oracle)
		if err != nil {
			return nil, fmt.Errorf("oracle: %w", err)
		}
		r.oracle = addr
	}
	if cfg.Router != "" {
		addr, err := toAddress(cfg.Router)
		if err != nil {
			return nil, fmt.Errorf("router: %w", err)
		}
		r.router = addr
	}
	return r, nil
}

func blockArg(block uint64) *big.Int {
	if block == 0 {
		return nil
	}
	return new(big.Int).SetUint64(block)
}

func (r *Reader) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, block uint64, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := r.caller.CallContract(ctx, msg, blockArg(block))
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// ReserveList returns the reserve assets of a pool.
func (r *Reader) ReserveList(ctx context.Context, pool string, block uint64) ([]string, error) {
	poolAddr, err := toAddress(pool)
	if err != nil {
		return nil, err
	}
	poolABI, err := PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := r.call(ctx, poolAddr, poolABI, "getReserveList", block)
	if err != nil {
		return nil, err
	}
	assets, err := asAddresses(values[0])
	if err != nil {
		return nil, fmt.Errorf("reserve list: %w", err)
	}
	out := make([]string, 0, len(assets))
	for _, asset := range assets {
		out = append(out, asset.Hex())
	}
	return out, nil
}

// FetchPool loads every reserve config of a pool.
func (r *Reader) FetchPool(ctx context.Context, pool string, block uint64) (model.PoolSnapshot, error) {
	poolAddr, err := toAddress(pool)
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	poolABI, err := PoolABI()
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("parse pool abi: %w", err)
	}
	assets, err := r.ReserveList(ctx, pool, block)
	if err != nil {
		return model.PoolSnapshot{}, err
	}

	snap := model.PoolSnapshot{
		Pool:         poolAddr.Hex(),
		Reserves:     make(map[string]model.ReserveConfig, len(assets)),
		UpdatedBlock: block,
	}
	for _, asset := range assets {
		values, err := r.call(ctx, poolAddr, poolABI, "getReserve", block, common.HexToAddress(asset))
		if err != nil {
			return model.PoolSnapshot{}, fmt.Errorf("reserve %s: %w", asset, err)
		}
		cfg, err := reserveFromValues(asset, values)
		if err != nil {
			return model.PoolSnapshot{}, fmt.Errorf("reserve %s: %w", asset, err)
		}
		snap.Reserves[asset] = cfg
	}
	return snap, nil
}

func reserveFromValues(asset string, values []interface{}) (model.ReserveConfig, error) {
	if len(values) != 6 {
		return model.ReserveConfig{}, fmt.Errorf("unexpected reserve values: %d", len(values))
	}
	index, err := asBigInt(values[0])
	if err != nil {
		return model.ReserveConfig{}, err
	}
	decimals, err := asUint8(values[1])
	if err != nil {
		return model.ReserveConfig{}, err
	}
	ints := make([]*big.Int, 4)
	for i := range ints {
		if ints[i], err = asBigInt(values[i+2]); err != nil {
			return model.ReserveConfig{}, err
		}
	}
	return model.ReserveConfig{
		Asset:            asset,
		Index:            uint32(index.Uint64()),
		Decimals:         decimals,
		CollateralFactor: fromFixed(ints[0], factorDecimals),
		LiabilityFactor:  fromFixed(ints[1], factorDecimals),
		BRate:            fromFixed(ints[2], rateDecimals),
		DRate:            fromFixed(ints[3], rateDecimals),
	}, nil
}

// FetchPrices reads the last oracle price of each asset.
func (r *Reader) FetchPrices(ctx context.Context, assets []string, block uint64) (map[string]decimal.Decimal, error) {
	if r.oracle == (common.Address{}) {
		return nil, fmt.Errorf("oracle address not configured")
	}
	oracleABI, err := OracleABI()
	if err != nil {
		return nil, fmt.Errorf("parse oracle abi: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(assets))
	for _, asset := range assets {
		assetAddr, err := toAddress(asset)
		if err != nil {
			return nil, err
		}
		values, err := r.call(ctx, r.oracle, oracleABI, "lastPrice", block, assetAddr)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", asset, err)
		}
		price, err := asBigInt(values[0])
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", asset, err)
		}
		if price.Sign() <= 0 {
			r.logger.Warn("oracle returned no price", zap.String("asset", asset))
			continue
		}
		out[asset] = fromFixed(price, r.oracleDecimals)
	}
	return out, nil
}

// OracleDecimals reads the oracle's price precision.
func (r *Reader) OracleDecimals(ctx context.Context) (int32, error) {
	oracleABI, err := OracleABI()
	if err != nil {
		return 0, fmt.Errorf("parse oracle abi: %w", err)
	}
	values, err := r.call(ctx, r.oracle, oracleABI, "decimals", 0)
	if err != nil {
		return 0, err
	}
	dec, err := asUint8(values[0])
	if err != nil {
		return 0, err
	}
	return int32(dec), nil
}

// FetchPosition loads a user's b- and d-token balances in a pool.
func (r *Reader) FetchPosition(ctx context.Context, user, pool string, block uint64) (model.Position, error) {
	poolAddr, err := toAddress(pool)
	if err != nil {
		return model.Position{}, err
	}
	userAddr, err := toAddress(user)
	if err != nil {
		return model.Position{}, err
	}
	poolABI, err := PoolABI()
	if err != nil {
		return model.Position{}, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := r.call(ctx, poolAddr, poolABI, "getPositions", block, userAddr)
	if err != nil {
		return model.Position{}, err
	}
	if len(values) != 4 {
		return model.Position{}, fmt.Errorf("unexpected position values: %d", len(values))
	}
	collAssets, err := asAddresses(values[0])
	if err != nil {
		return model.Position{}, err
	}
	collAmounts, err := asBigInts(values[1])
	if err != nil {
		return model.Position{}, err
	}
	liabAssets, err := asAddresses(values[2])
	if err != nil {
		return model.Position{}, err
	}
	liabAmounts, err := asBigInts(values[3])
	if err != nil {
		return model.Position{}, err
	}
	collateral, err := amountsMap(collAssets, collAmounts)
	if err != nil {
		return model.Position{}, fmt.Errorf("collateral: %w", err)
	}
	liabilities, err := amountsMap(liabAssets, liabAmounts)
	if err != nil {
		return model.Position{}, fmt.Errorf("liabilities: %w", err)
	}

	pos := model.NewPosition(model.PositionKey{User: userAddr.Hex(), Pool: poolAddr.Hex()})
	pos.Collateral = collateral
	pos.Liabilities = liabilities
	pos.LastSeenBlock = block
	return pos, nil
}

// FetchAuction reads an auction from chain. ok is false when no auction exists.
func (r *Reader) FetchAuction(ctx context.Context, pool, user string, kind model.AuctionKind, block uint64) (model.Auction, bool, error) {
	poolAddr, err := toAddress(pool)
	if err != nil {
		return model.Auction{}, false, err
	}
	userAddr, err := toAddress(user)
	if err != nil {
		return model.Auction{}, false, err
	}
	poolABI, err := PoolABI()
	if err != nil {
		return model.Auction{}, false, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := r.call(ctx, poolAddr, poolABI, "getAuction", block, uint8(kind), userAddr)
	if err != nil {
		return model.Auction{}, false, err
	}
	bid, lot, start, err := auctionData(values)
	if err != nil {
		return model.Auction{}, false, err
	}
	if len(bid) == 0 && len(lot) == 0 {
		return model.Auction{}, false, nil
	}
	return model.Auction{
		ID:         model.AuctionID{Pool: poolAddr.Hex(), User: userAddr.Hex(), Kind: kind},
		Bid:        bid,
		Lot:        lot,
		StartBlock: start,
		Status:     model.AuctionOpen,
	}, true, nil
}

// BalanceOf returns an ERC20 balance in base units.
func (r *Reader) BalanceOf(ctx context.Context, asset, account string, block uint64) (decimal.Decimal, error) {
	assetAddr, err := toAddress(asset)
	if err != nil {
		return decimal.Zero, err
	}
	accountAddr, err := toAddress(account)
	if err != nil {
		return decimal.Zero, err
	}
	erc20, err := ERC20ABI()
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := r.call(ctx, assetAddr, erc20, "balanceOf", block, accountAddr)
	if err != nil {
		return decimal.Zero, err
	}
	bal, err := asBigInt(values[0])
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(bal, 0), nil
}

// TokenDecimals returns a token's decimals, cached after the first read.
func (r *Reader) TokenDecimals(ctx context.Context, asset string) (uint8, error) {
	assetAddr, err := toAddress(asset)
	if err != nil {
		return 0, err
	}
	r.mu.RLock()
	dec, ok := r.decimals[assetAddr]
	r.mu.RUnlock()
	if ok {
		return dec, nil
	}

	erc20, err := ERC20ABI()
	if err != nil {
		return 0, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := r.call(ctx, assetAddr, erc20, "decimals", 0)
	if err != nil {
		return 0, err
	}
	dec, err = asUint8(values[0])
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.decimals[assetAddr] = dec
	r.mu.Unlock()
	return dec, nil
}

// QuoteSell quotes the proceeds of selling amount whole units of asset for quote
// through the router.
func (r *Reader) QuoteSell(ctx context.Context, asset, quote string, amount decimal.Decimal) (decimal.Decimal, error) {
	if r.router == (common.Address{}) {
		return decimal.Zero, fmt.Errorf("router address not configured")
	}
	assetAddr, err := toAddress(asset)
	if err != nil {
		return decimal.Zero, err
	}
	quoteAddr, err := toAddress(quote)
	if err != nil {
		return decimal.Zero, err
	}
	inDecimals, err := r.TokenDecimals(ctx, asset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decimals %s: %w", asset, err)
	}
	outDecimals, err := r.TokenDecimals(ctx, quote)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decimals %s: %w", quote, err)
	}
	amountIn := toBaseUnits(amount, inDecimals)
	if amountIn.Sign() <= 0 {
		return decimal.Zero, nil
	}

	routerABI, err := RouterABI()
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse router abi: %w", err)
	}
	values, err := r.call(ctx, r.router, routerABI, "getAmountsOut", 0, amountIn, []common.Address{assetAddr, quoteAddr})
	if err != nil {
		return decimal.Zero, err
	}
	amounts, err := asBigInts(values[0])
	if err != nil {
		return decimal.Zero, err
	}
	if len(amounts) == 0 {
		return decimal.Zero, fmt.Errorf("empty router quote")
	}
	return fromFixed(amounts[len(amounts)-1], int32(outDecimals)), nil
}
