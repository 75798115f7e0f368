package lending

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"liquidationKeeper/internal/model"
)

// DecimalsResolver resolves token decimals for whole-unit amounts.
type DecimalsResolver interface {
	TokenDecimals(ctx context.Context, asset string) (uint8, error)
}

// Encoder turns actions into contract calldata.
type Encoder struct {
	executor common.Address
	decimals DecimalsResolver
}

// NewEncoder builds an encoder. executor may be empty when swaps and arbitrage are disabled.
func NewEncoder(executor string, decimals DecimalsResolver) (*Encoder, error) {
	enc := &Encoder{decimals: decimals}
	if executor != "" {
		addr, err := toAddress(executor)
		if err != nil {
			return nil, fmt.Errorf("executor: %w", err)
		}
		enc.executor = addr
	}
	return enc, nil
}

// EncodeAction returns the target contract and calldata for an action.
func (e *Encoder) EncodeAction(ctx context.Context, action model.Action) (common.Address, []byte, error) {
	switch action.Type {
	case model.ActionCreateAuction:
		return e.encodeCreate(action)
	case model.ActionFillAuction:
		return e.encodeFill(action)
	case model.ActionRepay:
		return e.encodeRepay(action)
	case model.ActionSwap:
		return e.encodeSwap(action)
	case model.ActionArbExecute:
		return e.encodeArb(ctx, action)
	default:
		return common.Address{}, nil, fmt.Errorf("unsupported action type: %s", action.Type)
	}
}

func (e *Encoder) encodeCreate(action model.Action) (common.Address, []byte, error) {
	pool, user, err := poolAndUser(action)
	if err != nil {
		return common.Address{}, nil, err
	}
	poolABI, err := PoolABI()
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("parse pool abi: %w", err)
	}

	var data []byte
	switch action.Kind {
	case model.AuctionLiquidation:
		if action.Percent < 1 || action.Percent > 100 {
			return common.Address{}, nil, fmt.Errorf("liquidation percent out of range: %d", action.Percent)
		}
		data, err = poolABI.Pack("newLiquidationAuction", user, big.NewInt(action.Percent))
	case model.AuctionBadDebt:
		data, err = poolABI.Pack("badDebt", user)
	default:
		return common.Address{}, nil, fmt.Errorf("cannot create %s auction", action.Kind)
	}
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("pack create auction: %w", err)
	}
	return pool, data, nil
}

func (e *Encoder) encodeFill(action model.Action) (common.Address, []byte, error) {
	pool, user, err := poolAndUser(action)
	if err != nil {
		return common.Address{}, nil, err
	}
	if action.Percent < 1 || action.Percent > 100 {
		return common.Address{}, nil, fmt.Errorf("fill percent out of range: %d", action.Percent)
	}
	poolABI, err := PoolABI()
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("parse pool abi: %w", err)
	}
	data, err := poolABI.Pack("fillAuction", user, uint8(action.Kind), big.NewInt(action.Percent))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("pack fill auction: %w", err)
	}
	return pool, data, nil
}

func (e *Encoder) encodeRepay(action model.Action) (common.Address, []byte, error) {
	pool, err := toAddress(action.Pool)
	if err != nil {
		return common.Address{}, nil, err
	}
	asset, err := toAddress(action.Asset)
	if err != nil {
		return common.Address{}, nil, err
	}
	if action.Amount.Sign() <= 0 {
		return common.Address{}, nil, fmt.Errorf("repay amount must be positive")
	}
	poolABI, err := PoolABI()
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("parse pool abi: %w", err)
	}
	data, err := poolABI.Pack("repay", asset, action.Amount.Ceil().BigInt())
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("pack repay: %w", err)
	}
	return pool, data, nil
}

func (e *Encoder) encodeSwap(action model.Action) (common.Address, []byte, error) {
	if e.executor == (common.Address{}) {
		return common.Address{}, nil, fmt.Errorf("executor address not configured")
	}
	pool, err := toAddress(action.Pool)
	if err != nil {
		return common.Address{}, nil, err
	}
	assetIn, err := toAddress(action.Asset)
	if err != nil {
		return common.Address{}, nil, err
	}
	assetOut, err := toAddress(action.AssetOut)
	if err != nil {
		return common.Address{}, nil, err
	}
	executorABI, err := ExecutorABI()
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("parse executor abi: %w", err)
	}
	data, err := executorABI.Pack("swap", pool, assetIn, assetOut,
		action.Amount.Ceil().BigInt(), action.MinOut.Floor().BigInt())
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("pack swap: %w", err)
	}
	return e.executor, data, nil
}

// encodeArb converts the whole-unit order amounts into base units. The quote side uses
// the order's quote asset decimals, resolved through AssetOut.
func (e *Encoder) encodeArb(ctx context.Context, action model.Action) (common.Address, []byte, error) {
	if e.executor == (common.Address{}) {
		return common.Address{}, nil, fmt.Errorf("executor address not configured")
	}
	if e.decimals == nil {
		return common.Address{}, nil, fmt.Errorf("decimals resolver is nil")
	}
	if action.OrderID == "" {
		return common.Address{}, nil, fmt.Errorf("arb action without order id")
	}
	asset, err := toAddress(action.Asset)
	if err != nil {
		return common.Address{}, nil, err
	}
	assetDecimals, err := e.decimals.TokenDecimals(ctx, action.Asset)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("decimals %s: %w", action.Asset, err)
	}
	quoteDecimals, err := e.decimals.TokenDecimals(ctx, action.AssetOut)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("decimals %s: %w", action.AssetOut, err)
	}

	executorABI, err := ExecutorABI()
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("parse executor abi: %w", err)
	}
	orderID := crypto.Keccak256Hash([]byte(action.OrderID))
	data, err := executorABI.Pack("execute", [32]byte(orderID), asset,
		toBaseUnits(action.Amount, assetDecimals),
		toBaseUnitsCeil(action.MaxCost, quoteDecimals),
		toBaseUnits(action.MinOut, quoteDecimals),
	)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("pack execute: %w", err)
	}
	return e.executor, data, nil
}

func poolAndUser(action model.Action) (common.Address, common.Address, error) {
	pool, err := toAddress(action.Pool)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	user, err := toAddress(action.User)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return pool, user, nil
}
