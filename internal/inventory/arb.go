package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"liquidationKeeper/internal/model"
)

// Quoter prices the on-chain sale of amount whole units of asset into quote.
type Quoter interface {
	QuoteSell(ctx context.Context, asset, quote string, amount decimal.Decimal) (decimal.Decimal, error)
}

// Arb matches off-chain sell orders against on-chain quotes.
type Arb struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	assets   []string
	fee      decimal.Decimal
	quoter   Quoter
	logger   *zap.Logger
}

// NewArb builds an arbitrage evaluator for orders on the given assets. fee is our fixed
// cost per execution, in quote units.
func NewArb(assets []string, fee decimal.Decimal, quoter Quoter, logger *zap.Logger) *Arb {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Arb{
		inflight: make(map[string]struct{}),
		assets:   append([]string(nil), assets...),
		fee:      fee,
		quoter:   quoter,
		logger:   logger,
	}
}

// Assess computes the opportunity of buying an order and selling for proceeds.
func Assess(order model.MarketOrder, proceeds, arbFee decimal.Decimal) model.ArbOpportunity {
	fees := order.Fee.Add(arbFee)
	return model.ArbOpportunity{
		OrderID:  order.ID,
		Asset:    order.Asset,
		Quote:    order.QuoteAsset,
		Amount:   order.Amount,
		Cost:     order.Cost,
		Proceeds: proceeds,
		Fees:     fees,
		Net:      proceeds.Sub(order.Cost).Sub(fees),
	}
}

// Evaluate returns an execution for a profitable order, or nil. At most one execution per
// order id is handed out until Release frees it.
func (a *Arb) Evaluate(ctx context.Context, order model.MarketOrder) (*model.Action, error) {
	if order.Kind == model.OrderCancel || !a.quotable(order.Asset) {
		return nil, nil
	}
	if order.Amount.Sign() <= 0 {
		return nil, nil
	}
	if a.busy(order.ID) {
		return nil, nil
	}
	if a.quoter == nil {
		return nil, fmt.Errorf("quoter is nil")
	}

	proceeds, err := a.quoter.QuoteSell(ctx, order.Asset, order.QuoteAsset, order.Amount)
	if err != nil {
		return nil, fmt.Errorf("quote order %s: %w", order.ID, err)
	}
	opp := Assess(order, proceeds, a.fee)
	if opp.Net.Sign() <= 0 {
		a.logger.Debug("order not profitable",
			zap.String("order", order.ID),
			zap.String("net", opp.Net.String()),
		)
		return nil, nil
	}

	a.mu.Lock()
	if _, ok := a.inflight[order.ID]; ok {
		a.mu.Unlock()
		return nil, nil
	}
	a.inflight[order.ID] = struct{}{}
	a.mu.Unlock()

	a.logger.Info("arbitrage found",
		zap.String("order", order.ID),
		zap.String("asset", order.Asset),
		zap.String("cost", opp.Cost.String()),
		zap.String("proceeds", opp.Proceeds.String()),
		zap.String("net", opp.Net.String()),
	)
	return &model.Action{
		ID:             model.ArbID(order.ID),
		RequestID:      uuid.NewString(),
		Type:           model.ActionArbExecute,
		OrderID:        order.ID,
		Asset:          order.Asset,
		AssetOut:       order.QuoteAsset,
		Amount:         order.Amount,
		MaxCost:        order.Cost,
		MinOut:         order.Cost.Add(opp.Fees),
		ExpectedProfit: opp.Net,
	}, nil
}

// Release frees an order slot unless the execution went out. Submitted orders stay
// taken; they are consumed on chain.
func (a *Arb) Release(orderID string, submitted bool) {
	if submitted {
		return
	}
	a.mu.Lock()
	delete(a.inflight, orderID)
	a.mu.Unlock()
}

// Forget drops every trace of an order, used on cancellation.
func (a *Arb) Forget(orderID string) {
	a.mu.Lock()
	delete(a.inflight, orderID)
	a.mu.Unlock()
}

func (a *Arb) busy(orderID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.inflight[orderID]
	return ok
}

func (a *Arb) quotable(asset string) bool {
	if len(a.assets) == 0 {
		return true
	}
	for _, v := range a.assets {
		if v == asset {
			return true
		}
	}
	return false
}
