package auctioneer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"liquidationKeeper/internal/auction"
	"liquidationKeeper/internal/model"
	"liquidationKeeper/internal/risk"
)

// DefaultPendingRetryBlocks is how long a requested auction may take to appear before
// creation is retried.
const DefaultPendingRetryBlocks uint64 = 20

// State is the lifecycle stage of a tracked user.
type State string

const (
	StateHealthy        State = "healthy"
	StateLiquidatable   State = "liquidatable"
	StateAuctionPending State = "auction_pending"
	StateAuctionOpen    State = "auction_open"
)

// Market supplies pool configs and fresh prices.
type Market interface {
	Pool(pool string) (model.PoolSnapshot, bool)
	PriceSet(block uint64) (model.PriceSet, error)
}

// Auctions is the read side of the auction registry.
type Auctions interface {
	OpenFor(user, pool string) []model.Auction
	Open() []model.Auction
}

// Holdings exposes our own account: wallet balances and per-pool positions.
type Holdings interface {
	Wallet(asset string) decimal.Decimal
	Position(pool string) (model.Position, bool)
}

type Config struct {
	MinHF                decimal.Decimal
	RequiredProfit       decimal.Decimal
	BidPercentage        decimal.Decimal
	FillCost             decimal.Decimal
	TrackMaxHF           decimal.Decimal
	PendingRetryBlocks   uint64
	SupportedCollateral  []string
	SupportedLiabilities []string
	Backstop             risk.Backstop
	Curve                auction.Curve
}

type userState struct {
	state        State
	kind         model.AuctionKind
	pendingSince uint64
}

// Auctioneer decides when to create and fill auctions.
type Auctioneer struct {
	mu       sync.Mutex
	cfg      Config
	states   map[model.PositionKey]*userState
	market   Market
	auctions Auctions
	holdings Holdings
	logger   *zap.Logger
}

func New(cfg Config, market Market, auctions Auctions, holdings Holdings, logger *zap.Logger) *Auctioneer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Curve == nil {
		cfg.Curve = auction.DefaultCurve()
	}
	if cfg.PendingRetryBlocks == 0 {
		cfg.PendingRetryBlocks = DefaultPendingRetryBlocks
	}
	if cfg.MinHF.Sign() <= 0 {
		cfg.MinHF = decimal.RequireFromString("1.2")
	}
	return &Auctioneer{
		cfg:      cfg,
		states:   make(map[model.PositionKey]*userState),
		market:   market,
		auctions: auctions,
		holdings: holdings,
		logger:   logger,
	}
}

// State returns the lifecycle stage of a user.
func (a *Auctioneer) State(key model.PositionKey) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.states[key]; ok {
		return st.state
	}
	return StateHealthy
}

// EvaluateUser moves a tracked user through the lifecycle and returns the creation action,
// if any, the new state calls for.
func (a *Auctioneer) EvaluateUser(pos model.Position, block uint64) ([]model.Action, error) {
	key := pos.Key()
	pool, ok := a.market.Pool(pos.Pool)
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", pos.Pool, model.ErrUnknownReserve)
	}
	prices, err := a.market.PriceSet(block)
	if err != nil {
		return nil, err
	}
	snap, err := risk.Evaluate(pos, pool, prices)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", key, err)
	}
	cls := risk.Classify(snap, a.cfg.TrackMaxHF)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hasOpenAuction(key) {
		a.setLocked(key, &userState{state: StateAuctionOpen})
		return nil, nil
	}

	var kind model.AuctionKind
	percent := int64(100)
	switch cls.Verdict {
	case risk.VerdictLiquidate:
		kind, percent = model.AuctionLiquidation, cls.Percent
	case risk.VerdictBadDebt:
		kind = model.AuctionBadDebt
	default:
		delete(a.states, key)
		return nil, nil
	}

	st := a.states[key]
	if st != nil && st.state == StateLiquidatable && st.kind == kind {
		return nil, nil
	}
	if st != nil && st.state == StateAuctionPending && st.kind == kind && block < st.pendingSince+a.cfg.PendingRetryBlocks {
		return nil, nil
	}
	retry := st != nil && st.state == StateAuctionPending

	a.setLocked(key, &userState{state: StateAuctionPending, kind: kind, pendingSince: block})
	a.logger.Info("auction requested",
		zap.String("position", key.String()),
		zap.String("kind", kind.String()),
		zap.Int64("percent", percent),
		zap.String("hf", snap.HealthFactor.String()),
		zap.Bool("retry", retry),
	)
	return []model.Action{{
		ID:        model.CreateAuctionID(key, kind),
		RequestID: uuid.NewString(),
		Type:      model.ActionCreateAuction,
		Pool:      key.Pool,
		User:      key.User,
		Kind:      kind,
		Percent:   percent,
		Block:     block,
	}}, nil
}

func (a *Auctioneer) hasOpenAuction(key model.PositionKey) bool {
	for _, au := range a.auctions.OpenFor(key.User, key.Pool) {
		if au.ID.Kind != model.AuctionInterest {
			return true
		}
	}
	return false
}

func (a *Auctioneer) setLocked(key model.PositionKey, st *userState) {
	a.states[key] = st
}

// OnAuctionOpened records that a user auction appeared on chain.
func (a *Auctioneer) OnAuctionOpened(au model.Auction) {
	if au.ID.Kind == model.AuctionInterest {
		return
	}
	key := model.PositionKey{User: au.ID.User, Pool: au.ID.Pool}
	a.mu.Lock()
	a.states[key] = &userState{state: StateAuctionOpen, kind: au.ID.Kind}
	a.mu.Unlock()
}

// OnAuctionClosed returns the user to healthy. The caller re-evaluates the position, so a
// partially covered user can move straight back to liquidatable.
func (a *Auctioneer) OnAuctionClosed(id model.AuctionID) {
	key := model.PositionKey{User: id.User, Pool: id.Pool}
	a.mu.Lock()
	delete(a.states, key)
	a.mu.Unlock()
}

// PendingDue lists users whose requested auction did not appear within the retry window.
func (a *Auctioneer) PendingDue(block uint64) []model.PositionKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.PositionKey
	for key, st := range a.states {
		if st.state == StateAuctionPending && block >= st.pendingSince+a.cfg.PendingRetryBlocks {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// GiveUp parks a user whose creation attempts are exhausted. Nothing is emitted for the
// user until its verdict changes.
func (a *Auctioneer) GiveUp(key model.PositionKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[key]
	if !ok || st.state != StateAuctionPending {
		return
	}
	st.state = StateLiquidatable
}

// Forget drops the lifecycle state of a user no longer tracked.
func (a *Auctioneer) Forget(key model.PositionKey) {
	a.mu.Lock()
	delete(a.states, key)
	a.mu.Unlock()
}
