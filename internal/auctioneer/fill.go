package auctioneer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"liquidationKeeper/internal/auction"
	"liquidationKeeper/internal/model"
	"liquidationKeeper/internal/risk"
)

var hundred = decimal.NewFromInt(100)

// Candidate is a profitable fill together with the values it was chosen on.
type Candidate struct {
	Action   model.Action
	BidValue decimal.Decimal
	LotValue decimal.Decimal
	Net      decimal.Decimal
}

// Skip records an auction that was not filled and why.
type Skip struct {
	Auction model.AuctionID
	Reason  string
	Err     error
}

// FillCandidates values every open auction at block and returns the fills that clear the
// required profit, cheapest bid first.
func (a *Auctioneer) FillCandidates(block uint64) ([]Candidate, []Skip) {
	var (
		out     []Candidate
		skipped []Skip
	)
	for _, au := range a.auctions.Open() {
		c, err := a.evaluateFill(au, block)
		if err != nil {
			s := Skip{Auction: au.ID, Reason: skipReason(err), Err: err}
			skipped = append(skipped, s)
			a.logger.Debug("fill skipped", zap.String("auction", au.ID.String()), zap.String("reason", s.Reason), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].BidValue.Equal(out[j].BidValue) {
			return out[i].BidValue.LessThan(out[j].BidValue)
		}
		return out[i].Action.ID < out[j].Action.ID
	})
	return out, skipped
}

var (
	errUnsupportedAsset = errors.New("unsupported asset")
	errEmptyAuction     = errors.New("nothing to fill")
	errUnprofitable     = errors.New("below required profit")
)

func skipReason(err error) string {
	switch {
	case errors.Is(err, errUnsupportedAsset):
		return "unsupported_asset"
	case errors.Is(err, errEmptyAuction):
		return "empty"
	case errors.Is(err, errUnprofitable):
		return "unprofitable"
	case errors.Is(err, model.ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, model.ErrStaleData):
		return "stale_data"
	case errors.Is(err, model.ErrUnknownReserve):
		return "unknown_reserve"
	default:
		return "error"
	}
}

func (a *Auctioneer) evaluateFill(au model.Auction, block uint64) (Candidate, error) {
	if err := a.supported(au); err != nil {
		return Candidate{}, err
	}
	pool, ok := a.market.Pool(au.ID.Pool)
	if !ok {
		return Candidate{}, fmt.Errorf("pool %s: %w", au.ID.Pool, model.ErrUnknownReserve)
	}
	prices, err := a.market.PriceSet(block)
	if err != nil {
		return Candidate{}, err
	}

	bid, lot := auction.Decay(au, block, a.cfg.Curve)
	if len(lot) == 0 {
		return Candidate{}, errEmptyAuction
	}
	bidValue, bidWeighted, err := risk.LegValue(au.ID.Kind, true, bid, pool, prices, a.cfg.Backstop)
	if err != nil {
		return Candidate{}, fmt.Errorf("value bid: %w", err)
	}
	lotValue, lotWeighted, err := risk.LegValue(au.ID.Kind, false, lot, pool, prices, a.cfg.Backstop)
	if err != nil {
		return Candidate{}, fmt.Errorf("value lot: %w", err)
	}

	// the whole auction has to clear the bar before it is sized
	if lotValue.Sub(bidValue).Sub(a.cfg.FillCost).LessThan(a.cfg.RequiredProfit) {
		return Candidate{}, fmt.Errorf("gross %s: %w", lotValue.Sub(bidValue), errUnprofitable)
	}

	pct, err := a.capacity(au, bid, bidWeighted, lotWeighted, pool, prices)
	if err != nil {
		return Candidate{}, err
	}

	share := decimal.NewFromInt(pct).Div(hundred)
	scaledBid := bidValue.Mul(share)
	scaledLot := lotValue.Mul(share)
	net := netProfit(scaledLot.Sub(scaledBid), a.cfg.FillCost, a.cfg.BidPercentage)
	if net.LessThan(a.cfg.RequiredProfit) {
		return Candidate{}, fmt.Errorf("net %s at %d%%: %w", net, pct, errUnprofitable)
	}

	return Candidate{
		Action: model.Action{
			ID:             model.FillAuctionID(au.ID),
			RequestID:      uuid.NewString(),
			Type:           model.ActionFillAuction,
			Pool:           au.ID.Pool,
			User:           au.ID.User,
			Kind:           au.ID.Kind,
			Percent:        pct,
			ExpectedProfit: net,
			Block:          block,
		},
		BidValue: scaledBid,
		LotValue: scaledLot,
		Net:      net,
	}, nil
}

// netProfit subtracts the fixed fill cost and the share of gross profit reserved for fees.
func netProfit(gross, fillCost, bidPercentage decimal.Decimal) decimal.Decimal {
	fees := fillCost
	if gross.Sign() > 0 && bidPercentage.Sign() > 0 {
		fees = fees.Add(gross.Mul(bidPercentage).Div(hundred))
	}
	return gross.Sub(fees)
}

func (a *Auctioneer) supported(au model.Auction) error {
	bidLP := a.cfg.Backstop.Leg(au.ID.Kind, true)
	lotLP := a.cfg.Backstop.Leg(au.ID.Kind, false)
	for asset := range au.Bid {
		if bidLP && asset == a.cfg.Backstop.Token {
			continue
		}
		if !allowed(a.cfg.SupportedLiabilities, asset) {
			return fmt.Errorf("bid asset %s: %w", asset, errUnsupportedAsset)
		}
	}
	for asset := range au.Lot {
		if lotLP && asset == a.cfg.Backstop.Token {
			continue
		}
		if !allowed(a.cfg.SupportedCollateral, asset) {
			return fmt.Errorf("lot asset %s: %w", asset, errUnsupportedAsset)
		}
	}
	return nil
}

// allowed treats an empty list as no restriction.
func allowed(list []string, asset string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == asset {
			return true
		}
	}
	return false
}

// capacity returns the whole percent of the auction we can take on.
func (a *Auctioneer) capacity(au model.Auction, bid map[string]decimal.Decimal, bidWeighted, lotWeighted decimal.Decimal, pool model.PoolSnapshot, prices model.PriceSet) (int64, error) {
	if a.holdings == nil {
		return 0, fmt.Errorf("no holdings: %w", model.ErrInsufficientInventory)
	}
	var pct int64
	if au.ID.Kind == model.AuctionLiquidation {
		var err error
		pct, err = a.healthCapacity(au.ID.Pool, bidWeighted, lotWeighted, pool, prices)
		if err != nil {
			return 0, err
		}
	} else {
		pct = a.walletCapacity(au.ID.Kind, bid, pool)
	}
	if pct <= 0 {
		return 0, fmt.Errorf("auction %s: %w", au.ID, model.ErrInsufficientInventory)
	}
	return pct, nil
}

// healthCapacity solves (wc + p*lot) / (wl + p*bid) >= minHF for the largest p in [0, 1],
// where wc and wl are our own weighted collateral and liabilities in the pool.
func (a *Auctioneer) healthCapacity(poolID string, bidWeighted, lotWeighted decimal.Decimal, pool model.PoolSnapshot, prices model.PriceSet) (int64, error) {
	wc, wl := decimal.Zero, decimal.Zero
	if own, ok := a.holdings.Position(poolID); ok {
		snap, err := risk.Evaluate(own, pool, prices)
		if err != nil {
			return 0, fmt.Errorf("evaluate own position: %w", err)
		}
		wc, wl = snap.WeightedCollateral, snap.WeightedLiability
	}

	minHF := a.cfg.MinHF
	coef := lotWeighted.Sub(minHF.Mul(bidWeighted))
	slack := wc.Sub(minHF.Mul(wl))

	if coef.Sign() >= 0 {
		// filling never lowers our health; a full fill must cover any existing deficit
		if slack.Add(coef).Sign() >= 0 {
			return 100, nil
		}
		return 0, nil
	}
	if slack.Sign() <= 0 {
		return 0, nil
	}
	p := slack.Div(coef.Neg())
	if p.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return 100, nil
	}
	return p.Mul(hundred).Floor().IntPart(), nil
}

// walletCapacity caps a fill by the wallet balance available for each bid asset.
func (a *Auctioneer) walletCapacity(kind model.AuctionKind, bid map[string]decimal.Decimal, pool model.PoolSnapshot) int64 {
	bidSide, _ := risk.AuctionSides(kind)
	pct := hundred
	for asset, amount := range bid {
		need := amount
		if bidSide == risk.Liability {
			cfg, ok := pool.Reserve(asset)
			if !ok {
				return 0
			}
			need = amount.Mul(cfg.DRate).Ceil()
		}
		if need.Sign() <= 0 {
			continue
		}
		have := a.holdings.Wallet(asset)
		share := have.Mul(hundred).Div(need).Floor()
		if share.LessThan(pct) {
			pct = share
		}
	}
	return pct.IntPart()
}
