package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"liquidationKeeper/internal/model"
)

// orderMessage is one marketplace frame.
type orderMessage struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Asset      string          `json:"asset"`
	QuoteAsset string          `json:"quote_asset"`
	Amount     decimal.Decimal `json:"amount"`
	Cost       decimal.Decimal `json:"cost"`
	Fee        decimal.Decimal `json:"fee"`
}

type Options struct {
	URL               string
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	// Normalize rewrites asset ids into the keeper's canonical form. Optional.
	Normalize func(string) (string, error)
}

// OrderStream reads sell orders and cancellations from the marketplace websocket and
// reconnects with jittered exponential backoff.
type OrderStream struct {
	opts   Options
	logger *zap.Logger
}

func NewOrderStream(opts Options, logger *zap.Logger) *OrderStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 5 * time.Second
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	return &OrderStream{opts: opts, logger: logger}
}

// Run delivers orders until ctx is cancelled.
func (s *OrderStream) Run(ctx context.Context, out chan<- model.Event) error {
	if strings.TrimSpace(s.opts.URL) == "" {
		return fmt.Errorf("order stream url is empty")
	}
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := websocket.Dial(ctx, s.opts.URL, nil)
		if err != nil {
			s.logger.Warn("order stream connect failed", zap.Error(err))
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		conn.SetReadLimit(1 << 20)
		s.logger.Info("order stream connected", zap.String("url", s.opts.URL))

		delivered, err := s.consume(ctx, conn, out)
		_ = conn.Close(websocket.StatusNormalClosure, "reconnect")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered > 0 {
			backoff = s.opts.BackoffMin
		}
		s.logger.Warn("order stream disconnected", zap.Error(err), zap.Int("delivered", delivered))
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

func (s *OrderStream) consume(ctx context.Context, conn *websocket.Conn, out chan<- model.Event) (int, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				pingCtx, cancelPing := context.WithTimeout(connCtx, s.opts.PingTimeout)
				err := conn.Ping(pingCtx)
				cancelPing()
				if err != nil {
					s.logger.Warn("order stream ping failed", zap.Error(err))
					cancel()
					return
				}
			}
		}
	}()

	delivered := 0
	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			return delivered, err
		}
		order, ok, err := s.parse(data)
		if err != nil {
			s.logger.Warn("order stream bad message", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		select {
		case <-connCtx.Done():
			return delivered, connCtx.Err()
		case out <- model.Event{Kind: model.EventMarketplaceOrder, Order: &order}:
			delivered++
		}
	}
}

// parse decodes a frame. ok is false for frames that carry no order, such as pings.
func (s *OrderStream) parse(data []byte) (model.MarketOrder, bool, error) {
	var msg orderMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return model.MarketOrder{}, false, fmt.Errorf("decode order: %w", err)
	}

	var kind model.OrderKind
	switch strings.ToLower(msg.Type) {
	case "order":
		kind = model.OrderNew
	case "cancel":
		kind = model.OrderCancel
	default:
		return model.MarketOrder{}, false, nil
	}
	if msg.ID == "" {
		return model.MarketOrder{}, false, errors.New("order without id")
	}
	order := model.MarketOrder{
		ID:         msg.ID,
		Kind:       kind,
		Asset:      msg.Asset,
		QuoteAsset: msg.QuoteAsset,
		Amount:     msg.Amount,
		Cost:       msg.Cost,
		Fee:        msg.Fee,
	}
	if kind == model.OrderCancel {
		return order, true, nil
	}
	if order.Amount.Sign() <= 0 || order.Cost.Sign() <= 0 || order.Fee.Sign() < 0 {
		return model.MarketOrder{}, false, fmt.Errorf("order %s has invalid amounts", msg.ID)
	}
	if s.opts.Normalize != nil {
		var err error
		if order.Asset, err = s.opts.Normalize(order.Asset); err != nil {
			return model.MarketOrder{}, false, fmt.Errorf("order %s asset: %w", msg.ID, err)
		}
		if order.QuoteAsset, err = s.opts.Normalize(order.QuoteAsset); err != nil {
			return model.MarketOrder{}, false, fmt.Errorf("order %s quote asset: %w", msg.ID, err)
		}
	}
	return order, true, nil
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	wait := base
	if half := int64(base / 2); half > 0 {
		wait += time.Duration(rand.Int63n(half))
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
