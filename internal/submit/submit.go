package submit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"liquidationKeeper/internal/model"
)

// Encoder turns an action into a contract call.
type Encoder interface {
	EncodeAction(ctx context.Context, action model.Action) (common.Address, []byte, error)
}

// Chain simulates and sends calls from the node-managed account.
type Chain interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error)
}

// ChainSubmitter dry-runs each action with eth_call and then sends it with
// eth_sendTransaction. A revert in the dry run is a rejection; nothing is sent.
type ChainSubmitter struct {
	from    common.Address
	encoder Encoder
	chain   Chain
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewChainSubmitter builds a submitter sending from account. perSecond limits the
// submission rate; zero or less disables throttling.
func NewChainSubmitter(account string, encoder Encoder, chain Chain, perSecond float64, logger *zap.Logger) (*ChainSubmitter, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("invalid account: %s", account)
	}
	if encoder == nil || chain == nil {
		return nil, fmt.Errorf("encoder and chain are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &ChainSubmitter{
		from:    common.HexToAddress(account),
		encoder: encoder,
		chain:   chain,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Submit never returns an error; failures are reported in the outcome.
func (s *ChainSubmitter) Submit(ctx context.Context, action model.Action) model.Outcome {
	to, data, err := s.encoder.EncodeAction(ctx, action)
	if err != nil {
		return failed(action, model.OutcomeError, fmt.Sprintf("encode: %v", err))
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return failed(action, model.OutcomeError, fmt.Sprintf("throttle: %v", err))
	}

	msg := ethereum.CallMsg{From: s.from, To: &to, Data: data}
	if _, err := s.chain.CallContract(ctx, msg, nil); err != nil {
		if isRevert(err) {
			return rejected(action, revertReason(err))
		}
		return failed(action, model.OutcomeError, fmt.Sprintf("simulate: %v", err))
	}

	hash, err := s.chain.SendTransaction(ctx, msg)
	if err != nil {
		if isRevert(err) {
			return rejected(action, revertReason(err))
		}
		return failed(action, model.OutcomeError, fmt.Sprintf("send: %v", err))
	}
	s.logger.Info("action sent",
		zap.String("action_id", action.ID),
		zap.String("request_id", action.RequestID),
		zap.String("type", string(action.Type)),
		zap.String("tx", hash.Hex()),
	)
	return model.Outcome{Action: action, Status: model.OutcomeSubmitted, TxRef: hash.Hex()}
}

// DryRunSubmitter logs actions instead of sending them. When a chain is set it still
// simulates each call so reverts surface as rejections.
type DryRunSubmitter struct {
	from    common.Address
	encoder Encoder
	chain   Chain
	logger  *zap.Logger
}

func NewDryRunSubmitter(account string, encoder Encoder, chain Chain, logger *zap.Logger) *DryRunSubmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRunSubmitter{from: common.HexToAddress(account), encoder: encoder, chain: chain, logger: logger}
}

func (s *DryRunSubmitter) Submit(ctx context.Context, action model.Action) model.Outcome {
	if s.encoder != nil {
		to, data, err := s.encoder.EncodeAction(ctx, action)
		if err != nil {
			return failed(action, model.OutcomeError, fmt.Sprintf("encode: %v", err))
		}
		if s.chain != nil {
			msg := ethereum.CallMsg{From: s.from, To: &to, Data: data}
			if _, err := s.chain.CallContract(ctx, msg, nil); err != nil && isRevert(err) {
				return rejected(action, revertReason(err))
			}
		}
	}
	s.logger.Info("dry run action",
		zap.String("action_id", action.ID),
		zap.String("type", string(action.Type)),
		zap.String("pool", action.Pool),
		zap.String("user", action.User),
		zap.Int64("percent", action.Percent),
		zap.String("amount", action.Amount.String()),
		zap.String("expected_profit", action.ExpectedProfit.String()),
	)
	return model.Outcome{Action: action, Status: model.OutcomeSubmitted, TxRef: "dry-run:" + action.RequestID}
}

func failed(action model.Action, status model.OutcomeStatus, reason string) model.Outcome {
	return model.Outcome{Action: action, Status: status, Reason: reason}
}

func rejected(action model.Action, reason string) model.Outcome {
	out := failed(action, model.OutcomeRejected, reason)
	out.Err = &model.SubmissionRejectedError{ActionID: action.ID, Reason: reason}
	return out
}

func isRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data := dataErr.ErrorData(); data != nil {
			return fmt.Sprintf("%s (%v)", err.Error(), data)
		}
	}
	return err.Error()
}
