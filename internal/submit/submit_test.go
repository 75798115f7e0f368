package submit_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidationKeeper/internal/model"
	"liquidationKeeper/internal/submit"
)

const account = "0x1111111111111111111111111111111111111111"

var target = common.HexToAddress("0x2222222222222222222222222222222222222222")

type fakeEncoder struct{ err error }

func (f fakeEncoder) EncodeAction(context.Context, model.Action) (common.Address, []byte, error) {
	if f.err != nil {
		return common.Address{}, nil, f.err
	}
	return target, []byte{0xde, 0xad}, nil
}

type revertErr struct{}

func (revertErr) Error() string          { return "execution reverted" }
func (revertErr) ErrorData() interface{} { return "0x08c379a0" }

type fakeChain struct {
	mu      sync.Mutex
	callErr error
	sendErr error
	sent    []ethereum.CallMsg
}

func (f *fakeChain) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, f.callErr
}

func (f *fakeChain) SendTransaction(_ context.Context, msg ethereum.CallMsg) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, msg)
	return common.HexToHash("0xabc"), nil
}

func action() model.Action {
	return model.Action{ID: "fill:p:u:liquidation", RequestID: "r-1", Type: model.ActionFillAuction}
}

func TestChainSubmitterSends(t *testing.T) {
	chain := &fakeChain{}
	s, err := submit.NewChainSubmitter(account, fakeEncoder{}, chain, 0, nil)
	require.NoError(t, err)

	out := s.Submit(context.Background(), action())
	assert.Equal(t, model.OutcomeSubmitted, out.Status)
	assert.Equal(t, common.HexToHash("0xabc").Hex(), out.TxRef)
	require.Len(t, chain.sent, 1)
	assert.Equal(t, common.HexToAddress(account), chain.sent[0].From)
	assert.Equal(t, target, *chain.sent[0].To)
}

func TestChainSubmitterRevertIsRejected(t *testing.T) {
	chain := &fakeChain{callErr: revertErr{}}
	s, err := submit.NewChainSubmitter(account, fakeEncoder{}, chain, 0, nil)
	require.NoError(t, err)

	out := s.Submit(context.Background(), action())
	assert.Equal(t, model.OutcomeRejected, out.Status)
	assert.Contains(t, out.Reason, "execution reverted")
	assert.Empty(t, chain.sent, "reverting calls are never sent")

	var rejected *model.SubmissionRejectedError
	require.True(t, errors.As(out.Err, &rejected))
	assert.Equal(t, action().ID, rejected.ActionID)
	assert.Equal(t, out.Reason, rejected.Reason)
	assert.ErrorIs(t, out.Err, model.ErrSubmissionRejected)

	chain.callErr = errors.New("connection refused")
	out = s.Submit(context.Background(), action())
	assert.Equal(t, model.OutcomeError, out.Status)
	assert.NoError(t, out.Err)
}

func TestChainSubmitterEncodeAndSendErrors(t *testing.T) {
	s, err := submit.NewChainSubmitter(account, fakeEncoder{err: errors.New("bad action")}, &fakeChain{}, 0, nil)
	require.NoError(t, err)
	out := s.Submit(context.Background(), action())
	assert.Equal(t, model.OutcomeError, out.Status)
	assert.Contains(t, out.Reason, "encode")

	s, err = submit.NewChainSubmitter(account, fakeEncoder{}, &fakeChain{sendErr: errors.New("nonce too low")}, 0, nil)
	require.NoError(t, err)
	out = s.Submit(context.Background(), action())
	assert.Equal(t, model.OutcomeError, out.Status)

	_, err = submit.NewChainSubmitter("nope", fakeEncoder{}, &fakeChain{}, 0, nil)
	assert.Error(t, err)
}

func TestChainSubmitterThrottles(t *testing.T) {
	s, err := submit.NewChainSubmitter(account, fakeEncoder{}, &fakeChain{}, 20, nil)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.Equal(t, model.OutcomeSubmitted, s.Submit(context.Background(), action()).Status)
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, model.OutcomeError, s.Submit(ctx, action()).Status)
}

func TestDryRunSubmitter(t *testing.T) {
	s := submit.NewDryRunSubmitter(account, fakeEncoder{}, nil, nil)
	out := s.Submit(context.Background(), action())
	assert.Equal(t, model.OutcomeSubmitted, out.Status)
	assert.Equal(t, "dry-run:r-1", out.TxRef)

	simulated := submit.NewDryRunSubmitter(account, fakeEncoder{}, &fakeChain{callErr: revertErr{}}, nil)
	out = simulated.Submit(context.Background(), action())
	assert.Equal(t, model.OutcomeRejected, out.Status)
	assert.ErrorIs(t, out.Err, model.ErrSubmissionRejected)
}
