package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"liquidationKeeper/internal/model"
)

func newServer(t *testing.T, frames [][]string) (*httptest.Server, *int32) {
	t.Helper()
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&conns, 1)) - 1
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if n >= len(frames) {
			for {
				if _, _, err := conn.Read(context.Background()); err != nil {
					return
				}
			}
		}
		for _, frame := range frames[n] {
			if err := conn.Write(r.Context(), websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "bye")
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestOrderStreamDeliversAndReconnects(t *testing.T) {
	srv, conns := newServer(t, [][]string{
		{
			`{"type":"ping"}`,
			`{"type":"order","id":"o-1","asset":"xlm","quote_asset":"usdc","amount":"100","cost":"50","fee":"2"}`,
			`not json`,
			`{"type":"order","id":"o-bad","asset":"xlm","quote_asset":"usdc","amount":"0","cost":"50","fee":"2"}`,
			`{"type":"cancel","id":"o-1"}`,
		},
		{
			`{"type":"order","id":"o-2","asset":"xlm","quote_asset":"usdc","amount":1.5,"cost":0.75,"fee":0}`,
		},
	})

	s := NewOrderStream(Options{URL: wsURL(srv), BackoffMin: 5 * time.Millisecond, BackoffMax: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan model.Event, 8)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, out) }()

	var got []model.MarketOrder
	for len(got) < 3 {
		select {
		case ev := <-out:
			require.Equal(t, model.EventMarketplaceOrder, ev.Kind)
			got = append(got, *ev.Order)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out with %d orders", len(got))
		}
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, "o-1", got[0].ID)
	assert.Equal(t, model.OrderNew, got[0].Kind)
	assert.Equal(t, "50", got[0].Cost.String())
	assert.Equal(t, "2", got[0].Fee.String())
	assert.Equal(t, model.OrderCancel, got[1].Kind)
	assert.Equal(t, "o-2", got[2].ID)
	assert.Equal(t, "1.5", got[2].Amount.String())
	assert.GreaterOrEqual(t, atomic.LoadInt32(conns), int32(2))
}

func TestParseNormalizesAssets(t *testing.T) {
	s := NewOrderStream(Options{
		URL:       "ws://unused",
		Normalize: func(in string) (string, error) { return strings.ToUpper(in), nil },
	}, nil)

	order, ok, err := s.parse([]byte(`{"type":"order","id":"o","asset":"xlm","quote_asset":"usdc","amount":"1","cost":"1","fee":"0"}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "XLM", order.Asset)
	assert.Equal(t, "USDC", order.QuoteAsset)

	_, ok, err = s.parse([]byte(`{"type":"order","asset":"xlm"}`))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRunRequiresURL(t *testing.T) {
	err := NewOrderStream(Options{}, nil).Run(context.Background(), make(chan model.Event))
	assert.Error(t, err)
}
