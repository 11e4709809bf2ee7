package swap

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	router = common.HexToAddress("0x11111112542d85b3ef69ae05771c2dccff4faa26")
	sUSD   = common.HexToAddress("0x57Ab1ec28D129707052df4dF418D58a2D46d5f51")
	wbtc   = common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")
	holder = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

func oneInch(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/approve/spender", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"address":%q}`, router.Hex())
	})
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, wbtc.Hex(), q.Get("fromTokenAddress"))
		assert.Equal(t, "50000000", q.Get("amount"))
		fmt.Fprint(w, `{"toTokenAmount":"15000000000000000000000","estimatedGas":182000}`)
	})
	mux.HandleFunc("/swap", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, holder.Hex(), q.Get("fromAddress"))
		assert.Equal(t, "1", q.Get("slippage"))
		fmt.Fprintf(w, `{"tx":{"from":%q,"to":%q,"data":"0x7c025200","value":"0","gas":"250000"}}`, holder.Hex(), router.Hex())
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSpenderQuoteSwap(t *testing.T) {
	srv := oneInch(t)
	c := New(Config{BaseURL: srv.URL}, srv.Client())
	ctx := context.Background()

	spender, err := c.Spender(ctx)
	require.NoError(t, err)
	assert.Equal(t, router, spender)

	q, err := c.Quote(ctx, wbtc, sUSD, big.NewInt(5e7))
	require.NoError(t, err)
	assert.Equal(t, "15000000000000000000000", q.ToTokenAmount.String())
	assert.Equal(t, uint64(182000), q.EstimatedGas)

	tx, err := c.Swap(ctx, sUSD, wbtc, q.ToTokenAmount, holder, DefaultSlippage)
	require.NoError(t, err)
	assert.Equal(t, router, tx.To)
	assert.Equal(t, []byte{0x7c, 0x02, 0x52, 0x00}, tx.Data)
	assert.Equal(t, int64(0), tx.Value.Int64())
	assert.Equal(t, uint64(250000), tx.Gas)
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := oneInch(t)
	c := New(Config{BaseURL: srv.URL, RequestsPerMinute: 1}, srv.Client())

	_, err := c.Spender(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Spender(ctx)
	assert.ErrorContains(t, err, "rate limit")
}

func TestParseValue(t *testing.T) {
	v, err := parseValue("0x0de0b6b3a7640000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", v.String())

	_, err = parseValue("ten")
	assert.ErrorIs(t, err, ErrBadResponse)
}
