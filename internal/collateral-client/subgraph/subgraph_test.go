package subgraph

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openTx = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

func indexer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "txHash")

		w.Header().Set("Content-Type", "application/json")
		switch req.Variables["id"] {
		case "7":
			_, _ = w.Write([]byte(`{"data":{"loans":[{"id":"7","txHash":"` + openTx + `"}]}}`))
		case "13":
			_, _ = w.Write([]byte(`{"errors":[{"message":"indexing error"}]}`))
		default:
			_, _ = w.Write([]byte(`{"data":{"loans":[]}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoanTxHash(t *testing.T) {
	srv := indexer(t)
	c := New(srv.URL, srv.Client())

	hash, err := c.LoanTxHash(context.Background(), big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash(openTx), hash)

	_, err = c.LoanTxHash(context.Background(), big.NewInt(8))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.LoanTxHash(context.Background(), big.NewInt(13))
	assert.ErrorContains(t, err, "indexing error")
}

func TestNoEndpoint(t *testing.T) {
	_, err := New("", nil).LoanTxHash(context.Background(), big.NewInt(1))
	assert.ErrorIs(t, err, ErrNoEndpoint)
}
