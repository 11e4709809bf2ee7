// Package subgraph queries the loan indexer for facts not available from
// contract storage, such as the transaction that opened a loan.
package subgraph

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/request"
)

var (
	ErrNoEndpoint = errors.New("subgraph: no endpoint configured")
	ErrNotFound   = errors.New("subgraph: loan not indexed")
)

const loanTxQuery = `query loanTx($id: String!) {
  loans(where: { id: $id }) {
    id
    txHash
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type response[T any] struct {
	Data   T              `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type loansData struct {
	Loans []struct {
		ID     string `json:"id"`
		TxHash string `json:"txHash"`
	} `json:"loans"`
}

type Client struct {
	url  string
	http *http.Client
}

// New builds a client for url; an empty url yields a client whose queries
// fail with ErrNoEndpoint.
func New(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{url: strings.TrimSpace(url), http: httpClient}
}

// Query posts {query, variables} and decodes the data member into T.
func Query[T any](ctx context.Context, c *Client, query string, variables map[string]any) (T, error) {
	var zero T
	if c == nil || c.url == "" {
		return zero, ErrNoEndpoint
	}
	resp, err := request.Post[response[T]](ctx, c.http, c.url, graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return zero, fmt.Errorf("subgraph: %w", err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return zero, fmt.Errorf("subgraph: %s", strings.Join(msgs, "; "))
	}
	return resp.Data, nil
}

// LoanTxHash returns the hash of the transaction that opened loan id.
func (c *Client) LoanTxHash(ctx context.Context, id *big.Int) (common.Hash, error) {
	if id == nil || id.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("subgraph: invalid loan id %v", id)
	}
	data, err := Query[loansData](ctx, c, loanTxQuery, map[string]any{"id": id.String()})
	if err != nil {
		return common.Hash{}, err
	}
	for _, l := range data.Loans {
		if l.TxHash != "" {
			return common.HexToHash(l.TxHash), nil
		}
	}
	return common.Hash{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}
