// Package swap is a client for the 1inch v2.0 aggregation API: spender
// lookup, quotes and unsigned swap transactions.
package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/request"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.1inch.exchange/v2.0"

// DefaultSlippage is the tolerated slippage in percent.
const DefaultSlippage = 1

var ErrBadResponse = errors.New("swap: malformed api response")

type Config struct {
	BaseURL           string
	RequestsPerMinute int
	Timeout           time.Duration
}

type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config, httpClient *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	c := &Client{base: base, http: httpClient}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute)
	}
	return c
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func get[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	var zero T
	if err := c.wait(ctx); err != nil {
		return zero, fmt.Errorf("swap: rate limit: %w", err)
	}
	out, err := request.Get[T](ctx, c.http, c.base+path, query)
	if err != nil {
		return zero, fmt.Errorf("swap: %s: %w", path, err)
	}
	return out, nil
}

// Spender is the router address token approvals must name.
func (c *Client) Spender(ctx context.Context) (common.Address, error) {
	out, err := get[struct {
		Address string `json:"address"`
	}](ctx, c, "/approve/spender", nil)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(out.Address) {
		return common.Address{}, fmt.Errorf("%w: spender %q", ErrBadResponse, out.Address)
	}
	return common.HexToAddress(out.Address), nil
}

// gasAmount decodes a gas figure sent either as a number or a string.
type gasAmount uint64

func (g *gasAmount) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		*g = 0
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: gas %s", ErrBadResponse, raw)
	}
	*g = gasAmount(v)
	return nil
}

type Quote struct {
	ToTokenAmount *big.Int
	EstimatedGas  uint64
}

type quoteResponse struct {
	ToTokenAmount string    `json:"toTokenAmount"`
	EstimatedGas  gasAmount `json:"estimatedGas"`
}

// Quote prices amount of from in units of to.
func (c *Client) Quote(ctx context.Context, from, to common.Address, amount *big.Int) (Quote, error) {
	out, err := get[quoteResponse](ctx, c, "/quote", url.Values{
		"fromTokenAddress": {from.Hex()},
		"toTokenAddress":   {to.Hex()},
		"amount":           {amount.String()},
	})
	if err != nil {
		return Quote{}, err
	}
	v, ok := new(big.Int).SetString(out.ToTokenAmount, 10)
	if !ok {
		return Quote{}, fmt.Errorf("%w: toTokenAmount %q", ErrBadResponse, out.ToTokenAmount)
	}
	return Quote{ToTokenAmount: v, EstimatedGas: uint64(out.EstimatedGas)}, nil
}

// Tx is an unsigned swap transaction.
type Tx struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

type swapResponse struct {
	Tx struct {
		From  string    `json:"from"`
		To    string    `json:"to"`
		Data  string    `json:"data"`
		Value string    `json:"value"`
		Gas   gasAmount `json:"gas"`
	} `json:"tx"`
}

// Swap builds the transaction selling amount of from for to.
func (c *Client) Swap(ctx context.Context, from, to common.Address, amount *big.Int, fromAddress common.Address, slippage float64) (Tx, error) {
	out, err := get[swapResponse](ctx, c, "/swap", url.Values{
		"fromTokenAddress": {from.Hex()},
		"toTokenAddress":   {to.Hex()},
		"amount":           {amount.String()},
		"fromAddress":      {fromAddress.Hex()},
		"slippage":         {strconv.FormatFloat(slippage, 'f', -1, 64)},
	})
	if err != nil {
		return Tx{}, err
	}
	if !common.IsHexAddress(out.Tx.To) {
		return Tx{}, fmt.Errorf("%w: tx.to %q", ErrBadResponse, out.Tx.To)
	}
	data, err := hexutil.Decode(out.Tx.Data)
	if err != nil {
		return Tx{}, fmt.Errorf("%w: tx.data: %v", ErrBadResponse, err)
	}
	value, err := parseValue(out.Tx.Value)
	if err != nil {
		return Tx{}, err
	}
	return Tx{
		From:  common.HexToAddress(out.Tx.From),
		To:    common.HexToAddress(out.Tx.To),
		Data:  data,
		Value: value,
		Gas:   uint64(out.Tx.Gas),
	}, nil
}

// parseValue accepts decimal or 0x-prefixed hex wei.
func parseValue(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return new(big.Int), nil
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		v, err := hexutil.DecodeBig(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: tx.value %q", ErrBadResponse, raw)
		}
		return v, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: tx.value %q", ErrBadResponse, raw)
	}
	return v, nil
}
