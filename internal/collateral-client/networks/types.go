package networks

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Role names a well-known contract slot in a network record.
type Role int

const (
	RoleERC20Loan Role = iota
	RoleETHLoan
	RoleShortLoan
	RoleERC20LoanState
	RoleETHLoanState
	RoleShortLoanState
	RoleCollateralManager
	RoleExchanger
	RoleExchangeRates
)

var AllRoles = []Role{
	RoleERC20Loan,
	RoleETHLoan,
	RoleShortLoan,
	RoleERC20LoanState,
	RoleETHLoanState,
	RoleShortLoanState,
	RoleCollateralManager,
	RoleExchanger,
	RoleExchangeRates,
}

func (r Role) String() string {
	switch r {
	case RoleERC20Loan:
		return "erc20LoanContract"
	case RoleETHLoan:
		return "ethLoanContract"
	case RoleShortLoan:
		return "shortLoanContract"
	case RoleERC20LoanState:
		return "erc20LoanStateContract"
	case RoleETHLoanState:
		return "ethLoanStateContract"
	case RoleShortLoanState:
		return "shortLoanStateContract"
	case RoleCollateralManager:
		return "collateralManager"
	case RoleExchanger:
		return "exchanger"
	case RoleExchangeRates:
		return "exchangeRates"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Token is a `[decimals, address]` pair in the resource file.
type Token struct {
	Name     string `json:"-"`
	Decimals uint8  `json:"decimals"`
	Address  string `json:"address"`
}

func (t *Token) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("token: expected [decimals, address]: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("token: expected 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &t.Decimals); err != nil {
		return fmt.Errorf("token: decimals: %w", err)
	}
	if err := json.Unmarshal(pair[1], &t.Address); err != nil {
		return fmt.Errorf("token: address: %w", err)
	}
	return nil
}

func (t Token) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{t.Decimals, t.Address})
}

// Network is one record of the static network resource.
type Network struct {
	Name     string           `json:"-"`
	ChainID  uint64           `json:"chainId"`
	Version  int              `json:"version"`
	Explorer string           `json:"explorer,omitempty"`
	Tokens   map[string]Token `json:"tokens"`

	ERC20LoanContractAddress string `json:"erc20LoanContractAddress"`
	ETHLoanContractAddress   string `json:"ethLoanContractAddress"`
	ShortLoanContractAddress string `json:"shortLoanContractAddress"`

	ERC20LoanStateContractAddress string `json:"erc20LoanStateContractAddress"`
	ETHLoanStateContractAddress   string `json:"ethLoanStateContractAddress"`
	ShortLoanStateContractAddress string `json:"shortLoanStateContractAddress"`

	CollateralManagerAddress string `json:"collateralManagerAddress"`
	ExchangerAddress         string `json:"exchangerAddress"`
	ExchangeRatesAddress     string `json:"exchangeRatesAddress"`

	SubgraphURL string `json:"subgraphUrl"`
}

func (n Network) rawAddress(role Role) string {
	switch role {
	case RoleERC20Loan:
		return n.ERC20LoanContractAddress
	case RoleETHLoan:
		return n.ETHLoanContractAddress
	case RoleShortLoan:
		return n.ShortLoanContractAddress
	case RoleERC20LoanState:
		return n.ERC20LoanStateContractAddress
	case RoleETHLoanState:
		return n.ETHLoanStateContractAddress
	case RoleShortLoanState:
		return n.ShortLoanStateContractAddress
	case RoleCollateralManager:
		return n.CollateralManagerAddress
	case RoleExchanger:
		return n.ExchangerAddress
	case RoleExchangeRates:
		return n.ExchangeRatesAddress
	default:
		return ""
	}
}

// Address resolves the contract address for role. ok is false when the
// resource leaves the slot empty, zero or malformed.
func (n Network) Address(role Role) (common.Address, bool) {
	return parseAddress(n.rawAddress(role))
}

// Token returns the token record by name (e.g. "sUSD", "renBTC").
func (n Network) Token(name string) (Token, bool) {
	t, ok := n.Tokens[name]
	if !ok {
		return Token{}, false
	}
	t.Name = name
	return t, true
}

// TokenAddress resolves the token contract address by name.
func (n Network) TokenAddress(name string) (common.Address, bool) {
	t, ok := n.Tokens[name]
	if !ok {
		return common.Address{}, false
	}
	return parseAddress(t.Address)
}

// TokenNameByAddress is the reverse token lookup.
func (n Network) TokenNameByAddress(addr common.Address) (string, bool) {
	for name, t := range n.Tokens {
		if a, ok := parseAddress(t.Address); ok && a == addr {
			return name, true
		}
	}
	return "", false
}

// TxURL links a transaction hash on the block explorer for this network.
func (n Network) TxURL(hash common.Hash) string {
	if base := strings.TrimRight(strings.TrimSpace(n.Explorer), "/"); base != "" {
		return base + "/tx/" + hash.Hex()
	}
	return ExplorerTxURL(n.Name, hash)
}

// ExplorerTxURL is the etherscan URL for hash on network.
func ExplorerTxURL(network string, hash common.Hash) string {
	prefix := ""
	if network != "" && network != "mainnet" {
		prefix = network + "."
	}
	return fmt.Sprintf("https://%setherscan.io/tx/%s", prefix, hash.Hex())
}

// CurrencyKey is the bytes32 key the synth contracts use for a currency name.
func CurrencyKey(name string) [32]byte {
	var key [32]byte
	copy(key[:], name)
	return key
}

// CurrencyName decodes a bytes32 currency key.
func CurrencyName(key [32]byte) string {
	return strings.TrimRight(string(key[:]), "\x00")
}

func parseAddress(raw string) (common.Address, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}
