package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
)

// LoanKind is the collateral flavour of a loan contract.
type LoanKind int

const (
	KindERC20 LoanKind = iota
	KindETH
	KindShort
)

var AllKinds = []LoanKind{KindERC20, KindETH, KindShort}

// KindInfo is the static description of a loan kind.
type KindInfo struct {
	Name       string
	LoanRole   networks.Role
	StateRole  networks.Role
	ABI        abi.ABI
	Collateral string
	// Debts lists the synths that can be borrowed (or shorted) against Collateral.
	Debts []string
	// Decimals of Collateral when the network token table has no entry.
	Decimals uint8
	Short    bool
}

var kinds = map[LoanKind]KindInfo{
	KindERC20: {
		Name:       "erc20",
		LoanRole:   networks.RoleERC20Loan,
		StateRole:  networks.RoleERC20LoanState,
		ABI:        ERC20LoanABI,
		Collateral: "renBTC",
		Debts:      []string{"sUSD", "sBTC"},
		Decimals:   8,
	},
	KindETH: {
		Name:       "eth",
		LoanRole:   networks.RoleETHLoan,
		StateRole:  networks.RoleETHLoanState,
		ABI:        ETHLoanABI,
		Collateral: "ETH",
		Debts:      []string{"sUSD", "sETH"},
		Decimals:   18,
	},
	KindShort: {
		Name:       "short",
		LoanRole:   networks.RoleShortLoan,
		StateRole:  networks.RoleShortLoanState,
		ABI:        ShortLoanABI,
		Collateral: "sUSD",
		Debts:      []string{"sETH", "sBTC"},
		Decimals:   18,
		Short:      true,
	},
}

func (k LoanKind) Info() KindInfo {
	return kinds[k]
}

func (k LoanKind) String() string {
	if info, ok := kinds[k]; ok {
		return info.Name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// NativeCollateral reports whether collateral is sent as transaction value.
func (k LoanKind) NativeCollateral() bool {
	return k == KindETH
}

// AllowsDebt reports whether currency can be borrowed with this kind.
func (k LoanKind) AllowsDebt(currency string) bool {
	for _, d := range kinds[k].Debts {
		if d == currency {
			return true
		}
	}
	return false
}

// CollateralDecimals prefers the network token table.
func (k LoanKind) CollateralDecimals(n networks.Network) uint8 {
	info := kinds[k]
	if tok, ok := n.Token(info.Collateral); ok {
		return tok.Decimals
	}
	return info.Decimals
}

func ParseLoanKind(raw string) (LoanKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "erc20", "renbtc":
		return KindERC20, nil
	case "eth":
		return KindETH, nil
	case "short", "susd":
		return KindShort, nil
	default:
		return 0, fmt.Errorf("contracts: unknown loan kind %q", raw)
	}
}

func (k LoanKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *LoanKind) UnmarshalText(b []byte) error {
	parsed, err := ParseLoanKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
