// Package testkit wires a fake chain, a complete network record and a keyed
// signer for package tests.
package testkit

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/chains/chaintest"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/stretchr/testify/require"
)

const ChainID = 42

var (
	ERC20Loan         = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	ERC20LoanState    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	ETHLoan           = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	ETHLoanState      = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	ShortLoan         = common.HexToAddress("0x00000000000000000000000000000000000000a5")
	ShortLoanState    = common.HexToAddress("0x00000000000000000000000000000000000000a6")
	CollateralManager = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	Exchanger         = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	ExchangeRates     = common.HexToAddress("0x00000000000000000000000000000000000000c3")

	SUSD   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	SETH   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	SBTC   = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	RenBTC = common.HexToAddress("0x00000000000000000000000000000000000000b4")
	WBTC   = common.HexToAddress("0x00000000000000000000000000000000000000b5")
	SNX    = common.HexToAddress("0x00000000000000000000000000000000000000b6")
)

// Network is a kovan record with every slot filled.
func Network() networks.Network {
	return networks.Network{
		Name:    "kovan",
		ChainID: ChainID,
		Version: 2,
		Tokens: map[string]networks.Token{
			"sUSD":   {Decimals: 18, Address: SUSD.Hex()},
			"sETH":   {Decimals: 18, Address: SETH.Hex()},
			"sBTC":   {Decimals: 18, Address: SBTC.Hex()},
			"renBTC": {Decimals: 8, Address: RenBTC.Hex()},
			"WBTC":   {Decimals: 8, Address: WBTC.Hex()},
			"SNX":    {Decimals: 18, Address: SNX.Hex()},
		},
		ERC20LoanContractAddress:      ERC20Loan.Hex(),
		ETHLoanContractAddress:        ETHLoan.Hex(),
		ShortLoanContractAddress:      ShortLoan.Hex(),
		ERC20LoanStateContractAddress: ERC20LoanState.Hex(),
		ETHLoanStateContractAddress:   ETHLoanState.Hex(),
		ShortLoanStateContractAddress: ShortLoanState.Hex(),
		CollateralManagerAddress:      CollateralManager.Hex(),
		ExchangerAddress:              Exchanger.Hex(),
		ExchangeRatesAddress:          ExchangeRates.Hex(),
	}
}

type Fixture struct {
	Backend *chaintest.Backend
	Network networks.Network
	Key     *ecdsa.PrivateKey
	Account common.Address
	Opts    *bind.TransactOpts

	// WriteErr, when set, is returned by Writable.
	WriteErr error
}

func New(t testing.TB) *Fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(ChainID))
	require.NoError(t, err)

	b := chaintest.NewBackend(ChainID)
	b.Register(ERC20Loan, contracts.ERC20LoanABI)
	b.Register(ETHLoan, contracts.ETHLoanABI)
	b.Register(ShortLoan, contracts.ShortLoanABI)
	for _, s := range []common.Address{ERC20LoanState, ETHLoanState, ShortLoanState} {
		b.Register(s, contracts.CollateralStateABI)
	}
	b.Register(CollateralManager, contracts.CollateralManagerABI)
	b.Register(Exchanger, contracts.ExchangerABI)
	b.Register(ExchangeRates, contracts.ExchangeRatesABI)
	for _, tok := range []common.Address{SUSD, SETH, SBTC, RenBTC, WBTC, SNX} {
		b.Register(tok, contracts.ERC20ABI)
	}

	return &Fixture{
		Backend: b,
		Network: Network(),
		Key:     key,
		Account: opts.From,
		Opts:    opts,
	}
}

// Set is the writable contract set of the fixture account.
func (f *Fixture) Set() *contracts.Set {
	return contracts.NewSet(f.Network, f.Backend, f.Account, f.Opts)
}

// ReadOnly has the account but no signer.
func (f *Fixture) ReadOnly() *contracts.Set {
	return contracts.NewSet(f.Network, f.Backend, f.Account, nil)
}

func (f *Fixture) Writable() (*contracts.Set, error) {
	if f.WriteErr != nil {
		return nil, f.WriteErr
	}
	return f.Set(), nil
}

// Handles returns the writable set, or the read-only one when writes are refused.
func (f *Fixture) Handles(context.Context) *contracts.Set {
	if f.WriteErr != nil {
		return f.ReadOnly()
	}
	return f.Set()
}

// Ether converts whole units to 18-decimal base units.
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}
