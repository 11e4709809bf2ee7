package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/chains"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
)

// Set holds every contract handle of one session epoch. A Set without an
// account is read-only.
type Set struct {
	Network networks.Network
	Backend chains.Backend
	Account common.Address

	opts *bind.TransactOpts

	loans             map[LoanKind]*Handle
	states            map[LoanKind]*Handle
	collateralManager *Handle
	exchanger         *Handle
	exchangeRates     *Handle
}

// NewSet binds the network's contracts to backend. opts may be nil.
func NewSet(network networks.Network, backend chains.Backend, account common.Address, opts *bind.TransactOpts) *Set {
	s := &Set{
		Network: network,
		Backend: backend,
		Account: account,
		opts:    opts,
		loans:   make(map[LoanKind]*Handle, len(AllKinds)),
		states:  make(map[LoanKind]*Handle, len(AllKinds)),
	}
	for _, k := range AllKinds {
		info := k.Info()
		s.loans[k] = s.bind(info.LoanRole, info.ABI)
		s.states[k] = s.bind(info.StateRole, CollateralStateABI)
	}
	s.collateralManager = s.bind(networks.RoleCollateralManager, CollateralManagerABI)
	s.exchanger = s.bind(networks.RoleExchanger, ExchangerABI)
	s.exchangeRates = s.bind(networks.RoleExchangeRates, ExchangeRatesABI)
	return s
}

func (s *Set) bind(role networks.Role, parsed abi.ABI) *Handle {
	addr, ok := s.Network.Address(role)
	if !ok {
		return nil
	}
	return NewHandle(role.String(), addr, parsed, s.Backend)
}

// HasAccount reports whether reads scoped to an account can run.
func (s *Set) HasAccount() bool {
	return s != nil && s.Account != (common.Address{})
}

// Writable reports whether a signer is bound.
func (s *Set) Writable() bool {
	return s != nil && s.opts != nil
}

// TransactOpts returns a fresh copy of the signer options, or nil when read-only.
func (s *Set) TransactOpts() *bind.TransactOpts {
	if !s.Writable() {
		return nil
	}
	cp := *s.opts
	if cp.Value != nil {
		cp.Value = new(big.Int).Set(cp.Value)
	}
	return &cp
}

func (s *Set) Loan(k LoanKind) (*Handle, error) {
	return available(s.loans[k])
}

func (s *Set) State(k LoanKind) (*Handle, error) {
	return available(s.states[k])
}

func (s *Set) CollateralManager() (*Handle, error) {
	return available(s.collateralManager)
}

func (s *Set) Exchanger() (*Handle, error) {
	return available(s.exchanger)
}

func (s *Set) ExchangeRates() (*Handle, error) {
	return available(s.exchangeRates)
}

// Token binds the ERC20 named in the network token table.
func (s *Set) Token(name string) (*Handle, error) {
	addr, ok := s.Network.TokenAddress(name)
	if !ok {
		return nil, ErrNotAvailable
	}
	return available(NewHandle(name, addr, ERC20ABI, s.Backend))
}

// ERC20At binds an arbitrary ERC20 address.
func (s *Set) ERC20At(name string, addr common.Address) (*Handle, error) {
	return available(NewHandle(name, addr, ERC20ABI, s.Backend))
}

// Rewards binds a shorting rewards contract discovered at runtime.
func (s *Set) Rewards(currency string, addr common.Address) (*Handle, error) {
	return available(NewHandle("shortingRewards:"+currency, addr, ShortingRewardsABI, s.Backend))
}

// KindOf finds the loan kind whose loan contract lives at addr.
func (s *Set) KindOf(addr common.Address) (LoanKind, bool) {
	for k, h := range s.loans {
		if h != nil && h.Address == addr {
			return k, true
		}
	}
	return 0, false
}

func available(h *Handle) (*Handle, error) {
	if h == nil {
		return nil, ErrNotAvailable
	}
	return h, nil
}
