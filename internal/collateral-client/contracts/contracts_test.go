package contracts

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/chains/chaintest"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	erc20LoanAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	erc20StateAddr = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	account        = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

func testNetwork() networks.Network {
	return networks.Network{
		Name:                          "kovan",
		ChainID:                       42,
		ERC20LoanContractAddress:      erc20LoanAddr.Hex(),
		ERC20LoanStateContractAddress: erc20StateAddr.Hex(),
		ShortLoanContractAddress:      "0x0000000000000000000000000000000000000000",
		Tokens: map[string]networks.Token{
			"renBTC": {Decimals: 8, Address: "0x00000000000000000000000000000000000000b1"},
		},
	}
}

func TestMissingAddressesYieldNoHandle(t *testing.T) {
	backend := chaintest.NewBackend(42)
	set := NewSet(testNetwork(), backend, account, nil)

	_, err := set.Loan(KindERC20)
	require.NoError(t, err)

	for _, k := range []LoanKind{KindETH, KindShort} {
		_, err := set.Loan(k)
		assert.ErrorIs(t, err, ErrNotAvailable, k.String())
	}
	_, err = set.ExchangeRates()
	assert.ErrorIs(t, err, ErrNotAvailable)
	_, err = set.Token("sUSD")
	assert.ErrorIs(t, err, ErrNotAvailable)

	assert.Nil(t, NewHandle("x", erc20LoanAddr, ERC20ABI, nil))
	assert.Nil(t, NewHandle("x", common.Address{}, ERC20ABI, backend))

	var nilHandle *Handle
	_, err = nilHandle.Call(context.Background(), "minCratio")
	assert.ErrorIs(t, err, ErrNotAvailable)

	assert.False(t, set.Writable())
	assert.True(t, set.HasAccount())
	assert.Nil(t, set.TransactOpts())
}

func TestLoanGettersDecode(t *testing.T) {
	backend := chaintest.NewBackend(42)
	backend.Register(erc20StateAddr, CollateralStateABI)
	backend.Register(erc20LoanAddr, ERC20LoanABI)

	loan := LoanTuple{
		Id:              big.NewInt(7),
		Account:         account,
		Collateral:      big.NewInt(100_000_000),
		Currency:        networks.CurrencyKey("sBTC"),
		Amount:          big.NewInt(5e17),
		AccruedInterest: big.NewInt(11),
		InterestIndex:   big.NewInt(3),
		LastInteraction: big.NewInt(1_600_000_000),
	}
	backend.Returns(erc20StateAddr, "loans", loan.Outputs()...)
	backend.Returns(erc20StateAddr, "getLoan", loan)
	backend.OnCall(erc20LoanAddr, "collateralRatio", func(_ common.Address, args []any, _ *big.Int) ([]any, error) {
		in, err := LoanFromTuple(args[0])
		if err != nil {
			return nil, err
		}
		return []any{new(big.Int).Mul(in.Id, big.NewInt(100))}, nil
	})

	set := NewSet(testNetwork(), backend, account, nil)
	state, err := set.State(KindERC20)
	require.NoError(t, err)

	out, err := state.Call(context.Background(), "loans", account, big.NewInt(0))
	require.NoError(t, err)
	got, err := LoanFromOutputs(out)
	require.NoError(t, err)
	assert.Equal(t, loan.Account, got.Account)
	assert.Equal(t, loan.Currency, got.Currency)
	for i, pair := range [][2]*big.Int{{loan.Id, got.Id}, {loan.Collateral, got.Collateral}, {loan.Amount, got.Amount}, {loan.LastInteraction, got.LastInteraction}} {
		assert.Zero(t, pair[0].Cmp(pair[1]), "field %d", i)
	}

	out, err = state.Call(context.Background(), "getLoan", account, big.NewInt(7))
	require.NoError(t, err)
	got, err = LoanFromTuple(out[0])
	require.NoError(t, err)
	assert.Equal(t, 0, loan.Amount.Cmp(got.Amount))
	assert.Equal(t, "sBTC", networks.CurrencyName(got.Currency))

	h, _ := set.Loan(KindERC20)
	cratio, err := h.CallBig(context.Background(), "collateralRatio", loan)
	require.NoError(t, err)
	assert.Equal(t, int64(700), cratio.Int64())

	kind, ok := set.KindOf(erc20LoanAddr)
	assert.True(t, ok)
	assert.Equal(t, KindERC20, kind)
}

func TestWatchDecodesEvents(t *testing.T) {
	backend := chaintest.NewBackend(42)
	backend.Register(erc20LoanAddr, ERC20LoanABI)
	set := NewSet(testNetwork(), backend, account, nil)
	h, err := set.Loan(KindERC20)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logs, sub, err := h.Watch(ctx, "LoanDrawnDown", []any{account})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	other, err := backend.EventLog(erc20LoanAddr, "LoanDrawnDown", common.HexToAddress("0x02"), big.NewInt(1), big.NewInt(1))
	require.NoError(t, err)
	mine, err := backend.EventLog(erc20LoanAddr, "LoanDrawnDown", account, big.NewInt(4), big.NewInt(9))
	require.NoError(t, err)
	backend.EmitLog(other)
	backend.EmitLog(mine)

	l := <-logs
	name, ok := h.EventName(l)
	require.True(t, ok)
	assert.Equal(t, "LoanDrawnDown", name)

	var ev struct {
		Account common.Address
		Id      *big.Int
		Amount  *big.Int
	}
	require.NoError(t, h.UnpackLog(&ev, "LoanDrawnDown", l))
	assert.Equal(t, account, ev.Account)
	assert.Equal(t, int64(4), ev.Id.Int64())
	assert.Equal(t, int64(9), ev.Amount.Int64())
}

func TestKinds(t *testing.T) {
	n := testNetwork()
	assert.Equal(t, uint8(8), KindERC20.CollateralDecimals(n))
	assert.Equal(t, uint8(18), KindETH.CollateralDecimals(n))
	assert.True(t, KindShort.Info().Short)
	assert.True(t, KindETH.NativeCollateral())
	assert.True(t, KindETH.AllowsDebt("sETH"))
	assert.False(t, KindERC20.AllowsDebt("sETH"))

	k, err := ParseLoanKind("Short")
	require.NoError(t, err)
	assert.Equal(t, KindShort, k)
	_, err = ParseLoanKind("nft")
	assert.Error(t, err)

	var parsed LoanKind
	require.NoError(t, parsed.UnmarshalText([]byte("eth")))
	assert.Equal(t, KindETH, parsed)
}

func TestWatchEventsMergesEventsForAccount(t *testing.T) {
	backend := chaintest.NewBackend(42)
	backend.Register(erc20LoanAddr, ERC20LoanABI)
	set := NewSet(testNetwork(), backend, account, nil)
	h, err := set.Loan(KindERC20)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logs, sub, err := h.WatchEvents(ctx, []string{"LoanClosed", "LoanDrawnDown"}, []any{account})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, _, err = h.WatchEvents(ctx, []string{"Nope"})
	assert.Error(t, err)

	deposit, err := backend.EventLog(erc20LoanAddr, "CollateralDeposited", account, big.NewInt(1), big.NewInt(1), big.NewInt(2))
	require.NoError(t, err)
	closed, err := backend.EventLog(erc20LoanAddr, "LoanClosed", account, big.NewInt(1))
	require.NoError(t, err)
	drawn, err := backend.EventLog(erc20LoanAddr, "LoanDrawnDown", account, big.NewInt(1), big.NewInt(5))
	require.NoError(t, err)
	backend.EmitLog(deposit)
	backend.EmitLog(closed)
	backend.EmitLog(drawn)

	var names []string
	for i := 0; i < 2; i++ {
		name, ok := h.EventName(<-logs)
		require.True(t, ok)
		names = append(names, name)
	}
	assert.Equal(t, []string{"LoanClosed", "LoanDrawnDown"}, names)

	var nilHandle *Handle
	_, _, err = nilHandle.WatchEvents(ctx, []string{"LoanClosed"})
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestCallBigsChecksResultCount(t *testing.T) {
	const short = `[{"type":"function","name":"settlementOwing","stateMutability":"view",
		"inputs":[{"name":"account","type":"address"},{"name":"currencyKey","type":"bytes32"}],
		"outputs":[{"name":"reclaimAmount","type":"uint256"}]}]`
	parsed, err := abi.JSON(strings.NewReader(short))
	require.NoError(t, err)

	addr := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	backend := chaintest.NewBackend(42)
	backend.Register(addr, parsed)
	backend.Returns(addr, "settlementOwing", big.NewInt(9))

	h := NewHandle("exchanger", addr, parsed, backend)
	_, err = h.CallBigs(context.Background(), "settlementOwing", 3, account, networks.CurrencyKey("sUSD"))
	assert.ErrorContains(t, err, "1 results, want 3")

	v, err := h.CallBig(context.Background(), "settlementOwing", account, networks.CurrencyKey("sUSD"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), v.Int64())
}
