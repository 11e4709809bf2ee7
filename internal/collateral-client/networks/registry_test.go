package networks

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResource = `{
  "Kovan": {
    "chainId": 42,
    "version": 2,
    "tokens": {
      "sUSD": [18, "0x57Ab1ec28D129707052df4dF418D58a2D46d5f51"],
      "renBTC": [8, "0xEB4C2781e4ebA804CE9a9803C67d0893436bB27D"],
      "ETH": [18, "0xee"]
    },
    "erc20LoanContractAddress": "0x00000000000000000000000000000000000000a1",
    "ethLoanContractAddress": "",
    "shortLoanContractAddress": "0x0000000000000000000000000000000000000000",
    "exchangeRatesAddress": "not-an-address",
    "subgraphUrl": "https://example.test/graphql"
  },
  "homestead": { "chainId": 1, "tokens": {} }
}`

func TestLoadNormalizesNamesAndAliases(t *testing.T) {
	reg, err := Load(strings.NewReader(sampleResource))
	require.NoError(t, err)

	assert.Equal(t, []string{"kovan", "mainnet"}, reg.Names())
	assert.True(t, reg.IsSupported("KOVAN"))
	assert.True(t, reg.IsSupported("homestead"))
	assert.False(t, reg.IsSupported("ropsten"))

	n, err := reg.ByChainID(42)
	require.NoError(t, err)
	assert.Equal(t, "kovan", n.Name)

	_, err = reg.Lookup("ropsten")
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestAddressResolutionNeverYieldsZero(t *testing.T) {
	reg, err := Load(strings.NewReader(sampleResource))
	require.NoError(t, err)

	n, err := reg.Lookup("kovan")
	require.NoError(t, err)

	addr, ok := n.Address(RoleERC20Loan)
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0xa1"), addr)

	for _, role := range []Role{RoleETHLoan, RoleShortLoan, RoleExchangeRates, RoleExchanger} {
		addr, ok := n.Address(role)
		assert.False(t, ok, role.String())
		assert.Equal(t, common.Address{}, addr)
	}

	missing, err := reg.MissingRoles("kovan")
	require.NoError(t, err)
	assert.NotContains(t, missing, RoleERC20Loan)
	assert.Contains(t, missing, RoleShortLoan)
}

func TestTokensDecodeAsPairs(t *testing.T) {
	reg, err := Load(strings.NewReader(sampleResource))
	require.NoError(t, err)
	n, _ := reg.Lookup("kovan")

	tok, ok := n.Token("renBTC")
	require.True(t, ok)
	assert.Equal(t, uint8(8), tok.Decimals)
	assert.Equal(t, "renBTC", tok.Name)

	_, ok = n.TokenAddress("ETH")
	assert.False(t, ok, "0xee is not a contract address")

	name, ok := n.TokenNameByAddress(common.HexToAddress("0x57Ab1ec28D129707052df4dF418D58a2D46d5f51"))
	require.True(t, ok)
	assert.Equal(t, "sUSD", name)

	b, err := json.Marshal(tok)
	require.NoError(t, err)
	assert.JSONEq(t, `[8, "0xEB4C2781e4ebA804CE9a9803C67d0893436bB27D"]`, string(b))
}

func TestBundledResourceResolvesEveryReferencedAddressOrNothing(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	for _, name := range reg.Names() {
		n, err := reg.Lookup(name)
		require.NoError(t, err)
		for _, role := range AllRoles {
			if addr, ok := n.Address(role); ok {
				assert.NotEqual(t, common.Address{}, addr, "%s %s", name, role)
			}
		}
		assert.NotZero(t, n.ChainID, name)
	}
}

func TestCurrencyKeyRoundTrip(t *testing.T) {
	key := CurrencyKey("sETH")
	assert.Equal(t, byte('s'), key[0])
	assert.Equal(t, byte(0), key[4])
	assert.Equal(t, "sETH", CurrencyName(key))
}

func TestExplorerTxURL(t *testing.T) {
	h := common.HexToHash("0x01")
	assert.Equal(t, "https://etherscan.io/tx/"+h.Hex(), ExplorerTxURL("mainnet", h))
	assert.Equal(t, "https://kovan.etherscan.io/tx/"+h.Hex(), ExplorerTxURL("kovan", h))

	n := Network{Name: "kovan", Explorer: "https://explorer.test/"}
	assert.Equal(t, "https://explorer.test/tx/"+h.Hex(), n.TxURL(h))
}
