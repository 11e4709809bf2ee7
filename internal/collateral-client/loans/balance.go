package loans

import (
	"context"
	"fmt"
	"math/big"

	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
)

// Balance reads the account's holdings of asset: the native balance for
// "ETH", ERC20 balanceOf otherwise.
func Balance(ctx context.Context, set *contracts.Set, asset string) (*big.Int, error) {
	if !set.HasAccount() || set.Backend == nil {
		return nil, contracts.ErrNotAvailable
	}
	if asset == "ETH" {
		v, err := set.Backend.BalanceAt(ctx, set.Account, nil)
		if err != nil {
			return nil, fmt.Errorf("loans: eth balance: %w", err)
		}
		return v, nil
	}
	token, err := set.Token(asset)
	if err != nil {
		return nil, err
	}
	return token.CallBig(ctx, "balanceOf", set.Account)
}
