package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	app "github.com/quantumauth-io/collateral-client/internal/collateral-client"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/journal"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/loans"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/owings"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/scope"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/stats"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/subgraph"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/withdrawals"
	"github.com/spf13/cobra"
)

const (
	flagApprove = "approve"
	flagQuote   = "quote"
	flagLimit   = "limit"
)

var errHedgeDisabled = errors.New("hedging is disabled (Swap.Enabled)")

type txResult struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	Status      uint64 `json:"status"`
}

func receipt(r *types.Receipt) any {
	if r == nil {
		return nil
	}
	res := txResult{TxHash: r.TxHash.Hex(), Status: r.Status}
	if r.BlockNumber != nil {
		res.BlockNumber = r.BlockNumber.Uint64()
	}
	return res
}

// findLoan resolves "<kind> <id>" arguments against the current handles.
func findLoan(ctx context.Context, a *app.App, kindArg, idArg string) (loans.Loan, error) {
	kind, err := contracts.ParseLoanKind(kindArg)
	if err != nil {
		return loans.Loan{}, err
	}
	id, ok := new(big.Int).SetString(strings.TrimSpace(idArg), 10)
	if !ok || id.Sign() <= 0 {
		return loans.Loan{}, fmt.Errorf("invalid loan id %q", idArg)
	}
	return loans.Get(ctx, a.Session.Handles(ctx), kind, id)
}

func (c *cli) connectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Select a wallet provider and remember it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, false, func(ctx context.Context, a *app.App) (any, error) {
				return a.Session.Connect(ctx, false)
			})
		},
	}
}

func (c *cli) disconnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Forget the remembered wallet provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, true, func(ctx context.Context, a *app.App) (any, error) {
				if err := a.Session.Disconnect(ctx); err != nil {
					return nil, err
				}
				return a.Session.Snapshot(), nil
			})
		},
	}
}

func (c *cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the wallet session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, false, func(ctx context.Context, a *app.App) (any, error) {
				// a missing cache is not an error here
				snap, _ := a.Session.Connect(ctx, true)
				return snap, nil
			})
		},
	}
}

func (c *cli) loansCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "loans [kind id]",
		Short: "List open loans, or show one",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return errors.New("expected no arguments or <kind> <id>")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, true, func(ctx context.Context, a *app.App) (any, error) {
				if len(args) == 2 {
					return findLoan(ctx, a, args[0], args[1])
				}
				return loans.Load(ctx, a.Session.Handles(ctx))
			})
		},
	}
}

func (c *cli) openCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open <kind> <debt> <collateral-amount> <debt-amount>",
		Short: "Open a loan or short",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			quoteOnly, _ := cmd.Flags().GetBool(flagQuote)
			approve, _ := cmd.Flags().GetBool(flagApprove)
			return c.run(cmd, true, func(ctx context.Context, a *app.App) (any, error) {
				kind, err := contracts.ParseLoanKind(args[0])
				if err != nil {
					return nil, err
				}
				req := loans.OpenRequest{Kind: kind, Debt: args[1], Collateral: args[2], Amount: args[3]}
				if quoteOnly {
					return a.Opener.Prepare(ctx, req)
				}
				if approve {
					r, err := a.Opener.OpenWithApproval(ctx, req)
					return receipt(r), err
				}
				q, err := a.Opener.Prepare(ctx, req)
				if err != nil {
					return nil, err
				}
				r, err := a.Opener.Open(ctx, q)
				return receipt(r), err
			})
		},
	}
	cmd.Flags().Bool(flagQuote, false, "only validate and preview")
	cmd.Flags().Bool(flagApprove, false, "approve the collateral token first when needed")
	return cmd
}

type adjustFunc func(ctx context.Context, a *app.App, l loans.Loan, amount *big.Int) (*types.Receipt, error)

type adjustment struct {
	side loans.Side
	run  adjustFunc
}

var (
	deposit = adjustment{loans.SideCollateral, func(ctx context.Context, a *app.App, l loans.Loan, amount *big.Int) (*types.Receipt, error) {
		return a.Actions.Deposit(ctx, l, amount)
	}}
	withdraw = adjustment{loans.SideCollateral, func(ctx context.Context, a *app.App, l loans.Loan, amount *big.Int) (*types.Receipt, error) {
		return a.Actions.Withdraw(ctx, l, amount)
	}}
	repay = adjustment{loans.SideDebt, func(ctx context.Context, a *app.App, l loans.Loan, amount *big.Int) (*types.Receipt, error) {
		return a.Actions.Repay(ctx, l, amount)
	}}
	draw = adjustment{loans.SideDebt, func(ctx context.Context, a *app.App, l loans.Loan, amount *big.Int) (*types.Receipt, error) {
		return a.Actions.Draw(ctx, l, amount)
	}}
)

func (c *cli) adjustCommand(use, short string, adj adjustment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <kind> <id> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			approve, _ := cmd.Flags().GetBool(flagApprove)
			return c.run(cmd, true, func(ctx context.Context, a *app.App) (any, error) {
				l, err := findLoan(ctx, a, args[0], args[1])
				if err != nil {
					return nil, err
				}
				amount, err := loans.ParseAmount(a.Session.Handles(ctx).Network, l, adj.side, args[2])
				if err != nil {
					return nil, err
				}
				if approve {
					if err := approveIfNeeded(ctx, a, l, adj.side, amount); err != nil {
						return nil, err
					}
				}
				r, err := adj.run(ctx, a, l, amount)
				return receipt(r), err
			})
		},
	}
	cmd.Flags().Bool(flagApprove, false, "approve the token first when needed")
	return cmd
}

func approveIfNeeded(ctx context.Context, a *app.App, l loans.Loan, side loans.Side, amount *big.Int) error {
	needs, err := a.Actions.NeedsApproval(ctx, l, side, amount)
	if err != nil || !needs {
		return err
	}
	return a.Actions.Approve(ctx, l, side, amount)
}

func (c *cli) closeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <kind> <id>",
		Short: "Repay a loan in full and return its collateral",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			approve, _ := cmd.Flags().GetBool(flagApprove)
			return c.run(cmd, true, func(ctx context.Context, a *app.App) (any, error) {
				l, err := findLoan(ctx, a, args[0], args[1])
				if err != nil {
					return nil, err
				}
				if approve {
					if err := approveIfNeeded(ctx, a, l, loans.SideDebt, l.Amount); err != nil {
						return nil, err
					}
				}
				r, err := a.Actions.Close(ctx, l)
				return receipt(r), err
			})
		},
	}
	cmd.Flags().Bool(flagApprove, false, "approve the debt token first when needed")
	return cmd
}

func (c *cli) owingsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "owings",
		Short: "List exchange fee reclamations owed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, true, func(ctx context.Context, a *app.App) (any, error) {
				return owings.Load(ctx, a.Session.Handles(ctx))
			})
		},
	}
}

func (c *cli) settleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "settle <currency>",
		Short: "Settle what is owed in a currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, true, func(ctx context.Context, a *app.App) (any, error) {
				r, err := a.Owings.Settle(ctx, args[0])
				return receipt(r), err
			})
		},
	}
}

func (c *cli) withdrawalsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "withdrawals",
		Short: "Show collateral pending withdrawal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, true, func(ctx context.Context, a *app.App) (any, error) {
				p, err := withdrawals.Load(ctx, a.Session.Handles(ctx))
				if err != nil {
					return nil, err
				}
				if p.Empty() {
					fmt.Fprintln(cmd.OutOrStdout(), withdrawals.NoneMessage)
					return nil, nil
				}
				return p, nil
			})
		},
	}
}

func (c *cli) claimWithdrawalCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "claim-withdrawal",
		Short: "Withdraw all pending collateral",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, true, func(ctx context.Context, a *app.App) (any, error) {
				return a.Withdrawals.Claim(ctx)
			})
		},
	}
}

func (c *cli) rewardsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rewards",
		Short: "List earned short rewards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, true, func(ctx context.Context, a *app.App) (any, error) {
				sc := scope.New(ctx)
				defer sc.Close()
				if err := a.Rewards.Start(sc, a.Session.Handles(ctx), nil); err != nil {
					return nil, err
				}
				list, ok := a.Rewards.Rewards()
				if !ok {
					return nil, contracts.ErrNotAvailable
				}
				return list, nil
			})
		},
	}
}

func (c *cli) claimRewardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "claim-reward <currency>",
		Short: "Claim the short rewards of one currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, true, func(ctx context.Context, a *app.App) (any, error) {
				r, err := a.Rewards.Claim(ctx, args[0])
				return receipt(r), err
			})
		},
	}
}

func (c *cli) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show open interest and reward APRs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, false, func(ctx context.Context, a *app.App) (any, error) {
				return stats.Load(ctx, a.Session.Handles(ctx))
			})
		},
	}
}

func (c *cli) hedgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hedge <kind> <id>",
		Short: "Swap sUSD for the borrowed asset of a loan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			quoteOnly, _ := cmd.Flags().GetBool(flagQuote)
			approve, _ := cmd.Flags().GetBool(flagApprove)
			return c.run(cmd, true, func(ctx context.Context, a *app.App) (any, error) {
				if a.Hedge == nil {
					return nil, errHedgeDisabled
				}
				l, err := findLoan(ctx, a, args[0], args[1])
				if err != nil {
					return nil, err
				}
				plan, err := a.Hedge.Prepare(ctx, l)
				if err != nil {
					return nil, err
				}
				if quoteOnly {
					fmt.Fprintln(cmd.OutOrStdout(), plan.Summary())
					return plan, nil
				}
				if plan.NeedsApproval {
					if !approve {
						return nil, loans.ErrApprovalRequired
					}
					if plan, err = a.Hedge.Approve(ctx, plan); err != nil {
						return nil, err
					}
				}
				r, err := a.Hedge.Hedge(ctx, plan)
				return receipt(r), err
			})
		},
	}
	cmd.Flags().Bool(flagQuote, false, "only show the swap plan")
	cmd.Flags().Bool(flagApprove, false, "approve sUSD for the aggregator first when needed")
	return cmd
}

func (c *cli) loanTxCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "loan-tx <kind> <id>",
		Short: "Find the transaction that opened a loan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, true, func(ctx context.Context, a *app.App) (any, error) {
				l, err := findLoan(ctx, a, args[0], args[1])
				if err != nil {
					return nil, err
				}
				network := a.Session.Handles(ctx).Network
				hash, err := subgraph.New(network.SubgraphURL, a.HTTPClient).LoanTxHash(ctx, l.ID)
				if err != nil {
					return nil, err
				}
				return map[string]string{"txHash": hash.Hex(), "explorerUrl": network.TxURL(hash)}, nil
			})
		},
	}
}

func (c *cli) historyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List submitted transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt(flagLimit)
			return c.run(cmd, false, func(ctx context.Context, a *app.App) (any, error) {
				network, _ := cmd.Flags().GetString(flagNetwork)
				entries, err := a.Journal.List(ctx, journal.Filter{Network: network, Limit: limit})
				if err != nil {
					return nil, err
				}
				if entries == nil {
					entries = []journal.Entry{}
				}
				return entries, nil
			})
		},
	}
	cmd.Flags().Int(flagLimit, 50, "maximum number of entries")
	return cmd
}
