package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/quantumauth-io/collateral-client/cmd/collateral-client/config"
	app "github.com/quantumauth-io/collateral-client/internal/collateral-client"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/notifications"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const (
	flagNetwork  = "network"
	flagProvider = "provider"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatal("collateral-client failed", "error", err)
	}
}

type cli struct {
	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "collateral-client",
		Short:         "Synthetix collateral loans and shorts client",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadConfig(cmd)
		},
	}
	root.PersistentFlags().String(flagNetwork, "", "network to read from when no wallet is connected")
	root.PersistentFlags().String(flagProvider, "", "wallet provider (keyfile, keystore); skips the selection prompt")

	root.AddCommand(
		c.serveCommand(),
		c.connectCommand(),
		c.disconnectCommand(),
		c.statusCommand(),
		c.loansCommand(),
		c.openCommand(),
		c.adjustCommand("deposit", "Add collateral to a loan", deposit),
		c.adjustCommand("withdraw", "Remove collateral from a loan", withdraw),
		c.adjustCommand("repay", "Repay part of a loan", repay),
		c.adjustCommand("draw", "Borrow more against a loan", draw),
		c.closeCommand(),
		c.owingsCommand(),
		c.settleCommand(),
		c.withdrawalsCommand(),
		c.claimWithdrawalCommand(),
		c.rewardsCommand(),
		c.claimRewardCommand(),
		c.statsCommand(),
		c.hedgeCommand(),
		c.loanTxCommand(),
		c.historyCommand(),
	)
	return root
}

func (c *cli) loadConfig(cmd *cobra.Command) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	if network, _ := cmd.Flags().GetString(flagNetwork); network != "" {
		cfg.ClientSettings.DefaultNetwork = network
	}
	if provider, _ := cmd.Flags().GetString(flagProvider); provider != "" {
		cfg.Wallet.Provider = provider
	}
	c.cfg = cfg
	return nil
}

// run builds the client for one command. With connect set it reconnects the
// cached wallet, prompting for a provider only when nothing is cached.
func (c *cli) run(cmd *cobra.Command, connect bool, fn func(ctx context.Context, a *app.App) (any, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, c.cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	changes := make(chan notifications.Change, 16)
	sub := a.Hub.Subscribe(changes)
	defer sub.Unsubscribe()
	go logNotifications(ctx, changes)

	if connect {
		if _, err := a.Session.Connect(ctx, true); err != nil {
			return err
		}
	}

	out, err := fn(ctx, a)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func logNotifications(ctx context.Context, ch <-chan notifications.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			if change.Op == notifications.OpDismissed {
				continue
			}
			n := change.Notification
			switch n.Kind {
			case notifications.KindError:
				log.Error(n.Message, "tx", n.TxHash)
			default:
				log.Info(n.Message, "tx", n.TxHash, "explorer", n.ExplorerURL)
			}
		}
	}
}

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Serve(ctx, app.BuildInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}, c.cfg)
		},
	}
}
