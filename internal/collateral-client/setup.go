// setup.go
package collateral_client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/collateral-client/cmd/collateral-client/config"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/chains"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/constants"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/hedge"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/helpers"
	clienthttp "github.com/quantumauth-io/collateral-client/internal/collateral-client/http"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/journal"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/loans"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/metrics"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/notifications"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/owings"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/rewards"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/scope"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/securefile"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/session"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/stats"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/swap"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/txlifecycle"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/wallet"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/withdrawals"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// headSource is what every tracker subscribes to for new blocks.
type headSource interface {
	Subscribe(ch chan<- *types.Header) event.Subscription
}

// App is the wired client: one session and the services acting through it.
type App struct {
	Config      *config.Config
	Networks    *networks.Registry
	Chains      *chains.Service
	Wallets     *wallet.Registry
	Session     *session.Manager
	Hub         *notifications.Hub
	Journal     *journal.Store
	Metrics     *metrics.Collectors
	Tx          *txlifecycle.Manager
	Loans       *loans.Tracker
	Opener      *loans.Opener
	Actions     *loans.Actions
	Owings      *owings.Book
	Withdrawals *withdrawals.Claimer
	Rewards     *rewards.Tracker
	Stats       *stats.Tracker
	Hedge       *hedge.Service
	HTTPClient  *http.Client

	mu        sync.Mutex
	view      *scope.Scope
	stopWatch func()
}

// LoadConfig reads the config and fills RPC endpoints, prompting for an
// Infura key when none are configured and a terminal is attached.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if cfg.InfuraKey == "" && !cfg.HasRPCs() {
		key, err := helpers.PromptInfuraAPIKey()
		switch {
		case errors.Is(err, helpers.ErrNotInteractive):
			log.Warn("no rpc endpoints configured; set CC_INFURAKEY")
		case err != nil:
			return nil, err
		default:
			cfg.InfuraKey = key
		}
	}
	if cfg.InfuraKey != "" {
		if err := cfg.InjectInfuraKey(cfg.InfuraKey); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// New wires every service. selector picks the wallet provider on Connect.
func New(ctx context.Context, cfg *config.Config, selector wallet.Selector) (*App, error) {
	a := &App{Config: cfg, Hub: notifications.NewHub(), Metrics: metrics.Default()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// ---- Networks
	var err error
	if path := cfg.ClientSettings.NetworksFile; path != "" {
		a.Networks, err = networks.LoadFile(path)
	} else {
		a.Networks, err = networks.Default()
	}
	if err != nil {
		return nil, err
	}
	defaultNetwork, err := a.Networks.Lookup(cfg.ClientSettings.DefaultNetwork)
	if err != nil {
		return nil, err
	}

	// ---- Chain service (one backend per network, dialed lazily)
	a.Chains, err = chains.NewService(chains.ChainConfig{
		Chains:           helpers.ChainsConfigFromConfig(cfg),
		PreferredRPCName: cfg.Ethereum.ActiveRPC,
	})
	if err != nil {
		return nil, err
	}

	// ---- Wallet providers
	a.Wallets, err = newWallets(cfg, defaultNetwork.ChainID)
	if err != nil {
		return nil, err
	}
	cache, err := wallet.NewCache()
	if err != nil {
		return nil, err
	}
	if selector == nil {
		selector = wallet.TerminalSelector{}
		if cfg.Wallet.Provider != "" {
			selector = wallet.Fixed(cfg.Wallet.Provider)
		}
	}

	// ---- Session
	a.Session, err = session.New(ctx, session.Config{
		Networks:       a.Networks,
		Backends:       a.Chains,
		Providers:      a.Wallets,
		Selector:       selector,
		Cache:          cache,
		DefaultNetwork: defaultNetwork.Name,
		HeadPoll:       cfg.ClientSettings.HeadPoll,
		Metrics:        a.Metrics,
	})
	if err != nil {
		return nil, err
	}

	// ---- Journal
	journalPath := cfg.ClientSettings.JournalFile
	if journalPath == "" {
		if journalPath, err = securefile.ConfigPath(constants.AppName, constants.JournalFile); err != nil {
			return nil, err
		}
	}
	a.Journal, err = journal.Open(journalPath)
	if err != nil {
		return nil, err
	}

	// ---- Services
	txOpts := []txlifecycle.Option{txlifecycle.WithJournal(a.Journal), txlifecycle.WithMetrics(a.Metrics)}
	if cfg.ClientSettings.ConfirmTimeout > 0 {
		txOpts = append(txOpts, txlifecycle.WithConfirmTimeout(cfg.ClientSettings.ConfirmTimeout))
	}
	a.Tx = txlifecycle.New(a.Session, a.Hub, txOpts...)
	a.Loans = loans.NewTracker(a.Metrics)
	a.Opener = loans.NewOpener(a.Session, a.Tx)
	a.Actions = loans.NewActions(a.Session, a.Tx)

	settleDelay := cfg.ClientSettings.SettleDelay
	if settleDelay <= 0 {
		settleDelay = owings.DefaultSettleDelay
	}
	a.Owings = owings.New(a.Session, a.Tx, owings.WithMetrics(a.Metrics), owings.WithSettleDelay(settleDelay))
	a.Withdrawals = withdrawals.NewClaimer(a.Session, a.Tx, settleDelay)
	a.Rewards = rewards.NewTracker(a.Session, a.Tx, a.Metrics)
	a.Stats = stats.NewTracker(a.Metrics)

	timeout := cfg.Swap.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	a.HTTPClient = &http.Client{Timeout: timeout}
	if cfg.Swap.Enabled {
		agg := swap.New(swap.Config{
			BaseURL:           cfg.Swap.BaseURL,
			RequestsPerMinute: cfg.Swap.RequestsPerMinute,
		}, a.HTTPClient)
		a.Hedge = hedge.NewService(a.Session, a.Tx, agg)
	}

	ok = true
	return a, nil
}

func newWallets(cfg *config.Config, chainID uint64) (*wallet.Registry, error) {
	var confirm wallet.ConfirmFunc
	if helpers.IsInteractive() {
		confirm = func(account common.Address, tx *types.Transaction) bool {
			to := "contract creation"
			if tx.To() != nil {
				to = tx.To().Hex()
			}
			return helpers.PromptConfirm(fmt.Sprintf("Sign transaction from %s to %s (value %s wei, gas %d)?",
				account.Hex(), to, tx.Value(), tx.Gas()))
		}
	}

	keyfilePath := cfg.Wallet.Keyfile
	if keyfilePath == "" {
		p, err := wallet.DefaultKeyfilePath()
		if err != nil {
			return nil, err
		}
		keyfilePath = p
	}
	keyfile, err := wallet.NewKeyfile(wallet.KeyfileConfig{
		Path:     keyfilePath,
		ChainID:  chainID,
		Password: helpers.PromptPassword,
		Confirm:  confirm,
		Create:   cfg.Wallet.CreateKeyfile,
	})
	if err != nil {
		return nil, err
	}

	keystoreDir := cfg.Wallet.KeystoreDir
	if keystoreDir == "" {
		d, err := wallet.DefaultKeystoreDir()
		if err != nil {
			_ = keyfile.Close()
			return nil, err
		}
		keystoreDir = d
	}
	keystore, err := wallet.NewKeystore(wallet.KeystoreConfig{
		Dir:      keystoreDir,
		ChainID:  chainID,
		Password: helpers.PromptPassword,
		Confirm:  confirm,
	})
	if err != nil {
		_ = keyfile.Close()
		return nil, err
	}
	return wallet.NewRegistry(keyfile, keystore), nil
}

// Watch restarts the trackers whenever the session settles, so they always
// read through the current epoch's handles.
func (a *App) Watch(ctx context.Context) {
	a.mu.Lock()
	if a.stopWatch != nil {
		a.mu.Unlock()
		return
	}
	a.stopWatch = a.Session.OnChange(func(s session.Snapshot) { a.restart(ctx, s) })
	a.mu.Unlock()
	a.restart(ctx, a.Session.Snapshot())
}

func (a *App) restart(ctx context.Context, s session.Snapshot) {
	if s.State == session.Connecting || s.State == session.Reset {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.view != nil {
		a.view.Close()
	}
	a.Loans.Stop()
	a.Rewards.Stop()

	parent := ctx
	if ep := a.Session.Scope(); ep != nil {
		parent = ep.Context()
	}
	sc := scope.New(parent)
	a.view = sc

	sc.Go(func(ctx context.Context) {
		set := a.Session.Handles(ctx)
		var heads headSource
		if feed := a.Session.Heads(ctx); feed != nil {
			heads = feed
		}

		a.Stats.Start(sc, set, heads)
		if !set.HasAccount() {
			return
		}
		if err := a.Loans.Start(sc, set, heads); err != nil {
			log.Warn("loan tracker not started", "error", err)
		}
		if err := a.Rewards.Start(sc, set, heads); err != nil {
			log.Warn("rewards tracker not started", "error", err)
		}
		if _, err := a.Owings.Reload(ctx); err != nil && ctx.Err() == nil {
			log.Warn("owings not loaded", "error", err)
		}
	})
	log.Info("trackers restarted", "state", s.State.String(), "epoch", s.Epoch)
}

// HTTPDeps exposes the services to the local API.
func (a *App) HTTPDeps() clienthttp.Deps {
	return clienthttp.Deps{
		Session:     a.Session,
		Hub:         a.Hub,
		Loans:       a.Loans,
		Opener:      a.Opener,
		Actions:     a.Actions,
		Owings:      a.Owings,
		Withdrawals: a.Withdrawals,
		Rewards:     a.Rewards,
		Stats:       a.Stats,
		Hedge:       a.Hedge,
		Journal:     a.Journal,
		Metrics:     a.Metrics,
		HTTPClient:  a.HTTPClient,
	}
}

// CheckDeployment warns about loan contracts without code on the default
// network; a wrong RPC endpoint usually shows up here first.
func (a *App) CheckDeployment(ctx context.Context) {
	set := a.Session.Handles(ctx)
	if set.Backend == nil {
		log.Warn("no backend for default network", "network", set.Network.Name)
		return
	}
	for _, role := range []networks.Role{networks.RoleCollateralManager, networks.RoleERC20Loan, networks.RoleETHLoan, networks.RoleShortLoan} {
		addr, ok := set.Network.Address(role)
		if !ok {
			continue
		}
		code, err := set.Backend.CodeAt(ctx, addr, nil)
		if err != nil {
			log.Warn("deployment check failed", "role", role.String(), "error", err)
			return
		}
		if len(code) == 0 {
			log.Warn("contract has no code", "role", role.String(), "address", addr.Hex(), "network", set.Network.Name)
		}
	}
}

func (a *App) Close() {
	a.mu.Lock()
	stop := a.stopWatch
	a.stopWatch = nil
	view := a.view
	a.view = nil
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
	if view != nil {
		view.Close()
	}
	if a.Session != nil {
		a.Session.Close()
	}
	if a.Wallets != nil {
		if err := a.Wallets.Close(); err != nil {
			log.Error("wallet close failed", "error", err)
		}
	}
	if a.Chains != nil {
		if err := a.Chains.Close(); err != nil {
			log.Error("chain service close failed", "error", err)
		}
	}
	if a.Journal != nil {
		if err := a.Journal.Close(); err != nil {
			log.Error("journal close failed", "error", err)
		}
	}
}

// Serve runs the local API until ctx is done.
func Serve(ctx context.Context, build BuildInfo, cfg *config.Config) error {
	log.Info("collateral-client",
		"version", build.Version,
		"commit", build.Commit,
		"build_date", build.BuildDate,
	)

	// ---- Ensure we can bind the HTTP port before prompting for anything
	listenAddr := cfg.ListenAddr()
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("cannot bind %s: %w", listenAddr, err)
	}

	app, err := New(ctx, cfg, nil)
	if err != nil {
		_ = listener.Close()
		return err
	}
	defer app.Close()

	app.CheckDeployment(ctx)
	if _, err := app.Session.Connect(ctx, true); err != nil {
		log.Warn("cached wallet not reconnected", "error", err)
	}
	app.Watch(ctx)

	handler := clienthttp.NewHandler(app.HTTPDeps())
	router := clienthttp.NewRouter(handler, clienthttp.RouterConfig{
		AllowOrigins:    cfg.ClientSettings.AllowOrigins,
		WritesPerSecond: cfg.ClientSettings.WritesPerSecond,
		LoopbackOnly:    true,
	})
	return clienthttp.ServeListener(ctx, listener, router)
}
