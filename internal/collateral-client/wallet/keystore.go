package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/constants"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/securefile"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

const KeystoreProviderName = "keystore"

type KeystoreConfig struct {
	Dir      string
	ScryptN  int
	ScryptP  int
	ChainID  uint64
	Password PasswordFunc
	Confirm  ConfirmFunc
}

// Keystore exposes the accounts of a go-ethereum keystore directory. Accounts
// appearing or disappearing on disk count as an account change.
type Keystore struct {
	chainState
	cfg KeystoreConfig
	ks  *keystore.KeyStore

	sub  event.Subscription
	once sync.Once
}

func DefaultKeystoreDir() (string, error) {
	return securefile.ConfigPath(constants.AppName, constants.KeystoreDir)
}

func NewKeystore(cfg KeystoreConfig) (*Keystore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("wallet: keystore dir is empty")
	}
	if cfg.Password == nil {
		return nil, errors.New("wallet: password func is nil")
	}
	if cfg.ScryptN == 0 || cfg.ScryptP == 0 {
		cfg.ScryptN, cfg.ScryptP = keystore.StandardScryptN, keystore.StandardScryptP
	}

	k := &Keystore{cfg: cfg, ks: keystore.NewKeyStore(cfg.Dir, cfg.ScryptN, cfg.ScryptP)}
	k.chainID.Store(cfg.ChainID)

	sink := make(chan accounts.WalletEvent, 8)
	k.sub = k.ks.Subscribe(sink)
	go k.forward(sink)
	return k, nil
}

func (k *Keystore) Name() string { return KeystoreProviderName }

func (k *Keystore) Accounts(ctx context.Context) ([]common.Address, error) {
	accs := k.ks.Accounts()
	if len(accs) == 0 {
		return nil, ErrNoAccounts
	}
	out := make([]common.Address, 0, len(accs))
	for _, a := range accs {
		out = append(out, a.Address)
	}
	return out, nil
}

// NewAccount creates a key in the keystore directory.
func (k *Keystore) NewAccount(passphrase string) (common.Address, error) {
	acct, err := k.ks.NewAccount(passphrase)
	if err != nil {
		return common.Address{}, fmt.Errorf("wallet: new keystore account: %w", err)
	}
	return acct.Address, nil
}

func (k *Keystore) Transactor(ctx context.Context, account common.Address) (*bind.TransactOpts, error) {
	acct, err := k.ks.Find(accounts.Account{Address: account})
	if err != nil {
		return nil, fmt.Errorf("wallet: keystore account %s: %w", account.Hex(), err)
	}

	password, err := k.cfg.Password(fmt.Sprintf("Password for %s: ", account.Hex()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	defer zero(password)

	if err := k.ks.Unlock(acct, string(password)); err != nil {
		return nil, fmt.Errorf("wallet: unlock %s: %w", account.Hex(), err)
	}

	opts, err := bind.NewKeyStoreTransactorWithChainID(k.ks, acct, new(big.Int).SetUint64(k.chainID.Load()))
	if err != nil {
		return nil, fmt.Errorf("wallet: keystore transactor: %w", err)
	}
	opts.Context = ctx
	return withConfirm(opts, k.cfg.Confirm), nil
}

func (k *Keystore) Close() error {
	k.once.Do(func() {
		k.sub.Unsubscribe()
		for _, a := range k.ks.Accounts() {
			_ = k.ks.Lock(a.Address)
		}
	})
	return nil
}

func (k *Keystore) forward(sink <-chan accounts.WalletEvent) {
	for {
		select {
		case ev := <-sink:
			if ev.Kind != accounts.WalletArrived && ev.Kind != accounts.WalletDropped {
				continue
			}
			current, _ := k.Accounts(context.Background())
			log.Info("keystore accounts changed", "accounts", len(current))
			k.accountsChanged(current)
		case <-k.sub.Err():
			return
		}
	}
}
