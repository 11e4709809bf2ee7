package wallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fsnotify/fsnotify"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/constants"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/securefile"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

const KeyfileProviderName = "keyfile"

// keyfileWallet is the decrypted content of the wallet file.
type keyfileWallet struct {
	Version    int    `json:"version"`
	AddressHex string `json:"address"`
	PrivKeyHex string `json:"priv_key_hex"`

	CreatedAt string `json:"created_at,omitempty"` // RFC3339
}

func (w *keyfileWallet) privateKey() (*ecdsa.PrivateKey, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(w.PrivKeyHex, "0x"), "0X")
	k, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("wallet: decode private key: %w", err)
	}
	if crypto.PubkeyToAddress(k.PublicKey) != common.HexToAddress(w.AddressHex) {
		return nil, errors.New("wallet: key file address does not match its key")
	}
	return k, nil
}

func newRandomKeyfileWallet() (*keyfileWallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("wallet: generate key: %w", err)
	}
	return &keyfileWallet{
		Version:    constants.SchemaV1,
		AddressHex: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivKeyHex: fmt.Sprintf("%x", crypto.FromECDSA(key)),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

type KeyfileConfig struct {
	Path     string
	Options  securefile.Options
	ChainID  uint64
	Password PasswordFunc
	Confirm  ConfirmFunc

	// Create generates and stores a new key when the file is missing.
	Create bool
}

// Keyfile signs with a single secp256k1 key kept in a password-encrypted
// file. Rewriting or removing the file counts as an account change.
type Keyfile struct {
	chainState
	cfg KeyfileConfig

	mu     sync.Mutex
	key    *ecdsa.PrivateKey
	digest [32]byte

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// DefaultKeyfilePath is the wallet file under the user config directory.
func DefaultKeyfilePath() (string, error) {
	return securefile.ConfigPath(constants.AppName, constants.WalletFile)
}

func NewKeyfile(cfg KeyfileConfig) (*Keyfile, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("wallet: key file path is empty")
	}
	if cfg.Password == nil {
		return nil, errors.New("wallet: password func is nil")
	}
	cfg.Path = filepath.Clean(cfg.Path)
	if cfg.Options.AAD == nil {
		cfg.Options.AAD = []byte(constants.AADConstant)
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, constants.DirectoryPerm); err != nil {
		return nil, fmt.Errorf("wallet: mkdir %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("wallet: create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("wallet: watch %s: %w", dir, err)
	}

	k := &Keyfile{cfg: cfg, watcher: watcher, done: make(chan struct{})}
	k.chainID.Store(cfg.ChainID)
	k.digest = fileDigest(cfg.Path)

	go k.watch()
	return k, nil
}

func (k *Keyfile) Name() string { return KeyfileProviderName }

func (k *Keyfile) Accounts(ctx context.Context) ([]common.Address, error) {
	key, err := k.unlock(ctx)
	if err != nil {
		return nil, err
	}
	return []common.Address{crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (k *Keyfile) Transactor(ctx context.Context, account common.Address) (*bind.TransactOpts, error) {
	key, err := k.unlock(ctx)
	if err != nil {
		return nil, err
	}
	if addr := crypto.PubkeyToAddress(key.PublicKey); addr != account {
		return nil, fmt.Errorf("wallet: account %s not in key file", account.Hex())
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, new(big.Int).SetUint64(k.chainID.Load()))
	if err != nil {
		return nil, fmt.Errorf("wallet: keyed transactor: %w", err)
	}
	opts.Context = ctx
	return withConfirm(opts, k.cfg.Confirm), nil
}

// Lock forgets the decrypted key.
func (k *Keyfile) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.key = nil
}

func (k *Keyfile) Close() error {
	var err error
	k.once.Do(func() {
		close(k.done)
		err = k.watcher.Close()
		k.Lock()
	})
	return err
}

func (k *Keyfile) unlock(ctx context.Context) (*ecdsa.PrivateKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.key != nil {
		return k.key, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, statErr := os.Stat(k.cfg.Path)
	missing := errors.Is(statErr, os.ErrNotExist)
	if missing && !k.cfg.Create {
		return nil, ErrNoAccounts
	}

	prompt := "Wallet password: "
	if missing {
		prompt = "New wallet password: "
	}
	password, err := k.cfg.Password(prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	defer zero(password)

	var w *keyfileWallet
	if missing {
		w, err = newRandomKeyfileWallet()
		if err != nil {
			return nil, err
		}
		if err := securefile.WriteEncryptedJSON(k.cfg.Path, *w, password, k.cfg.Options); err != nil {
			return nil, err
		}
		log.Info("created wallet key file", "path", k.cfg.Path, "address", w.AddressHex)
	} else {
		read, err := securefile.ReadEncryptedJSON[keyfileWallet](k.cfg.Path, password, k.cfg.Options)
		if err != nil {
			return nil, fmt.Errorf("wallet: load %s: %w", k.cfg.Path, err)
		}
		w = &read
	}

	key, err := w.privateKey()
	if err != nil {
		return nil, err
	}
	k.key = key
	k.digest = fileDigest(k.cfg.Path)
	return key, nil
}

func (k *Keyfile) watch() {
	for {
		select {
		case <-k.done:
			return
		case ev, ok := <-k.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != k.cfg.Path {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			k.fileChanged()
		case err, ok := <-k.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("wallet key file watcher error", "error", err)
		}
	}
}

func (k *Keyfile) fileChanged() {
	digest := fileDigest(k.cfg.Path)

	k.mu.Lock()
	if digest == k.digest {
		k.mu.Unlock()
		return
	}
	k.digest = digest
	k.key = nil
	k.mu.Unlock()

	log.Info("wallet key file changed", "path", k.cfg.Path)
	k.accountsChanged(nil)
}

func fileDigest(path string) [32]byte {
	b, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}
	}
	return sha256.Sum256(b)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
