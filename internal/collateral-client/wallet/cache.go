package wallet

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/quantumauth-io/collateral-client/internal/collateral-client/constants"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/securefile"
)

// Cache persists the name of the last connected provider.
type Cache struct {
	Path string
}

type cacheFile map[string]string

func NewCache() (*Cache, error) {
	path, err := securefile.ConfigPath(constants.AppName, constants.ProviderCacheFile)
	if err != nil {
		return nil, err
	}
	return &Cache{Path: path}, nil
}

// Load returns "" when nothing is cached.
func (c *Cache) Load() (string, error) {
	data, err := securefile.ReadJSON[cacheFile](c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("wallet: read provider cache: %w", err)
	}
	return strings.TrimSpace(data[constants.CacheWalletKey]), nil
}

func (c *Cache) Save(name string) error {
	data := cacheFile{constants.CacheWalletKey: name}
	if err := securefile.WriteJSON(c.Path, data, constants.FilePerm, constants.DirectoryPerm); err != nil {
		return fmt.Errorf("wallet: write provider cache: %w", err)
	}
	return nil
}

func (c *Cache) Clear() error {
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("wallet: clear provider cache: %w", err)
	}
	return nil
}
