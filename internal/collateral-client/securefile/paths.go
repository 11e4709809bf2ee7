package securefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvFolder maps CC_ENV to the state subfolder. Production uses no subfolder.
func EnvFolder() (string, error) {
	raw := strings.TrimSpace(os.Getenv("CC_ENV"))
	switch strings.ToLower(raw) {
	case "", "prod", "production":
		return "", nil
	case "local":
		return "local", nil
	case "dev", "develop", "development":
		return "develop", nil
	default:
		return "", fmt.Errorf("invalid CC_ENV %q (allowed: local, develop, production)", raw)
	}
}

// ConfigDir returns the directory where local state is persisted.
//
// Priority:
//  1. SNAP_REAL_HOME
//  2. HOME
//  3. os.UserConfigDir()
func ConfigDir(app string) (string, error) {
	if strings.TrimSpace(app) == "" {
		return "", errors.New("securefile: app must not be empty")
	}

	envFolder, err := EnvFolder()
	if err != nil {
		return "", err
	}

	join := func(base string) string {
		dir := filepath.Join(base, ".config", app)
		if envFolder != "" {
			dir = filepath.Join(dir, envFolder)
		}
		return dir
	}

	if realHome := os.Getenv("SNAP_REAL_HOME"); realHome != "" {
		return join(realHome), nil
	}
	if home := os.Getenv("HOME"); home != "" {
		return join(home), nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("securefile: UserConfigDir: %w", err)
	}
	return filepath.Join(dir, app, envFolder), nil
}

// ConfigPath joins filename onto ConfigDir(app).
func ConfigPath(app, filename string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", errors.New("securefile: filename must not be empty")
	}
	dir, err := ConfigDir(app)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}
