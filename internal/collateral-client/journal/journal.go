// Package journal records every transaction invocation in a local sqlite
// database so past actions can be listed after restarts.
package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/constants"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var ErrNotFound = errors.New("journal: entry not found")

// Entry is one invocation of a write action.
type Entry struct {
	ID           string `gorm:"primaryKey;size:36"`
	InvocationID string `gorm:"index;size:36"`
	Network      string `gorm:"index;size:32"`
	Account      string `gorm:"index;size:42"`
	Label        string
	Method       string `gorm:"size:64"`
	Contract     string `gorm:"size:42"`
	TxHash       string `gorm:"index;size:66"`
	Status       Status `gorm:"size:16"`
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Entry) TableName() string { return "journal_entries" }

type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the journal at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), constants.DirectoryPerm); err != nil {
			return nil, fmt.Errorf("journal: mkdir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("journal: pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Begin stores a pending entry and returns its id.
func (s *Store) Begin(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Status = StatusPending
	e.Account = strings.ToLower(e.Account)
	if err := s.db.WithContext(ctx).Create(&e).Error; err != nil {
		return "", fmt.Errorf("journal: insert: %w", err)
	}
	return e.ID, nil
}

// Submitted records the transaction hash.
func (s *Store) Submitted(ctx context.Context, id, txHash string) error {
	return s.update(ctx, id, map[string]any{"tx_hash": txHash})
}

// Finish records the outcome. A nil cause marks success.
func (s *Store) Finish(ctx context.Context, id string, cause error) error {
	fields := map[string]any{"status": StatusSucceeded, "error": ""}
	if cause != nil {
		fields["status"] = StatusFailed
		fields["error"] = cause.Error()
	}
	return s.update(ctx, id, fields)
}

func (s *Store) update(ctx context.Context, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&Entry{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("journal: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	var e Entry
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("journal: get: %w", err)
	}
	return e, nil
}

type Filter struct {
	Network string
	Account string
	Limit   int
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	q := s.db.WithContext(ctx).Model(&Entry{}).Order("created_at desc")
	if f.Network != "" {
		q = q.Where("network = ?", f.Network)
	}
	if f.Account != "" {
		q = q.Where("account = ?", strings.ToLower(f.Account))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []Entry
	if err := q.Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return out, nil
}
