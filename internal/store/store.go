// Package store persists the relational projection of catalogs through GORM.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"gorm.io/gorm"

	"github.com/schaermu/posyncd/internal/model"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// ErrUnsyncedEntryWrite is returned for entry writes that did not go through
// the store's catalog-backed methods
var ErrUnsyncedEntryWrite = errors.New("entry written without backend sync")

const entryGuardCallback = "posyncd:entry_guard"

type backendWriteKey struct{}

// withBackendWrite marks ctx as an entry write that went through the
// catalog first
func withBackendWrite(ctx context.Context) context.Context {
	return context.WithValue(ctx, backendWriteKey{}, true)
}

func isBackendWrite(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(backendWriteKey{}).(bool)
	return v
}

// Store wraps a database handle
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New migrates the schema and installs the entry write guard
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{db: db, logger: logger}

	guard := s.entryGuard
	if err := db.Callback().Create().Before("gorm:create").Register(entryGuardCallback, guard); err != nil {
		return nil, fmt.Errorf("failed to register entry guard: %w", err)
	}
	if err := db.Callback().Update().Before("gorm:update").Register(entryGuardCallback, guard); err != nil {
		return nil, fmt.Errorf("failed to register entry guard: %w", err)
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register(entryGuardCallback, guard); err != nil {
		return nil, fmt.Errorf("failed to register entry guard: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return s, nil
}

// AutoMigrate runs automatic migrations for all models
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Project{},
		&model.Component{},
		&model.Language{},
		&model.Translation{},
		&model.Entry{},
		&model.Suggestion{},
		&model.Check{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// entryGuard rejects entry writes that bypassed the catalog
func (s *Store) entryGuard(tx *gorm.DB) {
	if tx.Statement.Schema == nil || tx.Statement.Schema.Table != entriesTable {
		return
	}
	if isBackendWrite(tx.Statement.Context) {
		return
	}
	s.logger.Error("entry written without backend sync",
		"table", tx.Statement.Schema.Table,
		"stack", string(debug.Stack()),
	)
	_ = tx.AddError(ErrUnsyncedEntryWrite)
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn on a store bound to one database transaction. Any
// error returned by fn rolls the transaction back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, logger: s.logger})
	})
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
