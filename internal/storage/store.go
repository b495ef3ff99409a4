// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when the requested row does not exist under the
// given tenant. ErrConflict is returned for uniqueness violations.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// Store wraps the relational system of record. All state transitions that
// must be atomic run through Transaction.
type Store struct {
	db *gorm.DB
}

// Open connects to the relational store identified by databaseURL and runs
// schema migration.
func Open(databaseURL string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store := &Store{db: db}
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an already-open gorm handle. Used by tests with an
// in-memory sqlite database.
func NewWithDB(db *gorm.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// Migrate creates or updates the schema for all entities.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(
		&Tenant{}, &User{},
		&Workflow{}, &Run{}, &Step{}, &Event{},
		&Site{}, &Page{}, &SiteVersion{}, &BuildJob{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Transaction runs fn inside a single relational transaction. The Store
// passed to fn shares the transaction handle.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Ping verifies connectivity and reports round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return 0, err
	}
	start := time.Now()
	if err := sqlDB.PingContext(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate maps gorm errors onto the store's sentinel errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return err
	}
}
