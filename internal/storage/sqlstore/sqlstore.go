// Package sqlstore persists values in a single SQL table through GORM. It
// accepts sqlite:// and postgres:// URLs.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/five82/platter/internal/storage"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// Entry mirrors the client_state table.
type Entry struct {
	Key       string         `gorm:"primaryKey;size:128"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (Entry) TableName() string { return "client_state" }

// Store implements storage.Store on top of gorm.DB.
type Store struct {
	db     *gorm.DB
	driver string
}

var _ storage.Store = (*Store)(nil)

// Open connects to dsn and migrates the client_state table.
func Open(dsn string) (*Store, error) {
	driver, target, err := resolveDriver(dsn)
	if err != nil {
		return nil, err
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	var db *gorm.DB
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(target), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(target), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return New(db, driver)
}

// New wraps an existing gorm.DB and ensures the schema exists.
func New(db *gorm.DB, driver string) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: db is nil")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate client_state: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

// Driver returns the SQL dialect in use.
func (s *Store) Driver() string { return s.driver }

// Load returns the stored value, or storage.ErrNotFound.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	var entry Entry
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return []byte(entry.Value), nil
}

// Save upserts the value. Values must be JSON documents.
func (s *Store) Save(ctx context.Context, key string, value []byte) error {
	if !storage.ValidKey(key) {
		return fmt.Errorf("invalid storage key %q", key)
	}
	if !json.Valid(value) {
		return fmt.Errorf("save %s: value is not valid json", key)
	}
	entry := Entry{Key: key, Value: datatypes.JSON(value), UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Delete removes the row for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&Entry{}).Error; err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func resolveDriver(dsn string) (string, string, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, dsn, nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if u.Host != "" {
			path = u.Host + u.Path
		}
		if path == "" {
			return "", "", fmt.Errorf("sqlite url %q has no path", dsn)
		}
		return driverSQLite, path, nil
	}
	return "", "", fmt.Errorf("unsupported database url %q", dsn)
}
