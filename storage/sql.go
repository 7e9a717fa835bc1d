package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spyton/buybot/core"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SQLStorage implements the core.Storage interface using a SQL database via GORM
type SQLStorage struct {
	db *gorm.DB
}

// Config holds the configuration for SQL database connections
type Config struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a default configuration for SQL connections
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:    5,
		MaxOpenConns:    10,
		ConnMaxLifetime: time.Hour,
	}
}

// pairRow is the relational shape of a tracked pair. Sources and the
// threshold are stored as JSON documents; they are read and written whole.
type pairRow struct {
	ID           string `gorm:"primaryKey"`
	ChatID       int64
	AssetAddress string `gorm:"index"`
	Symbol       string
	Name         string
	Decimals     int
	Sources      string // JSON array of source configs
	MinAmount    float64
	MinUnit      string
	AntiSpam     string
	Paused       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"index"`
}

func (pairRow) TableName() string { return "pairs" }

// cursorRow is one (pair, source, pool) watermark.
type cursorRow struct {
	PairID string `gorm:"primaryKey"`
	Source string `gorm:"primaryKey"`
	Pool   string `gorm:"primaryKey"`
	Value  uint64
}

func (cursorRow) TableName() string { return "cursors" }

func toPairRow(pair *core.TrackedPair) (*pairRow, error) {
	sources, err := json.Marshal(pair.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sources: %w", err)
	}

	return &pairRow{
		ID:           pair.ID,
		ChatID:       pair.ChatID,
		AssetAddress: pair.AssetAddress,
		Symbol:       pair.Symbol,
		Name:         pair.Name,
		Decimals:     pair.Decimals,
		Sources:      string(sources),
		MinAmount:    pair.MinValue.Amount,
		MinUnit:      string(pair.MinValue.Unit),
		AntiSpam:     string(pair.AntiSpam),
		Paused:       pair.Paused,
		CreatedAt:    pair.CreatedAt,
		UpdatedAt:    pair.UpdatedAt,
	}, nil
}

func fromPairRow(row *pairRow) (*core.TrackedPair, error) {
	var sources []core.SourceConfig
	if row.Sources != "" {
		if err := json.Unmarshal([]byte(row.Sources), &sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
		}
	}

	return &core.TrackedPair{
		ID:           row.ID,
		ChatID:       row.ChatID,
		AssetAddress: row.AssetAddress,
		Symbol:       row.Symbol,
		Name:         row.Name,
		Decimals:     row.Decimals,
		Sources:      sources,
		MinValue:     core.MinValue{Amount: row.MinAmount, Unit: core.ValueUnit(row.MinUnit)},
		AntiSpam:     core.SpamLevel(row.AntiSpam),
		Paused:       row.Paused,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

// NewFromSQLite creates a new SQLite storage instance
func NewFromSQLite(dbPath string, config Config, opts ...gorm.Option) (core.Storage, error) {
	dialect := sqlite.Open(dbPath)
	return newFromSQL(dialect, config, opts...)
}

// NewFromSQL creates a new SQL storage instance for any GORM dialector
func NewFromSQL(dialect gorm.Dialector, config Config, opts ...gorm.Option) (core.Storage, error) {
	return newFromSQL(dialect, config, opts...)
}

// newFromSQL creates a new SQL storage instance with the specified configuration
func newFromSQL(dialect gorm.Dialector, config Config, opts ...gorm.Option) (core.Storage, error) {
	db, err := gorm.Open(dialect, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err = db.AutoMigrate(&pairRow{}, &cursorRow{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLStorage{db: db}, nil
}

// SavePair stores or replaces a tracked pair.
func (s *SQLStorage) SavePair(ctx context.Context, pair *core.TrackedPair) error {
	if err := pair.Validate(); err != nil {
		return err
	}

	row, err := toPairRow(pair)
	if err != nil {
		return err
	}

	tx := s.db.WithContext(ctx)
	if result := tx.Save(row); result.Error != nil {
		return fmt.Errorf("failed to store pair: %w", result.Error)
	}
	return nil
}

// Pair retrieves one tracked pair by id.
func (s *SQLStorage) Pair(ctx context.Context, id string) (*core.TrackedPair, error) {
	tx := s.db.WithContext(ctx)

	var row pairRow
	if result := tx.First(&row, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch pair: %w", result.Error)
	}

	return fromPairRow(&row)
}

// Pairs retrieves tracked pairs matching all provided filters, ordered by
// last update.
func (s *SQLStorage) Pairs(ctx context.Context, filters ...core.PairFilter) ([]*core.TrackedPair, error) {
	tx := s.db.WithContext(ctx)

	var rows []*pairRow
	if result := tx.Order("updated_at asc").Find(&rows); result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to fetch pairs: %w", result.Error)
	}

	pairs := make([]*core.TrackedPair, 0, len(rows))
	for _, row := range rows {
		pair, err := fromPairRow(row)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}

	// Filters are predicates over the domain type, applied in memory.
	if len(filters) > 0 {
		pairs = lo.Filter(pairs, func(pair *core.TrackedPair, _ int) bool {
			for _, filter := range filters {
				if !filter(*pair) {
					return false
				}
			}
			return true
		})
	}

	return pairs, nil
}

// RemovePair deletes the pair row. Cursors are cleaned separately via
// ClearWatermarks.
func (s *SQLStorage) RemovePair(ctx context.Context, id string) error {
	tx := s.db.WithContext(ctx)

	result := tx.Delete(&pairRow{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to remove pair: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Watermark returns the stored cursor for a (pair, source, pool) unit.
func (s *SQLStorage) Watermark(ctx context.Context, pairID, source, pool string) (uint64, bool, error) {
	tx := s.db.WithContext(ctx)

	var row cursorRow
	result := tx.First(&row, "pair_id = ? AND source = ? AND pool = ?", pairID, source, pool)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to fetch cursor: %w", result.Error)
	}

	return row.Value, true, nil
}

// AdvanceWatermark stores the cursor, refusing to move it backward.
func (s *SQLStorage) AdvanceWatermark(ctx context.Context, pairID, source, pool string, value uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row cursorRow
		result := tx.First(&row, "pair_id = ? AND source = ? AND pool = ?", pairID, source, pool)
		switch {
		case result.Error == nil:
			if value <= row.Value {
				return nil
			}
			row.Value = value
			if res := tx.Save(&row); res.Error != nil {
				return fmt.Errorf("failed to update cursor: %w", res.Error)
			}
			return nil

		case errors.Is(result.Error, gorm.ErrRecordNotFound):
			row = cursorRow{PairID: pairID, Source: source, Pool: pool, Value: value}
			if res := tx.Create(&row); res.Error != nil {
				return fmt.Errorf("failed to create cursor: %w", res.Error)
			}
			return nil

		default:
			return fmt.Errorf("failed to fetch cursor: %w", result.Error)
		}
	})
}

// ClearWatermarks removes every cursor belonging to a pair.
func (s *SQLStorage) ClearWatermarks(ctx context.Context, pairID string) error {
	tx := s.db.WithContext(ctx)
	if result := tx.Delete(&cursorRow{}, "pair_id = ?", pairID); result.Error != nil {
		return fmt.Errorf("failed to clear cursors: %w", result.Error)
	}
	return nil
}

// Close closes the database connection
func (s *SQLStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
