package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"solscope/internal/domain"
)

// Storage journals launches and trades so history survives restarts
type Storage struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStorage opens (or creates) the SQLite journal at path
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty storage path", domain.ErrInvalidArgument)
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newStorage(db)
}

func newStorage(db *gorm.DB) (*Storage, error) {
	// Auto Migration
	if err := db.AutoMigrate(&domain.TokenLaunch{}, &domain.TradeActivity{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db, logger: slog.Default().With("module", "storage")}, nil
}

// Close releases the underlying connection
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Launch Operations
// ======================================================================================

// SaveLaunch creates or replaces a launch by mint
func (s *Storage) SaveLaunch(l *domain.TokenLaunch) error {
	return s.db.Save(l).Error
}

// GetLaunch retrieves a launch by mint
func (s *Storage) GetLaunch(mint string) (*domain.TokenLaunch, error) {
	var l domain.TokenLaunch
	err := s.db.First(&l, "token_mint = ?", mint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &l, err
}

// RecentLaunches returns up to limit launches, newest first
func (s *Storage) RecentLaunches(limit int) ([]domain.TokenLaunch, error) {
	var launches []domain.TokenLaunch
	err := s.db.Order("timestamp desc").Limit(limit).Find(&launches).Error
	return launches, err
}

// ======================================================================================
// Trade Operations
// ======================================================================================

// SaveTrade stores a trade; a signature already journaled is ignored
func (s *Storage) SaveTrade(t *domain.TradeActivity) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(t).Error
}

// RecentTrades returns up to limit of the newest trades, oldest first
func (s *Storage) RecentTrades(limit int) ([]domain.TradeActivity, error) {
	var trades []domain.TradeActivity
	if err := s.db.Order("timestamp desc, rowid desc").Limit(limit).Find(&trades).Error; err != nil {
		return nil, err
	}
	slices.Reverse(trades)
	return trades, nil
}

// TradesByMint returns up to limit trades of one token, newest first
func (s *Storage) TradesByMint(mint string, limit int) ([]domain.TradeActivity, error) {
	var trades []domain.TradeActivity
	err := s.db.Where("token_mint = ?", mint).Order("timestamp desc, rowid desc").Limit(limit).Find(&trades).Error
	return trades, err
}

// PruneTrades deletes trades older than cutoff and returns how many were removed
func (s *Storage) PruneTrades(cutoff time.Time) (int64, error) {
	res := s.db.Where("timestamp < ?", cutoff).Delete(&domain.TradeActivity{})
	return res.RowsAffected, res.Error
}

// ======================================================================================
// Monitor observer
// ======================================================================================

// OnLaunch journals a launch. Failures are logged, never propagated to the monitor.
func (s *Storage) OnLaunch(l domain.TokenLaunch) {
	if err := s.SaveLaunch(&l); err != nil {
		s.logger.Error("Failed to journal launch", slog.String("mint", l.TokenMint), slog.Any("error", err))
	}
}

// OnLaunchEnriched rewrites the journaled launch with its metadata
func (s *Storage) OnLaunchEnriched(l domain.TokenLaunch) {
	s.OnLaunch(l)
}

// OnTrade journals a trade
func (s *Storage) OnTrade(t domain.TradeActivity) {
	if err := s.SaveTrade(&t); err != nil {
		s.logger.Error("Failed to journal trade", slog.String("signature", t.Signature), slog.Any("error", err))
	}
}
