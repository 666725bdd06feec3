package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	coreerrors "afrochain/core/errors"
)

// contractRow is the relational form of Contract.
type contractRow struct {
	ID            string `gorm:"primaryKey;size:36"`
	Address       string `gorm:"size:64;index"`
	Buyer         string `gorm:"size:64"`
	Farmer        string `gorm:"size:64"`
	Arbiter       string `gorm:"size:64"`
	Amount        string `gorm:"size:80"`
	BatchRef      string `gorm:"size:128;index"`
	Status        string `gorm:"size:16;index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	AutoRefundAt  time.Time
	DisputeReason string
	DeployTx      string `gorm:"size:128"`
	SettleTx      string `gorm:"size:128"`
	AutoRefunded  bool
}

func (contractRow) TableName() string { return "escrow_contracts" }

// SQLStore persists contracts through GORM on SQLite or Postgres.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore opens the named driver ("sqlite" or "postgres") and migrates
// the schema.
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("escrow store: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("escrow store: open: %w", err)
	}
	return NewSQLStore(db)
}

// NewSQLStore wraps an existing handle and migrates the schema.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&contractRow{}); err != nil {
		return nil, fmt.Errorf("escrow store: migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Put(ctx context.Context, c *Contract) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("escrow store: contract id required")
	}
	row := contractRow{
		ID:            c.ID,
		Address:       c.Address,
		Buyer:         c.Buyer,
		Farmer:        c.Farmer,
		Arbiter:       c.Arbiter,
		Amount:        c.Amount.String(),
		BatchRef:      c.BatchRef,
		Status:        c.Status.String(),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
		AutoRefundAt:  c.AutoRefundAt,
		DisputeReason: c.DisputeReason,
		DeployTx:      c.DeployTx,
		SettleTx:      c.SettleTx,
		AutoRefunded:  c.AutoRefunded,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Contract, error) {
	var row contractRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, coreerrors.NotFound("escrow %s not found", id)
	}
	if err != nil {
		return nil, coreerrors.Internal("load escrow", err)
	}
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return nil, coreerrors.Internal("decode escrow amount", err)
	}
	status, err := ParseStatus(row.Status)
	if err != nil {
		return nil, coreerrors.Internal("decode escrow status", err)
	}
	return &Contract{
		ID:            row.ID,
		Address:       row.Address,
		Buyer:         row.Buyer,
		Farmer:        row.Farmer,
		Arbiter:       row.Arbiter,
		Amount:        amount,
		BatchRef:      row.BatchRef,
		Status:        status,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
		AutoRefundAt:  row.AutoRefundAt.UTC(),
		DisputeReason: row.DisputeReason,
		DeployTx:      row.DeployTx,
		SettleTx:      row.SettleTx,
		AutoRefunded:  row.AutoRefunded,
	}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
