package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"ponzirep/core/events"
	"ponzirep/native/escrow"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultLimit = 100
	maxLimit     = 1000
)

var ErrDSNRequired = errors.New("indexer: dsn must be configured")

// Store projects committed ledger events into a relational database so
// offers can be listed by creator or status.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the database named by driver and dsn and migrates the
// schema.
func Open(driver, dsn string, logger *slog.Logger) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		dialector = sqlite.Open(trimmed)
	case DriverPostgres:
		dialector = postgres.Open(trimmed)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open database: %w", err)
	}
	return New(db, logger)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("indexer: nil database")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Failures are logged; the ledger remains the
// source of truth.
func (s *Store) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	if err := s.Apply(context.Background(), evt); err != nil {
		s.logger.Error("indexer: apply event failed",
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}

// Apply projects a single event. Unknown event types are ignored.
func (s *Store) Apply(ctx context.Context, evt events.Event) error {
	payload := evt.Event()
	if payload == nil {
		return nil
	}
	attrs := payload.Attributes
	switch payload.Type {
	case escrow.EventTypeOfferCreated, escrow.EventTypeOfferFinalised, escrow.EventTypeOfferWithdrawn:
		nonce, err := strconv.ParseUint(attrs["nonce"], 10, 64)
		if err != nil {
			return fmt.Errorf("offer nonce: %w", err)
		}
		var position uint64
		if count, err := strconv.ParseUint(attrs["tradesCount"], 10, 64); err == nil && count > 0 {
			position = count - 1
		}
		row := Offer{
			ID:             attrs["offerId"],
			Creator:        attrs["creator"],
			Position:       position,
			Nonce:          nonce,
			EscrowedAmount: attrs["escrowedAmount"],
			QuotedPrice:    attrs["quotedPrice"],
			Status:         attrs["status"],
			Counterparty:   attrs["counterparty"],
		}
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "counterparty", "updated_at"}),
		}).Create(&row).Error
	case events.TypeTransfer:
		row := Transfer{
			OfferID:   attrs["offerId"],
			Sender:    attrs["from"],
			Recipient: attrs["to"],
			Amount:    attrs["amount"],
			Reason:    attrs["reason"],
		}
		return s.db.WithContext(ctx).Create(&row).Error
	}
	return nil
}

// Filter narrows an offer listing. Empty fields match everything.
type Filter struct {
	Creator string
	Status  string
	Limit   int
	Offset  int
}

// Offers lists indexed offers in creation order.
func (s *Store) Offers(ctx context.Context, f Filter) ([]Offer, error) {
	q := s.db.WithContext(ctx).Model(&Offer{})
	if f.Creator != "" {
		q = q.Where("creator = ?", f.Creator)
	}
	if f.Status != "" {
		q = q.Where("status = ?", strings.ToLower(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	var out []Offer
	if err := q.Order("position ASC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("indexer: list offers: %w", err)
	}
	return out, nil
}

// Transfers lists the value movements recorded for an offer.
func (s *Store) Transfers(ctx context.Context, offerID string) ([]Transfer, error) {
	var out []Transfer
	if err := s.db.WithContext(ctx).Where("offer_id = ?", offerID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("indexer: list transfers: %w", err)
	}
	return out, nil
}
