// Package persistence provides the relational audit sink: gorm over
// PostgreSQL in production and SQLite for tests and single-node setups.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pincex/tradingcore/internal/trading/auditlog"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// AuditEntryModel is the row layout of one chained audit entry.
type AuditEntryModel struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	TenantID    string    `gorm:"size:128;not null;uniqueIndex:idx_audit_tenant_seq,priority:1"`
	Sequence    uint64    `gorm:"not null;uniqueIndex:idx_audit_tenant_seq,priority:2"`
	Type        string    `gorm:"size:64;not null"`
	Pair        string    `gorm:"size:32;index"`
	PairSeq     uint64    `gorm:"not null"`
	TimestampNs int64     `gorm:"not null"`
	Payload     string    `gorm:"type:text;not null"`
	PrevHash    string    `gorm:"size:64;not null"`
	Hash        string    `gorm:"size:64;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (AuditEntryModel) TableName() string {
	return "trading_audit_entries"
}

func toModel(e auditlog.Entry) AuditEntryModel {
	return AuditEntryModel{
		TenantID:    e.TenantID,
		Sequence:    e.Sequence,
		Type:        e.Type,
		Pair:        e.Pair,
		PairSeq:     e.PairSeq,
		TimestampNs: e.Timestamp.UnixNano(),
		Payload:     string(e.Payload),
		PrevHash:    e.PrevHash,
		Hash:        e.Hash,
	}
}

func (m AuditEntryModel) entry() auditlog.Entry {
	return auditlog.Entry{
		TenantID:  m.TenantID,
		Sequence:  m.Sequence,
		Type:      m.Type,
		Pair:      m.Pair,
		PairSeq:   m.PairSeq,
		Timestamp: time.Unix(0, m.TimestampNs).UTC(),
		Payload:   json.RawMessage(m.Payload),
		PrevHash:  m.PrevHash,
		Hash:      m.Hash,
	}
}

// GormAuditSink implements auditlog.Sink on a relational database. The
// (tenant_id, sequence) unique index rejects a second writer racing on the
// same chain.
type GormAuditSink struct {
	db     *gorm.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// Open connects with driver "postgres" or "sqlite" and migrates the table.
func Open(driver, dsn string, logger *zap.Logger) (*GormAuditSink, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported audit driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(logger, DefaultSlowQuery)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite allows one writer; a single connection also keeps
		// ":memory:" databases alive across calls.
		sqlDB.SetMaxOpenConns(1)
	}
	return NewGormAuditSink(db, logger)
}

// NewGormAuditSink wraps an open connection and migrates the table.
func NewGormAuditSink(db *gorm.DB, logger *zap.Logger) (*GormAuditSink, error) {
	if err := db.AutoMigrate(&AuditEntryModel{}); err != nil {
		return nil, fmt.Errorf("migrate audit table: %w", err)
	}
	return &GormAuditSink{db: db, logger: logger}, nil
}

func (s *GormAuditSink) Append(ctx context.Context, rec auditlog.Record) (auditlog.Entry, error) {
	if rec.TenantID == "" {
		return auditlog.Entry{}, auditlog.ErrEmptyTenant
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out auditlog.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head []AuditEntryModel
		if err := tx.Where("tenant_id = ?", rec.TenantID).Order("sequence DESC").Limit(1).Find(&head).Error; err != nil {
			return err
		}
		headSeq, headHash := uint64(0), auditlog.GenesisHash
		if len(head) == 1 {
			headSeq, headHash = head[0].Sequence, head[0].Hash
		}
		e, err := auditlog.Chain(rec, headSeq, headHash)
		if err != nil {
			return err
		}
		row := toModel(e)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		s.logger.Error("Audit append failed", zap.String("tenant_id", rec.TenantID), zap.Error(err))
		return auditlog.Entry{}, fmt.Errorf("gorm append: %w", err)
	}
	return out, nil
}

func (s *GormAuditSink) Range(ctx context.Context, tenant string, from, to uint64) ([]auditlog.Entry, error) {
	if from == 0 {
		from = 1
	}
	q := s.db.WithContext(ctx).Where("tenant_id = ? AND sequence >= ?", tenant, from)
	if to != 0 {
		q = q.Where("sequence <= ?", to)
	}
	var rows []AuditEntryModel
	if err := q.Order("sequence ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gorm range: %w", err)
	}
	out := make([]auditlog.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.entry()
	}
	return out, nil
}

func (s *GormAuditSink) VerifyRange(ctx context.Context, tenant string, from, to uint64) (auditlog.Report, error) {
	return auditlog.VerifyChain(ctx, s, tenant, from, to)
}

func (s *GormAuditSink) Tenants(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&AuditEntryModel{}).Distinct("tenant_id").Order("tenant_id").Pluck("tenant_id", &out).Error
	return out, err
}

func (s *GormAuditSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
