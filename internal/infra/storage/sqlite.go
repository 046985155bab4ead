package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"token_swap/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists settlement snapshots and the journal in SQLite.
// Amounts and ratio terms are stored as decimal TEXT so the full uint64 range
// survives a round trip; sequences stay INTEGER for ordering.
type Storage struct {
	db *gorm.DB
}

// settlementRecord is the one-row-per-deployment settlement state.
type settlementRecord struct {
	DeploymentID     string `gorm:"primaryKey"`
	Authority        string `gorm:"not null"`
	SourceAsset      string `gorm:"not null"`
	DestinationAsset string `gorm:"not null"`
	RatioNumerator   amount `gorm:"not null"`
	RatioDenominator amount `gorm:"not null"`
	TotalExchanged   amount
	Sequence         uint64
	InitializedAt    time.Time
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"` // Engine clock, not gorm's
}

func (settlementRecord) TableName() string { return "settlement_states" }

// poolRecord holds one custody pool balance.
type poolRecord struct {
	DeploymentID string `gorm:"primaryKey"`
	Kind         string `gorm:"primaryKey"`
	Asset        string `gorm:"not null"`
	Held         amount
	LastSeq      uint64
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

func (poolRecord) TableName() string { return "custody_pools" }

// journalRecord is one committed mutation.
type journalRecord struct {
	ID               string `gorm:"primaryKey"`
	DeploymentID     string `gorm:"uniqueIndex:idx_journal_seq;not null"`
	Seq              uint64 `gorm:"uniqueIndex:idx_journal_seq;not null"`
	Kind             string `gorm:"index;not null"`
	Actor            string
	Pool             string
	AmountIn         amount
	AmountOut        amount
	SourceAsset      string
	DestinationAsset string
	RatioNumerator   amount
	RatioDenominator amount
	TotalExchanged   amount
	SourceHeld       amount
	DestinationHeld  amount
	At               time.Time
}

func (journalRecord) TableName() string { return "settlement_journal" }

// NewStorage opens (or creates) the SQLite database at path. An empty path
// resolves to the per-user data directory.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		resolved, err := getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		path = resolved
	}

	// Ensure directory exists
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// A single connection serializes writers; the engine already serializes
	// commits, and ":memory:" databases are per-connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		return nil, err
	}

	return &Storage{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&settlementRecord{}, &poolRecord{}, &journalRecord{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "TokenSwap", "data", "swap.db"), nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Snapshot Operations
// ======================================================================================

// LoadSnapshot returns the committed snapshot, or nil if the deployment has
// never been initialized.
func (s *Storage) LoadSnapshot(ctx context.Context, deploymentID string) (*domain.Snapshot, error) {
	db := s.db.WithContext(ctx)

	var rec settlementRecord
	err := db.First(&rec, "deployment_id = ?", deploymentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}

	var pools []poolRecord
	if err := db.Find(&pools, "deployment_id = ?", deploymentID).Error; err != nil {
		return nil, err
	}

	snap := &domain.Snapshot{State: rec.toDomain()}
	for _, p := range pools {
		kind, err := domain.ParsePoolKind(p.Kind)
		if err != nil {
			return nil, fmt.Errorf("pool record %q: %w", p.Kind, err)
		}
		target, _ := snap.Pool(kind)
		*target = domain.CustodyPool{
			Kind:    kind,
			Asset:   domain.AssetID(p.Asset),
			Held:    uint64(p.Held),
			LastSeq: p.LastSeq,
		}
	}
	if snap.Source.Kind == 0 || snap.Destination.Kind == 0 {
		return nil, fmt.Errorf("deployment %q: missing custody pool records", deploymentID)
	}
	return snap, nil
}

// Commit writes the snapshot and appends the journal entry in one transaction.
func (s *Storage) Commit(ctx context.Context, snap domain.Snapshot, entry domain.JournalEntry) error {
	state := newSettlementRecord(snap.State)
	pools := []poolRecord{
		newPoolRecord(snap.State.DeploymentID, snap.Source, snap.State.UpdatedAt),
		newPoolRecord(snap.State.DeploymentID, snap.Destination, snap.State.UpdatedAt),
	}
	journal := newJournalRecord(entry)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&state).Error; err != nil {
			return fmt.Errorf("save settlement: %w", err)
		}
		for i := range pools {
			if err := tx.Save(&pools[i]).Error; err != nil {
				return fmt.Errorf("save pool %s: %w", pools[i].Kind, err)
			}
		}
		if err := tx.Create(&journal).Error; err != nil {
			return fmt.Errorf("append journal: %w", err)
		}
		return nil
	})
}

// ======================================================================================
// Journal Operations
// ======================================================================================

// Journal returns up to limit entries with Seq > afterSeq, in sequence order.
func (s *Storage) Journal(ctx context.Context, deploymentID string, afterSeq uint64, limit int) ([]domain.JournalEntry, error) {
	var recs []journalRecord
	q := s.db.WithContext(ctx).
		Where("deployment_id = ? AND seq > ?", deploymentID, afterSeq).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}

	entries := make([]domain.JournalEntry, 0, len(recs))
	for _, r := range recs {
		entry, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ======================================================================================
// Record mapping
// ======================================================================================

func newSettlementRecord(st domain.SettlementState) settlementRecord {
	return settlementRecord{
		DeploymentID:     st.DeploymentID,
		Authority:        st.Authority.String(),
		SourceAsset:      st.SourceAsset.String(),
		DestinationAsset: st.DestinationAsset.String(),
		RatioNumerator:   amount(st.Ratio.Numerator),
		RatioDenominator: amount(st.Ratio.Denominator),
		TotalExchanged:   amount(st.TotalExchanged),
		Sequence:         st.Sequence,
		InitializedAt:    st.InitializedAt,
		UpdatedAt:        st.UpdatedAt,
	}
}

func (r settlementRecord) toDomain() domain.SettlementState {
	return domain.SettlementState{
		DeploymentID:     r.DeploymentID,
		Authority:        domain.Identity(r.Authority),
		SourceAsset:      domain.AssetID(r.SourceAsset),
		DestinationAsset: domain.AssetID(r.DestinationAsset),
		Ratio:            domain.Ratio{Numerator: uint64(r.RatioNumerator), Denominator: uint64(r.RatioDenominator)},
		TotalExchanged:   uint64(r.TotalExchanged),
		Sequence:         r.Sequence,
		InitializedAt:    r.InitializedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func newPoolRecord(deploymentID string, p domain.CustodyPool, at time.Time) poolRecord {
	return poolRecord{
		DeploymentID: deploymentID,
		Kind:         p.Kind.String(),
		Asset:        p.Asset.String(),
		Held:         amount(p.Held),
		LastSeq:      p.LastSeq,
		UpdatedAt:    at,
	}
}

func newJournalRecord(e domain.JournalEntry) journalRecord {
	rec := journalRecord{
		ID:               e.ID,
		DeploymentID:     e.DeploymentID,
		Seq:              e.Seq,
		Kind:             string(e.Kind),
		Actor:            e.Actor.String(),
		AmountIn:         amount(e.AmountIn),
		AmountOut:        amount(e.AmountOut),
		SourceAsset:      e.SourceAsset.String(),
		DestinationAsset: e.DestinationAsset.String(),
		RatioNumerator:   amount(e.Ratio.Numerator),
		RatioDenominator: amount(e.Ratio.Denominator),
		TotalExchanged:   amount(e.TotalExchanged),
		SourceHeld:       amount(e.SourceHeld),
		DestinationHeld:  amount(e.DestinationHeld),
		At:               e.At,
	}
	if e.Pool != 0 {
		rec.Pool = e.Pool.String()
	}
	return rec
}

func (r journalRecord) toDomain() (domain.JournalEntry, error) {
	entry := domain.JournalEntry{
		ID:               r.ID,
		DeploymentID:     r.DeploymentID,
		Seq:              r.Seq,
		Kind:             domain.EntryKind(r.Kind),
		Actor:            domain.Identity(r.Actor),
		AmountIn:         uint64(r.AmountIn),
		AmountOut:        uint64(r.AmountOut),
		SourceAsset:      domain.AssetID(r.SourceAsset),
		DestinationAsset: domain.AssetID(r.DestinationAsset),
		Ratio:            domain.Ratio{Numerator: uint64(r.RatioNumerator), Denominator: uint64(r.RatioDenominator)},
		TotalExchanged:   uint64(r.TotalExchanged),
		SourceHeld:       uint64(r.SourceHeld),
		DestinationHeld:  uint64(r.DestinationHeld),
		At:               r.At,
	}
	if r.Pool != "" {
		kind, err := domain.ParsePoolKind(r.Pool)
		if err != nil {
			return domain.JournalEntry{}, fmt.Errorf("journal seq %d: %w", r.Seq, err)
		}
		entry.Pool = kind
	}
	return entry, nil
}
