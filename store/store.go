package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"trendoracle/logger"
	"trendoracle/models"
)

// ErrNotFound is returned when no proof matches the query.
var ErrNotFound = errors.New("proof not found")

// Stats summarizes the proof table for the status endpoint.
type Stats struct {
	TotalProofs          int64
	ProofsLast24h        int64
	AvgConsensusStrength float64
}

// ProofStore persists issued proofs. Writes are insert-only per round;
// the only read-modify-write is the verification counter, which uses a
// single UPDATE so concurrent verifications never lose increments.
type ProofStore struct {
	db  *gorm.DB
	log *logger.Log
}

// Open connects to the SQLite database at path and migrates the proof
// schema.
func Open(path string) (*ProofStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open proof database: %w", err)
	}
	// SQLite permits one writer at a time; a single pooled connection
	// avoids busy errors under concurrent verification traffic.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access underlying database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.OracleProof{}); err != nil {
		return nil, fmt.Errorf("migrate proof schema: %w", err)
	}

	log := logger.GetLogger()
	log.WithComponent("proof_store").WithFields(logger.Fields{"path": path}).Info("proof store opened")

	return &ProofStore{db: db, log: log}, nil
}

// Save inserts a freshly generated proof.
func (s *ProofStore) Save(p *models.OracleProof) error {
	if err := s.db.Create(p).Error; err != nil {
		return fmt.Errorf("save proof %s: %w", p.ProofHash, err)
	}
	return nil
}

// ByHash fetches one proof by its unique hash.
func (s *ProofStore) ByHash(hash string) (*models.OracleProof, error) {
	var p models.OracleProof
	err := s.db.Where("proof_hash = ?", hash).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch proof %s: %w", hash, err)
	}
	return &p, nil
}

// LatestByTrend returns the most recently created proof for a trend.
func (s *ProofStore) LatestByTrend(trendID string) (*models.OracleProof, error) {
	var p models.OracleProof
	err := s.db.Where("trend_id = ?", trendID).Order("created_at DESC").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch latest proof for %s: %w", trendID, err)
	}
	return &p, nil
}

// History returns recent proofs for a trend, newest first.
func (s *ProofStore) History(trendID string, limit int) ([]models.OracleProof, error) {
	if limit <= 0 {
		limit = 10
	}
	var proofs []models.OracleProof
	err := s.db.Where("trend_id = ?", trendID).Order("created_at DESC").Limit(limit).Find(&proofs).Error
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", trendID, err)
	}
	return proofs, nil
}

// IncrementVerification bumps the verification counter and marks the
// proof verified in one UPDATE, then returns the fresh row. The counter
// update happens in the database, not as a read-then-write pair.
func (s *ProofStore) IncrementVerification(hash string) (*models.OracleProof, error) {
	res := s.db.Model(&models.OracleProof{}).
		Where("proof_hash = ?", hash).
		Updates(map[string]interface{}{
			"verification_count": gorm.Expr("verification_count + 1"),
			"verified":           true,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("increment verification for %s: %w", hash, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.ByHash(hash)
}

// Stats aggregates table-level counters.
func (s *ProofStore) Stats() (Stats, error) {
	var stats Stats

	if err := s.db.Model(&models.OracleProof{}).Count(&stats.TotalProofs).Error; err != nil {
		return Stats{}, fmt.Errorf("count proofs: %w", err)
	}

	since := time.Now().Add(-24 * time.Hour)
	if err := s.db.Model(&models.OracleProof{}).
		Where("created_at >= ?", since).
		Count(&stats.ProofsLast24h).Error; err != nil {
		return Stats{}, fmt.Errorf("count recent proofs: %w", err)
	}

	var avg *float64
	if err := s.db.Model(&models.OracleProof{}).
		Select("AVG(consensus_strength)").
		Scan(&avg).Error; err != nil {
		return Stats{}, fmt.Errorf("average consensus strength: %w", err)
	}
	if avg != nil {
		stats.AvgConsensusStrength = *avg
	}

	return stats, nil
}
