package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"trendoracle/models"
)

func openTestStore(t *testing.T) *ProofStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "proofs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func testProof(trendID, hash string) *models.OracleProof {
	now := time.Now()
	return &models.OracleProof{
		ID:                fmt.Sprintf("id-%s", hash),
		TrendID:           trendID,
		ViralityScore:     0.82,
		Confidence:        0.9,
		ProofHash:         hash,
		MerkleRoot:        "root-" + hash,
		ConsensusLevel:    1.0,
		ConsensusStrength: 0.99,
		ValidatorSignatures: models.SignatureList{
			{ValidatorID: "val-1", Signature: "sig-1", Timestamp: now.UnixMilli()},
		},
		PayloadJSON: `{"trend_id":"` + trendID + `"}`,
		NetworkType: "devnet",
		CreatedAt:   now,
		ExpiresAt:   now.Add(30 * 24 * time.Hour),
	}
}

func TestSaveAndFetchByHash(t *testing.T) {
	s := openTestStore(t)

	p := testProof("trend-1", "hash-1")
	if err := s.Save(p); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.ByHash("hash-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.TrendID != "trend-1" {
		t.Errorf("unexpected trend id %s", got.TrendID)
	}
	if len(got.ValidatorSignatures) != 1 || got.ValidatorSignatures[0].ValidatorID != "val-1" {
		t.Errorf("signatures did not survive the round trip: %+v", got.ValidatorSignatures)
	}
	if got.Verified {
		t.Error("fresh proof must not be marked verified")
	}
}

func TestByHashNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ByHash("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestByTrend(t *testing.T) {
	s := openTestStore(t)

	older := testProof("trend-1", "hash-old")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := testProof("trend-1", "hash-new")

	if err := s.Save(older); err != nil {
		t.Fatalf("save older: %v", err)
	}
	if err := s.Save(newer); err != nil {
		t.Fatalf("save newer: %v", err)
	}

	got, err := s.LatestByTrend("trend-1")
	if err != nil {
		t.Fatalf("fetch latest: %v", err)
	}
	if got.ProofHash != "hash-new" {
		t.Errorf("expected newest proof, got %s", got.ProofHash)
	}

	if _, err := s.LatestByTrend("unknown-trend"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown trend, got %v", err)
	}
}

func TestHistoryOrderAndLimit(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		p := testProof("trend-1", fmt.Sprintf("hash-%d", i))
		p.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.Save(p); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	proofs, err := s.History("trend-1", 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(proofs) != 3 {
		t.Fatalf("expected 3 proofs, got %d", len(proofs))
	}
	if proofs[0].ProofHash != "hash-4" {
		t.Errorf("expected newest first, got %s", proofs[0].ProofHash)
	}
	for i := 1; i < len(proofs); i++ {
		if proofs[i-1].CreatedAt.Before(proofs[i].CreatedAt) {
			t.Error("history is not sorted newest first")
		}
	}
}

func TestIncrementVerificationConcurrent(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save(testProof("trend-1", "hash-1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IncrementVerification("hash-1"); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.ByHash("hash-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.VerificationCount != workers {
		t.Errorf("expected %d verifications, got %d", workers, got.VerificationCount)
	}
	if !got.Verified {
		t.Error("proof must be marked verified after increments")
	}
}

func TestIncrementVerificationMissing(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.IncrementVerification("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)

	recent := testProof("trend-1", "hash-recent")
	old := testProof("trend-2", "hash-old")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)

	if err := s.Save(recent); err != nil {
		t.Fatalf("save recent: %v", err)
	}
	if err := s.Save(old); err != nil {
		t.Fatalf("save old: %v", err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalProofs != 2 {
		t.Errorf("expected 2 proofs total, got %d", stats.TotalProofs)
	}
	if stats.ProofsLast24h != 1 {
		t.Errorf("expected 1 recent proof, got %d", stats.ProofsLast24h)
	}
	if stats.AvgConsensusStrength < 0.98 || stats.AvgConsensusStrength > 1 {
		t.Errorf("unexpected average consensus strength %v", stats.AvgConsensusStrength)
	}
}
