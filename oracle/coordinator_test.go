package oracle

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	appconfig "trendoracle/config"
	"trendoracle/consensus"
	"trendoracle/internal/channel"
	"trendoracle/models"
	"trendoracle/proof"
	"trendoracle/store"
	"trendoracle/validator"
)

// stubValidator returns a fixed score so tests control the consensus
// outcome exactly.
type stubValidator struct {
	id    string
	score float64
	conf  float64
}

func (s *stubValidator) ValidatorID() string { return s.id }

func (s *stubValidator) Assess(ctx context.Context, req models.OracleRequest, timeout time.Duration) (models.ValidatorResponse, error) {
	data := models.ValidatorData{
		ViralityScore: s.score,
		Confidence:    s.conf,
		Timestamp:     time.Now().UnixMilli(),
	}
	sig, err := proof.ResponseSignature(data, s.id)
	if err != nil {
		return models.ValidatorResponse{}, err
	}
	return models.ValidatorResponse{ValidatorID: s.id, Data: data, Signature: sig}, nil
}

func (s *stubValidator) Healthy(ctx context.Context) models.ValidatorHealth {
	return models.ValidatorHealth{ValidatorID: s.id, Healthy: true}
}

func agreeingRegistry() *validator.Registry {
	return validator.NewRegistryFromClients(
		&stubValidator{id: "val-1", score: 0.82, conf: 0.90},
		&stubValidator{id: "val-2", score: 0.83, conf: 0.88},
		&stubValidator{id: "val-3", score: 0.81, conf: 0.92},
	)
}

func testCoordinator(t *testing.T, registry *validator.Registry, cfg appconfig.OracleConfig) (*Coordinator, *store.ProofStore, *channel.Archive) {
	t.Helper()

	proofs, err := store.Open(filepath.Join(t.TempDir(), "proofs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	archive := channel.NewArchive(8)

	c := NewCoordinator(
		registry,
		consensus.NewAggregator(registry, cfg),
		proof.NewGenerator("devnet"),
		proofs,
		archive,
		cfg,
	)
	return c, proofs, archive
}

func quorumConfig() appconfig.OracleConfig {
	return appconfig.OracleConfig{
		MinResponses:      2,
		MaxVariance:       0.02,
		RequiredAgreement: 0.67,
		ValidatorTimeout:  time.Second,
		RoundTimeout:      5 * time.Second,
		ProofTTL:          30 * 24 * time.Hour,
	}
}

func TestProcessOracleRequestFullRound(t *testing.T) {
	c, proofs, archive := testCoordinator(t, agreeingRegistry(), quorumConfig())

	resp, err := c.ProcessOracleRequest(context.Background(), models.OracleRequest{TrendID: "trend-1"})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	if resp.TrendID != "trend-1" {
		t.Errorf("unexpected trend id %s", resp.TrendID)
	}
	if resp.ViralityScore != 0.8199 {
		t.Errorf("expected weighted score 0.8199, got %v", resp.ViralityScore)
	}
	if resp.ProofHash == "" || resp.MerkleRoot == "" {
		t.Error("response must carry proof hash and merkle root")
	}
	if resp.NetworkType != "devnet" {
		t.Errorf("unexpected network type %s", resp.NetworkType)
	}
	if len(resp.ValidatorSignatures) != 3 {
		t.Errorf("expected 3 signatures, got %d", len(resp.ValidatorSignatures))
	}

	stored, err := proofs.ByHash(resp.ProofHash)
	if err != nil {
		t.Fatalf("proof not persisted: %v", err)
	}
	if stored.ExpiresAt.Before(stored.CreatedAt.Add(29 * 24 * time.Hour)) {
		t.Error("proof TTL not applied")
	}

	select {
	case archived := <-archive.Proofs:
		if archived.ProofHash != resp.ProofHash {
			t.Errorf("archived wrong proof: %s", archived.ProofHash)
		}
	default:
		t.Error("proof was not handed to the archive channel")
	}
}

func TestProcessOracleRequestWithoutQuorum(t *testing.T) {
	// One fast validator and two that miss the timeout: below the
	// minimum, the round fails and nothing is persisted.
	registry := validator.NewRegistryFromClients(
		validator.NewSimulated("val-1", 1, time.Millisecond),
		validator.NewSimulated("val-2", 2, time.Second),
		validator.NewSimulated("val-3", 3, time.Second),
	)
	cfg := quorumConfig()
	cfg.ValidatorTimeout = 100 * time.Millisecond
	cfg.RoundTimeout = time.Second
	c, proofs, _ := testCoordinator(t, registry, cfg)

	_, err := c.ProcessOracleRequest(context.Background(), models.OracleRequest{TrendID: "trend-1"})

	var respErr *consensus.InsufficientResponsesError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected InsufficientResponsesError, got %v", err)
	}

	stats, err := proofs.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalProofs != 0 {
		t.Errorf("failed round must not persist proofs, found %d", stats.TotalProofs)
	}
}

func TestProcessOracleRequestWithoutConsensus(t *testing.T) {
	registry := validator.NewRegistryFromClients(
		&stubValidator{id: "val-1", score: 0.60, conf: 0.90},
		&stubValidator{id: "val-2", score: 0.95, conf: 0.90},
		&stubValidator{id: "val-3", score: 0.61, conf: 0.90},
	)
	c, proofs, _ := testCoordinator(t, registry, quorumConfig())

	_, err := c.ProcessOracleRequest(context.Background(), models.OracleRequest{TrendID: "trend-1"})

	var consensusErr *consensus.InsufficientConsensusError
	if !errors.As(err, &consensusErr) {
		t.Fatalf("expected InsufficientConsensusError, got %v", err)
	}

	stats, err := proofs.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalProofs != 0 {
		t.Errorf("rejected round must not persist proofs, found %d", stats.TotalProofs)
	}
}

func TestProcessOracleRequestRejectsEmptyTrend(t *testing.T) {
	c, _, _ := testCoordinator(t, agreeingRegistry(), quorumConfig())

	if _, err := c.ProcessOracleRequest(context.Background(), models.OracleRequest{}); err == nil {
		t.Fatal("expected error for missing trend id")
	}
}

func TestVerifyProofLifecycle(t *testing.T) {
	c, _, _ := testCoordinator(t, agreeingRegistry(), quorumConfig())

	resp, err := c.ProcessOracleRequest(context.Background(), models.OracleRequest{TrendID: "trend-1"})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	first := c.VerifyProof(context.Background(), resp.ProofHash)
	if !first.Verified {
		t.Fatalf("fresh proof failed verification: %s", first.Error)
	}
	if first.VerificationCount != 1 {
		t.Errorf("expected verification count 1, got %d", first.VerificationCount)
	}

	second := c.VerifyProof(context.Background(), resp.ProofHash)
	if !second.Verified {
		t.Fatalf("second verification failed: %s", second.Error)
	}
	if second.VerificationCount != 2 {
		t.Errorf("expected verification count 2, got %d", second.VerificationCount)
	}
}

func TestVerifyProofUnknownHash(t *testing.T) {
	c, _, _ := testCoordinator(t, agreeingRegistry(), quorumConfig())

	result := c.VerifyProof(context.Background(), "no-such-hash")
	if result.Verified {
		t.Error("unknown proof must not verify")
	}
	if !result.NotFound {
		t.Error("unknown proof must be flagged as not found")
	}
	if result.Error == "" {
		t.Error("failure must carry a reason")
	}

	// A proof that exists but fails its audit is not a not-found case.
	resp, err := c.ProcessOracleRequest(context.Background(), models.OracleRequest{TrendID: "trend-1"})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}
	ok := c.VerifyProof(context.Background(), resp.ProofHash)
	if ok.NotFound {
		t.Error("existing proof must not be flagged as not found")
	}
}

func TestAuditDetectsTampering(t *testing.T) {
	c, proofs, _ := testCoordinator(t, agreeingRegistry(), quorumConfig())

	resp, err := c.ProcessOracleRequest(context.Background(), models.OracleRequest{TrendID: "trend-1"})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	stored, err := proofs.ByHash(resp.ProofHash)
	if err != nil {
		t.Fatalf("fetch proof: %v", err)
	}
	if reason := c.auditProof(stored); reason != "" {
		t.Fatalf("stored proof should be internally consistent: %s", reason)
	}

	// Corrupt the indexed score so it no longer matches the committed
	// payload.
	tampered := *stored
	tampered.ViralityScore = 0.1234
	if reason := c.auditProof(&tampered); reason == "" {
		t.Error("tampered record must fail the audit")
	}
}

func TestLatestAndHistory(t *testing.T) {
	c, _, _ := testCoordinator(t, agreeingRegistry(), quorumConfig())

	for i := 0; i < 3; i++ {
		if _, err := c.ProcessOracleRequest(context.Background(), models.OracleRequest{TrendID: "trend-1"}); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
	}

	latest, err := c.GetLatestOracleData("trend-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.TrendID != "trend-1" {
		t.Errorf("unexpected trend id %s", latest.TrendID)
	}

	history, err := c.GetOracleHistory("trend-1", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("expected 2 proofs in history, got %d", len(history))
	}

	if _, err := c.GetLatestOracleData("unknown"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown trend, got %v", err)
	}
}

func TestGetOracleStatus(t *testing.T) {
	c, _, _ := testCoordinator(t, agreeingRegistry(), quorumConfig())

	if _, err := c.ProcessOracleRequest(context.Background(), models.OracleRequest{TrendID: "trend-1"}); err != nil {
		t.Fatalf("process request: %v", err)
	}

	status, err := c.GetOracleStatus(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.TotalProofs != 1 {
		t.Errorf("expected 1 proof, got %d", status.TotalProofs)
	}
	if len(status.Validators) != 3 {
		t.Errorf("expected 3 validator health entries, got %d", len(status.Validators))
	}
}
