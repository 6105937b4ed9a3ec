package oracle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	appconfig "trendoracle/config"
	"trendoracle/consensus"
	"trendoracle/internal/channel"
	"trendoracle/logger"
	"trendoracle/models"
	"trendoracle/proof"
	"trendoracle/store"
	"trendoracle/validator"
)

// Coordinator orchestrates one consensus round end to end: distribute
// the request, aggregate the answers, generate a proof, persist it and
// answer the caller. It also serves the query surface over stored
// proofs.
type Coordinator struct {
	registry   *validator.Registry
	aggregator *consensus.Aggregator
	generator  *proof.Generator
	proofs     *store.ProofStore
	archive    *channel.Archive // nil when the archive is disabled
	proofTTL   time.Duration
	log        *logger.Log
}

func NewCoordinator(
	registry *validator.Registry,
	aggregator *consensus.Aggregator,
	generator *proof.Generator,
	proofs *store.ProofStore,
	archive *channel.Archive,
	cfg appconfig.OracleConfig,
) *Coordinator {
	ttl := cfg.ProofTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Coordinator{
		registry:   registry,
		aggregator: aggregator,
		generator:  generator,
		proofs:     proofs,
		archive:    archive,
		proofTTL:   ttl,
		log:        logger.GetLogger(),
	}
}

// ProcessOracleRequest runs one full round. Fatal aggregation errors
// abort the pipeline before any proof is generated or persisted, so no
// partial proofs ever reach the store.
func (c *Coordinator) ProcessOracleRequest(ctx context.Context, req models.OracleRequest) (*models.OracleResponse, error) {
	log := c.log.WithComponent("coordinator").WithFields(logger.Fields{
		"trend_id":  req.TrendID,
		"operation": "process_request",
	})

	if req.TrendID == "" {
		return nil, fmt.Errorf("trend id is required")
	}

	start := time.Now()

	responses, err := c.aggregator.Distribute(ctx, req)
	if err != nil {
		logger.IncrementRoundFailed()
		return nil, err
	}

	result, err := c.aggregator.Aggregate(req, responses)
	if err != nil {
		logger.IncrementRoundFailed()
		return nil, err
	}

	p, err := c.generator.Generate(result)
	if err != nil {
		logger.IncrementRoundFailed()
		return nil, fmt.Errorf("generate proof: %w", err)
	}

	now := time.Now()
	p.CreatedAt = now
	p.ExpiresAt = now.Add(c.proofTTL)

	if err := c.proofs.Save(p); err != nil {
		logger.IncrementRoundFailed()
		return nil, err
	}

	logger.IncrementRoundProcessed()
	logger.IncrementProofIssued(len(p.PayloadJSON))

	if c.archive != nil && !c.archive.Send(ctx, *p) {
		log.Warn("archive channel is full, proof not archived")
	}

	logger.LogPerformanceEntry(log, "coordinator", "process_request", time.Since(start), logger.Fields{
		"proof_hash": p.ProofHash,
	})

	return &models.OracleResponse{
		TrendID:             p.TrendID,
		ViralityScore:       p.ViralityScore,
		Confidence:          p.Confidence,
		Timestamp:           result.Timestamp,
		ProofHash:           p.ProofHash,
		MerkleRoot:          p.MerkleRoot,
		ValidatorSignatures: p.ValidatorSignatures,
		ConsensusLevel:      p.ConsensusLevel,
		NetworkType:         p.NetworkType,
		ConsensusStrength:   p.ConsensusStrength,
	}, nil
}

// GetLatestOracleData returns the most recent proof for a trend, or
// store.ErrNotFound when the trend has never been scored.
func (c *Coordinator) GetLatestOracleData(trendID string) (*models.OracleProof, error) {
	return c.proofs.LatestByTrend(trendID)
}

// GetOracleHistory returns recent proofs for a trend, newest first.
func (c *Coordinator) GetOracleHistory(trendID string, limit int) ([]models.OracleProof, error) {
	return c.proofs.History(trendID, limit)
}

// VerifyProof audits a stored proof: the payload hash must match, the
// payload must agree with the indexed columns, and every committed
// validator must have a well-formed signature entry. A failed check is
// reported as data, never as an error; on success the verification
// counter is bumped atomically in the store.
func (c *Coordinator) VerifyProof(ctx context.Context, proofHash string) models.VerifyResult {
	logger.IncrementVerification()

	p, err := c.proofs.ByHash(proofHash)
	if errors.Is(err, store.ErrNotFound) {
		return models.VerifyResult{Verified: false, NotFound: true, Error: "proof not found"}
	}
	if err != nil {
		return models.VerifyResult{Verified: false, Error: err.Error()}
	}

	if reason := c.auditProof(p); reason != "" {
		c.log.WithComponent("coordinator").WithFields(logger.Fields{
			"proof_hash": proofHash,
			"reason":     reason,
		}).Warn("proof failed verification")
		return models.VerifyResult{Verified: false, Error: reason}
	}

	updated, err := c.proofs.IncrementVerification(proofHash)
	if err != nil {
		return models.VerifyResult{Verified: false, Error: err.Error()}
	}

	return models.VerifyResult{
		Verified:          true,
		TrendID:           updated.TrendID,
		ViralityScore:     updated.ViralityScore,
		Confidence:        updated.Confidence,
		ConsensusLevel:    updated.ConsensusLevel,
		VerificationCount: updated.VerificationCount,
		VerifiedAt:        time.Now().UnixMilli(),
	}
}

// auditProof returns an empty string when the stored proof is
// internally consistent, or the first failed check otherwise. The
// Merkle root and signature recomputation against original responses
// live in proof.Generator.Verify; this audit covers everything
// reconstructible from the stored record alone.
func (c *Coordinator) auditProof(p *models.OracleProof) string {
	if !proof.PayloadHashMatches(p) {
		return "payload hash mismatch"
	}

	payload, err := p.Payload()
	if err != nil {
		return "payload is not decodable"
	}

	if payload.TrendID != p.TrendID {
		return "payload trend id does not match record"
	}
	if payload.Score != p.ViralityScore {
		return "payload score does not match record"
	}
	if payload.ConsensusStrength != p.ConsensusStrength {
		return "payload consensus strength does not match record"
	}

	if len(p.ValidatorSignatures) != len(payload.Validators) {
		return "signature count does not match committed validators"
	}
	byID := make(map[string]models.ValidatorSignature, len(p.ValidatorSignatures))
	for _, sig := range p.ValidatorSignatures {
		byID[sig.ValidatorID] = sig
	}
	for _, id := range payload.Validators {
		sig, ok := byID[id]
		if !ok {
			return fmt.Sprintf("missing signature for validator %s", id)
		}
		if raw, err := hex.DecodeString(sig.Signature); err != nil || len(raw) != 32 {
			return fmt.Sprintf("malformed signature for validator %s", id)
		}
	}

	return ""
}

// GetOracleStatus aggregates store counters and validator health.
func (c *Coordinator) GetOracleStatus(ctx context.Context) (models.OracleStatus, error) {
	stats, err := c.proofs.Stats()
	if err != nil {
		return models.OracleStatus{}, err
	}

	return models.OracleStatus{
		TotalProofs:          stats.TotalProofs,
		ProofsLast24h:        stats.ProofsLast24h,
		AvgConsensusStrength: stats.AvgConsensusStrength,
		Validators:           c.registry.Health(ctx),
	}, nil
}
