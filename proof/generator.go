package proof

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"trendoracle/logger"
	"trendoracle/models"
)

const publicKeyPlaceholder = "ed25519-placeholder"

// Generator turns consensus results into verifiable proofs and checks
// stored proofs against the responses that produced them.
type Generator struct {
	networkType string
	log         *logger.Log
}

func NewGenerator(networkType string) *Generator {
	return &Generator{
		networkType: networkType,
		log:         logger.GetLogger(),
	}
}

type sourceEntry struct {
	ValidatorID string `json:"validator_id"`
	Timestamp   int64  `json:"timestamp"`
	Nonce       string `json:"nonce"`
}

// sourceHash tags the proof payload with per-round entropy. The nonce
// makes the payload non-reconstructible from response data alone, so
// the tag is stored verbatim and never rechecked during verification.
func sourceHash(responses []models.ValidatorResponse) (string, error) {
	entries := make([]sourceEntry, 0, len(responses))
	for _, r := range responses {
		nonce := make([]byte, 16)
		if _, err := rand.Read(nonce); err != nil {
			return "", fmt.Errorf("read nonce: %w", err)
		}
		entries = append(entries, sourceEntry{
			ValidatorID: r.ValidatorID,
			Timestamp:   r.Data.Timestamp,
			Nonce:       hex.EncodeToString(nonce),
		})
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal source entries: %w", err)
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:]), nil
}

// Generate builds an OracleProof from a consensus result. The proof
// hash commits to the full payload, the Merkle root commits to the
// agreeing responses in result order, and every response contributes a
// signature entry.
func (g *Generator) Generate(result models.ConsensusResult) (*models.OracleProof, error) {
	validators := make([]string, 0, len(result.ValidatorResponses))
	for _, r := range result.ValidatorResponses {
		validators = append(validators, r.ValidatorID)
	}

	src, err := sourceHash(result.ValidatorResponses)
	if err != nil {
		return nil, err
	}

	payload := models.ProofPayload{
		TrendID:           result.TrendID,
		Score:             result.Score,
		Confidence:        result.Confidence,
		Timestamp:         result.Timestamp,
		Validators:        validators,
		ConsensusStrength: result.ConsensusStrength,
		SourceHash:        src,
		DataType:          "virality",
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal proof payload: %w", err)
	}
	hash := sha256.Sum256(canonical)

	signatures := make(models.SignatureList, 0, len(result.ValidatorResponses))
	for _, r := range result.ValidatorResponses {
		sig, err := ResponseSignature(r.Data, r.ValidatorID)
		if err != nil {
			return nil, err
		}
		signatures = append(signatures, models.ValidatorSignature{
			ValidatorID: r.ValidatorID,
			Signature:   sig,
			Timestamp:   r.Data.Timestamp,
			PublicKey:   publicKeyPlaceholder,
		})
	}

	p := &models.OracleProof{
		ID:                  uuid.New().String(),
		TrendID:             result.TrendID,
		ViralityScore:       result.Score,
		Confidence:          result.Confidence,
		ProofHash:           hex.EncodeToString(hash[:]),
		MerkleRoot:          MerkleRoot(result.ValidatorResponses),
		ConsensusLevel:      result.Agreement,
		ConsensusStrength:   result.ConsensusStrength,
		ValidatorSignatures: signatures,
		PayloadJSON:         string(canonical),
		NetworkType:         g.networkType,
	}

	g.log.WithComponent("proof_generator").WithFields(logger.Fields{
		"trend_id":    p.TrendID,
		"proof_hash":  p.ProofHash,
		"merkle_root": p.MerkleRoot,
		"validators":  len(validators),
	}).Debug("proof generated")

	return p, nil
}

// PayloadHashMatches recomputes the hash over the stored payload bytes
// and compares it with the committed proof hash.
func PayloadHashMatches(p *models.OracleProof) bool {
	hash := sha256.Sum256([]byte(p.PayloadJSON))
	return hex.EncodeToString(hash[:]) == p.ProofHash
}

// Verify checks a proof against the original responses: the payload
// hash, the Merkle root over the responses in their original order, and
// every signature entry. Any mismatch fails the whole proof; there is
// no partial credit.
func (g *Generator) Verify(p *models.OracleProof, original []models.ValidatorResponse) bool {
	if !PayloadHashMatches(p) {
		return false
	}

	if MerkleRoot(original) != p.MerkleRoot {
		return false
	}

	byID := make(map[string]models.ValidatorResponse, len(original))
	for _, r := range original {
		byID[r.ValidatorID] = r
	}
	for _, sig := range p.ValidatorSignatures {
		resp, ok := byID[sig.ValidatorID]
		if !ok {
			return false
		}
		expected, err := ResponseSignature(resp.Data, sig.ValidatorID)
		if err != nil || expected != sig.Signature {
			return false
		}
	}

	return true
}
