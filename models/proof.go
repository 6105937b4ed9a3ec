package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SignatureList stores validator signatures as a JSON blob column.
type SignatureList []ValidatorSignature

func (s SignatureList) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal signature list: %w", err)
	}
	return string(b), nil
}

func (s *SignatureList) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	case nil:
		*s = nil
		return nil
	default:
		return fmt.Errorf("unsupported signature list column type %T", src)
	}
}

// OracleProof is the persisted record binding a consensus value to the
// inputs that produced it. PayloadJSON holds the canonical JSON bytes
// the proof hash was computed over; it is stored verbatim so the hash
// stays reproducible even if the struct encoding ever changes.
type OracleProof struct {
	ID                  string        `json:"id" gorm:"primaryKey"`
	TrendID             string        `json:"trend_id" gorm:"index"`
	ViralityScore       float64       `json:"virality_score"`
	Confidence          float64       `json:"confidence"`
	ProofHash           string        `json:"proof_hash" gorm:"uniqueIndex"`
	MerkleRoot          string        `json:"merkle_root"`
	ConsensusLevel      float64       `json:"consensus_level"`
	ConsensusStrength   float64       `json:"consensus_strength"`
	ValidatorSignatures SignatureList `json:"validator_signatures" gorm:"type:text"`
	PayloadJSON         string        `json:"payload" gorm:"type:text"`
	NetworkType         string        `json:"network_type"`
	Verified            bool          `json:"verified"`
	VerificationCount   int64         `json:"verification_count"`
	CreatedAt           time.Time     `json:"created_at"`
	ExpiresAt           time.Time     `json:"expires_at"`
}

// Payload decodes the stored canonical payload.
func (p *OracleProof) Payload() (ProofPayload, error) {
	var payload ProofPayload
	if err := json.Unmarshal([]byte(p.PayloadJSON), &payload); err != nil {
		return ProofPayload{}, fmt.Errorf("decode proof payload: %w", err)
	}
	return payload, nil
}
