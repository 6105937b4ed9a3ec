package models

// OracleRequest identifies a single consensus round for one trend.
// It is immutable once issued.
type OracleRequest struct {
	TrendID   string   `json:"trend_id"`
	Platform  string   `json:"platform,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	Timeframe string   `json:"timeframe,omitempty"`
	DataType  string   `json:"data_type,omitempty"`
}

// ValidatorData is the scoring payload produced by one validator for
// one request. It is signed as a whole, so the field set and order are
// part of the wire contract.
type ValidatorData struct {
	ViralityScore  float64           `json:"virality_score"`
	Confidence     float64           `json:"confidence"`
	Timestamp      int64             `json:"timestamp"` // ms epoch
	ProcessingTime float64           `json:"processing_time"` // ms
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ValidatorResponse is one validator's answer to an OracleRequest.
// Created once by the client call site and never mutated afterwards.
type ValidatorResponse struct {
	ValidatorID    string        `json:"validator_id"`
	Data           ValidatorData `json:"data"`
	Signature      string        `json:"signature"`
	ProcessingTime float64       `json:"processing_time"`
}

// ConsensusResult is the reconciled outcome of one successful round.
// It is never persisted directly, only through the proof built from it.
type ConsensusResult struct {
	TrendID            string              `json:"trend_id"`
	Score              float64             `json:"score"`
	Confidence         float64             `json:"confidence"`
	Timestamp          int64               `json:"timestamp"`
	Agreement          float64             `json:"agreement"`
	ConsensusStrength  float64             `json:"consensus_strength"`
	ValidatorResponses []ValidatorResponse `json:"validator_responses"`
}

// ValidatorSignature is one validator's authenticity tag carried inside
// a proof. PublicKey is a placeholder until real keypair signing lands.
type ValidatorSignature struct {
	ValidatorID string `json:"validator_id"`
	Signature   string `json:"signature"`
	Timestamp   int64  `json:"timestamp"`
	PublicKey   string `json:"public_key"`
}

// ProofPayload is the signed object a proof hash commits to. Field
// order here defines the canonical JSON form; changing it invalidates
// every previously issued proof.
type ProofPayload struct {
	TrendID           string   `json:"trend_id"`
	Score             float64  `json:"score"`
	Confidence        float64  `json:"confidence"`
	Timestamp         int64    `json:"timestamp"`
	Validators        []string `json:"validators"`
	ConsensusStrength float64  `json:"consensus_strength"`
	SourceHash        string   `json:"source_hash"`
	DataType          string   `json:"data_type"`
}

// OracleResponse is returned to callers after a round completes.
type OracleResponse struct {
	TrendID             string               `json:"trend_id"`
	ViralityScore       float64              `json:"virality_score"`
	Confidence          float64              `json:"confidence"`
	Timestamp           int64                `json:"timestamp"`
	ProofHash           string               `json:"proof_hash"`
	MerkleRoot          string               `json:"merkle_root"`
	ValidatorSignatures []ValidatorSignature `json:"validator_signatures"`
	ConsensusLevel      float64              `json:"consensus_level"`
	NetworkType         string               `json:"network_type"`
	ConsensusStrength   float64              `json:"consensus_strength"`
}

// VerifyResult reports the outcome of auditing a stored proof. A proof
// that fails to verify is an expected business outcome, so this is
// data, never an error value.
type VerifyResult struct {
	Verified          bool    `json:"verified"`
	NotFound          bool    `json:"-"`
	TrendID           string  `json:"trend_id,omitempty"`
	ViralityScore     float64 `json:"virality_score,omitempty"`
	Confidence        float64 `json:"confidence,omitempty"`
	ConsensusLevel    float64 `json:"consensus_level,omitempty"`
	VerificationCount int64   `json:"verification_count,omitempty"`
	VerifiedAt        int64   `json:"verified_at,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// ValidatorHealth is one validator's availability as seen by the
// coordinator's status probe.
type ValidatorHealth struct {
	ValidatorID string  `json:"validator_id"`
	Healthy     bool    `json:"healthy"`
	LatencyMs   float64 `json:"latency_ms"`
}

// OracleStatus aggregates service-level counters for the status endpoint.
type OracleStatus struct {
	TotalProofs          int64             `json:"total_proofs"`
	ProofsLast24h        int64             `json:"proofs_last_24h"`
	AvgConsensusStrength float64           `json:"avg_consensus_strength"`
	Validators           []ValidatorHealth `json:"validators"`
}
