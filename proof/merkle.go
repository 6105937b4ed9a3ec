package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"trendoracle/models"
)

// merkleLeaf is the canonical form hashed into each tree leaf. Field
// order defines the encoding; changing it breaks every stored root.
type merkleLeaf struct {
	ValidatorID string  `json:"validator_id"`
	Score       float64 `json:"score"`
	Confidence  float64 `json:"confidence"`
	Timestamp   int64   `json:"timestamp"`
}

// MerkleRoot builds the Merkle root over the given responses in input
// order. Order is significant: callers must present the same order at
// generation and verification time. An odd node count duplicates the
// last node at each level. The empty set hashes to SHA256("empty").
func MerkleRoot(responses []models.ValidatorResponse) string {
	if len(responses) == 0 {
		h := sha256.Sum256([]byte("empty"))
		return hex.EncodeToString(h[:])
	}

	level := make([][]byte, 0, len(responses))
	for _, r := range responses {
		leaf := merkleLeaf{
			ValidatorID: r.ValidatorID,
			Score:       r.Data.ViralityScore,
			Confidence:  r.Data.Confidence,
			Timestamp:   r.Data.Timestamp,
		}
		// Marshal of a fixed struct cannot fail.
		b, _ := json.Marshal(leaf)
		h := sha256.Sum256(b)
		level = append(level, h[:])
	}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			h := sha256.Sum256(append(append([]byte{}, left...), right...))
			next = append(next, h[:])
		}
		level = next
	}

	return hex.EncodeToString(level[0])
}
