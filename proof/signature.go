package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"trendoracle/models"
)

// ResponseSignature computes the authenticity tag a validator attaches
// to its data: hex(SHA256(json(data) || validatorID)). This is a keyed
// one-way hash standing in for a real asymmetric signature; it binds
// the data to the validator's identity but offers no protection against
// a party that can impersonate the validator.
func ResponseSignature(data models.ValidatorData, validatorID string) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal validator data: %w", err)
	}
	h := sha256.Sum256(append(b, []byte(validatorID)...))
	return hex.EncodeToString(h[:]), nil
}
