package validator

import (
	"context"
	"fmt"
	"time"

	"trendoracle/models"
)

// Client is the capability the oracle needs from a single validator
// node: answer one assessment request within a deadline. Implementations
// must be safe for concurrent use; the coordinator fans requests out to
// all clients at once.
type Client interface {
	ValidatorID() string

	// Assess asks the validator to score the requested trend. The call
	// races against the given timeout; on expiry it returns a
	// *TimeoutError and the call is abandoned. There is no retry at
	// this layer.
	Assess(ctx context.Context, req models.OracleRequest, timeout time.Duration) (models.ValidatorResponse, error)

	// Healthy probes the validator's availability for the status endpoint.
	Healthy(ctx context.Context) models.ValidatorHealth
}

// TimeoutError reports that one validator call exceeded its deadline.
// It is non-fatal to the round; the validator is simply counted as a
// failure for that round.
type TimeoutError struct {
	ValidatorID string
	Timeout     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("validator %s timed out after %s", e.ValidatorID, e.Timeout)
}
