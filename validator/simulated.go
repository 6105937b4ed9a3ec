package validator

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand"
	"sync"
	"time"

	"trendoracle/logger"
	"trendoracle/models"
	"trendoracle/proof"
)

// Simulated is an in-process validator used for local deployments and
// tests. Scores are synthesized deterministically from the trend and
// validator identity using the engagement/velocity/sentiment formula
// (E + V + S) * Q * R, with bounded jitter from a seedable PRNG so test
// runs are reproducible.
type Simulated struct {
	id    string
	delay time.Duration
	mu    sync.Mutex
	rng   *rand.Rand
	log   *logger.Log
}

// NewSimulated creates a simulated validator. A zero delay defaults to
// 20ms; the seed fixes the jitter sequence.
func NewSimulated(id string, seed int64, delay time.Duration) *Simulated {
	if delay <= 0 {
		delay = 20 * time.Millisecond
	}
	return &Simulated{
		id:    id,
		delay: delay,
		rng:   rand.New(rand.NewSource(seed)),
		log:   logger.GetLogger(),
	}
}

func (s *Simulated) ValidatorID() string {
	return s.id
}

// unitComponents derives stable pseudo-metrics in [0,1] from the trend
// and validator identity.
func (s *Simulated) unitComponents(trendID string) [6]float64 {
	h := sha256.Sum256([]byte(trendID + "|" + s.id))
	var out [6]float64
	for i := 0; i < 6; i++ {
		v := binary.BigEndian.Uint32(h[i*4 : i*4+4])
		out[i] = float64(v) / float64(math.MaxUint32)
	}
	return out
}

// synthesize builds the virality estimate: engagement, velocity and
// sentiment components on a 0-100 scale, scaled by quality and regional
// multipliers, capped at 100 and normalized to [0,1].
func (s *Simulated) synthesize(trendID string) (score, confidence float64) {
	u := s.unitComponents(trendID)

	engagement := 20 + 40*u[0]
	velocity := 10 + 30*u[1]
	sentiment := 10 + 30*u[2]
	quality := 0.6 + 0.6*u[3]
	regional := 1.0 + 0.3*u[4]

	raw := (engagement + velocity + sentiment) * quality * regional
	score = math.Min(raw, 100) / 100
	confidence = 0.85 + 0.1*u[5]

	s.mu.Lock()
	jitter := (s.rng.Float64() - 0.5) * 0.01
	confJitter := (s.rng.Float64() - 0.5) * 0.02
	s.mu.Unlock()

	score = math.Max(0, math.Min(1, score+jitter))
	confidence = math.Max(0, math.Min(0.99, confidence+confJitter))
	return score, confidence
}

func (s *Simulated) Assess(ctx context.Context, req models.OracleRequest, timeout time.Duration) (models.ValidatorResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return models.ValidatorResponse{}, &TimeoutError{ValidatorID: s.id, Timeout: timeout}
		}
		return models.ValidatorResponse{}, ctx.Err()
	}

	score, confidence := s.synthesize(req.TrendID)
	elapsed := float64(time.Since(start).Nanoseconds()) / 1e6

	data := models.ValidatorData{
		ViralityScore:  score,
		Confidence:     confidence,
		Timestamp:      time.Now().UnixMilli(),
		ProcessingTime: elapsed,
		Metadata: map[string]string{
			"client":  "simulated",
			"formula": "(E + V + S) * Q * R",
		},
	}

	sig, err := proof.ResponseSignature(data, s.id)
	if err != nil {
		return models.ValidatorResponse{}, err
	}

	return models.ValidatorResponse{
		ValidatorID:    s.id,
		Data:           data,
		Signature:      sig,
		ProcessingTime: elapsed,
	}, nil
}

func (s *Simulated) Healthy(ctx context.Context) models.ValidatorHealth {
	return models.ValidatorHealth{
		ValidatorID: s.id,
		Healthy:     true,
		LatencyMs:   float64(s.delay.Nanoseconds()) / 1e6,
	}
}
