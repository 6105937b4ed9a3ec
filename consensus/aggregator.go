package consensus

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	appconfig "trendoracle/config"
	"trendoracle/logger"
	"trendoracle/models"
	"trendoracle/validator"
)

// InsufficientResponsesError aborts a round that did not collect enough
// validator answers to attempt consensus.
type InsufficientResponsesError struct {
	Got    int
	Needed int
}

func (e *InsufficientResponsesError) Error() string {
	return fmt.Sprintf("insufficient validator responses: got %d, need %d", e.Got, e.Needed)
}

// InsufficientConsensusError aborts a round whose surviving agreement
// ratio fell below the required threshold. Raw scores are carried for
// diagnostics.
type InsufficientConsensusError struct {
	AgreementRatio float64
	Scores         []float64
}

func (e *InsufficientConsensusError) Error() string {
	return fmt.Sprintf("insufficient consensus: agreement %.2f, scores %v", e.AgreementRatio, e.Scores)
}

// Aggregator fans a request out to the validator set and statistically
// reconciles the answers into a single consensus value.
type Aggregator struct {
	registry          *validator.Registry
	minResponses      int
	maxVariance       float64
	requiredAgreement float64
	validatorTimeout  time.Duration
	roundTimeout      time.Duration
	log               *logger.Log
}

func NewAggregator(registry *validator.Registry, cfg appconfig.OracleConfig) *Aggregator {
	return &Aggregator{
		registry:          registry,
		minResponses:      cfg.MinResponses,
		maxVariance:       cfg.MaxVariance,
		requiredAgreement: cfg.RequiredAgreement,
		validatorTimeout:  cfg.ValidatorTimeout,
		roundTimeout:      cfg.RoundTimeout,
		log:               logger.GetLogger(),
	}
}

// Distribute issues the request to every registered validator
// concurrently and waits for all calls to settle. Failures and timeouts
// are logged and counted as missing answers for this round only. The
// surviving responses are returned sorted by validator id so Merkle
// leaf order is stable across processes.
func (a *Aggregator) Distribute(ctx context.Context, req models.OracleRequest) ([]models.ValidatorResponse, error) {
	log := a.log.WithComponent("aggregator").WithFields(logger.Fields{
		"trend_id":  req.TrendID,
		"operation": "distribute",
	})

	if a.roundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.roundTimeout)
		defer cancel()
	}

	clients := a.registry.Clients()
	results := make([]*models.ValidatorResponse, len(clients))

	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c validator.Client) {
			defer wg.Done()
			resp, err := c.Assess(ctx, req, a.validatorTimeout)
			if err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"validator_id": c.ValidatorID(),
				}).Warn("validator call failed")
				return
			}
			results[i] = &resp
		}(i, c)
	}
	wg.Wait()

	responses := make([]models.ValidatorResponse, 0, len(clients))
	for _, r := range results {
		if r != nil {
			responses = append(responses, *r)
		}
	}
	sort.Slice(responses, func(i, j int) bool {
		return responses[i].ValidatorID < responses[j].ValidatorID
	})

	log.WithFields(logger.Fields{
		"validators": len(clients),
		"responses":  len(responses),
	}).Info("distribution settled")

	if len(responses) < a.minResponses {
		return nil, &InsufficientResponsesError{Got: len(responses), Needed: a.minResponses}
	}
	return responses, nil
}

// Aggregate reconciles the responses into a ConsensusResult. Outliers
// beyond maxVariance of the mean are filtered; the surviving subset
// must clear the agreement threshold. The final score weights each
// surviving validator by its reported confidence.
func (a *Aggregator) Aggregate(req models.OracleRequest, responses []models.ValidatorResponse) (models.ConsensusResult, error) {
	if len(responses) < a.minResponses {
		return models.ConsensusResult{}, &InsufficientResponsesError{Got: len(responses), Needed: a.minResponses}
	}

	scores := make([]float64, 0, len(responses))
	var sumScore, sumConfidence float64
	for _, r := range responses {
		scores = append(scores, r.Data.ViralityScore)
		sumScore += r.Data.ViralityScore
		sumConfidence += r.Data.Confidence
	}
	avgScore := sumScore / float64(len(responses))
	avgConfidence := sumConfidence / float64(len(responses))

	var variance float64
	for _, s := range scores {
		d := s - avgScore
		variance += d * d
	}
	variance /= float64(len(scores))
	stdDev := math.Sqrt(variance)

	coeffOfVariation := 0.0
	if avgScore > 0 {
		coeffOfVariation = stdDev / avgScore
	}

	tolerance := avgScore * a.maxVariance
	agreed := make([]models.ValidatorResponse, 0, len(responses))
	for _, r := range responses {
		if math.Abs(r.Data.ViralityScore-avgScore) <= tolerance {
			agreed = append(agreed, r)
		}
	}
	agreementRatio := float64(len(agreed)) / float64(len(responses))

	log := a.log.WithComponent("aggregator").WithFields(logger.Fields{
		"trend_id":  req.TrendID,
		"operation": "aggregate",
	})

	if agreementRatio < a.requiredAgreement {
		log.WithFields(logger.Fields{
			"agreement": agreementRatio,
			"scores":    scores,
		}).Warn("consensus rejected")
		return models.ConsensusResult{}, &InsufficientConsensusError{
			AgreementRatio: agreementRatio,
			Scores:         scores,
		}
	}

	var weightedSum, weightSum float64
	for _, r := range agreed {
		weightedSum += r.Data.ViralityScore * r.Data.Confidence
		weightSum += r.Data.Confidence
	}
	var weightedScore float64
	if weightSum > 0 {
		weightedScore = weightedSum / weightSum
	} else {
		// Every agreed validator reported zero confidence; fall back to
		// the unweighted mean instead of dividing by zero.
		for _, r := range agreed {
			weightedScore += r.Data.ViralityScore
		}
		weightedScore /= float64(len(agreed))
	}

	consensusStrength := math.Max(0, 1-coeffOfVariation)

	result := models.ConsensusResult{
		TrendID:            req.TrendID,
		Score:              roundTo(weightedScore, 4),
		Confidence:         roundTo(avgConfidence, 4),
		Timestamp:          time.Now().UnixMilli(),
		Agreement:          roundTo(agreementRatio, 2),
		ConsensusStrength:  roundTo(consensusStrength, 4),
		ValidatorResponses: agreed,
	}

	log.WithFields(logger.Fields{
		"score":              result.Score,
		"confidence":         result.Confidence,
		"agreement":          result.Agreement,
		"consensus_strength": result.ConsensusStrength,
		"validators_agreed":  len(agreed),
	}).Info("consensus reached")

	return result, nil
}

func roundTo(v float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(v*shift) / shift
}
