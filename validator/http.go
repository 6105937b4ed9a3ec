package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	appconfig "trendoracle/config"
	"trendoracle/logger"
	"trendoracle/models"
	"trendoracle/proof"
)

// HTTP talks to a network-addressed validator node over its REST
// assessment endpoint. Outbound calls share a pooled transport and are
// throttled by a token-bucket limiter.
type HTTP struct {
	id      string
	url     string
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

// assessReply is the validator node's answer. The signature is computed
// locally from the returned data, binding it to the configured identity
// rather than trusting the remote to tag itself.
type assessReply struct {
	Data models.ValidatorData `json:"data"`
}

func NewHTTP(cfg appconfig.ValidatorConfig) *HTTP {
	log := logger.GetLogger()

	transport := &http.Transport{
		MaxIdleConns:        cfg.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.ConnectionPool.IdleConnTimeout,
	}

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	log.WithComponent("validator_http").WithFields(logger.Fields{
		"validator_id": cfg.ID,
		"url":          cfg.URL,
		"rps":          rps,
	}).Info("http validator client initialized")

	return &HTTP{
		id:      cfg.ID,
		url:     strings.TrimSuffix(cfg.URL, "/"),
		client:  &http.Client{Transport: transport},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
	}
}

func (h *HTTP) ValidatorID() string {
	return h.id
}

func (h *HTTP) Assess(ctx context.Context, req models.OracleRequest, timeout time.Duration) (models.ValidatorResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := h.log.WithComponent("validator_http").WithFields(logger.Fields{
		"validator_id": h.id,
		"trend_id":     req.TrendID,
		"operation":    "assess",
	})

	if err := h.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.ValidatorResponse{}, &TimeoutError{ValidatorID: h.id, Timeout: timeout}
		}
		return models.ValidatorResponse{}, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return models.ValidatorResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url+"/assess", bytes.NewReader(body))
	if err != nil {
		return models.ValidatorResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.ValidatorResponse{}, &TimeoutError{ValidatorID: h.id, Timeout: timeout}
		}
		return models.ValidatorResponse{}, fmt.Errorf("assess call: %w", err)
	}
	defer resp.Body.Close()
	duration := time.Since(start)

	logger.LogPerformanceEntry(log, "validator_http", "assess", duration, logger.Fields{
		"validator_id": h.id,
	})

	if resp.StatusCode != http.StatusOK {
		return models.ValidatorResponse{}, fmt.Errorf("validator %s returned status %d", h.id, resp.StatusCode)
	}

	var reply assessReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return models.ValidatorResponse{}, fmt.Errorf("decode reply: %w", err)
	}

	sig, err := proof.ResponseSignature(reply.Data, h.id)
	if err != nil {
		return models.ValidatorResponse{}, err
	}

	elapsed := float64(duration.Nanoseconds()) / 1e6
	return models.ValidatorResponse{
		ValidatorID:    h.id,
		Data:           reply.Data,
		Signature:      sig,
		ProcessingTime: elapsed,
	}, nil
}

func (h *HTTP) Healthy(ctx context.Context) models.ValidatorHealth {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url+"/health", nil)
	if err != nil {
		return models.ValidatorHealth{ValidatorID: h.id}
	}

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return models.ValidatorHealth{ValidatorID: h.id}
	}
	defer resp.Body.Close()

	return models.ValidatorHealth{
		ValidatorID: h.id,
		Healthy:     resp.StatusCode == http.StatusOK,
		LatencyMs:   float64(time.Since(start).Nanoseconds()) / 1e6,
	}
}
