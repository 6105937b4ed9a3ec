package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	appconfig "trendoracle/config"
	"trendoracle/logger"
	"trendoracle/models"
	"trendoracle/proof"
)

// WS talks to a validator node over a persistent websocket connection.
// Requests and replies are correlated by id; the connection is dialed
// lazily and dropped on any error so the next call re-dials.
type WS struct {
	id  string
	url string
	log *logger.Log

	mu   sync.Mutex
	conn *websocket.Conn
}

type wsRequest struct {
	RequestID string               `json:"request_id"`
	Request   models.OracleRequest `json:"request"`
}

type wsReply struct {
	RequestID string               `json:"request_id"`
	Data      models.ValidatorData `json:"data"`
	Error     string               `json:"error,omitempty"`
}

func NewWS(cfg appconfig.ValidatorConfig) *WS {
	return &WS{
		id:  cfg.ID,
		url: cfg.URL,
		log: logger.GetLogger(),
	}
}

func (w *WS) ValidatorID() string {
	return w.id
}

// ensureConn dials the validator if no connection is open. Caller must
// hold w.mu.
func (w *WS) ensureConn(ctx context.Context) error {
	if w.conn != nil {
		return nil
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial validator %s: %w", w.id, err)
	}
	w.conn = conn
	w.log.WithComponent("validator_ws").WithFields(logger.Fields{
		"validator_id": w.id,
		"url":          w.url,
	}).Info("websocket connection established")
	return nil
}

func (w *WS) dropConn() {
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

func (w *WS) Assess(ctx context.Context, req models.OracleRequest, timeout time.Duration) (models.ValidatorResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	deadline, _ := ctx.Deadline()

	// One in-flight exchange per connection keeps correlation trivial.
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureConn(ctx); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return models.ValidatorResponse{}, &TimeoutError{ValidatorID: w.id, Timeout: timeout}
		}
		return models.ValidatorResponse{}, err
	}

	start := time.Now()
	requestID := uuid.New().String()

	w.conn.SetWriteDeadline(deadline)
	if err := w.conn.WriteJSON(wsRequest{RequestID: requestID, Request: req}); err != nil {
		w.dropConn()
		return models.ValidatorResponse{}, fmt.Errorf("write assess request: %w", err)
	}

	w.conn.SetReadDeadline(deadline)
	for {
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.dropConn()
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return models.ValidatorResponse{}, &TimeoutError{ValidatorID: w.id, Timeout: timeout}
			}
			return models.ValidatorResponse{}, fmt.Errorf("read assess reply: %w", err)
		}

		var reply wsReply
		if err := json.Unmarshal(msg, &reply); err != nil {
			w.log.WithComponent("validator_ws").WithError(err).Warn("discarding malformed websocket message")
			continue
		}
		if reply.RequestID != requestID {
			// Stale reply from an abandoned call.
			continue
		}
		if reply.Error != "" {
			return models.ValidatorResponse{}, fmt.Errorf("validator %s: %s", w.id, reply.Error)
		}

		sig, err := proof.ResponseSignature(reply.Data, w.id)
		if err != nil {
			return models.ValidatorResponse{}, err
		}

		elapsed := float64(time.Since(start).Nanoseconds()) / 1e6
		return models.ValidatorResponse{
			ValidatorID:    w.id,
			Data:           reply.Data,
			Signature:      sig,
			ProcessingTime: elapsed,
		}, nil
	}
}

func (w *WS) Healthy(ctx context.Context) models.ValidatorHealth {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	if err := w.ensureConn(ctx); err != nil {
		return models.ValidatorHealth{ValidatorID: w.id}
	}

	w.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(2*time.Second)); err != nil {
		w.dropConn()
		return models.ValidatorHealth{ValidatorID: w.id}
	}

	return models.ValidatorHealth{
		ValidatorID: w.id,
		Healthy:     true,
		LatencyMs:   float64(time.Since(start).Nanoseconds()) / 1e6,
	}
}
