// Package api exposes the inference pipeline over HTTP, WebSocket and gRPC.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"AegisNet/internal/eventbus"
	"AegisNet/internal/metrics"
	"AegisNet/internal/model"
	"AegisNet/internal/pipeline"
	"AegisNet/internal/resultlog"
	"AegisNet/internal/scoring"
	"AegisNet/internal/validate"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	maxBodyBytes     = 1 << 20
	defaultRecent    = 64
	maxRecent        = 256
	wsWriteTimeout   = 10 * time.Second
	wsReadLimitBytes = 4096
)

// Handler holds the dependencies for API handlers.
type Handler struct {
	pipeline  *pipeline.Pipeline
	results   *resultlog.Log
	bus       *eventbus.Bus
	validator *validate.Validator
	metrics   *metrics.Metrics
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	ready     atomic.Bool
}

// NewHandler creates the HTTP API handler. It reports not ready until SetReady(true).
func NewHandler(p *pipeline.Pipeline, results *resultlog.Log, bus *eventbus.Bus, v *validate.Validator,
	m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		pipeline:  p,
		results:   results,
		bus:       bus,
		validator: v,
		metrics:   m,
		logger:    logger.With("component", "http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// SetReady toggles the readiness probe.
func (h *Handler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ingest", h.ingestHandler).Methods(http.MethodPost)
	r.HandleFunc("/score", h.scoreHandler).Methods(http.MethodPost)
	r.HandleFunc("/score_bulk", h.scoreBulkHandler).Methods(http.MethodPost)
	r.HandleFunc("/recent", h.recentHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.wsHandler).Methods(http.MethodGet)
	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.readyzHandler).Methods(http.MethodGet)
	return r
}

type scoreRequest struct {
	Features model.FeatureVector `json:"features"`
}

type scoreBulkRequest struct {
	Flows []model.FeatureVector `json:"flows"`
}

type bulkItem struct {
	Index        int     `json:"index"`
	AnomalyScore float64 `json:"anomaly_score"`
	IsSuspicious bool    `json:"is_suspicious"`
	Error        string  `json:"error,omitempty"`
}

type recentResponse struct {
	Count   int               `json:"count"`
	Results []resultlog.Entry `json:"results"`
}

// ingestHandler scores and classifies one enriched flow.
func (h *Handler) ingestHandler(w http.ResponseWriter, r *http.Request) {
	var req model.IngestEvent
	if !h.decode(w, r, validate.KindIngest, &req) {
		return
	}
	res, err := h.pipeline.Ingest(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// scoreHandler scores a bare feature vector.
func (h *Handler) scoreHandler(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !h.decode(w, r, validate.KindScore, &req) {
		return
	}
	res, err := h.pipeline.Score(r.Context(), req.Features)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"anomaly_score": res.AnomalyScore,
		"is_suspicious": res.IsSuspicious,
	})
}

// scoreBulkHandler scores many feature vectors; failures stay per item.
func (h *Handler) scoreBulkHandler(w http.ResponseWriter, r *http.Request) {
	var req scoreBulkRequest
	if !h.decode(w, r, validate.KindScoreBulk, &req) {
		return
	}
	items, err := h.pipeline.ScoreBatch(r.Context(), req.Flows)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]bulkItem, len(items))
	for i, it := range items {
		out[i] = bulkItem{Index: it.Index, AnomalyScore: it.AnomalyScore, IsSuspicious: it.IsSuspicious}
		if it.Err != nil {
			out[i].Error = it.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// recentHandler returns the newest results first.
func (h *Handler) recentHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecent
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRecent {
			writeJSON(w, http.StatusBadRequest, errorBody(fmt.Sprintf("limit must be an integer in [1,%d]", maxRecent)))
			return
		}
		limit = n
	}
	results := h.results.Recent(limit)
	writeJSON(w, http.StatusOK, recentResponse{Count: len(results), Results: results})
}

// wsHandler streams bus events to one WebSocket client until it disconnects
// or falls behind.
func (h *Handler) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)
	logger := h.logger.With("subscriber", sub.ID, "remote", r.RemoteAddr)
	logger.Info("websocket client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The reader only exists to notice the client going away.
	conn.SetReadLimit(wsReadLimitBytes)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, eventbus.ErrDropped) {
				logger.Warn("websocket client dropped for falling behind")
				msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber queue overflow")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			} else {
				logger.Info("websocket client disconnected", "reason", err)
			}
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			logger.Info("websocket write failed", "error", err)
			return
		}
	}
}

func (h *Handler) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	if !h.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// decode reads, validates and unmarshals the body, answering the request on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, kind validate.Kind, out any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(fmt.Sprintf("failed to read request body: %v", err)))
		return false
	}
	if err := h.validator.Decode(kind, body, out); err != nil {
		h.metrics.IngestTotal.WithLabelValues(string(kind), "rejected").Inc()
		h.writeError(w, err)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, validate.ErrInvalidJSON):
		status = http.StatusBadRequest
	case validate.IsSchemaError(err), scoring.IsValidationError(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrFatal), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		h.logger.Error("request failed", "error", err, "status", status)
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
