package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/khanhng/llm-router/internal/auth"
	"github.com/khanhng/llm-router/internal/billing"
	"github.com/khanhng/llm-router/internal/provider"
	"github.com/khanhng/llm-router/internal/routing"
	"github.com/khanhng/llm-router/internal/worker"
	"github.com/khanhng/llm-router/pkg/ratelimit"
)

type Handler struct {
	manager  *routing.Manager
	ledger   *billing.Ledger
	billing  billing.Store
	jobs     worker.Queue
	limiter  *ratelimit.Limiter
	tracer   trace.Tracer
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(manager *routing.Manager, ledger *billing.Ledger, billingStore billing.Store, jobs worker.Queue, limiter *ratelimit.Limiter, tracer trace.Tracer, logger *zap.Logger) *Handler {
	return &Handler{
		manager:  manager,
		ledger:   ledger,
		billing:  billingStore,
		jobs:     jobs,
		limiter:  limiter,
		tracer:   tracer,
		validate: validator.New(),
		logger:   logger,
	}
}

// completionPayload is the wire shape: the uniform request plus the
// caller's per-call routing knobs.
type completionPayload struct {
	provider.Request
	Provider string `json:"provider,omitempty"`
	Fallback *bool  `json:"fallback,omitempty"`
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID, req, opts, err := h.prepare(w, r)
	if err != nil {
		return
	}

	response, err := h.manager.Complete(r.Context(), req, opts)
	if err != nil {
		h.writeRoutingError(w, err)
		return
	}

	go h.logUsage(tenantID, requestID, response)

	respID := response.ID
	if respID == "" {
		respID = uuid.New().String()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":            respID,
		"object":        "completion",
		"model":         response.Model,
		"provider":      response.Provider,
		"content":       response.Content,
		"finish_reason": response.FinishReason,
		"usage": map[string]int{
			"input_tokens":  response.Usage.InputTokens,
			"output_tokens": response.Usage.OutputTokens,
			"total_tokens":  response.Usage.TotalTokens,
		},
	})
}

func (h *Handler) HandleCompleteStream(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID, req, opts, err := h.prepare(w, r)
	if err != nil {
		return
	}

	ch, selected, err := h.manager.CompleteStream(r.Context(), req, opts)
	if err != nil {
		h.writeRoutingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	for chunk := range ch {
		if chunk.Err != nil {
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"%s\"}\n\n", chunk.Err.Error())
			flusher.Flush()
			break
		}

		if chunk.Done {
			fmt.Fprintf(w, "data: [DONE]\n\n")
			flusher.Flush()
			break
		}

		escaped := strings.ReplaceAll(chunk.Delta, `"`, `\"`)
		escaped = strings.ReplaceAll(escaped, "\n", `\n`)
		fmt.Fprintf(w, "data: {\"delta\":{\"content\":\"%s\"}}\n\n", escaped)
		flusher.Flush()
	}

	go h.logUsage(tenantID, requestID, &provider.Response{
		Provider: selected.Name(),
		Model:    req.Model,
	})
}

func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (string, string, *provider.Request, routing.Options, error) {
	ctx := r.Context()
	opts := routing.DefaultOptions()

	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return "", "", nil, opts, fmt.Errorf("unauthorized")
	}

	requestID := auth.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var payload completionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return "", "", nil, opts, err
	}

	// Messages must be non-empty before any adapter sees the request.
	if err := h.validate.Struct(payload.Request); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request: %v", err)})
		return "", "", nil, opts, err
	}

	opts.Provider = payload.Provider
	if payload.Fallback != nil {
		opts.Fallback = *payload.Fallback
	}

	req := payload.Request
	req.TenantID = tenantID
	req.RequestID = requestID

	_, span := h.tracer.Start(ctx, "proxy.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("request_id", requestID),
		attribute.String("model", req.Model),
		attribute.String("provider_override", opts.Provider),
	)

	estimatedTokens := req.MaxTokens
	if estimatedTokens <= 0 {
		estimatedTokens = 1000
	}

	allowed, err := h.limiter.Allow(ctx, tenantID, estimatedTokens)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60s")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return "", "", nil, opts, fmt.Errorf("rate limit exceeded")
	}

	return tenantID, requestID, &req, opts, nil
}

func (h *Handler) writeRoutingError(w http.ResponseWriter, err error) {
	var allFailed *routing.AllFailedError
	switch {
	case errors.Is(err, routing.ErrProviderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, routing.ErrNoProviderAvailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.As(err, &allFailed):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":         allFailed.Error(),
			"last_provider": allFailed.LastProvider,
		})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}

func (h *Handler) logUsage(tenantID, requestID string, response *provider.Response) {
	err := h.billing.LogUsage(context.Background(), &billing.UsageLog{
		TenantID:     tenantID,
		RequestID:    requestID,
		Provider:     response.Provider,
		Model:        response.Model,
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		FinishReason: string(response.FinishReason),
		FallbackUsed: response.FallbackUsed,
		CostUSD:      billing.CostOf(response.Provider, response.Model, response.Usage),
		LatencyMs:    response.LatencyMs,
	})
	if err != nil {
		h.logger.Warn("failed to log usage",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'from' date format (use RFC3339)"})
			return
		}
	}

	if toStr := r.URL.Query().Get("to"); toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'to' date format (use RFC3339)"})
			return
		}
	}

	logs, err := h.billing.GetUsageByTenant(ctx, tenantID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	totalCost, err := h.billing.GetTotalCostByTenant(ctx, tenantID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id":      tenantID,
		"total_requests": len(logs),
		"total_cost_usd": totalCost,
		"logs":           logs,
		"from":           from,
		"to":             to,
	})
}

// HandleCostSummary exposes the in-process ledger: running token and
// spend totals per provider since startup.
func (h *Handler) HandleCostSummary(w http.ResponseWriter, r *http.Request) {
	if auth.GetTenantID(r.Context()) == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": h.ledger.Snapshot(),
	})
}

func (h *Handler) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var payload completionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(payload.Request); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	opts := routing.DefaultOptions()
	opts.Provider = payload.Provider
	if payload.Fallback != nil {
		opts.Fallback = *payload.Fallback
	}

	req := payload.Request
	req.TenantID = tenantID

	job := &worker.Job{
		TenantID: tenantID,
		Request:  &req,
		Options:  opts,
	}
	if err := h.jobs.Enqueue(ctx, job); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (h *Handler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	job, err := h.jobs.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, worker.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if job.TenantID != tenantID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
