package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gestaobankrio-code/maracana-purple-glow/internal/auth"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/logger"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/metrics"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/models"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/ratelimit"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/sheets"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/validation"
)

const (
	maxBodyBytes = 10 * 1024 // 10KB limit

	allowHeaders = "authorization, x-client-info, apikey, content-type"
	allowMethods = "POST, OPTIONS"

	messageSuccess = "Data submitted successfully"
)

// Submitter runs one lead submission.
type Submitter interface {
	Submit(ctx context.Context, lead models.Lead, remoteAddr string) error
}

// SubmissionLister reads the submission ledger.
type SubmissionLister interface {
	List(ctx context.Context, limit int, status string) ([]models.Submission, error)
}

// Options wires a Handler. Lister, Limiter and Clients may be nil.
type Options struct {
	Submitter   Submitter
	Lister      SubmissionLister
	Limiter     *ratelimit.Limiter
	Clients     *ratelimit.ClientResolver
	AdminToken  string
	AllowOrigin string
	// SubmitTimeout bounds the upstream work of one submission. It must stay
	// below the server's WriteTimeout or a late 500 never reaches the client.
	// Zero means no deadline beyond the per-call ones.
	SubmitTimeout time.Duration
}

// Handler serves the lead intake HTTP surface.
type Handler struct {
	opts Options
}

// New creates a Handler. An empty AllowOrigin means "*".
func New(opts Options) *Handler {
	if opts.AllowOrigin == "" {
		opts.AllowOrigin = "*"
	}
	return &Handler{opts: opts}
}

// Router returns every route with instrumentation. The submit contract is
// served on "/submit-to-sheets" and on any path not claimed by another route.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", metrics.InstrumentHandler("health", HealthHandler))
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/submissions", metrics.InstrumentHandler("submissions", h.SubmissionsHandler))
	r.HandleFunc("/submit-to-sheets", metrics.InstrumentHandler("submit", h.SubmitHandler))
	r.PathPrefix("/").HandlerFunc(metrics.InstrumentHandler("submit", h.SubmitHandler))
	return r
}

// SubmitHandler answers CORS pre-flight requests and lead submissions
func (h *Handler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	h.setCORS(w)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		writeJSON(w, http.StatusMethodNotAllowed, models.ErrorResponse{Error: "Method not allowed"})
		return
	}

	clientKey := h.opts.Clients.ClientKey(r)
	if !h.opts.Limiter.Allow(clientKey) {
		metrics.LeadSubmissionsTotal.WithLabelValues(metrics.ResultRateLimited).Inc()
		logger.Warn("submission rate limited", map[string]interface{}{"client": clientKey})
		writeJSON(w, http.StatusTooManyRequests, models.ErrorResponse{Error: "Too many requests"})
		return
	}

	// Limit request body size for security
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var lead models.Lead
	if err := json.NewDecoder(r.Body).Decode(&lead); err != nil {
		metrics.LeadSubmissionsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		logger.Warn("failed to decode lead", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	ctx := r.Context()
	if h.opts.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.SubmitTimeout)
		defer cancel()
	}

	err := h.opts.Submitter.Submit(ctx, lead, clientKey)
	if err != nil {
		status, kind := classify(err)
		if status == http.StatusBadRequest {
			metrics.LeadSubmissionsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		} else {
			metrics.LeadSubmissionsTotal.WithLabelValues(metrics.ResultFailed).Inc()
		}
		fields := map[string]interface{}{"error": err.Error(), "kind": kind, "status": status}
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			fields["missing"] = verr.Detail()
		}
		logger.Warn("submission rejected", fields)
		writeJSON(w, status, models.ErrorResponse{Error: err.Error()})
		return
	}

	metrics.LeadSubmissionsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	writeJSON(w, http.StatusOK, models.SuccessResponse{Success: true, Message: messageSuccess})
}

// classify maps a submission error to its HTTP status and a log label.
func classify(err error) (int, string) {
	var (
		verr *validation.ValidationError
		cerr *auth.ConfigurationError
		terr *auth.TokenExchangeError
		aerr *sheets.AppendError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "validation"
	case errors.As(err, &cerr):
		return http.StatusInternalServerError, "configuration"
	case errors.As(err, &terr):
		return http.StatusInternalServerError, "token_exchange"
	case errors.As(err, &aerr):
		return http.StatusInternalServerError, "append"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// SubmissionsHandler returns ledger records for inspection (admin only)
func (h *Handler) SubmissionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, models.ErrorResponse{Error: "Method not allowed"})
		return
	}

	if !validation.ValidateAdminToken(r.Header.Get("X-Admin-Token"), h.opts.AdminToken) {
		logger.Warn("invalid admin token", map[string]interface{}{
			"token_provided": r.Header.Get("X-Admin-Token") != "",
		})
		writeJSON(w, http.StatusForbidden, models.ErrorResponse{Error: "Forbidden"})
		return
	}

	if h.opts.Lister == nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Submission ledger is not enabled"})
		return
	}

	// Get optional limit parameter (default 100)
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}
	status := r.URL.Query().Get("status")

	subs, err := h.opts.Lister.List(r.Context(), limit, status)
	if err != nil {
		logger.Error("failed to query submissions", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "database error"})
		return
	}

	logger.Info("returning submissions", map[string]interface{}{"count": len(subs)})
	writeJSON(w, http.StatusOK, subs)
}

// HealthHandler returns service health status
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", h.opts.AllowOrigin)
	w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
	w.Header().Set("Access-Control-Allow-Methods", allowMethods)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to write response", map[string]interface{}{"error": err.Error()})
	}
}
