package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/crewline/trustcore/internal/trust"
	"github.com/crewline/trustcore/pkg/types"
)

// Error codes used in API responses.
const (
	errCodeValidation = "VALIDATION_FAILED"
	errCodeNotFound   = "NOT_FOUND"
	errCodeContention = "CONTENTION"
	errCodeInternal   = "INTERNAL_ERROR"
	errCodeBadRequest = "INVALID_REQUEST"
)

// handleRecordSignal handles POST /api/v1/signals. Hard success or hard
// failure: a 201 means the signal and its recomputed aggregate are durable,
// anything else means nothing was written.
func (s *Server) handleRecordSignal(w http.ResponseWriter, r *http.Request) {
	var req types.RecordSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	in := trust.RecordSignalInput{
		OrgID:                req.OrgID,
		UserID:               req.UserID,
		ActionType:           req.ActionType,
		AgentName:            req.AgentName,
		Kind:                 trust.Kind(req.Kind),
		EditDistance:         req.EditDistance,
		EditFields:           req.EditFields,
		TimeToRespondMS:      req.TimeToRespondMS,
		ConfidenceAtProposal: req.ConfidenceAtProposal,
		TierAtTime:           trust.Tier(req.TierAtTime),
		IsBackfill:           req.IsBackfill,
	}
	for _, ref := range req.EntityRefs {
		in.EntityRefs = append(in.EntityRefs, trust.EntityRef{Kind: ref.Kind, ID: ref.ID})
	}
	if req.OccurredAt != "" {
		at, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			respondError(w, http.StatusBadRequest, errCodeValidation, "occurred_at must be RFC 3339")
			return
		}
		in.OccurredAt = &at
	}

	receipt, err := s.engine.RecordSignal(r.Context(), in)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, types.RecordSignalResponse{
		SignalID:  receipt.SignalID,
		Aggregate: receipt.Aggregate,
		Demoted:   receipt.Demoted,
	})
}

// handleRubberStamp handles POST /api/v1/signals/rubber-stamp, the
// best-effort fast path. 202: the bump was applied (or skipped for a key with
// no aggregate yet); the next full recompute owns the truth either way.
func (s *Server) handleRubberStamp(w http.ResponseWriter, r *http.Request) {
	var req types.RubberStampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if err := s.engine.IncrementRubberStamp(r.Context(), req.UserID, req.ActionType); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleUpsertPolicy handles PUT /api/v1/policies.
func (s *Server) handleUpsertPolicy(w http.ResponseWriter, r *http.Request) {
	var req types.UpsertPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	p, err := s.engine.UpsertPolicy(r.Context(), trust.UpsertPolicyInput{
		Policy: trust.ThresholdPolicy{
			OrgID:                req.OrgID,
			ActionType:           req.ActionType,
			FromTier:             trust.Tier(req.FromTier),
			ToTier:               trust.Tier(req.ToTier),
			MinSignals:           req.MinSignals,
			MinCleanApprovalRate: req.MinCleanApprovalRate,
			MaxRejectionRate:     req.MaxRejectionRate,
			MaxUndoRate:          req.MaxUndoRate,
			MinDaysActive:        req.MinDaysActive,
			MinConfidenceScore:   req.MinConfidenceScore,
			LastNClean:           req.LastNClean,
			Enabled:              req.Enabled,
			NeverPromote:         req.NeverPromote,
		},
		Actor: req.Actor,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// handleListPolicies handles GET /api/v1/policies?org=&action_type=.
func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org")
	actionType := r.URL.Query().Get("action_type")

	policies, err := s.engine.ListPolicies(r.Context(), orgID, actionType)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, types.ListResponse{Items: policies, Total: len(policies)})
}

// handleGetConfidence handles GET /api/v1/confidence/{user}/{action_type}.
func (s *Server) handleGetConfidence(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	agg, err := s.engine.GetConfidence(r.Context(), vars["user"], vars["action_type"])
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agg)
}

// handleGetOrgTier handles GET /api/v1/tiers/{org}/{action_type}.
func (s *Server) handleGetOrgTier(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	summary, err := s.engine.GetOrgTier(r.Context(), vars["org"], vars["action_type"])
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// handleEvaluate handles POST /api/v1/evaluate/{user}/{action_type}: an
// on-demand run of the promotion decision function.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	d, err := s.engine.Evaluate(r.Context(), vars["user"], vars["action_type"])
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, types.EvaluateResponse{
		Promoted: d.Promoted,
		FromTier: string(d.FromTier),
		ToTier:   string(d.ToTier),
		Reasons:  d.Reasons,
	})
}

// handleSetKeyControls handles PUT /api/v1/controls/{user}/{action_type}:
// the operator endpoint behind per-key holds and raised signal bars.
func (s *Server) handleSetKeyControls(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req types.KeyControlsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	err := s.engine.SetKeyControls(r.Context(), vars["user"], vars["action_type"], req.NeverPromote, req.ExtraRequiredSignals)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleSweep handles POST /api/v1/sweep: run a promotion sweep now, in
// addition to the periodic schedule.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.RunSweep(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, types.SweepResponse{
		Examined:   res.Examined,
		Promoted:   res.Promoted,
		Demoted:    res.Demoted,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
		DurationMS: res.Duration.Milliseconds(),
		StartedAt:  res.StartedAt.UTC().Format(time.RFC3339),
	})
}

// handleListTransitions handles GET /api/v1/transitions?org=&user=&action_type=&limit=.
func (s *Server) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := trust.TransitionFilter{
		OrgID:      q.Get("org"),
		UserID:     q.Get("user"),
		ActionType: q.Get("action_type"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, errCodeValidation, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	transitions, err := s.engine.ListTransitions(r.Context(), f)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, types.ListResponse{Items: transitions, Total: len(transitions)})
}

// handleHealth handles GET /health (liveness).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "trustcore",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleHealthDetail handles GET /api/v1/health with component detail.
func (s *Server) handleHealthDetail(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	storeStatus := "ok"
	code := http.StatusOK
	if err := s.engine.Ping(r.Context()); err != nil {
		status = "degraded"
		storeStatus = err.Error()
		code = http.StatusServiceUnavailable
	}

	s.mu.RLock()
	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}
	s.mu.RUnlock()

	respondJSON(w, code, types.HealthResponse{
		Status:        status,
		Store:         storeStatus,
		SweepRunning:  s.IsRunning(),
		EventClients:  s.hub.ClientCount(),
		UptimeSeconds: uptime,
		Version:       "1.0.0",
	})
}

// respondEngineError maps engine errors onto HTTP status codes.
func respondEngineError(w http.ResponseWriter, err error) {
	var ve *trust.ValidationError
	switch {
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, errCodeValidation, ve.Error())
	case errors.Is(err, trust.ErrAggregateNotFound):
		respondError(w, http.StatusNotFound, errCodeNotFound, "no signals recorded for this key")
	case errors.Is(err, trust.ErrPolicyNotFound):
		respondError(w, http.StatusNotFound, errCodeNotFound, "no applicable threshold policy")
	case errors.Is(err, trust.ErrContention):
		respondError(w, http.StatusServiceUnavailable, errCodeContention, "persistent write contention, retry")
	default:
		respondError(w, http.StatusInternalServerError, errCodeInternal, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, types.ErrorResponse{Code: code, Message: message})
}
