package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/activeview/mab/internal/api"
	"github.com/activeview/mab/internal/bandit"
	"github.com/activeview/mab/internal/store"
	"github.com/activeview/mab/pkg/otel"
)

const maxBodyBytes = 1 << 20 // 1MB

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req api.ExperimentCreate
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	target := req.OptimizationTarget
	if target == "" {
		target = string(bandit.TargetCTR)
	}

	now := time.Now().UTC()
	exp := &api.Experiment{
		ID:                 uuid.NewString(),
		Name:               req.Name,
		Description:        req.Description,
		Status:             api.StatusActive,
		OptimizationTarget: target,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, v := range req.Variants {
		exp.Variants = append(exp.Variants, api.Variant{
			ID:        uuid.NewString(),
			Name:      v.Name,
			IsControl: v.IsControl,
			CreatedAt: now,
		})
	}

	if err := s.experiments.Create(r.Context(), exp); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "experiment name already exists", req.Name)
			return
		}
		s.log.Error().Err(err).Msg("create experiment failed")
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	s.metrics.ExperimentsCreated.Inc()
	writeJSON(w, http.StatusCreated, exp)
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := s.getExperiment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondExperimentErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req api.StatusUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err.Error())
		return
	}
	if !api.ValidStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "invalid status", req.Status)
		return
	}

	if err := s.experiments.UpdateStatus(r.Context(), id, api.ExperimentStatus(req.Status)); err != nil {
		s.respondExperimentErr(w, err)
		return
	}

	// Next read must see the new state.
	s.expCache.Delete(id)

	exp, err := s.experiments.GetByID(r.Context(), id)
	if err != nil {
		s.respondExperimentErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleIngestMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.IngestTotal.Inc()
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", "")
		return
	}

	// Append to WAL before parsing, so a crash mid-ingest is replayable.
	if err := s.ingestWAL.Append(body); err != nil {
		s.log.Error().Err(err).Msg("WAL append failed")
		s.metrics.WALErrors.Inc()
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	var batch api.MetricsBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err.Error())
		return
	}
	if err := batch.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	exp, err := s.getExperiment(ctx, r.PathValue("id"))
	if err != nil {
		s.respondExperimentErr(w, err)
		return
	}

	// Idempotent replay: a batch_id seen before returns its original receipt.
	if batch.BatchID != "" {
		existing, err := s.dedupStore.Get(ctx, batch.BatchID)
		if err != nil {
			s.log.Error().Err(err).Msg("dedup store error")
			writeError(w, http.StatusInternalServerError, "internal server error", "")
			return
		}
		if existing != nil {
			s.metrics.DedupHits.Inc()
			replay := *existing
			replay.Duplicate = true
			writeJSON(w, http.StatusOK, &replay)
			return
		}
	}

	variantIDs := make(map[string]string, len(exp.Variants))
	for _, v := range exp.Variants {
		variantIDs[v.Name] = v.ID
	}

	date, _ := time.Parse("2006-01-02", batch.Date) // validated above
	rows := make([]store.DailyMetric, 0, len(batch.Metrics))
	for _, m := range batch.Metrics {
		variantID, ok := variantIDs[m.VariantName]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown variant", m.VariantName)
			return
		}
		rows = append(rows, store.DailyMetric{
			VariantID:   variantID,
			Date:        date,
			Impressions: m.Impressions,
			Clicks:      m.Clicks,
			Sessions:    m.Sessions,
			Revenue:     m.Revenue,
			Source:      batch.Source,
			BatchID:     batch.BatchID,
		})
	}

	if err := s.metricStore.Record(ctx, rows); err != nil {
		s.log.Error().Err(err).Msg("record metrics failed")
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	receipt := &api.IngestReceipt{
		Message:         "metrics recorded",
		Date:            batch.Date,
		VariantsUpdated: len(rows),
		BatchID:         batch.BatchID,
	}
	if batch.BatchID != "" {
		// First write wins; losing a concurrent race is fine, the stored
		// receipt describes the same batch.
		if err := s.dedupStore.Set(ctx, batch.BatchID, receipt, s.dedupTTL); err != nil {
			s.log.Error().Err(err).Msg("failed to store dedup receipt")
		}
	}

	writeJSON(w, http.StatusCreated, receipt)
}

type allocationResponse struct {
	ExperimentID       string    `json:"experiment_id"`
	AllocationID       string    `json:"allocation_id"`
	OptimizationTarget string    `json:"optimization_target"`
	Algorithm          string    `json:"algorithm"`
	AlgorithmVersion   string    `json:"algorithm_version"`
	ComputedAt         time.Time `json:"computed_at"`
	*bandit.Result
}

func (s *Server) handleAllocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	qd := s.quota.Allow(clientKey(r))
	if !qd.Allowed {
		s.metrics.QuotaExceeded.Inc()
		setRateHeaders(w, qd)
		writeError(w, http.StatusTooManyRequests, "daily allocation quota exceeded", "")
		return
	}

	exp, err := s.getExperiment(ctx, r.PathValue("id"))
	if err != nil {
		s.respondExperimentErr(w, err)
		return
	}

	windowDays := 0
	if v := r.URL.Query().Get("window_days"); v != "" {
		windowDays, err = strconv.Atoi(v)
		if err != nil || windowDays <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window_days", v)
			return
		}
	}

	req := bandit.Request{
		ExperimentID: exp.ID,
		Target:       bandit.OptimizationTarget(exp.OptimizationTarget),
		WindowDays:   windowDays,
	}

	ctx, span := otel.StartSpan(ctx, "mab-allocator", "engine.allocate")
	start := time.Now()
	result, audit, err := s.engine.Allocate(ctx, s.metricStore, req)
	s.metrics.EngineDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		otel.RecordError(span, err)
		span.End()

		var dataErr *bandit.DataError
		var cfgErr *bandit.ConfigError
		switch {
		case errors.As(err, &dataErr), errors.As(err, &cfgErr):
			writeError(w, http.StatusUnprocessableEntity, "allocation failed", err.Error())
		default:
			s.log.Error().Err(err).Str("experiment_id", exp.ID).Msg("allocation failed")
			writeError(w, http.StatusInternalServerError, "internal server error", "")
		}
		return
	}
	span.SetAttributes(otel.AllocationAttributes(exp.ID, exp.OptimizationTarget, result.WindowDays, len(result.Variants), result.UsedFallback)...)
	span.End()

	s.metrics.AllocationsComputed.WithLabelValues(exp.OptimizationTarget).Inc()
	if result.UsedFallback {
		s.metrics.FallbackUsed.Inc()
	}

	rec := &store.AllocationRecord{
		ID:           uuid.NewString(),
		ExperimentID: exp.ID,
		Audit:        *audit,
	}
	for _, v := range result.Variants {
		rec.TotalImpressions += v.Impressions
		rec.TotalClicks += v.Clicks
	}
	if err := s.allocations.Append(ctx, rec); err != nil {
		// The split is still valid; the audit trail just has a gap.
		s.log.Error().Err(err).Str("experiment_id", exp.ID).Msg("failed to persist allocation audit")
	}

	writeJSON(w, http.StatusOK, &allocationResponse{
		ExperimentID:       exp.ID,
		AllocationID:       rec.ID,
		OptimizationTarget: exp.OptimizationTarget,
		Algorithm:          audit.Algorithm,
		AlgorithmVersion:   audit.AlgorithmVersion,
		ComputedAt:         audit.ComputedAt,
		Result:             result,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	exp, err := s.getExperiment(ctx, r.PathValue("id"))
	if err != nil {
		s.respondExperimentErr(w, err)
		return
	}

	rows, err := s.metricStore.History(ctx, exp.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"experiment_id": exp.ID,
		"rows":          rows,
	})
}

func (s *Server) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	exp, err := s.getExperiment(ctx, r.PathValue("id"))
	if err != nil {
		s.respondExperimentErr(w, err)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
	}

	recs, err := s.allocations.List(ctx, exp.ID, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list allocations failed")
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"experiment_id": exp.ID,
		"allocations":   recs,
	})
}

// getExperiment reads through the LRU cache.
func (s *Server) getExperiment(ctx context.Context, id string) (*api.Experiment, error) {
	if exp, ok := s.expCache.Get(id); ok {
		return exp, nil
	}
	exp, err := s.experiments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.expCache.Set(id, exp)
	return exp, nil
}

func (s *Server) respondExperimentErr(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "experiment not found", "")
		return
	}
	s.log.Error().Err(err).Msg("experiment store error")
	writeError(w, http.StatusInternalServerError, "internal server error", "")
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.Handler()

	if !s.metricsAuth.enabled {
		return handler
	}

	// Wrap with Basic Auth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.metricsAuth.user || pass != s.metricsAuth.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, &api.ErrorResponse{Error: msg, Details: details})
}
