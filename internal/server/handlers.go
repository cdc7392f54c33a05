package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nholik/flag-sentinel/internal/flags"
	"github.com/nholik/flag-sentinel/internal/remote"
	"github.com/nholik/flag-sentinel/internal/rollback"
	"github.com/nholik/flag-sentinel/internal/telemetry"
)

type listResponse struct {
	flags.Set
	CacheInfo struct {
		LastUpdated string `json:"lastUpdated"`
		TotalFlags  int    `json:"totalFlags"`
	} `json:"cacheInfo"`
}

func buildListResponse(set flags.Set) listResponse {
	resp := listResponse{Set: set}
	resp.CacheInfo.LastUpdated = set.LastUpdated
	resp.CacheInfo.TotalFlags = len(set.Flags)
	return resp
}

// handleListFlags refreshes from the remote store before answering, so a
// caller sees its own writes. A failed refresh falls back to the cached
// snapshot.
func (s *Server) handleListFlags(w http.ResponseWriter, r *http.Request) {
	set, err := s.deps.Synchronizer.Refresh(r.Context())
	if err != nil {
		s.deps.Logger.Warn().Err(err).Msg("list refresh failed, serving cached snapshot")
	}
	writeJSON(w, http.StatusOK, buildListResponse(set))
}

func (s *Server) handleListCached(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildListResponse(s.deps.Engine.SnapshotSet()))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Stats())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	set, err := s.deps.Synchronizer.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "refresh failed, serving previous snapshot")
		return
	}
	writeJSON(w, http.StatusOK, buildListResponse(set))
}

func (s *Server) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	def, ok := s.deps.Engine.Flag(name)
	if !ok {
		writeError(w, http.StatusNotFound, "feature flag not found")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleUpsertFlag(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req flags.Upsert
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	def, err := s.deps.Mutations.Upsert(r.Context(), name, req)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeleteFlag(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.deps.Mutations.Delete(r.Context(), name); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "feature flag deleted"})
}

func (s *Server) handleSetRollout(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req struct {
		Percentage *int `json:"percentage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Percentage == nil {
		writeError(w, http.StatusBadRequest, "percentage is required")
		return
	}

	def, err := s.deps.Mutations.SetRollout(r.Context(), name, *req.Percentage)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

type evaluateRequest struct {
	UserID         string         `json:"userId"`
	UserGroups     []string       `json:"userGroups"`
	UserAttributes map[string]any `json:"userAttributes"`
}

func (req evaluateRequest) context() flags.Context {
	return flags.Context{
		UserID:         req.UserID,
		UserGroups:     req.UserGroups,
		UserAttributes: req.UserAttributes,
	}
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Engine.Evaluate(r.Context(), name, req.context()))
}

func (s *Server) handleBatchEvaluate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		evaluateRequest
		FlagNames []string `json:"flagNames"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if len(req.FlagNames) == 0 {
		writeError(w, http.StatusBadRequest, "flagNames is required")
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Engine.BatchEvaluate(r.Context(), req.FlagNames, req.context()))
}

func (s *Server) handleConfigureAlarm(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alarms == nil {
		writeError(w, http.StatusServiceUnavailable, "alarm backend not configured")
		return
	}
	name := r.PathValue("name")

	if _, ok := s.deps.Engine.Flag(name); !ok {
		writeError(w, http.StatusNotFound, "feature flag not found")
		return
	}

	var req struct {
		MetricName        string   `json:"metricName"`
		Threshold         *float64 `json:"threshold"`
		EvaluationPeriods int32    `json:"evaluationPeriods"`
		Period            int32    `json:"period"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Threshold == nil {
		writeError(w, http.StatusBadRequest, "threshold is required")
		return
	}

	cfg := telemetry.AlarmConfig{
		MetricName:        req.MetricName,
		Threshold:         *req.Threshold,
		EvaluationPeriods: req.EvaluationPeriods,
		Period:            req.Period,
	}
	if err := s.deps.Alarms.Configure(r.Context(), name, cfg); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"alarmName": telemetry.AlarmName(name)})
}

func (s *Server) handleRemoveAlarm(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alarms == nil {
		writeError(w, http.StatusServiceUnavailable, "alarm backend not configured")
		return
	}
	name := r.PathValue("name")
	if err := s.deps.Alarms.Remove(r.Context(), name); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "rollback alarm removed"})
}

func (s *Server) handleFlagMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alarms == nil {
		writeError(w, http.StatusServiceUnavailable, "alarm backend not configured")
		return
	}

	name := r.PathValue("name")
	metricName := r.URL.Query().Get("metric")
	if metricName == "" {
		metricName = "ErrorRate"
	}

	end := time.Now().UTC()
	start := end.Add(-1 * time.Hour)
	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start time")
			return
		}
		start = parsed
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end time")
			return
		}
		end = parsed
	}

	datapoints, err := s.deps.Alarms.Query(r.Context(), name, metricName, start, end, 300)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"flagName":   name,
		"metric":     metricName,
		"datapoints": datapoints,
	})
}

func (s *Server) handleAlarmWebhook(w http.ResponseWriter, r *http.Request) {
	var notification rollback.Notification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		writeError(w, http.StatusBadRequest, "invalid alarm payload")
		return
	}

	result := s.deps.Rollbacks.HandleAlarm(r.Context(), notification)
	writeJSON(w, result.Outcome.StatusCode(), result)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if s.deps.Invoker == nil {
		writeError(w, http.StatusServiceUnavailable, "function invocation not configured")
		return
	}

	var req struct {
		FunctionName string          `json:"functionName"`
		Payload      json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FunctionName == "" {
		writeError(w, http.StatusBadRequest, "functionName is required")
		return
	}

	result, err := s.deps.Invoker.Invoke(r.Context(), req.FunctionName, req.Payload)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"statusCode": result.StatusCode,
		"payload":    json.RawMessage(result.Payload),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeMappedError(w http.ResponseWriter, err error) {
	var validation *flags.ValidationError
	if errors.As(err, &validation) {
		writeError(w, http.StatusBadRequest, validation.Reason)
		return
	}
	var notFound *flags.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, notFound.Error())
		return
	}
	var upstream *remote.UpstreamError
	if errors.As(err, &upstream) {
		writeError(w, http.StatusBadGateway, "upstream service unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
