package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"cyclescreen/assessment"
	"cyclescreen/db"
	"cyclescreen/ml"
	"cyclescreen/monitoring"
	"cyclescreen/policy"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Assessor 评估服务接口
type Assessor interface {
	Assess(ctx context.Context, req assessment.Request) (*assessment.Assessment, error)
	Policy() policy.Policy
}

var (
	assessor Assessor
	registry *ml.Registry
	hub      *monitoring.Hub
	metrics  *monitoring.Metrics
	logger   = zap.NewNop()
)

// 历史记录查询，测试中可替换
var (
	queryAssessments = db.QueryAssessments
	getAssessment    = db.GetAssessment
	countByCategory  = db.CountByCategory
)

func SetAssessor(a Assessor) {
	assessor = a
}

func SetRegistry(r *ml.Registry) {
	registry = r
}

func SetHub(h *monitoring.Hub) {
	hub = h
}

func SetMetrics(m *monitoring.Metrics) {
	metrics = m
}

func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

func RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/schema", handleSchema)
	mux.HandleFunc("POST /api/assess", handleAssess)
	mux.HandleFunc("GET /api/assessments", handleAssessments)
	mux.HandleFunc("GET /api/assessments/{id}", handleAssessment)
	mux.HandleFunc("GET /api/stats", handleStats)
	mux.HandleFunc("GET /api/ws/assessments", handleWebSocket)
	mux.HandleFunc("GET /metrics", handleMetrics)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if registry != nil {
		resp["generation"] = registry.Generation()
	}
	if assessor != nil {
		resp["policy"] = assessor.Policy()
	}
	respondJSON(w, resp)
}

type schemaResponse struct {
	Key    string     `json:"key"`
	Name   string     `json:"name"`
	Fields []ml.Field `json:"fields"`
}

func handleSchema(w http.ResponseWriter, r *http.Request) {
	if registry == nil {
		respondError(w, http.StatusServiceUnavailable, "artifacts not loaded")
		return
	}
	bundles, generation := registry.Snapshot()
	conditions := make([]schemaResponse, 0, len(bundles))
	for _, b := range bundles {
		conditions = append(conditions, schemaResponse{Key: b.Key, Name: b.Name, Fields: b.Schema.Fields})
	}
	respondJSON(w, map[string]interface{}{
		"generation": generation,
		"conditions": conditions,
	})
}

func handleAssess(w http.ResponseWriter, r *http.Request) {
	if assessor == nil {
		respondError(w, http.StatusServiceUnavailable, "assessment service not initialized")
		return
	}

	var req assessment.Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// 非法语言标签留给校验报错；合法但不支持的标签回退到 Accept-Language
	if _, err := language.Parse(req.Language); req.Language == "" || err == nil {
		req.Language = assessment.MatchLanguage(req.Language, r.Header.Get("Accept-Language")).String()
	}

	a, err := assessor.Assess(r.Context(), req)
	if err != nil {
		respondAssessError(w, r, err)
		return
	}
	respondJSON(w, a)
}

func respondAssessError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ml.ValidationError
	switch {
	case errors.As(err, &verr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":  "invalid input",
			"fields": verr.Errors,
		})
	case errors.Is(err, assessment.ErrNotReady):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "request timeout")
	default:
		logger.Error("assessment failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "assessment failed")
	}
}

func handleAssessments(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = l
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	list, err := queryAssessments(r.Context(), limit)
	if err != nil {
		respondHistoryError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{
		"assessments": list,
		"count":       len(list),
		"limit":       limit,
	})
}

func handleAssessment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}
	a, err := getAssessment(r.Context(), id)
	if err != nil {
		respondHistoryError(w, err)
		return
	}
	respondJSON(w, a)
}

func handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := countByCategory(r.Context())
	if err != nil {
		respondHistoryError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{
		"stats":     stats,
		"timestamp": time.Now().UTC(),
	})
}

func respondHistoryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, db.ErrNotInitialized):
		respondError(w, http.StatusServiceUnavailable, "history is disabled")
	default:
		logger.Error("history query failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "history query failed")
	}
}

func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if hub == nil {
		respondError(w, http.StatusServiceUnavailable, "live feed not initialized")
		return
	}
	hub.HandleWebSocket(w, r)
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}

// respondJSON 统一JSON响应
func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to encode JSON", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
