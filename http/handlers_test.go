package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cyclescreen/assessment"
	"cyclescreen/db"
	"cyclescreen/ml"
	"cyclescreen/policy"
)

type stubClassifier struct {
	proba []float64
}

func (s *stubClassifier) Predict(features []float64) (int, error) {
	if s.proba[1] >= 0.5 {
		return 1, nil
	}
	return 0, nil
}

func (s *stubClassifier) PredictProba(features []float64) ([]float64, error) {
	return s.proba, nil
}

func stubRegistry(t *testing.T, probA, probB float64) *ml.Registry {
	t.Helper()
	pcod, err := ml.NewSchema("pcod", []string{"Age", "Hair growth"}, []string{"Age"},
		map[string]ml.Range{"Age": {Min: 10, Max: 60}})
	if err != nil {
		t.Fatal(err)
	}
	pcos, err := ml.NewSchema("pcos", []string{"Weight (in Kg)", "Pimples"}, []string{"Weight (in Kg)"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	reg := ml.NewRegistry()
	reg.Set(
		&ml.Bundle{Key: "pcod", Name: "PCOD", Classifier: &stubClassifier{proba: []float64{1 - probA, probA}}, Schema: pcod},
		&ml.Bundle{Key: "pcos", Name: "PCOS", Classifier: &stubClassifier{proba: []float64{1 - probB, probB}}, Schema: pcos},
	)
	return reg
}

// setupService 注入评估服务，测试结束后清理
func setupService(t *testing.T, probA, probB float64, recorder assessment.Recorder) *ml.Registry {
	t.Helper()
	reg := stubRegistry(t, probA, probB)
	svc, err := assessment.NewService(reg, assessment.Options{Recorder: recorder})
	if err != nil {
		t.Fatal(err)
	}
	SetRegistry(reg)
	SetAssessor(svc)
	t.Cleanup(func() {
		SetRegistry(nil)
		SetAssessor(nil)
	})
	return reg
}

const validBody = `{"answers":{"pcod":{"Age":25,"Hair growth":1},"pcos":{"Weight (in Kg)":60,"Pimples":0}}}`

func TestHealthHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(handleHealth)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	expected := `{"status":"ok"}`
	if rr.Body.String() != expected+"\n" && rr.Body.String() != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestHealthReportsGeneration(t *testing.T) {
	setupService(t, 0.1, 0.1, nil)

	rr := httptest.NewRecorder()
	handleHealth(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var payload map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload["generation"].(float64) != 1 {
		t.Fatalf("unexpected generation: %v", payload["generation"])
	}
}

func TestHealthReportsPolicy(t *testing.T) {
	setupService(t, 0.1, 0.1, nil)

	rr := httptest.NewRecorder()
	handleHealth(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var payload struct {
		Policy policy.Policy `json:"policy"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.Policy != policy.Default() {
		t.Fatalf("expected default policy, got %+v", payload.Policy)
	}
}

func TestHandleAssess(t *testing.T) {
	setupService(t, 0.72, 0.41, nil)
	mux := http.NewServeMux()
	RegisterHandlers(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/assess", strings.NewReader(validBody))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var a assessment.Assessment
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if a.Category != policy.ALikely {
		t.Fatalf("expected a_likely, got %s", a.Category)
	}
	if a.Message != "You are more likely to have PCOD." {
		t.Fatalf("unexpected message: %q", a.Message)
	}
	if len(a.Summary) != 3 || a.Summary[0] != "PCOD prediction: Yes (1) | Probability: 0.72" {
		t.Fatalf("unexpected summary: %v", a.Summary)
	}
}

func TestHandleAssessUsesAcceptLanguage(t *testing.T) {
	setupService(t, 0.1, 0.2, nil)
	mux := http.NewServeMux()
	RegisterHandlers(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/assess", strings.NewReader(validBody))
	req.Header.Set("Accept-Language", "hi-IN,hi;q=0.9")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	var a assessment.Assessment
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if a.Language != "hi" {
		t.Fatalf("expected hi, got %q", a.Language)
	}
}

func TestHandleAssessLanguageFallback(t *testing.T) {
	setupService(t, 0.1, 0.2, nil)
	mux := http.NewServeMux()
	RegisterHandlers(mux)

	cases := []struct {
		lang   string
		accept string
		want   string
	}{
		{"fr", "hi", "hi"},
		{"fr", "", "en"},
		{"en", "hi", "en"},
		{"hi", "en", "hi"},
	}
	for _, c := range cases {
		body := strings.Replace(validBody, `{"answers"`, `{"lang":"`+c.lang+`","answers"`, 1)
		req := httptest.NewRequest(http.MethodPost, "/api/assess", strings.NewReader(body))
		if c.accept != "" {
			req.Header.Set("Accept-Language", c.accept)
		}
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("lang %q: expected 200, got %d: %s", c.lang, w.Code, w.Body.String())
		}
		var a assessment.Assessment
		if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if a.Language != c.want {
			t.Fatalf("lang %q with Accept-Language %q: expected %s, got %q", c.lang, c.accept, c.want, a.Language)
		}
	}
}

func TestHandleAssessRejectsMalformedLanguage(t *testing.T) {
	setupService(t, 0.1, 0.2, nil)
	mux := http.NewServeMux()
	RegisterHandlers(mux)

	body := strings.Replace(validBody, `{"answers"`, `{"lang":"not a tag!","answers"`, 1)
	req := httptest.NewRequest(http.MethodPost, "/api/assess", strings.NewReader(body))
	req.Header.Set("Accept-Language", "hi")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleAssessValidation(t *testing.T) {
	setupService(t, 0.5, 0.5, nil)
	mux := http.NewServeMux()
	RegisterHandlers(mux)

	body := `{"answers":{"pcod":{"Age":99,"Hair growth":3}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/assess", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	var payload struct {
		Error  string          `json:"error"`
		Fields []ml.FieldError `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(payload.Fields) != 3 {
		t.Fatalf("expected 3 field errors, got %+v", payload.Fields)
	}
}

func TestHandleAssessBadJSON(t *testing.T) {
	setupService(t, 0.5, 0.5, nil)
	mux := http.NewServeMux()
	RegisterHandlers(mux)

	for _, body := range []string{`{"answers":`, `{"answers":{},"extra":1}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/assess", strings.NewReader(body))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestHandleAssessNotInitialized(t *testing.T) {
	SetAssessor(nil)
	w := httptest.NewRecorder()
	handleAssess(w, httptest.NewRequest(http.MethodPost, "/api/assess", strings.NewReader(validBody)))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandleSchema(t *testing.T) {
	setupService(t, 0.5, 0.5, nil)
	w := httptest.NewRecorder()
	handleSchema(w, httptest.NewRequest(http.MethodGet, "/api/schema", nil))

	var payload struct {
		Conditions []struct {
			Key    string     `json:"key"`
			Fields []ml.Field `json:"fields"`
		} `json:"conditions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(payload.Conditions) != 2 || payload.Conditions[0].Key != "pcod" {
		t.Fatalf("unexpected conditions: %+v", payload.Conditions)
	}
	age := payload.Conditions[0].Fields[0]
	if age.Kind != ml.KindCount || age.Range == nil || age.Range.Max != 60 {
		t.Fatalf("unexpected field: %+v", age)
	}
}

func TestHistoryHandlersWithDatabase(t *testing.T) {
	setupService(t, 0.2, 0.8, assessment.RecorderFunc(db.SaveAssessment))
	mux := http.NewServeMux()
	RegisterHandlers(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/assess", strings.NewReader(validBody)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var created assessment.Assessment
	json.Unmarshal(w.Body.Bytes(), &created)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/assessments/"+created.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got assessment.Assessment
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.Category != policy.BLikely || len(got.Results) != 2 {
		t.Fatalf("unexpected stored assessment: %+v", got)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/assessments/unknown", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	var stats struct {
		Stats db.Stats `json:"stats"`
	}
	json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.Stats.Categories[policy.BLikely] < 1 {
		t.Fatalf("expected b_likely in stats, got %+v", stats.Stats)
	}
}

func TestHandleAssessmentsLimit(t *testing.T) {
	var gotLimit int
	queryAssessments = func(ctx context.Context, limit int) ([]*assessment.Assessment, error) {
		gotLimit = limit
		return []*assessment.Assessment{{ID: "x", CreatedAt: time.Now()}}, nil
	}
	defer func() { queryAssessments = db.QueryAssessments }()

	mux := http.NewServeMux()
	RegisterHandlers(mux)

	tests := []struct {
		query     string
		wantCode  int
		wantLimit int
	}{
		{"", http.StatusOK, defaultHistoryLimit},
		{"?limit=10", http.StatusOK, 10},
		{"?limit=100000", http.StatusOK, maxHistoryLimit},
		{"?limit=-1", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		gotLimit = 0
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/assessments"+tt.query, nil))
		if w.Code != tt.wantCode {
			t.Fatalf("%q: expected %d, got %d", tt.query, tt.wantCode, w.Code)
		}
		if gotLimit != tt.wantLimit {
			t.Fatalf("%q: expected limit %d, got %d", tt.query, tt.wantLimit, gotLimit)
		}
	}
}

func TestHistoryDisabled(t *testing.T) {
	countByCategory = func(ctx context.Context) (db.Stats, error) {
		return db.Stats{}, db.ErrNotInitialized
	}
	defer func() { countByCategory = db.CountByCategory }()

	w := httptest.NewRecorder()
	handleStats(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHistoryQueryFailure(t *testing.T) {
	getAssessment = func(ctx context.Context, id string) (*assessment.Assessment, error) {
		return nil, errors.New("disk I/O error")
	}
	defer func() { getAssessment = db.GetAssessment }()

	mux := http.NewServeMux()
	RegisterHandlers(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/assessments/abc", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "disk") {
		t.Fatalf("internal error leaked: %s", w.Body.String())
	}
}

func TestMain(m *testing.M) {
	// Setup
	dir, err := os.MkdirTemp("", "cyclescreen-http")
	if err != nil {
		panic(err)
	}
	if err := db.InitDB(filepath.Join(dir, "test.db")); err != nil {
		panic(err)
	}

	code := m.Run()

	// Teardown
	db.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}
