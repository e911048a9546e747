package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/bazaar/internal/auth"
	"github.com/hyperjump/bazaar/internal/classifier"
	"github.com/hyperjump/bazaar/internal/config"
	"github.com/hyperjump/bazaar/internal/models"
	"github.com/hyperjump/bazaar/internal/ratelimit"
	"github.com/hyperjump/bazaar/internal/registry"
	"github.com/hyperjump/bazaar/internal/sentiment"
	"github.com/hyperjump/bazaar/internal/storage"
)

const testSecret = "server-test-secret-0123"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeAnalyzer struct {
	calls atomic.Int32
	panic bool
	nan   bool
	err   error
}

func (f *fakeAnalyzer) PredictBatch(_ context.Context, texts []string, version string) (*sentiment.BatchResult, error) {
	f.calls.Add(1)
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	if version == "" {
		version = "v1"
	}
	out := &sentiment.BatchResult{ModelVersion: version, Total: 3 * time.Millisecond}
	for _, text := range texts {
		out.Results = append(out.Results, sentiment.Prediction{
			Label:          "positive",
			Code:           1,
			Confidence:     0.7,
			Distribution:   map[string]float64{"negative": 0.1, "positive": 0.7, "neutral": 0.2},
			ModelVersion:   version,
			ProcessingTime: time.Millisecond,
			ProcessedText:  text,
			FinancialTerms: map[string]int{},
		})
	}
	if f.nan {
		for i := range out.Results {
			out.Results[i].Confidence = math.NaN()
		}
	}
	return out, nil
}

func (f *fakeAnalyzer) Predict(ctx context.Context, text, version string) (sentiment.Prediction, error) {
	res, err := f.PredictBatch(ctx, []string{text}, version)
	if err != nil {
		return sentiment.Prediction{}, err
	}
	return res.Results[0], nil
}

func (f *fakeAnalyzer) TrainAndRegister(_ context.Context, texts, _ []string, p sentiment.TrainParams) (registry.Metadata, error) {
	return registry.Metadata{ID: "v2", Algorithm: p.Algorithm, Examples: len(texts)}, nil
}

func (f *fakeAnalyzer) Tune(context.Context, []string, []string, string, classifier.Grid) (*classifier.TuneResult, error) {
	return &classifier.TuneResult{Algorithm: "naive_bayes", BestParams: classifier.Params{"alpha": 0.5}}, nil
}

type fakeCatalog struct {
	mu      sync.Mutex
	current *registry.Pointer
	meta    map[string]registry.Metadata
}

func (c *fakeCatalog) Current() (registry.Pointer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return registry.Pointer{}, registry.ErrNoCurrent
	}
	return *c.current, nil
}

func (c *fakeCatalog) Get(_ context.Context, id string) (registry.Metadata, error) {
	if m, ok := c.meta[id]; ok {
		return m, nil
	}
	return registry.Metadata{}, registry.ErrNotFound
}

func (c *fakeCatalog) List(context.Context) ([]registry.Metadata, error) {
	return []registry.Metadata{c.meta["v1"]}, nil
}

func (c *fakeCatalog) SetCurrent(ctx context.Context, id string) (registry.Pointer, error) {
	if _, err := c.Get(ctx, id); err != nil {
		return registry.Pointer{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &registry.Pointer{Version: id, PromotedAt: time.Unix(1700000000, 0).UTC()}
	return *c.current, nil
}

type memUsers map[string]*storage.User

func (m memUsers) GetUser(_ context.Context, username string) (*storage.User, error) {
	if u, ok := m[username]; ok {
		return u, nil
	}
	return nil, storage.ErrNotFound
}

type harness struct {
	t        *testing.T
	clock    *clock
	analyzer *fakeAnalyzer
	catalog  *fakeCatalog
	gateway  *auth.Gateway
	handler  http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	users := memUsers{"ali": {Username: "ali", PasswordHash: hash, Role: auth.RoleUser}}
	gw, err := auth.NewGateway(testSecret, users, auth.WithClock(clk.Now))
	if err != nil {
		t.Fatal(err)
	}
	limiter := ratelimit.New(time.Minute, map[ratelimit.Class]int{
		ratelimit.Root:      5,
		ratelimit.Analyze:   10,
		ratelimit.ModelInfo: 5,
		ratelimit.Admin:     5,
		ratelimit.Token:     10,
	}, ratelimit.WithClock(clk.Now))
	catalog := &fakeCatalog{meta: map[string]registry.Metadata{
		"v1": {ID: "v1", Algorithm: "logistic_regression", Scheme: "ternary", Classes: []string{"negative", "positive", "neutral"}, SizeBytes: 2048},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	jobs := sentiment.NewJobs(ctx, 1, nil)
	t.Cleanup(func() {
		cancel()
		jobs.Shutdown()
	})
	analyzer := &fakeAnalyzer{}
	srv := NewServer(analyzer, catalog, gw, limiter, jobs, &config.ServerConfig{MaxBodyBytes: 1 << 20},
		Info{Name: "bazaar", Version: "test"}, nil)
	return &harness{t: t, clock: clk, analyzer: analyzer, catalog: catalog, gateway: gw, handler: srv.Router()}
}

func (h *harness) token(role string) string {
	h.t.Helper()
	tok, err := h.gateway.Sign("user-"+role, role)
	if err != nil {
		h.t.Fatal(err)
	}
	return tok.Raw
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body models.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Detail
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRoot_rateLimitedByIP(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		if rec := h.do(http.MethodGet, "/", "", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := h.do(http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
}

func TestToken(t *testing.T) {
	h := newHarness(t)
	post := func(user, pw string) *httptest.ResponseRecorder {
		form := url.Values{"username": {user}, "password": {pw}}
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := post("ali", "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var tok models.TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		t.Fatal(err)
	}
	if tok.TokenType != "bearer" || tok.AccessToken == "" {
		t.Errorf("token = %+v", tok)
	}
	if rec := h.do(http.MethodGet, "/model/info", tok.AccessToken, nil); rec.Code == http.StatusUnauthorized {
		t.Error("issued token rejected")
	}

	rec = post("ali", "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Error("missing WWW-Authenticate")
	}
	if rec := post("", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty form: status = %d", rec.Code)
	}
}

func TestAnalyzeBatch_orderAndDistribution(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/analyze/batch", h.token(auth.RoleUser),
		models.BatchAnalyzeRequest{Texts: []string{"سهام رشد کرد", "بازار ریزش کرد"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var out models.BatchAnalyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("results = %d", len(out.Results))
	}
	if out.Results[0].ProcessedText != "سهام رشد کرد" || out.Results[1].ProcessedText != "بازار ریزش کرد" {
		t.Errorf("results out of order: %+v", out.Results)
	}
	for i, r := range out.Results {
		sum := 0.0
		for _, p := range r.ProbabilityDistribution {
			sum += p
		}
		if sum < 0.999 || sum > 1.001 {
			t.Errorf("result %d: distribution sums to %v", i, sum)
		}
		if r.ProcessingTime != 0.001 {
			t.Errorf("result %d: processing_time = %v, want seconds", i, r.ProcessingTime)
		}
	}
	if out.TotalProcessingTime != 0.003 {
		t.Errorf("total_processing_time = %v", out.TotalProcessingTime)
	}
}

func TestAnalyzeBatch_tooManyTextsRejectedBeforeInference(t *testing.T) {
	h := newHarness(t)
	texts := make([]string, models.MaxBatchSize+1)
	for i := range texts {
		texts[i] = "قیمت"
	}
	rec := h.do(http.MethodPost, "/analyze/batch", h.token(auth.RoleUser), models.BatchAnalyzeRequest{Texts: texts})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	if n := h.analyzer.calls.Load(); n != 0 {
		t.Errorf("analyzer called %d times", n)
	}
}

func TestAnalyze_validationAndMalformedBody(t *testing.T) {
	h := newHarness(t)
	tok := h.token(auth.RoleUser)
	if rec := h.do(http.MethodPost, "/analyze", tok, models.AnalyzeRequest{Text: "   "}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("blank text: status = %d", rec.Code)
	}
	long := strings.Repeat("ب", models.MaxTextLength+1)
	if rec := h.do(http.MethodPost, "/analyze", tok, models.AnalyzeRequest{Text: long}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("long text: status = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed: status = %d", rec.Code)
	}
	if h.analyzer.calls.Load() != 0 {
		t.Error("analyzer should not be called")
	}
}

func TestAnalyze_rateLimitWindow(t *testing.T) {
	h := newHarness(t)
	tok := h.token(auth.RoleUser)
	body := models.AnalyzeRequest{Text: "سود خالص شرکت افزایش یافت"}
	for i := 0; i < 10; i++ {
		if rec := h.do(http.MethodPost, "/analyze", tok, body); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := h.do(http.MethodPost, "/analyze", tok, body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("11th request: status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	h.clock.Advance(time.Minute)
	// The token is still valid one minute later.
	if rec := h.do(http.MethodPost, "/analyze", tok, body); rec.Code != http.StatusOK {
		t.Fatalf("after window: status = %d", rec.Code)
	}
}

func TestAnalyze_unauthenticatedDoesNotConsumeQuota(t *testing.T) {
	h := newHarness(t)
	body := models.AnalyzeRequest{Text: "شاخص بورس"}
	for i := 0; i < 20; i++ {
		rec := h.do(http.MethodPost, "/analyze", "", body)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Fatal("missing WWW-Authenticate")
		}
	}
	if rec := h.do(http.MethodPost, "/analyze", h.token(auth.RoleUser), body); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAnalyze_expiredToken(t *testing.T) {
	h := newHarness(t)
	tok := h.token(auth.RoleUser)
	h.clock.Advance(30*time.Minute + time.Second)
	rec := h.do(http.MethodPost, "/analyze", tok, models.AnalyzeRequest{Text: "قیمت"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(detail(t, rec), "expired") {
		t.Errorf("detail = %q", detail(t, rec))
	}
}

func TestAnalyze_noCurrentModel(t *testing.T) {
	h := newHarness(t)
	h.analyzer.err = registry.ErrNoCurrent
	rec := h.do(http.MethodPost, "/analyze", h.token(auth.RoleUser), models.AnalyzeRequest{Text: "قیمت"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/model/info", h.token(auth.RoleUser), nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("model info: status = %d", rec.Code)
	}
}

func TestAnalyze_unknownVersion(t *testing.T) {
	h := newHarness(t)
	h.analyzer.err = registry.ErrNotFound
	rec := h.do(http.MethodPost, "/analyze", h.token(auth.RoleUser), models.AnalyzeRequest{Text: "قیمت", ModelVersion: "nope"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAnalyze_panicBecomes500(t *testing.T) {
	h := newHarness(t)
	h.analyzer.panic = true
	rec := h.do(http.MethodPost, "/analyze", h.token(auth.RoleUser), models.AnalyzeRequest{Text: "قیمت"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if d := detail(t, rec); d != "Internal server error" {
		t.Errorf("detail = %q", d)
	}
}

func TestAnalyze_unencodableResultBecomes500(t *testing.T) {
	h := newHarness(t)
	h.analyzer.nan = true
	rec := h.do(http.MethodPost, "/analyze", h.token(auth.RoleUser), models.AnalyzeRequest{Text: "قیمت"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if d := detail(t, rec); d != "Internal server error" {
		t.Errorf("detail = %q", d)
	}
}

func TestAdminEndpoints_requireAdmin(t *testing.T) {
	h := newHarness(t)
	user := h.token(auth.RoleUser)
	rec := h.do(http.MethodPost, "/model/promote", user, models.PromoteRequest{Version: "v1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("promote as user: status = %d", rec.Code)
	}
	if _, err := h.catalog.Current(); err == nil {
		t.Error("forbidden promote changed the current version")
	}
	rec = h.do(http.MethodPost, "/model/train", user, map[string]any{"texts": []string{"الف"}, "labels": []int{1}})
	if rec.Code != http.StatusForbidden {
		t.Errorf("train as user: status = %d", rec.Code)
	}
}

func TestPromoteAndModelInfo(t *testing.T) {
	h := newHarness(t)
	admin := h.token(auth.RoleAdmin)
	if rec := h.do(http.MethodPost, "/model/promote", admin, models.PromoteRequest{Version: "missing"}); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown version: status = %d", rec.Code)
	}
	rec := h.do(http.MethodPost, "/model/promote", admin, models.PromoteRequest{Version: "v1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("promote: status = %d body=%s", rec.Code, rec.Body)
	}

	rec = h.do(http.MethodGet, "/model/info", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("info: status = %d", rec.Code)
	}
	var info models.ModelInfoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.Version != "v1" || info.Scheme != "ternary" || len(info.Classes) != 3 {
		t.Errorf("info = %+v", info)
	}
	if info.LastUpdated.IsZero() {
		t.Error("last_updated should be the promotion time")
	}

	rec = h.do(http.MethodGet, "/model/versions", admin, nil)
	var versions models.VersionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &versions); err != nil {
		t.Fatal(err)
	}
	if versions.Current != "v1" || len(versions.Versions) != 1 || !versions.Versions[0].Current {
		t.Errorf("versions = %+v", versions)
	}
	if len(versions.Versions) == 1 && versions.Versions[0].SizeBytes != 2048 {
		t.Errorf("size_bytes = %d", versions.Versions[0].SizeBytes)
	}
}

func TestTrainJob(t *testing.T) {
	h := newHarness(t)
	admin := h.token(auth.RoleAdmin)
	rec := h.do(http.MethodPost, "/model/train", admin, map[string]any{
		"texts":  []string{"سود", "زیان"},
		"labels": []any{1, "negative"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var job models.JobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.Kind != sentiment.KindTrain {
		t.Fatalf("job = %+v", job)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = h.do(http.MethodGet, "/model/jobs/"+job.ID, admin, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get job: status = %d", rec.Code)
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
			t.Fatal(err)
		}
		if job.Status == string(sentiment.JobSucceeded) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish: %+v", job)
		}
		// Each poll costs admin quota.
		h.clock.Advance(time.Minute)
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := h.catalog.Current(); err == nil {
		t.Error("training must not promote")
	}

	if rec := h.do(http.MethodGet, "/model/jobs/unknown", admin, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job: status = %d", rec.Code)
	}
}

func TestNotFoundRoute(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/nope", "", nil)
	if rec.Code != http.StatusNotFound || detail(t, rec) != "Not Found" {
		t.Errorf("status = %d body=%s", rec.Code, rec.Body)
	}
}
