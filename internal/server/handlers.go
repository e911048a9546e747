package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/bazaar/internal/auth"
	"github.com/hyperjump/bazaar/internal/classifier"
	"github.com/hyperjump/bazaar/internal/models"
	"github.com/hyperjump/bazaar/internal/ratelimit"
	"github.com/hyperjump/bazaar/internal/registry"
	"github.com/hyperjump/bazaar/internal/sentiment"
)

// decodeJSON reads a JSON body into dst. Any failure is a malformed body (400).
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := io.Reader(r.Body)
	if s.config.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if dec.More() {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// validate runs a request's shape checks (422).
func (s *Server) validate(w http.ResponseWriter, r *http.Request, v interface{ Validate() error }) bool {
	if err := v.Validate(); err != nil {
		s.respondErr(w, r, err)
		return false
	}
	return true
}

// authorize validates the bearer token, enforces the admin role when required,
// and then charges the caller's quota for class.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, class ratelimit.Class, admin bool) (auth.Identity, bool) {
	raw, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		s.respondError(w, http.StatusUnauthorized, "Not authenticated")
		return auth.Identity{}, false
	}
	id, err := s.auth.Validate(raw)
	if err != nil {
		s.respondErr(w, r, err)
		return auth.Identity{}, false
	}
	if admin && !id.IsAdmin() {
		s.respondError(w, http.StatusForbidden, "Admin role required")
		return auth.Identity{}, false
	}
	if err := s.limiter.Check("user:"+id.Subject, class); err != nil {
		s.respondErr(w, r, err)
		return auth.Identity{}, false
	}
	return id, true
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// clientIP keys anonymous endpoints. RealIP has already applied forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if err := s.limiter.Check(clientIP(r), ratelimit.Root); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}
	if err := r.ParseForm(); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid form body")
		return
	}
	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")
	if username == "" || password == "" {
		s.respondErr(w, r, models.Invalid("", "username and password are required"))
		return
	}
	if err := s.limiter.Check(clientIP(r), ratelimit.Token); err != nil {
		s.respondErr(w, r, err)
		return
	}
	tok, err := s.auth.IssueToken(r.Context(), username, password)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.logger.Debug("token issued", zap.String("subject", tok.Subject))
	s.respondJSON(w, http.StatusOK, models.TokenResponse{AccessToken: tok.Raw, TokenType: "bearer"})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, &req) {
		return
	}
	if _, ok := s.authorize(w, r, ratelimit.Analyze, false); !ok {
		return
	}
	p, err := s.analyzer.Predict(r.Context(), req.Text, req.ModelVersion)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, analyzeResponse(p))
}

func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var req models.BatchAnalyzeRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, &req) {
		return
	}
	if _, ok := s.authorize(w, r, ratelimit.Analyze, false); !ok {
		return
	}
	res, err := s.analyzer.PredictBatch(r.Context(), req.Texts, req.ModelVersion)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	out := models.BatchAnalyzeResponse{
		Results:             make([]models.AnalyzeResponse, len(res.Results)),
		TotalProcessingTime: res.Total.Seconds(),
	}
	for i, p := range res.Results {
		out.Results[i] = analyzeResponse(p)
	}
	s.respondJSON(w, http.StatusOK, out)
}

func analyzeResponse(p sentiment.Prediction) models.AnalyzeResponse {
	return models.AnalyzeResponse{
		Sentiment:               p.Label,
		Confidence:              p.Confidence,
		ModelVersion:            p.ModelVersion,
		ProcessingTime:          p.ProcessingTime.Seconds(),
		ProbabilityDistribution: p.Distribution,
		ProcessedText:           p.ProcessedText,
		FinancialTerms:          p.FinancialTerms,
	}
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, ratelimit.ModelInfo, false); !ok {
		return
	}
	ptr, err := s.catalog.Current()
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	meta, err := s.catalog.Get(r.Context(), ptr.Version)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.ModelInfoResponse{
		Version:            meta.ID,
		CreatedAt:          meta.CreatedAt,
		LastUpdated:        ptr.PromotedAt,
		Algorithm:          meta.Algorithm,
		Scheme:             meta.Scheme,
		Classes:            meta.Classes,
		PerformanceMetrics: performance(meta.Metrics),
	})
}

func (s *Server) handleModelVersions(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, ratelimit.ModelInfo, false); !ok {
		return
	}
	list, err := s.catalog.List(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	current := ""
	if ptr, err := s.catalog.Current(); err == nil {
		current = ptr.Version
	}
	out := models.VersionsResponse{Versions: make([]models.VersionSummary, len(list)), Current: current}
	for i, meta := range list {
		out.Versions[i] = versionSummary(meta, current)
	}
	s.respondJSON(w, http.StatusOK, out)
}

func versionSummary(meta registry.Metadata, current string) models.VersionSummary {
	return models.VersionSummary{
		Version:            meta.ID,
		CreatedAt:          meta.CreatedAt,
		Algorithm:          meta.Algorithm,
		Scheme:             meta.Scheme,
		Hyperparameters:    meta.Hyperparameters,
		Examples:           meta.Examples,
		SizeBytes:          meta.SizeBytes,
		Current:            meta.ID == current,
		PerformanceMetrics: performance(meta.Metrics),
	}
}

func performance(r classifier.Report) models.PerformanceMetrics {
	conv := func(m classifier.Metrics) models.PartitionMetrics {
		return models.PartitionMetrics{
			Accuracy:  m.Accuracy,
			Precision: m.Precision,
			Recall:    m.Recall,
			F1:        m.F1,
			Support:   m.Support,
		}
	}
	return models.PerformanceMetrics{Train: conv(r.Train), Test: conv(r.Test)}
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req models.PromoteRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, &req) {
		return
	}
	id, ok := s.authorize(w, r, ratelimit.Admin, true)
	if !ok {
		return
	}
	ptr, err := s.catalog.SetCurrent(r.Context(), req.Version)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.logger.Info("model promoted via API", zap.String("version", ptr.Version), zap.String("by", id.Subject))
	s.respondJSON(w, http.StatusOK, map[string]any{"version": ptr.Version, "promoted_at": ptr.PromotedAt})
}

func labelStrings(labels []models.Label) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req models.TrainRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, &req) {
		return
	}
	id, ok := s.authorize(w, r, ratelimit.Admin, true)
	if !ok {
		return
	}
	texts, labels := req.Texts, labelStrings(req.Labels)
	params := sentiment.TrainParams{
		Algorithm:       req.Algorithm,
		Hyperparameters: classifier.Params(req.Hyperparameters),
		Source:          "api:" + id.Subject,
	}
	job := s.jobs.Submit(sentiment.KindTrain, func(ctx context.Context) (any, error) {
		return s.analyzer.TrainAndRegister(ctx, texts, labels, params)
	})
	s.respondJSON(w, http.StatusAccepted, jobResponse(job))
}

func (s *Server) handleTune(w http.ResponseWriter, r *http.Request) {
	var req models.TuneRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, &req) {
		return
	}
	if _, ok := s.authorize(w, r, ratelimit.Admin, true); !ok {
		return
	}
	texts, labels := req.Texts, labelStrings(req.Labels)
	algorithm, grid := req.Algorithm, classifier.Grid(req.ParamGrid)
	job := s.jobs.Submit(sentiment.KindTune, func(ctx context.Context) (any, error) {
		return s.analyzer.Tune(ctx, texts, labels, algorithm, grid)
	})
	s.respondJSON(w, http.StatusAccepted, jobResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, ratelimit.Admin, true); !ok {
		return
	}
	job, err := s.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, jobResponse(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, ratelimit.Admin, true); !ok {
		return
	}
	job, err := s.jobs.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, jobResponse(job))
}

func jobResponse(job sentiment.Job) models.JobResponse {
	out := models.JobResponse{
		ID:        job.ID,
		Kind:      job.Kind,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
	}
	if job.Finished() {
		finished := job.FinishedAt
		out.FinishedAt = &finished
	}
	if job.Err != nil {
		out.Error = jobErrorMessage(job.Err)
	}
	switch res := job.Result.(type) {
	case registry.Metadata:
		out.Result = versionSummary(res, "")
	case *classifier.TuneResult:
		out.Result = res
	}
	return out
}

// jobErrorMessage exposes only client-facing errors; others are summarized.
func jobErrorMessage(err error) string {
	var (
		ve *models.ValidationError
		te *classifier.TrainingError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &te):
		return te.Error()
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "internal error"
}
