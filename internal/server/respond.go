package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/bazaar/internal/auth"
	"github.com/hyperjump/bazaar/internal/classifier"
	"github.com/hyperjump/bazaar/internal/models"
	"github.com/hyperjump/bazaar/internal/ratelimit"
	"github.com/hyperjump/bazaar/internal/registry"
	"github.com/hyperjump/bazaar/internal/sentiment"
)

// respondJSON encodes data before writing the status, so an unencodable value
// becomes a 500 instead of an empty success body.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Int("status", status), zap.Error(err))
		status = http.StatusInternalServerError
		body, _ = json.Marshal(models.ErrorResponse{Detail: "Internal server error"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, models.ErrorResponse{Detail: message})
}

// respondErr maps err onto a status code. Errors outside the known taxonomy are
// logged and reported as a generic 500.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *models.ValidationError
		ae *auth.Error
		re *ratelimit.Error
		te *classifier.TrainingError
	)
	switch {
	case errors.As(err, &ve):
		s.respondError(w, http.StatusUnprocessableEntity, ve.Error())
	case errors.As(err, &ae):
		w.Header().Set("WWW-Authenticate", "Bearer")
		s.respondError(w, http.StatusUnauthorized, ae.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", "Bearer")
		s.respondError(w, http.StatusUnauthorized, "Incorrect username or password")
	case errors.As(err, &re):
		secs := int(math.Ceil(re.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		s.respondError(w, http.StatusTooManyRequests, re.Error())
	case errors.Is(err, registry.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "Model version not found")
	case errors.Is(err, sentiment.ErrJobNotFound):
		s.respondError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, registry.ErrNoCurrent):
		s.respondError(w, http.StatusServiceUnavailable, "No model version has been promoted")
	case errors.As(err, &te):
		s.respondError(w, http.StatusUnprocessableEntity, te.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.respondError(w, http.StatusServiceUnavailable, "Request timed out")
	default:
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
