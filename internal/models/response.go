package models

import "time"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// TokenResponse is the body of POST /token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// AnalyzeResponse is one prediction. ProcessingTime is in seconds.
type AnalyzeResponse struct {
	Sentiment               string             `json:"sentiment"`
	Confidence              float64            `json:"confidence"`
	ModelVersion            string             `json:"model_version"`
	ProcessingTime          float64            `json:"processing_time"`
	ProbabilityDistribution map[string]float64 `json:"probability_distribution"`
	ProcessedText           string             `json:"processed_text"`
	FinancialTerms          map[string]int     `json:"financial_terms"`
}

// BatchAnalyzeResponse holds one result per input text, in input order.
type BatchAnalyzeResponse struct {
	Results             []AnalyzeResponse `json:"results"`
	TotalProcessingTime float64           `json:"total_processing_time"`
}

// PartitionMetrics are the scores of one data partition.
type PartitionMetrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// PerformanceMetrics pairs the train and test partition scores.
type PerformanceMetrics struct {
	Train PartitionMetrics `json:"train"`
	Test  PartitionMetrics `json:"test"`
}

// ModelInfoResponse is the body of GET /model/info.
type ModelInfoResponse struct {
	Version            string             `json:"version"`
	CreatedAt          time.Time          `json:"created_at"`
	LastUpdated        time.Time          `json:"last_updated"`
	Algorithm          string             `json:"algorithm"`
	Scheme             string             `json:"scheme"`
	Classes            []string           `json:"classes"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
}

// VersionSummary is one entry of GET /model/versions.
type VersionSummary struct {
	Version            string             `json:"version"`
	CreatedAt          time.Time          `json:"created_at"`
	Algorithm          string             `json:"algorithm"`
	Scheme             string             `json:"scheme"`
	Hyperparameters    map[string]float64 `json:"hyperparameters"`
	Examples           int                `json:"examples"`
	SizeBytes          int64              `json:"size_bytes"`
	Current            bool               `json:"current"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
}

// VersionsResponse is the body of GET /model/versions.
type VersionsResponse struct {
	Versions []VersionSummary `json:"versions"`
	Current  string           `json:"current,omitempty"`
}

// JobResponse describes a background training or tuning job.
type JobResponse struct {
	ID         string     `json:"job_id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Result     any        `json:"result,omitempty"`
}
