package config

import "time"

// DefaultStopwords are common Persian function words dropped before feature extraction.
var DefaultStopwords = []string{
	"و", "در", "به", "از", "که", "این", "است", "را", "با", "برای",
	"آن", "یک", "های", "یا", "اما", "اگر", "چون", "چرا", "چگونه",
}

// DefaultFinancialTerms maps Persian market vocabulary to tags.
var DefaultFinancialTerms = map[string]string{
	"سهام":      "stock",
	"بورس":      "stock_market",
	"قیمت":      "price",
	"خرید":      "buy",
	"فروش":      "sell",
	"سود":       "profit",
	"زیان":      "loss",
	"تحلیل":     "analysis",
	"تکنیکال":   "technical",
	"فاندامنتال": "fundamental",
	"شاخص":      "index",
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/bazaar/data/db/bazaar.db"
	}
	if cfg.Storage.ModelsDir == "" {
		cfg.Storage.ModelsDir = "/usr/local/var/bazaar/data/models"
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.RateLimit.Root == 0 {
		cfg.RateLimit.Root = 5
	}
	if cfg.RateLimit.Analyze == 0 {
		cfg.RateLimit.Analyze = 10
	}
	if cfg.RateLimit.ModelInfo == 0 {
		cfg.RateLimit.ModelInfo = 5
	}
	if cfg.RateLimit.Admin == 0 {
		cfg.RateLimit.Admin = 5
	}
	if cfg.RateLimit.Token == 0 {
		cfg.RateLimit.Token = 10
	}
	if cfg.RateLimit.SweepInterval == 0 {
		cfg.RateLimit.SweepInterval = 5 * time.Minute
	}
	if cfg.Normalizer.Stopwords == nil {
		cfg.Normalizer.Stopwords = append([]string(nil), DefaultStopwords...)
	}
	if cfg.Normalizer.FinancialTerms == nil {
		cfg.Normalizer.FinancialTerms = make(map[string]string, len(DefaultFinancialTerms))
		for k, v := range DefaultFinancialTerms {
			cfg.Normalizer.FinancialTerms[k] = v
		}
	}
	if cfg.Features.MaxFeatures == 0 {
		cfg.Features.MaxFeatures = 5000
	}
	if cfg.Features.NGramMax == 0 {
		cfg.Features.NGramMax = 2
	}
	if cfg.Features.MinDF == 0 {
		cfg.Features.MinDF = 1
	}
	if cfg.Training.Scheme == "" {
		cfg.Training.Scheme = "ternary"
	}
	if cfg.Training.Algorithm == "" {
		cfg.Training.Algorithm = "logistic_regression"
	}
	if cfg.Training.Seed == 0 {
		cfg.Training.Seed = 42
	}
	if cfg.Training.TestSize == 0 {
		cfg.Training.TestSize = 0.2
	}
	if cfg.Training.MinExamplesPerClass == 0 {
		cfg.Training.MinExamplesPerClass = 2
	}
	if cfg.Training.CVFolds == 0 {
		cfg.Training.CVFolds = 3
	}
	if cfg.Training.MaxConcurrentJobs == 0 {
		cfg.Training.MaxConcurrentJobs = 1
	}
	if cfg.Service.BatchWorkers == 0 {
		cfg.Service.BatchWorkers = 4
	}
	if cfg.Service.ModelCacheSize == 0 {
		cfg.Service.ModelCacheSize = 4
	}
	if cfg.Registry.PersistRetries == 0 {
		cfg.Registry.PersistRetries = 3
	}
	if cfg.Registry.RetryBackoff == 0 {
		cfg.Registry.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.Datasets.Extensions == nil {
		cfg.Datasets.Extensions = []string{".csv", ".tsv", ".xlsx"}
	}
}
