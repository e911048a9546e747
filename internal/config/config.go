// Package config provides configuration loading and structs for the Bazaar server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SecretEnv overrides auth.secret when set.
const SecretEnv = "BAZAAR_AUTH_SECRET"

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Features   FeaturesConfig   `yaml:"features"`
	Training   TrainingConfig   `yaml:"training"`
	Service    ServiceConfig    `yaml:"service"`
	Registry   RegistryConfig   `yaml:"registry"`
	Datasets   DatasetsConfig   `yaml:"datasets"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// StorageConfig holds paths for the catalog database and model artifacts.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	ModelsDir    string `yaml:"models_dir"`
}

// AuthConfig holds token signing and bootstrap credentials.
type AuthConfig struct {
	Secret         string          `yaml:"secret"`
	BootstrapUsers []BootstrapUser `yaml:"bootstrap_users"`
}

// BootstrapUser is created in the credential store at startup if missing.
type BootstrapUser struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

// RateLimitConfig holds per-endpoint-class quotas for one fixed window.
type RateLimitConfig struct {
	Window        time.Duration `yaml:"window"`
	Root          int           `yaml:"root"`
	Analyze       int           `yaml:"analyze"`
	ModelInfo     int           `yaml:"model_info"`
	Admin         int           `yaml:"admin"`
	Token         int           `yaml:"token"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// NormalizerConfig holds stopwords and the financial-term dictionary.
type NormalizerConfig struct {
	Stopwords      []string          `yaml:"stopwords"`
	StopwordsFile  string            `yaml:"stopwords_file"`
	FinancialTerms map[string]string `yaml:"financial_terms"`
}

// FeaturesConfig holds TF-IDF vocabulary settings.
type FeaturesConfig struct {
	MaxFeatures int `yaml:"max_features"`
	NGramMax    int `yaml:"ngram_max"`
	MinDF       int `yaml:"min_df"`
}

// TrainingConfig holds classifier training and tuning settings.
type TrainingConfig struct {
	Scheme              string             `yaml:"scheme"`
	Algorithm           string             `yaml:"algorithm"`
	Seed                int64              `yaml:"seed"`
	TestSize            float64            `yaml:"test_size"`
	MinExamplesPerClass int                `yaml:"min_examples_per_class"`
	CVFolds             int                `yaml:"cv_folds"`
	MaxConcurrentJobs   int                `yaml:"max_concurrent_jobs"`
	Hyperparameters     map[string]float64 `yaml:"hyperparameters"`
}

// ServiceConfig holds prediction serving settings.
type ServiceConfig struct {
	BatchWorkers   int `yaml:"batch_workers"`
	ModelCacheSize int `yaml:"model_cache_size"`
}

// RegistryConfig holds persistence retry settings.
type RegistryConfig struct {
	PersistRetries int           `yaml:"persist_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

// DatasetsConfig holds the training-data inbox settings.
type DatasetsConfig struct {
	InboxDirs  []string `yaml:"inbox_dirs"`
	Extensions []string `yaml:"extensions"`
	AutoTrain  bool     `yaml:"auto_train"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if secret := os.Getenv(SecretEnv); secret != "" {
		cfg.Auth.Secret = secret
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.ModelsDir = expandPath(cfg.Storage.ModelsDir, configDir)
	if cfg.Normalizer.StopwordsFile != "" {
		cfg.Normalizer.StopwordsFile = expandPath(cfg.Normalizer.StopwordsFile, configDir)
	}
	for i := range cfg.Datasets.InboxDirs {
		cfg.Datasets.InboxDirs[i] = expandPath(cfg.Datasets.InboxDirs[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path. Used by init-config to write a starter file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate performs sanity checks that do not depend on the command being run.
func (c *Config) Validate() error {
	switch c.Training.Scheme {
	case "binary", "ternary":
	default:
		return fmt.Errorf("training.scheme must be binary or ternary, got %q", c.Training.Scheme)
	}
	switch c.Training.Algorithm {
	case "logistic_regression", "linear_svm", "naive_bayes":
	default:
		return fmt.Errorf("unknown training.algorithm %q", c.Training.Algorithm)
	}
	if c.Training.TestSize <= 0 || c.Training.TestSize >= 1 {
		return fmt.Errorf("training.test_size must be in (0, 1)")
	}
	if c.Training.MinExamplesPerClass < 1 {
		return fmt.Errorf("training.min_examples_per_class must be at least 1")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be greater than zero")
	}
	for name, q := range map[string]int{
		"root":       c.RateLimit.Root,
		"analyze":    c.RateLimit.Analyze,
		"model_info": c.RateLimit.ModelInfo,
		"admin":      c.RateLimit.Admin,
		"token":      c.RateLimit.Token,
	} {
		if q <= 0 {
			return fmt.Errorf("rate_limit.%s must be greater than zero", name)
		}
	}
	return nil
}

// ValidateServer adds the checks only the HTTP server needs.
func (c *Config) ValidateServer() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return fmt.Errorf("auth.secret is required (or set %s)", SecretEnv)
	}
	if len(c.Auth.Secret) < 16 {
		return fmt.Errorf("auth.secret must be at least 16 bytes")
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
