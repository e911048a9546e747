// Package main is the Bazaar CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/hyperjump/bazaar/internal/auth"
	"github.com/hyperjump/bazaar/internal/classifier"
	"github.com/hyperjump/bazaar/internal/cli"
	"github.com/hyperjump/bazaar/internal/config"
	"github.com/hyperjump/bazaar/internal/dataset"
	"github.com/hyperjump/bazaar/internal/features"
	"github.com/hyperjump/bazaar/internal/normalize"
	"github.com/hyperjump/bazaar/internal/ratelimit"
	"github.com/hyperjump/bazaar/internal/registry"
	"github.com/hyperjump/bazaar/internal/sentiment"
	"github.com/hyperjump/bazaar/internal/server"
	"github.com/hyperjump/bazaar/internal/storage"
	"github.com/hyperjump/bazaar/internal/watcher"
	"github.com/hyperjump/bazaar/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/bazaar/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if it exists, so commands run from a project
// directory use that project's config.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	command, args := os.Args[1], os.Args[2:]
	var err error
	switch command {
	case "server":
		err = runServer(args)
	case "train":
		err = runTrain(args, os.Stdout)
	case "tune":
		err = runTune(args, os.Stdout)
	case "analyze":
		err = runAnalyze(args, os.Stdout)
	case "promote":
		err = runPromote(args, os.Stdout)
	case "versions":
		err = runVersions(args, os.Stdout)
	case "useradd":
		err = runUserAdd(args, os.Stdout)
	case "init-config":
		err = runInitConfig(args, os.Stdout)
	case "version", "--version", "-v":
		fmt.Printf("bazaar version %s\n", version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
}

// components holds the services shared by the server and the offline commands.
type components struct {
	Config   *config.Config
	Logger   *zap.Logger
	Storage  *storage.SQLiteStorage
	Registry *registry.Registry
	Service  *sentiment.Service
}

func (c *components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	_ = c.Logger.Sync()
}

// setup loads config and opens storage, the registry, and the sentiment service.
func setup(configPath string, debug bool) (*components, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	reg, err := registry.Open(store, cfg.Storage.ModelsDir,
		registry.WithLogger(logger),
		registry.WithRetries(cfg.Registry.PersistRetries, cfg.Registry.RetryBackoff))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open model registry: %w", err)
	}

	norm, err := normalize.New(normalize.Options{
		Stopwords:      cfg.Normalizer.Stopwords,
		StopwordsFile:  cfg.Normalizer.StopwordsFile,
		FinancialTerms: cfg.Normalizer.FinancialTerms,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build normalizer: %w", err)
	}
	scheme, err := classifier.ParseScheme(cfg.Training.Scheme)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	svc := sentiment.NewService(norm, reg, sentiment.Options{
		Scheme:          scheme,
		Algorithm:       cfg.Training.Algorithm,
		Hyperparameters: classifier.Params(cfg.Training.Hyperparameters),
		Features: features.Options{
			MaxFeatures: cfg.Features.MaxFeatures,
			NGramMax:    cfg.Features.NGramMax,
			MinDF:       cfg.Features.MinDF,
		},
		Seed:                cfg.Training.Seed,
		TestSize:            cfg.Training.TestSize,
		MinExamplesPerClass: cfg.Training.MinExamplesPerClass,
		CVFolds:             cfg.Training.CVFolds,
		BatchWorkers:        cfg.Service.BatchWorkers,
		ModelCacheSize:      cfg.Service.ModelCacheSize,
	}, logger)

	return &components{Config: cfg, Logger: logger, Storage: store, Registry: reg, Service: svc}, nil
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	c, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer c.Close()
	cfg, logger := c.Config, c.Logger
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Registry.Watch(ctx); err != nil {
		logger.Warn("cross-process promotions will not be picked up", zap.Error(err))
	}
	if n, err := auth.Bootstrap(ctx, c.Storage, cfg.Auth.BootstrapUsers); err != nil {
		return fmt.Errorf("failed to bootstrap users: %w", err)
	} else if n > 0 {
		logger.Info("bootstrap users created", zap.Int("count", n))
	}
	if n, err := c.Storage.CountUsers(ctx); err == nil && n == 0 {
		logger.Warn("no users configured; add one with 'bazaar useradd'")
	}
	gateway, err := auth.NewGateway(cfg.Auth.Secret, c.Storage, auth.WithLogger(logger))
	if err != nil {
		return err
	}

	limiter := ratelimit.New(cfg.RateLimit.Window, map[ratelimit.Class]int{
		ratelimit.Root:      cfg.RateLimit.Root,
		ratelimit.Analyze:   cfg.RateLimit.Analyze,
		ratelimit.ModelInfo: cfg.RateLimit.ModelInfo,
		ratelimit.Admin:     cfg.RateLimit.Admin,
		ratelimit.Token:     cfg.RateLimit.Token,
	}, ratelimit.WithLogger(logger))
	go limiter.Run(ctx, cfg.RateLimit.SweepInterval)

	jobs := sentiment.NewJobs(ctx, cfg.Training.MaxConcurrentJobs, logger)
	defer jobs.Shutdown()

	if cfg.Datasets.AutoTrain && len(cfg.Datasets.InboxDirs) > 0 {
		inbox := watcher.NewInbox(cfg.Datasets.InboxDirs, cfg.Datasets.Extensions,
			c.Service, jobs, c.Registry, cfg.Training.Algorithm, logger)
		if err := inbox.Start(ctx); err != nil {
			return err
		}
		defer inbox.Stop()
	}

	if ptr, err := c.Registry.Current(); err == nil {
		logger.Info("serving model", zap.String("version", ptr.Version), zap.Time("promoted_at", ptr.PromotedAt))
	} else {
		logger.Warn("no model promoted; /analyze returns 503 until one is")
	}
	if size, err := c.Registry.DiskUsageBytes(); err == nil {
		logger.Info("model registry", zap.String("dir", c.Registry.Dir()), zap.String("disk_usage", humanize.Bytes(uint64(size))))
	}

	srv := server.NewServer(c.Service, c.Registry, gateway, limiter, jobs, &cfg.Server, server.Info{
		Name:        "bazaar",
		Version:     version,
		Description: "Sentiment analysis for Persian financial texts",
	}, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func runTrain(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	data := fs.String("data", "", "training dataset (.csv, .tsv, .xlsx) with text and label columns")
	algorithm := fs.String("algorithm", "", "logistic_regression, linear_svm, or naive_bayes (default from config)")
	params := fs.String("params", "", "hyperparameter overrides, e.g. epochs=300,learning_rate=0.5")
	promote := fs.Bool("promote", false, "make the new version current")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	if *data == "" {
		return errors.New("-data is required")
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}
	overrides, err := cli.ParseParams(*params)
	if err != nil {
		return err
	}
	d, err := dataset.Load(*data)
	if err != nil {
		return err
	}

	c, err := setup(*configPath, false)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	meta, err := c.Service.TrainAndRegister(ctx, d.Texts, d.Labels, sentiment.TrainParams{
		Algorithm:       *algorithm,
		Hyperparameters: overrides,
		Source:          "cli:" + filepath.Base(*data),
	})
	if err != nil {
		return err
	}
	if err := cli.WriteVersion(out, meta, format); err != nil {
		return err
	}
	if *promote {
		ptr, err := c.Registry.SetCurrent(ctx, meta.ID)
		if err != nil {
			return err
		}
		if format == cli.OutputText {
			fmt.Fprintf(out, "\nPromoted %s at %s\n", ptr.Version, ptr.PromotedAt.Format(time.RFC3339))
		}
	}
	return nil
}

func runTune(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("tune", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	data := fs.String("data", "", "training dataset (.csv, .tsv, .xlsx)")
	algorithm := fs.String("algorithm", "", "algorithm to tune (default from config)")
	grid := fs.String("grid", "", `parameter grid, e.g. "epochs=100,200;learning_rate=0.1,0.5"`)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	if *data == "" {
		return errors.New("-data is required")
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}
	g, err := cli.ParseGrid(*grid)
	if err != nil {
		return err
	}
	d, err := dataset.Load(*data)
	if err != nil {
		return err
	}
	c, err := setup(*configPath, false)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res, err := c.Service.Tune(ctx, d.Texts, d.Labels, *algorithm, g)
	if err != nil {
		return err
	}
	return cli.WriteTuneResult(out, res, format)
}

func runAnalyze(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	modelVersion := fs.String("version", "", "model version (default: current)")
	output := fs.String("output", "text", "output format: text or json")
	texts := parseArgs(fs, args)

	if len(texts) == 0 {
		return errors.New("usage: bazaar analyze [flags] <text> [<text>...]")
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}
	c, err := setup(*configPath, false)
	if err != nil {
		return err
	}
	defer c.Close()
	res, err := c.Service.PredictBatch(context.Background(), texts, *modelVersion)
	if err != nil {
		return err
	}
	return cli.WritePredictions(out, texts, res, format)
}

func runPromote(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("promote", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	positional := parseArgs(fs, args)
	if len(positional) != 1 {
		return errors.New("usage: bazaar promote [flags] <version>")
	}
	c, err := setup(*configPath, false)
	if err != nil {
		return err
	}
	defer c.Close()
	ptr, err := c.Registry.SetCurrent(context.Background(), positional[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Promoted %s at %s\n", ptr.Version, ptr.PromotedAt.Format(time.RFC3339))
	return nil
}

func runVersions(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("versions", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	output := fs.String("output", "text", "output format: text or json")
	asJSON := fs.Bool("json", false, "shorthand for -output json")
	_ = fs.Parse(args)

	if *asJSON {
		*output = string(cli.OutputJSON)
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}
	c, err := setup(*configPath, false)
	if err != nil {
		return err
	}
	defer c.Close()
	list, err := c.Registry.List(context.Background())
	if err != nil {
		return err
	}
	current := ""
	if ptr, err := c.Registry.Current(); err == nil {
		current = ptr.Version
	}
	return cli.WriteVersions(out, list, current, format, time.Now())
}

func runUserAdd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("useradd", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	username := fs.String("username", "", "user name")
	password := fs.String("password", "", "password (prefer BAZAAR_PASSWORD)")
	role := fs.String("role", auth.RoleUser, "admin or user")
	_ = fs.Parse(args)

	if *password == "" {
		*password = os.Getenv("BAZAAR_PASSWORD")
	}
	c, err := setup(*configPath, false)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := auth.AddUser(context.Background(), c.Storage, *username, *password, *role); err != nil {
		return err
	}
	fmt.Fprintf(out, "User %s saved with role %s\n", strings.TrimSpace(*username), *role)
	return nil
}

func runInitConfig(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	path := fs.String("out", "config.yaml", "where to write the config")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)

	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", *path)
	}
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DatabasePath: "./data/db/bazaar.db",
			ModelsDir:    "./data/models",
		},
		Datasets: config.DatasetsConfig{InboxDirs: []string{"./data/inbox"}},
	}
	config.ApplyDefaults(cfg)
	if err := config.Save(*path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s. Set auth.secret or %s before starting the server.\n", *path, config.SecretEnv)
	return nil
}

// parseArgs parses flags anywhere among args, since the flag package stops at
// the first non-flag ("promote v1 -config x"), and returns the positional
// arguments in their original order. Everything after "--" is positional.
func parseArgs(fs *flag.FlagSet, args []string) []string {
	var positional []string
	for {
		_ = fs.Parse(args)
		rest := fs.Args()
		if consumed := len(args) - len(rest); consumed > 0 && args[consumed-1] == "--" {
			return append(positional, rest...)
		}
		if len(rest) == 0 {
			return positional
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `bazaar - Sentiment analysis for Persian financial texts

Usage:
  bazaar server [flags]              Start the HTTP API
  bazaar train -data <file> [flags]  Train and register a new model version
  bazaar tune -data <file> -grid ..  Cross-validate a hyperparameter grid
  bazaar analyze <text>...           Classify texts with a model version
  bazaar promote <version>           Make a version current
  bazaar versions [flags]            List model versions
  bazaar useradd [flags]             Create or update an API user
  bazaar init-config [-out path]     Write a starter config file
  bazaar version                     Show version
  bazaar help                        Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/bazaar/config.yaml,
                     or ./config.yaml when present)

Server Flags:
  --debug            Enable debug logging

Train Flags:
  --data string       Dataset with text and label columns (.csv, .tsv, .xlsx)
  --algorithm string  logistic_regression, linear_svm, or naive_bayes
  --params string     Hyperparameter overrides (name=value,...)
  --promote           Make the new version current
  --output string     text or json

Tune Flags:
  --data, --algorithm, --output as for train
  --grid string      Parameter grid (name=v1,v2;name=v1,...)

Analyze Flags:
  --version string   Model version (default: current)
  --output string    text or json

Useradd Flags:
  --username string  User name
  --password string  Password (or BAZAAR_PASSWORD)
  --role string      admin or user (default: user)

Examples:
  bazaar init-config -out config.yaml
  bazaar useradd -username admin -role admin -password '...'
  bazaar train -data labeled.csv -algorithm naive_bayes
  bazaar tune -data labeled.csv -algorithm logistic_regression -grid "epochs=100,200;learning_rate=0.1,0.5"
  bazaar versions
  bazaar analyze "سود خالص شرکت افزایش یافت"
  bazaar promote 0192f0c1-7c7e-7d4a-9d0e-4b1f7f6a2c11
  bazaar server`)
}
