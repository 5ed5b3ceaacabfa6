package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/tenderlens"
	"github.com/kailas-cloud/tenderlens/internal/config"
	logpkg "github.com/kailas-cloud/tenderlens/internal/logger"
	"github.com/kailas-cloud/tenderlens/internal/metrics"
	"github.com/kailas-cloud/tenderlens/internal/version"
)

const (
	modeExtract  = "extract"
	modeAnalyze  = "analyze"
	modeEvaluate = "evaluate"
	modeHealth   = "health"
)

type options struct {
	mode         string
	input        string
	rfpPath      string
	criteriaPath string
	configPath   string
	showVersion  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one operation and writes its JSON result to stdout. Status goes to stderr.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fail := color.New(color.FgRed)
	ok := color.New(color.FgGreen)

	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fail.Fprintf(stderr, "✗ %v\n", err)
		return 2
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, version.String())
		return 0
	}

	// Load configuration based on ENV
	env := config.GetEnv()
	var cfg config.Config
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		fail.Fprintf(stderr, "✗ failed to load config: %v\n", err)
		return 1
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		fail.Fprintf(stderr, "✗ failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting tenderlens",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("mode", opts.mode),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("generation_provider", cfg.Generation.Provider),
		zap.String("cache_driver", cfg.Cache.Driver),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterMetrics(nil)

	engine, err := tenderlens.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		fail.Fprintf(stderr, "✗ failed to start engine: %v\n", err)
		return 1
	}
	defer engine.Close()

	start := time.Now()
	result, err := execute(ctx, engine, opts)
	if err != nil {
		logger.Error("Operation failed", zap.String("mode", opts.mode), zap.Error(err))
		fail.Fprintf(stderr, "✗ %s failed: %v\n", opts.mode, err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fail.Fprintf(stderr, "✗ failed to write result: %v\n", err)
		return 1
	}

	if report, isHealth := result.(tenderlens.HealthReport); isHealth && report.Status != "ok" {
		color.New(color.FgYellow).Fprintf(stderr, "! health %s\n", report.Status)
		return 1
	}
	ok.Fprintf(stderr, "✓ %s completed in %s\n", opts.mode, time.Since(start).Round(time.Millisecond))
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("tenderlens", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.mode, "mode", modeExtract, "operation: extract, analyze, evaluate or health")
	fs.StringVar(&opts.input, "in", "", "path to the document text (- for stdin)")
	fs.StringVar(&opts.rfpPath, "rfp", "", "path to the RFP context YAML (analyze, evaluate)")
	fs.StringVar(&opts.criteriaPath, "criteria", "", "path to the criteria YAML (evaluate)")
	fs.StringVar(&opts.configPath, "config", "", "config file (default config/$ENV.yaml)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.showVersion {
		return opts, nil
	}

	switch opts.mode {
	case modeHealth:
	case modeExtract, modeAnalyze:
		if opts.input == "" {
			return options{}, fmt.Errorf("-in is required for %s", opts.mode)
		}
	case modeEvaluate:
		if opts.input == "" || opts.criteriaPath == "" {
			return options{}, fmt.Errorf("-in and -criteria are required for %s", opts.mode)
		}
	default:
		return options{}, fmt.Errorf("unknown mode %q", opts.mode)
	}
	return opts, nil
}

func execute(ctx context.Context, engine *tenderlens.Engine, opts options) (any, error) {
	if opts.mode == modeHealth {
		return engine.HealthCheck(ctx), nil
	}

	text, err := readInput(opts.input)
	if err != nil {
		return nil, err
	}

	switch opts.mode {
	case modeExtract:
		return engine.ExtractFields(ctx, text)
	case modeAnalyze:
		rfp, err := loadRFP(opts.rfpPath)
		if err != nil {
			return nil, err
		}
		return engine.AnalyzeProposal(ctx, text, rfp)
	default:
		rfp, err := loadRFP(opts.rfpPath)
		if err != nil {
			return nil, err
		}
		criteria, err := loadCriteria(opts.criteriaPath)
		if err != nil {
			return nil, err
		}
		return engine.EvaluateProposal(ctx, text, rfp, criteria)
	}
}

func readInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

// loadRFP reads an optional RFP context. An empty path yields an empty context.
func loadRFP(path string) (tenderlens.RFPContext, error) {
	var rfp tenderlens.RFPContext
	if path == "" {
		return rfp, nil
	}
	if err := readYAML(path, &rfp); err != nil {
		return rfp, fmt.Errorf("load rfp: %w", err)
	}
	return rfp, nil
}

// loadCriteria accepts a bare list or a document with a top-level "criteria" key.
func loadCriteria(path string) ([]tenderlens.Criterion, error) {
	var doc struct {
		Criteria []tenderlens.Criterion `yaml:"criteria"`
	}
	if err := readYAML(path, &doc); err == nil && len(doc.Criteria) > 0 {
		return doc.Criteria, nil
	}
	var list []tenderlens.Criterion
	if err := readYAML(path, &list); err != nil {
		return nil, fmt.Errorf("load criteria: %w", err)
	}
	return list, nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}
