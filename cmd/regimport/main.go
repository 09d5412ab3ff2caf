// Command regimport imports interpreter candidates from a schema-unknown
// registry source database into the agency's canonical store.
//
// Modes:
//
//	search  print matched source rows as JSON, no mutation
//	import  import one candidate selected by -key (or -name/-email)
//	bulk    run the full batched reconciliation and print the result
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"regimport/internal/config"
	"regimport/internal/metrics"
	"regimport/internal/metrics/datadog"
	"regimport/internal/reconcile"
	"regimport/internal/records"
	"regimport/internal/source"
	"regimport/internal/store"

	// register all store backends with the factory; config selects one.
	_ "regimport/internal/store/all"
)

func main() {
	var (
		cfgPath    string
		mode       string
		sourcePath string
		key        string
		limit      int

		f         source.Filters
		freelance string
	)

	flag.StringVar(&cfgPath, "config", "", "YAML config path (optional; env vars apply either way)")
	flag.StringVar(&mode, "mode", "search", "search | import | bulk")
	flag.StringVar(&sourcePath, "source", "", "registry source database file (overrides config)")
	flag.StringVar(&key, "key", "", "source-side id of the candidate to import (mode=import)")
	flag.IntVar(&limit, "limit", 0, "row limit (0 = mode default)")

	flag.StringVar(&f.Name, "name", "", "filter: name substring")
	flag.StringVar(&f.FirstName, "first", "", "filter: first name substring")
	flag.StringVar(&f.LastName, "last", "", "filter: last name substring")
	flag.StringVar(&f.Email, "email", "", "filter: email substring")
	flag.StringVar(&f.Phone, "phone", "", "filter: phone substring")
	flag.StringVar(&f.City, "city", "", "filter: city substring")
	flag.StringVar(&f.State, "state", "", "filter: state abbreviation or full name")
	flag.StringVar(&f.Zip, "zip", "", "filter: zip prefix")
	flag.StringVar(&f.Gender, "gender", "", "filter: gender code or text")
	flag.StringVar(&f.Category, "category", "", "filter: category substring")
	flag.StringVar(&f.Certification, "cert", "", "filter: certification substring")
	flag.StringVar(&freelance, "freelance", "", "filter: freelance status (yes/no; empty = any)")

	metricsBackendFlg := flag.String("metrics-backend", "", "metrics backend (datadog, none; overrides config)")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()
	f.Freelance = source.ParseFreelance(freelance)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	if sourcePath != "" {
		cfg.Source.Path = sourcePath
	}
	if cfg.Source.Path == "" {
		fatalf("no registry source: pass -source or set source.path / REGIMPORT_SOURCE_PATH")
	}

	logger := newLogger(cfg.Log.Level, *verbose)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closeMetrics := setupMetrics(cfg, *metricsBackendFlg, logger)
	defer closeMetrics()

	src, err := source.Open(ctx, cfg.Source.Path)
	if err != nil {
		logger.Error("open registry source", zap.Error(err))
		// Connectivity failure still produces a structured result in bulk
		// mode; the web layer this replaces showed exactly that.
		if mode == "bulk" {
			printJSON(reconcile.Result{Message: err.Error()})
		}
		os.Exit(1)
	}
	defer src.Close()

	repo, err := store.New(ctx, store.Config{Kind: cfg.Store.Kind, DSN: cfg.Store.DSN})
	if err != nil {
		fatalf("open store (%s %s): %v", cfg.Store.Kind, config.SanitizeDSN(cfg.Store.DSN), err)
	}
	defer repo.Close()
	if err := repo.EnsureSchema(ctx); err != nil {
		fatalf("%v", err)
	}

	eng := &reconcile.Engine{
		Source:    src,
		Store:     repo,
		Log:       logger,
		BatchSize: cfg.Import.BatchSize,
	}

	switch mode {
	case "search":
		if limit <= 0 {
			limit = cfg.Import.SearchLimit
		}
		recs, err := eng.SearchCandidates(ctx, f, limit)
		if err != nil {
			fatalf("search: %v", err)
		}
		printJSON(recordMaps(recs))

	case "import":
		sel := reconcile.Selector{Key: key}
		if key == "" {
			sel.Fields = map[string]string{
				"name": f.Name, "first_name": f.FirstName,
				"last_name": f.LastName, "email": f.Email,
			}
		}
		it, err := eng.ImportOne(ctx, sel)
		if err != nil {
			fatalf("import: %v", err)
		}
		if it == nil {
			logger.Warn("candidate not found or not usable")
			printJSON(nil)
			os.Exit(2)
		}
		printJSON(it)

	case "bulk":
		if limit <= 0 {
			limit = cfg.Import.BulkLimit
		}
		res := eng.BulkReconcile(ctx, f, limit)
		printJSON(res)
		if !res.Success {
			os.Exit(1)
		}

	default:
		fatalf("unknown mode %q (want search, import, or bulk)", mode)
	}
}

func newLogger(level string, verbose bool) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// setupMetrics wires the configured metrics backend (flag wins over config)
// and returns the shutdown hook to defer.
func setupMetrics(cfg *config.Config, flagBackend string, logger *zap.Logger) func() {
	backend := flagBackend
	if backend == "" {
		backend = cfg.Metrics.Backend
	}

	switch backend {
	case "datadog":
		// Buffers and submits periodically, with one final submit at Close.
		// Long bulk runs get a real time series instead of a single spike.
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			Tags:       datadog.ParseTagsCSV(cfg.Metrics.Tags),
			FlushEvery: cfg.Metrics.FlushEvery,
		})
		if err != nil {
			logger.Warn("datadog backend init failed, metrics disabled", zap.Error(err))
			return func() {}
		}
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logger.Warn("datadog close/flush failed", zap.Error(err))
			}
		}

	case "", "none":
		// metrics disabled; nop backend remains

	default:
		logger.Warn("unknown metrics backend, metrics disabled", zap.String("backend", backend))
	}
	return func() {
		if err := metrics.Flush(); err != nil {
			logger.Warn("metrics flush failed", zap.Error(err))
		}
	}
}

// recordMaps renders records as ordered-insensitive JSON objects for display.
func recordMaps(recs []records.Record) []map[string]string {
	out := make([]map[string]string, len(recs))
	for i, r := range recs {
		m := make(map[string]string, r.Len())
		for _, fld := range r.Fields() {
			if !fld.Value.IsNull() {
				m[fld.Name] = fld.Value.Text()
			}
		}
		out[i] = m
	}
	return out
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("encode output: %v", err)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
