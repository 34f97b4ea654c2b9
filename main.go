package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"nutrikb/config"
	"nutrikb/services"
	"nutrikb/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// importOptions sind die Flags, die Import und Schedule gemeinsam haben.
type importOptions struct {
	file               string
	dryRun             bool
	strict             bool
	skipDatasetVersion bool
	onlyParsing        bool
	onlyKnowledge      bool
	forcePending       bool
}

func (o importOptions) mode() (services.Mode, error) {
	return services.NewMode(o.dryRun, o.strict, o.skipDatasetVersion, o.forcePending, o.onlyParsing, o.onlyKnowledge)
}

func bindImportFlags(cmd *cobra.Command, opts *importOptions) {
	fs := cmd.Flags()
	fs.StringVar(&opts.file, "file", "", "Dataset package: local path or s3://bucket/key (required)")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Run the full pipeline without writing to the database")
	fs.BoolVar(&opts.strict, "strict", false, "Escalate warnings to errors and abort on the first one")
	fs.BoolVar(&opts.skipDatasetVersion, "skip-dataset-version", false, "Do not record the applied dataset version")
	fs.BoolVar(&opts.onlyParsing, "only-parsing", false, "Import only the parsing tables (aliases, rules, tokens)")
	fs.BoolVar(&opts.onlyKnowledge, "only-knowledge", false, "Import only the knowledge tables (forms, evidence, targets, ...)")
	fs.BoolVar(&opts.forcePending, "force-pending", false, "Import every fact as needs_review (never downgrades stored trust)")
	_ = cmd.MarkFlagRequired("file")
	cmd.MarkFlagsMutuallyExclusive("only-parsing", "only-knowledge")
}

func newRootCmd() *cobra.Command {
	var opts importOptions
	cmd := &cobra.Command{
		Use:           "nutrikb",
		Short:         "Import nutrition dataset packages into the knowledge store",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd.Context(), opts)
		},
	}
	bindImportFlags(cmd, &opts)
	cmd.AddCommand(newScheduleCmd())
	return cmd
}

// checkCI erzwingt --strict, wenn CI gesetzt ist.
func checkCI(cfg *config.Config, opts importOptions) error {
	if cfg.CI && !opts.strict {
		return errors.New("--strict is required when CI is set")
	}
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogMode == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// app bündelt die Abhängigkeiten eines Prozesses.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *gorm.DB
	objects  storage.ObjectAPI
	metrics  *services.Metrics
	pipeline *services.Pipeline
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, dryRun bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: services.NewMetrics()}

	if !dryRun {
		if err := cfg.ValidateDatabase(); err != nil {
			return nil, err
		}
		db, err := services.OpenStore(cfg)
		if err != nil {
			return nil, err
		}
		a.db = db
		logger.Info("Connected to knowledge store")
	}

	if cfg.S3Enabled() {
		client, err := storage.NewS3Client(ctx, storage.EndpointFromConfig(cfg))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		a.objects = client
	}

	var archiver services.Archiver
	switch {
	case !cfg.ArchivePackages:
	case a.objects == nil || cfg.S3Bucket == "":
		logger.Warn("ARCHIVE_PACKAGES is set but object storage is not configured, archiving disabled")
	default:
		archiver = storage.NewPackageArchive(a.objects, cfg.S3Bucket, logger)
	}

	a.pipeline = services.NewPipeline(a.db, cfg, logger, a.metrics, archiver)
	return a, nil
}

// importOnce liest das Paket und führt einen Lauf aus.
func (a *app) importOnce(ctx context.Context, opts importOptions, mode services.Mode) (*services.Result, error) {
	data, err := storage.ReadPackage(ctx, a.objects, opts.file)
	if err != nil {
		a.metrics.Runs.WithLabelValues("failed").Inc()
		return nil, err
	}
	return a.pipeline.Run(ctx, data, opts.file, mode)
}

func (a *app) pushMetrics(ctx context.Context) {
	if a.cfg.PushgatewayURL == "" {
		return
	}
	if err := a.metrics.Push(context.WithoutCancel(ctx), a.cfg.PushgatewayURL); err != nil {
		a.logger.Warn("Failed to push metrics", zap.String("url", a.cfg.PushgatewayURL), zap.Error(err))
	}
}

func (a *app) Close() {
	if a.db == nil {
		return
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// setup lädt Konfiguration, Modus, Logger und App. Der Aufrufer schließt app und synct den Logger.
func setup(ctx context.Context, opts importOptions) (*app, services.Mode, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, services.Mode{}, fmt.Errorf("load config: %w", err)
	}
	if err := checkCI(cfg, opts); err != nil {
		return nil, services.Mode{}, err
	}
	mode, err := opts.mode()
	if err != nil {
		return nil, services.Mode{}, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, services.Mode{}, fmt.Errorf("init logger: %w", err)
	}
	a, err := newApp(ctx, cfg, logger, mode.DryRun)
	if err != nil {
		logger.Sync()
		return nil, services.Mode{}, err
	}
	return a, mode, nil
}

func runImport(ctx context.Context, opts importOptions) error {
	a, mode, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	defer a.Close()

	res, err := a.importOnce(ctx, opts, mode)
	a.pushMetrics(ctx)
	if err != nil {
		return err
	}
	if mode.DryRun {
		a.logger.Info("Dry run complete, nothing was written", zap.Any("counts", res.Stats.Counts))
	}
	return nil
}
