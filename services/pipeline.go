package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nutrikb/config"
	"nutrikb/dataset"
	"nutrikb/models"
)

// DatasetStateKey ist der Schlüssel der Versionsmarke in dataset_state.
const DatasetStateKey = "nutrition_dataset"

// Mode sind die Lauf-Flags. Der Wert wird einmal gebaut und danach nicht mehr verändert.
type Mode struct {
	DryRun             bool
	Strict             bool
	SkipDatasetVersion bool
	ForcePending       bool
	ImportParsing      bool
	ImportKnowledge    bool
}

// NewMode baut den Modus aus den CLI-Flags. Ohne --only-* laufen beide Teilmengen.
func NewMode(dryRun, strict, skipDatasetVersion, forcePending, onlyParsing, onlyKnowledge bool) (Mode, error) {
	if onlyParsing && onlyKnowledge {
		return Mode{}, errors.New("--only-parsing and --only-knowledge are mutually exclusive")
	}
	return Mode{
		DryRun:             dryRun,
		Strict:             strict,
		SkipDatasetVersion: skipDatasetVersion,
		ForcePending:       forcePending,
		ImportParsing:      !onlyKnowledge,
		ImportKnowledge:    !onlyParsing,
	}, nil
}

// Archiver legt ein erfolgreich angewandtes Paket ab und gibt den Ablageort zurück.
type Archiver interface {
	Archive(ctx context.Context, version, name string, data []byte) (string, error)
}

// Pipeline steuert einen Import-Lauf vom Laden bis zum Abschluss im Ledger.
type Pipeline struct {
	DB        *gorm.DB
	Logger    *zap.Logger
	Metrics   *Metrics
	Retry     *Retrier
	ChunkSize int
	// Archiver ist optional
	Archiver Archiver
}

// NewPipeline erstellt eine Pipeline. db darf für reine Dry-Runs nil sein.
func NewPipeline(db *gorm.DB, cfg *config.Config, logger *zap.Logger, metrics *Metrics, archiver Archiver) *Pipeline {
	return &Pipeline{
		DB:        db,
		Logger:    logger,
		Metrics:   metrics,
		Retry:     NewRetrier(cfg.StoreRetryAttempts, cfg.StoreRetryInitial, cfg.StoreRetryMax, logger),
		ChunkSize: cfg.ChunkSize,
		Archiver:  archiver,
	}
}

// Result fasst einen Lauf zusammen.
type Result struct {
	RunID    string
	Version  string
	Shape    string
	Stats    *Stats
	Duration time.Duration
}

// Run importiert ein Paket. Jeder Fehler nach dem Öffnen des Laufs schließt den Lauf mit der
// Fehlermeldung ab und wird danach zurückgegeben.
func (p *Pipeline) Run(ctx context.Context, data []byte, source string, mode Mode) (*Result, error) {
	start := time.Now()
	log := p.Logger.With(zap.String("source", source), zap.Bool("dry_run", mode.DryRun), zap.Bool("strict", mode.Strict))

	if !mode.DryRun && p.DB == nil {
		return nil, errors.New("live import requires a database connection")
	}

	pkg, loadIssues, err := dataset.Load(data, source)
	if err != nil {
		p.Metrics.Runs.WithLabelValues("failed").Inc()
		log.Error("Dataset package rejected", zap.Error(err))
		return nil, err
	}
	log = log.With(zap.String("version", pkg.Version), zap.String("shape", pkg.Shape))

	stats := NewStats()
	journal := NewJournal(mode.Strict, log, p.Metrics)
	ledger := NewLedger(p.DB, p.Retry, log, p.ChunkSize, journal, mode.DryRun)
	runID, err := ledger.Open(ctx, pkg.Version, source, mode)
	if err != nil {
		p.Metrics.Runs.WithLabelValues("failed").Inc()
		return nil, err
	}
	if runID != "" {
		log = log.With(zap.String("run_id", runID))
	}

	result := &Result{RunID: runID, Version: pkg.Version, Shape: pkg.Shape, Stats: stats}
	runErr := p.execute(ctx, log, pkg, loadIssues, data, source, runID, mode, journal, stats)
	if runErr == nil {
		if err := ledger.Close(ctx, stats); err != nil {
			runErr = err
		}
	}
	result.Duration = time.Since(start)
	p.Metrics.Duration.Observe(result.Duration.Seconds())

	if runErr != nil {
		if err := ledger.Fail(ctx, stats, runErr); err != nil {
			log.Error("Failed to close import run", zap.Error(err))
		}
		p.Metrics.Runs.WithLabelValues("failed").Inc()
		log.Error("Import failed",
			zap.Error(runErr),
			zap.Any("counts", stats.Counts),
			zap.Int("warnings", stats.Warnings),
			zap.Int("errors", stats.Errors))
		return result, runErr
	}

	outcome := "success"
	if mode.DryRun {
		outcome = "dry_run"
	}
	p.Metrics.Runs.WithLabelValues(outcome).Inc()
	log.Info("Import finished",
		zap.Any("counts", stats.Counts),
		zap.Any("created", stats.Created),
		zap.Int("warnings", stats.Warnings),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, log *zap.Logger, pkg *dataset.Package, loadIssues []dataset.Issue,
	data []byte, source, runID string, mode Mode, journal *Journal, stats *Stats) error {
	for _, is := range loadIssues {
		if err := journal.Raise(is); err != nil {
			return err
		}
	}

	resolver := NewResolver(p.DB, p.Retry, journal, log, mode.DryRun)
	persister := &Persister{
		db:        p.DB,
		retry:     p.Retry,
		journal:   journal,
		engine:    NewAuditEngine(mode.ForcePending),
		resolver:  resolver,
		metrics:   p.Metrics,
		logger:    log,
		chunkSize: p.ChunkSize,
		dryRun:    mode.DryRun,
		stats:     stats,
	}

	if err := resolver.ResolveAll(ctx, pkg.Ingredients, stats); err != nil {
		return fmt.Errorf("resolve ingredients: %w", err)
	}
	if err := resolver.ReconcileSynonyms(ctx, pkg.Ingredients, p.ChunkSize, stats); err != nil {
		return fmt.Errorf("reconcile synonyms: %w", err)
	}
	if mode.ImportParsing || mode.ImportKnowledge {
		if err := persister.ReconcileCitations(ctx, pkg); err != nil {
			return fmt.Errorf("reconcile citations: %w", err)
		}
	}
	if mode.ImportParsing {
		if err := persister.ImportParsing(ctx, pkg); err != nil {
			return fmt.Errorf("import parsing tables: %w", err)
		}
	}
	if mode.ImportKnowledge {
		if err := persister.ImportKnowledge(ctx, pkg); err != nil {
			return fmt.Errorf("import knowledge tables: %w", err)
		}
	}

	if mode.DryRun {
		return nil
	}
	if err := p.markVersion(ctx, log, pkg.Version, runID, mode); err != nil {
		return err
	}
	if p.Archiver != nil {
		location, err := p.Archiver.Archive(ctx, pkg.Version, source, data)
		if err != nil {
			return journal.Raise(dataset.Issue{
				Type:    IssueArchiveFailed,
				Entity:  "package",
				Key:     source,
				Message: "package could not be archived: " + err.Error(),
			})
		}
		log.Info("Package archived", zap.String("location", location))
	}
	return nil
}

// markVersion schreibt die zuletzt angewandte Datensatz-Version.
func (p *Pipeline) markVersion(ctx context.Context, log *zap.Logger, version, runID string, mode Mode) error {
	if mode.SkipDatasetVersion {
		return nil
	}
	if version == "" {
		log.Warn("Package has no version, dataset state not updated")
		return nil
	}
	state := models.DatasetState{Key: DatasetStateKey, Version: version, RunID: runID, AppliedAt: time.Now().UTC()}
	if err := p.Retry.Do(ctx, "mark dataset version", func() error {
		return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"version", "run_id", "applied_at"}),
		}).Create(&state).Error
	}); err != nil {
		return fmt.Errorf("mark dataset version: %w", err)
	}
	return nil
}
