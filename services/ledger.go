package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"nutrikb/dataset"
	"nutrikb/models"
)

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue-Typen, die während der Abstimmung entstehen.
const (
	IssueCanonicalKeyConflict = "canonical_key_conflict"
	IssueBaseUnitMismatch     = "base_unit_mismatch"
	IssueDuplicateIngredient  = "duplicate_ingredient"
	IssueDuplicateKey         = "duplicate_key"
	IssueDuplicateSynonym     = "duplicate_synonym"
	IssueMissingIngredient    = "missing_ingredient"
	IssueMissingCitation      = "missing_citation"
	IssueArchiveFailed        = "archive_failed"
)

// benignIssues bleiben auch im strikten Modus Warnungen.
var benignIssues = map[string]bool{
	IssueDuplicateSynonym: true,
	IssueArchiveFailed:    true,
}

// IssueError ist ein zum Fehler eskaliertes Issue. Es bricht den Lauf ab.
type IssueError struct {
	Issue dataset.Issue
}

func (e *IssueError) Error() string {
	if e.Issue.Key != "" {
		return fmt.Sprintf("%s (%s %q): %s", e.Issue.Type, e.Issue.Entity, e.Issue.Key, e.Issue.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Issue.Type, e.Issue.Entity, e.Issue.Message)
}

type journalEntry struct {
	severity Severity
	issue    dataset.Issue
}

// Journal ist das Append-only-Protokoll der Issues eines Laufs. Es gehört dem Ledger.
type Journal struct {
	strict  bool
	logger  *zap.Logger
	metrics *Metrics
	entries []journalEntry
}

func NewJournal(strict bool, logger *zap.Logger, metrics *Metrics) *Journal {
	return &Journal{strict: strict, logger: logger, metrics: metrics}
}

// Raise nimmt ein Issue auf. Im strikten Modus wird es zum Fehler und Raise gibt einen *IssueError zurück.
func (j *Journal) Raise(is dataset.Issue) error {
	severity := SeverityWarning
	if j.strict && !benignIssues[is.Type] {
		severity = SeverityError
	}
	j.entries = append(j.entries, journalEntry{severity: severity, issue: is})
	if j.metrics != nil {
		j.metrics.Issues.WithLabelValues(string(severity), is.Type).Inc()
	}

	fields := []zap.Field{
		zap.String("type", is.Type),
		zap.String("entity", is.Entity),
		zap.String("key", is.Key),
	}
	if severity == SeverityError {
		j.logger.Error(is.Message, fields...)
		return &IssueError{Issue: is}
	}
	j.logger.Warn(is.Message, fields...)
	return nil
}

func (j *Journal) count(s Severity) int {
	n := 0
	for _, e := range j.entries {
		if e.severity == s {
			n++
		}
	}
	return n
}

func (j *Journal) Warnings() int { return j.count(SeverityWarning) }
func (j *Journal) Errors() int   { return j.count(SeverityError) }
func (j *Journal) Len() int      { return len(j.entries) }

// Stats sind die Statistiken eines Laufs. Counts ist für Dry-Run und Live-Lauf identisch,
// Created nur im Live-Lauf befüllt.
type Stats struct {
	Counts   map[string]int `json:"counts"`
	Created  map[string]int `json:"created,omitempty"`
	Warnings int            `json:"warnings"`
	Errors   int            `json:"errors"`
	Error    string         `json:"error,omitempty"`
}

func NewStats() *Stats {
	return &Stats{Counts: map[string]int{}, Created: map[string]int{}}
}

func (s *Stats) add(entity string, n int)     { s.Counts[entity] += n }
func (s *Stats) created(entity string, n int) { s.Created[entity] += n }

// Ledger führt den Datensatz eines Import-Laufs. Im Dry-Run wird nichts geschrieben.
type Ledger struct {
	db        *gorm.DB
	retry     *Retrier
	logger    *zap.Logger
	chunkSize int
	dryRun    bool

	journal *Journal
	run     *models.ImportRun
	flushed int
	closed  bool
}

func NewLedger(db *gorm.DB, retry *Retrier, logger *zap.Logger, chunkSize int, journal *Journal, dryRun bool) *Ledger {
	return &Ledger{
		db:        db,
		retry:     retry,
		logger:    logger,
		chunkSize: chunkSize,
		dryRun:    dryRun,
		journal:   journal,
	}
}

func (l *Ledger) Journal() *Journal { return l.journal }

// RunID ist leer, solange kein Lauf geöffnet wurde (immer im Dry-Run).
func (l *Ledger) RunID() string {
	if l.run == nil {
		return ""
	}
	return l.run.ID
}

// Open legt den Lauf-Datensatz an, bevor irgendetwas persistiert wird.
func (l *Ledger) Open(ctx context.Context, version, source string, mode Mode) (string, error) {
	if l.dryRun {
		return "", nil
	}
	run := &models.ImportRun{
		ID:                 uuid.NewString(),
		DatasetVersion:     version,
		Source:             source,
		Strict:             mode.Strict,
		ForcePending:       mode.ForcePending,
		ImportParsing:      mode.ImportParsing,
		ImportKnowledge:    mode.ImportKnowledge,
		SkipDatasetVersion: mode.SkipDatasetVersion,
		StartedAt:          time.Now().UTC(),
	}
	if err := l.retry.Do(ctx, "open run", func() error {
		return l.db.WithContext(ctx).Create(run).Error
	}); err != nil {
		return "", fmt.Errorf("open import run: %w", err)
	}
	l.run = run
	l.logger.Info("Import run opened", zap.String("run_id", run.ID), zap.String("version", version))
	return run.ID, nil
}

// Flush schreibt alle noch nicht geschriebenen Issues. Mehrfache Aufrufe schreiben nichts doppelt.
func (l *Ledger) Flush(ctx context.Context) error {
	if l.run == nil || l.flushed >= len(l.journal.entries) {
		return nil
	}
	pending := l.journal.entries[l.flushed:]
	for start := 0; start < len(pending); start += l.chunkSize {
		end := min(start+l.chunkSize, len(pending))
		rows := make([]models.ImportIssue, 0, end-start)
		for _, e := range pending[start:end] {
			rows = append(rows, models.ImportIssue{
				RunID:     l.run.ID,
				Severity:  string(e.severity),
				IssueType: e.issue.Type,
				Entity:    e.issue.Entity,
				EntityKey: e.issue.Key,
				Message:   e.issue.Message,
				Payload:   payloadJSON(e.issue.Payload),
			})
		}
		if err := l.retry.Do(ctx, "flush issues", func() error {
			return l.db.WithContext(ctx).Create(&rows).Error
		}); err != nil {
			return fmt.Errorf("flush import issues: %w", err)
		}
		l.flushed += end - start
	}
	return nil
}

// Close schließt einen erfolgreichen Lauf mit Statistiken ab.
func (l *Ledger) Close(ctx context.Context, stats *Stats) error {
	return l.finish(ctx, stats, nil)
}

// Fail schließt den Lauf mit dem abbrechenden Fehler ab. Es läuft auch bei abgebrochenem Kontext.
func (l *Ledger) Fail(ctx context.Context, stats *Stats, cause error) error {
	return l.finish(context.WithoutCancel(ctx), stats, cause)
}

func (l *Ledger) finish(ctx context.Context, stats *Stats, cause error) error {
	stats.Warnings = l.journal.Warnings()
	stats.Errors = l.journal.Errors()
	if cause != nil {
		stats.Error = cause.Error()
	}
	if l.run == nil || l.closed {
		return nil
	}

	// Ein fehlgeschlagener Flush darf das Schließen des Laufs nicht verhindern,
	// der Lauf gilt dann aber als fehlgeschlagen.
	flushErr := l.Flush(ctx)
	if flushErr != nil && stats.Error == "" {
		stats.Error = flushErr.Error()
	}

	now := time.Now().UTC()
	encoded, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode run stats: %w", err)
	}
	updates := map[string]any{
		"finished_at":   now,
		"stats":         datatypes.JSON(encoded),
		"issue_count":   l.journal.Len(),
		"warning_count": stats.Warnings,
		"error":         stats.Error,
	}
	if err := l.retry.Do(ctx, "close run", func() error {
		return l.db.WithContext(ctx).Model(&models.ImportRun{}).Where("id = ?", l.run.ID).Updates(updates).Error
	}); err != nil {
		return errors.Join(flushErr, fmt.Errorf("close import run: %w", err))
	}
	l.closed = true
	l.run.FinishedAt = &now
	return flushErr
}

func payloadJSON(payload map[string]any) datatypes.JSON {
	if len(payload) == 0 {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"unencodable": fmt.Sprint(payload)})
	}
	return datatypes.JSON(b)
}
