package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nutrikb/dataset"
	"nutrikb/models"
)

// Persister schreibt aufgelöste Datensätze idempotent in die Datenbank.
// Im Dry-Run läuft dieselbe Logik ohne Datenbankzugriff.
type Persister struct {
	db        *gorm.DB
	retry     *Retrier
	journal   *Journal
	engine    *AuditEngine
	resolver  *Resolver
	metrics   *Metrics
	logger    *zap.Logger
	chunkSize int
	dryRun    bool
	stats     *Stats
}

type keyed interface {
	BusinessKey() string
}

type auditedRow interface {
	keyed
	GetAuditStatus() models.AuditStatus
	SetAuditStatus(models.AuditStatus)
}

// table beschreibt Konfliktschlüssel und zu aktualisierende Spalten einer Tabelle.
type table struct {
	entity string
	// scope ist die Spalte, über die bestehende Zeilen chunkweise nachgeladen werden.
	scope    string
	conflict []string
	updates  []string
	// joined bedeutet, dass es eine Zitations-Join-Tabelle gibt und die IDs neu gelesen werden müssen.
	joined bool
}

func (t table) onConflict() clause.OnConflict {
	cols := make([]clause.Column, len(t.conflict))
	for i, c := range t.conflict {
		cols[i] = clause.Column{Name: c}
	}
	return clause.OnConflict{
		Columns:   cols,
		DoUpdates: clause.AssignmentColumns(append(t.updates, "updated_at")),
	}
}

// pending ist eine zu schreibende Zeile mit den bekannten Zitationen für die Join-Tabelle.
type pending[T any] struct {
	row  T
	refs []string
}

// dedupe fasst Zeilen mit gleichem Geschäftsschlüssel zusammen (die letzte gewinnt),
// da ein einzelnes INSERT ... ON CONFLICT dieselbe Zeile nicht zweimal ändern kann.
func dedupe[T any, PT interface {
	*T
	keyed
}](p *Persister, entity string, items []pending[T]) ([]pending[T], error) {
	index := make(map[string]int, len(items))
	out := make([]pending[T], 0, len(items))
	for _, it := range items {
		key := PT(&it.row).BusinessKey()
		if i, ok := index[key]; ok {
			if err := p.journal.Raise(dataset.Issue{
				Type:    IssueDuplicateKey,
				Entity:  entity,
				Key:     key,
				Message: "business key appears more than once, later row applied",
			}); err != nil {
				return nil, err
			}
			out[i] = it
			continue
		}
		index[key] = len(out)
		out = append(out, it)
	}
	return out, nil
}

// upsertChunks schreibt Zeilen blockweise mit ON CONFLICT.
func upsertChunks[T any](ctx context.Context, p *Persister, entity string, rows []T, conflict clause.OnConflict) error {
	for start := 0; start < len(rows); start += p.chunkSize {
		batch := rows[start:min(start+p.chunkSize, len(rows))]
		if err := p.retry.Do(ctx, "upsert "+entity, func() error {
			return p.db.WithContext(ctx).Clauses(conflict).Create(&batch).Error
		}); err != nil {
			return fmt.Errorf("upsert %s: %w", entity, err)
		}
	}
	p.metrics.RowsUpserted.WithLabelValues(entity).Add(float64(len(rows)))
	return nil
}

// upsertPlain schreibt Tabellen ohne Audit-Status und ohne Zitationen.
func upsertPlain[T any, PT interface {
	*T
	keyed
}](ctx context.Context, p *Persister, t table, items []pending[T]) error {
	items, err := dedupe[T, PT](p, t.entity, items)
	if err != nil {
		return err
	}
	p.stats.add(t.entity, len(items))
	if p.dryRun || len(items) == 0 {
		return nil
	}
	return upsertChunks(ctx, p, t.entity, rowsOf(items), t.onConflict())
}

// upsertFacts schreibt auditierte Fakten: bestehende Status laden, monoton zusammenführen,
// schreiben und die Zeilen danach per Geschäftsschlüssel neu lesen (für die IDs der Join-Tabellen).
// scopeOf liefert den Wert der Spalte t.scope einer Zeile.
func upsertFacts[T any, PT interface {
	*T
	auditedRow
}](ctx context.Context, p *Persister, t table, items []pending[T], scopeOf func(PT) any) ([]pending[T], map[string]T, error) {
	items, err := dedupe[T, PT](p, t.entity, items)
	if err != nil {
		return nil, nil, err
	}
	p.stats.add(t.entity, len(items))

	if p.dryRun {
		for i := range items {
			row := PT(&items[i].row)
			row.SetAuditStatus(p.engine.Merge(row.GetAuditStatus(), nil))
		}
		return items, nil, nil
	}
	if len(items) == 0 {
		return items, map[string]T{}, nil
	}

	scopes := make([]any, 0, len(items))
	seenScope := map[any]bool{}
	for i := range items {
		v := scopeOf(PT(&items[i].row))
		if !seenScope[v] {
			seenScope[v] = true
			scopes = append(scopes, v)
		}
	}

	existing, err := loadByScope[T, PT](ctx, p, t, scopes)
	if err != nil {
		return nil, nil, err
	}
	for i := range items {
		row := PT(&items[i].row)
		var stored *models.AuditStatus
		if prev, ok := existing[row.BusinessKey()]; ok {
			st := PT(&prev).GetAuditStatus()
			stored = &st
		}
		row.SetAuditStatus(p.engine.Merge(row.GetAuditStatus(), stored))
	}

	if err := upsertChunks(ctx, p, t.entity, rowsOf(items), t.onConflict()); err != nil {
		return nil, nil, err
	}
	if !t.joined {
		return items, nil, nil
	}

	written, err := loadByScope[T, PT](ctx, p, t, scopes)
	if err != nil {
		return nil, nil, err
	}
	return items, written, nil
}

// loadByScope lädt Zeilen chunkweise über eine IN-Abfrage und indiziert sie nach Geschäftsschlüssel.
func loadByScope[T any, PT interface {
	*T
	keyed
}](ctx context.Context, p *Persister, t table, scopes []any) (map[string]T, error) {
	out := make(map[string]T, len(scopes))
	for start := 0; start < len(scopes); start += p.chunkSize {
		chunk := scopes[start:min(start+p.chunkSize, len(scopes))]
		var rows []T
		if err := p.retry.Do(ctx, "load "+t.entity, func() error {
			rows = rows[:0]
			return p.db.WithContext(ctx).Where(clause.IN{Column: clause.Column{Name: t.scope}, Values: chunk}).Find(&rows).Error
		}); err != nil {
			return nil, fmt.Errorf("load %s: %w", t.entity, err)
		}
		for i := range rows {
			out[PT(&rows[i]).BusinessKey()] = rows[i]
		}
	}
	return out, nil
}

// linkCitations schreibt die Join-Zeilen (fact_id, citation_id) mit ON CONFLICT DO NOTHING.
func linkCitations[T any, PT interface {
	*T
	keyed
	RowID() uint
}, J any](ctx context.Context, p *Persister, entity string, conflict []string, items []pending[T], written map[string]T, link func(factID uint, citationID string) J) error {
	var joins []J
	count := 0
	for i := range items {
		count += len(items[i].refs)
		if p.dryRun {
			continue
		}
		stored, ok := written[PT(&items[i].row).BusinessKey()]
		if !ok {
			return fmt.Errorf("%s %q not found after upsert", entity, PT(&items[i].row).BusinessKey())
		}
		id := PT(&stored).RowID()
		for _, ref := range items[i].refs {
			joins = append(joins, link(id, ref))
		}
	}
	p.stats.add(entity, count)
	if p.dryRun || len(joins) == 0 {
		return nil
	}

	cols := make([]clause.Column, len(conflict))
	for i, c := range conflict {
		cols[i] = clause.Column{Name: c}
	}
	return upsertChunks(ctx, p, entity, joins, clause.OnConflict{Columns: cols, DoNothing: true})
}

func rowsOf[T any](items []pending[T]) []T {
	rows := make([]T, len(items))
	for i := range items {
		rows[i] = items[i].row
	}
	return rows
}

// knownRefs behält nur Zitationen, die es gibt. Unbekannte werden als missing_citation gemeldet,
// der Fakt selbst bleibt erhalten.
func (p *Persister) knownRefs(entity, key string, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	seen := map[string]bool{}
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		if !p.engine.KnowsCitation(ref) {
			if err := p.journal.Raise(dataset.Issue{
				Type:    IssueMissingCitation,
				Entity:  entity,
				Key:     key,
				Message: fmt.Sprintf("citation %q not found, reference dropped", ref),
				Payload: map[string]any{"citation_id": ref},
			}); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, ref)
	}
	return out, nil
}

// ingredientID löst einen Schlüssel auf oder meldet missing_ingredient (ok == false: Fakt überspringen).
func (p *Persister) ingredientID(ctx context.Context, entity, factKey, ingredientKey string) (uint, bool, error) {
	id, ok, err := p.resolver.Lookup(ctx, ingredientKey)
	if err != nil || ok {
		return id, ok, err
	}
	return 0, false, p.journal.Raise(dataset.Issue{
		Type:    IssueMissingIngredient,
		Entity:  entity,
		Key:     factKey,
		Message: fmt.Sprintf("ingredient %q not found in this or prior runs, row skipped", ingredientKey),
		Payload: map[string]any{"ingredient_key": ingredientKey},
	})
}
