package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"nutrikb/dataset"
	"nutrikb/models"
)

var citationsTable = table{
	entity:   dataset.EntityCitations,
	scope:    "id",
	conflict: []string{"id"},
	updates:  []string{"type", "identifier", "source", "title", "year", "url", "audit_status", "accessed_at"},
}

// ReconcileCitations schreibt die Zitationen des Pakets und registriert ihren wirksamen Status
// bei der AuditEngine. Zitationen, auf die das Paket verweist, die es aber nicht enthält,
// werden im Live-Lauf aus der Datenbank nachgeladen.
func (p *Persister) ReconcileCitations(ctx context.Context, pkg *dataset.Package) error {
	items := make([]pending[models.Citation], 0, len(pkg.Citations))
	for _, c := range pkg.Citations {
		items = append(items, pending[models.Citation]{row: models.Citation{
			ID:          c.ID,
			Type:        c.Type,
			Identifier:  c.Identifier,
			Source:      c.Source,
			Title:       c.Title,
			Year:        c.Year,
			URL:         c.URL,
			AccessedAt:  c.AccessedAt,
			AuditStatus: p.engine.Declared(c.DeclaredStatus),
		}})
	}

	items, _, err := upsertFacts(ctx, p, citationsTable, items, func(c *models.Citation) any { return c.ID })
	if err != nil {
		return err
	}
	for _, it := range items {
		p.engine.RegisterCitation(it.row.ID, it.row.AuditStatus)
	}

	if p.dryRun {
		return nil
	}
	return p.loadReferencedCitations(ctx, referencedCitations(pkg))
}

func (p *Persister) loadReferencedCitations(ctx context.Context, ids []string) error {
	var external []string
	for _, id := range ids {
		if !p.engine.KnowsCitation(id) {
			external = append(external, id)
		}
	}
	for start := 0; start < len(external); start += p.chunkSize {
		chunk := external[start:min(start+p.chunkSize, len(external))]
		var rows []models.Citation
		if err := p.retry.Do(ctx, "load citations", func() error {
			return p.db.WithContext(ctx).Select("id", "audit_status").Where("id IN ?", chunk).Find(&rows).Error
		}); err != nil {
			return fmt.Errorf("load referenced citations: %w", err)
		}
		for _, c := range rows {
			p.engine.RegisterCitation(c.ID, c.AuditStatus)
		}
	}
	if len(external) > 0 {
		p.logger.Debug("Referenced citations loaded from store", zap.Int("requested", len(external)))
	}
	return nil
}

// referencedCitations sammelt alle Zitations-IDs, auf die Fakten des Pakets verweisen.
func referencedCitations(pkg *dataset.Package) []string {
	seen := map[string]bool{}
	var ids []string
	add := func(p dataset.Provenance) {
		for _, id := range p.ReferenceIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	for _, r := range pkg.Forms {
		add(r.Provenance)
	}
	for _, r := range pkg.Evidence {
		add(r.Provenance)
	}
	for _, r := range pkg.FormAliases {
		add(r.Provenance)
	}
	for _, r := range pkg.TokenAliases {
		add(r.Provenance)
	}
	for _, r := range pkg.Interactions {
		add(r.Provenance)
	}
	for _, r := range pkg.NutrientTargets {
		add(r.Provenance)
	}
	for _, r := range pkg.TargetProfiles {
		add(r.Provenance)
	}
	for _, r := range pkg.UlToxicity {
		add(r.Provenance)
	}
	for _, r := range pkg.DoseResponseCurves {
		add(r.Provenance)
	}
	return ids
}
