package services

import (
	"context"

	"gorm.io/datatypes"

	"nutrikb/dataset"
	"nutrikb/models"
)

// Join-Tabellen, wie sie in den Statistiken erscheinen.
const (
	EntityFormCitations        = "ingredient_form_citations"
	EntityEvidenceCitations    = "ingredient_evidence_citations"
	EntityFormAliasCitations   = "form_alias_citations"
	EntityInteractionCitations = "interaction_citations"
)

var (
	formsTable = table{
		entity:   dataset.EntityForms,
		scope:    "ingredient_id",
		conflict: []string{"ingredient_id", "form_key"},
		updates:  []string{"label", "relative_factor", "confidence", "evidence_grade", "audit_status", "reference_ids"},
		joined:   true,
	}
	evidenceTable = table{
		entity:   dataset.EntityEvidence,
		scope:    "ingredient_id",
		conflict: []string{"ingredient_id", "goal"},
		updates:  []string{"min_effective_dose", "optimal_dose_min", "optimal_dose_max", "evidence_grade", "audit_status", "reference_ids"},
		joined:   true,
	}
	interactionsTable = table{
		entity:   dataset.EntityInteractions,
		scope:    "interaction_id",
		conflict: []string{"interaction_id"},
		updates: []string{"ingredient_a_key", "ingredient_a_id", "ingredient_b_key", "ingredient_b_id",
			"condition", "effect", "severity", "audit_status", "reference_ids"},
		joined: true,
	}
	nutrientTargetsTable = table{
		entity:   dataset.EntityNutrientTargets,
		scope:    "ingredient_id",
		conflict: []string{"ingredient_id", "profile_key", "target_type"},
		updates:  []string{"value", "unit", "audit_status", "reference_ids"},
	}
	targetProfilesTable = table{
		entity:   dataset.EntityTargetProfiles,
		scope:    "profile_id",
		conflict: []string{"profile_id"},
		updates:  []string{"ingredient_id", "goal", "population", "daily_min", "daily_max", "unit", "audit_status", "reference_ids"},
	}
	ulToxicityTable = table{
		entity:   dataset.EntityUlToxicity,
		scope:    "ingredient_id",
		conflict: []string{"ingredient_id", "population"},
		updates:  []string{"ul_value", "unit", "adverse_effect", "audit_status", "reference_ids"},
	}
	doseResponseCurvesTable = table{
		entity:   dataset.EntityDoseResponseCurves,
		scope:    "curve_id",
		conflict: []string{"curve_id"},
		updates:  []string{"ingredient_id", "goal", "model", "points", "unit", "audit_status", "reference_ids"},
	}
)

// ImportKnowledge schreibt die Wissens-Tabellen. Alle Ingredients müssen bereits aufgelöst sein.
func (p *Persister) ImportKnowledge(ctx context.Context, pkg *dataset.Package) error {
	steps := []func(context.Context, *dataset.Package) error{
		p.forms,
		p.evidence,
		p.interactions,
		p.nutrientTargets,
		p.targetProfiles,
		p.ulToxicity,
		p.doseResponseCurves,
	}
	for _, step := range steps {
		if err := step(ctx, pkg); err != nil {
			return err
		}
	}
	return nil
}

// fact ermittelt Ingredient-ID, bekannte Zitationen und eingehenden Status eines Fakts.
// ok ist false, wenn der Fakt übersprungen wird.
func (p *Persister) fact(ctx context.Context, entity, key, ingredientKey string, prov dataset.Provenance) (id uint, refs []string, status models.AuditStatus, ok bool, err error) {
	id, ok, err = p.ingredientID(ctx, entity, key, ingredientKey)
	if err != nil || !ok {
		return 0, nil, "", false, err
	}
	refs, err = p.knownRefs(entity, key, prov.ReferenceIDs)
	if err != nil {
		return 0, nil, "", false, err
	}
	return id, refs, p.engine.Effective(prov), true, nil
}

func (p *Persister) forms(ctx context.Context, pkg *dataset.Package) error {
	var items []pending[models.IngredientForm]
	for _, rec := range pkg.Forms {
		id, refs, status, ok, err := p.fact(ctx, dataset.EntityForms, rec.IngredientKey+"|"+rec.FormKey, rec.IngredientKey, rec.Provenance)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		items = append(items, pending[models.IngredientForm]{refs: refs, row: models.IngredientForm{
			IngredientID:   id,
			FormKey:        rec.FormKey,
			Label:          rec.Label,
			RelativeFactor: rec.RelativeFactor,
			Confidence:     rec.Confidence,
			EvidenceGrade:  rec.EvidenceGrade,
			AuditStatus:    status,
			ReferenceIDs:   datatypes.JSONSlice[string](rec.ReferenceIDs),
		}})
	}

	items, written, err := upsertFacts(ctx, p, formsTable, items, func(f *models.IngredientForm) any { return f.IngredientID })
	if err != nil {
		return err
	}
	return linkCitations[models.IngredientForm, *models.IngredientForm](ctx, p, EntityFormCitations,
		[]string{"form_id", "citation_id"}, items, written,
		func(id uint, citation string) models.IngredientFormCitation {
			return models.IngredientFormCitation{FormID: id, CitationID: citation}
		})
}

func (p *Persister) evidence(ctx context.Context, pkg *dataset.Package) error {
	var items []pending[models.IngredientEvidence]
	for _, rec := range pkg.Evidence {
		id, refs, status, ok, err := p.fact(ctx, dataset.EntityEvidence, rec.IngredientKey+"|"+rec.Goal, rec.IngredientKey, rec.Provenance)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		items = append(items, pending[models.IngredientEvidence]{refs: refs, row: models.IngredientEvidence{
			IngredientID:     id,
			Goal:             rec.Goal,
			MinEffectiveDose: rec.MinEffectiveDose,
			OptimalDoseMin:   rec.OptimalDoseMin,
			OptimalDoseMax:   rec.OptimalDoseMax,
			EvidenceGrade:    rec.EvidenceGrade,
			AuditStatus:      status,
			ReferenceIDs:     datatypes.JSONSlice[string](rec.ReferenceIDs),
		}})
	}

	items, written, err := upsertFacts(ctx, p, evidenceTable, items, func(e *models.IngredientEvidence) any { return e.IngredientID })
	if err != nil {
		return err
	}
	return linkCitations[models.IngredientEvidence, *models.IngredientEvidence](ctx, p, EntityEvidenceCitations,
		[]string{"evidence_id", "citation_id"}, items, written,
		func(id uint, citation string) models.IngredientEvidenceCitation {
			return models.IngredientEvidenceCitation{EvidenceID: id, CitationID: citation}
		})
}

func (p *Persister) interactions(ctx context.Context, pkg *dataset.Package) error {
	var items []pending[models.Interaction]
	for _, rec := range pkg.Interactions {
		key := rec.InteractionID
		if rec.IngredientAKey == "" && rec.IngredientBKey == "" {
			if err := p.journal.Raise(dataset.Issue{
				Type:    IssueMissingIngredient,
				Entity:  dataset.EntityInteractions,
				Key:     key,
				Message: "interaction references no ingredient, row skipped",
			}); err != nil {
				return err
			}
			continue
		}

		var ids [2]*uint
		skip := false
		for i, ingredientKey := range []string{rec.IngredientAKey, rec.IngredientBKey} {
			if ingredientKey == "" {
				continue
			}
			id, ok, err := p.ingredientID(ctx, dataset.EntityInteractions, key, ingredientKey)
			if err != nil {
				return err
			}
			if !ok {
				skip = true
				break
			}
			ids[i] = &id
		}
		if skip {
			continue
		}

		refs, err := p.knownRefs(dataset.EntityInteractions, key, rec.ReferenceIDs)
		if err != nil {
			return err
		}
		items = append(items, pending[models.Interaction]{refs: refs, row: models.Interaction{
			InteractionID:  rec.InteractionID,
			IngredientAKey: rec.IngredientAKey,
			IngredientAID:  ids[0],
			IngredientBKey: rec.IngredientBKey,
			IngredientBID:  ids[1],
			Condition:      datatypes.JSON(rec.Condition),
			Effect:         rec.Effect,
			Severity:       rec.Severity,
			AuditStatus:    p.engine.Effective(rec.Provenance),
			ReferenceIDs:   datatypes.JSONSlice[string](rec.ReferenceIDs),
		}})
	}

	items, written, err := upsertFacts(ctx, p, interactionsTable, items, func(i *models.Interaction) any { return i.InteractionID })
	if err != nil {
		return err
	}
	return linkCitations[models.Interaction, *models.Interaction](ctx, p, EntityInteractionCitations,
		[]string{"interaction_db_id", "citation_id"}, items, written,
		func(id uint, citation string) models.InteractionCitation {
			return models.InteractionCitation{InteractionDBID: id, CitationID: citation}
		})
}

func (p *Persister) nutrientTargets(ctx context.Context, pkg *dataset.Package) error {
	var items []pending[models.NutrientTarget]
	for _, rec := range pkg.NutrientTargets {
		key := rec.IngredientKey + "|" + rec.ProfileKey + "|" + rec.TargetType
		id, refs, status, ok, err := p.fact(ctx, dataset.EntityNutrientTargets, key, rec.IngredientKey, rec.Provenance)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		items = append(items, pending[models.NutrientTarget]{refs: refs, row: models.NutrientTarget{
			IngredientID: id,
			ProfileKey:   rec.ProfileKey,
			TargetType:   rec.TargetType,
			Value:        rec.Value,
			Unit:         rec.Unit,
			AuditStatus:  status,
			ReferenceIDs: datatypes.JSONSlice[string](rec.ReferenceIDs),
		}})
	}
	_, _, err := upsertFacts(ctx, p, nutrientTargetsTable, items, func(t *models.NutrientTarget) any { return t.IngredientID })
	return err
}

func (p *Persister) targetProfiles(ctx context.Context, pkg *dataset.Package) error {
	var items []pending[models.TargetProfile]
	for _, rec := range pkg.TargetProfiles {
		id, refs, status, ok, err := p.fact(ctx, dataset.EntityTargetProfiles, rec.ProfileID, rec.IngredientKey, rec.Provenance)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		items = append(items, pending[models.TargetProfile]{refs: refs, row: models.TargetProfile{
			ProfileID:    rec.ProfileID,
			IngredientID: id,
			Goal:         rec.Goal,
			Population:   rec.Population,
			DailyMin:     rec.DailyMin,
			DailyMax:     rec.DailyMax,
			Unit:         rec.Unit,
			AuditStatus:  status,
			ReferenceIDs: datatypes.JSONSlice[string](rec.ReferenceIDs),
		}})
	}
	_, _, err := upsertFacts(ctx, p, targetProfilesTable, items, func(t *models.TargetProfile) any { return t.ProfileID })
	return err
}

func (p *Persister) ulToxicity(ctx context.Context, pkg *dataset.Package) error {
	var items []pending[models.UlToxicity]
	for _, rec := range pkg.UlToxicity {
		id, refs, status, ok, err := p.fact(ctx, dataset.EntityUlToxicity, rec.IngredientKey+"|"+rec.Population, rec.IngredientKey, rec.Provenance)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		items = append(items, pending[models.UlToxicity]{refs: refs, row: models.UlToxicity{
			IngredientID:  id,
			Population:    rec.Population,
			ULValue:       rec.Value,
			Unit:          rec.Unit,
			AdverseEffect: rec.AdverseEffect,
			AuditStatus:   status,
			ReferenceIDs:  datatypes.JSONSlice[string](rec.ReferenceIDs),
		}})
	}
	_, _, err := upsertFacts(ctx, p, ulToxicityTable, items, func(u *models.UlToxicity) any { return u.IngredientID })
	return err
}

func (p *Persister) doseResponseCurves(ctx context.Context, pkg *dataset.Package) error {
	var items []pending[models.DoseResponseCurve]
	for _, rec := range pkg.DoseResponseCurves {
		id, refs, status, ok, err := p.fact(ctx, dataset.EntityDoseResponseCurves, rec.CurveID, rec.IngredientKey, rec.Provenance)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		items = append(items, pending[models.DoseResponseCurve]{refs: refs, row: models.DoseResponseCurve{
			CurveID:      rec.CurveID,
			IngredientID: id,
			Goal:         rec.Goal,
			Model:        rec.Model,
			Points:       datatypes.JSON(rec.Points),
			Unit:         rec.Unit,
			AuditStatus:  status,
			ReferenceIDs: datatypes.JSONSlice[string](rec.ReferenceIDs),
		}})
	}
	_, _, err := upsertFacts(ctx, p, doseResponseCurvesTable, items, func(c *models.DoseResponseCurve) any { return c.CurveID })
	return err
}
