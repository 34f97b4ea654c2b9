package dataset

import (
	"fmt"
	"sort"
	"strings"

	"nutrikb/models"
)

// Entitätsnamen, wie sie in Issues und Statistiken erscheinen.
const (
	EntityIngredients        = "ingredients"
	EntitySynonyms           = "synonyms"
	EntityForms              = "ingredient_forms"
	EntityEvidence           = "ingredient_evidence"
	EntityCitations          = "citations"
	EntityFormAliases        = "form_aliases"
	EntityNormalizationRules = "normalization_rules"
	EntityTokenAliases       = "token_aliases"
	EntityGenericFormTokens  = "generic_form_tokens"
	EntityInteractions       = "interactions"
	EntityNutrientTargets    = "nutrient_targets"
	EntityTargetProfiles     = "target_profiles"
	EntityUlToxicity         = "ul_toxicity"
	EntityDoseResponseCurves = "dose_response_curves"
)

// builder sammelt Records und Issues, während eine Paket-Form ihre Zeilen liefert.
type builder struct {
	source string
	pkg    *Package
	issues []Issue
}

func (b *builder) issue(typ, entity, key, msg string, payload map[string]any) {
	b.issues = append(b.issues, Issue{Type: typ, Entity: entity, Key: key, Message: msg, Payload: payload})
}

func (b *builder) missing(entity, key, field string) {
	b.issue(IssueMissingField, entity, key, fmt.Sprintf("%s row without %s skipped", entity, field),
		map[string]any{"field": field})
}

// rows liest eine Tabelle. Fehlt sie, ist das kein Fehler; ist sie kein Array, ist das Paket kaputt.
func (b *builder) rows(container map[string]any, table string) ([]row, error) {
	v, ok := container[table]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, &StructuralError{Source: b.source, Reason: fmt.Sprintf("table %q must be an array, got %s", table, kindOf(v))}
	}
	return b.objects(items, table), nil
}

func (b *builder) objects(items []any, table string) []row {
	out := make([]row, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			b.issue(IssueMalformedRow, table, "", fmt.Sprintf("row %d of %s is not an object", i, table),
				map[string]any{"table": table, "index": i, "kind": kindOf(item)})
			continue
		}
		out = append(out, row(m))
	}
	return out
}

func (b *builder) provenance(r row, entity, key string) Provenance {
	status := r.text("audit_status", "status")
	if status != "" {
		if _, ok := models.ParseAuditStatus(status); !ok {
			b.issue(IssueUnknownAuditStatus, entity, key, fmt.Sprintf("unknown audit status %q, deriving from citations", status),
				map[string]any{"audit_status": status})
		}
	}
	return Provenance{DeclaredStatus: status, ReferenceIDs: r.referenceIDs()}
}

func (b *builder) ingredient(r row) (string, bool) {
	key := r.text("canonical_key", "key")
	if key == "" {
		b.issue(IssueMissingField, EntityIngredients, r.text("name"), "ingredient without canonical_key skipped",
			map[string]any{"field": "canonical_key"})
		return "", false
	}
	name := r.text("name")
	if name == "" {
		name = key
	}
	b.pkg.Ingredients = append(b.pkg.Ingredients, IngredientRecord{
		CanonicalKey: key,
		Name:         name,
		Unit:         r.text("unit", "base_unit"),
		Category:     r.text("category"),
		Goals:        r.list("goals"),
		Synonyms:     r.list("synonyms", "aliases"),
	})
	return key, true
}

func (b *builder) nestedForms(parent row, ingredientKey string) {
	v := parent["forms"]
	if v == nil {
		return
	}
	items, ok := v.([]any)
	if !ok {
		b.issue(IssueMalformedRow, EntityForms, ingredientKey, "forms must be an array",
			map[string]any{"kind": kindOf(v)})
		return
	}
	for _, r := range b.objects(items, EntityForms) {
		b.form(r, ingredientKey)
	}
}

// nestedEvidence akzeptiert ein Array oder ein Objekt mit dem Ziel als Schlüssel.
func (b *builder) nestedEvidence(parent row, ingredientKey string) {
	switch t := parent["evidence"].(type) {
	case nil:
	case []any:
		for _, r := range b.objects(t, EntityEvidence) {
			b.evidence(r, ingredientKey, "")
		}
	case map[string]any:
		goals := make([]string, 0, len(t))
		for goal := range t {
			goals = append(goals, goal)
		}
		sort.Strings(goals)
		for _, goal := range goals {
			m, ok := t[goal].(map[string]any)
			if !ok {
				b.issue(IssueMalformedRow, EntityEvidence, ingredientKey+"|"+goal, "evidence entry is not an object",
					map[string]any{"goal": goal, "kind": kindOf(t[goal])})
				continue
			}
			b.evidence(row(m), ingredientKey, CleanText(goal))
		}
	default:
		b.issue(IssueMalformedRow, EntityEvidence, ingredientKey, "evidence must be an array or an object",
			map[string]any{"kind": kindOf(t)})
	}
}

func (b *builder) form(r row, ingredientKey string) {
	if ingredientKey == "" {
		ingredientKey = r.text("ingredient_key", "ingredient")
	}
	formKey := r.text("form_key", "key")
	key := ingredientKey + "|" + formKey
	if ingredientKey == "" {
		b.missing(EntityForms, key, "ingredient_key")
		return
	}
	if formKey == "" {
		b.missing(EntityForms, key, "form_key")
		return
	}
	b.pkg.Forms = append(b.pkg.Forms, FormRecord{
		IngredientKey:  ingredientKey,
		FormKey:        formKey,
		Label:          r.text("label", "name"),
		RelativeFactor: r.number("relative_factor", "relative_potency"),
		Confidence:     r.number("confidence"),
		EvidenceGrade:  r.text("evidence_grade"),
		Provenance:     b.provenance(r, EntityForms, key),
	})
}

func (b *builder) evidence(r row, ingredientKey, goal string) {
	if ingredientKey == "" {
		ingredientKey = r.text("ingredient_key", "ingredient")
	}
	if goal == "" {
		goal = r.text("goal")
	}
	key := ingredientKey + "|" + goal
	if ingredientKey == "" {
		b.missing(EntityEvidence, key, "ingredient_key")
		return
	}
	if goal == "" {
		b.missing(EntityEvidence, key, "goal")
		return
	}
	lo, hi, err := doseRange(r)
	if err != nil {
		b.issue(IssueInvalidDoseRange, EntityEvidence, key, "optimal dose range dropped: "+err.Error(),
			map[string]any{"optimal_dose_min": r["optimal_dose_min"], "optimal_dose_max": r["optimal_dose_max"], "optimal_dose_range": r["optimal_dose_range"]})
	}
	b.pkg.Evidence = append(b.pkg.Evidence, EvidenceRecord{
		IngredientKey:    ingredientKey,
		Goal:             goal,
		MinEffectiveDose: r.number("min_effective_dose", "minimum_effective_dose"),
		OptimalDoseMin:   lo,
		OptimalDoseMax:   hi,
		EvidenceGrade:    r.text("evidence_grade", "grade"),
		Provenance:       b.provenance(r, EntityEvidence, key),
	})
}

func (b *builder) citation(r row) {
	id := r.text("id", "citation_id")
	if id == "" {
		b.missing(EntityCitations, r.text("title"), "id")
		return
	}
	accessed, err := toTime(r.raw("accessed_at", "accessed"))
	if err != nil {
		b.issue(IssueMalformedValue, EntityCitations, id, "accessed_at ignored: "+err.Error(),
			map[string]any{"field": "accessed_at", "value": r.raw("accessed_at", "accessed")})
	}
	status := r.text("audit_status", "status")
	if status != "" {
		if _, ok := models.ParseAuditStatus(status); !ok {
			b.issue(IssueUnknownAuditStatus, EntityCitations, id, fmt.Sprintf("unknown audit status %q", status),
				map[string]any{"audit_status": status})
		}
	}
	b.pkg.Citations = append(b.pkg.Citations, CitationRecord{
		ID:             id,
		Type:           r.text("type"),
		Identifier:     r.text("identifier", "doi", "pmid"),
		Source:         r.text("source"),
		Title:          r.text("title"),
		Year:           toInt(r.raw("year")),
		URL:            r.text("url"),
		AccessedAt:     accessed,
		DeclaredStatus: status,
	})
}

func (b *builder) formAlias(r row) {
	alias := r.text("alias")
	formKey := r.text("form_key")
	scope := r.text("ingredient_key", "ingredient")
	key := strings.Join([]string{alias, formKey, scope}, "|")
	if alias == "" {
		b.missing(EntityFormAliases, key, "alias")
		return
	}
	if formKey == "" {
		b.missing(EntityFormAliases, key, "form_key")
		return
	}
	b.pkg.FormAliases = append(b.pkg.FormAliases, FormAliasRecord{
		Alias:         alias,
		FormKey:       formKey,
		IngredientKey: scope,
		Provenance:    b.provenance(r, EntityFormAliases, key),
	})
}

func (b *builder) normalizationRule(r row) {
	ruleKey := r.text("rule_key", "key")
	if ruleKey == "" {
		b.missing(EntityNormalizationRules, "", "rule_key")
		return
	}
	// Muster bleiben unverändert, Leerraum kann Teil des Musters sein.
	pattern, _ := r.raw("pattern").(string)
	if strings.TrimSpace(pattern) == "" {
		b.missing(EntityNormalizationRules, ruleKey, "pattern")
		return
	}
	replacement, _ := r.raw("replacement").(string)
	priority := 0
	if p := toInt(r.raw("priority")); p != nil {
		priority = *p
	}
	b.pkg.NormalizationRules = append(b.pkg.NormalizationRules, NormalizationRuleRecord{
		RuleKey:     ruleKey,
		RuleType:    r.text("rule_type", "type"),
		Pattern:     pattern,
		Replacement: replacement,
		Priority:    priority,
	})
}

func (b *builder) tokenAlias(r row) {
	alias := r.text("alias")
	tokenKey := r.text("token_key", "token")
	scope := r.text("ingredient_key", "ingredient")
	key := strings.Join([]string{alias, tokenKey, scope}, "|")
	if alias == "" {
		b.missing(EntityTokenAliases, key, "alias")
		return
	}
	if tokenKey == "" {
		b.missing(EntityTokenAliases, key, "token_key")
		return
	}
	b.pkg.TokenAliases = append(b.pkg.TokenAliases, TokenAliasRecord{
		Alias:         alias,
		TokenKey:      tokenKey,
		IngredientKey: scope,
		Provenance:    b.provenance(r, EntityTokenAliases, key),
	})
}

func (b *builder) genericFormToken(r row) {
	token := r.text("token")
	if token == "" {
		b.missing(EntityGenericFormTokens, "", "token")
		return
	}
	b.pkg.GenericFormTokens = append(b.pkg.GenericFormTokens, GenericFormTokenRecord{
		Token:   token,
		FormKey: r.text("form_key"),
		Label:   r.text("label"),
	})
}

func (b *builder) interaction(r row) {
	id := r.text("interaction_id", "id")
	if id == "" {
		b.missing(EntityInteractions, "", "interaction_id")
		return
	}
	rawCondition := r.raw("condition", "condition_json")
	condition, malformed := toStructured(rawCondition, true)
	if malformed {
		b.issue(IssueMalformedCondition, EntityInteractions, id, "condition could not be parsed and was dropped",
			map[string]any{"condition": rawCondition})
	}
	b.pkg.Interactions = append(b.pkg.Interactions, InteractionRecord{
		InteractionID:  id,
		IngredientAKey: r.text("ingredient_a_key", "ingredient_a"),
		IngredientBKey: r.text("ingredient_b_key", "ingredient_b"),
		Condition:      condition,
		Effect:         r.text("effect", "description"),
		Severity:       r.text("severity"),
		Provenance:     b.provenance(r, EntityInteractions, id),
	})
}

func (b *builder) nutrientTarget(r row) {
	ingredientKey := r.text("ingredient_key", "ingredient")
	profileKey := r.text("profile_key", "profile")
	targetType := r.text("target_type", "type")
	key := strings.Join([]string{ingredientKey, profileKey, targetType}, "|")
	switch {
	case ingredientKey == "":
		b.missing(EntityNutrientTargets, key, "ingredient_key")
		return
	case profileKey == "":
		b.missing(EntityNutrientTargets, key, "profile_key")
		return
	case targetType == "":
		b.missing(EntityNutrientTargets, key, "target_type")
		return
	}
	b.pkg.NutrientTargets = append(b.pkg.NutrientTargets, NutrientTargetRecord{
		IngredientKey: ingredientKey,
		ProfileKey:    profileKey,
		TargetType:    targetType,
		Value:         r.number("value", "amount"),
		Unit:          r.text("unit"),
		Provenance:    b.provenance(r, EntityNutrientTargets, key),
	})
}

func (b *builder) targetProfile(r row) {
	id := r.text("profile_id", "id")
	ingredientKey := r.text("ingredient_key", "ingredient")
	if id == "" {
		b.missing(EntityTargetProfiles, ingredientKey, "profile_id")
		return
	}
	if ingredientKey == "" {
		b.missing(EntityTargetProfiles, id, "ingredient_key")
		return
	}
	lo, hi := r.number("daily_min"), r.number("daily_max")
	if lo != nil && hi != nil && *lo > *hi {
		b.issue(IssueInvalidDoseRange, EntityTargetProfiles, id, fmt.Sprintf("daily range dropped: inverted range [%v, %v]", *lo, *hi),
			map[string]any{"daily_min": *lo, "daily_max": *hi})
		lo, hi = nil, nil
	}
	b.pkg.TargetProfiles = append(b.pkg.TargetProfiles, TargetProfileRecord{
		ProfileID:     id,
		IngredientKey: ingredientKey,
		Goal:          r.text("goal"),
		Population:    r.text("population"),
		DailyMin:      lo,
		DailyMax:      hi,
		Unit:          r.text("unit"),
		Provenance:    b.provenance(r, EntityTargetProfiles, id),
	})
}

func (b *builder) ulToxicity(r row) {
	ingredientKey := r.text("ingredient_key", "ingredient")
	population := r.text("population")
	key := ingredientKey + "|" + population
	if ingredientKey == "" {
		b.missing(EntityUlToxicity, key, "ingredient_key")
		return
	}
	b.pkg.UlToxicity = append(b.pkg.UlToxicity, UlToxicityRecord{
		IngredientKey: ingredientKey,
		Population:    population,
		Value:         r.number("ul_value", "value", "ul"),
		Unit:          r.text("unit"),
		AdverseEffect: r.text("adverse_effect"),
		Provenance:    b.provenance(r, EntityUlToxicity, key),
	})
}

func (b *builder) doseResponseCurve(r row) {
	id := r.text("curve_id", "id")
	ingredientKey := r.text("ingredient_key", "ingredient")
	if id == "" {
		b.missing(EntityDoseResponseCurves, ingredientKey, "curve_id")
		return
	}
	if ingredientKey == "" {
		b.missing(EntityDoseResponseCurves, id, "ingredient_key")
		return
	}
	rawPoints := r.raw("points")
	points, malformed := toStructured(rawPoints, false)
	if malformed {
		b.issue(IssueMalformedPoints, EntityDoseResponseCurves, id, "points could not be parsed and were dropped",
			map[string]any{"points": rawPoints})
	}
	b.pkg.DoseResponseCurves = append(b.pkg.DoseResponseCurves, DoseResponseCurveRecord{
		CurveID:       id,
		IngredientKey: ingredientKey,
		Goal:          r.text("goal"),
		Model:         r.text("model"),
		Points:        points,
		Unit:          r.text("unit"),
		Provenance:    b.provenance(r, EntityDoseResponseCurves, id),
	})
}
