package services

import (
	"context"
	"strings"

	"gorm.io/datatypes"

	"nutrikb/dataset"
	"nutrikb/models"
)

var (
	formAliasesTable = table{
		entity:   dataset.EntityFormAliases,
		scope:    "alias_norm",
		conflict: []string{"alias_norm", "form_key", "scope_key"},
		updates:  []string{"alias", "ingredient_id", "audit_status", "reference_ids"},
		joined:   true,
	}
	tokenAliasesTable = table{
		entity:   dataset.EntityTokenAliases,
		scope:    "alias_norm",
		conflict: []string{"alias_norm", "token_key", "scope_key"},
		updates:  []string{"alias", "ingredient_id", "audit_status", "reference_ids"},
	}
	normalizationRulesTable = table{
		entity:   dataset.EntityNormalizationRules,
		conflict: []string{"rule_key"},
		updates:  []string{"rule_type", "pattern", "replacement", "priority"},
	}
	genericFormTokensTable = table{
		entity:   dataset.EntityGenericFormTokens,
		conflict: []string{"token"},
		updates:  []string{"form_key", "label"},
	}
)

// ImportParsing schreibt die Tabellen, die das Label-Parsing braucht.
func (p *Persister) ImportParsing(ctx context.Context, pkg *dataset.Package) error {
	steps := []func(context.Context, *dataset.Package) error{
		p.formAliases,
		p.normalizationRules,
		p.tokenAliases,
		p.genericFormTokens,
	}
	for _, step := range steps {
		if err := step(ctx, pkg); err != nil {
			return err
		}
	}
	return nil
}

// scope löst den optionalen Ingredient-Bezug eines Alias auf. Ein leerer Schlüssel bedeutet global.
func (p *Persister) scope(ctx context.Context, entity, key, ingredientKey string) (*uint, bool, error) {
	if ingredientKey == "" {
		return nil, true, nil
	}
	id, ok, err := p.ingredientID(ctx, entity, key, ingredientKey)
	if err != nil || !ok {
		return nil, false, err
	}
	return &id, true, nil
}

func (p *Persister) formAliases(ctx context.Context, pkg *dataset.Package) error {
	var items []pending[models.IngredientFormAlias]
	for _, rec := range pkg.FormAliases {
		key := strings.Join([]string{rec.Alias, rec.FormKey, rec.IngredientKey}, "|")
		id, ok, err := p.scope(ctx, dataset.EntityFormAliases, key, rec.IngredientKey)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		refs, err := p.knownRefs(dataset.EntityFormAliases, key, rec.ReferenceIDs)
		if err != nil {
			return err
		}
		items = append(items, pending[models.IngredientFormAlias]{refs: refs, row: models.IngredientFormAlias{
			Alias:        rec.Alias,
			AliasNorm:    dataset.NormalizeKey(rec.Alias),
			FormKey:      rec.FormKey,
			ScopeKey:     rec.IngredientKey,
			IngredientID: id,
			AuditStatus:  p.engine.Effective(rec.Provenance),
			ReferenceIDs: datatypes.JSONSlice[string](rec.ReferenceIDs),
		}})
	}

	items, written, err := upsertFacts(ctx, p, formAliasesTable, items, func(a *models.IngredientFormAlias) any { return a.AliasNorm })
	if err != nil {
		return err
	}
	return linkCitations[models.IngredientFormAlias, *models.IngredientFormAlias](ctx, p, EntityFormAliasCitations,
		[]string{"alias_id", "citation_id"}, items, written,
		func(id uint, citation string) models.IngredientFormAliasCitation {
			return models.IngredientFormAliasCitation{AliasID: id, CitationID: citation}
		})
}

func (p *Persister) tokenAliases(ctx context.Context, pkg *dataset.Package) error {
	var items []pending[models.TokenAlias]
	for _, rec := range pkg.TokenAliases {
		key := strings.Join([]string{rec.Alias, rec.TokenKey, rec.IngredientKey}, "|")
		id, ok, err := p.scope(ctx, dataset.EntityTokenAliases, key, rec.IngredientKey)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		refs, err := p.knownRefs(dataset.EntityTokenAliases, key, rec.ReferenceIDs)
		if err != nil {
			return err
		}
		items = append(items, pending[models.TokenAlias]{refs: refs, row: models.TokenAlias{
			Alias:        rec.Alias,
			AliasNorm:    dataset.NormalizeKey(rec.Alias),
			TokenKey:     rec.TokenKey,
			ScopeKey:     rec.IngredientKey,
			IngredientID: id,
			AuditStatus:  p.engine.Effective(rec.Provenance),
			ReferenceIDs: datatypes.JSONSlice[string](rec.ReferenceIDs),
		}})
	}
	_, _, err := upsertFacts(ctx, p, tokenAliasesTable, items, func(a *models.TokenAlias) any { return a.AliasNorm })
	return err
}

func (p *Persister) normalizationRules(ctx context.Context, pkg *dataset.Package) error {
	items := make([]pending[models.NormalizationRule], 0, len(pkg.NormalizationRules))
	for _, rec := range pkg.NormalizationRules {
		items = append(items, pending[models.NormalizationRule]{row: models.NormalizationRule{
			RuleKey:     rec.RuleKey,
			RuleType:    rec.RuleType,
			Pattern:     rec.Pattern,
			Replacement: rec.Replacement,
			Priority:    rec.Priority,
		}})
	}
	return upsertPlain[models.NormalizationRule, *models.NormalizationRule](ctx, p, normalizationRulesTable, items)
}

func (p *Persister) genericFormTokens(ctx context.Context, pkg *dataset.Package) error {
	items := make([]pending[models.GenericFormToken], 0, len(pkg.GenericFormTokens))
	for _, rec := range pkg.GenericFormTokens {
		items = append(items, pending[models.GenericFormToken]{row: models.GenericFormToken{
			Token:   dataset.NormalizeKey(rec.Token),
			FormKey: rec.FormKey,
			Label:   rec.Label,
		}})
	}
	return upsertPlain[models.GenericFormToken, *models.GenericFormToken](ctx, p, genericFormTokensTable, items)
}
