package models

// All listet alle Tabellen in Migrationsreihenfolge.
func All() []any {
	return []any{
		&Ingredient{},
		&IngredientSynonym{},
		&Citation{},
		&IngredientForm{},
		&IngredientFormCitation{},
		&IngredientEvidence{},
		&IngredientEvidenceCitation{},
		&IngredientFormAlias{},
		&IngredientFormAliasCitation{},
		&NormalizationRule{},
		&TokenAlias{},
		&GenericFormToken{},
		&Interaction{},
		&InteractionCitation{},
		&NutrientTarget{},
		&TargetProfile{},
		&UlToxicity{},
		&DoseResponseCurve{},
		&DatasetState{},
		&ImportRun{},
		&ImportIssue{},
	}
}
