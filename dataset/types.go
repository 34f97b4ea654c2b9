package dataset

import (
	"encoding/json"
	"fmt"
	"time"
)

// Package ist die kanonische, vom Paket-Format unabhängige Darstellung eines Datensatzes.
type Package struct {
	Version string
	// Shape ist "flat" oder "sheets"
	Shape string

	Ingredients        []IngredientRecord
	Forms              []FormRecord
	Evidence           []EvidenceRecord
	Citations          []CitationRecord
	FormAliases        []FormAliasRecord
	NormalizationRules []NormalizationRuleRecord
	TokenAliases       []TokenAliasRecord
	GenericFormTokens  []GenericFormTokenRecord
	Interactions       []InteractionRecord
	NutrientTargets    []NutrientTargetRecord
	TargetProfiles     []TargetProfileRecord
	UlToxicity         []UlToxicityRecord
	DoseResponseCurves []DoseResponseCurveRecord
}

// Provenance enthält die Angaben, aus denen der Audit-Status eines Fakts abgeleitet wird.
type Provenance struct {
	DeclaredStatus string
	ReferenceIDs   []string
}

type IngredientRecord struct {
	CanonicalKey string
	Name         string
	Unit         string
	Category     string
	Goals        []string
	Synonyms     []string
}

type FormRecord struct {
	IngredientKey  string
	FormKey        string
	Label          string
	RelativeFactor *float64
	Confidence     *float64
	EvidenceGrade  string
	Provenance
}

// EvidenceRecord ist die Evidenz für ein Ziel. Der optimale Bereich ist geschlossen und nie invertiert.
type EvidenceRecord struct {
	IngredientKey    string
	Goal             string
	MinEffectiveDose *float64
	OptimalDoseMin   *float64
	OptimalDoseMax   *float64
	EvidenceGrade    string
	Provenance
}

type CitationRecord struct {
	ID             string
	Type           string
	Identifier     string
	Source         string
	Title          string
	Year           *int
	URL            string
	AccessedAt     *time.Time
	DeclaredStatus string
}

// FormAliasRecord ist global, wenn IngredientKey leer ist.
type FormAliasRecord struct {
	Alias         string
	FormKey       string
	IngredientKey string
	Provenance
}

type NormalizationRuleRecord struct {
	RuleKey     string
	RuleType    string
	Pattern     string
	Replacement string
	Priority    int
}

type TokenAliasRecord struct {
	Alias         string
	TokenKey      string
	IngredientKey string
	Provenance
}

type GenericFormTokenRecord struct {
	Token   string
	FormKey string
	Label   string
}

type InteractionRecord struct {
	InteractionID  string
	IngredientAKey string
	IngredientBKey string
	Condition      json.RawMessage
	Effect         string
	Severity       string
	Provenance
}

type NutrientTargetRecord struct {
	IngredientKey string
	ProfileKey    string
	TargetType    string
	Value         *float64
	Unit          string
	Provenance
}

type TargetProfileRecord struct {
	ProfileID     string
	IngredientKey string
	Goal          string
	Population    string
	DailyMin      *float64
	DailyMax      *float64
	Unit          string
	Provenance
}

type UlToxicityRecord struct {
	IngredientKey string
	Population    string
	Value         *float64
	Unit          string
	AdverseEffect string
	Provenance
}

type DoseResponseCurveRecord struct {
	CurveID       string
	IngredientKey string
	Goal          string
	Model         string
	Points        json.RawMessage
	Unit          string
	Provenance
}

// Issue-Typen des Loaders
const (
	IssueMalformedRow       = "malformed_row"
	IssueMissingField       = "missing_field"
	IssueMalformedValue     = "malformed_value"
	IssueMalformedCondition = "malformed_condition"
	IssueMalformedPoints    = "malformed_points"
	IssueInvalidDoseRange   = "invalid_dose_range"
	IssueUnknownAuditStatus = "unknown_audit_status"
)

// Issue ist eine strukturierte Auffälligkeit. Der Schweregrad wird erst im Journal festgelegt.
type Issue struct {
	Type    string
	Entity  string
	Key     string
	Message string
	Payload map[string]any
}

// StructuralError bedeutet, dass das Paket als Ganzes nicht verarbeitet werden kann.
type StructuralError struct {
	Source string
	Reason string
	Err    error
}

func (e *StructuralError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed dataset package %q: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed dataset package %q: %s", e.Source, e.Reason)
}

func (e *StructuralError) Unwrap() error { return e.Err }
