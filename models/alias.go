package models

import (
	"time"

	"gorm.io/datatypes"
)

// IngredientFormAlias bildet Freitext auf eine kanonische Form ab.
// ScopeKey ist der kanonische Ingredient-Schlüssel oder "" für globale Aliase.
type IngredientFormAlias struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Alias        string                      `json:"alias" gorm:"not null"`
	AliasNorm    string                      `json:"alias_norm" gorm:"not null;size:191;uniqueIndex:idx_form_aliases_key"`
	FormKey      string                      `json:"form_key" gorm:"not null;size:191;uniqueIndex:idx_form_aliases_key"`
	ScopeKey     string                      `json:"scope_key" gorm:"not null;size:191;default:'';uniqueIndex:idx_form_aliases_key"`
	IngredientID *uint                       `json:"ingredient_id,omitempty" gorm:"index"`
	AuditStatus  AuditStatus                 `json:"audit_status" gorm:"size:32;not null;index"`
	ReferenceIDs datatypes.JSONSlice[string] `json:"reference_ids,omitempty"`
}

func (IngredientFormAlias) TableName() string { return "ingredient_form_aliases" }

func (a *IngredientFormAlias) BusinessKey() string {
	return a.AliasNorm + "|" + a.FormKey + "|" + a.ScopeKey
}
func (a *IngredientFormAlias) RowID() uint { return a.ID }
func (a *IngredientFormAlias) GetAuditStatus() AuditStatus { return a.AuditStatus }
func (a *IngredientFormAlias) SetAuditStatus(s AuditStatus) { a.AuditStatus = s }

type IngredientFormAliasCitation struct {
	AliasID    uint      `json:"alias_id" gorm:"primaryKey;autoIncrement:false"`
	CitationID string    `json:"citation_id" gorm:"primaryKey;size:191"`
	CreatedAt  time.Time `json:"created_at"`
}

func (IngredientFormAliasCitation) TableName() string { return "ingredient_form_alias_citations" }

// TokenAlias bildet Freitext-Tokens auf kanonische Tokens ab (Label-Parsing).
type TokenAlias struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Alias        string                      `json:"alias" gorm:"not null"`
	AliasNorm    string                      `json:"alias_norm" gorm:"not null;size:191;uniqueIndex:idx_token_aliases_key"`
	TokenKey     string                      `json:"token_key" gorm:"not null;size:191;uniqueIndex:idx_token_aliases_key"`
	ScopeKey     string                      `json:"scope_key" gorm:"not null;size:191;default:'';uniqueIndex:idx_token_aliases_key"`
	IngredientID *uint                       `json:"ingredient_id,omitempty" gorm:"index"`
	AuditStatus  AuditStatus                 `json:"audit_status" gorm:"size:32;not null;index"`
	ReferenceIDs datatypes.JSONSlice[string] `json:"reference_ids,omitempty"`
}

func (TokenAlias) TableName() string { return "token_aliases" }

func (a *TokenAlias) BusinessKey() string {
	return a.AliasNorm + "|" + a.TokenKey + "|" + a.ScopeKey
}
func (a *TokenAlias) GetAuditStatus() AuditStatus { return a.AuditStatus }
func (a *TokenAlias) SetAuditStatus(s AuditStatus) { a.AuditStatus = s }

// NormalizationRule ist eine Ersetzungsregel für das Label-Parsing.
type NormalizationRule struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	RuleKey     string    `json:"rule_key" gorm:"not null;size:191;uniqueIndex"`
	RuleType    string    `json:"rule_type,omitempty" gorm:"size:32"`
	Pattern     string    `json:"pattern" gorm:"type:text;not null"`
	Replacement string    `json:"replacement" gorm:"type:text"`
	Priority    int       `json:"priority"`
}

func (NormalizationRule) TableName() string { return "normalization_rules" }

func (r *NormalizationRule) BusinessKey() string { return r.RuleKey }

// GenericFormToken markiert Tokens, die keine spezifische Form bezeichnen ("extract", "powder").
type GenericFormToken struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Token     string    `json:"token" gorm:"not null;size:191;uniqueIndex"`
	FormKey   string    `json:"form_key,omitempty"`
	Label     string    `json:"label,omitempty"`
}

func (GenericFormToken) TableName() string { return "generic_form_tokens" }

func (g *GenericFormToken) BusinessKey() string { return g.Token }
