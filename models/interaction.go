package models

import (
	"time"

	"gorm.io/datatypes"
)

// Interaction beschreibt eine Wechselwirkung zwischen zwei Ingredients.
type Interaction struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	InteractionID  string `json:"interaction_id" gorm:"not null;size:191;uniqueIndex"`
	IngredientAKey string `json:"ingredient_a_key" gorm:"column:ingredient_a_key;size:191;index"`
	IngredientAID  *uint  `json:"ingredient_a_id,omitempty" gorm:"column:ingredient_a_id;index"`
	IngredientBKey string `json:"ingredient_b_key" gorm:"column:ingredient_b_key;size:191;index"`
	IngredientBID  *uint  `json:"ingredient_b_id,omitempty" gorm:"column:ingredient_b_id;index"`
	// Condition ist die strukturierte Bedingung (JSON), z.B. {"min_dose_mg": 500}
	Condition    datatypes.JSON              `json:"condition,omitempty"`
	Effect       string                      `json:"effect,omitempty" gorm:"type:text"`
	Severity     string                      `json:"severity,omitempty" gorm:"size:32"`
	AuditStatus  AuditStatus                 `json:"audit_status" gorm:"size:32;not null;index"`
	ReferenceIDs datatypes.JSONSlice[string] `json:"reference_ids,omitempty"`
}

func (Interaction) TableName() string { return "interactions" }

func (i *Interaction) BusinessKey() string { return i.InteractionID }
func (i *Interaction) RowID() uint { return i.ID }
func (i *Interaction) GetAuditStatus() AuditStatus { return i.AuditStatus }
func (i *Interaction) SetAuditStatus(s AuditStatus) { i.AuditStatus = s }

type InteractionCitation struct {
	InteractionDBID uint      `json:"interaction_db_id" gorm:"column:interaction_db_id;primaryKey;autoIncrement:false"`
	CitationID      string    `json:"citation_id" gorm:"primaryKey;size:191"`
	CreatedAt       time.Time `json:"created_at"`
}

func (InteractionCitation) TableName() string { return "interaction_citations" }
