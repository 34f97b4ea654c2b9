package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// IngredientForm ist eine Darreichungsform eines Ingredients (z.B. Magnesiumcitrat).
type IngredientForm struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IngredientID   uint                        `json:"ingredient_id" gorm:"not null;uniqueIndex:idx_ingredient_forms_key"`
	FormKey        string                      `json:"form_key" gorm:"not null;size:191;uniqueIndex:idx_ingredient_forms_key"`
	Label          string                      `json:"label,omitempty"`
	RelativeFactor *float64                    `json:"relative_factor,omitempty"`
	Confidence     *float64                    `json:"confidence,omitempty"`
	EvidenceGrade  string                      `json:"evidence_grade,omitempty" gorm:"size:16"`
	AuditStatus    AuditStatus                 `json:"audit_status" gorm:"size:32;not null;index"`
	ReferenceIDs   datatypes.JSONSlice[string] `json:"reference_ids,omitempty"`
}

func (IngredientForm) TableName() string { return "ingredient_forms" }

func (f *IngredientForm) BusinessKey() string {
	return fmt.Sprintf("%d|%s", f.IngredientID, f.FormKey)
}
func (f *IngredientForm) RowID() uint { return f.ID }
func (f *IngredientForm) GetAuditStatus() AuditStatus { return f.AuditStatus }
func (f *IngredientForm) SetAuditStatus(s AuditStatus) { f.AuditStatus = s }

// IngredientFormCitation verknüpft eine Form mit ihren Belegen.
type IngredientFormCitation struct {
	FormID     uint      `json:"form_id" gorm:"primaryKey;autoIncrement:false"`
	CitationID string    `json:"citation_id" gorm:"primaryKey;size:191"`
	CreatedAt  time.Time `json:"created_at"`
}

func (IngredientFormCitation) TableName() string { return "ingredient_form_citations" }
