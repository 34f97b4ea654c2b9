package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// IngredientEvidence hält die Evidenz eines Ingredients für ein Ziel (goal).
type IngredientEvidence struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IngredientID     uint     `json:"ingredient_id" gorm:"not null;uniqueIndex:idx_ingredient_evidence_key"`
	Goal             string   `json:"goal" gorm:"not null;size:191;uniqueIndex:idx_ingredient_evidence_key"`
	MinEffectiveDose *float64 `json:"min_effective_dose,omitempty"`
	// Optimaler Dosisbereich als geschlossenes Intervall [min, max]
	OptimalDoseMin *float64                    `json:"optimal_dose_min,omitempty"`
	OptimalDoseMax *float64                    `json:"optimal_dose_max,omitempty"`
	EvidenceGrade  string                      `json:"evidence_grade,omitempty" gorm:"size:16"`
	AuditStatus    AuditStatus                 `json:"audit_status" gorm:"size:32;not null;index"`
	ReferenceIDs   datatypes.JSONSlice[string] `json:"reference_ids,omitempty"`
}

func (IngredientEvidence) TableName() string { return "ingredient_evidence" }

func (e *IngredientEvidence) BusinessKey() string {
	return fmt.Sprintf("%d|%s", e.IngredientID, e.Goal)
}
func (e *IngredientEvidence) RowID() uint { return e.ID }
func (e *IngredientEvidence) GetAuditStatus() AuditStatus { return e.AuditStatus }
func (e *IngredientEvidence) SetAuditStatus(s AuditStatus) { e.AuditStatus = s }

type IngredientEvidenceCitation struct {
	EvidenceID uint      `json:"evidence_id" gorm:"primaryKey;autoIncrement:false"`
	CitationID string    `json:"citation_id" gorm:"primaryKey;size:191"`
	CreatedAt  time.Time `json:"created_at"`
}

func (IngredientEvidenceCitation) TableName() string { return "ingredient_evidence_citations" }
