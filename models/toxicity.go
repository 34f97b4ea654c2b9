package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// UlToxicity ist die tolerierbare Obergrenze (UL) eines Ingredients für eine Population.
type UlToxicity struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IngredientID  uint                        `json:"ingredient_id" gorm:"not null;uniqueIndex:idx_ul_toxicity_key"`
	Population    string                      `json:"population" gorm:"not null;size:191;default:'';uniqueIndex:idx_ul_toxicity_key"`
	ULValue       *float64                    `json:"ul_value,omitempty" gorm:"column:ul_value"`
	Unit          string                      `json:"unit,omitempty" gorm:"size:32"`
	AdverseEffect string                      `json:"adverse_effect,omitempty" gorm:"type:text"`
	AuditStatus   AuditStatus                 `json:"audit_status" gorm:"size:32;not null;index"`
	ReferenceIDs  datatypes.JSONSlice[string] `json:"reference_ids,omitempty"`
}

func (UlToxicity) TableName() string { return "ul_toxicity" }

func (u *UlToxicity) BusinessKey() string {
	return fmt.Sprintf("%d|%s", u.IngredientID, u.Population)
}
func (u *UlToxicity) GetAuditStatus() AuditStatus { return u.AuditStatus }
func (u *UlToxicity) SetAuditStatus(s AuditStatus) { u.AuditStatus = s }

// DoseResponseCurve speichert Stützpunkte oder Modellparameter einer Dosis-Wirkungs-Kurve.
type DoseResponseCurve struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CurveID      string                      `json:"curve_id" gorm:"not null;size:191;uniqueIndex"`
	IngredientID uint                        `json:"ingredient_id" gorm:"not null;index"`
	Goal         string                      `json:"goal,omitempty" gorm:"index"`
	Model        string                      `json:"model,omitempty" gorm:"size:32"`
	Points       datatypes.JSON              `json:"points,omitempty"`
	Unit         string                      `json:"unit,omitempty" gorm:"size:32"`
	AuditStatus  AuditStatus                 `json:"audit_status" gorm:"size:32;not null;index"`
	ReferenceIDs datatypes.JSONSlice[string] `json:"reference_ids,omitempty"`
}

func (DoseResponseCurve) TableName() string { return "dose_response_curves" }

func (c *DoseResponseCurve) BusinessKey() string { return c.CurveID }
func (c *DoseResponseCurve) GetAuditStatus() AuditStatus { return c.AuditStatus }
func (c *DoseResponseCurve) SetAuditStatus(s AuditStatus) { c.AuditStatus = s }
