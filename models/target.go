package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// NutrientTarget ist ein Zielwert (RDA, AI, ...) für ein Ingredient in einem Profil.
type NutrientTarget struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IngredientID uint                        `json:"ingredient_id" gorm:"not null;uniqueIndex:idx_nutrient_targets_key"`
	ProfileKey   string                      `json:"profile_key" gorm:"not null;size:191;uniqueIndex:idx_nutrient_targets_key"`
	TargetType   string                      `json:"target_type" gorm:"not null;size:32;uniqueIndex:idx_nutrient_targets_key"`
	Value        *float64                    `json:"value,omitempty"`
	Unit         string                      `json:"unit,omitempty" gorm:"size:32"`
	AuditStatus  AuditStatus                 `json:"audit_status" gorm:"size:32;not null;index"`
	ReferenceIDs datatypes.JSONSlice[string] `json:"reference_ids,omitempty"`
}

func (NutrientTarget) TableName() string { return "nutrient_targets" }

func (t *NutrientTarget) BusinessKey() string {
	return fmt.Sprintf("%d|%s|%s", t.IngredientID, t.ProfileKey, t.TargetType)
}
func (t *NutrientTarget) GetAuditStatus() AuditStatus { return t.AuditStatus }
func (t *NutrientTarget) SetAuditStatus(s AuditStatus) { t.AuditStatus = s }

// TargetProfile beschreibt eine Tagesdosis-Spanne für ein Ziel und eine Population.
type TargetProfile struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProfileID    string                      `json:"profile_id" gorm:"not null;size:191;uniqueIndex"`
	IngredientID uint                        `json:"ingredient_id" gorm:"not null;index"`
	Goal         string                      `json:"goal,omitempty" gorm:"index"`
	Population   string                      `json:"population,omitempty"`
	DailyMin     *float64                    `json:"daily_min,omitempty"`
	DailyMax     *float64                    `json:"daily_max,omitempty"`
	Unit         string                      `json:"unit,omitempty" gorm:"size:32"`
	AuditStatus  AuditStatus                 `json:"audit_status" gorm:"size:32;not null;index"`
	ReferenceIDs datatypes.JSONSlice[string] `json:"reference_ids,omitempty"`
}

func (TargetProfile) TableName() string { return "target_profiles" }

func (p *TargetProfile) BusinessKey() string { return p.ProfileID }
func (p *TargetProfile) GetAuditStatus() AuditStatus { return p.AuditStatus }
func (p *TargetProfile) SetAuditStatus(s AuditStatus) { p.AuditStatus = s }
