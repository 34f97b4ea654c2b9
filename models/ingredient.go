package models

import (
	"time"

	"gorm.io/datatypes"
)

// Ingredient ist der Identitätsanker für alle anderen Wissens-Tabellen.
type Ingredient struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// CanonicalKey ist der stabile Schlüssel aus dem Datensatz. Alt-Zeilen können ihn leer haben.
	CanonicalKey *string                     `json:"canonical_key,omitempty" gorm:"uniqueIndex;size:191"`
	Name         string                      `json:"name" gorm:"not null;index"`
	Unit         string                      `json:"unit,omitempty" gorm:"size:32"`
	Category     string                      `json:"category,omitempty" gorm:"index"`
	Goals        datatypes.JSONSlice[string] `json:"goals,omitempty"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Ingredient) TableName() string {
	return "ingredients"
}

// Key liefert den kanonischen Schlüssel oder "".
func (i Ingredient) Key() string {
	if i.CanonicalKey == nil {
		return ""
	}
	return *i.CanonicalKey
}

// IngredientSynonym wird nur eingefügt, nie aktualisiert.
type IngredientSynonym struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	CreatedAt    time.Time `json:"created_at"`
	IngredientID uint      `json:"ingredient_id" gorm:"not null;uniqueIndex:idx_ingredient_synonyms_key"`
	SynonymNorm  string    `json:"synonym_norm" gorm:"not null;size:191;uniqueIndex:idx_ingredient_synonyms_key"`
	Synonym      string    `json:"synonym" gorm:"not null"`
}

func (IngredientSynonym) TableName() string { return "ingredient_synonyms" }
