package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"nutrikb/config"
	"nutrikb/models"
)

// fullPackage enthält jede Tabelle der Sheet-Form und ist in sich geschlossen.
const fullPackage = `{
  "version": "2024.1",
  "sheets": {
    "ingredients": [
      {"canonical_key": "magnesium", "name": "Magnesium", "unit": "mg", "goals": "sleep;muscle", "synonyms": "Mg; Magnesium Citrate"},
      {"canonical_key": "zinc", "name": "Zinc", "unit": "mg"}
    ],
    "citations": [
      {"id": "c-verified", "title": "RCT", "audit_status": "verified"},
      {"id": "c-open", "title": "Preprint", "audit_status": "needs_resolution"}
    ],
    "forms": [
      {"ingredient_key": "magnesium", "form_key": "citrate", "label": "Citrate", "reference_ids": "c-verified;c-open"},
      {"ingredient_key": "magnesium", "form_key": "oxide", "label": "Oxide", "audit_status": "derived", "citation_ids": ["c-open"]}
    ],
    "evidence": [
      {"ingredient_key": "magnesium", "goal": "sleep", "min_effective_dose": "200", "optimal_dose_range": "300-400", "reference_ids": ["c-open"]}
    ],
    "form_aliases": [
      {"alias": "Mg citrate", "form_key": "citrate", "ingredient_key": "magnesium", "reference_ids": ["c-verified"]},
      {"alias": "citrate", "form_key": "citrate"}
    ],
    "normalization_rules": [{"rule_key": "strip-mg", "pattern": "\\bmg\\b", "replacement": "", "priority": 10}],
    "token_aliases": [{"alias": "Cit.", "token_key": "citrate"}],
    "generic_form_tokens": [{"token": "Powder", "form_key": "generic"}],
    "interactions": [
      {"interaction_id": "mg-zn", "ingredient_a_key": "magnesium", "ingredient_b_key": "zinc",
       "condition": {"min_dose_mg": 800}, "effect": "absorption competition", "reference_ids": ["c-verified"]}
    ],
    "nutrient_targets": [{"ingredient_key": "zinc", "profile_key": "adult_m", "target_type": "rda", "value": 11, "unit": "mg"}],
    "target_profiles": [{"profile_id": "zn-adult", "ingredient_key": "zinc", "goal": "immunity", "daily_min": 8, "daily_max": 25, "unit": "mg"}],
    "ul__toxicity": [{"ingredient_key": "zinc", "ul_value": 40, "unit": "mg", "adverse_effect": "copper deficiency"}],
    "dose_response_curves": [{"curve_id": "mg-sleep", "ingredient_key": "magnesium", "goal": "sleep", "model": "emax", "points": [[100, 0.1], [400, 0.6]]}]
  }
}`

var fullPackageCounts = map[string]int{
	"ingredients":                   2,
	"synonyms":                      2,
	"citations":                     2,
	"ingredient_forms":              2,
	"ingredient_form_citations":     3,
	"ingredient_evidence":           1,
	"ingredient_evidence_citations": 1,
	"form_aliases":                  2,
	"form_alias_citations":          1,
	"normalization_rules":           1,
	"token_aliases":                 1,
	"generic_form_tokens":           1,
	"interactions":                  1,
	"interaction_citations":         1,
	"nutrient_targets":              1,
	"target_profiles":               1,
	"ul_toxicity":                   1,
	"dose_response_curves":          1,
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), GormConfig())
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		ChunkSize:          2,
		StoreRetryAttempts: 3,
		StoreRetryInitial:  time.Millisecond,
		StoreRetryMax:      5 * time.Millisecond,
	}
}

func newTestPipeline(db *gorm.DB) *Pipeline {
	return NewPipeline(db, testConfig(), zap.NewNop(), NewMetrics(), nil)
}

func live(t *testing.T) Mode {
	t.Helper()
	m, err := NewMode(false, false, false, false, false, false)
	require.NoError(t, err)
	return m
}

func runPackage(t *testing.T, p *Pipeline, doc string, mode Mode) (*Result, error) {
	t.Helper()
	return p.Run(context.Background(), []byte(doc), "package.json", mode)
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

// tableCounts zählt jede Tabelle; import_runs und import_issues sind enthalten.
func tableCounts(t *testing.T, db *gorm.DB) map[string]int64 {
	t.Helper()
	out := map[string]int64{}
	for _, m := range models.All() {
		stmt := &gorm.Statement{DB: db}
		require.NoError(t, stmt.Parse(m))
		out[stmt.Schema.Table] = countRows(t, db, m)
	}
	return out
}

func issuesOf(t *testing.T, db *gorm.DB, runID string) []models.ImportIssue {
	t.Helper()
	var issues []models.ImportIssue
	require.NoError(t, db.Where("run_id = ?", runID).Order("id").Find(&issues).Error)
	return issues
}

func loadRun(t *testing.T, db *gorm.DB, runID string) models.ImportRun {
	t.Helper()
	var run models.ImportRun
	require.NoError(t, db.First(&run, "id = ?", runID).Error)
	return run
}
