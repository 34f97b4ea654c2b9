package services

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"nutrikb/dataset"
	"nutrikb/models"
)

const conflictPackage = `{
  "version": "2024.2",
  "ingredients": [{"canonical_key": "magnesium", "name": "Magnesium", "unit": "mg"}]
}`

const brokenRefsPackage = `{
  "version": "2024.3",
  "sheets": {
    "ingredients": [{"canonical_key": "magnesium", "name": "Magnesium"}],
    "citations": [{"id": "c1", "audit_status": "verified"}],
    "forms": [
      {"ingredient_key": "magnesium", "form_key": "citrate", "reference_ids": ["c1", "c-missing"]},
      {"ingredient_key": "iron", "form_key": "bisglycinate"}
    ]
  }
}`

// nameClashPackage hat zwei Schlüssel für denselben Namen; der zweite Datensatz trägt eine Form.
const nameClashPackage = `{
  "version": "2024.4",
  "sheets": {
    "ingredients": [
      {"canonical_key": "mg", "name": "Magnesium", "unit": "mg"},
      {"canonical_key": "magnesium", "name": "magnesium", "unit": "mg"}
    ],
    "forms": [{"ingredient_key": "magnesium", "form_key": "citrate"}]
  }
}`

type fakeArchiver struct {
	calls int
	err   error
}

func (f *fakeArchiver) Archive(_ context.Context, version, name string, _ []byte) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "s3://bucket/datasets/" + version + "/" + name, nil
}

func TestRunImportsFullPackage(t *testing.T) {
	db := newTestDB(t)
	p := newTestPipeline(db)

	res, err := runPackage(t, p, fullPackage, live(t))
	require.NoError(t, err)
	assert.Equal(t, "sheets", res.Shape)
	assert.Equal(t, "2024.1", res.Version)
	assert.NotEmpty(t, res.RunID)
	for entity, want := range fullPackageCounts {
		assert.Equal(t, want, res.Stats.Counts[entity], entity)
	}
	assert.Zero(t, res.Stats.Warnings)
	assert.Equal(t, 2, res.Stats.Created[dataset.EntityIngredients])

	var state models.DatasetState
	require.NoError(t, db.Where(&models.DatasetState{Key: DatasetStateKey}).First(&state).Error)
	assert.Equal(t, "2024.1", state.Version)
	assert.Equal(t, res.RunID, state.RunID)

	var curve models.DoseResponseCurve
	require.NoError(t, db.First(&curve, "curve_id = ?", "mg-sleep").Error)
	assert.JSONEq(t, `[[100, 0.1], [400, 0.6]]`, string(curve.Points))

	var interaction models.Interaction
	require.NoError(t, db.First(&interaction, "interaction_id = ?", "mg-zn").Error)
	assert.JSONEq(t, `{"min_dose_mg": 800}`, string(interaction.Condition))
	require.NotNil(t, interaction.IngredientAID)
	require.NotNil(t, interaction.IngredientBID)
}

func TestRunDerivesAuditStatusFromCitations(t *testing.T) {
	db := newTestDB(t)
	_, err := runPackage(t, newTestPipeline(db), fullPackage, live(t))
	require.NoError(t, err)

	status := func(formKey string) models.AuditStatus {
		var f models.IngredientForm
		require.NoError(t, db.First(&f, "form_key = ?", formKey).Error)
		return f.AuditStatus
	}
	assert.Equal(t, models.AuditVerified, status("citrate"), "one verified citation is enough")
	assert.Equal(t, models.AuditDerived, status("oxide"), "declared status wins")

	var ev models.IngredientEvidence
	require.NoError(t, db.First(&ev, "goal = ?", "sleep").Error)
	assert.Equal(t, models.AuditNeedsResolution, ev.AuditStatus)
	require.NotNil(t, ev.OptimalDoseMin)
	require.NotNil(t, ev.OptimalDoseMax)
	assert.InDelta(t, 300, *ev.OptimalDoseMin, 1e-9)
	assert.InDelta(t, 400, *ev.OptimalDoseMax, 1e-9)

	var global models.IngredientFormAlias
	require.NoError(t, db.First(&global, "alias_norm = ? AND scope_key = ?", "citrate", "").Error)
	assert.Nil(t, global.IngredientID)
	assert.Equal(t, models.AuditNeedsReview, global.AuditStatus)
}

func TestRunIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	p := newTestPipeline(db)

	first, err := runPackage(t, p, fullPackage, live(t))
	require.NoError(t, err)
	after := tableCounts(t, db)

	second, err := runPackage(t, p, fullPackage, live(t))
	require.NoError(t, err)
	again := tableCounts(t, db)

	assert.Equal(t, first.Stats.Counts, second.Stats.Counts)
	for entity, n := range second.Stats.Created {
		assert.Zero(t, n, "second run created %s", entity)
	}
	for table, n := range after {
		if table == "import_runs" {
			assert.Equal(t, n+1, again[table])
			continue
		}
		assert.Equal(t, n, again[table], table)
	}
	assert.Equal(t, int64(3), again["ingredient_form_citations"])
}

func TestDryRunMatchesLiveCounts(t *testing.T) {
	db := newTestDB(t)
	dry, err := NewMode(true, false, false, false, false, false)
	require.NoError(t, err)

	dryRes, err := runPackage(t, newTestPipeline(db), fullPackage, dry)
	require.NoError(t, err)
	assert.Empty(t, dryRes.RunID)
	for table, n := range tableCounts(t, db) {
		assert.Zero(t, n, "dry-run wrote to %s", table)
	}

	noStore, err := runPackage(t, newTestPipeline(nil), fullPackage, dry)
	require.NoError(t, err)
	assert.Equal(t, dryRes.Stats.Counts, noStore.Stats.Counts)

	liveRes, err := runPackage(t, newTestPipeline(db), fullPackage, live(t))
	require.NoError(t, err)
	assert.Equal(t, liveRes.Stats.Counts, dryRes.Stats.Counts)

	t.Run("name clash inside package", func(t *testing.T) {
		dry, err := NewMode(true, false, false, false, false, false)
		require.NoError(t, err)
		dryRes, err := runPackage(t, newTestPipeline(nil), nameClashPackage, dry)
		require.NoError(t, err)

		liveRes, err := runPackage(t, newTestPipeline(newTestDB(t)), nameClashPackage, live(t))
		require.NoError(t, err)

		assert.Equal(t, liveRes.Stats.Counts, dryRes.Stats.Counts)
		assert.Equal(t, 1, dryRes.Stats.Counts[dataset.EntityIngredients])
		assert.Zero(t, dryRes.Stats.Counts[dataset.EntityForms])
		assert.Equal(t, 2, dryRes.Stats.Warnings, "canonical_key_conflict and missing_ingredient")
		assert.Equal(t, liveRes.Stats.Warnings, dryRes.Stats.Warnings)
	})

	t.Run("name clash inside package strict", func(t *testing.T) {
		dry, err := NewMode(true, true, false, false, false, false)
		require.NoError(t, err)
		strict, err := NewMode(false, true, false, false, false, false)
		require.NoError(t, err)

		var dryErr, liveErr *IssueError
		dryRes, err := runPackage(t, newTestPipeline(nil), nameClashPackage, dry)
		require.ErrorAs(t, err, &dryErr)
		liveRes, err := runPackage(t, newTestPipeline(newTestDB(t)), nameClashPackage, strict)
		require.ErrorAs(t, err, &liveErr)

		assert.Equal(t, IssueCanonicalKeyConflict, dryErr.Issue.Type)
		assert.Equal(t, liveErr.Issue.Type, dryErr.Issue.Type)
		assert.Equal(t, liveRes.Stats.Counts, dryRes.Stats.Counts)
	})
}

func TestLiveRunWithoutStoreFails(t *testing.T) {
	_, err := runPackage(t, newTestPipeline(nil), fullPackage, live(t))
	assert.Error(t, err)
}

func seedLegacyMagnesium(t *testing.T, db *gorm.DB) {
	t.Helper()
	key := "mag-legacy"
	require.NoError(t, db.Create(&models.Ingredient{CanonicalKey: &key, Name: "Magnesium", Unit: "mg"}).Error)
}

func TestCanonicalKeyConflictLenient(t *testing.T) {
	db := newTestDB(t)
	seedLegacyMagnesium(t, db)

	res, err := runPackage(t, newTestPipeline(db), conflictPackage, live(t))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Warnings)
	assert.Zero(t, res.Stats.Counts[dataset.EntityIngredients])

	issues := issuesOf(t, db, res.RunID)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueCanonicalKeyConflict, issues[0].IssueType)
	assert.Equal(t, string(SeverityWarning), issues[0].Severity)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(issues[0].Payload, &payload))
	assert.Equal(t, "mag-legacy", payload["existing_key"])

	var keys []string
	require.NoError(t, db.Model(&models.Ingredient{}).Pluck("canonical_key", &keys).Error)
	assert.Equal(t, []string{"mag-legacy"}, keys, "no second row and no key change")
}

func TestCanonicalKeyConflictStrict(t *testing.T) {
	db := newTestDB(t)
	seedLegacyMagnesium(t, db)
	strict, err := NewMode(false, true, false, false, false, false)
	require.NoError(t, err)

	res, err := runPackage(t, newTestPipeline(db), conflictPackage, strict)
	require.Error(t, err)
	var issueErr *IssueError
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, IssueCanonicalKeyConflict, issueErr.Issue.Type)

	run := loadRun(t, db, res.RunID)
	assert.NotNil(t, run.FinishedAt)
	assert.Contains(t, run.Error, IssueCanonicalKeyConflict)
	assert.True(t, run.Strict)

	issues := issuesOf(t, db, res.RunID)
	require.Len(t, issues, 1)
	assert.Equal(t, string(SeverityError), issues[0].Severity)

	assert.Zero(t, countRows(t, db, &models.DatasetState{}), "failed run does not mark the dataset version")
}

func TestMissingReferencesAreReported(t *testing.T) {
	db := newTestDB(t)
	res, err := runPackage(t, newTestPipeline(db), brokenRefsPackage, live(t))
	require.NoError(t, err)

	types := map[string]int{}
	for _, is := range issuesOf(t, db, res.RunID) {
		types[is.IssueType]++
	}
	assert.Equal(t, map[string]int{IssueMissingCitation: 1, IssueMissingIngredient: 1}, types)

	assert.Equal(t, int64(1), countRows(t, db, &models.IngredientForm{}))
	assert.Equal(t, int64(1), countRows(t, db, &models.IngredientFormCitation{}))

	var form models.IngredientForm
	require.NoError(t, db.First(&form, "form_key = ?", "citrate").Error)
	assert.Equal(t, models.AuditVerified, form.AuditStatus)
	assert.Equal(t, []string{"c1", "c-missing"}, []string(form.ReferenceIDs))
}

func TestForcePendingKeepsStoredTrust(t *testing.T) {
	db := newTestDB(t)
	p := newTestPipeline(db)
	_, err := runPackage(t, p, fullPackage, live(t))
	require.NoError(t, err)

	pendingMode, err := NewMode(false, false, false, true, false, false)
	require.NoError(t, err)
	_, err = runPackage(t, p, fullPackage, pendingMode)
	require.NoError(t, err)

	status := func(formKey string) models.AuditStatus {
		var f models.IngredientForm
		require.NoError(t, db.First(&f, "form_key = ?", formKey).Error)
		return f.AuditStatus
	}
	assert.Equal(t, models.AuditVerified, status("citrate"))
	assert.Equal(t, models.AuditNeedsReview, status("oxide"))

	var c models.Citation
	require.NoError(t, db.First(&c, "id = ?", "c-verified").Error)
	assert.Equal(t, models.AuditVerified, c.AuditStatus)
}

func TestRunFailureClosesLedger(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_interactions", func(tx *gorm.DB) {
		if tx.Statement.Table == "interactions" {
			tx.AddError(errors.New("injected failure"))
		}
	}))

	res, err := runPackage(t, newTestPipeline(db), fullPackage, live(t))
	require.Error(t, err)
	assert.ErrorContains(t, err, "injected failure")

	run := loadRun(t, db, res.RunID)
	require.NotNil(t, run.FinishedAt)
	assert.Contains(t, run.Error, "injected failure")

	var stats map[string]any
	require.NoError(t, json.Unmarshal(run.Stats, &stats))
	assert.Contains(t, stats["error"], "injected failure")

	// Bereits geschriebene Schritte bleiben erhalten.
	assert.Equal(t, int64(2), countRows(t, db, &models.IngredientForm{}))
	assert.Zero(t, countRows(t, db, &models.Interaction{}))
	assert.Zero(t, countRows(t, db, &models.DatasetState{}))
}

func TestRunRetriesTransientStoreErrors(t *testing.T) {
	db := newTestDB(t)
	failures := 0
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:flaky_ingredients", func(tx *gorm.DB) {
		if tx.Statement.Table == "ingredients" && failures < 2 {
			failures++
			tx.AddError(driver.ErrBadConn)
		}
	}))

	res, err := runPackage(t, newTestPipeline(db), fullPackage, live(t))
	require.NoError(t, err)
	assert.Equal(t, 2, failures)
	assert.Equal(t, 2, res.Stats.Created[dataset.EntityIngredients])
	assert.Equal(t, int64(2), countRows(t, db, &models.Ingredient{}))
}

func TestStructuralErrorOpensNoRun(t *testing.T) {
	db := newTestDB(t)
	p := newTestPipeline(db)

	_, err := runPackage(t, p, `[1, 2, 3]`, live(t))
	var structural *dataset.StructuralError
	require.ErrorAs(t, err, &structural)
	assert.Zero(t, countRows(t, db, &models.ImportRun{}))
	assert.InDelta(t, 1, testutil.ToFloat64(p.Metrics.Runs.WithLabelValues("failed")), 1e-9)
}

func TestOnlyParsingSkipsKnowledgeTables(t *testing.T) {
	db := newTestDB(t)
	mode, err := NewMode(false, false, true, false, true, false)
	require.NoError(t, err)

	res, err := runPackage(t, newTestPipeline(db), fullPackage, mode)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.Counts[dataset.EntityFormAliases])
	assert.Zero(t, res.Stats.Counts[dataset.EntityForms])

	assert.Equal(t, int64(2), countRows(t, db, &models.IngredientFormAlias{}))
	assert.Zero(t, countRows(t, db, &models.IngredientForm{}))
	assert.Zero(t, countRows(t, db, &models.Interaction{}))
	assert.Zero(t, countRows(t, db, &models.DatasetState{}), "--skip-dataset-version")

	_, err = NewMode(false, false, false, false, true, true)
	assert.Error(t, err)
}

func TestArchiveFailureIsOnlyAWarning(t *testing.T) {
	db := newTestDB(t)
	p := newTestPipeline(db)
	archiver := &fakeArchiver{err: errors.New("bucket unavailable")}
	p.Archiver = archiver
	strict, err := NewMode(false, true, false, false, false, false)
	require.NoError(t, err)

	res, err := runPackage(t, p, fullPackage, strict)
	require.NoError(t, err)
	assert.Equal(t, 1, archiver.calls)
	assert.Equal(t, 1, res.Stats.Warnings)

	issues := issuesOf(t, db, res.RunID)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueArchiveFailed, issues[0].IssueType)
	assert.Equal(t, string(SeverityWarning), issues[0].Severity)
}

func TestRunMetrics(t *testing.T) {
	db := newTestDB(t)
	p := newTestPipeline(db)
	p.Archiver = &fakeArchiver{}

	_, err := runPackage(t, p, fullPackage, live(t))
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(p.Metrics.Runs.WithLabelValues("success")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(p.Metrics.RowsUpserted.WithLabelValues(dataset.EntityForms)), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(p.Metrics.RowsUpserted.WithLabelValues(EntityFormCitations)), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(p.Metrics.Duration))
}
