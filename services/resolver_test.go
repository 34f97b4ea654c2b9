package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nutrikb/dataset"
	"nutrikb/models"
)

func TestReconcileUnit(t *testing.T) {
	tests := []struct {
		existing, incoming string
		want               string
		mismatch           bool
	}{
		{"mg", "mg", "mg", false},
		{"mg", "MG", "mg", false},
		{"mg", "", "mg", false},
		{"", "µg", "µg", false},
		{"", "", "", false},
		{"mg", "µg", "mg", true},
	}
	for _, tt := range tests {
		got, mismatch := ReconcileUnit(tt.existing, tt.incoming)
		assert.Equal(t, tt.want, got, "existing %q incoming %q", tt.existing, tt.incoming)
		assert.Equal(t, tt.mismatch, mismatch, "existing %q incoming %q", tt.existing, tt.incoming)
	}
}

func newTestResolver(t *testing.T, strict bool) (*Resolver, *Journal) {
	t.Helper()
	db := newTestDB(t)
	journal := NewJournal(strict, zap.NewNop(), nil)
	cfg := testConfig()
	retry := NewRetrier(cfg.StoreRetryAttempts, cfg.StoreRetryInitial, cfg.StoreRetryMax, zap.NewNop())
	return NewResolver(db, retry, journal, zap.NewNop(), false), journal
}

func TestResolverAdoptsKeylessRowByName(t *testing.T) {
	r, journal := newTestResolver(t, false)
	legacy := models.Ingredient{Name: "Vitamin D3", Unit: ""}
	require.NoError(t, r.db.Create(&legacy).Error)

	stats := NewStats()
	err := r.ResolveAll(context.Background(), []dataset.IngredientRecord{
		{CanonicalKey: "vitamin-d3", Name: "vitamin d3", Unit: "µg"},
	}, stats)
	require.NoError(t, err)
	assert.Zero(t, journal.Len())

	var stored models.Ingredient
	require.NoError(t, r.db.First(&stored, legacy.ID).Error)
	assert.Equal(t, "vitamin-d3", stored.Key())
	assert.Equal(t, "µg", stored.Unit)
	assert.Equal(t, 1, stats.Counts[dataset.EntityIngredients])
	assert.Zero(t, stats.Created[dataset.EntityIngredients])

	id, ok, err := r.Lookup(context.Background(), "vitamin-d3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, legacy.ID, id)
}

func TestResolverKeepsStoredUnit(t *testing.T) {
	r, journal := newTestResolver(t, false)
	key := "iron"
	require.NoError(t, r.db.Create(&models.Ingredient{CanonicalKey: &key, Name: "Iron", Unit: "mg"}).Error)

	err := r.ResolveAll(context.Background(), []dataset.IngredientRecord{
		{CanonicalKey: "iron", Name: "Iron", Unit: "µg"},
	}, NewStats())
	require.NoError(t, err)
	assert.Equal(t, 1, journal.Warnings())
	assert.Equal(t, IssueBaseUnitMismatch, journal.entries[0].issue.Type)

	var stored models.Ingredient
	require.NoError(t, r.db.Where("canonical_key = ?", "iron").First(&stored).Error)
	assert.Equal(t, "mg", stored.Unit)
}

func TestResolverLookupFallsBackToStore(t *testing.T) {
	r, _ := newTestResolver(t, false)
	key := "selenium"
	row := models.Ingredient{CanonicalKey: &key, Name: "Selenium"}
	require.NoError(t, r.db.Create(&row).Error)

	id, ok, err := r.Lookup(context.Background(), "selenium")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, row.ID, id)

	_, ok, err = r.Lookup(context.Background(), "unobtainium")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReconcileSynonymsSkipsExisting(t *testing.T) {
	r, journal := newTestResolver(t, false)
	records := []dataset.IngredientRecord{
		{CanonicalKey: "magnesium", Name: "Magnesium", Synonyms: []string{"Mg", "MG", "Magnesium Citrate"}},
	}
	ctx := context.Background()

	stats := NewStats()
	require.NoError(t, r.ResolveAll(ctx, records, stats))
	require.NoError(t, r.ReconcileSynonyms(ctx, records, 2, stats))
	assert.Equal(t, 2, stats.Counts[dataset.EntitySynonyms])
	assert.Equal(t, 2, stats.Created[dataset.EntitySynonyms])

	again := NewStats()
	require.NoError(t, r.ReconcileSynonyms(ctx, records, 2, again))
	assert.Equal(t, 2, again.Counts[dataset.EntitySynonyms])
	assert.Zero(t, again.Created[dataset.EntitySynonyms])
	assert.Equal(t, int64(2), countRows(t, r.db, &models.IngredientSynonym{}))
	assert.Zero(t, journal.Len())
}
