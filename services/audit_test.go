package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nutrikb/dataset"
	"nutrikb/models"
)

var allStatuses = []models.AuditStatus{
	models.AuditNeedsResolution,
	models.AuditDerived,
	models.AuditNeedsReview,
	models.AuditVerified,
}

func TestMergeNeverLowersTrust(t *testing.T) {
	e := NewAuditEngine(false)
	for _, stored := range allStatuses {
		for _, incoming := range allStatuses {
			st := stored
			got := e.Merge(incoming, &st)
			assert.GreaterOrEqual(t, got.Rank(), stored.Rank(), "stored %s, incoming %s", stored, incoming)
			assert.GreaterOrEqual(t, got.Rank(), incoming.Rank(), "stored %s, incoming %s", stored, incoming)
			assert.Contains(t, []models.AuditStatus{stored, incoming}, got)
		}
	}
}

func TestMergeNewFactKeepsIncoming(t *testing.T) {
	e := NewAuditEngine(false)
	assert.Equal(t, models.AuditDerived, e.Merge(models.AuditDerived, nil))
	assert.Equal(t, models.AuditNeedsReview, e.Merge("", nil))
}

func TestDerivePrecedence(t *testing.T) {
	e := NewAuditEngine(false)
	e.RegisterCitation("v", models.AuditVerified)
	e.RegisterCitation("r", models.AuditNeedsReview)
	e.RegisterCitation("d", models.AuditDerived)
	e.RegisterCitation("n", models.AuditNeedsResolution)

	tests := []struct {
		name string
		refs []string
		want models.AuditStatus
	}{
		{"verified wins over resolution", []string{"n", "v"}, models.AuditVerified},
		{"verified wins over review", []string{"r", "v", "d"}, models.AuditVerified},
		{"review before resolution", []string{"n", "r"}, models.AuditNeedsReview},
		{"derived counts as review", []string{"d", "n"}, models.AuditNeedsReview},
		{"resolution only", []string{"n"}, models.AuditNeedsResolution},
		{"no references", nil, models.AuditNeedsReview},
		{"unknown references", []string{"missing"}, models.AuditNeedsReview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Derive(tt.refs))
		})
	}
}

func TestEffectivePrefersDeclaredStatus(t *testing.T) {
	e := NewAuditEngine(false)
	e.RegisterCitation("v", models.AuditVerified)

	assert.Equal(t, models.AuditDerived, e.Effective(dataset.Provenance{DeclaredStatus: "Derived", ReferenceIDs: []string{"v"}}))
	assert.Equal(t, models.AuditVerified, e.Effective(dataset.Provenance{DeclaredStatus: "unclear", ReferenceIDs: []string{"v"}}))
	assert.Equal(t, models.AuditVerified, e.Effective(dataset.Provenance{ReferenceIDs: []string{"v"}}))
}

func TestForcePending(t *testing.T) {
	e := NewAuditEngine(true)
	e.RegisterCitation("v", models.AuditVerified)

	assert.Equal(t, models.AuditNeedsReview, e.Effective(dataset.Provenance{DeclaredStatus: "verified", ReferenceIDs: []string{"v"}}))
	assert.Equal(t, models.AuditNeedsReview, e.Declared("verified"))

	stored := models.AuditVerified
	assert.Equal(t, models.AuditVerified, e.Merge(e.Declared("verified"), &stored), "force-pending never downgrades stored trust")
}
