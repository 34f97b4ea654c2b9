package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAuditStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want AuditStatus
		ok   bool
	}{
		{"verified", AuditVerified, true},
		{" Verified ", AuditVerified, true},
		{"Needs Review", AuditNeedsReview, true},
		{"needs-resolution", AuditNeedsResolution, true},
		{"NEEDS__REVIEW", AuditNeedsReview, true},
		{"derived", AuditDerived, true},
		{"", "", false},
		{"approved", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseAuditStatus(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestNormalizeAuditStatusDefaultsToReview(t *testing.T) {
	assert.Equal(t, AuditNeedsReview, NormalizeAuditStatus(""))
	assert.Equal(t, AuditNeedsReview, NormalizeAuditStatus("unknown"))
	assert.Equal(t, AuditDerived, NormalizeAuditStatus("Derived"))
}

func TestTrustOrder(t *testing.T) {
	order := []AuditStatus{AuditNeedsResolution, AuditDerived, AuditNeedsReview, AuditVerified}
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1].Rank(), order[i].Rank())
	}
	assert.Equal(t, AuditNeedsReview.Rank(), AuditStatus("bogus").Rank())
	assert.False(t, AuditStatus("bogus").Valid())

	assert.Equal(t, AuditVerified, MaxTrust(AuditVerified, AuditNeedsResolution))
	assert.Equal(t, AuditVerified, MaxTrust(AuditNeedsResolution, AuditVerified))
	assert.Equal(t, AuditNeedsReview, MaxTrust(AuditDerived, ""))
}
