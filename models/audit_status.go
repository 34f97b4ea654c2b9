package models

import "strings"

// AuditStatus beschreibt den Vertrauensstatus eines Fakts.
type AuditStatus string

const (
	AuditNeedsResolution AuditStatus = "needs_resolution"
	AuditDerived         AuditStatus = "derived"
	AuditNeedsReview     AuditStatus = "needs_review"
	AuditVerified        AuditStatus = "verified"
)

// trustRank ordnet die Status von wenig nach viel Vertrauen.
var trustRank = map[AuditStatus]int{
	AuditNeedsResolution: 0,
	AuditDerived:         1,
	AuditNeedsReview:     2,
	AuditVerified:        3,
}

// ParseAuditStatus erkennt einen Status unabhängig von Schreibweise und Trennzeichen
// ("Needs Review", "needs-review", "NEEDS_REVIEW").
func ParseAuditStatus(raw string) (AuditStatus, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	st := AuditStatus(s)
	if _, ok := trustRank[st]; !ok {
		return "", false
	}
	return st, true
}

// NormalizeAuditStatus liefert needs_review für fehlende oder unbekannte Werte.
func NormalizeAuditStatus(raw string) AuditStatus {
	if st, ok := ParseAuditStatus(raw); ok {
		return st
	}
	return AuditNeedsReview
}

// Valid meldet, ob der Wert einer der vier bekannten Status ist.
func (s AuditStatus) Valid() bool {
	_, ok := trustRank[s]
	return ok
}

// Rank gibt die Position in der Vertrauensordnung zurück.
// Unbekannte Werte zählen wie needs_review.
func (s AuditStatus) Rank() int {
	if r, ok := trustRank[s]; ok {
		return r
	}
	return trustRank[AuditNeedsReview]
}

// MaxTrust gibt den vertrauenswürdigeren der beiden Status zurück.
func MaxTrust(a, b AuditStatus) AuditStatus {
	a, b = NormalizeAuditStatus(string(a)), NormalizeAuditStatus(string(b))
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
