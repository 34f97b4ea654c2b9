package services

import (
	"nutrikb/dataset"
	"nutrikb/models"
)

// AuditEngine berechnet den effektiven Audit-Status eingehender Fakten und führt ihn
// monoton mit dem gespeicherten Status zusammen.
type AuditEngine struct {
	forcePending bool
	// citations enthält den Status aller bekannten Zitationen (Paket und Datenbank).
	citations map[string]models.AuditStatus
}

func NewAuditEngine(forcePending bool) *AuditEngine {
	return &AuditEngine{
		forcePending: forcePending,
		citations:    make(map[string]models.AuditStatus),
	}
}

// RegisterCitation merkt sich den wirksamen Status einer Zitation für spätere Ableitungen.
func (e *AuditEngine) RegisterCitation(id string, status models.AuditStatus) {
	e.citations[id] = models.NormalizeAuditStatus(string(status))
}

// KnowsCitation meldet, ob die Zitation im Paket oder in der Datenbank existiert.
func (e *AuditEngine) KnowsCitation(id string) bool {
	_, ok := e.citations[id]
	return ok
}

// Declared gibt den eingehenden Status eines Fakts ohne Ableitung zurück.
// Wird für Zitationen selbst verwendet, die keine Referenzen haben.
func (e *AuditEngine) Declared(raw string) models.AuditStatus {
	if e.forcePending {
		return models.AuditNeedsReview
	}
	return models.NormalizeAuditStatus(raw)
}

// Effective liefert den eingehenden Status: deklariert, sonst aus den Zitationen abgeleitet.
func (e *AuditEngine) Effective(p dataset.Provenance) models.AuditStatus {
	if e.forcePending {
		return models.AuditNeedsReview
	}
	if st, ok := models.ParseAuditStatus(p.DeclaredStatus); ok {
		return st
	}
	return e.Derive(p.ReferenceIDs)
}

// Derive wendet die Vorrangregel an: verified vor needs_review/derived vor needs_resolution.
// Ohne passende Zitation ist das Ergebnis needs_review.
func (e *AuditEngine) Derive(referenceIDs []string) models.AuditStatus {
	var review, resolution bool
	for _, id := range referenceIDs {
		st, ok := e.citations[id]
		if !ok {
			continue
		}
		switch st {
		case models.AuditVerified:
			return models.AuditVerified
		case models.AuditNeedsReview, models.AuditDerived:
			review = true
		case models.AuditNeedsResolution:
			resolution = true
		}
	}
	switch {
	case review:
		return models.AuditNeedsReview
	case resolution:
		return models.AuditNeedsResolution
	default:
		return models.AuditNeedsReview
	}
}

// Merge gibt nie weniger Vertrauen zurück als bereits gespeichert ist.
// existing ist nil, wenn der Fakt neu ist.
func (e *AuditEngine) Merge(incoming models.AuditStatus, existing *models.AuditStatus) models.AuditStatus {
	incoming = models.NormalizeAuditStatus(string(incoming))
	if existing == nil {
		return incoming
	}
	return models.MaxTrust(*existing, incoming)
}
