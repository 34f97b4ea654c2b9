package models

import "time"

// Citation ist ein extern belegter Nachweis (Paper, Behördendokument, ...).
type Citation struct {
	// ID ist die Kennung aus dem Datensatz, nicht autoincrement.
	ID        string    `json:"id" gorm:"primaryKey;size:191"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Type        string      `json:"type,omitempty" gorm:"size:32"`
	Identifier  string      `json:"identifier,omitempty" gorm:"index"` // DOI, PMID, ...
	Source      string      `json:"source,omitempty"`
	Title       string      `json:"title,omitempty" gorm:"type:text"`
	Year        *int        `json:"year,omitempty"`
	URL         string      `json:"url,omitempty"`
	AuditStatus AuditStatus `json:"audit_status" gorm:"size:32;not null;index"`
	AccessedAt  *time.Time  `json:"accessed_at,omitempty"`
}

func (Citation) TableName() string { return "citations" }

func (c *Citation) BusinessKey() string { return c.ID }
func (c *Citation) GetAuditStatus() AuditStatus { return c.AuditStatus }
func (c *Citation) SetAuditStatus(s AuditStatus) { c.AuditStatus = s }
