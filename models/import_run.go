package models

import (
	"time"

	"gorm.io/datatypes"
)

// ImportRun ist der Ledger-Eintrag eines Import-Laufs.
type ImportRun struct {
	ID             string `json:"id" gorm:"primaryKey;size:36"`
	DatasetVersion string `json:"dataset_version,omitempty" gorm:"index"`
	Source         string `json:"source,omitempty"`

	// Modus-Flags
	Strict             bool `json:"strict"`
	ForcePending       bool `json:"force_pending"`
	ImportParsing      bool `json:"import_parsing"`
	ImportKnowledge    bool `json:"import_knowledge"`
	SkipDatasetVersion bool `json:"skip_dataset_version"`

	StartedAt    time.Time      `json:"started_at" gorm:"not null;index"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Stats        datatypes.JSON `json:"stats,omitempty"`
	Error        string         `json:"error,omitempty" gorm:"type:text"`
	IssueCount   int            `json:"issue_count"`
	WarningCount int            `json:"warning_count"`
}

func (ImportRun) TableName() string { return "import_runs" }

// ImportIssue ist ein Eintrag im Issue-Journal eines Laufs.
type ImportIssue struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	RunID     string         `json:"run_id" gorm:"not null;size:36;index"`
	Severity  string         `json:"severity" gorm:"size:16;not null;index"` // warning, error
	IssueType string         `json:"issue_type" gorm:"size:64;not null;index"`
	Entity    string         `json:"entity,omitempty" gorm:"size:64"`
	EntityKey string         `json:"entity_key,omitempty"`
	Message   string         `json:"message" gorm:"type:text"`
	Payload   datatypes.JSON `json:"payload,omitempty"`
}

func (ImportIssue) TableName() string { return "import_issues" }

// DatasetState merkt sich die zuletzt angewandte Datensatz-Version pro Schlüssel.
type DatasetState struct {
	Key       string    `json:"key" gorm:"primaryKey;size:64"`
	Version   string    `json:"version" gorm:"not null"`
	RunID     string    `json:"run_id,omitempty" gorm:"size:36"`
	AppliedAt time.Time `json:"applied_at"`
}

func (DatasetState) TableName() string { return "dataset_state" }
