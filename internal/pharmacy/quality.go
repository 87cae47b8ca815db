package pharmacy

import "time"

// QualityStatus is the outcome of a single quality check.
type QualityStatus string

const (
	QualityPass    QualityStatus = "Pass"
	QualityWarning QualityStatus = "Warning"
	QualityFail    QualityStatus = "Fail"
)

// QualityLogEntry is an append-only quality check result. Only the resolution
// fields change after insert.
type QualityLogEntry struct {
	ID             int64         `json:"id"`
	RunID          string        `json:"run_id,omitempty"`
	TableName      string        `json:"table_name"`
	CheckName      string        `json:"check_name"`
	RecordsChecked int           `json:"records_checked"`
	IssuesFound    int           `json:"issues_found"`
	IssueRate      float64       `json:"issue_rate"`
	Status         QualityStatus `json:"status"`
	Details        string        `json:"details,omitempty"`
	CheckedAt      time.Time     `json:"checked_at"`
	Resolved       bool          `json:"resolved"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy     string        `json:"resolved_by,omitempty"`
}
