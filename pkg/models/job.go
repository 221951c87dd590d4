// Package models contains shared data models used across the NileTrace codebase.
package models

import (
	"time"
)

// JobStatus is the lifecycle state of a server-side analysis job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further status change is expected.
// Anything other than COMPLETED or FAILED, including values this client
// does not recognise, is treated as still in progress.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// AnalysisJob tracks an async AI analysis job. The API returns a jobId on
// POST /analysis/jobs; clients poll GET /analysis/jobs/{jobId} until status
// is COMPLETED or FAILED.
type AnalysisJob struct {
	JobID             string     `json:"jobId"                       yaml:"jobId"`
	IncidentID        string     `json:"incidentId,omitempty"        yaml:"incidentId,omitempty"`
	Status            JobStatus  `json:"status"                      yaml:"status"`
	MarkdownReport    string     `json:"markdownReport,omitempty"    yaml:"markdownReport,omitempty"`
	ErrorMessage      string     `json:"errorMessage,omitempty"      yaml:"errorMessage,omitempty"`
	Error             string     `json:"error,omitempty"             yaml:"error,omitempty"`
	Message           string     `json:"message,omitempty"           yaml:"message,omitempty"`
	CreatedAt         *time.Time `json:"createdAt,omitempty"         yaml:"createdAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"       yaml:"completedAt,omitempty"`
	PIIEntitiesMasked int        `json:"piiEntitiesMasked,omitempty" yaml:"piiEntitiesMasked,omitempty"`
}

// FailureReason returns the server-reported failure text, preferring
// errorMessage over the legacy error field. Empty if neither is set.
func (j *AnalysisJob) FailureReason() string {
	if j.ErrorMessage != "" {
		return j.ErrorMessage
	}
	return j.Error
}

// StartAnalysisRequest is the body of POST /analysis/jobs.
type StartAnalysisRequest struct {
	IncidentID        string `json:"incidentId"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	Severity          string `json:"severity"`
	LogContent        string `json:"logContent"`
	IncidentStartTime string `json:"incidentStartTime,omitempty"`
	CreatedAt         string `json:"createdAt,omitempty"`
}
