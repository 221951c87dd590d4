package models

import (
	"time"
)

// IncidentStatus mirrors the incident service's status enum.
type IncidentStatus string

const (
	IncidentStatusOpen      IncidentStatus = "OPEN"
	IncidentStatusAnalyzing IncidentStatus = "ANALYZING"
	IncidentStatusResolved  IncidentStatus = "RESOLVED"
	IncidentStatusFailed    IncidentStatus = "FAILED"
)

// Severity levels, SEV1 being the most severe.
type Severity string

const (
	SeveritySEV1 Severity = "SEV1"
	SeveritySEV2 Severity = "SEV2"
	SeveritySEV3 Severity = "SEV3"
	SeveritySEV4 Severity = "SEV4"
	SeveritySEV5 Severity = "SEV5"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeveritySEV1, SeveritySEV2, SeveritySEV3, SeveritySEV4, SeveritySEV5}

// Valid reports whether s is one of SEV1..SEV5.
func (s Severity) Valid() bool {
	for _, v := range Severities {
		if s == v {
			return true
		}
	}
	return false
}

// Incident is an incident record owned by the incident service.
type Incident struct {
	ID                string          `json:"id"                          yaml:"id"`
	OwnerID           string          `json:"ownerId,omitempty"           yaml:"ownerId,omitempty"`
	Title             string          `json:"title"                       yaml:"title"`
	Description       string          `json:"description"                 yaml:"description"`
	Severity          Severity        `json:"severity"                    yaml:"severity"`
	Status            IncidentStatus  `json:"status"                      yaml:"status"`
	IncidentStartTime *time.Time      `json:"incidentStartTime,omitempty" yaml:"incidentStartTime,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"                   yaml:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"                   yaml:"updatedAt"`
	Report            *IncidentReport `json:"report,omitempty"            yaml:"report,omitempty"`
}

// IncidentReport is the AI-generated postmortem attached to an incident.
type IncidentReport struct {
	ID                  string    `json:"id"                            yaml:"id"`
	IncidentID          string    `json:"incidentId"                    yaml:"incidentId"`
	RootCauseAnalysis   string    `json:"rootCauseAnalysis,omitempty"   yaml:"rootCauseAnalysis,omitempty"`
	ImpactSummary       string    `json:"impactSummary,omitempty"       yaml:"impactSummary,omitempty"`
	ActionItems         string    `json:"actionItems,omitempty"         yaml:"actionItems,omitempty"`
	PreventionChecklist string    `json:"preventionChecklist,omitempty" yaml:"preventionChecklist,omitempty"`
	FullMarkdownReport  string    `json:"fullMarkdownReport,omitempty"  yaml:"fullMarkdownReport,omitempty"`
	ModelVersion        string    `json:"modelVersion,omitempty"        yaml:"modelVersion,omitempty"`
	GeneratedAt         time.Time `json:"generatedAt"                   yaml:"generatedAt"`
}

// CreateIncidentRequest is the body of POST /incidents.
type CreateIncidentRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	LogContent  string   `json:"logContent,omitempty"`
}

// UpdateIncidentRequest is the body of PUT /incidents/{id}. Nil fields are left unchanged.
type UpdateIncidentRequest struct {
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
	Severity    *Severity       `json:"severity,omitempty"`
	Status      *IncidentStatus `json:"status,omitempty"`
}

// Page is the paginated envelope returned by list endpoints.
type Page[T any] struct {
	Content       []T `json:"content"       yaml:"content"`
	TotalElements int `json:"totalElements" yaml:"totalElements"`
	TotalPages    int `json:"totalPages"    yaml:"totalPages"`
	Page          int `json:"page"          yaml:"page"`
	Size          int `json:"size"          yaml:"size"`
}
