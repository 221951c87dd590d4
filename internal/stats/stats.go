// Package stats computes dashboard statistics over incident lists.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/kiranshivaraju/niletrace/pkg/models"
)

// RecentLimit is the number of entries in Summary.Recent and Summary.RecentlyResolved.
const RecentLimit = 5

// Activity is one line of the dashboard's recent activity feed.
type Activity struct {
	IncidentID string                `json:"incident_id" yaml:"incidentId"`
	Title      string                `json:"title"       yaml:"title"`
	Action     string                `json:"action"      yaml:"action"`
	Status     models.IncidentStatus `json:"status"      yaml:"status"`
	Severity   models.Severity       `json:"severity"    yaml:"severity"`
	At         time.Time             `json:"at"          yaml:"at"`
}

// Summary aggregates a set of incidents.
type Summary struct {
	Total      int                     `json:"total"       yaml:"total"`
	Open       int                     `json:"open"        yaml:"open"`
	Analyzing  int                     `json:"analyzing"   yaml:"analyzing"`
	Resolved   int                     `json:"resolved"    yaml:"resolved"`
	Failed     int                     `json:"failed"      yaml:"failed"`
	InFlight   int                     `json:"in_flight"   yaml:"inFlight"`
	Critical   int                     `json:"critical"    yaml:"critical"`
	BySeverity map[models.Severity]int `json:"by_severity" yaml:"bySeverity"`

	// Rates are whole percentages of Total, 0 when there are no incidents.
	ResolutionRate int `json:"resolution_rate" yaml:"resolutionRate"`
	FailureRate    int `json:"failure_rate"    yaml:"failureRate"`

	Recent           []Activity `json:"recent"            yaml:"recent"`
	RecentlyResolved []Activity `json:"recently_resolved" yaml:"recentlyResolved"`
}

// Summarize computes dashboard totals. BySeverity always holds all five
// severities. Recent lists the most recently updated incidents first.
func Summarize(incidents []models.Incident) Summary {
	s := Summary{
		Total:      len(incidents),
		BySeverity: make(map[models.Severity]int, len(models.Severities)),
	}
	for _, sev := range models.Severities {
		s.BySeverity[sev] = 0
	}

	for _, inc := range incidents {
		switch inc.Status {
		case models.IncidentStatusOpen:
			s.Open++
		case models.IncidentStatusAnalyzing:
			s.Analyzing++
		case models.IncidentStatusResolved:
			s.Resolved++
		case models.IncidentStatusFailed:
			s.Failed++
		}
		if inc.Severity.Valid() {
			s.BySeverity[inc.Severity]++
		}
	}

	s.InFlight = s.Open + s.Analyzing
	s.Critical = s.BySeverity[models.SeveritySEV1] + s.BySeverity[models.SeveritySEV2]
	s.ResolutionRate = percent(s.Resolved, s.Total)
	s.FailureRate = percent(s.Failed, s.Total)

	byRecency := make([]models.Incident, len(incidents))
	copy(byRecency, incidents)
	sort.SliceStable(byRecency, func(i, j int) bool {
		return lastTouched(byRecency[i]).After(lastTouched(byRecency[j]))
	})

	s.Recent = []Activity{}
	s.RecentlyResolved = []Activity{}
	for _, inc := range byRecency {
		if len(s.Recent) < RecentLimit {
			s.Recent = append(s.Recent, activityFor(inc))
		}
		if inc.Status == models.IncidentStatusResolved && len(s.RecentlyResolved) < RecentLimit {
			s.RecentlyResolved = append(s.RecentlyResolved, activityFor(inc))
		}
	}

	return s
}

func percent(n, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(n) / float64(total) * 100))
}

func lastTouched(inc models.Incident) time.Time {
	if !inc.UpdatedAt.IsZero() {
		return inc.UpdatedAt
	}
	return inc.CreatedAt
}

func activityFor(inc models.Incident) Activity {
	action := "created incident"
	switch inc.Status {
	case models.IncidentStatusResolved:
		action = "resolved incident"
	case models.IncidentStatusAnalyzing:
		action = "started analysis on"
	}
	return Activity{
		IncidentID: inc.ID,
		Title:      inc.Title,
		Action:     action,
		Status:     inc.Status,
		Severity:   inc.Severity,
		At:         lastTouched(inc),
	}
}
