package stats

import (
	"sort"
	"strings"

	"github.com/kiranshivaraju/niletrace/pkg/models"
)

const DefaultPerPage = 10

type SortField string

const (
	SortByCreatedAt SortField = "createdAt"
	SortBySeverity  SortField = "severity"
)

// Query selects, orders and pages incidents. Zero values mean: no search,
// any status, newest first, page 1 of DefaultPerPage.
type Query struct {
	Search  string
	Status  models.IncidentStatus
	SortBy  SortField
	Asc     bool
	Page    int // 1-based
	PerPage int
}

// Result is one page of filtered incidents.
type Result struct {
	Items      []models.Incident `json:"items"       yaml:"items"`
	Total      int               `json:"total"       yaml:"total"`
	Page       int               `json:"page"        yaml:"page"`
	PerPage    int               `json:"per_page"    yaml:"perPage"`
	TotalPages int               `json:"total_pages" yaml:"totalPages"`
}

// Filter applies q to incidents without modifying the input slice.
// Pages past the end yield no items.
func Filter(incidents []models.Incident, q Query) Result {
	if q.PerPage <= 0 {
		q.PerPage = DefaultPerPage
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.SortBy == "" {
		q.SortBy = SortByCreatedAt
	}

	needle := strings.ToLower(strings.TrimSpace(q.Search))
	matched := make([]models.Incident, 0, len(incidents))
	for _, inc := range incidents {
		if needle != "" &&
			!strings.Contains(strings.ToLower(inc.Title), needle) &&
			!strings.Contains(strings.ToLower(inc.Description), needle) {
			continue
		}
		if q.Status != "" && inc.Status != q.Status {
			continue
		}
		matched = append(matched, inc)
	}

	less := lessFunc(q.SortBy)
	sort.SliceStable(matched, func(i, j int) bool {
		if q.Asc {
			return less(matched[i], matched[j])
		}
		return less(matched[j], matched[i])
	})

	res := Result{
		Items:      []models.Incident{},
		Total:      len(matched),
		Page:       q.Page,
		PerPage:    q.PerPage,
		TotalPages: (len(matched) + q.PerPage - 1) / q.PerPage,
	}
	start := (q.Page - 1) * q.PerPage
	if start < len(matched) {
		end := min(start+q.PerPage, len(matched))
		res.Items = matched[start:end]
	}
	return res
}

func lessFunc(field SortField) func(a, b models.Incident) bool {
	if field == SortBySeverity {
		// SEV1 < SEV2 < ... compares correctly as strings
		return func(a, b models.Incident) bool { return a.Severity < b.Severity }
	}
	return func(a, b models.Incident) bool { return a.CreatedAt.Before(b.CreatedAt) }
}
