package niletrace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/kiranshivaraju/niletrace/pkg/models"
)

func (c *Client) CreateIncident(ctx context.Context, req models.CreateIncidentRequest) (*models.Incident, error) {
	var inc models.Incident
	if err := c.do(ctx, http.MethodPost, "/incidents", nil, req, &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

// ListIncidents returns one page of incidents. page is 0-based. Servers that
// answer with a bare array instead of a page envelope get it wrapped as a
// single page.
func (c *Client) ListIncidents(ctx context.Context, page, size int) (*models.Page[models.Incident], error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/incidents", q, nil, &raw); err != nil {
		return nil, err
	}
	return decodeIncidentPage(raw, page, size)
}

func decodeIncidentPage(raw json.RawMessage, page, size int) (*models.Page[models.Incident], error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []models.Incident
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decoding incidents: %w", err)
		}
		return &models.Page[models.Incident]{
			Content:       items,
			TotalElements: len(items),
			TotalPages:    1,
			Page:          page,
			Size:          len(items),
		}, nil
	}

	var p models.Page[models.Incident]
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("decoding incidents: %w", err)
	}
	if p.Content == nil {
		p.Content = []models.Incident{}
	}
	return &p, nil
}

// ListAllIncidents follows pages until every incident has been read.
func (c *Client) ListAllIncidents(ctx context.Context, size int) ([]models.Incident, error) {
	if size <= 0 {
		size = 100
	}

	var all []models.Incident
	for page := 0; ; page++ {
		p, err := c.ListIncidents(ctx, page, size)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Content...)
		if len(p.Content) == 0 || page+1 >= p.TotalPages {
			return all, nil
		}
	}
}

func (c *Client) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	escaped, err := escapeID(id)
	if err != nil {
		return nil, err
	}

	var inc models.Incident
	if err := c.do(ctx, http.MethodGet, "/incidents/"+escaped, nil, nil, &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

func (c *Client) UpdateIncident(ctx context.Context, id string, req models.UpdateIncidentRequest) (*models.Incident, error) {
	escaped, err := escapeID(id)
	if err != nil {
		return nil, err
	}

	var inc models.Incident
	if err := c.do(ctx, http.MethodPut, "/incidents/"+escaped, nil, req, &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

func (c *Client) DeleteIncident(ctx context.Context, id string) error {
	escaped, err := escapeID(id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, "/incidents/"+escaped, nil, nil, nil)
}

// AnalyzeIncident queues analysis of an existing incident and returns the job.
func (c *Client) AnalyzeIncident(ctx context.Context, id string) (*models.AnalysisJob, error) {
	escaped, err := escapeID(id)
	if err != nil {
		return nil, err
	}

	var job models.AnalysisJob
	if err := c.do(ctx, http.MethodPost, "/incidents/"+escaped+"/analyze", nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
