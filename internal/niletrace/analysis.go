package niletrace

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/niletrace/internal/poller"
	"github.com/kiranshivaraju/niletrace/pkg/models"
)

// Compile-time check that Client can drive a poller.
var _ poller.StatusFetcher = (*Client)(nil)

// StartAnalysis submits a new analysis job. The returned record carries the
// job id and its initial status.
func (c *Client) StartAnalysis(ctx context.Context, req models.StartAnalysisRequest) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	if err := c.do(ctx, http.MethodPost, "/analysis/jobs", nil, req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobStatus fetches the current record for jobID.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	escaped, err := escapeID(jobID)
	if err != nil {
		return nil, err
	}

	var job models.AnalysisJob
	if err := c.do(ctx, http.MethodGet, "/analysis/jobs/"+escaped, nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
