package niletrace

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/kiranshivaraju/niletrace/internal/config"
	"github.com/kiranshivaraju/niletrace/pkg/models"
)

// --- helpers ---

func newTestClient(t *testing.T, baseURL, token string, opts ...Option) *Client {
	t.Helper()
	return NewClient(config.APIConfig{BaseURL: baseURL, Token: token, Timeout: 5 * time.Second}, opts...)
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func signedToken(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

// --- request plumbing ---

func TestClient_SendsBearerTokenAndJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "/api/incidents", r.URL.Path)

		var body models.CreateIncidentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "DB outage", body.Title)
		assert.Equal(t, models.SeveritySEV2, body.Severity)

		writeJSON(t, w, http.StatusCreated, models.Incident{ID: "inc-1", Title: body.Title, Status: models.IncidentStatusOpen})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL+"/api/", "tok-123")
	inc, err := c.CreateIncident(context.Background(), models.CreateIncidentRequest{
		Title:    "DB outage",
		Severity: models.SeveritySEV2,
	})

	require.NoError(t, err)
	assert.Equal(t, "inc-1", inc.ID)
	assert.Equal(t, models.IncidentStatusOpen, inc.Status)
}

func TestClient_NoTokenNoAuthorizationHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("Content-Type"), "GET has no body")
		writeJSON(t, w, http.StatusOK, models.User{ID: "u1"})
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL, "").Me(context.Background())
	require.NoError(t, err)
}

func TestClient_APIErrorMessageFromBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, map[string]any{
			"message": "Validation failed",
			"errors":  map[string][]string{"title": {"must not be blank"}},
		})
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL, "tok").CreateIncident(context.Background(), models.CreateIncidentRequest{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Validation failed", apiErr.Message)
	assert.Equal(t, []string{"must not be blank"}, apiErr.Errors["title"])
	assert.EqualError(t, err, "Validation failed")
}

func TestClient_APIErrorFallsBackToStatusText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "<html>upstream down</html>")
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL, "tok").GetJobStatus(context.Background(), "job-1")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}

func TestClient_LegacyErrorField(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, map[string]string{"error": "worker crashed"})
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL, "tok").GetJobStatus(context.Background(), "job-1")
	assert.EqualError(t, err, "worker crashed")
}

// unauthorizedOnce answers the first request with 401 and later ones with a
// user, recording each request's Authorization header.
func unauthorizedOnce(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu      sync.Mutex
		headers []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers = append(headers, r.Header.Get("Authorization"))
		n := len(headers)
		mu.Unlock()
		if n == 1 {
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "Token expired"})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]string{"id": "u-1", "email": "ops@example.com"})
	}))
	t.Cleanup(ts.Close)
	return ts, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), headers...)
	}
}

func TestClient_UnauthorizedKeepsTokenByDefault(t *testing.T) {
	ts, headers := unauthorizedOnce(t)
	c := newTestClient(t, ts.URL, "agent-token")

	_, err := c.Me(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.True(t, c.IsAuthenticated())
	assert.Equal(t, "agent-token", c.Token())

	u, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", u.Email)
	assert.Equal(t, []string{"Bearer agent-token", "Bearer agent-token"}, headers())
}

func TestClient_UnauthorizedClearsTokenWhenEnabled(t *testing.T) {
	ts, headers := unauthorizedOnce(t)
	c := newTestClient(t, ts.URL, "stale", WithClearTokenOnUnauthorized())
	require.True(t, c.IsAuthenticated())

	_, err := c.Me(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, c.IsAuthenticated())
	assert.Empty(t, c.Token())

	_, err = c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer stale", ""}, headers())
}

func TestClient_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]string{"message": "Incident not found"})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL, "tok")
	_, err := c.GetIncident(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, c.IsAuthenticated(), "only 401 clears the token")
}

func TestClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := newTestClient(t, url, "tok").GetJobStatus(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestClient_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	c := NewClient(config.APIConfig{BaseURL: ts.URL, Timeout: 50 * time.Millisecond})
	_, err := c.GetJobStatus(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_ContextCancelledIsNotReclassified(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(t, ts.URL, "tok").GetJobStatus(ctx, "job-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnreachable)
}

func TestClient_RateLimiterDelaysRequests(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusOK, models.AnalysisJob{JobID: "job-1", Status: models.JobStatusQueued})
	}))
	defer ts.Close()

	c := NewClient(config.APIConfig{BaseURL: ts.URL, Timeout: time.Second},
		WithRateLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))

	_, err := c.GetJobStatus(context.Background(), "job-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.GetJobStatus(ctx, "job-1")
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load(), "second request must wait for a token")
}

func TestNewClient_MaxRPSFromConfig(t *testing.T) {
	c := NewClient(config.APIConfig{BaseURL: "http://x", Timeout: time.Second, MaxRPS: 5})
	require.NotNil(t, c.limiter)
	assert.Equal(t, rate.Limit(5), c.limiter.Limit())
	assert.Equal(t, 5, c.limiter.Burst())

	assert.Nil(t, NewClient(config.APIConfig{BaseURL: "http://x", Timeout: time.Second}).limiter)
}

func TestClient_EmptyIDRejectedWithoutRequest(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer ts.Close()

	c := newTestClient(t, ts.URL, "tok")
	ctx := context.Background()

	_, err := c.GetJobStatus(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = c.GetIncident(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.ErrorIs(t, c.DeleteIncident(ctx, ""), ErrInvalidID)
	assert.False(t, called)
}

// --- auth ---

func TestLogin_StoresToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req models.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ada@example.com", req.Email)

		writeJSON(t, w, http.StatusOK, models.AuthResponse{Token: "new-token", User: models.User{Email: req.Email}})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL, "")
	resp, err := c.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "pw"})

	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", resp.User.Email)
	assert.Equal(t, "new-token", c.Token())

	c.Logout()
	assert.False(t, c.IsAuthenticated())
}

func TestSignup_MissingTokenIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/signup", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]any{"user": map[string]string{"id": "u1"}})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL, "")
	_, err := c.Signup(context.Background(), models.SignupRequest{Email: "a@b.c", Password: "pw", Name: "A"})

	assert.Error(t, err)
	assert.False(t, c.IsAuthenticated())
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("with exp claim", func(t *testing.T) {
		c := newTestClient(t, "http://unused", signedToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}))
		got, ok, err := c.TokenExpiry()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, exp.Equal(got))
	})

	t.Run("without exp claim", func(t *testing.T) {
		c := newTestClient(t, "http://unused", signedToken(t, jwt.RegisteredClaims{Subject: "u1"}))
		_, ok, err := c.TokenExpiry()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("no token", func(t *testing.T) {
		_, _, err := newTestClient(t, "http://unused", "").TokenExpiry()
		assert.ErrorIs(t, err, ErrNoToken)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, _, err := newTestClient(t, "http://unused", "not-a-jwt").TokenExpiry()
		assert.Error(t, err)
	})
}

// --- incidents ---

func TestListIncidents_PageEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "5", r.URL.Query().Get("size"))
		writeJSON(t, w, http.StatusOK, models.Page[models.Incident]{
			Content:       []models.Incident{{ID: "a"}, {ID: "b"}},
			TotalElements: 12,
			TotalPages:    3,
			Page:          2,
			Size:          5,
		})
	}))
	defer ts.Close()

	p, err := newTestClient(t, ts.URL, "tok").ListIncidents(context.Background(), 2, 5)

	require.NoError(t, err)
	assert.Len(t, p.Content, 2)
	assert.Equal(t, 12, p.TotalElements)
	assert.Equal(t, 3, p.TotalPages)
}

func TestListIncidents_BareArray(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []models.Incident{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	}))
	defer ts.Close()

	p, err := newTestClient(t, ts.URL, "tok").ListIncidents(context.Background(), 0, 10)

	require.NoError(t, err)
	assert.Len(t, p.Content, 3)
	assert.Equal(t, 3, p.TotalElements)
	assert.Equal(t, 1, p.TotalPages)
}

func TestListAllIncidents_FollowsPages(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		content := []models.Incident{{ID: "p" + page}}
		writeJSON(t, w, http.StatusOK, models.Page[models.Incident]{Content: content, TotalElements: 3, TotalPages: 3})
	}))
	defer ts.Close()

	all, err := newTestClient(t, ts.URL, "tok").ListAllIncidents(context.Background(), 1)

	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p0", all[0].ID)
	assert.Equal(t, "p2", all[2].ID)
}

func TestUpdateIncident_SendsOnlySetFields(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/incidents/inc-1", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"status": "RESOLVED"}, body)

		writeJSON(t, w, http.StatusOK, models.Incident{ID: "inc-1", Status: models.IncidentStatusResolved})
	}))
	defer ts.Close()

	resolved := models.IncidentStatusResolved
	inc, err := newTestClient(t, ts.URL, "tok").UpdateIncident(context.Background(), "inc-1", models.UpdateIncidentRequest{Status: &resolved})

	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusResolved, inc.Status)
}

func TestDeleteIncident_NoContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/incidents/inc-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	assert.NoError(t, newTestClient(t, ts.URL, "tok").DeleteIncident(context.Background(), "inc-1"))
}

func TestAnalyzeIncident(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/incidents/inc-1/analyze", r.URL.Path)
		writeJSON(t, w, http.StatusAccepted, models.AnalysisJob{JobID: "job-9", Status: models.JobStatusQueued})
	}))
	defer ts.Close()

	job, err := newTestClient(t, ts.URL, "tok").AnalyzeIncident(context.Background(), "inc-1")

	require.NoError(t, err)
	assert.Equal(t, "job-9", job.JobID)
	assert.Equal(t, models.JobStatusQueued, job.Status)
}

// --- analysis ---

func TestStartAnalysis(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analysis/jobs", r.URL.Path)
		var req models.StartAnalysisRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "inc-1", req.IncidentID)
		writeJSON(t, w, http.StatusAccepted, models.AnalysisJob{JobID: "job-1", Status: models.JobStatusQueued})
	}))
	defer ts.Close()

	job, err := newTestClient(t, ts.URL, "tok").StartAnalysis(context.Background(), models.StartAnalysisRequest{IncidentID: "inc-1"})

	require.NoError(t, err)
	assert.Equal(t, "job-1", job.JobID)
}

func TestGetJobStatus_DecodesRecord(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analysis/jobs/job-1", r.URL.Path)
		io.WriteString(w, `{"jobId":"job-1","status":"FAILED","errorMessage":"Out of memory","piiEntitiesMasked":4}`)
	}))
	defer ts.Close()

	job, err := newTestClient(t, ts.URL, "tok").GetJobStatus(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "Out of memory", job.FailureReason())
	assert.Equal(t, 4, job.PIIEntitiesMasked)
}
