package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	healthy   = pingFunc(func(context.Context) error { return nil })
	unhealthy = pingFunc(func(context.Context) error { return errors.New("connection refused") })
)

func TestHealth_AllOK(t *testing.T) {
	rec := serve(NewHealthHandler(healthy, healthy), jsonRequest(t, http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)

	var data struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "ok", data.Status)
	assert.Equal(t, map[string]string{"database": "ok", "cache": "ok"}, data.Checks)
}

func TestHealth_Degraded(t *testing.T) {
	tests := []struct {
		name    string
		db      Pinger
		cache   Pinger
		failing string
	}{
		{"database down", unhealthy, healthy, "database"},
		{"cache down", healthy, unhealthy, "cache"},
		{"cache missing", healthy, nil, "cache"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(NewHealthHandler(tt.db, tt.cache), jsonRequest(t, http.MethodGet, "/api/v1/health", nil))

			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.Equal(t, "DEGRADED", env.Error.Code)
			details, ok := env.Error.Details.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "degraded", details[tt.failing])
		})
	}
}
