package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presencepro/platform/internal/models"
)

func TestHealthCheckAggregatesUpAndDown(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	agg := NewHealthAggregator(time.Second)
	report := agg.Check(context.Background(), []models.RouteEntry{
		{Name: "users", Target: up.URL},
		{Name: "attendance", Target: down.URL},
	})

	assert.Equal(t, models.HealthDegraded, report.Status)
	require.Len(t, report.Services, 2)
	// Results are sorted by name.
	assert.Equal(t, "attendance", report.Services[0].Name)
	assert.False(t, report.Services[0].Up)
	assert.Equal(t, "users", report.Services[1].Name)
	assert.True(t, report.Services[1].Up)
}

func TestHealthCheckAllHealthy(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	agg := NewHealthAggregator(time.Second)
	report := agg.Check(context.Background(), []models.RouteEntry{
		{Name: "users", Target: up.URL},
		{Name: "courses", Target: up.URL},
	})

	assert.Equal(t, models.HealthHealthy, report.Status)
}

func TestHealthCheckAllUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	agg := NewHealthAggregator(200 * time.Millisecond)
	report := agg.Check(context.Background(), []models.RouteEntry{
		{Name: "users", Target: dead.URL},
	})

	assert.Equal(t, models.HealthUnhealthy, report.Status)
	require.Len(t, report.Services, 1)
	assert.NotEmpty(t, report.Services[0].Error)
}
