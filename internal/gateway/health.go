package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/presencepro/platform/internal/models"
)

// HealthAggregator polls every registered backend's /health endpoint
// concurrently and reports an aggregate status.
type HealthAggregator struct {
	client  *http.Client
	timeout time.Duration
}

// NewHealthAggregator builds an aggregator with the given per-probe timeout.
func NewHealthAggregator(timeout time.Duration) *HealthAggregator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthAggregator{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Check fans out one probe per backend and fans the results back in.
func (h *HealthAggregator) Check(ctx context.Context, routes []models.RouteEntry) models.HealthReport {
	results := make([]models.ServiceHealth, len(routes))

	var wg sync.WaitGroup
	for i, route := range routes {
		wg.Add(1)
		go func(i int, route models.RouteEntry) {
			defer wg.Done()
			results[i] = h.probe(ctx, route)
		}(i, route)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	up := 0
	for _, r := range results {
		if r.Up {
			up++
		}
	}

	status := models.HealthDegraded
	switch up {
	case len(results):
		status = models.HealthHealthy
	case 0:
		status = models.HealthUnhealthy
	}

	return models.HealthReport{
		Status:    status,
		Services:  results,
		CheckedAt: time.Now().UTC(),
	}
}

func (h *HealthAggregator) probe(ctx context.Context, route models.RouteEntry) models.ServiceHealth {
	result := models.ServiceHealth{Name: route.Name, Target: route.Target}

	probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, route.Target+"/health", nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	result.Latency = time.Since(start)
	result.LatencyMs = result.Latency.Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}

	result.Up = true
	return result
}
