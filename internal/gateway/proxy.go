package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/internal/service"
	"github.com/presencepro/platform/pkg/config"
	appErrors "github.com/presencepro/platform/pkg/errors"
	"github.com/presencepro/platform/pkg/middleware/requestid"
	"github.com/presencepro/platform/pkg/response"
)

// Request headers copied through to the backend. Everything else is dropped;
// identity and tracing headers are injected separately.
var forwardedRequestHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Accept",
	"Accept-Language",
	"Accept-Encoding",
	"User-Agent",
	"X-Forwarded-For",
	"X-Real-IP",
}

// Response headers relayed back to the original caller.
var relayedResponseHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Cache-Control",
	"Expires",
	"Last-Modified",
	"ETag",
}

const maxForwardBodyBytes = 10 << 20

// Proxy is the single entry point that authorizes and forwards every inbound
// request to the owning backend, then relays the response.
type Proxy struct {
	table   atomic.Pointer[RouteTable]
	client  *http.Client
	cfg     config.GatewayConfig
	logger  *zap.Logger
	metrics *service.MetricsService
}

// NewProxy builds a proxy over a bounded shared connection pool.
func NewProxy(table *RouteTable, cfg config.GatewayConfig, logger *zap.Logger, metrics *service.MetricsService) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.ProxyTimeout <= 0 {
		cfg.ProxyTimeout = 10 * time.Second
	}

	transport := &http.Transport{
		MaxConnsPerHost:     cfg.MaxConns,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
	}

	p := &Proxy{
		client:  &http.Client{Transport: transport},
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
	p.table.Store(table)
	return p
}

// Table returns the current route table.
func (p *Proxy) Table() *RouteTable {
	return p.table.Load()
}

// Reload atomically swaps in a freshly built route table. In-flight requests
// keep the table they resolved against.
func (p *Proxy) Reload(table *RouteTable) {
	p.table.Store(table)
}

// Handle authorizes the request against the tier table, resolves the target
// backend and forwards with retry. It is mounted as the router's fallback so
// it sees every non-gateway-local path.
func (p *Proxy) Handle(c *gin.Context) {
	start := time.Now()
	path := c.Request.URL.Path
	table := p.table.Load()
	identity := IdentityFromContext(c)

	tier := table.RequiredTier(path)
	if !TierAllows(tier, identity) {
		if identity == nil {
			response.Error(c, appErrors.ErrUnauthorized)
		} else {
			response.Error(c, appErrors.ErrForbidden)
		}
		return
	}

	route, ok := table.Resolve(path)
	if !ok {
		response.Error(c, appErrors.ErrRouteNotFound)
		return
	}

	if c.Request.ContentLength > maxForwardBodyBytes {
		response.Error(c, appErrors.ErrPayloadTooLarge)
		return
	}
	// Read one byte past the limit so chunked bodies that exceed it are
	// rejected rather than forwarded truncated.
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxForwardBodyBytes+1))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrBadGateway, "failed to read request body"))
		return
	}
	if len(body) > maxForwardBodyBytes {
		response.Error(c, appErrors.ErrPayloadTooLarge)
		return
	}

	resp, err := p.forward(c, route, body, identity)
	if err != nil {
		p.record(route.Name, "error")
		response.Error(c, err)
		return
	}
	defer resp.Body.Close()

	p.record(route.Name, fmt.Sprintf("%d", resp.StatusCode))
	p.relay(c, route, resp, start)
}

// forward issues the backend call, retrying on connection failure or timeout
// with exponential backoff. Backend error statuses are not retried; they are
// relayed verbatim.
func (p *Proxy) forward(c *gin.Context, route models.RouteEntry, body []byte, identity *models.Identity) (*http.Response, error) {
	target := route.Target + c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		target += "?" + raw
	}

	delay := p.cfg.RetryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			if p.metrics != nil {
				p.metrics.RecordProxyRetry(route.Name)
			}
			select {
			case <-c.Request.Context().Done():
				return nil, appErrors.Clone(appErrors.ErrUpstreamTimeout, "request cancelled")
			case <-time.After(delay):
			}
			delay *= 2
			if p.cfg.RetryMaxDelay > 0 && delay > p.cfg.RetryMaxDelay {
				delay = p.cfg.RetryMaxDelay
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), p.cfg.ProxyTimeout)
		req, err := http.NewRequestWithContext(ctx, c.Request.Method, target, bytes.NewReader(body))
		if err != nil {
			cancel()
			return nil, appErrors.Wrap(err, appErrors.ErrBadGateway.Code, appErrors.ErrBadGateway.Status, "failed to build upstream request")
		}
		p.prepareHeaders(c, req, identity)

		resp, err := p.client.Do(req)
		if err == nil {
			// Cancel fires when the relayed body is fully copied; tie it
			// to body close so streaming the response stays valid.
			resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		}
		cancel()
		lastErr = err

		if !retryable(err) {
			break
		}
		p.logger.Warn("upstream attempt failed",
			zap.String("service", route.Name),
			zap.String("target", target),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	if isTimeout(lastErr) {
		return nil, appErrors.Wrap(lastErr, appErrors.ErrUpstreamTimeout.Code, appErrors.ErrUpstreamTimeout.Status, appErrors.ErrUpstreamTimeout.Message)
	}
	if isConnectionError(lastErr) {
		return nil, appErrors.Wrap(lastErr, appErrors.ErrUpstreamDown.Code, appErrors.ErrUpstreamDown.Status, appErrors.ErrUpstreamDown.Message)
	}
	return nil, appErrors.Wrap(lastErr, appErrors.ErrBadGateway.Code, appErrors.ErrBadGateway.Status, appErrors.ErrBadGateway.Message)
}

func (p *Proxy) prepareHeaders(c *gin.Context, req *http.Request, identity *models.Identity) {
	for _, name := range forwardedRequestHeaders {
		if value := c.GetHeader(name); value != "" {
			req.Header.Set(name, value)
		}
	}

	if identity != nil {
		req.Header.Set("X-User-ID", identity.UserID)
		req.Header.Set("X-User-Email", identity.Email)
		req.Header.Set("X-User-Role", string(identity.Role))
		if len(identity.Permissions) > 0 {
			req.Header.Set("X-User-Permissions", strings.Join(identity.Permissions, ","))
		}
	}

	req.Header.Set("X-Gateway-Request-ID", requestid.Value(c))
	req.Header.Set("X-Forwarded-Host", c.Request.Host)
	proto := "http"
	if c.Request.TLS != nil {
		proto = "https"
	}
	req.Header.Set("X-Forwarded-Proto", proto)
}

func (p *Proxy) relay(c *gin.Context, route models.RouteEntry, resp *http.Response, start time.Time) {
	for _, name := range relayedResponseHeaders {
		if value := resp.Header.Get(name); value != "" {
			c.Writer.Header().Set(name, value)
		}
	}
	c.Writer.Header().Set("X-Gateway-Service", route.Name)
	c.Writer.Header().Set("X-Gateway-Response-Time", fmt.Sprintf("%dms", time.Since(start).Milliseconds()))

	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		p.logger.Warn("failed to relay upstream body",
			zap.String("service", route.Name),
			zap.Error(err),
		)
	}
}

func (p *Proxy) record(serviceName, outcome string) {
	if p.metrics != nil {
		p.metrics.RecordProxyForward(serviceName, outcome)
	}
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func retryable(err error) bool {
	return isTimeout(err) || isConnectionError(err)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
