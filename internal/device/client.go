package device

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leozw/routerfleet/internal/config"
	"github.com/leozw/routerfleet/internal/db"
	"github.com/leozw/routerfleet/internal/metrics"
)

// Client talks to a single router's REST API per call. It never writes to
// the router record.
type Client struct {
	client  *http.Client
	timeout time.Duration
	maxBody int64
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewClient(cfg config.DeviceConfig, logger *zap.Logger, m *metrics.Collector) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   cfg.Timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSClientConfig: &tls.Config{
					// RouterOS ships self-signed certificates by default
					InsecureSkipVerify: cfg.InsecureSkipVerify,
				},
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: cfg.Timeout,
		maxBody: cfg.MaxBodyBytes,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "device_client")),
		metrics: m,
	}
}

func validate(router *db.Router) error {
	if router == nil || router.Host == "" || router.Username == "" || router.Secret == "" {
		return ErrInvalidRouter
	}
	if router.Port < 1 || router.Port > 65535 {
		return ErrInvalidRouter
	}
	return nil
}

func endpoint(router *db.Router, path string) string {
	scheme := "http"
	if router.UseTLS {
		scheme = "https"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(router.Host, strconv.Itoa(router.Port)),
		Path:   path,
	}
	return u.String()
}

// Call fetches one facet from the router. Failures are returned as *Error;
// ErrInvalidRouter and ErrUnknownFacet indicate caller mistakes, ErrThrottled
// means no request was sent because the caller gave up waiting for the
// limiter.
func (c *Client) Call(ctx context.Context, router *db.Router, facet Facet) (json.RawMessage, error) {
	path, ok := facet.Path()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFacet, facet)
	}
	if err := validate(router); err != nil {
		return nil, err
	}

	// time queued behind the local limiter is not charged to the device
	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.RecordDeviceCall(string(facet), "Throttled", 0)
		return nil, fmt.Errorf("%w: %w", ErrThrottled, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	payload, err := c.do(ctx, router, facet, path)
	outcome := "ok"
	if de, ok := AsError(err); ok {
		outcome = string(de.Kind)
	}
	c.metrics.RecordDeviceCall(string(facet), outcome, time.Since(start))
	return payload, err
}

func (c *Client) do(ctx context.Context, router *db.Router, facet Facet, path string) (json.RawMessage, error) {
	log := c.logger.With(
		zap.String("router_id", router.ID),
		zap.String("host", router.Host),
		zap.Int("port", router.Port),
		zap.String("facet", string(facet)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(router, path), nil)
	if err != nil {
		log.Debug("Failed to build request", zap.Error(err))
		return nil, &Error{Kind: KindUnreachable, Facet: facet}
	}
	req.SetBasicAuth(router.Username, router.Secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Debug("Device request failed", zap.Error(err))
		return nil, &Error{Kind: KindUnreachable, Facet: facet}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		log.Debug("Device rejected request", zap.Int("status", resp.StatusCode))
		return nil, &Error{Kind: KindRejected, Facet: facet, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		// the connection dropped mid-body
		log.Debug("Failed to read device response", zap.Error(err))
		return nil, &Error{Kind: KindUnreachable, Facet: facet}
	}
	if int64(len(body)) > c.maxBody || !json.Valid(body) || !shapeMatches(facet, body) {
		log.Debug("Malformed device response", zap.Int("bytes", len(body)))
		return nil, &Error{Kind: KindBadPayload, Facet: facet}
	}

	return json.RawMessage(body), nil
}

// shapeMatches checks that list facets decode to an array and system info to
// an object.
func shapeMatches(facet Facet, body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return false
	}
	if facet.IsList() {
		return trimmed[0] == '['
	}
	return trimmed[0] == '{'
}
