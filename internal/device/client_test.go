package device

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/leozw/routerfleet/internal/config"
	"github.com/leozw/routerfleet/internal/db"
	"github.com/leozw/routerfleet/internal/metrics"
)

func newTestClient(t *testing.T, timeout time.Duration) *Client {
	t.Helper()
	cfg := config.DeviceConfig{
		Timeout:            timeout,
		MaxBodyBytes:       1 << 20,
		InsecureSkipVerify: true,
	}
	return NewClient(cfg, zaptest.NewLogger(t), metrics.NewCollector(prometheus.NewRegistry()))
}

func routerFor(t *testing.T, rawURL string) *db.Router {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return &db.Router{
		ID: "r1", TenantID: "t", Host: host, Port: port,
		UseTLS: u.Scheme == "https", Username: "admin", Secret: "s3cret-pw",
	}
}

func TestClient_CallSuccessWithBasicAuth(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "s3cret-pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/rest/system/resource" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"uptime":"1d2h","version":"7.14"}`))
	}))
	defer s.Close()

	c := newTestClient(t, 2*time.Second)
	payload, err := c.Call(context.Background(), routerFor(t, s.URL), FacetSystemInfo)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !strings.Contains(string(payload), `"version":"7.14"`) {
		t.Fatalf("payload=%s", payload)
	}
}

func TestClient_CallTLS(t *testing.T) {
	t.Parallel()

	s := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer s.Close()

	c := newTestClient(t, 2*time.Second)
	if _, err := c.Call(context.Background(), routerFor(t, s.URL), FacetInterfaces); err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestClient_Classification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		handler http.HandlerFunc
		kind    Kind
		status  int
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			kind:   KindRejected,
			status: 500,
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			kind:   KindRejected,
			status: 401,
		},
		{
			name: "redirect is not followed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/login", http.StatusFound)
			},
			kind:   KindRejected,
			status: 302,
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"uptime":`))
			},
			kind: KindBadPayload,
		},
		{
			name: "object where a list is expected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"error":"no such command"}`))
			},
			kind: KindBadPayload,
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			kind: KindBadPayload,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			kind: KindUnreachable,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := httptest.NewServer(tc.handler)
			defer s.Close()

			c := newTestClient(t, 100*time.Millisecond)
			_, err := c.Call(context.Background(), routerFor(t, s.URL), FacetFirewallRules)
			de, ok := AsError(err)
			if !ok {
				t.Fatalf("expected device error, got %v", err)
			}
			if de.Kind != tc.kind || de.Status != tc.status || de.Facet != FacetFirewallRules {
				t.Fatalf("got %+v", de)
			}
			if strings.Contains(err.Error(), "s3cret-pw") || strings.Contains(err.Error(), "admin") {
				t.Fatalf("error leaks credentials: %q", err)
			}
		})
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.NotFoundHandler())
	r := routerFor(t, s.URL)
	s.Close()

	c := newTestClient(t, time.Second)
	_, err := c.Call(context.Background(), r, FacetSystemInfo)
	de, ok := AsError(err)
	if !ok || de.Kind != KindUnreachable {
		t.Fatalf("err=%v", err)
	}
}

func TestClient_BodyTooLarge(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"a":"` + strings.Repeat("a", 64) + `"}`))
	}))
	defer s.Close()

	c := newTestClient(t, time.Second)
	c.maxBody = 16
	_, err := c.Call(context.Background(), routerFor(t, s.URL), FacetSystemInfo)
	if de, ok := AsError(err); !ok || de.Kind != KindBadPayload {
		t.Fatalf("err=%v", err)
	}
}

func TestClient_InputValidation(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, time.Second)
	good := &db.Router{Host: "127.0.0.1", Port: 80, Username: "u", Secret: "p"}

	if _, err := c.Call(context.Background(), good, Facet("../../etc")); !errors.Is(err, ErrUnknownFacet) {
		t.Fatalf("unknown facet err=%v", err)
	}

	bad := []*db.Router{
		nil,
		{Port: 80, Username: "u", Secret: "p"},
		{Host: "h", Port: 0, Username: "u", Secret: "p"},
		{Host: "h", Port: 70000, Username: "u", Secret: "p"},
		{Host: "h", Port: 80, Secret: "p"},
		{Host: "h", Port: 80, Username: "u"},
	}
	for i, r := range bad {
		if _, err := c.Call(context.Background(), r, FacetSystemInfo); !errors.Is(err, ErrInvalidRouter) {
			t.Fatalf("case %d: err=%v", i, err)
		}
	}
}

func TestClient_LimiterWaitIsNotChargedToDevice(t *testing.T) {
	t.Parallel()

	var served atomic.Int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		_, _ = w.Write([]byte(`{"uptime":"1d"}`))
	}))
	defer s.Close()

	// six calls at 20/s queue for about 250ms, longer than the device timeout
	cfg := config.DeviceConfig{Timeout: 100 * time.Millisecond, RateLimit: 20, RateBurst: 1, MaxBodyBytes: 1 << 20}
	c := NewClient(cfg, zaptest.NewLogger(t), metrics.NewCollector(prometheus.NewRegistry()))
	r := routerFor(t, s.URL)

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Call(context.Background(), r, FacetSystemInfo)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := served.Load(); got != 6 {
		t.Fatalf("served=%d, want 6", got)
	}
}

func TestClient_ThrottledBeforeSending(t *testing.T) {
	t.Parallel()

	var served atomic.Int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		_, _ = w.Write([]byte(`{"uptime":"1d"}`))
	}))
	defer s.Close()

	cfg := config.DeviceConfig{Timeout: time.Second, RateLimit: 0.5, RateBurst: 1, MaxBodyBytes: 1 << 20}
	c := NewClient(cfg, zaptest.NewLogger(t), metrics.NewCollector(prometheus.NewRegistry()))
	r := routerFor(t, s.URL)

	if _, err := c.Call(context.Background(), r, FacetSystemInfo); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, r, FacetSystemInfo)
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("err=%v, want ErrThrottled", err)
	}
	if _, ok := AsError(err); ok {
		t.Fatalf("throttled call classified as a device failure: %v", err)
	}
	if got := served.Load(); got != 1 {
		t.Fatalf("served=%d, want 1", got)
	}
}

func TestFacets_AllHavePaths(t *testing.T) {
	t.Parallel()

	if len(Facets()) != 5 {
		t.Fatalf("facets=%v", Facets())
	}
	for _, f := range Facets() {
		if _, ok := f.Path(); !ok {
			t.Fatalf("facet %s has no path", f)
		}
	}
	if FacetSystemInfo.IsList() || !FacetInterfaces.IsList() {
		t.Fatal("IsList mismatch")
	}
}
