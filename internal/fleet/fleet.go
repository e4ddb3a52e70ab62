// Package fleet drives device calls for single routers and for batches of
// routers: liveness probes, configuration syncs and the bounded worker pool
// that fans them out.
package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/leozw/routerfleet/internal/db"
	"github.com/leozw/routerfleet/internal/device"
)

// Store is the subset of the repository the fleet engine needs.
type Store interface {
	GetRouter(ctx context.Context, id, tenantID string) (*db.Router, error)
	ListAllRouters(ctx context.Context) ([]*db.Router, error)
	SetRouterStatus(ctx context.Context, id string, status db.RouterStatus, seenAt time.Time) error
	InsertSnapshot(ctx context.Context, s *db.ConfigSnapshot) error
}

// Caller fetches one facet from one router.
type Caller interface {
	Call(ctx context.Context, router *db.Router, facet device.Facet) (json.RawMessage, error)
}

// Error kinds reported in results, next to the device.Kind values.
const (
	KindNotFound        = "NotFound"
	KindInvalidArgument = "InvalidArgument"
	KindInternal        = "Internal"
	KindThrottled       = "Throttled"
)

// Failure describes why a router operation did not succeed.
type Failure struct {
	Kind   string
	Status int
	Detail string
}

func failureOf(err error) *Failure {
	if de, ok := device.AsError(err); ok {
		return &Failure{Kind: string(de.Kind), Status: de.Status, Detail: de.Error()}
	}
	switch {
	case errors.Is(err, device.ErrThrottled):
		return &Failure{Kind: KindThrottled, Detail: "rate limited before contacting the router"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Failure{Kind: string(device.KindUnreachable), Detail: "operation cancelled"}
	case errors.Is(err, db.ErrNotFound):
		return &Failure{Kind: KindNotFound, Detail: "router not found"}
	case errors.Is(err, device.ErrInvalidRouter), errors.Is(err, device.ErrUnknownFacet):
		return &Failure{Kind: KindInvalidArgument, Detail: err.Error()}
	default:
		return &Failure{Kind: KindInternal, Detail: "internal error"}
	}
}

// Result is the wire shape of a single router operation, shared by the
// single-router endpoints and by batch outcomes.
type Result struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Status    int             `json:"status,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Config    db.JSONB        `json:"config,omitempty"`
	Facets    db.FacetStats   `json:"facets,omitempty"`
	Complete  *bool           `json:"complete,omitempty"`
	FetchedAt *time.Time      `json:"fetched_at,omitempty"`
}

func failedResult(f *Failure) Result {
	return Result{Success: false, Error: f.Kind, Detail: f.Detail, Status: f.Status}
}
