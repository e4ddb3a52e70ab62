package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/routerfleet/internal/db"
	"github.com/leozw/routerfleet/internal/device"
)

type ProbeResult struct {
	RouterID  string
	Reachable bool
	Status    db.RouterStatus
	SeenAt    time.Time
	Data      json.RawMessage
	Failure   *Failure
}

func (r *ProbeResult) Result() Result {
	if !r.Reachable {
		return failedResult(r.Failure)
	}
	return Result{Success: true, Message: "Connection successful", Data: r.Data}
}

// Prober tests reachability with one system-info call and records the
// outcome on the router.
type Prober struct {
	client   Caller
	liveness *liveness
	logger   *zap.Logger
}

func (p *Prober) Probe(ctx context.Context, router *db.Router) (*ProbeResult, error) {
	payload, err := p.client.Call(ctx, router, device.FacetSystemInfo)
	switch {
	case err == nil:
	case errors.Is(err, device.ErrThrottled):
		// nothing was sent, so there is nothing to learn about the router
		return nil, fmt.Errorf("probe router %s: %w", router.ID, err)
	case ctx.Err() != nil:
		return nil, fmt.Errorf("probe router %s: %w", router.ID, ctx.Err())
	}

	res := &ProbeResult{RouterID: router.ID, Reachable: err == nil, Data: payload}
	if err != nil {
		res.Failure = failureOf(err)
		p.logger.Info("Router probe failed",
			zap.String("router_id", router.ID),
			zap.String("tenant_id", router.TenantID),
			zap.String("error", res.Failure.Kind),
			zap.Int("status", res.Failure.Status),
		)
	}

	at := p.liveness.observedAt()
	status, err := p.liveness.record(ctx, router, res.Reachable, at)
	if err != nil {
		return nil, fmt.Errorf("record probe of router %s: %w", router.ID, err)
	}
	res.Status = status
	res.SeenAt = at
	return res, nil
}
