package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leozw/routerfleet/internal/db"
	"github.com/leozw/routerfleet/internal/device"
	"github.com/leozw/routerfleet/internal/metrics"
)

// Snapshot keys, one per facet.
var configKeys = map[device.Facet]string{
	device.FacetInterfaces:      "interfaces",
	device.FacetIPAddresses:     "ipAddresses",
	device.FacetFirewallRules:   "firewallRules",
	device.FacetHotspotProfiles: "hotspotProfiles",
	device.FacetSystemInfo:      "systemInfo",
}

var (
	emptyList   = json.RawMessage(`[]`)
	emptyObject = json.RawMessage(`{}`)
)

type SyncResult struct {
	RouterID  string
	Snapshot  *db.ConfigSnapshot
	Succeeded int
	Failure   *Failure
}

// OK reports whether at least one facet was fetched.
func (r *SyncResult) OK() bool { return r.Succeeded > 0 }

func (r *SyncResult) Complete() bool { return r.Snapshot.Complete }

func (r *SyncResult) Result() Result {
	complete := r.Snapshot.Complete
	fetched := r.Snapshot.FetchedAt
	res := Result{
		Success:   r.OK(),
		Config:    r.Snapshot.Config,
		Facets:    r.Snapshot.Facets,
		Complete:  &complete,
		FetchedAt: &fetched,
	}
	switch {
	case !r.OK():
		res.Error = r.Failure.Kind
		res.Detail = r.Failure.Detail
		res.Status = r.Failure.Status
	case complete:
		res.Message = "Configuration synced"
	default:
		res.Message = "Configuration partially synced"
	}
	return res
}

// Aggregator fetches every facet of a router concurrently and stores the
// merged snapshot, even when some or all facets failed.
type Aggregator struct {
	client   Caller
	store    Store
	liveness *liveness
	metrics  *metrics.Collector
	logger   *zap.Logger
}

type facetOutcome struct {
	payload json.RawMessage
	err     error
}

func (a *Aggregator) Sync(ctx context.Context, router *db.Router) (*SyncResult, error) {
	start := time.Now()
	facets := device.Facets()
	outcomes := make([]facetOutcome, len(facets))

	// facet calls never fail the group, so one facet cannot cancel another
	var g errgroup.Group
	for i, facet := range facets {
		i, facet := i, facet
		g.Go(func() error {
			payload, err := a.client.Call(ctx, router, facet)
			outcomes[i] = facetOutcome{payload: payload, err: err}
			return nil
		})
	}
	_ = g.Wait()

	snapshot := &db.ConfigSnapshot{
		ID:       uuid.New().String(),
		RouterID: router.ID,
		TenantID: router.TenantID,
		Config:   make(db.JSONB, len(facets)),
		Facets:   make(db.FacetStats, len(facets)),
	}
	result := &SyncResult{RouterID: router.ID, Snapshot: snapshot}
	throttled := 0

	for i, facet := range facets {
		key := configKeys[facet]
		out := outcomes[i]
		if out.err == nil {
			snapshot.Config[key] = out.payload
			snapshot.Facets[key] = db.FacetStat{OK: true}
			result.Succeeded++
			continue
		}

		if errors.Is(out.err, device.ErrThrottled) {
			throttled++
		}
		f := failureOf(out.err)
		if result.Failure == nil {
			result.Failure = f
		}
		snapshot.Facets[key] = db.FacetStat{OK: false, Error: f.Kind, Status: f.Status}
		if facet.IsList() {
			snapshot.Config[key] = emptyList
		} else {
			snapshot.Config[key] = emptyObject
		}
	}
	snapshot.Complete = result.Succeeded == len(facets)

	switch {
	case result.OK():
	case throttled == len(facets):
		return nil, fmt.Errorf("sync router %s: %w", router.ID, device.ErrThrottled)
	case ctx.Err() != nil:
		return nil, fmt.Errorf("sync router %s: %w", router.ID, ctx.Err())
	}

	// the snapshot goes first: a status change is never recorded without
	// the history entry that explains it
	seenAt := a.liveness.observedAt()
	snapshot.FetchedAt = seenAt
	if err := a.store.InsertSnapshot(context.WithoutCancel(ctx), snapshot); err != nil {
		return nil, fmt.Errorf("store snapshot of router %s: %w", router.ID, err)
	}

	if _, err := a.liveness.record(ctx, router, result.OK(), seenAt); err != nil {
		return nil, fmt.Errorf("record sync of router %s: %w", router.ID, err)
	}

	outcome := "complete"
	switch {
	case !result.OK():
		outcome = "failed"
	case !snapshot.Complete:
		outcome = "degraded"
	}
	a.metrics.RecordConfigSync(router.TenantID, outcome)

	a.logger.Info("Router configuration synced",
		zap.String("router_id", router.ID),
		zap.String("tenant_id", router.TenantID),
		zap.String("result", outcome),
		zap.Int("facets_ok", result.Succeeded),
		zap.Duration("duration", time.Since(start)),
	)

	return result, nil
}
