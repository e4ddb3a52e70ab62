package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/routerfleet/internal/config"
	"github.com/leozw/routerfleet/internal/db"
	"github.com/leozw/routerfleet/internal/metrics"
)

type Operation string

const (
	OpProbe Operation = "test"
	OpSync  Operation = "sync"
)

var (
	ErrInvalidOperation = errors.New("action must be \"sync\" or \"test\"")
	ErrEmptyBatch       = errors.New("router_ids must not be empty")
	ErrBatchTooLarge    = errors.New("too many router_ids in one batch")
)

func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "test", "probe":
		return OpProbe, nil
	case "sync":
		return OpSync, nil
	default:
		return "", ErrInvalidOperation
	}
}

// Outcome is the result for one requested router id.
type Outcome struct {
	RouterID string `json:"router_id"`
	Result   Result `json:"result"`
}

// Coordinator runs probes and syncs for single routers and for batches,
// capping concurrent router jobs at MaxConcurrency.
type Coordinator struct {
	store       Store
	prober      *Prober
	aggregator  *Aggregator
	metrics     *metrics.Collector
	logger      *zap.Logger
	concurrency int
	maxBatch    int
}

func NewCoordinator(cfg config.FleetConfig, store Store, client Caller, m *metrics.Collector, logger *zap.Logger) *Coordinator {
	l := &liveness{
		store:   store,
		metrics: m,
		logger:  logger.With(zap.String("component", "liveness")),
		now:     time.Now,
	}
	return &Coordinator{
		store: store,
		prober: &Prober{
			client:   client,
			liveness: l,
			logger:   logger.With(zap.String("component", "prober")),
		},
		aggregator: &Aggregator{
			client:   client,
			store:    store,
			liveness: l,
			metrics:  m,
			logger:   logger.With(zap.String("component", "aggregator")),
		},
		metrics:     m,
		logger:      logger.With(zap.String("component", "coordinator")),
		concurrency: cfg.MaxConcurrency,
		maxBatch:    cfg.MaxBatchSize,
	}
}

// Probe resolves a tenant's router and tests it once.
func (c *Coordinator) Probe(ctx context.Context, tenantID, routerID string) (*ProbeResult, error) {
	router, err := c.store.GetRouter(ctx, routerID, tenantID)
	if err != nil {
		return nil, err
	}
	return c.prober.Probe(ctx, router)
}

// Sync resolves a tenant's router and stores a fresh configuration snapshot.
func (c *Coordinator) Sync(ctx context.Context, tenantID, routerID string) (*SyncResult, error) {
	router, err := c.store.GetRouter(ctx, routerID, tenantID)
	if err != nil {
		return nil, err
	}
	return c.aggregator.Sync(ctx, router)
}

// job is one operation on one router. slots lists every input position
// that named the router.
type job struct {
	slots    []int
	routerID string
	tenantID string
	router   *db.Router
}

// RunBatch runs op for every id on behalf of tenantID. The returned slice has
// one outcome per id, in input order. Ids that do not name one of the
// tenant's routers yield a NotFound outcome. A repeated id is run once and
// its outcome reported at each position.
func (c *Coordinator) RunBatch(ctx context.Context, tenantID string, routerIDs []string, op Operation) ([]Outcome, error) {
	if op != OpProbe && op != OpSync {
		return nil, ErrInvalidOperation
	}
	if len(routerIDs) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(routerIDs) > c.maxBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(routerIDs), c.maxBatch)
	}

	jobs := make([]job, 0, len(routerIDs))
	byID := make(map[string]int, len(routerIDs))
	for i, id := range routerIDs {
		if n, ok := byID[id]; ok {
			jobs[n].slots = append(jobs[n].slots, i)
			continue
		}
		byID[id] = len(jobs)
		jobs = append(jobs, job{slots: []int{i}, routerID: id, tenantID: tenantID})
	}
	return c.run(ctx, op, jobs, len(routerIDs)), nil
}

// RunFleet runs op for every router of every tenant.
func (c *Coordinator) RunFleet(ctx context.Context, op Operation) ([]Outcome, error) {
	if op != OpProbe && op != OpSync {
		return nil, ErrInvalidOperation
	}
	routers, err := c.store.ListAllRouters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list routers: %w", err)
	}

	jobs := make([]job, len(routers))
	for i, r := range routers {
		jobs[i] = job{slots: []int{i}, routerID: r.ID, tenantID: r.TenantID, router: r}
	}
	return c.run(ctx, op, jobs, len(jobs)), nil
}

func (c *Coordinator) run(ctx context.Context, op Operation, jobs []job, size int) []Outcome {
	start := time.Now()
	outcomes := make([]Outcome, size)
	if len(jobs) == 0 {
		return outcomes
	}

	workers := c.concurrency
	if workers > len(jobs) {
		workers = len(jobs)
	}

	workQueue := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := range workQueue {
				// slots are disjoint between jobs, no locking needed
				out := c.process(ctx, op, j, workerID)
				for _, slot := range j.slots {
					outcomes[slot] = out
				}
			}
		}(i)
	}

	for _, j := range jobs {
		workQueue <- j
	}
	close(workQueue)
	wg.Wait()

	succeeded := 0
	for _, o := range outcomes {
		if o.Result.Success {
			succeeded++
		}
	}
	c.metrics.RecordBatch(string(op), time.Since(start), succeeded, len(outcomes)-succeeded)
	c.logger.Info("Batch completed",
		zap.String("operation", string(op)),
		zap.Int("routers", len(outcomes)),
		zap.Int("succeeded", succeeded),
		zap.Int("workers", workers),
		zap.Duration("duration", time.Since(start)),
	)
	return outcomes
}

func (c *Coordinator) process(ctx context.Context, op Operation, j job, workerID int) (out Outcome) {
	out.RouterID = j.routerID
	c.metrics.JobStarted()
	defer c.metrics.JobFinished()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Router job panicked",
				zap.Any("panic", r),
				zap.String("router_id", j.routerID),
				zap.Int("worker_id", workerID),
			)
			out.Result = failedResult(&Failure{Kind: KindInternal, Detail: "internal error"})
		}
	}()

	router := j.router
	if router == nil {
		r, err := c.store.GetRouter(ctx, j.routerID, j.tenantID)
		if err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				c.logger.Error("Failed to resolve router", zap.Error(err), zap.String("router_id", j.routerID))
			}
			out.Result = failedResult(failureOf(err))
			return out
		}
		router = r
	}

	switch op {
	case OpProbe:
		res, err := c.prober.Probe(ctx, router)
		if err != nil {
			out.Result = failedResult(failureOf(err))
			return out
		}
		out.Result = res.Result()
	case OpSync:
		res, err := c.aggregator.Sync(ctx, router)
		if err != nil {
			out.Result = failedResult(failureOf(err))
			return out
		}
		out.Result = res.Result()
	}
	return out
}
