package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/routerfleet/internal/db"
	"github.com/leozw/routerfleet/internal/device"
	"github.com/leozw/routerfleet/internal/fleet"
	"github.com/leozw/routerfleet/internal/metrics"
	"github.com/leozw/routerfleet/internal/voucher"
)

// Fleet runs device operations on behalf of a tenant.
type Fleet interface {
	Probe(ctx context.Context, tenantID, routerID string) (*fleet.ProbeResult, error)
	Sync(ctx context.Context, tenantID, routerID string) (*fleet.SyncResult, error)
	RunBatch(ctx context.Context, tenantID string, routerIDs []string, op fleet.Operation) ([]fleet.Outcome, error)
	RunFleet(ctx context.Context, op fleet.Operation) ([]fleet.Outcome, error)
}

type Issuer interface {
	Issue(ctx context.Context, req voucher.IssueRequest) ([]*db.Voucher, error)
}

type Handler struct {
	store   db.Store
	fleet   Fleet
	issuer  Issuer
	metrics *metrics.Collector
	logger  *zap.Logger
	started time.Time
}

func NewHandler(store db.Store, fleet Fleet, issuer Issuer, metrics *metrics.Collector, logger *zap.Logger) *Handler {
	return &Handler{
		store:   store,
		fleet:   fleet,
		issuer:  issuer,
		metrics: metrics,
		logger:  logger,
		started: time.Now(),
	}
}

// fail maps err onto a status code and the error taxonomy used on the wire.
// Unexpected errors are logged and reported without detail.
func (h *Handler) fail(c *gin.Context, err error, action string) {
	status, kind, detail := http.StatusInternalServerError, fleet.KindInternal, "Internal server error"

	switch {
	case errors.Is(err, db.ErrNotFound):
		status, kind, detail = http.StatusNotFound, fleet.KindNotFound, "Not found"
	case errors.Is(err, voucher.ErrInvalidArgument),
		errors.Is(err, fleet.ErrInvalidOperation),
		errors.Is(err, fleet.ErrEmptyBatch),
		errors.Is(err, fleet.ErrBatchTooLarge):
		status, kind, detail = http.StatusBadRequest, fleet.KindInvalidArgument, err.Error()
	case errors.Is(err, device.ErrThrottled):
		status, kind, detail = http.StatusServiceUnavailable, fleet.KindThrottled, "Too many device requests, retry later"
	case errors.Is(err, voucher.ErrConflict), errors.Is(err, db.ErrConflict):
		status, kind, detail = http.StatusConflict, "Conflict", err.Error()
	default:
		h.logger.Error("Failed to "+action,
			zap.Error(err),
			zap.String("tenant_id", c.GetString("tenant_id")),
		)
	}

	c.JSON(status, gin.H{"success": false, "error": kind, "detail": detail})
}

func badRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": fleet.KindInvalidArgument, "detail": detail})
}
