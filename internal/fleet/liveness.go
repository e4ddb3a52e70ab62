package fleet

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/routerfleet/internal/db"
	"github.com/leozw/routerfleet/internal/metrics"
)

// liveness is the single writer of Router.Status and Router.LastSeenAt.
// Writes are absolute (status, timestamp) pairs, so concurrent contacts with
// the same router race only on which result is kept.
type liveness struct {
	store   Store
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

func (l *liveness) observedAt() time.Time {
	return l.now().UTC()
}

// record stores the outcome of a contact that finished at at.
func (l *liveness) record(ctx context.Context, router *db.Router, online bool, at time.Time) (db.RouterStatus, error) {
	status := db.RouterOffline
	if online {
		status = db.RouterOnline
	}

	// a finished contact is recorded even if the caller went away
	if err := l.store.SetRouterStatus(context.WithoutCancel(ctx), router.ID, status, at); err != nil {
		l.logger.Error("Failed to record router status",
			zap.Error(err),
			zap.String("router_id", router.ID),
			zap.String("status", string(status)),
		)
		return status, err
	}

	l.metrics.RecordLiveness(router.TenantID, router.ID, online, at)
	return status, nil
}
