package db

import (
	"context"
	"time"
)

// Store is the full repository contract served by both Repository and
// MemoryRepository. Every read and write is scoped by tenant except the
// fleet-wide listing and the liveness update, which operate on router ids the
// caller has already resolved.
type Store interface {
	Ping(ctx context.Context) error

	CreateRouter(ctx context.Context, router *Router) error
	GetRouter(ctx context.Context, id, tenantID string) (*Router, error)
	ListRouters(ctx context.Context, tenantID string) ([]*Router, error)
	ListAllRouters(ctx context.Context) ([]*Router, error)
	UpdateRouter(ctx context.Context, router *Router) error
	DeleteRouter(ctx context.Context, id, tenantID string) error
	SetRouterStatus(ctx context.Context, id string, status RouterStatus, seenAt time.Time) error

	InsertSnapshot(ctx context.Context, s *ConfigSnapshot) error
	ListSnapshots(ctx context.Context, routerID, tenantID string, limit int) ([]*ConfigSnapshot, error)

	VoucherUsernamesExist(ctx context.Context, tenantID string, usernames []string) (map[string]bool, error)
	InsertVouchers(ctx context.Context, vouchers []*Voucher) error
	ListVouchers(ctx context.Context, tenantID, routerID string) ([]*Voucher, error)
	GetVouchersByIDs(ctx context.Context, tenantID string, ids []string) ([]*Voucher, error)
	DeleteVoucher(ctx context.Context, id, tenantID string) error

	Overview(ctx context.Context, tenantID string) (*Overview, error)
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryRepository)(nil)
)
