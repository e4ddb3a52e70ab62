package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/leozw/routerfleet/internal/config"
	"github.com/leozw/routerfleet/internal/secrets"
)

const uniqueViolation = "23505"

// Repository is the Postgres backed store. Router and voucher secrets are
// sealed on write and opened on read.
type Repository struct {
	db     *sqlx.DB
	sealer *secrets.Sealer
}

func NewConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

func NewRepository(db *sqlx.DB, sealer *secrets.Sealer) *Repository {
	return &Repository{db: db, sealer: sealer}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Router operations

const routerColumns = `id, tenant_id, name, host, port, use_tls, username, secret,
        status, last_seen_at, created_at, updated_at`

func (r *Repository) CreateRouter(ctx context.Context, router *Router) error {
	sealed, err := r.sealer.Seal(router.Secret)
	if err != nil {
		return err
	}
	row := *router
	row.Secret = sealed

	query := `
        INSERT INTO routers (
            id, tenant_id, name, host, port, use_tls, username, secret,
            status, last_seen_at, created_at, updated_at
        ) VALUES (
            :id, :tenant_id, :name, :host, :port, :use_tls, :username, :secret,
            :status, :last_seen_at, :created_at, :updated_at
        )`

	_, err = r.db.NamedExecContext(ctx, query, &row)
	return err
}

func (r *Repository) openRouter(router *Router) error {
	plain, err := r.sealer.Open(router.Secret)
	if err != nil {
		return fmt.Errorf("router %s: %w", router.ID, err)
	}
	router.Secret = plain
	return nil
}

func (r *Repository) GetRouter(ctx context.Context, id, tenantID string) (*Router, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}

	var router Router
	query := `SELECT ` + routerColumns + ` FROM routers WHERE id = $1 AND tenant_id = $2`
	err := r.db.GetContext(ctx, &router, query, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.openRouter(&router); err != nil {
		return nil, err
	}
	return &router, nil
}

func (r *Repository) selectRouters(ctx context.Context, query string, args ...interface{}) ([]*Router, error) {
	routers := []*Router{}
	if err := r.db.SelectContext(ctx, &routers, query, args...); err != nil {
		return nil, err
	}
	for _, router := range routers {
		if err := r.openRouter(router); err != nil {
			return nil, err
		}
	}
	return routers, nil
}

func (r *Repository) ListRouters(ctx context.Context, tenantID string) ([]*Router, error) {
	query := `SELECT ` + routerColumns + ` FROM routers WHERE tenant_id = $1 ORDER BY created_at, id`
	return r.selectRouters(ctx, query, tenantID)
}

func (r *Repository) ListAllRouters(ctx context.Context) ([]*Router, error) {
	query := `SELECT ` + routerColumns + ` FROM routers ORDER BY tenant_id, created_at, id`
	return r.selectRouters(ctx, query)
}

// UpdateRouter writes the user editable fields. Status and last-seen are
// left to SetRouterStatus.
func (r *Repository) UpdateRouter(ctx context.Context, router *Router) error {
	sealed, err := r.sealer.Seal(router.Secret)
	if err != nil {
		return err
	}
	row := *router
	row.Secret = sealed

	query := `
        UPDATE routers SET
            name = :name,
            host = :host,
            port = :port,
            use_tls = :use_tls,
            username = :username,
            secret = :secret,
            updated_at = :updated_at
        WHERE id = :id AND tenant_id = :tenant_id`

	res, err := r.db.NamedExecContext(ctx, query, &row)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *Repository) DeleteRouter(ctx context.Context, id, tenantID string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM routers WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// SetRouterStatus is an absolute last-writer-wins update of the observed state.
func (r *Repository) SetRouterStatus(ctx context.Context, id string, status RouterStatus, seenAt time.Time) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE routers SET status = $2, last_seen_at = $3 WHERE id = $1`,
		id, status, seenAt,
	)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Config snapshots

func (r *Repository) InsertSnapshot(ctx context.Context, s *ConfigSnapshot) error {
	query := `
        INSERT INTO router_configs (
            id, router_id, tenant_id, config_data, facets, complete, fetched_at
        ) VALUES (
            :id, :router_id, :tenant_id, :config_data, :facets, :complete, :fetched_at
        )`

	_, err := r.db.NamedExecContext(ctx, query, s)
	return err
}

func (r *Repository) ListSnapshots(ctx context.Context, routerID, tenantID string, limit int) ([]*ConfigSnapshot, error) {
	if !validID(routerID) {
		return nil, ErrNotFound
	}
	snapshots := []*ConfigSnapshot{}
	query := `
        SELECT id, router_id, tenant_id, config_data, facets, complete, fetched_at
        FROM router_configs
        WHERE router_id = $1 AND tenant_id = $2
        ORDER BY fetched_at DESC
        LIMIT $3`

	err := r.db.SelectContext(ctx, &snapshots, query, routerID, tenantID, limit)
	return snapshots, err
}

// Vouchers

const voucherColumns = `v.id, v.tenant_id, v.router_id, COALESCE(r.name, '') AS router_name,
        v.username, v.secret, v.profile, v.status, v.created_at`

// VoucherUsernamesExist returns the subset of usernames already issued to the tenant.
func (r *Repository) VoucherUsernamesExist(ctx context.Context, tenantID string, usernames []string) (map[string]bool, error) {
	found := []string{}
	query := `SELECT username FROM vouchers WHERE tenant_id = $1 AND username = ANY($2)`
	if err := r.db.SelectContext(ctx, &found, query, tenantID, pq.Array(usernames)); err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(found))
	for _, u := range found {
		exists[u] = true
	}
	return exists, nil
}

// InsertVouchers stores the batch atomically. A uniqueness violation on any
// row rolls back the whole batch and is reported as ErrConflict.
func (r *Repository) InsertVouchers(ctx context.Context, vouchers []*Voucher) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO vouchers (
            id, tenant_id, router_id, username, secret, profile, status, created_at
        ) VALUES (
            :id, :tenant_id, :router_id, :username, :secret, :profile, :status, :created_at
        )`

	for _, v := range vouchers {
		sealed, err := r.sealer.Seal(v.Secret)
		if err != nil {
			return err
		}
		row := *v
		row.Secret = sealed
		if _, err := tx.NamedExecContext(ctx, query, &row); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("voucher %s: %w", v.Username, ErrConflict)
			}
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) selectVouchers(ctx context.Context, query string, args ...interface{}) ([]*Voucher, error) {
	vouchers := []*Voucher{}
	if err := r.db.SelectContext(ctx, &vouchers, query, args...); err != nil {
		return nil, err
	}
	for _, v := range vouchers {
		plain, err := r.sealer.Open(v.Secret)
		if err != nil {
			return nil, fmt.Errorf("voucher %s: %w", v.ID, err)
		}
		v.Secret = plain
	}
	return vouchers, nil
}

func (r *Repository) ListVouchers(ctx context.Context, tenantID, routerID string) ([]*Voucher, error) {
	if routerID != "" {
		if !validID(routerID) {
			return []*Voucher{}, nil
		}
		query := `SELECT ` + voucherColumns + ` FROM vouchers v
            LEFT JOIN routers r ON r.id = v.router_id
            WHERE v.tenant_id = $1 AND v.router_id = $2
            ORDER BY v.created_at DESC, v.username`
		return r.selectVouchers(ctx, query, tenantID, routerID)
	}

	query := `SELECT ` + voucherColumns + ` FROM vouchers v
        LEFT JOIN routers r ON r.id = v.router_id
        WHERE v.tenant_id = $1
        ORDER BY v.created_at DESC, v.username`
	return r.selectVouchers(ctx, query, tenantID)
}

// GetVouchersByIDs returns the tenant's vouchers among ids, ignoring unknown ones.
func (r *Repository) GetVouchersByIDs(ctx context.Context, tenantID string, ids []string) ([]*Voucher, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []*Voucher{}, nil
	}

	query := `SELECT ` + voucherColumns + ` FROM vouchers v
        LEFT JOIN routers r ON r.id = v.router_id
        WHERE v.tenant_id = $1 AND v.id = ANY($2::uuid[])
        ORDER BY v.created_at, v.username`
	return r.selectVouchers(ctx, query, tenantID, pq.Array(valid))
}

func (r *Repository) DeleteVoucher(ctx context.Context, id, tenantID string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM vouchers WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *Repository) Overview(ctx context.Context, tenantID string) (*Overview, error) {
	var routers, vouchers []StatusCount

	err := r.db.SelectContext(ctx, &routers,
		`SELECT status, COUNT(*) AS count FROM routers WHERE tenant_id = $1 GROUP BY status`, tenantID)
	if err != nil {
		return nil, err
	}
	err = r.db.SelectContext(ctx, &vouchers,
		`SELECT status, COUNT(*) AS count FROM vouchers WHERE tenant_id = $1 GROUP BY status`, tenantID)
	if err != nil {
		return nil, err
	}

	return newOverview(routers, vouchers), nil
}

func newOverview(routers, vouchers []StatusCount) *Overview {
	o := &Overview{
		Routers: map[string]int{
			string(RouterOnline): 0, string(RouterOffline): 0, string(RouterUnknown): 0, "total": 0,
		},
		Vouchers: map[string]int{
			string(VoucherActive): 0, string(VoucherUsed): 0, string(VoucherRevoked): 0, "total": 0,
		},
	}
	for _, c := range routers {
		o.Routers[c.Status] += c.Count
		o.Routers["total"] += c.Count
	}
	for _, c := range vouchers {
		o.Vouchers[c.Status] += c.Count
		o.Vouchers["total"] += c.Count
	}
	return o
}
