package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process store with the same semantics as
// Repository. It backs --store=memory and the tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	routers   map[string]*Router
	snapshots []*ConfigSnapshot
	vouchers  map[string]*Voucher
	usernames map[string]string // tenant_id + "/" + username -> voucher id
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		routers:   make(map[string]*Router),
		vouchers:  make(map[string]*Voucher),
		usernames: make(map[string]string),
	}
}

func (m *MemoryRepository) Ping(context.Context) error { return nil }

func copyRouter(r *Router) *Router {
	c := *r
	if r.LastSeenAt != nil {
		t := *r.LastSeenAt
		c.LastSeenAt = &t
	}
	return &c
}

func copySnapshot(s *ConfigSnapshot) *ConfigSnapshot {
	c := *s
	if s.Config != nil {
		c.Config = make(JSONB, len(s.Config))
		for k, v := range s.Config {
			c.Config[k] = append(json.RawMessage(nil), v...)
		}
	}
	if s.Facets != nil {
		c.Facets = make(FacetStats, len(s.Facets))
		for k, v := range s.Facets {
			c.Facets[k] = v
		}
	}
	return &c
}

func (m *MemoryRepository) CreateRouter(_ context.Context, router *Router) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.routers[router.ID]; ok {
		return fmt.Errorf("router %s: %w", router.ID, ErrConflict)
	}
	m.routers[router.ID] = copyRouter(router)
	return nil
}

func (m *MemoryRepository) GetRouter(_ context.Context, id, tenantID string) (*Router, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.routers[id]
	if !ok || r.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return copyRouter(r), nil
}

func (m *MemoryRepository) listRouters(match func(*Router) bool) []*Router {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Router{}
	for _, r := range m.routers {
		if match(r) {
			out = append(out, copyRouter(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryRepository) ListRouters(_ context.Context, tenantID string) ([]*Router, error) {
	return m.listRouters(func(r *Router) bool { return r.TenantID == tenantID }), nil
}

func (m *MemoryRepository) ListAllRouters(context.Context) ([]*Router, error) {
	return m.listRouters(func(*Router) bool { return true }), nil
}

func (m *MemoryRepository) UpdateRouter(_ context.Context, router *Router) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.routers[router.ID]
	if !ok || cur.TenantID != router.TenantID {
		return ErrNotFound
	}
	cur.Name = router.Name
	cur.Host = router.Host
	cur.Port = router.Port
	cur.UseTLS = router.UseTLS
	cur.Username = router.Username
	cur.Secret = router.Secret
	cur.UpdatedAt = router.UpdatedAt
	return nil
}

func (m *MemoryRepository) DeleteRouter(_ context.Context, id, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.routers[id]
	if !ok || r.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.routers, id)

	kept := m.snapshots[:0]
	for _, s := range m.snapshots {
		if s.RouterID != id {
			kept = append(kept, s)
		}
	}
	m.snapshots = kept

	for vid, v := range m.vouchers {
		if v.RouterID == id {
			delete(m.usernames, v.TenantID+"/"+v.Username)
			delete(m.vouchers, vid)
		}
	}
	return nil
}

func (m *MemoryRepository) SetRouterStatus(_ context.Context, id string, status RouterStatus, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.routers[id]
	if !ok {
		return ErrNotFound
	}
	t := seenAt
	r.Status = status
	r.LastSeenAt = &t
	return nil
}

func (m *MemoryRepository) InsertSnapshot(_ context.Context, s *ConfigSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots = append(m.snapshots, copySnapshot(s))
	return nil
}

func (m *MemoryRepository) ListSnapshots(_ context.Context, routerID, tenantID string, limit int) ([]*ConfigSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*ConfigSnapshot{}
	for i := len(m.snapshots) - 1; i >= 0 && len(out) < limit; i-- {
		s := m.snapshots[i]
		if s.RouterID == routerID && s.TenantID == tenantID {
			out = append(out, copySnapshot(s))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FetchedAt.After(out[j].FetchedAt) })
	return out, nil
}

func (m *MemoryRepository) VoucherUsernamesExist(_ context.Context, tenantID string, usernames []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exists := make(map[string]bool)
	for _, u := range usernames {
		if _, ok := m.usernames[tenantID+"/"+u]; ok {
			exists[u] = true
		}
	}
	return exists, nil
}

func (m *MemoryRepository) InsertVouchers(_ context.Context, vouchers []*Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(vouchers))
	for _, v := range vouchers {
		key := v.TenantID + "/" + v.Username
		if _, ok := m.usernames[key]; ok || seen[key] {
			return fmt.Errorf("voucher %s: %w", v.Username, ErrConflict)
		}
		seen[key] = true
	}
	for _, v := range vouchers {
		c := *v
		m.vouchers[v.ID] = &c
		m.usernames[v.TenantID+"/"+v.Username] = v.ID
	}
	return nil
}

func (m *MemoryRepository) withRouterName(v *Voucher) *Voucher {
	c := *v
	if r, ok := m.routers[v.RouterID]; ok {
		c.RouterName = r.Name
	}
	return &c
}

func (m *MemoryRepository) ListVouchers(_ context.Context, tenantID, routerID string) ([]*Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Voucher{}
	for _, v := range m.vouchers {
		if v.TenantID != tenantID || (routerID != "" && v.RouterID != routerID) {
			continue
		}
		out = append(out, m.withRouterName(v))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Username < out[j].Username
	})
	return out, nil
}

func (m *MemoryRepository) GetVouchersByIDs(_ context.Context, tenantID string, ids []string) ([]*Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Voucher{}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		v, ok := m.vouchers[id]
		if !ok || v.TenantID != tenantID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, m.withRouterName(v))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Username < out[j].Username
	})
	return out, nil
}

func (m *MemoryRepository) DeleteVoucher(_ context.Context, id, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vouchers[id]
	if !ok || v.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.vouchers, id)
	delete(m.usernames, v.TenantID+"/"+v.Username)
	return nil
}

func (m *MemoryRepository) Overview(_ context.Context, tenantID string) (*Overview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	routerCounts := map[string]int{}
	for _, r := range m.routers {
		if r.TenantID == tenantID {
			routerCounts[string(r.Status)]++
		}
	}
	voucherCounts := map[string]int{}
	for _, v := range m.vouchers {
		if v.TenantID == tenantID {
			voucherCounts[string(v.Status)]++
		}
	}
	return newOverview(toCounts(routerCounts), toCounts(voucherCounts)), nil
}

func toCounts(m map[string]int) []StatusCount {
	out := make([]StatusCount, 0, len(m))
	for status, n := range m {
		out = append(out, StatusCount{Status: status, Count: n})
	}
	return out
}
