package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func seedRouter(t *testing.T, m *MemoryRepository, id, tenant string) *Router {
	t.Helper()
	r := &Router{
		ID: id, TenantID: tenant, Name: "r-" + id, Host: "10.0.0.1", Port: 80,
		Username: "admin", Secret: "pw", Status: RouterUnknown, CreatedAt: time.Now(),
	}
	if err := m.CreateRouter(context.Background(), r); err != nil {
		t.Fatalf("CreateRouter: %v", err)
	}
	return r
}

func TestMemoryRepository_TenantScoping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryRepository()
	seedRouter(t, m, "r1", "tenant-a")

	if _, err := m.GetRouter(ctx, "r1", "tenant-b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant get err=%v", err)
	}
	if err := m.DeleteRouter(ctx, "r1", "tenant-b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant delete err=%v", err)
	}
	upd := &Router{ID: "r1", TenantID: "tenant-b", Name: "stolen"}
	if err := m.UpdateRouter(ctx, upd); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant update err=%v", err)
	}
	r, err := m.GetRouter(ctx, "r1", "tenant-a")
	if err != nil {
		t.Fatalf("GetRouter: %v", err)
	}
	if r.Name != "r-r1" {
		t.Fatalf("router modified: %+v", r)
	}
}

func TestMemoryRepository_UpdateRouterKeepsObservedState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryRepository()
	seedRouter(t, m, "r1", "t")

	seen := time.Now()
	if err := m.SetRouterStatus(ctx, "r1", RouterOnline, seen); err != nil {
		t.Fatalf("SetRouterStatus: %v", err)
	}
	upd := &Router{ID: "r1", TenantID: "t", Name: "renamed", Status: RouterOffline}
	if err := m.UpdateRouter(ctx, upd); err != nil {
		t.Fatalf("UpdateRouter: %v", err)
	}
	r, _ := m.GetRouter(ctx, "r1", "t")
	if r.Status != RouterOnline || r.LastSeenAt == nil || !r.LastSeenAt.Equal(seen) {
		t.Fatalf("observed state changed by edit: %+v", r)
	}
}

func TestMemoryRepository_InsertVouchersAllOrNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryRepository()
	seedRouter(t, m, "r1", "t")

	first := []*Voucher{{ID: "v1", TenantID: "t", RouterID: "r1", Username: "a", Status: VoucherActive}}
	if err := m.InsertVouchers(ctx, first); err != nil {
		t.Fatalf("InsertVouchers: %v", err)
	}

	batch := []*Voucher{
		{ID: "v2", TenantID: "t", RouterID: "r1", Username: "b"},
		{ID: "v3", TenantID: "t", RouterID: "r1", Username: "a"},
	}
	if err := m.InsertVouchers(ctx, batch); !errors.Is(err, ErrConflict) {
		t.Fatalf("err=%v", err)
	}
	all, _ := m.ListVouchers(ctx, "t", "")
	if len(all) != 1 {
		t.Fatalf("partial batch persisted: %d vouchers", len(all))
	}

	// same username under another tenant is fine
	other := []*Voucher{{ID: "v4", TenantID: "u", RouterID: "r1", Username: "a"}}
	if err := m.InsertVouchers(ctx, other); err != nil {
		t.Fatalf("InsertVouchers other tenant: %v", err)
	}

	exists, _ := m.VoucherUsernamesExist(ctx, "t", []string{"a", "b"})
	if !exists["a"] || exists["b"] {
		t.Fatalf("exists=%v", exists)
	}
}

func TestMemoryRepository_DeleteRouterCascades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryRepository()
	seedRouter(t, m, "r1", "t")

	_ = m.InsertSnapshot(ctx, &ConfigSnapshot{ID: "s1", RouterID: "r1", TenantID: "t", FetchedAt: time.Now()})
	_ = m.InsertVouchers(ctx, []*Voucher{{ID: "v1", TenantID: "t", RouterID: "r1", Username: "a"}})

	if err := m.DeleteRouter(ctx, "r1", "t"); err != nil {
		t.Fatalf("DeleteRouter: %v", err)
	}
	snaps, _ := m.ListSnapshots(ctx, "r1", "t", 10)
	vouchers, _ := m.ListVouchers(ctx, "t", "")
	if len(snaps) != 0 || len(vouchers) != 0 {
		t.Fatalf("cascade failed: %d snapshots, %d vouchers", len(snaps), len(vouchers))
	}
	exists, _ := m.VoucherUsernamesExist(ctx, "t", []string{"a"})
	if exists["a"] {
		t.Fatal("username index not cleaned")
	}
}

func TestMemoryRepository_Overview(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryRepository()
	seedRouter(t, m, "r1", "t")
	seedRouter(t, m, "r2", "t")
	seedRouter(t, m, "r3", "other")
	_ = m.SetRouterStatus(ctx, "r1", RouterOnline, time.Now())
	_ = m.InsertVouchers(ctx, []*Voucher{{ID: "v1", TenantID: "t", RouterID: "r1", Username: "a", Status: VoucherActive}})

	o, err := m.Overview(ctx, "t")
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if o.Routers["total"] != 2 || o.Routers["online"] != 1 || o.Routers["unknown"] != 1 || o.Routers["offline"] != 0 {
		t.Fatalf("routers=%v", o.Routers)
	}
	if o.Vouchers["active"] != 1 || o.Vouchers["total"] != 1 {
		t.Fatalf("vouchers=%v", o.Vouchers)
	}
}

func TestMemoryRepository_SnapshotsAreCopied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryRepository()
	seedRouter(t, m, "r1", "tenant-a")

	snap := &ConfigSnapshot{
		ID: "s1", RouterID: "r1", TenantID: "tenant-a",
		Config:    JSONB{"interfaces": json.RawMessage(`[{"name":"ether1"}]`)},
		Facets:    FacetStats{"interfaces": {OK: true}},
		Complete:  true,
		FetchedAt: time.Now(),
	}
	if err := m.InsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("InsertSnapshot: %v", err)
	}
	snap.Config["interfaces"][2] = 'X'
	snap.Config["routes"] = json.RawMessage(`[]`)
	snap.Facets["interfaces"] = FacetStat{Error: "Unreachable"}

	got, err := m.ListSnapshots(ctx, "r1", "tenant-a", 10)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("snapshots=%d, want 1", len(got))
	}
	if string(got[0].Config["interfaces"]) != `[{"name":"ether1"}]` || len(got[0].Config) != 1 {
		t.Fatalf("stored config changed through caller: %v", got[0].Config)
	}
	if !got[0].Facets["interfaces"].OK {
		t.Fatalf("stored facets changed through caller: %v", got[0].Facets)
	}

	got[0].Config["interfaces"][2] = 'Y'
	got[0].Facets["routes"] = FacetStat{OK: true}
	again, err := m.ListSnapshots(ctx, "r1", "tenant-a", 10)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if string(again[0].Config["interfaces"]) != `[{"name":"ether1"}]` || len(again[0].Facets) != 1 {
		t.Fatalf("stored snapshot changed through a listed copy: %v %v", again[0].Config, again[0].Facets)
	}
}
