package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type RouterStatus string

const (
	RouterOnline  RouterStatus = "online"
	RouterOffline RouterStatus = "offline"
	RouterUnknown RouterStatus = "unknown"
)

type VoucherStatus string

const (
	VoucherActive  VoucherStatus = "active"
	VoucherUsed    VoucherStatus = "used"
	VoucherRevoked VoucherStatus = "revoked"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Router is a managed device. Status and LastSeenAt are observed state and are
// only written through SetRouterStatus.
type Router struct {
	ID         string       `json:"id" db:"id"`
	TenantID   string       `json:"-" db:"tenant_id"`
	Name       string       `json:"name" db:"name"`
	Host       string       `json:"host" db:"host"`
	Port       int          `json:"port" db:"port"`
	UseTLS     bool         `json:"use_tls" db:"use_tls"`
	Username   string       `json:"username" db:"username"`
	Secret     string       `json:"-" db:"secret"`
	Status     RouterStatus `json:"status" db:"status"`
	LastSeenAt *time.Time   `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
}

// ConfigSnapshot is one immutable aggregate of a router's configuration facets.
type ConfigSnapshot struct {
	ID        string     `json:"id" db:"id"`
	RouterID  string     `json:"router_id" db:"router_id"`
	TenantID  string     `json:"-" db:"tenant_id"`
	Config    JSONB      `json:"config" db:"config_data"`
	Facets    FacetStats `json:"facets" db:"facets"`
	Complete  bool       `json:"complete" db:"complete"`
	FetchedAt time.Time  `json:"fetched_at" db:"fetched_at"`
}

// FacetStat records whether one facet of a snapshot was fetched.
type FacetStat struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Status int    `json:"status,omitempty"`
}

type FacetStats map[string]FacetStat

type Voucher struct {
	ID         string        `json:"id" db:"id"`
	TenantID   string        `json:"-" db:"tenant_id"`
	RouterID   string        `json:"router_id" db:"router_id"`
	RouterName string        `json:"router_name,omitempty" db:"router_name"`
	Username   string        `json:"username" db:"username"`
	Secret     string        `json:"password" db:"secret"`
	Profile    string        `json:"profile" db:"profile"`
	Status     VoucherStatus `json:"status" db:"status"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

type StatusCount struct {
	Status string `json:"status" db:"status"`
	Count  int    `json:"count" db:"count"`
}

type Overview struct {
	Routers  map[string]int `json:"routers"`
	Vouchers map[string]int `json:"vouchers"`
}

// JSONB stores an arbitrary JSON document per facet key.
type JSONB map[string]json.RawMessage

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = JSONB{}
		return nil
	}
	b, err := asBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, j)
}

func (f FacetStats) Value() (driver.Value, error) {
	return json.Marshal(f)
}

func (f *FacetStats) Scan(value interface{}) error {
	if value == nil {
		*f = FacetStats{}
		return nil
	}
	b, err := asBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, f)
}

func asBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported jsonb source %T", value)
	}
}
