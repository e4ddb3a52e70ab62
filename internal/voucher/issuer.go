package voucher

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/routerfleet/internal/config"
	"github.com/leozw/routerfleet/internal/db"
	"github.com/leozw/routerfleet/internal/metrics"
)

const (
	DefaultProfile   = "default"
	maxProfileLength = 64

	usernameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	// no 0/o, 1/l/i: these get misread off printed vouchers
	secretAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"
	usernameRandom = 6
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("could not generate unique voucher usernames")
)

type Store interface {
	GetRouter(ctx context.Context, id, tenantID string) (*db.Router, error)
	VoucherUsernamesExist(ctx context.Context, tenantID string, usernames []string) (map[string]bool, error)
	InsertVouchers(ctx context.Context, vouchers []*db.Voucher) error
}

type IssueRequest struct {
	TenantID string
	RouterID string
	Profile  string
	Count    int
}

// Issuer creates batches of unique vouchers for one router. A batch is
// persisted completely or not at all.
type Issuer struct {
	store   Store
	cfg     config.VoucherConfig
	metrics *metrics.Collector
	logger  *zap.Logger
	random  io.Reader
	now     func() time.Time
}

func NewIssuer(cfg config.VoucherConfig, store Store, m *metrics.Collector, logger *zap.Logger) *Issuer {
	return &Issuer{
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(zap.String("component", "voucher_issuer")),
		random:  rand.Reader,
		now:     time.Now,
	}
}

func (i *Issuer) validate(req *IssueRequest) error {
	if req.Count < 1 || req.Count > i.cfg.MaxCount {
		return fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidArgument, i.cfg.MaxCount)
	}
	req.Profile = strings.TrimSpace(req.Profile)
	if req.Profile == "" {
		req.Profile = DefaultProfile
	}
	if len(req.Profile) > maxProfileLength {
		return fmt.Errorf("%w: profile longer than %d characters", ErrInvalidArgument, maxProfileLength)
	}
	if strings.IndexFunc(req.Profile, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: profile contains control characters", ErrInvalidArgument)
	}
	if req.RouterID == "" {
		return fmt.Errorf("%w: router_id is required", ErrInvalidArgument)
	}
	return nil
}

func (i *Issuer) Issue(ctx context.Context, req IssueRequest) ([]*db.Voucher, error) {
	if err := i.validate(&req); err != nil {
		return nil, err
	}

	// fail fast: nothing is generated for a router outside the tenant
	if _, err := i.store.GetRouter(ctx, req.RouterID, req.TenantID); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= i.cfg.MaxAttempts; attempt++ {
		batch, err := i.generate(ctx, req)
		if err != nil {
			return nil, err
		}

		err = i.store.InsertVouchers(ctx, batch)
		if err == nil {
			i.metrics.RecordVouchersIssued(req.TenantID, req.Profile, len(batch))
			i.logger.Info("Vouchers issued",
				zap.String("tenant_id", req.TenantID),
				zap.String("router_id", req.RouterID),
				zap.String("profile", req.Profile),
				zap.Int("count", len(batch)),
			)
			return batch, nil
		}
		if !errors.Is(err, db.ErrConflict) {
			return nil, fmt.Errorf("store vouchers: %w", err)
		}

		// another issuance took one of our names between check and insert
		i.metrics.RecordVoucherCollision()
		i.logger.Warn("Voucher batch collided on insert, regenerating",
			zap.String("tenant_id", req.TenantID),
			zap.Int("attempt", attempt),
		)
	}
	return nil, ErrConflict
}

// generate builds count vouchers whose usernames are unique within the batch
// and not yet issued to the tenant.
func (i *Issuer) generate(ctx context.Context, req IssueRequest) ([]*db.Voucher, error) {
	usernames := make([]string, req.Count)
	taken := make(map[string]bool, req.Count)

	for round := 0; round < i.cfg.MaxAttempts; round++ {
		var fresh []string
		for n := range usernames {
			if usernames[n] != "" {
				continue
			}
			u, err := i.newUsername()
			if err != nil {
				return nil, err
			}
			if taken[u] {
				i.metrics.RecordVoucherCollision()
				continue
			}
			taken[u] = true
			usernames[n] = u
			fresh = append(fresh, u)
		}

		if len(fresh) > 0 {
			exists, err := i.store.VoucherUsernamesExist(ctx, req.TenantID, fresh)
			if err != nil {
				return nil, fmt.Errorf("check voucher usernames: %w", err)
			}
			for n, u := range usernames {
				if exists[u] {
					i.metrics.RecordVoucherCollision()
					usernames[n] = ""
				}
			}
		}

		if complete(usernames) {
			return i.build(req, usernames)
		}
	}
	return nil, ErrConflict
}

func complete(usernames []string) bool {
	for _, u := range usernames {
		if u == "" {
			return false
		}
	}
	return true
}

func (i *Issuer) build(req IssueRequest, usernames []string) ([]*db.Voucher, error) {
	now := i.now().UTC()
	batch := make([]*db.Voucher, len(usernames))
	for n, u := range usernames {
		secret, err := randomString(i.random, secretAlphabet, i.cfg.SecretLength)
		if err != nil {
			return nil, err
		}
		batch[n] = &db.Voucher{
			ID:        uuid.New().String(),
			TenantID:  req.TenantID,
			RouterID:  req.RouterID,
			Username:  u,
			Secret:    secret,
			Profile:   req.Profile,
			Status:    db.VoucherActive,
			CreatedAt: now,
		}
	}
	return batch, nil
}

// newUsername is prefix + the last 4 base36 digits of the millisecond clock
// + 6 random characters.
func (i *Issuer) newUsername() (string, error) {
	ts := strconv.FormatInt(i.now().UnixMilli(), 36)
	if len(ts) > 4 {
		ts = ts[len(ts)-4:]
	}
	suffix, err := randomString(i.random, usernameAlphabet, usernameRandom)
	if err != nil {
		return "", err
	}
	return i.cfg.UsernamePrefix + ts + suffix, nil
}

// randomString draws n characters from alphabet with rejection sampling so
// every character is equally likely.
func randomString(r io.Reader, alphabet string, n int) (string, error) {
	limit := 256 - 256%len(alphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
