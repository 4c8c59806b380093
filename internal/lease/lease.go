// Package lease provides exclusive, expiring locks keyed by logical playlist identity.
//
// A sync session holds the lease for its whole lifecycle. If the holder dies without
// releasing, the lease expires and another session may take it over.
package lease

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/audioarchitect/internal/shared"
)

// Lease is a held lock. Its zero value is not usable; obtain one from [Manager.Acquire].
type Lease struct {
	Key       string
	Owner     string
	ExpiresAt time.Time
	token     uint64
}

// Manager hands out leases. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	leases map[string]*Lease
	next   uint64
	now    func() time.Time
}

// Option configures a [Manager].
type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty lease table.
func NewManager(opts ...Option) *Manager {
	m := &Manager{leases: make(map[string]*Lease), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire takes the lease on key for ttl.
//
// Fails with [shared.ErrLeaseHeld] while another owner holds an unexpired lease. Acquiring a
// key the same owner already holds extends it.
func (m *Manager) Acquire(key, owner string, ttl time.Duration) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, ok := m.leases[key]; ok && now.Before(cur.ExpiresAt) && cur.Owner != owner {
		return nil, fmt.Errorf("%w: %s held by %s until %s", shared.ErrLeaseHeld, key, cur.Owner, cur.ExpiresAt.Format(time.RFC3339))
	}

	m.next++
	l := &Lease{Key: key, Owner: owner, ExpiresAt: now.Add(ttl), token: m.next}
	m.leases[key] = l
	return l.copy(), nil
}

// AcquireAll takes every key or none, in sorted order.
func (m *Manager) AcquireAll(keys []string, owner string, ttl time.Duration) ([]*Lease, error) {
	held := make([]*Lease, 0, len(keys))
	for _, key := range sortedUnique(keys) {
		l, err := m.Acquire(key, owner, ttl)
		if err != nil {
			for _, h := range held {
				m.Release(h)
			}
			return nil, err
		}
		held = append(held, l)
	}
	return held, nil
}

// Renew extends l by ttl. Fails with [shared.ErrLeaseLost] if l expired or was taken over.
func (m *Manager) Renew(l *Lease, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.leases[l.Key]
	now := m.now()
	if !ok || cur.token != l.token || !now.Before(cur.ExpiresAt) {
		return fmt.Errorf("%w: %s", shared.ErrLeaseLost, l.Key)
	}
	cur.ExpiresAt = now.Add(ttl)
	l.ExpiresAt = cur.ExpiresAt
	return nil
}

// Release drops l. Releasing a lease that was already lost is a no-op.
func (m *Manager) Release(l *Lease) {
	if l == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.leases[l.Key]; ok && cur.token == l.token {
		delete(m.leases, l.Key)
	}
}

// Sweep removes expired leases and returns how many were dropped.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int
	for key, l := range m.leases {
		if !now.Before(l.ExpiresAt) {
			delete(m.leases, key)
			n++
		}
	}
	return n
}

// RunSweeper calls [Manager.Sweep] every interval until ctx is done, so leases left behind by
// sessions that died without releasing do not accumulate.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				logger.Debug("swept expired leases", "count", n)
			}
		}
	}
}

func (l *Lease) copy() *Lease {
	c := *l
	return &c
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
