package rbac

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// PrincipalStore loads principals by user ID.
type PrincipalStore interface {
	PrincipalByID(ctx context.Context, userID int64) (Principal, error)
}

// PrincipalResolver maps user IDs to principals through a bounded, expiring
// cache. Role changes must call Invalidate.
type PrincipalResolver struct {
	store PrincipalStore
	cache *expirable.LRU[int64, Principal]
	group singleflight.Group

	mu sync.Mutex
	// gen advances on every invalidation; loads that started under an older
	// generation are returned but not cached.
	gen uint64
}

// NewPrincipalResolver builds a resolver caching up to size principals for ttl.
func NewPrincipalResolver(store PrincipalStore, size int, ttl time.Duration) *PrincipalResolver {
	if size <= 0 {
		size = 1024
	}
	return &PrincipalResolver{
		store: store,
		cache: expirable.NewLRU[int64, Principal](size, nil, ttl),
	}
}

// Resolve returns the active principal for userID. Inactive or missing users
// yield ErrNotFound.
func (r *PrincipalResolver) Resolve(ctx context.Context, userID int64) (Principal, error) {
	if userID <= 0 {
		return Principal{}, ErrNotFound
	}
	if p, ok := r.cache.Get(userID); ok {
		return p, nil
	}
	v, err, _ := r.group.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		r.mu.Lock()
		gen := r.gen
		r.mu.Unlock()

		p, err := r.store.PrincipalByID(ctx, userID)
		if err != nil {
			return Principal{}, err
		}
		if !p.Active {
			return Principal{}, ErrNotFound
		}
		r.mu.Lock()
		if r.gen == gen {
			r.cache.Add(userID, p)
		}
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrNotFound
		}
		return Principal{}, err
	}
	return v.(Principal), nil
}

// Invalidate drops the cached principal for userID. Loads already in flight
// are not cached and later callers start a fresh load.
func (r *PrincipalResolver) Invalidate(userID int64) {
	r.mu.Lock()
	r.gen++
	r.cache.Remove(userID)
	r.mu.Unlock()
	r.group.Forget(strconv.FormatInt(userID, 10))
}

// Purge drops every cached principal.
func (r *PrincipalResolver) Purge() {
	r.mu.Lock()
	r.gen++
	r.cache.Purge()
	r.mu.Unlock()
}
