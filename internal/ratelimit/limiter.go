// Package ratelimit implements the sliding-window admission check that
// protects the upstream inference quota. Windows live in the shared store so
// every instance counts against the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"insightgraph/internal/kvstore"
)

const (
	keyPrefixIdentity = "rate:ip:"
	keyGlobal         = "rate:global"

	// ScopeIdentity and ScopeGlobal name the window that produced a denial.
	ScopeIdentity = "ip"
	ScopeGlobal   = "global"
)

// Window is one (limit, duration) budget.
type Window struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // set when denied
	Scope      string        // which window denied: "ip" or "global"
}

// DeniedError surfaces a denial to callers that want an error value.
type DeniedError struct {
	RetryAfter time.Duration
	Scope      string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s), retry after %s", e.Scope, e.RetryAfter)
}

// Limiter checks a per-identity window and a global window on every
// admission. The identity window records every request, admitted or not, so
// forcing downstream errors cannot bypass the limiter; the global window only
// records requests that passed the identity check, so one abusive identity
// cannot starve the shared budget.
type Limiter struct {
	store    kvstore.Store
	perID    Window
	global   Window
	failOpen bool

	now func() time.Time // injectable for tests
}

// New builds a Limiter. failOpen admits traffic while the shared store is
// unreachable; the default for quota-protected deployments is false (deny).
func New(store kvstore.Store, perID, global Window, failOpen bool) *Limiter {
	if failOpen {
		log.Printf("[RateLimit] store failures FAIL OPEN: traffic is admitted while the store is down")
	}
	return &Limiter{
		store:    store,
		perID:    perID,
		global:   global,
		failOpen: failOpen,
		now:      time.Now,
	}
}

// Admit checks the identity window, then the global window. The request is
// denied if either is over budget; the retry hint is the time until the
// denying window's oldest timestamp slides out.
func (l *Limiter) Admit(ctx context.Context, identity string) Decision {
	now := l.now()

	dec, err := l.check(ctx, keyPrefixIdentity+identity, l.perID, ScopeIdentity, now)
	if err != nil {
		return l.storeFailure(err)
	}
	if !dec.Allowed {
		return dec
	}
	dec, err = l.check(ctx, keyGlobal, l.global, ScopeGlobal, now)
	if err != nil {
		return l.storeFailure(err)
	}
	return dec
}

// AdmitGlobal re-checks only the global window. Workers call this before
// every upstream call, because a queued job may execute long after the
// admission-path decision that let it in.
func (l *Limiter) AdmitGlobal(ctx context.Context) Decision {
	dec, err := l.check(ctx, keyGlobal, l.global, ScopeGlobal, l.now())
	if err != nil {
		return l.storeFailure(err)
	}
	return dec
}

func (l *Limiter) check(ctx context.Context, key string, w Window, scope string, now time.Time) (Decision, error) {
	count, oldest, err := l.store.RecordAndCount(ctx, key, now, w.Window)
	if err != nil {
		return Decision{}, err
	}
	if count <= int64(w.Limit) {
		return Decision{Allowed: true}, nil
	}
	retry := oldest.Add(w.Window).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{RetryAfter: retry, Scope: scope}, nil
}

func (l *Limiter) storeFailure(err error) Decision {
	if l.failOpen {
		log.Printf("[RateLimit] store unreachable, failing open: %v", err)
		return Decision{Allowed: true}
	}
	log.Printf("[RateLimit] store unreachable, failing closed: %v", err)
	// Without window state there is no real hint; the identity window length
	// is the honest upper bound.
	return Decision{RetryAfter: l.perID.Window, Scope: ScopeIdentity}
}
