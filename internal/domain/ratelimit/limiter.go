package ratelimit

import (
	"context"
	"time"
)

// Store is the storage port for fixed-window counters. Implementations must
// make Incr atomic with respect to concurrent callers sharing the same key,
// since the limiter relies on the returned count (not a local read-modify-
// write) to decide admission.
//
// The in-process MemoryStore and the Redis-backed RedisStore in the
// ratelimitstore adapter package both satisfy this interface; the Limiter
// itself is storage-agnostic.
type Store interface {
	// Incr atomically increments the counter at key and returns its new
	// value together with the counter's remaining time-to-live. If key did
	// not exist, the store must create it with TTL set to window and
	// report the returned ttl as window (not the sentinel for "no expiry").
	//
	// A ttl of exactly -1 signals "key exists with no expiry set" (can
	// happen if a previous Incr raced the EXPIRE call); callers must
	// recover using SetExpire.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)

	// SetExpire sets the TTL of key to window if the key has no TTL. It is
	// a best-effort repair operation and is safe to call redundantly.
	SetExpire(ctx context.Context, key string, window time.Duration) error

	// Peek reports key's current count and remaining TTL without
	// incrementing it. A key that does not exist reports count 0, ttl 0.
	Peek(ctx context.Context, key string) (count int64, ttl time.Duration, err error)

	// Reset clears the counter at key immediately, so a fresh window
	// starts on the next Incr.
	Reset(ctx context.Context, key string) error
}

// Limiter evaluates the three-tier cascade: global, then caller, then key.
// Each tier is independently configured; a tier with a zero Limit is
// treated as disabled and always admits.
type Limiter struct {
	store  Store
	global Config
	caller Config
	key    Config
}

// New returns a Limiter backed by store with the given per-tier configs.
func New(store Store, global, caller, key Config) *Limiter {
	return &Limiter{store: store, global: global, caller: caller, key: key}
}

// Check runs the cascade for one admitted request. callerID identifies the
// caller tier (typically a digested IP); keyID identifies the key tier and
// may be empty when the request carried no API key, in which case the key
// tier is skipped entirely.
//
// On a Store error, Check fails open: the tier is treated as allowed and
// the error is returned alongside an Allowed decision so the caller can log
// it without blocking traffic on a degraded counter store.
func (l *Limiter) Check(ctx context.Context, callerID, keyID string) (Decision, error) {
	var lastErr error
	last := Decision{Allowed: true}

	if d, err, deny, evaluated := l.checkTier(ctx, TierGlobal, FormatKey(TierGlobal, "all"), l.global); deny {
		return d, err
	} else if err != nil {
		lastErr = err
	} else if evaluated {
		last = d
	}

	if d, err, deny, evaluated := l.checkTier(ctx, TierCaller, FormatKey(TierCaller, callerID), l.caller); deny {
		return d, err
	} else if err != nil {
		lastErr = err
	} else if evaluated {
		last = d
	}

	if keyID != "" {
		if d, err, deny, evaluated := l.checkTier(ctx, TierKey, FormatKey(TierKey, keyID), l.key); deny {
			return d, err
		} else if err != nil {
			lastErr = err
		} else if evaluated {
			last = d
		}
	}

	return last, lastErr
}

// checkTier evaluates a single tier. deny is true only when the tier
// produced a definitive denial (store succeeded and the limit was
// exceeded); callers must stop the cascade in that case. When err is
// non-nil the tier failed open and the cascade should continue to the next
// tier rather than treat it as a denial. evaluated is false when the tier
// is disabled (cfg.Limit<=0) or failed open, so callers can tell "this
// tier had nothing to report" from "this tier allowed the request" when
// deciding which Decision to surface.
func (l *Limiter) checkTier(ctx context.Context, tier Tier, key string, cfg Config) (d Decision, err error, deny, evaluated bool) {
	if cfg.Limit <= 0 {
		return Decision{Allowed: true}, nil, false, false
	}

	count, ttl, storeErr := l.store.Incr(ctx, key, cfg.Window)
	if storeErr != nil {
		return Decision{Allowed: true}, storeErr, false, false
	}
	if ttl == -1 {
		_ = l.store.SetExpire(ctx, key, cfg.Window)
		ttl = cfg.Window
	}

	remaining := cfg.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	reset := time.Now().Add(ttl)

	if count > int64(cfg.Limit) {
		return Decision{
			Allowed:    false,
			Tier:       tier,
			Limit:      cfg.Limit,
			Remaining:  0,
			RetryAfter: ttl,
			Reset:      reset,
		}, nil, true, true
	}

	return Decision{
		Allowed:   true,
		Tier:      tier,
		Limit:     cfg.Limit,
		Remaining: remaining,
		Reset:     reset,
	}, nil, false, true
}

// Status reports the current state of a single tier's counter for
// identifier without admitting a request, for administrative inspection.
// A disabled tier (Limit<=0) always reports Allowed with no Limit set.
func (l *Limiter) Status(ctx context.Context, tier Tier, identifier string) (Decision, error) {
	cfg := l.configFor(tier)
	if cfg.Limit <= 0 {
		return Decision{Allowed: true, Tier: tier}, nil
	}

	count, ttl, err := l.store.Peek(ctx, FormatKey(tier, identifier))
	if err != nil {
		return Decision{}, err
	}

	remaining := cfg.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(cfg.Limit),
		Tier:      tier,
		Limit:     cfg.Limit,
		Remaining: remaining,
		Reset:     time.Now().Add(ttl),
	}, nil
}

// Reset clears the counter for tier+identifier immediately, letting an
// operator lift a block without waiting for the window to expire.
func (l *Limiter) Reset(ctx context.Context, tier Tier, identifier string) error {
	return l.store.Reset(ctx, FormatKey(tier, identifier))
}

func (l *Limiter) configFor(tier Tier) Config {
	switch tier {
	case TierGlobal:
		return l.global
	case TierCaller:
		return l.caller
	case TierKey:
		return l.key
	default:
		return Config{}
	}
}
