package executor

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/toolgateway/composition-core/celx"
	"github.com/toolgateway/composition-core/patterns"
)

// cacheEntry is the stored form of one memoized result.
type cacheEntry struct {
	Value       any   `json:"value"`
	CreatedAtMS int64 `json:"createdAtMs"`
	TTLSeconds  int64 `json:"ttlSeconds"`
}

// runCache memoizes c.Inner's result keyed by c.KeyPaths evaluated against
// the input. Within TTL the stored value is returned; past
// TTL but within the stale-while-revalidate window the stale value is
// returned; otherwise the inner operation runs and, if cache_if passes (or
// is absent), the result is stored. Store read failures are cache misses
// and store write failures never mask a successful result.
func (e *Executor) runCache(ctx context.Context, ec *ExecutionContext, c *patterns.Cache) (any, error) {
	key, err := cacheKey(ec.Input, c.KeyPaths)
	if err != nil {
		return nil, err
	}
	now := e.now()

	if raw, err := e.states.Get(ctx, key); err == nil {
		var entry cacheEntry
		if json.Unmarshal(raw, &entry) == nil {
			age := now.UnixMilli() - entry.CreatedAtMS
			ttlMS := entry.TTLSeconds * 1000
			swrMS := c.StaleWhileRevalidateSeconds * 1000
			if age <= ttlMS {
				return entry.Value, nil
			}
			if age <= ttlMS+swrMS {
				// Stale hit: serve the old value. A background refresh is
				// permitted but not required; serving stale
				// without one keeps the pattern free of orphan goroutines.
				return entry.Value, nil
			}
		}
	}

	out, err := e.dispatch(ctx, ec.Child(ec.Input), c.Inner)
	if err != nil {
		return nil, err
	}

	if c.CacheIf != "" {
		prog, cerr := compileCached(c.CacheIf)
		if cerr != nil {
			return nil, errPredicate(cerr.Error())
		}
		ok, perr := prog.EvalBool(celx.Vars{"input": ec.Input, "result": out})
		if perr != nil {
			return nil, errPredicate(perr.Error())
		}
		if !ok {
			return out, nil
		}
	}

	entry := cacheEntry{Value: out, CreatedAtMS: now.UnixMilli(), TTLSeconds: c.TTLSeconds}
	data, merr := json.Marshal(entry)
	if merr == nil {
		// Keep the entry retrievable through the SWR window.
		ttl := time.Duration(c.TTLSeconds+c.StaleWhileRevalidateSeconds) * time.Second
		if serr := e.states.Set(ctx, key, data, &ttl); serr != nil {
			e.log.Warn(ctx, "cache write failed", "key", key, "error", serr)
		}
	}
	return out, nil
}

// cacheKey concatenates each key path's value with ":".
func cacheKey(input any, keyPaths []string) (string, error) {
	parts := make([]string, 0, len(keyPaths)+1)
	parts = append(parts, "cache")
	for _, p := range keyPaths {
		v, err := evalPathOrWhole(input, p)
		if err != nil {
			return "", err
		}
		parts = append(parts, toJSONString(v))
	}
	return strings.Join(parts, ":"), nil
}
