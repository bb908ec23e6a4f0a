package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/toolgateway/composition-core/celx"
	"github.com/toolgateway/composition-core/patterns"
)

// throttleBucket is the persisted per-key limiter state, stored as a
// single struct whose populated fields depend on the strategy.
type throttleBucket struct {
	Timestamps []int64 `json:"timestamps,omitempty"` // sliding window

	Tokens       float64 `json:"tokens"`       // token bucket
	LastRefillMS int64   `json:"lastRefillMs"` // token bucket

	Count         int   `json:"count"`         // fixed window
	WindowStartMS int64 `json:"windowStartMs"` // fixed window

	Level       float64 `json:"level"`       // leaky bucket
	LastDrainMS int64   `json:"lastDrainMs"` // leaky bucket

	initialized bool
}

// runThrottle rate-limits th.Inner per key using the configured strategy.
// on_exceeded=reject surfaces a RateLimited error;
// on_exceeded=wait sleeps until the next admission time and retries the
// admission check. Bucket updates are serialized by a per-key mutex
// and a store read failure admits the call.
func (e *Executor) runThrottle(ctx context.Context, ec *ExecutionContext, th *patterns.Throttle) (any, error) {
	key, err := throttleKey(ec.Input, th)
	if err != nil {
		return nil, err
	}

	for {
		allowed, wait := e.tryAdmit(ctx, key, th)
		if allowed {
			break
		}
		if th.OnExceeded != patterns.OnExceededWait {
			return nil, errRateLimited(key, wait.Milliseconds())
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		if serr := sleepCtx(ctx, wait); serr != nil {
			return nil, serr
		}
	}

	return e.dispatch(ctx, ec.Child(ec.Input), th.Inner)
}

// tryAdmit applies one admission attempt for key under th's strategy,
// returning whether the call is admitted and, if not, how long until the
// next admission opportunity.
func (e *Executor) tryAdmit(ctx context.Context, key string, th *patterns.Throttle) (bool, time.Duration) {
	mu := e.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	b := e.loadBucket(ctx, key)
	nowMS := e.now().UnixMilli()
	rate := float64(th.Rate)
	window := float64(th.WindowMS)

	var allowed bool
	var wait time.Duration
	switch th.Strategy {
	case patterns.ThrottleSlidingWindow:
		kept := b.Timestamps[:0]
		for _, ts := range b.Timestamps {
			if nowMS-ts < th.WindowMS {
				kept = append(kept, ts)
			}
		}
		b.Timestamps = kept
		if len(b.Timestamps) < th.Rate {
			b.Timestamps = append(b.Timestamps, nowMS)
			allowed = true
		} else {
			oldest := b.Timestamps[0]
			wait = time.Duration(oldest+th.WindowMS-nowMS) * time.Millisecond
		}

	case patterns.ThrottleTokenBucket:
		if !b.initialized {
			b.Tokens = rate
			b.LastRefillMS = nowMS
		}
		elapsed := float64(nowMS - b.LastRefillMS)
		b.Tokens += elapsed * rate / window
		if b.Tokens > rate {
			b.Tokens = rate
		}
		b.LastRefillMS = nowMS
		if b.Tokens >= 1 {
			b.Tokens--
			allowed = true
		} else {
			wait = time.Duration((1-b.Tokens)*window/rate) * time.Millisecond
		}

	case patterns.ThrottleFixedWindow:
		if !b.initialized || nowMS-b.WindowStartMS >= th.WindowMS {
			b.WindowStartMS = nowMS
			b.Count = 0
		}
		if b.Count < th.Rate {
			b.Count++
			allowed = true
		} else {
			wait = time.Duration(b.WindowStartMS+th.WindowMS-nowMS) * time.Millisecond
		}

	case patterns.ThrottleLeakyBucket:
		if !b.initialized {
			b.LastDrainMS = nowMS
		}
		elapsed := float64(nowMS - b.LastDrainMS)
		b.Level -= elapsed * rate / window
		if b.Level < 0 {
			b.Level = 0
		}
		b.LastDrainMS = nowMS
		if b.Level+1 <= rate {
			b.Level++
			allowed = true
		} else {
			wait = time.Duration((b.Level+1-rate)*window/rate) * time.Millisecond
		}

	default:
		// Unknown strategy admits; a misconfigured limiter must not become
		// an outage.
		allowed = true
	}

	e.saveBucket(ctx, key, b, th)
	return allowed, wait
}

func (e *Executor) loadBucket(ctx context.Context, key string) throttleBucket {
	raw, err := e.states.Get(ctx, key)
	if err != nil {
		return throttleBucket{}
	}
	var b throttleBucket
	if uerr := json.Unmarshal(raw, &b); uerr != nil {
		return throttleBucket{}
	}
	b.initialized = true
	return b
}

func (e *Executor) saveBucket(ctx context.Context, key string, b throttleBucket, th *patterns.Throttle) {
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	// Buckets self-expire two windows after the last touch.
	ttl := 2 * time.Duration(th.WindowMS) * time.Millisecond
	if serr := e.states.Set(ctx, key, data, &ttl); serr != nil {
		e.log.Warn(ctx, "throttle bucket write failed", "key", key, "error", serr)
	}
}

// throttleKey derives the bucket key: the optional CEL key expression
// evaluated against the input, else a single shared bucket per strategy.
func throttleKey(input any, th *patterns.Throttle) (string, error) {
	suffix := "global"
	if th.KeyExpr != "" {
		prog, err := compileCached(th.KeyExpr)
		if err != nil {
			return "", errPredicate(err.Error())
		}
		s, err := prog.EvalString(celx.Vars{"input": input})
		if err != nil {
			return "", errPredicate(err.Error())
		}
		suffix = s
	}
	return "throttle:" + string(th.Strategy) + ":" + suffix, nil
}
