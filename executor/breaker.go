package executor

import (
	"context"
	"encoding/json"

	"github.com/toolgateway/composition-core/patterns"
)

// breakerState enumerates the circuit's three states.
type breakerState string

const (
	breakerClosed   breakerState = "closed"
	breakerOpen     breakerState = "open"
	breakerHalfOpen breakerState = "half_open"
)

// breakerEntry is the persisted per-name state machine record.
type breakerEntry struct {
	State                  breakerState `json:"state"`
	FailureCount           int          `json:"failureCount"`
	LastFailureMS          int64        `json:"lastFailureMs"`
	SuccessCountInHalfOpen int          `json:"successCountInHalfOpen"`
	OpenedAtMS             int64        `json:"openedAtMs"`
}

// runCircuitBreaker guards cb.Inner behind the per-name Closed/Open/HalfOpen
// state machine. State persists through the StateStore so
// multiple breakers coexist keyed by name; a store read failure defaults the
// breaker to closed.
func (e *Executor) runCircuitBreaker(ctx context.Context, ec *ExecutionContext, cb *patterns.CircuitBreaker) (any, error) {
	key := "cb:" + cb.Name
	mu := e.lockFor(key)

	mu.Lock()
	st := e.loadBreaker(ctx, key)
	nowMS := e.now().UnixMilli()

	if st.State == breakerOpen {
		elapsed := nowMS - st.OpenedAtMS
		if elapsed < cb.ResetTimeoutMS {
			mu.Unlock()
			if cb.Fallback != nil {
				return e.dispatch(ctx, ec.Child(ec.Input), *cb.Fallback)
			}
			return nil, errCircuitOpen(cb.Name, cb.ResetTimeoutMS-elapsed)
		}
		st.State = breakerHalfOpen
		st.SuccessCountInHalfOpen = 0
		e.saveBreaker(ctx, key, st)
	}
	mu.Unlock()

	out, err := e.dispatch(ctx, ec.Child(ec.Input), cb.Inner)

	mu.Lock()
	defer mu.Unlock()
	st = e.loadBreaker(ctx, key)
	nowMS = e.now().UnixMilli()

	if err == nil {
		switch st.State {
		case breakerHalfOpen:
			st.SuccessCountInHalfOpen++
			if st.SuccessCountInHalfOpen >= cb.SuccessThreshold {
				st = breakerEntry{State: breakerClosed}
			}
		default:
			if cb.FailureWindowMS > 0 && nowMS-st.LastFailureMS > cb.FailureWindowMS {
				st.FailureCount = 0
			}
		}
		e.saveBreaker(ctx, key, st)
		return out, nil
	}

	switch st.State {
	case breakerHalfOpen:
		st = breakerEntry{State: breakerOpen, OpenedAtMS: nowMS, LastFailureMS: nowMS}
	default:
		if cb.FailureWindowMS > 0 && nowMS-st.LastFailureMS > cb.FailureWindowMS {
			st.FailureCount = 1
		} else {
			st.FailureCount++
		}
		st.LastFailureMS = nowMS
		if st.FailureCount >= cb.FailureThreshold {
			st.State = breakerOpen
			st.OpenedAtMS = nowMS
		}
	}
	e.saveBreaker(ctx, key, st)
	return nil, err
}

func (e *Executor) loadBreaker(ctx context.Context, key string) breakerEntry {
	st := breakerEntry{State: breakerClosed}
	raw, err := e.states.Get(ctx, key)
	if err != nil {
		return st
	}
	if uerr := json.Unmarshal(raw, &st); uerr != nil {
		return breakerEntry{State: breakerClosed}
	}
	return st
}

func (e *Executor) saveBreaker(ctx context.Context, key string, st breakerEntry) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if serr := e.states.Set(ctx, key, data, nil); serr != nil {
		e.log.Warn(ctx, "circuit breaker state write failed", "key", key, "error", serr)
	}
}
