package executor

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/toolgateway/composition-core/celx"
	"github.com/toolgateway/composition-core/patterns"
	"github.com/toolgateway/composition-core/statestore"
)

// runIdempotent deduplicates calls whose CEL-derived key matches within TTL.
// The claim and the stored response live under separate
// keys so a claim can exist before the first caller's response does. Store
// failures act as "first request".
func (e *Executor) runIdempotent(ctx context.Context, ec *ExecutionContext, id *patterns.Idempotent) (any, error) {
	key, err := idempotencyKey(ec.Input, id.KeyExprs)
	if err != nil {
		return nil, err
	}
	claimKey := "idem:claim:" + key
	respKey := "idem:resp:" + key
	ttl := time.Duration(id.TTLSeconds) * time.Second

	token := uuid.NewString()
	claimed, cerr := e.states.TryClaim(ctx, claimKey, []byte(token), &ttl)
	if cerr != nil {
		e.log.Warn(ctx, "idempotency claim failed, proceeding as first request", "key", key, "error", cerr)
		claimed = true
	}

	if !claimed {
		switch id.OnDuplicate {
		case patterns.OnDuplicateSkip:
			// Synthesized "no content" response.
			return nil, nil
		case patterns.OnDuplicateCached:
			if raw, gerr := e.states.Get(ctx, respKey); gerr == nil {
				var stored any
				if json.Unmarshal(raw, &stored) == nil {
					return stored, nil
				}
			} else if !statestore.IsNotFound(gerr) {
				e.log.Warn(ctx, "idempotency response read failed", "key", key, "error", gerr)
			}
			// First caller still processing.
			return nil, errDuplicateRequest(key)
		default:
			return nil, errDuplicateRequest(key)
		}
	}

	out, err := e.dispatch(ctx, ec.Child(ec.Input), id.Inner)
	if err != nil {
		// Release the claim so a later retry of the same request is not
		// locked out until TTL expiry by this failed attempt.
		if derr := e.states.Delete(ctx, claimKey); derr != nil {
			e.log.Warn(ctx, "idempotency claim release failed", "key", key, "error", derr)
		}
		return nil, err
	}

	if data, merr := json.Marshal(out); merr == nil {
		if serr := e.states.Set(ctx, respKey, data, &ttl); serr != nil {
			e.log.Warn(ctx, "idempotency response write failed", "key", key, "error", serr)
		}
	}
	return out, nil
}

// idempotencyKey joins each CEL key expression's value with ":".
func idempotencyKey(input any, exprs []string) (string, error) {
	parts := make([]string, 0, len(exprs))
	for _, src := range exprs {
		prog, err := compileCached(src)
		if err != nil {
			return "", errPredicate(err.Error())
		}
		s, err := prog.EvalString(celx.Vars{"input": input})
		if err != nil {
			return "", errPredicate(err.Error())
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ":"), nil
}
