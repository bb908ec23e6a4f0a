package patterns

// BackoffKind enumerates Retry's backoff formulas.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// Backoff parametrizes the delay-before-attempt formula.
type Backoff struct {
	Kind       BackoffKind `json:"kind"`
	InitialMS  int64       `json:"initialMs,omitempty"`
	MaxMS      int64       `json:"maxMs,omitempty"`
	Multiplier float64     `json:"multiplier,omitempty"`
	// IncrementMS only applies to Linear; InitialMS doubles as the fixed
	// delay and the linear/exponential base, keeping the wire shape small.
	IncrementMS int64 `json:"incrementMs,omitempty"`
}

// Retry retries Inner up to MaxAttempts times with Backoff delays between
// attempts.
type Retry struct {
	Inner            Spec    `json:"inner"`
	MaxAttempts      int     `json:"maxAttempts"`
	Backoff          Backoff `json:"backoff"`
	RetryIf          string  `json:"retryIf,omitempty"` // CEL predicate over input, attempt and error; error is the message text, the error Kind is not bound separately
	Jitter           bool    `json:"jitter,omitempty"`
	AttemptTimeoutMS int64   `json:"attemptTimeoutMs,omitempty"`
}

// Timeout races Inner against Duration.
type Timeout struct {
	Inner      Spec   `json:"inner"`
	DurationMS int64  `json:"durationMs"`
	Fallback   *Spec  `json:"fallback,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Cache memoizes Inner's result keyed by KeyPaths for TTLSeconds, with an
// optional stale-while-revalidate window.
type Cache struct {
	Inner                       Spec     `json:"inner"`
	KeyPaths                    []string `json:"keyPaths"`
	TTLSeconds                  int64    `json:"ttlSeconds"`
	CacheIf                     string   `json:"cacheIf,omitempty"` // CEL predicate over the result
	StaleWhileRevalidateSeconds int64    `json:"staleWhileRevalidateSeconds,omitempty"`
}

// OnDuplicateKind enumerates Idempotent's duplicate-request policy.
type OnDuplicateKind string

const (
	OnDuplicateCached OnDuplicateKind = "cached"
	OnDuplicateSkip   OnDuplicateKind = "skip"
	OnDuplicateError  OnDuplicateKind = "error"
)

// Idempotent deduplicates calls whose CEL-derived key matches within TTL.
// Inner is the guarded operation: exactly one caller
// per key reaches it while the claim is live.
type Idempotent struct {
	Inner       Spec            `json:"inner"`
	KeyExprs    []string        `json:"keyExprs"` // CEL expressions, joined with ":"
	OnDuplicate OnDuplicateKind `json:"onDuplicate"`
	TTLSeconds  int64           `json:"ttlSeconds"`
}

// CircuitBreaker implements the Closed/Open/HalfOpen state machine,
// keyed by Name in the StateStore. Inner is the guarded
// operation; it is not invoked while the breaker is open.
type CircuitBreaker struct {
	Inner            Spec   `json:"inner"`
	Name             string `json:"name"`
	FailureThreshold int    `json:"failureThreshold"`
	ResetTimeoutMS   int64  `json:"resetTimeoutMs"`
	FailureWindowMS  int64  `json:"failureWindowMs"`
	SuccessThreshold int    `json:"successThreshold"`
	Fallback         *Spec  `json:"fallback,omitempty"`
}

// DeadLetter retries Inner then posts the original input and error to
// DeadLetterTool on final failure.
type DeadLetter struct {
	Inner          Spec     `json:"inner"`
	DeadLetterTool string   `json:"deadLetterTool"`
	MaxAttempts    int      `json:"maxAttempts"`
	Backoff        *Backoff `json:"backoff,omitempty"`
	Rethrow        bool     `json:"rethrow"`
}

// SagaStep is one forward step (with optional compensation) in a Saga.
type SagaStep struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Action     Spec     `json:"action"`
	Compensate *Spec    `json:"compensate,omitempty"`
	Input      *Binding `json:"input,omitempty"`
}

// Saga executes Steps in order, compensating completed steps in reverse on
// failure.
type Saga struct {
	Steps     []SagaStep     `json:"steps"`
	Output    *OutputBinding `json:"output,omitempty"`
	TimeoutMS int64          `json:"timeoutMs,omitempty"`
}

// ClaimCheck stores a large payload via StoreTool, passes a reference
// through Inner, and optionally retrieves the original via RetrieveTool.
type ClaimCheck struct {
	StoreTool          string `json:"storeTool"`
	RetrieveTool       string `json:"retrieveTool"`
	Inner              Spec   `json:"inner"`
	RetrieveAtEnd      bool   `json:"retrieveAtEnd"`
	ReferenceTransform string `json:"referenceTransform,omitempty"` // dot path into the store result
}

// ThrottleStrategy enumerates Throttle's rate-limiting algorithms.
type ThrottleStrategy string

const (
	ThrottleSlidingWindow ThrottleStrategy = "slidingWindow"
	ThrottleTokenBucket   ThrottleStrategy = "tokenBucket"
	ThrottleFixedWindow   ThrottleStrategy = "fixedWindow"
	ThrottleLeakyBucket   ThrottleStrategy = "leakyBucket"
)

// OnExceededKind enumerates Throttle's over-limit behavior.
type OnExceededKind string

const (
	OnExceededReject OnExceededKind = "reject"
	OnExceededWait   OnExceededKind = "wait"
)

// Throttle rate-limits Inner per key.
type Throttle struct {
	Inner      Spec             `json:"inner"`
	Rate       int              `json:"rate"`
	WindowMS   int64            `json:"windowMs"`
	Strategy   ThrottleStrategy `json:"strategy"`
	OnExceeded OnExceededKind   `json:"onExceeded"`
	KeyExpr    string           `json:"keyExpr,omitempty"` // CEL expression producing the bucket key; empty means a single global bucket
}

// TapPoint enumerates when WireTap fires relative to the main operation.
type TapPoint string

const (
	TapBefore TapPoint = "before"
	TapAfter  TapPoint = "after"
	TapBoth   TapPoint = "both"
)

// WireTapTarget is one fire-and-forget copy destination.
type WireTapTarget struct {
	Backend    string  `json:"backend"`
	Percentage float64 `json:"percentage"`
}

// WireTap fires best-effort copies of the message to sampled targets.
// Inner is the main operation the tap wraps.
type WireTap struct {
	Inner    Spec            `json:"inner"`
	Targets  []WireTapTarget `json:"targets"`
	TapPoint TapPoint        `json:"tapPoint"`
}

// Route is one `when -> then` entry in a Router.
type Route struct {
	When Predicate `json:"when"`
	Then Spec      `json:"then"`
}

// Router evaluates Routes in order and executes the first match's Then,
// else Otherwise.
type Router struct {
	Routes    []Route `json:"routes"`
	Otherwise *Spec   `json:"otherwise,omitempty"`
}

// MergeStrategyKind enumerates Enricher's result-merge strategies.
type MergeStrategyKind string

const (
	MergeSpread    MergeStrategyKind = "spread"
	MergeNested    MergeStrategyKind = "nested"
	MergeSchemaMap MergeStrategyKind = "schemaMap"
)

// MergeStrategy describes how enrichment results are folded back into the
// body.
type MergeStrategy struct {
	Kind     MergeStrategyKind `json:"kind"`
	Key      string            `json:"key,omitempty"`      // Nested
	Mappings map[string]string `json:"mappings,omitempty"` // SchemaMap: target field -> source dotted path
}

// Enrichment is one parallel lookup an Enricher performs.
type Enrichment struct {
	Field   string   `json:"field"`
	Backend Spec     `json:"backend"`
	Input   *Binding `json:"input,omitempty"`
}

// Enricher augments a body with parallel lookups.
type Enricher struct {
	Enrichments    []Enrichment  `json:"enrichments"`
	Merge          MergeStrategy `json:"merge"`
	IgnoreFailures bool          `json:"ignoreFailures"`
	TimeoutMS      int64         `json:"timeoutMs,omitempty"`
}
