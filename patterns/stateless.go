package patterns

// StepOperationKind enumerates what a Pipeline Step invokes.
type StepOperationKind string

const (
	OpTool    StepOperationKind = "tool"
	OpPattern StepOperationKind = "pattern"
	OpAgent   StepOperationKind = "agent"
)

// Step is one entry in a Pipeline.
type Step struct {
	ID        string            `json:"id"`
	Operation StepOperationKind `json:"operation"`
	Tool      string            `json:"tool,omitempty"`
	Agent     string            `json:"agent,omitempty"`
	Pattern   *Spec             `json:"pattern,omitempty"`
	Input     *Binding          `json:"input,omitempty"`
}

// Pipeline is an ordered list of Steps. The last step's output is the
// pipeline's output.
type Pipeline struct {
	Steps []Step `json:"steps"`
}

// AggregationOpKind enumerates ScatterGather's aggregation operations.
type AggregationOpKind string

const (
	AggFlatten AggregationOpKind = "flatten"
	AggSort    AggregationOpKind = "sort"
	AggDedupe  AggregationOpKind = "dedupe"
	AggLimit   AggregationOpKind = "limit"
	AggConcat  AggregationOpKind = "concat"
	AggMerge   AggregationOpKind = "merge"
)

// SortOrder enumerates Sort's direction.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// AggregationOp is one step in a ScatterGather's aggregation pipeline.
type AggregationOp struct {
	Kind  AggregationOpKind `json:"kind"`
	Field string            `json:"field,omitempty"` // Sort, Dedupe
	Order SortOrder         `json:"order,omitempty"` // Sort
	Count int               `json:"count,omitempty"` // Limit
}

// ScatterGather fans a single input out to every target and joins the
// results.
type ScatterGather struct {
	Targets     []Spec          `json:"targets"`
	Aggregation []AggregationOp `json:"aggregation,omitempty"`
	TimeoutMS   int64           `json:"timeoutMs,omitempty"`
	FailFast    bool            `json:"failFast,omitempty"`
}

// PredicateOp enumerates Filter/Router predicate operators.
type PredicateOp string

const (
	OpEq       PredicateOp = "eq"
	OpNe       PredicateOp = "ne"
	OpGt       PredicateOp = "gt"
	OpGte      PredicateOp = "gte"
	OpLt       PredicateOp = "lt"
	OpLte      PredicateOp = "lte"
	OpContains PredicateOp = "contains"
	OpIn       PredicateOp = "in"
)

// Predicate evaluates a field extracted via JSONPath against value using
// Op.
type Predicate struct {
	Field string      `json:"field"`
	Op    PredicateOp `json:"op"`
	Value any         `json:"value"`
}

// Filter keeps array elements for which Predicate holds.
type Filter struct {
	Predicate Predicate `json:"predicate"`
}

// FieldSourceKind enumerates SchemaMap's field source forms.
type FieldSourceKind string

const (
	SrcPath     FieldSourceKind = "path"
	SrcLiteral  FieldSourceKind = "literal"
	SrcCoalesce FieldSourceKind = "coalesce"
	SrcTemplate FieldSourceKind = "template"
	SrcConcat   FieldSourceKind = "concat"
	SrcNested   FieldSourceKind = "nested"
)

// FieldSource is the tagged union of schema-map field sources:
// Path, Literal, Coalesce(paths), Template(template+vars),
// Concat(paths+sep), Nested(SchemaMap).
type FieldSource struct {
	Kind FieldSourceKind `json:"kind"`

	Path     string            `json:"path,omitempty"`     // Path
	Literal  any               `json:"literal,omitempty"`  // Literal
	Paths    []string          `json:"paths,omitempty"`    // Coalesce, Concat
	Template string            `json:"template,omitempty"` // Template
	Vars     map[string]string `json:"vars,omitempty"`     // Template: name -> JSONPath
	Sep      string            `json:"sep,omitempty"`      // Concat
	Nested   *SchemaMap        `json:"nested,omitempty"`   // Nested
}

// SchemaMap builds an object by evaluating each FieldSource against the
// input.
type SchemaMap struct {
	Mappings map[string]FieldSource `json:"mappings"`
}

// MapEach applies Inner to each element of an input array.
type MapEach struct {
	Inner Spec `json:"inner"`
}
