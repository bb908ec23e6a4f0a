package registry

import (
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/toolgateway/composition-core/jsonpathx"
	"github.com/toolgateway/composition-core/patterns"
)

// ResolvedTarget is the concrete (server, backend tool) a source chain
// bottoms out at.
type ResolvedTarget struct {
	Server      string
	BackendTool string
}

// NodeInputKind enumerates how an ExecutionNode's input is produced.
type NodeInputKind int

const (
	InputFromComposition NodeInputKind = iota
	InputFromNode
	InputFromNodePath
	InputConstant
)

// NodeInput is one edge into an ExecutionNode.
type NodeInput struct {
	Kind     NodeInputKind
	NodeIdx  int // valid for InputFromNode / InputFromNodePath
	Path     *jsonpathx.Expr
	Constant any
}

// ExecutionNode is one step of a compiled pipeline DAG: an operation plus
// the edges that feed it.
type ExecutionNode struct {
	StepID string
	Op     patterns.Spec
	Inputs []NodeInput
}

// ExecutionGraph is the compiled DAG form of a Pipeline pattern. Only a
// composition whose root is a Pipeline gets an explicit graph; nested
// pipelines and other pattern roots are walked directly from their Spec
// tree by the executor.
type ExecutionGraph struct {
	Nodes []ExecutionNode
	Exit  int // index of the node whose output is the pipeline's output
}

// OutputTransform is a compiled field -> JSONPath map.
type OutputTransform map[string]*jsonpathx.Expr

// CompiledSource is the compiled form of a Source tool.
type CompiledSource struct {
	Target          ResolvedTarget
	MergedDefaults  map[string]any
	MergedHide      []string
	OutputTransform OutputTransform
}

// CompiledComposition is the compiled form of a Composition tool.
type CompiledComposition struct {
	Root            patterns.Spec
	Graph           *ExecutionGraph // non-nil only when Root.Kind == patterns.KindPipeline
	OutputTransform OutputTransform
	ToolRefs        map[string]bool // every tool name this composition may invoke, for dependency validation
}

// CompiledTool is the runtime form of a ToolDefinition: exactly one of
// Source or Composition is set.
type CompiledTool struct {
	Name         string
	Description  string
	Version      string
	Tags         []string
	Deprecated   string
	Depends      []Dependency
	InputSchema  []byte
	OutputSchema []byte

	// CompiledInput is the pre-compiled JSON Schema for the tool's input,
	// with registry-local $refs resolved; nil when the tool declares no
	// input schema. The executor validates required fields against it
	// before dispatch.
	CompiledInput *jsonschema.Schema

	Source      *CompiledSource
	Composition *CompiledComposition
}

// IsSource reports whether ct is a direct backend source.
func (ct *CompiledTool) IsSource() bool { return ct.Source != nil }

// CompiledRegistry is the immutable runtime snapshot derived from a
// Registry by Compile.
type CompiledRegistry struct {
	Revision      string
	ToolsByName   map[string]*CompiledTool
	ToolsBySource map[ResolvedTarget][]string
	Agents        map[string]*AgentDefinition
	raw           *Registry
}

// Raw returns the source Registry this snapshot was compiled from, for
// introspection (e.g. re-validating after an edit). Callers must not
// mutate the returned value.
func (cr *CompiledRegistry) Raw() *Registry { return cr.raw }

// Tool looks up a compiled tool by its exposed name.
func (cr *CompiledRegistry) Tool(name string) (*CompiledTool, bool) {
	t, ok := cr.ToolsByName[name]
	return t, ok
}

// ExposedNamesFor returns every exposed (virtual) name that resolves to
// the given backend (server, tool) pair.
func (cr *CompiledRegistry) ExposedNamesFor(server, backendTool string) []string {
	return cr.ToolsBySource[ResolvedTarget{Server: server, BackendTool: backendTool}]
}
