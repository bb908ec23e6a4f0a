package registry

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/toolgateway/composition-core/jsonpathx"
	"github.com/toolgateway/composition-core/patterns"
)

// Compile turns a validated Registry into an immutable CompiledRegistry.
// Callers must run Validate first and check OK(); Compile
// does not re-run validator checks, but it performs its own compile-time
// checks (source-chain resolution, JSONPath parsing, step-id cycles) and
// returns a *CompileError on failure.
//
// Compile is idempotent: compiling the same Registry twice yields
// CompiledRegistrys with identical ToolsByName/ToolsBySource contents.
func Compile(reg *Registry, revision string) (*CompiledRegistry, error) {
	c := &compiler{reg: reg}
	out := &CompiledRegistry{
		Revision:      revision,
		ToolsByName:   map[string]*CompiledTool{},
		ToolsBySource: map[ResolvedTarget][]string{},
		Agents:        map[string]*AgentDefinition{},
		raw:           reg,
	}
	for i := range reg.Agents {
		a := &reg.Agents[i]
		out.Agents[a.Name] = a
	}
	for i := range reg.Tools {
		t := &reg.Tools[i]
		ct, err := c.compileTool(t)
		if err != nil {
			return nil, err
		}
		if _, dup := out.ToolsByName[t.Name]; dup {
			return nil, &CompileError{Kind: ErrDuplicateName, Item: t.Name, Msg: "duplicate tool name"}
		}
		out.ToolsByName[t.Name] = ct
		if ct.IsSource() {
			rt := ct.Source.Target
			out.ToolsBySource[rt] = append(out.ToolsBySource[rt], t.Name)
		}
	}
	return out, nil
}

type compiler struct {
	reg *Registry
}

// compileTool dispatches to the source-chain resolver or the composition
// lowering pass.
func (c *compiler) compileTool(t *ToolDefinition) (*CompiledTool, error) {
	ct := &CompiledTool{
		Name:         t.Name,
		Description:  t.Description,
		Version:      t.Version,
		Tags:         t.Tags,
		Deprecated:   t.Deprecated,
		Depends:      t.Depends,
		InputSchema:  t.InputSchema,
		OutputSchema: t.OutputSchema,
	}
	if len(t.InputSchema) > 0 {
		sch, err := c.compileInputSchema(t)
		if err != nil {
			return nil, err
		}
		ct.CompiledInput = sch
	}
	if t.IsSource() {
		src, err := c.resolveSourceChain(t)
		if err != nil {
			return nil, err
		}
		ct.Source = src
		return ct, nil
	}
	comp, err := c.compileComposition(t)
	if err != nil {
		return nil, err
	}
	ct.Composition = comp
	return ct, nil
}

// compileInputSchema pre-compiles a tool's input schema with every
// registry-local "#/schemas/NAME" $ref resolvable, embedding the registry's
// schema fragments alongside the tool schema in one resource document.
func (c *compiler) compileInputSchema(t *ToolDefinition) (*jsonschema.Schema, error) {
	var toolDoc any
	if err := json.Unmarshal(t.InputSchema, &toolDoc); err != nil {
		return nil, &CompileError{Kind: ErrSchemaValidation, Item: t.Name, Msg: fmt.Sprintf("input schema is not valid JSON: %v", err)}
	}
	schemas := make(map[string]any, len(c.reg.Schemas))
	for name, s := range c.reg.Schemas {
		var doc any
		if err := json.Unmarshal(s.Doc, &doc); err != nil {
			return nil, &CompileError{Kind: ErrSchemaValidation, Item: name, Msg: fmt.Sprintf("schema is not valid JSON: %v", err)}
		}
		schemas[name] = doc
	}
	root := map[string]any{"schemas": schemas, "tool": toolDoc}
	jc := jsonschema.NewCompiler()
	if err := jc.AddResource("registry.json", root); err != nil {
		return nil, &CompileError{Kind: ErrSchemaValidation, Item: t.Name, Msg: fmt.Sprintf("add schema resource: %v", err)}
	}
	sch, err := jc.Compile("registry.json#/tool")
	if err != nil {
		return nil, &CompileError{Kind: ErrSchemaValidation, Item: t.Name, Msg: fmt.Sprintf("compile input schema: %v", err)}
	}
	return sch, nil
}

// resolveSourceChain walks a `source -> source -> ... -> (server, tool)`
// chain, accumulating defaults (nearest-to-leaf wins) and hide_fields
// (union of the whole chain).
func (c *compiler) resolveSourceChain(t *ToolDefinition) (*CompiledSource, error) {
	seen := map[string]bool{}
	defaults := map[string]any{}
	hide := map[string]bool{}
	cur := t
	for {
		if seen[cur.Name] {
			return nil, &CompileError{Kind: ErrSourceResolution, Item: t.Name, Msg: fmt.Sprintf("cycle in source chain at %q", cur.Name)}
		}
		seen[cur.Name] = true
		// nearest-to-leaf wins: the walk runs from the called tool toward
		// the leaf that names the server, so a later hop overrides a
		// default set by an earlier one.
		for k, v := range cur.Defaults {
			defaults[k] = v
		}
		for _, f := range cur.HideFields {
			hide[f] = true
		}
		if cur.Server != "" {
			if _, ok := c.reg.ServerByName(cur.Server); !ok {
				return nil, &CompileError{Kind: ErrSourceResolution, Item: t.Name, Msg: fmt.Sprintf("unknown server %q", cur.Server)}
			}
			backendTool := cur.OriginalName
			if backendTool == "" {
				backendTool = cur.Name
			}
			hideList := make([]string, 0, len(hide))
			for f := range hide {
				hideList = append(hideList, f)
			}
			return &CompiledSource{
				Target:         ResolvedTarget{Server: cur.Server, BackendTool: backendTool},
				MergedDefaults: defaults,
				MergedHide:     hideList,
			}, nil
		}
		if cur.OriginalName == "" {
			return nil, &CompileError{Kind: ErrSourceResolution, Item: t.Name, Msg: "source tool has neither server nor a chained original_name"}
		}
		next, ok := c.reg.ToolByName(cur.OriginalName)
		if !ok {
			return nil, &CompileError{Kind: ErrSourceResolution, Item: t.Name, Msg: fmt.Sprintf("broken source chain: %q does not exist", cur.OriginalName)}
		}
		if !next.IsSource() {
			return nil, &CompileError{Kind: ErrSourceResolution, Item: t.Name, Msg: fmt.Sprintf("source chain hits composition tool %q", next.Name)}
		}
		cur = next
	}
}

// compileComposition lowers a tool's PatternSpec tree into a
// CompiledComposition: an ExecutionGraph when the root is a Pipeline, the
// compiled output transform, and the set of referenced tool names.
func (c *compiler) compileComposition(t *ToolDefinition) (*CompiledComposition, error) {
	var root patterns.Spec
	if err := json.Unmarshal(t.CompositionDef.Pattern, &root); err != nil {
		return nil, &CompileError{Kind: ErrSchemaValidation, Item: t.Name, Msg: fmt.Sprintf("invalid pattern document: %v", err)}
	}
	refs := map[string]bool{}
	collectToolRefs(root, refs)

	var graph *ExecutionGraph
	if root.Kind == patterns.KindPipeline {
		g, err := buildExecutionGraph(t.Name, root.Pipeline)
		if err != nil {
			return nil, err
		}
		graph = g
	}

	transform := make(OutputTransform, len(t.CompositionDef.OutputTransform))
	for field, path := range t.CompositionDef.OutputTransform {
		expr, err := jsonpathx.Parse(path)
		if err != nil {
			return nil, &CompileError{Kind: ErrInvalidJSONPath, Item: t.Name, Msg: err.Error()}
		}
		transform[field] = expr
	}

	if err := precompilePaths(root, t.Name); err != nil {
		return nil, err
	}

	return &CompiledComposition{Root: root, Graph: graph, OutputTransform: transform, ToolRefs: refs}, nil
}

// buildExecutionGraph lowers a Pipeline into a flat ExecutionNode slice,
// detecting step-id cycles and unresolved step bindings.
func buildExecutionGraph(toolName string, p *patterns.Pipeline) (*ExecutionGraph, error) {
	index := map[string]int{}
	for i, s := range p.Steps {
		if _, dup := index[s.ID]; dup {
			return nil, &CompileError{Kind: ErrSourceResolution, Item: toolName, Msg: fmt.Sprintf("duplicate pipeline step id %q", s.ID)}
		}
		index[s.ID] = i
	}
	nodes := make([]ExecutionNode, len(p.Steps))
	for i, s := range p.Steps {
		op := stepToSpec(s)
		var inputs []NodeInput
		if s.Input != nil {
			in, err := bindingToInputs(toolName, *s.Input, index, i)
			if err != nil {
				return nil, err
			}
			inputs = in
		} else if i > 0 {
			// implicit input: the previous step's full output.
			inputs = []NodeInput{{Kind: InputFromNode, NodeIdx: i - 1}}
		} else {
			inputs = []NodeInput{{Kind: InputFromComposition}}
		}
		nodes[i] = ExecutionNode{StepID: s.ID, Op: op, Inputs: inputs}
	}
	if err := checkGraphAcyclic(toolName, nodes); err != nil {
		return nil, err
	}
	return &ExecutionGraph{Nodes: nodes, Exit: len(nodes) - 1}, nil
}

func stepToSpec(s patterns.Step) patterns.Spec {
	switch s.Operation {
	case patterns.OpTool:
		return patterns.Spec{Kind: patterns.KindTool, Tool: s.Tool}
	case patterns.OpAgent:
		return patterns.Spec{Kind: patterns.KindAgent, Agent: s.Agent}
	default:
		if s.Pattern != nil {
			return *s.Pattern
		}
		return patterns.Spec{}
	}
}

func bindingToInputs(toolName string, b patterns.Binding, index map[string]int, selfIdx int) ([]NodeInput, error) {
	switch b.Kind {
	case patterns.BindInput:
		var path *jsonpathx.Expr
		if b.Path != "" {
			p, err := jsonpathx.Parse(b.Path)
			if err != nil {
				return nil, &CompileError{Kind: ErrInvalidJSONPath, Item: toolName, Msg: err.Error()}
			}
			path = p
		}
		return []NodeInput{{Kind: InputFromComposition, Path: path}}, nil
	case patterns.BindStep:
		idx, ok := index[b.StepID]
		if !ok || idx >= selfIdx {
			return nil, &CompileError{Kind: ErrSourceResolution, Item: toolName, Msg: fmt.Sprintf("step binding references %q which is not an earlier step", b.StepID)}
		}
		kind := InputFromNode
		var path *jsonpathx.Expr
		if b.Path != "" {
			p, err := jsonpathx.Parse(b.Path)
			if err != nil {
				return nil, &CompileError{Kind: ErrInvalidJSONPath, Item: toolName, Msg: err.Error()}
			}
			path, kind = p, InputFromNodePath
		}
		return []NodeInput{{Kind: kind, NodeIdx: idx, Path: path}}, nil
	case patterns.BindConstant:
		return []NodeInput{{Kind: InputConstant, Constant: b.Value}}, nil
	case patterns.BindConstruct:
		var inputs []NodeInput
		for _, sub := range b.Construct {
			subInputs, err := bindingToInputs(toolName, sub, index, selfIdx)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, subInputs...)
		}
		return inputs, nil
	default:
		return nil, &CompileError{Kind: ErrSourceResolution, Item: toolName, Msg: fmt.Sprintf("unsupported pipeline binding kind %q", b.Kind)}
	}
}

func checkGraphAcyclic(toolName string, nodes []ExecutionNode) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(nodes))
	var visit func(i int) error
	visit = func(i int) error {
		if color[i] == black {
			return nil
		}
		if color[i] == gray {
			return &CompileError{Kind: ErrSourceResolution, Item: toolName, Msg: fmt.Sprintf("cycle detected at pipeline step %q", nodes[i].StepID)}
		}
		color[i] = gray
		for _, in := range nodes[i].Inputs {
			if in.Kind == InputFromNode || in.Kind == InputFromNodePath {
				if in.NodeIdx >= i {
					return &CompileError{Kind: ErrSourceResolution, Item: toolName, Msg: fmt.Sprintf("step %q binds a non-earlier step", nodes[i].StepID)}
				}
				if err := visit(in.NodeIdx); err != nil {
					return err
				}
			}
		}
		color[i] = black
		return nil
	}
	for i := range nodes {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}

// collectToolRefs walks a pattern tree collecting every referenced tool
// name, used for dependency validation.
func collectToolRefs(s patterns.Spec, out map[string]bool) {
	if s.Kind == patterns.KindTool {
		out[s.Tool] = true
		return
	}
	walkChildren(s, func(child patterns.Spec) { collectToolRefs(child, out) })
}

// precompilePaths parses every JSONPath/predicate embedded in a pattern
// tree once at compile time. It
// only validates parse-ability here; the parsed Expr values are recreated
// at execution time from the same strings since patterns.Spec carries
// strings on the wire. Invalid paths are compile errors.
func precompilePaths(s patterns.Spec, toolName string) error {
	var err error
	check := func(path string) {
		if path == "" || err != nil {
			return
		}
		if _, e := jsonpathx.Parse(path); e != nil {
			err = &CompileError{Kind: ErrInvalidJSONPath, Item: toolName, Msg: e.Error()}
		}
	}
	switch s.Kind {
	case patterns.KindFilter:
		check(s.Filter.Predicate.Field)
	case patterns.KindSchemaMap:
		for _, fs := range s.SchemaMap.Mappings {
			checkFieldSource(fs, check)
		}
	case patterns.KindRouter:
		for _, r := range s.Router.Routes {
			check(r.When.Field)
		}
	case patterns.KindCache:
		for _, p := range s.Cache.KeyPaths {
			check(p)
		}
	}
	if err != nil {
		return err
	}
	var childErr error
	walkChildren(s, func(child patterns.Spec) {
		if childErr != nil {
			return
		}
		childErr = precompilePaths(child, toolName)
	})
	return childErr
}

func checkFieldSource(fs patterns.FieldSource, check func(string)) {
	switch fs.Kind {
	case patterns.SrcPath:
		check(fs.Path)
	case patterns.SrcCoalesce, patterns.SrcConcat:
		for _, p := range fs.Paths {
			check(p)
		}
	case patterns.SrcTemplate:
		for _, p := range fs.Vars {
			check(p)
		}
	case patterns.SrcNested:
		if fs.Nested != nil {
			for _, sub := range fs.Nested.Mappings {
				checkFieldSource(sub, check)
			}
		}
	}
}

// walkChildren invokes fn for every nested patterns.Spec directly
// contained in s (one level), covering every pattern that can nest
// another pattern.
func walkChildren(s patterns.Spec, fn func(patterns.Spec)) {
	switch s.Kind {
	case patterns.KindPipeline:
		for _, step := range s.Pipeline.Steps {
			fn(stepToSpec(step))
		}
	case patterns.KindScatterGather:
		for _, tgt := range s.ScatterGather.Targets {
			fn(tgt)
		}
	case patterns.KindMapEach:
		fn(s.MapEach.Inner)
	case patterns.KindRetry:
		fn(s.Retry.Inner)
	case patterns.KindTimeout:
		fn(s.Timeout.Inner)
		if s.Timeout.Fallback != nil {
			fn(*s.Timeout.Fallback)
		}
	case patterns.KindCache:
		fn(s.Cache.Inner)
	case patterns.KindIdempotent:
		fn(s.Idempotent.Inner)
	case patterns.KindCircuitBreaker:
		fn(s.CircuitBreaker.Inner)
		if s.CircuitBreaker.Fallback != nil {
			fn(*s.CircuitBreaker.Fallback)
		}
	case patterns.KindDeadLetter:
		fn(s.DeadLetter.Inner)
	case patterns.KindSaga:
		for _, step := range s.Saga.Steps {
			fn(step.Action)
			if step.Compensate != nil {
				fn(*step.Compensate)
			}
		}
	case patterns.KindClaimCheck:
		fn(s.ClaimCheck.Inner)
	case patterns.KindThrottle:
		fn(s.Throttle.Inner)
	case patterns.KindWireTap:
		fn(s.WireTap.Inner)
	case patterns.KindRouter:
		for _, r := range s.Router.Routes {
			fn(r.Then)
		}
		if s.Router.Otherwise != nil {
			fn(*s.Router.Otherwise)
		}
	case patterns.KindEnricher:
		for _, e := range s.Enricher.Enrichments {
			fn(e.Backend)
		}
	}
}
