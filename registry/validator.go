package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Validate runs every registry check over reg in a single pass and
// returns every error and warning found; it never panics and never
// short-circuits on the first failure.
func Validate(reg *Registry) ValidationResult {
	v := &validation{reg: reg}
	v.checkUniqueness()
	v.checkDependenciesResolve()
	v.checkCycles()
	v.checkSchemaRefs()
	v.checkVersionConstraints()
	v.checkDeprecations()
	return ValidationResult{Errors: v.errors, Warnings: v.warnings}
}

type validation struct {
	reg      *Registry
	errors   []ValidationError
	warnings []ValidationWarning
}

func (v *validation) fail(rule, item, msg string, args ...any) {
	v.errors = append(v.errors, ValidationError{Rule: rule, Item: item, Msg: fmt.Sprintf(msg, args...)})
}

// 1. Uniqueness of names across tools, schemas, servers, agents.
func (v *validation) checkUniqueness() {
	seen := map[string]string{} // name -> kind, for cross-kind collisions too
	add := func(kind, name string) {
		if name == "" {
			return
		}
		if prior, ok := seen[name]; ok {
			v.fail("duplicate-name", name, "already declared as %s", prior)
			return
		}
		seen[name] = kind
	}
	for _, t := range v.reg.Tools {
		add("tool", t.Name)
	}
	for name := range v.reg.Schemas {
		add("schema", name)
	}
	for _, s := range v.reg.Servers {
		add("server", s.Name)
	}
	for _, a := range v.reg.Agents {
		add("agent", a.Name)
	}
}

// 2. All `depends` entries resolve to an existing item of the declared kind.
func (v *validation) checkDependenciesResolve() {
	resolve := func(owner string, d Dependency) {
		switch d.Kind {
		case DependsTool:
			if _, ok := v.reg.ToolByName(d.Name); !ok {
				v.fail("unresolved-dependency", owner, "tool dependency %q does not exist", d.Name)
			}
		case DependsAgent:
			if _, ok := v.reg.AgentByName(d.Name); !ok {
				v.fail("unresolved-dependency", owner, "agent dependency %q does not exist", d.Name)
			}
		case DependsSchema:
			if _, ok := v.reg.Schemas[d.Name]; !ok {
				v.fail("unresolved-dependency", owner, "schema dependency %q does not exist", d.Name)
			}
		case DependsServer:
			if _, ok := v.reg.ServerByName(d.Name); !ok {
				v.fail("unresolved-dependency", owner, "server dependency %q does not exist", d.Name)
			}
		default:
			v.fail("unresolved-dependency", owner, "unknown dependency kind %q", d.Kind)
		}
	}
	for _, t := range v.reg.Tools {
		for _, d := range t.Depends {
			resolve(t.Name, d)
		}
	}
	for _, a := range v.reg.Agents {
		for _, d := range a.Depends {
			resolve(a.Name, d)
		}
	}
}

// 3. No dependency cycle through tool `depends` or `source -> source`
// chains. Self-dependencies are cycles. Reports the cycle path.
func (v *validation) checkCycles() {
	// depends graph (tools + agents share a namespace of "depends" edges)
	graph := map[string][]string{}
	for _, t := range v.reg.Tools {
		for _, d := range t.Depends {
			if d.Kind == DependsTool || d.Kind == DependsAgent {
				graph[t.Name] = append(graph[t.Name], d.Name)
			}
		}
	}
	for _, a := range v.reg.Agents {
		for _, d := range a.Depends {
			if d.Kind == DependsTool || d.Kind == DependsAgent {
				graph[a.Name] = append(graph[a.Name], d.Name)
			}
		}
	}
	v.detectCycle(graph, "dependency-cycle")

	// source -> source chain graph: a tool's source rewrite chain is itself
	// modeled as "source tool depends on the tool it renames", keyed by
	// OriginalName when it refers to another registry tool name rather
	// than a literal backend tool.
	srcGraph := map[string][]string{}
	for _, t := range v.reg.Tools {
		if t.IsSource() && t.OriginalName != "" {
			if _, ok := v.reg.ToolByName(t.OriginalName); ok {
				srcGraph[t.Name] = append(srcGraph[t.Name], t.OriginalName)
			}
		}
	}
	v.detectCycle(srcGraph, "source-chain-cycle")
}

func (v *validation) detectCycle(graph map[string][]string, rule string) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var path []string
	var visit func(n string) bool
	visit = func(n string) bool {
		switch color[n] {
		case black:
			return false
		case gray:
			path = append(path, n)
			return true
		}
		color[n] = gray
		path = append(path, n)
		for _, next := range graph[n] {
			if next == n {
				v.fail(rule, n, "self-dependency: %s -> %s", n, next)
				continue
			}
			if visit(next) {
				return true
			}
		}
		color[n] = black
		path = path[:len(path)-1]
		return false
	}
	reported := map[string]bool{}
	for n := range graph {
		if color[n] != white {
			continue
		}
		path = nil
		if visit(n) && !reported[path[0]] {
			reported[path[0]] = true
			v.fail(rule, path[0], "cycle detected: %s", strings.Join(path, " -> "))
		}
	}
}

// 4. Every `$ref` in any tool's input/output schema resolves to a schema
// in the registry.
func (v *validation) checkSchemaRefs() {
	for _, t := range v.reg.Tools {
		v.checkRefsIn(t.Name, t.InputSchema)
		v.checkRefsIn(t.Name, t.OutputSchema)
	}
}

func (v *validation) checkRefsIn(tool string, doc json.RawMessage) {
	if len(doc) == 0 {
		return
	}
	var node any
	if err := json.Unmarshal(doc, &node); err != nil {
		v.fail("invalid-schema", tool, "schema is not valid JSON: %v", err)
		return
	}
	for _, ref := range collectRefs(node) {
		name := strings.TrimPrefix(ref, "#/schemas/")
		if name == ref {
			// not a registry-local ref; nothing to resolve.
			continue
		}
		if _, ok := v.reg.Schemas[name]; !ok {
			v.fail("unresolved-ref", tool, "$ref %q does not resolve to a registered schema", ref)
		}
	}
}

func collectRefs(node any) []string {
	var refs []string
	switch t := node.(type) {
	case map[string]any:
		for k, val := range t {
			if k == "$ref" {
				if s, ok := val.(string); ok {
					refs = append(refs, s)
				}
				continue
			}
			refs = append(refs, collectRefs(val)...)
		}
	case []any:
		for _, e := range t {
			refs = append(refs, collectRefs(e)...)
		}
	}
	return refs
}

// 5. Every `version` constraint on a dependency is satisfiable by the
// target's version. Semver-style constraints (`>=1.2.0`, `~1.2`, exact).
func (v *validation) checkVersionConstraints() {
	check := func(owner string, d Dependency) {
		if d.Version == "" {
			return
		}
		var targetVersion string
		switch d.Kind {
		case DependsTool:
			if t, ok := v.reg.ToolByName(d.Name); ok {
				targetVersion = t.Version
			}
		case DependsServer:
			if s, ok := v.reg.ServerByName(d.Name); ok {
				targetVersion = s.Version
			}
		default:
			return
		}
		if targetVersion == "" {
			v.fail("version-constraint", owner, "dependency %q has constraint %q but target has no version", d.Name, d.Version)
			return
		}
		c, err := semver.NewConstraint(d.Version)
		if err != nil {
			v.fail("version-constraint", owner, "invalid version constraint %q: %v", d.Version, err)
			return
		}
		ver, err := semver.NewVersion(targetVersion)
		if err != nil {
			v.fail("version-constraint", owner, "target %q has invalid version %q: %v", d.Name, targetVersion, err)
			return
		}
		if !c.Check(ver) {
			v.fail("version-constraint", owner, "dependency %q version %s does not satisfy constraint %q", d.Name, targetVersion, d.Version)
		}
	}
	for _, t := range v.reg.Tools {
		for _, d := range t.Depends {
			check(t.Name, d)
		}
	}
	for _, a := range v.reg.Agents {
		for _, d := range a.Depends {
			check(a.Name, d)
		}
	}
}

// 6. Deprecated targets in use -> warning (not error).
func (v *validation) checkDeprecations() {
	for _, t := range v.reg.Tools {
		for _, d := range t.Depends {
			switch d.Kind {
			case DependsTool:
				if dep, ok := v.reg.ToolByName(d.Name); ok && dep.Deprecated != "" {
					v.warnings = append(v.warnings, ValidationWarning{Tool: t.Name, Deprecated: d.Name, Msg: dep.Deprecated})
				}
			case DependsServer:
				if srv, ok := v.reg.ServerByName(d.Name); ok && srv.Deprecated != "" {
					v.warnings = append(v.warnings, ValidationWarning{Tool: t.Name, Deprecated: d.Name, Msg: srv.Deprecated})
				}
			}
		}
		if t.IsSource() {
			if srv, ok := v.reg.ServerByName(t.Server); ok && srv.Deprecated != "" {
				v.warnings = append(v.warnings, ValidationWarning{Tool: t.Name, Deprecated: srv.Name, Msg: srv.Deprecated})
			}
		}
	}
}
