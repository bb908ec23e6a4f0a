// Package hooks implements the per-request runtime hooks: caller-identity
// extraction, pre-call dependency checking, and dependency-scoped tool
// visibility. Hooks are synchronous checks invoked by request handlers
// before a call reaches the executor; nothing here holds state beyond the
// registry snapshot it is handed.
package hooks

import (
	"fmt"
	"net/http"

	"github.com/Masterminds/semver/v3"

	"github.com/toolgateway/composition-core/registry"
)

// IdentitySource records which of the three precedence-ordered sources
// produced a CallerIdentity.
type IdentitySource string

const (
	SourceHeaders       IdentitySource = "headers"
	SourceJWTClaims     IdentitySource = "jwt_claims"
	SourceMCPClientInfo IdentitySource = "mcp_client_info"
	SourceAnonymous     IdentitySource = "anonymous"
)

// CallerIdentity is extracted per request; never persisted.
type CallerIdentity struct {
	AgentName    string
	AgentVersion string
	DeclaredDeps map[string]bool
	Source       IdentitySource
}

// Anonymous reports whether no identity could be extracted from any source.
func (c CallerIdentity) Anonymous() bool { return c.Source == SourceAnonymous || c.AgentName == "" }

// Declares reports whether name is present in the caller's declared
// dependency set.
func (c CallerIdentity) Declares(name string) bool {
	return c.DeclaredDeps != nil && c.DeclaredDeps[name]
}

// MCPClientInfo mirrors the subset of an MCP initialize request's
// `clientInfo` block this package reads.
type MCPClientInfo struct {
	Name    string
	Version string
}

// JWTClaims is the subset of already-verified JWT claims this package
// reads. Signature verification is out of scope: an upstream
// authenticator is assumed to have validated the token before these claims
// reach the gateway.
type JWTClaims struct {
	AgentName    string
	AgentVersion string
	DeclaredDeps []string
}

// ExtractCallerIdentity builds a CallerIdentity from, in precedence order,
// (a) X-Agent-Name/X-Agent-Version headers, (b) JWT claims, (c) MCP
// clientInfo. The first source that yields a non-empty agent name wins;
// absence of all three yields an anonymous identity.
func ExtractCallerIdentity(headers http.Header, claims *JWTClaims, clientInfo *MCPClientInfo) CallerIdentity {
	if headers != nil {
		if name := headers.Get("X-Agent-Name"); name != "" {
			return CallerIdentity{
				AgentName:    name,
				AgentVersion: headers.Get("X-Agent-Version"),
				DeclaredDeps: map[string]bool{},
				Source:       SourceHeaders,
			}
		}
	}
	if claims != nil && claims.AgentName != "" {
		deps := make(map[string]bool, len(claims.DeclaredDeps))
		for _, d := range claims.DeclaredDeps {
			deps[d] = true
		}
		return CallerIdentity{
			AgentName:    claims.AgentName,
			AgentVersion: claims.AgentVersion,
			DeclaredDeps: deps,
			Source:       SourceJWTClaims,
		}
	}
	if clientInfo != nil && clientInfo.Name != "" {
		return CallerIdentity{
			AgentName:    clientInfo.Name,
			AgentVersion: clientInfo.Version,
			DeclaredDeps: map[string]bool{},
			Source:       SourceMCPClientInfo,
		}
	}
	return CallerIdentity{Source: SourceAnonymous, DeclaredDeps: map[string]bool{}}
}

// DependencyCheckResult is CheckPreCallDependencies' verdict.
type DependencyCheckResult struct {
	Allowed bool
	Reason  string
}

// CheckPreCallDependencies verifies every dep of tool exists in reg, that
// caller has either declared each dep or is anonymous-and-the-tool-is-a-leaf,
// and that version constraints hold. A tool with no dependencies is
// callable by anyone.
func CheckPreCallDependencies(tool *registry.CompiledTool, caller CallerIdentity, reg *registry.CompiledRegistry) DependencyCheckResult {
	if tool == nil {
		return DependencyCheckResult{Allowed: false, Reason: "tool not found"}
	}
	if len(tool.Depends) == 0 {
		return DependencyCheckResult{Allowed: true}
	}
	for _, d := range tool.Depends {
		switch d.Kind {
		case registry.DependsTool:
			if _, ok := reg.Tool(d.Name); !ok {
				return DependencyCheckResult{Allowed: false, Reason: fmt.Sprintf("dependency tool %q does not exist", d.Name)}
			}
		case registry.DependsAgent:
			if _, ok := reg.Agents[d.Name]; !ok {
				return DependencyCheckResult{Allowed: false, Reason: fmt.Sprintf("dependency agent %q does not exist", d.Name)}
			}
		}
		// A tool with dependencies is not a leaf, so anonymous callers are
		// rejected here; identified callers must have declared each dep.
		if caller.Anonymous() {
			return DependencyCheckResult{Allowed: false, Reason: "anonymous callers may only invoke leaf (no-dependency) tools"}
		}
		if !caller.Declares(d.Name) {
			return DependencyCheckResult{Allowed: false, Reason: fmt.Sprintf("caller %q has not declared dependency %q", caller.AgentName, d.Name)}
		}
		if d.Version != "" {
			if err := checkVersionSatisfied(reg, d); err != nil {
				return DependencyCheckResult{Allowed: false, Reason: err.Error()}
			}
		}
	}
	return DependencyCheckResult{Allowed: true}
}

func checkVersionSatisfied(reg *registry.CompiledRegistry, d registry.Dependency) error {
	var targetVersion string
	switch d.Kind {
	case registry.DependsTool:
		if t, ok := reg.Tool(d.Name); ok {
			targetVersion = t.Version
		}
	default:
		return nil
	}
	if targetVersion == "" {
		return fmt.Errorf("dependency %q has version constraint %q but target has no version", d.Name, d.Version)
	}
	c, err := semver.NewConstraint(d.Version)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", d.Version, err)
	}
	v, err := semver.NewVersion(targetVersion)
	if err != nil {
		return fmt.Errorf("dependency %q has invalid version %q: %w", d.Name, targetVersion, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("dependency %q version %s does not satisfy constraint %q", d.Name, targetVersion, d.Version)
	}
	return nil
}

// GetVisibleTools returns every tool caller may discover. Anonymous callers
// see everything; identified callers see only tools that appear in their
// declared_deps.
func GetVisibleTools(caller CallerIdentity, reg *registry.CompiledRegistry) []*registry.CompiledTool {
	out := make([]*registry.CompiledTool, 0, len(reg.ToolsByName))
	for name, t := range reg.ToolsByName {
		if caller.Anonymous() || caller.Declares(name) {
			out = append(out, t)
		}
	}
	return out
}

// ResolveDependencyOrder topologically sorts tool's dependency closure,
// erroring on a cycle.
func ResolveDependencyOrder(tool *registry.CompiledTool, reg *registry.CompiledRegistry) ([]string, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var order []string
	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("hooks: dependency cycle at %q", name)
		}
		color[name] = gray
		if t, ok := reg.Tool(name); ok {
			for _, d := range t.Depends {
				if d.Kind == registry.DependsTool {
					if err := visit(d.Name); err != nil {
						return err
					}
				}
			}
		}
		color[name] = black
		order = append(order, name)
		return nil
	}
	for _, d := range tool.Depends {
		if d.Kind == registry.DependsTool {
			if err := visit(d.Name); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// CallContext is the per-request handle returned by CreateContext.
type CallContext struct {
	Caller          CallerIdentity
	RegistryVersion string
}

// CreateContext builds a CallContext for caller against the current
// registry snapshot.
func CreateContext(caller CallerIdentity, reg *registry.CompiledRegistry) CallContext {
	version := ""
	if reg != nil {
		version = reg.Revision
	}
	return CallContext{Caller: caller, RegistryVersion: version}
}
