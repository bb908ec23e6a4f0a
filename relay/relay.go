// Package relay implements multi-backend fan-out and merge:
// list-type MCP requests (tools, prompts, resources,
// resource templates) are dispatched to every configured backend, their
// results transformed through the compiled registry's virtualization map,
// filtered by the external auth policy, prefixed when multiplexing, and
// merged into a single response. Initialize responses merge protocol
// versions and capabilities; single-target methods route to the sole
// backend or error when multiplexing.
package relay

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/toolgateway/composition-core/registry"
	"github.com/toolgateway/composition-core/telemetry"
)

// Tool is one entry of a tools/list result.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Prompt is one entry of a prompts/list result.
type Prompt struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Resource is one entry of a resources/list result.
type Resource struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// ResourceTemplate is one entry of a resources/templates/list result.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name,omitempty"`
}

// ServerInfo identifies an MCP server implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeResult is the subset of an MCP initialize response the relay
// merges across backends.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// Backend is one upstream MCP server the relay fans out to. Implementations
// live outside the core; the relay only needs the list-type surfaces it merges.
type Backend interface {
	Name() string
	ListTools(ctx context.Context) ([]Tool, error)
	ListPrompts(ctx context.Context) ([]Prompt, error)
	ListResources(ctx context.Context) ([]Resource, error)
	ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error)
	Initialize(ctx context.Context) (InitializeResult, error)
}

// ItemKind tags the request families a policy filter may veto.
type ItemKind string

const (
	KindTool             ItemKind = "tool"
	KindPrompt           ItemKind = "prompt"
	KindResource         ItemKind = "resource"
	KindResourceTemplate ItemKind = "resource_template"
)

// PolicyFilter is the external RBAC seam: it reports
// whether the caller may see the named item. A nil filter allows everything.
type PolicyFilter func(kind ItemKind, name string) bool

// Error is returned for methods that cannot be relayed.
type Error struct{ Msg string }

func (e *Error) Error() string { return "relay: " + e.Msg }

// ErrInvalidMethod is returned when a single-target method arrives while
// the gateway is multiplexing more than one backend.
var ErrInvalidMethod = &Error{Msg: "method cannot be fanned out across multiple backends"}

// Relay fans list-type requests out to every backend and merges the
// results through the current compiled-registry snapshot.
type Relay struct {
	backends []Backend
	store    *registry.Store
	policy   PolicyFilter
	self     ServerInfo
	log      telemetry.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithPolicyFilter installs the external auth policy filter.
func WithPolicyFilter(f PolicyFilter) Option {
	return func(r *Relay) { r.policy = f }
}

// WithLogger sets the structured logger. Defaults to a no-op.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Relay) { r.log = l }
}

// New builds a Relay over backends, reading virtualization state from
// store and reporting self as the gateway's own server info.
func New(backends []Backend, store *registry.Store, self ServerInfo, opts ...Option) *Relay {
	r := &Relay{backends: backends, store: store, self: self, log: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// multiplexing reports whether more than one backend is configured; name
// prefixing only applies then.
func (r *Relay) multiplexing() bool { return len(r.backends) > 1 }

func (r *Relay) allowed(kind ItemKind, name string) bool {
	return r.policy == nil || r.policy(kind, name)
}

// fanOut runs fn once per backend concurrently, collecting each backend's
// result alongside its name. Backend errors are logged and that backend's
// contribution dropped, so one unhealthy upstream does not take down the
// merged listing.
func fanOut[T any](ctx context.Context, r *Relay, fn func(context.Context, Backend) ([]T, error)) []struct {
	backend string
	items   []T
} {
	type slot struct {
		backend string
		items   []T
		err     error
	}
	slots := make([]slot, len(r.backends))
	var wg sync.WaitGroup
	for i, b := range r.backends {
		wg.Add(1)
		go func(i int, b Backend) {
			defer wg.Done()
			items, err := fn(ctx, b)
			slots[i] = slot{backend: b.Name(), items: items, err: err}
		}(i, b)
	}
	wg.Wait()

	out := make([]struct {
		backend string
		items   []T
	}, 0, len(slots))
	for _, s := range slots {
		if s.err != nil {
			r.log.Warn(ctx, "backend list failed, dropping its contribution", "backend", s.backend, "error", s.err)
			continue
		}
		out = append(out, struct {
			backend string
			items   []T
		}{s.backend, s.items})
	}
	return out
}

// ToolsResult is a merged tools/list response. NextCursor is always nil:
// the core does not paginate across backends.
type ToolsResult struct {
	Tools      []Tool  `json:"tools"`
	NextCursor *string `json:"nextCursor"`
}

// ListTools merges every backend's tool list: virtualized backend tools are
// replaced by their exposed virtual counterparts, non-virtualized ones pass
// through, the policy filter applies per item, and names are prefixed
// "{backend}_{name}" when multiplexing.
func (r *Relay) ListTools(ctx context.Context) (ToolsResult, error) {
	reg := r.store.Load()
	perBackend := fanOut(ctx, r, func(ctx context.Context, b Backend) ([]Tool, error) {
		return b.ListTools(ctx)
	})

	var merged []Tool
	for _, pb := range perBackend {
		for _, t := range pb.items {
			for _, vt := range r.transformTool(reg, pb.backend, t) {
				if !r.allowed(KindTool, vt.Name) {
					continue
				}
				if r.multiplexing() {
					vt.Name = pb.backend + "_" + vt.Name
				}
				merged = append(merged, vt)
			}
		}
	}
	return ToolsResult{Tools: merged, NextCursor: nil}, nil
}

// transformTool applies the compiled registry's virtualization map to one
// backend tool: when one or more virtual tools resolve to this backend
// tool, the exposed names replace it (with the virtual definition's
// description and hide-field-stripped schema); otherwise it passes through
// unchanged.
func (r *Relay) transformTool(reg *registry.CompiledRegistry, backend string, t Tool) []Tool {
	if reg == nil {
		return []Tool{t}
	}
	exposed := reg.ExposedNamesFor(backend, t.Name)
	if len(exposed) == 0 {
		return []Tool{t}
	}
	out := make([]Tool, 0, len(exposed))
	for _, name := range exposed {
		ct, ok := reg.Tool(name)
		if !ok {
			continue
		}
		vt := Tool{Name: name, Description: ct.Description}
		if vt.Description == "" {
			vt.Description = t.Description
		}
		switch {
		case len(ct.InputSchema) > 0:
			var schema map[string]any
			if json.Unmarshal(ct.InputSchema, &schema) == nil {
				vt.InputSchema = schema
			}
		case ct.Source != nil:
			vt.InputSchema = stripHidden(t.InputSchema, ct.Source.MergedHide)
		default:
			vt.InputSchema = t.InputSchema
		}
		out = append(out, vt)
	}
	if len(out) == 0 {
		return []Tool{t}
	}
	return out
}

// stripHidden removes hidden fields from a JSON-schema object's properties
// and required list.
func stripHidden(schema map[string]any, hide []string) map[string]any {
	if schema == nil || len(hide) == 0 {
		return schema
	}
	hidden := make(map[string]bool, len(hide))
	for _, h := range hide {
		hidden[h] = true
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	if props, ok := out["properties"].(map[string]any); ok {
		kept := make(map[string]any, len(props))
		for k, v := range props {
			if !hidden[k] {
				kept[k] = v
			}
		}
		out["properties"] = kept
	}
	if req, ok := out["required"].([]any); ok {
		kept := make([]any, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok && hidden[s] {
				continue
			}
			kept = append(kept, v)
		}
		out["required"] = kept
	}
	return out
}

// PromptsResult is a merged prompts/list response.
type PromptsResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor *string  `json:"nextCursor"`
}

// ListPrompts merges every backend's prompt list with policy filtering and
// multiplex prefixing.
func (r *Relay) ListPrompts(ctx context.Context) (PromptsResult, error) {
	perBackend := fanOut(ctx, r, func(ctx context.Context, b Backend) ([]Prompt, error) {
		return b.ListPrompts(ctx)
	})
	var merged []Prompt
	for _, pb := range perBackend {
		for _, p := range pb.items {
			if !r.allowed(KindPrompt, p.Name) {
				continue
			}
			if r.multiplexing() {
				p.Name = pb.backend + "_" + p.Name
			}
			merged = append(merged, p)
		}
	}
	return PromptsResult{Prompts: merged, NextCursor: nil}, nil
}

// ResourcesResult is a merged resources/list response.
type ResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor *string    `json:"nextCursor"`
}

// ListResources merges every backend's resource list. Resource URIs are
// deliberately NOT prefixed with the backend name: prefixing would break
// clients that dereference the URI against the backend. Only display
// names carry the prefix.
func (r *Relay) ListResources(ctx context.Context) (ResourcesResult, error) {
	perBackend := fanOut(ctx, r, func(ctx context.Context, b Backend) ([]Resource, error) {
		return b.ListResources(ctx)
	})
	var merged []Resource
	for _, pb := range perBackend {
		for _, res := range pb.items {
			if !r.allowed(KindResource, res.URI) {
				continue
			}
			if r.multiplexing() && res.Name != "" {
				res.Name = pb.backend + "_" + res.Name
			}
			merged = append(merged, res)
		}
	}
	return ResourcesResult{Resources: merged, NextCursor: nil}, nil
}

// ResourceTemplatesResult is a merged resources/templates/list response.
type ResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
	NextCursor        *string            `json:"nextCursor"`
}

// ListResourceTemplates merges every backend's resource-template list.
func (r *Relay) ListResourceTemplates(ctx context.Context) (ResourceTemplatesResult, error) {
	perBackend := fanOut(ctx, r, func(ctx context.Context, b Backend) ([]ResourceTemplate, error) {
		return b.ListResourceTemplates(ctx)
	})
	var merged []ResourceTemplate
	for _, pb := range perBackend {
		for _, rt := range pb.items {
			if !r.allowed(KindResourceTemplate, rt.URITemplate) {
				continue
			}
			if r.multiplexing() && rt.Name != "" {
				rt.Name = pb.backend + "_" + rt.Name
			}
			merged = append(merged, rt)
		}
	}
	return ResourceTemplatesResult{ResourceTemplates: merged, NextCursor: nil}, nil
}

// Initialize merges every backend's initialize result: the lowest protocol
// version across backends, the union of capabilities, and the gateway's
// own server info.
func (r *Relay) Initialize(ctx context.Context) (InitializeResult, error) {
	results := make([]InitializeResult, len(r.backends))
	errs := make([]error, len(r.backends))
	var wg sync.WaitGroup
	for i, b := range r.backends {
		wg.Add(1)
		go func(i int, b Backend) {
			defer wg.Done()
			results[i], errs[i] = b.Initialize(ctx)
		}(i, b)
	}
	wg.Wait()

	merged := InitializeResult{ServerInfo: r.self, Capabilities: map[string]any{}}
	var versions []string
	for i, res := range results {
		if errs[i] != nil {
			r.log.Warn(ctx, "backend initialize failed", "backend", r.backends[i].Name(), "error", errs[i])
			continue
		}
		if res.ProtocolVersion != "" {
			versions = append(versions, res.ProtocolVersion)
		}
		for k, v := range res.Capabilities {
			merged.Capabilities[k] = v
		}
	}
	sort.Strings(versions)
	if len(versions) > 0 {
		merged.ProtocolVersion = versions[0]
	}
	return merged, nil
}

// RouteSingle resolves the backend a non-fan-out method should go to: the
// sole backend when not multiplexing, else ErrInvalidMethod.
func (r *Relay) RouteSingle() (Backend, error) {
	if r.multiplexing() {
		return nil, ErrInvalidMethod
	}
	if len(r.backends) == 0 {
		return nil, &Error{Msg: "no backends configured"}
	}
	return r.backends[0], nil
}
