// Package registry implements the Tool Composition Core's data model: the
// Registry intermediate representation loaded from a registry document, the
// Validator and Compiler that turn it into a CompiledRegistry, and the
// atomic Store that publishes hot-swappable snapshots to readers.
package registry

import "encoding/json"

// TransportKind enumerates the remote server transports a Server may speak.
type TransportKind string

const (
	TransportSSE            TransportKind = "sse"
	TransportStreamableHTTP TransportKind = "streamablehttp"
)

// AuthKind enumerates the optional OAuth marker on a remote Server.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthOAuth2 AuthKind = "oauth"
)

// Stdio describes a local subprocess backend.
type Stdio struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Remote describes a remote HTTP backend.
type Remote struct {
	URL       string        `json:"url"`
	Transport TransportKind `json:"transport"`
	Auth      AuthKind      `json:"auth,omitempty"`
}

// Server is a named backend: exactly one of Stdio or Remote is set.
type Server struct {
	Name       string  `json:"name"`
	Version    string  `json:"version,omitempty"`
	Deprecated string  `json:"deprecated,omitempty"`
	Desc       string  `json:"description,omitempty"`
	Stdio      *Stdio  `json:"stdio,omitempty"`
	Remote     *Remote `json:"url,omitempty"`
}

// IsRemote reports whether this server is backed by a Remote descriptor.
func (s *Server) IsRemote() bool { return s.Remote != nil }

// Schema is a named JSON-Schema fragment usable as a `$ref` target from
// tool input/output schemas.
type Schema struct {
	Name string          `json:"name"`
	Doc  json.RawMessage `json:"schema"`
}

// DependencyKind enumerates the closed set of things a `depends` entry may
// reference.
type DependencyKind string

const (
	DependsTool   DependencyKind = "tool"
	DependsAgent  DependencyKind = "agent"
	DependsSchema DependencyKind = "schema"
	DependsServer DependencyKind = "server"
)

// Dependency is one entry in a ToolDefinition's or AgentDefinition's
// `depends` list.
type Dependency struct {
	Kind    DependencyKind `json:"type"`
	Name    string         `json:"name"`
	Version string         `json:"version,omitempty"`
}

// Source describes a virtual tool that is a 1:1 rename/wrap of exactly one
// backend tool.
type Source struct {
	Server        string         `json:"server"`
	BackendTool   string         `json:"originalName,omitempty"`
	Defaults      map[string]any `json:"defaults,omitempty"`
	HideFields    []string       `json:"hideFields,omitempty"`
	ServerVersion string         `json:"serverVersion,omitempty"`
}

// Composition describes a tool defined by a pattern tree rather than a
// direct backend call.
type Composition struct {
	Pattern         json.RawMessage   `json:"pattern"`
	OutputTransform map[string]string `json:"outputTransform,omitempty"`
}

// ToolDefinition is a single registry tool entry: exactly one of Source or
// Composition must be set.
type ToolDefinition struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Version      string          `json:"version,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Deprecated   string          `json:"deprecated,omitempty"`
	Depends      []Dependency    `json:"depends,omitempty"`

	Server        string         `json:"server,omitempty"`
	OriginalName  string         `json:"originalName,omitempty"`
	Defaults      map[string]any `json:"defaults,omitempty"`
	HideFields    []string       `json:"hideFields,omitempty"`
	ServerVersion string         `json:"serverVersion,omitempty"`

	CompositionDef *Composition `json:"composition,omitempty"`
}

// IsSource reports whether this tool definition is a direct backend
// source (as opposed to a composition).
func (t *ToolDefinition) IsSource() bool { return t.CompositionDef == nil }

// AgentDefinition declares an agent's name, dependencies, and skills.
type AgentDefinition struct {
	Name    string       `json:"name"`
	Depends []Dependency `json:"depends,omitempty"`
	Skills  []string     `json:"skills,omitempty"`
}

// Registry is the persistent, hot-reloadable IR parsed from a registry
// document.
type Registry struct {
	SchemaVersion string            `json:"schemaVersion"`
	Servers       []Server          `json:"servers,omitempty"`
	Schemas       map[string]Schema `json:"-"`
	Tools         []ToolDefinition  `json:"tools,omitempty"`
	Agents        []AgentDefinition `json:"agents,omitempty"`
}

// ServerByName looks up a server by name.
func (r *Registry) ServerByName(name string) (*Server, bool) {
	for i := range r.Servers {
		if r.Servers[i].Name == name {
			return &r.Servers[i], true
		}
	}
	return nil, false
}

// ToolByName looks up a tool definition by name.
func (r *Registry) ToolByName(name string) (*ToolDefinition, bool) {
	for i := range r.Tools {
		if r.Tools[i].Name == name {
			return &r.Tools[i], true
		}
	}
	return nil, false
}

// AgentByName looks up an agent definition by name.
func (r *Registry) AgentByName(name string) (*AgentDefinition, bool) {
	for i := range r.Agents {
		if r.Agents[i].Name == name {
			return &r.Agents[i], true
		}
	}
	return nil, false
}
