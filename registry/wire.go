package registry

import (
	"encoding/json"
	"fmt"
)

// wireRegistry mirrors the camelCase registry document format.
// Schemas is a name->schema map on the wire, unlike Registry's
// in-memory representation which keeps a Name field on each Schema for
// convenient iteration.
type wireRegistry struct {
	SchemaVersion string                     `json:"schemaVersion"`
	Servers       []wireServer               `json:"servers,omitempty"`
	Schemas       map[string]json.RawMessage `json:"schemas,omitempty"`
	Tools         []ToolDefinition           `json:"tools,omitempty"`
	Agents        []AgentDefinition          `json:"agents,omitempty"`
}

// wireServer accepts either the stdio or url server shape from the wire
// format directly, without requiring callers to pre-split them.
type wireServer struct {
	Name       string        `json:"name"`
	Version    string        `json:"version,omitempty"`
	Deprecated string        `json:"deprecated,omitempty"`
	Desc       string        `json:"description,omitempty"`
	Stdio      *Stdio        `json:"stdio,omitempty"`
	URL        string        `json:"url,omitempty"`
	Transport  TransportKind `json:"transport,omitempty"`
	Auth       AuthKind      `json:"auth,omitempty"`
}

// ParseDocument decodes a registry document (camelCase JSON bytes)
// into a Registry IR. It does not validate cross-references;
// call Validate separately.
func ParseDocument(data []byte) (*Registry, error) {
	var w wireRegistry
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("registry: parse document: %w", err)
	}
	reg := &Registry{
		SchemaVersion: w.SchemaVersion,
		Tools:         w.Tools,
		Agents:        w.Agents,
		Schemas:       make(map[string]Schema, len(w.Schemas)),
	}
	for _, s := range w.Servers {
		srv := Server{
			Name:       s.Name,
			Version:    s.Version,
			Deprecated: s.Deprecated,
			Desc:       s.Desc,
		}
		switch {
		case s.Stdio != nil:
			srv.Stdio = s.Stdio
		case s.URL != "":
			srv.Remote = &Remote{URL: s.URL, Transport: s.Transport, Auth: s.Auth}
		default:
			return nil, fmt.Errorf("registry: server %q has neither stdio nor url", s.Name)
		}
		reg.Servers = append(reg.Servers, srv)
	}
	for name, doc := range w.Schemas {
		reg.Schemas[name] = Schema{Name: name, Doc: doc}
	}
	return reg, nil
}

// MarshalDocument encodes a Registry back into the wire document shape;
// ParseDocument accepts its output, so a Registry round-trips through it.
func MarshalDocument(r *Registry) ([]byte, error) {
	w := wireRegistry{
		SchemaVersion: r.SchemaVersion,
		Tools:         r.Tools,
		Agents:        r.Agents,
		Schemas:       make(map[string]json.RawMessage, len(r.Schemas)),
	}
	for name, s := range r.Schemas {
		w.Schemas[name] = s.Doc
	}
	for _, s := range r.Servers {
		ws := wireServer{Name: s.Name, Version: s.Version, Deprecated: s.Deprecated, Desc: s.Desc}
		if s.Stdio != nil {
			ws.Stdio = s.Stdio
		} else if s.Remote != nil {
			ws.URL = s.Remote.URL
			ws.Transport = s.Remote.Transport
			ws.Auth = s.Remote.Auth
		}
		w.Servers = append(w.Servers, ws)
	}
	return json.MarshalIndent(w, "", "  ")
}
