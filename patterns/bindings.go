package patterns

import "encoding/json"

// BindingKind enumerates the closed set of data-binding forms: the four
// pipeline bindings plus Saga's Merge and Static additions.
type BindingKind string

const (
	BindInput     BindingKind = "input"
	BindStep      BindingKind = "step"
	BindConstant  BindingKind = "constant"
	BindConstruct BindingKind = "construct"
	BindMerge     BindingKind = "merge"
	BindStatic    BindingKind = "static"
)

// Binding is the data-binding tagged union: Input(path), Step(id, path),
// Constant(value), Construct({field: binding}), plus Saga's Merge([binding])
// and Static(value).
type Binding struct {
	Kind BindingKind `json:"kind"`

	Path string `json:"path,omitempty"` // Input, Step

	StepID string `json:"stepId,omitempty"` // Step

	Value any `json:"value,omitempty"` // Constant, Static

	Construct map[string]Binding `json:"construct,omitempty"`

	Merge []Binding `json:"merge,omitempty"`
}

func (b *Binding) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["input"]; ok {
		var path string
		if err := json.Unmarshal(v, &path); err != nil {
			return err
		}
		b.Kind, b.Path = BindInput, path
		return nil
	}
	if v, ok := raw["step"]; ok {
		var s struct {
			ID   string `json:"id"`
			Path string `json:"path,omitempty"`
		}
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		b.Kind, b.StepID, b.Path = BindStep, s.ID, s.Path
		return nil
	}
	if v, ok := raw["constant"]; ok {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		b.Kind, b.Value = BindConstant, val
		return nil
	}
	if v, ok := raw["construct"]; ok {
		var m map[string]Binding
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		b.Kind, b.Construct = BindConstruct, m
		return nil
	}
	if v, ok := raw["merge"]; ok {
		var list []Binding
		if err := json.Unmarshal(v, &list); err != nil {
			return err
		}
		b.Kind, b.Merge = BindMerge, list
		return nil
	}
	if v, ok := raw["static"]; ok {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		b.Kind, b.Value = BindStatic, val
		return nil
	}
	return &UnknownPatternError{Raw: string(data)}
}

func (b Binding) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case BindInput:
		return json.Marshal(map[string]any{"input": b.Path})
	case BindStep:
		return json.Marshal(map[string]any{"step": map[string]any{"id": b.StepID, "path": b.Path}})
	case BindConstant:
		return json.Marshal(map[string]any{"constant": b.Value})
	case BindConstruct:
		return json.Marshal(map[string]any{"construct": b.Construct})
	case BindMerge:
		return json.Marshal(map[string]any{"merge": b.Merge})
	case BindStatic:
		return json.Marshal(map[string]any{"static": b.Value})
	default:
		return nil, &UnknownPatternError{Raw: string(b.Kind)}
	}
}

// OutputBindingKind enumerates Saga's `output` forms.
type OutputBindingKind string

const (
	OutputAll    OutputBindingKind = "all"
	OutputStep   OutputBindingKind = "step"
	OutputObject OutputBindingKind = "object"
)

// OutputBinding describes how a Saga assembles its final result:
// All (default, map of step-id -> result), Step(id, path?), or
// Object(field -> binding).
type OutputBinding struct {
	Kind   OutputBindingKind  `json:"kind"`
	StepID string             `json:"stepId,omitempty"`
	Path   string             `json:"path,omitempty"`
	Object map[string]Binding `json:"object,omitempty"`
}
