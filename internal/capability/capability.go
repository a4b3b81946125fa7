package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Field types understood by the argument validator. They mirror the JSON
// schema primitive types the reasoning model is told about.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Field describes one argument of a tool.
type Field struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Spec declares a tool's name, purpose and argument schema. Validation runs
// against the Spec before the tool is ever invoked.
type Spec struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Fields      []Field `json:"fields"`
}

// JSONSchema renders the spec's arguments as a JSON-schema object suitable
// for a chat-completions tool definition.
func (s Spec) JSONSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(s.Fields))
	var required []string
	for _, f := range s.Fields {
		p := map[string]interface{}{
			"type":        f.Type,
			"description": f.Description,
		}
		if f.Type == TypeArray {
			p["items"] = map[string]interface{}{"type": TypeObject}
		}
		if len(f.Enum) > 0 {
			p["enum"] = f.Enum
		}
		props[f.Name] = p
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Result is the typed outcome of a tool invocation: success with a payload,
// or failure with a reason. Failures are data, not orchestrator errors; they
// are folded back into the session history for the model to react to.
type Result struct {
	Data  map[string]interface{} `json:"data,omitempty"`
	Error string                 `json:"error,omitempty"`
}

// OK wraps a successful payload.
func OK(data map[string]interface{}) Result {
	return Result{Data: data}
}

// Failure builds a failed result with a formatted reason.
func Failure(format string, args ...interface{}) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Failed reports whether the invocation failed.
func (r Result) Failed() bool { return r.Error != "" }

// Payload renders the result as JSON for the reasoning client's tool turn.
func (r Result) Payload() string {
	if r.Failed() {
		b, _ := json.Marshal(map[string]string{"error": r.Error})
		return string(b)
	}
	b, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Sprintf(`{"error":"unencodable tool result: %v"}`, err)
	}
	return string(b)
}

// Call is a reasoning-client request to invoke a named capability.
type Call struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// Tool is one callable capability in the catalog.
type Tool interface {
	Spec() Spec
	Invoke(ctx context.Context, args map[string]interface{}) Result
}

// Registry holds the fixed tool catalog keyed by name.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry validates specs and ensures required tools exist.
func NewRegistry(tools []Tool, required []string) (*Registry, error) {
	reg := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		spec := tool.Spec()
		if err := ValidateSpec(spec); err != nil {
			return nil, fmt.Errorf("tool %s spec invalid: %w", spec.Name, err)
		}
		if _, ok := reg.tools[spec.Name]; ok {
			return nil, fmt.Errorf("duplicate tool name: %s", spec.Name)
		}
		reg.tools[spec.Name] = tool
		reg.order = append(reg.order, spec.Name)
	}
	for _, r := range required {
		if _, ok := reg.tools[r]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrToolMissing, r)
		}
	}
	return reg, nil
}

// Tool returns the registered tool for a name.
func (r *Registry) Tool(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Specs returns all tool specs in registration order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Spec())
	}
	return out
}

// CatalogDoc returns a human-readable description of the catalog, intended to
// be embedded into reasoning prompts.
func (r *Registry) CatalogDoc() string {
	var b strings.Builder
	for i, name := range r.order {
		if i > 0 {
			b.WriteString("\n")
		}
		spec := r.tools[name].Spec()
		fmt.Fprintf(&b, "Tool: %s\nPurpose: %s\n", spec.Name, spec.Description)
		if len(spec.Fields) > 0 {
			b.WriteString("Arguments:\n")
			for _, f := range spec.Fields {
				req := "optional"
				if f.Required {
					req = "required"
				}
				fmt.Fprintf(&b, "- %s (%s, %s): %s\n", f.Name, f.Type, req, f.Description)
			}
		}
	}
	return b.String()
}

// Dispatch resolves, validates and executes one tool call. Unknown tools and
// schema violations yield a failed Result without touching the capability;
// the caller folds that failure into session history.
func (r *Registry) Dispatch(ctx context.Context, call Call) Result {
	tool, ok := r.Tool(call.Name)
	if !ok {
		return Failure("unknown tool: %s", call.Name)
	}
	if err := ValidateArgs(tool.Spec(), call.Args); err != nil {
		return Failure("%v", err)
	}
	return tool.Invoke(ctx, call.Args)
}

// ValidateSpec checks that a spec is well formed.
func ValidateSpec(spec Spec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(spec.Description) == "" {
		return fmt.Errorf("description is required")
	}
	seen := make(map[string]struct{}, len(spec.Fields))
	for _, f := range spec.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("field name is required")
		}
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("duplicate field: %s", f.Name)
		}
		seen[f.Name] = struct{}{}
		switch f.Type {
		case TypeString, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		default:
			return fmt.Errorf("field %s has unknown type %q", f.Name, f.Type)
		}
	}
	return nil
}

// ValidateArgs checks provided arguments against the spec. It is a strict
// precondition of Invoke: a failure here means the tool must not run.
func ValidateArgs(spec Spec, args map[string]interface{}) error {
	fields := make(map[string]Field, len(spec.Fields))
	for _, f := range spec.Fields {
		fields[f.Name] = f
		if !f.Required {
			continue
		}
		if _, ok := args[f.Name]; !ok {
			return &ValidationError{Tool: spec.Name, Field: f.Name, Reason: "required argument missing"}
		}
	}
	for name, value := range args {
		f, ok := fields[name]
		if !ok {
			return &ValidationError{Tool: spec.Name, Field: name, Reason: "unknown argument"}
		}
		if value == nil {
			continue
		}
		if err := checkType(f, value); err != nil {
			return &ValidationError{Tool: spec.Name, Field: name, Reason: err.Error()}
		}
	}
	return nil
}

func checkType(f Field, value interface{}) error {
	switch f.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			return fmt.Errorf("value %q not in enum %v", s, f.Enum)
		}
	case TypeNumber:
		switch value.(type) {
		case float64, float32, int, int64, json.Number:
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case TypeArray:
		if _, ok := value.([]interface{}); !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
	case TypeObject:
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("expected object, got %T", value)
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
