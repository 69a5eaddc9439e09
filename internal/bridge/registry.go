package bridge

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// Handler implements one extension action. Returned data is wrapped into the
// success envelope; an *ActionError return controls the failure status.
type Handler func(ctx context.Context, data map[string]any) (any, *ActionError)

// Schema is a minimal parameter schema for extension actions: per-field type
// and enum constraints plus a required list.
type Schema struct {
	Properties map[string]SchemaField `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
}

// SchemaField constrains one data field.
type SchemaField struct {
	// Type is one of "string", "number", "boolean", "object", "array".
	Type string   `json:"type,omitempty"`
	Enum []string `json:"enum,omitempty"`
}

// Action is a registered extension action.
type Action struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
	Handler     Handler `json:"-"`
}

var actionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// Registry holds extension actions registered by host plugins.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Action
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*Action)}
}

// Register adds an extension action. Registration fails on invalid names,
// duplicates, or a nil handler.
func (r *Registry) Register(action *Action) error {
	if action == nil || action.Handler == nil {
		return fmt.Errorf("action handler is required")
	}
	if !actionNamePattern.MatchString(action.Name) {
		return fmt.Errorf("invalid action name %q", action.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[action.Name]; exists {
		return fmt.Errorf("action %q already registered", action.Name)
	}
	r.actions[action.Name] = action
	return nil
}

// Unregister removes an extension action; removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actions, name)
}

// Get returns the action with the given name, or nil.
func (r *Registry) Get(name string) *Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actions[name]
}

// Names returns registered action names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks data against the action's schema. Fields missing from the
// schema pass through unchecked.
func (s *Schema) Validate(data map[string]any) error {
	if s == nil {
		return nil
	}
	for _, field := range s.Required {
		if _, ok := data[field]; !ok {
			return fmt.Errorf("missing required field %q", field)
		}
	}
	for name, spec := range s.Properties {
		value, ok := data[name]
		if !ok || value == nil {
			continue
		}
		if err := spec.check(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (f SchemaField) check(name string, value any) error {
	switch f.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q must be a string", name)
		}
		if len(f.Enum) > 0 && !containsString(f.Enum, s) {
			return fmt.Errorf("field %q must be one of %v", name, f.Enum)
		}
	case "number":
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("field %q must be a number", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q must be a boolean", name)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("field %q must be an object", name)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("field %q must be an array", name)
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
