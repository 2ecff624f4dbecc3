package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"vega-agent/backend/internal/adapter"
)

// Registry holds the tools available to the model, keyed by name.
// Each tool's parameter schema is compiled once at registration.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// NewRegistry creates a registry holding the given tools
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]registeredTool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique and schemas must compile.
func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	schema, err := compileSchema(t.Schema())
	if err != nil {
		return fmt.Errorf("tool %s schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = registeredTool{tool: t, schema: schema}
	return nil
}

// Get looks up a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	return rt.tool, ok
}

// Validate checks params against the named tool's schema
func (r *Registry) Validate(name string, params map[string]interface{}) error {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	// the validator expects JSON-decoded values
	normalized, err := normalizeJSON(params)
	if err != nil {
		return err
	}
	return rt.schema.Validate(normalized)
}

// Names returns the registered tool names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the tool schemas offered to the model, sorted by name
func (r *Registry) Definitions() []adapter.Tool {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]adapter.Tool, 0, len(names))
	for _, name := range names {
		t := r.tools[name].tool
		defs = append(defs, adapter.Tool{
			Type: "function",
			Function: adapter.FunctionDefinition{
				Name:        name,
				Description: t.Description(),
				Parameters:  t.Schema(),
			},
		})
	}
	return defs
}

func compileSchema(params map[string]interface{}) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

func normalizeJSON(params map[string]interface{}) (interface{}, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
