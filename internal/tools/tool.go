package tools

import (
	"sort"

	"github.com/tmc/langchaingo/llms"
)

// Tool describes a function the model may call to hand back structured output.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema for the tool's inputs
	// Payload is the gjson path of the submitted value inside the call
	// arguments. Empty means the arguments themselves.
	Payload() string
}

// Registry manages the set of available tools.
type Registry struct {
	Tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{
		Tools: make(map[string]Tool),
	}
}

// DefaultRegistry holds the three submission tools used by the workflow roles.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(SubmitPhases())
	r.Register(SubmitTasks())
	r.Register(SubmitAsset())
	return r
}

func (r *Registry) Register(t Tool) {
	r.Tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool {
	return r.Tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Tools))
	for name := range r.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definition converts a tool into the function definition offered to the model.
func Definition(t Tool) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}
