// Package tools holds the tool registry and the tools the agent dispatches
// actions to.
package tools

import (
	"errors"
	"fmt"
	"strings"

	"ragagent/internal/domain"
)

var (
	ErrToolExists   = errors.New("tool already registered")
	ErrToolNotFound = errors.New("tool not found")
)

// Registry maps tool names to tools. It is filled at startup and only read
// afterwards.
type Registry struct {
	tools map[string]domain.Tool
	order []string
}

// NewRegistry registers tools in order.
func NewRegistry(tools ...domain.Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]domain.Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t under its metadata name.
func (r *Registry) Register(t domain.Tool) error {
	name := t.Metadata().Name
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if r.tools == nil {
		r.tools = make(map[string]domain.Tool)
	}
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrToolExists, name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get looks a tool up by exact name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	if t, ok := r.tools[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

// List returns tools in registration order.
func (r *Registry) List() []domain.Tool {
	out := make([]domain.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Descriptions returns the metadata of every tool in registration order.
func (r *Registry) Descriptions() []domain.ToolMetadata {
	out := make([]domain.ToolMetadata, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Metadata())
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }

// SanitizeName turns a product or collection name into a tool name.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer(" ", "-", ",", "-").Replace(name)
	return strings.ToLower(name)
}
