package actions

import (
	"sort"
	"sync"

	"github.com/rendis/sopflow/pkg/schema"
)

// AgentInfo is a summary of a registered agent for listing.
type AgentInfo struct {
	Name  string     `json:"name"`
	Tools []ToolInfo `json:"tools,omitempty"`
}

// Registry is the thread-safe agent registry. It is populated once at startup
// and passed to the executor; runs only read from it.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]Agent),
	}
}

// Register adds an agent. Returns an error on a duplicate name.
func (r *Registry) Register(agent Agent) error {
	if agent == nil {
		return schema.NewError(schema.ErrCodeValidation, "agent is nil")
	}
	name := agent.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "agent name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "agent %q already registered", name)
	}

	r.agents[name] = agent
	return nil
}

// Get retrieves an agent by name.
func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[name]
	return agent, ok
}

// HasAgent reports whether name is registered.
func (r *Registry) HasAgent(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// HasTool reports whether agent is registered and exposes tool.
func (r *Registry) HasTool(agent, tool string) bool {
	a, ok := r.Get(agent)
	if !ok {
		return false
	}
	_, ok = a.GetTool(tool)
	return ok
}

// List returns every agent with its tools, sorted by name.
func (r *Registry) List() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]AgentInfo, 0, len(r.agents))
	for name, a := range r.agents {
		info := AgentInfo{Name: name}
		if lister, ok := a.(ToolLister); ok {
			info.Tools = lister.Tools()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
