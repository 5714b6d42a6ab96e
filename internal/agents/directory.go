package agents

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/example/agentcoach/pkg/models"
)

// File is the on-disk layout of the agent directory
//
//	agents:
//	  - id: analyst-1
//	    name: Analyst
//	    description: Reads quarterly reports
//	    personality: methodical
type File struct {
	Agents []models.Agent `yaml:"agents"`
}

// Directory resolves agent identities. It is safe for concurrent use.
type Directory struct {
	mu     sync.RWMutex
	agents map[string]models.Agent
}

// NewDirectory creates a directory holding the given agents
func NewDirectory(agents ...models.Agent) (*Directory, error) {
	d := &Directory{agents: make(map[string]models.Agent)}
	for _, a := range agents {
		if err := d.Add(a); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// LoadFile reads a YAML agent directory
func LoadFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse agents YAML: %w", err)
	}
	return NewDirectory(f.Agents...)
}

// Add registers an agent. IDs must be unique.
func (d *Directory) Add(agent models.Agent) error {
	agent.ID = strings.TrimSpace(agent.ID)
	if agent.ID == "" {
		return fmt.Errorf("agent id is required: %w", models.ErrValidation)
	}
	if agent.Name == "" {
		agent.Name = agent.ID
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.agents[agent.ID]; ok {
		return fmt.Errorf("agent %s already registered: %w", agent.ID, models.ErrConflict)
	}
	d.agents[agent.ID] = agent
	return nil
}

// GetAgent returns the identity of an agent
func (d *Directory) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, models.ErrNotFound)
	}
	return &a, nil
}

// List returns all agents sorted by ID
func (d *Directory) List() []models.Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Agent, 0, len(d.agents))
	for _, a := range d.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
