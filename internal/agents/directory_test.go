package agents

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/agentcoach/pkg/models"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  - id: analyst-1
    name: Analyst
    description: Reads quarterly reports
    personality: methodical
  - id: scout
`), 0o644))

	dir, err := LoadFile(path)
	require.NoError(t, err)

	agent, err := dir.GetAgent(context.Background(), "analyst-1")
	require.NoError(t, err)
	assert.Equal(t, "Analyst", agent.Name)
	assert.Equal(t, "methodical", agent.Personality)

	scout, err := dir.GetAgent(context.Background(), "scout")
	require.NoError(t, err)
	assert.Equal(t, "scout", scout.Name)

	assert.Len(t, dir.List(), 2)
	assert.Equal(t, "analyst-1", dir.List()[0].ID)
}

func TestGetAgentNotFound(t *testing.T) {
	dir, err := NewDirectory()
	require.NoError(t, err)
	_, err = dir.GetAgent(context.Background(), "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAddValidates(t *testing.T) {
	dir, err := NewDirectory(models.Agent{ID: "a"})
	require.NoError(t, err)
	assert.ErrorIs(t, dir.Add(models.Agent{ID: " "}), models.ErrValidation)
	assert.ErrorIs(t, dir.Add(models.Agent{ID: "a"}), models.ErrConflict)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents: [:"), 0o644))
	_, err = LoadFile(path)
	assert.Error(t, err)
}
