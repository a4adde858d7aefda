package mcpclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tarsy-chain/tarsy/pkg/config"
)

func TestNewMultiServerClientStartsWithNoSessions(t *testing.T) {
	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{})
	c := NewMultiServerClient(registry, nil)
	assert.Empty(t, c.FailedServers())
}

func TestInitializeRecordsFailureForUnknownServer(t *testing.T) {
	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{})
	c := NewMultiServerClient(registry, nil)
	c.Initialize(t.Context(), []string{"missing-server"})

	failed := c.FailedServers()
	assert.Contains(t, failed, "missing-server")
}

func TestCloseOnUnconnectedClientIsNoOp(t *testing.T) {
	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{})
	c := NewMultiServerClient(registry, nil)
	assert.NoError(t, c.Close())
}
