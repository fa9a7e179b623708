package key_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbc-go/rbc/common/key"
	"github.com/rbc-go/rbc/types"
)

func TestGroupValidate(t *testing.T) {
	g := key.Group{
		Nodes:     make([]key.Node, 4),
		NumFaults: 1,
	}
	require.NoError(t, g.Validate())

	g.NumFaults = -1
	assert.Error(t, g.Validate())

	g.NumFaults = 2 // n=4 < 3*2+1=7
	assert.Error(t, g.Validate())
}

func TestGroupThresholds(t *testing.T) {
	g := key.Group{Nodes: make([]key.Node, 7), NumFaults: 2}
	assert.Equal(t, 7, g.NumNodes())
	assert.Equal(t, 5, g.HonestMajority())
	assert.Equal(t, 3, g.ReconstructionThreshold())
}

func TestGroupFind(t *testing.T) {
	g := key.Group{Nodes: []key.Node{
		{ID: 0, Address: "127.0.0.1:9000"},
		{ID: 1, Address: "127.0.0.1:9001"},
	}}
	n, ok := g.Find(1)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:9001", n.Address)

	_, ok = g.Find(99)
	assert.False(t, ok)
}

const sampleConfig = `
self = 0
sync_addr = "127.0.0.1"
sync_port = 9500

[group]
num_faults = 1

[[group.nodes]]
id = 0
address = "127.0.0.1:9000"

[[group.nodes]]
id = 1
address = "127.0.0.1:9001"

[[group.nodes]]
id = 2
address = "127.0.0.1:9002"

[[group.nodes]]
id = 3
address = "127.0.0.1:9003"

[[keys]]
replica = 0
key = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

[[keys]]
replica = 1
key = "11112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node0.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := key.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, types.Replica(0), cfg.Self)
	assert.Equal(t, 4, cfg.Group.NumNodes())
	assert.Equal(t, "127.0.0.1", cfg.SyncAddr)
	assert.Equal(t, 9500, cfg.SyncPort)
	assert.Len(t, cfg.SecretKey, 2)
	assert.Len(t, cfg.SecretKey[0], 32)
}

func TestLoadConfigRejectsInsufficientNodes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	bad := `
self = 0
[group]
num_faults = 3
[[group.nodes]]
id = 0
address = "127.0.0.1:9000"
`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o600))

	_, err := key.LoadConfig(path)
	assert.Error(t, err)
}
