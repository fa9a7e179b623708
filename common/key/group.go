// Package key holds the node identity and network/group configuration
// that a Context is constructed from: replica addresses, symmetric
// keys, and the derived fault-tolerance thresholds.
package key

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/rbc-go/rbc/types"
)

// Node is one participant's network identity.
type Node struct {
	ID      types.Replica `toml:"id"`
	Address string        `toml:"address"`
}

// Group lists every participant in the system and the fault bound the
// protocol is configured to tolerate. n must be at least 3f+1 for both
// Bracha RBC and CT-RBC to be safe (spec.md §1).
type Group struct {
	Nodes     []Node `toml:"nodes"`
	NumFaults int    `toml:"num_faults"`
}

// NumNodes is n, the total participant count.
func (g *Group) NumNodes() int {
	return len(g.Nodes)
}

// HonestMajority is n-f: the echo/ready delivery threshold.
func (g *Group) HonestMajority() int {
	return g.NumNodes() - g.NumFaults
}

// ReconstructionThreshold is f+1: the ready-amplification threshold
// and the minimum number of shards CT-RBC needs to reconstruct a
// payload.
func (g *Group) ReconstructionThreshold() int {
	return g.NumFaults + 1
}

// Validate checks the n >= 3f+1 honest-majority requirement spec.md §1
// demands of both RBC variants.
func (g *Group) Validate() error {
	if g.NumFaults < 0 {
		return errors.Errorf("key: negative num_faults %d", g.NumFaults)
	}
	if g.NumNodes() < 3*g.NumFaults+1 {
		return errors.Errorf("key: n=%d is below the 3f+1 requirement for f=%d", g.NumNodes(), g.NumFaults)
	}
	return nil
}

// Find returns the Node for a given replica id, or false if absent.
func (g *Group) Find(id types.Replica) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// KeyMap holds the symmetric key shared between this node and every
// peer, used to MAC outbound wrapper frames and verify inbound ones
// (spec.md §3, §4.5).
type KeyMap map[types.Replica][]byte

// Config is everything needed to construct a Context (spec.md §6).
type Config struct {
	Self      types.Replica `toml:"self"`
	Group     Group         `toml:"group"`
	SyncAddr  string        `toml:"sync_addr"`
	SyncPort  int           `toml:"sync_port"`
	SecretKey KeyMap        `toml:"-"`
	Byz       bool          `toml:"-"`
	Crash     bool          `toml:"-"`
}

// fileConfig mirrors Config but with a TOML-friendly key map, since
// TOML has no notion of a Replica-keyed map out of the box.
type fileConfig struct {
	Self     types.Replica `toml:"self"`
	Group    Group         `toml:"group"`
	SyncAddr string        `toml:"sync_addr"`
	SyncPort int           `toml:"sync_port"`
	Keys     []keyEntry    `toml:"keys"`
}

type keyEntry struct {
	Replica types.Replica `toml:"replica"`
	Key     string        `toml:"key"` // hex-encoded
}

// LoadConfig reads node configuration from a TOML file, following the
// pattern drand/key uses to load group and key-share files from disk.
func LoadConfig(path string) (*Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, errors.Wrapf(err, "key: decoding config %s", path)
	}

	keys := make(KeyMap, len(fc.Keys))
	for _, ke := range fc.Keys {
		raw, err := decodeHexKey(ke.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "key: decoding key for replica %d", ke.Replica)
		}
		keys[ke.Replica] = raw
	}

	cfg := &Config{
		Self:      fc.Self,
		Group:     fc.Group,
		SyncAddr:  fc.SyncAddr,
		SyncPort:  fc.SyncPort,
		SecretKey: keys,
	}
	if err := cfg.Group.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
