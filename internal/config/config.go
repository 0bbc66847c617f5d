// Package config loads node identity and cluster membership the way the
// server bootstrap needs it: a node.json file under the data directory if
// present, environment variables otherwise, and hard defaults as the last
// resort. Nothing here is a process-wide singleton — callers construct a
// Config once at startup and thread it through explicitly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PeerConfig names one cluster peer.
type PeerConfig struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
}

// NodeConfig is this node's identity and its view of the cluster.
type NodeConfig struct {
	NodeID string       `json:"node_id"`
	Addr   string       `json:"bind_addr"`
	Peers  []PeerConfig `json:"peers"`
}

// Standalone reports whether this node has no configured peers — in which
// case replication is disabled but the protocol endpoints still exist.
func (c NodeConfig) Standalone() bool {
	return len(c.Peers) == 0
}

const (
	defaultBindAddr = "127.0.0.1:7700"
	nodeConfigFile  = "node.json"
)

// LoadOrDefault loads NodeConfig from {dataDir}/node.json. A missing file
// falls back to environment variables (NODE_ID, BIND_ADDR, PEERS); an
// unparsable file falls back the same way rather than failing startup,
// since a corrupt node.json should not stop an otherwise-healthy node from
// booting in standalone mode.
func LoadOrDefault(dataDir string) (NodeConfig, error) {
	path := filepath.Join(dataDir, nodeConfigFile)
	data, err := os.ReadFile(path)
	if err == nil {
		var cfg NodeConfig
		if jsonErr := json.Unmarshal(data, &cfg); jsonErr == nil {
			if cfg.NodeID == "" {
				cfg.NodeID = defaultNodeID()
			}
			if cfg.Addr == "" {
				cfg.Addr = defaultBindAddr
			}
			return cfg, nil
		}
		// Fall through to env/defaults below; an invalid node.json is not
		// fatal, but the caller should know it was ignored.
		return fromEnv(), fmt.Errorf("config: %s is not valid JSON, falling back to environment", path)
	}
	if !os.IsNotExist(err) {
		return NodeConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return fromEnv(), nil
}

func fromEnv() NodeConfig {
	nodeID := os.Getenv("NODE_ID")
	if nodeID == "" {
		nodeID = defaultNodeID()
	}
	addr := os.Getenv("BIND_ADDR")
	if addr == "" {
		addr = defaultBindAddr
	}
	return NodeConfig{
		NodeID: nodeID,
		Addr:   addr,
		Peers:  parsePeers(os.Getenv("PEERS")),
	}
}

func defaultNodeID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "node1"
}

// parsePeers parses the "id=addr,id=addr" PEERS format, trimming whitespace
// and dropping empty entries.
func parsePeers(raw string) []PeerConfig {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var peers []PeerConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		id := strings.TrimSpace(parts[0])
		addr := strings.TrimSpace(parts[1])
		if id == "" || addr == "" {
			continue
		}
		peers = append(peers, PeerConfig{NodeID: id, Addr: addr})
	}
	return peers
}

// MemoryBudgetConfig bounds write admission. Defaults match the ones the
// index manager has always used; every field is independently overridable
// via environment variables.
type MemoryBudgetConfig struct {
	MaxBufferMB          int
	MaxConcurrentWriters int
	MaxDocMB             int
}

const (
	DefaultMaxBufferMB          = 31
	DefaultMaxConcurrentWriters = 40
	DefaultMaxDocMB             = 3
)

// MemoryBudgetFromEnv reads MAX_BUFFER_MB, MAX_CONCURRENT_WRITERS, and
// MAX_DOC_MB, falling back to defaults for anything absent or unparsable.
func MemoryBudgetFromEnv() MemoryBudgetConfig {
	return MemoryBudgetConfig{
		MaxBufferMB:          envInt("MAX_BUFFER_MB", DefaultMaxBufferMB),
		MaxConcurrentWriters: envInt("MAX_CONCURRENT_WRITERS", DefaultMaxConcurrentWriters),
		MaxDocMB:             envInt("MAX_DOC_MB", DefaultMaxDocMB),
	}
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// ToBytes converts the megabyte-denominated config into byte counts used by
// the memory budget enforcement.
func (c MemoryBudgetConfig) ToBytes() (maxBufferBytes, maxDocBytes int64) {
	return int64(c.MaxBufferMB) * 1024 * 1024, int64(c.MaxDocMB) * 1024 * 1024
}

// IntervalsFromEnv reads the two background-loop intervals in seconds,
// SYNC_INTERVAL_SECS and ROLLUP_INTERVAL_SECS.
type Intervals struct {
	SyncIntervalSecs   int
	RollupIntervalSecs int
}

const (
	DefaultSyncIntervalSecs   = 60
	DefaultRollupIntervalSecs = 300
)

func IntervalsFromEnv() Intervals {
	return Intervals{
		SyncIntervalSecs:   envInt("SYNC_INTERVAL_SECS", DefaultSyncIntervalSecs),
		RollupIntervalSecs: envInt("ROLLUP_INTERVAL_SECS", DefaultRollupIntervalSecs),
	}
}
