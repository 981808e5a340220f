package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err == nil {
		t.Fatal("expected error: node_id is required with no file and no env override")
	}
	_ = cfg
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	content := []byte(`
node_id: node-1
bind_addr: 0.0.0.0:7420
replication:
  replication_factor: 5
  write_quorum: 3
  read_quorum: 2
`)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NodeID != "node-1" {
		t.Fatalf("expected node-1, got %s", cfg.NodeID)
	}
	if cfg.Replication.ReplicationFactor != 5 || cfg.Replication.WriteQuorum != 3 {
		t.Fatalf("unexpected replication config: %+v", cfg.Replication)
	}
	// Storage defaults should still apply since the file didn't override them.
	if cfg.Storage.CompressionAlgorithm != "balanced" {
		t.Fatalf("expected default compression algorithm, got %s", cfg.Storage.CompressionAlgorithm)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AEROLITHDB_NODE_ID", "node-from-env")
	t.Setenv("AEROLITHDB_REPLICATION_FACTOR", "7")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NodeID != "node-from-env" {
		t.Fatalf("expected env override, got %s", cfg.NodeID)
	}
	if cfg.Replication.ReplicationFactor != 7 {
		t.Fatalf("expected replication factor 7, got %d", cfg.Replication.ReplicationFactor)
	}
}

func TestClampQuorumNeverExceedsReplicationFactor(t *testing.T) {
	t.Setenv("AEROLITHDB_NODE_ID", "node-1")
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	content := []byte(`
replication:
  replication_factor: 2
  write_quorum: 10
  read_quorum: 10
`)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Replication.WriteQuorum != 2 || cfg.Replication.ReadQuorum != 2 {
		t.Fatalf("expected quorums clamped to replication factor, got %+v", cfg.Replication)
	}
}
