package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nexusd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeTempConfig(t, `
nexus_opts:
  nvmf_replica_port: 4421
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NexusOpts.NVMfReplicaPort != 4421 {
		t.Fatalf("nvmf_replica_port = %d, want 4421", cfg.NexusOpts.NVMfReplicaPort)
	}
	if cfg.ReactorCount != 1 {
		t.Fatalf("reactor_count = %d, want default 1", cfg.ReactorCount)
	}
	if cfg.ErrMonitoringOpts.EnableErrStore {
		t.Fatal("expected enable_err_store to default to false")
	}
}

func TestLoadRejectsZeroErrStoreSizeWhenEnabled(t *testing.T) {
	path := writeTempConfig(t, `
err_monitoring_opts:
  enable_err_store: true
  err_store_size: 0
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for enable_err_store with zero err_store_size")
	}
}

func TestErrStoreCapacityZeroWhenDisabled(t *testing.T) {
	cfg := Default()
	if cfg.ErrStoreCapacity() != 0 {
		t.Fatalf("ErrStoreCapacity() = %d, want 0 when monitoring disabled", cfg.ErrStoreCapacity())
	}
}

func TestMonitoringOptionsRoundTrip(t *testing.T) {
	path := writeTempConfig(t, `
err_monitoring_opts:
  enable_err_store: true
  err_store_size: 64
  fault_child_on_error: true
  max_retry_errors: 5
  max_error_age_ns: 1000000000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts := cfg.MonitoringOptions()
	if opts.MaxRetryErrors != 5 || !opts.FaultChildOnMax || opts.MaxErrorAgeNS != 1_000_000_000 {
		t.Fatalf("MonitoringOptions() = %+v, unexpected", opts)
	}
	if cfg.ErrStoreCapacity() != 64 {
		t.Fatalf("ErrStoreCapacity() = %d, want 64", cfg.ErrStoreCapacity())
	}
}
