package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigDirHonorsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BILISYNC_CONFIG_DIR", dir)
	if got := defaultConfigDir(); got != dir {
		t.Fatalf("expected %q, got %q", dir, got)
	}
}

func TestLoadOrDefaultConfigPersistsDefaultsOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	repo, err := openRepository(dir)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	defer repo.Close()

	snap, err := loadOrDefaultConfig(repo, dir)
	if err != nil {
		t.Fatalf("load or default config: %v", err)
	}
	if snap.ConfigDir != dir {
		t.Fatalf("expected config dir %q, got %q", dir, snap.ConfigDir)
	}

	loaded, ok, err := repo.LoadConfig()
	if err != nil || !ok {
		t.Fatalf("expected the default snapshot to be persisted, ok=%v err=%v", ok, err)
	}
	if loaded.MaxRetry != snap.MaxRetry {
		t.Fatalf("expected persisted snapshot to match the returned one")
	}
}

func TestOpenRepositoryCreatesConfigDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "config")
	repo, err := openRepository(dir)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	defer repo.Close()

	if _, err := os.Stat(filepath.Join(dir, "data.sqlite")); err != nil {
		t.Fatalf("expected sqlite file to exist: %v", err)
	}
}
