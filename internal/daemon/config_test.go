package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Name != "suimate" {
		t.Errorf("name = %q", cfg.Name)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("default store = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.Context.RefreshThreshold != 5 || cfg.Context.Window != 10 {
		t.Errorf("context defaults = %+v", cfg.Context)
	}
	if cfg.Store.VectorDims != 1536 {
		t.Errorf("vector dims = %d, want 1536", cfg.Store.VectorDims)
	}
}

func TestLoadConfigResolvesEnvRefs(t *testing.T) {
	t.Setenv("TEST_SUIMATE_SECRET", "from-env")
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"name": "custom",
		"server": {"addr": ":9999", "auth_secret": "$TEST_SUIMATE_SECRET"},
		"store": {"driver": "postgres", "postgres_url": "postgres://localhost/suimate"},
		"context": {"refresh_threshold": 7}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.AuthSecret != "from-env" {
		t.Errorf("auth secret = %q, want env-resolved value", cfg.Server.AuthSecret)
	}
	if cfg.Server.Addr != ":9999" || cfg.Store.Driver != "postgres" {
		t.Errorf("explicit values lost: %+v", cfg)
	}
	if cfg.Context.RefreshThreshold != 7 {
		t.Errorf("threshold = %d, want 7", cfg.Context.RefreshThreshold)
	}
	if cfg.Context.Window != 10 {
		t.Errorf("unset fields must still default: window = %d", cfg.Context.Window)
	}
}

func TestDefaultConfigMatrixAllowList(t *testing.T) {
	t.Setenv("MATRIX_ALLOWED_USERS", "@a:example.com, @b:example.com")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Matrix.AllowedUsers) != 2 ||
		cfg.Matrix.AllowedUsers[0] != "@a:example.com" ||
		cfg.Matrix.AllowedUsers[1] != "@b:example.com" {
		t.Errorf("allow-list = %v, want two trimmed entries", cfg.Matrix.AllowedUsers)
	}

	t.Setenv("MATRIX_ALLOWED_USERS", "")
	cfg, err = LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Matrix.AllowedUsers) != 0 {
		t.Errorf("unset allow-list = %v, want empty (deny all), not a blank entry", cfg.Matrix.AllowedUsers)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/does/not/exist.json"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
