package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	body := "host: example.com\nport: 9000\nname: alice\ndirect: false\nbuffer_size: 65536\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if c.Host != "example.com" || c.Port != 9000 || c.Name != "alice" || c.Direct || c.BufferSize != 65536 {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Host != DefaultHost || c.Port != DefaultPort || c.BufferSize != DefaultBufferSize || !c.Direct {
		t.Fatalf("expected defaults, got %+v", c)
	}
}

func TestValuesReturnsAllTokens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	if err := os.WriteFile(path, []byte("addresses: 10.0.0.1 10.0.0.2 10.0.0.3\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := c.Values("addresses")
	if len(got) != 3 || got[1] != "10.0.0.2" {
		t.Fatalf("Values = %v", got)
	}
}
