package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PYMATRIX_API_KEY", "secret")
	t.Setenv("PYMATRIX_USER", "ci-bot")
	t.Setenv("PYMATRIX_LABEL", "v1.1")
	t.Setenv("PYMATRIX_SOURCE", t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Endpoint != DefaultEndpoint {
		t.Errorf("Endpoint = %q, want default", cfg.Endpoint)
	}
	if cfg.Concurrency != DefaultConcurrency {
		t.Errorf("Concurrency = %d, want %d", cfg.Concurrency, DefaultConcurrency)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %s, want %s", cfg.Timeout, DefaultTimeout)
	}
	if len(cfg.Matrix) == 0 {
		t.Error("Matrix is empty, want default matrix")
	}
	if len(cfg.StyleArgs) == 0 || len(cfg.TestArgs) == 0 {
		t.Error("tool args not defaulted")
	}
}

func TestLoad_MissingRequiredIsDescriptive(t *testing.T) {
	t.Setenv("PYMATRIX_API_KEY", "")
	t.Setenv("PYMATRIX_USER", "")
	t.Setenv("PYMATRIX_LABEL", "x")
	t.Setenv("PYMATRIX_SOURCE", t.TempDir())

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required configuration")
	}
	for _, want := range []string{"PYMATRIX_API_KEY", "PYMATRIX_USER"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want to name %s", err, want)
		}
	}
	if strings.Contains(err.Error(), "PYMATRIX_LABEL") {
		t.Errorf("error = %q, names a parameter that was supplied", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PYMATRIX_ENDPOINT", "https://alt.example.com/runs")
	t.Setenv("PYMATRIX_CONCURRENCY", "2")
	t.Setenv("PYMATRIX_TIMEOUT", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Endpoint != "https://alt.example.com/runs" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("Concurrency = %d, want 2", cfg.Concurrency)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want 30s", cfg.Timeout)
	}
}

func TestLoad_InvalidTimeout(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PYMATRIX_TIMEOUT", "banana")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "PYMATRIX_TIMEOUT") {
		t.Fatalf("err = %v, want invalid timeout error", err)
	}
}

func TestLoad_SourceMustBeDirectory(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PYMATRIX_SOURCE", "/no/such/dir")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "/no/such/dir") {
		t.Fatalf("err = %v, want source validation error", err)
	}
}

func TestLoad_MatrixFileOverrides(t *testing.T) {
	setRequiredEnv(t)
	source := t.TempDir()
	t.Setenv("PYMATRIX_SOURCE", source)

	matrix := `
runtimes:
  - name: python3.5
    version: "3.5"
    implementation: cpython
    binary: python3.5
style:
  args: ["-m", "pycodestyle", "."]
`
	if err := os.WriteFile(filepath.Join(source, ".pymatrix"), []byte(matrix), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Matrix) != 1 || cfg.Matrix[0].Name != "python3.5" {
		t.Errorf("Matrix = %+v, want the single configured runtime", cfg.Matrix)
	}
	if cfg.StyleArgs[1] != "pycodestyle" {
		t.Errorf("StyleArgs = %v, want override", cfg.StyleArgs)
	}
	// Test args keep their default when the file does not set them.
	if cfg.TestArgs[0] != "setup.py" {
		t.Errorf("TestArgs = %v, want default", cfg.TestArgs)
	}
}

func TestLoad_MatrixFileRejectsIncompleteEntry(t *testing.T) {
	setRequiredEnv(t)
	source := t.TempDir()
	t.Setenv("PYMATRIX_SOURCE", source)

	if err := os.WriteFile(filepath.Join(source, ".pymatrix"), []byte("runtimes:\n  - version: \"3.5\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "name and binary") {
		t.Fatalf("err = %v, want incomplete entry error", err)
	}
}
