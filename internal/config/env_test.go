package config

import (
	"os"
	"path/filepath"
	"testing"
)

// unset removes key for the duration of the test.
func unset(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEnvFile_missing(t *testing.T) {
	err := LoadEnvFile(filepath.Join(t.TempDir(), "nonexistent"))
	if err != nil {
		t.Fatalf("missing file should return nil: %v", err)
	}
}

func TestLoadEnvFile_setsEnv(t *testing.T) {
	unset(t, "STRM_TEST_FOO")
	unset(t, "STRM_TEST_BAZ")
	path := writeEnvFile(t, "STRM_TEST_FOO=bar\n# comment\nSTRM_TEST_BAZ=quux\n")
	if err := LoadEnvFile(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("STRM_TEST_FOO"); got != "bar" {
		t.Errorf("STRM_TEST_FOO = %q", got)
	}
	if got := os.Getenv("STRM_TEST_BAZ"); got != "quux" {
		t.Errorf("STRM_TEST_BAZ = %q", got)
	}
}

func TestLoadEnvFile_unquoteAndNoOverride(t *testing.T) {
	unset(t, "STRM_TEST_X")
	t.Setenv("STRM_TEST_KEEP", "process")
	path := writeEnvFile(t, "STRM_TEST_X=\"hello world\"\nSTRM_TEST_KEEP=file\n")
	if err := LoadEnvFile(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("STRM_TEST_X"); got != "hello world" {
		t.Errorf("STRM_TEST_X = %q", got)
	}
	if got := os.Getenv("STRM_TEST_KEEP"); got != "process" {
		t.Errorf("process env should win; STRM_TEST_KEEP = %q", got)
	}
}
