package secrets_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mcpgate/mcpgate/internal/secrets"
)

func TestNewVaultInitialLoad(t *testing.T) {
	v, err := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{secrets.KeyBackendToken: "tok-1"}, nil
	})
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}
	if got := v.Get(secrets.KeyBackendToken); got != "tok-1" {
		t.Fatalf("expected tok-1, got %q", got)
	}
	if got := v.Get("missing"); got != "" {
		t.Fatalf("expected empty string for missing key, got %q", got)
	}
}

func TestNewVaultLoaderError(t *testing.T) {
	_, err := secrets.NewVault(func() (map[string]string, error) {
		return nil, errors.New("file missing")
	})
	if err == nil {
		t.Fatal("expected error from failing loader")
	}
}

func TestVaultReload(t *testing.T) {
	calls := 0
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		calls++
		if calls == 1 {
			return map[string]string{secrets.KeyBackendToken: "old"}, nil
		}
		return map[string]string{secrets.KeyBackendToken: "new"}, nil
	})

	if err := v.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got := v.Get(secrets.KeyBackendToken); got != "new" {
		t.Fatalf("expected new token after reload, got %q", got)
	}
}

func TestVaultReloadErrorPreservesValues(t *testing.T) {
	calls := 0
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		calls++
		if calls == 1 {
			return map[string]string{secrets.KeyBackendToken: "original"}, nil
		}
		return nil, errors.New("vault unavailable")
	})

	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := v.Get(secrets.KeyBackendToken); got != "original" {
		t.Fatalf("expected original token after failed reload, got %q", got)
	}
}

func TestVaultConcurrentAccess(t *testing.T) {
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"k": "v"}, nil
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = v.Get("k")
		}()
		go func() {
			defer wg.Done()
			_ = v.Reload()
		}()
	}
	wg.Wait()
}

func TestVaultRedacted(t *testing.T) {
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{
			"long":  "sk-abcdef123456",
			"short": "ab",
		}, nil
	})

	if got := v.Redacted("long"); got != "sk****" {
		t.Errorf("expected sk****, got %q", got)
	}
	if got := v.Redacted("short"); got != "****" {
		t.Errorf("expected ****, got %q", got)
	}
	if got := v.Redacted("missing"); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestFileLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("tok-abc\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	v, err := secrets.NewVault(secrets.FileLoader(path, secrets.KeyBackendToken))
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}
	if got := v.Get(secrets.KeyBackendToken); got != "tok-abc" {
		t.Fatalf("expected trimmed token, got %q", got)
	}
}

func TestFileLoaderEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := secrets.NewVault(secrets.FileLoader(path, secrets.KeyBackendToken)); err == nil {
		t.Fatal("expected error for empty token file")
	}
}

func TestFileLoaderMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope")
	if _, err := secrets.NewVault(secrets.FileLoader(path, secrets.KeyBackendToken)); err == nil {
		t.Fatal("expected error for missing token file")
	}
}
