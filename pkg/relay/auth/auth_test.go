package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestServiceAccountTokenFunc_MissingKey(t *testing.T) {
	_, err := ServiceAccountTokenFunc(filepath.Join(t.TempDir(), "absent.json"))
	if err == nil {
		t.Fatalf("expected error for missing key file")
	}
}

func TestServiceAccountTokenFunc_BadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, []byte(`{"type":"authorized_user"}`), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if _, err := ServiceAccountTokenFunc(path); err == nil {
		t.Fatalf("expected error for non service account key")
	}
}

func TestStaticTokenFunc(t *testing.T) {
	fn := StaticTokenFunc("tok-123")
	got, err := fn(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if got != "tok-123" {
		t.Fatalf("token=%q, want tok-123", got)
	}
}
