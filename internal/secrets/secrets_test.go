package secrets

import (
	"bytes"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *KeyStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.db")
	ks, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ks.Close() })
	return ks
}

func TestDeriveKeyIsStableAcrossCalls(t *testing.T) {
	ks := openTestStore(t)
	k1, err := ks.DeriveKey("hunter2")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := ks.DeriveKey("hunter2")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("expected the derived key to be stable for the same passphrase and salt")
	}
	if len(k1) != keyLen {
		t.Fatalf("expected a %d-byte key, got %d", keyLen, len(k1))
	}
}

func TestDeriveKeySaltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.db")
	ks1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	k1, err := ks1.DeriveKey("hunter2")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	ks1.Close()

	ks2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ks2.Close()
	k2, err := ks2.DeriveKey("hunter2")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("expected the same salt to survive a reopen, producing the same key")
	}
}

func TestSealUnsealRoundTrip(t *testing.T) {
	ks := openTestStore(t)
	key, err := ks.DeriveKey("hunter2")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}

	plaintext := []byte("super-secret-webhook-key")
	sealed, err := Seal(key, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Equal(sealed, plaintext) {
		t.Fatal("sealed value must not equal the plaintext")
	}

	got, err := Unseal(key, sealed)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestUnsealFailsWithWrongKey(t *testing.T) {
	ks := openTestStore(t)
	key, err := ks.DeriveKey("hunter2")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	sealed, err := Seal(key, []byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	wrongKey, err := ks.DeriveKey("wrong-passphrase")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if _, err := Unseal(wrongKey, sealed); err == nil {
		t.Fatal("expected Unseal to fail with the wrong key")
	}
}
