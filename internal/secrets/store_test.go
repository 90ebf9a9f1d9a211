package secrets

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	store := New(t.TempDir(), true)

	plaintext := "sk-test-secret-key-12345"
	encrypted, err := store.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !IsEncrypted(encrypted) {
		t.Fatalf("expected encrypted value to carry the enc2: prefix")
	}
	if encrypted == plaintext {
		t.Fatalf("expected ciphertext to differ from plaintext")
	}

	decrypted, err := store.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if decrypted != plaintext {
		t.Fatalf("got %q, want %q", decrypted, plaintext)
	}
}

func TestPassthroughWhenEncryptionDisabled(t *testing.T) {
	store := New(t.TempDir(), false)
	plaintext := "sk-not-encrypted"
	result, err := store.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if result != plaintext {
		t.Fatalf("got %q, want passthrough %q", result, plaintext)
	}
}

func TestDecryptPlaintextReturnsAsIs(t *testing.T) {
	store := New(t.TempDir(), true)
	plaintext := "not-encrypted-value"
	result, err := store.Decrypt(plaintext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if result != plaintext {
		t.Fatalf("got %q, want %q", result, plaintext)
	}
}

func TestIsEncryptedDetectsPrefix(t *testing.T) {
	if !IsEncrypted("enc2:abcdef1234") {
		t.Fatalf("expected prefix to be detected")
	}
	if IsEncrypted("plaintext") {
		t.Fatalf("expected plaintext not to be detected as encrypted")
	}
	if IsEncrypted("") {
		t.Fatalf("expected empty string not to be detected as encrypted")
	}
}

func TestDecryptAndMigrate(t *testing.T) {
	store := New(t.TempDir(), true)
	plaintext := "sk-legacy-plaintext-key"

	gotPlain, reEncrypted, migrated, err := store.DecryptAndMigrate(plaintext)
	if err != nil {
		t.Fatalf("decrypt and migrate: %v", err)
	}
	if !migrated {
		t.Fatalf("expected plaintext input to be migrated")
	}
	if gotPlain != plaintext {
		t.Fatalf("got plaintext %q, want %q", gotPlain, plaintext)
	}
	if !IsEncrypted(reEncrypted) {
		t.Fatalf("expected migrated value to be encrypted")
	}

	gotPlain2, _, migrated2, err := store.DecryptAndMigrate(reEncrypted)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if migrated2 {
		t.Fatalf("expected already-encrypted value not to be re-migrated")
	}
	if gotPlain2 != plaintext {
		t.Fatalf("got %q, want %q", gotPlain2, plaintext)
	}
}
