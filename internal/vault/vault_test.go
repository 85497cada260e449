package vault

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mtzanidakis/warroom/internal/config"
	"github.com/mtzanidakis/warroom/internal/store"
)

func TestRoundTrip(t *testing.T) {
	v := New("test-passphrase")
	plaintext := []byte("hello, vault!")

	ciphertext, nonce, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	decrypted, err := v.Decrypt(ciphertext, nonce)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("got %q, want %q", decrypted, plaintext)
	}
}

func TestWrongPassphrase(t *testing.T) {
	v1 := New("correct-passphrase")
	v2 := New("wrong-passphrase")

	ciphertext, nonce, err := v1.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	_, err = v2.Decrypt(ciphertext, nonce)
	if err == nil {
		t.Fatal("expected error decrypting with wrong passphrase")
	}
}

func TestDifferentPassphrasesDifferentKeys(t *testing.T) {
	v1 := New("passphrase-one")
	v2 := New("passphrase-two")

	if v1.key == v2.key {
		t.Fatal("different passphrases produced the same key")
	}
}

func TestEmptyPlaintext(t *testing.T) {
	v := New("test")

	ciphertext, nonce, err := v.Encrypt([]byte{})
	if err != nil {
		t.Fatalf("encrypt empty: %v", err)
	}

	decrypted, err := v.Decrypt(ciphertext, nonce)
	if err != nil {
		t.Fatalf("decrypt empty: %v", err)
	}

	if len(decrypted) != 0 {
		t.Fatalf("expected empty, got %d bytes", len(decrypted))
	}
}

func newSecrets(t *testing.T, passphrase string) (*Secrets, *store.Store) {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewSecrets(New(passphrase), s), s
}

func TestSecretsSetGetDelete(t *testing.T) {
	k, s := newSecrets(t, "pass")

	if _, err := k.Set("openai", "OpenAI key", "sk-one"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := k.Set("openai", "", "sk-two"); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := k.Get("openai")
	if err != nil || got != "sk-two" {
		t.Fatalf("expected sk-two, got %q (%v)", got, err)
	}

	list, _ := k.List()
	if len(list) != 1 || list[0].Description != "OpenAI key" {
		t.Fatalf("expected one secret keeping its description, got %+v", list)
	}

	raw, _ := s.GetSecretByName("openai")
	if bytes.Contains(raw.Value, []byte("sk-two")) {
		t.Fatal("secret stored in plaintext")
	}

	if err := k.Delete("openai"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := k.Get("openai"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}
	if err := k.Delete("openai"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound on second delete, got %v", err)
	}
	if _, err := k.Set("  ", "", "x"); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestResolveConfig(t *testing.T) {
	k, _ := newSecrets(t, "pass")
	if _, err := k.Set("gemini", "", "AIza-test"); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	cfg.LLM.GoogleAPIKey = "secret:gemini"
	cfg.LLM.OpenAIAPIKey = "sk-plain"
	cfg.Telegram.Token = "secret:missing"
	k.ResolveConfig(cfg)

	if cfg.LLM.GoogleAPIKey != "AIza-test" {
		t.Errorf("expected resolved key, got %q", cfg.LLM.GoogleAPIKey)
	}
	if cfg.LLM.OpenAIAPIKey != "sk-plain" {
		t.Errorf("expected plain value untouched, got %q", cfg.LLM.OpenAIAPIKey)
	}
	if cfg.Telegram.Token != "" {
		t.Errorf("expected unresolvable reference cleared, got %q", cfg.Telegram.Token)
	}
	if !IsRef("secret:x") || IsRef("x") {
		t.Error("IsRef mismatch")
	}
}

func TestResolveWithWrongPassphrase(t *testing.T) {
	k, s := newSecrets(t, "right")
	if _, err := k.Set("token", "", "value"); err != nil {
		t.Fatal(err)
	}
	other := NewSecrets(New("wrong"), s)
	if _, err := other.Resolve("secret:token"); err == nil {
		t.Fatal("expected decrypt error with wrong passphrase")
	}
}
