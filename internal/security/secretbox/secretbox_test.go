package secretbox

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestSealOpenWithRawKey(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	box, err := New(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("failed to create box: %v", err)
	}
	sealed, err := box.Seal("refresh-token-123")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if !IsSealed(sealed) {
		t.Fatalf("expected sealed prefix, got %q", sealed)
	}
	plaintext, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if plaintext != "refresh-token-123" {
		t.Fatalf("unexpected plaintext: %s", plaintext)
	}
}

func TestPassphraseKeysMustMatch(t *testing.T) {
	a, _ := New("correct horse")
	b, _ := New("battery staple")
	sealed, err := a.Seal("secret")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if _, err := b.Open(sealed); err == nil {
		t.Fatal("expected open with the wrong key to fail")
	}
}

func TestOpenRejectsPlainValues(t *testing.T) {
	box, _ := New("k")
	if _, err := box.Open("plain"); !errors.Is(err, ErrNotSealed) {
		t.Fatalf("expected ErrNotSealed, got %v", err)
	}
	if _, err := New(""); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
}
