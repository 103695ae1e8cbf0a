package registry

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyGitHubSignature(t *testing.T) {
	app := App{ID: "a1", WebhookSecret: "s3cret"}
	body := []byte(`{"action":"opened"}`)

	if err := Verify(app, "github", body, sign("s3cret", body)); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := Verify(app, "github", body, sign("wrong", body)); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	app := App{ID: "a1", WebhookSecret: "s3cret"}
	header := sign("s3cret", []byte(`{"action":"opened"}`))

	if err := Verify(app, "github", []byte(`{"action":"closed"}`), header); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for tampered body, got %v", err)
	}
}

func TestVerifyRejectsMalformedHeader(t *testing.T) {
	app := App{ID: "a1", WebhookSecret: "s3cret"}
	body := []byte(`{}`)

	for _, header := range []string{"", "sha1=abcd", "sha256=zzzz", "plainsecret"} {
		if err := Verify(app, "github", body, header); !errors.Is(err, ErrSignatureInvalid) {
			t.Fatalf("header %q: expected ErrSignatureInvalid, got %v", header, err)
		}
	}
}

func TestVerifyGitLabToken(t *testing.T) {
	app := App{ID: "a1", WebhookSecret: "tok"}

	if err := Verify(app, "gitlab", nil, "tok"); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if err := Verify(app, "gitlab", nil, "other"); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyUnknownPlatform(t *testing.T) {
	if err := Verify(App{WebhookSecret: "x"}, "svn", nil, "x"); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}
