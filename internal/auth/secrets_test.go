package auth

import (
	"errors"
	"testing"
)

func TestHashSecret_NonDeterministic(t *testing.T) {
	p := "correct horse battery staple"
	h1, err := HashSecret(p)
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	h2, err := HashSecret(p)
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("expected different hashes for same secret")
	}
}

func TestVerifySecret(t *testing.T) {
	p := "correct horse battery staple"
	h, err := HashSecret(p)
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}

	ok, err := VerifySecret(h, p)
	if err != nil {
		t.Fatalf("VerifySecret: %v", err)
	}
	if !ok {
		t.Fatalf("expected secret to verify")
	}

	ok, err = VerifySecret(h, "wrong secret")
	if err != nil {
		t.Fatalf("VerifySecret: %v", err)
	}
	if ok {
		t.Fatalf("expected wrong secret to fail verification")
	}
}

func TestVerifySecretRejectsMalformedHash(t *testing.T) {
	for _, h := range []string{
		"$bcrypt$nope",
		"$argon2id$v=19$m=19456,t=2$c2FsdA$a2V5",
		"$argon2id$v=19$m=9999999,t=2,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=19456,t=2,p=1$$a2V5",
	} {
		if _, err := VerifySecret(h, "x"); !errors.Is(err, errMalformedHash) {
			t.Fatalf("%q: expected errMalformedHash, got %v", h, err)
		}
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	keyID, raw, secret, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	gotID, gotSecret, ok := ParseAPIKey("  " + raw + " ")
	if !ok {
		t.Fatalf("expected %q to parse", raw)
	}
	if gotID != keyID || gotSecret != secret {
		t.Fatalf("unexpected parse result: %s %s", gotID, gotSecret)
	}
}

func TestParseAPIKeyRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"nope",
		"aak_not-a-uuid.secret",
		"aak_6f1d1f3e-8d3f-4a8e-9c59-1d4b5c4c2b10.",
		"aak_6f1d1f3e-8d3f-4a8e-9c59-1d4b5c4c2b10",
	} {
		if _, _, ok := ParseAPIKey(raw); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}
