package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const apiKeyPrefix = "aak_"

// GenerateAPIKey returns a new key id and the raw credential handed to the
// agent. Only the hash of the secret part is ever stored.
func GenerateAPIKey() (keyID, raw, secret string, err error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", "", "", fmt.Errorf("read api key secret: %w", err)
	}
	keyID = uuid.NewString()
	secret = base64.RawURLEncoding.EncodeToString(b[:])
	return keyID, FormatAPIKey(keyID, secret), secret, nil
}

func FormatAPIKey(keyID, secret string) string {
	return apiKeyPrefix + keyID + "." + secret
}

// ParseAPIKey splits a raw credential into key id and secret.
func ParseAPIKey(raw string) (keyID, secret string, ok bool) {
	raw = strings.TrimSpace(raw)
	rest, found := strings.CutPrefix(raw, apiKeyPrefix)
	if !found {
		return "", "", false
	}
	keyID, secret, ok = strings.Cut(rest, ".")
	if !ok || secret == "" {
		return "", "", false
	}
	if _, err := uuid.Parse(keyID); err != nil {
		return "", "", false
	}
	return keyID, secret, true
}
