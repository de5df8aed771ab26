package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/secret"
)

// HashKey returns the SHA-256 hash of an API key in hex. Only hashes are
// kept in memory after startup.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// keyStore maps API key hashes to caller identities.
type keyStore struct {
	byHash map[string]Identity
}

// loadKeys resolves each configured key handle through the secret manager
// and indexes the resulting keys by hash.
func loadKeys(ctx context.Context, entries []config.APIKeyEntry, secrets *secret.Manager) (*keyStore, error) {
	ks := &keyStore{byHash: make(map[string]Identity, len(entries))}
	for i, entry := range entries {
		key, err := secrets.Get(ctx, entry.KeyEnv)
		if err != nil {
			return nil, fmt.Errorf("resolve api key %d (%s): %w", i, entry.KeyEnv, err)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("api key %d (%s) resolved empty", i, entry.KeyEnv)
		}
		role := entry.Role
		if role == "" {
			role = RoleUser
		}
		ks.byHash[HashKey(key)] = Identity{CallerID: entry.CallerID, Role: role}
	}
	return ks, nil
}

// lookup matches a presented key by hash.
func (ks *keyStore) lookup(key string) (Identity, bool) {
	id, ok := ks.byHash[HashKey(key)]
	return id, ok
}

// ParseBearer extracts the credential from an Authorization header.
// Accepts "Bearer <token>" or a bare token.
func ParseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", fmt.Errorf("authorization header is empty")
	}
	if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return "", fmt.Errorf("bearer token is empty")
		}
		return rest, nil
	}
	return header, nil
}

// MaskKey returns a redacted form of a key for logging.
func MaskKey(key string) string {
	if len(key) <= 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
