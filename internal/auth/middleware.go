package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/secret"
)

// Authenticator verifies bearer credentials against the configured static
// keys and JWT secret. All credential handles are resolved once at
// construction.
type Authenticator struct {
	enabled   bool
	keys      *keyStore
	jwtSecret []byte
	jwtIssuer string
	logger    *slog.Logger
}

// NewAuthenticator builds an authenticator from the auth configuration,
// resolving key and JWT secret handles through the secret manager.
func NewAuthenticator(ctx context.Context, cfg config.AuthConfig, secrets *secret.Manager, logger *slog.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Authenticator{enabled: cfg.Enabled, logger: logger}
	if !cfg.Enabled {
		return a, nil
	}

	keys, err := loadKeys(ctx, cfg.APIKeys, secrets)
	if err != nil {
		return nil, fmt.Errorf("load api keys: %w", err)
	}
	a.keys = keys

	if cfg.JWT.SecretEnv != "" {
		jwtSecret, err := secrets.Get(ctx, cfg.JWT.SecretEnv)
		if err != nil {
			return nil, fmt.Errorf("resolve jwt secret (%s): %w", cfg.JWT.SecretEnv, err)
		}
		if jwtSecret == "" {
			return nil, fmt.Errorf("jwt secret (%s) resolved empty", cfg.JWT.SecretEnv)
		}
		a.jwtSecret = []byte(jwtSecret)
		a.jwtIssuer = cfg.JWT.Issuer
	}

	return a, nil
}

// Enabled reports whether bearer auth is enforced.
func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// Authenticate resolves a bearer credential to an identity. Static keys
// are tried first, then JWT validation when a secret is configured.
func (a *Authenticator) Authenticate(token string) (Identity, error) {
	if id, ok := a.keys.lookup(token); ok {
		return id, nil
	}
	if len(a.jwtSecret) > 0 {
		id, err := verifyJWT(token, a.jwtSecret, a.jwtIssuer)
		if err == nil {
			return id, nil
		}
		return Identity{}, fmt.Errorf("invalid credentials: %w", err)
	}
	return Identity{}, fmt.Errorf("invalid credentials")
}

// Middleware enforces bearer auth and attaches the identity to the
// request context. When auth is disabled requests pass through without an
// identity and handlers trust the caller named in the request.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}

		token, err := ParseBearer(r.Header.Get("Authorization"))
		if err != nil {
			writeAuthError(w, "missing or malformed authorization header")
			return
		}

		id, err := a.Authenticate(token)
		if err != nil {
			a.logger.Warn("authentication failed",
				"key", MaskKey(token),
				"remote_addr", r.RemoteAddr,
			)
			writeAuthError(w, "invalid API key or token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"authentication"}}`, message)
}
