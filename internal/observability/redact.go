package observability

import (
	"regexp"
	"strings"
)

// Redactor masks credentials before they reach a log sink. The gateway
// handles provider API keys and caller tokens on every request, so a
// stray error string or dumped header must never leak one.
type Redactor struct {
	rules []redactRule
}

type redactRule struct {
	re          *regexp.Regexp
	replacement string
}

// NewRedactor builds a redactor covering the credential shapes the
// gateway actually touches: provider API keys, bearer tokens and JWTs,
// Vault tokens, and connection-string passwords.
func NewRedactor() *Redactor {
	r := &Redactor{}
	// Provider keys. The sk- prefix covers OpenAI, DeepSeek, and
	// Anthropic (sk-ant-) key formats.
	r.add(`sk-[A-Za-z0-9_-]{16,}`, "[REDACTED_API_KEY]")
	// Bearer credentials, including JWTs.
	r.add(`(?i)bearer\s+[A-Za-z0-9._~+/-]+=*`, "Bearer [REDACTED]")
	r.add(`(?i)authorization:\s*\S+`, "Authorization: [REDACTED]")
	// Vault service and batch tokens.
	r.add(`\b[hbs]vs\.[A-Za-z0-9_-]{20,}`, "[REDACTED_VAULT_TOKEN]")
	// Passwords embedded in DSNs or URLs.
	r.add(`(?i)password=\S+`, "password=[REDACTED]")
	r.add(`://[^/:@\s]+:[^@\s]+@`, "://[REDACTED]@")
	return r
}

func (r *Redactor) add(pattern, replacement string) {
	r.rules = append(r.rules, redactRule{
		re:          regexp.MustCompile(pattern),
		replacement: replacement,
	})
}

// Redact applies every rule to the input.
func (r *Redactor) Redact(in string) string {
	out := in
	for _, rule := range r.rules {
		out = rule.re.ReplaceAllString(out, rule.replacement)
	}
	return out
}

// RedactHeaders returns a copy with credential-bearing headers masked.
func (r *Redactor) RedactHeaders(headers map[string][]string) map[string][]string {
	out := make(map[string][]string, len(headers))
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "authorization", "x-api-key", "api-key", "cookie", "set-cookie":
			out[k] = []string{"[REDACTED]"}
		default:
			out[k] = v
		}
	}
	return out
}
