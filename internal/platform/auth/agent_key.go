package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

const HeaderAgentKey = "X-Agent-Key"

var ErrInvalidAgentKey = errors.New("invalid agent key")

// AgentKeyAuthenticator accepts requests carrying an agent API key and
// falls back to Next when the header is absent.
type AgentKeyAuthenticator struct {
	keys map[string]string
	Next Authenticator
}

func NewAgentKeyAuthenticator(cfg Config, next Authenticator) *AgentKeyAuthenticator {
	keys := make(map[string]string, len(cfg.AgentKeys))
	for digest, subject := range cfg.AgentKeys {
		keys[strings.ToLower(digest)] = subject
	}
	return &AgentKeyAuthenticator{keys: keys, Next: next}
}

// HashAgentKey returns the digest stored in AUTH_AGENT_KEYS for raw.
func HashAgentKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

func (a *AgentKeyAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	raw := strings.TrimSpace(r.Header.Get(HeaderAgentKey))
	if raw == "" {
		if a.Next == nil {
			return Identity{}, ErrUnauthenticated
		}
		return a.Next.Authenticate(ctx, r)
	}

	digest := HashAgentKey(raw)
	for known, subject := range a.keys {
		if subtle.ConstantTimeCompare([]byte(known), []byte(digest)) == 1 {
			return Identity{Subject: subject, Agent: true}, nil
		}
	}
	return Identity{}, ErrInvalidAgentKey
}
