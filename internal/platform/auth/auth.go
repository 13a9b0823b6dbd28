package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pipeboard/pipeboard/internal/platform/env"
)

type Mode string

const (
	ModeOIDC Mode = "oidc"
	ModeDev  Mode = "dev"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Mode Mode

	SubjectClaim string
	EmailClaim   string

	OIDCIssuerURL string
	OIDCClientID  string

	// AgentKeys maps SHA-256 hex digests of agent API keys to the subject
	// the agent acts for.
	AgentKeys map[string]string

	DevSubject string
	DevEmail   string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("AUTH_MODE", string(ModeOIDC))))
	var mode Mode
	switch modeRaw {
	case string(ModeOIDC):
		mode = ModeOIDC
	case string(ModeDev):
		mode = ModeDev
	default:
		return Config{}, fmt.Errorf("AUTH_MODE must be one of: oidc, dev (got %q)", modeRaw)
	}

	agentKeys, err := parseAgentKeys(env.String("AUTH_AGENT_KEYS", ""))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:          mode,
		SubjectClaim:  env.String("AUTH_SUBJECT_CLAIM", "sub"),
		EmailClaim:    env.String("AUTH_EMAIL_CLAIM", "email"),
		OIDCIssuerURL: env.String("OIDC_ISSUER_URL", ""),
		OIDCClientID:  env.String("OIDC_CLIENT_ID", ""),
		AgentKeys:     agentKeys,
		DevSubject:    env.String("DEV_AUTH_SUBJECT", "dev-user"),
		DevEmail:      env.String("DEV_AUTH_EMAIL", "dev-user@example.local"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(string(c.Mode)) == "" {
		return errors.New("AUTH_MODE is required")
	}
	if strings.TrimSpace(c.SubjectClaim) == "" {
		return errors.New("AUTH_SUBJECT_CLAIM is required")
	}
	if strings.TrimSpace(c.EmailClaim) == "" {
		return errors.New("AUTH_EMAIL_CLAIM is required")
	}

	switch c.Mode {
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("OIDC_ISSUER_URL is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("OIDC_CLIENT_ID is required when AUTH_MODE=oidc")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("DEV_AUTH_SUBJECT is required when AUTH_MODE=dev")
		}
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}

// parseAgentKeys reads "subject:sha256hex" pairs separated by commas.
func parseAgentKeys(value string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		subject, digest, ok := strings.Cut(part, ":")
		subject = strings.TrimSpace(subject)
		digest = strings.ToLower(strings.TrimSpace(digest))
		if !ok || subject == "" || len(digest) != 64 {
			return nil, fmt.Errorf("AUTH_AGENT_KEYS entry %q must be subject:sha256hex", part)
		}
		out[digest] = subject
	}
	return out, nil
}
