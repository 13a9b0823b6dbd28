package requestid

import (
	"strings"

	"github.com/google/uuid"
)

const Header = "X-Request-Id"

func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Sanitize keeps a caller-supplied id only when it is short printable ASCII.
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 128 {
		return ""
	}
	for _, r := range raw {
		if r < 0x21 || r > 0x7e {
			return ""
		}
	}
	return raw
}
