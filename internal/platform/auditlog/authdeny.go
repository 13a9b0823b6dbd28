package auditlog

import (
	"net"
	"strings"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/platform/auth"
)

// FromAuthDeny converts a rejected request into an audit event. Denied
// callers have no subject, so the actor is always anonymous.
func FromAuthDeny(service string, event auth.DenyEvent) domain.AuditEvent {
	var ip net.IP
	if host, _, err := net.SplitHostPort(event.RemoteAddr); err == nil {
		ip = net.ParseIP(host)
	}
	return domain.AuditEvent{
		OccurredAt:   event.Time,
		Actor:        "anonymous",
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Payload: map[string]any{
			"service": service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
		},
	}
}
