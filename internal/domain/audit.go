package domain

import (
	"net"
	"time"
)

// AuditEvent is an append-only record of a mutating action.
type AuditEvent struct {
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	IP           net.IP
	UserAgent    string
	Payload      map[string]any
}

// AuditInfo carries request context into services so they can attribute
// audit events.
type AuditInfo struct {
	Actor     string
	RequestID string
	UserAgent string
	IP        net.IP
}

func (i AuditInfo) Event(action, resourceType, resourceID string, payload map[string]any) AuditEvent {
	return AuditEvent{
		Actor:        i.Actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    i.RequestID,
		IP:           i.IP,
		UserAgent:    i.UserAgent,
		Payload:      payload,
	}
}
