package postgres

import (
	"context"
	"fmt"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/platform/auditlog"
)

func (s *txStore) AppendAudit(ctx context.Context, event domain.AuditEvent) error {
	if _, err := auditlog.Insert(ctx, s.db, event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
