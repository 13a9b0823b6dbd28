package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/repo"
)

const (
	insertAttachmentQuery = `INSERT INTO attachments (
		attachment_id,
		job_id,
		relationship_id,
		object_key,
		original_name,
		media_type,
		size_bytes,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	countObjectReferencesQuery = `SELECT COUNT(*) FROM attachments WHERE object_key = $1`
)

func selectAttachmentQuery(column string) string {
	return fmt.Sprintf(
		`SELECT attachment_id, object_key, original_name, media_type, size_bytes, created_at
		 FROM attachments
		 WHERE attachment_id = $1 AND %s = $2`,
		column,
	)
}

func listAttachmentsQuery(column string) string {
	return fmt.Sprintf(
		`SELECT attachment_id, object_key, original_name, media_type, size_bytes, created_at
		 FROM attachments
		 WHERE %s = $1
		 ORDER BY created_at ASC, attachment_id ASC`,
		column,
	)
}

func deleteAttachmentQuery(column string) string {
	return fmt.Sprintf(`DELETE FROM attachments WHERE attachment_id = $1 AND %s = $2`, column)
}

func scanAttachment(row rowScanner, kind domain.Kind, entityID string) (domain.Attachment, error) {
	att := domain.Attachment{OwnerKind: kind, OwnerID: entityID}
	if err := row.Scan(&att.ID, &att.ObjectKey, &att.OriginalName, &att.MediaType, &att.SizeBytes, &att.CreatedAt); err != nil {
		return domain.Attachment{}, err
	}
	return att, nil
}

func (s *txStore) CreateAttachment(ctx context.Context, attachment domain.Attachment) error {
	if err := attachment.Validate(); err != nil {
		return err
	}
	jobID, relationshipID, err := ownerColumns(attachment.OwnerKind, attachment.OwnerID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		insertAttachmentQuery,
		strings.TrimSpace(attachment.ID),
		jobID,
		relationshipID,
		strings.TrimSpace(attachment.ObjectKey),
		strings.TrimSpace(attachment.OriginalName),
		strings.TrimSpace(attachment.MediaType),
		attachment.SizeBytes,
		normalizeTime(attachment.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *txStore) GetAttachment(ctx context.Context, kind domain.Kind, entityID, id string) (domain.Attachment, error) {
	column, err := ownerColumn(kind)
	if err != nil {
		return domain.Attachment{}, err
	}
	att, err := scanAttachment(s.db.QueryRowContext(ctx, selectAttachmentQuery(column), strings.TrimSpace(id), entityID), kind, entityID)
	if err != nil {
		return domain.Attachment{}, handleNotFound(err)
	}
	return att, nil
}

func (s *txStore) ListAttachments(ctx context.Context, kind domain.Kind, entityID string) ([]domain.Attachment, error) {
	column, err := ownerColumn(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, listAttachmentsQuery(column), entityID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Attachment, 0)
	for rows.Next() {
		att, err := scanAttachment(rows, kind, entityID)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return out, nil
}

func (s *txStore) DeleteAttachment(ctx context.Context, kind domain.Kind, entityID, id string) error {
	column, err := ownerColumn(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, deleteAttachmentQuery(column), strings.TrimSpace(id), entityID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return requireAffected(res, "delete attachment")
}

func (s *txStore) CountObjectReferences(ctx context.Context, objectKey string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, countObjectReferencesQuery, strings.TrimSpace(objectKey)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count object references: %w", err)
	}
	return count, nil
}

var _ repo.AttachmentRepository = (*txStore)(nil)
