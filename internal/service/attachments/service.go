// Package attachments stores files against tracked records. Blob bytes live
// in the object store; rows in the attachments table reference them by
// object key, and several rows may share one key after a transform.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/platform/objectstore"
	"github.com/pipeboard/pipeboard/internal/repo"
)

// MaxSize is the upload limit in bytes.
const MaxSize int64 = 20 << 20

var allowedMediaTypes = map[string]struct{}{
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"image/png":  {},
	"image/jpeg": {},
	"image/gif":  {},
	"text/plain": {},
}

type Upload struct {
	Name      string
	MediaType string
	Size      int64
	Body      io.Reader
}

type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

type Service struct {
	store   repo.Store
	objects objectstore.Store
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

func New(store repo.Store, objects objectstore.Store, opts Options) *Service {
	if store == nil || objects == nil {
		return nil
	}
	s := &Service{
		store:   store,
		objects: objects,
		logger:  opts.Logger,
		now:     opts.Now,
		newID:   opts.NewID,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// NormalizeMediaType strips parameters and reports whether the type is
// accepted for upload.
func NormalizeMediaType(raw string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	_, ok := allowedMediaTypes[mediaType]
	return mediaType, ok
}

func cleanName(raw string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

func (s *Service) Upload(ctx context.Context, info domain.AuditInfo, kind domain.Kind, entityID string, up Upload) (domain.Attachment, error) {
	mediaType, ok := NormalizeMediaType(up.MediaType)
	if !ok {
		return domain.Attachment{}, &domain.ValidationError{Field: "file", Reason: fmt.Sprintf("media type %q is not allowed", up.MediaType)}
	}
	if up.Size <= 0 {
		return domain.Attachment{}, &domain.ValidationError{Field: "file", Reason: "is empty"}
	}
	if up.Size > MaxSize {
		return domain.Attachment{}, &domain.ValidationError{Field: "file", Reason: fmt.Sprintf("exceeds %d bytes", MaxSize)}
	}
	if up.Body == nil {
		return domain.Attachment{}, &domain.ValidationError{Field: "file", Reason: "is required"}
	}

	if err := s.requireWritable(ctx, info.Actor, kind, entityID); err != nil {
		return domain.Attachment{}, err
	}

	id := s.newID()
	att := domain.Attachment{
		ID:           id,
		OwnerKind:    kind,
		OwnerID:      entityID,
		ObjectKey:    kind.Collection() + "/" + entityID + "/" + id,
		OriginalName: cleanName(up.Name),
		MediaType:    mediaType,
		SizeBytes:    up.Size,
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}
	if err := att.Validate(); err != nil {
		return domain.Attachment{}, err
	}

	if err := s.objects.Put(ctx, att.ObjectKey, io.LimitReader(up.Body, up.Size), up.Size, mediaType); err != nil {
		return domain.Attachment{}, fmt.Errorf("store object: %w", err)
	}

	err := s.store.WithTx(ctx, func(tx repo.Tx) error {
		tracked, err := tx.LockEntity(ctx, kind, info.Actor, entityID)
		if err != nil {
			return err
		}
		if tracked.Locked {
			return domain.ErrLocked
		}
		if err := tx.CreateAttachment(ctx, att); err != nil {
			return err
		}
		ev := info.Event("attachment.uploaded", string(kind), entityID, map[string]any{
			"attachment_id": att.ID,
			"media_type":    att.MediaType,
			"size_bytes":    att.SizeBytes,
		})
		ev.OccurredAt = att.CreatedAt
		return tx.AppendAudit(ctx, ev)
	})
	if err != nil {
		s.removeObject(ctx, att.ObjectKey)
		return domain.Attachment{}, err
	}
	return att, nil
}

func (s *Service) List(ctx context.Context, owner string, kind domain.Kind, entityID string) ([]domain.Attachment, error) {
	var out []domain.Attachment
	err := s.store.WithTx(ctx, func(tx repo.Tx) error {
		if _, err := tx.LockEntity(ctx, kind, owner, entityID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListAttachments(ctx, kind, entityID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Attachment{}
	}
	return out, nil
}

// Open returns the attachment row and a reader over its blob. The caller
// closes the reader.
func (s *Service) Open(ctx context.Context, owner string, kind domain.Kind, entityID, attachmentID string) (domain.Attachment, io.ReadCloser, error) {
	var att domain.Attachment
	err := s.store.WithTx(ctx, func(tx repo.Tx) error {
		if _, err := tx.LockEntity(ctx, kind, owner, entityID); err != nil {
			return err
		}
		var err error
		att, err = tx.GetAttachment(ctx, kind, entityID, attachmentID)
		return err
	})
	if err != nil {
		return domain.Attachment{}, nil, err
	}
	body, _, err := s.objects.Get(ctx, att.ObjectKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			return domain.Attachment{}, nil, fmt.Errorf("attachment %s blob: %w", att.ID, domain.ErrNotFound)
		}
		return domain.Attachment{}, nil, err
	}
	return att, body, nil
}

// Delete removes one attachment row. The blob is removed only when no other
// row still references it.
func (s *Service) Delete(ctx context.Context, info domain.AuditInfo, kind domain.Kind, entityID, attachmentID string) error {
	var orphan string
	err := s.store.WithTx(ctx, func(tx repo.Tx) error {
		orphan = ""
		tracked, err := tx.LockEntity(ctx, kind, info.Actor, entityID)
		if err != nil {
			return err
		}
		if tracked.Locked {
			return domain.ErrLocked
		}
		att, err := tx.GetAttachment(ctx, kind, entityID, attachmentID)
		if err != nil {
			return err
		}
		if err := tx.DeleteAttachment(ctx, kind, entityID, attachmentID); err != nil {
			return err
		}
		refs, err := tx.CountObjectReferences(ctx, att.ObjectKey)
		if err != nil {
			return err
		}
		if refs == 0 {
			orphan = att.ObjectKey
		}
		ev := info.Event("attachment.deleted", string(kind), entityID, map[string]any{
			"attachment_id": att.ID,
			"blob_removed":  refs == 0,
		})
		ev.OccurredAt = s.now().UTC()
		return tx.AppendAudit(ctx, ev)
	})
	if err != nil {
		return err
	}
	if orphan != "" {
		s.removeObject(ctx, orphan)
	}
	return nil
}

// RemoveObjects deletes blobs already known to be unreferenced.
func (s *Service) RemoveObjects(ctx context.Context, keys []string) {
	for _, key := range keys {
		s.removeObject(ctx, key)
	}
}

func (s *Service) removeObject(ctx context.Context, key string) {
	if err := s.objects.Delete(context.WithoutCancel(ctx), key); err != nil && !errors.Is(err, objectstore.ErrObjectNotFound) {
		s.logger.Warn("object delete failed", "object_key", key, "error", err)
	}
}

func (s *Service) requireWritable(ctx context.Context, owner string, kind domain.Kind, entityID string) error {
	return s.store.WithTx(ctx, func(tx repo.Tx) error {
		tracked, err := tx.LockEntity(ctx, kind, owner, entityID)
		if err != nil {
			return err
		}
		if tracked.Locked {
			return domain.ErrLocked
		}
		return nil
	})
}
