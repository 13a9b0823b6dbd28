package repo

import (
	"context"
	"time"

	"github.com/pipeboard/pipeboard/internal/domain"
)

// ErrNotFound is returned by stores for a missing or not-owned row.
var ErrNotFound = domain.ErrNotFound

type JobFilter struct {
	OwnerID string
	Stage   domain.Stage
	Origin  domain.Origin
	// Unseen restricts to unseen (true) or seen (false) jobs when set.
	Unseen *bool
	Limit  int
}

type RelationshipFilter struct {
	OwnerID string
	Stage   domain.Stage
	Type    domain.RelationshipType
	Limit   int
}

// Store runs units of work. fn may be invoked more than once when the
// underlying transaction hits a transient failure, so it must not have side
// effects outside tx.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside one transaction. Reads and
// writes issued through the same Tx are atomic.
type Tx interface {
	TrackedRepository
	JobRepository
	RelationshipRepository
	StageEventRepository
	AttachmentRepository
	AuditEventAppender
}

// TrackedRepository covers the lifecycle header shared by every kind.
type TrackedRepository interface {
	// LockEntity reads the header under a row lock held until the tx ends.
	LockEntity(ctx context.Context, kind domain.Kind, ownerID, id string) (domain.Tracked, error)
	SetStage(ctx context.Context, kind domain.Kind, id string, stage domain.Stage, at time.Time) error
}

type JobRepository interface {
	CreateJob(ctx context.Context, job domain.JobRecord) error
	GetJob(ctx context.Context, ownerID, id string) (domain.JobRecord, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.JobRecord, error)
	// UpdateJob writes descriptive fields. Stage and locked are never touched.
	UpdateJob(ctx context.Context, job domain.JobRecord) error
	DeleteJob(ctx context.Context, ownerID, id string) error
	// MarkJobLocked flips locked only if it is still false and returns
	// domain.ErrAlreadyTransformed otherwise.
	MarkJobLocked(ctx context.Context, id string, at time.Time) error
}

type RelationshipRepository interface {
	CreateRelationship(ctx context.Context, rel domain.RelationshipRecord) error
	GetRelationship(ctx context.Context, ownerID, id string) (domain.RelationshipRecord, error)
	ListRelationships(ctx context.Context, filter RelationshipFilter) ([]domain.RelationshipRecord, error)
	UpdateRelationship(ctx context.Context, rel domain.RelationshipRecord) error
	DeleteRelationship(ctx context.Context, ownerID, id string) error
}

// StageEventRepository is append-only.
type StageEventRepository interface {
	// LastStageEvent returns nil without error when the entity has no events.
	LastStageEvent(ctx context.Context, kind domain.Kind, entityID string) (*domain.StageEvent, error)
	AppendStageEvent(ctx context.Context, event domain.StageEvent) error
	// ListStageEvents returns events ordered by changed_at, then seq.
	ListStageEvents(ctx context.Context, kind domain.Kind, entityID string) ([]domain.StageEvent, error)
}

type AttachmentRepository interface {
	CreateAttachment(ctx context.Context, attachment domain.Attachment) error
	GetAttachment(ctx context.Context, kind domain.Kind, entityID, id string) (domain.Attachment, error)
	ListAttachments(ctx context.Context, kind domain.Kind, entityID string) ([]domain.Attachment, error)
	DeleteAttachment(ctx context.Context, kind domain.Kind, entityID, id string) error
	// CountObjectReferences counts attachment rows pointing at objectKey.
	CountObjectReferences(ctx context.Context, objectKey string) (int, error)
}

// AuditEventAppender ensures append-only audit writes.
type AuditEventAppender interface {
	AppendAudit(ctx context.Context, event domain.AuditEvent) error
}
