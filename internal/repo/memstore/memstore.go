// Package memstore is an in-memory transactional implementation of
// repo.Store. Each unit of work runs against a cloned snapshot that replaces
// the live state only when the unit returns without error.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/repo"
)

type entityKey struct {
	kind domain.Kind
	id   string
}

type state struct {
	jobs          map[string]domain.JobRecord
	relationships map[string]domain.RelationshipRecord
	events        map[entityKey][]domain.StageEvent
	attachments   map[string]domain.Attachment
	audit         []domain.AuditEvent
}

func newState() state {
	return state{
		jobs:          map[string]domain.JobRecord{},
		relationships: map[string]domain.RelationshipRecord{},
		events:        map[entityKey][]domain.StageEvent{},
		attachments:   map[string]domain.Attachment{},
	}
}

func (s state) clone() state {
	out := state{
		jobs:          make(map[string]domain.JobRecord, len(s.jobs)),
		relationships: make(map[string]domain.RelationshipRecord, len(s.relationships)),
		events:        make(map[entityKey][]domain.StageEvent, len(s.events)),
		attachments:   make(map[string]domain.Attachment, len(s.attachments)),
		audit:         append([]domain.AuditEvent(nil), s.audit...),
	}
	for k, v := range s.jobs {
		out.jobs[k] = v
	}
	for k, v := range s.relationships {
		out.relationships[k] = v
	}
	for k, v := range s.events {
		out.events[k] = append([]domain.StageEvent(nil), v...)
	}
	for k, v := range s.attachments {
		out.attachments[k] = v
	}
	return out
}

// Store serializes units of work behind one mutex.
type Store struct {
	mu    sync.Mutex
	state state
}

func New() *Store {
	return &Store{state: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repo.Tx) error) error {
	if s == nil {
		return fmt.Errorf("memstore not initialized")
	}
	if fn == nil {
		return fmt.Errorf("tx func is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(&tx{state: &work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

// AuditEvents returns a copy of every committed audit event.
func (s *Store) AuditEvents() []domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEvent(nil), s.state.audit...)
}

type tx struct {
	state *state
}

func (t *tx) LockEntity(ctx context.Context, kind domain.Kind, ownerID, id string) (domain.Tracked, error) {
	switch kind {
	case domain.KindJob:
		job, err := t.GetJob(ctx, ownerID, id)
		if err != nil {
			return domain.Tracked{}, err
		}
		return job.Tracked, nil
	case domain.KindRelationship:
		rel, err := t.GetRelationship(ctx, ownerID, id)
		if err != nil {
			return domain.Tracked{}, err
		}
		return rel.Tracked, nil
	default:
		return domain.Tracked{}, fmt.Errorf("unknown kind %q", kind)
	}
}

func (t *tx) SetStage(_ context.Context, kind domain.Kind, id string, stage domain.Stage, at time.Time) error {
	switch kind {
	case domain.KindJob:
		job, ok := t.state.jobs[id]
		if !ok {
			return repo.ErrNotFound
		}
		job.Stage = stage
		job.UpdatedAt = at.UTC()
		t.state.jobs[id] = job
	case domain.KindRelationship:
		rel, ok := t.state.relationships[id]
		if !ok {
			return repo.ErrNotFound
		}
		rel.Stage = stage
		rel.UpdatedAt = at.UTC()
		t.state.relationships[id] = rel
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	return nil
}

func (t *tx) CreateJob(_ context.Context, job domain.JobRecord) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if _, exists := t.state.jobs[job.ID]; exists {
		return fmt.Errorf("insert job: %w", domain.ErrConflict)
	}
	t.state.jobs[job.ID] = job
	return nil
}

func (t *tx) GetJob(_ context.Context, ownerID, id string) (domain.JobRecord, error) {
	job, ok := t.state.jobs[strings.TrimSpace(id)]
	if !ok || job.OwnerID != ownerID {
		return domain.JobRecord{}, repo.ErrNotFound
	}
	return job, nil
}

func (t *tx) ListJobs(_ context.Context, filter repo.JobFilter) ([]domain.JobRecord, error) {
	out := make([]domain.JobRecord, 0)
	for _, job := range t.state.jobs {
		if filter.OwnerID != "" && job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Stage != "" && job.Stage != filter.Stage {
			continue
		}
		if filter.Origin != "" && job.Origin != filter.Origin {
			continue
		}
		if filter.Unseen != nil && job.Unseen != *filter.Unseen {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *tx) UpdateJob(ctx context.Context, job domain.JobRecord) error {
	current, err := t.GetJob(ctx, job.OwnerID, job.ID)
	if err != nil {
		return err
	}
	job.Tracked = domain.Tracked{
		ID:        current.ID,
		OwnerID:   current.OwnerID,
		Kind:      current.Kind,
		Stage:     current.Stage,
		Locked:    current.Locked,
		Origin:    current.Origin,
		CreatedAt: current.CreatedAt,
		UpdatedAt: job.UpdatedAt.UTC(),
	}
	t.state.jobs[job.ID] = job
	return nil
}

func (t *tx) DeleteJob(ctx context.Context, ownerID, id string) error {
	if _, err := t.GetJob(ctx, ownerID, id); err != nil {
		return err
	}
	delete(t.state.jobs, id)
	t.cascade(domain.KindJob, id)
	for relID, rel := range t.state.relationships {
		if rel.SourceJobID == id {
			rel.SourceJobID = ""
			t.state.relationships[relID] = rel
		}
	}
	return nil
}

func (t *tx) MarkJobLocked(_ context.Context, id string, at time.Time) error {
	job, ok := t.state.jobs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if job.Locked {
		return domain.ErrAlreadyTransformed
	}
	job.Locked = true
	job.UpdatedAt = at.UTC()
	t.state.jobs[id] = job
	return nil
}

func (t *tx) CreateRelationship(_ context.Context, rel domain.RelationshipRecord) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	if _, exists := t.state.relationships[rel.ID]; exists {
		return fmt.Errorf("insert relationship: %w", domain.ErrConflict)
	}
	if rel.SourceJobID != "" {
		for _, existing := range t.state.relationships {
			if existing.SourceJobID == rel.SourceJobID {
				return fmt.Errorf("insert relationship: source job already converted: %w", domain.ErrConflict)
			}
		}
	}
	t.state.relationships[rel.ID] = rel
	return nil
}

func (t *tx) GetRelationship(_ context.Context, ownerID, id string) (domain.RelationshipRecord, error) {
	rel, ok := t.state.relationships[strings.TrimSpace(id)]
	if !ok || rel.OwnerID != ownerID {
		return domain.RelationshipRecord{}, repo.ErrNotFound
	}
	return rel, nil
}

func (t *tx) ListRelationships(_ context.Context, filter repo.RelationshipFilter) ([]domain.RelationshipRecord, error) {
	out := make([]domain.RelationshipRecord, 0)
	for _, rel := range t.state.relationships {
		if filter.OwnerID != "" && rel.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Stage != "" && rel.Stage != filter.Stage {
			continue
		}
		if filter.Type != "" && rel.Type != filter.Type {
			continue
		}
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *tx) UpdateRelationship(ctx context.Context, rel domain.RelationshipRecord) error {
	current, err := t.GetRelationship(ctx, rel.OwnerID, rel.ID)
	if err != nil {
		return err
	}
	rel.Tracked = domain.Tracked{
		ID:        current.ID,
		OwnerID:   current.OwnerID,
		Kind:      current.Kind,
		Stage:     current.Stage,
		Locked:    current.Locked,
		Origin:    current.Origin,
		CreatedAt: current.CreatedAt,
		UpdatedAt: rel.UpdatedAt.UTC(),
	}
	rel.SourceJobID = current.SourceJobID
	t.state.relationships[rel.ID] = rel
	return nil
}

func (t *tx) DeleteRelationship(ctx context.Context, ownerID, id string) error {
	if _, err := t.GetRelationship(ctx, ownerID, id); err != nil {
		return err
	}
	delete(t.state.relationships, id)
	t.cascade(domain.KindRelationship, id)
	return nil
}

func (t *tx) cascade(kind domain.Kind, id string) {
	delete(t.state.events, entityKey{kind: kind, id: id})
	for attID, att := range t.state.attachments {
		if att.OwnerKind == kind && att.OwnerID == id {
			delete(t.state.attachments, attID)
		}
	}
}

func (t *tx) LastStageEvent(_ context.Context, kind domain.Kind, entityID string) (*domain.StageEvent, error) {
	events := t.state.events[entityKey{kind: kind, id: entityID}]
	if len(events) == 0 {
		return nil, nil
	}
	last := events[len(events)-1]
	return &last, nil
}

func (t *tx) AppendStageEvent(_ context.Context, event domain.StageEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	key := entityKey{kind: event.EntityKind, id: event.EntityID}
	events := t.state.events[key]
	if n := len(events); n > 0 && events[n-1].Seq >= event.Seq {
		return fmt.Errorf("insert stage event: seq %d: %w", event.Seq, domain.ErrConflict)
	}
	event.ChangedAt = event.ChangedAt.UTC()
	t.state.events[key] = append(events, event)
	return nil
}

func (t *tx) ListStageEvents(_ context.Context, kind domain.Kind, entityID string) ([]domain.StageEvent, error) {
	events := append([]domain.StageEvent(nil), t.state.events[entityKey{kind: kind, id: entityID}]...)
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].ChangedAt.Equal(events[j].ChangedAt) {
			return events[i].Seq < events[j].Seq
		}
		return events[i].ChangedAt.Before(events[j].ChangedAt)
	})
	if events == nil {
		events = []domain.StageEvent{}
	}
	return events, nil
}

func (t *tx) CreateAttachment(_ context.Context, attachment domain.Attachment) error {
	if err := attachment.Validate(); err != nil {
		return err
	}
	if _, exists := t.state.attachments[attachment.ID]; exists {
		return fmt.Errorf("insert attachment: %w", domain.ErrConflict)
	}
	t.state.attachments[attachment.ID] = attachment
	return nil
}

func (t *tx) GetAttachment(_ context.Context, kind domain.Kind, entityID, id string) (domain.Attachment, error) {
	att, ok := t.state.attachments[id]
	if !ok || att.OwnerKind != kind || att.OwnerID != entityID {
		return domain.Attachment{}, repo.ErrNotFound
	}
	return att, nil
}

func (t *tx) ListAttachments(_ context.Context, kind domain.Kind, entityID string) ([]domain.Attachment, error) {
	out := make([]domain.Attachment, 0)
	for _, att := range t.state.attachments {
		if att.OwnerKind == kind && att.OwnerID == entityID {
			out = append(out, att)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *tx) DeleteAttachment(ctx context.Context, kind domain.Kind, entityID, id string) error {
	if _, err := t.GetAttachment(ctx, kind, entityID, id); err != nil {
		return err
	}
	delete(t.state.attachments, id)
	return nil
}

func (t *tx) CountObjectReferences(_ context.Context, objectKey string) (int, error) {
	count := 0
	for _, att := range t.state.attachments {
		if att.ObjectKey == objectKey {
			count++
		}
	}
	return count, nil
}

func (t *tx) AppendAudit(_ context.Context, event domain.AuditEvent) error {
	if strings.TrimSpace(event.Actor) == "" || strings.TrimSpace(event.Action) == "" {
		return fmt.Errorf("audit actor and action are required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	t.state.audit = append(t.state.audit, event)
	return nil
}
