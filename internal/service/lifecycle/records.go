package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/repo"
)

type JobInput struct {
	Stage        string
	Origin       domain.Origin
	Rating       int
	Company      string
	Position     string
	Location     string
	Salary       string
	ContactName  string
	Organization string
	Notes        string
	// CreatedAt keeps the original creation time of imported records; zero
	// means now.
	CreatedAt time.Time
}

// JobPatch carries the fields of a partial update; nil means unchanged.
type JobPatch struct {
	Stage        *string
	Unseen       *bool
	Rating       *int
	Company      *string
	Position     *string
	Location     *string
	Salary       *string
	ContactName  *string
	Organization *string
	Notes        *string
}

type RelationshipInput struct {
	Stage         string
	Origin        domain.Origin
	Type          string
	Name          string
	ContactPerson string
	Email         string
	Website       string
	Location      string
	Notes         string
}

type RelationshipPatch struct {
	Stage         *string
	Type          *string
	Name          *string
	ContactPerson *string
	Email         *string
	Website       *string
	Location      *string
	Notes         *string
}

func (s *Service) CreateJob(ctx context.Context, info domain.AuditInfo, in JobInput) (domain.JobRecord, error) {
	stage := domain.DefaultStage(domain.KindJob)
	if strings.TrimSpace(in.Stage) != "" {
		parsed, err := domain.ParseStage(domain.KindJob, in.Stage)
		if err != nil {
			return domain.JobRecord{}, err
		}
		stage = parsed
	}
	origin := in.Origin
	if origin == "" {
		origin = domain.OriginHuman
	}

	now := s.timestamp()
	createdAt := now
	if !in.CreatedAt.IsZero() && in.CreatedAt.Before(now) {
		createdAt = in.CreatedAt.UTC().Truncate(time.Microsecond)
	}
	job := domain.JobRecord{
		Tracked: domain.Tracked{
			ID:        s.newID(),
			OwnerID:   info.Actor,
			Kind:      domain.KindJob,
			Stage:     stage,
			Origin:    origin,
			CreatedAt: createdAt,
			UpdatedAt: now,
		},
		Unseen:       origin == domain.OriginAgent,
		Rating:       in.Rating,
		Company:      strings.TrimSpace(in.Company),
		Position:     strings.TrimSpace(in.Position),
		Location:     strings.TrimSpace(in.Location),
		Salary:       strings.TrimSpace(in.Salary),
		ContactName:  strings.TrimSpace(in.ContactName),
		Organization: strings.TrimSpace(in.Organization),
		Notes:        in.Notes,
	}
	if err := job.Validate(); err != nil {
		return domain.JobRecord{}, err
	}

	err := s.run(ctx, "create_job", entityAttrs(domain.KindJob, job.ID), func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx repo.Tx) error {
			if err := tx.CreateJob(ctx, job); err != nil {
				return err
			}
			if err := s.appendCreationEvent(ctx, tx, job.Tracked); err != nil {
				return err
			}
			return s.audit(ctx, tx, info.Event("job.created", "job", job.ID, map[string]any{
				"stage":  string(job.Stage),
				"origin": string(job.Origin),
			}))
		})
	})
	if err != nil {
		return domain.JobRecord{}, err
	}
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, owner, id string) (domain.JobRecord, error) {
	var job domain.JobRecord
	err := s.store.WithTx(ctx, func(tx repo.Tx) error {
		var err error
		job, err = tx.GetJob(ctx, owner, id)
		return err
	})
	return job, err
}

func (s *Service) ListJobs(ctx context.Context, filter repo.JobFilter) ([]domain.JobRecord, error) {
	var jobs []domain.JobRecord
	err := s.store.WithTx(ctx, func(tx repo.Tx) error {
		var err error
		jobs, err = tx.ListJobs(ctx, filter)
		return err
	})
	return jobs, err
}

// UpdateJob applies a patch. A stage change goes through the history logger
// in the same transaction; a patch naming the current stage leaves stage
// alone.
func (s *Service) UpdateJob(ctx context.Context, info domain.AuditInfo, id string, patch JobPatch) (domain.JobRecord, error) {
	var target *domain.Stage
	if patch.Stage != nil {
		parsed, err := domain.ParseStage(domain.KindJob, *patch.Stage)
		if err != nil {
			return domain.JobRecord{}, err
		}
		target = &parsed
	}

	var out domain.JobRecord
	err := s.withEntityLock(ctx, domain.KindJob, id, func() error {
		return s.run(ctx, "update_job", entityAttrs(domain.KindJob, id), func(ctx context.Context) error {
			return s.store.WithTx(ctx, func(tx repo.Tx) error {
				tracked, err := tx.LockEntity(ctx, domain.KindJob, info.Actor, id)
				if err != nil {
					return err
				}
				if tracked.Locked {
					return domain.ErrLocked
				}
				job, err := tx.GetJob(ctx, info.Actor, id)
				if err != nil {
					return err
				}
				applyJobPatch(&job, patch)
				job.UpdatedAt = s.timestamp()
				if err := job.Validate(); err != nil {
					return err
				}
				if err := tx.UpdateJob(ctx, job); err != nil {
					return err
				}
				if target != nil && *target != tracked.Stage {
					ev, err := s.recordTransition(ctx, tx, info, tracked, *target)
					if err != nil {
						return err
					}
					job.Stage = ev.NewStage
					job.UpdatedAt = ev.ChangedAt
				}
				out = job
				return s.audit(ctx, tx, info.Event("job.updated", "job", id, patchedFields(
					patch.Unseen != nil, "unseen",
					patch.Rating != nil, "rating",
					patch.Company != nil, "company",
					patch.Position != nil, "position",
					patch.Location != nil, "location",
					patch.Salary != nil, "salary",
					patch.ContactName != nil, "contact_name",
					patch.Organization != nil, "organization",
					patch.Notes != nil, "notes",
				)))
			})
		})
	})
	if err != nil {
		return domain.JobRecord{}, err
	}
	return out, nil
}

func applyJobPatch(job *domain.JobRecord, p JobPatch) {
	if p.Unseen != nil {
		job.Unseen = *p.Unseen
	}
	if p.Rating != nil {
		job.Rating = *p.Rating
	}
	setTrimmed(&job.Company, p.Company)
	setTrimmed(&job.Position, p.Position)
	setTrimmed(&job.Location, p.Location)
	setTrimmed(&job.Salary, p.Salary)
	setTrimmed(&job.ContactName, p.ContactName)
	setTrimmed(&job.Organization, p.Organization)
	if p.Notes != nil {
		job.Notes = *p.Notes
	}
}

func (s *Service) CreateRelationship(ctx context.Context, info domain.AuditInfo, in RelationshipInput) (domain.RelationshipRecord, error) {
	stage := domain.DefaultStage(domain.KindRelationship)
	if strings.TrimSpace(in.Stage) != "" {
		parsed, err := domain.ParseStage(domain.KindRelationship, in.Stage)
		if err != nil {
			return domain.RelationshipRecord{}, err
		}
		stage = parsed
	}
	origin := in.Origin
	if origin == "" {
		origin = domain.OriginHuman
	}
	relType := domain.RelationshipType(strings.ToLower(strings.TrimSpace(in.Type)))
	if relType == "" {
		relType = domain.RelationshipConnection
	}

	now := s.timestamp()
	rel := domain.RelationshipRecord{
		Tracked: domain.Tracked{
			ID:        s.newID(),
			OwnerID:   info.Actor,
			Kind:      domain.KindRelationship,
			Stage:     stage,
			Origin:    origin,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Type:          relType,
		Name:          strings.TrimSpace(in.Name),
		ContactPerson: strings.TrimSpace(in.ContactPerson),
		Email:         strings.TrimSpace(in.Email),
		Website:       strings.TrimSpace(in.Website),
		Location:      strings.TrimSpace(in.Location),
		Notes:         in.Notes,
	}
	if err := rel.Validate(); err != nil {
		return domain.RelationshipRecord{}, err
	}

	err := s.run(ctx, "create_relationship", entityAttrs(domain.KindRelationship, rel.ID), func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx repo.Tx) error {
			if err := tx.CreateRelationship(ctx, rel); err != nil {
				return err
			}
			if err := s.appendCreationEvent(ctx, tx, rel.Tracked); err != nil {
				return err
			}
			return s.audit(ctx, tx, info.Event("relationship.created", "relationship", rel.ID, map[string]any{
				"stage": string(rel.Stage),
				"type":  string(rel.Type),
			}))
		})
	})
	if err != nil {
		return domain.RelationshipRecord{}, err
	}
	return rel, nil
}

func (s *Service) GetRelationship(ctx context.Context, owner, id string) (domain.RelationshipRecord, error) {
	var rel domain.RelationshipRecord
	err := s.store.WithTx(ctx, func(tx repo.Tx) error {
		var err error
		rel, err = tx.GetRelationship(ctx, owner, id)
		return err
	})
	return rel, err
}

func (s *Service) ListRelationships(ctx context.Context, filter repo.RelationshipFilter) ([]domain.RelationshipRecord, error) {
	var rels []domain.RelationshipRecord
	err := s.store.WithTx(ctx, func(tx repo.Tx) error {
		var err error
		rels, err = tx.ListRelationships(ctx, filter)
		return err
	})
	return rels, err
}

func (s *Service) UpdateRelationship(ctx context.Context, info domain.AuditInfo, id string, patch RelationshipPatch) (domain.RelationshipRecord, error) {
	var target *domain.Stage
	if patch.Stage != nil {
		parsed, err := domain.ParseStage(domain.KindRelationship, *patch.Stage)
		if err != nil {
			return domain.RelationshipRecord{}, err
		}
		target = &parsed
	}

	var out domain.RelationshipRecord
	err := s.withEntityLock(ctx, domain.KindRelationship, id, func() error {
		return s.run(ctx, "update_relationship", entityAttrs(domain.KindRelationship, id), func(ctx context.Context) error {
			return s.store.WithTx(ctx, func(tx repo.Tx) error {
				tracked, err := tx.LockEntity(ctx, domain.KindRelationship, info.Actor, id)
				if err != nil {
					return err
				}
				if tracked.Locked {
					return domain.ErrLocked
				}
				rel, err := tx.GetRelationship(ctx, info.Actor, id)
				if err != nil {
					return err
				}
				applyRelationshipPatch(&rel, patch)
				rel.UpdatedAt = s.timestamp()
				if err := rel.Validate(); err != nil {
					return err
				}
				if err := tx.UpdateRelationship(ctx, rel); err != nil {
					return err
				}
				if target != nil && *target != tracked.Stage {
					ev, err := s.recordTransition(ctx, tx, info, tracked, *target)
					if err != nil {
						return err
					}
					rel.Stage = ev.NewStage
					rel.UpdatedAt = ev.ChangedAt
				}
				out = rel
				return s.audit(ctx, tx, info.Event("relationship.updated", "relationship", id, patchedFields(
					patch.Type != nil, "type",
					patch.Name != nil, "name",
					patch.ContactPerson != nil, "contact_person",
					patch.Email != nil, "email",
					patch.Website != nil, "website",
					patch.Location != nil, "location",
					patch.Notes != nil, "notes",
				)))
			})
		})
	})
	if err != nil {
		return domain.RelationshipRecord{}, err
	}
	return out, nil
}

func applyRelationshipPatch(rel *domain.RelationshipRecord, p RelationshipPatch) {
	if p.Type != nil {
		rel.Type = domain.RelationshipType(strings.ToLower(strings.TrimSpace(*p.Type)))
	}
	setTrimmed(&rel.Name, p.Name)
	setTrimmed(&rel.ContactPerson, p.ContactPerson)
	setTrimmed(&rel.Email, p.Email)
	setTrimmed(&rel.Website, p.Website)
	setTrimmed(&rel.Location, p.Location)
	if p.Notes != nil {
		rel.Notes = *p.Notes
	}
}

// Delete removes a record with its history and attachment rows. It returns
// the object keys no longer referenced by any attachment so the caller can
// drop the blobs once the transaction has committed. Locked records may be
// deleted.
func (s *Service) Delete(ctx context.Context, info domain.AuditInfo, kind domain.Kind, id string) ([]string, error) {
	if !kind.Valid() {
		return nil, errors.New("unknown entity kind")
	}
	var orphans []string
	err := s.withEntityLock(ctx, kind, id, func() error {
		return s.run(ctx, "delete_"+string(kind), entityAttrs(kind, id), func(ctx context.Context) error {
			return s.store.WithTx(ctx, func(tx repo.Tx) error {
				orphans = nil
				if _, err := tx.LockEntity(ctx, kind, info.Actor, id); err != nil {
					return err
				}
				atts, err := tx.ListAttachments(ctx, kind, id)
				if err != nil {
					return err
				}
				switch kind {
				case domain.KindJob:
					err = tx.DeleteJob(ctx, info.Actor, id)
				case domain.KindRelationship:
					err = tx.DeleteRelationship(ctx, info.Actor, id)
				}
				if err != nil {
					return err
				}
				seen := make(map[string]struct{}, len(atts))
				for _, att := range atts {
					if _, dup := seen[att.ObjectKey]; dup {
						continue
					}
					seen[att.ObjectKey] = struct{}{}
					refs, err := tx.CountObjectReferences(ctx, att.ObjectKey)
					if err != nil {
						return err
					}
					if refs == 0 {
						orphans = append(orphans, att.ObjectKey)
					}
				}
				return s.audit(ctx, tx, info.Event(string(kind)+".deleted", string(kind), id, map[string]any{
					"attachments": len(atts),
				}))
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return orphans, nil
}

func (s *Service) audit(ctx context.Context, tx repo.Tx, ev domain.AuditEvent) error {
	ev.OccurredAt = s.timestamp()
	return tx.AppendAudit(ctx, ev)
}

func setTrimmed(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

// patchedFields takes (set, name) pairs and returns the names that were set.
func patchedFields(pairs ...any) map[string]any {
	var fields []string
	for i := 0; i+1 < len(pairs); i += 2 {
		set, _ := pairs[i].(bool)
		name, _ := pairs[i+1].(string)
		if set {
			fields = append(fields, name)
		}
	}
	return map[string]any{"fields": fields}
}
