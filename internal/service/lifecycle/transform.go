package lifecycle

import (
	"context"
	"errors"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/repo"
)

// TransformResult describes a completed job to relationship transform.
type TransformResult struct {
	RelationshipID string
	Attachments    int
}

// Transform turns a job into a new relationship. The relationship insert,
// attachment references and the job's lock commit together or not at all;
// attachment blobs are shared, never copied. A job transforms at most once.
func (s *Service) Transform(ctx context.Context, info domain.AuditInfo, jobID string) (TransformResult, error) {
	var result TransformResult
	err := s.withEntityLock(ctx, domain.KindJob, jobID, func() error {
		return s.run(ctx, "transform", entityAttrs(domain.KindJob, jobID), func(ctx context.Context) error {
			return s.store.WithTx(ctx, func(tx repo.Tx) error {
				result = TransformResult{}
				tracked, err := tx.LockEntity(ctx, domain.KindJob, info.Actor, jobID)
				if err != nil {
					return err
				}
				if tracked.Locked {
					return domain.ErrAlreadyTransformed
				}
				job, err := tx.GetJob(ctx, info.Actor, jobID)
				if err != nil {
					return err
				}

				now := s.timestamp()
				rel := domain.RelationshipFromJob(job, s.newID(), now)
				if err := rel.Validate(); err != nil {
					return err
				}
				if err := tx.CreateRelationship(ctx, rel); err != nil {
					if errors.Is(err, domain.ErrConflict) {
						return domain.ErrAlreadyTransformed
					}
					return err
				}

				atts, err := tx.ListAttachments(ctx, domain.KindJob, jobID)
				if err != nil {
					return err
				}
				for _, att := range atts {
					if err := tx.CreateAttachment(ctx, att.CopyTo(s.newID(), domain.KindRelationship, rel.ID, now)); err != nil {
						return err
					}
				}
				if err := s.appendCreationEvent(ctx, tx, rel.Tracked); err != nil {
					return err
				}
				if err := tx.MarkJobLocked(ctx, jobID, now); err != nil {
					return err
				}
				if err := s.audit(ctx, tx, info.Event("job.transformed", "job", jobID, map[string]any{
					"relationship_id": rel.ID,
					"attachments":     len(atts),
				})); err != nil {
					return err
				}
				result = TransformResult{RelationshipID: rel.ID, Attachments: len(atts)}
				return nil
			})
		})
	})
	switch {
	case err == nil:
		s.metrics.Transform("ok")
		s.logger.Info("job transformed", "job_id", jobID, "relationship_id", result.RelationshipID, "attachments", result.Attachments)
		return result, nil
	case errors.Is(err, domain.ErrAlreadyTransformed):
		s.metrics.Transform("already_transformed")
	case errors.Is(err, domain.ErrNotFound):
		s.metrics.Transform("not_found")
	default:
		s.metrics.Transform("error")
	}
	return TransformResult{}, err
}
