package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/repo"
)

func testJob(id, owner string) domain.JobRecord {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.JobRecord{
		Tracked: domain.Tracked{
			ID:        id,
			OwnerID:   owner,
			Kind:      domain.KindJob,
			Stage:     domain.StageInterested,
			Origin:    domain.OriginHuman,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Company: "Acme",
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx repo.Tx) error {
		if err := tx.CreateJob(ctx, testJob("j1", "u1")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = store.WithTx(ctx, func(tx repo.Tx) error {
		_, err := tx.GetJob(ctx, "u1", "j1")
		return err
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected rolled back job to be missing, got %v", err)
	}
}

func TestOwnershipIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()
	if err := store.WithTx(ctx, func(tx repo.Tx) error {
		return tx.CreateJob(ctx, testJob("j1", "u1"))
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := store.WithTx(ctx, func(tx repo.Tx) error {
		_, err := tx.LockEntity(ctx, domain.KindJob, "u2", "j1")
		return err
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for other owner, got %v", err)
	}
}

func TestMarkJobLockedIsCompareAndSet(t *testing.T) {
	store := New()
	ctx := context.Background()
	at := time.Now()
	err := store.WithTx(ctx, func(tx repo.Tx) error {
		if err := tx.CreateJob(ctx, testJob("j1", "u1")); err != nil {
			return err
		}
		if err := tx.MarkJobLocked(ctx, "j1", at); err != nil {
			return err
		}
		return tx.MarkJobLocked(ctx, "j1", at)
	})
	if !errors.Is(err, domain.ErrAlreadyTransformed) {
		t.Fatalf("expected ErrAlreadyTransformed, got %v", err)
	}
}

func TestSourceJobIsUnique(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now()
	job := testJob("j1", "u1")
	err := store.WithTx(ctx, func(tx repo.Tx) error {
		if err := tx.CreateJob(ctx, job); err != nil {
			return err
		}
		if err := tx.CreateRelationship(ctx, domain.RelationshipFromJob(job, "r1", now)); err != nil {
			return err
		}
		return tx.CreateRelationship(ctx, domain.RelationshipFromJob(job, "r2", now))
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestDeleteJobCascadesAndKeepsRelationship(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()
	job := testJob("j1", "u1")
	if err := store.WithTx(ctx, func(tx repo.Tx) error {
		if err := tx.CreateJob(ctx, job); err != nil {
			return err
		}
		if err := tx.AppendStageEvent(ctx, domain.StageEvent{
			ID: "e1", EntityKind: domain.KindJob, EntityID: "j1", Seq: 1,
			NewStage: domain.StageInterested, ChangedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.CreateAttachment(ctx, domain.Attachment{
			ID: "a1", OwnerKind: domain.KindJob, OwnerID: "j1", ObjectKey: "k1", CreatedAt: now,
		}); err != nil {
			return err
		}
		return tx.CreateRelationship(ctx, domain.RelationshipFromJob(job, "r1", now))
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := store.WithTx(ctx, func(tx repo.Tx) error {
		return tx.DeleteJob(ctx, "u1", "j1")
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_ = store.WithTx(ctx, func(tx repo.Tx) error {
		events, _ := tx.ListStageEvents(ctx, domain.KindJob, "j1")
		if len(events) != 0 {
			t.Fatalf("expected events removed, got %d", len(events))
		}
		refs, _ := tx.CountObjectReferences(ctx, "k1")
		if refs != 0 {
			t.Fatalf("expected attachment removed, got %d refs", refs)
		}
		rel, err := tx.GetRelationship(ctx, "u1", "r1")
		if err != nil {
			t.Fatalf("relationship should survive: %v", err)
		}
		if rel.SourceJobID != "" {
			t.Fatalf("expected source job cleared, got %q", rel.SourceJobID)
		}
		return nil
	})
}
