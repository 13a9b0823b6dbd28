package lifecycle

import (
	"context"
	"sort"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/repo"
)

// Dashboard is the owner's overview: stage counts per kind, jobs at
// interview stage and agent-created jobs nobody has looked at yet.
type Dashboard struct {
	JobStages          map[domain.Stage]int
	RelationshipStages map[domain.Stage]int
	Interviews         []domain.JobRecord
	UnseenAgentJobs    []domain.JobRecord
	Transformed        int
}

func (s *Service) Dashboard(ctx context.Context, owner string) (Dashboard, error) {
	var (
		jobs []domain.JobRecord
		rels []domain.RelationshipRecord
	)
	err := s.store.WithTx(ctx, func(tx repo.Tx) error {
		var err error
		if jobs, err = tx.ListJobs(ctx, repo.JobFilter{OwnerID: owner}); err != nil {
			return err
		}
		rels, err = tx.ListRelationships(ctx, repo.RelationshipFilter{OwnerID: owner})
		return err
	})
	if err != nil {
		return Dashboard{}, err
	}

	out := Dashboard{
		JobStages:          zeroCounts(domain.KindJob),
		RelationshipStages: zeroCounts(domain.KindRelationship),
		Interviews:         []domain.JobRecord{},
		UnseenAgentJobs:    []domain.JobRecord{},
	}
	for _, job := range jobs {
		out.JobStages[job.Stage]++
		if job.Locked {
			out.Transformed++
		}
		if job.Stage == domain.StageInterview {
			out.Interviews = append(out.Interviews, job)
		}
		if job.Origin == domain.OriginAgent && job.Unseen {
			out.UnseenAgentJobs = append(out.UnseenAgentJobs, job)
		}
	}
	for _, rel := range rels {
		out.RelationshipStages[rel.Stage]++
	}
	sort.SliceStable(out.Interviews, func(i, j int) bool {
		return out.Interviews[i].UpdatedAt.After(out.Interviews[j].UpdatedAt)
	})
	sort.SliceStable(out.UnseenAgentJobs, func(i, j int) bool {
		return out.UnseenAgentJobs[i].CreatedAt.After(out.UnseenAgentJobs[j].CreatedAt)
	})
	return out, nil
}

func zeroCounts(kind domain.Kind) map[domain.Stage]int {
	out := make(map[domain.Stage]int)
	for _, stage := range domain.Stages(kind) {
		out[stage] = 0
	}
	return out
}
