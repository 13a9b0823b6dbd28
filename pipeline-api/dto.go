package main

import (
	"time"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/service/lifecycle"
)

type job struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Stage        string    `json:"stage"`
	Locked       bool      `json:"locked"`
	Origin       string    `json:"origin"`
	Unseen       bool      `json:"unseen"`
	Rating       int       `json:"rating,omitempty"`
	Company      string    `json:"company,omitempty"`
	Position     string    `json:"position,omitempty"`
	Location     string    `json:"location,omitempty"`
	Salary       string    `json:"salary,omitempty"`
	ContactName  string    `json:"contact_name,omitempty"`
	Organization string    `json:"organization,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toJob(j domain.JobRecord) job {
	return job{
		ID:           j.ID,
		Kind:         string(domain.KindJob),
		Stage:        string(j.Stage),
		Locked:       j.Locked,
		Origin:       string(j.Origin),
		Unseen:       j.Unseen,
		Rating:       j.Rating,
		Company:      j.Company,
		Position:     j.Position,
		Location:     j.Location,
		Salary:       j.Salary,
		ContactName:  j.ContactName,
		Organization: j.Organization,
		Notes:        j.Notes,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

func toJobs(in []domain.JobRecord) []job {
	out := make([]job, 0, len(in))
	for _, j := range in {
		out = append(out, toJob(j))
	}
	return out
}

type relationship struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Stage         string    `json:"stage"`
	Locked        bool      `json:"locked"`
	Origin        string    `json:"origin"`
	Type          string    `json:"type"`
	Name          string    `json:"name"`
	ContactPerson string    `json:"contact_person,omitempty"`
	Email         string    `json:"email,omitempty"`
	Website       string    `json:"website,omitempty"`
	Location      string    `json:"location,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	SourceJobID   string    `json:"source_job_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toRelationship(r domain.RelationshipRecord) relationship {
	return relationship{
		ID:            r.ID,
		Kind:          string(domain.KindRelationship),
		Stage:         string(r.Stage),
		Locked:        r.Locked,
		Origin:        string(r.Origin),
		Type:          string(r.Type),
		Name:          r.Name,
		ContactPerson: r.ContactPerson,
		Email:         r.Email,
		Website:       r.Website,
		Location:      r.Location,
		Notes:         r.Notes,
		SourceJobID:   r.SourceJobID,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type stageEvent struct {
	Seq           int64     `json:"seq"`
	PreviousStage *string   `json:"previous_stage"`
	NewStage      string    `json:"new_stage"`
	ChangedAt     time.Time `json:"changed_at"`
}

func toStageEvent(ev domain.StageEvent) stageEvent {
	out := stageEvent{
		Seq:       ev.Seq,
		NewStage:  string(ev.NewStage),
		ChangedAt: ev.ChangedAt.UTC(),
	}
	if ev.PreviousStage != nil {
		prev := string(*ev.PreviousStage)
		out.PreviousStage = &prev
	}
	return out
}

type journeyNode struct {
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	IsCurrent bool      `json:"is_current"`
	IsStart   bool      `json:"is_start"`
}

type attachment struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	MediaType    string    `json:"media_type"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
}

func toAttachment(a domain.Attachment) attachment {
	return attachment{
		ID:           a.ID,
		OriginalName: a.OriginalName,
		MediaType:    a.MediaType,
		SizeBytes:    a.SizeBytes,
		CreatedAt:    a.CreatedAt,
	}
}

type dashboardSummary struct {
	JobStages          map[string]int `json:"job_stages"`
	RelationshipStages map[string]int `json:"relationship_stages"`
	Interviews         []job          `json:"interviews"`
	UnseenAgentJobs    []job          `json:"unseen_agent_jobs"`
	Transformed        int            `json:"transformed"`
}

func toDashboard(d lifecycle.Dashboard) dashboardSummary {
	return dashboardSummary{
		JobStages:          stageCounts(d.JobStages),
		RelationshipStages: stageCounts(d.RelationshipStages),
		Interviews:         toJobs(d.Interviews),
		UnseenAgentJobs:    toJobs(d.UnseenAgentJobs),
		Transformed:        d.Transformed,
	}
}

func stageCounts(in map[domain.Stage]int) map[string]int {
	out := make(map[string]int, len(in))
	for stage, n := range in {
		out[string(stage)] = n
	}
	return out
}

type createJobRequest struct {
	Stage        string `json:"stage,omitempty"`
	Rating       int    `json:"rating,omitempty"`
	Company      string `json:"company,omitempty"`
	Position     string `json:"position,omitempty"`
	Location     string `json:"location,omitempty"`
	Salary       string `json:"salary,omitempty"`
	ContactName  string `json:"contact_name,omitempty"`
	Organization string `json:"organization,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

type updateJobRequest struct {
	Stage        *string `json:"stage,omitempty"`
	Unseen       *bool   `json:"unseen,omitempty"`
	Rating       *int    `json:"rating,omitempty"`
	Company      *string `json:"company,omitempty"`
	Position     *string `json:"position,omitempty"`
	Location     *string `json:"location,omitempty"`
	Salary       *string `json:"salary,omitempty"`
	ContactName  *string `json:"contact_name,omitempty"`
	Organization *string `json:"organization,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

type createRelationshipRequest struct {
	Stage         string `json:"stage,omitempty"`
	Type          string `json:"type,omitempty"`
	Name          string `json:"name"`
	ContactPerson string `json:"contact_person,omitempty"`
	Email         string `json:"email,omitempty"`
	Website       string `json:"website,omitempty"`
	Location      string `json:"location,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

type updateRelationshipRequest struct {
	Stage         *string `json:"stage,omitempty"`
	Type          *string `json:"type,omitempty"`
	Name          *string `json:"name,omitempty"`
	ContactPerson *string `json:"contact_person,omitempty"`
	Email         *string `json:"email,omitempty"`
	Website       *string `json:"website,omitempty"`
	Location      *string `json:"location,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

type stageRequest struct {
	Stage string `json:"stage"`
}
