package domain

import (
	"fmt"
	"strings"
)

// Kind names the concrete tracked entity types.
type Kind string

const (
	KindJob          Kind = "job"
	KindRelationship Kind = "relationship"
)

func (k Kind) Valid() bool {
	return k == KindJob || k == KindRelationship
}

// ParseKind accepts both the singular kind and the plural collection name
// used in URLs.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "job", "jobs":
		return KindJob, nil
	case "relationship", "relationships":
		return KindRelationship, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", raw)
	}
}

// Collection is the plural name used for routes and audit resource types.
func (k Kind) Collection() string {
	switch k {
	case KindJob:
		return "jobs"
	case KindRelationship:
		return "relationships"
	default:
		return string(k)
	}
}

// Stage is one value of a kind's fixed pipeline enum.
type Stage string

const (
	StageInterested Stage = "interested"
	StageApplied    Stage = "applied"
	StageInterview  Stage = "interview"
	StagePending    Stage = "pending"
	StageOffer      Stage = "offer"
	StageRejected   Stage = "rejected"
	StageForgotten  Stage = "forgotten"
	StageArchived   Stage = "archived"
)

const (
	StageResearching Stage = "researching"
	StageContacted   Stage = "contacted"
	StageMeeting     Stage = "meeting"
	StageNegotiating Stage = "negotiating"
	StagePartnered   Stage = "partnered"
	StagePassed      Stage = "passed"
)

var jobStages = []Stage{
	StageInterested,
	StageApplied,
	StageInterview,
	StagePending,
	StageOffer,
	StageRejected,
	StageForgotten,
	StageArchived,
}

var relationshipStages = []Stage{
	StageResearching,
	StageContacted,
	StageMeeting,
	StageNegotiating,
	StagePartnered,
	StagePassed,
	StageArchived,
}

// Stages returns the ordered stage set for a kind.
func Stages(kind Kind) []Stage {
	var src []Stage
	switch kind {
	case KindJob:
		src = jobStages
	case KindRelationship:
		src = relationshipStages
	}
	out := make([]Stage, len(src))
	copy(out, src)
	return out
}

// DefaultStage is the stage a new record starts in when none is given.
func DefaultStage(kind Kind) Stage {
	if kind == KindRelationship {
		return StageResearching
	}
	return StageInterested
}

// Valid reports whether s belongs to kind's stage set.
func (s Stage) Valid(kind Kind) bool {
	for _, candidate := range Stages(kind) {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStage normalizes raw and checks it against kind's stage set.
func ParseStage(kind Kind, raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid(kind) {
		return "", fmt.Errorf("%w: %q is not a %s stage", ErrInvalidStage, raw, kind)
	}
	return s, nil
}

// ValidateTransition checks a stage change. Every stage may move to every
// other stage of the same kind; the only rejected move is the no-op.
func ValidateTransition(kind Kind, from, to Stage) error {
	if !to.Valid(kind) {
		return fmt.Errorf("%w: %q is not a %s stage", ErrInvalidStage, to, kind)
	}
	if from == to {
		return fmt.Errorf("%w: already %s", ErrNoOpTransition, to)
	}
	return nil
}
