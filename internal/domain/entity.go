package domain

import (
	"errors"
	"strings"
	"time"
)

// Origin tags who or what created a record.
type Origin string

const (
	OriginHuman  Origin = "human"
	OriginAgent  Origin = "agent"
	OriginImport Origin = "import"
)

func (o Origin) Valid() bool {
	switch o {
	case OriginHuman, OriginAgent, OriginImport:
		return true
	default:
		return false
	}
}

// RelationshipType classifies a business relationship.
type RelationshipType string

const (
	RelationshipInvestor    RelationshipType = "investor"
	RelationshipVC          RelationshipType = "vc"
	RelationshipAccelerator RelationshipType = "accelerator"
	RelationshipConnection  RelationshipType = "connection"
)

func (t RelationshipType) Valid() bool {
	switch t {
	case RelationshipInvestor, RelationshipVC, RelationshipAccelerator, RelationshipConnection:
		return true
	default:
		return false
	}
}

// Tracked is the lifecycle header shared by every tracked record.
type Tracked struct {
	ID        string
	OwnerID   string
	Kind      Kind
	Stage     Stage
	Locked    bool
	Origin    Origin
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t Tracked) validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(t.OwnerID) == "" {
		return errors.New("owner id is required")
	}
	if !t.Stage.Valid(t.Kind) {
		return &ValidationError{Field: "stage", Reason: "unknown " + string(t.Kind) + " stage " + string(t.Stage)}
	}
	if !t.Origin.Valid() {
		return &ValidationError{Field: "origin", Reason: "unknown origin " + string(t.Origin)}
	}
	return nil
}

// JobRecord is a tracked job application.
type JobRecord struct {
	Tracked
	Unseen       bool
	Rating       int
	Company      string
	Position     string
	Location     string
	Salary       string
	ContactName  string
	Organization string
	Notes        string
}

func (j JobRecord) Validate() error {
	if j.Kind != KindJob {
		return errors.New("job record must have kind job")
	}
	if err := j.Tracked.validate(); err != nil {
		return err
	}
	if j.Rating < 0 || j.Rating > 5 {
		return &ValidationError{Field: "rating", Reason: "must be between 0 and 5"}
	}
	return nil
}

// RelationshipRecord is a tracked business relationship.
type RelationshipRecord struct {
	Tracked
	Type          RelationshipType
	Name          string
	ContactPerson string
	Email         string
	Website       string
	Location      string
	Notes         string
	SourceJobID   string
}

func (r RelationshipRecord) Validate() error {
	if r.Kind != KindRelationship {
		return errors.New("relationship record must have kind relationship")
	}
	if err := r.Tracked.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if !r.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown relationship type " + string(r.Type)}
	}
	return nil
}
