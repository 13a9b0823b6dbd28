package domain

import (
	"errors"
	"strings"
	"time"
)

// StageEvent is an immutable record of one stage change. PreviousStage is
// nil only on the first event of an entity.
type StageEvent struct {
	ID            string
	EntityKind    Kind
	EntityID      string
	Seq           int64
	PreviousStage *Stage
	NewStage      Stage
	ChangedAt     time.Time
}

func (e StageEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("event id is required")
	}
	if !e.EntityKind.Valid() {
		return errors.New("entity kind is required")
	}
	if strings.TrimSpace(e.EntityID) == "" {
		return errors.New("entity id is required")
	}
	if e.Seq < 1 {
		return errors.New("seq must be >= 1")
	}
	if !e.NewStage.Valid(e.EntityKind) {
		return ErrInvalidStage
	}
	if e.PreviousStage != nil && !e.PreviousStage.Valid(e.EntityKind) {
		return ErrInvalidStage
	}
	if e.ChangedAt.IsZero() {
		return errors.New("changed_at is required")
	}
	return nil
}

// NextChangedAt returns a timestamp strictly after last, using now when it
// already is.
func NextChangedAt(last *StageEvent, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if last == nil {
		return now
	}
	floor := last.ChangedAt.UTC().Add(time.Microsecond)
	if now.Before(floor) {
		return floor
	}
	return now
}

// CheckHistory verifies the chain invariant over events ordered by Seq and
// that the last event agrees with currentStage.
func CheckHistory(events []StageEvent, currentStage Stage) error {
	for i := 1; i < len(events); i++ {
		prev := events[i].PreviousStage
		if prev == nil || *prev != events[i-1].NewStage {
			return errors.New("stage history chain is broken")
		}
		if !events[i].ChangedAt.After(events[i-1].ChangedAt) {
			return errors.New("stage history is not strictly ordered")
		}
	}
	if len(events) > 0 && events[len(events)-1].NewStage != currentStage {
		return errors.New("current stage disagrees with last event")
	}
	return nil
}
