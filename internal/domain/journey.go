package domain

import (
	"sort"
	"time"
)

// JourneyNode is one point on an entity's rendered timeline.
type JourneyNode struct {
	Stage     Stage
	Timestamp time.Time
	IsCurrent bool
	IsStart   bool
}

// ReconstructJourney rebuilds the timeline of an entity from its stage
// events. Nodes are only ever appended as events are added, so an earlier
// timeline is always a prefix of a later one (apart from the current marker).
func ReconstructJourney(events []StageEvent, currentStage Stage, now time.Time) []JourneyNode {
	if len(events) == 0 {
		return []JourneyNode{{
			Stage:     currentStage,
			Timestamp: now.UTC(),
			IsCurrent: true,
		}}
	}

	sorted := make([]StageEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ChangedAt.Equal(sorted[j].ChangedAt) {
			return sorted[i].Seq < sorted[j].Seq
		}
		return sorted[i].ChangedAt.Before(sorted[j].ChangedAt)
	})

	nodes := make([]JourneyNode, 0, len(sorted)+1)
	if first := sorted[0]; first.PreviousStage != nil {
		nodes = append(nodes, JourneyNode{
			Stage:     *first.PreviousStage,
			Timestamp: first.ChangedAt.UTC(),
			IsStart:   true,
		})
	}
	for _, ev := range sorted {
		nodes = append(nodes, JourneyNode{
			Stage:     ev.NewStage,
			Timestamp: ev.ChangedAt.UTC(),
		})
	}
	nodes[len(nodes)-1].IsCurrent = true
	return nodes
}
