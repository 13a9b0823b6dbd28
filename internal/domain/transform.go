package domain

import (
	"fmt"
	"strings"
	"time"
)

// RelationshipFromJob derives the target of a job transform. The provenance
// note embeds the source fields as text so it survives deletion of the job.
func RelationshipFromJob(job JobRecord, id string, now time.Time) RelationshipRecord {
	name := strings.TrimSpace(job.Company)
	if name == "" {
		name = strings.TrimSpace(job.Organization)
	}
	if name == "" {
		name = "Untitled (from job " + job.ID + ")"
	}
	return RelationshipRecord{
		Tracked: Tracked{
			ID:        id,
			OwnerID:   job.OwnerID,
			Kind:      KindRelationship,
			Stage:     DefaultStage(KindRelationship),
			Origin:    job.Origin,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Type:          RelationshipConnection,
		Name:          name,
		ContactPerson: strings.TrimSpace(job.ContactName),
		Location:      strings.TrimSpace(job.Location),
		Notes:         ProvenanceNote(job, now),
		SourceJobID:   job.ID,
	}
}

// ProvenanceNote renders the key fields of a job into a note body.
func ProvenanceNote(job JobRecord, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Converted from job application on %s.\n\n", at.UTC().Format("2006-01-02"))
	writeField(&b, "Company", job.Company)
	writeField(&b, "Position", job.Position)
	writeField(&b, "Stage", string(job.Stage))
	writeField(&b, "Location", job.Location)
	writeField(&b, "Salary", job.Salary)
	writeField(&b, "Contact", job.ContactName)
	writeField(&b, "Organization", job.Organization)
	if job.Rating > 0 {
		fmt.Fprintf(&b, "- Rating: %d/5\n", job.Rating)
	}
	fmt.Fprintf(&b, "- Source job: %s\n", job.ID)
	if notes := strings.TrimSpace(job.Notes); notes != "" {
		b.WriteString("\nOriginal notes:\n")
		b.WriteString(notes)
		b.WriteString("\n")
	}
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}
