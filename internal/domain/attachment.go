package domain

import (
	"errors"
	"strings"
	"time"
)

// Attachment is file metadata owned by one tracked record. ObjectKey points
// at blob content that may be shared with attachments on other records.
type Attachment struct {
	ID           string
	OwnerKind    Kind
	OwnerID      string
	ObjectKey    string
	OriginalName string
	MediaType    string
	SizeBytes    int64
	CreatedAt    time.Time
}

func (a Attachment) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("attachment id is required")
	}
	if !a.OwnerKind.Valid() {
		return errors.New("owner kind is required")
	}
	if strings.TrimSpace(a.OwnerID) == "" {
		return errors.New("owner id is required")
	}
	if strings.TrimSpace(a.ObjectKey) == "" {
		return errors.New("object key is required")
	}
	if a.SizeBytes < 0 {
		return errors.New("size bytes must be >= 0")
	}
	return nil
}

// CopyTo duplicates attachment metadata onto another owner. The blob is
// referenced, not copied.
func (a Attachment) CopyTo(id string, kind Kind, ownerID string, at time.Time) Attachment {
	return Attachment{
		ID:           id,
		OwnerKind:    kind,
		OwnerID:      ownerID,
		ObjectKey:    a.ObjectKey,
		OriginalName: a.OriginalName,
		MediaType:    a.MediaType,
		SizeBytes:    a.SizeBytes,
		CreatedAt:    at,
	}
}
