package storage

import (
	"encoding/json"
	"os"
	"time"
)

// SectionStatus is the live state a section worker publishes while running.
// It is single-writer (the section's worker); readers tolerate a missing or
// partial file.
type SectionStatus string

const (
	SectionStatusWaiting         SectionStatus = "waiting"
	SectionStatusGeneratingAudio SectionStatus = "generating_audio"
	SectionStatusGeneratingVideo SectionStatus = "generating_video"
	SectionStatusFixingError     SectionStatus = "fixing_error"
	SectionStatusCompleted       SectionStatus = "completed"
	SectionStatusFailed          SectionStatus = "failed"
)

type sectionStatusDoc struct {
	Status    SectionStatus `json:"status"`
	UpdatedAt string        `json:"updated_at"`
}

// WriteSectionStatus publishes the section's live state atomically.
func (l *Layout) WriteSectionStatus(jobID string, index int, status SectionStatus) error {
	doc := sectionStatusDoc{
		Status:    status,
		UpdatedAt: time.Now().Format(time.RFC3339),
	}
	return WriteJSONAtomic(l.SectionStatus(jobID, index), doc)
}

// ReadSectionStatus returns the live status, or empty when absent/unreadable.
func (l *Layout) ReadSectionStatus(jobID string, index int) SectionStatus {
	data, err := os.ReadFile(l.SectionStatus(jobID, index))
	if err != nil {
		return ""
	}
	var doc sectionStatusDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}
	return doc.Status
}
