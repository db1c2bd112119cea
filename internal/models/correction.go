package models

import (
	"encoding/json"
	"time"
)

// Correction types
const (
	CorrectionMove   = "move"
	CorrectionRemove = "remove"
	CorrectionReword = "reword"
	CorrectionNote   = "note"
	CorrectionMerge  = "merge"
)

// Correction statuses
const (
	CorrectionStatusPending  = "pending"
	CorrectionStatusApplied  = "applied"
	CorrectionStatusRejected = "rejected"
	CorrectionStatusReviewed = "reviewed"
)

// Correction is a flagged review task awaiting resolution. The deduplicator
// creates `merge` corrections; manual review creates the rest.
type Correction struct {
	ID             string     `json:"id"`
	ItemType       string     `json:"itemType"`
	ItemID         int64      `json:"itemId"`
	CorrectionType string     `json:"correctionType"`
	Status         string     `json:"status"`
	Details        string     `json:"details,omitempty"` // JSON payload
	CreatedBy      string     `json:"createdBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

// DuplicateRef records one member of a merge cluster with its similarity to
// the cluster's primary item.
type DuplicateRef struct {
	ItemID     int64   `json:"itemId"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// MergeDetails is the structured details payload of a merge correction.
type MergeDetails struct {
	PrimaryID    int64          `json:"primaryId"`
	PrimaryTitle string         `json:"primaryTitle"`
	Category     string         `json:"category"`
	Duplicates   []DuplicateRef `json:"duplicates"`
}

// Marshal returns the JSON stored in the correction's details column.
func (m *MergeDetails) Marshal() string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

// ParseMergeDetails decodes a merge correction's details column.
func ParseMergeDetails(raw string) (*MergeDetails, error) {
	var m MergeDetails
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return &m, nil
}
