package models

import "time"

// AnnotationStatus governs scheduling precedence: a coder's IN_PROGRESS or
// RETRY unit is always re-served before a new one is assigned.
type AnnotationStatus string

const (
	StatusInProgress AnnotationStatus = "IN_PROGRESS"
	StatusDone       AnnotationStatus = "DONE"
	StatusRetry      AnnotationStatus = "RETRY"
)

// AnnotationValue is one tagged value submitted by a coder. Field, Offset
// and Length locate span annotations; Value is the coded answer.
type AnnotationValue struct {
	Variable string      `json:"variable"`
	Field    string      `json:"field,omitempty"`
	Offset   *int        `json:"offset,omitempty"`
	Length   *int        `json:"length,omitempty"`
	Value    interface{} `json:"value"`
}

// Annotation is the per (unit, coder) row. Created with an empty payload
// the first time the unit is served, then mutated in place. UnitIndex is
// the coder-specific ordinal at which the unit was served.
type Annotation struct {
	ID          int64             `json:"id"`
	CodingJobID int64             `json:"codingjob_id"`
	UnitID      int64             `json:"unit_id"`
	CoderID     int64             `json:"coder_id"`
	JobSetID    int64             `json:"jobset_id"`
	UnitIndex   int               `json:"unit_index"`
	Status      AnnotationStatus  `json:"status"`
	Modified    time.Time         `json:"modified"`
	Annotation  []AnnotationValue `json:"annotation"`
	Damage      float64           `json:"damage"`
	Report      *Report           `json:"report,omitempty"`
}

// InFlight reports whether the annotation still blocks new assignments
func (a *Annotation) InFlight() bool {
	return a.Status == StatusInProgress || a.Status == StatusRetry
}
