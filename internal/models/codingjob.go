package models

import (
	"encoding/json"
	"time"
)

// UnitType controls default conditional behavior (see conditionals service)
type UnitType string

const (
	UnitTypeCode   UnitType = "code"
	UnitTypeTrain  UnitType = "train"
	UnitTypeTest   UnitType = "test"
	UnitTypeSurvey UnitType = "survey"
	UnitTypeScreen UnitType = "screen"
)

// Position pins a unit to the start or end of a coder's sequence
type Position string

const (
	PositionPre  Position = "pre"
	PositionPost Position = "post"
	PositionNone Position = ""
)

// CodingJob is an uploaded job: units + jobsets + rules
type CodingJob struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	CreatorID  int64     `json:"creator_id"`
	Restricted bool      `json:"restricted"`
	Archived   bool      `json:"archived"`
	Created    time.Time `json:"created"`
}

// JobSet is a variant of a job (possibly distinct codebook/rules) to which
// a coder is bound exactly once. Codebook and debriefing are opaque blobs.
type JobSet struct {
	ID         int64           `json:"id"`
	CodingJobID int64          `json:"codingjob_id"`
	Name       string          `json:"name"`
	Codebook   json.RawMessage `json:"codebook"`
	Rules      Rules           `json:"rules"`
	Debriefing json.RawMessage `json:"debriefing,omitempty"`
}

// Unit is a single item to annotate. Content is an opaque blob forwarded
// to the frontend; conditionals drive gold/training feedback.
type Unit struct {
	ID           int64           `json:"id"`
	CodingJobID  int64           `json:"codingjob_id"`
	ExternalID   string          `json:"external_id"`
	Content      json.RawMessage `json:"unit"`
	Conditionals []Conditional   `json:"conditionals,omitempty"`
	UnitType     UnitType        `json:"unit_type"`
	Position     Position        `json:"position,omitempty"`
}

// HasConditionals reports whether the unit carries gold/training rules
func (u *Unit) HasConditionals() bool {
	return len(u.Conditionals) > 0
}

// JobSetUnit is the membership of a unit in a jobset. FixedIndex pins the
// unit to an ordinal in every coder's sequence; negative values count from
// the end. Blocked removes the unit from future crowd assignment.
type JobSetUnit struct {
	ID              int64  `json:"id"`
	JobSetID        int64  `json:"jobset_id"`
	UnitID          int64  `json:"unit_id"`
	FixedIndex      *int   `json:"fixed_index,omitempty"`
	HasConditionals bool   `json:"has_conditionals"`
	Blocked         bool   `json:"blocked"`
}

// JobUserStatus is the lifecycle state of a coder on a job
type JobUserStatus string

const (
	JobUserActive JobUserStatus = "active"
)

// JobUser binds a coder to a job. The row is created lazily on first unit
// request; JobSetID is set once by the jobset router and never changes.
type JobUser struct {
	ID          int64         `json:"id"`
	UserID      int64         `json:"user_id"`
	CodingJobID int64         `json:"codingjob_id"`
	JobSetID    *int64        `json:"jobset_id,omitempty"`
	CanCode     bool          `json:"can_code"`
	CanEdit     bool          `json:"can_edit"`
	Damage      float64       `json:"damage"`
	Status      JobUserStatus `json:"status"`
}
