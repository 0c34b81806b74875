package models

import "encoding/json"

// CodingJobUpload is the job creation payload. Codebook may be omitted when
// every jobset carries its own; same for rules.
type CodingJobUpload struct {
	Title         string               `json:"title" validate:"required"`
	Codebook      json.RawMessage      `json:"codebook,omitempty"`
	Units         []UnitUpload         `json:"units" validate:"required,min=1,dive"`
	Rules         *Rules               `json:"rules" validate:"required"`
	JobSets       []JobSetUpload       `json:"jobsets,omitempty" validate:"omitempty,dive"`
	Authorization *AuthorizationUpload `json:"authorization,omitempty"`
	Debriefing    json.RawMessage      `json:"debriefing,omitempty"`
}

// UnitUpload is one candidate unit in a job creation payload
type UnitUpload struct {
	ID           string          `json:"id" validate:"required"`
	Unit         json.RawMessage `json:"unit" validate:"required"`
	Type         UnitType        `json:"type,omitempty" validate:"omitempty,oneof=code train test survey screen"`
	Position     Position        `json:"position,omitempty" validate:"omitempty,oneof=pre post"`
	Conditionals []Conditional   `json:"conditionals,omitempty"`
	Gold         []Conditional   `json:"gold,omitempty"`
}

// JobSetUpload declares a jobset: a named subset of units with optional
// codebook/rules overrides and fixed pre/post unit orderings
type JobSetUpload struct {
	Name       string          `json:"name" validate:"required"`
	Codebook   json.RawMessage `json:"codebook,omitempty"`
	Rules      *Rules          `json:"rules,omitempty"`
	IDs        []string        `json:"ids,omitempty"`
	PreIDs     []string        `json:"pre_ids,omitempty"`
	PostIDs    []string        `json:"post_ids,omitempty"`
	Debriefing json.RawMessage `json:"debriefing,omitempty"`
}

// AuthorizationUpload restricts a job to a set of named users
type AuthorizationUpload struct {
	Restricted bool     `json:"restricted"`
	Users      []string `json:"users,omitempty"`
}

// AnnotationUpload is the submit payload for a served unit
type AnnotationUpload struct {
	Annotation []AnnotationValue `json:"annotation" validate:"required"`
	Status     AnnotationStatus  `json:"status" validate:"required,oneof=DONE IN_PROGRESS"`
}

// UserUpload is one entry in the admin create-users payload
type UserUpload struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Password string `json:"password,omitempty"`
	Admin    bool   `json:"admin"`
}
