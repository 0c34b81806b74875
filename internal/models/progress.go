package models

import "time"

// Progress is a coder's progress on a job. Damage fields appear only when
// rules.show_damage; GameOver appears whenever max_damage is configured.
type Progress struct {
	NTotal        int        `json:"n_total"`
	NCoded        int        `json:"n_coded"`
	SeekBackwards bool       `json:"seek_backwards"`
	SeekForwards  bool       `json:"seek_forwards"`
	LastModified  *time.Time `json:"last_modified,omitempty"`
	Damage        *float64   `json:"damage,omitempty"`
	MaxDamage     *float64   `json:"max_damage,omitempty"`
	GameOver      *bool      `json:"game_over,omitempty"`
}

// ServedUnit is the get-unit response: the unit at a coder-specific index,
// with the coder's prior annotation when the unit was already started.
type ServedUnit struct {
	ID         int64             `json:"id,omitempty"`
	Unit       interface{}       `json:"unit,omitempty"`
	Index      int               `json:"index"`
	Annotation []AnnotationValue `json:"annotation,omitempty"`
	Status     AnnotationStatus  `json:"status,omitempty"`
	Report     *Report           `json:"report,omitempty"`
	GameOver   bool              `json:"game_over,omitempty"`
}
