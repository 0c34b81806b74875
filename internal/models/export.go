package models

// ExportedAnnotation is one row of the admin annotation export, keyed by
// external ids so researchers can join it back to their uploaded units
type ExportedAnnotation struct {
	JobSet     string            `json:"jobset"`
	UnitID     string            `json:"unit_id"`
	Coder      string            `json:"coder"`
	Annotation []AnnotationValue `json:"annotation"`
	Status     AnnotationStatus  `json:"status"`
}
