package codingjobs

import (
	"time"

	"github.com/ternarybob/annotor/internal/models"
)

// JobSummary is one row in the job listings. Progress fields are present
// only for jobs the requesting coder has joined.
type JobSummary struct {
	ID       int64      `json:"id"`
	Title    string     `json:"title"`
	Creator  string     `json:"creator,omitempty"`
	Created  time.Time  `json:"created"`
	Archived bool       `json:"archived,omitempty"`
	Modified *time.Time `json:"modified,omitempty"`
	NTotal   *int       `json:"n_total,omitempty"`
	NCoded   *int       `json:"n_coded,omitempty"`
}

// lastActivity orders listings by most recent annotation, falling back to
// the job's creation time for jobs never worked on
func (s *JobSummary) lastActivity() time.Time {
	if s.Modified != nil {
		return *s.Modified
	}
	return s.Created
}

// JobDetails is the admin view of a job
type JobDetails struct {
	ID         int64           `json:"id"`
	Title      string          `json:"title"`
	Created    time.Time       `json:"created"`
	Restricted bool            `json:"restricted"`
	Archived   bool            `json:"archived"`
	JobSets    []JobSetSummary `json:"jobsets"`
	Users      []string        `json:"users"`
}

// JobSetSummary is one jobset in the admin view
type JobSetSummary struct {
	ID     int64        `json:"id"`
	Name   string       `json:"name"`
	NUnits int          `json:"n_units"`
	Rules  models.Rules `json:"rules"`
}
