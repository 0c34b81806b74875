package unitserver

import (
	"errors"

	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
)

// resolveJobSet assigns the coder to exactly one jobset of a job. An existing
// binding always wins. First-time coders are spread over the jobsets round
// robin: with k prior coders and n jobsets, the next coder lands on k mod n,
// which keeps A/B conditions balanced without a global counter.
//
// When bind is true, the chosen jobset is persisted on the JobUser row,
// creating the row if needed.
func resolveJobSet(tx interfaces.EngineTx, job *models.CodingJob, coder *models.User, bind bool) (*models.JobUser, *models.JobSet, error) {
	if coder.RestrictedJob != nil && *coder.RestrictedJob != job.ID {
		return nil, nil, common.Unauthorizedf("coder is only allowed to code job %d", *coder.RestrictedJob)
	}

	jobUser, err := tx.GetJobUser(coder.ID, job.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, nil, err
	}

	jobsets, err := tx.ListJobSets(job.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(jobsets) == 0 {
		return nil, nil, common.NotFoundf("coding job %d has no jobsets", job.ID)
	}

	if jobUser != nil && jobUser.JobSetID != nil {
		for _, jobset := range jobsets {
			if jobset.ID == *jobUser.JobSetID {
				return jobUser, jobset, nil
			}
		}
		return nil, nil, common.NotFoundf("jobset %d", *jobUser.JobSetID)
	}

	if jobUser == nil && job.Restricted {
		return nil, nil, common.Unauthorizedf("coding job %d is restricted", job.ID)
	}

	var jobset *models.JobSet
	if len(jobsets) == 1 {
		jobset = jobsets[0]
	} else {
		k, err := tx.CountJobUsers(job.ID)
		if err != nil {
			return nil, nil, err
		}
		jobset = jobsets[k%len(jobsets)]
	}

	if !bind {
		return jobUser, jobset, nil
	}

	if jobUser == nil {
		jobUser = &models.JobUser{
			UserID:      coder.ID,
			CodingJobID: job.ID,
			JobSetID:    &jobset.ID,
			CanCode:     true,
		}
		// A concurrent first request from the same coder trips the unique
		// (user, job) index; the caller retries once
		if err := tx.InsertJobUser(jobUser); err != nil {
			return nil, nil, err
		}
	} else {
		if err := tx.BindJobUserJobSet(jobUser.ID, jobset.ID); err != nil {
			return nil, nil, err
		}
		jobUser.JobSetID = &jobset.ID
	}

	return jobUser, jobset, nil
}
