package codingjobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
	"github.com/ternarybob/annotor/internal/services/conditionals"
	"github.com/ternarybob/annotor/internal/services/unitserver"
)

// Service manages coding job lifecycle: creation, listing, settings, coder
// access and annotation export
type Service struct {
	jobs        interfaces.CodingJobStorage
	units       interfaces.UnitStorage
	users       interfaces.UserStorage
	annotations interfaces.AnnotationStorage
	server      *unitserver.Service
	events      interfaces.EventService
	validate    *validator.Validate
	logger      arbor.ILogger
}

// NewService creates a new coding job service
func NewService(storage interfaces.StorageManager, server *unitserver.Service,
	events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		jobs:        storage.CodingJobs(),
		units:       storage.Units(),
		users:       storage.Users(),
		annotations: storage.Annotations(),
		server:      server,
		events:      events,
		validate:    validator.New(),
		logger:      logger,
	}
}

// Create validates and persists an uploaded coding job atomically. Every
// conditional is checked for satisfiability against the jobset codebook
// before anything is written.
func (s *Service) Create(ctx context.Context, creator *models.User, upload *models.CodingJobUpload) (*models.CodingJob, error) {
	if err := s.validate.Struct(upload); err != nil {
		return nil, common.BadRequestf("invalid coding job: %v", err)
	}

	job := &models.CodingJob{
		Title:     upload.Title,
		CreatorID: creator.ID,
	}
	if upload.Authorization != nil {
		job.Restricted = upload.Authorization.Restricted
	}

	units, unitIndex, err := buildUnits(upload)
	if err != nil {
		return nil, err
	}
	jobsets, err := buildJobSets(upload)
	if err != nil {
		return nil, err
	}
	memberships, err := buildMemberships(jobsets, upload, units, unitIndex)
	if err != nil {
		return nil, err
	}

	if err := s.jobs.CreateJob(ctx, job, units, jobsets, memberships); err != nil {
		return nil, err
	}

	if upload.Authorization != nil && len(upload.Authorization.Users) > 0 {
		if _, err := s.SetCoders(ctx, job.ID, upload.Authorization.Users, true); err != nil {
			return nil, err
		}
	}

	if s.events != nil {
		s.events.Publish(&models.Event{
			Type:      models.EventJobCreated,
			Timestamp: time.Now(),
			JobID:     job.ID,
			Data: map[string]interface{}{
				"title": job.Title,
				"units": len(units),
			},
		})
	}

	s.logger.Info().Int64("job_id", job.ID).Str("title", job.Title).Msg("Coding job created")
	return job, nil
}

// buildUnits converts the upload payload; the returned index maps external
// id to upload position, which is how memberships reference units.
func buildUnits(upload *models.CodingJobUpload) ([]*models.Unit, map[string]int, error) {
	units := make([]*models.Unit, 0, len(upload.Units))
	index := make(map[string]int, len(upload.Units))

	for i, u := range upload.Units {
		if _, exists := index[u.ID]; exists {
			return nil, nil, common.BadRequestf("duplicate unit id %s", u.ID)
		}
		unitType := u.Type
		if unitType == "" {
			unitType = models.UnitTypeCode
		}
		conds := u.Conditionals
		if len(conds) == 0 {
			conds = u.Gold
		}
		units = append(units, &models.Unit{
			ExternalID:   u.ID,
			Content:      u.Unit,
			Conditionals: conds,
			UnitType:     unitType,
			Position:     u.Position,
		})
		index[u.ID] = i
	}
	return units, index, nil
}

// buildJobSets applies the job-level codebook/rules/debriefing defaults to
// every jobset that does not carry its own
func buildJobSets(upload *models.CodingJobUpload) ([]*models.JobSet, error) {
	declared := upload.JobSets
	if len(declared) == 0 {
		declared = []models.JobSetUpload{{Name: "All"}}
	}

	seen := make(map[string]bool, len(declared))
	jobsets := make([]*models.JobSet, 0, len(declared))
	for _, js := range declared {
		if seen[js.Name] {
			return nil, common.BadRequestf("jobset names must be unique: %s", js.Name)
		}
		seen[js.Name] = true

		codebook := js.Codebook
		if len(codebook) == 0 {
			if len(upload.Codebook) == 0 {
				return nil, common.BadRequestf("either the coding job needs a general codebook, or all jobsets their own")
			}
			codebook = upload.Codebook
		}
		rules := js.Rules
		if rules == nil {
			if upload.Rules == nil {
				return nil, common.BadRequestf("either the coding job needs rules, or all jobsets their own")
			}
			rules = upload.Rules
		}
		debriefing := js.Debriefing
		if len(debriefing) == 0 {
			debriefing = upload.Debriefing
		}

		jobsets = append(jobsets, &models.JobSet{
			Name:       js.Name,
			Codebook:   codebook,
			Rules:      *rules,
			Debriefing: debriefing,
		})
	}
	return jobsets, nil
}

// buildMemberships assigns units to jobsets. Pre units get fixed index i,
// post units i-n (counted from the end), the rest float. Conditionals are
// validated against the jobset codebook here.
func buildMemberships(jobsets []*models.JobSet, upload *models.CodingJobUpload,
	units []*models.Unit, unitIndex map[string]int) (map[string][]*models.JobSetUnit, error) {

	memberships := make(map[string][]*models.JobSetUnit, len(jobsets))

	declared := upload.JobSets
	if len(declared) == 0 {
		declared = []models.JobSetUpload{{Name: "All"}}
	}

	for i, jobset := range jobsets {
		js := declared[i]

		for _, position := range []models.Position{models.PositionPre, models.PositionNone, models.PositionPost} {
			ids := idsForPosition(js, position)
			if ids == nil {
				for _, unit := range units {
					if unit.Position == position {
						ids = append(ids, unit.ExternalID)
					}
				}
			}

			for j, externalID := range ids {
				pos, ok := unitIndex[externalID]
				if !ok {
					return nil, common.BadRequestf("jobset %s references unknown unit id %s", js.Name, externalID)
				}
				unit := units[pos]

				if invalid := conditionals.InvalidConditionals(unit, jobset.Codebook); len(invalid) > 0 {
					return nil, common.BadRequestf("unit %s has impossible conditionals (%s)",
						externalID, strings.Join(invalid, ", "))
				}

				membership := &models.JobSetUnit{
					UnitID:          int64(pos),
					HasConditionals: unit.HasConditionals(),
				}
				switch position {
				case models.PositionPre:
					fixed := j
					membership.FixedIndex = &fixed
				case models.PositionPost:
					fixed := j - len(ids)
					membership.FixedIndex = &fixed
				}
				memberships[jobset.Name] = append(memberships[jobset.Name], membership)
			}
		}
	}
	return memberships, nil
}

func idsForPosition(js models.JobSetUpload, position models.Position) []string {
	switch position {
	case models.PositionPre:
		return js.PreIDs
	case models.PositionPost:
		return js.PostIDs
	default:
		return js.IDs
	}
}

// Get returns a job by id
func (s *Service) Get(ctx context.Context, jobID int64) (*models.CodingJob, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// List returns all jobs, annotated with their creator's name
func (s *Service) List(ctx context.Context) ([]*JobSummary, error) {
	jobs, err := s.jobs.ListJobs(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]*JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summary := &JobSummary{
			ID:       job.ID,
			Title:    job.Title,
			Created:  job.Created,
			Archived: job.Archived,
		}
		if creator, err := s.users.GetUser(ctx, job.CreatorID); err == nil {
			summary.Creator = creator.Name
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// MyJobs returns the jobs a coder can work on, with progress for jobs the
// coder has already joined, sorted by last activity
func (s *Service) MyJobs(ctx context.Context, coder *models.User) ([]*JobSummary, error) {
	jobs, err := s.jobs.ListJobsForCoder(ctx, coder)
	if err != nil {
		return nil, err
	}

	summaries := make([]*JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summary := &JobSummary{
			ID:      job.ID,
			Title:   job.Title,
			Created: job.Created,
		}
		if creator, err := s.users.GetUser(ctx, job.CreatorID); err == nil {
			summary.Creator = creator.Name
		}

		// Progress only for joined jobs; computing it for unseen jobs would
		// bind the coder to a jobset just for browsing
		if _, err := s.jobs.GetJobUser(ctx, coder.ID, job.ID); err == nil {
			progress, err := s.server.Progress(ctx, coder, job.ID)
			if err != nil {
				return nil, err
			}
			summary.NTotal = &progress.NTotal
			summary.NCoded = &progress.NCoded
			summary.Modified = progress.LastModified
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].lastActivity().After(summaries[j].lastActivity())
	})
	return summaries, nil
}

// Details returns the admin view of a job: jobsets with unit counts plus the
// users that can code it
func (s *Service) Details(ctx context.Context, jobID int64) (*JobDetails, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	jobsets, err := s.jobs.ListJobSets(ctx, jobID)
	if err != nil {
		return nil, err
	}
	coders, err := s.jobs.ListJobCoders(ctx, jobID)
	if err != nil {
		return nil, err
	}

	details := &JobDetails{
		ID:         job.ID,
		Title:      job.Title,
		Created:    job.Created,
		Restricted: job.Restricted,
		Archived:   job.Archived,
	}
	for _, jobset := range jobsets {
		count, err := s.jobs.CountJobSetUnits(ctx, jobset.ID)
		if err != nil {
			return nil, err
		}
		details.JobSets = append(details.JobSets, JobSetSummary{
			ID:     jobset.ID,
			Name:   jobset.Name,
			NUnits: count,
			Rules:  jobset.Rules,
		})
	}
	for _, coder := range coders {
		details.Users = append(details.Users, coder.Name)
	}
	return details, nil
}

// Units returns a job's units in upload order
func (s *Service) Units(ctx context.Context, jobID int64) ([]*models.Unit, error) {
	return s.units.ListUnits(ctx, jobID)
}

// Annotations exports every annotation of a job keyed by external ids
func (s *Service) Annotations(ctx context.Context, jobID int64) ([]*models.ExportedAnnotation, error) {
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.annotations.ListJobAnnotations(ctx, jobID)
}

// SetSettings updates the restricted/archived flags of a job
func (s *Service) SetSettings(ctx context.Context, jobID int64, restricted, archived *bool) (*models.CodingJob, error) {
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.jobs.SetJobSettings(ctx, jobID, restricted, archived)
}

// SetCoders sets the users that can code a restricted job. Unknown names are
// created as passwordless users. With onlyAdd, users missing from the list
// keep their access; otherwise it is revoked.
func (s *Service) SetCoders(ctx context.Context, jobID int64, names []string, onlyAdd bool) ([]string, error) {
	if len(names) == 0 {
		return []string{}, nil
	}
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	existing, err := s.jobs.ListJobCoders(ctx, jobID)
	if err != nil {
		return nil, err
	}
	current := make(map[string]bool, len(existing))
	for _, coder := range existing {
		current[coder.Name] = true
	}

	for name := range wanted {
		if current[name] {
			continue
		}
		user, err := s.users.GetUserByName(ctx, name)
		if err != nil {
			user = &models.User{Name: name}
			if err := s.users.CreateUser(ctx, user); err != nil {
				return nil, fmt.Errorf("failed to create coder %s: %w", name, err)
			}
		}
		if err := s.jobs.SetJobCoder(ctx, jobID, user.ID, true); err != nil {
			return nil, err
		}
	}

	all := make([]string, 0, len(wanted)+len(current))
	for name := range wanted {
		all = append(all, name)
	}
	for name := range current {
		if wanted[name] {
			continue
		}
		if onlyAdd {
			all = append(all, name)
			continue
		}
		user, err := s.users.GetUserByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if err := s.jobs.SetJobCoder(ctx, jobID, user.ID, false); err != nil {
			return nil, err
		}
	}
	sort.Strings(all)
	return all, nil
}

// Codebook returns the codebook of the jobset the coder is bound to
func (s *Service) Codebook(ctx context.Context, coder *models.User, jobID int64) (json.RawMessage, error) {
	jobset, err := s.server.JobSetFor(ctx, coder, jobID)
	if err != nil {
		return nil, err
	}
	return jobset.Codebook, nil
}

// Debriefing returns the jobset debriefing, but only once the coder has
// finished all their units
func (s *Service) Debriefing(ctx context.Context, coder *models.User, jobID int64) (json.RawMessage, error) {
	jobset, err := s.server.JobSetFor(ctx, coder, jobID)
	if err != nil {
		return nil, err
	}
	progress, err := s.server.Progress(ctx, coder, jobID)
	if err != nil {
		return nil, err
	}
	if progress.NCoded < progress.NTotal {
		return nil, common.BadRequestf("coding job %d is not finished", jobID)
	}
	if len(jobset.Debriefing) == 0 {
		return nil, common.NotFoundf("coding job %d has no debriefing", jobID)
	}
	return jobset.Debriefing, nil
}
