package annotations

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
	"github.com/ternarybob/annotor/internal/services/conditionals"
)

// Service applies submitted annotations to persistent state: conditional
// evaluation, status override, damage accounting and the client-facing
// report, all inside one transaction.
type Service struct {
	engine   interfaces.EngineStorage
	events   interfaces.EventService
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewService creates a new annotation service
func NewService(engine interfaces.EngineStorage, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		engine:   engine,
		events:   events,
		validate: validator.New(),
		logger:   logger,
	}
}

// Submit stores a coder's annotation for a unit that was served to them and
// returns the evaluation report. The unit must have been served first; the
// reconciler never creates annotation rows.
func (s *Service) Submit(ctx context.Context, coder *models.User, jobID, unitID int64, upload *models.AnnotationUpload) (*models.Report, error) {
	if err := s.validate.Struct(upload); err != nil {
		return nil, common.BadRequestf("invalid annotation: %v", err)
	}

	var (
		report       *models.Report
		disqualified bool
	)

	err := s.engine.WithTx(ctx, func(tx interfaces.EngineTx) error {
		annotation, err := tx.GetAnnotation(unitID, coder.ID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.NotFoundf("unit %d was not served to this coder", unitID)
			}
			return err
		}
		if annotation.CodingJobID != jobID {
			return common.BadRequestf("unit %d does not belong to coding job %d", unitID, jobID)
		}

		unit, err := tx.GetUnit(unitID)
		if err != nil {
			return err
		}

		annotation.Annotation = upload.Annotation
		annotation.Modified = time.Now()
		annotation.Status = upload.Status

		report = &models.Report{Evaluation: map[string]models.Evaluation{}}

		if unit.HasConditionals() {
			damageDelta, evaluation := conditionals.Evaluate(unit, upload.Annotation, upload.Status, true)
			report.Evaluation = evaluation

			// A failed retry or block conditional keeps the unit open; the
			// serve precedence then re-serves it until corrected
			for _, eval := range evaluation {
				switch eval.Action {
				case models.ActionRetry:
					annotation.Status = models.StatusRetry
				case models.ActionBlock:
					annotation.Status = models.StatusRetry
					report.Disqualified = true
					disqualified = true
				}
			}

			if damageDelta != annotation.Damage {
				if err := s.applyDamage(tx, coder, annotation, damageDelta, report); err != nil {
					return err
				}
			}
		}

		annotation.Report = report
		return tx.UpdateAnnotation(annotation)
	})
	if err != nil {
		return nil, err
	}

	s.publish(coder, jobID, unitID, disqualified)
	return report, nil
}

// applyDamage persists the annotation's damage and recomputes the coder's
// accumulated total. Damage is monotonic per annotation unless the jobset
// heals it on changed answers.
func (s *Service) applyDamage(tx interfaces.EngineTx, coder *models.User,
	annotation *models.Annotation, damageDelta float64, report *models.Report) error {

	jobUser, err := tx.GetJobUser(coder.ID, annotation.CodingJobID)
	if err != nil {
		return err
	}
	jobset, err := s.jobSet(tx, annotation.CodingJobID, annotation.JobSetID)
	if err != nil {
		return err
	}

	rules := jobset.Rules
	if !rules.HealDamage && annotation.Damage > damageDelta {
		damageDelta = annotation.Damage
	}
	annotation.Damage = damageDelta

	if err := tx.UpdateAnnotation(annotation); err != nil {
		return err
	}
	total, err := tx.SumDamage(annotation.JobSetID, coder.ID)
	if err != nil {
		return err
	}
	if err := tx.UpdateJobUserDamage(jobUser.ID, total); err != nil {
		return err
	}

	report.Damage = damageReport(damageDelta, total, rules)
	return nil
}

func (s *Service) jobSet(tx interfaces.EngineTx, jobID, jobsetID int64) (*models.JobSet, error) {
	jobsets, err := tx.ListJobSets(jobID)
	if err != nil {
		return nil, err
	}
	for _, jobset := range jobsets {
		if jobset.ID == jobsetID {
			return jobset, nil
		}
	}
	return nil, common.NotFoundf("jobset %d", jobsetID)
}

// damageReport builds the damage block of the report. Damage numbers are
// only disclosed with show_damage; game over is always disclosed when a
// damage cap exists, since the coder needs to know they are done.
func damageReport(damage, total float64, rules models.Rules) *models.DamageReport {
	report := &models.DamageReport{}
	disclosed := false

	if rules.ShowDamage {
		report.Damage = &damage
		report.TotalDamage = &total
		report.MaxDamage = rules.MaxDamage
		disclosed = true
	}
	if rules.MaxDamage != nil && rules.GameOver(total) {
		report.GameOver = true
		disclosed = true
	}
	if !disclosed {
		return nil
	}
	return report
}

func (s *Service) publish(coder *models.User, jobID, unitID int64, disqualified bool) {
	if s.events == nil {
		return
	}
	s.events.Publish(&models.Event{
		Type:      models.EventAnnotationSubmitted,
		Timestamp: time.Now(),
		JobID:     jobID,
		Data: map[string]interface{}{
			"unit_id": unitID,
			"coder":   coder.Name,
		},
	})
	if disqualified {
		s.events.Publish(&models.Event{
			Type:      models.EventCoderDisqualified,
			Timestamp: time.Now(),
			JobID:     jobID,
			Data:      map[string]interface{}{"coder": coder.Name},
		})
	}
}
