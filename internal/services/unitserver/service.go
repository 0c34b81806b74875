package unitserver

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
)

// Service decides which unit a coder gets next. Each request runs in one
// transaction so the count-based decisions and the IN_PROGRESS reservation
// they lead to land on the same snapshot.
type Service struct {
	engine interfaces.EngineStorage
	events interfaces.EventService
	logger arbor.ILogger
}

// NewService creates a new unit server
func NewService(engine interfaces.EngineStorage, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		engine: engine,
		events: events,
		logger: logger,
	}
}

// NextUnit serves the coder's next unit in a job, or a nil unit with the
// current index when the coder is done
func (s *Service) NextUnit(ctx context.Context, coder *models.User, jobID int64) (*models.ServedUnit, error) {
	return s.serve(ctx, coder, jobID, -1)
}

// SeekUnit looks up the unit at a specific coder-local ordinal, subject to
// the jobset's seek permissions. Invalid indexes fall back to NextUnit.
func (s *Service) SeekUnit(ctx context.Context, coder *models.User, jobID int64, index int) (*models.ServedUnit, error) {
	if index < 0 {
		return s.serve(ctx, coder, jobID, -1)
	}
	return s.serve(ctx, coder, jobID, index)
}

func (s *Service) serve(ctx context.Context, coder *models.User, jobID int64, seekIndex int) (*models.ServedUnit, error) {
	served, fresh, err := s.serveTx(ctx, coder, jobID, seekIndex)
	if errors.Is(err, common.ErrConflict) {
		// Two requests from the same coder raced on the reservation insert;
		// a single retry re-reads the winner's row
		served, fresh, err = s.serveTx(ctx, coder, jobID, seekIndex)
	}
	if err != nil {
		return nil, err
	}

	if fresh && s.events != nil {
		s.events.Publish(&models.Event{
			Type:      models.EventUnitServed,
			Timestamp: time.Now(),
			JobID:     jobID,
			Data: map[string]interface{}{
				"unit_id": served.ID,
				"coder":   coder.Name,
				"index":   served.Index,
			},
		})
	}
	return served, nil
}

// JobSetFor resolves (and binds) the jobset a coder belongs to in a job;
// used by the codebook and debriefing endpoints
func (s *Service) JobSetFor(ctx context.Context, coder *models.User, jobID int64) (*models.JobSet, error) {
	resolve := func() (*models.JobSet, error) {
		var jobset *models.JobSet
		err := s.engine.WithTx(ctx, func(tx interfaces.EngineTx) error {
			job, err := tx.GetJob(jobID)
			if err != nil {
				return err
			}
			_, jobset, err = resolveJobSet(tx, job, coder, true)
			return err
		})
		return jobset, err
	}

	jobset, err := resolve()
	if errors.Is(err, common.ErrConflict) {
		jobset, err = resolve()
	}
	return jobset, err
}

func (s *Service) serveTx(ctx context.Context, coder *models.User, jobID int64, seekIndex int) (*models.ServedUnit, bool, error) {
	var (
		served *models.ServedUnit
		fresh  bool
	)
	err := s.engine.WithTx(ctx, func(tx interfaces.EngineTx) error {
		state, err := newServeState(tx, coder, jobID)
		if err != nil {
			return err
		}
		if seekIndex >= 0 {
			served, err = state.seekUnit(seekIndex)
		} else {
			served, err = state.nextUnit()
		}
		fresh = state.fresh
		return err
	})
	return served, fresh, err
}

// serveState carries the per-request context shared by the serve steps
type serveState struct {
	tx      interfaces.EngineTx
	coder   *models.User
	job     *models.CodingJob
	jobUser *models.JobUser
	jobset  *models.JobSet
	strat   strategy
	fresh   bool
}

func newServeState(tx interfaces.EngineTx, coder *models.User, jobID int64) (*serveState, error) {
	job, err := tx.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.Archived {
		return nil, common.Unauthorizedf("coding job %d is archived", job.ID)
	}

	jobUser, jobset, err := resolveJobSet(tx, job, coder, true)
	if err != nil {
		return nil, err
	}
	if !jobUser.CanCode {
		return nil, common.Unauthorizedf("coder has no access to coding job %d", job.ID)
	}

	return &serveState{
		tx:      tx,
		coder:   coder,
		job:     job,
		jobUser: jobUser,
		jobset:  jobset,
		strat:   strategyFor(jobset.Rules),
	}, nil
}

func (st *serveState) nextUnit() (*models.ServedUnit, error) {
	// A disqualified coder gets nothing, not even their in-flight unit
	if rules := st.jobset.Rules; rules.MaxDamage != nil && st.jobUser.Damage > *rules.MaxDamage {
		index, err := st.tx.CountStarted(st.jobset.ID, st.coder.ID)
		if err != nil {
			return nil, err
		}
		return &models.ServedUnit{Index: index, GameOver: true}, nil
	}

	// Precedence 1: a unit the coder must still finish
	inFlight, err := st.tx.GetInFlightAnnotation(st.jobset.ID, st.coder.ID)
	if err == nil {
		return st.servedFromAnnotation(inFlight)
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	index, err := st.tx.CountStarted(st.jobset.ID, st.coder.ID)
	if err != nil {
		return nil, err
	}

	nTotal, err := st.strat.nTotal(st.tx, st.jobset)
	if err != nil {
		return nil, err
	}
	if index >= nTotal {
		return &models.ServedUnit{Index: index}, nil
	}

	unit, err := st.unitAt(index, nTotal)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return &models.ServedUnit{Index: index}, nil
	}
	return st.serveUnit(unit, index)
}

func (st *serveState) seekUnit(index int) (*models.ServedUnit, error) {
	rules := st.jobset.Rules
	seekForwards := rules.SeekForwards() && st.strat.allowsSeekForward()

	coded, err := st.tx.CountCoded(st.jobset.ID, st.coder.ID)
	if err != nil {
		return nil, err
	}
	if index >= coded && !seekForwards {
		return st.nextUnit()
	}

	nTotal, err := st.strat.nTotal(st.tx, st.jobset)
	if err != nil {
		return nil, err
	}
	if index >= nTotal {
		return &models.ServedUnit{Index: index}, nil
	}

	served, err := st.startedUnit(index)
	if err != nil || served != nil {
		return served, err
	}

	if !seekForwards {
		return &models.ServedUnit{Index: index}, nil
	}

	unit, err := st.unitAt(index, nTotal)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return &models.ServedUnit{Index: index}, nil
	}
	return st.serveUnit(unit, index)
}

// unitAt resolves the unit for a fresh serve at an ordinal: pinned fixed
// index slots first (exact, then counted from the end), then the strategy
func (st *serveState) unitAt(index, nTotal int) (*models.Unit, error) {
	unit, err := st.tx.GetFixedIndexUnit(st.jobset.ID, index)
	if err == nil {
		return unit, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	unit, err = st.tx.GetFixedIndexUnit(st.jobset.ID, index-nTotal)
	if err == nil {
		return unit, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	return st.strat.pickUnit(st.tx, st.jobset, st.coder, index)
}

// startedUnit returns the unit the coder already started at an ordinal, or
// nil when there is none or backward seeking is not allowed
func (st *serveState) startedUnit(index int) (*models.ServedUnit, error) {
	annotation, err := st.tx.GetAnnotationByIndex(st.jobset.ID, st.coder.ID, index)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	started, err := st.tx.CountStarted(st.jobset.ID, st.coder.ID)
	if err != nil {
		return nil, err
	}
	if index < started-1 && !st.jobset.Rules.SeekBackwards() {
		return nil, nil
	}
	return st.servedFromAnnotation(annotation)
}

// serveUnit reserves a fresh unit for the coder, or returns the existing
// annotation when the unit was started before
func (st *serveState) serveUnit(unit *models.Unit, index int) (*models.ServedUnit, error) {
	annotation, err := st.tx.GetAnnotation(unit.ID, st.coder.ID)
	if err == nil {
		return st.servedUnit(unit, annotation), nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	annotation = &models.Annotation{
		CodingJobID: st.job.ID,
		UnitID:      unit.ID,
		CoderID:     st.coder.ID,
		JobSetID:    st.jobset.ID,
		UnitIndex:   index,
		Status:      models.StatusInProgress,
	}
	if err := st.tx.InsertAnnotation(annotation); err != nil {
		return nil, err
	}
	st.fresh = true
	return st.servedUnit(unit, annotation), nil
}

func (st *serveState) servedFromAnnotation(annotation *models.Annotation) (*models.ServedUnit, error) {
	unit, err := st.tx.GetUnit(annotation.UnitID)
	if err != nil {
		return nil, err
	}
	return st.servedUnit(unit, annotation), nil
}

func (st *serveState) servedUnit(unit *models.Unit, annotation *models.Annotation) *models.ServedUnit {
	return &models.ServedUnit{
		ID:         unit.ID,
		Unit:       unit.Content,
		Index:      annotation.UnitIndex,
		Annotation: annotation.Annotation,
		Status:     annotation.Status,
		Report:     annotation.Report,
	}
}
