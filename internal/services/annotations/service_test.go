package annotations

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
	"github.com/ternarybob/annotor/internal/services/unitserver"
	"github.com/ternarybob/annotor/internal/storage/sqlite"
)

type fixture struct {
	users  interfaces.UserStorage
	jobs   interfaces.CodingJobStorage
	engine interfaces.EngineStorage
	server *unitserver.Service
	svc    *Service
}

func setup(t *testing.T) *fixture {
	logger := arbor.NewLogger()
	db, err := sqlite.NewSQLiteDB(logger, &common.SQLiteConfig{
		Path:          t.TempDir() + "/test.db",
		BusyTimeoutMS: 5000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	engine := sqlite.NewEngineStorage(db, logger)
	return &fixture{
		users:  sqlite.NewUserStorage(db, logger),
		jobs:   sqlite.NewCodingJobStorage(db, logger),
		engine: engine,
		server: unitserver.NewService(engine, nil, logger),
		svc:    NewService(engine, nil, logger),
	}
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	user := &models.User{Name: name}
	require.NoError(t, f.users.CreateUser(context.Background(), user))
	return user
}

// goldJob creates a job whose units all expect Q=yes
func (f *fixture) goldJob(t *testing.T, rules models.Rules, unitType models.UnitType, n int) *models.CodingJob {
	t.Helper()
	units := make([]*models.Unit, n)
	memberships := make([]*models.JobSetUnit, n)
	for i := range units {
		units[i] = &models.Unit{
			ExternalID: string(rune('a' + i)),
			Content:    json.RawMessage(`{"text":"gold"}`),
			UnitType:   unitType,
			Conditionals: []models.Conditional{
				{Variable: "Q", Conditions: []models.Condition{{Value: "yes"}}},
			},
		}
		memberships[i] = &models.JobSetUnit{UnitID: int64(i), HasConditionals: true}
	}
	job := &models.CodingJob{Title: "gold job", CreatorID: 1}
	jobsets := []*models.JobSet{
		{Name: "default", Codebook: json.RawMessage(`{}`), Rules: rules},
	}
	require.NoError(t, f.jobs.CreateJob(context.Background(), job, units, jobsets,
		map[string][]*models.JobSetUnit{"default": memberships}))
	return job
}

func submitValue(variable, value string, status models.AnnotationStatus) *models.AnnotationUpload {
	return &models.AnnotationUpload{
		Annotation: []models.AnnotationValue{{Variable: variable, Value: value}},
		Status:     status,
	}
}

func TestSubmit_RequiresServedUnit(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job := f.goldJob(t, models.Rules{Ruleset: models.RulesetFixedSet}, models.UnitTypeCode, 1)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, coder, job.ID, 999, submitValue("Q", "yes", models.StatusDone))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSubmit_RejectsInvalidStatus(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job := f.goldJob(t, models.Rules{Ruleset: models.RulesetFixedSet}, models.UnitTypeCode, 1)
	ctx := context.Background()

	served, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)

	// Only DONE and IN_PROGRESS are accepted from clients
	for _, status := range []models.AnnotationStatus{"RETRY", "done", "garbage"} {
		_, err = f.svc.Submit(ctx, coder, job.ID, served.ID, submitValue("Q", "yes", status))
		assert.ErrorIs(t, err, common.ErrBadRequest, "status %q", status)
	}

	// The served annotation is untouched and stays open
	again, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.Equal(t, served.ID, again.ID)
	assert.Equal(t, models.StatusInProgress, again.Status)
}

func TestSubmit_CleanDone(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job := f.goldJob(t, models.Rules{Ruleset: models.RulesetFixedSet}, models.UnitTypeCode, 2)
	ctx := context.Background()

	served, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)

	report, err := f.svc.Submit(ctx, coder, job.ID, served.ID, submitValue("Q", "yes", models.StatusDone))
	require.NoError(t, err)
	assert.Nil(t, report.Damage)
	assert.False(t, report.Disqualified)

	// The sequence advances
	next, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, next.Index)
	assert.NotEqual(t, served.ID, next.ID)
}

func TestSubmit_TrainingRetryLoop(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job := f.goldJob(t, models.Rules{Ruleset: models.RulesetFixedSet}, models.UnitTypeTrain, 2)
	ctx := context.Background()

	served, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)

	// Wrong answer: retry action forces the unit to stay open
	report, err := f.svc.Submit(ctx, coder, job.ID, served.ID, submitValue("Q", "no", models.StatusDone))
	require.NoError(t, err)
	assert.Equal(t, models.ActionRetry, report.Evaluation["Q"].Action)

	again, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.Equal(t, served.ID, again.ID)
	assert.Equal(t, served.Index, again.Index)
	assert.Equal(t, models.StatusRetry, again.Status)
	require.NotNil(t, again.Report)

	// Correct answer clears the unit; success is reported as applaud
	report, err = f.svc.Submit(ctx, coder, job.ID, served.ID, submitValue("Q", "yes", models.StatusDone))
	require.NoError(t, err)
	assert.Equal(t, models.ActionApplaud, report.Evaluation["Q"].Action)

	next, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.Equal(t, served.Index+1, next.Index)
}

func TestSubmit_TestUnitDamageAndGameOver(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	maxDamage := 15.0
	job := f.goldJob(t, models.Rules{
		Ruleset:    models.RulesetFixedSet,
		ShowDamage: true,
		MaxDamage:  &maxDamage,
	}, models.UnitTypeTest, 3)
	ctx := context.Background()

	// First wrong answer: 10 damage, still under the cap
	served, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	report, err := f.svc.Submit(ctx, coder, job.ID, served.ID, submitValue("Q", "no", models.StatusDone))
	require.NoError(t, err)
	require.NotNil(t, report.Damage)
	assert.Equal(t, 10.0, *report.Damage.Damage)
	assert.Equal(t, 10.0, *report.Damage.TotalDamage)
	assert.Equal(t, 15.0, *report.Damage.MaxDamage)
	assert.False(t, report.Damage.GameOver)

	jobUser, err := f.jobs.GetJobUser(ctx, coder.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, jobUser.Damage)

	// Second wrong answer crosses the cap
	served, err = f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	report, err = f.svc.Submit(ctx, coder, job.ID, served.ID, submitValue("Q", "no", models.StatusDone))
	require.NoError(t, err)
	assert.Equal(t, 20.0, *report.Damage.TotalDamage)
	assert.True(t, report.Damage.GameOver)

	// No further units are assigned
	next, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.Nil(t, next.Unit)
	assert.True(t, next.GameOver)
}

func TestSubmit_DamageIsMonotonicByDefault(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job := f.goldJob(t, models.Rules{Ruleset: models.RulesetFixedSet, ShowDamage: true}, models.UnitTypeTest, 1)
	ctx := context.Background()

	served, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, coder, job.ID, served.ID, submitValue("Q", "no", models.StatusDone))
	require.NoError(t, err)

	// Correcting the answer does not heal the damage
	_, err = f.svc.Submit(ctx, coder, job.ID, served.ID, submitValue("Q", "yes", models.StatusDone))
	require.NoError(t, err)

	jobUser, err := f.jobs.GetJobUser(ctx, coder.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, jobUser.Damage)
}

func TestSubmit_HealDamage(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job := f.goldJob(t, models.Rules{Ruleset: models.RulesetFixedSet, HealDamage: true, ShowDamage: true}, models.UnitTypeTest, 1)
	ctx := context.Background()

	served, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, coder, job.ID, served.ID, submitValue("Q", "no", models.StatusDone))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, coder, job.ID, served.ID, submitValue("Q", "yes", models.StatusDone))
	require.NoError(t, err)

	jobUser, err := f.jobs.GetJobUser(ctx, coder.ID, job.ID)
	require.NoError(t, err)
	assert.Zero(t, jobUser.Damage)
}

func TestSubmit_ResubmitSamePayloadIsIdempotent(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job := f.goldJob(t, models.Rules{Ruleset: models.RulesetFixedSet, ShowDamage: true}, models.UnitTypeTest, 1)
	ctx := context.Background()

	served, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = f.svc.Submit(ctx, coder, job.ID, served.ID, submitValue("Q", "no", models.StatusDone))
		require.NoError(t, err)
	}

	jobUser, err := f.jobs.GetJobUser(ctx, coder.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, jobUser.Damage)
}

func TestSubmit_ScreenUnitDisqualifies(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job := f.goldJob(t, models.Rules{Ruleset: models.RulesetFixedSet}, models.UnitTypeScreen, 1)
	ctx := context.Background()

	served, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)

	report, err := f.svc.Submit(ctx, coder, job.ID, served.ID, submitValue("Q", "no", models.StatusDone))
	require.NoError(t, err)
	assert.Equal(t, models.ActionBlock, report.Evaluation["Q"].Action)
	assert.True(t, report.Disqualified)

	// The unit stays open rather than hard-terminating the coder
	again, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.Equal(t, served.ID, again.ID)
	assert.Equal(t, models.StatusRetry, again.Status)
}

func TestSubmit_WrongJobRejected(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job := f.goldJob(t, models.Rules{Ruleset: models.RulesetFixedSet}, models.UnitTypeCode, 1)
	otherJob := f.goldJob(t, models.Rules{Ruleset: models.RulesetFixedSet}, models.UnitTypeCode, 1)
	ctx := context.Background()

	served, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, coder, otherJob.ID, served.ID, submitValue("Q", "yes", models.StatusDone))
	assert.ErrorIs(t, err, common.ErrBadRequest)
}
