package unitserver

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
	"github.com/ternarybob/annotor/internal/storage/sqlite"
)

type fixture struct {
	users  interfaces.UserStorage
	jobs   interfaces.CodingJobStorage
	engine interfaces.EngineStorage
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
		svc:    NewService(engine, nil, logger),
	}
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	user := &models.User{Name: name}
	require.NoError(t, f.users.CreateUser(context.Background(), user))
	return user
}

// job creates a coding job with n plain units in a single jobset
func (f *fixture) job(t *testing.T, rules models.Rules, n int) (*models.CodingJob, []*models.Unit) {
	t.Helper()
	units := make([]*models.Unit, n)
	memberships := make([]*models.JobSetUnit, n)
	for i := range units {
		units[i] = &models.Unit{
			ExternalID: fmt.Sprintf("u%d", i+1),
			Content:    json.RawMessage(fmt.Sprintf(`{"text":"unit %d"}`, i+1)),
			UnitType:   models.UnitTypeCode,
		}
		memberships[i] = &models.JobSetUnit{UnitID: int64(i)}
	}
	job := &models.CodingJob{Title: "test job", CreatorID: 1}
	jobsets := []*models.JobSet{
		{Name: "default", Codebook: json.RawMessage(`{}`), Rules: rules},
	}
	require.NoError(t, f.jobs.CreateJob(context.Background(), job, units, jobsets,
		map[string][]*models.JobSetUnit{"default": memberships}))
	return job, units
}

// finishCurrent marks the coder's in-flight annotation as DONE
func (f *fixture) finishCurrent(t *testing.T, coder *models.User, jobID int64) {
	t.Helper()
	jobUser, err := f.jobs.GetJobUser(context.Background(), coder.ID, jobID)
	require.NoError(t, err)
	require.NotNil(t, jobUser.JobSetID)

	err = f.engine.WithTx(context.Background(), func(tx interfaces.EngineTx) error {
		annotation, err := tx.GetInFlightAnnotation(*jobUser.JobSetID, coder.ID)
		if err != nil {
			return err
		}
		annotation.Status = models.StatusDone
		return tx.UpdateAnnotation(annotation)
	})
	require.NoError(t, err)
}

func TestNextUnit_FixedSetServesInOrder(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job, units := f.job(t, models.Rules{Ruleset: models.RulesetFixedSet}, 3)
	ctx := context.Background()

	served, err := f.svc.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.Equal(t, units[0].ID, served.ID)
	assert.Equal(t, 0, served.Index)
	assert.Equal(t, models.StatusInProgress, served.Status)

	// Re-requesting without finishing re-serves the same unit
	again, err := f.svc.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.Equal(t, served.ID, again.ID)
	assert.Equal(t, 0, again.Index)

	f.finishCurrent(t, coder, job.ID)
	served, err = f.svc.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.Equal(t, units[1].ID, served.ID)
	assert.Equal(t, 1, served.Index)
}

func TestNextUnit_FinishedJobReturnsNoUnit(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job, _ := f.job(t, models.Rules{Ruleset: models.RulesetFixedSet}, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.NextUnit(ctx, coder, job.ID)
		require.NoError(t, err)
		f.finishCurrent(t, coder, job.ID)
	}

	served, err := f.svc.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.Zero(t, served.ID)
	assert.Nil(t, served.Unit)
	assert.Equal(t, 2, served.Index)
}

func TestNextUnit_PreAndPostUnits(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	ctx := context.Background()

	pre, post := 0, -1
	job := &models.CodingJob{Title: "with bookends", CreatorID: 1}
	units := []*models.Unit{
		{ExternalID: "intro", UnitType: models.UnitTypeSurvey, Position: models.PositionPre},
		{ExternalID: "m1", UnitType: models.UnitTypeCode},
		{ExternalID: "m2", UnitType: models.UnitTypeCode},
		{ExternalID: "outro", UnitType: models.UnitTypeSurvey, Position: models.PositionPost},
	}
	jobsets := []*models.JobSet{
		{Name: "default", Codebook: json.RawMessage(`{}`), Rules: models.Rules{Ruleset: models.RulesetCrowdCoding}},
	}
	require.NoError(t, f.jobs.CreateJob(ctx, job, units, jobsets, map[string][]*models.JobSetUnit{
		"default": {
			{UnitID: 0, FixedIndex: &pre},
			{UnitID: 1},
			{UnitID: 2},
			{UnitID: 3, FixedIndex: &post},
		},
	}))

	var order []string
	for i := 0; i < 4; i++ {
		served, err := f.svc.NextUnit(ctx, coder, job.ID)
		require.NoError(t, err)
		require.NotZero(t, served.ID, "expected a unit at index %d", i)
		for _, unit := range units {
			if unit.ID == served.ID {
				order = append(order, unit.ExternalID)
			}
		}
		f.finishCurrent(t, coder, job.ID)
	}
	assert.Equal(t, []string{"intro", "m1", "m2", "outro"}, order)
}

func TestNextUnit_RandomizeIsStablePerCoder(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job, units := f.job(t, models.Rules{Ruleset: models.RulesetFixedSet, Randomize: true}, 4)
	ctx := context.Background()

	var served []int64
	for i := 0; i < 4; i++ {
		unit, err := f.svc.NextUnit(ctx, coder, job.ID)
		require.NoError(t, err)
		served = append(served, unit.ID)
		f.finishCurrent(t, coder, job.ID)
	}

	perm := coderPermutation(coder.ID, 4)
	expected := make([]int64, 4)
	for i := range expected {
		expected[i] = units[perm[i]].ID
	}
	assert.Equal(t, expected, served)
}

func TestNextUnit_CrowdCodingPrefersLeastCoded(t *testing.T) {
	f := setup(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	job, units := f.job(t, models.Rules{Ruleset: models.RulesetCrowdCoding}, 3)
	ctx := context.Background()

	first, err := f.svc.NextUnit(ctx, alice, job.ID)
	require.NoError(t, err)
	assert.Equal(t, units[0].ID, first.ID)

	// Alice holds u1, so Bob starts on u2
	second, err := f.svc.NextUnit(ctx, bob, job.ID)
	require.NoError(t, err)
	assert.Equal(t, units[1].ID, second.ID)
	assert.Equal(t, 0, second.Index)
}

func TestNextUnit_UnitsPerCoderCap(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job, _ := f.job(t, models.Rules{Ruleset: models.RulesetCrowdCoding, UnitsPerCoder: 1}, 3)
	ctx := context.Background()

	_, err := f.svc.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	f.finishCurrent(t, coder, job.ID)

	served, err := f.svc.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.Nil(t, served.Unit)
	assert.Equal(t, 1, served.Index)
}

func TestNextUnit_GameOver(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	maxDamage := 15.0
	job, _ := f.job(t, models.Rules{Ruleset: models.RulesetFixedSet, MaxDamage: &maxDamage}, 3)
	ctx := context.Background()

	_, err := f.svc.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)

	// Push the coder past the damage cap
	err = f.engine.WithTx(ctx, func(tx interfaces.EngineTx) error {
		jobUser, err := tx.GetJobUser(coder.ID, job.ID)
		if err != nil {
			return err
		}
		return tx.UpdateJobUserDamage(jobUser.ID, 20)
	})
	require.NoError(t, err)

	served, err := f.svc.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.Nil(t, served.Unit)
	assert.True(t, served.GameOver)
}

func TestJobSetRoundRobin(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	job := &models.CodingJob{Title: "ab test", CreatorID: 1}
	units := []*models.Unit{
		{ExternalID: "u1", UnitType: models.UnitTypeCode},
		{ExternalID: "u2", UnitType: models.UnitTypeCode},
	}
	jobsets := []*models.JobSet{
		{Name: "A", Codebook: json.RawMessage(`{}`), Rules: models.Rules{Ruleset: models.RulesetFixedSet}},
		{Name: "B", Codebook: json.RawMessage(`{}`), Rules: models.Rules{Ruleset: models.RulesetFixedSet}},
	}
	require.NoError(t, f.jobs.CreateJob(ctx, job, units, jobsets, map[string][]*models.JobSetUnit{
		"A": {{UnitID: 0}},
		"B": {{UnitID: 1}},
	}))

	expected := []string{"A", "B", "A"}
	for i, name := range []string{"c1", "c2", "c3"} {
		coder := f.user(t, name)
		_, err := f.svc.NextUnit(ctx, coder, job.ID)
		require.NoError(t, err)

		jobUser, err := f.jobs.GetJobUser(ctx, coder.ID, job.ID)
		require.NoError(t, err)
		require.NotNil(t, jobUser.JobSetID)

		var boundName string
		for _, jobset := range jobsets {
			if jobset.ID == *jobUser.JobSetID {
				boundName = jobset.Name
			}
		}
		assert.Equal(t, expected[i], boundName, "coder %d", i)
	}

	// An existing binding is never rebalanced
	c1, err := f.users.GetUserByName(ctx, "c1")
	require.NoError(t, err)
	_, err = f.svc.NextUnit(ctx, c1, job.ID)
	require.NoError(t, err)
	jobUser, err := f.jobs.GetJobUser(ctx, c1.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobsets[0].ID, *jobUser.JobSetID)
}

func TestNextUnit_AuthorizationGates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	job, _ := f.job(t, models.Rules{Ruleset: models.RulesetFixedSet}, 1)

	// Guests are confined to their own job
	otherJob := int64(9999)
	guest := &models.User{Name: "jobuser_9999_x", RestrictedJob: &otherJob}
	require.NoError(t, f.users.CreateUser(ctx, guest))
	_, err := f.svc.NextUnit(ctx, guest, job.ID)
	assert.ErrorIs(t, err, common.ErrAuthorizationDenied)

	// Restricted jobs require an existing JobUser row
	restricted := true
	_, err = f.jobs.SetJobSettings(ctx, job.ID, &restricted, nil)
	require.NoError(t, err)

	outsider := f.user(t, "outsider")
	_, err = f.svc.NextUnit(ctx, outsider, job.ID)
	assert.ErrorIs(t, err, common.ErrAuthorizationDenied)

	insider := f.user(t, "insider")
	require.NoError(t, f.jobs.SetJobCoder(ctx, job.ID, insider.ID, true))
	_, err = f.svc.NextUnit(ctx, insider, job.ID)
	assert.NoError(t, err)

	// Archived jobs stop serving everyone
	archived := true
	_, err = f.jobs.SetJobSettings(ctx, job.ID, nil, &archived)
	require.NoError(t, err)
	_, err = f.svc.NextUnit(ctx, insider, job.ID)
	assert.ErrorIs(t, err, common.ErrAuthorizationDenied)
}

func TestSeekUnit_Backwards(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job, units := f.job(t, models.Rules{Ruleset: models.RulesetFixedSet}, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.NextUnit(ctx, coder, job.ID)
		require.NoError(t, err)
		f.finishCurrent(t, coder, job.ID)
	}

	served, err := f.svc.SeekUnit(ctx, coder, job.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, units[0].ID, served.ID)
	assert.Equal(t, 0, served.Index)
	assert.Equal(t, models.StatusDone, served.Status)
}

func TestSeekUnit_BackwardsDisabled(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	noSeek := false
	job, _ := f.job(t, models.Rules{Ruleset: models.RulesetFixedSet, CanSeekBackwards: &noSeek}, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.NextUnit(ctx, coder, job.ID)
		require.NoError(t, err)
		f.finishCurrent(t, coder, job.ID)
	}

	served, err := f.svc.SeekUnit(ctx, coder, job.ID, 0)
	require.NoError(t, err)
	assert.Nil(t, served.Unit)
	assert.Equal(t, 0, served.Index)
}

func TestSeekUnit_ForwardFallsBackToNext(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	job, units := f.job(t, models.Rules{Ruleset: models.RulesetFixedSet}, 3)
	ctx := context.Background()

	// Seeking past the coded range without can_seek_forwards serves the
	// next unit instead
	served, err := f.svc.SeekUnit(ctx, coder, job.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, units[0].ID, served.ID)
	assert.Equal(t, 0, served.Index)
}

func TestSeekUnit_ForwardAllowed(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	seekForward := true
	job, units := f.job(t, models.Rules{Ruleset: models.RulesetFixedSet, CanSeekForwards: &seekForward}, 3)
	ctx := context.Background()

	served, err := f.svc.SeekUnit(ctx, coder, job.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, units[2].ID, served.ID)
	assert.Equal(t, 2, served.Index)
	assert.Equal(t, models.StatusInProgress, served.Status)
}

func TestProgress(t *testing.T) {
	f := setup(t)
	coder := f.user(t, "alice")
	maxDamage := 15.0
	job, _ := f.job(t, models.Rules{
		Ruleset:    models.RulesetFixedSet,
		ShowDamage: true,
		MaxDamage:  &maxDamage,
	}, 3)
	ctx := context.Background()

	progress, err := f.svc.Progress(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.NTotal)
	assert.Zero(t, progress.NCoded)
	assert.True(t, progress.SeekBackwards)
	assert.False(t, progress.SeekForwards)
	require.NotNil(t, progress.Damage)
	assert.Zero(t, *progress.Damage)
	require.NotNil(t, progress.GameOver)
	assert.False(t, *progress.GameOver)

	_, err = f.svc.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	f.finishCurrent(t, coder, job.ID)

	progress, err = f.svc.Progress(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.NCoded)
	assert.NotNil(t, progress.LastModified)
}
