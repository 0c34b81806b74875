package sqlite

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/models"
)

// setupTestDB creates a test database and returns cleanup function
func setupTestDB(t *testing.T) (*SQLiteDB, func()) {
	tempDir := t.TempDir()
	dbPath := tempDir + "/test.db"

	config := &common.SQLiteConfig{
		Path:          dbPath,
		CacheSizeMB:   10,
		WALMode:       false,
		BusyTimeoutMS: 5000,
	}

	logger := arbor.NewLogger()
	db, err := NewSQLiteDB(logger, config)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
	}

	return db, cleanup
}

func testUser(t *testing.T, db *SQLiteDB, name string) *models.User {
	t.Helper()
	storage := NewUserStorage(db, arbor.NewLogger())
	user := &models.User{Name: name, Email: name + "@example.com"}
	require.NoError(t, storage.CreateUser(context.Background(), user))
	return user
}

// testJob creates a job with three plain units in one jobset
func testJob(t *testing.T, db *SQLiteDB, creatorID int64) (*models.CodingJob, []*models.Unit, *models.JobSet) {
	t.Helper()
	storage := NewCodingJobStorage(db, arbor.NewLogger())

	job := &models.CodingJob{Title: "sentiment pilot", CreatorID: creatorID}
	units := []*models.Unit{
		{ExternalID: "u1", Content: json.RawMessage(`{"text":"first"}`), UnitType: models.UnitTypeCode},
		{ExternalID: "u2", Content: json.RawMessage(`{"text":"second"}`), UnitType: models.UnitTypeCode},
		{ExternalID: "u3", Content: json.RawMessage(`{"text":"third"}`), UnitType: models.UnitTypeCode},
	}
	jobsets := []*models.JobSet{
		{Name: "default", Codebook: json.RawMessage(`{"type":"questions"}`), Rules: models.Rules{Ruleset: models.RulesetCrowdCoding}},
	}
	memberships := map[string][]*models.JobSetUnit{
		"default": {
			{UnitID: 0},
			{UnitID: 1},
			{UnitID: 2},
		},
	}

	require.NoError(t, storage.CreateJob(context.Background(), job, units, jobsets, memberships))
	return job, units, jobsets[0]
}

func TestUserStorage_CreateAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewUserStorage(db, arbor.NewLogger())
	ctx := context.Background()

	user := &models.User{Name: "alice", Email: "alice@example.com", IsAdmin: true, PasswordHash: "hash"}
	require.NoError(t, storage.CreateUser(ctx, user))
	assert.NotZero(t, user.ID)

	got, err := storage.GetUserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.True(t, got.IsAdmin)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.False(t, got.CreatedAt.IsZero())

	// Duplicate names are rejected
	err = storage.CreateUser(ctx, &models.User{Name: "alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConflict)

	_, err = storage.GetUserByName(ctx, "nobody")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUserStorage_ListExcludesGuests(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewUserStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateUser(ctx, &models.User{Name: "alice"}))
	jobID := int64(42)
	require.NoError(t, storage.CreateUser(ctx, &models.User{Name: "jobuser_42_abc", RestrictedJob: &jobID}))

	users, total, err := storage.ListUsers(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Name)
}

func TestCodingJobStorage_CreateJob(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	creator := testUser(t, db, "admin")
	job, units, jobset := testJob(t, db, creator.ID)

	storage := NewCodingJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "sentiment pilot", got.Title)
	assert.Equal(t, creator.ID, got.CreatorID)

	jobsets, err := storage.ListJobSets(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, jobsets, 1)
	assert.Equal(t, jobset.ID, jobsets[0].ID)
	assert.Equal(t, models.RulesetCrowdCoding, jobsets[0].Rules.Ruleset)

	count, err := storage.CountJobSetUnits(ctx, jobset.ID)
	require.NoError(t, err)
	assert.Equal(t, len(units), count)
}

func TestCodingJobStorage_CreateJobRollsBackOnDuplicateUnit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	creator := testUser(t, db, "admin")
	storage := NewCodingJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := &models.CodingJob{Title: "broken", CreatorID: creator.ID}
	units := []*models.Unit{
		{ExternalID: "dup", UnitType: models.UnitTypeCode},
		{ExternalID: "dup", UnitType: models.UnitTypeCode},
	}
	jobsets := []*models.JobSet{
		{Name: "default", Codebook: json.RawMessage(`{}`), Rules: models.Rules{Ruleset: models.RulesetCrowdCoding}},
	}
	err := storage.CreateJob(ctx, job, units, jobsets, map[string][]*models.JobSetUnit{
		"default": {{UnitID: 0}, {UnitID: 1}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrBadRequest)

	// Nothing from the failed creation remains
	jobs, err := storage.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCodingJobStorage_ListJobsForCoder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	creator := testUser(t, db, "admin")
	coder := testUser(t, db, "bob")

	storage := NewCodingJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	open, _, _ := testJob(t, db, creator.ID)

	restricted := &models.CodingJob{Title: "restricted", CreatorID: creator.ID, Restricted: true}
	require.NoError(t, storage.CreateJob(ctx, restricted,
		[]*models.Unit{{ExternalID: "r1", UnitType: models.UnitTypeCode}},
		[]*models.JobSet{{Name: "default", Codebook: json.RawMessage(`{}`), Rules: models.Rules{Ruleset: models.RulesetCrowdCoding}}},
		map[string][]*models.JobSetUnit{"default": {{UnitID: 0}}}))

	// Plain coder sees only the unrestricted job
	jobs, err := storage.ListJobsForCoder(ctx, coder)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, open.ID, jobs[0].ID)

	// Added to the restricted job, the coder now sees both
	require.NoError(t, storage.SetJobCoder(ctx, restricted.ID, coder.ID, true))
	jobs, err = storage.ListJobsForCoder(ctx, coder)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	// Archiving hides the job again
	archived := true
	_, err = storage.SetJobSettings(ctx, restricted.ID, nil, &archived)
	require.NoError(t, err)
	jobs, err = storage.ListJobsForCoder(ctx, coder)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestCodingJobStorage_UpsertJobUserKeepsJobSet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	creator := testUser(t, db, "admin")
	coder := testUser(t, db, "bob")
	job, _, jobset := testJob(t, db, creator.ID)

	storage := NewCodingJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	jobUser := &models.JobUser{UserID: coder.ID, CodingJobID: job.ID, CanCode: true, JobSetID: &jobset.ID}
	require.NoError(t, storage.UpsertJobUser(ctx, jobUser))

	// A second upsert toggles permissions but never rebinds the jobset
	require.NoError(t, storage.UpsertJobUser(ctx, &models.JobUser{
		UserID: coder.ID, CodingJobID: job.ID, CanCode: false,
	}))

	got, err := storage.GetJobUser(ctx, coder.ID, job.ID)
	require.NoError(t, err)
	assert.False(t, got.CanCode)
	require.NotNil(t, got.JobSetID)
	assert.Equal(t, jobset.ID, *got.JobSetID)
}

func TestUnitStorage_SetBlocked(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	creator := testUser(t, db, "admin")
	_, units, jobset := testJob(t, db, creator.ID)

	storage := NewUnitStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.SetBlocked(ctx, jobset.ID, units[0].ID, true))
	err := storage.SetBlocked(ctx, jobset.ID, 9999, true)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
