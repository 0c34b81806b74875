package codingjobs

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
	"github.com/ternarybob/annotor/internal/storage"
)

type fixture struct {
	storage interfaces.StorageManager
	server  *unitserver.Service
	svc     *Service
	admin   *models.User
}

func setup(t *testing.T) *fixture {
	logger := arbor.NewLogger()
	cfg := &common.Config{
		Storage: common.StorageConfig{
			SQLite: common.SQLiteConfig{
				Path:          t.TempDir() + "/test.db",
				BusyTimeoutMS: 5000,
			},
			Badger: common.BadgerConfig{
				Path:           t.TempDir() + "/badger",
				ResetOnStartup: true,
			},
		},
	}
	mgr, err := storage.NewStorageManager(logger, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	server := unitserver.NewService(mgr.Engine(), nil, logger)
	admin := &models.User{Name: "admin", IsAdmin: true}
	require.NoError(t, mgr.Users().CreateUser(context.Background(), admin))

	return &fixture{
		storage: mgr,
		server:  server,
		svc:     NewService(mgr, server, nil, logger),
		admin:   admin,
	}
}

func simpleCodebook() json.RawMessage {
	return json.RawMessage(`{
		"type": "questions",
		"questions": [
			{"name": "Q", "type": "buttons", "codes": ["yes", "no"]}
		]
	}`)
}

func simpleUpload(title string, n int) *models.CodingJobUpload {
	units := make([]models.UnitUpload, n)
	for i := range units {
		units[i] = models.UnitUpload{
			ID:   string(rune('a' + i)),
			Unit: json.RawMessage(`{"text":"hello"}`),
		}
	}
	return &models.CodingJobUpload{
		Title:    title,
		Codebook: simpleCodebook(),
		Units:    units,
		Rules:    &models.Rules{Ruleset: models.RulesetFixedSet},
	}
}

func TestCreate_DefaultJobSet(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	job, err := f.svc.Create(ctx, f.admin, simpleUpload("my job", 3))
	require.NoError(t, err)
	require.NotZero(t, job.ID)

	details, err := f.svc.Details(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, details.JobSets, 1)
	assert.Equal(t, "All", details.JobSets[0].Name)
	assert.Equal(t, 3, details.JobSets[0].NUnits)
}

func TestCreate_RejectsMissingCodebook(t *testing.T) {
	f := setup(t)
	upload := simpleUpload("no codebook", 1)
	upload.Codebook = nil

	_, err := f.svc.Create(context.Background(), f.admin, upload)
	assert.ErrorIs(t, err, common.ErrBadRequest)
}

func TestCreate_RejectsInvalidUpload(t *testing.T) {
	f := setup(t)
	upload := simpleUpload("", 1)

	_, err := f.svc.Create(context.Background(), f.admin, upload)
	assert.ErrorIs(t, err, common.ErrBadRequest)
}

func TestCreate_RejectsDuplicateJobSetNames(t *testing.T) {
	f := setup(t)
	upload := simpleUpload("dup sets", 2)
	upload.JobSets = []models.JobSetUpload{{Name: "set"}, {Name: "set"}}

	_, err := f.svc.Create(context.Background(), f.admin, upload)
	assert.ErrorIs(t, err, common.ErrBadRequest)
}

func TestCreate_RejectsUnknownUnitReference(t *testing.T) {
	f := setup(t)
	upload := simpleUpload("bad ref", 2)
	upload.JobSets = []models.JobSetUpload{{Name: "set", IDs: []string{"a", "zz"}}}

	_, err := f.svc.Create(context.Background(), f.admin, upload)
	assert.ErrorIs(t, err, common.ErrBadRequest)
}

func TestCreate_RejectsImpossibleConditionals(t *testing.T) {
	f := setup(t)
	upload := simpleUpload("bad gold", 1)
	upload.Units[0].Conditionals = []models.Conditional{
		{Variable: "Q", Conditions: []models.Condition{{Value: "maybe"}}},
	}

	_, err := f.svc.Create(context.Background(), f.admin, upload)
	require.ErrorIs(t, err, common.ErrBadRequest)
	assert.Contains(t, err.Error(), "Q")
}

func TestCreate_FixedIndexesFromPosition(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	upload := simpleUpload("positioned", 4)
	upload.Units[0].Position = models.PositionPre
	upload.Units[3].Position = models.PositionPost

	job, err := f.svc.Create(ctx, f.admin, upload)
	require.NoError(t, err)

	coder := &models.User{Name: "coder"}
	require.NoError(t, f.storage.Users().CreateUser(ctx, coder))

	// Pre unit first, post unit last
	first, err := f.server.NextUnit(ctx, coder, job.ID)
	require.NoError(t, err)
	units, err := f.svc.Units(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, units[0].ID, first.ID)
}

func TestCreate_RestrictedWithUsers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	upload := simpleUpload("restricted", 1)
	upload.Authorization = &models.AuthorizationUpload{
		Restricted: true,
		Users:      []string{"carol", "dave"},
	}

	job, err := f.svc.Create(ctx, f.admin, upload)
	require.NoError(t, err)

	details, err := f.svc.Details(ctx, job.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"carol", "dave"}, details.Users)

	// The named coders were created on the fly and can code
	carol, err := f.storage.Users().GetUserByName(ctx, "carol")
	require.NoError(t, err)
	_, err = f.server.NextUnit(ctx, carol, job.ID)
	require.NoError(t, err)
}

func TestSetCoders_OnlyAddKeepsExisting(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	job, err := f.svc.Create(ctx, f.admin, simpleUpload("coders", 1))
	require.NoError(t, err)

	_, err = f.svc.SetCoders(ctx, job.ID, []string{"carol"}, true)
	require.NoError(t, err)
	all, err := f.svc.SetCoders(ctx, job.ID, []string{"dave"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "dave"}, all)
}

func TestSetCoders_ReplaceRevokesAbsentees(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	job, err := f.svc.Create(ctx, f.admin, simpleUpload("coders", 1))
	require.NoError(t, err)

	_, err = f.svc.SetCoders(ctx, job.ID, []string{"carol", "dave"}, true)
	require.NoError(t, err)
	all, err := f.svc.SetCoders(ctx, job.ID, []string{"dave"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"dave"}, all)

	details, err := f.svc.Details(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"dave"}, details.Users)
}

func TestMyJobs_ProgressOnlyWhenJoined(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	jobA, err := f.svc.Create(ctx, f.admin, simpleUpload("job a", 2))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.admin, simpleUpload("job b", 2))
	require.NoError(t, err)

	coder := &models.User{Name: "coder"}
	require.NoError(t, f.storage.Users().CreateUser(ctx, coder))

	// Join job a by requesting a unit
	_, err = f.server.NextUnit(ctx, coder, jobA.ID)
	require.NoError(t, err)

	jobs, err := f.svc.MyJobs(ctx, coder)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	byTitle := map[string]*JobSummary{}
	for _, job := range jobs {
		byTitle[job.Title] = job
	}
	require.NotNil(t, byTitle["job a"].NTotal)
	assert.Equal(t, 2, *byTitle["job a"].NTotal)
	assert.Nil(t, byTitle["job b"].NTotal)
}

func TestSetSettings_Archive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	job, err := f.svc.Create(ctx, f.admin, simpleUpload("to archive", 1))
	require.NoError(t, err)

	archived := true
	updated, err := f.svc.SetSettings(ctx, job.ID, nil, &archived)
	require.NoError(t, err)
	assert.True(t, updated.Archived)
}

func TestCodebook_ReturnsBoundJobSet(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	job, err := f.svc.Create(ctx, f.admin, simpleUpload("cb job", 1))
	require.NoError(t, err)

	coder := &models.User{Name: "coder"}
	require.NoError(t, f.storage.Users().CreateUser(ctx, coder))

	codebook, err := f.svc.Codebook(ctx, coder, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(simpleCodebook()), string(codebook))
}

func TestDebriefing_OnlyWhenFinished(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	upload := simpleUpload("debrief job", 1)
	upload.Debriefing = json.RawMessage(`{"message":"thanks!"}`)
	job, err := f.svc.Create(ctx, f.admin, upload)
	require.NoError(t, err)

	coder := &models.User{Name: "coder"}
	require.NoError(t, f.storage.Users().CreateUser(ctx, coder))

	_, err = f.svc.Debriefing(ctx, coder, job.ID)
	assert.ErrorIs(t, err, common.ErrBadRequest)
}

func TestAnnotations_UnknownJob(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Annotations(context.Background(), 12345)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
