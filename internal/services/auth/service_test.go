package auth

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
	"github.com/ternarybob/annotor/internal/storage"
)

func setup(t *testing.T, cfg *common.AuthConfig) (*Service, interfaces.StorageManager) {
	t.Helper()
	logger := arbor.NewLogger()
	mgr, err := storage.NewStorageManager(logger, &common.Config{
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
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	if cfg == nil {
		cfg = &common.AuthConfig{TokenSecret: "test-secret"}
	}
	svc, err := NewService(mgr, cfg, logger)
	require.NoError(t, err)
	return svc, mgr
}

func createJob(t *testing.T, mgr interfaces.StorageManager) *models.CodingJob {
	t.Helper()
	job := &models.CodingJob{Title: "guest job", CreatorID: 1}
	units := []*models.Unit{{
		ExternalID: "u1",
		Content:    json.RawMessage(`{"text":"hi"}`),
		UnitType:   models.UnitTypeCode,
	}}
	jobsets := []*models.JobSet{{
		Name:     "All",
		Codebook: json.RawMessage(`{}`),
		Rules:    models.Rules{Ruleset: models.RulesetFixedSet},
	}}
	memberships := map[string][]*models.JobSetUnit{
		"All": {{UnitID: 0}},
	}
	require.NoError(t, mgr.CodingJobs().CreateJob(context.Background(), job, units, jobsets, memberships))
	return job
}

func TestLoginAndVerify(t *testing.T) {
	svc, mgr := setup(t, nil)
	ctx := context.Background()

	hash, err := svc.HashPassword("hunter2")
	require.NoError(t, err)
	user := &models.User{Name: "alice", PasswordHash: hash}
	require.NoError(t, mgr.Users().CreateUser(ctx, user))

	token, loggedIn, err := svc.Login(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)

	verified, err := svc.VerifyToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", verified.Name)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, mgr := setup(t, nil)
	ctx := context.Background()

	hash, err := svc.HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, mgr.Users().CreateUser(ctx, &models.User{Name: "alice", PasswordHash: hash}))

	_, _, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, common.ErrAuthorizationDenied)
	_, _, err = svc.Login(ctx, "nobody", "hunter2")
	assert.ErrorIs(t, err, common.ErrAuthorizationDenied)
}

func TestLogin_NoPasswordSet(t *testing.T) {
	svc, mgr := setup(t, nil)
	ctx := context.Background()
	require.NoError(t, mgr.Users().CreateUser(ctx, &models.User{Name: "alice"}))

	_, _, err := svc.Login(ctx, "alice", "")
	assert.ErrorIs(t, err, common.ErrAuthorizationDenied)
}

func TestVerifyToken_TamperedSignature(t *testing.T) {
	svc, mgr := setup(t, nil)
	ctx := context.Background()

	user := &models.User{Name: "alice"}
	require.NoError(t, mgr.Users().CreateUser(ctx, user))
	token, err := svc.TokenForUser(user)
	require.NoError(t, err)

	_, err = svc.VerifyToken(ctx, token+"x")
	assert.ErrorIs(t, err, common.ErrAuthorizationDenied)
	_, err = svc.VerifyToken(ctx, "garbage")
	assert.ErrorIs(t, err, common.ErrAuthorizationDenied)
}

func TestJobTokenRoundTrip(t *testing.T) {
	svc, mgr := setup(t, nil)
	ctx := context.Background()
	job := createJob(t, mgr)

	token, err := svc.IssueJobToken(ctx, job, 1)
	require.NoError(t, err)

	bearer, guest, err := svc.RedeemJobToken(ctx, token, "")
	require.NoError(t, err)
	assert.True(t, guest.IsGuest())
	require.NotNil(t, guest.RestrictedJob)
	assert.Equal(t, job.ID, *guest.RestrictedJob)
	assert.True(t, strings.HasPrefix(guest.Name, "jobuser_"))

	verified, err := svc.VerifyToken(ctx, bearer)
	require.NoError(t, err)
	assert.Equal(t, guest.Name, verified.Name)
}

func TestRedeemJobToken_StableUserID(t *testing.T) {
	svc, mgr := setup(t, nil)
	ctx := context.Background()
	job := createJob(t, mgr)

	token, err := svc.IssueJobToken(ctx, job, 1)
	require.NoError(t, err)

	_, first, err := svc.RedeemJobToken(ctx, token, "device-42")
	require.NoError(t, err)
	_, second, err := svc.RedeemJobToken(ctx, token, "device-42")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestRedeemJobToken_Revoked(t *testing.T) {
	svc, mgr := setup(t, nil)
	ctx := context.Background()
	job := createJob(t, mgr)

	token, err := svc.IssueJobToken(ctx, job, 1)
	require.NoError(t, err)

	records, err := svc.ListJobTokens(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NoError(t, svc.RevokeJobToken(ctx, records[0].ID))

	_, _, err = svc.RedeemJobToken(ctx, token, "")
	assert.ErrorIs(t, err, common.ErrAuthorizationDenied)
}

func TestRedeemJobToken_BearerTokenRejected(t *testing.T) {
	svc, mgr := setup(t, nil)
	ctx := context.Background()

	user := &models.User{Name: "alice"}
	require.NoError(t, mgr.Users().CreateUser(ctx, user))
	bearer, err := svc.TokenForUser(user)
	require.NoError(t, err)

	_, _, err = svc.RedeemJobToken(ctx, bearer, "")
	assert.ErrorIs(t, err, common.ErrAuthorizationDenied)
}

func TestSeedAdmin(t *testing.T) {
	cfg := &common.AuthConfig{
		TokenSecret:   "test-secret",
		AdminName:     "admin",
		AdminPassword: "changeme",
	}
	svc, mgr := setup(t, cfg)
	ctx := context.Background()

	require.NoError(t, svc.SeedAdmin(ctx, cfg))
	admin, err := mgr.Users().GetUserByName(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)

	// Idempotent: a second run does not create another admin
	require.NoError(t, svc.SeedAdmin(ctx, cfg))
	count, err := mgr.Users().CountAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
