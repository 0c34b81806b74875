package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/annotor/internal/models"
)

// UserStorage - interface for user persistence
type UserStorage interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByName(ctx context.Context, name string) (*models.User, error)
	ListUsers(ctx context.Context, offset, limit int) ([]*models.User, int, error)
	SetPassword(ctx context.Context, name string, passwordHash string) error
	CountAdmins(ctx context.Context) (int, error)
}

// CodingJobStorage - interface for job, jobset and membership persistence
type CodingJobStorage interface {
	// CreateJob persists the job with all units, jobsets and memberships in
	// one transaction; any failure rolls the whole creation back.
	CreateJob(ctx context.Context, job *models.CodingJob, units []*models.Unit,
		jobsets []*models.JobSet, memberships map[string][]*models.JobSetUnit) error

	GetJob(ctx context.Context, id int64) (*models.CodingJob, error)
	ListJobs(ctx context.Context) ([]*models.CodingJob, error)
	ListJobsForCoder(ctx context.Context, coder *models.User) ([]*models.CodingJob, error)
	SetJobSettings(ctx context.Context, id int64, restricted, archived *bool) (*models.CodingJob, error)

	ListJobSets(ctx context.Context, jobID int64) ([]*models.JobSet, error)
	GetJobSet(ctx context.Context, id int64) (*models.JobSet, error)
	CountJobSetUnits(ctx context.Context, jobsetID int64) (int, error)

	GetJobUser(ctx context.Context, userID, jobID int64) (*models.JobUser, error)
	UpsertJobUser(ctx context.Context, jobUser *models.JobUser) error
	ListJobCoders(ctx context.Context, jobID int64) ([]*models.User, error)
	SetJobCoder(ctx context.Context, jobID, userID int64, canCode bool) error
}

// UnitStorage - interface for unit persistence
type UnitStorage interface {
	GetUnit(ctx context.Context, id int64) (*models.Unit, error)
	GetUnitByExternalID(ctx context.Context, jobID int64, externalID string) (*models.Unit, error)
	ListUnits(ctx context.Context, jobID int64) ([]*models.Unit, error)
	SetBlocked(ctx context.Context, jobsetID, unitID int64, blocked bool) error
}

// AnnotationStorage - interface for annotation reads outside the engine
type AnnotationStorage interface {
	GetAnnotation(ctx context.Context, unitID, coderID int64) (*models.Annotation, error)
	ListJobAnnotations(ctx context.Context, jobID int64) ([]*models.ExportedAnnotation, error)
	SumDamage(ctx context.Context, jobsetID, coderID int64) (float64, error)
}

// EngineTx exposes the mutation primitives and indexed lookups used by the
// serve/submit/bind hot paths. All methods run inside one transaction.
type EngineTx interface {
	GetJob(id int64) (*models.CodingJob, error)
	ListJobSets(jobID int64) ([]*models.JobSet, error)
	GetJobUser(userID, jobID int64) (*models.JobUser, error)
	InsertJobUser(jobUser *models.JobUser) error
	BindJobUserJobSet(jobUserID, jobsetID int64) error
	CountJobUsers(jobID int64) (int, error)
	UpdateJobUserDamage(jobUserID int64, damage float64) error

	GetUnit(unitID int64) (*models.Unit, error)
	GetFixedIndexUnit(jobsetID int64, fixedIndex int) (*models.Unit, error)
	ListMiddleUnitIDs(jobsetID int64) ([]int64, error)
	CountFixedBefore(jobsetID int64) (int, error)
	CountJobSetUnits(jobsetID int64) (int, error)
	CountActiveJobSetUnits(jobsetID int64) (int, error)
	LeastCodedUnit(jobsetID, coderID int64) (*models.Unit, error)

	GetAnnotation(unitID, coderID int64) (*models.Annotation, error)
	GetInFlightAnnotation(jobsetID, coderID int64) (*models.Annotation, error)
	GetAnnotationByIndex(jobsetID, coderID int64, unitIndex int) (*models.Annotation, error)
	CountStarted(jobsetID, coderID int64) (int, error)
	CountCoded(jobsetID, coderID int64) (int, error)
	InsertAnnotation(annotation *models.Annotation) error
	UpdateAnnotation(annotation *models.Annotation) error
	SumDamage(jobsetID, coderID int64) (float64, error)
	LastModified(jobsetID, coderID int64) (*time.Time, error)
}

// EngineStorage runs engine operations transactionally
type EngineStorage interface {
	// WithTx runs fn in a single transaction, committing on nil error.
	WithTx(ctx context.Context, fn func(tx EngineTx) error) error
}

// TokenStorage - interface for the job token / guest session store
type TokenStorage interface {
	StoreJobToken(ctx context.Context, token *models.JobToken) error
	GetJobToken(ctx context.Context, id string) (*models.JobToken, error)
	RevokeJobToken(ctx context.Context, id string) error
	ListJobTokens(ctx context.Context, jobID int64) ([]*models.JobToken, error)
	StoreGuestSession(ctx context.Context, session *models.GuestSession) error
	GetGuestSession(ctx context.Context, userName string) (*models.GuestSession, error)
}

// StorageManager provides access to all storage backends
type StorageManager interface {
	Users() UserStorage
	CodingJobs() CodingJobStorage
	Units() UnitStorage
	Annotations() AnnotationStorage
	Engine() EngineStorage
	Tokens() TokenStorage

	// Maintain runs periodic database maintenance (ANALYZE, WAL checkpoint)
	Maintain(ctx context.Context) error
	Close() error
}
