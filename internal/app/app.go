package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/handlers"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/services/annotations"
	"github.com/ternarybob/annotor/internal/services/auth"
	"github.com/ternarybob/annotor/internal/services/codingjobs"
	"github.com/ternarybob/annotor/internal/services/events"
	"github.com/ternarybob/annotor/internal/services/maintenance"
	"github.com/ternarybob/annotor/internal/services/unitserver"
	"github.com/ternarybob/annotor/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Services
	EventService       interfaces.EventService
	AuthService        *auth.Service
	UnitServer         *unitserver.Service
	AnnotationService  *annotations.Service
	CodingJobService   *codingjobs.Service
	MaintenanceService *maintenance.Service

	// Handlers
	APIHandler       *handlers.APIHandler
	AuthHandler      *handlers.AuthHandler
	UsersHandler     *handlers.UsersHandler
	GuestHandler     *handlers.GuestHandler
	CodingJobHandler *handlers.CodingJobHandler
	UnitHandler      *handlers.UnitHandler
	WSHandler        *handlers.WebSocketHandler
}

// New wires the application: storage, services, handlers
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	storageManager, err := storage.NewStorageManager(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	eventService := events.NewService(logger)

	authService, err := auth.NewService(storageManager, &cfg.Auth, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}
	if err := authService.SeedAdmin(context.Background(), &cfg.Auth); err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to seed admin user: %w", err)
	}

	unitServer := unitserver.NewService(storageManager.Engine(), eventService, logger)
	annotationService := annotations.NewService(storageManager.Engine(), eventService, logger)
	codingJobService := codingjobs.NewService(storageManager, unitServer, eventService, logger)
	maintenanceService := maintenance.NewService(storageManager, logger)

	authenticator := handlers.NewAuthenticator(authService)

	app := &App{
		Config:         cfg,
		Logger:         logger,
		StorageManager: storageManager,

		EventService:       eventService,
		AuthService:        authService,
		UnitServer:         unitServer,
		AnnotationService:  annotationService,
		CodingJobService:   codingJobService,
		MaintenanceService: maintenanceService,

		APIHandler:       handlers.NewAPIHandler(),
		AuthHandler:      handlers.NewAuthHandler(authService, authenticator, logger),
		UsersHandler:     handlers.NewUsersHandler(storageManager.Users(), authService, authenticator, logger),
		GuestHandler:     handlers.NewGuestHandler(authService, &cfg.Guest, logger),
		CodingJobHandler: handlers.NewCodingJobHandler(codingJobService, unitServer, authService, authenticator, logger),
		UnitHandler:      handlers.NewUnitHandler(unitServer, annotationService, authenticator, logger),
		WSHandler:        handlers.NewWebSocketHandler(authService, eventService, logger),
	}

	if err := maintenanceService.Start(&cfg.Maintenance); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start maintenance scheduler: %w", err)
	}

	logger.Info().Msg("Application initialized")
	return app, nil
}

// Close shuts down services and storage in reverse dependency order
func (a *App) Close() {
	if a.MaintenanceService != nil {
		a.MaintenanceService.Stop()
	}
	if a.EventService != nil {
		a.EventService.Close()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close storage")
		}
	}
	a.Logger.Info().Msg("Application closed")
}
