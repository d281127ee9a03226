package handlers

import (
	"errors"

	"github.com/frostdev-ops/devtest-backend-go/internal/config"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/discovery"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/manager"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/registry"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	"github.com/frostdev-ops/devtest-backend-go/internal/database"
	"github.com/frostdev-ops/devtest-backend-go/internal/database/repositories"
	"github.com/frostdev-ops/devtest-backend-go/internal/websocket"
	apperrors "github.com/frostdev-ops/devtest-backend-go/pkg/errors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handlers holds all HTTP handlers and their dependencies
type Handlers struct {
	cfg       *config.Config
	repos     *database.Repositories
	log       *logrus.Logger
	wsHub     *websocket.Hub
	manager   *manager.Manager
	discovery *discovery.Service
	// connections backs the manual connect/send endpoints. It is shared by
	// every client of the server.
	connections *registry.Registry
}

// Services are the long-lived components the handlers drive.
type Services struct {
	Repos       *database.Repositories
	Hub         *websocket.Hub
	Manager     *manager.Manager
	Discovery   *discovery.Service
	Connections *registry.Registry
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg *config.Config, svc Services, logger *logrus.Logger) *Handlers {
	return &Handlers{
		cfg:         cfg,
		repos:       svc.Repos,
		log:         logger,
		wsHub:       svc.Hub,
		manager:     svc.Manager,
		discovery:   svc.Discovery,
		connections: svc.Connections,
	}
}

// fail attaches err to the request; ErrorResponseMiddleware renders it.
func (h *Handlers) fail(c *gin.Context, err error) {
	_ = c.Error(toAppError(err))
	c.Abort()
}

func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, manager.ErrPlanNotFound),
		errors.Is(err, repositories.ErrNotFound),
		errors.Is(err, connection.ErrConnectionNotFound):
		return apperrors.Wrap(apperrors.ErrNotFound, err)
	case errors.Is(err, manager.ErrPlanAlreadyRunning),
		errors.Is(err, manager.ErrTooManyRuns):
		return apperrors.Wrap(apperrors.ErrConflict, err)
	case errors.Is(err, testplan.ErrInvalidPlan),
		errors.Is(err, connection.ErrInvalidConfig),
		errors.Is(err, connection.ErrUnsupportedConnectionType),
		errors.Is(err, connection.ErrUnsupportedOperation):
		return apperrors.Wrap(apperrors.ErrBadRequest, err)
	case errors.Is(err, connection.ErrConnectFailure),
		errors.Is(err, connection.ErrNotConnected),
		errors.Is(err, connection.ErrTimeout):
		return apperrors.Wrap(apperrors.ErrBadGateway, err)
	}
	return apperrors.Wrap(apperrors.ErrInternalServer, err)
}

func badRequest(details string) *apperrors.AppError {
	return apperrors.WithDetails(apperrors.ErrBadRequest, details)
}
