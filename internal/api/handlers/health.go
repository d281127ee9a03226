package handlers

import (
	"time"

	"github.com/frostdev-ops/devtest-backend-go/pkg/utils"
	"github.com/frostdev-ops/devtest-backend-go/pkg/version"
	"github.com/gin-gonic/gin"
)

// Health returns the health status of the service
func (h *Handlers) Health(c *gin.Context) {
	health := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"service":   version.Name,
		"version":   version.GetVersion(),
		"running":   len(h.manager.List()),
	}

	if h.wsHub != nil {
		health["websocket_clients"] = h.wsHub.GetClientCount()
	}
	if h.connections != nil {
		health["connections"] = h.connections.Protocols()
	}

	utils.SendSuccess(c, health)
}

// Version returns build information
func (h *Handlers) Version(c *gin.Context) {
	utils.SendSuccess(c, version.GetBuildInfo())
}
