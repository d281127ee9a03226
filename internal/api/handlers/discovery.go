package handlers

import (
	"net/http"

	apperrors "github.com/frostdev-ops/devtest-backend-go/pkg/errors"
	"github.com/frostdev-ops/devtest-backend-go/pkg/utils"
	"github.com/gin-gonic/gin"
)

// Discover browses the local network for devices. With ?cached=true the
// result of the previous scan is returned instead.
func (h *Handlers) Discover(c *gin.Context) {
	if h.discovery == nil {
		h.fail(c, apperrors.WithDetails(apperrors.ErrUnavailable, "discovery is disabled"))
		return
	}

	if c.Query("cached") == "true" {
		devices := h.discovery.Last()
		utils.SendSuccessWithMeta(c, devices, gin.H{"count": len(devices), "cached": true})
		return
	}

	devices, err := h.discovery.Scan(c.Request.Context())
	if err != nil {
		h.fail(c, apperrors.New(http.StatusServiceUnavailable, err.Error()))
		return
	}
	utils.SendSuccessWithMeta(c, devices, gin.H{"count": len(devices), "cached": false})
}
