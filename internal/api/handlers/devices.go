package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	"github.com/frostdev-ops/devtest-backend-go/internal/database/models"
	"github.com/frostdev-ops/devtest-backend-go/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultSendTimeout = 5 * time.Second

// DeviceConnectRequest selects a stored device and one of its protocols
type DeviceConnectRequest struct {
	DeviceID string              `json:"device_id" binding:"required"`
	Protocol connection.Protocol `json:"protocol" binding:"required"`
}

type DeviceDisconnectRequest struct {
	DeviceID string              `json:"device_id"`
	Protocol connection.Protocol `json:"protocol" binding:"required"`
}

// DeviceSendRequest sends Payload over an open connection and waits up to
// TimeoutMs for the reply.
type DeviceSendRequest struct {
	Protocol  connection.Protocol `json:"protocol" binding:"required"`
	Payload   string              `json:"payload"`
	TimeoutMs int                 `json:"timeout_ms"`
}

// GetDevices lists every stored device
func (h *Handlers) GetDevices(c *gin.Context) {
	devices, err := h.repos.Devices.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.SendSuccessWithMeta(c, devices, gin.H{"count": len(devices)})
}

// GetDevice returns one device
func (h *Handlers) GetDevice(c *gin.Context) {
	device, err := h.repos.Devices.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.SendSuccess(c, device)
}

// CreateDevice stores a new device
func (h *Handlers) CreateDevice(c *gin.Context) {
	var device models.Device
	if err := c.ShouldBindJSON(&device); err != nil {
		h.fail(c, badRequest(err.Error()))
		return
	}
	if device.Name == "" {
		h.fail(c, badRequest("name is required"))
		return
	}

	if err := h.repos.Devices.Create(c.Request.Context(), &device); err != nil {
		h.fail(c, err)
		return
	}

	h.log.WithField("device_id", device.ID).Info("Device created")
	utils.SendSuccessWithStatus(c, http.StatusCreated, device)
}

// UpdateDevice replaces a device's name, type and connection config
func (h *Handlers) UpdateDevice(c *gin.Context) {
	ctx := c.Request.Context()
	existing, err := h.repos.Devices.Get(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	var update models.Device
	if err := c.ShouldBindJSON(&update); err != nil {
		h.fail(c, badRequest(err.Error()))
		return
	}

	if update.Name != "" {
		existing.Name = update.Name
	}
	existing.Type = update.Type
	existing.Protocol = update.Protocol
	existing.Config = update.Config

	if err := h.repos.Devices.Update(ctx, existing); err != nil {
		h.fail(c, err)
		return
	}
	utils.SendSuccess(c, existing)
}

// DeleteDevice removes a device
func (h *Handlers) DeleteDevice(c *gin.Context) {
	id := c.Param("id")
	if err := h.repos.Devices.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}

	h.log.WithField("device_id", id).Info("Device deleted")
	utils.SendSuccess(c, gin.H{"id": id, "deleted": true})
}

// ConnectDevice opens a connection to a stored device for manual checks and
// records the outcome in the device's status.
func (h *Handlers) ConnectDevice(c *gin.Context) {
	var req DeviceConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest(err.Error()))
		return
	}
	if !req.Protocol.Valid() {
		h.fail(c, badRequest(fmt.Sprintf("unknown protocol %q", req.Protocol)))
		return
	}

	ctx := c.Request.Context()
	device, err := h.repos.Devices.Get(ctx, req.DeviceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	cfg, ok := device.Config.For(req.Protocol)
	if !ok {
		h.fail(c, badRequest(fmt.Sprintf("device %s has no %s config", device.ID, req.Protocol)))
		return
	}

	connErr := h.connections.AddConnection(ctx, req.Protocol, cfg)
	status := testplan.ConnectionConnected
	if connErr != nil {
		status = testplan.ConnectionError
	}
	h.setDeviceStatus(ctx, device, req.Protocol, status)

	if connErr != nil {
		h.fail(c, connErr)
		return
	}
	utils.SendSuccess(c, gin.H{"device_id": device.ID, "protocol": req.Protocol, "status": status})
}

// DisconnectDevice closes a manual connection
func (h *Handlers) DisconnectDevice(c *gin.Context) {
	var req DeviceDisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest(err.Error()))
		return
	}

	if err := h.connections.RemoveConnection(req.Protocol); err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	if req.DeviceID != "" {
		if device, err := h.repos.Devices.Get(ctx, req.DeviceID); err == nil {
			h.setDeviceStatus(ctx, device, req.Protocol, testplan.ConnectionDisconnected)
		}
	}
	utils.SendSuccess(c, gin.H{"protocol": req.Protocol, "status": testplan.ConnectionDisconnected})
}

// SendToDevice sends a payload over a manual connection and returns the reply
func (h *Handlers) SendToDevice(c *gin.Context) {
	var req DeviceSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest(err.Error()))
		return
	}

	timeout := defaultSendTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	start := time.Now()
	reply, err := h.connections.SendAndReceive(c.Request.Context(), req.Protocol, req.Payload, timeout)
	if err != nil {
		h.fail(c, err)
		return
	}

	utils.SendSuccess(c, gin.H{
		"protocol":   req.Protocol,
		"response":   string(reply),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
}

func (h *Handlers) setDeviceStatus(ctx context.Context, device *models.Device, p connection.Protocol, status testplan.ConnectionStatus) {
	device.SetStatus(p, status)
	if err := h.repos.Devices.Update(ctx, device); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"device_id": device.ID,
			"protocol":  p,
		}).Warn("Failed to store device connection status")
	}
}
