package handlers

import (
	"net/http"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	"github.com/frostdev-ops/devtest-backend-go/pkg/utils"
	"github.com/gin-gonic/gin"
)

// StartTestPlanRequest is the body of POST /testplan/start. ID names the
// execution; one is generated when it is empty.
type StartTestPlanRequest struct {
	ID         string               `json:"id"`
	Plan       *testplan.Plan       `json:"plan"`
	PlanScheme *testplan.PlanScheme `json:"planscheme"`
}

type StopTestPlanRequest struct {
	ID string `json:"id" binding:"required"`
}

// StartTestPlan starts executing a plan in the background
func (h *Handlers) StartTestPlan(c *gin.Context) {
	var req StartTestPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest(err.Error()))
		return
	}
	if req.Plan == nil {
		h.fail(c, badRequest("plan is required"))
		return
	}

	req.Plan.AssignIDs()
	res, err := h.manager.Start(c.Request.Context(), req.ID, req.Plan, req.PlanScheme)
	if err != nil {
		h.fail(c, err)
		return
	}

	utils.SendSuccessWithStatus(c, http.StatusAccepted, res)
}

// StopTestPlan stops a running execution after its current step
func (h *Handlers) StopTestPlan(c *gin.Context) {
	var req StopTestPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest(err.Error()))
		return
	}

	if err := h.manager.Stop(req.ID); err != nil {
		h.fail(c, err)
		return
	}

	utils.SendSuccess(c, gin.H{"id": req.ID, "success": true})
}

// GetTestPlanStatus returns the live status of a running execution
func (h *Handlers) GetTestPlanStatus(c *gin.Context) {
	snap, err := h.manager.Status(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.SendSuccess(c, snap)
}

// ListTestPlans returns every running execution
func (h *Handlers) ListTestPlans(c *gin.Context) {
	running := h.manager.List()
	utils.SendSuccessWithMeta(c, running, gin.H{"count": len(running)})
}
