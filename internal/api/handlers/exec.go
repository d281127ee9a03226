package handlers

import (
	"strconv"

	"github.com/frostdev-ops/devtest-backend-go/internal/database/models"
	"github.com/frostdev-ops/devtest-backend-go/pkg/utils"
	"github.com/gin-gonic/gin"
)

const maxPageSize = 500

// ListExecRecords returns execution records, newest first. Supports
// plan_id, status, limit and offset query parameters.
func (h *Handlers) ListExecRecords(c *gin.Context) {
	filter := models.ExecFilter{
		PlanID: c.Query("plan_id"),
		Status: c.Query("status"),
		Limit:  50,
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.fail(c, badRequest("limit must be a positive integer"))
			return
		}
		filter.Limit = min(n, maxPageSize)
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(c, badRequest("offset must be a non-negative integer"))
			return
		}
		filter.Offset = n
	}

	records, err := h.repos.ExecRecords.List(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}

	utils.SendSuccessWithMeta(c, records, gin.H{
		"count":  len(records),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetExecRecord returns one execution record
func (h *Handlers) GetExecRecord(c *gin.Context) {
	rec, err := h.repos.ExecRecords.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.SendSuccess(c, rec)
}

// GetExecResults returns the step results persisted for an execution
func (h *Handlers) GetExecResults(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := h.repos.ExecRecords.Get(ctx, id); err != nil {
		h.fail(c, err)
		return
	}

	results, err := h.repos.Results.ListByExec(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.SendSuccessWithMeta(c, results, gin.H{"count": len(results)})
}
