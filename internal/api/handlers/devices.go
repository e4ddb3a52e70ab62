package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leozw/routerfleet/internal/fleet"
)

type BulkRequest struct {
	Action    string   `json:"action" binding:"required"`
	RouterIDs []string `json:"router_ids" binding:"required"`
}

// deviceStatus is the status for a single-router result that did not
// succeed: bad router settings are the caller's fault, anything else is the
// device's.
func deviceStatus(res fleet.Result) int {
	if res.Error == fleet.KindInvalidArgument {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

// TestRouter probes one router and records whether it answered.
func (h *Handler) TestRouter(c *gin.Context) {
	res, err := h.fleet.Probe(c.Request.Context(), c.GetString("tenant_id"), c.Param("id"))
	if err != nil {
		h.fail(c, err, "probe router")
		return
	}

	out := res.Result()
	if !out.Success {
		c.JSON(deviceStatus(out), out)
		return
	}
	c.JSON(http.StatusOK, out)
}

// SyncRouter pulls every configuration facet of one router and stores the
// snapshot. A partial sync is still a success.
func (h *Handler) SyncRouter(c *gin.Context) {
	res, err := h.fleet.Sync(c.Request.Context(), c.GetString("tenant_id"), c.Param("id"))
	if err != nil {
		h.fail(c, err, "sync router")
		return
	}

	out := res.Result()
	if !out.Success {
		c.JSON(deviceStatus(out), out)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) BulkOperation(c *gin.Context) {
	var req BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	op, err := fleet.ParseOperation(req.Action)
	if err != nil {
		h.fail(c, err, "parse action")
		return
	}

	outcomes, err := h.fleet.RunBatch(c.Request.Context(), c.GetString("tenant_id"), req.RouterIDs, op)
	if err != nil {
		h.fail(c, err, "run batch")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "results": outcomes})
}

// FleetSync syncs every router of every tenant. Admin only.
func (h *Handler) FleetSync(c *gin.Context) {
	outcomes, err := h.fleet.RunFleet(c.Request.Context(), fleet.OpSync)
	if err != nil {
		h.fail(c, err, "sync fleet")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "results": outcomes})
}
