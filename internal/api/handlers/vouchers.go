package handlers

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leozw/routerfleet/internal/voucher"
)

type CreateVouchersRequest struct {
	RouterID string `json:"router_id" binding:"required"`
	Profile  string `json:"profile"`
	Count    int    `json:"count" binding:"required"`
}

type PrintVouchersRequest struct {
	VoucherIDs []string `json:"voucher_ids" binding:"required,min=1"`
}

func (h *Handler) ListVouchers(c *gin.Context) {
	vouchers, err := h.store.ListVouchers(c.Request.Context(), c.GetString("tenant_id"), c.Query("router_id"))
	if err != nil {
		h.fail(c, err, "list vouchers")
		return
	}

	c.JSON(http.StatusOK, gin.H{"vouchers": vouchers})
}

func (h *Handler) CreateVouchers(c *gin.Context) {
	var req CreateVouchersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	vouchers, err := h.issuer.Issue(c.Request.Context(), voucher.IssueRequest{
		TenantID: c.GetString("tenant_id"),
		RouterID: req.RouterID,
		Profile:  req.Profile,
		Count:    req.Count,
	})
	if err != nil {
		h.fail(c, err, "issue vouchers")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "vouchers": vouchers})
}

func (h *Handler) DeleteVoucher(c *gin.Context) {
	if err := h.store.DeleteVoucher(c.Request.Context(), c.Param("id"), c.GetString("tenant_id")); err != nil {
		h.fail(c, err, "delete voucher")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PrintVouchers renders the tenant's selected vouchers as a downloadable
// HTML sheet. Ids belonging to other tenants are skipped.
func (h *Handler) PrintVouchers(c *gin.Context) {
	var req PrintVouchersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	vouchers, err := h.store.GetVouchersByIDs(c.Request.Context(), c.GetString("tenant_id"), req.VoucherIDs)
	if err != nil {
		h.fail(c, err, "load vouchers")
		return
	}
	if len(vouchers) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "NotFound", "detail": "No vouchers found"})
		return
	}

	var buf bytes.Buffer
	if err := voucher.RenderSheet(&buf, vouchers); err != nil {
		h.fail(c, err, "render vouchers")
		return
	}

	c.Header("Content-Disposition", `attachment; filename="vouchers.html"`)
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
