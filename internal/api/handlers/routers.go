package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/routerfleet/internal/db"
)

type RouterRequest struct {
	Name     string `json:"name" binding:"required,min=1,max=255"`
	Host     string `json:"host" binding:"required,max=255"`
	Port     int    `json:"port" binding:"omitempty,min=1,max=65535"`
	UseTLS   bool   `json:"use_tls"`
	Username string `json:"username" binding:"required,max=255"`
	Password string `json:"password" binding:"max=255"`
}

func (r *RouterRequest) port() int {
	switch {
	case r.Port != 0:
		return r.Port
	case r.UseTLS:
		return 443
	default:
		return 80
	}
}

func (h *Handler) ListRouters(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	routers, err := h.store.ListRouters(c.Request.Context(), tenantID)
	if err != nil {
		h.fail(c, err, "list routers")
		return
	}

	c.JSON(http.StatusOK, gin.H{"routers": routers})
}

func (h *Handler) CreateRouter(c *gin.Context) {
	var req RouterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Password == "" {
		badRequest(c, "password is required")
		return
	}

	tenantID := c.GetString("tenant_id")
	now := time.Now().UTC()
	router := &db.Router{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Name:      strings.TrimSpace(req.Name),
		Host:      strings.TrimSpace(req.Host),
		Port:      req.port(),
		UseTLS:    req.UseTLS,
		Username:  req.Username,
		Secret:    req.Password,
		Status:    db.RouterUnknown,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateRouter(c.Request.Context(), router); err != nil {
		h.fail(c, err, "create router")
		return
	}

	h.logger.Info("Router created",
		zap.String("router_id", router.ID),
		zap.String("tenant_id", tenantID),
	)

	c.JSON(http.StatusCreated, router)
}

func (h *Handler) GetRouter(c *gin.Context) {
	router, err := h.store.GetRouter(c.Request.Context(), c.Param("id"), c.GetString("tenant_id"))
	if err != nil {
		h.fail(c, err, "get router")
		return
	}

	c.JSON(http.StatusOK, router)
}

// UpdateRouter replaces the connection settings. An empty password keeps the
// stored one.
func (h *Handler) UpdateRouter(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.GetString("tenant_id")

	var req RouterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	router, err := h.store.GetRouter(ctx, c.Param("id"), tenantID)
	if err != nil {
		h.fail(c, err, "get router")
		return
	}

	router.Name = strings.TrimSpace(req.Name)
	router.Host = strings.TrimSpace(req.Host)
	router.Port = req.port()
	router.UseTLS = req.UseTLS
	router.Username = req.Username
	if req.Password != "" {
		router.Secret = req.Password
	}
	router.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateRouter(ctx, router); err != nil {
		h.fail(c, err, "update router")
		return
	}

	c.JSON(http.StatusOK, router)
}

func (h *Handler) DeleteRouter(c *gin.Context) {
	routerID := c.Param("id")
	tenantID := c.GetString("tenant_id")

	if err := h.store.DeleteRouter(c.Request.Context(), routerID, tenantID); err != nil {
		h.fail(c, err, "delete router")
		return
	}
	h.metrics.ForgetRouter(tenantID, routerID)

	h.logger.Info("Router deleted",
		zap.String("router_id", routerID),
		zap.String("tenant_id", tenantID),
	)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListConfigs returns stored snapshots for a router, newest first.
func (h *Handler) ListConfigs(c *gin.Context) {
	ctx := c.Request.Context()
	routerID := c.Param("id")
	tenantID := c.GetString("tenant_id")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	if _, err := h.store.GetRouter(ctx, routerID, tenantID); err != nil {
		h.fail(c, err, "get router")
		return
	}

	snapshots, err := h.store.ListSnapshots(ctx, routerID, tenantID, limit)
	if err != nil {
		h.fail(c, err, "list configs")
		return
	}

	c.JSON(http.StatusOK, gin.H{"configs": snapshots})
}

func (h *Handler) Overview(c *gin.Context) {
	overview, err := h.store.Overview(c.Request.Context(), c.GetString("tenant_id"))
	if err != nil {
		h.fail(c, err, "load overview")
		return
	}

	c.JSON(http.StatusOK, overview)
}
