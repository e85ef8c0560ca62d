package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ComputClaw/airlock/internal/auth"
	"github.com/ComputClaw/airlock/internal/backup"
	"github.com/ComputClaw/airlock/internal/store"
	"github.com/ComputClaw/airlock/internal/worker"
	"github.com/ComputClaw/airlock/pkg/types"
)

// AdminHandler handles operator session and housekeeping endpoints.
type AdminHandler struct {
	admin            *auth.Admin
	store            *store.Store
	pool             *worker.Pool
	backups          *backup.Service
	historyPageLimit int
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(admin *auth.Admin, st *store.Store, pool *worker.Pool, backups *backup.Service, historyPageLimit int) *AdminHandler {
	return &AdminHandler{
		admin:            admin,
		store:            st,
		pool:             pool,
		backups:          backups,
		historyPageLimit: historyPageLimit,
	}
}

// Status reports whether first-boot setup has run.
func (h *AdminHandler) Status(c *gin.Context) {
	done, err := h.admin.SetupComplete()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"setup_complete": done})
}

type passwordRequest struct {
	Password string `json:"password"`
}

// Setup sets the admin password on first boot.
func (h *AdminHandler) Setup(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	token, err := h.admin.Setup(req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"token": token})
	case errors.Is(err, auth.ErrAlreadySetup):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrWeakPassword):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Login exchanges the admin password for a session token.
func (h *AdminHandler) Login(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	token, err := h.admin.Login(req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"token": token})
	case errors.Is(err, auth.ErrBadPassword), errors.Is(err, auth.ErrNotSetup):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// RequireSession is gin middleware enforcing a valid admin token.
func (h *AdminHandler) RequireSession(c *gin.Context) {
	if err := h.admin.Verify(bearerToken(c)); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session token"})
		return
	}
	c.Next()
}

// ListExecutions returns persisted execution history.
func (h *AdminHandler) ListExecutions(c *gin.Context) {
	limit := h.historyPageLimit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}

	rows, err := h.store.ListExecutions(store.ExecutionFilter{
		ProfileID: c.Query("profile_id"),
		Status:    c.Query("status"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]types.ExecutionDetail, 0, len(rows))
	for _, row := range rows {
		out = append(out, executionDetail(row))
	}
	c.JSON(http.StatusOK, gin.H{"executions": out})
}

// Stats returns entity and status counts plus worker pool occupancy.
func (h *AdminHandler) Stats(c *gin.Context) {
	executions, err := h.store.CountExecutionsByStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	credentials, err := h.store.ListCredentials()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	profiles, err := h.store.ListProfiles()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	idle, busy := h.pool.Stats()
	c.JSON(http.StatusOK, gin.H{
		"credentials": len(credentials),
		"profiles":    len(profiles),
		"executions":  executions,
		"workers":     gin.H{"idle": idle, "busy": busy},
	})
}

// Backup writes an encrypted snapshot of the database.
func (h *AdminHandler) Backup(c *gin.Context) {
	path, err := h.backups.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "recipient": h.backups.Recipient()})
}

func executionDetail(row *store.ExecutionRow) types.ExecutionDetail {
	out := types.ExecutionDetail{
		ExecutionID:     row.ID,
		ProfileID:       row.ProfileID,
		Status:          types.ExecutionStatus(row.Status),
		Stdout:          row.Stdout,
		Stderr:          row.Stderr,
		ExecutionTimeMS: row.ExecutionTimeMS,
		CreatedAt:       row.CreatedAt,
	}
	if row.Error != nil {
		out.Error = *row.Error
	}
	if row.CompletedAt != nil {
		out.CompletedAt = *row.CompletedAt
	}
	if row.Result != nil {
		var result any
		if err := json.Unmarshal([]byte(*row.Result), &result); err == nil {
			out.Result = result
		}
	}
	return out
}
