// Package handlers provides HTTP request handlers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ComputClaw/airlock/internal/core/credential"
	"github.com/ComputClaw/airlock/pkg/types"
)

// CredentialHandler handles credential-related requests.
type CredentialHandler struct {
	credentials *credential.Service
}

// NewCredentialHandler creates a new CredentialHandler.
func NewCredentialHandler(credentials *credential.Service) *CredentialHandler {
	return &CredentialHandler{credentials: credentials}
}

// List returns all credential slots without values (agent surface).
func (h *CredentialHandler) List(c *gin.Context) {
	creds, err := h.credentials.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]types.CredentialInfo, 0, len(creds))
	for _, cr := range creds {
		out = append(out, types.CredentialInfo{
			Name:        cr.Name,
			Description: cr.Description,
			ValueExists: cr.ValueExists,
		})
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

// CreateBatch creates credential slots with no values (agent surface).
// Existing names are skipped rather than rejected.
func (h *CredentialHandler) CreateBatch(c *gin.Context) {
	var req types.CreateCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	resp := types.CreateCredentialsResponse{Created: []string{}, Skipped: []string{}}
	for _, item := range req.Credentials {
		if err := credential.ValidateName(item.Name); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}

		_, err := h.credentials.Create(item.Name, item.Description, nil)
		switch {
		case err == nil:
			resp.Created = append(resp.Created, item.Name)
		case errors.Is(err, credential.ErrNameTaken):
			resp.Skipped = append(resp.Skipped, item.Name)
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}

	c.JSON(http.StatusCreated, resp)
}

// AdminList returns credentials with timestamps (operator surface).
func (h *CredentialHandler) AdminList(c *gin.Context) {
	creds, err := h.credentials.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": creds})
}

// AdminCreate creates a credential, optionally with a value.
func (h *CredentialHandler) AdminCreate(c *gin.Context) {
	var req types.AdminCreateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	info, err := h.credentials.Create(req.Name, req.Description, req.Value)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, info)
	case errors.Is(err, credential.ErrInvalidName):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, credential.ErrNameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// AdminUpdate partially updates a credential's value and/or description.
func (h *CredentialHandler) AdminUpdate(c *gin.Context) {
	name := c.Param("name")

	var req types.AdminUpdateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	info, err := h.credentials.Update(name, req.Value, req.Description)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, info)
	case errors.Is(err, credential.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// AdminDelete removes a credential unless a locked profile references it.
func (h *CredentialHandler) AdminDelete(c *gin.Context) {
	name := c.Param("name")

	err := h.credentials.Delete(name)
	var inUse *credential.InUseError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	case errors.As(err, &inUse):
		c.JSON(http.StatusConflict, gin.H{
			"error":    inUse.Error(),
			"profiles": inUse.ProfileIDs,
		})
	case errors.Is(err, credential.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
