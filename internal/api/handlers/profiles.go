package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ComputClaw/airlock/internal/core/profile"
	"github.com/ComputClaw/airlock/pkg/types"
)

// ProfileHandler handles profile-related requests.
type ProfileHandler struct {
	profiles *profile.Service
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(profiles *profile.Service) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// profileError maps service errors to HTTP responses.
func profileError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, profile.ErrNotFound), errors.Is(err, profile.ErrUnknownCredential):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, profile.ErrLocked),
		errors.Is(err, profile.ErrRevoked),
		errors.Is(err, profile.ErrAlreadyLocked),
		errors.Is(err, profile.ErrAlreadyRevoked),
		errors.Is(err, profile.ErrNotLocked),
		errors.Is(err, profile.ErrLockedActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// List returns all profiles.
func (h *ProfileHandler) List(c *gin.Context) {
	profiles, err := h.profiles.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

// Get returns a single profile.
func (h *ProfileHandler) Get(c *gin.Context) {
	info, err := h.profiles.Get(c.Param("id"))
	if err != nil {
		profileError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Create adds a new unlocked profile.
func (h *ProfileHandler) Create(c *gin.Context) {
	var req types.CreateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	info, err := h.profiles.Create(req.Description)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, info)
}

// Update changes description and/or expiry (operator surface).
func (h *ProfileHandler) Update(c *gin.Context) {
	var req types.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	info, err := h.profiles.Update(c.Param("id"), &req)
	if err != nil {
		profileError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// AddCredentials attaches credential references to an unlocked profile.
func (h *ProfileHandler) AddCredentials(c *gin.Context) {
	var req types.ProfileCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	info, err := h.profiles.AddCredentials(c.Param("id"), req.Credentials)
	if err != nil {
		profileError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// RemoveCredentials detaches credential references.
func (h *ProfileHandler) RemoveCredentials(c *gin.Context) {
	var req types.ProfileCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	info, err := h.profiles.RemoveCredentials(c.Param("id"), req.Credentials)
	if err != nil {
		profileError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Lock generates the profile key pair. The full key appears in this
// response only.
func (h *ProfileHandler) Lock(c *gin.Context) {
	locked, err := h.profiles.Lock(c.Param("id"))
	if err != nil {
		profileError(c, err)
		return
	}
	c.JSON(http.StatusOK, locked)
}

// Revoke permanently disables a profile.
func (h *ProfileHandler) Revoke(c *gin.Context) {
	info, err := h.profiles.Revoke(c.Param("id"))
	if err != nil {
		profileError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// RegenerateKey replaces the key pair of a locked profile.
func (h *ProfileHandler) RegenerateKey(c *gin.Context) {
	locked, err := h.profiles.RegenerateKey(c.Param("id"))
	if err != nil {
		profileError(c, err)
		return
	}
	c.JSON(http.StatusOK, locked)
}

// Delete removes an unlocked or revoked profile.
func (h *ProfileHandler) Delete(c *gin.Context) {
	if err := h.profiles.Delete(c.Param("id")); err != nil {
		profileError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
