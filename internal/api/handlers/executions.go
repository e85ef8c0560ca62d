package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ComputClaw/airlock/internal/core/credential"
	"github.com/ComputClaw/airlock/internal/core/profile"
	"github.com/ComputClaw/airlock/internal/dispatch"
	"github.com/ComputClaw/airlock/pkg/types"
)

// ExecutionHandler handles the execute/poll/respond surface.
type ExecutionHandler struct {
	profiles       *profile.Service
	credentials    *credential.Service
	dispatcher     *dispatch.Dispatcher
	defaultTimeout time.Duration
	maxScriptBytes int
}

// NewExecutionHandler creates a new ExecutionHandler.
func NewExecutionHandler(
	profiles *profile.Service,
	credentials *credential.Service,
	dispatcher *dispatch.Dispatcher,
	defaultTimeout time.Duration,
	maxScriptBytes int,
) *ExecutionHandler {
	return &ExecutionHandler{
		profiles:       profiles,
		credentials:    credentials,
		dispatcher:     dispatcher,
		defaultTimeout: defaultTimeout,
		maxScriptBytes: maxScriptBytes,
	}
}

// bearerToken extracts the Authorization: Bearer value, or "".
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// authDetail maps authentication failures to stable agent-facing strings.
func authDetail(err error) string {
	switch {
	case errors.Is(err, profile.ErrAuthMissing):
		return "Missing authentication token"
	case errors.Is(err, profile.ErrAuthMalformed), errors.Is(err, profile.ErrAuthNotFound):
		return "Invalid profile key"
	case errors.Is(err, profile.ErrAuthNotLocked):
		return "Profile is not locked"
	case errors.Is(err, profile.ErrAuthRevoked):
		return "Profile has been revoked"
	case errors.Is(err, profile.ErrAuthExpired):
		return "Profile has expired"
	}
	return "Authentication failed"
}

// Execute accepts a script for execution. Authentication is the profile
// key; integrity is the per-request script HMAC.
func (h *ExecutionHandler) Execute(c *gin.Context) {
	identity, err := h.profiles.Authenticate(bearerToken(c))
	if err != nil {
		if !isAuthFailure(err) {
			log.Printf("Execute: authentication error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": authDetail(err)})
		return
	}

	var req types.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if h.maxScriptBytes > 0 && len(req.Script) > h.maxScriptBytes {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "script too large"})
		return
	}

	if !profile.VerifyScript(identity.Secret, req.Script, req.Hash) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Script hash verification failed: HMAC mismatch"})
		return
	}

	// The plaintext map stays inside this request scope; the dispatcher
	// hands it to the sandbox and the sanitizer, nothing else.
	credentials, err := h.credentials.ResolveForProfile(identity.ProfileID)
	if err != nil {
		log.Printf("Execute: credential resolution failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	timeout := h.defaultTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}

	executionID, err := h.dispatcher.Submit(identity.ProfileID, req.Script, credentials, timeout)
	if err != nil {
		log.Printf("Execute: submit failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusAccepted, types.ExecutionCreated{
		ExecutionID: executionID,
		PollURL:     "/executions/" + executionID,
		Status:      types.ExecutionPending,
	})
}

func isAuthFailure(err error) bool {
	for _, known := range []error{
		profile.ErrAuthMissing, profile.ErrAuthMalformed, profile.ErrAuthNotFound,
		profile.ErrAuthNotLocked, profile.ErrAuthRevoked, profile.ErrAuthExpired,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

// Poll returns the current execution state.
func (h *ExecutionHandler) Poll(c *gin.Context) {
	snapshot, err := h.dispatcher.Poll(c.Param("id"))
	if err != nil {
		if errors.Is(err, dispatch.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// Respond delivers an LLM completion to a paused execution.
func (h *ExecutionHandler) Respond(c *gin.Context) {
	var req types.LLMResponse
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	snapshot, err := h.dispatcher.Respond(c.Param("id"), req.Response)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, snapshot)
	case errors.Is(err, dispatch.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, dispatch.ErrWrongState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
