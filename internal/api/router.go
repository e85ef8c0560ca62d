// Package api provides the REST API for Airlock.
package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ComputClaw/airlock/internal/api/handlers"
	"github.com/ComputClaw/airlock/internal/auth"
	"github.com/ComputClaw/airlock/internal/backup"
	"github.com/ComputClaw/airlock/internal/core/credential"
	"github.com/ComputClaw/airlock/internal/core/profile"
	"github.com/ComputClaw/airlock/internal/dispatch"
	"github.com/ComputClaw/airlock/internal/store"
	"github.com/ComputClaw/airlock/internal/worker"
	"github.com/ComputClaw/airlock/pkg/types"
)

// Router holds all API dependencies and routes.
type Router struct {
	engine   *gin.Engine
	profiles *profile.Service

	credentialHandler *handlers.CredentialHandler
	profileHandler    *handlers.ProfileHandler
	executionHandler  *handlers.ExecutionHandler
	adminHandler      *handlers.AdminHandler
	events            *EventHub
}

// NewRouter creates a new API router.
func NewRouter(
	credentials *credential.Service,
	profiles *profile.Service,
	dispatcher *dispatch.Dispatcher,
	admin *auth.Admin,
	st *store.Store,
	pool *worker.Pool,
	backups *backup.Service,
	cfg types.Worker,
) *Router {
	events := NewEventHub()
	dispatcher.OnTransition = events.Publish

	r := &Router{
		engine:            gin.Default(),
		profiles:          profiles,
		credentialHandler: handlers.NewCredentialHandler(credentials),
		profileHandler:    handlers.NewProfileHandler(profiles),
		executionHandler: handlers.NewExecutionHandler(
			profiles,
			credentials,
			dispatcher,
			time.Duration(cfg.DefaultTimeout)*time.Second,
			cfg.MaxScriptBytes,
		),
		adminHandler: handlers.NewAdminHandler(admin, st, pool, backups, cfg.HistoryPageLimit),
		events:       events,
	}

	r.setupRoutes()
	return r
}

// setupRoutes configures all API routes.
func (r *Router) setupRoutes() {
	// Health check
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Agent surface
	r.engine.GET("/credentials", r.credentialHandler.List)
	r.engine.POST("/credentials", r.credentialHandler.CreateBatch)

	r.engine.GET("/profiles", r.profileHandler.List)
	r.engine.POST("/profiles", r.profileHandler.Create)
	r.engine.GET("/profiles/:id", r.profileHandler.Get)
	r.engine.POST("/profiles/:id/credentials", r.profileHandler.AddCredentials)
	r.engine.DELETE("/profiles/:id/credentials", r.profileHandler.RemoveCredentials)

	r.engine.POST("/execute", r.executionHandler.Execute)
	r.engine.GET("/executions/:id", r.executionHandler.Poll)
	r.engine.POST("/executions/:id/respond", r.executionHandler.Respond)

	r.engine.GET("/skill.md", r.skillDoc)

	// Operator surface
	admin := r.engine.Group("/api/admin")
	{
		admin.GET("/status", r.adminHandler.Status)
		admin.POST("/setup", r.adminHandler.Setup)
		admin.POST("/login", r.adminHandler.Login)

		session := admin.Group("", r.adminHandler.RequireSession)
		{
			session.GET("/credentials", r.credentialHandler.AdminList)
			session.POST("/credentials", r.credentialHandler.AdminCreate)
			session.PUT("/credentials/:name", r.credentialHandler.AdminUpdate)
			session.DELETE("/credentials/:name", r.credentialHandler.AdminDelete)

			session.GET("/profiles", r.profileHandler.List)
			session.POST("/profiles", r.profileHandler.Create)
			session.GET("/profiles/:id", r.profileHandler.Get)
			session.PUT("/profiles/:id", r.profileHandler.Update)
			session.DELETE("/profiles/:id", r.profileHandler.Delete)
			session.POST("/profiles/:id/lock", r.profileHandler.Lock)
			session.POST("/profiles/:id/revoke", r.profileHandler.Revoke)
			session.POST("/profiles/:id/regenerate-key", r.profileHandler.RegenerateKey)
			session.POST("/profiles/:id/credentials", r.profileHandler.AddCredentials)
			session.DELETE("/profiles/:id/credentials", r.profileHandler.RemoveCredentials)

			session.GET("/executions", r.adminHandler.ListExecutions)
			session.GET("/stats", r.adminHandler.Stats)
			session.POST("/backup", r.adminHandler.Backup)
		}
	}

	// WebSocket for real-time execution events
	r.engine.GET("/ws", r.events.Handle)
}

// Handler returns the HTTP handler.
func (r *Router) Handler() http.Handler {
	return r.engine
}

// skillDoc renders the agent-facing usage document with the current
// profile inventory.
func (r *Router) skillDoc(c *gin.Context) {
	var b strings.Builder
	b.WriteString(`# Airlock: Credentialed Code Execution

## Overview
Airlock executes scripts with access to configured credentials. Scripts
read credentials through settings.get(name), request LLM completions
through llm.complete(prompt, model), and report a value via set_result.

## Authentication
Use a profile key (ark_ID:SECRET) for execution.
Send the key_id in the Authorization: Bearer ark_... header.
Send HMAC-SHA256(secret, script) hex as the hash field of the body.

## Endpoints

- POST /execute: submit a script (Bearer auth + HMAC)
- GET /executions/{id}: poll execution status
- POST /executions/{id}/respond: provide an LLM completion
- GET /profiles, POST /profiles: profile discovery and creation
- GET /credentials, POST /credentials: credential slot discovery and creation

## Available Profiles
`)

	profiles, err := r.profiles.List()
	if err != nil || len(profiles) == 0 {
		b.WriteString("No profiles configured yet. Ask your operator to set one up.\n")
	} else {
		for _, p := range profiles {
			state := "unlocked"
			if p.Revoked {
				state = "revoked"
			} else if p.Locked {
				state = "locked"
			}
			fmt.Fprintf(&b, "- %s (%s): %s, %d credential(s)\n", p.ID, state, p.Description, len(p.Credentials))
		}
	}

	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(b.String()))
}
