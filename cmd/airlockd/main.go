// Package main is the entry point for the Airlock daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ComputClaw/airlock/internal/api"
	"github.com/ComputClaw/airlock/internal/auth"
	"github.com/ComputClaw/airlock/internal/backup"
	"github.com/ComputClaw/airlock/internal/clock"
	"github.com/ComputClaw/airlock/internal/core/credential"
	"github.com/ComputClaw/airlock/internal/core/profile"
	"github.com/ComputClaw/airlock/internal/crypto"
	"github.com/ComputClaw/airlock/internal/dispatch"
	"github.com/ComputClaw/airlock/internal/store"
	"github.com/ComputClaw/airlock/internal/worker"
	"github.com/ComputClaw/airlock/internal/worker/jsvm"
	"github.com/ComputClaw/airlock/internal/worker/remote"
	"github.com/ComputClaw/airlock/pkg/types"
)

var (
	configPath  = flag.String("config", "", "Path to config file")
	showVersion = flag.Bool("version", false, "Show version")
)

const version = "0.1.0"

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("airlockd version %s\n", version)
		os.Exit(0)
	}

	config, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := run(config); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func loadConfig(path string) (*types.Config, error) {
	// Use default config if no path specified
	if path == "" {
		candidates := []string{
			"airlock.yaml",
			"airlock.yml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	config := types.DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Resolve()
	return config, nil
}

func run(config *types.Config) error {
	log.Printf("Starting Airlock daemon v%s", version)

	clk := clock.System{}

	// Master key: generated on first boot, never rotated. Losing the
	// file makes every stored credential unrecoverable.
	masterKey, err := crypto.LoadOrCreateMasterKey(config.MasterKeyPath())
	if err != nil {
		return fmt.Errorf("failed to initialize master key: %w", err)
	}
	log.Printf("Master key loaded from %s", config.MasterKeyPath())

	st := store.New(config.DBPath())
	if err := st.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()
	log.Printf("Store initialized: %s", config.DBPath())

	credentials := credential.NewService(st, masterKey, clk)
	profiles := profile.NewService(st, masterKey, clk)
	admin := auth.NewAdmin(st)

	backups := backup.NewService(config.IdentityPath(), config.DBPath(), config.Backup.Dir, clk)
	if err := backups.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize backup identity: %w", err)
	}

	var backend worker.Backend
	switch config.Worker.Backend {
	case "remote":
		if config.Worker.RemoteURL == "" {
			return fmt.Errorf("worker backend %q requires remote_url", config.Worker.Backend)
		}
		backend = remote.New(config.Worker.RemoteURL)
		log.Printf("Remote worker backend: %s", config.Worker.RemoteURL)
	case "jsvm", "":
		backend = jsvm.New(config.Worker.MaxScriptBytes)
		log.Printf("In-process jsvm worker backend")
	default:
		return fmt.Errorf("unknown worker backend %q", config.Worker.Backend)
	}

	pool := worker.NewPool(backend, config.Worker.Slots)
	log.Printf("Worker pool ready (%d slots)", pool.Size())

	dispatcher := dispatch.New(pool, st, clk,
		time.Duration(config.Worker.LLMWaitTimeout)*time.Second)
	dispatcher.AllowedHosts = config.Worker.AllowedHosts
	if n, err := dispatcher.RecoverStale(); err != nil {
		return fmt.Errorf("failed to recover stale executions: %w", err)
	} else if n > 0 {
		log.Printf("Marked %d interrupted execution(s) as failed", n)
	}

	router := api.NewRouter(credentials, profiles, dispatcher, admin, st, pool, backups, config.Worker)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router.Handler(),
	}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Printf("Airlock ready!")
	log.Printf("  Agent API: http://%s/", addr)
	log.Printf("  Admin API: http://%s/api/admin", addr)
	log.Printf("  Events:    ws://%s/ws", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Println("Server stopped")
	return nil
}
