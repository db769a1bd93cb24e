package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hairizuanbinnoorazman/browser-relay/apitoken"
	"github.com/hairizuanbinnoorazman/browser-relay/browser"
	"github.com/hairizuanbinnoorazman/browser-relay/cmd/relay/handlers"
	"github.com/hairizuanbinnoorazman/browser-relay/database"
	"github.com/hairizuanbinnoorazman/browser-relay/discovery"
	"github.com/hairizuanbinnoorazman/browser-relay/inputlock"
	"github.com/hairizuanbinnoorazman/browser-relay/logger"
	"github.com/hairizuanbinnoorazman/browser-relay/orchestrator"
	"github.com/hairizuanbinnoorazman/browser-relay/query"
	"github.com/hairizuanbinnoorazman/browser-relay/site"
	"github.com/hairizuanbinnoorazman/browser-relay/tabpool"
	"github.com/spf13/cobra"
)

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay HTTP server",
	RunE:  runServer,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.AddCommand(serveCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Load configuration
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log := logger.NewLogrusLogger(cfg.Log.Level)
	log.Info(ctx, "starting relay", map[string]interface{}{
		"version": Version,
		"commit":  Commit,
		"date":    BuildDate,
	})

	// Connect to database
	dbCfg := database.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}

	db, err := database.Connect(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	defer sqlDB.Close()

	log.Info(ctx, "database connected", map[string]interface{}{
		"host":     cfg.Database.Host,
		"port":     cfg.Database.Port,
		"database": cfg.Database.Database,
	})

	// Discovery and orchestrator clients
	var registry *discovery.RegistryClient
	if cfg.Discovery.RegistryURL != "" {
		registry = discovery.NewRegistryClient(cfg.Discovery.RegistryURL, cfg.Discovery.TierTimeout, log)
	}

	var orchClient *orchestrator.Client
	if cfg.Orchestrator.BaseURL != "" {
		orchClient = orchestrator.NewClient(cfg.Orchestrator.BaseURL, cfg.Orchestrator.Timeout, registry, cfg.Discovery.PortLabel, log)
	}

	var allocations discovery.AllocationResolver
	if orchClient != nil {
		allocations = orchClient
	}
	resolver := discovery.NewResolver(registry, allocations, cfg.Discovery.PortLabel, cfg.Discovery.DefaultAddress, cfg.Discovery.TierTimeout, log)

	// Resolve the remote debugging endpoint if not pinned in config
	debugURL := cfg.Browser.DebugURL
	if debugURL == "" {
		record, err := resolver.Discover(ctx, cfg.Browser.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to discover browser endpoint: %w", err)
		}
		debugURL = fmt.Sprintf("ws://%s", record.HostPort())
		log.Info(ctx, "browser endpoint discovered", map[string]interface{}{
			"address": record.HostPort(),
			"via":     record.DiscoveredVia,
		})
	}

	driver := browser.NewRemote(debugURL, cfg.Browser.OpTimeout, log)
	if err := driver.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer driver.Close()

	log.Info(ctx, "browser connected", map[string]interface{}{
		"debug_url": debugURL,
	})

	// Initialize stores
	tabStore := tabpool.NewMySQLStore(db, log)
	lockStore := inputlock.NewMySQLStore(db, log)
	queryStore := query.NewMySQLStore(db, log)
	tokenStore := apitoken.NewMySQLStore(db, log)

	// Tab pool
	pool := tabpool.NewPool(tabStore, driver, cfg.Pool.MaxTabs, log).
		WithCapabilities(site.New)

	pruneStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.Pool.PruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := pool.PruneExcessTabs(ctx); err != nil {
					log.Warn(ctx, "tab prune failed", map[string]interface{}{
						"error": err.Error(),
					})
				}
			case <-pruneStop:
				return
			}
		}
	}()
	defer close(pruneStop)

	// Human-input mutex and expired-lock reaper
	mutex := inputlock.NewMutex(lockStore, cfg.Lock.Key, cfg.Lock.TTL, cfg.Lock.RetryInterval, log)

	reaper := inputlock.NewReaper(lockStore, log)
	reaper.Start(cfg.Lock.ReapInterval)
	defer reaper.Stop()

	// Query service
	watcher := query.NewWatcher(queryStore, driver, cfg.Query.PollInterval, cfg.Query.WebhookRetries, log)
	queryService := query.NewService(pool, mutex, driver, queryStore, watcher, query.Options{
		LockTimeout:    cfg.Query.LockTimeout,
		WatchDeadline:  cfg.Query.WatchDeadline,
		TypingMinDelay: cfg.Query.TypingMinDelay,
		TypingMaxDelay: cfg.Query.TypingMaxDelay,
	}, log).WithCapabilities(site.New)

	// Setup router
	router := mux.NewRouter()

	// Health check endpoint (public)
	router.HandleFunc("/health", handlers.HealthHandler).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	if cfg.Auth.Enabled {
		authMiddleware := handlers.NewAuthMiddleware(tokenStore, log)
		apiRouter.Use(authMiddleware.Handler)
	}

	queryHandler := handlers.NewQueryHandler(queryService, log)
	apiRouter.HandleFunc("/queries", queryHandler.Submit).Methods("POST")
	apiRouter.HandleFunc("/queries/collect", queryHandler.Collect).Methods("POST")

	discoveryHandler := handlers.NewDiscoveryHandler(resolver, log)
	apiRouter.HandleFunc("/discovery/{service}", discoveryHandler.Resolve).Methods("GET")

	if orchClient != nil {
		jobHandler := handlers.NewJobHandler(orchClient, cfg.Orchestrator.Timeout, log)
		apiRouter.HandleFunc("/jobs/{agentID}", jobHandler.Status).Methods("GET")
		apiRouter.HandleFunc("/jobs/{agentID}/start", jobHandler.Start).Methods("POST")
		apiRouter.HandleFunc("/jobs/{agentID}/stop", jobHandler.Stop).Methods("POST")
		apiRouter.HandleFunc("/jobs/{agentID}/ensure", jobHandler.Ensure).Methods("POST")
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info(ctx, "server listening", map[string]interface{}{
			"address": addr,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "shutting down server", nil)

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info(ctx, "server stopped", nil)
	return nil
}
