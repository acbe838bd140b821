package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"runlog-strava-sync/internal/config"
	"runlog-strava-sync/internal/database"
	"runlog-strava-sync/internal/handlers"
	"runlog-strava-sync/internal/importer"
	"runlog-strava-sync/internal/metrics"
	"runlog-strava-sync/internal/middleware"
	"runlog-strava-sync/internal/ratelimit"
	"runlog-strava-sync/internal/strava"
)

func main() {
	// Define CLI flags
	listSubscriptions := flag.Bool("list-strava-subscriptions", false, "List all Strava webhook subscriptions")
	deleteSubscription := flag.String("delete-strava-subscription", "", "Delete a Strava webhook subscription by ID")
	createSubscription := flag.Bool("create-strava-subscription", false, "Create the Strava webhook subscription")

	flag.Parse()

	// Check if any CLI command was requested
	if *listSubscriptions || *deleteSubscription != "" || *createSubscription {
		runCLI(*listSubscriptions, *deleteSubscription, *createSubscription)
		return
	}

	// Otherwise, start the server
	runServer()
}

func runCLI(listSubs bool, deleteSub string, createSub bool) {
	// Disable structured logging for CLI
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors
	})))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	client := strava.NewClient(cfg.StravaClientID, cfg.StravaClientSecret)

	switch {
	case listSubs:
		handleListSubscriptions(client)
	case deleteSub != "":
		handleDeleteSubscription(client, deleteSub)
	case createSub:
		handleCreateSubscription(client, cfg)
	}
}

func handleListSubscriptions(client *strava.Client) {
	subscriptions, err := client.ListSubscriptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list subscriptions: %v\n", err)
		os.Exit(1)
	}

	if len(subscriptions) == 0 {
		fmt.Println("No active subscriptions found.")
		return
	}

	fmt.Printf("Found %d subscription(s):\n\n", len(subscriptions))
	for _, sub := range subscriptions {
		fmt.Printf("ID: %d\n", sub.ID)
		fmt.Printf("  Application ID: %d\n", sub.ApplicationID)
		fmt.Printf("  Callback URL: %s\n", sub.CallbackURL)
		fmt.Printf("  Created: %s\n", sub.CreatedAt)
		fmt.Printf("  Updated: %s\n", sub.UpdatedAt)
		fmt.Println()
	}
}

func handleDeleteSubscription(client *strava.Client, idStr string) {
	subscriptionID, err := strconv.Atoi(idStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid subscription ID: %s\n", idStr)
		os.Exit(1)
	}

	fmt.Printf("Deleting subscription %d...\n", subscriptionID)

	err = client.DeleteSubscription(subscriptionID)
	if err != nil {
		if httpErr, ok := err.(*strava.HTTPError); ok && httpErr.StatusCode == 404 {
			fmt.Fprintf(os.Stderr, "Error: Subscription %d not found\n", subscriptionID)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Println("✓ Subscription deleted successfully!")
}

func handleCreateSubscription(client *strava.Client, cfg *config.Config) {
	callbackURL := cfg.SiteURL + "/strava/webhook"

	fmt.Printf("Creating webhook subscription...\n")
	fmt.Printf("Callback URL: %s\n\n", callbackURL)

	subscription, err := client.CreateSubscription(callbackURL, cfg.StravaVerifyToken)
	if err != nil {
		if httpErr, ok := err.(*strava.HTTPError); ok {
			fmt.Fprintf(os.Stderr, "Error: Subscription creation failed (HTTP %d)\n", httpErr.StatusCode)
			fmt.Fprintf(os.Stderr, "Response: %s\n", httpErr.Body)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Println("✓ Subscription created successfully!")
	fmt.Printf("  ID: %d\n", subscription.ID)
}

func runServer() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting runlog-strava-sync server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"log_level", cfg.LogLevel)

	// Open database and apply schema
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Init(); err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}

	logger.Info("Database opened successfully")

	// Wire the service graph
	stravaClient := strava.NewClient(cfg.StravaClientID, cfg.StravaClientSecret)
	limiter := ratelimit.New(db)
	tokens := importer.NewTokenManager(db, stravaClient)
	imp := importer.New(db, stravaClient)

	oauthHandler := handlers.NewOAuthHandler(db, stravaClient, cfg)
	webhookHandler := handlers.NewWebhookHandler(db, tokens, imp, limiter, cfg)
	importHandler := handlers.NewImportHandler(db, stravaClient, tokens, imp, limiter)

	// Set up HTTP routes
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Route("/strava", func(r chi.Router) {
		r.With(middleware.Metrics(metrics.EndpointAuthorize)).
			Get("/authorize", oauthHandler.HandleAuthorize)
		r.With(middleware.Metrics(metrics.EndpointCallback)).
			Get("/callback", oauthHandler.HandleCallback)
		r.With(middleware.Metrics(metrics.EndpointWebhook)).
			Get("/webhook", webhookHandler.HandleVerification)
		r.With(middleware.Metrics(metrics.EndpointWebhook)).
			Post("/webhook", webhookHandler.HandleEvent)
	})

	r.Route("/api/strava", func(r chi.Router) {
		r.With(middleware.Metrics(metrics.EndpointImport)).
			Post("/import", importHandler.HandleImport)
		r.With(middleware.Metrics(metrics.EndpointImportStatus)).
			Get("/import-status", importHandler.HandleStatus)
		r.With(middleware.Metrics(metrics.EndpointImportCancel)).
			Post("/import-cancel", importHandler.HandleCancel)
		r.With(middleware.Metrics(metrics.EndpointBackfill)).
			Post("/backfill", importHandler.HandleBackfill)
	})

	r.With(middleware.Metrics(metrics.EndpointHealth)).
		Get("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := db.Health(); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second, // Poll and backfill handlers run up to 55s
		IdleTimeout:  120 * time.Second,
	}

	collectorCtx, collectorCancel := context.WithCancel(context.Background())
	defer collectorCancel()

	// Start queue depth collector if metrics are enabled
	if cfg.MetricsEnabled {
		go func() {
			logger.Info("Starting queue depth collector")
			metrics.StartQueueDepthCollector(collectorCtx, db, 15*time.Second)
		}()
	}

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Start HTTP server in background
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	collectorCancel()

	// Shutdown HTTP servers with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Server stopped")
}
