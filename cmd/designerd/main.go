// Package main provides the embedded SchemaFlow collaboration daemon.
// Designer clients talk to it over REST/WebSocket on localhost.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schemaflow/backend/internal/config"
	"github.com/schemaflow/backend/internal/conflict"
	"github.com/schemaflow/backend/internal/db"
	"github.com/schemaflow/backend/internal/identity"
	"github.com/schemaflow/backend/internal/lock"
	"github.com/schemaflow/backend/internal/logging"
	"github.com/schemaflow/backend/internal/models"
	"github.com/schemaflow/backend/internal/notify"
	"github.com/schemaflow/backend/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Getenv("SCHEMAFLOW_CONFIG"))
	if err != nil {
		logging.Init(os.Stderr, logging.LevelInfo)
		logging.Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}

	logging.Init(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	logger := logging.Get()

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", err,
			map[string]interface{}{"data_dir": cfg.DataDir})
		os.Exit(1)
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		logger.Error("Failed to migrate database", err, nil)
		os.Exit(1)
	}

	feed := db.NewFeed(cfg.FeedBuffer)
	defer feed.Close()

	leases := db.NewLeaseRepo(database.DB, feed)
	defer leases.Close()
	registry := db.NewRegistryRepo(database.DB, feed)

	ident := identity.NewStatic(cfg.Actor)
	actor := ident.CurrentActor()
	logger.Info("Session actor resolved",
		map[string]interface{}{"actor_id": actor.ID, "display_name": actor.DisplayName})

	locks := lock.NewManager(leases, logger)
	sweeper := lock.NewSweeper(leases, time.Duration(cfg.SweepIntervalSec)*time.Second, logger)

	detector := conflict.NewDetector(locks, registry, conflict.NewMemoryLastSeen(), ident, logger)
	dispatcher := notify.NewDispatcher(cfg.InboxCapacity, logger)
	router := conflict.NewEventRouter(feed, logger)

	stats := telemetry.NewCollector()
	hub := NewWSHub(logger)
	wireRealTime(router, detector, dispatcher, hub, actor.ID, stats)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reclaim leases left over from a previous run before serving.
	if count, err := sweeper.SweepNow(); err == nil && count > 0 {
		stats.Add(telemetry.CounterLeasesSwept, int64(count))
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()
	router.Start()
	defer router.Stop()

	dispatcher.AddListener(hub.BroadcastNotification)
	dispatcher.AddListener(func(models.Notification) {
		stats.Incr(telemetry.CounterNotificationsSent)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", handleHealth)
	mux.Handle("/api/ws", HandleWebSocket(hub))
	registerAPI(mux, locks, detector, dispatcher, ident, logger, stats)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("SchemaFlow collaboration daemon listening",
			map[string]interface{}{"addr": cfg.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", err, nil)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", err, nil)
	}
}

// wireRealTime connects the change-feed router to the WebSocket hub,
// raises a notification when another actor locks a resource, and keeps
// the local last-seen cache in step with deletions.
func wireRealTime(router *conflict.EventRouter, detector *conflict.Detector, dispatcher *notify.Dispatcher, hub *WSHub, actorID string, stats *telemetry.Collector) {
	eventTypes := []models.RealTimeEventType{
		models.EventLeaseAcquired,
		models.EventLeaseExtended,
		models.EventLeaseReleased,
		models.EventResourceCreated,
		models.EventResourceModified,
		models.EventResourceDeleted,
	}
	for _, eventType := range eventTypes {
		router.AddEventListener(eventType, func(event models.RealTimeEvent) {
			stats.Incr(telemetry.CounterEventsBroadcast)
			hub.BroadcastRealTimeEvent(event)
		})
	}

	router.AddEventListener(models.EventLeaseAcquired, func(event models.RealTimeEvent) {
		if event.ActorID == actorID {
			return
		}
		dispatcher.Notify(models.Notification{
			Severity: models.SeverityMedium,
			Title:    "Resource locked by a collaborator",
			Message:  "Another collaborator acquired a lock on a resource you can see.",
			Actions: []models.Action{
				{ID: "cancel", Label: "Dismiss", Kind: models.ActionKindDismiss},
			},
		})
	})

	router.AddEventListener(models.EventResourceDeleted, func(event models.RealTimeEvent) {
		detector.LastSeen().Forget(event.ResourceID)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "schemaflow-designerd",
	})
}
