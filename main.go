package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fleetgate/config"
	"fleetgate/internal/broadcast"
	"fleetgate/internal/dispatch"
	"fleetgate/internal/gateway"
	"fleetgate/internal/geocode"
	"fleetgate/internal/httpapi"
	"fleetgate/internal/registry"
	"fleetgate/internal/store/postgres"
	"fleetgate/internal/watchdog"
	"fleetgate/internal/wire"
	"fleetgate/pkg/colors"
)

func main() {
	colors.PrintBanner()

	if err := godotenv.Load(); err != nil {
		colors.PrintWarning("No .env file found, using system environment variables")
	} else {
		colors.PrintSuccess("Environment configuration loaded from .env file")
	}

	cfg := config.Load()

	colors.PrintInfo("Initializing database connection...")
	st, err := postgres.Open(postgres.Config{
		DSN:                cfg.DatabaseDSN,
		RequireProvisioned: cfg.RequireProvisionedDevice,
		LogLevel:           cfg.GORMLogLevel(),
	})
	if err != nil {
		colors.PrintError("Failed to initialize database: %v", err)
		log.Fatalf("database initialization failed: %v", err)
	}
	colors.PrintSuccess("Database connection established")

	reg := registry.New()
	hub := broadcast.NewHub()
	go hub.Run()

	var geocoder *geocode.Client
	if cfg.NominatimBaseURL != "" {
		geocoder = geocode.New(cfg.NominatimBaseURL, cfg.NominatimTimeout())
	}

	dispatcher := dispatch.New(reg, cfg.CommandDefaultTimeout())

	wd := watchdog.New(st, geocoder, cfg.WatchdogInterval(), cfg.TripAutoEndStale())
	watchdogCtx, stopWatchdog := context.WithCancel(context.Background())
	go wd.Run(watchdogCtx)

	gw, err := gateway.Listen(cfg.TCPHost+":"+cfg.TCPPort, reg, st, hub, wire.DecodeOptions{
		ForceSouthernHemisphere: cfg.ForceSouthernHemisphere,
	})
	if err != nil {
		colors.PrintError("Failed to bind TCP listener: %v", err)
		log.Fatalf("gateway listen failed: %v", err)
	}

	httpServer := &http.Server{
		Addr: cfg.HTTPHost + ":" + cfg.HTTPPort,
		Handler: httpapi.NewServer(st, dispatcher, httpapi.Config{
			SendingStaleAfter:   cfg.DeviceSendingStale(),
			OfflineTimeoutAfter: cfg.DeviceOfflineTimeout(),
			TokenHash:           cfg.HTTPAPITokenHash,
		}).Handler(),
	}

	colors.PrintHeader("FLEETGATE INITIALIZATION")
	colors.PrintServer("📡", "TCP gateway configured for %s:%s (GT06 device connections)", cfg.TCPHost, cfg.TCPPort)
	colors.PrintServer("🌐", "HTTP API configured for %s:%s", cfg.HTTPHost, cfg.HTTPPort)
	colors.PrintSubHeader("Available HTTP Endpoints")
	colors.PrintEndpoint("GET", "/health", "Liveness/readiness check")
	colors.PrintEndpoint("POST", "/api/v1/devices/:identity/command", "Send a command to a connected device")
	colors.PrintEndpoint("GET", "/api/v1/devices", "Diagnostics listing of known devices")
	colors.PrintEndpoint("GET", "/api/v1/devices/:identity/positions", "Position history range query")
	colors.PrintEndpoint("GET", "/api/v1/devices/:identity/route/distance", "Haversine route distance")

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	errorChan := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		colors.PrintInfo("Starting TCP gateway...")
		if err := gw.Serve(ctx); err != nil {
			errorChan <- fmt.Errorf("TCP gateway error: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		colors.PrintInfo("Starting HTTP API server...")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errorChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errorChan:
		colors.PrintError("Server error: %v", err)
	case <-quit:
		colors.PrintShutdown()
		colors.PrintInfo("Shutting down FleetGate...")
	}

	stopWatchdog()
	gw.Shutdown(10 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		colors.PrintWarning("HTTP server shutdown: %v", err)
	}

	cancel()
	wg.Wait()
	colors.PrintSuccess("FleetGate shutdown complete")
}
