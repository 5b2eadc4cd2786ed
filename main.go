package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"

	"ticket-verify/config"
	"ticket-verify/encryption"
	"ticket-verify/handlers"
	"ticket-verify/migrations"
	"ticket-verify/monitoring"
	"ticket-verify/notify"
	"ticket-verify/realtime"
	"ticket-verify/security"
	"ticket-verify/services"
	"ticket-verify/store"
	"ticket-verify/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	redisClient, err := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Successfully connected to Redis")

	encService, err := encryption.New(cfg.SecretKey)
	if err != nil {
		log.Fatalf("Failed to initialize payload encryption: %v", err)
	}

	// PubNub is optional; without keys the notifier logs outcomes locally.
	var pn *pubnub.PubNub
	if cfg.PubNubPublishKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		pn = pubnub.NewPubNub(pnConfig)
	}

	ticketStore := store.NewTicketStore(pool)
	hub := realtime.NewHub()
	notifier := notify.New(pn, cfg.NotifyChannel, cfg.NotifyQueueSize)
	defer notifier.Close()

	ticketService := services.NewTicketService(ticketStore, encService)
	verificationService := services.NewVerificationService(
		ticketStore, encService, hub, notifier, redisClient, cfg.MaxTicketAge, cfg.OutcomeCacheTTL)

	hub.SetStatsProvider(verificationService.Stats)
	hub.SetDeviceRegistrar(ticketStore.RegisterDevice)

	if cfg.EnableMetrics {
		monitor := monitoring.NewMonitor(hub)
		defer monitor.Close()
	}

	limiter := security.NewRateLimiter(redisClient, cfg.VerifyRateLimit, cfg.VerifyRateWindow)

	ticketHandler := handlers.NewTicketHandler(ticketService)
	verifyHandler := handlers.NewVerifyHandler(verificationService)
	adminHandler := handlers.NewAdminHandler(verificationService, ticketStore, hub)
	wsHandler := handlers.NewWSHandler(hub)

	e := echo.New()
	e.Use(limiter.AntiBotMiddleware())

	// Ticket lifecycle
	e.POST("/api/tickets", ticketHandler.CreateTicket)
	e.POST("/api/tickets/batch", ticketHandler.CreateBatch)
	e.GET("/api/tickets", ticketHandler.ListTickets)
	e.GET("/api/tickets/:ticketId", ticketHandler.GetTicket)
	e.POST("/api/tickets/:ticketId/sent", ticketHandler.MarkSent)

	// Verification
	e.POST("/api/verify", verifyHandler.Verify, limiter.VerifyRateLimit())
	e.POST("/api/verify-code", verifyHandler.VerifyCode, limiter.VerifyRateLimit())

	// Admin
	e.GET("/api/admin/stats", adminHandler.Stats)
	e.GET("/api/admin/devices", adminHandler.Devices)
	e.POST("/api/admin/devices/:deviceId/evict", adminHandler.EvictDevice)
	e.POST("/api/admin/alert", adminHandler.Alert)

	// Realtime
	e.GET("/ws", wsHandler.HandleWS)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		if err := store.HealthCheck(c.Request().Context(), pool); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy", "postgres": err.Error(),
			})
		}
		if err := utils.RedisHealthCheck(redisClient); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy", "redis": err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	if cfg.EnableMetrics {
		metricsHandler := promhttp.Handler()
		e.GET("/metrics", func(c echo.Context) error {
			metricsHandler.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: e}
	go func() {
		log.Printf("Server listening on :%s (%s)", cfg.Port, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
