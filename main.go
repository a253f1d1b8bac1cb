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

	"github.com/gin-gonic/gin"

	"github.com/orthofab/printflow/internal/api/handlers"
	"github.com/orthofab/printflow/internal/api/middleware"
	"github.com/orthofab/printflow/internal/blob"
	"github.com/orthofab/printflow/internal/config"
	"github.com/orthofab/printflow/internal/core"
	"github.com/orthofab/printflow/internal/db"
	"github.com/orthofab/printflow/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] invalid config: %v", err)
	}

	if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
		log.Fatalf("[main] failed to initialize database: %v", err)
	}
	defer db.Close()

	blobs, err := blob.NewLocalStore(cfg.Blob.Root)
	if err != nil {
		log.Fatalf("[main] failed to initialize blob store: %v", err)
	}

	sender := webhook.NewSender(db.GetDB(), webhook.Config{})
	sender.Start()
	defer sender.Stop()

	store := core.NewStore(db.GetDB(), blobs, sender)
	liveness := core.NewLivenessMonitor(cfg.Agent.HealthyWindow)
	metrics := core.NewMetricsAggregator(db.GetDB(), cfg.Agent.StalenessThreshold)
	hub := core.NewProgressHub()

	auth, err := middleware.NewAuthMiddleware(db.GetDB())
	if err != nil {
		log.Fatalf("[main] failed to initialize auth: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	api := router.Group("/api/v1")

	api.POST("/auth/setup", auth.SetupHandler)
	api.POST("/auth/login", auth.LoginHandler)
	api.POST("/auth/logout", auth.LogoutHandler)

	handlers.NewAgentHandler(store, liveness, cfg.Agent.MaxInlineFileBytes).RegisterRoutes(api, auth)
	handlers.NewJobHandler(store).RegisterRoutes(api, auth)
	handlers.NewPrintHandler(store, hub, cfg.Progress.HeartbeatInterval).RegisterRoutes(api, auth)
	handlers.NewDesignHandler().RegisterRoutes(api, auth)
	handlers.NewHealthHandler(liveness, metrics).RegisterRoutes(api, auth)
	handlers.NewWebhookHandler().RegisterRoutes(api, auth)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("[main] listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[main] server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[main] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[main] forced shutdown: %v", err)
	}
}
