package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/benefits_backend/config"
	"bitbucket.org/mmdatafocus/benefits_backend/models"
	"bitbucket.org/mmdatafocus/benefits_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("benefits-backend")

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Start listening before the first DB connection attempt; Cloud Run
	// requires the container to bind $PORT quickly.
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedis()

	logger := config.GetLogger()
	db := config.GetDB()

	// AutoMigrate can run DDL that blocks tables; allow running migrations
	// as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	}

	gateCfg := workflow.GateConfig{
		MakerCheckerFor:          config.MakerCheckerEnabledFor,
		OnInvalid:                config.OnInvalidPolicy(),
		TaskGroupID:              os.Getenv("REVIEW_TASK_GROUP_ID"),
		ImportValidItemsWorkflow: config.ImportValidItemsWorkflow(),
	}
	service := workflow.NewImportService(db, logger, gateCfg)
	registerImportRoutes(router, service)

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	dispatcher := workflow.NewOutboxDispatcher(db, logger)
	go dispatcher.Run(dispatcherCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	cancelDispatcher()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}
