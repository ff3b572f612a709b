package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "fee-recon/docs"
	"fee-recon/internal/config"
	"fee-recon/internal/handler"
	"fee-recon/internal/ledger"
	"fee-recon/internal/mailbox"
	"fee-recon/internal/matcher"
	"fee-recon/internal/middleware"
	"fee-recon/internal/repository"
	"fee-recon/internal/scheduler"
	"fee-recon/internal/service"
	"fee-recon/pkg/logger"
)

// @title Fee Payment Reconciliation API
// @version 1.0
// @description Reconciles UPI payment notification emails against pending school fee payments
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@fee-recon.local

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.App.LogLevel)
	logger.GetLogger().Info("Starting Fee Payment Reconciliation Service")

	db, err := connectDB(cfg.Database)
	if err != nil {
		logger.GetLogger().WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	logger.GetLogger().Info("Database connection established")

	feeRepo := repository.NewFeeRepository(db)
	paymentRepo := repository.NewFeePaymentRepository(db)
	logRepo := repository.NewPaymentLogRepository(db)
	settingsRepo := repository.NewPaymentSettingsRepository(db)

	provider := mailbox.NewGmailProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL)
	fetcher := mailbox.NewFetcher(provider, settingsRepo)

	reconService := service.NewReconciliationService(
		settingsRepo,
		paymentRepo,
		logRepo,
		fetcher,
		matcher.NewMatcher(paymentRepo, cfg.Reconciliation.MatchWindow),
		ledger.NewUpdater(paymentRepo, feeRepo),
		service.Options{
			PageSize:          cfg.Reconciliation.PageSize,
			TenantConcurrency: cfg.Reconciliation.TenantConcurrency,
			MailboxQuery:      cfg.Reconciliation.MailboxQuery,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		stats handler.StatsSource
		sched *scheduler.Scheduler
	)
	if cfg.Reconciliation.SchedulerEnabled {
		sched = scheduler.New(reconService, cfg.Reconciliation.PollInterval)
		stats = sched
		sched.Start(ctx)
	} else {
		logger.GetLogger().Warn("Reconciliation scheduler disabled")
	}

	reconHandler := handler.NewReconciliationHandler(reconService, stats)
	router := setupRouter(reconHandler)

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.GetLogger().WithField("address", addr).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.GetLogger().WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.GetLogger().Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.GetLogger().WithError(err).Error("Server shutdown failed")
	}
	if sched != nil {
		sched.Wait()
	}
}

func connectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

func setupRouter(reconHandler *handler.ReconciliationHandler) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorHandler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	{
		reconciliation := v1.Group("/reconciliation")
		{
			reconciliation.POST("/run", reconHandler.Run)
			reconciliation.GET("/logs", reconHandler.ListLogs)
			reconciliation.GET("/stats", reconHandler.Stats)
			reconciliation.POST("/payments/:id/verify", reconHandler.VerifyPayment)
			reconciliation.POST("/repair", reconHandler.Repair)
			reconciliation.GET("/health", reconHandler.Health)
		}
	}

	return router
}
