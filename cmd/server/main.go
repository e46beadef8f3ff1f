package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chamalink/config"
	"chamalink/internal/database"
	"chamalink/internal/dispatcher"
	"chamalink/internal/repository"
	"chamalink/internal/router"
	"chamalink/internal/service"
	"chamalink/internal/ws"
	"chamalink/pkg/sms"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	database.SeedAdmin(db)

	notifRepo := repository.NewNotificationRepository(db)
	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewDeviceTokenRepository(db)

	fcm := service.NewFCMService(cfg.Firebase.ServiceAccountPath)
	if fcm.Available() {
		log.Printf("[FCM] push notifications enabled")
	} else {
		log.Printf("[FCM] push notifications disabled: set FIREBASE_SERVICE_ACCOUNT_PATH to enable")
	}
	smsGw := service.NewSMSGateway(sms.NewClient(cfg.SMS.BaseURL, cfg.SMS.Username, cfg.SMS.APIKey, cfg.SMS.SenderID))
	if !smsGw.Available() {
		log.Printf("[SMS] sms disabled: set SMS_USERNAME and SMS_API_KEY to enable")
	}
	emailGw := service.NewEmailGateway(cfg.Email.PostmarkServerToken, cfg.Email.PostmarkAccountToken, cfg.Email.FromAddress)
	if !emailGw.Available() {
		log.Printf("[EMAIL] email disabled: set POSTMARK_SERVER_TOKEN to enable")
	}

	hub := ws.NewHub()
	hygiene := service.NewTokenHygiene(tokenRepo)
	notifSvc := service.NewNotificationService(notifRepo, userRepo, hub)

	disp := dispatcher.New(notifRepo, userRepo, fcm, smsGw, emailGw, hygiene, dispatcher.Config{
		Workers:         cfg.Dispatch.Workers,
		GatewayTimeout:  cfg.Dispatch.GatewayTimeout,
		BatchLimit:      cfg.Dispatch.BatchLimit,
		StaleClaimAfter: cfg.Dispatch.StaleClaimAfter,
	})
	sweeper := dispatcher.NewSweeper(notifRepo, cfg.Dispatch.SweepPageSize)

	loopCtx, stopLoops := context.WithCancel(context.Background())
	go disp.Run(loopCtx, cfg.Dispatch.PollInterval)
	go sweeper.Run(loopCtx, cfg.Dispatch.SweepInterval)

	engine := router.Setup(cfg, db, router.Deps{
		FCM:      fcm,
		SMS:      smsGw,
		Email:    emailGw,
		Disp:     disp,
		Sweeper:  sweeper,
		Hub:      hub,
		NotifSvc: notifSvc,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Printf("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")
	stopLoops()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server shutdown:", err)
	}
	log.Println("server stopped")
}
