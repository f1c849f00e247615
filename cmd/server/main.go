package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fwstore/config"
	"fwstore/internal/database"
	"fwstore/internal/router"
	"fwstore/internal/service"
	"fwstore/pkg/cloudinary"
	"fwstore/pkg/logging"
	"fwstore/pkg/payment"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Fatalf("%v", err)
	}

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		logging.Fatalf("database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		logging.Fatalf("migrate: %v", err)
	}
	if err := database.SeedAdmin(db, &cfg.Admin); err != nil {
		logging.Fatalf("seed admin: %v", err)
	}

	rdb, err := database.NewRedis(cfg.Redis.URL)
	if err != nil {
		logging.Warnf("[REDIS] %v; rate limits stay in-process", err)
		rdb = nil
	}

	deps := router.Deps{
		DB:       db,
		Redis:    rdb,
		Provider: newProvider(cfg),
		Events:   newPublisher(cfg),
		Mailer:   newMailer(cfg),
	}
	if cfg.Cloudinary.CloudName != "" {
		cloud, err := cloudinary.NewClientFromParams(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret)
		if err != nil {
			logging.Fatalf("cloudinary: %v", err)
		}
		deps.Images = cloud
	} else {
		logging.Warnf("[CLOUDINARY] not configured; icon uploads disabled")
	}
	defer deps.Events.Close()

	engine := router.Setup(cfg, deps)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logging.Infof("server listening on :%s (env=%s)", cfg.Server.Port, cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatalf("listen: %v", err)
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Infof("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Errorf("server shutdown: %v", err)
	}
	logging.Infof("server stopped")
}

func newProvider(cfg *config.Config) payment.Provider {
	if !cfg.MpesaEnabled() {
		logging.Warnf("[MPESA] no credentials; using stub provider")
		if cfg.Mpesa.CallbackSecret == "" {
			logging.Warnf("[MPESA] MPESA_CALLBACK_SECRET unset; webhook routes reject every call")
		}
		return &payment.StubProvider{}
	}
	m := cfg.Mpesa
	logging.Infof("[MPESA] Daraja %s shortcode=%s", m.Environment, m.ShortCode)
	return payment.NewDarajaProvider(payment.DarajaConfig{
		BaseURL:            m.BaseURL,
		ConsumerKey:        m.ConsumerKey,
		ConsumerSecret:     m.ConsumerSecret,
		ShortCode:          m.ShortCode,
		Passkey:            m.Passkey,
		CallbackBaseURL:    m.CallbackBaseURL,
		CallbackSecret:     m.CallbackSecret,
		InitiatorName:      m.InitiatorName,
		SecurityCredential: m.SecurityCredential,
		Timeout:            m.Timeout,
	})
}

func newPublisher(cfg *config.Config) service.EventPublisher {
	if len(cfg.Kafka.Brokers) == 0 {
		return service.NopPublisher{}
	}
	p, err := service.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix)
	if err != nil {
		logging.Warnf("[KAFKA] %v; events disabled", err)
		return service.NopPublisher{}
	}
	logging.Infof("[KAFKA] publishing to %v", cfg.Kafka.Brokers)
	return p
}

func newMailer(cfg *config.Config) service.Mailer {
	if cfg.Email.BrevoAPIKey == "" {
		logging.Warnf("[EMAIL] BREVO_API_KEY not set; emails are logged only")
		return service.LogMailer{}
	}
	return service.NewBrevoMailer(&cfg.Email)
}
