package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"task-tracker/internal/bot"
	"task-tracker/internal/config"
	"task-tracker/internal/handler"
	"task-tracker/internal/logger"
	"task-tracker/internal/mail"
	"task-tracker/internal/repository"
	"task-tracker/internal/service"
)

var version = "dev"

const jobTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (defaults to $CONFIG_PATH)")
	promote := flag.String("promote", "", "grant superuser rights to the given username and exit")
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	log := logger.New(cfg.Env, "task-tracker")

	if cfg.GeneratedSecret {
		log.Warn("no signing secret configured, using a random one; tokens will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewDB(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("failed to init storage")
	}
	defer db.Close()

	userRepo := repository.NewUserRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tokenSvc := service.NewTokenService(tokenRepo, cfg.Tokens)
	if err := tokenSvc.RegisterMetrics(registry); err != nil {
		log.WithError(err).Fatal("failed to register metrics")
	}
	identitySvc, err := service.NewIdentityService(userRepo, tokenSvc, service.DefaultPasswordPolicy(), cfg.Security.BcryptCost)
	if err != nil {
		log.WithError(err).Fatal("failed to init identity service")
	}
	taskSvc := service.NewTaskService(taskRepo, categoryRepo, userRepo)
	categorySvc := service.NewCategoryService(categoryRepo)

	if *promote != "" {
		user, err := identitySvc.Promote(ctx, *promote)
		if err != nil {
			log.WithError(err).Fatal("failed to promote user")
		}
		log.WithField("user_id", user.ID).Info("user promoted to superuser")
		return
	}

	var senders []service.DigestSender
	var telegramBot *bot.Bot
	if cfg.Telegram.Token != "" {
		telegramBot, err = bot.New(cfg.Telegram.Token, log)
		if err != nil {
			log.WithError(err).Fatal("failed to init telegram bot")
		}
		senders = append(senders, telegramBot)
	}
	if cfg.MailEnabled() {
		mailer, err := mail.New(cfg.SMTP)
		if err != nil {
			log.WithError(err).Fatal("failed to init mailer")
		}
		senders = append(senders, mailer)
	}
	reminderSvc := service.NewReminderService(taskRepo, categoryRepo, userRepo, senders...)

	scheduler := service.NewSchedulerService(time.Local, log, jobTimeout)
	if err := scheduleJobs(scheduler, cfg, tokenSvc, reminderSvc, log); err != nil {
		log.WithError(err).Fatal("failed to schedule jobs")
	}
	scheduler.Start()
	defer scheduler.Stop()

	if telegramBot != nil {
		go func() {
			if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("telegram bot stopped")
			}
		}()
	}

	if cfg.Env == config.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := handler.NewHandler(identitySvc, tokenSvc, taskSvc, categorySvc, db, log, handler.Options{
		Env:      cfg.Env,
		Version:  version,
		Security: cfg.Security,
		Registry: registry,
	}).InitRoutes()
	if err != nil {
		log.WithError(err).Fatal("failed to init routes")
	}

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
	}

	go func() {
		log.WithFields(logrus.Fields{"address": srv.Addr, "env": cfg.Env, "version": version}).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	log.Info("shutdown complete")
}

func scheduleJobs(scheduler *service.SchedulerService, cfg config.Config, tokens *service.TokenService, reminders *service.ReminderService, log *logrus.Logger) error {
	if cfg.Tokens.PurgeInterval > 0 {
		purge := func(ctx context.Context) error {
			purged, err := tokens.PurgeExpired(ctx)
			if err != nil {
				return err
			}
			if purged > 0 {
				log.WithField("rows", purged).Info("purged expired tokens")
			}
			return nil
		}
		if _, err := scheduler.ScheduleInterval("purge-tokens", cfg.Tokens.PurgeInterval, purge); err != nil {
			return err
		}
	}

	if !cfg.Reminders.Enabled {
		return nil
	}
	remind := func(ctx context.Context) error {
		now := time.Now().UTC()
		if _, err := reminders.SyncOverdue(ctx, now); err != nil {
			return err
		}
		return reminders.SendOverdueDigests(ctx, now)
	}
	if cfg.Reminders.DigestTime != "" && reminders.HasSenders() {
		// Overdue flags still resync on the interval; digests go out daily.
		resync := func(ctx context.Context) error {
			_, err := reminders.SyncOverdue(ctx, time.Now().UTC())
			return err
		}
		if _, err := scheduler.ScheduleInterval("sync-overdue", cfg.Reminders.Interval, resync); err != nil {
			return err
		}
		_, err := scheduler.ScheduleDaily("overdue-digest", cfg.Reminders.DigestTime, remind)
		return err
	}
	_, err := scheduler.ScheduleInterval("overdue-reminders", cfg.Reminders.Interval, remind)
	return err
}
