package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mejaku/backend/internal/cache"
	"mejaku/backend/internal/config"
	"mejaku/backend/internal/httpapi"
	"mejaku/backend/internal/notify"
	"mejaku/backend/internal/service"
	"mejaku/backend/internal/store"
	"mejaku/backend/internal/store/memory"
	pgstore "mejaku/backend/internal/store/postgres"
)

func main() {
	initLogger()
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Msg("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info().Msg("repository: in-memory")
	}

	menuCache := cache.MenuCache(cache.NoopMenuCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisMenuCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop menu cache")
		} else {
			menuCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Msg("menu cache: redis")
		}
	} else {
		log.Info().Msg("menu cache: noop")
	}

	dispatcher := notify.NewDispatcher()
	unregister := dispatcher.Register(broadcastHandler(cfg))
	defer unregister()

	svc := service.New(
		repo,
		menuCache,
		dispatcher,
		time.Duration(cfg.MenuCacheSeconds)*time.Second,
		time.Duration(cfg.OrderEditSeconds)*time.Second,
	)
	auth := httpapi.NewAuthManager(repo, time.Duration(cfg.SessionTTLHours)*time.Hour)
	api := httpapi.New(svc, auth, repo, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("restaurant backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

func initLogger() {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("LOG_FORMAT") != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// broadcastHandler forwards published events to the configured SMS and
// email targets. With no credentials configured both senders degrade to
// log-only delivery.
func broadcastHandler(cfg config.Config) func(notify.Event) {
	var sms notify.SMSSender = notify.LogSender{}
	if sender, err := notify.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber); err == nil {
		sms = sender
		log.Info().Msg("sms sender: twilio")
	}

	var email notify.EmailSender = notify.LogSender{}
	if sender, err := notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword); err == nil {
		email = sender
		log.Info().Msg("email sender: smtp")
	}

	return func(event notify.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		message := fmt.Sprintf("[%s] %s: %s", event.Kind, event.Subject, event.Body)
		if cfg.BroadcastSMSTo != "" {
			if _, err := sms.SendSMS(ctx, cfg.BroadcastSMSTo, message); err != nil {
				log.Warn().Err(err).Str("kind", event.Kind).Msg("sms broadcast failed")
			}
		}
		if cfg.BroadcastEmailTo != "" {
			if _, err := email.SendEmail(ctx, cfg.BroadcastEmailTo, event.Subject, event.Body); err != nil {
				log.Warn().Err(err).Str("kind", event.Kind).Msg("email broadcast failed")
			}
		}
	}
}
