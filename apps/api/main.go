package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/astroacademy/backend/apps/api/echo"
	"github.com/astroacademy/backend/core"
	"github.com/astroacademy/backend/core/notification"
	"github.com/astroacademy/backend/fs"
	"github.com/astroacademy/backend/services/email"
	"github.com/astroacademy/backend/services/logger"
	"github.com/astroacademy/backend/services/realtime"
	"github.com/astroacademy/backend/storage/database"
	"github.com/astroacademy/backend/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	rtLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "RT : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	rtLogger.Enable(!conf.Debug)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()

	// set up realtime
	ctx, stopRealtime := context.WithCancel(context.Background())
	defer stopRealtime()

	hubOpts := []realtime.Option{realtime.WithAllowedOrigins(conf.Server.AllowedOrigins)}
	if conf.Redis.URL != "" {
		broker, err := realtime.NewRedisBroker(conf, rtLogger)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up redis broker: %v", err), err)
		}
		if err = broker.Ping(ctx); err != nil {
			logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
		}
		defer func() {
			if err := broker.Close(); err != nil {
				rtLogger.Error(fmt.Sprintf("closing redis broker: %v", err), err)
			}
		}()
		hubOpts = append(hubOpts, realtime.WithBroker(broker))
	}
	hub := realtime.NewHub(rtLogger, hubOpts...)
	defer hub.Close()

	go func() {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			rtLogger.Error(fmt.Sprintf("realtime hub stopped: %v", err), err)
		}
	}()

	// set up services
	mailSvc := emailsvc.NewService(conf, logger)

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	notification.InitValidators(validate, translator)

	notifSvc := notification.NewService(
		sqlxrepos.NewNotificationRepository(db),
		sqlxrepos.NewSubscriptionRepository(db),
		mailSvc,
		hub,
		validate,
		logger,
	)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	if err = core.ParseEmailTemplates(conf, appfs.FS); err != nil {
		logger.Fatal(fmt.Sprintf("parsing email templates: %v", err), err)
	}

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - Prometheus metrics.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.Publish("realtime_clients", expvar.Func(func() interface{} { return hub.ClientCount() }))

	http.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:            conf,
			Logger:          logger,
			NotificationSvc: notifSvc,
			Realtime:        hub,
			Validate:        validate,
			Translator:      translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
