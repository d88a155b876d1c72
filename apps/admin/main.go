package main

import (
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/astroacademy/backend/core"
	"github.com/astroacademy/backend/core/notification"
	"github.com/astroacademy/backend/fs"
	"github.com/astroacademy/backend/services/email"
	"github.com/astroacademy/backend/services/logger"
	"github.com/astroacademy/backend/storage/database"
	"github.com/astroacademy/backend/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()
	svcLogger := logsvc.NewRollbarLogger(logger, conf)
	svcLogger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()

	// set up services
	validate := validator.New()
	translator, _ := ut.New(en.New()).GetTranslator("en")
	core.InitValidators(validate, translator)
	notification.InitValidators(validate, translator)

	errAndDie(core.ParseEmailTemplates(conf, appfs.FS))

	// no realtime clients are reachable from here: nothing to publish to
	notifSvc := notification.NewService(
		sqlxrepos.NewNotificationRepository(db),
		sqlxrepos.NewSubscriptionRepository(db),
		emailsvc.NewService(conf, svcLogger),
		nil, /* publisher */
		validate,
		svcLogger,
	)

	// start CLI
	cli := commandLine{
		db:       db.DB,
		notifSvc: notifSvc,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		_ = db.Close()
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
