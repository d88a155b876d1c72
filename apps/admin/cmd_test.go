package main

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"testing"

	"github.com/astroacademy/backend/core"
	"github.com/astroacademy/backend/core/notification"
	"github.com/astroacademy/backend/fs"
	"github.com/astroacademy/backend/services/email"
	"github.com/astroacademy/backend/storage/database/dummy"
	"github.com/astroacademy/backend/tests"
)

var (
	notifRepo notification.Repository
	subRepo   notification.SubscriptionRepository
)

func TestMain(m *testing.M) {
	logger = log.New(io.Discard, "ADMIN : ", 0)
	if err := core.ParseEmailTemplates(testutil.NewConfig(), appfs.FS); err != nil {
		logger.Fatalf("ParseEmailTemplates() failed: %v", err)
	}
	os.Exit(m.Run())
}

func setup(t *testing.T) *commandLine {
	db := dummydb.Open()
	notifRepo = dummydb.NewNotificationRepository(db)
	subRepo = dummydb.NewSubscriptionRepository(db)

	conf := testutil.NewConfig()
	svcLogger, _ := testutil.NewLogger()
	validate, _ := testutil.NewValidator()
	emailsvc.ClearSentMessages()

	return &commandLine{
		notifSvc: notification.NewServiceMock(
			notifRepo, subRepo, emailsvc.NewConsoleServiceMock(conf, svcLogger), nil, validate, svcLogger,
		),
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func checkErr(t *testing.T, tt cliTest, err error) {
	if err == nil {
		if tt.wantErr != nil || tt.wantErrStr != "" {
			t.Errorf("cli.run() error = nil, wantErr %v %s", tt.wantErr, tt.wantErrStr)
		}
		return
	}
	switch {
	case tt.wantErr != nil:
		if err != tt.wantErr {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
	case tt.wantErrStr != "":
		if err.Error() != tt.wantErrStr {
			t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
		}
	default:
		t.Errorf("cli.run() unexpected error = %v", err)
	}
}

func Test_commandLine_usage(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	origRunMigrations := runMigrationsFunc
	t.Cleanup(func() { runMigrationsFunc = origRunMigrations })

	runMigrationsFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "observatory", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}
}

func Test_commandLine_broadcast(t *testing.T) {
	cli := setup(t)

	n := testutil.CreateNotification(t, notifRepo, nil, notification.TypeInfo, notification.CategoryAsteroid, "Apophis flyby")
	testutil.CreateSubscription(t, subRepo, "ada@astro.test", nil, "tok-ada", true)
	testutil.CreateSubscription(t, subRepo, "bob@astro.test", notification.Preferences{notification.CategoryAsteroid: false}, "tok-bob", true)
	testutil.CreateSubscription(t, subRepo, "gone@astro.test", nil, "tok-gone", false)

	type extra struct {
		wantSent int
	}
	id := strconv.Itoa(n.ID)
	tests := []cliTest{
		{name: "no args", args: []string{"broadcast"}, wantErr: errHelp},
		{name: "bad content type", args: []string{"broadcast", "-id", id, "-content-type", "comic"}, wantErrStr: "\"comic\": unsupported content type"},
		{name: "unknown notification", args: []string{"broadcast", "-id", "999"}, wantErrStr: "notification not found"},
		{name: "generic", args: []string{"broadcast", "-id", id}, extra: extra{wantSent: 1}},
		// planning content bypasses the asteroid opt-out
		{name: "planning", args: []string{"broadcast", "-id", id, "-content-type", "planning"}, extra: extra{wantSent: 2}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ClearSentMessages()
			checkErr(t, tt, cli.run(args))

			want := 0
			if e, ok := tt.extra.(extra); ok {
				want = e.wantSent
			}
			if got := len(emailsvc.GetSentMessages()); got != want {
				t.Errorf("sent %d email(s), want %d", got, want)
			}
		})
	}
}

func Test_commandLine_testEmail(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no args", args: []string{"testemail"}, wantErr: errHelp},
		{name: "bad email", args: []string{"testemail", "-email", "nobody"}, wantErrStr: "email: enter a valid email address"},
		{name: "ok", args: []string{"testemail", "-email", "ada@astro.test"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}
}
