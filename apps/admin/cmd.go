package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"

	"github.com/astroacademy/backend/core/notification"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db       *sql.DB
	notifSvc notification.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, create NAME sql, ...)")
	fmt.Println("  broadcast -id ID [-content-type planning|educational] - email a stored notification to every subscriber")
	fmt.Println("  testemail -email EMAIL - send a test email through the configured transport")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	broadcastCmd := flag.NewFlagSet("broadcast", flag.ContinueOnError)
	broadcastID := broadcastCmd.Int("id", 0, "The notification to broadcast.")
	broadcastContentType := broadcastCmd.String("content-type", "", "Email template hint: planning or educational.")

	testEmailCmd := flag.NewFlagSet("testemail", flag.ContinueOnError)
	testEmailAddr := testEmailCmd.String("email", "", "The recipient's address.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "broadcast":
		if err := broadcastCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *broadcastID <= 0 {
			broadcastCmd.Usage()
			return errHelp
		}
		return cli.broadcast(*broadcastID, notification.ContentType(*broadcastContentType))
	case "testemail":
		if err := testEmailCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *testEmailAddr == "" {
			testEmailCmd.Usage()
			return errHelp
		}
		return cli.testEmail(*testEmailAddr)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) broadcast(id int, ct notification.ContentType) error {
	switch ct {
	case "", notification.ContentPlanning, notification.ContentEducational: // pass
	default:
		return fmt.Errorf("%q: unsupported content type", ct)
	}

	ctx := context.Background()
	n, err := cli.notifSvc.GetByID(ctx, id)
	if err != nil {
		return err
	}
	sent, err := cli.notifSvc.Broadcast(ctx, n, ct, notification.ExtraData{})
	if err != nil {
		return err
	}
	logger.Printf("notification %d emailed to %d subscriber(s)", n.ID, sent)
	return nil
}

func (cli *commandLine) testEmail(email string) error {
	id, err := cli.notifSvc.SendTestEmail(context.Background(), email)
	if err != nil {
		return err
	}
	logger.Printf("test email sent to %s (message id %q)", email, id)
	return nil
}
