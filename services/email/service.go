package emailsvc

import (
	"context"
	"fmt"

	"github.com/astroacademy/backend/core"
)

// NewService returns the email service selected by conf.Email.Service (console, sendgrid or smtp).
// A transport missing its sender or credentials is replaced by a no-op service that only logs.
func NewService(conf *core.Config, logger core.Logger) core.EmailService {
	var svc core.EmailService
	switch conf.Email.Service {
	case "console":
		svc = NewConsoleService(conf, logger)
	case "sendgrid":
		svc = NewSendgridService(conf, logger)
	default:
		svc = NewSMTPService(conf, logger)
	}
	if !svc.Configured() {
		logger.Warn(fmt.Sprintf("email transport %q not configured: emails will not be sent", conf.Email.Service))
		return NewUnconfiguredService(logger)
	}
	return svc
}

type unconfiguredService struct {
	logger core.Logger
}

var _ core.EmailService = (*unconfiguredService)(nil)

// NewUnconfiguredService drops every email with a warning.
func NewUnconfiguredService(logger core.Logger) core.EmailService {
	return &unconfiguredService{logger: logger}
}

func (svc unconfiguredService) Configured() bool { return false }

func (svc unconfiguredService) Send(_ context.Context, msg *core.EmailMessage) (string, error) {
	svc.logger.Warn(fmt.Sprintf("email transport not configured: skipping %q to %s", msg.Subject, msg.Recipients()))
	recordSend("none", msg.TemplateName, nil)
	return "", nil
}

func (svc unconfiguredService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		_, _ = svc.Send(context.Background(), msg)
	}
}
