package emailsvc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"

	"github.com/pkg/errors"

	"github.com/astroacademy/backend/core"
)

// implicitTLSPort is the SMTPS port: the connection is TLS from the first byte.
const implicitTLSPort = 465

type smtpService struct {
	host       string
	port       int
	user       string
	password   string
	from       mail.Address
	subjPrefix string
	logger     core.Logger
}

var _ core.EmailService = (*smtpService)(nil)

func NewSMTPService(conf *core.Config, logger core.Logger) *smtpService {
	return &smtpService{
		host:       conf.Email.Host,
		port:       conf.Email.Port,
		user:       conf.Email.User,
		password:   conf.Email.Password,
		from:       conf.DefaultFromEmail(),
		subjPrefix: "[" + conf.AppName + "] ",
		logger:     logger,
	}
}

// Configured requires a sender identity and credentials.
func (svc smtpService) Configured() bool {
	return svc.host != "" && svc.user != "" && svc.password != "" && svc.from.Address != ""
}

func (svc smtpService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		go func() {
			if _, err := svc.Send(context.Background(), msg); err != nil {
				svc.logger.Error(fmt.Sprintf("sending email: %v", err), err)
			}
		}()
	}
}

func (svc smtpService) Send(ctx context.Context, msg *core.EmailMessage) (id string, err error) {
	defer func() { recordSend("smtp", msg.TemplateName, err) }()

	if err = msg.Render(); err != nil {
		return "", errors.Wrap(err, "rendering email")
	}
	if !(msg.HasRecipients() && msg.HasContent()) {
		return "", nil
	}

	id = newMessageID(svc.from)
	body, err := buildMIMEMessage(svc.from, svc.subjPrefix+msg.Subject, id, *msg)
	if err != nil {
		return "", err
	}
	if err = svc.deliver(ctx, msg.To, body); err != nil {
		return "", core.NewTransportError(err)
	}
	return id, nil
}

func (svc smtpService) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(svc.host, fmt.Sprint(svc.port))
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "dialing "+addr)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if svc.port == implicitTLSPort {
		conn = tls.Client(conn, &tls.Config{ServerName: svc.host})
	}

	c, err := smtp.NewClient(conn, svc.host)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "starting smtp session")
	}
	if svc.port != implicitTLSPort {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err = c.StartTLS(&tls.Config{ServerName: svc.host}); err != nil {
				_ = c.Close()
				return nil, errors.Wrap(err, "STARTTLS")
			}
		}
	}
	return c, nil
}

func (svc smtpService) deliver(ctx context.Context, to []mail.Address, body string) error {
	c, err := svc.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("AUTH"); ok {
		if err = c.Auth(smtp.PlainAuth("", svc.user, svc.password, svc.host)); err != nil {
			return errors.Wrap(err, "authenticating")
		}
	}
	if err = c.Mail(svc.from.Address); err != nil {
		return errors.Wrap(err, "MAIL FROM")
	}
	for _, addr := range to {
		if err = c.Rcpt(addr.Address); err != nil {
			return errors.Wrapf(err, "RCPT TO %s", addr.Address)
		}
	}

	w, err := c.Data()
	if err != nil {
		return errors.Wrap(err, "DATA")
	}
	if _, err = w.Write([]byte(body)); err != nil {
		return errors.Wrap(err, "writing message")
	}
	if err = w.Close(); err != nil {
		return errors.Wrap(err, "closing message")
	}
	return c.Quit()
}
