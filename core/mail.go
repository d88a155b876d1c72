package core

import (
	"bytes"
	"context"
	"fmt"
	"html"
	htmltmpl "html/template"
	"io/fs"
	"net/mail"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Link placeholders substituted at send time, once the recipient's token is known.
const (
	UnsubscribeURLPlaceholder = "{{unsubscribe_url}}"
	PreferencesURLPlaceholder = "{{preferences_url}}"
)

var (
	templates tmplCache
	tmplMu    sync.RWMutex
	tmplCtx   templateContext

	emailTemplatesDir = "templates/email"

	ErrTemplatesNotParsed = errors.New("email templates not parsed")

	emailFuncs = htmltmpl.FuncMap{
		"upper": func(s interface{}) string {
			return strings.ToUpper(strings.TrimSpace(fmt.Sprint(s)))
		},
		"unsubscribeLink": func() htmltmpl.HTML {
			return htmltmpl.HTML(`<a href="` + UnsubscribeURLPlaceholder + `" style="color:#8a90a8;">Unsubscribe</a>`)
		},
		"preferencesLink": func() htmltmpl.HTML {
			return htmltmpl.HTML(`<a href="` + PreferencesURLPlaceholder + `" style="color:#8a90a8;">Manage preferences</a>`)
		},
	}
)

type (
	tmplCache map[string]*htmltmpl.Template // {name: *Template}

	templateContext struct {
		appName         string
		frontendBaseURL string
	}

	EmailMessage struct {
		To      []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TemplateName     string // without ext
		TemplateData     interface{}
		UnsubscribeToken string // recipient's token, used to build the link placeholders
		TextContent      string
		HTMLContent      string
	}

	ContextData struct {
		AppName         string
		FrontendBaseURL string
		Subscribed      bool
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// Configured reports whether a real transport backs the service.
		Configured() bool
		// Send renders and delivers msg synchronously and returns the transport's message id.
		Send(ctx context.Context, msg *EmailMessage) (string, error)
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

func (m *EmailMessage) getContextData() ContextData {
	return ContextData{
		AppName:         tmplCtx.appName,
		FrontendBaseURL: tmplCtx.frontendBaseURL,
		Subscribed:      m.UnsubscribeToken != "",
		Data:            m.TemplateData,
	}
}

func (m *EmailMessage) renderText() {
	if m.BodyStr != "" {
		m.TextContent = ReplaceLinkPlaceholders(m.BodyStr, tmplCtx.frontendBaseURL, m.UnsubscribeToken, false)
	}
}

func (m *EmailMessage) renderHTML() error {
	if m.TemplateName == "" {
		return nil
	}

	tmpl, ok := templates[m.TemplateName]
	if !ok {
		return errors.Errorf("email template %q not found", m.TemplateName)
	}

	var buff bytes.Buffer
	if err := tmpl.Execute(&buff, m.getContextData()); err != nil {
		return errors.Wrapf(err, "executing email template %q", m.TemplateName)
	}
	m.HTMLContent = ReplaceLinkPlaceholders(buff.String(), tmplCtx.frontendBaseURL, m.UnsubscribeToken, true)
	return nil
}

// Render fills TextContent and HTMLContent, with the link placeholders already substituted.
func (m *EmailMessage) Render() error {
	tmplMu.RLock()
	defer tmplMu.RUnlock()

	if m.TemplateName != "" && templates == nil {
		return ErrTemplatesNotParsed
	}
	m.renderText()
	return m.renderHTML()
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return (m.TextContent != "") || (m.HTMLContent != "") }

// Recipients returns the comma-separated list of To addresses.
func (m *EmailMessage) Recipients() string {
	addrs := make([]string, 0, len(m.To))
	for _, a := range m.To {
		addrs = append(addrs, a.String())
	}
	return strings.Join(addrs, ", ")
}

// UnsubscribeURL builds the public unsubscribe link for token.
func UnsubscribeURL(baseURL, token string) string {
	return linkURL(baseURL, "/unsubscribe", token)
}

// PreferencesURL builds the public preferences link for token.
func PreferencesURL(baseURL, token string) string {
	return linkURL(baseURL, "/preferences", token)
}

func linkURL(baseURL, p, token string) string {
	u := strings.TrimRight(baseURL, "/") + p
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// ReplaceLinkPlaceholders substitutes {{unsubscribe_url}} and {{preferences_url}} in content.
func ReplaceLinkPlaceholders(content, baseURL, token string, escapeHTML bool) string {
	unsubURL := UnsubscribeURL(baseURL, token)
	prefsURL := PreferencesURL(baseURL, token)
	if escapeHTML {
		unsubURL = html.EscapeString(unsubURL)
		prefsURL = html.EscapeString(prefsURL)
	}
	return strings.NewReplacer(
		UnsubscribeURLPlaceholder, unsubURL,
		PreferencesURLPlaceholder, prefsURL,
	).Replace(content)
}

// ParseEmailTemplates loads every email template under templates/email in fsys.
// Files prefixed with "_" are layouts and are parsed together with each template.
// On error the previously loaded templates are kept.
func ParseEmailTemplates(conf *Config, fsys fs.FS) error {
	fps, err := fs.Glob(fsys, path.Join(emailTemplatesDir, "*.gohtml"))
	if err != nil {
		return errors.Wrap(err, "listing email templates")
	}

	cache := make(tmplCache)
	base := path.Join(emailTemplatesDir, "_base.gohtml")
	for _, fp := range fps {
		fname := path.Base(fp)
		if strings.HasPrefix(fname, "_") {
			continue
		}
		name := strings.TrimSuffix(fname, path.Ext(fname))
		tmpl, err := htmltmpl.New(path.Base(base)).Funcs(emailFuncs).ParseFS(fsys, base, fp)
		if err != nil {
			return errors.Wrap(err, "parsing email template "+fname)
		}
		if conf.Debug || conf.TestMode {
			tmpl = tmpl.Option("missingkey=error")
		}
		cache[name] = tmpl
	}
	if len(cache) == 0 {
		return errors.Errorf("no email template found under %s", emailTemplatesDir)
	}

	tmplMu.Lock()
	defer tmplMu.Unlock()
	templates = cache
	tmplCtx = templateContext{appName: conf.AppName, frontendBaseURL: conf.FrontendBaseURL}
	return nil
}

// EmailTemplateNames lists the loaded email templates, in no particular order.
func EmailTemplateNames() []string {
	tmplMu.RLock()
	defer tmplMu.RUnlock()
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	return names
}
