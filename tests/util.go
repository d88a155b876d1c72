package testutil

import (
	"bytes"
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/astroacademy/backend/core"
	"github.com/astroacademy/backend/core/notification"
	"github.com/astroacademy/backend/services/logger"
)

// syncBuffer lets the logger be shared by goroutines while a test reads what was written.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// LogOutput gives access to what a test logger printed.
type LogOutput interface {
	String() string
}

// NewLogger returns a logger that never reports to rollbar, plus its output.
func NewLogger() (core.Logger, LogOutput) {
	var out syncBuffer
	lgr := logsvc.NewRollbarLogger(log.New(&out, "TEST : ", 0), &core.Config{Env: "test", TestMode: true})
	lgr.Enable(false)
	return lgr, &out
}

func NewConfig() *core.Config {
	return &core.Config{
		AppName:         "AstroAcademy",
		Env:             "test",
		TestMode:        true,
		FrontendBaseURL: "https://astro.test",
		Email: core.EmailConfig{
			Service:     "console",
			FromName:    "AstroAcademy",
			FromAddress: "alerts@astro.test",
		},
	}
}

// NewValidator returns a validator with every custom tag and translation registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator, _ := ut.New(en.New()).GetTranslator("en")
	core.InitValidators(validate, translator)
	notification.InitValidators(validate, translator)
	return validate, translator
}

func CreateNotification(
	t *testing.T,
	repo notification.Repository,
	userID *int,
	typ notification.Type,
	category notification.Category,
	title string,
	createdAt ...time.Time,
) notification.Notification {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	n, err := repo.CreateNotification(context.Background(), notification.Notification{
		UserID:    userID,
		Type:      typ,
		Category:  category,
		Title:     title,
		Message:   title + " details",
		CreatedAt: tstamp,
	})
	if err != nil {
		t.Fatalf("CreateNotification() failed: %v", err)
	}
	return n
}

func CreateSubscription(
	t *testing.T,
	repo notification.SubscriptionRepository,
	email string,
	prefs notification.Preferences,
	token string,
	isActive bool,
) notification.Subscription {
	ctx := context.Background()
	if prefs == nil {
		prefs = notification.DefaultPreferences()
	}
	sub, err := repo.UpsertSubscription(ctx, notification.Subscription{
		Email:            email,
		Preferences:      prefs,
		UnsubscribeToken: token,
	})
	if err != nil {
		t.Fatalf("CreateSubscription() failed: %v", err)
	}
	if !isActive {
		if sub, err = repo.DeactivateSubscriptionByToken(ctx, token); err != nil {
			t.Fatalf("CreateSubscription() failed: %v", err)
		}
	}
	return sub
}
