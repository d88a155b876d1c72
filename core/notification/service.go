package notification

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/astroacademy/backend/core"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100

	// EventNewNotification is emitted to every realtime client after a notification is stored.
	EventNewNotification = "new_notification"
)

var (
	NowFunc      = time.Now // mockable
	newTokenFunc = newToken // mockable

	errNotConfigured = errors.New("email transport not configured")
)

type (
	Repository interface {
		CreateNotification(ctx context.Context, n Notification) (Notification, error)
		GetNotificationByID(ctx context.Context, id int) (Notification, error)
		// ListNotifications returns notifications addressed to filter.UserID or to everyone, newest first.
		// Without a UserID only broadcast notifications are returned.
		ListNotifications(ctx context.Context, filter QueryFilter) ([]Notification, error)
		// CountUnread uses the same recipient scope as ListNotifications, ignoring type and limit.
		CountUnread(ctx context.Context, userID *int) (int, error)
		// MarkRead returns the number of notifications that exist among ids.
		MarkRead(ctx context.Context, ids []int) (int, error)
	}

	SubscriptionRepository interface {
		// UpsertSubscription inserts sub, or overwrites the preferences and token of the row with the same email
		// and reactivates it.
		UpsertSubscription(ctx context.Context, sub Subscription) (Subscription, error)
		GetSubscriptionByToken(ctx context.Context, token string) (Subscription, error)
		DeactivateSubscriptionByToken(ctx context.Context, token string) (Subscription, error)
		DeactivateSubscriptionByEmail(ctx context.Context, email string) (Subscription, error)
		UpdateSubscriptionPreferences(ctx context.Context, token string, prefs Preferences) (Subscription, error)
		ListActiveSubscriptions(ctx context.Context) ([]Subscription, error)
	}

	// Publisher fans realtime events out to every connected client.
	Publisher interface {
		Emit(event string, data interface{}) error
	}

	Service interface {
		Create(ctx context.Context, nn NewNotification) (Notification, error)
		GetByID(ctx context.Context, id int) (Notification, error)
		List(ctx context.Context, filter QueryFilter) (ListResult, error)
		MarkRead(ctx context.Context, ids []int) (int, error)
		// Send stores the notification, emits it to realtime clients and starts its email broadcast
		// without waiting for it.
		Send(ctx context.Context, req SendRequest) (Notification, error)
		// Broadcast emails n to every active subscriber and returns the number of sends that succeeded.
		Broadcast(ctx context.Context, n Notification, ct ContentType, extra ExtraData) (int, error)

		Subscribe(ctx context.Context, req SubscribeRequest) (Subscription, error)
		Unsubscribe(ctx context.Context, req UnsubscribeRequest) (Subscription, error)
		GetSubscription(ctx context.Context, token string) (Subscription, error)
		UpdatePreferences(ctx context.Context, req UpdatePreferencesRequest) (Subscription, error)

		SendTestEmail(ctx context.Context, email string) (string, error)
	}

	service struct {
		repo      Repository
		subRepo   SubscriptionRepository
		mailSvc   core.EmailService
		publisher Publisher
		validate  *validator.Validate
		logger    core.Logger
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(
	repo Repository,
	subRepo SubscriptionRepository,
	mailSvc core.EmailService,
	publisher Publisher,
	validate *validator.Validate,
	logger core.Logger,
) Service {
	return &service{
		repo:      repo,
		subRepo:   subRepo,
		mailSvc:   mailSvc,
		publisher: publisher,
		validate:  validate,
		logger:    logger,
	}
}

func (svc *service) Create(ctx context.Context, nn NewNotification) (Notification, error) {
	if err := nn.Validate(svc.validate); err != nil {
		return Notification{}, err
	}
	n := Notification{
		UserID:    nn.UserID,
		Type:      nn.Type,
		Category:  nn.Category,
		Title:     nn.Title,
		Message:   nn.Message,
		Link:      nn.Link,
		CreatedAt: NowFunc().UTC(),
	}
	n, err := svc.repo.CreateNotification(ctx, n)
	if err != nil {
		return Notification{}, errors.Wrap(err, "creating notification")
	}
	notificationsCreated.WithLabelValues(string(n.Type), string(n.Category)).Inc()
	return n, nil
}

func (svc *service) GetByID(ctx context.Context, id int) (Notification, error) {
	return svc.repo.GetNotificationByID(ctx, id)
}

func (svc *service) List(ctx context.Context, filter QueryFilter) (ListResult, error) {
	filter.Clean()
	notifs, err := svc.repo.ListNotifications(ctx, filter)
	if err != nil {
		return ListResult{}, errors.Wrap(err, "listing notifications")
	}
	unread, err := svc.repo.CountUnread(ctx, filter.UserID)
	if err != nil {
		return ListResult{}, errors.Wrap(err, "counting unread notifications")
	}
	if notifs == nil {
		notifs = make([]Notification, 0)
	}
	return ListResult{Notifications: notifs, UnreadCount: unread, Total: len(notifs)}, nil
}

func (svc *service) MarkRead(ctx context.Context, ids []int) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	updated, err := svc.repo.MarkRead(ctx, ids)
	if err != nil {
		return 0, errors.Wrap(err, "marking notifications read")
	}
	return updated, nil
}

// createAndPublish stores the notification then emits it. Emit failures are logged: the notification exists.
func (svc *service) createAndPublish(ctx context.Context, req SendRequest) (Notification, error) {
	if err := req.Validate(svc.validate); err != nil {
		return Notification{}, err
	}
	n, err := svc.Create(ctx, req.NewNotification)
	if err != nil {
		return Notification{}, err
	}
	if svc.publisher != nil {
		if err = svc.publisher.Emit(EventNewNotification, Event{Notification: n, ContentType: req.ContentType}); err != nil {
			svc.logger.Error(fmt.Sprintf("emitting %s: %v", EventNewNotification, err), err)
		}
	}
	return n, nil
}

func (svc *service) Send(ctx context.Context, req SendRequest) (Notification, error) {
	n, err := svc.createAndPublish(ctx, req)
	if err != nil {
		return Notification{}, err
	}
	// the request context ends with the response; the broadcast must outlive it
	go svc.broadcastDetached(n, req.ContentType, req.ExtraData)
	return n, nil
}

func (svc *service) broadcastDetached(n Notification, ct ContentType, extra ExtraData) {
	defer func() {
		if r := recover(); r != nil {
			svc.logger.Error(fmt.Sprintf("broadcast of notification %d panicked: %v", n.ID, r))
		}
	}()
	sent, err := svc.Broadcast(context.Background(), n, ct, extra)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("broadcasting notification %d: %v", n.ID, err), err)
		return
	}
	svc.logger.Info(fmt.Sprintf("notification %d emailed to %d subscriber(s)", n.ID, sent))
}

func (svc *service) Subscribe(ctx context.Context, req SubscribeRequest) (Subscription, error) {
	if err := req.Validate(svc.validate); err != nil {
		return Subscription{}, err
	}
	token, err := newTokenFunc()
	if err != nil {
		return Subscription{}, errors.Wrap(err, "generating unsubscribe token")
	}
	sub, err := svc.subRepo.UpsertSubscription(ctx, Subscription{
		Email:            req.Email,
		Preferences:      req.Preferences,
		IsActive:         true,
		UnsubscribeToken: token,
		CreatedAt:        NowFunc().UTC(),
	})
	if err != nil {
		return Subscription{}, errors.Wrap(err, "upserting subscription")
	}
	svc.mailSvc.SendMessages(newWelcomeMessage(sub))
	return sub, nil
}

func (svc *service) Unsubscribe(ctx context.Context, req UnsubscribeRequest) (Subscription, error) {
	if err := req.Validate(svc.validate); err != nil {
		return Subscription{}, err
	}
	if req.Token != "" {
		return svc.subRepo.DeactivateSubscriptionByToken(ctx, req.Token)
	}
	return svc.subRepo.DeactivateSubscriptionByEmail(ctx, req.Email)
}

func (svc *service) GetSubscription(ctx context.Context, token string) (Subscription, error) {
	token = core.CleanString(token)
	if token == "" {
		return Subscription{}, core.NewValidationError(nil, core.FieldError{Field: "token", Error: "this field is required"})
	}
	return svc.subRepo.GetSubscriptionByToken(ctx, token)
}

func (svc *service) UpdatePreferences(ctx context.Context, req UpdatePreferencesRequest) (Subscription, error) {
	if err := req.Validate(svc.validate); err != nil {
		return Subscription{}, err
	}
	return svc.subRepo.UpdateSubscriptionPreferences(ctx, req.Token, req.Preferences)
}

func (svc *service) SendTestEmail(ctx context.Context, email string) (string, error) {
	email = core.CleanString(email, true /* lower */)
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", core.NewValidationError(nil, core.FieldError{Field: "email", Error: "enter a valid email address"})
	}
	if !svc.mailSvc.Configured() {
		return "", core.NewTransportError(errNotConfigured)
	}
	id, err := svc.mailSvc.Send(ctx, newTestMessage(*addr))
	if err != nil {
		if core.IsTransportError(err) {
			return "", err
		}
		return "", core.NewTransportError(err)
	}
	return id, nil
}
