package notification_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroacademy/backend/core"
	"github.com/astroacademy/backend/core/notification"
	"github.com/astroacademy/backend/fs"
	"github.com/astroacademy/backend/services/email"
	"github.com/astroacademy/backend/storage/database/dummy"
	"github.com/astroacademy/backend/tests"
)

// fakeMailer records sends. Sends to addresses in fail return a TransportError,
// sends to addresses in block wait until the channel is closed.
type fakeMailer struct {
	mu         sync.Mutex
	sent       []*core.EmailMessage
	fail       map[string]bool
	block      map[string]chan struct{}
	configured bool
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{fail: make(map[string]bool), block: make(map[string]chan struct{}), configured: true}
}

func (m *fakeMailer) Configured() bool { return m.configured }

func (m *fakeMailer) Send(ctx context.Context, msg *core.EmailMessage) (string, error) {
	addr := msg.To[0].Address
	if ch, ok := m.block[addr]; ok {
		select {
		case <-ch:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.fail[addr] {
		return "", core.NewTransportError(errors.New("550 mailbox unavailable"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return "<id@astro.test>", nil
}

func (m *fakeMailer) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		_, _ = m.Send(context.Background(), msg)
	}
}

// sentTo returns the messages delivered to addr, optionally only those using tmplName.
func (m *fakeMailer) sentTo(addr string, tmplName ...string) []*core.EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var msgs []*core.EmailMessage
	for _, msg := range m.sent {
		if msg.To[0].Address != addr {
			continue
		}
		if len(tmplName) > 0 && msg.TemplateName != tmplName[0] {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

type fakePublisher struct {
	mu     sync.Mutex
	events []notification.Event
	err    error
}

func (p *fakePublisher) Emit(event string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event == notification.EventNewNotification {
		p.events = append(p.events, data.(notification.Event))
	}
	return p.err
}

func (p *fakePublisher) emitted() []notification.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notification.Event(nil), p.events...)
}

type fixture struct {
	svc       notification.Service
	repo      notification.Repository
	subRepo   notification.SubscriptionRepository
	mailer    *fakeMailer
	publisher *fakePublisher
	logs      testutil.LogOutput
}

func setup(t *testing.T) fixture {
	db := dummydb.Open()
	logger, logs := testutil.NewLogger()
	validate, _ := testutil.NewValidator()
	f := fixture{
		repo:      dummydb.NewNotificationRepository(db),
		subRepo:   dummydb.NewSubscriptionRepository(db),
		mailer:    newFakeMailer(),
		publisher: &fakePublisher{},
		logs:      logs,
	}
	f.svc = notification.NewService(f.repo, f.subRepo, f.mailer, f.publisher, validate, logger)
	return f
}

func isValidationError(err error) bool {
	if _, ok := errors.Cause(err).(validator.ValidationErrors); ok {
		return true
	}
	_, ok := errors.Cause(err).(*core.ValidationError)
	return ok
}

func TestService_Create(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for _, typ := range notification.Types {
		for _, cat := range notification.Categories {
			n, err := f.svc.Create(ctx, notification.NewNotification{
				Type: typ, Category: cat, Title: string(typ) + " " + string(cat), Message: "details",
			})
			require.NoError(t, err)
			assert.NotZero(t, n.ID)
			assert.False(t, n.CreatedAt.IsZero())
		}
	}

	res, err := f.svc.List(ctx, notification.QueryFilter{Limit: notification.MaxListLimit})
	require.NoError(t, err)
	require.Equal(t, len(notification.Types)*len(notification.Categories), res.Total)
	assert.Equal(t, res.Total, res.UnreadCount)

	seen := make(map[string]bool)
	for _, n := range res.Notifications {
		assert.Equal(t, string(n.Type)+" "+string(n.Category), n.Title)
		assert.Equal(t, "details", n.Message)
		assert.True(t, n.IsBroadcast())
		seen[n.Title] = true
	}
	assert.Len(t, seen, res.Total)
}

func TestService_CreateInvalid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, notification.NewNotification{
		Type: notification.TypeInfo, Category: notification.CategorySolar, Message: "no title",
	})
	require.Error(t, err)
	assert.True(t, isValidationError(err))

	res, err := f.svc.List(ctx, notification.QueryFilter{})
	require.NoError(t, err)
	assert.Empty(t, res.Notifications)
	assert.Zero(t, res.UnreadCount)
}

func TestService_ListAndMarkRead(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	uid := 42
	other := 7

	now := time.Now()
	n1 := testutil.CreateNotification(t, f.repo, nil, notification.TypeInfo, notification.CategorySolar, "old", now.Add(-time.Hour))
	n2 := testutil.CreateNotification(t, f.repo, &uid, notification.TypeUrgent, notification.CategoryMission, "mine", now)
	_ = testutil.CreateNotification(t, f.repo, &other, notification.TypeInfo, notification.CategoryWeather, "not mine", now)

	res, err := f.svc.List(ctx, notification.QueryFilter{UserID: &uid})
	require.NoError(t, err)
	require.Len(t, res.Notifications, 2)
	assert.Equal(t, n2.ID, res.Notifications[0].ID)
	assert.Equal(t, n1.ID, res.Notifications[1].ID)
	assert.Equal(t, 2, res.UnreadCount)

	res, err = f.svc.List(ctx, notification.QueryFilter{UserID: &uid, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 2, res.UnreadCount, "unread count ignores the limit")

	updated, err := f.svc.MarkRead(ctx, []int{n1.ID, 9999})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	updated, err = f.svc.MarkRead(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, updated)

	res, err = f.svc.List(ctx, notification.QueryFilter{UserID: &uid})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UnreadCount)

	got, err := f.svc.GetByID(ctx, n1.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)

	_, err = f.svc.GetByID(ctx, 9999)
	assert.True(t, core.IsNotFound(err))
}

func TestService_Subscribe(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.Subscribe(ctx, notification.SubscribeRequest{
		Email: "a@b.com", Preferences: notification.Preferences{notification.CategorySolar: true},
	})
	require.NoError(t, err)
	assert.Len(t, first.UnsubscribeToken, 64)

	second, err := f.svc.Subscribe(ctx, notification.SubscribeRequest{
		Email: " A@B.com ", Preferences: notification.Preferences{notification.CategorySolar: false},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.IsActive)
	assert.False(t, second.Preferences[notification.CategorySolar])
	assert.NotEqual(t, first.UnsubscribeToken, second.UnsubscribeToken, "token rotates on every subscribe")

	active, err := f.subRepo.ListActiveSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a@b.com", active[0].Email)

	_, err = f.svc.GetSubscription(ctx, first.UnsubscribeToken)
	assert.True(t, core.IsNotFound(err), "previous token no longer resolves")

	welcomes := f.mailer.sentTo("a@b.com", "welcome")
	require.Len(t, welcomes, 2)
	assert.Equal(t, second.UnsubscribeToken, welcomes[1].UnsubscribeToken)

	_, err = f.svc.Subscribe(ctx, notification.SubscribeRequest{Email: "nope"})
	assert.True(t, isValidationError(err))

	_, err = f.svc.Subscribe(ctx, notification.SubscribeRequest{
		Email: "c@d.com", Preferences: notification.Preferences{notification.CategoryGeneral: false},
	})
	assert.True(t, isValidationError(err), "general cannot be opted out of")
	assert.Empty(t, f.mailer.sentTo("c@d.com"))
}

func broadcastSeconds(t *testing.T, tmplName string) float64 {
	m := &dto.Metric{}
	obs := notification.BroadcastDuration.WithLabelValues(tmplName)
	require.NoError(t, obs.(prometheus.Metric).Write(m))
	return m.GetHistogram().GetSampleSum()
}

func TestService_BroadcastDurationIgnoresClockOverride(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	origNow := notification.NowFunc
	notification.NowFunc = func() time.Time { return time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { notification.NowFunc = origNow })

	testutil.CreateSubscription(t, f.subRepo, "ada@astro.test", nil, "tok", true)
	n := testutil.CreateNotification(t, f.repo, nil, notification.TypeInfo, notification.CategoryWeather, "Clear skies")

	before := broadcastSeconds(t, "notification")
	sent, err := f.svc.Broadcast(ctx, n, "", notification.ExtraData{})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Less(t, broadcastSeconds(t, "notification")-before, 60.0, "duration is measured on the wall clock")
}

func TestService_UnsubscribedNotEmailed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	gone := testutil.CreateSubscription(t, f.subRepo, "gone@astro.test", nil, "tok-gone", true)
	testutil.CreateSubscription(t, f.subRepo, "stays@astro.test", nil, "tok-stays", true)

	sub, err := f.svc.Unsubscribe(ctx, notification.UnsubscribeRequest{Token: gone.UnsubscribeToken})
	require.NoError(t, err)
	assert.False(t, sub.IsActive)

	n := testutil.CreateNotification(t, f.repo, nil, notification.TypeInfo, notification.CategorySolar, "Flare")
	sent, err := f.svc.Broadcast(ctx, n, "", notification.ExtraData{})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Empty(t, f.mailer.sentTo("gone@astro.test"))
	assert.Len(t, f.mailer.sentTo("stays@astro.test"), 1)

	// by email, and unknown ones
	_, err = f.svc.Unsubscribe(ctx, notification.UnsubscribeRequest{Email: "STAYS@astro.test"})
	require.NoError(t, err)
	_, err = f.svc.Unsubscribe(ctx, notification.UnsubscribeRequest{Token: "unknown"})
	assert.True(t, core.IsNotFound(err))
	_, err = f.svc.Unsubscribe(ctx, notification.UnsubscribeRequest{})
	assert.True(t, isValidationError(err))
}

func TestService_BroadcastPreferences(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	testutil.CreateSubscription(t, f.subRepo, "optout@astro.test", notification.Preferences{notification.CategorySolar: false}, "t1", true)
	testutil.CreateSubscription(t, f.subRepo, "nokey@astro.test", notification.Preferences{notification.CategoryWeather: true}, "t2", true)
	testutil.CreateSubscription(t, f.subRepo, "optin@astro.test", notification.Preferences{notification.CategorySolar: true}, "t3", true)

	tests := []struct {
		name      string
		category  notification.Category
		ct        notification.ContentType
		wantSent  int
		wantTmpl  string
		wantOptOK bool // whether optout@ gets it
	}{
		{name: "solar respects preference", category: notification.CategorySolar, wantSent: 2, wantTmpl: "notification"},
		{name: "general has no preference", category: notification.CategoryGeneral, wantSent: 3, wantTmpl: "notification", wantOptOK: true},
		{name: "mission bypasses preferences", category: notification.CategoryMission, wantSent: 3, wantTmpl: "planning", wantOptOK: true},
		{
			name: "educational content bypasses preferences", category: notification.CategorySolar, ct: notification.ContentEducational,
			wantSent: 3, wantTmpl: "educational", wantOptOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.mailer.mu.Lock()
			f.mailer.sent = nil
			f.mailer.mu.Unlock()

			n := testutil.CreateNotification(t, f.repo, nil, notification.TypeInfo, tt.category, tt.name)
			sent, err := f.svc.Broadcast(ctx, n, tt.ct, notification.ExtraData{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSent, sent)

			assert.Len(t, f.mailer.sentTo("nokey@astro.test", tt.wantTmpl), 1)
			assert.Len(t, f.mailer.sentTo("optin@astro.test", tt.wantTmpl), 1)
			if tt.wantOptOK {
				assert.Len(t, f.mailer.sentTo("optout@astro.test", tt.wantTmpl), 1)
			} else {
				assert.Empty(t, f.mailer.sentTo("optout@astro.test"))
			}
		})
	}
}

func TestService_BroadcastFailureIsolated(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	testutil.CreateSubscription(t, f.subRepo, "broken@astro.test", nil, "t1", true)
	testutil.CreateSubscription(t, f.subRepo, "fine@astro.test", nil, "t2", true)
	f.mailer.fail["broken@astro.test"] = true

	n := testutil.CreateNotification(t, f.repo, nil, notification.TypeWarning, notification.CategoryWeather, "Storm")
	sent, err := f.svc.Broadcast(ctx, n, "", notification.ExtraData{})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Len(t, f.mailer.sentTo("fine@astro.test"), 1)
	assert.Contains(t, f.logs.String(), "broken@astro.test")
}

func TestService_ConcurrentSends(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	testutil.CreateSubscription(t, f.subRepo, "slow@astro.test", nil, "t1", true)
	testutil.CreateSubscription(t, f.subRepo, "broken@astro.test", nil, "t2", true)
	testutil.CreateSubscription(t, f.subRepo, "fine@astro.test", nil, "t3", true)
	release := make(chan struct{})
	f.mailer.block["slow@astro.test"] = release
	f.mailer.fail["broken@astro.test"] = true

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		notes []notification.Notification
	)
	for _, title := range []string{"Batch A", "Batch B"} {
		wg.Add(1)
		go func(title string) {
			defer wg.Done()
			n, err := f.svc.Send(ctx, notification.SendRequest{NewNotification: notification.NewNotification{
				Type: notification.TypeUrgent, Category: notification.CategorySatellite, Title: title, Message: "m",
			}})
			assert.NoError(t, err)
			mu.Lock()
			notes = append(notes, n)
			mu.Unlock()
		}(title)
	}
	// Send returns without waiting for the broadcast, even though one subscriber is stuck
	wg.Wait()
	require.Len(t, notes, 2)
	assert.NotEqual(t, notes[0].ID, notes[1].ID)

	events := f.publisher.emitted()
	require.Len(t, events, 2)
	assert.ElementsMatch(t, []int{notes[0].ID, notes[1].ID}, []int{events[0].ID, events[1].ID})

	// both batches reach the healthy subscriber while the slow one is still pending
	require.Eventually(t, func() bool {
		return len(f.mailer.sentTo("fine@astro.test")) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.mailer.sentTo("slow@astro.test"))

	close(release)
	require.Eventually(t, func() bool {
		return len(f.mailer.sentTo("slow@astro.test")) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.mailer.sentTo("broken@astro.test"))
}

func TestService_SendEmitFailure(t *testing.T) {
	f := setup(t)
	f.publisher.err = errors.New("broker down")

	n, err := f.svc.Send(context.Background(), notification.SendRequest{
		NewNotification: notification.NewNotification{
			Type: notification.TypeInfo, Category: notification.CategoryGeneral, Title: "Hello", Message: "m",
		},
	})
	require.NoError(t, err, "the notification is stored even if realtime emission fails")

	got, err := f.svc.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Title)
	assert.Contains(t, f.logs.String(), "broker down")
}

func TestService_Preferences(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.CreateSubscription(t, f.subRepo, "ada@astro.test", nil, "tok", true)

	tests := []struct {
		name    string
		req     notification.UpdatePreferencesRequest
		wantErr func(error) bool
	}{
		{
			name:    "unknown category",
			req:     notification.UpdatePreferencesRequest{Token: "tok", Preferences: notification.Preferences{"moon": true}},
			wantErr: isValidationError,
		},
		{
			name:    "general cannot be toggled",
			req:     notification.UpdatePreferencesRequest{Token: "tok", Preferences: notification.Preferences{notification.CategoryGeneral: false}},
			wantErr: isValidationError,
		},
		{
			name:    "unknown token",
			req:     notification.UpdatePreferencesRequest{Token: "nope", Preferences: notification.Preferences{notification.CategorySolar: false}},
			wantErr: core.IsNotFound,
		},
		{
			name: "ok",
			req:  notification.UpdatePreferencesRequest{Token: "tok", Preferences: notification.Preferences{notification.CategorySolar: false}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := f.svc.UpdatePreferences(ctx, tt.req)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, notification.Preferences{notification.CategorySolar: false}, sub.Preferences)
		})
	}

	sub, err := f.svc.GetSubscription(ctx, " tok ")
	require.NoError(t, err)
	assert.False(t, sub.Preferences.Allows(notification.CategorySolar))

	_, err = f.svc.GetSubscription(ctx, "")
	assert.True(t, isValidationError(err))
}

func TestService_SendTestEmail(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.SendTestEmail(ctx, "not an email")
	assert.True(t, isValidationError(err))

	id, err := f.svc.SendTestEmail(ctx, "Ada@Astro.test")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, f.mailer.sentTo("ada@astro.test", "test"), 1)

	f.mailer.fail["bob@astro.test"] = true
	_, err = f.svc.SendTestEmail(ctx, "bob@astro.test")
	assert.True(t, core.IsTransportError(err))

	f.mailer.configured = false
	_, err = f.svc.SendTestEmail(ctx, "ada@astro.test")
	assert.True(t, core.IsTransportError(err))
}

func TestServiceMock_SendRendersEmails(t *testing.T) {
	conf := testutil.NewConfig()
	logger, _ := testutil.NewLogger()
	validate, _ := testutil.NewValidator()
	require.NoError(t, core.ParseEmailTemplates(conf, appfs.FS))
	emailsvc.ClearSentMessages()

	db := dummydb.Open()
	subRepo := dummydb.NewSubscriptionRepository(db)
	testutil.CreateSubscription(t, subRepo, "ada@astro.test", nil, "tok-ada", true)

	publisher := &fakePublisher{}
	svc := notification.NewServiceMock(
		dummydb.NewNotificationRepository(db), subRepo, emailsvc.NewConsoleServiceMock(conf, logger), publisher, validate, logger,
	)

	_, err := svc.Send(context.Background(), notification.SendRequest{
		NewNotification: notification.NewNotification{
			Type: notification.TypeInfo, Category: notification.CategoryMission, Title: "Artemis", Message: "Go for launch",
		},
		ExtraData: notification.ExtraData{Summary: "Lunar flyby"},
	})
	require.NoError(t, err)

	sent := emailsvc.GetSentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Mission planning: Artemis", sent[0].Subject)
	assert.Contains(t, sent[0].HTMLContent, "Lunar flyby")
	assert.Contains(t, sent[0].HTMLContent, "https://astro.test/unsubscribe?token=tok-ada")
	assert.False(t, strings.Contains(sent[0].HTMLContent, "{{"))
	assert.Len(t, publisher.emitted(), 1)
}
