package notification

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// template names, matching the files under templates/email
const (
	tmplWelcome            = "welcome"
	tmplPlanning           = "planning"
	tmplEducational        = "educational"
	tmplNotification       = "notification"
	tmplInstructorApproval = "instructor_approval"
	tmplTest               = "test"
)

// selectTemplate picks the broadcast template for n.
// mission notifications and planning content use the planning template, educational content the educational one.
func selectTemplate(n Notification, ct ContentType) string {
	switch {
	case n.Category == CategoryMission || ct == ContentPlanning:
		return tmplPlanning
	case ct == ContentEducational:
		return tmplEducational
	default:
		return tmplNotification
	}
}

func (svc *service) Broadcast(ctx context.Context, n Notification, ct ContentType, extra ExtraData) (int, error) {
	start := time.Now()
	tmplName := selectTemplate(n, ct)
	defer func() {
		broadcastDuration.WithLabelValues(tmplName).Observe(time.Since(start).Seconds())
	}()

	subs, err := svc.subRepo.ListActiveSubscriptions(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "listing active subscriptions")
	}

	var (
		wg   sync.WaitGroup
		sent int64
	)
	for _, sub := range subs {
		// planning & educational emails go out regardless of category preferences
		if tmplName == tmplNotification && !sub.Preferences.Allows(n.Category) {
			broadcastSkipped.WithLabelValues(string(n.Category)).Inc()
			continue
		}

		msg := newBroadcastMessage(tmplName, n, extra, sub)
		wg.Add(1)
		go func(sub Subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					svc.logger.Error(fmt.Sprintf("emailing notification %d to %s panicked: %v", n.ID, sub.Email, r))
				}
			}()

			if _, err := svc.mailSvc.Send(ctx, msg); err != nil {
				svc.logger.Error(
					fmt.Sprintf("emailing notification %d to %s: %v", n.ID, sub.Email, err),
					err, map[string]interface{}{"notification_id": n.ID, "subscription_id": sub.ID},
				)
				return
			}
			atomic.AddInt64(&sent, 1)
		}(sub)
	}
	wg.Wait()

	return int(atomic.LoadInt64(&sent)), nil
}
