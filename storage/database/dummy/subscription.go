package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/astroacademy/backend/core"
	"github.com/astroacademy/backend/core/notification"
)

type subscriptionRepository struct {
	db *subscriptionTable
}

var _ notification.SubscriptionRepository = (*subscriptionRepository)(nil) // interface compliance check

func NewSubscriptionRepository(db *DB) notification.SubscriptionRepository {
	return &subscriptionRepository{db: db.subscription}
}

func copyPreferences(prefs notification.Preferences) notification.Preferences {
	cp := make(notification.Preferences, len(prefs))
	for k, v := range prefs {
		cp[k] = v
	}
	return cp
}

// snapshot copies sub so callers cannot mutate the stored row.
func snapshot(sub *notification.Subscription) notification.Subscription {
	cp := *sub
	cp.Preferences = copyPreferences(sub.Preferences)
	return cp
}

// find must be called with the lock held.
func (repo *subscriptionRepository) find(match func(sub *notification.Subscription) bool) *notification.Subscription {
	for _, sub := range repo.db.table {
		if match(sub) {
			return sub
		}
	}
	return nil
}

func (repo *subscriptionRepository) get(match func(sub *notification.Subscription) bool) (notification.Subscription, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sub := repo.find(match); sub != nil {
		return snapshot(sub), nil
	}
	return notification.Subscription{}, core.NewNotFoundError("subscription")
}

func (repo *subscriptionRepository) update(
	match func(sub *notification.Subscription) bool,
	apply func(sub *notification.Subscription),
) (notification.Subscription, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sub := repo.find(match)
	if sub == nil {
		return notification.Subscription{}, core.NewNotFoundError("subscription")
	}
	apply(sub)
	return snapshot(sub), nil
}

func byToken(token string) func(sub *notification.Subscription) bool {
	return func(sub *notification.Subscription) bool { return sub.UnsubscribeToken == token }
}

func (repo *subscriptionRepository) UpsertSubscription(_ context.Context, sub notification.Subscription) (notification.Subscription, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	prefs := copyPreferences(sub.Preferences)
	if existing := repo.find(func(s *notification.Subscription) bool { return s.Email == sub.Email }); existing != nil {
		existing.Preferences = prefs
		existing.IsActive = true
		existing.UnsubscribeToken = sub.UnsubscribeToken
		return snapshot(existing), nil
	}

	repo.db.pkCount++
	sub.ID = repo.db.pkCount
	sub.Preferences = prefs
	sub.IsActive = true
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	repo.db.table[sub.ID] = &sub
	return snapshot(&sub), nil
}

func (repo *subscriptionRepository) GetSubscriptionByToken(_ context.Context, token string) (notification.Subscription, error) {
	return repo.get(byToken(token))
}

func (repo *subscriptionRepository) DeactivateSubscriptionByToken(_ context.Context, token string) (notification.Subscription, error) {
	return repo.update(byToken(token), func(sub *notification.Subscription) { sub.IsActive = false })
}

func (repo *subscriptionRepository) DeactivateSubscriptionByEmail(_ context.Context, email string) (notification.Subscription, error) {
	return repo.update(
		func(sub *notification.Subscription) bool { return sub.Email == email },
		func(sub *notification.Subscription) { sub.IsActive = false },
	)
}

func (repo *subscriptionRepository) UpdateSubscriptionPreferences(
	_ context.Context,
	token string,
	prefs notification.Preferences,
) (notification.Subscription, error) {
	return repo.update(byToken(token), func(sub *notification.Subscription) { sub.Preferences = copyPreferences(prefs) })
}

func (repo *subscriptionRepository) ListActiveSubscriptions(_ context.Context) ([]notification.Subscription, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	subs := make([]notification.Subscription, 0, len(repo.db.table))
	for _, sub := range repo.db.table {
		if sub.IsActive {
			subs = append(subs, snapshot(sub))
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}
