package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/astroacademy/backend/core"
	"github.com/astroacademy/backend/core/notification"
)

type notificationRepository struct {
	db *notificationTable
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db.notification}
}

// inScope mirrors the SQL recipient scope: the user's own notifications plus broadcast ones.
func inScope(n *notification.Notification, userID *int) bool {
	if n.UserID == nil {
		return true
	}
	return userID != nil && *n.UserID == *userID
}

func (repo *notificationRepository) CreateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.pkCount++
	n.ID = repo.db.pkCount
	n.IsRead = false
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	repo.db.table[n.ID] = &n
	return n, nil
}

func (repo *notificationRepository) GetNotificationByID(_ context.Context, id int) (notification.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if n, ok := repo.db.table[id]; ok {
		return *n, nil
	}
	return notification.Notification{}, core.NewNotFoundError("notification")
}

func (repo *notificationRepository) ListNotifications(_ context.Context, filter notification.QueryFilter) ([]notification.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	notifs := make([]notification.Notification, 0)
	for _, n := range repo.db.table {
		if !inScope(n, filter.UserID) {
			continue
		}
		if filter.Type != "" && n.Type != filter.Type {
			continue
		}
		notifs = append(notifs, *n)
	}

	sort.Slice(notifs, func(i, j int) bool {
		if notifs[i].CreatedAt.Equal(notifs[j].CreatedAt) {
			return notifs[i].ID > notifs[j].ID
		}
		return notifs[i].CreatedAt.After(notifs[j].CreatedAt)
	})
	if filter.Limit > 0 && len(notifs) > filter.Limit {
		notifs = notifs[:filter.Limit]
	}
	return notifs, nil
}

func (repo *notificationRepository) CountUnread(_ context.Context, userID *int) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var count int
	for _, n := range repo.db.table {
		if !n.IsRead && inScope(n, userID) {
			count++
		}
	}
	return count, nil
}

func (repo *notificationRepository) MarkRead(_ context.Context, ids []int) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	seen := make(map[int]bool, len(ids))
	var updated int
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if n, ok := repo.db.table[id]; ok {
			n.IsRead = true
			updated++
		}
	}
	return updated, nil
}
