package dummydb

import (
	"sync"

	"github.com/astroacademy/backend/core/notification"
)

type (
	DB struct {
		notification *notificationTable
		subscription *subscriptionTable
	}

	notificationTable struct {
		sync.RWMutex
		pkCount int
		table   map[int]*notification.Notification
	}

	subscriptionTable struct {
		sync.RWMutex
		pkCount int
		table   map[int]*notification.Subscription
	}
)

// Open returns an empty in-memory database.
func Open() *DB {
	return &DB{
		notification: &notificationTable{table: make(map[int]*notification.Notification)},
		subscription: &subscriptionTable{table: make(map[int]*notification.Subscription)},
	}
}
