package sqlxrepos

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroacademy/backend/core"
	"github.com/astroacademy/backend/core/notification"
)

var notificationCols = []string{"id", "user_id", "type", "category", "title", "message", "link", "is_read", "created_at"}

func Test_recipientScope(t *testing.T) {
	uid := 7

	where, args := recipientScope(nil)
	assert.Equal(t, "user_id IS NULL", where)
	assert.Empty(t, args)

	where, args = recipientScope(&uid)
	assert.Equal(t, "(user_id = ? OR user_id IS NULL)", where)
	assert.Equal(t, []interface{}{7}, args)
}

func TestNotificationRepository_CreateNotification(t *testing.T) {
	db, mock := newMockDB(t)
	uid := 7
	link := "/missions/artemis"
	createdAt := time.Date(2024, 4, 8, 18, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO notifications (user_id, type, category, title, message, link, created_at)")).
		WithArgs(7, "info", "mission", "Launch", "T-10", link, createdAt).
		WillReturnRows(sqlmock.NewRows(notificationCols).
			AddRow(12, 7, "info", "mission", "Launch", "T-10", link, false, createdAt))

	n, err := NewNotificationRepository(db).CreateNotification(context.Background(), notification.Notification{
		UserID:    &uid,
		Type:      notification.TypeInfo,
		Category:  notification.CategoryMission,
		Title:     "Launch",
		Message:   "T-10",
		Link:      &link,
		CreatedAt: createdAt,
	})
	require.NoError(t, err)
	assert.Equal(t, 12, n.ID)
	require.NotNil(t, n.UserID)
	assert.Equal(t, 7, *n.UserID)
	require.NotNil(t, n.Link)
	assert.Equal(t, link, *n.Link)
	assert.False(t, n.IsRead)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_GetNotificationByID(t *testing.T) {
	createdAt := time.Date(2024, 4, 8, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		want    notification.Notification
		wantErr func(err error) bool
	}{
		{
			name: "broadcast notification",
			rows: sqlmock.NewRows(notificationCols).
				AddRow(3, nil, "urgent", "solar", "Flare", "X-class", nil, true, createdAt),
			want: notification.Notification{
				ID: 3, Type: notification.TypeUrgent, Category: notification.CategorySolar,
				Title: "Flare", Message: "X-class", IsRead: true, CreatedAt: createdAt,
			},
		},
		{
			name:    "not found",
			rows:    sqlmock.NewRows(notificationCols),
			wantErr: core.IsNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectQuery(regexp.QuoteMeta("FROM notifications WHERE id = $1")).WithArgs(3).WillReturnRows(tt.rows)

			got, err := NewNotificationRepository(db).GetNotificationByID(context.Background(), 3)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err), err.Error())
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestNotificationRepository_ListNotifications(t *testing.T) {
	uid := 7

	tests := []struct {
		name   string
		filter notification.QueryFilter
		query  string
		args   []driver.Value
	}{
		{
			name:   "broadcast only",
			filter: notification.QueryFilter{Limit: 20},
			query:  "WHERE user_id IS NULL ORDER BY created_at DESC, id DESC LIMIT $1",
			args:   []driver.Value{20},
		},
		{
			name:   "user and type",
			filter: notification.QueryFilter{UserID: &uid, Type: notification.TypeWarning, Limit: 5},
			query:  "WHERE (user_id = $1 OR user_id IS NULL) AND type = $2 ORDER BY created_at DESC, id DESC LIMIT $3",
			args:   []driver.Value{7, "warning", 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectQuery(regexp.QuoteMeta(tt.query)).
				WithArgs(tt.args...).
				WillReturnRows(sqlmock.NewRows(notificationCols).
					AddRow(2, nil, "warning", "weather", "Storm", "Clouds", nil, false, time.Now()))

			got, err := NewNotificationRepository(db).ListNotifications(context.Background(), tt.filter)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Nil(t, got[0].UserID)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestNotificationRepository_CountUnread(t *testing.T) {
	db, mock := newMockDB(t)
	uid := 7

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications WHERE is_read = false AND (user_id = $1 OR user_id IS NULL)")).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := NewNotificationRepository(db).CountUnread(context.Background(), &uid)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_MarkRead(t *testing.T) {
	tests := []struct {
		name     string
		ids      []int
		affected int64
	}{
		{name: "no ids"},
		{name: "some ids", ids: []int{1, 3, 999}, affected: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			if len(tt.ids) > 0 {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET is_read = true WHERE id = ANY($1)")).
					WithArgs(pq.Array([]int64{1, 3, 999})).
					WillReturnResult(sqlmock.NewResult(0, tt.affected))
			}

			updated, err := NewNotificationRepository(db).MarkRead(context.Background(), tt.ids)
			require.NoError(t, err)
			assert.Equal(t, int(tt.affected), updated)
			assert.NoError(t, mock.ExpectationsWereMet(), "an empty id list must not reach the database")
		})
	}
}
