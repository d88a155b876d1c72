package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/astroacademy/backend/core"
	"github.com/astroacademy/backend/core/notification"
)

const notificationColumns = "id, user_id, type, category, title, message, link, is_read, created_at"

type notificationRow struct {
	ID        int         `db:"id"`
	UserID    null.Int    `db:"user_id"`
	Type      string      `db:"type"`
	Category  string      `db:"category"`
	Title     string      `db:"title"`
	Message   string      `db:"message"`
	Link      null.String `db:"link"`
	IsRead    bool        `db:"is_read"`
	CreatedAt time.Time   `db:"created_at"`
}

func (row notificationRow) toNotification() notification.Notification {
	return notification.Notification{
		ID:        row.ID,
		UserID:    row.UserID.Ptr(),
		Type:      notification.Type(row.Type),
		Category:  notification.Category(row.Category),
		Title:     row.Title,
		Message:   row.Message,
		Link:      row.Link.Ptr(),
		IsRead:    row.IsRead,
		CreatedAt: row.CreatedAt.UTC(),
	}
}

type notificationRepository struct {
	db sqlx.ExtContext
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db sqlx.ExtContext) *notificationRepository {
	return &notificationRepository{db: db}
}

func (repo notificationRepository) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	q := `INSERT INTO notifications (user_id, type, category, title, message, link, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + notificationColumns

	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var row notificationRow
	err := sqlx.GetContext(ctx, repo.db, &row, q,
		null.IntFromPtr(n.UserID),
		string(n.Type),
		string(n.Category),
		n.Title,
		n.Message,
		null.StringFromPtr(n.Link),
		createdAt,
	)
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return row.toNotification(), nil
}

func (repo notificationRepository) GetNotificationByID(ctx context.Context, id int) (notification.Notification, error) {
	var row notificationRow
	err := sqlx.GetContext(ctx, repo.db, &row, "SELECT "+notificationColumns+" FROM notifications WHERE id = $1", id)
	if err != nil {
		if err == sql.ErrNoRows {
			return notification.Notification{}, core.NewNotFoundError("notification")
		}
		return notification.Notification{}, errors.Wrap(err, "selecting notification")
	}
	return row.toNotification(), nil
}

// recipientScope returns the WHERE clause selecting notifications visible to userID.
func recipientScope(userID *int) (string, []interface{}) {
	if userID == nil {
		return "user_id IS NULL", nil
	}
	return "(user_id = ? OR user_id IS NULL)", []interface{}{*userID}
}

func (repo notificationRepository) ListNotifications(ctx context.Context, filter notification.QueryFilter) ([]notification.Notification, error) {
	where, args := recipientScope(filter.UserID)
	conds := []string{where}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	args = append(args, filter.Limit)

	q := repo.db.Rebind(
		"SELECT " + notificationColumns + " FROM notifications WHERE " + strings.Join(conds, " AND ") +
			" ORDER BY created_at DESC, id DESC LIMIT ?",
	)

	var rows []notificationRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting notifications")
	}
	notifs := make([]notification.Notification, 0, len(rows))
	for _, row := range rows {
		notifs = append(notifs, row.toNotification())
	}
	return notifs, nil
}

func (repo notificationRepository) CountUnread(ctx context.Context, userID *int) (int, error) {
	where, args := recipientScope(userID)
	q := repo.db.Rebind("SELECT COUNT(*) FROM notifications WHERE is_read = false AND " + where)

	var count int
	if err := sqlx.GetContext(ctx, repo.db, &count, q, args...); err != nil {
		return 0, errors.Wrap(err, "counting unread notifications")
	}
	return count, nil
}

func (repo notificationRepository) MarkRead(ctx context.Context, ids []int) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ids64 := make([]int64, 0, len(ids))
	for _, id := range ids {
		ids64 = append(ids64, int64(id))
	}

	res, err := repo.db.ExecContext(ctx, "UPDATE notifications SET is_read = true WHERE id = ANY($1)", pq.Array(ids64))
	if err != nil {
		return 0, errors.Wrap(err, "updating notifications")
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting updated notifications")
	}
	return int(updated), nil
}
