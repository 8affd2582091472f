package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotificationNotFound = errors.New("notify: notification not found")

// Notification is one in-app notification for a user.
type Notification struct {
	ID        string     `json:"id"`
	OrgID     string     `json:"org_id"`
	UserID    string     `json:"user_id"`
	EventID   string     `json:"event_id,omitempty"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type notificationsDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NotificationStore persists in-app notifications in Postgres.
type NotificationStore struct {
	db notificationsDB
}

func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	if pool == nil {
		panic("notify: pgx pool required")
	}
	return &NotificationStore{db: pool}
}

// NewNotificationStoreWithDB allows injecting a mock database for testing.
func NewNotificationStoreWithDB(db notificationsDB) *NotificationStore {
	return &NotificationStore{db: db}
}

// Create inserts n. A notification for the same event and user already on
// file is left alone and Create reports false.
func (s *NotificationStore) Create(ctx context.Context, n *Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	var eventID any
	if n.EventID != "" {
		eventID = n.EventID
	}
	query := `
		INSERT INTO notifications (id, org_id, user_id, event_id, kind, title, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id, user_id) DO NOTHING
		RETURNING created_at
	`
	err := s.db.QueryRow(ctx, query, n.ID, n.OrgID, n.UserID, eventID, n.Kind, n.Title, n.Body).Scan(&n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("notify: insert notification: %w", err)
	}
	return true, nil
}

// ListForUser returns the newest notifications first.
func (s *NotificationStore) ListForUser(ctx context.Context, orgID, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id::text, org_id, user_id, COALESCE(event_id::text, ''), kind, title, body, read_at, created_at
		FROM notifications
		WHERE org_id = $1 AND user_id = $2 AND ($3 = false OR read_at IS NULL)
		ORDER BY created_at DESC
		LIMIT $4
	`
	rows, err := s.db.Query(ctx, query, orgID, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list notifications: %w", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.OrgID, &n.UserID, &n.EventID, &n.Kind, &n.Title, &n.Body, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *NotificationStore) UnreadCount(ctx context.Context, orgID, userID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications WHERE org_id = $1 AND user_id = $2 AND read_at IS NULL
	`, orgID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("notify: unread count: %w", err)
	}
	return count, nil
}

// MarkRead marks one of the user's notifications read. Marking an already
// read notification is not an error.
func (s *NotificationStore) MarkRead(ctx context.Context, orgID, userID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotificationNotFound
	}
	ct, err := s.db.Exec(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, now())
		WHERE org_id = $1 AND user_id = $2 AND id = $3
	`, orgID, userID, id)
	if err != nil {
		return fmt.Errorf("notify: mark read: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, orgID, userID string) (int64, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE notifications SET read_at = now()
		WHERE org_id = $1 AND user_id = $2 AND read_at IS NULL
	`, orgID, userID)
	if err != nil {
		return 0, fmt.Errorf("notify: mark all read: %w", err)
	}
	return ct.RowsAffected(), nil
}
