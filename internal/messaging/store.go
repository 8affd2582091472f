package messaging

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-portal/internal/events"
)

const messageColumns = `id::text, org_id, sender_id, recipient_id, body, read_at, created_at`

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists messages in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// Send inserts msg and its message.sent.v1 event in one transaction.
func (s *Store) Send(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("messaging: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO messages (id, org_id, sender_id, recipient_id, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	if err := tx.QueryRow(ctx, query, msg.ID, msg.OrgID, msg.SenderID, msg.RecipientID, msg.Body).Scan(&msg.CreatedAt); err != nil {
		return fmt.Errorf("messaging: insert message: %w", err)
	}

	if _, err := events.Append(ctx, tx, msg.OrgID, events.TypeMessageSent, events.MessageSentV1{
		MessageID:   msg.ID,
		OrgID:       msg.OrgID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Preview:     preview(msg.Body),
		SentAt:      msg.CreatedAt,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("messaging: commit: %w", err)
	}
	return nil
}

// Conversation returns up to limit messages exchanged by userA and userB,
// oldest first. When before is set only earlier messages are returned, which
// lets clients page backwards.
func (s *Store) Conversation(ctx context.Context, orgID, userA, userB string, limit int, before *time.Time) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE org_id = $1
			AND ((sender_id = $2 AND recipient_id = $3) OR (sender_id = $3 AND recipient_id = $2))`
	args := []any{orgID, userA, userB}
	if before != nil {
		args = append(args, *before)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("messaging: conversation: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.OrgID, &m.SenderID, &m.RecipientID, &m.Body, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("messaging: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Inbox returns one thread per counterpart, most recent first.
func (s *Store) Inbox(ctx context.Context, orgID, userID string) ([]Thread, error) {
	query := `
		SELECT DISTINCT ON (counterpart)
			counterpart, id::text, org_id, sender_id, recipient_id, body, read_at, created_at, unread
		FROM (
			SELECT m.*,
				CASE WHEN m.sender_id = $2 THEN m.recipient_id ELSE m.sender_id END AS counterpart,
				COUNT(*) FILTER (WHERE m.recipient_id = $2 AND m.read_at IS NULL)
					OVER (PARTITION BY CASE WHEN m.sender_id = $2 THEN m.recipient_id ELSE m.sender_id END) AS unread
			FROM messages m
			WHERE m.org_id = $1 AND (m.sender_id = $2 OR m.recipient_id = $2)
		) t
		ORDER BY counterpart, created_at DESC
	`
	rows, err := s.pool.Query(ctx, query, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("messaging: inbox: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		var t Thread
		var unread int64
		m := &t.Last
		if err := rows.Scan(&t.Counterpart, &m.ID, &m.OrgID, &m.SenderID, &m.RecipientID, &m.Body, &m.ReadAt, &m.CreatedAt, &unread); err != nil {
			return nil, fmt.Errorf("messaging: scan thread: %w", err)
		}
		t.Unread = int(unread)
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].Last.CreatedAt.After(threads[j].Last.CreatedAt)
	})
	return threads, nil
}

// MarkRead marks every unread message from senderID to recipientID as read.
func (s *Store) MarkRead(ctx context.Context, orgID, recipientID, senderID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET read_at = now()
		WHERE org_id = $1 AND recipient_id = $2 AND sender_id = $3 AND read_at IS NULL
	`, orgID, recipientID, senderID)
	if err != nil {
		return 0, fmt.Errorf("messaging: mark read: %w", err)
	}
	return tag.RowsAffected(), nil
}
