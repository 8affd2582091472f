package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newNotificationMock(t *testing.T) (*NotificationStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewNotificationStoreWithDB(mock), mock
}

func TestNotificationStoreCreate(t *testing.T) {
	store, mock := newNotificationMock(t)
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	eventID := uuid.NewString()

	mock.ExpectQuery("INSERT INTO notifications").
		WithArgs(pgxmock.AnyArg(), "org-1", "pat-1", eventID, "appointment_booked", "Appointment booked", "body").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectQuery("INSERT INTO notifications").
		WithArgs(pgxmock.AnyArg(), "org-1", "pat-1", eventID, "appointment_booked", "Appointment booked", "body").
		WillReturnError(pgx.ErrNoRows)

	n := &Notification{OrgID: "org-1", UserID: "pat-1", EventID: eventID, Kind: "appointment_booked", Title: "Appointment booked", Body: "body"}
	ok, err := store.Create(context.Background(), n)
	if err != nil || !ok {
		t.Fatalf("expected insert, got %v %v", ok, err)
	}
	if !n.CreatedAt.Equal(created) || n.ID == "" {
		t.Fatalf("unexpected notification %+v", n)
	}

	dup := &Notification{OrgID: "org-1", UserID: "pat-1", EventID: eventID, Kind: "appointment_booked", Title: "Appointment booked", Body: "body"}
	ok, err = store.Create(context.Background(), dup)
	if err != nil || ok {
		t.Fatalf("expected duplicate to be skipped, got %v %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestNotificationStoreListAndRead(t *testing.T) {
	store, mock := newNotificationMock(t)
	id := uuid.NewString()
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM notifications").
		WithArgs("org-1", "pat-1", true, 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "org_id", "user_id", "event_id", "kind", "title", "body", "read_at", "created_at"}).
			AddRow(id, "org-1", "pat-1", "", "message", "New message", "hi", (*time.Time)(nil), created))

	list, err := store.ListForUser(context.Background(), "org-1", "pat-1", true, 0)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(list) != 1 || list[0].ID != id || list[0].ReadAt != nil {
		t.Fatalf("unexpected list %+v", list)
	}

	mock.ExpectQuery("SELECT COUNT").WithArgs("org-1", "pat-1").WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	if n, err := store.UnreadCount(context.Background(), "org-1", "pat-1"); err != nil || n != 1 {
		t.Fatalf("UnreadCount = %d, %v", n, err)
	}

	mock.ExpectExec("UPDATE notifications SET read_at = COALESCE").
		WithArgs("org-1", "pat-1", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.MarkRead(context.Background(), "org-1", "pat-1", id); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	other := uuid.NewString()
	mock.ExpectExec("UPDATE notifications SET read_at = COALESCE").
		WithArgs("org-1", "pat-1", other).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.MarkRead(context.Background(), "org-1", "pat-1", other); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.MarkRead(context.Background(), "org-1", "pat-1", "bogus"); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("expected not found for malformed id, got %v", err)
	}

	mock.ExpectExec("read_at IS NULL").WithArgs("org-1", "pat-1").WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	if n, err := store.MarkAllRead(context.Background(), "org-1", "pat-1"); err != nil || n != 3 {
		t.Fatalf("MarkAllRead = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProfileDirectory(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	dir := NewProfileDirectoryWithDB(mock)
	cols := []string{"id", "org_id", "email", "full_name", "role"}

	mock.ExpectQuery("FROM profiles WHERE org_id = \\$1 AND id = \\$2").
		WithArgs("org-1", "pat-1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow("pat-1", "org-1", "pat@example.com", "Pat", "patient"))
	c, err := dir.Lookup(context.Background(), "org-1", "pat-1")
	if err != nil || c.Email != "pat@example.com" || c.Role != "patient" {
		t.Fatalf("Lookup = %+v, %v", c, err)
	}

	mock.ExpectQuery("FROM profiles WHERE org_id = \\$1 AND id = \\$2").
		WithArgs("org-1", "ghost").
		WillReturnError(pgx.ErrNoRows)
	if _, err := dir.Lookup(context.Background(), "org-1", "ghost"); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}

	mock.ExpectQuery("AND role = \\$2").
		WithArgs("org-1", "admin").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("adm-1", "org-1", "a1@example.com", "Ada", "admin").
			AddRow("adm-2", "org-1", "a2@example.com", "Bo", "admin"))
	admins, err := dir.ByRole(context.Background(), "org-1", "admin")
	if err != nil || len(admins) != 2 {
		t.Fatalf("ByRole = %+v, %v", admins, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
