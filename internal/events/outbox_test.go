package events

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/clinic-portal/pkg/logging"
)

func TestAppendInsertsRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "org-1", TypeAppointmentBooked, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := Append(context.Background(), mock, "org-1", TypeAppointmentBooked, AppointmentBookedV1{AppointmentID: "appt-1"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("expected generated id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppendMarshalError(t *testing.T) {
	if _, err := Append(context.Background(), nil, "org-1", "bad", make(chan int)); err == nil {
		t.Fatalf("expected marshal error")
	}
}

func TestOutboxStoreFetchAndMark(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	store := NewOutboxStoreWithDB(mock)

	id := uuid.New()
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, org_id, type, payload, created_at").
		WithArgs(int32(10), 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "org_id", "type", "payload", "created_at"}).
			AddRow(id, "org-1", TypeMessageSent, []byte(`{"message_id":"m1"}`), created))

	entries, err := store.FetchPending(context.Background(), 10, 5)
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id || entries[0].Type != TypeMessageSent {
		t.Fatalf("unexpected entries %+v", entries)
	}
	var payload MessageSentV1
	if err := entries[0].Decode(&payload); err != nil || payload.MessageID != "m1" {
		t.Fatalf("decode payload: %+v %v", payload, err)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("MarkDelivered: %v %v", ok, err)
	}

	mock.ExpectExec("SET attempts = attempts \\+ 1").WithArgs(id, "smtp timeout").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.RecordFailure(context.Background(), id, errors.New("smtp timeout")); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type fakeDeliveryStore struct {
	pending   []OutboxEntry
	delivered []uuid.UUID
	failed    []uuid.UUID
	fetchErr  error
}

func (f *fakeDeliveryStore) FetchPending(context.Context, int32, int) ([]OutboxEntry, error) {
	return f.pending, f.fetchErr
}

func (f *fakeDeliveryStore) MarkDelivered(_ context.Context, id uuid.UUID) (bool, error) {
	f.delivered = append(f.delivered, id)
	return true, nil
}

func (f *fakeDeliveryStore) RecordFailure(_ context.Context, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func TestDelivererDrain(t *testing.T) {
	good, bad := uuid.New(), uuid.New()
	store := &fakeDeliveryStore{pending: []OutboxEntry{
		{ID: good, Type: TypeAppointmentBooked},
		{ID: bad, Type: TypeMessageSent},
	}}
	handler := HandlerFunc(func(_ context.Context, e OutboxEntry) error {
		if e.ID == bad {
			return errors.New("downstream unavailable")
		}
		return nil
	})

	d := NewDeliverer(store, handler, logging.NewWithWriter(io.Discard, "error", "json"))
	if n := d.drain(context.Background()); n != 1 {
		t.Fatalf("expected 1 delivered, got %d", n)
	}
	if len(store.delivered) != 1 || store.delivered[0] != good {
		t.Fatalf("unexpected delivered %v", store.delivered)
	}
	if len(store.failed) != 1 || store.failed[0] != bad {
		t.Fatalf("unexpected failed %v", store.failed)
	}
}

func TestDelivererFetchError(t *testing.T) {
	store := &fakeDeliveryStore{fetchErr: errors.New("db down")}
	d := NewDeliverer(store, HandlerFunc(func(context.Context, OutboxEntry) error { return nil }), logging.NewWithWriter(io.Discard, "error", "json"))
	if n := d.drain(context.Background()); n != 0 {
		t.Fatalf("expected nothing delivered, got %d", n)
	}
}

func TestDelivererStartStopsOnCancel(t *testing.T) {
	store := &fakeDeliveryStore{}
	d := NewDeliverer(store, HandlerFunc(func(context.Context, OutboxEntry) error { return nil }), nil).
		WithInterval(5 * time.Millisecond).
		WithBatchSize(3).
		WithMaxAttempts(2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("deliverer did not stop")
	}
	if d.batchSize != 3 || d.maxAttempts != 2 {
		t.Fatalf("builder options not applied")
	}
}
