package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-portal/internal/events"
)

var (
	subscriptionRowColumns = []string{"org_id", "plan", "status", "stripe_customer_id", "stripe_subscription_id", "current_period_end", "updated_at"}
	invoiceRowColumns      = []string{"id", "org_id", "patient_id", "appointment_id", "description", "amount_cents", "currency", "status", "issued_at", "paid_at"}
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepositoryWithDB(mock), mock
}

func TestActivateSubscriptionWritesOutbox(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs("org-1", "pro", "active", "cus_1", "sub_1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "org-1", events.TypeSubscriptionActivated, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	sub := &Subscription{OrgID: "org-1", Plan: PlanPro, StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1"}
	require.NoError(t, repo.ActivateSubscription(context.Background(), sub))
	assert.Equal(t, SubscriptionActive, sub.Status)
	assert.True(t, sub.UpdatedAt.Equal(now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSubscriptionNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM subscriptions WHERE org_id = \\$1").
		WithArgs("org-1").
		WillReturnRows(pgxmock.NewRows(subscriptionRowColumns))

	_, err := repo.GetSubscription(context.Background(), "org-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateSubscription(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("UPDATE subscriptions SET").
		WithArgs("sub_1", "past_due", "", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(subscriptionRowColumns).
			AddRow("org-1", "pro", "past_due", "cus_1", "sub_1", (*time.Time)(nil), now))

	sub, err := repo.UpdateSubscription(context.Background(), SubscriptionUpdate{StripeSubscriptionID: "sub_1", Status: SubscriptionPastDue})
	require.NoError(t, err)
	assert.Equal(t, SubscriptionPastDue, sub.Status)
	assert.Equal(t, PlanPro, sub.Plan)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkInvoicePaid(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.NewString()
	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	paid := issued.Add(48 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM invoices WHERE org_id = \\$1 AND id = \\$2 FOR UPDATE").
		WithArgs("org-1", id).
		WillReturnRows(pgxmock.NewRows(invoiceRowColumns).
			AddRow(id, "org-1", "pat-1", "", "consultation", int64(12500), "usd", "open", issued, (*time.Time)(nil)))
	mock.ExpectQuery("UPDATE invoices SET status = 'paid'").
		WithArgs("org-1", id).
		WillReturnRows(pgxmock.NewRows([]string{"paid_at"}).AddRow(paid))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "org-1", events.TypeInvoicePaid, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	inv, err := repo.MarkInvoicePaid(context.Background(), "org-1", id)
	require.NoError(t, err)
	assert.Equal(t, InvoicePaid, inv.Status)
	require.NotNil(t, inv.PaidAt)
	assert.True(t, inv.PaidAt.Equal(paid))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkInvoicePaidRejectsPaid(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.NewString()
	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("org-1", id).
		WillReturnRows(pgxmock.NewRows(invoiceRowColumns).
			AddRow(id, "org-1", "pat-1", "", "", int64(100), "usd", "paid", issued, &issued))
	mock.ExpectRollback()

	_, err := repo.MarkInvoicePaid(context.Background(), "org-1", id)
	assert.ErrorIs(t, err, ErrInvoiceNotOpen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListInvoicesForPatient(t *testing.T) {
	repo, mock := newMockRepo(t)
	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM invoices WHERE org_id = \\$1 AND patient_id = \\$2 ORDER BY issued_at DESC LIMIT \\$3").
		WithArgs("org-1", "pat-1", 100).
		WillReturnRows(pgxmock.NewRows(invoiceRowColumns).
			AddRow(uuid.NewString(), "org-1", "pat-1", "", "", int64(100), "usd", "open", issued, (*time.Time)(nil)))

	list, err := repo.ListInvoices(context.Background(), "org-1", "pat-1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInvoice(t *testing.T) {
	repo, mock := newMockRepo(t)
	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO invoices").
		WithArgs(pgxmock.AnyArg(), "org-1", "pat-1", pgxmock.AnyArg(), "visit", int64(5000), "usd", "open").
		WillReturnRows(pgxmock.NewRows([]string{"issued_at"}).AddRow(issued))

	inv := &Invoice{OrgID: "org-1", PatientID: "pat-1", Description: "visit", AmountCents: 5000, Currency: "usd"}
	require.NoError(t, repo.CreateInvoice(context.Background(), inv))
	assert.Equal(t, InvoiceOpen, inv.Status)
	assert.NotEmpty(t, inv.ID)
}
