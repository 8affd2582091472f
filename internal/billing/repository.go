package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-portal/internal/events"
)

const (
	subscriptionColumns = `org_id, plan, status, stripe_customer_id, stripe_subscription_id, current_period_end, updated_at`
	invoiceColumns      = `id::text, org_id, patient_id, COALESCE(appointment_id::text, ''), description,
		amount_cents, currency, status, issued_at, paid_at`
)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository persists subscriptions and invoices.
type Repository struct {
	db pgxQuerier
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("billing: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mock database for testing.
func NewRepositoryWithDB(db pgxQuerier) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetSubscription(ctx context.Context, orgID string) (*Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE org_id = $1`, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("billing: get subscription: %w", err)
	}
	return sub, nil
}

// ActivateSubscription upserts the clinic's subscription as active and
// records subscription.activated.v1.
func (r *Repository) ActivateSubscription(ctx context.Context, sub *Subscription) error {
	sub.Status = SubscriptionActive

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("billing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO subscriptions (org_id, plan, status, stripe_customer_id, stripe_subscription_id, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (org_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
			updated_at = now()
		RETURNING updated_at
	`, sub.OrgID, string(sub.Plan), string(sub.Status), sub.StripeCustomerID, sub.StripeSubscriptionID, sub.CurrentPeriodEnd).
		Scan(&sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("billing: upsert subscription: %w", err)
	}

	if _, err := events.Append(ctx, tx, sub.OrgID, events.TypeSubscriptionActivated, events.SubscriptionActivatedV1{
		OrgID:                sub.OrgID,
		Plan:                 string(sub.Plan),
		StripeCustomerID:     sub.StripeCustomerID,
		StripeSubscriptionID: sub.StripeSubscriptionID,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		ActivatedAt:          sub.UpdatedAt,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("billing: commit: %w", err)
	}
	return nil
}

// SubscriptionUpdate carries the fields Stripe reports on a lifecycle event.
// Empty Plan and nil CurrentPeriodEnd leave the stored values unchanged.
type SubscriptionUpdate struct {
	StripeSubscriptionID string
	Status               SubscriptionStatus
	Plan                 Plan
	CurrentPeriodEnd     *time.Time
}

func (r *Repository) UpdateSubscription(ctx context.Context, u SubscriptionUpdate) (*Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRow(ctx, `
		UPDATE subscriptions SET
			status = $2,
			plan = COALESCE(NULLIF($3, ''), plan),
			current_period_end = COALESCE($4, current_period_end),
			updated_at = now()
		WHERE stripe_subscription_id = $1
		RETURNING `+subscriptionColumns,
		u.StripeSubscriptionID, string(u.Status), string(u.Plan), u.CurrentPeriodEnd))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("billing: update subscription: %w", err)
	}
	return sub, nil
}

func (r *Repository) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.Status = InvoiceOpen
	var appointmentID any
	if inv.AppointmentID != "" {
		appointmentID = inv.AppointmentID
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO invoices (id, org_id, patient_id, appointment_id, description, amount_cents, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING issued_at
	`, inv.ID, inv.OrgID, inv.PatientID, appointmentID, inv.Description, inv.AmountCents, inv.Currency, string(inv.Status)).
		Scan(&inv.IssuedAt)
	if err != nil {
		return fmt.Errorf("billing: insert invoice: %w", err)
	}
	return nil
}

func (r *Repository) GetInvoice(ctx context.Context, orgID, id string) (*Invoice, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	inv, err := scanInvoice(r.db.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE org_id = $1 AND id = $2`, orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("billing: get invoice: %w", err)
	}
	return inv, nil
}

// ListInvoices lists an org's invoices newest first, optionally for one patient.
func (r *Repository) ListInvoices(ctx context.Context, orgID, patientID string, limit int) ([]Invoice, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE org_id = $1`
	args := []any{orgID}
	if patientID != "" {
		args = append(args, patientID)
		query += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY issued_at DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("billing: list invoices: %w", err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("billing: scan invoice: %w", err)
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// MarkInvoicePaid moves an open invoice to paid and records invoice.paid.v1.
func (r *Repository) MarkInvoicePaid(ctx context.Context, orgID, id string) (*Invoice, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("billing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inv, err := scanInvoice(tx.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE org_id = $1 AND id = $2 FOR UPDATE`, orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("billing: load invoice: %w", err)
	}
	if inv.Status != InvoiceOpen {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceNotOpen, inv.Status)
	}

	var paidAt time.Time
	if err := tx.QueryRow(ctx, `
		UPDATE invoices SET status = 'paid', paid_at = now()
		WHERE org_id = $1 AND id = $2
		RETURNING paid_at
	`, orgID, id).Scan(&paidAt); err != nil {
		return nil, fmt.Errorf("billing: mark paid: %w", err)
	}
	inv.Status = InvoicePaid
	inv.PaidAt = &paidAt

	if _, err := events.Append(ctx, tx, orgID, events.TypeInvoicePaid, events.InvoicePaidV1{
		InvoiceID:   inv.ID,
		OrgID:       inv.OrgID,
		PatientID:   inv.PatientID,
		AmountCents: inv.AmountCents,
		Currency:    inv.Currency,
		PaidAt:      paidAt,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("billing: commit: %w", err)
	}
	return inv, nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	var plan, status string
	if err := row.Scan(&sub.OrgID, &plan, &status, &sub.StripeCustomerID, &sub.StripeSubscriptionID, &sub.CurrentPeriodEnd, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.Plan = Plan(plan)
	sub.Status = SubscriptionStatus(status)
	return &sub, nil
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var status string
	err := row.Scan(&inv.ID, &inv.OrgID, &inv.PatientID, &inv.AppointmentID, &inv.Description,
		&inv.AmountCents, &inv.Currency, &status, &inv.IssuedAt, &inv.PaidAt)
	if err != nil {
		return nil, err
	}
	inv.Status = InvoiceStatus(status)
	return &inv, nil
}
