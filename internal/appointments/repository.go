package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-portal/internal/events"
)

const uniqueViolation = "23505"

const appointmentColumns = `id::text, org_id, patient_id, doctor_id,
	to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI'),
	starts_at, reason, status, notes, created_at, updated_at`

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository persists appointments and writes their lifecycle events to the
// outbox in the same transaction.
type Repository struct {
	db pgxQuerier
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mock database for testing.
func NewRepositoryWithDB(db pgxQuerier) *Repository {
	return &Repository{db: db}
}

// Create inserts a scheduled appointment and its appointment.booked.v1 event.
// A concurrent booking of the same doctor, date and time returns ErrSlotTaken.
func (r *Repository) Create(ctx context.Context, appt *Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	appt.Status = StatusScheduled

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO appointments (id, org_id, patient_id, doctor_id, appointment_date, appointment_time, starts_at, reason, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		appt.ID, appt.OrgID, appt.PatientID, appt.DoctorID, appt.Date, appt.Time,
		appt.StartsAt, appt.Reason, string(appt.Status), appt.Notes,
	).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("appointments: insert: %w", err)
	}

	if _, err := events.Append(ctx, tx, appt.OrgID, events.TypeAppointmentBooked, events.AppointmentBookedV1{
		AppointmentID: appt.ID,
		OrgID:         appt.OrgID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		Date:          appt.Date,
		Time:          appt.Time,
		StartsAt:      appt.StartsAt,
		Reason:        appt.Reason,
		BookedAt:      appt.CreatedAt,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: commit: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, orgID, id string) (*Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE org_id = $1 AND id = $2`
	appt, err := scanAppointment(r.db.QueryRow(ctx, query, orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: get: %w", err)
	}
	return appt, nil
}

func (r *Repository) ListForPatient(ctx context.Context, orgID, patientID string, limit int) ([]Appointment, error) {
	return r.List(ctx, ListFilter{OrgID: orgID, PatientID: patientID, Limit: limit})
}

// ListForDoctor lists a doctor's appointments, optionally on one date.
func (r *Repository) ListForDoctor(ctx context.Context, orgID, doctorID, date string, limit int) ([]Appointment, error) {
	return r.List(ctx, ListFilter{OrgID: orgID, DoctorID: doctorID, Date: date, Limit: limit})
}

// List returns appointments ordered by start time.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Appointment, error) {
	conds := []string{"org_id = $1"}
	args := []any{f.OrgID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.DoctorID != "" {
		add("doctor_id = $%d", f.DoctorID)
	}
	if f.Date != "" {
		add("appointment_date = $%d", f.Date)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE %s ORDER BY starts_at LIMIT $%d`,
		appointmentColumns, strings.Join(conds, " AND "), len(args))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		out = append(out, *appt)
	}
	return out, rows.Err()
}

// ReservedTimes returns the HH:MM start times held by active appointments
// of one organization's doctor.
func (r *Repository) ReservedTimes(ctx context.Context, orgID, doctorID, date string) ([]string, error) {
	query := `
		SELECT to_char(appointment_time, 'HH24:MI')
		FROM appointments
		WHERE org_id = $1 AND doctor_id = $2 AND appointment_date = $3 AND status <> 'cancelled'
		ORDER BY appointment_time
	`
	rows, err := r.db.Query(ctx, query, orgID, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("appointments: reserved times: %w", err)
	}
	defer rows.Close()

	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("appointments: scan reserved time: %w", err)
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// Transition moves an appointment to next and records the matching event.
// The row is locked for the duration so concurrent transitions serialize.
func (r *Repository) Transition(ctx context.Context, orgID, id string, next Status, actorID string) (*Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE org_id = $1 AND id = $2 FOR UPDATE`
	appt, err := scanAppointment(tx.QueryRow(ctx, query, orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: load for update: %w", err)
	}
	if !appt.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, next)
	}
	previous := appt.Status

	err = tx.QueryRow(ctx, `
		UPDATE appointments SET status = $3, updated_at = now()
		WHERE org_id = $1 AND id = $2
		RETURNING updated_at
	`, orgID, id, string(next)).Scan(&appt.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("appointments: update status: %w", err)
	}
	appt.Status = next

	var eventType string
	var payload any
	if next == StatusCancelled {
		eventType = events.TypeAppointmentCancelled
		payload = events.AppointmentCancelledV1{
			AppointmentID: appt.ID,
			OrgID:         appt.OrgID,
			PatientID:     appt.PatientID,
			DoctorID:      appt.DoctorID,
			Date:          appt.Date,
			Time:          appt.Time,
			CancelledBy:   actorID,
			CancelledAt:   appt.UpdatedAt,
		}
	} else {
		eventType = events.TypeAppointmentStatus
		payload = events.AppointmentStatusChangedV1{
			AppointmentID: appt.ID,
			OrgID:         appt.OrgID,
			PatientID:     appt.PatientID,
			DoctorID:      appt.DoctorID,
			From:          string(previous),
			To:            string(next),
			ChangedBy:     actorID,
			ChangedAt:     appt.UpdatedAt,
		}
	}
	if _, err := events.Append(ctx, tx, appt.OrgID, eventType, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit: %w", err)
	}
	return appt, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var appt Appointment
	var status string
	if err := row.Scan(
		&appt.ID, &appt.OrgID, &appt.PatientID, &appt.DoctorID,
		&appt.Date, &appt.Time, &appt.StartsAt, &appt.Reason, &status, &appt.Notes,
		&appt.CreatedAt, &appt.UpdatedAt,
	); err != nil {
		return nil, err
	}
	appt.Status = Status(status)
	return &appt, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
