package prescriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-portal/internal/events"
)

const prescriptionColumns = `id::text, org_id, COALESCE(appointment_id::text, ''), patient_id,
	doctor_id, medications, notes, status, issued_at, revoked_at`

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository stores prescriptions in Postgres with medications as JSONB.
type Repository struct {
	db pgxQuerier
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("prescriptions: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mock database for testing.
func NewRepositoryWithDB(db pgxQuerier) *Repository {
	return &Repository{db: db}
}

// Create inserts an active prescription together with its
// prescription.issued.v1 outbox event.
func (r *Repository) Create(ctx context.Context, rx *Prescription) error {
	if rx.ID == "" {
		rx.ID = uuid.NewString()
	}
	rx.Status = StatusActive
	meds, err := json.Marshal(rx.Medications)
	if err != nil {
		return fmt.Errorf("prescriptions: encode medications: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("prescriptions: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO prescriptions (id, org_id, appointment_id, patient_id, doctor_id, medications, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING issued_at
	`, rx.ID, rx.OrgID, nullableUUID(rx.AppointmentID), rx.PatientID, rx.DoctorID, meds, rx.Notes, string(rx.Status)).
		Scan(&rx.IssuedAt)
	if err != nil {
		return fmt.Errorf("prescriptions: insert: %w", err)
	}

	if _, err := events.Append(ctx, tx, rx.OrgID, events.TypePrescriptionIssued, events.PrescriptionIssuedV1{
		PrescriptionID: rx.ID,
		OrgID:          rx.OrgID,
		PatientID:      rx.PatientID,
		DoctorID:       rx.DoctorID,
		Medications:    rx.MedicationNames(),
		IssuedAt:       rx.IssuedAt,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("prescriptions: commit: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, orgID, id string) (*Prescription, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	rx, err := scanPrescription(r.db.QueryRow(ctx,
		`SELECT `+prescriptionColumns+` FROM prescriptions WHERE org_id = $1 AND id = $2`, orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("prescriptions: get: %w", err)
	}
	return rx, nil
}

// ListForPatient returns a patient's prescriptions, newest first.
func (r *Repository) ListForPatient(ctx context.Context, orgID, patientID string, limit int) ([]Prescription, error) {
	return r.list(ctx, "patient_id", orgID, patientID, limit)
}

// ListForDoctor returns the prescriptions a doctor issued, newest first.
func (r *Repository) ListForDoctor(ctx context.Context, orgID, doctorID string, limit int) ([]Prescription, error) {
	return r.list(ctx, "doctor_id", orgID, doctorID, limit)
}

func (r *Repository) list(ctx context.Context, column, orgID, value string, limit int) ([]Prescription, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM prescriptions WHERE org_id = $1 AND %s = $2 ORDER BY issued_at DESC LIMIT $3`,
		prescriptionColumns, column)
	rows, err := r.db.Query(ctx, query, orgID, value, limit)
	if err != nil {
		return nil, fmt.Errorf("prescriptions: list: %w", err)
	}
	defer rows.Close()

	var out []Prescription
	for rows.Next() {
		rx, err := scanPrescription(rows)
		if err != nil {
			return nil, fmt.Errorf("prescriptions: scan: %w", err)
		}
		out = append(out, *rx)
	}
	return out, rows.Err()
}

// Revoke marks an active prescription revoked.
func (r *Repository) Revoke(ctx context.Context, orgID, id string) (*Prescription, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	rx, err := scanPrescription(r.db.QueryRow(ctx, `
		UPDATE prescriptions SET status = 'revoked', revoked_at = now()
		WHERE org_id = $1 AND id = $2 AND status <> 'revoked'
		RETURNING `+prescriptionColumns, orgID, id))
	if err == nil {
		return rx, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("prescriptions: revoke: %w", err)
	}
	// Distinguish a missing row from one that was already revoked.
	if _, err := r.Get(ctx, orgID, id); err != nil {
		return nil, err
	}
	return nil, ErrAlreadyRevoked
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var rx Prescription
	var meds []byte
	var status string
	err := row.Scan(&rx.ID, &rx.OrgID, &rx.AppointmentID, &rx.PatientID, &rx.DoctorID,
		&meds, &rx.Notes, &status, &rx.IssuedAt, &rx.RevokedAt)
	if err != nil {
		return nil, err
	}
	rx.Status = Status(status)
	if len(meds) > 0 {
		if err := json.Unmarshal(meds, &rx.Medications); err != nil {
			return nil, fmt.Errorf("prescriptions: decode medications: %w", err)
		}
	}
	return &rx, nil
}

func nullableUUID(id string) any {
	if id == "" {
		return nil
	}
	return id
}
