// Package compliance records an append-only audit trail of access to
// protected health information.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AuditEventType represents the type of compliance event.
type AuditEventType string

const (
	EventPrescriptionViewed   AuditEventType = "phi.prescription_viewed"
	EventPrescriptionIssued   AuditEventType = "phi.prescription_issued"
	EventPrescriptionRevoked  AuditEventType = "phi.prescription_revoked"
	EventDocumentUploaded     AuditEventType = "phi.document_uploaded"
	EventDocumentAccessed     AuditEventType = "phi.document_accessed"
	EventAppointmentCancelled AuditEventType = "scheduling.appointment_cancelled"
)

// AuditEvent represents an immutable compliance audit record.
type AuditEvent struct {
	ID           string          `json:"id"`
	EventType    AuditEventType  `json:"event_type"`
	OrgID        string          `json:"org_id"`
	ActorID      string          `json:"actor_id"`
	ActorRole    string          `json:"actor_role,omitempty"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	PatientID    string          `json:"patient_id,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Actor identifies who performed an audited action.
type Actor struct {
	OrgID  string
	UserID string
	Role   string
}

// AuditService handles compliance audit logging.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records a compliance audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if s == nil || s.db == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	details := event.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO audit_events (
			id, event_type, org_id, actor_id, actor_role,
			resource_type, resource_id, patient_id, tags, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.EventType),
		event.OrgID,
		event.ActorID,
		nullString(event.ActorRole),
		event.ResourceType,
		event.ResourceID,
		nullString(event.PatientID),
		pq.Array(event.Tags),
		[]byte(details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// LogPrescriptionViewed records a read of a prescription.
func (s *AuditService) LogPrescriptionViewed(ctx context.Context, actor Actor, prescriptionID, patientID string) error {
	return s.LogEvent(ctx, AuditEvent{
		EventType:    EventPrescriptionViewed,
		OrgID:        actor.OrgID,
		ActorID:      actor.UserID,
		ActorRole:    actor.Role,
		ResourceType: "prescription",
		ResourceID:   prescriptionID,
		PatientID:    patientID,
		Tags:         []string{"phi", "read"},
	})
}

func (s *AuditService) LogPrescriptionIssued(ctx context.Context, actor Actor, prescriptionID, patientID string, medications []string) error {
	details, _ := json.Marshal(map[string]any{"medications": medications})
	return s.LogEvent(ctx, AuditEvent{
		EventType:    EventPrescriptionIssued,
		OrgID:        actor.OrgID,
		ActorID:      actor.UserID,
		ActorRole:    actor.Role,
		ResourceType: "prescription",
		ResourceID:   prescriptionID,
		PatientID:    patientID,
		Tags:         []string{"phi", "write"},
		Details:      details,
	})
}

func (s *AuditService) LogPrescriptionRevoked(ctx context.Context, actor Actor, prescriptionID, patientID string) error {
	return s.LogEvent(ctx, AuditEvent{
		EventType:    EventPrescriptionRevoked,
		OrgID:        actor.OrgID,
		ActorID:      actor.UserID,
		ActorRole:    actor.Role,
		ResourceType: "prescription",
		ResourceID:   prescriptionID,
		PatientID:    patientID,
		Tags:         []string{"phi", "write"},
	})
}

// LogDocumentAccess records an issued upload or download URL for a document.
func (s *AuditService) LogDocumentAccess(ctx context.Context, actor Actor, key, patientID string, upload bool) error {
	eventType, tag := EventDocumentAccessed, "read"
	if upload {
		eventType, tag = EventDocumentUploaded, "write"
	}
	return s.LogEvent(ctx, AuditEvent{
		EventType:    eventType,
		OrgID:        actor.OrgID,
		ActorID:      actor.UserID,
		ActorRole:    actor.Role,
		ResourceType: "document",
		ResourceID:   key,
		PatientID:    patientID,
		Tags:         []string{"phi", tag},
	})
}

func (s *AuditService) LogAppointmentCancelled(ctx context.Context, actor Actor, appointmentID, patientID string) error {
	return s.LogEvent(ctx, AuditEvent{
		EventType:    EventAppointmentCancelled,
		OrgID:        actor.OrgID,
		ActorID:      actor.UserID,
		ActorRole:    actor.Role,
		ResourceType: "appointment",
		ResourceID:   appointmentID,
		PatientID:    patientID,
		Tags:         []string{"scheduling"},
	})
}

// QueryEvents retrieves audit events with filters, newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, org_id, actor_id, actor_role, resource_type,
			   resource_id, patient_id, tags, details, created_at
		FROM audit_events
		WHERE org_id = $1
	`
	args := []interface{}{filter.OrgID}
	argIdx := 2

	if filter.PatientID != "" {
		query += fmt.Sprintf(" AND patient_id = $%d", argIdx)
		args = append(args, filter.PatientID)
		argIdx++
	}
	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argIdx)
		args = append(args, filter.ActorID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, string(filter.EventType))
		argIdx++
	}
	if filter.Tag != "" {
		query += fmt.Sprintf(" AND $%d = ANY(tags)", argIdx)
		args = append(args, filter.Tag)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var role, patientID sql.NullString
		var details []byte
		err := rows.Scan(
			&e.ID, &e.EventType, &e.OrgID, &e.ActorID, &role, &e.ResourceType,
			&e.ResourceID, &patientID, pq.Array(&e.Tags), &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.ActorRole = role.String
		e.PatientID = patientID.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	OrgID     string
	PatientID string
	ActorID   string
	EventType AuditEventType
	Tag       string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
