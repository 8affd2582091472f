package prescriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/wolfman30/clinic-portal/internal/appointments"
	"github.com/wolfman30/clinic-portal/internal/compliance"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

var prescriptionsTracer = otel.Tracer("clinic.internal.prescriptions")

const maxMedications = 20

type store interface {
	Create(ctx context.Context, rx *Prescription) error
	Get(ctx context.Context, orgID, id string) (*Prescription, error)
	ListForPatient(ctx context.Context, orgID, patientID string, limit int) ([]Prescription, error)
	ListForDoctor(ctx context.Context, orgID, doctorID string, limit int) ([]Prescription, error)
	Revoke(ctx context.Context, orgID, id string) (*Prescription, error)
}

type appointmentLookup interface {
	Get(ctx context.Context, orgID, id string) (*appointments.Appointment, error)
}

type auditor interface {
	LogPrescriptionViewed(ctx context.Context, actor compliance.Actor, prescriptionID, patientID string) error
	LogPrescriptionIssued(ctx context.Context, actor compliance.Actor, prescriptionID, patientID string, medications []string) error
	LogPrescriptionRevoked(ctx context.Context, actor compliance.Actor, prescriptionID, patientID string) error
}

// Service enforces who may issue and read prescriptions.
type Service struct {
	repo         store
	appointments appointmentLookup
	audit        auditor
	logger       *logging.Logger
	now          func() time.Time
}

func NewService(repo store, audit auditor, logger *logging.Logger) *Service {
	if repo == nil {
		panic("prescriptions: repository required")
	}
	if audit == nil {
		panic("prescriptions: auditor required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:   repo,
		audit:  audit,
		logger: logger.Named("prescriptions"),
		now:    time.Now,
	}
}

// WithAppointments enables checking that a referenced appointment belongs to
// the prescribing doctor and the patient.
func (s *Service) WithAppointments(a appointmentLookup) *Service {
	s.appointments = a
	return s
}

type IssueRequest struct {
	AppointmentID string       `json:"appointment_id,omitempty"`
	PatientID     string       `json:"patient_id"`
	Medications   []Medication `json:"medications"`
	Notes         string       `json:"notes,omitempty"`
}

func (r *IssueRequest) validate() error {
	r.PatientID = strings.TrimSpace(r.PatientID)
	r.AppointmentID = strings.TrimSpace(r.AppointmentID)
	if r.PatientID == "" {
		return fmt.Errorf("%w: patient_id required", ErrInvalidRequest)
	}
	if len(r.Medications) == 0 || len(r.Medications) > maxMedications {
		return fmt.Errorf("%w: between 1 and %d medications required", ErrInvalidRequest, maxMedications)
	}
	for i := range r.Medications {
		m := &r.Medications[i]
		m.Name = strings.TrimSpace(m.Name)
		m.Dosage = strings.TrimSpace(m.Dosage)
		m.Frequency = strings.TrimSpace(m.Frequency)
		if m.Name == "" || m.Dosage == "" {
			return fmt.Errorf("%w: medication %d needs a name and dosage", ErrInvalidRequest, i+1)
		}
		if m.DurationDays < 0 {
			return fmt.Errorf("%w: medication %d has a negative duration", ErrInvalidRequest, i+1)
		}
	}
	return nil
}

// Issue creates a prescription. Only doctors may issue.
func (s *Service) Issue(ctx context.Context, p tenancy.Principal, req IssueRequest) (*Prescription, error) {
	ctx, span := prescriptionsTracer.Start(ctx, "prescriptions.issue")
	defer span.End()

	if p.Role != tenancy.RoleDoctor {
		return nil, ErrForbidden
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.AppointmentID != "" && s.appointments != nil {
		appt, err := s.appointments.Get(ctx, p.OrgID, req.AppointmentID)
		if err != nil {
			if errors.Is(err, appointments.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown appointment", ErrInvalidRequest)
			}
			return nil, err
		}
		if appt.DoctorID != p.UserID || appt.PatientID != req.PatientID {
			return nil, fmt.Errorf("%w: appointment does not match doctor and patient", ErrInvalidRequest)
		}
	}

	rx := &Prescription{
		OrgID:         p.OrgID,
		AppointmentID: req.AppointmentID,
		PatientID:     req.PatientID,
		DoctorID:      p.UserID,
		Medications:   req.Medications,
		Notes:         strings.TrimSpace(req.Notes),
	}
	if err := s.repo.Create(ctx, rx); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.audit.LogPrescriptionIssued(ctx, actorOf(p), rx.ID, rx.PatientID, rx.MedicationNames()); err != nil {
		s.logger.Error("failed to audit prescription issue", "error", err, "prescription_id", rx.ID)
	}
	s.logger.Info("prescription issued", "org_id", p.OrgID, "prescription_id", rx.ID, "doctor_id", p.UserID)
	return s.present(rx), nil
}

// Get returns one prescription to its patient, its prescriber or an admin.
// The read is refused when it cannot be audited.
func (s *Service) Get(ctx context.Context, p tenancy.Principal, id string) (*Prescription, error) {
	ctx, span := prescriptionsTracer.Start(ctx, "prescriptions.get")
	defer span.End()

	rx, err := s.repo.Get(ctx, p.OrgID, id)
	if err != nil {
		return nil, err
	}
	if !canRead(p, rx) {
		return nil, ErrForbidden
	}
	if err := s.recordView(ctx, p, rx); err != nil {
		return nil, err
	}
	return s.present(rx), nil
}

// List scopes by role: patients see their own, doctors what they issued
// (optionally for one patient) and admins must name a patient.
func (s *Service) List(ctx context.Context, p tenancy.Principal, patientID string, limit int) ([]Prescription, error) {
	ctx, span := prescriptionsTracer.Start(ctx, "prescriptions.list")
	defer span.End()

	var (
		list []Prescription
		err  error
	)
	switch p.Role {
	case tenancy.RolePatient:
		list, err = s.repo.ListForPatient(ctx, p.OrgID, p.UserID, limit)
	case tenancy.RoleDoctor:
		list, err = s.repo.ListForDoctor(ctx, p.OrgID, p.UserID, limit)
		if err == nil && patientID != "" {
			filtered := list[:0]
			for _, rx := range list {
				if rx.PatientID == patientID {
					filtered = append(filtered, rx)
				}
			}
			list = filtered
		}
	case tenancy.RoleAdmin, tenancy.RoleSuperAdmin:
		if patientID == "" {
			return nil, fmt.Errorf("%w: patient_id required", ErrInvalidRequest)
		}
		list, err = s.repo.ListForPatient(ctx, p.OrgID, patientID, limit)
	default:
		return nil, ErrForbidden
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := make([]Prescription, 0, len(list))
	for i := range list {
		if err := s.recordView(ctx, p, &list[i]); err != nil {
			return nil, err
		}
		out = append(out, *s.present(&list[i]))
	}
	return out, nil
}

// Revoke is limited to the prescribing doctor.
func (s *Service) Revoke(ctx context.Context, p tenancy.Principal, id string) (*Prescription, error) {
	ctx, span := prescriptionsTracer.Start(ctx, "prescriptions.revoke")
	defer span.End()

	if p.Role != tenancy.RoleDoctor {
		return nil, ErrForbidden
	}
	rx, err := s.repo.Get(ctx, p.OrgID, id)
	if err != nil {
		return nil, err
	}
	if rx.DoctorID != p.UserID {
		return nil, ErrForbidden
	}
	rx, err = s.repo.Revoke(ctx, p.OrgID, id)
	if err != nil {
		return nil, err
	}
	if err := s.audit.LogPrescriptionRevoked(ctx, actorOf(p), rx.ID, rx.PatientID); err != nil {
		s.logger.Error("failed to audit prescription revoke", "error", err, "prescription_id", rx.ID)
	}
	s.logger.Info("prescription revoked", "org_id", p.OrgID, "prescription_id", rx.ID)
	return s.present(rx), nil
}

func (s *Service) recordView(ctx context.Context, p tenancy.Principal, rx *Prescription) error {
	if err := s.audit.LogPrescriptionViewed(ctx, actorOf(p), rx.ID, rx.PatientID); err != nil {
		s.logger.Error("failed to audit prescription view", "error", err, "prescription_id", rx.ID)
		return fmt.Errorf("%w: %w", ErrAuditUnavailable, err)
	}
	return nil
}

func (s *Service) present(rx *Prescription) *Prescription {
	rx.Status = rx.EffectiveStatus(s.now())
	return rx
}

func canRead(p tenancy.Principal, rx *Prescription) bool {
	switch p.Role {
	case tenancy.RolePatient:
		return rx.PatientID == p.UserID
	case tenancy.RoleDoctor:
		return rx.DoctorID == p.UserID
	case tenancy.RoleAdmin, tenancy.RoleSuperAdmin:
		return true
	default:
		return false
	}
}

func actorOf(p tenancy.Principal) compliance.Actor {
	return compliance.Actor{OrgID: p.OrgID, UserID: p.UserID, Role: string(p.Role)}
}
