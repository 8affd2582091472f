package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-portal/internal/availability"
	"github.com/wolfman30/clinic-portal/internal/clinic"
	"github.com/wolfman30/clinic-portal/internal/compliance"
	"github.com/wolfman30/clinic-portal/internal/notify"
	"github.com/wolfman30/clinic-portal/internal/observability/metrics"
	"github.com/wolfman30/clinic-portal/internal/retry"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

var appointmentsTracer = otel.Tracer("clinic.internal.appointments")

type store interface {
	Create(ctx context.Context, appt *Appointment) error
	Get(ctx context.Context, orgID, id string) (*Appointment, error)
	List(ctx context.Context, f ListFilter) ([]Appointment, error)
	ReservedTimes(ctx context.Context, orgID, doctorID, date string) ([]string, error)
	Transition(ctx context.Context, orgID, id string, next Status, actorID string) (*Appointment, error)
}

// doctorDirectory resolves a user inside one organization.
type doctorDirectory interface {
	Lookup(ctx context.Context, orgID, userID string) (*notify.Contact, error)
}

type clinicConfigs interface {
	Get(ctx context.Context, orgID string) (*clinic.Config, error)
}

// ReminderScheduler queues a reminder to fire at the given instant.
type ReminderScheduler interface {
	ScheduleReminder(ctx context.Context, appt Appointment, at time.Time) error
}

type auditor interface {
	LogAppointmentCancelled(ctx context.Context, actor compliance.Actor, appointmentID, patientID string) error
}

// Service implements booking rules on top of the repository.
type Service struct {
	repo      store
	clinics   clinicConfigs
	doctors   doctorDirectory
	resolver  *availability.Resolver
	reminders ReminderScheduler
	audit     auditor
	retry     retry.Config
	metrics   *metrics.SchedulingMetrics
	logger    *logging.Logger
	now       func() time.Time
}

func NewService(repo store, clinics clinicConfigs, doctors doctorDirectory, logger *logging.Logger) *Service {
	if repo == nil {
		panic("appointments: repository required")
	}
	if clinics == nil {
		panic("appointments: clinic config store required")
	}
	if doctors == nil {
		panic("appointments: doctor directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		repo:    repo,
		clinics: clinics,
		doctors: doctors,
		retry:   retry.Config{Name: "reservation_lookup"},
		logger:  logger.Named("appointments"),
		now:     time.Now,
	}
	s.resolver = availability.NewResolver(availability.LookupFunc(s.lookupReserved), logger)
	return s
}

// WithRetry sets the retry budget for the reservation lookup.
func (s *Service) WithRetry(cfg retry.Config) *Service {
	if cfg.Name == "" {
		cfg.Name = "reservation_lookup"
	}
	s.retry = cfg
	return s
}

func (s *Service) WithMetrics(m *metrics.SchedulingMetrics) *Service {
	s.metrics = m
	s.resolver.WithMetrics(m)
	return s
}

func (s *Service) WithReminders(r ReminderScheduler) *Service {
	s.reminders = r
	return s
}

func (s *Service) WithAuditor(a auditor) *Service {
	s.audit = a
	return s
}

func (s *Service) lookupReserved(ctx context.Context, orgID, doctorID, date string) ([]string, error) {
	cfg := s.retry
	cfg.OnRetry = func(attempt int) {
		s.logger.Debug("retrying reservation lookup", "org_id", orgID, "doctor_id", doctorID, "date", date, "attempt", attempt)
	}
	return retry.Do(ctx, cfg, func(ctx context.Context) ([]string, error) {
		return s.repo.ReservedTimes(ctx, orgID, doctorID, date)
	})
}

// requireDoctor fails with ErrUnknownDoctor unless doctorID is a doctor of orgID.
func (s *Service) requireDoctor(ctx context.Context, orgID, doctorID string) error {
	contact, err := s.doctors.Lookup(ctx, orgID, doctorID)
	if err != nil {
		if errors.Is(err, notify.ErrContactNotFound) {
			return ErrUnknownDoctor
		}
		return fmt.Errorf("appointments: resolve doctor: %w", err)
	}
	if contact.OrgID != orgID || contact.Role != tenancy.RoleDoctor {
		return ErrUnknownDoctor
	}
	return nil
}

// Availability returns the open slots for a doctor on a date using the
// clinic's working hours and lookup policy. Closed days have no slots.
func (s *Service) Availability(ctx context.Context, orgID, doctorID, date string) (*availability.Result, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.availability")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.org_id", orgID),
		attribute.String("clinic.doctor_id", doctorID),
		attribute.String("clinic.date", date),
	)

	doctorID = strings.TrimSpace(doctorID)
	if doctorID != "" {
		if err := s.requireDoctor(ctx, orgID, doctorID); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	cfg, err := s.clinics.Get(ctx, orgID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if _, err := time.Parse(availability.DateLayout, date); err == nil && !cfg.IsOpenOn(date) {
		return &availability.Result{ProviderID: doctorID, Date: date, Slots: []string{}}, nil
	}
	res, err := s.resolver.Resolve(ctx, availability.Query{
		OrgID:      orgID,
		ProviderID: doctorID,
		Date:       date,
		Grid:       cfg.Grid(),
		Policy:     cfg.LookupPolicy,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("clinic.slots", len(res.Slots)), attribute.Bool("clinic.degraded", res.Degraded))
	return res, nil
}

// BookRequest is the input to Book. PatientID is ignored for patients, who
// always book for themselves.
type BookRequest struct {
	PatientID string `json:"patient_id,omitempty"`
	DoctorID  string `json:"doctor_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Reason    string `json:"reason,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Book validates the requested slot against the clinic grid and inserts the
// appointment. The storage layer rejects a slot that is already held.
func (s *Service) Book(ctx context.Context, p tenancy.Principal, req BookRequest) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.book")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.org_id", p.OrgID), attribute.String("clinic.doctor_id", req.DoctorID))

	patientID := strings.TrimSpace(req.PatientID)
	if p.Role == tenancy.RolePatient {
		patientID = p.UserID
	}
	doctorID := strings.TrimSpace(req.DoctorID)
	if patientID == "" || doctorID == "" {
		return nil, fmt.Errorf("%w: patient_id and doctor_id required", ErrInvalidRequest)
	}
	if _, err := time.Parse(availability.DateLayout, req.Date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	slot, ok := availability.NormalizeTime(req.Time)
	if !ok {
		return nil, fmt.Errorf("%w: time must be HH:MM", ErrInvalidRequest)
	}
	if err := s.requireDoctor(ctx, p.OrgID, doctorID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	cfg, err := s.clinics.Get(ctx, p.OrgID)
	if err != nil {
		return nil, err
	}
	if !cfg.IsOpenOn(req.Date) {
		return nil, ErrClinicClosed
	}
	if !cfg.Grid().Contains(slot) {
		return nil, ErrOffGrid
	}
	startsAt, err := cfg.StartsAt(req.Date, slot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !startsAt.After(s.now()) {
		return nil, ErrInPast
	}

	appt := &Appointment{
		OrgID:     p.OrgID,
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      req.Date,
		Time:      slot,
		StartsAt:  startsAt.UTC(),
		Reason:    strings.TrimSpace(req.Reason),
		Notes:     strings.TrimSpace(req.Notes),
	}
	if err := s.repo.Create(ctx, appt); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			s.metrics.ObserveBooking("conflict")
			s.logger.Info("booking conflict", "org_id", p.OrgID, "doctor_id", doctorID, "date", req.Date, "time", slot)
		} else {
			s.metrics.ObserveBooking("error")
		}
		span.RecordError(err)
		return nil, err
	}
	s.metrics.ObserveBooking("booked")
	s.logger.Info("appointment booked", "org_id", p.OrgID, "appointment_id", appt.ID, "doctor_id", doctorID, "date", req.Date, "time", slot)

	s.scheduleReminder(ctx, cfg, *appt)
	return appt, nil
}

func (s *Service) scheduleReminder(ctx context.Context, cfg *clinic.Config, appt Appointment) {
	if s.reminders == nil || cfg.ReminderLead() == 0 {
		return
	}
	at := appt.StartsAt.Add(-cfg.ReminderLead())
	if !at.After(s.now()) {
		return
	}
	if err := s.reminders.ScheduleReminder(ctx, appt, at); err != nil {
		s.logger.Warn("failed to schedule reminder", "appointment_id", appt.ID, "error", err)
	}
}

// Get returns an appointment visible to p.
func (s *Service) Get(ctx context.Context, p tenancy.Principal, id string) (*Appointment, error) {
	appt, err := s.repo.Get(ctx, p.OrgID, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(p, appt) {
		return nil, ErrForbidden
	}
	return appt, nil
}

// List returns the caller's appointments: patients see their own, doctors
// their schedule, admins the whole clinic (optionally one doctor).
func (s *Service) List(ctx context.Context, p tenancy.Principal, f ListFilter) ([]Appointment, error) {
	f.OrgID = p.OrgID
	switch p.Role {
	case tenancy.RolePatient:
		f.PatientID = p.UserID
	case tenancy.RoleDoctor:
		f.DoctorID = p.UserID
	}
	list, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []Appointment{}
	}
	return list, nil
}

// Cancel cancels an appointment owned by the patient, or any appointment
// for staff. Cancelled slots become available again.
func (s *Service) Cancel(ctx context.Context, p tenancy.Principal, id string) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.cancel")
	defer span.End()

	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, err
	}
	appt, err := s.repo.Transition(ctx, p.OrgID, id, StatusCancelled, p.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.metrics.ObserveBooking("cancelled")
	s.logger.Info("appointment cancelled", "org_id", p.OrgID, "appointment_id", id, "by", p.UserID)
	if s.audit != nil {
		actor := compliance.Actor{OrgID: p.OrgID, UserID: p.UserID, Role: string(p.Role)}
		if err := s.audit.LogAppointmentCancelled(ctx, actor, id, appt.PatientID); err != nil {
			s.logger.Error("failed to audit cancellation", "error", err, "appointment_id", id)
		}
	}
	return appt, nil
}

// UpdateStatus lets the assigned doctor or an admin confirm or complete an
// appointment.
func (s *Service) UpdateStatus(ctx context.Context, p tenancy.Principal, id string, next Status) (*Appointment, error) {
	if next != StatusConfirmed && next != StatusCompleted {
		return nil, fmt.Errorf("%w: status must be confirmed or completed", ErrInvalidRequest)
	}
	if !p.IsStaff() {
		return nil, ErrForbidden
	}
	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, err
	}
	appt, err := s.repo.Transition(ctx, p.OrgID, id, next, p.UserID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("appointment status changed", "org_id", p.OrgID, "appointment_id", id, "status", next)
	return appt, nil
}

func canAccess(p tenancy.Principal, appt *Appointment) bool {
	switch p.Role {
	case tenancy.RolePatient:
		return appt.PatientID == p.UserID
	case tenancy.RoleDoctor:
		return appt.DoctorID == p.UserID
	case tenancy.RoleAdmin, tenancy.RoleSuperAdmin:
		return true
	default:
		return false
	}
}
