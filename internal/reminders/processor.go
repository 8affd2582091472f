package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/wolfman30/clinic-portal/internal/appointments"
	"github.com/wolfman30/clinic-portal/internal/events"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

var reminderNamespace = uuid.MustParse("0b7c5f5e-3f0e-4d43-9a55-5c1f2e7d9a10")

type appointmentReader interface {
	Get(ctx context.Context, orgID, id string) (*appointments.Appointment, error)
}

// Processor handles due reminder tasks by dispatching an
// appointment.reminder.v1 entry to the notification handler.
type Processor struct {
	appointments appointmentReader
	dispatcher   events.DeliveryHandler
	logger       *logging.Logger
	now          func() time.Time
}

func NewProcessor(appts appointmentReader, dispatcher events.DeliveryHandler, logger *logging.Logger) *Processor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		appointments: appts,
		dispatcher:   dispatcher,
		logger:       logger.Named("reminders"),
		now:          time.Now,
	}
}

// ProcessTask implements asynq.Handler.
func (p *Processor) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload Payload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.AppointmentID == "" {
		p.logger.Error("invalid reminder payload", "error", err)
		return fmt.Errorf("reminders: invalid payload: %w", asynq.SkipRetry)
	}

	appt, err := p.appointments.Get(ctx, payload.OrgID, payload.AppointmentID)
	if err != nil {
		if errors.Is(err, appointments.ErrNotFound) {
			p.logger.Warn("reminder for missing appointment", "appointment_id", payload.AppointmentID)
			return nil
		}
		return fmt.Errorf("reminders: load appointment: %w", err)
	}
	if appt.Status == appointments.StatusCancelled || appt.Status == appointments.StatusCompleted {
		p.logger.Info("skipping reminder", "appointment_id", appt.ID, "status", appt.Status)
		return nil
	}

	body, err := json.Marshal(events.AppointmentReminderV1{
		AppointmentID: appt.ID,
		OrgID:         appt.OrgID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		Date:          appt.Date,
		Time:          appt.Time,
		StartsAt:      appt.StartsAt,
	})
	if err != nil {
		return fmt.Errorf("reminders: encode event: %w", err)
	}
	entry := events.OutboxEntry{
		ID:        uuid.NewSHA1(reminderNamespace, []byte(appt.ID+"|"+appt.StartsAt.UTC().Format(time.RFC3339))),
		OrgID:     appt.OrgID,
		Type:      events.TypeAppointmentReminder,
		Payload:   body,
		CreatedAt: p.now().UTC(),
	}
	if err := p.dispatcher.Handle(ctx, entry); err != nil {
		return fmt.Errorf("reminders: dispatch: %w", err)
	}
	p.logger.Info("reminder sent", "appointment_id", appt.ID, "org_id", appt.OrgID)
	return nil
}

// NewServeMux routes reminder tasks to p.
func NewServeMux(p *Processor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeAppointmentReminder, p)
	return mux
}

// NewServer builds the asynq worker server for reminder tasks.
func NewServer(opt asynq.RedisConnOpt, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 5
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{"default": 1},
		LogLevel:    asynq.WarnLevel,
	})
}
