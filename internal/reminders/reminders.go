// Package reminders schedules appointment reminders on an asynq queue and
// turns due reminders into appointment.reminder.v1 notifications.
package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wolfman30/clinic-portal/internal/appointments"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

// TypeAppointmentReminder is the asynq task type.
const TypeAppointmentReminder = "appointment:reminder"

// Payload identifies the appointment to remind about. Details are re-read
// when the task fires so edits and cancellations are honoured.
type Payload struct {
	AppointmentID string `json:"appointment_id"`
	OrgID         string `json:"org_id"`
}

// NewReminderTask builds a task processed at fireAt. The task id is derived
// from the appointment so rescheduling the same appointment is a no-op.
func NewReminderTask(p Payload, fireAt time.Time) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeAppointmentReminder, b)
	opts := []asynq.Option{
		asynq.ProcessAt(fireAt),
		asynq.TaskID("reminder:" + p.AppointmentID),
		asynq.MaxRetry(5),
	}
	return task, opts, nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler enqueues reminders. It satisfies appointments.ReminderScheduler.
type Scheduler struct {
	client enqueuer
	logger *logging.Logger
}

func NewScheduler(client enqueuer, logger *logging.Logger) *Scheduler {
	if client == nil {
		panic("reminders: asynq client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{client: client, logger: logger.Named("reminders")}
}

func (s *Scheduler) ScheduleReminder(ctx context.Context, appt appointments.Appointment, at time.Time) error {
	task, opts, err := NewReminderTask(Payload{AppointmentID: appt.ID, OrgID: appt.OrgID}, at)
	if err != nil {
		return fmt.Errorf("reminders: build task: %w", err)
	}
	info, err := s.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			s.logger.Debug("reminder already scheduled", "appointment_id", appt.ID)
			return nil
		}
		return fmt.Errorf("reminders: enqueue: %w", err)
	}
	s.logger.Info("reminder scheduled", "appointment_id", appt.ID, "org_id", appt.OrgID, "fire_at", at, "task_id", info.ID)
	return nil
}
