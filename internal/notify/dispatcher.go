package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-portal/internal/clinic"
	"github.com/wolfman30/clinic-portal/internal/events"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

type notificationCreator interface {
	Create(ctx context.Context, n *Notification) (bool, error)
}

// ClinicConfigStore retrieves clinic configuration.
type ClinicConfigStore interface {
	Get(ctx context.Context, orgID string) (*clinic.Config, error)
}

// Dispatcher turns outbox events into in-app notifications and emails. It is
// an events.DeliveryHandler, so it runs either behind the in-process outbox
// deliverer or behind the queue consumer in the notify worker.
type Dispatcher struct {
	notifications notificationCreator
	directory     Directory
	email         EmailSender
	clinics       ClinicConfigStore
	logger        *logging.Logger
}

func NewDispatcher(notifications notificationCreator, directory Directory, email EmailSender, logger *logging.Logger) *Dispatcher {
	if notifications == nil {
		panic("notify: notification store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		notifications: notifications,
		directory:     directory,
		email:         email,
		logger:        logger.Named("notify"),
	}
}

// WithClinics lets emails carry the clinic name.
func (d *Dispatcher) WithClinics(store ClinicConfigStore) *Dispatcher {
	d.clinics = store
	return d
}

type delivery struct {
	userID string
	kind   string
	title  string
	body   string
	email  bool
}

// Handle implements events.DeliveryHandler. Unknown event types are ignored.
func (d *Dispatcher) Handle(ctx context.Context, entry events.OutboxEntry) error {
	deliveries, err := d.plan(ctx, entry)
	if err != nil {
		return err
	}
	var errs []error
	for _, del := range deliveries {
		if err := d.deliver(ctx, entry, del); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) plan(ctx context.Context, entry events.OutboxEntry) ([]delivery, error) {
	switch entry.Type {
	case events.TypeAppointmentBooked:
		var evt events.AppointmentBookedV1
		if err := entry.Decode(&evt); err != nil {
			return nil, err
		}
		when := formatSlot(evt.Date, evt.Time)
		return []delivery{
			{userID: evt.PatientID, kind: "appointment_booked", title: "Appointment booked", body: fmt.Sprintf("Your appointment on %s is booked.", when), email: true},
			{userID: evt.DoctorID, kind: "appointment_booked", title: "New appointment", body: fmt.Sprintf("A patient booked %s.", when)},
		}, nil

	case events.TypeAppointmentCancelled:
		var evt events.AppointmentCancelledV1
		if err := entry.Decode(&evt); err != nil {
			return nil, err
		}
		body := fmt.Sprintf("The appointment on %s was cancelled.", formatSlot(evt.Date, evt.Time))
		return []delivery{
			{userID: evt.PatientID, kind: "appointment_cancelled", title: "Appointment cancelled", body: body, email: true},
			{userID: evt.DoctorID, kind: "appointment_cancelled", title: "Appointment cancelled", body: body, email: true},
		}, nil

	case events.TypeAppointmentStatus:
		var evt events.AppointmentStatusChangedV1
		if err := entry.Decode(&evt); err != nil {
			return nil, err
		}
		return []delivery{
			{userID: evt.PatientID, kind: "appointment_" + evt.To, title: "Appointment " + evt.To, body: fmt.Sprintf("Your appointment is now %s.", evt.To)},
		}, nil

	case events.TypeAppointmentReminder:
		var evt events.AppointmentReminderV1
		if err := entry.Decode(&evt); err != nil {
			return nil, err
		}
		when := formatSlot(evt.Date, evt.Time)
		return []delivery{
			{userID: evt.PatientID, kind: "appointment_reminder", title: "Appointment reminder", body: fmt.Sprintf("Reminder: you have an appointment on %s.", when), email: true},
			{userID: evt.DoctorID, kind: "appointment_reminder", title: "Upcoming appointment", body: fmt.Sprintf("Reminder: appointment on %s.", when)},
		}, nil

	case events.TypePrescriptionIssued:
		var evt events.PrescriptionIssuedV1
		if err := entry.Decode(&evt); err != nil {
			return nil, err
		}
		body := "A new prescription was issued to you."
		if len(evt.Medications) > 0 {
			body = fmt.Sprintf("A new prescription was issued: %s.", strings.Join(evt.Medications, ", "))
		}
		return []delivery{
			{userID: evt.PatientID, kind: "prescription_issued", title: "New prescription", body: body, email: true},
		}, nil

	case events.TypeMessageSent:
		var evt events.MessageSentV1
		if err := entry.Decode(&evt); err != nil {
			return nil, err
		}
		return []delivery{
			{userID: evt.RecipientID, kind: "message", title: "New message", body: evt.Preview},
		}, nil

	case events.TypeInvoicePaid:
		var evt events.InvoicePaidV1
		if err := entry.Decode(&evt); err != nil {
			return nil, err
		}
		return []delivery{
			{userID: evt.PatientID, kind: "invoice_paid", title: "Payment received", body: fmt.Sprintf("We received your payment of %s.", formatAmount(evt.AmountCents, evt.Currency)), email: true},
		}, nil

	case events.TypeSubscriptionActivated:
		var evt events.SubscriptionActivatedV1
		if err := entry.Decode(&evt); err != nil {
			return nil, err
		}
		if d.directory == nil {
			return nil, nil
		}
		admins, err := d.directory.ByRole(ctx, entry.OrgID, tenancy.RoleAdmin)
		if err != nil {
			return nil, err
		}
		out := make([]delivery, 0, len(admins))
		for _, a := range admins {
			out = append(out, delivery{
				userID: a.UserID,
				kind:   "subscription_activated",
				title:  "Subscription active",
				body:   fmt.Sprintf("Your %s plan is active.", evt.Plan),
				email:  true,
			})
		}
		return out, nil

	default:
		d.logger.Debug("no notifications for event type", "type", entry.Type)
		return nil, nil
	}
}

// deliver writes the in-app row and, for a first delivery, sends the email.
// A failed email after retries is logged; the in-app notification stands.
func (d *Dispatcher) deliver(ctx context.Context, entry events.OutboxEntry, del delivery) error {
	if del.userID == "" {
		return nil
	}
	n := &Notification{
		OrgID:   entry.OrgID,
		UserID:  del.userID,
		EventID: entry.ID.String(),
		Kind:    del.kind,
		Title:   del.title,
		Body:    del.body,
	}
	created, err := d.notifications.Create(ctx, n)
	if err != nil {
		return err
	}
	if !created {
		d.logger.Debug("notification already delivered", "event_id", entry.ID, "user_id", del.userID)
		return nil
	}
	if !del.email || d.email == nil || d.directory == nil {
		return nil
	}

	contact, err := d.directory.Lookup(ctx, entry.OrgID, del.userID)
	if err != nil {
		d.logger.Warn("no contact for notification email", "user_id", del.userID, "error", err)
		return nil
	}
	if contact.Email == "" {
		return nil
	}
	subject := del.title
	if name := d.clinicName(ctx, entry.OrgID); name != "" {
		subject = fmt.Sprintf("%s - %s", name, del.title)
	}
	if err := d.email.Send(ctx, EmailMessage{
		To:       contact.Email,
		ToName:   contact.Name,
		Subject:  subject,
		Body:     del.body,
		OrgID:    entry.OrgID,
		Category: entry.Type,
	}); err != nil {
		d.logger.Error("notification email failed", "error", err, "event_id", entry.ID, "user_id", del.userID)
	}
	return nil
}

func (d *Dispatcher) clinicName(ctx context.Context, orgID string) string {
	if d.clinics == nil {
		return ""
	}
	cfg, err := d.clinics.Get(ctx, orgID)
	if err != nil {
		return ""
	}
	return cfg.Name
}

func formatSlot(date, hhmm string) string {
	t, err := time.Parse("2006-01-02 15:04", date+" "+hhmm)
	if err != nil {
		return strings.TrimSpace(date + " " + hhmm)
	}
	return t.Format("Monday, January 2 at 3:04 PM")
}

func formatAmount(cents int64, currency string) string {
	if currency == "" || strings.EqualFold(currency, "usd") {
		return fmt.Sprintf("$%.2f", float64(cents)/100)
	}
	return fmt.Sprintf("%.2f %s", float64(cents)/100, strings.ToUpper(currency))
}

var _ events.DeliveryHandler = (*Dispatcher)(nil)
