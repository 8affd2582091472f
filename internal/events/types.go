package events

import "time"

// Event types written to the outbox.
const (
	TypeAppointmentBooked     = "appointment.booked.v1"
	TypeAppointmentCancelled  = "appointment.cancelled.v1"
	TypeAppointmentReminder   = "appointment.reminder.v1"
	TypeAppointmentStatus     = "appointment.status_changed.v1"
	TypePrescriptionIssued    = "prescription.issued.v1"
	TypeMessageSent           = "message.sent.v1"
	TypeSubscriptionActivated = "subscription.activated.v1"
	TypeInvoicePaid           = "invoice.paid.v1"
)

type AppointmentBookedV1 struct {
	AppointmentID string    `json:"appointment_id"`
	OrgID         string    `json:"org_id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	StartsAt      time.Time `json:"starts_at"`
	Reason        string    `json:"reason,omitempty"`
	BookedAt      time.Time `json:"booked_at"`
}

type AppointmentCancelledV1 struct {
	AppointmentID string    `json:"appointment_id"`
	OrgID         string    `json:"org_id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	CancelledBy   string    `json:"cancelled_by"`
	CancelledAt   time.Time `json:"cancelled_at"`
}

type AppointmentStatusChangedV1 struct {
	AppointmentID string    `json:"appointment_id"`
	OrgID         string    `json:"org_id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	ChangedBy     string    `json:"changed_by"`
	ChangedAt     time.Time `json:"changed_at"`
}

type AppointmentReminderV1 struct {
	AppointmentID string    `json:"appointment_id"`
	OrgID         string    `json:"org_id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	StartsAt      time.Time `json:"starts_at"`
}

type PrescriptionIssuedV1 struct {
	PrescriptionID string    `json:"prescription_id"`
	OrgID          string    `json:"org_id"`
	PatientID      string    `json:"patient_id"`
	DoctorID       string    `json:"doctor_id"`
	Medications    []string  `json:"medications"`
	IssuedAt       time.Time `json:"issued_at"`
}

type MessageSentV1 struct {
	MessageID   string    `json:"message_id"`
	OrgID       string    `json:"org_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Preview     string    `json:"preview"`
	SentAt      time.Time `json:"sent_at"`
}

type SubscriptionActivatedV1 struct {
	OrgID                string     `json:"org_id"`
	Plan                 string     `json:"plan"`
	StripeCustomerID     string     `json:"stripe_customer_id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	ActivatedAt          time.Time  `json:"activated_at"`
}

type InvoicePaidV1 struct {
	InvoiceID   string    `json:"invoice_id"`
	OrgID       string    `json:"org_id"`
	PatientID   string    `json:"patient_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	PaidAt      time.Time `json:"paid_at"`
}
