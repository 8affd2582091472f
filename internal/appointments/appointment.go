// Package appointments books, lists and transitions clinic appointments.
//
// The appointments table carries a partial unique index on
// (doctor_id, appointment_date, appointment_time) for rows that are not
// cancelled. That index is the only conflict check; availability is advisory.
package appointments

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("appointments: not found")
	ErrSlotTaken         = errors.New("appointments: slot already booked")
	ErrForbidden         = errors.New("appointments: forbidden")
	ErrInvalidTransition = errors.New("appointments: invalid status transition")
	ErrInvalidRequest    = errors.New("appointments: invalid request")
	ErrClinicClosed      = errors.New("appointments: clinic closed on date")
	ErrOffGrid           = errors.New("appointments: time is not a bookable slot")
	ErrInPast            = errors.New("appointments: time is in the past")
	ErrUnknownDoctor     = errors.New("appointments: doctor not found in organization")
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// CanTransition reports whether an appointment in s may move to next.
// Completed and cancelled are terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusScheduled:
		return next == StatusConfirmed || next == StatusCompleted || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCompleted || next == StatusCancelled
	default:
		return false
	}
}

func ParseStatus(raw string) (Status, bool) {
	switch s := Status(raw); s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled:
		return s, true
	default:
		return "", false
	}
}

// Appointment is one booked visit. Date is YYYY-MM-DD and Time is HH:MM in
// the clinic's timezone; StartsAt is the same instant in UTC.
type Appointment struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	PatientID string    `json:"patient_id"`
	DoctorID  string    `json:"doctor_id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	StartsAt  time.Time `json:"starts_at"`
	Reason    string    `json:"reason,omitempty"`
	Status    Status    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilter narrows List. Empty fields are ignored.
type ListFilter struct {
	OrgID     string
	PatientID string
	DoctorID  string
	Date      string
	Status    Status
	Limit     int
}
