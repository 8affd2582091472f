// Package prescriptions lets doctors issue and revoke prescriptions and lets
// patients read their own. Every read is written to the compliance audit trail.
package prescriptions

import (
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("prescriptions: not found")
	ErrForbidden        = errors.New("prescriptions: forbidden")
	ErrInvalidRequest   = errors.New("prescriptions: invalid request")
	ErrAlreadyRevoked   = errors.New("prescriptions: already revoked")
	ErrAuditUnavailable = errors.New("prescriptions: audit trail unavailable")
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusRevoked   Status = "revoked"
)

// Medication is one line of a prescription. DurationDays of zero means the
// course has no fixed end.
type Medication struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	DurationDays int    `json:"duration_days,omitempty"`
}

type Prescription struct {
	ID            string       `json:"id"`
	OrgID         string       `json:"org_id"`
	AppointmentID string       `json:"appointment_id,omitempty"`
	PatientID     string       `json:"patient_id"`
	DoctorID      string       `json:"doctor_id"`
	Medications   []Medication `json:"medications"`
	Notes         string       `json:"notes,omitempty"`
	Status        Status       `json:"status"`
	IssuedAt      time.Time    `json:"issued_at"`
	RevokedAt     *time.Time   `json:"revoked_at,omitempty"`
}

// MedicationNames lists the medication names in order.
func (p *Prescription) MedicationNames() []string {
	names := make([]string, 0, len(p.Medications))
	for _, m := range p.Medications {
		names = append(names, m.Name)
	}
	return names
}

// EffectiveStatus reports an active prescription as completed once every
// fixed-length course has ended.
func (p *Prescription) EffectiveStatus(now time.Time) Status {
	if p.Status != StatusActive || len(p.Medications) == 0 {
		return p.Status
	}
	var longest int
	for _, m := range p.Medications {
		if m.DurationDays <= 0 {
			return StatusActive
		}
		longest = max(longest, m.DurationDays)
	}
	if now.Before(p.IssuedAt.AddDate(0, 0, longest)) {
		return StatusActive
	}
	return StatusCompleted
}
