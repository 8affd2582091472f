package clinic

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-portal/internal/availability"
)

// ErrInvalidConfig wraps validation failures on Set.
var ErrInvalidConfig = errors.New("clinic: invalid config")

// Defaults seed configs for orgs that have never saved one.
type Defaults struct {
	WorkStart         int
	WorkEnd           int
	SlotMinutes       int
	ReminderLeadHours int
}

// StandardDefaults is 09:00-17:00, 30-minute slots, reminders 24h ahead.
var StandardDefaults = Defaults{WorkStart: 9, WorkEnd: 17, SlotMinutes: 30, ReminderLeadHours: 24}

// Config is the per-clinic scheduling and contact configuration.
type Config struct {
	OrgID        string `json:"org_id"`
	Name         string `json:"name"`
	Timezone     string `json:"timezone"` // e.g., "America/New_York"
	ContactEmail string `json:"contact_email,omitempty"`

	WorkStart   int `json:"work_start"`
	WorkEnd     int `json:"work_end"`
	SlotMinutes int `json:"slot_minutes"`
	// ClosedDays are lowercase weekday names with no bookable slots.
	ClosedDays []string `json:"closed_days,omitempty"`

	// LookupPolicy is what availability shows when reservations cannot be read.
	LookupPolicy      availability.LookupErrorPolicy `json:"lookup_policy"`
	ReminderLeadHours int                            `json:"reminder_lead_hours"`

	VisitFeeCents int    `json:"visit_fee_cents"`
	Currency      string `json:"currency"`
}

func DefaultConfig(orgID string, d Defaults) *Config {
	if d == (Defaults{}) {
		d = StandardDefaults
	}
	return &Config{
		OrgID:             orgID,
		Name:              "Clinic",
		Timezone:          "America/New_York",
		WorkStart:         d.WorkStart,
		WorkEnd:           d.WorkEnd,
		SlotMinutes:       d.SlotMinutes,
		ClosedDays:        []string{"saturday", "sunday"},
		LookupPolicy:      availability.PolicyAssumeAvailable,
		ReminderLeadHours: d.ReminderLeadHours,
		VisitFeeCents:     0,
		Currency:          "usd",
	}
}

// Grid is the clinic's working window as an availability grid.
func (c *Config) Grid() availability.Grid {
	return availability.Grid{
		WorkStart:          c.WorkStart,
		WorkEnd:            c.WorkEnd,
		GranularityMinutes: c.SlotMinutes,
	}
}

// Location falls back to UTC when Timezone is unset or unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil || c.Timezone == "" {
		return time.UTC
	}
	return loc
}

// IsOpenOn reports whether the clinic takes bookings on the given date
// (YYYY-MM-DD).
func (c *Config) IsOpenOn(date string) bool {
	day, err := time.Parse(availability.DateLayout, date)
	if err != nil {
		return false
	}
	weekday := strings.ToLower(day.Weekday().String())
	for _, closed := range c.ClosedDays {
		if strings.EqualFold(strings.TrimSpace(closed), weekday) {
			return false
		}
	}
	return true
}

// ReminderLead is how long before an appointment its reminder fires.
func (c *Config) ReminderLead() time.Duration {
	if c.ReminderLeadHours <= 0 {
		return 0
	}
	return time.Duration(c.ReminderLeadHours) * time.Hour
}

// StartsAt converts a booked date and HH:MM time into an instant in the
// clinic's timezone.
func (c *Config) StartsAt(date, hhmm string) (time.Time, error) {
	return time.ParseInLocation(availability.DateLayout+" 15:04", date+" "+hhmm, c.Location())
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.OrgID) == "" {
		return fmt.Errorf("%w: org_id required", ErrInvalidConfig)
	}
	if err := c.Grid().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := availability.ParsePolicy(string(c.LookupPolicy)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidConfig, c.Timezone)
		}
	}
	for _, day := range c.ClosedDays {
		if !isWeekday(day) {
			return fmt.Errorf("%w: unknown weekday %q", ErrInvalidConfig, day)
		}
	}
	if c.ReminderLeadHours < 0 || c.VisitFeeCents < 0 {
		return fmt.Errorf("%w: negative reminder lead or visit fee", ErrInvalidConfig)
	}
	return nil
}

func isWeekday(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return true
		}
	}
	return false
}
