package clinic

import (
	"errors"
	"testing"
	"time"

	"github.com/wolfman30/clinic-portal/internal/availability"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("org-1", Defaults{})
	if cfg.Grid() != availability.DefaultGrid {
		t.Fatalf("expected default grid, got %+v", cfg.Grid())
	}
	if cfg.LookupPolicy != availability.PolicyAssumeAvailable {
		t.Fatalf("expected assume_available, got %q", cfg.LookupPolicy)
	}
	if cfg.ReminderLead() != 24*time.Hour {
		t.Fatalf("expected 24h reminder lead, got %s", cfg.ReminderLead())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	custom := DefaultConfig("org-2", Defaults{WorkStart: 8, WorkEnd: 12, SlotMinutes: 15, ReminderLeadHours: 2})
	if custom.Grid().Len() != 16 {
		t.Fatalf("expected 16 slots from custom defaults, got %d", custom.Grid().Len())
	}
}

func TestIsOpenOn(t *testing.T) {
	cfg := DefaultConfig("org-1", StandardDefaults)
	if !cfg.IsOpenOn("2026-03-02") { // Monday
		t.Fatalf("expected open on Monday")
	}
	if cfg.IsOpenOn("2026-03-07") { // Saturday
		t.Fatalf("expected closed on Saturday")
	}
	if cfg.IsOpenOn("not-a-date") {
		t.Fatalf("expected invalid date to be closed")
	}
	cfg.ClosedDays = nil
	if !cfg.IsOpenOn("2026-03-08") {
		t.Fatalf("expected open on Sunday with no closed days")
	}
}

func TestStartsAtUsesClinicTimezone(t *testing.T) {
	cfg := DefaultConfig("org-1", StandardDefaults)
	cfg.Timezone = "America/Chicago"
	at, err := cfg.StartsAt("2026-03-02", "09:30")
	if err != nil {
		t.Fatalf("StartsAt: %v", err)
	}
	if got := at.UTC().Format(time.RFC3339); got != "2026-03-02T15:30:00Z" {
		t.Fatalf("expected 15:30 UTC, got %s", got)
	}

	cfg.Timezone = "Mars/Olympus"
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC fallback for unknown timezone")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing org", func(c *Config) { c.OrgID = "" }},
		{"inverted hours", func(c *Config) { c.WorkStart, c.WorkEnd = 17, 9 }},
		{"bad granularity", func(c *Config) { c.SlotMinutes = 45 }},
		{"unknown policy", func(c *Config) { c.LookupPolicy = "optimistic" }},
		{"unknown timezone", func(c *Config) { c.Timezone = "Nowhere/City" }},
		{"unknown weekday", func(c *Config) { c.ClosedDays = []string{"funday"} }},
		{"negative fee", func(c *Config) { c.VisitFeeCents = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("org-1", StandardDefaults)
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
