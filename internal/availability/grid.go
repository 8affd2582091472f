package availability

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidGrid is returned when working hours or granularity are unusable.
var ErrInvalidGrid = errors.New("availability: invalid grid")

// Grid is a working window split into fixed-size slots. WorkEnd is exclusive.
type Grid struct {
	WorkStart          int `json:"work_start"`
	WorkEnd            int `json:"work_end"`
	GranularityMinutes int `json:"granularity_minutes"`
}

// DefaultGrid is 09:00-17:00 in half-hour slots.
var DefaultGrid = Grid{WorkStart: 9, WorkEnd: 17, GranularityMinutes: 30}

func (g Grid) Validate() error {
	if g.WorkStart < 0 || g.WorkStart > 23 || g.WorkEnd < 0 || g.WorkEnd > 23 {
		return fmt.Errorf("%w: hours must be within 0-23 (got %d-%d)", ErrInvalidGrid, g.WorkStart, g.WorkEnd)
	}
	if g.WorkStart >= g.WorkEnd {
		return fmt.Errorf("%w: work start %d must be before work end %d", ErrInvalidGrid, g.WorkStart, g.WorkEnd)
	}
	if g.GranularityMinutes <= 0 || 60%g.GranularityMinutes != 0 {
		return fmt.Errorf("%w: granularity %d must divide 60", ErrInvalidGrid, g.GranularityMinutes)
	}
	return nil
}

// Len is the number of slots the grid produces.
func (g Grid) Len() int {
	if g.Validate() != nil {
		return 0
	}
	return (g.WorkEnd - g.WorkStart) * (60 / g.GranularityMinutes)
}

// Slots returns every HH:MM start time in the window, in order. An invalid
// grid yields nil.
func (g Grid) Slots() []string {
	if g.Validate() != nil {
		return nil
	}
	slots := make([]string, 0, g.Len())
	for h := g.WorkStart; h < g.WorkEnd; h++ {
		for m := 0; m < 60; m += g.GranularityMinutes {
			slots = append(slots, fmt.Sprintf("%02d:%02d", h, m))
		}
	}
	return slots
}

// Contains reports whether slot is one of the grid's start times.
func (g Grid) Contains(slot string) bool {
	normalized, ok := NormalizeTime(slot)
	if !ok {
		return false
	}
	for _, s := range g.Slots() {
		if s == normalized {
			return true
		}
	}
	return false
}

// Exclude returns slots minus reserved, keeping the order of slots.
func Exclude(slots, reserved []string) []string {
	taken := make(map[string]struct{}, len(reserved))
	for _, r := range reserved {
		if normalized, ok := NormalizeTime(r); ok {
			taken[normalized] = struct{}{}
		}
	}
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		if _, ok := taken[s]; ok {
			continue
		}
		out = append(out, s)
	}
	return out
}

// NormalizeTime turns "9:00", "09:00" or "09:00:00" into "09:00".
func NormalizeTime(value string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return "", false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, m), true
}
