package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinic/clinic/internal/domain/scheduling"
)

type ViewMode string

const (
	ViewWeek ViewMode = "week"
	ViewDay  ViewMode = "day"
)

// AllDoctors is the doctor filter value that keeps every appointment.
const AllDoctors = "all"

var ErrInvalidView = errors.New("view must be day or week")

// ParseViewMode accepts "day" and "week", case-insensitively. Empty means week.
func ParseViewMode(s string) (ViewMode, error) {
	switch ViewMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ViewWeek:
		return ViewWeek, nil
	case ViewDay:
		return ViewDay, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidView, s)
}

const (
	firstSlotMinutes = 8 * 60
	lastSlotMinutes  = 18*60 + 30
	slotStepMinutes  = 30
)

// SlotLabels returns the half-hour labels of a clinic day, 08:00 through 18:30.
func SlotLabels() []string {
	labels := make([]string, 0, (lastSlotMinutes-firstSlotMinutes)/slotStepMinutes+1)
	for m := firstSlotMinutes; m <= lastSlotMinutes; m += slotStepMinutes {
		labels = append(labels, fmt.Sprintf("%02d:%02d", m/60, m%60))
	}
	return labels
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Window returns the dates shown for ref: the Sunday-starting week that
// contains it, or ref alone in day mode.
func Window(ref time.Time, mode ViewMode) []time.Time {
	day := dateOnly(ref)
	if mode == ViewDay {
		return []time.Time{day}
	}
	start := day.AddDate(0, 0, -int(day.Weekday()))
	days := make([]time.Time, 7)
	for i := range days {
		days[i] = start.AddDate(0, 0, i)
	}
	return days
}

// Slot is one half-hour cell. Overflow holds appointments that matched the
// label after the first one, in fetch order.
type Slot struct {
	Time        string                    `json:"time"`
	Appointment *scheduling.Appointment   `json:"appointment,omitempty"`
	Overflow    []*scheduling.Appointment `json:"overflow,omitempty"`
	Available   bool                      `json:"available"`
}

type Day struct {
	Date       string                    `json:"date"`
	Weekday    string                    `json:"weekday"`
	IsToday    bool                      `json:"is_today"`
	IsSelected bool                      `json:"is_selected"`
	Slots      []Slot                    `json:"slots"`
	Unslotted  []*scheduling.Appointment `json:"unslotted,omitempty"`
}

// GridInput is everything BuildGrid needs. Appointments must be in fetch
// order. A zero Selected means Reference.
type GridInput struct {
	Reference    time.Time
	Mode         ViewMode
	Appointments []*scheduling.Appointment
	DoctorFilter string
	Today        time.Time
	Selected     time.Time
}

// BuildGrid lays appointments out on the day or week window of the reference
// date. It never drops an appointment of a shown day: collisions land in
// Overflow and off-grid times in Unslotted.
func BuildGrid(in GridInput) []Day {
	selected := in.Selected
	if selected.IsZero() {
		selected = in.Reference
	}
	today := in.Today.Format(scheduling.DateLayout)
	sel := selected.Format(scheduling.DateLayout)
	labels := SlotLabels()

	byDate := make(map[string][]*scheduling.Appointment)
	for _, a := range in.Appointments {
		if !matchesDoctor(a, in.DoctorFilter) {
			continue
		}
		byDate[a.ScheduledDate] = append(byDate[a.ScheduledDate], a)
	}

	window := Window(in.Reference, in.Mode)
	days := make([]Day, 0, len(window))
	for _, d := range window {
		date := d.Format(scheduling.DateLayout)
		day := Day{
			Date:       date,
			Weekday:    d.Weekday().String()[:3],
			IsToday:    !in.Today.IsZero() && date == today,
			IsSelected: date == sel,
			Slots:      make([]Slot, len(labels)),
		}

		index := make(map[string]int, len(labels))
		for i, label := range labels {
			day.Slots[i] = Slot{Time: label, Available: true}
			index[label] = i
		}

		for _, a := range byDate[date] {
			i, ok := index[scheduling.NormalizeTime(a.ScheduledTime)]
			if !ok {
				day.Unslotted = append(day.Unslotted, a)
				continue
			}
			slot := &day.Slots[i]
			if slot.Appointment == nil {
				slot.Appointment = a
				slot.Available = false
			} else {
				slot.Overflow = append(slot.Overflow, a)
			}
		}
		days = append(days, day)
	}
	return days
}

func matchesDoctor(a *scheduling.Appointment, filter string) bool {
	if filter == "" || filter == AllDoctors {
		return true
	}
	return a.DoctorID.String() == filter
}
