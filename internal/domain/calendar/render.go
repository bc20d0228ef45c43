package calendar

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/clinic/clinic/internal/domain/scheduling"
)

// Render writes v as a text table: one row per slot label, one column per day.
// Free slots print as ".", double bookings as "name +N".
func Render(w io.Writer, v *View) error {
	fmt.Fprintf(w, "%s view %s..%s doctor=%s status=%s\n", v.Mode, v.From, v.To, v.DoctorFilter, v.Status)
	if v.Error != "" {
		fmt.Fprintf(w, "error: %s\n", v.Error)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{"TIME"}
	for _, d := range v.Days {
		h := d.Weekday + " " + d.Date[5:]
		if d.IsToday {
			h += "*"
		}
		header = append(header, h)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for i, label := range v.Labels {
		row := []string{label}
		for _, d := range v.Days {
			row = append(row, cell(d.Slots[i]))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, d := range v.Days {
		for _, a := range d.Unslotted {
			fmt.Fprintf(w, "off-grid %s %s %s\n", d.Date, a.ScheduledTime, displayName(a))
		}
	}
	return nil
}

func cell(s Slot) string {
	if s.Appointment == nil {
		return "."
	}
	out := displayName(s.Appointment)
	if n := len(s.Overflow); n > 0 {
		out += fmt.Sprintf(" +%d", n)
	}
	return out
}

func displayName(a *scheduling.Appointment) string {
	if a.PatientName != nil && *a.PatientName != "" {
		return *a.PatientName
	}
	return a.PatientID.String()[:8]
}
