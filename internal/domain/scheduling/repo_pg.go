package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// Names come from LEFT JOINs so a deleted user never hides an appointment.
const apptSelect = `SELECT a.id, a.patient_id, a.doctor_id, a.department, a.type, a.status,
	to_char(a.scheduled_date, 'YYYY-MM-DD'), a.scheduled_time, a.duration_minutes, a.priority,
	a.notes, a.cancellation_reason, a.rescheduled_from, p.name, d.name, a.created_at, a.updated_at`

const apptFrom = ` FROM appointments a
	LEFT JOIN users p ON p.id = a.patient_id
	LEFT JOIN users d ON d.id = a.doctor_id`

func scanAppointment(row pgx.Row, extra ...interface{}) (*Appointment, error) {
	var (
		a      Appointment
		status string
	)
	dest := []interface{}{&a.ID, &a.PatientID, &a.DoctorID, &a.Department, &a.Type, &status,
		&a.ScheduledDate, &a.ScheduledTime, &a.DurationMinutes, &a.Priority,
		&a.Notes, &a.CancellationReason, &a.RescheduledFrom, &a.PatientName, &a.DoctorName,
		&a.CreatedAt, &a.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, department, type, status,
			scheduled_date, scheduled_time, duration_minutes, priority, notes, rescheduled_from)
		VALUES ($1,$2,$3,$4,$5,$6,$7::date,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.Department, a.Type, string(a.Status),
		a.ScheduledDate, a.ScheduledTime, a.DurationMinutes, a.Priority, a.Notes, a.RescheduledFrom,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, apptSelect+apptFrom+` WHERE a.id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET department=$2, type=$3, scheduled_date=$4::date, scheduled_time=$5,
			duration_minutes=$6, priority=$7, notes=$8, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Department, a.Type, a.ScheduledDate, a.ScheduledTime,
		a.DurationMinutes, a.Priority, a.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, reason *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET status=$2, cancellation_reason=COALESCE($3, cancellation_reason), updated_at=NOW()
		WHERE id = $1`, id, string(status), reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LockSlot takes a transaction-scoped advisory lock keyed on the slot. Without
// a surrounding transaction the lock is released as soon as the statement ends.
func (r *appointmentRepoPG) LockSlot(ctx context.Context, doctorID uuid.UUID, date, time string) error {
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
		doctorID.String()+"|"+date+"|"+time)
	return err
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.DoctorID != nil {
		add("a.doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("a.patient_id = $%d", *f.PatientID)
	}
	if f.DateFrom != "" {
		add("a.scheduled_date >= $%d::date", f.DateFrom)
	}
	if f.DateTo != "" {
		add("a.scheduled_date <= $%d::date", f.DateTo)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("a.status = ANY($%d)", statuses)
	}

	q := apptSelect + `, COUNT(*) OVER()` + apptFrom
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY a.scheduled_date, a.created_at, a.id`
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		q += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var (
		out   []*Appointment
		total int
	)
	for rows.Next() {
		a, err := scanAppointment(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
