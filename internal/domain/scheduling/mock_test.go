package scheduling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Repository --

type mockAppointmentRepo struct {
	mu      sync.Mutex
	appts   map[uuid.UUID]*Appointment
	clock   time.Time
	listErr error
	// afterList runs once List has read the rows, outside mu.
	afterList func()

	slotMu sync.Mutex
	slots  map[string]*sync.Mutex
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{
		appts: make(map[uuid.UUID]*Appointment),
		clock: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		slots: make(map[string]*sync.Mutex),
	}
}

func clone(a *Appointment) *Appointment {
	c := *a
	return &c
}

// add stores a fixture directly, in creation order.
func (m *mockAppointmentRepo) add(a *Appointment) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(a)
}

func (m *mockAppointmentRepo) put(a *Appointment) *Appointment {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	m.clock = m.clock.Add(time.Second)
	a.CreatedAt = m.clock
	a.UpdatedAt = m.clock
	m.appts[a.ID] = clone(a)
	return a
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	a.ID = uuid.New()
	m.add(a)
	return nil
}

func (m *mockAppointmentRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appts)
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

func (m *mockAppointmentRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[a.ID]; !ok {
		return ErrNotFound
	}
	m.appts[a.ID] = clone(a)
	return nil
}

func (m *mockAppointmentRepo) UpdateStatus(_ context.Context, id uuid.UUID, status Status, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	if reason != nil {
		a.CancellationReason = reason
	}
	return nil
}

func (m *mockAppointmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[id]; !ok {
		return ErrNotFound
	}
	delete(m.appts, id)
	return nil
}

// LockSlot holds a per-slot mutex until the passthroughTx around ctx ends,
// or releases it at once outside a transaction.
func (m *mockAppointmentRepo) LockSlot(ctx context.Context, doctorID uuid.UUID, date, tm string) error {
	key := doctorID.String() + "|" + date + "|" + tm
	m.slotMu.Lock()
	l, ok := m.slots[key]
	if !ok {
		l = &sync.Mutex{}
		m.slots[key] = l
	}
	m.slotMu.Unlock()

	l.Lock()
	if scope, ok := ctx.Value(txScopeKey{}).(*txScope); ok {
		scope.release = append(scope.release, l.Unlock)
	} else {
		l.Unlock()
	}
	return nil
}

func (m *mockAppointmentRepo) List(_ context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	out, total, err := m.list(f)
	if m.afterList != nil {
		m.afterList()
	}
	return out, total, err
}

func (m *mockAppointmentRepo) list(f AppointmentFilter) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var out []*Appointment
	for _, a := range m.appts {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DateFrom != "" && a.ScheduledDate < f.DateFrom {
			continue
		}
		if f.DateTo != "" && a.ScheduledDate > f.DateTo {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, a.Status) {
			continue
		}
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledDate != out[j].ScheduledDate {
			return out[i].ScheduledDate < out[j].ScheduledDate
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	total := len(out)
	if f.Limit > 0 {
		if f.Offset >= len(out) {
			return []*Appointment{}, total, nil
		}
		end := f.Offset + f.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[f.Offset:end]
	}
	return out, total, nil
}

func containsStatus(list []Status, s Status) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

type txScopeKey struct{}

// txScope collects the slot locks taken inside one transaction.
type txScope struct {
	release []func()
}

// passthroughTx runs fn without a database and records whether it failed.
// Slot locks taken inside fn are held until it returns.
type passthroughTx struct {
	mu       sync.Mutex
	calls    int
	rolledUp int
}

func (p *passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(txScopeKey{}).(*txScope); nested {
		return fn(ctx)
	}
	scope := &txScope{}
	err := fn(context.WithValue(ctx, txScopeKey{}, scope))
	for i := len(scope.release) - 1; i >= 0; i-- {
		scope.release[i]()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err != nil {
		p.rolledUp++
	}
	return err
}

var errDatabaseDown = errors.New("connection refused")

var (
	doctorA  = uuid.MustParse("00000000-0000-0000-0000-00000000d0c1")
	doctorB  = uuid.MustParse("00000000-0000-0000-0000-00000000d0c2")
	patientA = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	patientB = uuid.MustParse("00000000-0000-0000-0000-0000000000b2")
)

var (
	admin        = Actor{UserID: "admin-1", Role: "admin"}
	receptionist = Actor{UserID: "desk-1", Role: "receptionist"}
	nurse        = Actor{UserID: "nurse-1", Role: "nurse"}
	docActor     = Actor{UserID: doctorA.String(), Role: "doctor"}
	otherDoc     = Actor{UserID: doctorB.String(), Role: "doctor"}
	patActor     = Actor{UserID: patientA.String(), Role: "patient"}
	pharmacist   = Actor{UserID: "rx-1", Role: "pharmacist"}
)

func newTestService(policy CollisionPolicy) (*Service, *mockAppointmentRepo, *passthroughTx) {
	repo := newMockAppointmentRepo()
	tx := &passthroughTx{}
	fetcher := NewFetcher(repo, zerolog.Nop(), nil)
	return NewService(repo, fetcher, tx, policy, zerolog.Nop()), repo, tx
}

func appt(doctor, patient uuid.UUID, date, tm string) *Appointment {
	return &Appointment{
		PatientID:       patient,
		DoctorID:        doctor,
		Type:            "consultation",
		ScheduledDate:   date,
		ScheduledTime:   tm,
		DurationMinutes: 30,
	}
}
