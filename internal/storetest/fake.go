// Package storetest provides an in-memory store.Repository for component
// tests, so booking/attendance/demand tests can exercise real persistence
// semantics (compare-and-set, atomic upsert) without a live database.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/appointment-service/internal/store"
)

// FakeRepository is a mutex-guarded in-memory store.Repository.
type FakeRepository struct {
	mu           sync.Mutex
	users        map[string]store.User // keyed by normalized name
	appointments map[uuid.UUID]*store.Appointment
	reminders    map[uuid.UUID][]store.Reminder
	demandCells  map[store.DemandCellKey]store.DemandCell
	messages     map[string][]store.Message
}

// New creates an empty FakeRepository.
func New() *FakeRepository {
	return &FakeRepository{
		users:        make(map[string]store.User),
		appointments: make(map[uuid.UUID]*store.Appointment),
		reminders:    make(map[uuid.UUID][]store.Reminder),
		demandCells:  make(map[store.DemandCellKey]store.DemandCell),
		messages:     make(map[string][]store.Message),
	}
}

func (f *FakeRepository) FindUserByName(ctx context.Context, name string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[store.NormalizedName(name)]
	if !ok {
		return nil, nil
	}
	cp := u
	return &cp, nil
}

func (f *FakeRepository) UpsertUser(ctx context.Context, user store.User) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[store.NormalizedName(user.UserName)] = user
	cp := user
	return &cp, nil
}

func (f *FakeRepository) ListUsers(ctx context.Context) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.User
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *FakeRepository) CreateAppointment(ctx context.Context, appt store.Appointment) (*store.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	cp := appt
	f.appointments[appt.ID] = &cp
	return &cp, nil
}

func (f *FakeRepository) FindAppointment(ctx context.Context, id uuid.UUID) (*store.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appointments[id]
	if !ok {
		return nil, nil
	}
	cp := *appt
	cp.Reminders = append([]store.Reminder(nil), f.reminders[id]...)
	return &cp, nil
}

func (f *FakeRepository) ListAppointments(ctx context.Context, filter store.AppointmentFilter) ([]store.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Appointment
	for _, appt := range f.appointments {
		if filter.Status != nil && appt.Status != *filter.Status {
			continue
		}
		if filter.DoctorName != "" && appt.DoctorName != filter.DoctorName {
			continue
		}
		if filter.DateFrom != nil && appt.Date.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && appt.Date.After(*filter.DateTo) {
			continue
		}
		out = append(out, *appt)
	}
	return out, nil
}

func (f *FakeRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, expectedStatus, newStatus store.AppointmentStatus, userName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appointments[id]
	if !ok || appt.Status != expectedStatus {
		return false, nil
	}
	appt.Status = newStatus
	if userName != "" {
		appt.UserName = userName
	}
	return true, nil
}

func (f *FakeRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.appointments[id]; !ok {
		return false, nil
	}
	delete(f.appointments, id)
	delete(f.reminders, id)
	return true, nil
}

func (f *FakeRepository) DeleteExpiredAvailable(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, appt := range f.appointments {
		if appt.Status == store.AppointmentAvailable && appt.Date.Before(before) {
			delete(f.appointments, id)
			n++
		}
	}
	return n, nil
}

func (f *FakeRepository) CreateReminder(ctx context.Context, r store.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminders[r.AppointmentID] = append(f.reminders[r.AppointmentID], r)
	return nil
}

func (f *FakeRepository) UpdateReminderStatus(ctx context.Context, apptID uuid.UUID, sendTime time.Time, newStatus store.ReminderStatus, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs := f.reminders[apptID]
	for i := range rs {
		if rs[i].SendTime.Equal(sendTime) {
			rs[i].Status = newStatus
			rs[i].Text = text
		}
	}
	return nil
}

func (f *FakeRepository) UpsertDemandCell(ctx context.Context, key store.DemandCellKey, mutate store.DemandCellMutator) (*store.DemandCell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cell, ok := f.demandCells[key]
	if !ok {
		cell = store.DemandCell{Key: key, Source: store.DemandSourceAuto, HighDemandThreshold: 1e18}
	}
	mutate(&cell)
	cell.Key = key
	f.demandCells[key] = cell
	cp := cell
	return &cp, nil
}

func (f *FakeRepository) FindDemandCell(ctx context.Context, key store.DemandCellKey) (*store.DemandCell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cell, ok := f.demandCells[key]
	if !ok {
		return nil, nil
	}
	cp := cell
	return &cp, nil
}

func (f *FakeRepository) ListDemandCellsForMonth(ctx context.Context, doctor string, year, month int) ([]store.DemandCell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.DemandCell
	for key, cell := range f.demandCells {
		if key.DoctorName == doctor && key.Year == year && key.Month == month {
			out = append(out, cell)
		}
	}
	return out, nil
}

func (f *FakeRepository) DeleteAdminCellsForMonth(ctx context.Context, doctor string, year, month int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, cell := range f.demandCells {
		if key.DoctorName == doctor && key.Year == year && key.Month == month && cell.Source == store.DemandSourceAdmin {
			delete(f.demandCells, key)
		}
	}
	return nil
}

func (f *FakeRepository) DistinctDoctors(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, appt := range f.appointments {
		if _, ok := seen[appt.DoctorName]; !ok {
			seen[appt.DoctorName] = struct{}{}
			out = append(out, appt.DoctorName)
		}
	}
	return out, nil
}

func (f *FakeRepository) ListMessages(ctx context.Context, category string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Message(nil), f.messages[category]...), nil
}

// SeedUser inserts a user directly, bypassing UpsertUser's normalization
// bookkeeping duplication in test setup.
func (f *FakeRepository) SeedUser(u store.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[store.NormalizedName(u.UserName)] = u
}

// SeedAppointment inserts an appointment directly.
func (f *FakeRepository) SeedAppointment(appt store.Appointment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	cp := appt
	f.appointments[appt.ID] = &cp
}

// SeedMessages installs the template pool for a category.
func (f *FakeRepository) SeedMessages(category string, texts ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range texts {
		f.messages[category] = append(f.messages[category], store.Message{Text: t})
	}
}

// SeedDemandCell installs a demand cell directly.
func (f *FakeRepository) SeedDemandCell(cell store.DemandCell) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.demandCells[cell.Key] = cell
}
