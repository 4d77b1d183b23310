package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DemandCellMutator adjusts a cell in place during an atomic upsert.
type DemandCellMutator func(cell *DemandCell)

// Repository is the typed persistence contract shared by every other
// component. Each write is atomic at the aggregate level; no cross-aggregate
// transactions are required.
type Repository interface {
	// Users
	FindUserByName(ctx context.Context, name string) (*User, error)
	UpsertUser(ctx context.Context, user User) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// Appointments
	CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error)
	FindAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)
	// UpdateAppointmentStatus performs a compare-and-set: it only succeeds
	// if the appointment's current status equals expectedStatus. userName,
	// if non-empty, is set atomically with the transition (the book step).
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, expectedStatus, newStatus AppointmentStatus, userName string) (bool, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteExpiredAvailable(ctx context.Context, before time.Time) (int64, error)

	// Reminders (child rows of an appointment)
	CreateReminder(ctx context.Context, r Reminder) error
	UpdateReminderStatus(ctx context.Context, apptID uuid.UUID, sendTime time.Time, newStatus ReminderStatus, text string) error

	// Demand cells
	UpsertDemandCell(ctx context.Context, key DemandCellKey, mutate DemandCellMutator) (*DemandCell, error)
	FindDemandCell(ctx context.Context, key DemandCellKey) (*DemandCell, error)
	ListDemandCellsForMonth(ctx context.Context, doctor string, year, month int) ([]DemandCell, error)
	DeleteAdminCellsForMonth(ctx context.Context, doctor string, year, month int) error
	DistinctDoctors(ctx context.Context) ([]string, error)

	// Messages
	ListMessages(ctx context.Context, category string) ([]Message, error)
}
