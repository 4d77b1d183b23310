// Package store defines the clinic service's persisted aggregates and the
// Repository contract every other component depends on.
package store

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/appointment-service/internal/classifier"
)

// AppointmentStatus is the lifecycle state of an appointment slot.
type AppointmentStatus string

const (
	AppointmentAvailable AppointmentStatus = "available"
	AppointmentBooked    AppointmentStatus = "booked"
	AppointmentAttended  AppointmentStatus = "attended"
	AppointmentMissed    AppointmentStatus = "missed"
)

// ReminderStatus is the lifecycle state of a single reminder row.
type ReminderStatus string

const (
	ReminderScheduled ReminderStatus = "scheduled"
	ReminderSent      ReminderStatus = "sent"
)

// DemandSource identifies whether a demand cell came from an admin baseline
// or was learned automatically from attendance history.
type DemandSource string

const (
	DemandSourceAdmin DemandSource = "admin"
	DemandSourceAuto  DemandSource = "auto"
)

// NoDayOfWeek is the sentinel "⊥" day-of-week used by admin baseline cells,
// which apply to every day of the week rather than one specific day.
const NoDayOfWeek = -1

// User is a patient identity with attendance counters and a derived
// behavior class.
type User struct {
	UserName        string
	DisplayName     string
	Phone           string
	NotifyChannelID string
	AttendedCount   int
	MissedCount     int
	Score           int
	Category        classifier.Category
}

// NormalizedName is the case-insensitive lookup key for this user.
func NormalizedName(userName string) string {
	return strings.ToLower(strings.TrimSpace(userName))
}

// AttendanceRate returns 100*attended/(attended+missed), 0 when no events
// have been recorded yet.
func (u User) AttendanceRate() float64 {
	return classifier.Rate(u.AttendedCount, u.MissedCount)
}

// DisplayNameOr returns DisplayName if set, else UserName — used for
// message-template substitution.
func (u User) DisplayNameOr() string {
	if strings.TrimSpace(u.DisplayName) != "" {
		return u.DisplayName
	}
	return u.UserName
}

// Reminder is a single planned or delivered nudge tied to an appointment.
// Text is empty until the reminder fires (or, for the instant catch-up
// entry, is set at booking time); it is persisted so template-uniqueness
// tracking survives a process restart between arming and firing.
type Reminder struct {
	AppointmentID   uuid.UUID
	MessageCategory classifier.MessageCategory
	SendTime        time.Time
	Status          ReminderStatus
	Text            string
}

// Appointment is a bookable clinic slot.
type Appointment struct {
	ID         uuid.UUID
	DoctorName string
	Date       time.Time
	Status     AppointmentStatus
	UserName   string // present iff Status != Available
	Reminders  []Reminder
}

// DemandCellKey is the composite identity of a DemandCell.
type DemandCellKey struct {
	DoctorName string
	Year       int
	Month      int // 1-12
	DayOfWeek  int // time.Weekday value, or NoDayOfWeek for an admin baseline row
	Hour       int // 0-23
}

// DemandCell tracks learned or admin-set demand for one (doctor, month,
// dow|baseline, hour) cell.
type DemandCell struct {
	Key                 DemandCellKey
	TotalAppointments   int
	HighDemandThreshold float64 // math.Inf(1) means "never high"
	Source              DemandSource
	LastUpdated         time.Time
}

// HighDemand reports whether this cell currently gates AtRisk admission.
func (c DemandCell) HighDemand() bool {
	if c.Source == DemandSourceAdmin {
		return true
	}
	return float64(c.TotalAppointments) >= c.HighDemandThreshold
}

// Message is one template in a category's pool in the MessageCatalog.
type Message struct {
	Category classifier.MessageCategory
	Text     string
}

// AppointmentFilter narrows ListAppointments queries.
type AppointmentFilter struct {
	Status     *AppointmentStatus
	DoctorName string
	DateFrom   *time.Time
	DateTo     *time.Time
}
