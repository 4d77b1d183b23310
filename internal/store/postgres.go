package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicflow/appointment-service/internal/classifier"
)

// DB abstracts the pgx query interface so tests can inject pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres is the pgx-backed Repository implementation.
type Postgres struct {
	db DB
}

// NewPostgres creates a Postgres-backed repository.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// FindUserByName looks up a user case-insensitively via the normalized
// column, avoiding a LOWER() scan.
func (p *Postgres) FindUserByName(ctx context.Context, name string) (*User, error) {
	row := p.db.QueryRow(ctx, `
		SELECT user_name, display_name, phone, notify_channel_id, attended_count, missed_count, score, category
		FROM users WHERE user_name_normalized = $1`, NormalizedName(name))
	var u User
	var category string
	err := row.Scan(&u.UserName, &u.DisplayName, &u.Phone, &u.NotifyChannelID, &u.AttendedCount, &u.MissedCount, &u.Score, &category)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: find user by name: %w", err)
	}
	u.Category = classifier.Category(category)
	return &u, nil
}

// UpsertUser inserts or updates a user by normalized name.
func (p *Postgres) UpsertUser(ctx context.Context, user User) (*User, error) {
	if user.Category == "" {
		user.Category = classifier.CategoryGood
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO users (user_name, user_name_normalized, display_name, phone, notify_channel_id, attended_count, missed_count, score, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_name_normalized) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE users.display_name END,
			phone = CASE WHEN EXCLUDED.phone <> '' THEN EXCLUDED.phone ELSE users.phone END,
			notify_channel_id = CASE WHEN EXCLUDED.notify_channel_id <> '' THEN EXCLUDED.notify_channel_id ELSE users.notify_channel_id END,
			attended_count = EXCLUDED.attended_count,
			missed_count = EXCLUDED.missed_count,
			score = EXCLUDED.score,
			category = EXCLUDED.category`,
		user.UserName, NormalizedName(user.UserName), user.DisplayName, user.Phone, user.NotifyChannelID,
		user.AttendedCount, user.MissedCount, user.Score, string(user.Category),
	)
	if err != nil {
		return nil, fmt.Errorf("store: upsert user: %w", err)
	}
	return p.FindUserByName(ctx, user.UserName)
}

// ListUsers returns every registered user.
func (p *Postgres) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := p.db.Query(ctx, `
		SELECT user_name, display_name, phone, notify_channel_id, attended_count, missed_count, score, category
		FROM users ORDER BY user_name`)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()

	var result []User
	for rows.Next() {
		var u User
		var category string
		if err := rows.Scan(&u.UserName, &u.DisplayName, &u.Phone, &u.NotifyChannelID, &u.AttendedCount, &u.MissedCount, &u.Score, &category); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		u.Category = classifier.Category(category)
		result = append(result, u)
	}
	return result, rows.Err()
}

// CreateAppointment inserts a new appointment, generating an ID if needed.
func (p *Postgres) CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	if appt.Status == "" {
		appt.Status = AppointmentAvailable
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO appointments (id, doctor_name, date, status, user_name)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))`,
		appt.ID, appt.DoctorName, appt.Date, string(appt.Status), appt.UserName,
	)
	if err != nil {
		return nil, fmt.Errorf("store: create appointment: %w", err)
	}
	return &appt, nil
}

// FindAppointment loads an appointment and its reminders, or nil if absent.
func (p *Postgres) FindAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, doctor_name, date, status, COALESCE(user_name, '')
		FROM appointments WHERE id = $1`, id)
	var appt Appointment
	var status string
	if err := row.Scan(&appt.ID, &appt.DoctorName, &appt.Date, &status, &appt.UserName); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: find appointment: %w", err)
	}
	appt.Status = AppointmentStatus(status)

	reminders, err := p.remindersFor(ctx, id)
	if err != nil {
		return nil, err
	}
	appt.Reminders = reminders
	return &appt, nil
}

func (p *Postgres) remindersFor(ctx context.Context, apptID uuid.UUID) ([]Reminder, error) {
	rows, err := p.db.Query(ctx, `
		SELECT appointment_id, message_category, send_time, status, COALESCE(text, '')
		FROM reminders WHERE appointment_id = $1 ORDER BY send_time ASC`, apptID)
	if err != nil {
		return nil, fmt.Errorf("store: list reminders: %w", err)
	}
	defer rows.Close()

	var result []Reminder
	for rows.Next() {
		var r Reminder
		var category, status string
		if err := rows.Scan(&r.AppointmentID, &category, &r.SendTime, &status, &r.Text); err != nil {
			return nil, fmt.Errorf("store: scan reminder: %w", err)
		}
		r.MessageCategory = classifier.MessageCategory(category)
		r.Status = ReminderStatus(status)
		result = append(result, r)
	}
	return result, rows.Err()
}

// ListAppointments returns appointments matching filter, without reminders
// (callers needing reminders use FindAppointment per-id).
func (p *Postgres) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	query := `SELECT id, doctor_name, date, status, COALESCE(user_name, '') FROM appointments WHERE 1=1`
	var args []any
	n := 1
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(*filter.Status))
		n++
	}
	if filter.DoctorName != "" {
		query += fmt.Sprintf(" AND doctor_name = $%d", n)
		args = append(args, filter.DoctorName)
		n++
	}
	if filter.DateFrom != nil {
		query += fmt.Sprintf(" AND date >= $%d", n)
		args = append(args, *filter.DateFrom)
		n++
	}
	if filter.DateTo != nil {
		query += fmt.Sprintf(" AND date <= $%d", n)
		args = append(args, *filter.DateTo)
		n++
	}
	query += " ORDER BY date ASC"

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		var appt Appointment
		var status string
		if err := rows.Scan(&appt.ID, &appt.DoctorName, &appt.Date, &status, &appt.UserName); err != nil {
			return nil, fmt.Errorf("store: scan appointment: %w", err)
		}
		appt.Status = AppointmentStatus(status)
		result = append(result, appt)
	}
	return result, rows.Err()
}

// UpdateAppointmentStatus performs the compare-and-set closing the
// TOCTOU gap between checking availability and marking an appointment
// booked (or resolving it to attended/missed).
func (p *Postgres) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, expectedStatus, newStatus AppointmentStatus, userName string) (bool, error) {
	var tag pgconn.CommandTag
	var err error
	if userName != "" {
		tag, err = p.db.Exec(ctx, `
			UPDATE appointments SET status = $1, user_name = $2
			WHERE id = $3 AND status = $4`,
			string(newStatus), userName, id, string(expectedStatus))
	} else {
		tag, err = p.db.Exec(ctx, `
			UPDATE appointments SET status = $1
			WHERE id = $2 AND status = $3`,
			string(newStatus), id, string(expectedStatus))
	}
	if err != nil {
		return false, fmt.Errorf("store: update appointment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteAppointment removes a single appointment by id, regardless of
// status.
func (p *Postgres) DeleteAppointment(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("store: delete appointment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpiredAvailable removes available appointments whose date has
// already passed.
func (p *Postgres) DeleteExpiredAvailable(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.db.Exec(ctx, `
		DELETE FROM appointments WHERE status = $1 AND date < $2`,
		string(AppointmentAvailable), before)
	if err != nil {
		return 0, fmt.Errorf("store: delete expired available: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateReminder inserts a reminder row for an appointment.
func (p *Postgres) CreateReminder(ctx context.Context, r Reminder) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO reminders (appointment_id, message_category, send_time, status, text)
		VALUES ($1, $2, $3, $4, $5)`,
		r.AppointmentID, string(r.MessageCategory), r.SendTime, string(r.Status), r.Text,
	)
	if err != nil {
		return fmt.Errorf("store: create reminder: %w", err)
	}
	return nil
}

// UpdateReminderStatus transitions a reminder row scheduled -> sent, stamping
// the rendered text so template-uniqueness survives a restart.
func (p *Postgres) UpdateReminderStatus(ctx context.Context, apptID uuid.UUID, sendTime time.Time, newStatus ReminderStatus, text string) error {
	_, err := p.db.Exec(ctx, `
		UPDATE reminders SET status = $1, text = $2
		WHERE appointment_id = $3 AND send_time = $4`,
		string(newStatus), text, apptID, sendTime,
	)
	if err != nil {
		return fmt.Errorf("store: update reminder status: %w", err)
	}
	return nil
}

// UpsertDemandCell performs an atomic read-modify-write on a demand cell: a
// single transaction row-locks the existing cell (if any) with SELECT ...
// FOR UPDATE, applies mutate, and writes the result back before committing —
// so two concurrent callers against the same cell (e.g. two RecordAttendance
// calls in the same hour) cannot interleave and lose an increment.
func (p *Postgres) UpsertDemandCell(ctx context.Context, key DemandCellKey, mutate DemandCellMutator) (*DemandCell, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: upsert demand cell: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT total_appointments, high_demand_threshold, source, last_updated
		FROM demand_cells
		WHERE doctor_name = $1 AND year = $2 AND month = $3 AND day_of_week = $4 AND hour = $5
		FOR UPDATE`,
		key.DoctorName, key.Year, key.Month, key.DayOfWeek, key.Hour,
	)
	cell := DemandCell{Key: key, Source: DemandSourceAuto, HighDemandThreshold: math.Inf(1)}
	var source string
	switch err := row.Scan(&cell.TotalAppointments, &cell.HighDemandThreshold, &source, &cell.LastUpdated); err {
	case nil:
		cell.Source = DemandSource(source)
	case pgx.ErrNoRows:
		// no row to lock; cell keeps the defaults set above.
	default:
		return nil, fmt.Errorf("store: upsert demand cell: lock existing row: %w", err)
	}

	mutate(&cell)

	if _, err := tx.Exec(ctx, `
		INSERT INTO demand_cells (doctor_name, year, month, day_of_week, hour, total_appointments, high_demand_threshold, source, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (doctor_name, year, month, day_of_week, hour) DO UPDATE SET
			total_appointments = EXCLUDED.total_appointments,
			high_demand_threshold = EXCLUDED.high_demand_threshold,
			source = EXCLUDED.source,
			last_updated = EXCLUDED.last_updated`,
		key.DoctorName, key.Year, key.Month, key.DayOfWeek, key.Hour,
		cell.TotalAppointments, cell.HighDemandThreshold, string(cell.Source), cell.LastUpdated,
	); err != nil {
		return nil, fmt.Errorf("store: upsert demand cell: write: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: upsert demand cell: commit: %w", err)
	}
	return &cell, nil
}

// FindDemandCell loads a single demand cell by key, or nil if absent.
func (p *Postgres) FindDemandCell(ctx context.Context, key DemandCellKey) (*DemandCell, error) {
	row := p.db.QueryRow(ctx, `
		SELECT total_appointments, high_demand_threshold, source, last_updated
		FROM demand_cells
		WHERE doctor_name = $1 AND year = $2 AND month = $3 AND day_of_week = $4 AND hour = $5`,
		key.DoctorName, key.Year, key.Month, key.DayOfWeek, key.Hour,
	)
	var cell DemandCell
	cell.Key = key
	var source string
	if err := row.Scan(&cell.TotalAppointments, &cell.HighDemandThreshold, &source, &cell.LastUpdated); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: find demand cell: %w", err)
	}
	cell.Source = DemandSource(source)
	return &cell, nil
}

// ListDemandCellsForMonth returns every cell for a (doctor, year, month).
func (p *Postgres) ListDemandCellsForMonth(ctx context.Context, doctor string, year, month int) ([]DemandCell, error) {
	rows, err := p.db.Query(ctx, `
		SELECT day_of_week, hour, total_appointments, high_demand_threshold, source, last_updated
		FROM demand_cells
		WHERE doctor_name = $1 AND year = $2 AND month = $3`,
		doctor, year, month,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list demand cells for month: %w", err)
	}
	defer rows.Close()

	var result []DemandCell
	for rows.Next() {
		cell := DemandCell{Key: DemandCellKey{DoctorName: doctor, Year: year, Month: month}}
		var source string
		if err := rows.Scan(&cell.Key.DayOfWeek, &cell.Key.Hour, &cell.TotalAppointments, &cell.HighDemandThreshold, &source, &cell.LastUpdated); err != nil {
			return nil, fmt.Errorf("store: scan demand cell: %w", err)
		}
		cell.Source = DemandSource(source)
		result = append(result, cell)
	}
	return result, rows.Err()
}

// DeleteAdminCellsForMonth removes the admin-baseline rows for a month,
// used by SetBaseline before inserting the new set.
func (p *Postgres) DeleteAdminCellsForMonth(ctx context.Context, doctor string, year, month int) error {
	_, err := p.db.Exec(ctx, `
		DELETE FROM demand_cells
		WHERE doctor_name = $1 AND year = $2 AND month = $3 AND day_of_week = $4 AND source = $5`,
		doctor, year, month, NoDayOfWeek, string(DemandSourceAdmin),
	)
	if err != nil {
		return fmt.Errorf("store: delete admin cells for month: %w", err)
	}
	return nil
}

// DistinctDoctors returns every doctor name that has at least one appointment.
func (p *Postgres) DistinctDoctors(ctx context.Context) ([]string, error) {
	rows, err := p.db.Query(ctx, `SELECT DISTINCT doctor_name FROM appointments ORDER BY doctor_name`)
	if err != nil {
		return nil, fmt.Errorf("store: distinct doctors: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: scan doctor: %w", err)
		}
		result = append(result, name)
	}
	return result, rows.Err()
}

// ListMessages returns every template in a category's pool.
func (p *Postgres) ListMessages(ctx context.Context, category string) ([]Message, error) {
	rows, err := p.db.Query(ctx, `SELECT category, text FROM messages WHERE category = $1`, category)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var result []Message
	for rows.Next() {
		var m Message
		var cat string
		if err := rows.Scan(&cat, &m.Text); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.Category = classifier.MessageCategory(cat)
		result = append(result, m)
	}
	return result, rows.Err()
}
