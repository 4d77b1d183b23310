// Package booking implements the ten-step admission and reminder-arming
// protocol a new booking request goes through.
package booking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/appointment-service/internal/apperr"
	"github.com/clinicflow/appointment-service/internal/catalog"
	"github.com/clinicflow/appointment-service/internal/classifier"
	"github.com/clinicflow/appointment-service/internal/clock"
	"github.com/clinicflow/appointment-service/internal/demand"
	"github.com/clinicflow/appointment-service/internal/notify"
	"github.com/clinicflow/appointment-service/internal/scheduler"
	"github.com/clinicflow/appointment-service/internal/store"
	"github.com/clinicflow/appointment-service/pkg/logging"
)

// AutoMissDelay is how long after the appointment time the AutoMissCheck
// job fires.
const AutoMissDelay = 10 * time.Minute

// Armer is the subset of scheduler.Scheduler the Coordinator depends on, so
// tests can substitute a fake instead of a live job store.
type Armer interface {
	ArmAt(ctx context.Context, kind scheduler.JobKind, key string, fireAt time.Time, payload any) error
}

// Coordinator books appointments and arms their reminder/auto-miss jobs.
type Coordinator struct {
	repo       store.Repository
	demand     *demand.Engine
	catalog    *catalog.Catalog
	notifier   notify.Notifier
	scheduler  Armer
	clock      clock.Clock
	clinicName string
	logger     *logging.Logger
}

// New constructs a Coordinator.
func New(repo store.Repository, eng *demand.Engine, cat *catalog.Catalog, notifier notify.Notifier, sched Armer, clk clock.Clock, clinicName string, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{repo: repo, demand: eng, catalog: cat, notifier: notifier, scheduler: sched, clock: clk, clinicName: clinicName, logger: logger}
}

// Result is what Book returns: the now-booked appointment, and the instant
// catch-up reminder text if one was delivered.
type Result struct {
	Appointment store.Appointment
	InstantText string
}

// Book runs the booking admission and reminder-planning protocol for a
// single appointment.
func (c *Coordinator) Book(ctx context.Context, apptID uuid.UUID, userName, phone string) (*Result, error) {
	appt, err := c.repo.FindAppointment(ctx, apptID)
	if err != nil {
		return nil, fmt.Errorf("booking: load appointment: %w", err)
	}
	if appt == nil {
		return nil, apperr.E(apperr.KindNotFound, "appointment not found", nil)
	}
	if appt.Status != store.AppointmentAvailable {
		return nil, apperr.E(apperr.KindNotAvailable, "appointment is not available", nil)
	}

	user, err := c.repo.FindUserByName(ctx, userName)
	if err != nil {
		return nil, fmt.Errorf("booking: load user: %w", err)
	}
	if user == nil {
		return nil, apperr.E(apperr.KindUserNotRegistered, fmt.Sprintf("user %q is not registered", userName), nil)
	}
	if phone != "" && user.Phone == "" {
		user.Phone = phone
		if _, err := c.repo.UpsertUser(ctx, *user); err != nil {
			return nil, fmt.Errorf("booking: persist phone: %w", err)
		}
	}

	if err := c.demand.EnsureMonth(ctx, appt.DoctorName, appt.Date); err != nil {
		return nil, fmt.Errorf("booking: ensure month: %w", err)
	}

	if user.Category == classifier.CategoryAtRisk {
		highDemand, err := c.demand.IsHighDemand(ctx, appt.DoctorName, appt.Date)
		if err != nil {
			return nil, fmt.Errorf("booking: check demand: %w", err)
		}
		if highDemand {
			return nil, apperr.E(apperr.KindAdmissionDenied, fmt.Sprintf("appointments with %s are in high demand right now", appt.DoctorName), nil)
		}
	}

	ok, err := c.repo.UpdateAppointmentStatus(ctx, apptID, store.AppointmentAvailable, store.AppointmentBooked, userName)
	if err != nil {
		return nil, fmt.Errorf("booking: transition appointment: %w", err)
	}
	if !ok {
		return nil, apperr.E(apperr.KindNotAvailable, "appointment was booked by someone else", nil)
	}
	appt.Status = store.AppointmentBooked
	appt.UserName = userName

	instantText, err := c.planReminders(ctx, *appt, *user)
	if err != nil {
		return nil, fmt.Errorf("booking: plan reminders: %w", err)
	}

	if err := c.scheduler.ArmAt(ctx, scheduler.KindAutoMissCheck, apptID.String(), appt.Date.Add(AutoMissDelay), apptID.String()); err != nil {
		return nil, fmt.Errorf("booking: arm auto-miss: %w", err)
	}

	return &Result{Appointment: *appt, InstantText: instantText}, nil
}

// planReminders builds the lead-hour plan, delivers at most one instant
// catch-up message for any past-due lead hour, records the rest as sent
// without delivery, and arms a Scheduler job for every future lead hour.
func (c *Coordinator) planReminders(ctx context.Context, appt store.Appointment, user store.User) (string, error) {
	now := c.now()
	leadHours := classifier.Plan(user.Category)
	msgCategory := classifier.MessageCategoryFor(user.Category)

	sorted := append([]int(nil), leadHours...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	var past, future []time.Time
	for _, h := range sorted {
		sendTime := appt.Date.Add(-time.Duration(h) * time.Hour)
		if !sendTime.After(now) {
			past = append(past, sendTime)
		} else {
			future = append(future, sendTime)
		}
	}

	used := catalog.NewUsedSet()
	var instantText string
	for i := range past {
		if i == 0 {
			text, err := c.renderAndDeliver(ctx, appt, user, msgCategory, used)
			if err != nil {
				if !apperr.Is(err, apperr.KindEmptyCategory) && !apperr.Is(err, apperr.KindExhaustedPool) {
					return "", err
				}
				c.logger.Warn("booking: no instant reminder template available", "appt_id", appt.ID, "category", msgCategory, "error", err)
			}
			instantText = text
			if err := c.repo.CreateReminder(ctx, store.Reminder{
				AppointmentID: appt.ID, MessageCategory: msgCategory, SendTime: now, Status: store.ReminderSent, Text: text,
			}); err != nil {
				return "", fmt.Errorf("create instant reminder: %w", err)
			}
			continue
		}
		if err := c.repo.CreateReminder(ctx, store.Reminder{
			AppointmentID: appt.ID, MessageCategory: msgCategory, SendTime: now, Status: store.ReminderSent,
		}); err != nil {
			return "", fmt.Errorf("create skipped-past reminder: %w", err)
		}
	}

	for _, sendTime := range future {
		if err := c.repo.CreateReminder(ctx, store.Reminder{
			AppointmentID: appt.ID, MessageCategory: msgCategory, SendTime: sendTime, Status: store.ReminderScheduled,
		}); err != nil {
			return "", fmt.Errorf("create scheduled reminder: %w", err)
		}
		key := fmt.Sprintf("%s|%d", appt.ID, sendTime.UnixNano())
		if err := c.scheduler.ArmAt(ctx, scheduler.KindReminderFire, key, sendTime, reminderPayload{ApptID: appt.ID.String(), SendTime: sendTime}); err != nil {
			return "", fmt.Errorf("arm reminder: %w", err)
		}
	}

	return instantText, nil
}

type reminderPayload struct {
	ApptID   string    `json:"appt_id"`
	SendTime time.Time `json:"send_time"`
}

// FireReminder renders and delivers a previously-armed reminder at its
// scheduled time, then marks the reminder row sent. A cancelled booking or
// deregistered user makes this a silent no-op — the job still completes.
func (c *Coordinator) FireReminder(ctx context.Context, apptID uuid.UUID, sendTime time.Time) error {
	appt, err := c.repo.FindAppointment(ctx, apptID)
	if err != nil {
		return fmt.Errorf("booking: fire reminder: find appointment: %w", err)
	}
	if appt == nil || appt.Status != store.AppointmentBooked {
		return nil
	}
	user, err := c.repo.FindUserByName(ctx, appt.UserName)
	if err != nil {
		return fmt.Errorf("booking: fire reminder: find user: %w", err)
	}
	if user == nil {
		return nil
	}

	category := classifier.MessageCategoryFor(user.Category)
	used := catalog.NewUsedSet()
	c.catalog.SeedUsed(category, used, user.DisplayNameOr(), alreadySentBodies(*appt, c.header(*appt)))
	text, err := c.renderAndDeliver(ctx, *appt, *user, category, used)
	if apperr.Is(err, apperr.KindExhaustedPool) {
		used.Reset()
		text, err = c.renderAndDeliver(ctx, *appt, *user, category, used)
	}
	if err != nil {
		if !apperr.Is(err, apperr.KindEmptyCategory) && !apperr.Is(err, apperr.KindExhaustedPool) {
			return fmt.Errorf("booking: fire reminder: render: %w", err)
		}
		c.logger.Warn("booking: fire reminder: no template available", "appt_id", apptID, "category", category, "error", err)
	}
	return c.repo.UpdateReminderStatus(ctx, apptID, sendTime, store.ReminderSent, text)
}

// renderAndDeliver picks an unused template for category, renders it with
// the standard header, and hands it to the Notifier. Returns the rendered
// text (possibly undelivered, if the notifier silently no-ops).
func (c *Coordinator) renderAndDeliver(ctx context.Context, appt store.Appointment, user store.User, category classifier.MessageCategory, used catalog.UsedSet) (string, error) {
	tmpl, err := c.catalog.PickUnique(category, used)
	if err != nil {
		return "", err
	}
	body := catalog.Render(tmpl, user.DisplayNameOr())
	text := c.header(appt) + body

	if !c.notifier.Send(ctx, user.NotifyChannelID, text) {
		c.logger.Info("booking: instant reminder not delivered", "appt_id", appt.ID, "user", user.UserName)
	}
	return text, nil
}

func (c *Coordinator) header(appt store.Appointment) string {
	return fmt.Sprintf("%s — Dr. %s — %s\n", c.clinicName, strings.TrimPrefix(appt.DoctorName, "Dr. "), appt.Date.Format("Mon Jan 2, 3:04 PM"))
}

// alreadySentBodies strips the standard header from every sent reminder's
// stored text, yielding the rendered template bodies delivered earlier in
// appt's lifetime so Catalog.SeedUsed can exclude their templates from reuse.
func alreadySentBodies(appt store.Appointment, header string) []string {
	var bodies []string
	for _, r := range appt.Reminders {
		if r.Status != store.ReminderSent || r.Text == "" {
			continue
		}
		bodies = append(bodies, strings.TrimPrefix(r.Text, header))
	}
	return bodies
}

func (c *Coordinator) now() time.Time {
	if c.clock != nil {
		return c.clock.Now()
	}
	return time.Now()
}
