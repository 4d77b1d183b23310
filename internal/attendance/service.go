// Package attendance resolves a booked appointment to attended or missed,
// updating the user's score/category and feeding the demand engine.
package attendance

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicflow/appointment-service/internal/apperr"
	"github.com/clinicflow/appointment-service/internal/classifier"
	"github.com/clinicflow/appointment-service/internal/demand"
	"github.com/clinicflow/appointment-service/internal/notify"
	"github.com/clinicflow/appointment-service/internal/store"
	"github.com/clinicflow/appointment-service/pkg/logging"
)

// SurveyText is the follow-up message sent after an auto-detected miss.
const SurveyText = "Sorry we missed you. Tell us what happened: a quick reply helps us serve you better."

// Service resolves appointment attendance outcomes.
type Service struct {
	repo     store.Repository
	demand   *demand.Engine
	notifier notify.Notifier
	logger   *logging.Logger
}

// New constructs an attendance Service.
func New(repo store.Repository, eng *demand.Engine, notifier notify.Notifier, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, demand: eng, notifier: notifier, logger: logger}
}

func isTerminal(s store.AppointmentStatus) bool {
	return s == store.AppointmentAttended || s == store.AppointmentMissed
}

// SetStatus resolves an appointment to attended or missed. It is idempotent
// if the appointment is already in the target status, and fails
// InvalidTransition if the appointment is already terminal in a different
// status. auto marks whether the call originates from the auto-miss
// handler — only then is the follow-up survey link sent on a miss.
func (s *Service) SetStatus(ctx context.Context, apptID uuid.UUID, status store.AppointmentStatus, auto bool) error {
	if status != store.AppointmentAttended && status != store.AppointmentMissed {
		return apperr.E(apperr.KindValidation, "status must be attended or missed", nil)
	}

	appt, err := s.repo.FindAppointment(ctx, apptID)
	if err != nil {
		return fmt.Errorf("attendance: load appointment: %w", err)
	}
	if appt == nil {
		return apperr.E(apperr.KindNotFound, "appointment not found", nil)
	}

	if appt.Status == status {
		return nil
	}
	if isTerminal(appt.Status) {
		return apperr.E(apperr.KindInvalidTransition, fmt.Sprintf("appointment already %s", appt.Status), nil)
	}

	ok, err := s.repo.UpdateAppointmentStatus(ctx, apptID, appt.Status, status, "")
	if err != nil {
		return fmt.Errorf("attendance: transition appointment: %w", err)
	}
	if !ok {
		return apperr.E(apperr.KindInvalidTransition, "appointment state changed concurrently", nil)
	}
	appt.Status = status

	user, err := s.repo.FindUserByName(ctx, appt.UserName)
	if err != nil {
		return fmt.Errorf("attendance: load user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("attendance: booked appointment %s has no registered user %q", apptID, appt.UserName)
	}

	attended := status == store.AppointmentAttended
	if attended {
		user.AttendedCount++
	} else {
		user.MissedCount++
	}
	user.Score = classifier.ApplyScore(user.Score, classifier.ScoreDelta(attended))
	if user.AttendedCount+user.MissedCount >= classifier.MinEventsForCategory {
		user.Category = classifier.Classify(user.AttendedCount, user.MissedCount, user.Category)
	}
	if _, err := s.repo.UpsertUser(ctx, *user); err != nil {
		return fmt.Errorf("attendance: persist user: %w", err)
	}

	if attended {
		if err := s.demand.RecordAttendance(ctx, *appt); err != nil {
			return fmt.Errorf("attendance: record demand: %w", err)
		}
	} else if auto {
		if !s.notifier.Send(ctx, user.NotifyChannelID, SurveyText) {
			s.logger.Info("attendance: survey link not delivered", "appt_id", apptID, "user", user.UserName)
		}
	}

	return nil
}

// HandleAutoMiss is the C7 AutoMissCheck handler: reload the appointment,
// and if it is still booked (nobody resolved it since), mark it missed.
func (s *Service) HandleAutoMiss(ctx context.Context, apptID uuid.UUID) error {
	appt, err := s.repo.FindAppointment(ctx, apptID)
	if err != nil {
		return fmt.Errorf("attendance: auto-miss: load appointment: %w", err)
	}
	if appt == nil || appt.Status != store.AppointmentBooked {
		return nil
	}
	return s.SetStatus(ctx, apptID, store.AppointmentMissed, true)
}
