package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicflow/appointment-service/internal/apperr"
	"github.com/clinicflow/appointment-service/internal/store"
)

type addAppointmentsRequest struct {
	DoctorName      string `json:"doctorName"`
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate,omitempty"`
	StartHour       int    `json:"startHour"`
	StartMinute     int    `json:"startMinute,omitempty"`
	EndHour         *int   `json:"endHour,omitempty"`
	EndMinute       int    `json:"endMinute,omitempty"`
	IntervalMinutes int    `json:"intervalMinutes,omitempty"`
}

// addAppointments implements POST /appointments/add: a single
// slot, one slot per day, or a grid of slots on each day of the range,
// depending on which optional fields are present.
func (h *handler) addAppointments(w http.ResponseWriter, r *http.Request) {
	var req addAppointmentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "invalid JSON body", err))
		return
	}
	if req.DoctorName == "" || req.StartDate == "" {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "doctorName and startDate are required", nil))
		return
	}

	loc := h.location()
	slots, err := buildSlots(req, loc)
	if err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, err.Error(), err))
		return
	}

	created := make([]store.Appointment, 0, len(slots))
	for _, slot := range slots {
		appt, err := h.repo.CreateAppointment(r.Context(), store.Appointment{
			DoctorName: req.DoctorName,
			Date:       slot,
			Status:     store.AppointmentAvailable,
		})
		if err != nil {
			writeError(w, h.logger, apperr.E(apperr.KindStore, "create appointment", err))
			return
		}
		created = append(created, *appt)
	}

	writeJSON(w, h.logger, http.StatusCreated, map[string]any{
		"created": len(created),
		"slots":   created,
	})
}

// buildSlots expands an addAppointmentsRequest into the concrete slot times
// it describes.
func buildSlots(req addAppointmentsRequest, loc *time.Location) ([]time.Time, error) {
	startDate, err := time.ParseInLocation("2006-01-02", req.StartDate, loc)
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, "invalid startDate", err)
	}
	endDateStr := req.EndDate
	if endDateStr == "" {
		endDateStr = req.StartDate
	}
	endDate, err := time.ParseInLocation("2006-01-02", endDateStr, loc)
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, "invalid endDate", err)
	}
	if endDate.Before(startDate) {
		return nil, apperr.E(apperr.KindValidation, "endDate precedes startDate", nil)
	}

	at := func(day time.Time, hour, minute int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	}

	var slots []time.Time
	if req.EndHour == nil {
		if !startDate.Equal(endDate) {
			for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
				slots = append(slots, at(d, req.StartHour, req.StartMinute))
			}
			return slots, nil
		}
		slots = append(slots, at(startDate, req.StartHour, req.StartMinute))
		return slots, nil
	}

	interval := req.IntervalMinutes
	if interval <= 0 {
		interval = 60
	}
	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		dayStart := at(d, req.StartHour, req.StartMinute)
		dayEnd := at(d, *req.EndHour, req.EndMinute)
		for t := dayStart; !t.After(dayEnd); t = t.Add(time.Duration(interval) * time.Minute) {
			slots = append(slots, t)
		}
	}
	return slots, nil
}

func (h *handler) location() *time.Location {
	if h.clock != nil && h.clock.Location() != nil {
		return h.clock.Location()
	}
	return time.UTC
}

// deleteAppointment implements DELETE /appointments/delete/:id.
func (h *handler) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "invalid appointment id", err))
		return
	}
	ok, err := h.repo.DeleteAppointment(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindStore, "delete appointment", err))
		return
	}
	if !ok {
		writeError(w, h.logger, apperr.E(apperr.KindNotFound, "appointment not found", nil))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "deleted"})
}

// listAppointments implements GET /appointments/{available,booked,all}.
// An empty status filters nothing (the "all" route).
func (h *handler) listAppointments(status store.AppointmentStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.AppointmentFilter{}
		if status != "" {
			filter.Status = &status
		}
		slots, err := h.repo.ListAppointments(r.Context(), filter)
		if err != nil {
			writeError(w, h.logger, apperr.E(apperr.KindStore, "list appointments", err))
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]any{"slots": slots})
	}
}

type bookRequest struct {
	UserName string `json:"userName"`
	Phone    string `json:"phone,omitempty"`
}

// bookAppointment implements POST /appointments/book/:id.
func (h *handler) bookAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "invalid appointment id", err))
		return
	}
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "invalid JSON body", err))
		return
	}
	if req.UserName == "" {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "userName is required", nil))
		return
	}

	result, err := h.booking.Book(r.Context(), id, req.UserName, req.Phone)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

type statusRequest struct {
	Status string `json:"status"`
}

// setStatus implements POST /appointments/status/:id.
func (h *handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "invalid appointment id", err))
		return
	}
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "invalid JSON body", err))
		return
	}

	var status store.AppointmentStatus
	switch req.Status {
	case "attended":
		status = store.AppointmentAttended
	case "missed":
		status = store.AppointmentMissed
	default:
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "status must be attended or missed", nil))
		return
	}

	if err := h.attendance.SetStatus(r.Context(), id, status, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": string(status)})
}
