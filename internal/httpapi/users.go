package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinicflow/appointment-service/internal/apperr"
	"github.com/clinicflow/appointment-service/internal/classifier"
	"github.com/clinicflow/appointment-service/internal/store"
)

// publicCategory renders a classifier.Category in the HTTP surface's
// display form ("Good", "Very Good", "At-Risk").
func publicCategory(c classifier.Category) string {
	switch c {
	case classifier.CategoryVeryGood:
		return "Very Good"
	case classifier.CategoryAtRisk:
		return "At-Risk"
	default:
		return "Good"
	}
}

func parseCategory(s string) (classifier.Category, error) {
	switch s {
	case "Good":
		return classifier.CategoryGood, nil
	case "Very Good":
		return classifier.CategoryVeryGood, nil
	case "At-Risk":
		return classifier.CategoryAtRisk, nil
	default:
		return "", apperr.E(apperr.KindValidation, "category must be Good, Very Good, or At-Risk", nil)
	}
}

type userSummary struct {
	UserName string `json:"userName"`
	// Admin-only fields, omitted for the plain view.
	AttendedCount   *int    `json:"attendedCount,omitempty"`
	MissedCount     *int    `json:"missedCount,omitempty"`
	Category        *string `json:"category,omitempty"`
	ChannelLinked   *bool   `json:"channelLinked,omitempty"`
	AttendanceRate  *float64 `json:"attendanceRate,omitempty"`
}

func summarize(u store.User, admin bool) userSummary {
	s := userSummary{UserName: u.UserName}
	if admin {
		attended, missed := u.AttendedCount, u.MissedCount
		category := publicCategory(u.Category)
		linked := u.NotifyChannelID != ""
		rate := u.AttendanceRate()
		s.AttendedCount = &attended
		s.MissedCount = &missed
		s.Category = &category
		s.ChannelLinked = &linked
		s.AttendanceRate = &rate
	}
	return s
}

// getUser implements GET /users/:userName?view=admin.
func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	userName := chi.URLParam(r, "userName")
	u, err := h.repo.FindUserByName(r.Context(), userName)
	if err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindStore, "find user", err))
		return
	}
	if u == nil {
		writeError(w, h.logger, apperr.E(apperr.KindNotFound, "user not found", nil))
		return
	}
	admin := r.URL.Query().Get("view") == "admin"
	writeJSON(w, h.logger, http.StatusOK, summarize(*u, admin))
}

// listUsers implements GET /users.
func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.repo.ListUsers(r.Context())
	if err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindStore, "list users", err))
		return
	}
	admin := r.URL.Query().Get("view") == "admin"
	out := make([]userSummary, 0, len(users))
	for _, u := range users {
		out = append(out, summarize(u, admin))
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"users": out})
}

type registerRequest struct {
	UserName    string `json:"userName"`
	DisplayName string `json:"displayName,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// registerUser implements POST /users/register: an idempotent upsert.
func (h *handler) registerUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "invalid JSON body", err))
		return
	}
	if req.UserName == "" {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "userName is required", nil))
		return
	}

	existing, err := h.repo.FindUserByName(r.Context(), req.UserName)
	if err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindStore, "find user", err))
		return
	}
	user := store.User{UserName: req.UserName, DisplayName: req.DisplayName, Phone: req.Phone, Category: classifier.CategoryGood}
	if existing != nil {
		user = *existing
		if req.DisplayName != "" {
			user.DisplayName = req.DisplayName
		}
		if req.Phone != "" {
			user.Phone = req.Phone
		}
	}

	saved, err := h.repo.UpsertUser(r.Context(), user)
	if err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindStore, "upsert user", err))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, summarize(*saved, false))
}

type setCategoryRequest struct {
	UserName string `json:"userName"`
	Category string `json:"category"`
}

// setCategory implements POST /admin/set-category: an admin override.
func (h *handler) setCategory(w http.ResponseWriter, r *http.Request) {
	var req setCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "invalid JSON body", err))
		return
	}
	category, err := parseCategory(req.Category)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.repo.FindUserByName(r.Context(), req.UserName)
	if err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindStore, "find user", err))
		return
	}
	if user == nil {
		writeError(w, h.logger, apperr.E(apperr.KindUserNotRegistered, "user not registered", nil))
		return
	}
	user.Category = category
	saved, err := h.repo.UpsertUser(r.Context(), *user)
	if err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindStore, "upsert user", err))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, summarize(*saved, true))
}
