package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/appointment-service/internal/attendance"
	"github.com/clinicflow/appointment-service/internal/booking"
	"github.com/clinicflow/appointment-service/internal/catalog"
	"github.com/clinicflow/appointment-service/internal/classifier"
	"github.com/clinicflow/appointment-service/internal/clock"
	"github.com/clinicflow/appointment-service/internal/demand"
	"github.com/clinicflow/appointment-service/internal/notify"
	"github.com/clinicflow/appointment-service/internal/scheduler"
	"github.com/clinicflow/appointment-service/internal/store"
	"github.com/clinicflow/appointment-service/internal/storetest"
)

type fakeArmer struct{ calls int }

func (f *fakeArmer) ArmAt(ctx context.Context, kind scheduler.JobKind, key string, fireAt time.Time, payload any) error {
	f.calls++
	return nil
}

func newTestRouter(t *testing.T, now time.Time) (http.Handler, *storetest.FakeRepository) {
	t.Helper()
	repo := storetest.New()
	fake := clock.NewFake(now)
	eng := demand.New(repo, fake, nil)
	cat := catalog.New(repo)
	repo.SeedMessages(string(classifier.MessageDefaultNudge), "Hi name, see you soon!")
	require.NoError(t, cat.Refresh(context.Background(), classifier.MessageDefaultNudge))

	coord := booking.New(repo, eng, cat, notify.Noop{}, &fakeArmer{}, fake, "Riyadh Family Clinic", nil)
	attSvc := attendance.New(repo, eng, notify.Noop{}, nil)

	r := New(Config{
		Repo:       repo,
		Booking:    coord,
		Attendance: attSvc,
		Demand:     eng,
		Notifier:   notify.Noop{},
		Clock:      fake,
	})
	return r, repo
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAddAppointmentsCreatesSingleSlot(t *testing.T) {
	r, _ := newTestRouter(t, time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC))

	rec := doJSON(t, r, http.MethodPost, "/appointments/add", map[string]any{
		"doctorName": "Dr. Sara",
		"startDate":  "2025-10-07",
		"startHour":  9,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Created int `json:"created"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Created)
}

func TestAddAppointmentsRejectsReversedDates(t *testing.T) {
	r, _ := newTestRouter(t, time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC))

	rec := doJSON(t, r, http.MethodPost, "/appointments/add", map[string]any{
		"doctorName": "Dr. Sara",
		"startDate":  "2025-10-10",
		"endDate":    "2025-10-01",
		"startHour":  9,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookAppointmentEndToEnd(t *testing.T) {
	now := time.Date(2025, 10, 7, 8, 0, 0, 0, time.UTC)
	r, repo := newTestRouter(t, now)
	repo.SeedUser(store.User{UserName: "amira", Category: classifier.CategoryGood})
	repo.SeedAppointment(store.Appointment{DoctorName: "Dr. Sara", Date: now.Add(time.Hour), Status: store.AppointmentAvailable})

	var id string
	for k := range reposIDs(repo) {
		id = k
	}

	rec := doJSON(t, r, http.MethodPost, "/appointments/book/"+id, map[string]any{"userName": "amira"})
	require.Equal(t, http.StatusOK, rec.Code)

	avail := doJSON(t, r, http.MethodGet, "/appointments/available", nil)
	require.Equal(t, http.StatusOK, avail.Code)
	var availBody struct {
		Slots []store.Appointment `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(avail.Body.Bytes(), &availBody))
	assert.Empty(t, availBody.Slots, "the booked slot must no longer be available")
}

func TestBookAppointmentNotFoundReturns404(t *testing.T) {
	r, _ := newTestRouter(t, time.Date(2025, 10, 7, 8, 0, 0, 0, time.UTC))
	rec := doJSON(t, r, http.MethodPost, "/appointments/book/"+newUUID(), map[string]any{"userName": "amira"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetStatusRejectsUnknownValue(t *testing.T) {
	r, _ := newTestRouter(t, time.Date(2025, 10, 7, 8, 0, 0, 0, time.UTC))
	rec := doJSON(t, r, http.MethodPost, "/appointments/status/"+newUUID(), map[string]any{"status": "cancelled"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterAndFetchUserAdminView(t *testing.T) {
	r, _ := newTestRouter(t, time.Date(2025, 10, 7, 8, 0, 0, 0, time.UTC))

	rec := doJSON(t, r, http.MethodPost, "/users/register", map[string]any{"userName": "fahad", "displayName": "Fahad"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/users/fahad?view=admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body userSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Category)
	assert.Equal(t, "Good", *body.Category)
}

func TestSetCategoryOverridesClassification(t *testing.T) {
	r, repo := newTestRouter(t, time.Date(2025, 10, 7, 8, 0, 0, 0, time.UTC))
	repo.SeedUser(store.User{UserName: "fahad", Category: classifier.CategoryGood})

	rec := doJSON(t, r, http.MethodPost, "/admin/set-category", map[string]any{"userName": "fahad", "category": "At-Risk"})
	require.Equal(t, http.StatusOK, rec.Code)

	u, err := repo.FindUserByName(context.Background(), "fahad")
	require.NoError(t, err)
	assert.Equal(t, classifier.CategoryAtRisk, u.Category)
}

func TestHighDemandSetupAndGet(t *testing.T) {
	r, _ := newTestRouter(t, time.Date(2025, 10, 7, 8, 0, 0, 0, time.UTC))

	rec := doJSON(t, r, http.MethodPost, "/high-demand/setup", map[string]any{
		"doctorName": "Dr.Sara", "year": 2025, "month": 10, "hours": []int{9, 10},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/high-demand?doctorName=Dr.Sara&year=2025&month=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Summary struct {
			HighDemandHours int `json:"highDemandHours"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Summary.HighDemandHours)
}

func reposIDs(repo *storetest.FakeRepository) map[string]struct{} {
	out := make(map[string]struct{})
	appts, _ := repo.ListAppointments(context.Background(), store.AppointmentFilter{})
	for _, a := range appts {
		out[a.ID.String()] = struct{}{}
	}
	return out
}

func newUUID() string {
	return "00000000-0000-0000-0000-000000000000"
}
