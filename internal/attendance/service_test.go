package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/appointment-service/internal/classifier"
	"github.com/clinicflow/appointment-service/internal/clock"
	"github.com/clinicflow/appointment-service/internal/demand"
	"github.com/clinicflow/appointment-service/internal/store"
	"github.com/clinicflow/appointment-service/internal/storetest"
)

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Send(ctx context.Context, channelID, text string) bool {
	f.sent = append(f.sent, text)
	return true
}

func TestSetStatusCategoryTransitionFromGoodToVeryGood(t *testing.T) {
	repo := storetest.New()
	fake := clock.NewFake(time.Now())
	eng := demand.New(repo, fake, nil)
	notifier := &fakeNotifier{}
	svc := New(repo, eng, notifier, nil)

	repo.SeedUser(store.User{UserName: "amira", AttendedCount: 2, MissedCount: 1, Category: classifier.CategoryGood})
	appt := store.Appointment{DoctorName: "Dr. Sara", Date: fake.Now(), Status: store.AppointmentBooked, UserName: "amira"}
	repo.SeedAppointment(appt)
	id := firstID(t, repo)

	require.NoError(t, svc.SetStatus(context.Background(), id, store.AppointmentAttended, false))
	u, err := repo.FindUserByName(context.Background(), "amira")
	require.NoError(t, err)
	assert.Equal(t, 3, u.AttendedCount)
	assert.Equal(t, classifier.CategoryGood, u.Category, "rate 75 stays Good")

	appt2 := store.Appointment{DoctorName: "Dr. Sara", Date: fake.Now(), Status: store.AppointmentBooked, UserName: "amira"}
	repo.SeedAppointment(appt2)
	id2 := secondID(t, repo, id)
	require.NoError(t, svc.SetStatus(context.Background(), id2, store.AppointmentAttended, false))

	u, err = repo.FindUserByName(context.Background(), "amira")
	require.NoError(t, err)
	assert.Equal(t, 4, u.AttendedCount)
	assert.Equal(t, classifier.CategoryVeryGood, u.Category, "rate 80 promotes to VeryGood")
}

func TestSetStatusIsIdempotent(t *testing.T) {
	repo := storetest.New()
	fake := clock.NewFake(time.Now())
	eng := demand.New(repo, fake, nil)
	svc := New(repo, eng, &fakeNotifier{}, nil)

	repo.SeedUser(store.User{UserName: "amira", Category: classifier.CategoryGood})
	repo.SeedAppointment(store.Appointment{DoctorName: "Dr. Sara", Date: fake.Now(), Status: store.AppointmentBooked, UserName: "amira"})
	id := firstID(t, repo)

	require.NoError(t, svc.SetStatus(context.Background(), id, store.AppointmentMissed, false))
	require.NoError(t, svc.SetStatus(context.Background(), id, store.AppointmentMissed, false))

	u, err := repo.FindUserByName(context.Background(), "amira")
	require.NoError(t, err)
	assert.Equal(t, 1, u.MissedCount, "replaying the same terminal status must not double-count")
}

func TestSetStatusConflictingTerminalTransitionFails(t *testing.T) {
	repo := storetest.New()
	fake := clock.NewFake(time.Now())
	eng := demand.New(repo, fake, nil)
	svc := New(repo, eng, &fakeNotifier{}, nil)

	repo.SeedUser(store.User{UserName: "amira", Category: classifier.CategoryGood})
	repo.SeedAppointment(store.Appointment{DoctorName: "Dr. Sara", Date: fake.Now(), Status: store.AppointmentAttended, UserName: "amira"})
	id := firstID(t, repo)

	err := svc.SetStatus(context.Background(), id, store.AppointmentMissed, false)
	require.Error(t, err)
}

func TestHandleAutoMissSendsSurveyOnceAndReplayIsNoop(t *testing.T) {
	repo := storetest.New()
	fake := clock.NewFake(time.Now())
	eng := demand.New(repo, fake, nil)
	notifier := &fakeNotifier{}
	svc := New(repo, eng, notifier, nil)

	repo.SeedUser(store.User{UserName: "amira", NotifyChannelID: "chan-1", Category: classifier.CategoryGood})
	repo.SeedAppointment(store.Appointment{DoctorName: "Dr. Sara", Date: fake.Now().Add(-15 * time.Minute), Status: store.AppointmentBooked, UserName: "amira"})
	id := firstID(t, repo)

	require.NoError(t, svc.HandleAutoMiss(context.Background(), id))
	assert.Len(t, notifier.sent, 1, "auto-miss delivers the follow-up survey")

	// Replaying after it's already missed must be a no-op, not a second survey.
	require.NoError(t, svc.HandleAutoMiss(context.Background(), id))
	assert.Len(t, notifier.sent, 1)
}

func firstID(t *testing.T, repo *storetest.FakeRepository) uuid.UUID {
	t.Helper()
	appts, err := repo.ListAppointments(context.Background(), store.AppointmentFilter{})
	require.NoError(t, err)
	require.Len(t, appts, 1)
	return appts[0].ID
}

func secondID(t *testing.T, repo *storetest.FakeRepository, exclude uuid.UUID) uuid.UUID {
	t.Helper()
	appts, err := repo.ListAppointments(context.Background(), store.AppointmentFilter{})
	require.NoError(t, err)
	for _, a := range appts {
		if a.ID != exclude {
			return a.ID
		}
	}
	t.Fatal("no second appointment found")
	return uuid.Nil
}
