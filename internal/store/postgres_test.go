package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/appointment-service/internal/classifier"
)

func TestFindUserByNameIsCaseInsensitive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgres(mock)
	rows := pgxmock.NewRows([]string{"user_name", "display_name", "phone", "notify_channel_id", "attended_count", "missed_count", "score", "category"}).
		AddRow("Amira", "Amira K.", "555-1212", "chan-1", 5, 1, 50, "VeryGood")
	mock.ExpectQuery("SELECT user_name").WithArgs("amira").WillReturnRows(rows)

	u, err := repo.FindUserByName(context.Background(), "AMIRA")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Amira", u.UserName)
	assert.Equal(t, classifier.CategoryVeryGood, u.Category)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindUserByNameNotFoundReturnsNilNoError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgres(mock)
	mock.ExpectQuery("SELECT user_name").WithArgs("ghost").WillReturnRows(pgxmock.NewRows([]string{
		"user_name", "display_name", "phone", "notify_channel_id", "attended_count", "missed_count", "score", "category",
	}))

	u, err := repo.FindUserByName(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUpsertUserPersistsCountersAndCategoryOnConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgres(mock)
	user := User{
		UserName:        "amira",
		DisplayName:     "Amira K.",
		Phone:           "555-1212",
		NotifyChannelID: "chan-1",
		AttendedCount:   4,
		MissedCount:     1,
		Score:           40,
		Category:        classifier.CategoryVeryGood,
	}

	mock.ExpectExec("INSERT INTO users").
		WithArgs(user.UserName, NormalizedName(user.UserName), user.DisplayName, user.Phone, user.NotifyChannelID,
			user.AttendedCount, user.MissedCount, user.Score, string(user.Category)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rows := pgxmock.NewRows([]string{"user_name", "display_name", "phone", "notify_channel_id", "attended_count", "missed_count", "score", "category"}).
		AddRow(user.UserName, user.DisplayName, user.Phone, user.NotifyChannelID, user.AttendedCount, user.MissedCount, user.Score, string(user.Category))
	mock.ExpectQuery("SELECT user_name").WithArgs(NormalizedName(user.UserName)).WillReturnRows(rows)

	saved, err := repo.UpsertUser(context.Background(), user)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 4, saved.AttendedCount)
	assert.Equal(t, 1, saved.MissedCount)
	assert.Equal(t, 40, saved.Score)
	assert.Equal(t, classifier.CategoryVeryGood, saved.Category)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAppointmentStatusCompareAndSet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgres(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE appointments").
		WithArgs(string(AppointmentBooked), "amira", id, string(AppointmentAvailable)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := repo.UpdateAppointmentStatus(context.Background(), id, AppointmentAvailable, AppointmentBooked, "amira")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAppointmentStatusLostRaceReturnsFalse(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgres(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE appointments").
		WithArgs(string(AppointmentBooked), "amira", id, string(AppointmentAvailable)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.UpdateAppointmentStatus(context.Background(), id, AppointmentAvailable, AppointmentBooked, "amira")
	require.NoError(t, err)
	assert.False(t, ok, "lost compare-and-set race must report false, not error")
}

func TestUpsertDemandCellAppliesMutatorOverExistingRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgres(mock)
	key := DemandCellKey{DoctorName: "Dr.Sara", Year: 2025, Month: 10, DayOfWeek: 2, Hour: 9}
	now := time.Now().UTC()

	existingRows := pgxmock.NewRows([]string{"total_appointments", "high_demand_threshold", "source", "last_updated"}).
		AddRow(3, 3.0, "auto", now)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT total_appointments").
		WithArgs(key.DoctorName, key.Year, key.Month, key.DayOfWeek, key.Hour).
		WillReturnRows(existingRows)
	mock.ExpectExec("INSERT INTO demand_cells").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	cell, err := repo.UpsertDemandCell(context.Background(), key, func(c *DemandCell) {
		c.TotalAppointments++
		c.LastUpdated = now
	})
	require.NoError(t, err)
	assert.Equal(t, 4, cell.TotalAppointments)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAppointmentReturnsFalseWhenMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgres(mock)
	id := uuid.New()
	mock.ExpectExec("DELETE FROM appointments").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 0))

	ok, err := repo.DeleteAppointment(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
