package demand

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/appointment-service/internal/clock"
	"github.com/clinicflow/appointment-service/internal/store"
	"github.com/clinicflow/appointment-service/internal/storetest"
)

func TestHighDemandReflectsSourceAndThreshold(t *testing.T) {
	cell := store.DemandCell{Source: store.DemandSourceAdmin, TotalAppointments: 0, HighDemandThreshold: 0}
	assert.True(t, cell.HighDemand(), "admin source is always high-demand")

	cell = store.DemandCell{Source: store.DemandSourceAuto, TotalAppointments: 3, HighDemandThreshold: 3}
	assert.True(t, cell.HighDemand())

	cell = store.DemandCell{Source: store.DemandSourceAuto, TotalAppointments: 2, HighDemandThreshold: 3}
	assert.False(t, cell.HighDemand())
}

func TestRecalcAdaptiveThreshold(t *testing.T) {
	repo := storetest.New()
	fake := clock.NewFake(time.Now())
	eng := New(repo, fake, nil)

	totals := []int{1, 2, 3, 4, 8}
	for i, total := range totals {
		repo.SeedDemandCell(store.DemandCell{
			Key:               store.DemandCellKey{DoctorName: "Dr.K", Year: 2025, Month: 11, DayOfWeek: i, Hour: 10},
			TotalAppointments: total,
			Source:            store.DemandSourceAuto,
		})
	}

	require.NoError(t, eng.Recalc(context.Background(), "Dr.K", 2025, 11))

	cells, err := repo.ListDemandCellsForMonth(context.Background(), "Dr.K", 2025, 11)
	require.NoError(t, err)
	require.Len(t, cells, 5)
	for _, c := range cells {
		assert.InDelta(t, 4.32, c.HighDemandThreshold, 0.001)
	}
}

func TestRecalcLightModeBelowThreeCells(t *testing.T) {
	repo := storetest.New()
	fake := clock.NewFake(time.Now())
	eng := New(repo, fake, nil)

	repo.SeedDemandCell(store.DemandCell{Key: store.DemandCellKey{DoctorName: "Dr.K", Year: 2025, Month: 11, DayOfWeek: 1, Hour: 9}, TotalAppointments: 10, Source: store.DemandSourceAuto})
	repo.SeedDemandCell(store.DemandCell{Key: store.DemandCellKey{DoctorName: "Dr.K", Year: 2025, Month: 11, DayOfWeek: 2, Hour: 9}, TotalAppointments: 20, Source: store.DemandSourceAuto})

	require.NoError(t, eng.Recalc(context.Background(), "Dr.K", 2025, 11))

	cells, err := repo.ListDemandCellsForMonth(context.Background(), "Dr.K", 2025, 11)
	require.NoError(t, err)
	for _, c := range cells {
		assert.InDelta(t, 16.5, c.HighDemandThreshold, 0.001) // avg(15)*1.1
	}
}

func TestCapPeaksKeepsOnlyTopFraction(t *testing.T) {
	repo := storetest.New()
	fake := clock.NewFake(time.Now())
	eng := New(repo, fake, nil)

	for i, total := range []int{10, 8, 6, 4, 2, 1} {
		repo.SeedDemandCell(store.DemandCell{
			Key:                 store.DemandCellKey{DoctorName: "Dr.K", Year: 2025, Month: 11, DayOfWeek: i, Hour: 9},
			TotalAppointments:   total,
			HighDemandThreshold: 3,
			Source:              store.DemandSourceAuto,
		})
	}

	require.NoError(t, eng.CapPeaks(context.Background(), "Dr.K", 2025, 11, 0.5))

	cells, err := repo.ListDemandCellsForMonth(context.Background(), "Dr.K", 2025, 11)
	require.NoError(t, err)
	peaks, capped := 0, 0
	for _, c := range cells {
		if math.IsInf(c.HighDemandThreshold, 1) {
			capped++
		} else {
			peaks++
		}
	}
	assert.Equal(t, 3, peaks)
	assert.Equal(t, 3, capped)
}

func TestEffectivePrecedenceOrder(t *testing.T) {
	repo := storetest.New()
	fake := clock.NewFake(time.Now())
	eng := New(repo, fake, nil)

	date := time.Date(2025, 10, 14, 9, 15, 0, 0, time.UTC)
	dow := int(date.Weekday())

	repo.SeedDemandCell(store.DemandCell{
		Key:    store.DemandCellKey{DoctorName: "Dr.Sara", Year: 2025, Month: 10, DayOfWeek: store.NoDayOfWeek, Hour: 9},
		Source: store.DemandSourceAdmin,
	})

	cell, err := eng.Effective(context.Background(), "Dr.Sara", date)
	require.NoError(t, err)
	require.NotNil(t, cell)
	assert.Equal(t, store.DemandSourceAdmin, cell.Source, "baseline is the only candidate, so it wins")

	repo.SeedDemandCell(store.DemandCell{
		Key:               store.DemandCellKey{DoctorName: "Dr.Sara", Year: 2025, Month: 10, DayOfWeek: dow, Hour: 9},
		TotalAppointments: 5,
		Source:            store.DemandSourceAuto,
	})

	cell, err = eng.Effective(context.Background(), "Dr.Sara", date)
	require.NoError(t, err)
	assert.Equal(t, store.DemandSourceAuto, cell.Source, "current-year (dow,hour) outranks the admin baseline")
}

func TestLateReleaseLiftsGateForSoonSlots(t *testing.T) {
	now := time.Date(2025, 10, 10, 12, 30, 0, 0, time.UTC)
	repo := storetest.New()
	fake := clock.NewFake(now)
	eng := New(repo, fake, nil)

	slotTime := now.Add(90 * time.Minute)
	repo.SeedAppointment(store.Appointment{DoctorName: "Dr.K", Date: slotTime, Status: store.AppointmentAvailable})
	repo.SeedDemandCell(store.DemandCell{
		Key:                 store.DemandCellKey{DoctorName: "Dr.K", Year: slotTime.Year(), Month: int(slotTime.Month()), DayOfWeek: int(slotTime.Weekday()), Hour: slotTime.Hour()},
		TotalAppointments:   5,
		HighDemandThreshold: 3,
		Source:              store.DemandSourceAuto,
	})

	require.NoError(t, eng.LateRelease(context.Background()))

	high, err := eng.IsHighDemand(context.Background(), "Dr.K", slotTime)
	require.NoError(t, err)
	assert.False(t, high, "late release must lift the gate for a slot starting within 2 hours")
}
