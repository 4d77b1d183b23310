// Package demand learns hourly attendance demand per (doctor, month,
// day-of-week, hour) cell and exposes the high-demand classification that
// gates AtRisk admission.
package demand

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/clinicflow/appointment-service/internal/clock"
	"github.com/clinicflow/appointment-service/internal/store"
	"github.com/clinicflow/appointment-service/pkg/logging"
)

// Engine implements the demand-learning and admission-classification rules.
type Engine struct {
	repo   store.Repository
	clock  clock.Clock
	logger *logging.Logger
}

// New creates a demand Engine.
func New(repo store.Repository, clk clock.Clock, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{repo: repo, clock: clk, logger: logger}
}

// EnsureMonth lazily initializes a (doctor, year, month): if any cell
// already exists, it's a no-op; otherwise the previous year's same-month
// cells are copied with totals reset to zero and thresholds carried over.
// If no prior-year cells exist either, the month is left empty — cells are
// created lazily on first attendance or admin baseline insert.
func (e *Engine) EnsureMonth(ctx context.Context, doctor string, date time.Time) error {
	year, month := date.Year(), int(date.Month())

	existing, err := e.repo.ListDemandCellsForMonth(ctx, doctor, year, month)
	if err != nil {
		return fmt.Errorf("demand: ensure month: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	prior, err := e.repo.ListDemandCellsForMonth(ctx, doctor, year-1, month)
	if err != nil {
		return fmt.Errorf("demand: ensure month: load prior year: %w", err)
	}
	for _, cell := range prior {
		key := store.DemandCellKey{DoctorName: doctor, Year: year, Month: month, DayOfWeek: cell.Key.DayOfWeek, Hour: cell.Key.Hour}
		threshold := cell.HighDemandThreshold
		_, err := e.repo.UpsertDemandCell(ctx, key, func(c *store.DemandCell) {
			c.TotalAppointments = 0
			c.HighDemandThreshold = threshold
			c.Source = store.DemandSourceAuto
			c.LastUpdated = e.now()
		})
		if err != nil {
			return fmt.Errorf("demand: ensure month: seed from prior year: %w", err)
		}
	}
	return nil
}

// RecordAttendance increments the total for the cell an attended
// appointment falls into.
func (e *Engine) RecordAttendance(ctx context.Context, appt store.Appointment) error {
	if err := e.EnsureMonth(ctx, appt.DoctorName, appt.Date); err != nil {
		return err
	}
	key := cellKeyFor(appt.DoctorName, appt.Date)
	_, err := e.repo.UpsertDemandCell(ctx, key, func(c *store.DemandCell) {
		c.TotalAppointments++
		c.LastUpdated = e.now()
	})
	if err != nil {
		return fmt.Errorf("demand: record attendance: %w", err)
	}
	return nil
}

// Effective returns the demand cell governing a (doctor, date) slot,
// following the precedence: current-year (dow,hour), previous-year
// (dow,hour), current-year admin baseline, previous-year admin baseline.
// Returns nil, nil if none of the four candidates exist.
func (e *Engine) Effective(ctx context.Context, doctor string, date time.Time) (*store.DemandCell, error) {
	year, hour := date.Year(), date.Hour()
	dow := int(date.Weekday())

	candidates := []store.DemandCellKey{
		{DoctorName: doctor, Year: year, Month: int(date.Month()), DayOfWeek: dow, Hour: hour},
		{DoctorName: doctor, Year: year - 1, Month: int(date.Month()), DayOfWeek: dow, Hour: hour},
		{DoctorName: doctor, Year: year, Month: int(date.Month()), DayOfWeek: store.NoDayOfWeek, Hour: hour},
		{DoctorName: doctor, Year: year - 1, Month: int(date.Month()), DayOfWeek: store.NoDayOfWeek, Hour: hour},
	}
	for _, key := range candidates {
		cell, err := e.repo.FindDemandCell(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("demand: effective: %w", err)
		}
		if cell != nil {
			return cell, nil
		}
	}
	return nil, nil
}

// IsHighDemand reports whether the effective cell for (doctor, date) is
// high-demand. A slot with no cell at all is not high-demand.
func (e *Engine) IsHighDemand(ctx context.Context, doctor string, date time.Time) (bool, error) {
	cell, err := e.Effective(ctx, doctor, date)
	if err != nil {
		return false, err
	}
	if cell == nil {
		return false, nil
	}
	return cell.HighDemand(), nil
}

// Recalc recomputes thresholds for every cell of a (doctor, year, month).
//
// |H|=0: no-op. |H|<3 (light mode): threshold = avg(total)*1.1 for every
// cell. |H|>=3: threshold = max(avg*1.2, total of the cell ranked
// floor(|H|*0.25) in descending order), applied to every cell.
func (e *Engine) Recalc(ctx context.Context, doctor string, year, month int) error {
	cells, err := e.repo.ListDemandCellsForMonth(ctx, doctor, year, month)
	if err != nil {
		return fmt.Errorf("demand: recalc: %w", err)
	}
	if len(cells) == 0 {
		return nil
	}

	avg := average(cells)
	var threshold float64
	if len(cells) < 3 {
		threshold = avg * 1.1
	} else {
		sorted := make([]int, len(cells))
		for i, c := range cells {
			sorted[i] = c.TotalAppointments
		}
		sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
		rank := len(cells) * 25 / 100
		boundary := float64(sorted[rank])
		threshold = math.Max(avg*1.2, boundary)
	}

	for _, cell := range cells {
		key := cell.Key
		key.DoctorName, key.Year, key.Month = doctor, year, month
		if _, err := e.repo.UpsertDemandCell(ctx, key, func(c *store.DemandCell) {
			c.HighDemandThreshold = threshold
			c.LastUpdated = e.now()
		}); err != nil {
			return fmt.Errorf("demand: recalc: apply threshold: %w", err)
		}
	}
	return nil
}

// CapPeaks keeps only the top maxFraction of cells (by total, descending)
// eligible for high-demand; every other cell's threshold is raised to +Inf.
func (e *Engine) CapPeaks(ctx context.Context, doctor string, year, month int, maxFraction float64) error {
	cells, err := e.repo.ListDemandCellsForMonth(ctx, doctor, year, month)
	if err != nil {
		return fmt.Errorf("demand: cap peaks: %w", err)
	}
	if len(cells) == 0 {
		return nil
	}

	sorted := make([]store.DemandCell, len(cells))
	copy(sorted, cells)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TotalAppointments > sorted[j].TotalAppointments
	})

	top := int(float64(len(sorted)) * maxFraction)
	isPeak := make(map[store.DemandCellKey]bool, top)
	for i := 0; i < top && i < len(sorted); i++ {
		isPeak[sorted[i].Key] = true
	}

	for _, cell := range cells {
		key := cell.Key
		key.DoctorName, key.Year, key.Month = doctor, year, month
		if isPeak[key] {
			continue
		}
		if _, err := e.repo.UpsertDemandCell(ctx, key, func(c *store.DemandCell) {
			c.HighDemandThreshold = math.Inf(1)
			c.LastUpdated = e.now()
		}); err != nil {
			return fmt.Errorf("demand: cap peaks: apply: %w", err)
		}
	}
	return nil
}

// SetBaseline replaces the admin-baseline rows for a (doctor, year, month)
// with one dayOfWeek=⊥, source=admin row per listed hour.
func (e *Engine) SetBaseline(ctx context.Context, doctor string, year, month int, hours []int, threshold float64) error {
	if threshold <= 0 {
		threshold = 3
	}
	if err := e.repo.DeleteAdminCellsForMonth(ctx, doctor, year, month); err != nil {
		return fmt.Errorf("demand: set baseline: %w", err)
	}
	for _, hour := range hours {
		key := store.DemandCellKey{DoctorName: doctor, Year: year, Month: month, DayOfWeek: store.NoDayOfWeek, Hour: hour}
		_, err := e.repo.UpsertDemandCell(ctx, key, func(c *store.DemandCell) {
			c.Source = store.DemandSourceAdmin
			c.HighDemandThreshold = threshold
			c.LastUpdated = e.now()
		})
		if err != nil {
			return fmt.Errorf("demand: set baseline: insert hour %d: %w", hour, err)
		}
	}
	return nil
}

// LateRelease lifts the high-demand gate on any available appointment
// starting within the next 2 hours whose effective cell is currently
// high-demand. Run hourly.
func (e *Engine) LateRelease(ctx context.Context) error {
	now := e.now()
	soon := now.Add(2 * time.Hour)
	available := store.AppointmentAvailable
	appts, err := e.repo.ListAppointments(ctx, store.AppointmentFilter{
		Status:   &available,
		DateFrom: &now,
		DateTo:   &soon,
	})
	if err != nil {
		return fmt.Errorf("demand: late release: list appointments: %w", err)
	}

	released := make(map[store.DemandCellKey]bool)
	for _, appt := range appts {
		cell, err := e.Effective(ctx, appt.DoctorName, appt.Date)
		if err != nil {
			return fmt.Errorf("demand: late release: effective: %w", err)
		}
		if cell == nil || !cell.HighDemand() || released[cell.Key] {
			continue
		}
		released[cell.Key] = true
		if _, err := e.repo.UpsertDemandCell(ctx, cell.Key, func(c *store.DemandCell) {
			c.HighDemandThreshold = math.Inf(1)
			c.LastUpdated = e.now()
		}); err != nil {
			return fmt.Errorf("demand: late release: apply: %w", err)
		}
		e.logger.Info("demand: late release", "doctor", appt.DoctorName, "hour", cell.Key.Hour, "dow", cell.Key.DayOfWeek)
	}
	return nil
}

func cellKeyFor(doctor string, date time.Time) store.DemandCellKey {
	return store.DemandCellKey{
		DoctorName: doctor,
		Year:       date.Year(),
		Month:      int(date.Month()),
		DayOfWeek:  int(date.Weekday()),
		Hour:       date.Hour(),
	}
}

func average(cells []store.DemandCell) float64 {
	if len(cells) == 0 {
		return 0
	}
	sum := 0
	for _, c := range cells {
		sum += c.TotalAppointments
	}
	return float64(sum) / float64(len(cells))
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock.Now()
	}
	return time.Now()
}
