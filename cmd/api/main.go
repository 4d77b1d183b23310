package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/clinicflow/appointment-service/internal/attendance"
	"github.com/clinicflow/appointment-service/internal/booking"
	"github.com/clinicflow/appointment-service/internal/catalog"
	"github.com/clinicflow/appointment-service/internal/classifier"
	"github.com/clinicflow/appointment-service/internal/clock"
	"github.com/clinicflow/appointment-service/internal/config"
	"github.com/clinicflow/appointment-service/internal/demand"
	"github.com/clinicflow/appointment-service/internal/httpapi"
	"github.com/clinicflow/appointment-service/internal/notify"
	"github.com/clinicflow/appointment-service/internal/scheduler"
	"github.com/clinicflow/appointment-service/internal/store"
	"github.com/clinicflow/appointment-service/migrations"
	"github.com/clinicflow/appointment-service/pkg/logging"
)

// clinicName is the display name embedded in every reminder header
// §6). Future work may make this per-tenant; today it is a single clinic.
const clinicName = "Riyadh Family Clinic"

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic appointment service", "env", cfg.Env, "port", cfg.Port)

	appCtx, stop := context.WithCancel(context.Background())
	defer stop()

	dbPool := connectPostgresPool(appCtx, cfg.DatabaseURL, logger)
	if dbPool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer dbPool.Close()

	sqlDB := stdlib.OpenDBFromPool(dbPool)
	defer sqlDB.Close()
	runAutoMigrate(sqlDB, logger)

	sysClock := clock.New(cfg.Timezone)
	loc := sysClock.Location()

	repo := store.NewPostgres(dbPool)

	notifier, err := notify.New(cfg.BotToken, logger)
	if err != nil {
		logger.Error("failed to initialize telegram notifier", "error", err)
		os.Exit(1)
	}

	msgCatalog := catalog.New(repo)
	for _, cat := range []classifier.MessageCategory{
		classifier.MessageDefaultNudge,
		classifier.MessagePositiveNudge,
		classifier.MessageReEngagement,
	} {
		if err := msgCatalog.Refresh(appCtx, cat); err != nil {
			logger.Error("failed to load message catalog", "category", cat, "error", err)
			os.Exit(1)
		}
	}

	jobStore := scheduler.NewJobStore(dbPool)
	sched := scheduler.New(jobStore, sysClock, logger, cfg.WorkerCount)

	demandEngine := demand.New(repo, sysClock, logger)
	coordinator := booking.New(repo, demandEngine, msgCatalog, notifier, sched, sysClock, clinicName, logger)
	attendanceSvc := attendance.New(repo, demandEngine, notifier, logger)

	sched.Handle(scheduler.KindReminderFire, reminderFireHandler(coordinator))
	sched.Handle(scheduler.KindAutoMissCheck, autoMissHandler(attendanceSvc))
	sched.Handle(scheduler.KindMonthEndLearn, monthEndLearnHandler(repo, demandEngine, sysClock))
	sched.Handle(scheduler.KindMonthlyRecalc, monthlyRecalcHandler(repo, demandEngine, sysClock))
	sched.Handle(scheduler.KindHourlyMaintenance, hourlyMaintenanceHandler(repo, demandEngine, sysClock))

	if err := sched.OnBoot(appCtx); err != nil {
		logger.Error("scheduler: failed to rehydrate pending jobs", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := sched.Run(appCtx); err != nil {
			logger.Error("scheduler: run loop exited", "error", err)
		}
	}()

	cronRunner := startCronJobs(appCtx, sched, loc, logger)
	defer cronRunner.Stop()

	router := httpapi.New(httpapi.Config{
		Repo:               repo,
		Booking:            coordinator,
		Attendance:         attendanceSvc,
		Demand:             demandEngine,
		Notifier:           notifier,
		Clock:              sysClock,
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stop()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func connectPostgresPool(ctx context.Context, dbURL string, logger *logging.Logger) *pgxpool.Pool {
	if dbURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to postgres")
	return pool
}

func runAutoMigrate(db *sql.DB, logger *logging.Logger) {
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Error("auto-migrate: failed to open migrations source", "error", err)
		return
	}
	dbDriver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		logger.Error("auto-migrate: failed to create db driver", "error", err)
		return
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		logger.Error("auto-migrate: failed to create migrator", "error", err)
		return
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("auto-migrate: migration failed", "error", err)
		return
	}
	logger.Info("auto-migrate: database migrations applied")
}

// reminderFireHandler renders and delivers an armed reminder. Replaying a
// reminder that was already delivered (a crash before the job's status was
// stored) delivers it again while the appointment is still booked.
func reminderFireHandler(coord *booking.Coordinator) scheduler.Handler {
	return func(ctx context.Context, job scheduler.Job) error {
		var payload struct {
			ApptID   string    `json:"appt_id"`
			SendTime time.Time `json:"send_time"`
		}
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("reminder fire: decode payload: %w", err)
		}
		apptID, err := uuid.Parse(payload.ApptID)
		if err != nil {
			return fmt.Errorf("reminder fire: parse appt id: %w", err)
		}
		return coord.FireReminder(ctx, apptID, payload.SendTime)
	}
}

// autoMissHandler resolves a booked appointment to missed if nobody acted
// on it before the grace window closed.
func autoMissHandler(svc *attendance.Service) scheduler.Handler {
	return func(ctx context.Context, job scheduler.Job) error {
		var apptID string
		if err := json.Unmarshal(job.Payload, &apptID); err != nil {
			return fmt.Errorf("auto miss: decode payload: %w", err)
		}
		id, err := uuid.Parse(apptID)
		if err != nil {
			return fmt.Errorf("auto miss: parse appt id: %w", err)
		}
		return svc.HandleAutoMiss(ctx, id)
	}
}

// monthEndLearnHandler seeds next month's demand cells for every doctor,
// run at 23:59 on each of days 28-31 of the month ("59 23 28-31 * *").
// EnsureMonth is the aggregation step: it copies the prior year's same-month
// thresholds so recalc has a baseline once the month's attendance lands.
func monthEndLearnHandler(repo store.Repository, eng *demand.Engine, clk clock.Clock) scheduler.Handler {
	return func(ctx context.Context, job scheduler.Job) error {
		doctors, err := repo.DistinctDoctors(ctx)
		if err != nil {
			return fmt.Errorf("month end learn: list doctors: %w", err)
		}
		next := clk.Now().AddDate(0, 1, 0)
		for _, doctor := range doctors {
			if err := eng.EnsureMonth(ctx, doctor, next); err != nil {
				return fmt.Errorf("month end learn: ensure month for %s: %w", doctor, err)
			}
		}
		return nil
	}
}

// monthlyRecalcHandler recomputes thresholds and caps peaks for the month
// that just ended, for every distinct doctor ("0 2 1 * *").
func monthlyRecalcHandler(repo store.Repository, eng *demand.Engine, clk clock.Clock) scheduler.Handler {
	return func(ctx context.Context, job scheduler.Job) error {
		doctors, err := repo.DistinctDoctors(ctx)
		if err != nil {
			return fmt.Errorf("monthly recalc: list doctors: %w", err)
		}
		ended := clk.Now().AddDate(0, -1, 0)
		year, month := ended.Year(), int(ended.Month())
		for _, doctor := range doctors {
			if err := eng.Recalc(ctx, doctor, year, month); err != nil {
				return fmt.Errorf("monthly recalc: recalc for %s: %w", doctor, err)
			}
			if err := eng.CapPeaks(ctx, doctor, year, month, 0.5); err != nil {
				return fmt.Errorf("monthly recalc: cap peaks for %s: %w", doctor, err)
			}
		}
		return nil
	}
}

// hourlyMaintenanceHandler clears stale available slots and lifts the
// high-demand gate on any slot starting soon ("0 * * * *").
func hourlyMaintenanceHandler(repo store.Repository, eng *demand.Engine, clk clock.Clock) scheduler.Handler {
	return func(ctx context.Context, job scheduler.Job) error {
		if _, err := repo.DeleteExpiredAvailable(ctx, clk.Now()); err != nil {
			return fmt.Errorf("hourly maintenance: delete expired available: %w", err)
		}
		if err := eng.LateRelease(ctx); err != nil {
			return fmt.Errorf("hourly maintenance: late release: %w", err)
		}
		return nil
	}
}

// startCronJobs arms the three calendar-driven Scheduler jobs at the cron
// expressions below, in the clinic's configured timezone. The
// cron callback only arms a job — it never runs handler logic directly —
// so a crash mid-job is still recoverable via Scheduler.OnBoot.
func startCronJobs(ctx context.Context, sched *scheduler.Scheduler, loc *time.Location, logger *logging.Logger) *cron.Cron {
	c := cron.New(cron.WithLocation(loc))

	arm := func(kind scheduler.JobKind, key string) {
		if err := sched.ArmAt(ctx, kind, key, time.Now().In(loc), nil); err != nil {
			logger.Error("cron: failed to arm job", "kind", kind, "key", key, "error", err)
		}
	}

	if _, err := c.AddFunc("59 23 28-31 * *", func() { arm(scheduler.KindMonthEndLearn, "monthly") }); err != nil {
		logger.Error("cron: failed to register month-end learn", "error", err)
	}
	if _, err := c.AddFunc("0 2 1 * *", func() { arm(scheduler.KindMonthlyRecalc, "monthly") }); err != nil {
		logger.Error("cron: failed to register monthly recalc", "error", err)
	}
	if _, err := c.AddFunc("0 * * * *", func() { arm(scheduler.KindHourlyMaintenance, "hourly") }); err != nil {
		logger.Error("cron: failed to register hourly maintenance", "error", err)
	}

	c.Start()
	return c
}
