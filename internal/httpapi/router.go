// Package httpapi exposes the clinic service's HTTP surface.
// Every handler is thin: parse params, call a core component, encode JSON.
// No business logic lives here.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/clinicflow/appointment-service/internal/attendance"
	"github.com/clinicflow/appointment-service/internal/booking"
	"github.com/clinicflow/appointment-service/internal/clock"
	"github.com/clinicflow/appointment-service/internal/demand"
	"github.com/clinicflow/appointment-service/internal/notify"
	"github.com/clinicflow/appointment-service/internal/store"
	"github.com/clinicflow/appointment-service/pkg/logging"
)

// Config wires the core components a router needs.
type Config struct {
	Repo               store.Repository
	Booking            *booking.Coordinator
	Attendance         *attendance.Service
	Demand             *demand.Engine
	Notifier           notify.Notifier
	Clock              clock.Clock
	Logger             *logging.Logger
	CORSAllowedOrigins []string
}

type handler struct {
	repo       store.Repository
	booking    *booking.Coordinator
	attendance *attendance.Service
	demand     *demand.Engine
	notifier   notify.Notifier
	clock      clock.Clock
	logger     *logging.Logger
}

// New builds the chi router mounting every route the service exposes.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	h := &handler{
		repo:       cfg.Repo,
		booking:    cfg.Booking,
		attendance: cfg.Attendance,
		demand:     cfg.Demand,
		notifier:   cfg.Notifier,
		clock:      cfg.Clock,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           600,
		}))
	}

	r.Get("/health", h.health)

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/add", h.addAppointments)
		r.Delete("/delete/{id}", h.deleteAppointment)
		r.Get("/available", h.listAppointments(store.AppointmentAvailable))
		r.Get("/booked", h.listAppointments(store.AppointmentBooked))
		r.Get("/all", h.listAppointments(""))
		r.Post("/book/{id}", h.bookAppointment)
		r.Post("/status/{id}", h.setStatus)
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.listUsers)
		r.Get("/{userName}", h.getUser)
		r.Post("/register", h.registerUser)
	})

	r.Post("/admin/set-category", h.setCategory)
	r.Post("/high-demand/setup", h.setupHighDemand)
	r.Get("/high-demand", h.getHighDemand)

	r.Post("/webhook", h.webhook)

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}
