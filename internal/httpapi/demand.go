package httpapi

import (
	"net/http"
	"strconv"

	"github.com/clinicflow/appointment-service/internal/apperr"
)

type setupHighDemandRequest struct {
	DoctorName          string `json:"doctorName"`
	Year                int    `json:"year"`
	Month               int    `json:"month"`
	Hours               []int  `json:"hours"`
	HighDemandThreshold float64 `json:"highDemandThreshold,omitempty"`
}

// setupHighDemand implements POST /high-demand/setup: replace the admin
// baseline for a (doctor, year, month).
func (h *handler) setupHighDemand(w http.ResponseWriter, r *http.Request) {
	var req setupHighDemandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "invalid JSON body", err))
		return
	}
	if req.DoctorName == "" || req.Year == 0 || req.Month == 0 || len(req.Hours) == 0 {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "doctorName, year, month, and hours are required", nil))
		return
	}
	threshold := req.HighDemandThreshold
	if threshold <= 0 {
		threshold = 3
	}
	if err := h.demand.SetBaseline(r.Context(), req.DoctorName, req.Year, req.Month, req.Hours, threshold); err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindStore, "set baseline", err))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// getHighDemand implements GET /high-demand?doctorName&year&month: the
// cells for that month plus a {totalSlots, highDemandHours} summary.
func (h *handler) getHighDemand(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	doctorName := q.Get("doctorName")
	year, yerr := strconv.Atoi(q.Get("year"))
	month, merr := strconv.Atoi(q.Get("month"))
	if doctorName == "" || yerr != nil || merr != nil {
		writeError(w, h.logger, apperr.E(apperr.KindValidation, "doctorName, year, and month are required", nil))
		return
	}

	cells, err := h.repo.ListDemandCellsForMonth(r.Context(), doctorName, year, month)
	if err != nil {
		writeError(w, h.logger, apperr.E(apperr.KindStore, "list demand cells", err))
		return
	}

	totalSlots := 0
	highDemandHours := make(map[int]struct{})
	for _, c := range cells {
		totalSlots += c.TotalAppointments
		if c.HighDemand() {
			highDemandHours[c.Key.Hour] = struct{}{}
		}
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"cells": cells,
		"summary": map[string]int{
			"totalSlots":      totalSlots,
			"highDemandHours": len(highDemandHours),
		},
	})
}
