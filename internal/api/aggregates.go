package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sentinel-core/internal/aggregate"
	"github.com/nerrad567/sentinel-core/internal/entity"
	"github.com/nerrad567/sentinel-core/internal/notify"
)

const defaultSignalLimit = 50

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.view.Summary())
}

func (s *Server) handleHistograms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.view.Histograms())
}

// handleAllDeviceCounts returns per-device exposure ordered by device ID.
func (s *Server) handleAllDeviceCounts(w http.ResponseWriter, _ *http.Request) {
	exposures := s.view.Exposures()
	if exposures == nil {
		exposures = []aggregate.Exposure{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": exposures, "count": len(exposures)})
}

// handleDeviceCounts returns the counters for one live device.
func (s *Server) handleDeviceCounts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.Get(entity.KindDevice, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"counts":    s.view.DeviceCounts(id),
	})
}

// handleSignals returns recently dispatched signals, newest first.
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if limit == 0 {
		limit = defaultSignalLimit
	}

	var signals []notify.Signal
	if s.signals != nil {
		signals = s.signals.Recent(limit)
	}
	if signals == nil {
		signals = []notify.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": signals, "count": len(signals)})
}
