package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sentinel-core/internal/channel"
	"github.com/nerrad567/sentinel-core/internal/entity"
	"github.com/nerrad567/sentinel-core/internal/store"
)

// kindParam parses the {kind} URL parameter, writing a 400 on failure.
func kindParam(w http.ResponseWriter, r *http.Request) (entity.Kind, bool) {
	kind, err := entity.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeDomainError(w, err)
		return "", false
	}
	return kind, true
}

// handleSnapshot serves fetch_snapshot.
//
// Query parameters:
//   - kind: limit to one kind (optional)
//   - id: one entity of kind (optional, requires kind)
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var kind entity.Kind
	if k := q.Get("kind"); k != "" {
		parsed, err := entity.ParseKind(k)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		kind = parsed
	}

	b, err := s.store.FetchSnapshot(r.Context(), kind, q.Get("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if b.Entities == nil {
		b.Entities = []*entity.Snapshot{}
	}
	writeJSON(w, http.StatusOK, b)
}

// handleCreateEntity creates an entity from a bare kind-specific record.
func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}
	snap, err := channel.DecodeRecord(kind, body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	created, err := s.store.Create(r.Context(), snap)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleGetEntity returns one live entity.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	snap, err := s.store.Get(kind, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleProposeMutation serves propose_mutation. The body is an
// entity.Mutation carrying source_version and the patch for the kind.
func (s *Server) handleProposeMutation(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	var m entity.Mutation
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	snap, err := s.store.Apply(r.Context(), kind, chi.URLParam(r, "id"), m)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleRemoveEntity removes a device and cascades to its alerts and
// vulnerabilities. Other kinds are only removed through their device.
func (s *Server) handleRemoveEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	if kind != entity.KindDevice {
		writeBadRequest(w, string(kind)+" entities are removed with their device")
		return
	}

	tombstones, err := s.store.RemoveDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": tombstones, "count": len(tombstones)})
}

// handleEntityHistory returns recorded changes for one entity, newest first.
func (s *Server) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	records, err := s.store.History(r.Context(), kind, id, limit)
	if err != nil {
		s.logger.Error("history query failed", "kind", kind, "id", id, "error", err)
		writeInternalError(w, "failed to load history")
		return
	}
	if records == nil {
		records = []store.ChangeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records, "count": len(records)})
}

// handleListEntities lists entities of one kind.
//
// Query parameters (all optional):
//   - page, size: 1-based paging, size capped at 1000
//   - devices: type, vendor, status, min_risk, search
//   - alerts: device_id, status, severity
//   - vulnerabilities: device_id, patch_status
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := intQuery(r, "page")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	size, err := intQuery(r, "size")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var result store.Page
	switch kind {
	case entity.KindDevice:
		f := store.DeviceFilter{
			Type:   q.Get("type"),
			Vendor: q.Get("vendor"),
			Status: entity.DeviceStatus(q.Get("status")),
			Search: q.Get("search"),
			Page:   page,
			Size:   size,
		}
		if v := q.Get("min_risk"); v != "" {
			risk, err := strconv.ParseFloat(v, 64)
			if err != nil {
				writeBadRequest(w, "min_risk must be a number")
				return
			}
			f.MinRisk = &risk
		}
		result = s.store.ListDevices(f)

	case entity.KindAlert:
		f := store.AlertFilter{
			DeviceID: q.Get("device_id"),
			Status:   entity.AlertStatus(q.Get("status")),
			Page:     page,
			Size:     size,
		}
		if v := q.Get("severity"); v != "" {
			sev, err := entity.ParseSeverity(v)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			f.Severity = sev
		}
		result = s.store.ListAlerts(f)

	default:
		result = s.store.ListVulnerabilities(store.VulnerabilityFilter{
			DeviceID:    q.Get("device_id"),
			PatchStatus: entity.PatchStatus(q.Get("patch_status")),
			Page:        page,
			Size:        size,
		})
	}
	writeJSON(w, http.StatusOK, result)
}

var errNotInteger = errors.New("must be a non-negative integer")

// intQuery parses an optional non-negative integer query parameter.
func intQuery(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " " + errNotInteger.Error())
	}
	return n, nil
}
