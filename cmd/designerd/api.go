// REST surface for the lock manager, conflict detector, and the session
// notification inbox.
package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/schemaflow/backend/internal/conflict"
	apperrors "github.com/schemaflow/backend/internal/errors"
	"github.com/schemaflow/backend/internal/identity"
	"github.com/schemaflow/backend/internal/lock"
	"github.com/schemaflow/backend/internal/logging"
	"github.com/schemaflow/backend/internal/models"
	"github.com/schemaflow/backend/internal/notify"
	"github.com/schemaflow/backend/internal/telemetry"
)

type api struct {
	locks      *lock.Manager
	detector   *conflict.Detector
	dispatcher *notify.Dispatcher
	ident      identity.Provider
	logger     *logging.Logger
	stats      *telemetry.Collector
}

// registerAPI mounts the REST endpoints on the mux.
func registerAPI(mux *http.ServeMux, locks *lock.Manager, detector *conflict.Detector, dispatcher *notify.Dispatcher, ident identity.Provider, logger *logging.Logger, stats *telemetry.Collector) {
	a := &api{
		locks:      locks,
		detector:   detector,
		dispatcher: dispatcher,
		ident:      ident,
		logger:     logger,
		stats:      stats,
	}

	mux.HandleFunc("/api/locks/acquire", a.handleAcquire)
	mux.HandleFunc("/api/locks/release", a.handleRelease)
	mux.HandleFunc("/api/locks/extend", a.handleExtend)
	mux.HandleFunc("/api/locks/query", a.handleQuery)
	mux.HandleFunc("/api/conflicts/detect", a.handleDetect)
	mux.HandleFunc("/api/notifications", a.handleNotifications)
	mux.HandleFunc("/api/notifications/read", a.handleMarkRead)
	mux.HandleFunc("/api/notifications/clear", a.handleClearRead)
	mux.HandleFunc("/api/stats", a.handleStats)
}

type acquireRequest struct {
	ResourceID      string `json:"resource_id"`
	Kind            string `json:"kind"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

func (a *api) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if !a.decode(w, r, &req) {
		return
	}

	lease, err := a.locks.Acquire(req.ResourceID, a.ident.CurrentActor().ID,
		models.LeaseKind(req.Kind), req.Reason,
		time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrAlreadyLocked) {
			a.stats.Incr(telemetry.CounterLocksRejected)
		}
		a.writeError(w, err)
		return
	}
	a.stats.Incr(telemetry.CounterLocksAcquired)
	a.writeJSON(w, http.StatusCreated, lease)
}

type releaseRequest struct {
	ResourceID string `json:"resource_id"`
	Token      string `json:"token"`
}

func (a *api) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if !a.decode(w, r, &req) {
		return
	}

	if err := a.locks.Release(req.ResourceID, a.ident.CurrentActor().ID, req.Token); err != nil {
		a.writeError(w, err)
		return
	}
	a.stats.Incr(telemetry.CounterLocksReleased)
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

type extendRequest struct {
	ResourceID        string `json:"resource_id"`
	Token             string `json:"token"`
	AdditionalMinutes int    `json:"additional_minutes"`
}

func (a *api) handleExtend(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	if !a.decode(w, r, &req) {
		return
	}

	lease, err := a.locks.Extend(req.ResourceID, a.ident.CurrentActor().ID, req.Token, req.AdditionalMinutes)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.stats.Incr(telemetry.CounterLocksExtended)
	a.writeJSON(w, http.StatusOK, lease)
}

func (a *api) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	lease, err := a.locks.Query(r.URL.Query().Get("resource_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if lease == nil {
		a.writeJSON(w, http.StatusOK, map[string]interface{}{"locked": false})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"locked": true, "lease": lease})
}

type detectRequest struct {
	ProjectID string `json:"project_id"`
	TableID   string `json:"table_id"`
	FieldID   string `json:"field_id,omitempty"`
	Operation string `json:"operation"`
	Name      string `json:"name,omitempty"`
}

func (a *api) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !a.decode(w, r, &req) {
		return
	}

	var changes *conflict.ProposedChanges
	if req.Name != "" {
		changes = &conflict.ProposedChanges{Name: req.Name}
	}

	op := conflict.Operation(req.Operation)
	switch op {
	case conflict.OperationCreate, conflict.OperationUpdate, conflict.OperationDelete:
	default:
		a.writeError(w, apperrors.New(apperrors.ErrInvalid, "unknown operation"))
		return
	}

	var result *conflict.DetectionResult
	if req.FieldID != "" {
		result = a.detector.DetectFieldConflicts(req.ProjectID, req.TableID, req.FieldID, op, changes)
	} else {
		result = a.detector.DetectTableConflicts(req.ProjectID, req.TableID, op, changes)
	}

	// Surface blocking conflicts in the session inbox as well.
	actorID := a.ident.CurrentActor().ID
	for _, c := range result.Conflicts {
		a.dispatcher.NotifyConflict(c, actorID)
	}

	a.stats.Incr(telemetry.CounterDetections)
	a.stats.Add(telemetry.CounterConflictsFound, int64(len(result.Conflicts)))
	a.writeJSON(w, http.StatusOK, result)
}

func (a *api) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.writeJSON(w, http.StatusOK, a.stats.Snapshot())
}

func (a *api) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": a.dispatcher.List(),
		"unread":        a.dispatcher.Unread(),
	})
}

type markReadRequest struct {
	ID string `json:"id"`
}

func (a *api) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if !a.decode(w, r, &req) {
		return
	}

	if !a.dispatcher.MarkRead(models.UUID(req.ID)) {
		a.writeError(w, apperrors.New(apperrors.ErrNotFound, "notification not found"))
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (a *api) handleClearRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	removed := a.dispatcher.ClearRead()
	a.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// decode parses a JSON POST body, rejecting other methods.
func (a *api) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "malformed request body", err))
		return false
	}
	return true
}

func (a *api) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Error("Failed to encode response", err, nil)
	}
}

// writeError maps the typed error taxonomy onto HTTP statuses. Business
// conditions pass through as structured payloads, never as opaque 500s.
func (a *api) writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrAlreadyLocked:
		status = http.StatusConflict
	case apperrors.ErrLockExpired:
		status = http.StatusGone
	case apperrors.ErrNotFound, apperrors.ErrLockNotFound:
		status = http.StatusNotFound
	case apperrors.ErrForbidden:
		status = http.StatusForbidden
	}

	payload := map[string]interface{}{
		"code":    string(code),
		"message": err.Error(),
	}
	var appErr *apperrors.AppError
	if apperrors.As(err, &appErr) && len(appErr.Details) > 0 {
		payload["details"] = appErr.Details
		payload["message"] = appErr.Message
	}

	a.writeJSON(w, status, map[string]interface{}{"error": payload})
}
