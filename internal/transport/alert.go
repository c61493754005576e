package transport

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req api.CreateAlertRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	resp, err := h.svc.CreateAlert(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, resp)
}

func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "alertID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	alert, err := h.svc.GetAlert(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, alert)
}

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	params, err := alertListParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	list, err := h.svc.ListAlerts(r.Context(), *params)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, list)
}

func (h *Handler) ReviewAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "alertID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req api.ReviewAlertRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	alert, err := h.svc.ReviewAlert(r.Context(), id, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, alert)
}

func (h *Handler) RetryFailedNotifications(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "alertID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp, err := h.svc.RetryFailedNotifications(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) UploadAlertImage(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "alertID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	filename, data, err := readUpload(w, r, "image")
	if err != nil {
		h.writeError(w, err)
		return
	}
	alert, err := h.svc.UploadAlertImage(r.Context(), id, filename, data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, alert)
}

// GetAlertImage streams the capture frame recorded with the alert.
func (h *Handler) GetAlertImage(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "alertID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	file, err := h.svc.OpenAlertImage(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer file.Close()

	contentType := mime.TypeByExtension(filepath.Ext(file.Name()))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if _, err := io.Copy(w, file); err != nil {
		h.log.WithError(err).Warn("streaming alert capture interrupted")
	}
}

func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "alertID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.DeleteAlert(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- notification rules ---

func (h *Handler) CreateNotificationRule(w http.ResponseWriter, r *http.Request) {
	var req api.NotificationRule
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	rule, err := h.svc.CreateNotificationRule(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, rule)
}

func (h *Handler) ListNotificationRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.svc.ListNotificationRules(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, rules)
}

func alertListParams(r *http.Request) (*store.AlertListParams, error) {
	q := r.URL.Query()
	params := store.AlertListParams{}

	if raw := q.Get("status"); raw != "" {
		status := api.AlertStatus(raw)
		params.Status = &status
	}
	if raw := q.Get("type"); raw != "" {
		alertType := api.AlertType(raw)
		params.Type = &alertType
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, skzerrors.InvalidInputf("since must be RFC3339")
		}
		params.Since = &since
	}
	if raw := q.Get("tenant_id"); raw != "" {
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			return nil, skzerrors.ErrInvalidUUID
		}
		params.TenantID = &tenantID
	}
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return nil, skzerrors.InvalidInputf("page must be a positive integer")
		}
		params.Page = page
	}
	if raw := q.Get("per_page"); raw != "" {
		perPage, err := strconv.Atoi(raw)
		if err != nil || perPage < 1 {
			return nil, skzerrors.InvalidInputf("per_page must be a positive integer")
		}
		params.PerPage = perPage
	}
	return &params, nil
}
