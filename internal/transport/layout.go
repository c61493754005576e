package transport

import (
	"net/http"

	"github.com/google/uuid"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// SetDeviceLayout pins (or clears) a layout directly on a device, bypassing
// schedule-based assignments.
func (h *Handler) SetDeviceLayout(w http.ResponseWriter, r *http.Request) {
	deviceID, err := uuidParam(r, "deviceID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req struct {
		LayoutID *uuid.UUID `json:"layout_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.SetDeviceLayout(r.Context(), deviceID, req.LayoutID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ComposeLayout is what devices poll: the fully resolved layout document.
func (h *Handler) ComposeLayout(w http.ResponseWriter, r *http.Request) {
	deviceID, err := uuidParam(r, "deviceID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp, err := h.svc.ComposeLayout(r.Context(), deviceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) CreateLayout(w http.ResponseWriter, r *http.Request) {
	var req api.CreateLayoutRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	layout, err := h.svc.CreateLayout(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, layout)
}

func (h *Handler) ListLayouts(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuidParam(r, "tenantID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	layouts, err := h.svc.ListLayouts(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, layouts)
}

func (h *Handler) CreateLayer(w http.ResponseWriter, r *http.Request) {
	layoutID, err := uuidParam(r, "layoutID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req api.CreateLayerRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	layer, err := h.svc.CreateLayer(r.Context(), layoutID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, layer)
}

func (h *Handler) ListLayers(w http.ResponseWriter, r *http.Request) {
	layoutID, err := uuidParam(r, "layoutID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	layers, err := h.svc.ListLayers(r.Context(), layoutID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, layers)
}

func (h *Handler) UpsertLayerOverride(w http.ResponseWriter, r *http.Request) {
	deviceID, err := uuidParam(r, "deviceID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	layerID, err := uuidParam(r, "layerID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req api.LayerOverrideRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.UpsertLayerOverride(r.Context(), deviceID, layerID, req); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateLayerTrigger(w http.ResponseWriter, r *http.Request) {
	deviceID, err := uuidParam(r, "deviceID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	layerID, err := uuidParam(r, "layerID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req api.CreateLayerTriggerRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.CreateLayerTrigger(r.Context(), deviceID, layerID, req); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) DeleteLayerTrigger(w http.ResponseWriter, r *http.Request) {
	deviceID, err := uuidParam(r, "deviceID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	triggerID, err := uuidParam(r, "triggerID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.DeleteLayerTrigger(r.Context(), deviceID, triggerID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AssignLayout(w http.ResponseWriter, r *http.Request) {
	deviceID, err := uuidParam(r, "deviceID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req api.AssignLayoutRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.AssignLayout(r.Context(), deviceID, req); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
