package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// --- tenants ---

func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTenantRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	tenant, err := h.svc.CreateTenant(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, tenant)
}

func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.svc.ListTenants(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, tenants)
}

func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "tenantID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	tenant, err := h.svc.GetTenant(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, tenant)
}

// --- hubs ---

func (h *Handler) CreateHub(w http.ResponseWriter, r *http.Request) {
	var req api.CreateHubRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	hub, err := h.svc.CreateHub(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, hub)
}

func (h *Handler) ListHubs(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuidParam(r, "tenantID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	hubs, err := h.svc.ListHubs(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, hubs)
}

// --- devices ---

func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterDeviceRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.IP == "" {
		req.IP = clientIP(r)
	}
	device, err := h.svc.RegisterDevice(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, device)
}

func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "deviceID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	device, err := h.svc.GetDevice(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, device)
}

func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuidParam(r, "tenantID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	devices, err := h.svc.ListDevices(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, devices)
}

func (h *Handler) SendRemoteCommand(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "deviceID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req api.RemoteCommandRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	result, err := h.svc.SendRemoteCommand(r.Context(), id, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, result)
}

// --- pairing ---

func (h *Handler) RequestPairingCode(w http.ResponseWriter, r *http.Request) {
	var req api.PairingRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.HardwareID == "" {
		h.writeError(w, skzerrors.InvalidInputf("hardware_id is required"))
		return
	}
	if req.IP == "" {
		req.IP = clientIP(r)
	}
	resp, err := h.svc.RequestPairingCode(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) PairingStatus(w http.ResponseWriter, r *http.Request) {
	hardwareID := r.URL.Query().Get("hardware_id")
	if hardwareID == "" {
		h.writeError(w, skzerrors.InvalidInputf("hardware_id query parameter is required"))
		return
	}
	resp, err := h.svc.PairingStatus(r.Context(), hardwareID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) VerifyPairing(w http.ResponseWriter, r *http.Request) {
	var req api.PairingVerifyRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	resp, err := h.svc.VerifyPairing(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

// --- hub heartbeat ingest ---

type hubContextKey struct{}

// HubAuth authenticates the hub bearer token and stashes the hub on the
// request context.
func (h *Handler) HubAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		hub, err := h.svc.AuthenticateHub(r.Context(), token)
		if err != nil {
			h.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), hubContextKey{}, hub)))
	})
}

func (h *Handler) SubmitHeartbeats(w http.ResponseWriter, r *http.Request) {
	hub, ok := r.Context().Value(hubContextKey{}).(*model.Hub)
	if !ok {
		h.writeError(w, skzerrors.ErrUnauthorized)
		return
	}
	var batch api.HeartbeatBatch
	if err := decodeBody(r, &batch); err != nil {
		h.writeError(w, err)
		return
	}
	resp, err := h.svc.ProcessHeartbeatBatch(r.Context(), hub, batch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
