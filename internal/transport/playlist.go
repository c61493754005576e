package transport

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/skylinezone/skyctl/internal/skzerrors"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// --- playlists ---

func (h *Handler) CreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req api.Playlist
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	playlist, err := h.svc.CreatePlaylist(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, playlist)
}

func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "playlistID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	playlist, err := h.svc.GetPlaylist(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, playlist)
}

func (h *Handler) ListPlaylists(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuidParam(r, "tenantID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	playlists, err := h.svc.ListPlaylists(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, playlists)
}

// --- playlist items ---

type addItemRequest struct {
	Content          api.ContentRef `json:"content"`
	DurationOverride *int           `json:"duration_override,omitempty"`
}

func (h *Handler) ListPlaylistItems(w http.ResponseWriter, r *http.Request) {
	playlistID, err := uuidParam(r, "playlistID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	items, err := h.svc.ListPlaylistItems(r.Context(), playlistID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, items)
}

func (h *Handler) AddPlaylistItem(w http.ResponseWriter, r *http.Request) {
	playlistID, err := uuidParam(r, "playlistID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req addItemRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	item, err := h.svc.AddPlaylistItem(r.Context(), playlistID, req.Content, req.DurationOverride)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, item)
}

func (h *Handler) RemovePlaylistItem(w http.ResponseWriter, r *http.Request) {
	playlistID, err := uuidParam(r, "playlistID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	itemID, err := uuidParam(r, "itemID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.RemovePlaylistItem(r.Context(), playlistID, itemID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReorderPlaylistItems(w http.ResponseWriter, r *http.Request) {
	playlistID, err := uuidParam(r, "playlistID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req struct {
		ItemIDs []uuid.UUID `json:"item_ids"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if len(req.ItemIDs) == 0 {
		h.writeError(w, skzerrors.InvalidInputf("item_ids is required"))
		return
	}
	if err := h.svc.ReorderPlaylistItems(r.Context(), playlistID, req.ItemIDs); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdatePlaylistItemDuration(w http.ResponseWriter, r *http.Request) {
	playlistID, err := uuidParam(r, "playlistID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	itemID, err := uuidParam(r, "itemID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req struct {
		DurationSec *int `json:"duration_sec"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.UpdatePlaylistItemDuration(r.Context(), playlistID, itemID, req.DurationSec); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- push & sync status ---

func (h *Handler) PushPlaylist(w http.ResponseWriter, r *http.Request) {
	playlistID, err := uuidParam(r, "playlistID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp, err := h.svc.PushPlaylist(r.Context(), playlistID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusAccepted, resp)
}

func (h *Handler) PlaylistSyncStatus(w http.ResponseWriter, r *http.Request) {
	playlistID, err := uuidParam(r, "playlistID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp, err := h.svc.PlaylistSyncStatus(r.Context(), playlistID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

// --- device assignments ---

func (h *Handler) AssignPlaylist(w http.ResponseWriter, r *http.Request) {
	deviceID, err := uuidParam(r, "deviceID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req api.AssignPlaylistRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	assignment, err := h.svc.AssignPlaylist(r.Context(), deviceID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, assignment)
}

func (h *Handler) ListDeviceAssignments(w http.ResponseWriter, r *http.Request) {
	deviceID, err := uuidParam(r, "deviceID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	assignments, err := h.svc.ListDeviceAssignments(r.Context(), deviceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, assignments)
}

func (h *Handler) ToggleAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "assignmentID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp, err := h.svc.ToggleAssignment(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "assignmentID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.DeleteAssignment(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
