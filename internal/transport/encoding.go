package transport

import (
	"errors"
	"io"
	"net/http"

	"github.com/skylinezone/skyctl/internal/skzerrors"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// --- missing persons ---

func (h *Handler) CreateMissingPerson(w http.ResponseWriter, r *http.Request) {
	var req api.MissingPerson
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	person, err := h.svc.CreateMissingPerson(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, person)
}

func (h *Handler) GetMissingPerson(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "personID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	person, err := h.svc.GetMissingPerson(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, person)
}

func (h *Handler) ListMissingPersons(w http.ResponseWriter, r *http.Request) {
	persons, err := h.svc.ListMissingPersons(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, persons)
}

func (h *Handler) SetMissingPersonStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "personID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req struct {
		Status api.MissingPersonStatus `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.SetMissingPersonStatus(r.Context(), id, req.Status); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteMissingPerson(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "personID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.DeleteMissingPerson(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UploadMissingPersonPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "personID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	filename, data, err := readUpload(w, r, "photo")
	if err != nil {
		h.writeError(w, err)
		return
	}
	person, err := h.svc.UploadMissingPersonPhoto(r.Context(), id, filename, data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, person)
}

func (h *Handler) ImportMissingPersons(w http.ResponseWriter, r *http.Request) {
	format, body, err := importBody(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer body.Close()
	result, err := h.svc.ImportMissingPersons(r.Context(), format, body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, result)
}

// --- loyalty members ---

func (h *Handler) CreateLoyaltyMember(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuidParam(r, "tenantID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req api.LoyaltyMember
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	req.TenantID = tenantID
	member, err := h.svc.CreateLoyaltyMember(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusCreated, member)
}

func (h *Handler) GetLoyaltyMember(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "memberID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	member, err := h.svc.GetLoyaltyMember(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, member)
}

func (h *Handler) ListLoyaltyMembers(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuidParam(r, "tenantID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	members, err := h.svc.ListLoyaltyMembers(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, members)
}

func (h *Handler) DeleteLoyaltyMember(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "memberID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.DeleteLoyaltyMember(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UploadLoyaltyMemberPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "memberID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	filename, data, err := readUpload(w, r, "photo")
	if err != nil {
		h.writeError(w, err)
		return
	}
	member, err := h.svc.UploadLoyaltyMemberPhoto(r.Context(), id, filename, data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, member)
}

func (h *Handler) ImportLoyaltyMembers(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuidParam(r, "tenantID")
	if err != nil {
		h.writeError(w, err)
		return
	}
	format, body, err := importBody(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer body.Close()
	result, err := h.svc.ImportLoyaltyMembers(r.Context(), tenantID, format, body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, result)
}

// readUpload pulls one multipart file field out of the request, enforcing the
// upload size cap.
func readUpload(w http.ResponseWriter, r *http.Request, field string) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", nil, skzerrors.ErrPayloadTooBig
		}
		return "", nil, skzerrors.InvalidInputf("parsing multipart form: %s", err.Error())
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", nil, skzerrors.InvalidInputf("missing %q file field", field)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", nil, skzerrors.ErrPayloadTooBig
		}
		return "", nil, err
	}
	return header.Filename, data, nil
}

// importBody resolves the import format from the query string and returns the
// size-capped request body.
func importBody(w http.ResponseWriter, r *http.Request) (string, io.ReadCloser, error) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	return format, http.MaxBytesReader(w, r.Body, maxUploadBytes), nil
}
