// Package transport adapts the service layer to HTTP: request decoding,
// response encoding, and error-to-status mapping.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/skylinezone/skyctl/internal/service"
	"github.com/skylinezone/skyctl/internal/skzerrors"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// maxUploadBytes caps photo and import uploads.
const maxUploadBytes = 10 << 20

type Handler struct {
	svc *service.ServiceHandler
	log logrus.FieldLogger
}

func NewHandler(svc *service.ServiceHandler, log logrus.FieldLogger) *Handler {
	return &Handler{svc: svc, log: log}
}

func WriteJSONResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	WriteJSONResponse(w, statusFor(err), api.Error{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, skzerrors.ErrInvalidInput),
		errors.Is(err, skzerrors.ErrInvalidAlert),
		errors.Is(err, skzerrors.ErrInvalidUUID),
		errors.Is(err, skzerrors.ErrResourceIsNil),
		errors.Is(err, skzerrors.ErrInvalidRecipient),
		errors.Is(err, skzerrors.ErrPairingCodeInvalid),
		errors.Is(err, skzerrors.ErrUnsupportedImage),
		errors.Is(err, skzerrors.ErrNoFaceDetected),
		errors.Is(err, skzerrors.ErrVectorDimension),
		errors.Is(err, skzerrors.ErrEmptyScope),
		errors.Is(err, skzerrors.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, skzerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, skzerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, skzerrors.ErrDuplicateKey),
		errors.Is(err, skzerrors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, skzerrors.ErrPayloadTooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, skzerrors.ErrUpstreamUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, skzerrors.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return skzerrors.InvalidInputf("decoding request body: %s", err.Error())
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, skzerrors.ErrInvalidUUID
	}
	return id, nil
}
