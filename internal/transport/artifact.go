package transport

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/skylinezone/skyctl/internal/skzerrors"
)

func (h *Handler) RequestCompile(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	accepted, err := h.svc.RequestCompile(r.Context(), scope)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusAccepted, accepted)
}

func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	artifacts, err := h.svc.ListArtifacts(r.Context(), scope)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, artifacts)
}

func (h *Handler) LatestArtifact(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	artifact, err := h.svc.LatestArtifact(r.Context(), scope)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, artifact)
}

// DownloadArtifact streams the raw index file. The integrity hash travels in a
// trailer-free header so hub agents can verify before swapping indexes.
func (h *Handler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	version, err := versionParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	artifact, file, err := h.svc.OpenArtifact(r.Context(), scope, version)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Index-Hash", artifact.Hash)
	w.Header().Set("X-Index-Version", strconv.FormatInt(artifact.Version, 10))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s_v%d.idx", scope, artifact.Version)))
	if _, err := io.Copy(w, file); err != nil {
		h.log.WithError(err).Warn("streaming index artifact interrupted")
	}
}

func (h *Handler) ArtifactSidecar(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	version, err := versionParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	sidecar, err := h.svc.ArtifactSidecar(r.Context(), scope, version)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, sidecar)
}

func versionParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "version")
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || version < 1 {
		return 0, skzerrors.InvalidInputf("version must be a positive integer")
	}
	return version, nil
}
