package service

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/skylinezone/skyctl/internal/compiler"
	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// RequestCompile validates the scope and enqueues an asynchronous compile.
func (h *ServiceHandler) RequestCompile(ctx context.Context, scope string) (*api.CompileAccepted, error) {
	if err := h.validateScope(ctx, scope); err != nil {
		return nil, err
	}
	if err := h.worker.CompileIndex(ctx, scope); err != nil {
		return nil, err
	}
	return &api.CompileAccepted{TaskID: uuid.NewString()}, nil
}

func (h *ServiceHandler) validateScope(ctx context.Context, scope string) error {
	if scope == compiler.ScopeMissingPersons {
		return nil
	}
	if slug, ok := strings.CutPrefix(scope, "loyalty_"); ok {
		_, err := h.store.Tenant().GetBySlug(ctx, slug)
		return err
	}
	return skzerrors.InvalidInputf("unknown scope %q", scope)
}

func (h *ServiceHandler) ListArtifacts(ctx context.Context, scope string) ([]api.IndexArtifact, error) {
	artifacts, err := h.store.Artifact().List(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]api.IndexArtifact, 0, len(artifacts))
	for i := range artifacts {
		out = append(out, artifacts[i].ToAPI())
	}
	return out, nil
}

func (h *ServiceHandler) LatestArtifact(ctx context.Context, scope string) (*api.IndexArtifact, error) {
	artifact, err := h.store.Artifact().Latest(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := artifact.ToAPI()
	return &out, nil
}

// OpenArtifact verifies the registered hash and returns the open file for
// streaming. The file handle stays valid even if a concurrent prune unlinks
// the path mid-download.
func (h *ServiceHandler) OpenArtifact(ctx context.Context, scope string, version int64) (*model.IndexArtifact, *os.File, error) {
	artifact, err := h.store.Artifact().ByVersion(ctx, scope, version)
	if err != nil {
		return nil, nil, err
	}
	if err := compiler.Verify(artifact.Path, artifact.Hash); err != nil {
		h.log.WithError(err).WithField("scope", scope).Error("artifact failed hash verification")
		return nil, nil, skzerrors.ErrUnavailable
	}
	f, err := os.Open(artifact.Path)
	if err != nil {
		return nil, nil, skzerrors.ErrUnavailable
	}
	return artifact, f, nil
}

// ArtifactSidecar loads the sidecar JSON registered with the artifact version.
func (h *ServiceHandler) ArtifactSidecar(ctx context.Context, scope string, version int64) (*api.Sidecar, error) {
	artifact, err := h.store.Artifact().ByVersion(ctx, scope, version)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(strings.TrimSuffix(artifact.Path, ".idx") + ".json")
	if err != nil {
		return nil, skzerrors.ErrUnavailable
	}
	var sidecar api.Sidecar
	if err := json.Unmarshal(raw, &sidecar); err != nil {
		return nil, skzerrors.ErrUnavailable
	}
	return &sidecar, nil
}
