package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/skylinezone/skyctl/internal/compiler"
	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// --- missing persons ---

func (h *ServiceHandler) CreateMissingPerson(ctx context.Context, req api.MissingPerson) (*api.MissingPerson, error) {
	if req.CaseID == "" || req.Name == "" {
		return nil, skzerrors.InvalidInputf("case_id and name are required")
	}
	status := req.Status
	if status == "" {
		status = api.MissingPersonActive
	}
	if status != api.MissingPersonActive && status != api.MissingPersonResolved {
		return nil, skzerrors.InvalidInputf("unknown status %q", status)
	}

	record, err := h.store.Encoding().CreateMissingPerson(ctx, &model.MissingPerson{
		CaseID:             req.CaseID,
		Name:               req.Name,
		AgeAtDisappearance: req.AgeAtDisappearance,
		DisappearanceDate:  req.DisappearanceDate,
		LastKnownLocation:  req.LastKnownLocation,
		Status:             string(status),
		FeatureVector:      h.zeroVector(),
		PendingPhoto:       true,
	})
	if err != nil {
		return nil, err
	}
	out := record.ToAPI()
	return &out, nil
}

func (h *ServiceHandler) GetMissingPerson(ctx context.Context, id uuid.UUID) (*api.MissingPerson, error) {
	record, err := h.store.Encoding().GetMissingPerson(ctx, id)
	if err != nil {
		return nil, err
	}
	out := record.ToAPI()
	return &out, nil
}

func (h *ServiceHandler) ListMissingPersons(ctx context.Context) ([]api.MissingPerson, error) {
	records, err := h.store.Encoding().ListMissingPersons(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]api.MissingPerson, 0, len(records))
	for i := range records {
		out = append(out, records[i].ToAPI())
	}
	return out, nil
}

func (h *ServiceHandler) SetMissingPersonStatus(ctx context.Context, id uuid.UUID, status api.MissingPersonStatus) error {
	if status != api.MissingPersonActive && status != api.MissingPersonResolved {
		return skzerrors.InvalidInputf("unknown status %q", status)
	}
	return h.store.Encoding().SetMissingPersonStatus(ctx, id, status)
}

func (h *ServiceHandler) DeleteMissingPerson(ctx context.Context, id uuid.UUID) error {
	return h.store.Encoding().DeleteMissingPerson(ctx, id)
}

// UploadMissingPersonPhoto runs the photo through the encoder and stores the
// resulting vector atomically with the photo path. A failed encode leaves the
// record untouched and no photo file behind.
func (h *ServiceHandler) UploadMissingPersonPhoto(ctx context.Context, id uuid.UUID, filename string, data []byte) (*api.MissingPerson, error) {
	record, err := h.store.Encoding().GetMissingPerson(ctx, id)
	if err != nil {
		return nil, err
	}

	vec, err := h.encoder.Encode(ctx, filename, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	photoPath, err := h.savePhoto("missing_persons", record.ID, filename, data)
	if err != nil {
		return nil, err
	}
	if err := h.store.Encoding().UpdateMissingPersonVector(ctx, id, compiler.EncodeVector(vec), &photoPath); err != nil {
		os.Remove(photoPath)
		return nil, err
	}

	record, err = h.store.Encoding().GetMissingPerson(ctx, id)
	if err != nil {
		return nil, err
	}
	out := record.ToAPI()
	return &out, nil
}

// --- loyalty members ---

func (h *ServiceHandler) CreateLoyaltyMember(ctx context.Context, req api.LoyaltyMember) (*api.LoyaltyMember, error) {
	if req.MemberCode == "" || req.Name == "" {
		return nil, skzerrors.InvalidInputf("member_code and name are required")
	}
	if _, err := h.store.Tenant().Get(ctx, req.TenantID); err != nil {
		return nil, err
	}

	record, err := h.store.Encoding().CreateLoyaltyMember(ctx, &model.LoyaltyMember{
		TenantID:           req.TenantID,
		MemberCode:         req.MemberCode,
		Name:               req.Name,
		Email:              req.Email,
		Phone:              req.Phone,
		AssignedPlaylistID: req.AssignedPlaylistID,
		FeatureVector:      h.zeroVector(),
		PendingPhoto:       true,
	})
	if err != nil {
		return nil, err
	}
	out := record.ToAPI()
	return &out, nil
}

func (h *ServiceHandler) GetLoyaltyMember(ctx context.Context, id uuid.UUID) (*api.LoyaltyMember, error) {
	record, err := h.store.Encoding().GetLoyaltyMember(ctx, id)
	if err != nil {
		return nil, err
	}
	out := record.ToAPI()
	return &out, nil
}

func (h *ServiceHandler) ListLoyaltyMembers(ctx context.Context, tenantID uuid.UUID) ([]api.LoyaltyMember, error) {
	records, err := h.store.Encoding().ListLoyaltyMembers(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]api.LoyaltyMember, 0, len(records))
	for i := range records {
		out = append(out, records[i].ToAPI())
	}
	return out, nil
}

func (h *ServiceHandler) DeleteLoyaltyMember(ctx context.Context, id uuid.UUID) error {
	return h.store.Encoding().DeleteLoyaltyMember(ctx, id)
}

func (h *ServiceHandler) UploadLoyaltyMemberPhoto(ctx context.Context, id uuid.UUID, filename string, data []byte) (*api.LoyaltyMember, error) {
	record, err := h.store.Encoding().GetLoyaltyMember(ctx, id)
	if err != nil {
		return nil, err
	}

	vec, err := h.encoder.Encode(ctx, filename, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	photoPath, err := h.savePhoto(filepath.Join("loyalty", record.TenantID.String()), record.ID, filename, data)
	if err != nil {
		return nil, err
	}
	if err := h.store.Encoding().UpdateLoyaltyMemberVector(ctx, id, compiler.EncodeVector(vec), &photoPath); err != nil {
		os.Remove(photoPath)
		return nil, err
	}

	record, err = h.store.Encoding().GetLoyaltyMember(ctx, id)
	if err != nil {
		return nil, err
	}
	out := record.ToAPI()
	return &out, nil
}

// --- shared ---

// zeroVector is the placeholder stored for records imported without a photo.
// It keeps the column width invariant while PendingPhoto excludes the record
// from compilation.
func (h *ServiceHandler) zeroVector() []byte {
	return make([]byte, h.cfg.Recognition.FeatureDim*4)
}

func (h *ServiceHandler) savePhoto(subdir string, id uuid.UUID, filename string, data []byte) (string, error) {
	dir := filepath.Join(h.cfg.Service.UploadsDir, subdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating uploads directory: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	path := filepath.Join(dir, fmt.Sprintf("%s_%d%s", id, time.Now().UTC().Unix(), ext))
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing photo: %w", err)
	}
	return path, nil
}
