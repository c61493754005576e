package service

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinezone/skyctl/internal/skzerrors"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

func TestCreateMissingPersonDefaultsAndValidation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateMissingPerson(ctx, api.MissingPerson{Name: "Jane Doe"})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	_, err = h.svc.CreateMissingPerson(ctx, api.MissingPerson{CaseID: "MP-1", Name: "Jane Doe", Status: "archived"})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	record, err := h.svc.CreateMissingPerson(ctx, api.MissingPerson{CaseID: "MP-1", Name: "Jane Doe"})
	require.NoError(t, err)
	assert.Equal(t, api.MissingPersonActive, record.Status)
	assert.True(t, record.PendingPhoto)

	// case ids are unique
	_, err = h.svc.CreateMissingPerson(ctx, api.MissingPerson{CaseID: "MP-1", Name: "Someone Else"})
	assert.ErrorIs(t, err, skzerrors.ErrDuplicateKey)
}

func TestUploadMissingPersonPhotoEncodesVector(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	record, err := h.svc.CreateMissingPerson(ctx, api.MissingPerson{CaseID: "MP-1", Name: "Jane Doe"})
	require.NoError(t, err)

	updated, err := h.svc.UploadMissingPersonPhoto(ctx, record.ID, "jane.jpg", []byte("fake-jpeg-bytes"))
	require.NoError(t, err)
	assert.False(t, updated.PendingPhoto)
	require.NotNil(t, updated.PhotoPath)

	_, err = os.Stat(*updated.PhotoPath)
	assert.NoError(t, err)

	stored, err := h.store.Encoding().GetMissingPerson(ctx, record.ID)
	require.NoError(t, err)
	assert.Len(t, stored.FeatureVector, h.cfg.Recognition.FeatureDim*4)
	assert.NotEqual(t, make([]byte, h.cfg.Recognition.FeatureDim*4), stored.FeatureVector)
}

func TestUploadPhotoRejectsUnsupportedFormat(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	record, err := h.svc.CreateMissingPerson(ctx, api.MissingPerson{CaseID: "MP-1", Name: "Jane Doe"})
	require.NoError(t, err)

	_, err = h.svc.UploadMissingPersonPhoto(ctx, record.ID, "jane.gif", []byte("gif-bytes"))
	assert.ErrorIs(t, err, skzerrors.ErrUnsupportedImage)

	// the failed encode left the record pending
	stored, err := h.svc.GetMissingPerson(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, stored.PendingPhoto)
	assert.Nil(t, stored.PhotoPath)
}

func TestSetMissingPersonStatus(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	record, err := h.svc.CreateMissingPerson(ctx, api.MissingPerson{CaseID: "MP-1", Name: "Jane Doe"})
	require.NoError(t, err)

	assert.ErrorIs(t, h.svc.SetMissingPersonStatus(ctx, record.ID, "gone"), skzerrors.ErrInvalidInput)
	require.NoError(t, h.svc.SetMissingPersonStatus(ctx, record.ID, api.MissingPersonResolved))

	got, err := h.svc.GetMissingPerson(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, api.MissingPersonResolved, got.Status)
}

func TestImportMissingPersonsCSV(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	csvData := strings.Join([]string{
		"case_id,name,age_at_disappearance,disappearance_date,status",
		"MP-100,Jane Doe,14,2024-03-01,active",
		"MP-101,John Roe,,2024-02-15,",
		",Nameless,,,",
		"MP-102,Bad Status,,,archived",
		"MP-103,Bad Date,,someday,",
	}, "\n")

	result, err := h.svc.ImportMissingPersons(ctx, "csv", strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, 3, result.ErrorsTotal)
	require.Len(t, result.ErrorsPreview, 3)

	// re-importing collides on case id and updates in place
	again, err := h.svc.ImportMissingPersons(ctx, "csv", strings.NewReader(
		"case_id,name\nMP-100,Jane D. Doe\nMP-200,New Person\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, again.Imported)
	assert.Equal(t, 1, again.Updated)

	records, err := h.svc.ListMissingPersons(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestImportMissingPersonsJSON(t *testing.T) {
	h := newTestHarness(t)

	payload := `[{"case_id":"MP-1","name":"Jane Doe","age_at_disappearance":12},{"case_id":"","name":"x"}]`
	result, err := h.svc.ImportMissingPersons(context.Background(), "json", strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Skipped)
}

func TestImportRejectsBadInput(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.svc.ImportMissingPersons(ctx, "xml", strings.NewReader("<xml/>"))
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	_, err = h.svc.ImportMissingPersons(ctx, "csv", strings.NewReader("name\nJane\n"))
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	_, err = h.svc.ImportMissingPersons(ctx, "json", strings.NewReader("not json"))
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)
}

func TestImportLoyaltyMembers(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")

	_, err := h.svc.ImportLoyaltyMembers(ctx, uuid.New(), "csv", strings.NewReader("member_code,name\nA,Ann\n"))
	assert.ErrorIs(t, err, skzerrors.ErrNotFound)

	csvData := "member_code,name,email\nVIP-1,Ann,ann@example.com\nVIP-2,Ben,\n,NoCode,\n"
	result, err := h.svc.ImportLoyaltyMembers(ctx, tenant.ID, "csv", strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.Skipped)

	members, err := h.svc.ListLoyaltyMembers(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	for _, m := range members {
		assert.True(t, m.PendingPhoto)
	}
}

func TestCreateLoyaltyMemberRequiresTenant(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateLoyaltyMember(ctx, api.LoyaltyMember{MemberCode: "VIP-1", Name: "Ann", TenantID: uuid.New()})
	assert.ErrorIs(t, err, skzerrors.ErrNotFound)

	tenant := h.createTenant(t, "acme")
	member, err := h.svc.CreateLoyaltyMember(ctx, api.LoyaltyMember{MemberCode: "VIP-1", Name: "Ann", TenantID: tenant.ID})
	require.NoError(t, err)
	assert.True(t, member.PendingPhoto)

	// member codes are unique within the tenant
	_, err = h.svc.CreateLoyaltyMember(ctx, api.LoyaltyMember{MemberCode: "VIP-1", Name: "Other", TenantID: tenant.ID})
	assert.ErrorIs(t, err, skzerrors.ErrDuplicateKey)
}
