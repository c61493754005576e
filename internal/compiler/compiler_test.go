package compiler

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinezone/skyctl/internal/config"
	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

const testDim = 4

func newTestCompiler(t *testing.T, versionsToKeep int) (*Compiler, store.Store, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := config.NewDefault()
	cfg.Database.Type = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "compiler-test.db")

	db, err := store.InitDB(cfg, logger)
	require.NoError(t, err)
	st := store.NewStore(db, logger)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.InitialMigration())

	dataDir := t.TempDir()
	return New(st, logger, dataDir, testDim, versionsToKeep), st, dataDir
}

func addMissingPerson(t *testing.T, st store.Store, caseID string, vec []float32) *model.MissingPerson {
	t.Helper()
	record, err := st.Encoding().CreateMissingPerson(context.Background(), &model.MissingPerson{
		CaseID:        caseID,
		Name:          "Person " + caseID,
		Status:        string(api.MissingPersonActive),
		FeatureVector: EncodeVector(vec),
	})
	require.NoError(t, err)
	return record
}

func TestCompileMissingPersons(t *testing.T) {
	comp, st, dataDir := newTestCompiler(t, 5)
	ctx := context.Background()

	addMissingPerson(t, st, "MP-100", []float32{1, 0, 0, 0})
	addMissingPerson(t, st, "MP-200", []float32{0, 1, 0, 0})

	artifact, err := comp.Compile(ctx, ScopeMissingPersons)
	require.NoError(t, err)
	assert.Equal(t, int64(1), artifact.Version)
	assert.Equal(t, 2, artifact.RecordCount)
	assert.Equal(t, filepath.Join(dataDir, "missing_persons", "missing_persons_v1.idx"), artifact.Path)

	require.NoError(t, Verify(artifact.Path, artifact.Hash))

	sidecarRaw, err := os.ReadFile(sidecarPath(artifact.Path))
	require.NoError(t, err)
	assert.Contains(t, string(sidecarRaw), "MP-100")
	assert.Contains(t, string(sidecarRaw), artifact.Hash)
}

func TestCompileVersionsAreMonotonic(t *testing.T) {
	comp, st, _ := newTestCompiler(t, 5)
	ctx := context.Background()
	addMissingPerson(t, st, "MP-1", []float32{1, 2, 3, 4})

	first, err := comp.Compile(ctx, ScopeMissingPersons)
	require.NoError(t, err)
	second, err := comp.Compile(ctx, ScopeMissingPersons)
	require.NoError(t, err)
	assert.Equal(t, first.Version+1, second.Version)

	// both versions remain valid and downloadable
	require.NoError(t, Verify(first.Path, first.Hash))
	require.NoError(t, Verify(second.Path, second.Hash))
}

func TestCompileEmptyScope(t *testing.T) {
	comp, _, _ := newTestCompiler(t, 5)
	_, err := comp.Compile(context.Background(), ScopeMissingPersons)
	assert.ErrorIs(t, err, skzerrors.ErrEmptyScope)
}

func TestCompileEmptyScopeBurnsNoVersion(t *testing.T) {
	comp, st, _ := newTestCompiler(t, 5)
	ctx := context.Background()

	_, err := comp.Compile(ctx, ScopeMissingPersons)
	require.ErrorIs(t, err, skzerrors.ErrEmptyScope)
	_, err = comp.Compile(ctx, ScopeMissingPersons)
	require.ErrorIs(t, err, skzerrors.ErrEmptyScope)

	// failed empty compiles must not advance the counter
	addMissingPerson(t, st, "MP-1", []float32{1, 0, 0, 0})
	artifact, err := comp.Compile(ctx, ScopeMissingPersons)
	require.NoError(t, err)
	assert.Equal(t, int64(1), artifact.Version)
}

func TestCompileUnknownScope(t *testing.T) {
	comp, _, _ := newTestCompiler(t, 5)
	_, err := comp.Compile(context.Background(), "bogus")
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)
}

func TestCompileSkipsRecordsWithWrongVectorWidth(t *testing.T) {
	comp, st, _ := newTestCompiler(t, 5)
	ctx := context.Background()

	// stored with a different dimension than the compiler is configured for
	_, err := st.Encoding().CreateMissingPerson(ctx, &model.MissingPerson{
		CaseID:        "MP-BAD",
		Name:          "Bad Width",
		Status:        string(api.MissingPersonActive),
		FeatureVector: EncodeVector([]float32{1, 2}),
	})
	require.NoError(t, err)
	addMissingPerson(t, st, "MP-OK", []float32{1, 0, 0, 1})

	artifact, err := comp.Compile(ctx, ScopeMissingPersons)
	require.NoError(t, err)
	assert.Equal(t, 1, artifact.RecordCount)
}

func TestCompileExcludesPendingPhotoAndResolved(t *testing.T) {
	comp, st, _ := newTestCompiler(t, 5)
	ctx := context.Background()

	_, err := st.Encoding().CreateMissingPerson(ctx, &model.MissingPerson{
		CaseID:        "MP-PENDING",
		Name:          "No Photo Yet",
		Status:        string(api.MissingPersonActive),
		FeatureVector: make([]byte, testDim*4),
		PendingPhoto:  true,
	})
	require.NoError(t, err)
	resolved := addMissingPerson(t, st, "MP-RESOLVED", []float32{1, 1, 1, 1})
	require.NoError(t, st.Encoding().SetMissingPersonStatus(ctx, resolved.ID, api.MissingPersonResolved))

	_, err = comp.Compile(ctx, ScopeMissingPersons)
	assert.ErrorIs(t, err, skzerrors.ErrEmptyScope)
}

func TestRetentionPrunesOldArtifacts(t *testing.T) {
	comp, st, _ := newTestCompiler(t, 2)
	ctx := context.Background()
	addMissingPerson(t, st, "MP-1", []float32{1, 2, 3, 4})

	var paths []string
	for i := 0; i < 3; i++ {
		artifact, err := comp.Compile(ctx, ScopeMissingPersons)
		require.NoError(t, err)
		paths = append(paths, artifact.Path)
	}

	remaining, err := st.Artifact().List(ctx, ScopeMissingPersons)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, int64(3), remaining[0].Version)
	assert.Equal(t, int64(2), remaining[1].Version)

	// version 1 is gone from disk, including its sidecar
	_, err = os.Stat(paths[0])
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(sidecarPath(paths[0]))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(paths[2])
	assert.NoError(t, err)
}

func TestCompileLoyaltyScope(t *testing.T) {
	comp, st, dataDir := newTestCompiler(t, 5)
	ctx := context.Background()

	tenant, err := st.Tenant().Create(ctx, "acme-north", "Acme North")
	require.NoError(t, err)
	_, err = st.Encoding().CreateLoyaltyMember(ctx, &model.LoyaltyMember{
		TenantID:      tenant.ID,
		MemberCode:    "M-001",
		Name:          "Member One",
		FeatureVector: EncodeVector([]float32{0.5, 0.5, 0, 0}),
	})
	require.NoError(t, err)

	artifact, err := comp.Compile(ctx, LoyaltyScope("acme-north"))
	require.NoError(t, err)
	assert.Equal(t, "loyalty_acme-north", artifact.Scope)
	assert.Equal(t, filepath.Join(dataDir, "loyalty", "acme-north", "loyalty_acme-north_v1.idx"), artifact.Path)
	require.NoError(t, Verify(artifact.Path, artifact.Hash))
}

func TestCompileLoyaltyScopeUnknownTenant(t *testing.T) {
	comp, _, _ := newTestCompiler(t, 5)
	_, err := comp.Compile(context.Background(), LoyaltyScope("nobody"))
	assert.ErrorIs(t, err, skzerrors.ErrNotFound)
}

func TestVerifyDetectsTamper(t *testing.T) {
	comp, st, _ := newTestCompiler(t, 5)
	ctx := context.Background()
	addMissingPerson(t, st, "MP-1", []float32{1, 2, 3, 4})

	artifact, err := comp.Compile(ctx, ScopeMissingPersons)
	require.NoError(t, err)

	raw, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(artifact.Path, raw, 0644))

	assert.ErrorContains(t, Verify(artifact.Path, artifact.Hash), "hash mismatch")
}

func TestEncodeVectorRoundTrip(t *testing.T) {
	comp, _, _ := newTestCompiler(t, 5)
	vec := []float32{0.25, -1.5, 3.75, 42}
	decoded, ok := comp.decodeVector(EncodeVector(vec), "test")
	require.True(t, ok)
	assert.Equal(t, vec, decoded)
}
