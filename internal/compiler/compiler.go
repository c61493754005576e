// Package compiler turns eligible catalog records into immutable, hash-sealed
// index artifacts and registers them for edge download.
package compiler

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	api "github.com/skylinezone/skyctl/internal/api/v1"
	"github.com/skylinezone/skyctl/internal/flatindex"
	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store"
	"github.com/skylinezone/skyctl/internal/store/model"
)

const (
	// ScopeMissingPersons is the single global compilation scope.
	ScopeMissingPersons = "missing_persons"
	// loyaltyScopePrefix starts per-tenant loyalty scopes: "loyalty_<slug>".
	loyaltyScopePrefix = "loyalty_"
)

// LoyaltyScope returns the compilation scope for a tenant's loyalty catalog.
func LoyaltyScope(tenantSlug string) string {
	return loyaltyScopePrefix + tenantSlug
}

type record struct {
	id      uuid.UUID
	vector  []float32
	display map[string]any
}

type Compiler struct {
	store          store.Store
	log            logrus.FieldLogger
	dataDir        string
	featureDim     int
	versionsToKeep int
}

func New(st store.Store, log logrus.FieldLogger, dataDir string, featureDim, versionsToKeep int) *Compiler {
	return &Compiler{
		store:          st,
		log:            log,
		dataDir:        dataDir,
		featureDim:     featureDim,
		versionsToKeep: versionsToKeep,
	}
}

// Compile builds the next index version for the scope. Records are collected
// before the version number is reserved: an empty or invalid scope makes no
// persistent change, so the first successful compile is always version 1.
func (c *Compiler) Compile(ctx context.Context, scope string) (*model.IndexArtifact, error) {
	records, dir, stem, err := c.gather(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("scope %q: %w", scope, skzerrors.ErrEmptyScope)
	}

	version, err := c.store.Artifact().NextVersion(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("reserving version for scope %q: %w", scope, err)
	}

	idx, err := flatindex.New(c.featureDim)
	if err != nil {
		return nil, err
	}
	sidecar := api.Sidecar{
		Version:    version,
		Scope:      scope,
		CompiledAt: time.Now().UTC(),
	}
	for _, rec := range records {
		row, err := idx.Add(rec.vector)
		if err != nil {
			return nil, err
		}
		sidecar.Records = append(sidecar.Records, api.SidecarRecord{
			Idx:     row,
			ID:      rec.id,
			Display: rec.display,
		})
	}
	sidecar.RecordCount = idx.Count()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	idxPath := filepath.Join(dir, fmt.Sprintf("%s_v%d.idx", stem, version))
	hash, err := c.writeIndex(idxPath, idx)
	if err != nil {
		return nil, err
	}
	sidecar.Hash = hash

	sidecarBytes, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding sidecar: %w", err)
	}
	if err := renameio.WriteFile(sidecarPath(idxPath), sidecarBytes, 0644); err != nil {
		os.Remove(idxPath)
		return nil, fmt.Errorf("writing sidecar: %w", err)
	}

	artifact, err := c.store.Artifact().Create(ctx, &model.IndexArtifact{
		Scope:       scope,
		Version:     version,
		RecordCount: idx.Count(),
		Hash:        hash,
		Path:        idxPath,
	})
	if err != nil {
		os.Remove(idxPath)
		os.Remove(sidecarPath(idxPath))
		return nil, fmt.Errorf("registering artifact: %w", err)
	}

	c.prune(ctx, scope)

	c.log.WithFields(logrus.Fields{
		"scope":   scope,
		"version": version,
		"records": idx.Count(),
	}).Info("compiled index artifact")
	return artifact, nil
}

// writeIndex writes the index atomically and returns its sha256 as lowercase hex.
func (c *Compiler) writeIndex(path string, idx *flatindex.Index) (string, error) {
	t, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return "", fmt.Errorf("creating temp artifact: %w", err)
	}
	defer t.Cleanup() //nolint:errcheck

	h := sha256.New()
	if _, err := idx.WriteTo(io.MultiWriter(t, h)); err != nil {
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("sealing artifact: %w", err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// gather loads the scope's eligible records in their canonical order and
// decodes the stored vectors. Rows whose vector does not match the configured
// width are skipped with a warning, never failed on.
func (c *Compiler) gather(ctx context.Context, scope string) ([]record, string, string, error) {
	switch {
	case scope == ScopeMissingPersons:
		rows, err := c.store.Encoding().ListEligibleMissingPersons(ctx)
		if err != nil {
			return nil, "", "", err
		}
		records := make([]record, 0, len(rows))
		for i := range rows {
			vec, ok := c.decodeVector(rows[i].FeatureVector, "case "+rows[i].CaseID)
			if !ok {
				continue
			}
			records = append(records, record{
				id:     rows[i].ID,
				vector: vec,
				display: map[string]any{
					"case_id": rows[i].CaseID,
					"name":    rows[i].Name,
				},
			})
		}
		return records, filepath.Join(c.dataDir, "missing_persons"), "missing_persons", nil

	case strings.HasPrefix(scope, loyaltyScopePrefix):
		slug := strings.TrimPrefix(scope, loyaltyScopePrefix)
		tenant, err := c.store.Tenant().GetBySlug(ctx, slug)
		if err != nil {
			return nil, "", "", fmt.Errorf("resolving tenant %q: %w", slug, err)
		}
		rows, err := c.store.Encoding().ListEligibleLoyaltyMembers(ctx, tenant.ID)
		if err != nil {
			return nil, "", "", err
		}
		records := make([]record, 0, len(rows))
		for i := range rows {
			vec, ok := c.decodeVector(rows[i].FeatureVector, "member "+rows[i].MemberCode)
			if !ok {
				continue
			}
			records = append(records, record{
				id:     rows[i].ID,
				vector: vec,
				display: map[string]any{
					"member_code": rows[i].MemberCode,
					"name":        rows[i].Name,
				},
			})
		}
		return records, filepath.Join(c.dataDir, "loyalty", slug), "loyalty_" + slug, nil

	default:
		return nil, "", "", fmt.Errorf("scope %q: %w", scope, skzerrors.ErrInvalidInput)
	}
}

func (c *Compiler) decodeVector(raw []byte, label string) ([]float32, bool) {
	if len(raw) != c.featureDim*4 {
		c.log.WithFields(logrus.Fields{
			"record": label,
			"bytes":  len(raw),
			"want":   c.featureDim * 4,
		}).Warn("skipping record with mismatched vector width")
		return nil, false
	}
	vec := make([]float32, c.featureDim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, true
}

// prune drops versions beyond the retention window. Failures are logged, not
// returned: the new artifact is already live.
func (c *Compiler) prune(ctx context.Context, scope string) {
	pruned, err := c.store.Artifact().PruneBeyond(ctx, scope, c.versionsToKeep)
	if err != nil {
		c.log.WithError(err).WithField("scope", scope).Warn("pruning old artifact versions")
		return
	}
	for i := range pruned {
		if err := os.Remove(pruned[i].Path); err != nil && !os.IsNotExist(err) {
			c.log.WithError(err).WithField("path", pruned[i].Path).Warn("removing pruned artifact")
		}
		if err := os.Remove(sidecarPath(pruned[i].Path)); err != nil && !os.IsNotExist(err) {
			c.log.WithError(err).WithField("path", pruned[i].Path).Warn("removing pruned sidecar")
		}
	}
}

func sidecarPath(idxPath string) string {
	return strings.TrimSuffix(idxPath, ".idx") + ".json"
}

// Verify streams the artifact at path and checks it against the expected
// sha256. Reads are chunked so large indexes never sit in memory whole.
func Verify(path, expectedHash string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 1<<20)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return fmt.Errorf("hashing artifact: %w", err)
	}
	if got := fmt.Sprintf("%x", h.Sum(nil)); got != expectedHash {
		return fmt.Errorf("artifact hash mismatch: got %s, want %s", got, expectedHash)
	}
	return nil
}

// EncodeVector serializes a feature vector the way catalog rows store it.
func EncodeVector(vec []float32) []byte {
	raw := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return raw
}
