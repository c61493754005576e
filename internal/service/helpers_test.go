package service

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/skylinezone/skyctl/internal/agentproxy"
	"github.com/skylinezone/skyctl/internal/compiler"
	"github.com/skylinezone/skyctl/internal/config"
	"github.com/skylinezone/skyctl/internal/encoder"
	"github.com/skylinezone/skyctl/internal/notify"
	"github.com/skylinezone/skyctl/internal/pairing"
	"github.com/skylinezone/skyctl/internal/store"
	"github.com/skylinezone/skyctl/internal/store/model"
	"github.com/skylinezone/skyctl/internal/tasks"
	"github.com/skylinezone/skyctl/internal/worker_client"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// capturePublisher records enqueued tasks instead of talking to redis.
type capturePublisher struct {
	mu        sync.Mutex
	published []capturedTask
}

type capturedTask struct {
	payload tasks.Payload
	delay   time.Duration
}

func (p *capturePublisher) Publish(_ context.Context, payload []byte) error {
	return p.record(payload, 0)
}

func (p *capturePublisher) PublishAfter(_ context.Context, payload []byte, delay time.Duration) error {
	return p.record(payload, delay)
}

func (p *capturePublisher) record(payload []byte, delay time.Duration) error {
	task, err := tasks.Unmarshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, capturedTask{payload: *task, delay: delay})
	return nil
}

func (p *capturePublisher) Close() {}

func (p *capturePublisher) tasks() []capturedTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]capturedTask, len(p.published))
	copy(out, p.published)
	return out
}

// failingSender simulates a provider outage for one channel.
type failingSender struct{ err error }

func (s *failingSender) Send(context.Context, string, notify.Message) (string, error) {
	return "", s.err
}
func (s *failingSender) Stub() bool { return true }

type testHarness struct {
	svc       *ServiceHandler
	store     store.Store
	db        *gorm.DB
	cfg       *config.Config
	publisher *capturePublisher
	senders   notify.Registry
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := config.NewDefault()
	cfg.Database.Type = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "service-test.db")
	cfg.Service.DataDir = t.TempDir()
	cfg.Service.UploadsDir = t.TempDir()
	cfg.Service.CapturesDir = t.TempDir()
	cfg.Recognition.FeatureDim = 4

	db, err := store.InitDB(cfg, logger)
	require.NoError(t, err)
	st := store.NewStore(db, logger)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.InitialMigration())

	publisher := &capturePublisher{}
	senders := notify.Registry{
		api.ChannelEmail:   notify.NewEmailSender("", "alerts@example.com", logger),
		api.ChannelSMS:     notify.NewSMSSender("", "", "+15555550100", logger),
		api.ChannelWebhook: notify.NewWebhookSender(logger),
	}

	svc := NewServiceHandler(
		st,
		logger,
		cfg,
		pairing.NewMemoryStore(cfg.Pairing.CodeTTL),
		encoder.NewStub(cfg.Recognition.FeatureDim),
		agentproxy.New(logger),
		worker_client.NewWithPublisher(publisher, logger),
		compiler.New(st, logger, cfg.Service.DataDir, cfg.Recognition.FeatureDim, cfg.Recognition.VersionsToKeep),
		senders,
	)
	return &testHarness{svc: svc, store: st, db: db, cfg: cfg, publisher: publisher, senders: senders}
}

func (h *testHarness) createTenant(t *testing.T, slug string) *model.Tenant {
	t.Helper()
	tenant, err := h.store.Tenant().Create(context.Background(), slug, "Tenant "+slug)
	require.NoError(t, err)
	return tenant
}

func (h *testHarness) createHub(t *testing.T, tenantID uuid.UUID, code string) *api.Hub {
	t.Helper()
	hub, err := h.svc.CreateHub(context.Background(), api.CreateHubRequest{
		Code:     code,
		Name:     "Hub " + code,
		TenantID: tenantID,
	})
	require.NoError(t, err)
	return hub
}

func (h *testHarness) registerDirectDevice(t *testing.T, hardwareID string) *api.Device {
	t.Helper()
	device, err := h.svc.RegisterDevice(context.Background(), api.RegisterDeviceRequest{
		HardwareID: hardwareID,
		Mode:       api.DeviceModeDirect,
	})
	require.NoError(t, err)
	return device
}

func (h *testHarness) createRule(t *testing.T, name string, channel api.Channel, recipients api.RuleRecipients, delayMinutes int) *api.NotificationRule {
	t.Helper()
	rule, err := h.svc.CreateNotificationRule(context.Background(), api.NotificationRule{
		Name:         name,
		Channel:      channel,
		Recipients:   recipients,
		DelayMinutes: delayMinutes,
		Enabled:      true,
	})
	require.NoError(t, err)
	return rule
}

func missingPersonAlert(confidence float64, caseRef string) api.CreateAlertRequest {
	return api.CreateAlertRequest{
		AlertType:  string(api.AlertTypeMissingPersonMatch),
		CaseRef:    &caseRef,
		Confidence: &confidence,
		DetectedAt: time.Now().UTC().Format(time.RFC3339),
	}
}
