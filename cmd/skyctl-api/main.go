package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/skylinezone/skyctl/internal/agentproxy"
	"github.com/skylinezone/skyctl/internal/api_server"
	"github.com/skylinezone/skyctl/internal/compiler"
	"github.com/skylinezone/skyctl/internal/config"
	"github.com/skylinezone/skyctl/internal/encoder"
	"github.com/skylinezone/skyctl/internal/notify"
	"github.com/skylinezone/skyctl/internal/pairing"
	"github.com/skylinezone/skyctl/internal/service"
	"github.com/skylinezone/skyctl/internal/store"
	"github.com/skylinezone/skyctl/internal/worker_client"
	"github.com/skylinezone/skyctl/pkg/log"
	"github.com/skylinezone/skyctl/pkg/queues"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadOrGenerate(config.ConfigFile())
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := log.InitLogs()
	logLvl, err := logrus.ParseLevel(cfg.Service.LogLevel)
	if err != nil {
		logLvl = logrus.InfoLevel
	}
	logger.SetLevel(logLvl)
	logger.Infof("starting skyctl api service with config: %s", cfg)

	db, err := store.InitDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("initializing database")
	}
	st := store.NewStore(db, logger.WithField("pkg", "store"))
	defer st.Close()
	if err := st.InitialMigration(); err != nil {
		logger.WithError(err).Fatal("running database migrations")
	}

	provider, err := queues.NewRedisProvider(ctx, logger, "api", cfg.Queue.Hostname, cfg.Queue.Port, cfg.Queue.Password, queues.DefaultRetryConfig())
	if err != nil {
		logger.WithError(err).Fatal("connecting to task queue")
	}
	defer provider.Stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Queue.Hostname, cfg.Queue.Port),
		Password: cfg.Queue.Password,
	})
	pairingStore := pairing.NewRedisStore(redisClient, cfg.Pairing.CodeTTL)

	var enc encoder.Encoder
	if cfg.Service.EncoderUrl != "" {
		enc = encoder.NewHTTP(cfg.Service.EncoderUrl, cfg.Recognition.FeatureDim, logger)
	} else {
		logger.Warn("no encoder url configured, using deterministic stub encoder")
		enc = encoder.NewStub(cfg.Recognition.FeatureDim)
	}

	worker, err := worker_client.New(ctx, provider, logger)
	if err != nil {
		logger.WithError(err).Fatal("creating worker client")
	}

	comp := compiler.New(st, logger.WithField("pkg", "compiler"), cfg.Service.DataDir, cfg.Recognition.FeatureDim, cfg.Recognition.VersionsToKeep)
	senders := buildSenders(cfg, logger)
	proxy := agentproxy.New(logger.WithField("pkg", "agentproxy"))

	svc := service.NewServiceHandler(st, logger, cfg, pairingStore, enc, proxy, worker, comp, senders)

	server := api_server.New(cfg, logger, svc, provider)
	if err := server.Run(ctx); err != nil {
		logger.WithError(err).Fatal("api server exited")
	}
	logger.Info("api server stopped")
}

func buildSenders(cfg *config.Config, logger logrus.FieldLogger) notify.Registry {
	n := cfg.Notifications
	return notify.Registry{
		api.ChannelEmail:   notify.NewEmailSender(n.EmailProviderKey, n.EmailFrom, logger),
		api.ChannelSMS:     notify.NewSMSSender(n.SMSProviderSID, n.SMSProviderToken, n.SMSFrom, logger),
		api.ChannelWebhook: notify.NewWebhookSender(logger),
	}
}
