// Package instrumentation registers the process's prometheus collectors.
package instrumentation

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	AlertsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skyctl_alerts_received_total",
		Help: "Alerts accepted by type.",
	}, []string{"type"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skyctl_notifications_sent_total",
		Help: "Notification deliveries by channel and outcome.",
	}, []string{"channel", "status"})

	HeartbeatsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skyctl_heartbeats_applied_total",
		Help: "Device heartbeat items applied.",
	})

	CompilesRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skyctl_index_compiles_total",
		Help: "Index compilations by outcome.",
	}, []string{"outcome"})

	SyncPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skyctl_playlist_sync_pushes_total",
		Help: "Playlist sync attempts by outcome.",
	}, []string{"outcome"})

	DevicesMarkedOffline = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skyctl_devices_marked_offline_total",
		Help: "Devices transitioned to offline by the liveness sweep.",
	})
)

// Serve runs a standalone /metrics and /healthz listener until the context is
// canceled. Used by processes that do not carry the API router.
func Serve(ctx context.Context, address string, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: address, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("address", address).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("metrics listener failed")
	}
}
