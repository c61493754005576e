// Package api_server assembles the HTTP surface of the control plane: routing,
// middleware, health and metrics endpoints, and server lifecycle.
package api_server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/skylinezone/skyctl/internal/config"
	"github.com/skylinezone/skyctl/internal/service"
	"github.com/skylinezone/skyctl/internal/transport"
	"github.com/skylinezone/skyctl/pkg/queues"
	"github.com/skylinezone/skyctl/pkg/reqid"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	requestTimeout          = 60 * time.Second

	// pairing endpoints are unauthenticated, so they carry a per-IP rate limit
	pairingRateLimit  = 10
	pairingRatePeriod = time.Minute
)

type Server struct {
	cfg      *config.Config
	log      logrus.FieldLogger
	svc      *service.ServiceHandler
	provider queues.Provider
}

func New(cfg *config.Config, log logrus.FieldLogger, svc *service.ServiceHandler, provider queues.Provider) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		svc:      svc,
		provider: provider,
	}
}

func (s *Server) Router() http.Handler {
	h := transport.NewHandler(s.svc, s.log)

	router := chi.NewRouter()
	router.Use(
		requestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
		requestLogger(s.log),
	)

	router.Get("/healthz", s.healthz)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/tenants", func(r chi.Router) {
			r.Post("/", h.CreateTenant)
			r.Get("/", h.ListTenants)
			r.Get("/{tenantID}", h.GetTenant)
			r.Get("/{tenantID}/hubs", h.ListHubs)
			r.Get("/{tenantID}/devices", h.ListDevices)
			r.Get("/{tenantID}/playlists", h.ListPlaylists)
			r.Get("/{tenantID}/layouts", h.ListLayouts)
			r.Route("/{tenantID}/loyalty-members", func(r chi.Router) {
				r.Post("/", h.CreateLoyaltyMember)
				r.Get("/", h.ListLoyaltyMembers)
				r.Post("/import", h.ImportLoyaltyMembers)
			})
		})

		r.Post("/hubs", h.CreateHub)
		r.With(h.HubAuth).Post("/hubs/heartbeats", h.SubmitHeartbeats)

		r.Route("/devices", func(r chi.Router) {
			r.Post("/register", h.RegisterDevice)
			r.Get("/{deviceID}", h.GetDevice)
			r.Post("/{deviceID}/command", h.SendRemoteCommand)
			r.Get("/{deviceID}/layout", h.ComposeLayout)
			r.Put("/{deviceID}/layout", h.SetDeviceLayout)
			r.Post("/{deviceID}/layout-assignments", h.AssignLayout)
			r.Route("/{deviceID}/assignments", func(r chi.Router) {
				r.Post("/", h.AssignPlaylist)
				r.Get("/", h.ListDeviceAssignments)
			})
			r.Route("/{deviceID}/layers/{layerID}", func(r chi.Router) {
				r.Put("/override", h.UpsertLayerOverride)
				r.Post("/triggers", h.CreateLayerTrigger)
			})
			r.Delete("/{deviceID}/triggers/{triggerID}", h.DeleteLayerTrigger)
		})

		r.Route("/assignments/{assignmentID}", func(r chi.Router) {
			r.Post("/toggle", h.ToggleAssignment)
			r.Delete("/", h.DeleteAssignment)
		})

		r.Route("/pairing", func(r chi.Router) {
			r.Use(httprate.LimitByIP(pairingRateLimit, pairingRatePeriod))
			r.Post("/request", h.RequestPairingCode)
			r.Get("/status", h.PairingStatus)
			r.Post("/verify", h.VerifyPairing)
		})

		r.Route("/playlists", func(r chi.Router) {
			r.Post("/", h.CreatePlaylist)
			r.Route("/{playlistID}", func(r chi.Router) {
				r.Get("/", h.GetPlaylist)
				r.Post("/push", h.PushPlaylist)
				r.Get("/sync-status", h.PlaylistSyncStatus)
				r.Route("/items", func(r chi.Router) {
					r.Get("/", h.ListPlaylistItems)
					r.Post("/", h.AddPlaylistItem)
					r.Put("/reorder", h.ReorderPlaylistItems)
					r.Delete("/{itemID}", h.RemovePlaylistItem)
					r.Put("/{itemID}/duration", h.UpdatePlaylistItemDuration)
				})
			})
		})

		r.Route("/missing-persons", func(r chi.Router) {
			r.Post("/", h.CreateMissingPerson)
			r.Get("/", h.ListMissingPersons)
			r.Post("/import", h.ImportMissingPersons)
			r.Route("/{personID}", func(r chi.Router) {
				r.Get("/", h.GetMissingPerson)
				r.Put("/status", h.SetMissingPersonStatus)
				r.Delete("/", h.DeleteMissingPerson)
				r.Post("/photo", h.UploadMissingPersonPhoto)
			})
		})

		r.Route("/loyalty-members/{memberID}", func(r chi.Router) {
			r.Get("/", h.GetLoyaltyMember)
			r.Delete("/", h.DeleteLoyaltyMember)
			r.Post("/photo", h.UploadLoyaltyMemberPhoto)
		})

		r.Route("/indexes/{scope}", func(r chi.Router) {
			r.Post("/compile", h.RequestCompile)
			r.Get("/artifacts", h.ListArtifacts)
			r.Get("/artifacts/latest", h.LatestArtifact)
			r.Get("/artifacts/{version}/download", h.DownloadArtifact)
			r.Get("/artifacts/{version}/sidecar", h.ArtifactSidecar)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Post("/", h.CreateAlert)
			r.Get("/", h.ListAlerts)
			r.Route("/{alertID}", func(r chi.Router) {
				r.Get("/", h.GetAlert)
				r.Put("/review", h.ReviewAlert)
				r.Post("/image", h.UploadAlertImage)
				r.Get("/image", h.GetAlertImage)
				r.Post("/retry-notifications", h.RetryFailedNotifications)
				r.Delete("/", h.DeleteAlert)
			})
		})

		r.Route("/notification-rules", func(r chi.Router) {
			r.Post("/", h.CreateNotificationRule)
			r.Get("/", h.ListNotificationRules)
		})

		r.Route("/layouts", func(r chi.Router) {
			r.Post("/", h.CreateLayout)
			r.Route("/{layoutID}/layers", func(r chi.Router) {
				r.Post("/", h.CreateLayer)
				r.Get("/", h.ListLayers)
			})
		})
	})

	return router
}

// Run serves until the context is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Service.Address,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("address", srv.Addr).Info("api server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.provider.CheckHealth(r.Context()); err != nil {
		s.log.WithError(err).Warn("health check failed")
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// requestLogger emits one line per request with the id minted by RequestID.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
			}).Info("request served")
		})
	}
}

// requestID stamps each request with a sequential id under the chi key so
// middleware.GetReqID resolves it downstream.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, reqid.NextRequestID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
