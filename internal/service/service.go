// Package service implements the control-plane operations behind the HTTP
// transport: fleet lifecycle, catalog management, compilation, playlist sync,
// and alert processing.
package service

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skylinezone/skyctl/internal/agentproxy"
	"github.com/skylinezone/skyctl/internal/compiler"
	"github.com/skylinezone/skyctl/internal/config"
	"github.com/skylinezone/skyctl/internal/encoder"
	"github.com/skylinezone/skyctl/internal/notify"
	"github.com/skylinezone/skyctl/internal/pairing"
	"github.com/skylinezone/skyctl/internal/store"
	"github.com/skylinezone/skyctl/internal/worker_client"
)

// OfflineAfter is how long a device may miss heartbeats before the liveness
// sweep marks it offline.
const OfflineAfter = 3 * time.Minute

type ServiceHandler struct {
	store    store.Store
	log      logrus.FieldLogger
	cfg      *config.Config
	pairing  pairing.Store
	encoder  encoder.Encoder
	proxy    *agentproxy.Proxy
	worker   *worker_client.Client
	compiler *compiler.Compiler
	senders  notify.Registry
}

func NewServiceHandler(
	st store.Store,
	log logrus.FieldLogger,
	cfg *config.Config,
	pairingStore pairing.Store,
	enc encoder.Encoder,
	proxy *agentproxy.Proxy,
	worker *worker_client.Client,
	comp *compiler.Compiler,
	senders notify.Registry,
) *ServiceHandler {
	return &ServiceHandler{
		store:    st,
		log:      log,
		cfg:      cfg,
		pairing:  pairingStore,
		encoder:  enc,
		proxy:    proxy,
		worker:   worker,
		compiler: comp,
		senders:  senders,
	}
}
