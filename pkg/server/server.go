// Package server exposes the town registry over HTTP and websockets.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/NicolasHaas/townhall/pkg/datastore"
	"github.com/NicolasHaas/townhall/pkg/logging"
	"github.com/NicolasHaas/townhall/pkg/town"
)

// Dependencies holds external dependencies for the server.
// The caller builds the town store with Metrics and Journal as its
// observers; Server assumes ownership of the journal's datastore and closes
// it on shutdown.
type Dependencies struct {
	Towns   *town.Store
	Journal *Journal
	Metrics *Metrics
}

// Server is the townhall HTTP front end.
type Server struct {
	cfg     Config
	towns   *town.Store
	journal *Journal
	metrics *Metrics
	log     *slog.Logger
	httpSrv *http.Server
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a new Server instance. A nil journal becomes an in-memory
// one; a nil store is created from cfg and observed by the server's
// metrics and journal.
func New(cfg Config, deps Dependencies) *Server {
	if deps.Journal == nil {
		deps.Journal = NewJournal(datastore.NewMemory())
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Towns == nil {
		deps.Towns = town.NewStore(town.Options{
			OverridePassword: cfg.OverridePassword,
			Capacity:         cfg.TownCapacity,
			Observer:         town.Observers(deps.Metrics, deps.Journal),
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		towns:   deps.Towns,
		journal: deps.Journal,
		metrics: deps.Metrics,
		log:     logging.For("server"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Towns returns the town registry.
func (s *Server) Towns() *town.Store {
	return s.towns
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
