package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/rgstephens/gdo-bridge/internal/comms"
	"github.com/rgstephens/gdo-bridge/internal/door"
	"github.com/rgstephens/gdo-bridge/internal/log"
	"github.com/rgstephens/gdo-bridge/internal/matter"
	"github.com/rgstephens/gdo-bridge/internal/storage"
)

// Controller is the door as the API drives it. comms.Worker satisfies it.
type Controller interface {
	matter.Actuator
	Status(ctx context.Context) (comms.Status, error)
	Ready() bool
}

// EventStore keeps the event log and the last door snapshot. storage.DB satisfies it.
type EventStore interface {
	LogEvent(source storage.EventSource, eventType storage.EventType, message string, details interface{}) error
	GetEventLogs(filter storage.EventLogFilter) ([]storage.EventLog, error)
	SaveDoorSnapshot(state interface{}) error
	LoadDoorSnapshot(out interface{}) (bool, error)
}

// MatterBridge is the optional HomeKit bridge. matter.Bridge satisfies it.
type MatterBridge interface {
	IsRunning() bool
	GetStatus(ctx context.Context) (*matter.StatusResponse, error)
	GetPairingInfo(ctx context.Context) (*matter.PairingInfo, error)
	Decommission(ctx context.Context) error
	Events() <-chan matter.Event
}

// Options configures the HTTP server
type Options struct {
	Port          int
	DeviceName    string
	RatePerSecond float64 // actuation requests per second, 0 disables limiting
	Burst         int
	Gatherer      prometheus.Gatherer
	StaticDir     string
}

// Server is the HTTP server
type Server struct {
	opts    Options
	ctl     Controller
	store   EventStore
	bridge  MatterBridge
	router  *mux.Router
	hub     *Hub
	limiter *rate.Limiter
	events  chan door.Event
	started time.Time

	mirrorMu sync.RWMutex
	mirror   door.State
}

// NewServer creates a new HTTP server. bridge may be nil.
func NewServer(opts Options, ctl Controller, store EventStore, bridge MatterBridge) *Server {
	if opts.DeviceName == "" {
		opts.DeviceName = "Garage Door"
	}
	s := &Server{
		opts:    opts,
		ctl:     ctl,
		store:   store,
		bridge:  bridge,
		router:  mux.NewRouter(),
		hub:     NewHub(),
		events:  make(chan door.Event, 256),
		started: time.Now(),
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	// last known state until the first notification arrives
	var snap door.State
	if ok, err := store.LoadDoorSnapshot(&snap); err != nil {
		log.Warn("Failed to load door snapshot: %v", err)
	} else if ok {
		s.mirror = snap
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(requestID)

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/readyz", s.handleReadyz).Methods("GET")
	s.router.HandleFunc("/status.json", s.handleStatusJSON).Methods("GET")
	s.router.Handle("/setgdo", s.limit(http.HandlerFunc(s.handleSetGDO))).Methods("POST")

	gatherer := s.opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	// API routes
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/door", s.handleGetDoor).Methods("GET")
	api.HandleFunc("/pairing", s.handleGetPairing).Methods("GET")
	api.HandleFunc("/pairing", s.handleDecommission).Methods("DELETE")
	api.HandleFunc("/logs", s.handleGetLogs).Methods("GET")
	api.HandleFunc("/version", s.handleVersion).Methods("GET")
	api.HandleFunc("/ws", s.handleWebSocket)

	actions := api.PathPrefix("/door").Subrouter()
	actions.Use(s.limit)
	actions.HandleFunc("/open", s.handleOpen).Methods("POST")
	actions.HandleFunc("/close", s.handleClose).Methods("POST")
	actions.HandleFunc("/lock", s.handleLock).Methods("POST")
	actions.HandleFunc("/light", s.handleLight).Methods("POST")
	actions.HandleFunc("/status", s.handleRequestStatus).Methods("POST")

	if s.opts.StaticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.opts.StaticDir)))
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Notify queues a door notification for the web clients and the event log.
// It never blocks the caller.
func (s *Server) Notify(ev door.Event) {
	select {
	case s.events <- ev:
	default:
		log.Warn("Door event channel full, dropping %s", ev.Kind)
	}
}

// Run starts the HTTP server
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.hub.Run(ctx) }()
	go func() { defer wg.Done(); s.broadcastEvents(ctx) }()
	defer wg.Wait()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.opts.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Shutdown handler
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info("Web server listening on port %d", s.opts.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// broadcastEvents fans door notifications and Matter events out to the
// websocket clients and records them in the event log
func (s *Server) broadcastEvents(ctx context.Context) {
	var matterEvents <-chan matter.Event
	if s.bridge != nil {
		matterEvents = s.bridge.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-s.events:
			s.recordDoorEvent(ev)

		case event := <-matterEvents:
			s.hub.Broadcast(event)
			if event.Type == matter.EventTypeMatterEvent && event.Data != nil {
				if message, ok := event.Data["message"].(string); ok {
					s.store.LogEvent(storage.EventSourceMatter, storage.EventTypeConnection, message, event.Data)
				}
			}
		}
	}
}

func (s *Server) recordDoorEvent(ev door.Event) {
	s.mirrorMu.Lock()
	s.mirror.Apply(ev)
	snap := s.mirror
	s.mirrorMu.Unlock()

	s.hub.Broadcast(map[string]interface{}{
		"type": "door_event",
		"data": ev,
	})

	if err := s.store.SaveDoorSnapshot(snap); err != nil {
		log.Warn("Failed to save door snapshot: %v", err)
	}
	msg := fmt.Sprintf("%s: %v", ev.Kind, ev.Value)
	if err := s.store.LogEvent(storage.EventSourceDoor, storage.EventTypeStateChange, msg, ev); err != nil {
		log.Warn("Failed to log door event: %v", err)
	}
}

// Mirror returns the door as last notified
func (s *Server) Mirror() door.State {
	s.mirrorMu.RLock()
	defer s.mirrorMu.RUnlock()
	return s.mirror
}

// GetHub returns the WebSocket hub
func (s *Server) GetHub() *Hub {
	return s.hub
}
