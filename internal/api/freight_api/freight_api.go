package freight_api

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/BarnabyWild/logistack-sub000/internal/auth"
	"github.com/BarnabyWild/logistack-sub000/internal/services/lifecycle"
	"github.com/BarnabyWild/logistack-sub000/internal/services/tracking"
)

type FreightAPI struct {
	engine   *lifecycle.Engine
	tracking *tracking.Service
	auth     auth.Authenticator
	upgrader websocket.Upgrader

	// живые трекинг-сессии; http.Server.Shutdown не закрывает hijacked соединения
	ctx      context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	sessions map[*tracking.Session]struct{}
}

func New(engine *lifecycle.Engine, trackingSvc *tracking.Service, a auth.Authenticator) *FreightAPI {
	ctx, stop := context.WithCancel(context.Background())
	return &FreightAPI{
		ctx:      ctx,
		stop:     stop,
		sessions: map[*tracking.Session]struct{}{},
		engine:   engine,
		tracking: trackingSvc,
		auth:     a,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Трекеры подключаются не из браузера, Origin не проверяем.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the REST and streaming routes on r.
func (a *FreightAPI) Register(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	// The streaming handshake authenticates inside the protocol.
	r.Get("/tracking/ws", a.serveTracking)

	r.Group(func(r chi.Router) {
		r.Use(a.requireActor)

		r.Route("/loads", func(r chi.Router) {
			r.Post("/", a.createLoad)
			r.Get("/", a.listLoads)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.getLoad)
				r.Post("/assign", a.assignLoad)
				r.Post("/transition", a.transitionLoad)
				r.Post("/cancel", a.cancelLoad)
				r.Get("/history", a.loadHistory)
				r.Get("/location", a.latestLocation)
				r.Get("/locations", a.locationHistory)
			})
		})
		r.Get("/tracking/active", a.activeTracking)
	})
}

// Shutdown closes every open tracking session with a going-away close frame
// and refuses new ones. Register it with http.Server.RegisterOnShutdown.
func (a *FreightAPI) Shutdown() {
	a.mu.Lock()
	a.stop()
	open := make([]*tracking.Session, 0, len(a.sessions))
	for s := range a.sessions {
		open = append(open, s)
	}
	a.mu.Unlock()

	for _, s := range open {
		s.CloseWith(tracking.CloseShutdown, "server shutting down")
	}
}

// track adds sess to the live set; it reports false once Shutdown has run.
func (a *FreightAPI) track(sess *tracking.Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx.Err() != nil {
		return false
	}
	a.sessions[sess] = struct{}{}
	return true
}

func (a *FreightAPI) untrack(sess *tracking.Session) {
	a.mu.Lock()
	delete(a.sessions, sess)
	a.mu.Unlock()
}

// Router returns a standalone router with request logging and every route.
func (a *FreightAPI) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware)
	a.Register(r)
	return r
}
