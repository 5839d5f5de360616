// Package api is the HTTP surface phones, admin panels and the TV page
// talk to. Handlers only translate requests; every state change goes
// through the same components the store notifications drive.
package api

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"singalong/internal/admin"
	"singalong/internal/control"
	"singalong/internal/directory"
	"singalong/internal/liveness"
	"singalong/internal/queue"
	"singalong/internal/songbook"
	"singalong/internal/tv"
	"singalong/internal/websocket"
	"singalong/pkg/models"
	"singalong/pkg/validator"
)

// Deps are the node components the handlers call into
type Deps struct {
	Engine    *queue.Engine
	Directory *directory.Service
	Admin     *admin.Manager
	Control   *control.Sender
	Beacon    *liveness.Beacon
	Gate      *tv.Gate
	Catalog   *songbook.Catalog
	YouTube   *songbook.YouTube
	Hub       *websocket.Hub

	// State builds the room snapshot served by /api/state
	State func() models.RoomState
	// Screen renders the current holding screen as PNG
	Screen func(w io.Writer) error

	StaticDir string
	DevMode   bool
}

// Handler owns the HTTP routes
type Handler struct {
	Deps
	validate *validator.Validator
}

// NewHandler creates the handler set
func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d, validate: validator.NewValidator()}
}

// Router builds the chi mux
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	if h.DevMode {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/state", h.state)

		r.Route("/queue", func(r chi.Router) {
			r.Post("/", h.requestSong)
			r.Post("/clear", h.clearQueue)
			r.Group(func(r chi.Router) {
				r.Use(h.Admin.Middleware)
				r.Post("/skip", h.skip)
				r.Delete("/{id}", h.removeEntry)
			})
		})

		r.Post("/control", h.sendControl)
		r.Post("/activity", h.activity)

		r.Route("/songs", func(r chi.Router) {
			r.Get("/search", h.searchSongs)
			r.Get("/popular", h.popularSongs)
			r.Get("/history", h.history)
			r.Get("/reserved", h.reservedSongs)
			r.Post("/reserved", h.reserveSong)
			r.Delete("/reserved", h.unreserveSong)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", h.Admin.HandleLogin)
			r.Post("/logout", h.Admin.HandleLogout)
			r.Get("/check", h.Admin.HandleCheckAuth)

			r.Group(func(r chi.Router) {
				r.Use(h.Admin.Middleware)
				r.Get("/accounts", h.listAccounts)
				r.Post("/accounts", h.createAccount)
				r.Patch("/accounts/{id}", h.updateAccount)
				r.Delete("/accounts/{id}", h.deleteAccount)
				r.Post("/accounts/{id}/disabled", h.setAccountDisabled)
				r.Get("/clients", h.listClients)
				r.Get("/search-logs", h.searchLogs)
				r.Put("/tv/enabled", h.setTVEnabled)
			})
		})

		r.Route("/tv", func(r chi.Router) {
			r.Get("/enabled", h.tvEnabled)
			r.Get("/screen.png", h.tvScreen)
		})
	})

	if h.Hub != nil {
		r.Get("/ws", h.Hub.ServeWS)
	}
	if h.StaticDir != "" {
		r.Handle("/*", spaHandler(h.StaticDir))
	}
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	env := Envelope{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if h.Catalog != nil {
		if songs, plays, err := h.Catalog.Stats(); err == nil {
			env["songs"] = songs
			env["plays"] = plays
		}
	}
	writeJSON(w, http.StatusOK, env)
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Envelope{"data": h.State()})
}

func (h *Handler) tvEnabled(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Envelope{"data": Envelope{"enabled": h.Gate.Enabled()}})
}

type setTVEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *Handler) setTVEnabled(w http.ResponseWriter, r *http.Request) {
	var req setTVEnabledRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Gate.Set(r.Context(), *req.Enabled); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{"data": Envelope{"enabled": *req.Enabled}})
}

func (h *Handler) tvScreen(w http.ResponseWriter, r *http.Request) {
	if h.Screen == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.Screen(w); err != nil {
		writeError(w, http.StatusInternalServerError, err)
	}
}

// decode reads and validates a JSON body, writing the error response
// itself when it fails
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := readJSON(r, v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return false
	}
	if errs, ok := h.validate.Validate(v); !ok {
		writeJSON(w, http.StatusBadRequest, Envelope{"errors": errs})
		return false
	}
	return true
}
