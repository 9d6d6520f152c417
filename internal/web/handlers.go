package web

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/justestif/songwall/internal/identity"
	"github.com/justestif/songwall/internal/wall"
)

const msgSongNotFound = "Song not found"

// Handlers contains HTTP handlers for the song wall.
type Handlers struct {
	wall         *wall.Service
	templates    *Templates
	logger       *log.Logger
	maxBodyBytes int64
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *wall.Service, templates *Templates, logger *log.Logger, maxBodyBytes int64) *Handlers {
	return &Handlers{
		wall:         svc,
		templates:    templates,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// Home renders the wall page (GET /).
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	viewer := identity.FromRequest(r)
	order := wall.ParseOrder(r.URL.Query().Get("sort"))

	data := WallPageData{
		PageData: PageData{
			Title:       "Song Wall",
			CurrentPath: r.URL.Path,
		},
		Listing: h.wall.Wall(r.Context(), viewer.Hash, order),
		Sort:    order,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.Render(w, "home", data); err != nil {
		h.logger.Error("rendering wall", "err", err)
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
		return
	}
}

// Health reports liveness (GET /healthz).
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListSongs returns the wall for the viewer (GET /songs?sort=latest|loved).
func (h *Handlers) ListSongs(w http.ResponseWriter, r *http.Request) {
	viewer := identity.FromRequest(r)
	order := wall.ParseOrder(r.URL.Query().Get("sort"))

	listing, err := h.wall.ListSongs(r.Context(), viewer.Hash, order)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// CreateSongs pins one or two songs (POST /songs).
func (h *Handlers) CreateSongs(w http.ResponseWriter, r *http.Request) {
	viewer := identity.FromRequest(r)

	// An undecodable body is passed on as nil so the quota is still checked
	// before the body is rejected.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	req := &wall.CreateRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		req = nil
	}

	songs, err := h.wall.CreateSongs(r.Context(), viewer.Hash, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"songs": songs})
}

// DeleteSong removes one of the viewer's songs (DELETE /songs/{id}).
func (h *Handlers) DeleteSong(w http.ResponseWriter, r *http.Request) {
	viewer := identity.FromRequest(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody(msgSongNotFound))
		return
	}

	if err := h.wall.DeleteSong(r.Context(), viewer.Hash, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ToggleLike likes or unlikes a song (POST /songs/{id}/like).
func (h *Handlers) ToggleLike(w http.ResponseWriter, r *http.Request) {
	viewer := identity.FromRequest(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody(msgSongNotFound))
		return
	}

	result, err := h.wall.ToggleLike(r.Context(), viewer.Hash, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Search queries the catalog (GET /spotify-search?q=).
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	viewer := identity.FromRequest(r)

	results, err := h.wall.Search(r.Context(), viewer.Hash, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// writeError maps a wall error onto a status code. Only the public message
// is sent; the cause has already been logged by the service.
func writeError(w http.ResponseWriter, err error) {
	we := wall.AsError(err)
	writeJSON(w, statusFor(we.Kind), errorBody(we.Message))
}

func statusFor(kind wall.Kind) int {
	switch kind {
	case wall.KindInvalid:
		return http.StatusBadRequest
	case wall.KindNotFound:
		return http.StatusNotFound
	case wall.KindForbidden:
		return http.StatusForbidden
	case wall.KindLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
