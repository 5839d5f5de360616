package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"singalong/internal/control"
	"singalong/internal/queue"
	"singalong/pkg/models"
)

type requestSongRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Artist      string `json:"artist" validate:"max=200"`
	VideoID     string `json:"videoId" validate:"required,videoid"`
	RequestedBy string `json:"requestedBy" validate:"required,max=64"`
}

func (h *Handler) requestSong(w http.ResponseWriter, r *http.Request) {
	var req requestSongRequest
	if !h.decode(w, r, &req) {
		return
	}

	singer := strings.TrimSpace(req.RequestedBy)
	if h.Directory != nil {
		if _, err := h.Directory.EnsureSinger(r.Context(), singer); err != nil {
			log.Printf("[API] Could not provision singer %q: %v", singer, err)
		}
	}

	entry, err := h.Engine.Request(r.Context(), models.QueueEntry{
		Title:       req.Title,
		Artist:      req.Artist,
		VideoID:     req.VideoID,
		RequestedBy: singer,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, Envelope{"data": entry})
}

func (h *Handler) skip(w http.ResponseWriter, r *http.Request) {
	h.Engine.Skip(r.Context())
	writeJSON(w, http.StatusOK, Envelope{"data": h.Engine.Snapshot()})
}

func (h *Handler) removeEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid entry id"))
		return
	}
	if err := h.Engine.Remove(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{"data": h.Engine.Snapshot()})
}

type clearQueueRequest struct {
	Password string `json:"password" validate:"required"`
}

func (h *Handler) clearQueue(w http.ResponseWriter, r *http.Request) {
	var req clearQueueRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Engine.Clear(r.Context(), req.Password); err != nil {
		if errors.Is(err, queue.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{"data": h.Engine.Snapshot()})
}

type controlRequest struct {
	Command string `json:"command" validate:"required,oneof=togglePlay skip restart toggleMute setVolume"`
	Volume  *int   `json:"volume"`
}

func (h *Handler) sendControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if !h.decode(w, r, &req) {
		return
	}
	cmd, err := h.Control.Send(r.Context(), models.ControlCommand{
		Command: models.Command(req.Command),
		Volume:  req.Volume,
	})
	if err != nil {
		if errors.Is(err, control.ErrUnknownCommand) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Envelope{"data": cmd})
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	if err := h.Beacon.Touch(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
