package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"singalong/internal/songbook"
	"singalong/internal/websocket"
	"singalong/pkg/models"
)

func (h *Handler) searchSongs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if id, ok := songbook.ExtractVideoID(q); ok && strings.Contains(q, "/") {
		// Pasted link: resolve it from the catalog when known
		if song, err := h.Catalog.Get(id); err == nil {
			writeJSON(w, http.StatusOK, Envelope{"data": []models.Song{song}, "source": songbook.SourceCatalog})
			return
		}
		writeJSON(w, http.StatusOK, Envelope{"data": []models.Song{{VideoID: id, Title: id}}, "source": "link"})
		return
	}

	songs, source, err := h.YouTube.Search(r.Context(), q)
	if err != nil {
		if errors.Is(err, songbook.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if source == songbook.SourceYouTube {
		for _, s := range songs {
			h.Catalog.Upsert(s)
		}
	}
	if err := h.Catalog.LogSearch(strings.TrimSpace(q), source, len(songs), r.URL.Query().Get("singer"), websocket.GetClientIP(r)); err != nil {
		log.Printf("[API] Failed to log search: %v", err)
	}
	writeJSON(w, http.StatusOK, Envelope{"data": songs, "source": source})
}

func (h *Handler) popularSongs(w http.ResponseWriter, r *http.Request) {
	songs, err := h.Catalog.Popular(queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{"data": songs})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	plays, err := h.Catalog.History(r.URL.Query().Get("singer"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{"data": plays})
}

func singerParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	singer := strings.TrimSpace(r.URL.Query().Get("singer"))
	if singer == "" {
		writeError(w, http.StatusBadRequest, errors.New("singer is required"))
		return "", false
	}
	return singer, true
}

func (h *Handler) reservedSongs(w http.ResponseWriter, r *http.Request) {
	singer, ok := singerParam(w, r)
	if !ok {
		return
	}
	songs, err := h.Catalog.Reserved(singer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{"data": songs})
}

type reserveRequest struct {
	Singer   string `json:"singer" validate:"required,max=64"`
	VideoID  string `json:"videoId" validate:"required,videoid"`
	Title    string `json:"title" validate:"required,max=200"`
	Artist   string `json:"artist" validate:"max=200"`
	Duration int    `json:"duration" validate:"gte=0"`
}

func (h *Handler) reserveSong(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if !h.decode(w, r, &req) {
		return
	}
	song := models.Song{VideoID: req.VideoID, Title: req.Title, Artist: req.Artist, Duration: req.Duration}
	if err := h.Catalog.Reserve(strings.TrimSpace(req.Singer), song); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, Envelope{"data": song})
}

func (h *Handler) unreserveSong(w http.ResponseWriter, r *http.Request) {
	singer, ok := singerParam(w, r)
	if !ok {
		return
	}
	if err := h.Catalog.Unreserve(singer, r.URL.Query().Get("videoId")); err != nil {
		if errors.Is(err, songbook.ErrSongNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) searchLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.Catalog.SearchLogs(queryInt(r, "limit", 100), r.URL.Query().Get("source"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{"data": logs})
}
