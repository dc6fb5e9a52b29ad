package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"feedstream/internal/domain"
)

type positionBody struct {
	PositionMillis int64 `json:"positionMillis"`
	DurationMillis int64 `json:"durationMillis"`
}

type positionEvent struct {
	Key     string                   `json:"key"`
	Deleted bool                     `json:"deleted,omitempty"`
	Value   *domain.PlaybackPosition `json:"value,omitempty"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.positions == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "position store not configured")
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"), 20)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}

	positions, err := s.positions.ListRecent(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if positions == nil {
		positions = []domain.PlaybackPosition{}
	}

	writeJSON(w, http.StatusOK, positions)
}

// handlePositionByKey serves /positions/{key}. Keys of carousel videos embed
// their url, so the key is taken from the escaped path.
func (s *Server) handlePositionByKey(w http.ResponseWriter, r *http.Request) {
	if s.positions == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "position store not configured")
		return
	}

	key, err := url.PathUnescape(strings.TrimPrefix(r.URL.EscapedPath(), "/positions/"))
	if err != nil || strings.TrimSpace(key) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid key")
		return
	}

	switch r.Method {
	case http.MethodGet:
		pos, err := s.positions.Get(r.Context(), key)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pos)

	case http.MethodPut:
		var body positionBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
			return
		}
		if body.PositionMillis < 0 || body.DurationMillis < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "position and duration must be >= 0")
			return
		}

		pos := domain.PlaybackPosition{
			Key:            key,
			PositionMillis: body.PositionMillis,
			DurationMillis: body.DurationMillis,
			UpdatedAt:      time.Now().UTC(),
		}
		if err := s.positions.Upsert(r.Context(), pos); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to save position")
			return
		}
		s.wsHub.Broadcast("position", positionEvent{Key: key, Value: &pos})
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if err := s.positions.Delete(r.Context(), key); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeStoreError(w, err)
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete position")
			return
		}
		s.wsHub.Broadcast("position", positionEvent{Key: key, Deleted: true})
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
