package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"feedstream/internal/domain"
	"feedstream/internal/usecase"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errInvalidLimit = errors.New("invalid limit")

// classify maps a failure to the status and code reported on both the HTTP
// routes and the feed socket. Internal errors hide their message.
func classify(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, usecase.ErrInvalidFeedType),
		errors.Is(err, domain.ErrInvalidCursor),
		errors.Is(err, errInvalidLimit):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, usecase.ErrRepository):
		return http.StatusInternalServerError, "repository_error", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeUseCaseError(w http.ResponseWriter, err error) {
	status, code, message := classify(err)
	writeError(w, status, code, message)
}

// writeStoreError reports a position store failure. The stores return
// domain errors unwrapped, so anything but not-found is a repository error.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "position not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// parseLimit reads a page size query value; empty means fallback.
func parseLimit(value string, fallback int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, errInvalidLimit
	}
	return n, nil
}

func parseFeedType(value string) (domain.FeedType, error) {
	switch domain.FeedType(strings.ToLower(strings.TrimSpace(value))) {
	case "", domain.FeedAll:
		return domain.FeedAll, nil
	case domain.FeedVideos:
		return domain.FeedVideos, nil
	default:
		return "", usecase.ErrInvalidFeedType
	}
}
