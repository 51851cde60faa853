package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/signalnoise/cloudsync/internal/common"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps sentinel errors to HTTP statuses. Anything unmapped is a
// 500 with a generic body so internal detail never leaks to clients.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: common.ErrUserNotFound.Error()})
	case errors.Is(err, common.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: common.ErrNotFound.Error()})
	case errors.Is(err, common.ErrUserInactive):
		writeJSON(w, http.StatusForbidden, errorBody{Error: common.ErrUserInactive.Error()})
	// Verification of an unknown or expired magic token is a 404, the same
	// status an unknown account gets: the link simply does not exist anymore.
	case errors.Is(err, common.ErrTokenInvalidOrExpired):
		writeJSON(w, http.StatusNotFound, errorBody{Error: common.ErrTokenInvalidOrExpired.Error()})
	case errors.Is(err, common.ErrSessionInvalid), errors.Is(err, common.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: common.ErrSessionInvalid.Error()})
	case errors.Is(err, common.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: common.ErrVersionConflict.Error()})
	case errors.Is(err, common.ErrEmptyOverwrite):
		writeJSON(w, http.StatusConflict, errorBody{Error: common.ErrEmptyOverwrite.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
