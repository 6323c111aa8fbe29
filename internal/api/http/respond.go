package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcqlabs/examhub/internal/exam"
	"github.com/mcqlabs/examhub/internal/user"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errBody struct {
	Error string `json:"error"`
}

func writeErrMsg(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errBody{Error: msg})
}

// writeErr maps the store sentinels onto HTTP statuses; anything unexpected
// is a 500 with a generic body so internals never leak to clients.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exam.ErrNotFound), errors.Is(err, user.ErrNotFound):
		writeErrMsg(w, http.StatusNotFound, "not found")
	case errors.Is(err, exam.ErrNoTaker):
		writeErrMsg(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, exam.ErrAlreadySubmitted):
		writeErrMsg(w, http.StatusConflict, err.Error())
	default:
		writeErrMsg(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrMsg(w, http.StatusBadRequest, "bad json")
		return false
	}
	return true
}
