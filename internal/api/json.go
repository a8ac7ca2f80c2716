// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"

	cerrors "github.com/caronte-ctf/caronte/internal/errors"
)

// BindJSON decodes JSON from the request body into dest. Returns true on
// success; on failure it has already written a 400 response.
func BindJSON[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// WriteJSON writes v as the JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the shape of every error response this API returns.
type errorBody struct {
	Error string `json:"error"`
}

// WriteError writes a JSON error body with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, errorBody{Error: msg})
}

// WriteErr maps err to its Kind.HTTPStatus and writes it as a JSON error
// body. Every handler that calls into the core should funnel its error
// return through this so kind-to-status mapping happens in one place.
func WriteErr(w http.ResponseWriter, err error) {
	WriteError(w, cerrors.GetKind(err).HTTPStatus(), err.Error())
}
