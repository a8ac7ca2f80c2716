// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"strconv"

	"github.com/caronte-ctf/caronte/internal/format"
	"github.com/caronte-ctf/caronte/internal/rowid"
	"github.com/caronte-ctf/caronte/internal/streamreader"
)

// handleStream serves GET /api/streams/{connection_id}?format=&skip=&limit=.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	connID, err := rowid.Parse(r.PathValue("connection_id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid connection id")
		return
	}

	opts := streamreader.Options{Format: format.Name(r.URL.Query().Get("format"))}
	if v := r.URL.Query().Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "invalid skip")
			return
		}
		opts.Skip = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}

	payloads, err := s.reader.GetConnectionPayload(r.Context(), connID, opts)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, payloads)
}
