// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/caronte-ctf/caronte/internal/model"
	"github.com/caronte-ctf/caronte/internal/rowid"
)

// handleListConnections serves GET /api/connections, translating query
// parameters into a model.Filter (spec §6).
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	f, err := parseConnectionFilter(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	conns, err := s.st.ListConnections(r.Context(), f)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if conns == nil {
		conns = []model.Connection{}
	}
	WriteJSON(w, http.StatusOK, conns)
}

func parseConnectionFilter(r *http.Request) (model.Filter, error) {
	q := r.URL.Query()
	var f model.Filter

	if v := q.Get("service_port"); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return f, errInvalidParam("service_port")
		}
		f.ServicePort = uint16(n)
	}
	for _, v := range q["matched_rules"] {
		id, err := rowid.Parse(v)
		if err != nil {
			return f, errInvalidParam("matched_rules")
		}
		f.MatchedRules = append(f.MatchedRules, id)
	}
	f.ClientAddress = q.Get("client_address")
	if v := q.Get("client_port"); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return f, errInvalidParam("client_port")
		}
		f.ClientPort = uint16(n)
	}
	if d, err := parseDurationSeconds(q.Get("min_duration")); err != nil {
		return f, errInvalidParam("min_duration")
	} else {
		f.MinDuration = d
	}
	if d, err := parseDurationSeconds(q.Get("max_duration")); err != nil {
		return f, errInvalidParam("max_duration")
	} else {
		f.MaxDuration = d
	}
	if n, err := parseInt64(q.Get("min_bytes")); err != nil {
		return f, errInvalidParam("min_bytes")
	} else {
		f.MinBytes = n
	}
	if n, err := parseInt64(q.Get("max_bytes")); err != nil {
		return f, errInvalidParam("max_bytes")
	} else {
		f.MaxBytes = n
	}
	if t, err := parseTime(q.Get("started_after")); err != nil {
		return f, errInvalidParam("started_after")
	} else {
		f.StartedAfter = t
	}
	if t, err := parseTime(q.Get("started_before")); err != nil {
		return f, errInvalidParam("started_before")
	} else {
		f.StartedBefore = t
	}
	if t, err := parseTime(q.Get("closed_after")); err != nil {
		return f, errInvalidParam("closed_after")
	} else {
		f.ClosedAfter = t
	}
	if t, err := parseTime(q.Get("closed_before")); err != nil {
		return f, errInvalidParam("closed_before")
	} else {
		f.ClosedBefore = t
	}
	if b, err := parseBoolPtr(q.Get("marked")); err != nil {
		return f, errInvalidParam("marked")
	} else {
		f.Marked = b
	}
	if b, err := parseBoolPtr(q.Get("hidden")); err != nil {
		return f, errInvalidParam("hidden")
	} else {
		f.Hidden = b
	}

	if v := q.Get("from"); v != "" {
		id, err := rowid.Parse(v)
		if err != nil {
			return f, errInvalidParam("from")
		}
		f.From = id
	}
	if v := q.Get("to"); v != "" {
		id, err := rowid.Parse(v)
		if err != nil {
			return f, errInvalidParam("to")
		}
		f.To = id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errInvalidParam("limit")
		}
		f.Limit = n
	}

	return f, nil
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	id, err := rowid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	conn, err := s.st.FindConnection(r.Context(), id)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, conn)
}

type flagsUpdate struct {
	Marked *bool `json:"marked"`
	Hidden *bool `json:"hidden"`
}

func (s *Server) handleUpdateConnectionFlags(w http.ResponseWriter, r *http.Request) {
	id, err := rowid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	var body flagsUpdate
	if !BindJSON(w, r, &body) {
		return
	}
	if err := s.st.UpdateConnectionFlags(r.Context(), id, body.Marked, body.Hidden); err != nil {
		WriteErr(w, err)
		return
	}
	conn, err := s.st.FindConnection(r.Context(), id)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, conn)
}

func errInvalidParam(name string) error { return &paramError{name} }

type paramError struct{ name string }

func (e *paramError) Error() string { return "invalid query parameter: " + e.name }

func parseDurationSeconds(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parseInt64(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func parseBoolPtr(v string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
