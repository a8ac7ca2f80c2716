// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"

	"github.com/caronte-ctf/caronte/internal/model"
	"github.com/caronte-ctf/caronte/internal/rowid"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.registry.ListRules())
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule model.Rule
	if !BindJSON(w, r, &rule) {
		return
	}
	id, err := s.registry.AddRule(r.Context(), rule)
	if err != nil {
		WriteErr(w, err)
		return
	}
	rule.ID = id
	WriteJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := rowid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	var rule model.Rule
	if !BindJSON(w, r, &rule) {
		return
	}
	if err := s.registry.UpdateRule(r.Context(), id, rule); err != nil {
		WriteErr(w, err)
		return
	}
	rule.ID = id
	WriteJSON(w, http.StatusOK, rule)
}
