// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"

	"github.com/caronte-ctf/caronte/internal/config"
	cerrors "github.com/caronte-ctf/caronte/internal/errors"
)

const settingsKeyConfig = "config"

// handleSetup serves POST /setup: it bootstraps the startup config
// (server address, flag regex, auth toggle, accounts) and persists it to
// the settings collection so a restart picks it back up.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	cfg := config.Default()
	if !BindJSON(w, r, &cfg) {
		return
	}

	if errs := cfg.Validate(); errs.HasErrors() {
		WriteError(w, http.StatusBadRequest, errs.Error())
		return
	}

	if err := s.st.PutSetting(r.Context(), settingsKeyConfig, cfg); err != nil {
		WriteErr(w, cerrors.Wrap(err, cerrors.KindTransient, "setup: persist config"))
		return
	}

	WriteJSON(w, http.StatusOK, cfg)
}
