// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"io"
	"net/http"

	"github.com/caronte-ctf/caronte/internal/rowid"
)

func (s *Server) handleListPcapSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sessions)
}

// handleUploadPcap serves POST /api/pcap/upload (multipart, fields
// file, flush_all).
func (s *Server) handleUploadPcap(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.MaxBodyBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	flushAll := r.FormValue("flush_all") == "true"
	sess, err := s.sessions.Upload(r.Context(), header.Filename, file, flushAll)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, sess)
}

// pcapFileRequest is the JSON body of POST /api/pcap/file: it processes
// a capture already present on disk, so there is no upload stream.
type pcapFileRequest struct {
	File               string `json:"file"`
	FlushAll           bool   `json:"flush_all"`
	DeleteOriginalFile bool   `json:"delete_original_file"`
}

func (s *Server) handlePcapFile(w http.ResponseWriter, r *http.Request) {
	var req pcapFileRequest
	if !BindJSON(w, r, &req) {
		return
	}
	if req.File == "" {
		WriteError(w, http.StatusBadRequest, "missing file path")
		return
	}
	sess, err := s.sessions.FileSession(r.Context(), req.File, req.FlushAll, req.DeleteOriginalFile)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleDownloadPcap(w http.ResponseWriter, r *http.Request) {
	id, err := rowid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	f, sess, err := s.sessions.Download(r.Context(), id)
	if err != nil {
		WriteErr(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.tcpdump.pcap")
	w.Header().Set("Content-Disposition", `attachment; filename="`+sess.Name+`"`)
	io.Copy(w, f)
}
