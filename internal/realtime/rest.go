package realtime

import (
	"encoding/json"
	"errors"
	"net/http"

	"claude-synapse/internal/project"
	"claude-synapse/internal/protocol"
	"claude-synapse/internal/session"
)

type spawnSessionRequest struct {
	ProjectID string `json:"projectId"`
}

type writeInputRequest struct {
	Text *string `json:"text"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorPayload{Code: code, Message: message})
}

// writeRegistryError maps a registry error to an HTTP status.
func writeRegistryError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrAdmission):
		status = http.StatusTooManyRequests
	case errors.Is(err, session.ErrSpawn):
		status = http.StatusBadGateway
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrChannelClosed):
		status = http.StatusConflict
	case errors.Is(err, session.ErrInvalidProject):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, protocol.ErrorCode(err), err.Error())
}

func (s *Server) handleSpawnSession(w http.ResponseWriter, r *http.Request) {
	var req spawnSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "invalid request body")
		return
	}

	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "projectId is required")
		return
	}

	id, err := s.registry.Spawn(req.ProjectID)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, protocol.SessionSpawnedPayload{SessionID: id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	summary, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	lines, err := s.registry.Output(r.PathValue("id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (s *Server) handleWriteInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req writeInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "invalid request body")
		return
	}

	if req.Text == nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "text is required")
		return
	}

	if err := s.registry.WriteInput(id, *req.Text); err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Terminate(r.PathValue("id")); err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := project.Scan(s.opts.ProjectsDir)
	if err != nil {
		s.log.Warn("scan projects", "error", err)
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := project.Get(s.opts.ProjectsDir, r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, protocol.ErrProjectNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}
