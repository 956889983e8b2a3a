package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/computerd/internal/manager"
	"github.com/me/computerd/pkg/model"
)

// computerID parses the {id} URL parameter, writing a 400 on failure.
func computerID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		respondError(w, RequestIDFromContext(r.Context()), http.StatusBadRequest,
			model.NewValidationError("invalid computer id", model.FieldError{Field: "id", Message: fmt.Sprintf("%q is not a positive integer", raw)}))
		return 0, false
	}
	return id, true
}

func (s *Server) handleListComputers(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.host.Manager().List())
}

func (s *Server) handleGetComputer(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, ok := computerID(w, r)
	if !ok {
		return
	}
	info, err := s.host.Manager().Info(id)
	if err != nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("computer", id))
		return
	}
	respondOK(w, reqID, info)
}

func (s *Server) handleCreateComputer(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.CreateComputerRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON: "+err.Error()))
			return
		}
	}
	if req.ID < 0 {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid request", model.FieldError{Field: "id", Message: "must not be negative"}))
		return
	}

	var info model.ComputerInfo
	err := s.call(r, func(m *manager.Manager) error {
		id, err := m.Create(model.ComputerRecord{ID: req.ID, Label: req.Label, On: req.On})
		if id != 0 {
			info, _ = m.Info(id)
		}
		return err
	})
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	s.logger.Info("computer created via api", "computer_id", info.ID, "request_id", reqID)
	respondCreated(w, reqID, info)
}

func (s *Server) handleDeleteComputer(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, ok := computerID(w, r)
	if !ok {
		return
	}
	if err := s.call(r, func(m *manager.Manager) error { return m.Remove(id) }); err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"id": id, "removed": true})
}

// lifecycle runs op for the {id} computer and responds with its view.
func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(m *manager.Manager, id int) error) {
	reqID := RequestIDFromContext(r.Context())
	id, ok := computerID(w, r)
	if !ok {
		return
	}
	var info model.ComputerInfo
	err := s.call(r, func(m *manager.Manager) error {
		if err := op(m, id); err != nil {
			return err
		}
		info, _ = m.Info(id)
		return nil
	})
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, info)
}

func (s *Server) handleTurnOn(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, (*manager.Manager).TurnOn)
}

func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	s.lifecycle(w, r, func(m *manager.Manager, id int) error {
		return m.TurnOff(id, !force)
	})
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, (*manager.Manager).Reboot)
}

func (s *Server) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, (*manager.Manager).KeepAlive)
}

func (s *Server) handleSetLabel(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	var req model.SetLabelRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON: "+err.Error()))
		return
	}
	s.lifecycle(w, r, func(m *manager.Manager, id int) error {
		return m.SetLabel(id, req.Label)
	})
}
