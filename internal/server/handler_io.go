package server

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/me/computerd/internal/manager"
	"github.com/me/computerd/pkg/model"
)

func sideParam(w http.ResponseWriter, r *http.Request, raw string) (model.Side, bool) {
	side, ok := model.ParseSide(raw)
	if !ok {
		names := make([]string, len(model.Sides))
		for i, s := range model.Sides {
			names[i] = string(s)
		}
		respondError(w, RequestIDFromContext(r.Context()), http.StatusBadRequest,
			model.NewValidationError("invalid side", model.FieldError{
				Field:   "side",
				Message: fmt.Sprintf("%q is not one of %s", raw, strings.Join(names, ", ")),
			}))
	}
	return side, ok
}

// handleQueueEvent queues an event without waiting for the host tick.
func (s *Server) handleQueueEvent(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, ok := computerID(w, r)
	if !ok {
		return
	}
	var req model.QueueEventRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON: "+err.Error()))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid event", model.FieldError{Field: "name", Message: "required"}))
		return
	}

	if err := s.host.Manager().DispatchEvent(id, model.NewEvent(req.Name, req.Args...)); err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondAccepted(w, reqID, map[string]any{"id": id, "event": req.Name})
}

func (s *Server) handleSetRedstone(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	var req model.RedstoneInputRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON: "+err.Error()))
		return
	}
	side, ok := sideParam(w, r, string(req.Side))
	if !ok {
		return
	}
	if req.Level < 0 || req.Level > 15 {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid level", model.FieldError{Field: "level", Message: "must be between 0 and 15"}))
		return
	}
	s.lifecycle(w, r, func(m *manager.Manager, id int) error {
		return m.SetRedstoneInput(id, side, req.Level)
	})
}

func (s *Server) handleAttachPeripheral(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	side, ok := sideParam(w, r, chi.URLParam(r, "side"))
	if !ok {
		return
	}
	var req model.AttachPeripheralRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON: "+err.Error()))
		return
	}
	factory, found := s.peripherals[req.Type]
	if !found {
		kinds := make([]string, 0, len(s.peripherals))
		for k := range s.peripherals {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("unknown peripheral type", model.FieldError{
				Field:   "type",
				Message: fmt.Sprintf("%q is not one of %s", req.Type, strings.Join(kinds, ", ")),
			}))
		return
	}
	s.lifecycle(w, r, func(m *manager.Manager, id int) error {
		return m.AttachPeripheral(id, side, factory())
	})
}

func (s *Server) handleDetachPeripheral(w http.ResponseWriter, r *http.Request) {
	side, ok := sideParam(w, r, chi.URLParam(r, "side"))
	if !ok {
		return
	}
	s.lifecycle(w, r, func(m *manager.Manager, id int) error {
		return m.DetachPeripheral(id, side)
	})
}
