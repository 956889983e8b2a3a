package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/me/computerd/internal/manager"
	"github.com/me/computerd/pkg/model"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Engine    string `json:"engine"`
	Computers int    `json:"computers"`
	Running   int    `json:"running"`
	Crashed   int    `json:"crashed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	resp := healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Engine:    s.engineName,
	}
	for _, info := range s.host.Manager().List() {
		resp.Computers++
		switch info.State {
		case model.ComputerStateRunning:
			resp.Running++
		case model.ComputerStateCrashed:
			resp.Crashed++
		}
	}
	respondOK(w, reqID, resp)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if err := s.call(r, func(*manager.Manager) error { return s.host.Save(r.Context()) }); err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"saved": true})
}
