package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "computerd API",
		Version:     "v1",
		Description: "Scheduler for sandboxed, event-driven scripted computers",
		Endpoints: []endpointInfo{
			{"/api/v1/computers", []string{"GET", "POST"}, "List computers or create one"},
			{"/api/v1/computers/{id}", []string{"GET", "DELETE"}, "Single computer view; DELETE force-stops and removes it"},
			{"/api/v1/computers/{id}/on", []string{"POST"}, "Turn a computer on"},
			{"/api/v1/computers/{id}/off", []string{"POST"}, "Turn a computer off; returns while it is STOPPING. ?force=true kills it at once"},
			{"/api/v1/computers/{id}/reboot", []string{"POST"}, "Graceful off, then on"},
			{"/api/v1/computers/{id}/keepalive", []string{"POST"}, "Reset the keep-alive counter"},
			{"/api/v1/computers/{id}/events", []string{"POST"}, "Queue an event"},
			{"/api/v1/computers/{id}/label", []string{"PUT"}, "Set the computer label"},
			{"/api/v1/computers/{id}/redstone", []string{"PUT"}, "Set a redstone input level"},
			{"/api/v1/computers/{id}/peripherals/{side}", []string{"PUT", "DELETE"}, "Attach or detach a peripheral"},
			{"/api/v1/save", []string{"POST"}, "Persist every computer now"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
			{"/metrics", []string{"GET"}, "Prometheus metrics"},
		},
	})
}
