package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// CreateComputerRequest is the body of POST /api/v1/computers.
type CreateComputerRequest struct {
	ID    int    `json:"id,omitempty"`
	Label string `json:"label,omitempty"`
	On    bool   `json:"on,omitempty"`
}

// QueueEventRequest is the body of POST /api/v1/computers/{id}/events.
type QueueEventRequest struct {
	Name string `json:"name"`
	Args []any  `json:"args,omitempty"`
}

// SetLabelRequest is the body of PUT /api/v1/computers/{id}/label.
type SetLabelRequest struct {
	Label string `json:"label"`
}

// RedstoneInputRequest is the body of PUT /api/v1/computers/{id}/redstone.
type RedstoneInputRequest struct {
	Side  Side `json:"side"`
	Level int  `json:"level"`
}

// AttachPeripheralRequest is the body of PUT /api/v1/computers/{id}/peripherals/{side}.
type AttachPeripheralRequest struct {
	Type string `json:"type"`
}
