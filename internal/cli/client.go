package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/me/computerd/pkg/model"
)

// Client is a typed client for the computerd REST API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// envelope mirrors model.Response with the payload left undecoded.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *model.APIError `json:"error"`
}

// call sends body as JSON (when non-nil) and decodes the response data into
// out (when non-nil). An error envelope is returned as its *model.APIError.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.logger.Debug("api call", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: unexpected response (status %d): %w", method, path, resp.StatusCode, err)
	}
	if env.Error != nil {
		return env.Error
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func computerPath(id string, parts ...string) string {
	p := "/api/v1/computers/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// ListComputers returns every computer.
func (c *Client) ListComputers(ctx context.Context) ([]model.ComputerInfo, error) {
	var out []model.ComputerInfo
	err := c.call(ctx, http.MethodGet, "/api/v1/computers/", nil, &out)
	return out, err
}

// Computer returns one computer.
func (c *Client) Computer(ctx context.Context, id string) (model.ComputerInfo, error) {
	var info model.ComputerInfo
	err := c.call(ctx, http.MethodGet, computerPath(id), nil, &info)
	return info, err
}

// CreateComputer creates a computer.
func (c *Client) CreateComputer(ctx context.Context, req model.CreateComputerRequest) (model.ComputerInfo, error) {
	var info model.ComputerInfo
	err := c.call(ctx, http.MethodPost, "/api/v1/computers/", req, &info)
	return info, err
}

// RemoveComputer stops and removes a computer.
func (c *Client) RemoveComputer(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, computerPath(id), nil, nil)
}

// Action posts to one of the computer's action endpoints (on, off, reboot,
// keepalive). query, when set, is appended as the URL query.
func (c *Client) Action(ctx context.Context, id, action string, query url.Values) (model.ComputerInfo, error) {
	p := computerPath(id, action)
	if len(query) > 0 {
		p += "?" + query.Encode()
	}
	var info model.ComputerInfo
	err := c.call(ctx, http.MethodPost, p, nil, &info)
	return info, err
}

// QueueEvent queues ev on a computer.
func (c *Client) QueueEvent(ctx context.Context, id string, ev model.Event) error {
	body := model.QueueEventRequest{Name: ev.Name, Args: ev.Args}
	return c.call(ctx, http.MethodPost, computerPath(id, "events"), body, nil)
}

// Update sends body with PUT to a computer sub-resource (label, redstone,
// peripherals/<side>).
func (c *Client) Update(ctx context.Context, id string, body any, parts ...string) (model.ComputerInfo, error) {
	var info model.ComputerInfo
	err := c.call(ctx, http.MethodPut, computerPath(id, parts...), body, &info)
	return info, err
}

// DetachPeripheral removes the peripheral on side.
func (c *Client) DetachPeripheral(ctx context.Context, id, side string) (model.ComputerInfo, error) {
	var info model.ComputerInfo
	err := c.call(ctx, http.MethodDelete, computerPath(id, "peripherals", side), nil, &info)
	return info, err
}
