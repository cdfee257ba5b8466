package client

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
)

// Client provides HTTP client functionality to communicate with the taskvisor daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

const defaultBaseURL = "http://127.0.0.1:8470/api"

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: defaultBaseURL,
		// stop may wait the grace period and the kill wait
		Timeout: 30 * time.Second,
	}
}

// New creates a new taskvisor API client
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

func (c *Client) ListApps(ctx context.Context) ([]Application, error) {
	var out []Application
	return out, c.do(ctx, http.MethodGet, "/apps", nil, &out)
}

func (c *Client) GetApp(ctx context.Context, id string) (Application, error) {
	var out Application
	return out, c.do(ctx, http.MethodGet, "/apps/"+url.PathEscape(id), nil, &out)
}

// AddApp registers app; the daemon fills generated ids and runtime state.
func (c *Client) AddApp(ctx context.Context, app Application) (Application, error) {
	var out Application
	return out, c.do(ctx, http.MethodPost, "/apps", app, &out)
}

func (c *Client) UpdateApp(ctx context.Context, app Application) (Application, error) {
	var out Application
	return out, c.do(ctx, http.MethodPut, "/apps/"+url.PathEscape(app.ID), app, &out)
}

// RemoveApp stops the application and removes it.
func (c *Client) RemoveApp(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/apps/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Start(ctx context.Context, id string) (Application, error) {
	return c.action(ctx, id, "start")
}

func (c *Client) Stop(ctx context.Context, id string) (Application, error) {
	return c.action(ctx, id, "stop")
}

func (c *Client) Restart(ctx context.Context, id string) (Application, error) {
	return c.action(ctx, id, "restart")
}

func (c *Client) action(ctx context.Context, id, verb string) (Application, error) {
	c.logger.Debug("Application action", "app", id, "action", verb)
	var out Application
	return out, c.do(ctx, http.MethodPost, "/apps/"+url.PathEscape(id)+"/"+verb, nil, &out)
}

func (c *Client) IsRunning(ctx context.Context, id string) (bool, error) {
	var out runningResponse
	err := c.do(ctx, http.MethodGet, "/apps/"+url.PathEscape(id)+"/running", nil, &out)
	return out.Running, err
}

func (c *Client) StartAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/actions/start-all", nil, nil)
}

func (c *Client) StopAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/actions/stop-all", nil, nil)
}

// Schedules lists every rule with its owning application's name.
func (c *Client) Schedules(ctx context.Context) ([]ScheduledRule, error) {
	var out []ScheduledRule
	return out, c.do(ctx, http.MethodGet, "/schedules", nil, &out)
}

// Pending lists rules due at the daemon's current time, or at at when non-zero.
func (c *Client) Pending(ctx context.Context, at time.Time) ([]ScheduledRule, error) {
	p := "/schedules/pending"
	if !at.IsZero() {
		p += "?at=" + url.QueryEscape(at.Format(time.RFC3339))
	}
	var out []ScheduledRule
	return out, c.do(ctx, http.MethodGet, p, nil, &out)
}

func (c *Client) AppSchedules(ctx context.Context, appID string) ([]ScheduleRule, error) {
	var out []ScheduleRule
	return out, c.do(ctx, http.MethodGet, "/apps/"+url.PathEscape(appID)+"/schedules", nil, &out)
}

func (c *Client) AddSchedule(ctx context.Context, appID string, rule ScheduleRule) (ScheduleRule, error) {
	var out ScheduleRule
	return out, c.do(ctx, http.MethodPost, "/apps/"+url.PathEscape(appID)+"/schedules", rule, &out)
}

func (c *Client) UpdateSchedule(ctx context.Context, appID string, rule ScheduleRule) (ScheduleRule, error) {
	var out ScheduleRule
	p := "/apps/" + url.PathEscape(appID) + "/schedules/" + url.PathEscape(rule.ID)
	return out, c.do(ctx, http.MethodPut, p, rule, &out)
}

func (c *Client) RemoveSchedule(ctx context.Context, appID, ruleID string) error {
	p := "/apps/" + url.PathEscape(appID) + "/schedules/" + url.PathEscape(ruleID)
	return c.do(ctx, http.MethodDelete, p, nil, nil)
}

func (c *Client) SystemInfo(ctx context.Context) (SystemInfo, error) {
	var out SystemInfo
	return out, c.do(ctx, http.MethodGet, "/sysinfo", nil, &out)
}

// do performs the request, encoding in as JSON when non-nil and decoding a
// 2xx body into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", er.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: er.Error}
}
