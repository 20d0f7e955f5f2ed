package tasklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	ActorID     string // legacy X-Actor-Id fallback when no token is set
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// AttachmentSet mirrors the API attachment model.
type AttachmentSet struct {
	Files []string `json:"files,omitempty"`
	URLs  []string `json:"urls,omitempty"`
}

// Domain represents one delivery domain inside a task (partial).
type Domain struct {
	Name         string         `json:"name"`
	Status       string         `json:"status"`
	Reason       string         `json:"reason,omitempty"`
	CompleteDate *string        `json:"complete_date,omitempty"`
	Developers   []string       `json:"developers"`
	Output       AttachmentSet  `json:"output"`
	Submission   map[string]any `json:"submission,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	Code          string        `json:"code"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Status        string        `json:"status"`
	AssignedTo    string        `json:"assigned_to,omitempty"`
	TargetDate    string        `json:"target_date"`
	CompletedDate *string       `json:"completed_date,omitempty"`
	Domains       []Domain      `json:"domains"`
	Output        AttachmentSet `json:"output"`
}

// TaskResult wraps mutating responses that report skipped domain names.
type TaskResult struct {
	Task           Task     `json:"task"`
	UnknownDomains []string `json:"unknown_domains,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	TaskCode   string         `json:"task_code,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// StatusTotals is the per-status domain count projection.
type StatusTotals struct {
	Totals      map[string]int `json:"totals"`
	DeveloperID string         `json:"developer_id,omitempty"`
}

// DeveloperSummary is one developer's workload row.
type DeveloperSummary struct {
	DeveloperID string         `json:"developer_id"`
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
}

// PaginatedTasks wraps list responses with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title, description string, domains []string) (Task, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"domains":     domains,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// GetTask fetches one task by code.
func (c *Client) GetTask(ctx context.Context, code string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(code), nil, &resp)
	return resp, err
}

// Tasks returns a page of tasks.
func (c *Client) Tasks(ctx context.Context, status string, limit int, cursor string) (PaginatedTasks, error) {
	endpoint := "v0/tasks"
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdateTask applies a partial update; patch mirrors the PATCH body.
func (c *Client) UpdateTask(ctx context.Context, code string, patch map[string]any) (TaskResult, error) {
	var resp TaskResult
	err := c.do(ctx, http.MethodPatch, "v0/tasks/"+url.PathEscape(code), patch, &resp)
	return resp, err
}

// Submit records a deliverable submission against the named domains.
func (c *Client) Submit(ctx context.Context, code string, domains []string, payload map[string]any, outputURLs []string) (TaskResult, error) {
	body := map[string]any{
		"domains": domains,
		"payload": payload,
	}
	if len(outputURLs) > 0 {
		body["output"] = map[string]any{"add_urls": outputURLs}
	}
	var resp TaskResult
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(code)+"/submit", body, &resp)
	return resp, err
}

// Override moves one domain to in-R&D with a reason.
func (c *Client) Override(ctx context.Context, code, domain, reason string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/domains/%s/override", url.PathEscape(code), url.PathEscape(domain))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"reason": reason}, &resp)
	return resp, err
}

// StatusTotals returns domain counts by status; developer may be empty.
func (c *Client) StatusTotals(ctx context.Context, developer string) (StatusTotals, error) {
	endpoint := "v0/stats/status"
	if developer != "" {
		endpoint += "?developer=" + url.QueryEscape(developer)
	}
	var resp StatusTotals
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DeveloperSummaries returns per-developer workload rows.
func (c *Client) DeveloperSummaries(ctx context.Context) ([]DeveloperSummary, error) {
	var resp []DeveloperSummary
	err := c.do(ctx, http.MethodGet, "v0/stats/developers", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
