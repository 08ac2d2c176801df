// Package taskmintsdk is a minimal client for the Taskmint HTTP API.
package taskmintsdk

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

// Client talks to a Taskmint server.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Project is the API project model.
type Project struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	TokenPool      int    `json:"token_pool"`
	TokensSpent    int    `json:"tokens_spent"`
	TokensReserved int    `json:"tokens_reserved"`
	TokensFree     int    `json:"tokens_free"`
}

// Task is the API task model (partial).
type Task struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	Title        string   `json:"title"`
	SkillID      string   `json:"skill_id"`
	RewardTokens int      `json:"reward_tokens"`
	Activity     string   `json:"activity"`
	Submitted    bool     `json:"submitted"`
	Status       string   `json:"status"`
	Assignees    []string `json:"assignees"`
}

// Payout reports what an approval paid.
type Payout struct {
	TaskID         string         `json:"task_id"`
	RewardTokens   int            `json:"reward_tokens"`
	PerMemberShare int            `json:"per_member_share"`
	Remainder      int            `json:"remainder"`
	UpdatedLevels  map[string]int `json:"updated_levels"`
}

// ApproveResult couples the completed task with its payout.
type ApproveResult struct {
	Task   Task   `json:"task"`
	Payout Payout `json:"payout"`
}

// Member is the API member model.
type Member struct {
	ID      string `json:"id"`
	Balance int    `json:"balance"`
	Skills  []struct {
		SkillID string `json:"skill_id"`
		Exp     int    `json:"exp"`
		Level   int    `json:"level"`
	} `json:"skills"`
}

// Event is one log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
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
func (c *Client) CreateTask(ctx context.Context, title, skillID string, rewardTokens int, activity string) (Task, error) {
	body := map[string]any{
		"title":         title,
		"skill_id":      skillID,
		"reward_tokens": rewardTokens,
		"activity":      activity,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// GetProject fetches the project with its token counters.
func (c *Client) GetProject(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/projects/%s", url.PathEscape(c.ProjectID)), nil, &resp)
	return resp, err
}

// ListTasks lists the project's tasks, optionally filtered by activity.
func (c *Client) ListTasks(ctx context.Context, activity string) ([]Task, error) {
	endpoint := c.projectPath("tasks")
	if activity != "" {
		endpoint += "?activity=" + url.QueryEscape(activity)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Claim adds a member to the task's assignees.
func (c *Client) Claim(ctx context.Context, taskID, memberID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "claim"), map[string]any{"member_id": memberID}, &resp)
	return resp, err
}

// Drop removes a member from the task's assignees.
func (c *Client) Drop(ctx context.Context, taskID, memberID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "drop"), map[string]any{"member_id": memberID}, &resp)
	return resp, err
}

// Submit marks the task as awaiting review.
func (c *Client) Submit(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "submit"), nil, &resp)
	return resp, err
}

// Reject returns a submitted task to work.
func (c *Client) Reject(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "reject"), nil, &resp)
	return resp, err
}

// Approve completes a submitted task and pays its assignees.
func (c *Client) Approve(ctx context.Context, taskID string) (ApproveResult, error) {
	var resp ApproveResult
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "approve"), nil, &resp)
	return resp, err
}

// UpdateReward changes a task's reward.
func (c *Client) UpdateReward(ctx context.Context, taskID string, rewardTokens int) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, c.taskPath(taskID, "reward"), map[string]any{"reward_tokens": rewardTokens}, &resp)
	return resp, err
}

// ChangeActivity moves a task between activity values.
func (c *Client) ChangeActivity(ctx context.Context, taskID, activity string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, c.taskPath(taskID, "activity"), map[string]any{"activity": activity}, &resp)
	return resp, err
}

// GetMember fetches a member with skill progression.
func (c *Client) GetMember(ctx context.Context, memberID string) (Member, error) {
	var resp Member
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/members/%s", url.PathEscape(memberID)), nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
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
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) taskPath(taskID, action string) string {
	return fmt.Sprintf("v0/tasks/%s/%s", url.PathEscape(taskID), action)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
