// Package client is a Go client for the goalcoach HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/goalcoach/internal/domain"
)

// ErrNotFound is returned when the server has no plan for the user.
var ErrNotFound = errors.New("not found")

// Client calls a goalcoach server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL. A nil httpClient uses a
// client with a 60s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// APIError is a failure envelope returned by the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// PersonaInfo is one entry of the persona catalogue.
type PersonaInfo struct {
	Name        string       `json:"name"`
	Style       domain.Style `json:"style"`
	Welcome     string       `json:"welcome"`
	Suggestions []string     `json:"suggestions"`
}

// Personas lists the coaches offered by the server.
func (c *Client) Personas(ctx context.Context) ([]PersonaInfo, error) {
	var out struct {
		Data []PersonaInfo `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/personas", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ChatRequest is one persisted conversational turn.
type ChatRequest struct {
	UserID  string         `json:"user_id"`
	Message string         `json:"message"`
	Goal    string         `json:"goal_name,omitempty"`
	Persona domain.Persona `json:"avatar,omitempty"`
}

// ChatReply is the coach's answer to a turn.
type ChatReply struct {
	Reply        string `json:"reply"`
	GeneratePlan bool   `json:"generatePlan"`
}

// Chat sends one user message.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	var out ChatReply
	err := c.do(ctx, http.MethodPost, "/chat", req, &out)
	return out, err
}

// GeneratePlan asks the server for a plan built from the user's stored
// conversation.
func (c *Client) GeneratePlan(ctx context.Context, userID string, persona domain.Persona) (domain.Plan, error) {
	var out struct {
		Plan domain.Plan `json:"plan"`
	}
	body := map[string]interface{}{"user_id": userID, "avatar": persona}
	if err := c.do(ctx, http.MethodPost, "/api/generate-plan", body, &out); err != nil {
		return domain.Plan{}, err
	}
	return out.Plan, nil
}

// SavePlan stores p as the user's latest plan and returns its record id.
func (c *Client) SavePlan(ctx context.Context, userID string, p domain.Plan, persona domain.Persona) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]interface{}{
		"userId":    userID,
		"plan":      p,
		"avatar":    persona,
		"timestamp": time.Now().UTC(),
	}
	if err := c.do(ctx, http.MethodPost, "/api/save-plan", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// LatestPlan returns the user's latest plan or ErrNotFound.
func (c *Client) LatestPlan(ctx context.Context, userID string) (*domain.PlanRecord, error) {
	var out struct {
		Data domain.PlanRecord `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/plan/"+url.PathEscape(userID), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Plans returns every saved plan of the user, newest first.
func (c *Client) Plans(ctx context.Context, userID string) ([]domain.PlanRecord, error) {
	var out struct {
		Data []domain.PlanRecord `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/plans/"+url.PathEscape(userID), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// PlanHTML returns the rendered HTML of the user's latest plan.
func (c *Client) PlanHTML(ctx context.Context, userID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/plan/"+url.PathEscape(userID)+"/html", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("get plan html: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read plan html: %w", err)
	}
	return string(data), nil
}

// AcceptPlan marks a plan accepted. An empty recordID accepts the latest.
func (c *Client) AcceptPlan(ctx context.Context, userID, recordID string) error {
	var body interface{}
	if recordID != "" {
		body = map[string]string{"record_id": recordID}
	}
	return c.do(ctx, http.MethodPost, "/api/plan/"+url.PathEscape(userID)+"/accept", body, nil)
}

// SetStepCompleted updates a step of the latest plan.
func (c *Client) SetStepCompleted(ctx context.Context, userID, stepID string, completed bool) (*domain.PlanRecord, error) {
	var out struct {
		Data domain.PlanRecord `json:"data"`
	}
	path := "/api/plan/" + url.PathEscape(userID) + "/steps/" + url.PathEscape(stepID)
	if err := c.do(ctx, http.MethodPatch, path, map[string]bool{"completed": completed}, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// ResetConversation deletes the user's stored conversation.
func (c *Client) ResetConversation(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/api/conversation/"+url.PathEscape(userID), nil, nil)
}
