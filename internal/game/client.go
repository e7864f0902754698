// Package game is the detail-fetching leaf over the remote game server. It
// depends on the cooldown package for error classification but performs no
// scheduling itself.
package game

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/macomeau/Artifacts-sub001/internal/model"
)

// Client talks to the game server's HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient constructs a game client.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.Named("game"),
	}
}

// APIError carries the server's error text verbatim so cooldown parsing
// applies to it.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Character fetches the current snapshot for a character.
func (c *Client) Character(ctx context.Context, name string) (*model.CharacterSnapshot, error) {
	data, err := c.do(ctx, http.MethodGet, "/characters/"+name, nil)
	if err != nil {
		return nil, err
	}
	var snap model.CharacterSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode character %s: %w", name, err)
	}
	return &snap, nil
}

// Action performs one remote action on behalf of a character. The result may
// carry a cooldown the caller must honor before the next action.
func (c *Client) Action(ctx context.Context, name, action string, body any) (*model.ActionResult, error) {
	data, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/my/%s/action/%s", name, action), body)
	if err != nil {
		return nil, err
	}
	var result model.ActionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", action, err)
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode, Message: string(raw)}
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if env.Error != nil {
		c.logger.Debug("Server rejected request",
			zap.String("path", path),
			zap.Int("code", env.Error.Code),
			zap.String("message", env.Error.Message))
		return nil, &APIError{Status: resp.StatusCode, Message: env.Error.Message}
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Status: resp.StatusCode, Message: resp.Status}
	}

	return env.Data, nil
}
