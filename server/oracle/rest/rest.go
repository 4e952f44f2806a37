// Package rest is an oracle which calls a separate agent service over HTTP with JSON payloads.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aigentx/gateway/server/logs"
	"github.com/aigentx/gateway/server/oracle"
	"github.com/google/uuid"
)

const (
	defaultTimeout = 60 * time.Second
	// Replies larger than this are rejected.
	maxReplySize = 1 << 20
)

type configType struct {
	// ServerUrl is the URL of the agent service.
	ServerUrl string `json:"server_url"`
	// Path of the interact endpoint relative to ServerUrl.
	InteractPath string `json:"interact_path"`
	// Path of the create endpoint relative to ServerUrl.
	CreatePath string `json:"create_path"`
	// Request timeout in seconds.
	Timeout int `json:"timeout"`
	// Optional value of the Authorization header.
	AuthHeader string `json:"auth_header"`
}

// Request to the agent service.
type request struct {
	Topic   string `json:"nft_hash"`
	Prompt  string `json:"prompt"`
	Creator string `json:"creator,omitempty"`
}

// Error response from the agent service.
type errorResponse struct {
	Err    string `json:"error"`
	Detail string `json:"detail"`
}

type handler struct {
	interactUrl string
	createUrl   string
	authHeader  string
	client      *http.Client
}

// Init initializes the handler.
func (h *handler) Init(jsonconf json.RawMessage) error {
	if h.client != nil {
		return errors.New("oracle_rest: already initialized")
	}

	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("oracle_rest: failed to parse config: " + err.Error() + "(" + string(jsonconf) + ")")
	}

	serverUrl, err := url.Parse(config.ServerUrl)
	if err != nil || !serverUrl.IsAbs() {
		return errors.New("oracle_rest: invalid server_url")
	}

	if config.InteractPath == "" {
		config.InteractPath = "interact"
	}
	if config.CreatePath == "" {
		config.CreatePath = "create"
	}
	timeout := defaultTimeout
	if config.Timeout > 0 {
		timeout = time.Duration(config.Timeout) * time.Second
	}

	h.interactUrl = serverUrl.JoinPath(config.InteractPath).String()
	h.createUrl = serverUrl.JoinPath(config.CreatePath).String()
	h.authHeader = config.AuthHeader
	h.client = &http.Client{Timeout: timeout}

	return nil
}

// Ask posts the prompt to the interact endpoint.
func (h *handler) Ask(ctx context.Context, topic, prompt string) (json.RawMessage, error) {
	return h.call(ctx, h.interactUrl, &request{Topic: topic, Prompt: prompt})
}

// Create posts the agent description to the create endpoint.
func (h *handler) Create(ctx context.Context, topic, creator, prompt string) (json.RawMessage, error) {
	return h.call(ctx, h.createUrl, &request{Topic: topic, Prompt: prompt, Creator: creator})
}

// Execute HTTP POST to the agent service. A successful reply must be a JSON object.
func (h *handler) call(ctx context.Context, endpoint string, req *request) (json.RawMessage, error) {
	if h.client == nil {
		return nil, errors.New("oracle_rest: not initialized")
	}

	content, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	reqId := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", reqId)
	if h.authHeader != "" {
		httpReq.Header.Set("Authorization", h.authHeader)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logs.Warn.Println("oracle_rest: request failed", reqId, err)
		return nil, &oracle.Error{Message: "agent unavailable"}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxReplySize {
		return nil, &oracle.Error{Code: resp.StatusCode, Message: "agent reply too large"}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logs.Warn.Println("oracle_rest: agent error", reqId, resp.StatusCode, truncate(body, 256))
		return nil, &oracle.Error{Code: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, &oracle.Error{Code: resp.StatusCode, Message: "malformed agent reply"}
	}

	return json.RawMessage(trimmed), nil
}

// Extract the error message from the agent's reply.
func errorMessage(status int, body []byte) string {
	var er errorResponse
	if json.Unmarshal(body, &er) == nil {
		if er.Err != "" {
			return er.Err
		}
		if er.Detail != "" {
			return er.Detail
		}
	}
	if text := http.StatusText(status); text != "" {
		return "agent error: " + strings.ToLower(text)
	}
	return "agent error"
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "<...>"
	}
	return string(b)
}

func init() {
	oracle.Register("rest", &handler{})
}
