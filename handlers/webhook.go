// Package handlers ships the built-in executor implementations that plug
// into the orchestrator's handler table.
package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/goliatone/go-errors"
	trigger "github.com/goliatone/go-trigger"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the request body.
const SignatureHeader = "X-Trigger-Signature"

// WebhookHandler delivers events to an action's configured URL as a JSON
// POST, signing the payload when a secret is configured.
type WebhookHandler struct {
	client *http.Client
	secret string
}

// WebhookOption configures the webhook handler.
type WebhookOption func(*WebhookHandler)

// WithHTTPClient overrides the default client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(h *WebhookHandler) {
		if client != nil {
			h.client = client
		}
	}
}

// WithSigningSecret sets a default secret for actions that do not carry
// their own `secret` configuration key.
func WithSigningSecret(secret string) WebhookOption {
	return func(h *WebhookHandler) {
		h.secret = secret
	}
}

// NewWebhookHandler builds a webhook handler. The client timeout is a floor;
// the orchestrator's per-action timeout still applies around the call.
func NewWebhookHandler(opts ...WebhookOption) *WebhookHandler {
	h := &WebhookHandler{
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *WebhookHandler) CanHandle(action *trigger.Action) bool {
	if action.HandlerType != trigger.HandlerWebhook {
		return false
	}
	_, ok := action.Configuration["url"].(string)
	return ok
}

type webhookPayload struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	ActionID  string         `json:"action_id"`
	Context   map[string]any `json:"context,omitempty"`
}

func (h *WebhookHandler) Handle(ctx context.Context, event trigger.Event, action *trigger.Action, execCtx map[string]any) (any, error) {
	url, _ := action.Configuration["url"].(string)

	body, err := json.Marshal(webhookPayload{
		EventID:   event.ID,
		EventType: event.Type,
		Data:      event.Data,
		ActionID:  action.ID,
		Context:   execCtx,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "encode webhook payload").
			WithMetadata(map[string]any{"action_id": action.ID})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "build webhook request").
			WithMetadata(map[string]any{"url": url})
	}
	req.Header.Set("Content-Type", "application/json")

	if secret := h.secretFor(action); secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}
	if headers, ok := action.Configuration["headers"].(map[string]any); ok {
		for name, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(name, s)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "webhook delivery failed").
			WithMetadata(map[string]any{"url": url})
	}
	defer resp.Body.Close()

	// read a bounded amount so failing endpoints can report why
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, errors.New("webhook endpoint returned error status", errors.CategoryExternal).
			WithTextCode("WEBHOOK_BAD_STATUS").
			WithMetadata(map[string]any{
				"url":         url,
				"status_code": resp.StatusCode,
				"body":        string(snippet),
			})
	}
	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(snippet),
	}, nil
}

func (h *WebhookHandler) secretFor(action *trigger.Action) string {
	if s, ok := action.Configuration["secret"].(string); ok && s != "" {
		return s
	}
	return h.secret
}

// Sign returns the hex HMAC-SHA256 of body under secret. Receivers verify
// deliveries with the same computation.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
