package handlers

import (
	"context"

	"github.com/goliatone/go-errors"
	trigger "github.com/goliatone/go-trigger"
)

// NotificationHandler adapts an injected NotificationService for the
// channel-style handler types (email, sms, slack, teams). The service owns
// transport details; this handler only shapes the request.
type NotificationHandler struct {
	service trigger.NotificationService
}

// NewNotificationHandler wraps a notification service.
func NewNotificationHandler(service trigger.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

var notificationTypes = map[trigger.HandlerType]bool{
	trigger.HandlerEmail: true,
	trigger.HandlerSMS:   true,
	trigger.HandlerSlack: true,
	trigger.HandlerTeams: true,
}

func (h *NotificationHandler) CanHandle(action *trigger.Action) bool {
	return h.service != nil && notificationTypes[action.HandlerType]
}

func (h *NotificationHandler) Handle(ctx context.Context, event trigger.Event, action *trigger.Action, execCtx map[string]any) (any, error) {
	recipient := h.recipientFor(action)
	if recipient == "" {
		return nil, errors.New("action configuration has no recipient", errors.CategoryValidation).
			WithTextCode(trigger.ErrCodeConfigInvalid).
			WithMetadata(map[string]any{"action_id": action.ID, "handler_type": string(action.HandlerType)})
	}

	data := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"event_data": event.Data,
		"action_id":  action.ID,
	}
	if template, ok := action.Configuration["template"].(string); ok {
		data["template"] = template
	}

	id, err := h.service.SendNotification(ctx, recipient, string(action.HandlerType), data)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "notification delivery failed").
			WithMetadata(map[string]any{"recipient": recipient, "action_id": action.ID})
	}
	return map[string]any{"notification_id": id}, nil
}

func (h *NotificationHandler) recipientFor(action *trigger.Action) string {
	for _, key := range []string{"to", "recipient", "channel"} {
		if s, ok := action.Configuration[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
