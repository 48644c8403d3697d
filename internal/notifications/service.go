package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"photonix/internal/config"
)

const (
	userAgent             = "photonix-notify"
	defaultRequestTimeout = 10 * time.Second
)

// Event identifies a workflow milestone worth alerting on.
type Event string

const (
	EventStageFailed      Event = "stage_failed"
	EventClassifierFailed Event = "classifier_failed"
	EventWorkflowStarted  Event = "workflow_started"
	EventWorkflowStopped  Event = "workflow_stopped"
	EventTestNotification Event = "test"
)

// Payload carries event-specific values.
type Payload map[string]any

// Service publishes workflow events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &ntfyService{
		endpoint: topic,
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", userAgent).
			SetHeader("Content-Type", "text/plain; charset=utf-8"),
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *resty.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

// format renders an event. Events without a template are suppressed.
func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventStageFailed:
		return message{
			title:    "Photonix - Stage Failed",
			body:     fmt.Sprintf("%s failed for photo %s: %s", text(payload, "stage"), text(payload, "photoID"), text(payload, "error")),
			tags:     []string{"photonix", "stage", "failed"},
			priority: "high",
		}, true
	case EventClassifierFailed:
		failed := number(payload, "failed")
		return message{
			title: "Photonix - Classifier Failures",
			body: fmt.Sprintf("%s: %d of %d photo(s) failed in the last batch",
				text(payload, "kind"), failed, failed+number(payload, "completed")),
			tags: []string{"photonix", "classify", text(payload, "kind")},
		}, true
	case EventTestNotification:
		return message{
			title:    "Photonix - Test",
			body:     "Notification system test",
			tags:     []string{"photonix", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func text(payload Payload, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return "unknown"
	}
	if s := strings.TrimSpace(fmt.Sprint(value)); s != "" {
		return s
	}
	return "unknown"
}

func number(payload Payload, key string) int {
	if value, ok := payload[key].(int); ok {
		return value
	}
	return 0
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req := n.client.R().SetContext(ctx).SetBody(msg.body)
	if msg.title != "" {
		req.SetHeader("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.SetHeader("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.SetHeader("Priority", msg.priority)
	}
	resp, err := req.Post(n.endpoint)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	if resp.StatusCode() >= 300 {
		body := strings.TrimSpace(resp.String())
		if len(body) > 2048 {
			body = body[:2048]
		}
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode(), body)
	}
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
