package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bhasha/internal/config"
)

const userAgent = "Bhasha-Go/0.1.0"

// Event names a workflow milestone.
type Event string

const (
	EventPipelineCompleted Event = "pipeline_completed"
	EventPipelineFailed    Event = "pipeline_failed"
	EventFinetuneCompleted Event = "finetune_completed"
	EventFinetuneFailed    Event = "finetune_failed"
	EventTest              Event = "test"
)

// Payload carries the event's details.
type Payload map[string]string

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// NewNop returns a service that drops every event.
func NewNop() Service {
	return noopService{}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func format(event Event, p Payload) (message, bool) {
	get := func(key string) string { return strings.TrimSpace(p[key]) }
	switch event {
	case EventPipelineCompleted:
		body := fmt.Sprintf("✅ Pipeline %s imported %s items", get("pipelineId"), orDefault(get("contentCount"), "0"))
		if ds := get("datasetId"); ds != "" {
			body += "\nDataset: " + ds
		}
		if job := get("jobId"); job != "" {
			body += "\nFine-tune job: " + job
		}
		return message{title: "Bhasha - Import Complete", body: body, tags: []string{"bhasha", "pipeline", "completed"}}, true
	case EventPipelineFailed:
		return message{
			title:    "Bhasha - Import Failed",
			body:     fmt.Sprintf("❌ Pipeline %s failed: %s", get("pipelineId"), orDefault(get("error"), "unknown")),
			tags:     []string{"bhasha", "pipeline", "error"},
			priority: "high",
		}, true
	case EventFinetuneCompleted:
		return message{
			title:    "Bhasha - Fine-tune Complete",
			body:     fmt.Sprintf("🧠 Job %s finished: %s", get("jobId"), orDefault(get("modelId"), "no model id reported")),
			tags:     []string{"bhasha", "finetune", "completed"},
			priority: "high",
		}, true
	case EventFinetuneFailed:
		return message{
			title:    "Bhasha - Fine-tune Failed",
			body:     fmt.Sprintf("❌ Job %s failed: %s", get("jobId"), orDefault(get("error"), "unknown")),
			tags:     []string{"bhasha", "finetune", "error"},
			priority: "high",
		}, true
	case EventTest:
		return message{title: "Bhasha - Test", body: "🧪 Notification system test", tags: []string{"bhasha", "test"}, priority: "low"}, true
	}
	return message{}, false
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
