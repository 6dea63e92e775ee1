// Package notify delivers monitor failure notifications to external endpoints.
package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-levelmon/internal/types"
	"github.com/oszuidwest/zwfm-levelmon/internal/util"
)

// ErrWebhookNotConfigured is returned when a test is requested without a URL.
var ErrWebhookNotConfigured = errors.New("webhook URL not configured")

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event     string `json:"event"`
	App       string `json:"app"`
	Source    string `json:"source,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WebhookNotifier posts failure lifecycle events to a webhook. It implements
// monitor.Observer and delivers asynchronously so samplers never wait on the network.
type WebhookNotifier struct {
	urlFn   func() string
	client  *http.Client
	initial time.Duration
	maxWait time.Duration

	wg sync.WaitGroup
}

// NewWebhookNotifier creates a notifier that reads the target URL from urlFn
// for every event, so configuration changes apply without a restart.
func NewWebhookNotifier(urlFn func() string) *WebhookNotifier {
	return &WebhookNotifier{
		urlFn:   urlFn,
		client:  &http.Client{Timeout: requestTimeout},
		initial: initialRetryWait,
		maxWait: maxRetryWait,
	}
}

// OnLifecycle implements monitor.Observer. Only failure events are delivered.
func (n *WebhookNotifier) OnLifecycle(ev types.LifecycleEvent) {
	if ev.Type != types.MonitorFailed && ev.Type != types.DeviceUnavailable {
		return
	}
	webhookURL := n.urlFn()
	if !util.IsConfigured(webhookURL) {
		return
	}

	payload := &WebhookPayload{
		Event:     string(ev.Type),
		App:       AppName,
		Source:    string(ev.Source),
		SessionID: ev.SessionID,
		DeviceID:  ev.DeviceID,
		Error:     ev.ErrorMessage(),
		Timestamp: ev.Time.UTC().Format(time.RFC3339),
	}

	n.wg.Go(func() {
		util.LogNotifyResult(func() error {
			return n.deliver(webhookURL, payload)
		}, "webhook", "event", ev.Type, "source", ev.Source)
	})
}

// Wait blocks until all pending deliveries have finished.
func (n *WebhookNotifier) Wait() {
	n.wg.Wait()
}

// SendTest sends a test notification synchronously.
func (n *WebhookNotifier) SendTest() error {
	webhookURL := n.urlFn()
	if !util.IsConfigured(webhookURL) {
		return ErrWebhookNotConfigured
	}
	return n.post(webhookURL, &WebhookPayload{
		Event:     "test",
		App:       AppName,
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(),
	})
}

// deliver posts payload, retrying transient failures with exponential backoff.
func (n *WebhookNotifier) deliver(webhookURL string, payload *WebhookPayload) error {
	backoff := util.NewBackoff(n.initial, n.maxWait)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff.Next())
		}

		err := n.post(webhookURL, payload)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// permanentError marks a response that retrying cannot fix.
type permanentError struct {
	status int
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.status)
}

// post delivers a single webhook request.
func (n *WebhookNotifier) post(webhookURL string, payload *WebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	resp, err := n.client.Post(webhookURL, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return &permanentError{status: resp.StatusCode}
	}
}
