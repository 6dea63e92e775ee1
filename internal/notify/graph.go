package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/oszuidwest/zwfm-levelmon/internal/types"
	"github.com/oszuidwest/zwfm-levelmon/internal/util"
)

const (
	graphAPIURL   = "https://graph.microsoft.com/v1.0"
	graphLoginURL = "https://login.microsoftonline.com"
	graphScope    = "https://graph.microsoft.com/.default"

	graphTimeout = 30000 * time.Millisecond
)

// guidPattern matches the standard GUID format.
var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ErrEmailNotConfigured is returned when a test is requested without Graph settings.
var ErrEmailNotConfigured = errors.New("email tenant, client, secret, sender and recipients must be configured")

// GraphConfig holds the Microsoft Graph app registration and mailbox used for email.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	FromAddress  string // Shared mailbox the app sends as
	Recipients   string // Comma-separated
}

// IsConfigured reports whether every field needed for delivery is set.
func (c GraphConfig) IsConfigured() bool {
	return util.IsConfigured(c.TenantID, c.ClientID, c.ClientSecret, c.FromAddress, c.Recipients)
}

// Validate checks the configuration, including the GUID format of the IDs.
func (c GraphConfig) Validate() error {
	if !c.IsConfigured() {
		return ErrEmailNotConfigured
	}
	if !guidPattern.MatchString(c.TenantID) {
		return fmt.Errorf("tenant ID must be a valid GUID (e.g., 12345678-1234-1234-1234-123456789abc)")
	}
	if !guidPattern.MatchString(c.ClientID) {
		return fmt.Errorf("client ID must be a valid GUID (e.g., 12345678-1234-1234-1234-123456789abc)")
	}
	if len(ParseRecipients(c.Recipients)) == 0 {
		return fmt.Errorf("no valid recipients")
	}
	return nil
}

// ParseRecipients splits a comma-separated recipients string into a slice.
func ParseRecipients(recipients string) []string {
	var result []string
	for r := range strings.SplitSeq(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			result = append(result, r)
		}
	}
	return result
}

// graphEndpoints locates the token and mail APIs.
type graphEndpoints struct {
	login string
	api   string
}

func (e graphEndpoints) tokenURL(tenantID string) string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", e.login, url.PathEscape(tenantID))
}

// graphClient sends mail as a shared mailbox with an app-only token.
type graphClient struct {
	fromAddress string
	apiURL      string
	httpClient  *http.Client
	initial     time.Duration
	maxWait     time.Duration
}

func newGraphClient(cfg GraphConfig, ep graphEndpoints, initial, maxWait time.Duration) *graphClient {
	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     ep.tokenURL(cfg.TenantID),
		Scopes:       []string{graphScope},
	}

	// The base client bounds token requests as well as API calls.
	base := &http.Client{Timeout: graphTimeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	return &graphClient{
		fromAddress: cfg.FromAddress,
		apiURL:      ep.api,
		httpClient:  conf.Client(ctx),
		initial:     initial,
		maxWait:     maxWait,
	}
}

type graphMailRequest struct {
	Message graphMessage `json:"message"`
}

type graphMessage struct {
	Subject      string           `json:"subject"`
	Body         graphBody        `json:"body"`
	ToRecipients []graphRecipient `json:"toRecipients"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Address string `json:"address"`
}

// sendMail posts a plain-text message to recipients.
func (c *graphClient) sendMail(recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients specified")
	}

	to := make([]graphRecipient, 0, len(recipients))
	for _, addr := range recipients {
		to = append(to, graphRecipient{EmailAddress: graphEmailAddress{Address: addr}})
	}

	jsonData, err := json.Marshal(graphMailRequest{Message: graphMessage{
		Subject:      subject,
		Body:         graphBody{ContentType: "Text", Content: body},
		ToRecipients: to,
	}})
	if err != nil {
		return util.WrapError("marshal mail request", err)
	}
	return c.doWithRetry(jsonData)
}

// doWithRetry sends the mail request, retrying throttling and server errors.
func (c *graphClient) doWithRetry(jsonData []byte) error {
	apiURL := fmt.Sprintf("%s/users/%s/sendMail", c.apiURL, url.PathEscape(c.fromAddress))
	backoff := util.NewBackoff(c.initial, c.maxWait)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff.Next())
		}

		req, err := http.NewRequest(http.MethodPost, apiURL, bytes.NewReader(jsonData))
		if err != nil {
			return util.WrapError("create request", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = util.WrapError("send request", err)
			continue
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusAccepted, http.StatusOK, http.StatusNoContent:
			return nil
		case http.StatusTooManyRequests:
			// Retry-After in integer seconds, capped at maxWait.
			if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
				time.Sleep(min(time.Duration(seconds)*time.Second, c.maxWait))
			}
			lastErr = fmt.Errorf("graph API rate limited (429): %s", respBody)
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			lastErr = fmt.Errorf("graph API returned %d: %s", resp.StatusCode, respBody)
		default:
			return fmt.Errorf("graph API error %d: %s", resp.StatusCode, respBody)
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// validateAuth acquires a token and checks that the sending mailbox exists.
func (c *graphClient) validateAuth() error {
	apiURL := fmt.Sprintf("%s/users/%s", c.apiURL, url.PathEscape(c.fromAddress))
	req, err := http.NewRequest(http.MethodGet, apiURL, http.NoBody)
	if err != nil {
		return util.WrapError("create validation request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return fmt.Errorf("authentication failed: %w", err)
		}
		return util.WrapError("validation request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "graph response body")()

	// 403 means the token is valid but lacks User.Read, which Mail.Send alone does not need.
	switch resp.StatusCode {
	case http.StatusOK, http.StatusForbidden:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("mailbox %s not found", c.fromAddress)
	case http.StatusUnauthorized:
		return fmt.Errorf("authentication failed: invalid credentials")
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
		return fmt.Errorf("validation failed with status %d: %s", resp.StatusCode, body)
	}
}

// GraphMailNotifier emails failure lifecycle events through Microsoft Graph.
// It implements monitor.Observer.
type GraphMailNotifier struct {
	cfgFn     func() GraphConfig
	endpoints graphEndpoints
	initial   time.Duration
	maxWait   time.Duration

	wg sync.WaitGroup
}

// NewGraphMailNotifier creates a notifier that reads its settings from cfgFn for every event.
func NewGraphMailNotifier(cfgFn func() GraphConfig) *GraphMailNotifier {
	return &GraphMailNotifier{
		cfgFn:     cfgFn,
		endpoints: graphEndpoints{login: graphLoginURL, api: graphAPIURL},
		initial:   initialRetryWait,
		maxWait:   maxRetryWait,
	}
}

func (n *GraphMailNotifier) client(cfg GraphConfig) *graphClient {
	return newGraphClient(cfg, n.endpoints, n.initial, n.maxWait)
}

// OnLifecycle implements monitor.Observer. Only failure events are mailed.
func (n *GraphMailNotifier) OnLifecycle(ev types.LifecycleEvent) {
	if ev.Type != types.MonitorFailed && ev.Type != types.DeviceUnavailable {
		return
	}
	cfg := n.cfgFn()
	if !cfg.IsConfigured() {
		return
	}

	subject, body := failureMail(ev)
	n.wg.Go(func() {
		util.LogNotifyResult(func() error {
			return n.client(cfg).sendMail(ParseRecipients(cfg.Recipients), subject, body)
		}, "email", "event", ev.Type, "source", ev.Source)
	})
}

// Wait blocks until all pending deliveries have finished.
func (n *GraphMailNotifier) Wait() {
	n.wg.Wait()
}

// SendTest validates the credentials and sends a test message synchronously.
func (n *GraphMailNotifier) SendTest() error {
	cfg := n.cfgFn()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client := n.client(cfg)
	if err := client.validateAuth(); err != nil {
		return err
	}

	body := fmt.Sprintf("Test email from %s.\n\nTime: %s\n\nMicrosoft Graph configuration is working correctly.",
		AppName, util.FormatHumanTime(timestampUTC()))
	if err := client.sendMail(ParseRecipients(cfg.Recipients), "[TEST] "+AppName, body); err != nil {
		return util.WrapError("send email", err)
	}
	return nil
}

// failureMail renders the subject and body for a failure event.
func failureMail(ev types.LifecycleEvent) (subject, body string) {
	subject = fmt.Sprintf("[ALERT] %s monitoring failed - %s", ev.Source, AppName)
	if ev.Type == types.DeviceUnavailable {
		subject = fmt.Sprintf("[ALERT] %s device unavailable - %s", ev.Source, AppName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Audio monitoring reported %s at %s.\n\n", ev.Type, util.FormatHumanTime(ev.Time.Format(time.RFC3339)))
	fmt.Fprintf(&b, "Source: %s\n", ev.Source)
	if ev.DeviceID != "" {
		fmt.Fprintf(&b, "Device: %s\n", ev.DeviceID)
	}
	if ev.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", ev.SessionID)
	}
	if msg := ev.ErrorMessage(); msg != "" {
		fmt.Fprintf(&b, "Error: %s\n", msg)
	}
	b.WriteString("\nThe source stays stopped until monitoring is started again.")
	return subject, b.String()
}
