package observability

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AlertConfig configures the webhook notifier. MinInterval rate-limits
// exhaustion alerts; breaker transitions always go out.
type AlertConfig struct {
	WebhookURL  string
	Channel     string
	Username    string
	MinInterval time.Duration
}

// AlertSink posts operational events to a Slack-compatible webhook.
type AlertSink struct {
	cfg    AlertConfig
	client *http.Client

	mu        sync.Mutex
	lastAlert time.Time
}

type alertMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Attachments []alertAttachment `json:"attachments,omitempty"`
}

type alertAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []alertField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type alertField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewAlertSink creates a webhook notifier.
func NewAlertSink(cfg AlertConfig) (*AlertSink, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("alerts: webhook_url is required")
	}
	if cfg.Username == "" {
		cfg.Username = "modelgate"
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Minute
	}
	return &AlertSink{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// BreakerTransition reports a circuit breaker state change.
func (a *AlertSink) BreakerTransition(ctx context.Context, provider, from, to string) error {
	color := "good"
	title := ":white_check_mark: Circuit Breaker Recovered"
	if to == "open" {
		color = "danger"
		title = ":rotating_light: Circuit Breaker Opened"
	}

	caser := cases.Title(language.English)
	msg := alertMessage{
		Channel:  a.cfg.Channel,
		Username: a.cfg.Username,
		Attachments: []alertAttachment{{
			Color: color,
			Title: title,
			Text: fmt.Sprintf("Provider `%s`: %s to %s",
				provider, caser.String(from), caser.String(to)),
			Fields: []alertField{
				{Title: "Provider", Value: provider, Short: true},
				{Title: "State", Value: to, Short: true},
			},
			Footer:    "modelgate",
			Timestamp: time.Now().Unix(),
		}},
	}
	return a.send(ctx, msg)
}

// FallbacksExhausted reports a request whose whole candidate chain
// failed. Alerts closer together than MinInterval are suppressed.
func (a *AlertSink) FallbacksExhausted(ctx context.Context, requestID, routeName string, attempts int, lastError string) error {
	a.mu.Lock()
	if time.Since(a.lastAlert) < a.cfg.MinInterval {
		a.mu.Unlock()
		return nil
	}
	a.lastAlert = time.Now()
	a.mu.Unlock()

	if len(lastError) > 500 {
		lastError = lastError[:500] + "..."
	}

	msg := alertMessage{
		Channel:  a.cfg.Channel,
		Username: a.cfg.Username,
		Attachments: []alertAttachment{{
			Color: "danger",
			Title: ":x: All Fallbacks Failed",
			Text:  fmt.Sprintf("```%s```", lastError),
			Fields: []alertField{
				{Title: "Request ID", Value: requestID, Short: true},
				{Title: "Route", Value: routeName, Short: true},
				{Title: "Attempts", Value: fmt.Sprintf("%d", attempts), Short: true},
			},
			Footer:    "modelgate",
			Timestamp: time.Now().Unix(),
		}},
	}
	return a.send(ctx, msg)
}

func (a *AlertSink) send(ctx context.Context, msg alertMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("alerts: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("alerts: send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alerts: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
