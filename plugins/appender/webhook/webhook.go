package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"

	"github.com/mbiondo/logdog/core"
	"github.com/mbiondo/logdog/pkg/tlsconfig"
)

func init() {
	// Auto-register this plugin
	core.RegisterAppender("webhook", NewWebhookAppenderFromConfig)
	core.RegisterAppender("slack", NewSlackAppenderFromConfig)
}

// Config represents webhook appender configuration
type Config struct {
	URL         string            `yaml:"url"`
	Method      string            `yaml:"method,omitempty"`
	ContentType string            `yaml:"content_type,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Timeout     time.Duration     `yaml:"timeout,omitempty"`
	Mode        string            `yaml:"mode,omitempty"` // "raw" posts the payload, "slack" wraps it in a message
	Slack       SlackConfig       `yaml:"slack,omitempty"`
	JWT         JWTConfig         `yaml:"jwt,omitempty"`
	TLS         tlsconfig.Config  `yaml:"tls,omitempty"`
}

// SlackConfig holds the optional message decorations
type SlackConfig struct {
	Username  string `yaml:"username,omitempty"`
	Channel   string `yaml:"channel,omitempty"`
	IconEmoji string `yaml:"icon_emoji,omitempty"`
	IconURL   string `yaml:"icon_url,omitempty"`
}

// JWTConfig signs every request with a short lived HS256 bearer token
type JWTConfig struct {
	Secret  string        `yaml:"secret,omitempty"`
	Issuer  string        `yaml:"issuer,omitempty"`
	Subject string        `yaml:"subject,omitempty"`
	TTL     time.Duration `yaml:"ttl,omitempty"`
}

// NewWebhookAppenderFromConfig creates a webhook appender from configuration map
func NewWebhookAppenderFromConfig(config map[string]any) (any, error) {
	var cfg Config
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}
	return NewWebhookAppender(cfg)
}

// NewSlackAppenderFromConfig creates a webhook appender in slack mode. The
// flat webhook_url/username/channel keys are accepted.
func NewSlackAppenderFromConfig(config map[string]any) (any, error) {
	var flat struct {
		WebhookURL string        `yaml:"webhook_url"`
		Timeout    time.Duration `yaml:"timeout,omitempty"`
		SlackConfig `yaml:",squash"`
	}
	if err := core.GetPluginConfig(config, &flat); err != nil {
		return nil, err
	}
	return NewWebhookAppender(Config{
		URL:     flat.WebhookURL,
		Timeout: flat.Timeout,
		Mode:    "slack",
		Slack:   flat.SlackConfig,
	})
}

// WebhookAppender posts payloads over HTTP
type WebhookAppender struct {
	config Config
	client *fasthttp.Client
	mu     sync.RWMutex
	closed bool
}

// NewWebhookAppender creates a new webhook appender
func NewWebhookAppender(config Config) (*WebhookAppender, error) {
	if config.URL == "" {
		return nil, errors.New("url is required")
	}
	if !strings.HasPrefix(config.URL, "http://") && !strings.HasPrefix(config.URL, "https://") {
		return nil, fmt.Errorf("url must be http or https: %s", config.URL)
	}

	// Set defaults
	if config.Method == "" {
		config.Method = fasthttp.MethodPost
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	switch config.Mode {
	case "", "raw":
		config.Mode = "raw"
		if config.ContentType == "" {
			config.ContentType = "application/octet-stream"
		}
	case "slack":
		config.ContentType = "application/json"
	default:
		return nil, fmt.Errorf("invalid mode '%s', must be 'raw' or 'slack'", config.Mode)
	}
	if config.JWT.TTL <= 0 {
		config.JWT.TTL = 5 * time.Minute
	}

	client := &fasthttp.Client{
		MaxConnsPerHost:     10,
		MaxIdleConnDuration: 10 * time.Second,
		ReadTimeout:         config.Timeout,
		WriteTimeout:        config.Timeout,
	}
	if config.TLS.Enabled {
		tlsConfig, err := config.TLS.NewTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		client.TLSConfig = tlsConfig
	}

	return &WebhookAppender{config: config, client: client}, nil
}

func (w *WebhookAppender) Name() string { return "webhook(" + w.config.Mode + ")" }

// Append sends one request. Non-2xx answers are errors.
func (w *WebhookAppender) Append(ctx context.Context, payload []byte, entry core.Snapshot) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return fmt.Errorf("webhook appender: %w", core.ErrClosed)
	}

	body := payload
	if w.config.Mode == "slack" {
		var err error
		if body, err = json.Marshal(w.slackMessage(payload, entry)); err != nil {
			return fmt.Errorf("failed to marshal Slack message: %w", err)
		}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(w.config.URL)
	req.Header.SetMethod(w.config.Method)
	req.Header.SetContentType(w.config.ContentType)
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}
	if w.config.JWT.Secret != "" {
		token, err := w.sign(entry)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.SetBody(body)

	timeout := w.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := w.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}

	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return fmt.Errorf("webhook returned status %d: %s", status, resp.Body())
	}
	return nil
}

func (w *WebhookAppender) sign(entry core.Snapshot) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iat":   now.Unix(),
		"exp":   now.Add(w.config.JWT.TTL).Unix(),
		"level": entry.Level.String(),
	}
	if w.config.JWT.Issuer != "" {
		claims["iss"] = w.config.JWT.Issuer
	}
	if w.config.JWT.Subject != "" {
		claims["sub"] = w.config.JWT.Subject
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(w.config.JWT.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Close releases idle connections
func (w *WebhookAppender) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		w.closed = true
		w.client.CloseIdleConnections()
	}
	return nil
}
