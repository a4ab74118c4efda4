package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/outreach-mailer/internal/email"
)

// GraphProviderConfig holds the credentials and mailbox used for sendMail.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

const (
	maxRetries     = 3
	baseRetryDelay = 1 * time.Second
)

// GraphProvider sends lead emails from a Microsoft 365 mailbox with the
// OAuth2 client-credentials flow.
type GraphProvider struct {
	sender     string
	graphURL   string
	httpClient *http.Client
	token      *tokenCache
	sleep      func(context.Context, time.Duration) error
	newReceipt func() string
}

// New creates a GraphProvider for the configured tenant and sender mailbox.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	graphURL := fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail", url.PathEscape(cfg.Sender))
	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides points the provider at test servers.
func newWithOverrides(cfg GraphProviderConfig, graphURL, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		sender:     cfg.Sender,
		graphURL:   graphURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		sleep:      sleepWithContext,
		newReceipt: func() string { return "graph-" + uuid.NewString() },
	}
}

// Send posts the message to sendMail and returns the receipt id stamped into
// its X-Outreach-Receipt header. 5xx and 429 responses are retried with
// backoff (429 honours Retry-After); a 401 triggers one token refresh.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Email) (string, error) {
	receipt := g.newReceipt()
	payload, err := json.Marshal(buildSendMailRequest(msg, receipt))
	if err != nil {
		return "", g.fail(fmt.Errorf("marshal request: %w", err))
	}

	var lastErr error
	refreshed := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying Graph API request", "attempt", attempt, "max_retries", maxRetries)
		}

		err := g.post(ctx, payload)
		if err == nil {
			return receipt, nil
		}
		lastErr = err

		var se *sendError
		if !errors.As(err, &se) {
			return "", g.fail(err)
		}

		var delay time.Duration
		switch {
		case se.permanent:
			return "", g.fail(se)
		case se.statusCode == http.StatusUnauthorized && !refreshed:
			slog.Info("refreshing Graph API token after 401")
			if _, err := g.token.Invalidate(ctx); err != nil {
				return "", g.fail(fmt.Errorf("token refresh: %w", err))
			}
			refreshed = true
			continue
		case se.statusCode == http.StatusTooManyRequests:
			delay = retryAfterDelay(se.retryAfter, attempt+1)
			slog.Info("rate limited by Graph API", "retry_after", delay)
		case se.transient:
			delay = backoffDelay(attempt + 1)
			slog.Info("transient Graph API error, retrying", "status", se.statusCode, "delay", delay)
		default:
			return "", g.fail(se)
		}

		if err := g.sleep(ctx, delay); err != nil {
			return "", g.fail(err)
		}
	}

	return "", g.fail(fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr))
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "graph"
}

func (g *GraphProvider) fail(err error) error {
	return &email.TransportError{Op: "send", Provider: g.Name(), Err: err}
}

// post performs one sendMail request.
func (g *GraphProvider) post(ctx context.Context, payload []byte) error {
	token, err := g.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &sendError{message: err.Error(), transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	message := string(body)
	var ge graphErrorResponse
	if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
		message = ge.Error.Message
	}
	return classifyError(resp.StatusCode, message, resp.Header.Get("Retry-After"))
}

// sendError is a non-2xx sendMail response classified for retry.
type sendError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

func classifyError(statusCode int, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}
	return err
}

// retryAfterDelay honours a Retry-After seconds value, else falls back to backoff.
func retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return backoffDelay(attempt)
}

// backoffDelay is 1s, 2s, 4s for attempts 1, 2, 3.
func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
