package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pitalert/internal/domain"
)

// SSETransport is the push channel over a server-sent-events stream.
// Params: HTTP client and stream endpoint URL.
// Returns: PushTransport implementation.
type SSETransport struct {
	client *http.Client
	url    string
}

// NewSSETransport creates SSE push transport.
// Params: HTTP client (nil uses http.DefaultClient) and stream URL.
// Returns: initialized transport.
func NewSSETransport(client *http.Client, url string) *SSETransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &SSETransport{client: client, url: url}
}

// Run connects to the stream and delivers notification events until the
// stream breaks or ctx ends.
// Params: context, connect callback, and delivery callback.
// Returns: break cause; nil only on context cancellation.
func (t *SSETransport) Run(ctx context.Context, onConnect func(), deliver func(domain.NotificationEvent)) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	request.Header.Set("Accept", "text/event-stream")

	response, err := t.client.Do(request)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("stream status %d", response.StatusCode)
	}
	onConnect()

	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	eventName := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if eventName != "notification" {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var event domain.NotificationEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}
			deliver(event)
		case line == "":
			eventName = ""
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stream read: %w", err)
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("stream closed by server")
}

// HTTPPoller fetches recent notifications from the latest endpoint.
// Params: HTTP client and endpoint URL with optional limit.
// Returns: Poller implementation for the fallback path.
type HTTPPoller struct {
	client *http.Client
	url    string
}

// NewHTTPPoller creates fallback poller.
// Params: HTTP client (nil uses http.DefaultClient) and latest endpoint URL.
// Returns: initialized poller.
func NewHTTPPoller(client *http.Client, url string) *HTTPPoller {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPoller{client: client, url: url}
}

// Poll fetches the most recent notification events.
// Params: context.
// Returns: events newest first or transport error.
func (p *HTTPPoller) Poll(ctx context.Context) ([]domain.NotificationEvent, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}
	response, err := p.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("poll latest: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll status %d", response.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("poll read: %w", err)
	}
	var events []domain.NotificationEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("poll decode: %w", err)
	}
	return events, nil
}
