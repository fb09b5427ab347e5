package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/monitor"
)

// ErrUnauthorized is returned when the watch server rejects the client's
// credentials.
var ErrUnauthorized = errors.New("unauthorized")

// ControlResponse is the body returned by the watch server's control
// endpoints.
type ControlResponse struct {
	Status cycle.Status `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// StreamClient follows a remote watch server. It handles authentication,
// subscription with automatic reconnection and catch-up on missed events,
// and control commands.
type StreamClient struct {
	// baseURL is the base URL of the watch server (e.g., "http://localhost:8375")
	baseURL string

	httpClient *http.Client

	authToken string

	// lastSeq is the sequence number of the last event received
	lastSeq uint64

	// mu protects lastSeq
	mu sync.RWMutex

	reconnectInterval time.Duration

	// maxReconnectAttempts is the maximum number of reconnection attempts (0 = unlimited)
	maxReconnectAttempts int
}

// ClientOption configures a StreamClient.
type ClientOption func(*StreamClient)

// WithAuthToken sets the authentication token for the client.
func WithAuthToken(token string) ClientOption {
	return func(c *StreamClient) {
		c.authToken = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *StreamClient) {
		c.httpClient = client
	}
}

// WithReconnectInterval sets the interval between reconnection attempts.
func WithReconnectInterval(interval time.Duration) ClientOption {
	return func(c *StreamClient) {
		c.reconnectInterval = interval
	}
}

// WithMaxReconnectAttempts sets the maximum number of reconnection attempts.
// Set to 0 for unlimited attempts.
func WithMaxReconnectAttempts(attempts int) ClientOption {
	return func(c *StreamClient) {
		c.maxReconnectAttempts = attempts
	}
}

// NewStreamClient creates a new StreamClient for the given base URL.
func NewStreamClient(baseURL string, opts ...ClientOption) *StreamClient {
	c := &StreamClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0, // No timeout for streaming connections
		},
		reconnectInterval:    5 * time.Second,
		maxReconnectAttempts: 0,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Authenticate exchanges a password for a bearer token and uses it for
// subsequent requests.
func (c *StreamClient) Authenticate(ctx context.Context, password string) error {
	form := url.Values{"password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode token: %w", err)
	}
	c.authToken = body.Token
	return nil
}

// Connect tests the connection to the watch server by fetching the current
// state. Returns an error if the server is not reachable.
func (c *StreamClient) Connect(ctx context.Context) error {
	_, err := c.GetState(ctx)
	return err
}

// Subscribe returns a channel that receives events from the watch server.
// It uses Server-Sent Events and automatically reconnects and catches up
// on missed events if the connection is lost. The channel is closed when
// ctx is cancelled or max reconnect attempts are exceeded. If fromSeq is 0,
// all retained events are returned.
func (c *StreamClient) Subscribe(ctx context.Context, fromSeq uint64) (<-chan *Event, <-chan error) {
	eventCh := make(chan *Event, 100)
	errCh := make(chan error, 1)

	c.mu.Lock()
	if fromSeq > 0 {
		c.lastSeq = fromSeq - 1
	} else {
		c.lastSeq = 0
	}
	c.mu.Unlock()

	go c.subscriptionLoop(ctx, eventCh, errCh)

	return eventCh, errCh
}

// subscriptionLoop handles the main subscription loop with reconnection logic.
func (c *StreamClient) subscriptionLoop(ctx context.Context, eventCh chan<- *Event, errCh chan<- error) {
	defer close(eventCh)
	defer close(errCh)

	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		fromSeq := c.lastSeq + 1
		c.mu.RUnlock()

		err := c.streamEvents(ctx, fromSeq, eventCh)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// The server closed the stream; reconnect and catch up.
			err = io.EOF
		} else {
			attempts++
		}

		if c.maxReconnectAttempts > 0 && attempts >= c.maxReconnectAttempts {
			errCh <- fmt.Errorf("max reconnection attempts (%d) exceeded: %w", c.maxReconnectAttempts, err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectInterval):
		}
	}
}

// streamEvents connects to the SSE endpoint and streams events.
// Returns nil when the stream ends cleanly, or an error if the connection
// fails.
func (c *StreamClient) streamEvents(ctx context.Context, fromSeq uint64, eventCh chan<- *Event) error {
	endpoint := fmt.Sprintf("%s/stream?from_seq=%d", c.baseURL, fromSeq)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.addAuthHeader(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	return c.parseSSEStream(ctx, resp.Body, eventCh)
}

// parseSSEStream parses Server-Sent Events from the response body.
func (c *StreamClient) parseSSEStream(ctx context.Context, body io.Reader, eventCh chan<- *Event) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLines []string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if len(dataLines) > 0 {
				data := strings.Join(dataLines, "\n")
				dataLines = nil
				event, err := UnmarshalEvent([]byte(data))
				if err != nil {
					continue
				}

				c.mu.Lock()
				if event.Seq > c.lastSeq {
					c.lastSeq = event.Seq
				}
				c.mu.Unlock()

				select {
				case <-ctx.Done():
					return nil
				case eventCh <- event:
				}
			}
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		} else if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
		}
		// id:, event: and retry: fields are carried in the JSON as well.
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading stream: %w", err)
	}

	return nil
}

// GetState fetches the current controller snapshot from the server.
func (c *StreamClient) GetState(ctx context.Context) (*monitor.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/state", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var state monitor.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}

	return &state, nil
}

// Control sends pause, resume or stop to the server and returns the
// resulting status.
func (c *StreamClient) Control(ctx context.Context, action string) (cycle.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/control/"+url.PathEscape(action), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send %s: %w", action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var cr ControlResponse
	_ = json.Unmarshal(body, &cr)
	if resp.StatusCode != http.StatusOK {
		msg := cr.Error
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return cr.Status, fmt.Errorf("server returned status %d: %s", resp.StatusCode, msg)
	}
	return cr.Status, nil
}

// LastSeq returns the sequence number of the last received event.
func (c *StreamClient) LastSeq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeq
}

// BaseURL returns the base URL of the watch server.
func (c *StreamClient) BaseURL() string {
	return c.baseURL
}

// addAuthHeader adds the authorization header if a token is configured.
func (c *StreamClient) addAuthHeader(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}
