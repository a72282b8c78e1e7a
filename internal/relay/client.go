package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotConnected reports an Emit attempted before a connection exists.
// Such a publish is dropped, never queued.
var ErrNotConnected = errors.New("relay: not connected")

// ClientConfig configures a relay client.
type ClientConfig struct {
	// BaseURL is the relay daemon's root URL, e.g. "http://localhost:5000".
	BaseURL string
	// Room defaults to DefaultRoom.
	Room   string
	Logger *zap.Logger
	// StreamClient serves the long-lived subscription; it must not carry a
	// request timeout. PublishClient serves fire-and-forget publishes.
	StreamClient  *http.Client
	PublishClient *http.Client
}

// Client joins one room on the relay daemon and exchanges messages with it.
// Connect is lazy and never retried; Emit is fire-and-forget; handlers
// receive every room publish, the client's own echoes included, and must be
// idempotent.
type Client struct {
	baseURL       string
	room          string
	logger        *zap.Logger
	streamClient  *http.Client
	publishClient *http.Client

	mu        sync.Mutex
	connected bool
	attempted bool
	cancel    context.CancelFunc
	handlers  map[Kind]map[int64]func(Message)
	nextID    int64
}

// NewClient constructs a Client. No connection is made until Connect.
func NewClient(cfg ClientConfig) *Client {
	room := cfg.Room
	if room == "" {
		room = DefaultRoom
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	streamClient := cfg.StreamClient
	if streamClient == nil {
		streamClient = &http.Client{}
	}
	publishClient := cfg.PublishClient
	if publishClient == nil {
		publishClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		room:          room,
		logger:        logger,
		streamClient:  streamClient,
		publishClient: publishClient,
		handlers:      make(map[Kind]map[int64]func(Message)),
	}
}

// Connect joins the room by opening the subscription stream. Idempotent: a
// second call is a no-op whether or not the first succeeded, so a failed
// connect is not retried.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.attempted {
		c.mu.Unlock()
		return
	}
	c.attempted = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamURL(), http.NoBody)
	if err != nil {
		cancel()
		c.logger.Warn("relay connect failed", zap.Error(err))
		return
	}
	request.Header.Set("Accept", "text/event-stream")

	response, err := c.streamClient.Do(request)
	if err != nil {
		cancel()
		c.logger.Warn("relay connect failed", zap.Error(err))
		return
	}
	if response.StatusCode != http.StatusOK {
		response.Body.Close() //nolint:errcheck
		cancel()
		c.logger.Warn("relay connect rejected", zap.Int("status", response.StatusCode))
		return
	}

	c.mu.Lock()
	c.connected = true
	c.cancel = cancel
	c.mu.Unlock()

	go c.readStream(response)
}

// Emit publishes the message to the room. The returned error reports only
// an immediately-known drop (no connection); transport failures after that
// are swallowed, matching the relay's best-effort contract.
func (c *Client) Emit(message Message) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	payload, err := message.EncodePayload()
	if err != nil {
		return err
	}
	body, err := json.Marshal(publishRequest{Event: string(message.Kind), Payload: payload})
	if err != nil {
		return err
	}

	go func() {
		response, err := c.publishClient.Post(c.eventsURL(), "application/json", bytes.NewReader(body))
		if err != nil {
			c.logger.Debug("relay publish dropped", zap.Error(err))
			return
		}
		defer response.Body.Close() //nolint:errcheck
		if response.StatusCode >= http.StatusMultipleChoices {
			c.logger.Debug("relay publish rejected", zap.Int("status", response.StatusCode))
		}
	}()
	return nil
}

// On registers a handler for one message kind and returns its removal
// function. Removal affects exactly this registration.
func (c *Client) On(kind Kind, handler func(Message)) func() {
	c.mu.Lock()
	if _, ok := c.handlers[kind]; !ok {
		c.handlers[kind] = make(map[int64]func(Message))
	}
	c.nextID++
	id := c.nextID
	c.handlers[kind][id] = handler
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		if registered, ok := c.handlers[kind]; ok {
			delete(registered, id)
		}
		c.mu.Unlock()
	}
}

// Connected reports whether the subscription stream is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears the subscription down. The client stays "attempted", so a
// later Connect does not resurrect it.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.connected = false
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) readStream(response *http.Response) {
	defer response.Body.Close() //nolint:errcheck
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	eventName := ""
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventName != "" {
				c.dispatch(eventName, data.String())
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// heartbeat comment
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Debug("relay stream closed", zap.Error(err))
	}
}

func (c *Client) dispatch(eventName, payload string) {
	message, err := DecodeMessage(eventName, []byte(payload))
	if err != nil {
		c.logger.Debug("dropping unknown relay event", zap.String("event", eventName))
		return
	}

	c.mu.Lock()
	registered := c.handlers[message.Kind]
	handlers := make([]func(Message), 0, len(registered))
	for _, handler := range registered {
		handlers = append(handlers, handler)
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(message)
	}
}

func (c *Client) streamURL() string {
	return fmt.Sprintf("%s/rooms/%s/stream", c.baseURL, c.room)
}

func (c *Client) eventsURL() string {
	return fmt.Sprintf("%s/rooms/%s/events", c.baseURL, c.room)
}
