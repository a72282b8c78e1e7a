package relay

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestServer(t *testing.T, cfg ServerConfig) *httptest.Server {
	t.Helper()
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewRoomDispatcher()
	}
	handler, err := NewHandler(cfg)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func openStream(t *testing.T, server *httptest.Server, room string) *bufio.Reader {
	t.Helper()
	response, err := http.Get(server.URL + "/rooms/" + room + "/stream")
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() { response.Body.Close() }) //nolint:errcheck
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", response.StatusCode)
	}
	return bufio.NewReader(response.Body)
}

func publish(t *testing.T, server *httptest.Server, room, body string) *http.Response {
	t.Helper()
	response, err := http.Post(
		server.URL+"/rooms/"+room+"/events",
		"application/json",
		bytes.NewBufferString(body),
	)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	response.Body.Close() //nolint:errcheck
	return response
}

func readEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()
	eventName, data := "", ""
	deadline := time.After(5 * time.Second)
	lines := make(chan string, 1)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				readErr <- err
				return
			}
			lines <- line
		}
	}()
	for {
		select {
		case <-deadline:
			t.Fatal("expected an event before deadline")
		case err := <-readErr:
			t.Fatalf("stream read failed: %v", err)
		case raw := <-lines:
			line := strings.TrimRight(raw, "\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && eventName != "":
				return eventName, data
			}
		}
	}
}

func TestRelayReflectsPublishToAllMembersIncludingPublisher(t *testing.T) {
	server := newTestServer(t, ServerConfig{})

	first := openStream(t, server, DefaultRoom)
	second := openStream(t, server, DefaultRoom)
	// Give both subscriptions a moment to register before publishing;
	// the relay replays nothing for late joiners.
	time.Sleep(100 * time.Millisecond)

	response := publish(t, server, DefaultRoom, `{"event":"changed","payload":{"ts":7}}`)
	if response.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected publish status: %d", response.StatusCode)
	}

	for _, reader := range []*bufio.Reader{first, second} {
		eventName, data := readEvent(t, reader)
		if eventName != "changed" {
			t.Fatalf("expected changed event, got %s", eventName)
		}
		if data != `{"ts":7}` {
			t.Fatalf("unexpected payload: %s", data)
		}
	}
}

func TestRelayCarriesUpsertPayloadVerbatim(t *testing.T) {
	server := newTestServer(t, ServerConfig{})
	reader := openStream(t, server, DefaultRoom)
	time.Sleep(100 * time.Millisecond)

	publish(t, server, DefaultRoom,
		`{"event":"upsert","payload":{"item":{"id":"neg_1","productId":"P1","productName":"","sellerId":"","sellerName":"","buyerId":"","buyerName":"","quantityKg":500,"offerPricePerKg":20,"status":"pending","createdAt":1,"updates":[]}}}`)

	eventName, data := readEvent(t, reader)
	if eventName != "upsert" {
		t.Fatalf("expected upsert event, got %s", eventName)
	}
	if !strings.Contains(data, `"id":"neg_1"`) || !strings.Contains(data, `"offerPricePerKg":20`) {
		t.Fatalf("payload not carried through: %s", data)
	}
}

func TestRelayRejectsUnknownEvent(t *testing.T) {
	server := newTestServer(t, ServerConfig{})
	response := publish(t, server, DefaultRoom, `{"event":"mystery","payload":{}}`)
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.StatusCode)
	}
}

func TestRelayRejectsMalformedBody(t *testing.T) {
	server := newTestServer(t, ServerConfig{})
	response := publish(t, server, DefaultRoom, `{nope`)
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.StatusCode)
	}
}

func TestRelayThrottledPublishIsDroppedSilently(t *testing.T) {
	server := newTestServer(t, ServerConfig{PublishRate: rate.Limit(1), PublishBurst: 1})
	reader := openStream(t, server, DefaultRoom)
	time.Sleep(100 * time.Millisecond)

	// First publish consumes the burst; the second is throttled but still
	// acknowledged, indistinguishable from a lost message.
	first := publish(t, server, DefaultRoom, `{"event":"changed","payload":{"ts":1}}`)
	second := publish(t, server, DefaultRoom, `{"event":"changed","payload":{"ts":2}}`)
	if first.StatusCode != http.StatusAccepted || second.StatusCode != http.StatusAccepted {
		t.Fatalf("both publishes must be acknowledged: %d, %d", first.StatusCode, second.StatusCode)
	}

	eventName, data := readEvent(t, reader)
	if eventName != "changed" || data != `{"ts":1}` {
		t.Fatalf("expected only the first publish, got %s %s", eventName, data)
	}
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t, ServerConfig{})
	response, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz failed: %v", err)
	}
	response.Body.Close() //nolint:errcheck
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", response.StatusCode)
	}
}
