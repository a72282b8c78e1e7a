package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/digikhet/negotiation/internal/negotiation"
)

func TestEmitBeforeConnectIsDropped(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://localhost:0"})
	err := client.Emit(NewChanged(1))
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestFailedConnectIsNotRetried(t *testing.T) {
	// Nothing listens on this address; the connect fails and stays failed.
	client := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1"})
	client.Connect()
	client.Connect()
	if client.Connected() {
		t.Fatal("expected client to remain disconnected")
	}
	if err := client.Emit(NewChanged(1)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected publish after failed connect to be dropped, got %v", err)
	}
}

func TestClientReceivesOwnEcho(t *testing.T) {
	server := newTestServer(t, ServerConfig{})
	client := NewClient(ClientConfig{BaseURL: server.URL})
	t.Cleanup(client.Close)

	received := make(chan Message, 4)
	client.On(KindUpsert, func(message Message) { received <- message })

	client.Connect()
	if !client.Connected() {
		t.Fatal("expected connection to succeed")
	}
	time.Sleep(100 * time.Millisecond)

	record := negotiation.Record{ID: "neg_echo", Status: negotiation.StatusPending}
	if err := client.Emit(NewUpsert(record)); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	select {
	case message := <-received:
		if message.Item == nil || message.Item.ID != "neg_echo" {
			t.Fatalf("unexpected echo: %+v", message)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("the relay must reflect the publish back to its sender")
	}
}

func TestClientDispatchesByKind(t *testing.T) {
	server := newTestServer(t, ServerConfig{})
	client := NewClient(ClientConfig{BaseURL: server.URL})
	t.Cleanup(client.Close)

	changed := make(chan Message, 4)
	upserts := make(chan Message, 4)
	client.On(KindChanged, func(message Message) { changed <- message })
	client.On(KindUpsert, func(message Message) { upserts <- message })

	client.Connect()
	time.Sleep(100 * time.Millisecond)

	if err := client.Emit(NewChanged(9)); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	select {
	case message := <-changed:
		if message.TS != 9 {
			t.Fatalf("unexpected changed message: %+v", message)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected changed event")
	}

	select {
	case message := <-upserts:
		t.Fatalf("upsert handler must not see changed events: %+v", message)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOffRemovesExactlyThatHandler(t *testing.T) {
	server := newTestServer(t, ServerConfig{})
	client := NewClient(ClientConfig{BaseURL: server.URL})
	t.Cleanup(client.Close)

	kept := make(chan Message, 4)
	removedCalls := make(chan Message, 4)
	off := client.On(KindChanged, func(message Message) { removedCalls <- message })
	client.On(KindChanged, func(message Message) { kept <- message })
	off()
	off() // idempotent

	client.Connect()
	time.Sleep(100 * time.Millisecond)

	if err := client.Emit(NewChanged(3)); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	select {
	case <-kept:
	case <-time.After(5 * time.Second):
		t.Fatal("remaining handler must keep receiving")
	}
	select {
	case <-removedCalls:
		t.Fatal("removed handler still invoked")
	case <-time.After(200 * time.Millisecond):
	}
}
