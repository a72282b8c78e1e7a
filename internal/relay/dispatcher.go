package relay

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// RoomDispatcher fans published messages out to every member of a room,
// including the member that published. Membership is ephemeral process
// state; nothing is retained for members that join later.
type RoomDispatcher struct {
	mu         sync.RWMutex
	rooms      map[string]map[string]*roomSubscriber
	bufferSize int
}

type roomSubscriber struct {
	id     string
	stream chan Message
}

// NewRoomDispatcher returns an empty dispatcher.
func NewRoomDispatcher() *RoomDispatcher {
	return &RoomDispatcher{
		rooms:      make(map[string]map[string]*roomSubscriber),
		bufferSize: 16,
	}
}

// Subscribe joins the room and returns the member's message stream along
// with its cleanup function. The stream is abandoned when ctx ends.
func (d *RoomDispatcher) Subscribe(ctx context.Context, room string) (<-chan Message, func()) {
	if room == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	subscriber := &roomSubscriber{
		id:     uuid.NewString(),
		stream: make(chan Message, d.bufferSize),
	}
	d.register(room, subscriber)
	cleanup := func() {
		d.unregister(room, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish reflects the message to every current room member. A member whose
// buffer is full misses the message; the relay makes no delivery promise.
func (d *RoomDispatcher) Publish(room string, message Message) {
	if room == "" {
		return
	}
	d.mu.RLock()
	members := d.rooms[room]
	if len(members) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*roomSubscriber, 0, len(members))
	for _, member := range members {
		copies = append(copies, member)
	}
	d.mu.RUnlock()
	for _, member := range copies {
		select {
		case member.stream <- message:
		default:
		}
	}
}

func (d *RoomDispatcher) register(room string, subscriber *roomSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rooms[room]; !ok {
		d.rooms[room] = make(map[string]*roomSubscriber)
	}
	d.rooms[room][subscriber.id] = subscriber
}

func (d *RoomDispatcher) unregister(room, subscriberID string) {
	d.mu.Lock()
	members := d.rooms[room]
	if members != nil {
		delete(members, subscriberID)
		if len(members) == 0 {
			delete(d.rooms, room)
		}
	}
	d.mu.Unlock()
}
