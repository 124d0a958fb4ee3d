package server

import (
	"context"
	"sync"
	"time"
)

const (
	RealtimeEventStateChanged = "state-change"
	realtimeEventHeartbeat    = "heartbeat"
	realtimeSourceBackend     = "commentwidget"
)

// RealtimeMessage announces that the state of an install changed.
type RealtimeMessage struct {
	InstallID string
	EventType string
	Timestamp time.Time
}

// RealtimeDispatcher fans state changes out to the stream subscribers of each install.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, installID string) (<-chan RealtimeMessage, func()) {
	if installID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(installID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(installID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message without blocking. Subscribers with a full
// buffer miss it.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.InstallID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.InstallID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// NotifyStateChanged matches the widget change hook.
func (d *RealtimeDispatcher) NotifyStateChanged(installID string) {
	d.Publish(RealtimeMessage{
		InstallID: installID,
		EventType: RealtimeEventStateChanged,
		Timestamp: d.clock().UTC(),
	})
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(installID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[installID]; !ok {
		d.subscribers[installID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[installID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(installID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[installID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, installID)
		}
	}
	d.mu.Unlock()
}
