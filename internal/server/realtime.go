package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/elmo/internal/ingest"
)

const (
	SyncEventJob         = "sync-job"
	syncEventHeartbeat   = "heartbeat"
	syncEventSource      = "elmo-backend"
	defaultSubscriberCap = 16
)

// SyncEventDispatcher fans sync job transitions out to the subscribers of each user.
type SyncEventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]map[int64]*syncSubscriber
	nextID      int64
	bufferSize  int
}

type syncSubscriber struct {
	id     int64
	stream chan ingest.Job
}

func NewSyncEventDispatcher() *SyncEventDispatcher {
	return &SyncEventDispatcher{
		subscribers: make(map[int64]map[int64]*syncSubscriber),
		bufferSize:  defaultSubscriberCap,
	}
}

// Subscribe registers a stream for userID that is released when ctx ends or cleanup runs.
func (d *SyncEventDispatcher) Subscribe(ctx context.Context, userID int64) (<-chan ingest.Job, func()) {
	if userID <= 0 {
		ch := make(chan ingest.Job)
		close(ch)
		return ch, func() {}
	}
	subscriber := &syncSubscriber{
		id:     d.nextSequence(),
		stream: make(chan ingest.Job, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(userID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers job to every subscriber of its user. Slow subscribers drop events.
func (d *SyncEventDispatcher) Publish(job ingest.Job) {
	if job.UserID <= 0 || job.ID == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[job.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*syncSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- job:
		default:
		}
	}
}

func (d *SyncEventDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *SyncEventDispatcher) registerSubscriber(userID int64, subscriber *syncSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*syncSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *SyncEventDispatcher) unregisterSubscriber(userID int64, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
