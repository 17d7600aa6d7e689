package delivery

import (
	"context"
	"sync"
)

type Notice struct {
	Destination string
	Text        string
}

// Recorder is an in-memory Sink that keeps every call.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	notices    []Notice
	// Err, when set, is returned from every call after recording it.
	Err error
}

func (r *Recorder) Deliver(ctx context.Context, d Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	return r.Err
}

func (r *Recorder) Notify(ctx context.Context, destination, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Destination: destination, Text: text})
	return r.Err
}

func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}
