package world

import "sync/atomic"

// Metrics is a read-only view of runtime signals, published by the loop goroutine.
type Metrics struct {
	Version uint64 `json:"version"`
	Dirty   bool   `json:"dirty"`

	Nations int `json:"nations"`
	Members int `json:"members"`
	Clients int `json:"clients"`

	QueueDepths QueueDepths `json:"queue_depths"`

	Mutations     uint64 `json:"mutations_total"`
	Rejections    uint64 `json:"rejections_total"`
	Broadcasts    uint64 `json:"broadcasts_total"`
	DroppedFrames uint64 `json:"dropped_frames_total"`
	Flushes       uint64 `json:"flushes_total"`
	FlushFailures uint64 `json:"flush_failures_total"`
}

type QueueDepths struct {
	Inbox   int `json:"inbox"`
	Connect int `json:"connect"`
	Leave   int `json:"leave"`
}

type counters struct {
	mutations     atomic.Uint64
	rejections    atomic.Uint64
	broadcasts    atomic.Uint64
	dropped       atomic.Uint64
	flushes       atomic.Uint64
	flushFailures atomic.Uint64
}

func (w *World) Metrics() Metrics {
	if w == nil {
		return Metrics{}
	}
	if m := w.metrics.Load(); m != nil {
		return *m
	}
	return Metrics{}
}

func (w *World) publishMetrics() {
	m := &Metrics{
		Version: w.store.Version(),
		Dirty:   w.store.Dirty(),
		Nations: w.store.Len(),
		Members: w.store.MemberCount(),
		Clients: len(w.clients),
		QueueDepths: QueueDepths{
			Inbox:   len(w.inbox),
			Connect: len(w.connect),
			Leave:   len(w.leave),
		},
		Mutations:     w.counters.mutations.Load(),
		Rejections:    w.counters.rejections.Load(),
		Broadcasts:    w.counters.broadcasts.Load(),
		DroppedFrames: w.counters.dropped.Load(),
		Flushes:       w.counters.flushes.Load(),
		FlushFailures: w.counters.flushFailures.Load(),
	}
	w.metrics.Store(m)
}
