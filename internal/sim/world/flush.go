package world

import (
	"context"
	"errors"
	"time"

	"nationcraft.ai/internal/persistence/snapshot"
)

// SaveAck reports the outcome of saving one snapshot taken from the sink.
type SaveAck struct {
	Seq uint64
	Err error
}

// TrackSaves makes the world wait for the sink consumer's verdict: a failed save marks the
// store dirty again so the next flush retries it. The consumer must send exactly one ack per
// snapshot it takes from the sink. Call it before Run.
func (w *World) TrackSaves() chan<- SaveAck {
	if w.acks == nil {
		w.acks = make(chan SaveAck, 16)
	}
	return w.acks
}

func (w *World) handleAck(a SaveAck) {
	if w.inFlight > 0 {
		w.inFlight--
	}
	if a.Err == nil {
		return
	}
	w.store.MarkDirty()
	w.counters.flushFailures.Add(1)
	w.log.WithError(a.Err).WithField("seq", a.Seq).Warn("snapshot save failed; state stays dirty")
}

type flushReq struct {
	Resp chan flushResp
}

type flushResp struct {
	Version uint64
	Err     string
}

// ExportSnapshot builds the persisted form of the current state.
func (w *World) ExportSnapshot() snapshot.SnapshotV1 {
	recs := w.store.Export()
	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:  snapshot.Version,
			ServerID: w.cfg.ID,
			Seq:      w.store.Version(),
			SavedAt:  w.now().UTC().Format(time.RFC3339),
			Nations:  len(recs),
		},
		Nations: recs,
	}
}

// RequestFlush asks the world loop to hand the current state to the snapshot sink,
// dirty or not. It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) RequestFlush(ctx context.Context) (version uint64, err error) {
	if w == nil || w.flushReq == nil {
		return 0, errors.New("flush not available")
	}
	resp := make(chan flushResp, 1)
	select {
	case w.flushReq <- flushReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Version, errors.New(r.Err)
		}
		return r.Version, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *World) handleFlushRequest(req flushReq) {
	errStr := ""
	if err := w.flush(true); err != nil {
		errStr = err.Error()
	}
	select {
	case req.Resp <- flushResp{Version: w.store.Version(), Err: errStr}:
	default:
		// Caller gave up; don't block the loop.
	}
}

var (
	errNoSink       = errors.New("snapshot sink not configured")
	errBackpressure = errors.New("snapshot sink backpressure")
)

// flush hands a snapshot to the sink when the store is dirty (or force is set).
// The dirty flag is cleared once the sink accepted the snapshot; with TrackSaves a failed
// save sets it again.
func (w *World) flush(force bool) error {
	if !force && !w.store.Dirty() {
		return nil
	}
	if w.snapshotSink == nil {
		return errNoSink
	}
	select {
	case w.snapshotSink <- w.ExportSnapshot():
		w.handedOff()
		return nil
	default:
		w.counters.flushFailures.Add(1)
		w.log.Warn("snapshot sink busy; state stays dirty")
		return errBackpressure
	}
}

func (w *World) handedOff() {
	w.store.MarkClean()
	w.counters.flushes.Add(1)
	if w.acks != nil {
		w.inFlight++
	}
}

const finalFlushAttempts = 3

// finalFlush blocks briefly so a shutdown does not lose the last mutations. With TrackSaves
// it settles outstanding saves first and retries a failed one.
func (w *World) finalFlush() {
	if w.snapshotSink == nil {
		return
	}
	deadline := time.NewTimer(5 * time.Second)
	defer deadline.Stop()
	for attempt := 0; ; attempt++ {
		for w.inFlight > 0 {
			select {
			case a := <-w.acks:
				w.handleAck(a)
			case <-deadline.C:
				w.log.Error("final flush timed out waiting for saves")
				return
			}
		}
		if !w.store.Dirty() {
			return
		}
		if attempt == finalFlushAttempts {
			w.log.Error("final flush failed; unsaved mutations lost")
			return
		}
		select {
		case w.snapshotSink <- w.ExportSnapshot():
			w.handedOff()
		case <-deadline.C:
			w.counters.flushFailures.Add(1)
			w.log.Error("final flush timed out; unsaved mutations lost")
			return
		}
	}
}
