package world

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"nationcraft.ai/internal/protocol"
)

// Run drains the queues one message at a time until ctx is done or Stop is called.
// A final flush is attempted on the way out.
func (w *World) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if w.cfg.FlushEvery > 0 {
		t := time.NewTicker(w.cfg.FlushEvery)
		defer t.Stop()
		tick = t.C
	}
	defer close(w.done)
	defer w.finalFlush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.connect:
			w.handleConnect(req)
		case id := <-w.leave:
			w.handleLeave(id)
		case env := <-w.inbox:
			w.handleEnvelope(env)
		case req := <-w.flushReq:
			w.handleFlushRequest(req)
		case a := <-w.acks:
			w.handleAck(a)
		case <-tick:
			w.flush(false)
		}
		w.publishMetrics()
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce processes connects, then leaves, then envelopes, in the same way Run would.
// It must not be called while Run is active.
func (w *World) StepOnce(connects []ConnectRequest, leaves []string, envs []Envelope) []protocol.Outcome {
	for _, c := range connects {
		w.handleConnect(c)
	}
	for _, id := range leaves {
		w.handleLeave(id)
	}
	out := make([]protocol.Outcome, 0, len(envs))
	for _, env := range envs {
		out = append(out, w.handleEnvelope(env))
	}
	w.publishMetrics()
	return out
}

func (w *World) handleConnect(req ConnectRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	w.clients[req.SessionID] = &clientState{Identity: req.Identity, Out: req.Out}
	w.log.WithFields(logrus.Fields{"session": req.SessionID, "identity": req.Identity}).Debug("connect")
	if w.frame != nil {
		sendLatest(req.Out, w.frame)
	}
	if req.Done != nil {
		close(req.Done)
	}
}

func (w *World) handleLeave(sessionID string) {
	if _, ok := w.clients[sessionID]; !ok {
		return
	}
	delete(w.clients, sessionID)
	w.log.WithField("session", sessionID).Debug("leave")
}

func (w *World) handleEnvelope(env Envelope) protocol.Outcome {
	c := w.clients[env.SessionID]
	if c != nil {
		// The session's authenticated identity wins over anything in the request.
		env.Req.Requester = c.Identity
	}
	out := w.Apply(env.Req)
	if c == nil {
		return out
	}
	b, err := protocol.EncodeOutcomeFrame(out)
	if err != nil {
		w.log.WithError(err).Error("encode outcome")
		return out
	}
	if !trySend(c.Out, b) {
		w.counters.dropped.Add(1)
	}
	return out
}

// sendLatest delivers b, dropping the oldest queued frame when the channel is full.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func trySend(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}
