package world

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"nationcraft.ai/internal/persistence/snapshot"
	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/nation/store"
	"nationcraft.ai/internal/sim/replica"
)

const tracerName = "nationcraft.ai/internal/sim/world"

type Config struct {
	// ID names this server in persisted headers and WELCOME.
	ID string
	// FlushEvery is the write-back cadence. Zero disables the ticker; flushes then
	// happen only on RequestFlush and shutdown.
	FlushEvery time.Duration
	InboxSize  int
	// CheckInvariants runs the store's consistency check after every mutation.
	CheckInvariants bool
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = "nationcraft"
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 1024
	}
}

// ConnectRequest registers a session. Out receives binary frames; the world never closes it.
type ConnectRequest struct {
	SessionID string
	Identity  uuid.UUID
	Out       chan []byte
	// Done, when set, is closed once the session is registered.
	Done chan struct{}
}

// Envelope carries one decoded request from a session.
type Envelope struct {
	SessionID string
	Req       protocol.Request
}

type clientState struct {
	Identity uuid.UUID
	Out      chan []byte
}

// World is the single authoritative owner of nation state.
// The store and client table are touched only from the loop goroutine (or from
// StepOnce/Apply when the loop is not running).
type World struct {
	cfg Config
	log *logrus.Entry

	store *store.Store
	view  *replica.Replica
	// frame is the encoded snapshot of the current store version.
	frame []byte

	clients map[string]*clientState

	inbox    chan Envelope
	connect  chan ConnectRequest
	leave    chan string
	flushReq chan flushReq
	stop     chan struct{}
	done     chan struct{}

	auditLogger  AuditLogger
	snapshotSink chan<- snapshot.SnapshotV1
	// acks is non-nil once TrackSaves was called; inFlight counts unacknowledged snapshots.
	acks      chan SaveAck
	inFlight  int
	listeners listeners

	counters counters
	metrics  atomic.Pointer[Metrics]
	tracer   trace.Tracer

	now func() time.Time
}

// New wraps st (a fresh store when nil). The logger may be nil.
func New(cfg Config, st *store.Store, log *logrus.Entry) *World {
	cfg.applyDefaults()
	if st == nil {
		st = store.New()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	w := &World{
		cfg:      cfg,
		log:      log.WithField("component", "world"),
		store:    st,
		view:     replica.New(),
		clients:  map[string]*clientState{},
		inbox:    make(chan Envelope, cfg.InboxSize),
		connect:  make(chan ConnectRequest, 64),
		leave:    make(chan string, 64),
		flushReq: make(chan flushReq, 8),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
	}
	w.publish()
	w.publishMetrics()
	return w
}

func (w *World) ID() string { return w.cfg.ID }

func (w *World) Inbox() chan<- Envelope         { return w.inbox }
func (w *World) Connect() chan<- ConnectRequest { return w.connect }
func (w *World) Leave() chan<- string           { return w.leave }

// Done is closed once Run has returned and its final flush is over.
func (w *World) Done() <-chan struct{} { return w.done }

func (w *World) SetAuditLogger(l AuditLogger)                  { w.auditLogger = l }
func (w *World) SetTracerProvider(tp trace.TracerProvider)     { w.tracer = tp.Tracer(tracerName) }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

// View is a read-only replica of the authoritative state, safe to read from any goroutine.
func (w *World) View() *replica.Replica { return w.view }

// Store exposes the underlying store for tests and offline tooling. Only safe when Run is not active.
func (w *World) Store() *store.Store { return w.store }
