package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/nation/model"
	"nationcraft.ai/internal/sim/world"
)

type Options struct {
	Auth *Authenticator
	// OutboundQueue is the per-session frame buffer.
	OutboundQueue int
	// RequestsPerSecond and Burst bound each session's request rate. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

type Server struct {
	world *world.World
	log   *logrus.Entry
	opts  Options

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, opts Options, logger *logrus.Entry) *Server {
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = 32
	}
	if opts.Auth == nil {
		opts.Auth = NewAuthenticator("")
	}
	if opts.RequestsPerSecond > 0 && opts.Burst <= 0 {
		opts.Burst = 1
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		world: w,
		log:   logger.WithField("component", "ws"),
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(64 * 1024)

		sess, ok := s.handshake(r.Context(), conn)
		if !ok {
			return
		}
		log := s.log.WithFields(logrus.Fields{"session": sess.id, "identity": sess.identity})
		log.Info("session started")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		var limiter *rate.Limiter
		if s.opts.RequestsPerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(s.opts.RequestsPerSecond), s.opts.Burst)
		}

		// Reader loop. Requests from one session reach the world in arrival order.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			req, err := protocol.DecodeRequest(msg)
			if err != nil {
				log.WithError(err).Debug("dropping malformed request")
				continue
			}
			if limiter != nil && !limiter.Allow() {
				s.reject(sess, req, protocol.ErrRateLimit)
				continue
			}
			req.Requester = sess.identity
			select {
			case s.world.Inbox() <- world.Envelope{SessionID: sess.id, Req: req}:
			case <-ctx.Done():
			case <-s.world.Done():
				cancel()
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()

		s.leave(sess.id)
		log.Info("session ended")
	}
}

type session struct {
	id       string
	identity uuid.UUID
	out      chan []byte
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (session, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return session{}, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return session{}, false
	}
	hello, err := protocol.ParseHello(msg)
	if err != nil {
		s.log.WithError(err).Debug("bad hello")
		closeWith(conn, "invalid HELLO")
		return session{}, false
	}
	selected := protocol.SelectVersion(hello)
	if selected == "" {
		closeWith(conn, "bad protocol_version")
		return session{}, false
	}
	token := ""
	if hello.Auth != nil {
		token = hello.Auth.Token
	}
	identity, err := s.opts.Auth.Identify(token, hello.Identity)
	if err != nil {
		s.log.WithError(err).Info("handshake rejected")
		closeWith(conn, "unauthorized")
		return session{}, false
	}

	sess := session{
		id:       uuid.NewString(),
		identity: identity,
		out:      make(chan []byte, s.opts.OutboundQueue),
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SelectedVersion: selected,
		ServerID:        s.world.ID(),
		SessionID:       sess.id,
		Identity:        identity.String(),
		ServerCapabilities: protocol.ServerCapabilities{
			LZ4Frames: true,
			Notices:   true,
		},
		Limits: protocol.Limits{
			NameMaxLen:        model.NameMaxLen,
			DescriptionMaxLen: model.DescriptionMaxLen,
			RequestsPerSecond: s.opts.RequestsPerSecond,
			Burst:             s.opts.Burst,
		},
	}
	// WELCOME goes out before registration so it precedes the connect push.
	if err := writeJSON(conn, welcome); err != nil {
		return session{}, false
	}

	done := make(chan struct{})
	select {
	case s.world.Connect() <- world.ConnectRequest{SessionID: sess.id, Identity: identity, Out: sess.out, Done: done}:
	case <-ctx.Done():
		return session{}, false
	case <-s.world.Done():
		return session{}, false
	}
	select {
	case <-done:
	case <-s.world.Done():
		return session{}, false
	case <-ctx.Done():
		s.leave(sess.id)
		return session{}, false
	}
	return sess, true
}

// leave unregisters a session unless the world has already stopped.
func (s *Server) leave(sessionID string) {
	select {
	case s.world.Leave() <- sessionID:
	case <-s.world.Done():
	}
}

// reject answers a request locally without touching the world.
func (s *Server) reject(sess session, req protocol.Request, code string) {
	b, err := protocol.EncodeOutcomeFrame(protocol.Outcome{
		Seq: req.Seq, Op: req.Op, Code: code, Key: protocol.ErrorKey(code),
	})
	if err != nil {
		return
	}
	select {
	case sess.out <- b:
	default:
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
