// Package client connects to a nation server, keeps a replica current and sends requests.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/replica"
)

var ErrClosed = errors.New("client closed")

type Options struct {
	URL        string
	ClientName string
	Token      string
	// Identity is sent only for servers running without an auth secret.
	Identity string
	Log      *logrus.Entry
}

// Client owns one connection and the replica fed by it.
type Client struct {
	conn    *websocket.Conn
	log     *logrus.Entry
	welcome protocol.WelcomeMsg
	replica *replica.Replica

	identity uuid.UUID
	seq      atomic.Uint64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan protocol.Outcome

	notices  chan protocol.Notice
	snapshot chan struct{}
	done     chan struct{}
	err      error
}

// Dial performs the HELLO/WELCOME handshake and starts the read loop.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.ClientName == "" {
		opts.ClientName = "nation-cli"
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      opts.ClientName,
		Identity:        opts.Identity,
	}
	if opts.Token != "" {
		hello.Auth = &protocol.HelloAuth{Token: opts.Token}
	}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	welcome, err := protocol.ValidateWelcome(msg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	identity, err := uuid.Parse(welcome.Identity)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("welcome identity: %w", err)
	}

	c := &Client{
		conn:     conn,
		log:      opts.Log.WithField("component", "client"),
		welcome:  welcome,
		replica:  replica.New(),
		identity: identity,
		pending:  map[uint64]chan protocol.Outcome{},
		notices:  make(chan protocol.Notice, 32),
		snapshot: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Identity() uuid.UUID             { return c.identity }
func (c *Client) Welcome() protocol.WelcomeMsg    { return c.welcome }
func (c *Client) Replica() *replica.Replica       { return c.replica }
func (c *Client) Notices() <-chan protocol.Notice { return c.notices }
func (c *Client) Done() <-chan struct{}           { return c.done }

// Err reports why the read loop stopped, once Done is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// WaitSnapshot blocks until at least one snapshot has been installed.
func (c *Client) WaitSnapshot(ctx context.Context) error {
	if c.replica.Version() > 0 {
		return nil
	}
	select {
	case <-c.snapshot:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do sends req and waits for its outcome. The server pushes the resulting snapshot
// before the outcome, so the replica is current once Do returns.
func (c *Client) Do(ctx context.Context, req protocol.Request) (protocol.Outcome, error) {
	req.Seq = c.seq.Add(1)
	ch := make(chan protocol.Outcome, 1)
	c.mu.Lock()
	c.pending[req.Seq] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.Seq)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err := c.conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeRequest(req))
	c.writeMu.Unlock()
	if err != nil {
		return protocol.Outcome{}, fmt.Errorf("send %s: %w", req.Op, err)
	}

	select {
	case out := <-ch:
		return out, nil
	case <-c.done:
		return protocol.Outcome{}, ErrClosed
	case <-ctx.Done():
		return protocol.Outcome{}, ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		f, err := protocol.DecodeFrame(msg)
		if err != nil {
			c.log.WithError(err).Debug("dropping malformed frame")
			continue
		}
		switch {
		case f.Snapshot != nil:
			c.replica.Replace(*f.Snapshot)
			select {
			case c.snapshot <- struct{}{}:
			default:
			}
		case f.Outcome != nil:
			c.mu.Lock()
			ch := c.pending[f.Outcome.Seq]
			c.mu.Unlock()
			if ch != nil {
				ch <- *f.Outcome
			}
		case f.Notice != nil:
			select {
			case c.notices <- *f.Notice:
			default:
				c.log.WithField("key", f.Notice.Key).Debug("notice dropped")
			}
		}
	}
}
