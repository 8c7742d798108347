// File: client/client.go
// Package client provides a synchronous connection-oriented DCE-RPC client.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The client opens its connection through reactor.Connector, negotiates
// presentation contexts and issues one call at a time, blocking for the
// reply.

package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/internal/logging"
	"github.com/momentics/hioload-rpc/protocol"
	"github.com/momentics/hioload-rpc/reactor"
	"github.com/momentics/hioload-rpc/rpc"
	"github.com/momentics/hioload-rpc/transport/tcp"
)

var (
	// ErrBindRejected is returned when the server answers BIND with BIND_NAK
	// or rejects the offered context.
	ErrBindRejected = errors.New("client: bind rejected")
	// ErrUnexpectedReply reports a reply of the wrong type or call id.
	ErrUnexpectedReply = errors.New("client: unexpected reply")
	// ErrConnectionClosed reports that the server closed the connection.
	ErrConnectionClosed = errors.New("client: connection closed")
	// ErrTimeout reports a reply that did not arrive in time. The client is
	// closed, since a late reply would desynchronize the association.
	ErrTimeout = errors.New("client: reply timeout")
)

// Config holds client parameters.
type Config struct {
	Addr     string  // server "host:port"
	MaxFrag  uint16  // advertised max xmit/recv fragment
	DataRep  [4]byte // data representation of outgoing PDUs
	Peer     reactor.PeerConnector
	Reactor  *reactor.Reactor // optional, recorded on the connection handler
	Logger   *logrus.Entry
	ReadSize int
	Timeout  time.Duration // per-read bound on replies, zero waits forever
}

// Option customizes a Config.
type Option func(*Config)

// WithBigEndian encodes outgoing PDUs big-endian.
func WithBigEndian() Option {
	return func(c *Config) { c.DataRep = protocol.BigEndianDrep }
}

// WithMaxFrag overrides protocol.DefaultMaxFrag in BIND.
func WithMaxFrag(n uint16) Option {
	return func(c *Config) { c.MaxFrag = n }
}

// WithPeerConnector dials through p instead of plain TCP.
func WithPeerConnector(p reactor.PeerConnector) Option {
	return func(c *Config) { c.Peer = p }
}

// WithTimeout fails a call whose reply stalls for longer than d.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

func WithReactor(r *reactor.Reactor) Option {
	return func(c *Config) { c.Reactor = r }
}

func WithLogger(l *logrus.Entry) Option {
	return func(c *Config) { c.Logger = l }
}

// conn is the service handler the connector produces.
type conn struct {
	reactor.SvcHandler
}

func newConn() *conn {
	c := &conn{}
	c.Init(c)
	return c
}

// Client is a connected DCE-RPC association. Methods are safe for
// concurrent use and are serialized.
type Client struct {
	cfg       Config
	connector *reactor.Connector[*conn]
	conn      *conn
	log       *logrus.Entry

	mu         sync.Mutex
	callID     uint32
	assocGroup uint32
	ctxs       map[uint16]uuid.UUID
	buf        []byte
	pending    []byte
	closed     bool
}

// Dial connects to addr.
func Dial(addr string, opts ...Option) (*Client, error) {
	cfg := Config{
		Addr:     addr,
		MaxFrag:  protocol.DefaultMaxFrag,
		DataRep:  protocol.LittleEndianDrep,
		Peer:     tcp.SockConnector{},
		ReadSize: 4096,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("client")
	}
	c := &Client{
		cfg:  cfg,
		log:  cfg.Logger.WithField("category", addr),
		ctxs: make(map[uint16]uuid.UUID),
		buf:  make([]byte, cfg.ReadSize),
	}
	c.connector = reactor.NewConnector(cfg.Peer, cfg.Reactor, newConn)
	c.connector.ActivateSvcHandler = func(h *conn) error {
		c.log.Debugf("connected from %s", h.Stream().HostAddr())
		return nil
	}
	h, err := c.connector.Connect(addr)
	if err != nil {
		return nil, err
	}
	c.conn = h
	if cfg.Timeout > 0 {
		st, ok := h.Stream().(interface{ SetRecvTimeout(time.Duration) error })
		if !ok {
			c.Close()
			return nil, fmt.Errorf("client: stream %T has no receive timeout", h.Stream())
		}
		if err := st.SetRecvTimeout(cfg.Timeout); err != nil {
			c.Close()
			return nil, fmt.Errorf("client: receive timeout: %w", err)
		}
	}
	return c, nil
}

func (c *Client) nextCall() uint32 {
	c.callID++
	return c.callID
}

// AssocGroupID returns the association group the server assigned at the
// first successful bind.
func (c *Client) AssocGroupID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assocGroup
}

// Bind offers iid on presentation context ctxID with the NDR transfer
// syntax. It returns the server's acknowledgement.
func (c *Client) Bind(ctxID uint16, iid uuid.UUID, version uint16) (*protocol.BindAckBody, error) {
	return c.negotiate(ctxID, iid, version, false)
}

// AlterContext adds a presentation context to a bound association.
func (c *Client) AlterContext(ctxID uint16, iid uuid.UUID, version uint16) (*protocol.BindAckBody, error) {
	return c.negotiate(ctxID, iid, version, true)
}

func (c *Client) negotiate(ctxID uint16, iid uuid.UUID, version uint16, alter bool) (*protocol.BindAckBody, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body := protocol.BindBody{
		MaxXmitFrag:  c.cfg.MaxFrag,
		MaxRecvFrag:  c.cfg.MaxFrag,
		AssocGroupID: c.assocGroup,
		Contexts: []protocol.PresentationContext{{
			ID:               ctxID,
			AbstractSyntax:   protocol.SyntaxID{UUID: iid, Version: version},
			TransferSyntaxes: []protocol.SyntaxID{protocol.NDRSyntax},
		}},
	}
	id := c.nextCall()
	req := protocol.NewBind(id, body)
	if alter {
		req = protocol.NewAlterContext(id, body)
	}
	reply, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	if reply.IsBindNak() {
		nak, _ := reply.BindNakBody()
		if nak != nil {
			return nil, fmt.Errorf("%w: reason %d", ErrBindRejected, nak.Reason)
		}
		return nil, ErrBindRejected
	}
	if !reply.IsBindAck() && !reply.IsAlterContextResp() {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply)
	}
	ack, err := reply.BindAckBody()
	if err != nil {
		return nil, err
	}
	if len(ack.Results) == 0 || ack.Results[0].Result != protocol.ResultAcceptance {
		return ack, ErrBindRejected
	}
	if c.assocGroup == 0 {
		c.assocGroup = ack.AssocGroupID
	}
	c.ctxs[ctxID] = iid
	return ack, nil
}

// Auth3 sends the third authentication leg. The server never answers it.
func (c *Client) Auth3(v *protocol.AuthVerifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(protocol.NewAuth3(c.nextCall(), v))
}

// Call invokes opnum on the interface bound to ctxID, addressing object
// when it is not uuid.Nil. A FAULT reply is returned as *rpc.Fault.
func (c *Client) Call(ctxID, opnum uint16, object uuid.UUID, stub []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.roundTrip(protocol.NewRequest(c.nextCall(), ctxID, opnum, object, stub))
	if err != nil {
		return nil, err
	}
	switch {
	case reply.IsResponse():
		body, err := reply.ResponseBody()
		if err != nil {
			return nil, err
		}
		return body.StubData, nil
	case reply.IsFault():
		body, err := reply.FaultBody()
		if err != nil {
			return nil, err
		}
		return nil, rpc.NewFault(body.Status)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply)
	}
}

// Bound reports whether ctxID was accepted on this association.
func (c *Client) Bound(ctxID uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ctxs[ctxID]
	return ok
}

func (c *Client) roundTrip(req *protocol.PDU) (*protocol.PDU, error) {
	if err := c.send(req); err != nil {
		return nil, err
	}
	reply, err := c.recv()
	if err != nil {
		return nil, err
	}
	if reply.CallID() != req.CallID() {
		return nil, fmt.Errorf("%w: call %d answered as %d", ErrUnexpectedReply, req.CallID(), reply.CallID())
	}
	return reply, nil
}

func (c *Client) send(p *protocol.PDU) error {
	if c.closed {
		return api.ErrClosed
	}
	p.SetDataRep(c.cfg.DataRep)
	b, err := p.Marshal()
	if err != nil {
		return err
	}
	st := c.conn.Stream()
	for len(b) > 0 {
		n, err := st.Send(b)
		if err != nil {
			return fmt.Errorf("client: send: %w", err)
		}
		b = b[n:]
	}
	c.log.Tracef("sent %s", p)
	return nil
}

// recv reads until one PDU is complete. Bytes beyond it are kept for the
// next reply.
func (c *Client) recv() (*protocol.PDU, error) {
	if c.closed {
		return nil, api.ErrClosed
	}
	p := &protocol.PDU{}
	for {
		if len(c.pending) > 0 {
			n := p.Append(c.pending)
			c.pending = c.pending[n:]
			if err := p.Err(); err != nil {
				return nil, err
			}
			if p.Complete() {
				c.log.Tracef("received %s", p)
				return p, nil
			}
		}
		n, err := c.conn.Stream().Recv(c.buf)
		if errors.Is(err, api.ErrWouldBlock) {
			c.closeLocked()
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)
		}
		if err != nil {
			return nil, fmt.Errorf("client: recv: %w", err)
		}
		if n == 0 {
			return nil, ErrConnectionClosed
		}
		c.pending = append(c.pending[:0], c.buf[:n]...)
	}
}

// Close shuts the connection. Repeated calls are no-ops.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.connector.Close()
	c.conn.Destroy()
}
