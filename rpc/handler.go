// File: rpc/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handler is the per-connection protocol state machine: it frames inbound
// bytes into PDUs, negotiates presentation contexts and answers requests.

package rpc

import (
	"errors"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/control"
	"github.com/momentics/hioload-rpc/internal/concurrency"
	"github.com/momentics/hioload-rpc/protocol"
	"github.com/momentics/hioload-rpc/reactor"
)

// RecvChunk is the most a handler reads from its stream per process pass.
const RecvChunk = 1024

// Handler serves one connection. It is processed by at most one goroutine
// at a time, so the context table and the PDU accumulator are unlocked.
type Handler struct {
	reactor.SvcHandler

	srv          *IfServer
	channelID    uint32
	assocGroupID uint32
	ctxs         map[uint16]uuid.UUID
	pdu          protocol.PDU

	queued atomic.Bool
	closed atomic.Bool
	log    *logrus.Entry
}

func newHandler(srv *IfServer) *Handler {
	h := &Handler{
		srv:          srv,
		channelID:    srv.nextChannel.Add(1),
		assocGroupID: srv.nextAssoc.Add(1),
		ctxs:         make(map[uint16]uuid.UUID),
	}
	h.Init(h)
	h.log = srv.log.WithField("channel", h.channelID)
	return h
}

// ChannelID is the identifier the security provider knows this connection by.
func (h *Handler) ChannelID() uint32 { return h.channelID }

// AssocGroupID is echoed in every BIND_ACK on this connection.
func (h *Handler) AssocGroupID() uint32 { return h.assocGroupID }

// Context returns the interface bound to presentation context id.
func (h *Handler) Context(id uint16) (uuid.UUID, bool) {
	iid, ok := h.ctxs[id]
	return iid, ok
}

// Open registers the channel with the security provider and starts serving
// according to the server's strategy.
func (h *Handler) Open(any) error {
	if ssp := h.srv.cfg.ssp; ssp != nil {
		if err := ssp.ChannelAdd(h.channelID); err != nil {
			return err
		}
	}
	h.log = h.log.WithField("peer", h.Stream().PeerAddr())
	h.srv.track(h)

	switch h.srv.cfg.strategy {
	case ThreadPerConnection:
		h.srv.wg.Add(1)
		go h.serve()
		return nil
	default:
		r := h.Reactor()
		if r == nil {
			return api.ErrInvalidArgument
		}
		return r.HandlerAdd(h, reactor.ReadMask)
	}
}

// HandleInput runs when the stream is readable. With the thread-pooled
// strategy the reactor call only hands the handler to the pool; the pool's
// call does the work and re-arms the read interest.
func (h *Handler) HandleInput(int) int {
	if h.srv.cfg.strategy != ThreadPooled {
		if h.process() {
			return 0
		}
		return -1
	}

	if h.queued.CompareAndSwap(true, false) {
		if !h.process() {
			return -1
		}
		if err := h.Reactor().HandlerAdd(h, reactor.ReadMask); err != nil {
			h.log.WithError(err).Debug("re-arm failed")
			return -1
		}
		return 0
	}

	r := h.Reactor()
	if err := r.HandlerRemove(h, reactor.ReadMask|reactor.DontCall); err != nil {
		return -1
	}
	h.queued.Store(true)
	if err := h.srv.pool.Enqueue(h); err != nil {
		h.queued.Store(false)
		h.log.WithError(err).Debug("hand-off refused")
		h.HandleClose(h.Handle(), reactor.ReadMask)
	}
	return 0
}

// serve is the body of a thread-per-connection goroutine.
func (h *Handler) serve() {
	defer h.srv.wg.Done()
	if h.srv.cfg.setPriority {
		runtime.LockOSThread()
		if err := concurrency.SetThreadPriority(h.srv.cfg.priority); err != nil {
			h.log.WithError(err).Debug("connection priority not applied")
		}
	}
	for h.process() {
	}
	h.HandleClose(h.Handle(), reactor.ReadMask)
}

// process reads one chunk and dispatches every PDU it completes. It returns
// false when the connection must be torn down.
func (h *Handler) process() bool {
	st := h.Stream()
	if st == nil {
		return false
	}
	bufp := h.srv.bufs.Get()
	defer h.srv.bufs.Put(bufp)
	buf := (*bufp)[:RecvChunk]

	n, err := st.Recv(buf)
	if errors.Is(err, api.ErrWouldBlock) {
		return true
	}
	if err != nil || n <= 0 {
		if err != nil {
			h.log.WithError(err).Debug("recv failed")
		} else {
			h.log.Debug("peer closed")
		}
		return false
	}
	h.log.Tracef("received %d bytes", n)

	consumed := 0
	for consumed < n {
		consumed += h.pdu.Append(buf[consumed:n])
		if err := h.pdu.Err(); err != nil {
			h.log.WithError(err).Warn("malformed pdu header")
			h.srv.cfg.metrics.Inc(control.MetricProtocolErrors)
			return false
		}
		if !h.pdu.Complete() {
			break
		}
		if !h.dispatchPdu(&h.pdu) {
			return false
		}
		h.pdu.Reset()
	}
	return true
}

// dispatchPdu routes one complete PDU. Types the server does not act on
// are ignored.
func (h *Handler) dispatchPdu(p *protocol.PDU) bool {
	h.srv.cfg.metrics.Inc(control.MetricPDUsIn)
	h.log.Debugf("dispatch %s", p)
	switch {
	case p.IsRequest():
		return h.dispatchRequest(p)
	case p.IsBind():
		return h.dispatchBind(p, false)
	case p.IsAlterContext():
		return h.dispatchBind(p, true)
	case p.IsAuth3():
		return h.dispatchAuth3(p)
	default:
		return true
	}
}

// dispatchBind answers BIND (or ALTER_CONTEXT) for the first presentation
// context only.
func (h *Handler) dispatchBind(p *protocol.PDU, alter bool) bool {
	var (
		ctx      protocol.PresentationContext
		accepted bool
		reply    *protocol.PDU
	)
	body, err := p.BindBody()
	if err != nil {
		h.log.WithError(err).Debug("undecodable bind")
		h.srv.cfg.metrics.Inc(control.MetricProtocolErrors)
	}
	if err == nil && len(body.Contexts) > 0 {
		ctx = body.Contexts[0]
		accepted = h.srv.dispatcher.Table().SupportsInterface(ctx.AbstractSyntax.UUID)
	}

	result := protocol.ContextResult{Result: protocol.ResultAcceptance, TransferSyntax: protocol.NDRSyntax}
	if accepted && !offersNDR(ctx) {
		accepted = false
		result = protocol.ContextResult{Result: protocol.ResultProviderRejection, Reason: protocol.ReasonTransferSyntaxes}
	} else if !accepted {
		result = protocol.ContextResult{Result: protocol.ResultProviderRejection, Reason: protocol.ReasonAbstractSyntax}
	}

	switch {
	case alter:
		// ALTER_CONTEXT cannot be nakked; rejection travels in the result
		reply = protocol.NewAlterContextResp(p.CallID(), h.ackBody(body, result))
	case accepted || result.Reason == protocol.ReasonTransferSyntaxes:
		reply = protocol.NewBindAck(p.CallID(), h.ackBody(body, result))
	default:
		reply = protocol.NewBindNak(p.CallID(), protocol.NakReasonNotSpecified)
	}

	if ssp := h.srv.cfg.ssp; ssp != nil {
		if err := ssp.ServerBindValidate(h.channelID, p, reply); err != nil {
			h.log.WithError(err).Debug("bind rejected by security provider")
			accepted = false
			if !alter {
				reply = protocol.NewBindNak(p.CallID(), protocol.NakReasonNotSpecified)
			}
		}
	}

	if !h.reply(p, reply) {
		return false
	}
	if accepted {
		h.ctxs[ctx.ID] = ctx.AbstractSyntax.UUID
		h.srv.cfg.metrics.Inc(control.MetricBinds)
	} else {
		h.srv.cfg.metrics.Inc(control.MetricBindNaks)
	}
	return true
}

func (h *Handler) ackBody(req *protocol.BindBody, result protocol.ContextResult) protocol.BindAckBody {
	ack := protocol.BindAckBody{
		MaxXmitFrag:   protocol.DefaultMaxFrag,
		MaxRecvFrag:   protocol.DefaultMaxFrag,
		AssocGroupID:  h.assocGroupID,
		SecondaryAddr: h.secondaryAddr(),
		Results:       []protocol.ContextResult{result},
	}
	if req != nil {
		ack.MaxXmitFrag = min(ack.MaxXmitFrag, nonZero(req.MaxRecvFrag))
		ack.MaxRecvFrag = min(ack.MaxRecvFrag, nonZero(req.MaxXmitFrag))
	}
	return ack
}

func nonZero(v uint16) uint16 {
	if v == 0 {
		return protocol.DefaultMaxFrag
	}
	return v
}

// secondaryAddr is the local port, as BIND_ACK advertises it.
func (h *Handler) secondaryAddr() string {
	st := h.Stream()
	if st == nil {
		return ""
	}
	addr := st.HostAddr()
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

func offersNDR(ctx protocol.PresentationContext) bool {
	for _, ts := range ctx.TransferSyntaxes {
		if ts.UUID == protocol.NDRSyntax.UUID && ts.Version == protocol.NDRSyntax.Version {
			return true
		}
	}
	return false
}

// dispatchRequest answers a REQUEST. A context that was never bound is a
// protocol violation and tears the connection down; every other failure is
// answered with a FAULT.
func (h *Handler) dispatchRequest(p *protocol.PDU) bool {
	body, err := p.RequestBody()
	if err != nil {
		h.log.WithError(err).Debug("undecodable request")
		h.srv.cfg.metrics.Inc(control.MetricProtocolErrors)
		return false
	}
	iid, ok := h.ctxs[body.ContextID]
	if !ok {
		h.log.WithError(ErrUnknownContext).Debugf("request on context %d", body.ContextID)
		h.srv.cfg.metrics.Inc(control.MetricProtocolErrors)
		return false
	}

	reply := &protocol.PDU{}
	reply.SetCallID(p.CallID())
	if err := h.srv.dispatcher.Dispatch(p, reply, h.channelID, iid); err != nil {
		h.log.WithError(err).Debug("dispatch failed")
		reply.SetFault(body.ContextID, FaultStatus(err))
	}
	if ssp := h.srv.cfg.ssp; ssp != nil {
		if err := ssp.ServerRequestValidate(h.channelID, p, reply); err != nil {
			h.log.WithError(err).Debug("request rejected by security provider")
			reply.SetFault(body.ContextID, protocol.StatusAccessDenied)
		}
	}
	h.srv.cfg.metrics.Inc(control.MetricRequests)
	return h.reply(p, reply)
}

// dispatchAuth3 hands the third authentication leg to the security
// provider. Failures surface on the next request, so AUTH3 never fails the
// connection.
func (h *Handler) dispatchAuth3(p *protocol.PDU) bool {
	if ssp := h.srv.cfg.ssp; ssp != nil {
		if err := ssp.ServerAuth3Validate(h.channelID, p); err != nil {
			h.log.WithError(err).Debug("auth3 rejected")
		}
	}
	return true
}

// reply answers req in the peer's data representation. A short send is
// fatal for the connection.
func (h *Handler) reply(req, resp *protocol.PDU) bool {
	resp.SetDataRep(req.DataRep())
	resp.SetCallID(req.CallID())
	if resp.IsFault() {
		if fb, err := resp.FaultBody(); err == nil {
			h.log.Infof("fault 0x%08x for call %d", fb.Status, req.CallID())
		}
		h.srv.cfg.metrics.Inc(control.MetricFaults)
	}
	b, err := resp.Marshal()
	if err != nil {
		h.log.WithError(err).Warn("marshal reply")
		return false
	}
	st := h.Stream()
	if st == nil {
		return false
	}
	n, err := st.Send(b)
	if err != nil || n != len(b) {
		if err == nil {
			err = ErrShortSend
		}
		h.log.WithError(err).Debugf("send %d of %d bytes", n, len(b))
		return false
	}
	h.srv.cfg.metrics.Inc(control.MetricPDUsOut)
	return true
}

// HandleClose releases the channel and the stream exactly once.
func (h *Handler) HandleClose(int, reactor.EventMask) int {
	if !h.closed.CompareAndSwap(false, true) {
		return 0
	}
	if ssp := h.srv.cfg.ssp; ssp != nil {
		ssp.ChannelRemove(h.channelID)
	}
	h.srv.forget(h)
	h.SvcHandler.Destroy()
	h.log.Debug("connection closed")
	return 0
}

// release unregisters a reactor-driven handler and closes it. A handler the
// reactor no longer knows, e.g. one parked in the pool queue, is closed
// directly.
func (h *Handler) release() {
	if r := h.Reactor(); r != nil {
		if err := r.HandlerRemove(h, reactor.AllEventsMask); err == nil {
			return
		}
	}
	h.HandleClose(h.Handle(), reactor.NullMask)
}

// abort wakes a goroutine blocked reading the stream so it tears down.
func (h *Handler) abort() {
	st := h.Stream()
	if s, ok := st.(interface{ Shutdown() error }); ok {
		_ = s.Shutdown()
		return
	}
	if st != nil {
		_ = st.Close()
	}
}
