// File: rpc/handler_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rpc_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-rpc/control"
	"github.com/momentics/hioload-rpc/fake"
	"github.com/momentics/hioload-rpc/protocol"
	"github.com/momentics/hioload-rpc/reactor"
	"github.com/momentics/hioload-rpc/rpc"
)

type harness struct {
	t       *testing.T
	r       *reactor.Reactor
	table   *fake.DispatchTable
	ssp     *fake.SecurityProvider
	metrics *control.MetricsRegistry
	srv     *rpc.IfServer
	st      *fake.Stream
	h       *rpc.Handler
}

func newHarness(t *testing.T, opts ...rpc.Option) *harness {
	t.Helper()
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	x := &harness{
		t:       t,
		r:       r,
		table:   fake.NewDispatchTable(echoIID),
		ssp:     fake.NewSecurityProvider(),
		metrics: control.NewMetricsRegistry(),
		st:      fake.NewStream(),
	}
	opts = append([]rpc.Option{
		rpc.WithSecurityProvider(x.ssp),
		rpc.WithMetrics(x.metrics),
	}, opts...)
	x.srv = rpc.NewIfServer(rpc.NewDispatcher(x.table), opts...)
	x.h, err = x.srv.Adopt(x.st, r)
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	t.Cleanup(func() {
		x.srv.Close()
		r.Close()
	})
	return x
}

func wire(t *testing.T, pdus ...*protocol.PDU) []byte {
	t.Helper()
	var out []byte
	for _, p := range pdus {
		b, err := p.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		out = append(out, b...)
	}
	return out
}

func bindPDU(callID uint32, ctxID uint16, iid uuid.UUID) *protocol.PDU {
	return protocol.NewBind(callID, protocol.BindBody{
		MaxXmitFrag: protocol.DefaultMaxFrag,
		MaxRecvFrag: protocol.DefaultMaxFrag,
		Contexts: []protocol.PresentationContext{{
			ID:               ctxID,
			AbstractSyntax:   protocol.SyntaxID{UUID: iid, Version: 1},
			TransferSyntaxes: []protocol.SyntaxID{protocol.NDRSyntax},
		}},
	})
}

// feed delivers data as one readable event.
func (x *harness) feed(data []byte) int {
	x.st.AddRecvData(data)
	return x.h.HandleInput(x.h.Handle())
}

func (x *harness) replies() []*protocol.PDU {
	x.t.Helper()
	var out []*protocol.PDU
	for _, chunk := range x.st.GetSentData() {
		p, err := protocol.Parse(chunk)
		if err != nil {
			x.t.Fatalf("reply Parse: %v", err)
		}
		out = append(out, p)
	}
	return out
}

func TestBindThenRequestResolvesContext(t *testing.T) {
	x := newHarness(t)
	if !x.ssp.Open(x.h.ChannelID()) {
		t.Fatal("channel not registered with the security provider")
	}

	if rc := x.feed(wire(t, bindPDU(1, 3, echoIID))); rc != 0 {
		t.Fatalf("bind HandleInput = %d", rc)
	}
	replies := x.replies()
	if len(replies) != 1 || !replies[0].IsBindAck() || replies[0].CallID() != 1 {
		t.Fatalf("bind replies = %v", replies)
	}
	ack, err := replies[0].BindAckBody()
	if err != nil {
		t.Fatalf("BindAckBody: %v", err)
	}
	if ack.AssocGroupID != x.h.AssocGroupID() || ack.SecondaryAddr != "135" {
		t.Fatalf("ack = %+v", ack)
	}
	if len(ack.Results) != 1 || ack.Results[0].Result != protocol.ResultAcceptance {
		t.Fatalf("results = %+v", ack.Results)
	}
	if iid, ok := x.h.Context(3); !ok || iid != echoIID {
		t.Fatalf("context 3 = %s, %v", iid, ok)
	}

	x.st.ClearSentData()
	if rc := x.feed(wire(t, protocol.NewRequest(2, 3, 0, uuid.Nil, []byte("ping")))); rc != 0 {
		t.Fatalf("request HandleInput = %d", rc)
	}
	lookups := x.table.Lookups()
	if len(lookups) != 1 || lookups[0].IID != echoIID {
		t.Fatalf("dispatch lookups = %+v", lookups)
	}
	replies = x.replies()
	if len(replies) != 1 || !replies[0].IsResponse() || replies[0].CallID() != 2 {
		t.Fatalf("request replies = %v", replies)
	}
	body, _ := replies[0].ResponseBody()
	if string(body.StubData) != "ping" {
		t.Fatalf("stub data = %q", body.StubData)
	}
	if got := x.ssp.Calls(); len(got) != 3 || got[1] != "bind" || got[2] != "request" {
		t.Fatalf("ssp calls = %v", got)
	}
}

func TestBindRejectionThenRequestTearsDown(t *testing.T) {
	x := newHarness(t)

	if rc := x.feed(wire(t, bindPDU(1, 4, otherIID))); rc != 0 {
		t.Fatalf("bind HandleInput = %d", rc)
	}
	replies := x.replies()
	if len(replies) != 1 || !replies[0].IsBindNak() {
		t.Fatalf("bind replies = %v", replies)
	}
	if _, ok := x.h.Context(4); ok {
		t.Fatal("rejected context was recorded")
	}
	if x.metrics.Counter(control.MetricBindNaks) != 1 {
		t.Fatal("nak not counted")
	}

	if rc := x.feed(wire(t, protocol.NewRequest(2, 4, 0, uuid.Nil, nil))); rc >= 0 {
		t.Fatalf("request on rejected context HandleInput = %d, want < 0", rc)
	}
	if len(x.table.Lookups()) != 0 {
		t.Fatal("request on rejected context reached the dispatcher")
	}

	// the reactor reacts to the negative return by removing the handler
	if err := x.r.HandlerRemove(x.h, reactor.ReadMask); err != nil {
		t.Fatalf("HandlerRemove: %v", err)
	}
	if !x.st.Closed() || x.ssp.Open(x.h.ChannelID()) {
		t.Fatal("HandleClose did not release the stream and channel")
	}
	if x.srv.Connections() != 0 {
		t.Fatalf("Connections = %d", x.srv.Connections())
	}
}

func TestTwoPDUsInOneRead(t *testing.T) {
	x := newHarness(t)
	data := wire(t, bindPDU(1, 0, echoIID), protocol.NewRequest(2, 0, 0, uuid.Nil, []byte("x")))
	if len(data) > rpc.RecvChunk {
		t.Fatalf("test data %d bytes exceeds one read", len(data))
	}
	if rc := x.feed(data); rc != 0 {
		t.Fatalf("HandleInput = %d", rc)
	}
	if got := x.metrics.Counter(control.MetricPDUsIn); got != 2 {
		t.Fatalf("dispatched %d PDUs, want 2", got)
	}
	replies := x.replies()
	if len(replies) != 2 || !replies[0].IsBindAck() || !replies[1].IsResponse() {
		t.Fatalf("replies = %v", replies)
	}

	// every byte was consumed: a following PDU starts on a clean accumulator
	x.st.ClearSentData()
	if rc := x.feed(wire(t, protocol.NewRequest(3, 0, 0, uuid.Nil, nil))); rc != 0 {
		t.Fatalf("HandleInput = %d", rc)
	}
	if r := x.replies(); len(r) != 1 || r[0].CallID() != 3 {
		t.Fatalf("follow-up replies = %v", r)
	}
}

func TestPartialPDUWaitsForRemainder(t *testing.T) {
	x := newHarness(t)
	data := wire(t, bindPDU(1, 0, echoIID))

	if rc := x.feed(data[:10]); rc != 0 {
		t.Fatalf("HandleInput(head) = %d", rc)
	}
	if len(x.st.GetSentData()) != 0 || x.metrics.Counter(control.MetricPDUsIn) != 0 {
		t.Fatal("partial PDU was dispatched")
	}
	if rc := x.feed(data[10:30]); rc != 0 {
		t.Fatalf("HandleInput(middle) = %d", rc)
	}
	if rc := x.feed(data[30:]); rc != 0 {
		t.Fatalf("HandleInput(tail) = %d", rc)
	}
	if r := x.replies(); len(r) != 1 || !r[0].IsBindAck() {
		t.Fatalf("replies = %v", r)
	}
}

func TestLargePDUSpansReads(t *testing.T) {
	x := newHarness(t)
	x.feed(wire(t, bindPDU(1, 0, echoIID)))
	x.st.ClearSentData()

	stub := make([]byte, 3*rpc.RecvChunk)
	for i := range stub {
		stub[i] = byte(i)
	}
	x.st.AddRecvData(wire(t, protocol.NewRequest(2, 0, 0, uuid.Nil, stub)))
	for i := 0; i < 4; i++ {
		if rc := x.h.HandleInput(x.h.Handle()); rc != 0 {
			t.Fatalf("HandleInput #%d = %d", i, rc)
		}
	}
	r := x.replies()
	if len(r) != 1 {
		t.Fatalf("replies = %v", r)
	}
	body, _ := r[0].ResponseBody()
	if len(body.StubData) != len(stub) {
		t.Fatalf("echoed %d bytes, want %d", len(body.StubData), len(stub))
	}
}

func TestMalformedHeaderTearsDown(t *testing.T) {
	x := newHarness(t)
	garbage := make([]byte, protocol.HeaderSize)
	garbage[0] = 4
	if rc := x.feed(garbage); rc >= 0 {
		t.Fatalf("HandleInput = %d, want < 0", rc)
	}
	if x.metrics.Counter(control.MetricProtocolErrors) != 1 {
		t.Fatal("protocol error not counted")
	}
}

func TestPeerCloseAndRecvError(t *testing.T) {
	x := newHarness(t)
	x.st.CloseRecv()
	if rc := x.h.HandleInput(x.h.Handle()); rc >= 0 {
		t.Fatalf("EOF HandleInput = %d", rc)
	}

	y := newHarness(t)
	y.st.SetRecvError(errors.New("reset"))
	if rc := y.h.HandleInput(y.h.Handle()); rc >= 0 {
		t.Fatalf("error HandleInput = %d", rc)
	}
}

func TestShortSendIsFatal(t *testing.T) {
	x := newHarness(t)
	x.st.SetSendLimit(8)
	if rc := x.feed(wire(t, bindPDU(1, 0, echoIID))); rc >= 0 {
		t.Fatalf("HandleInput = %d, want < 0", rc)
	}
	if _, ok := x.h.Context(0); ok {
		t.Fatal("context recorded although the ack was not delivered")
	}
}

func TestDispatchFailureAnswersFault(t *testing.T) {
	x := newHarness(t)
	x.table.LookupErr = rpc.ErrOpnumRange
	x.feed(wire(t, bindPDU(1, 0, echoIID)))
	x.st.ClearSentData()

	if rc := x.feed(wire(t, protocol.NewRequest(2, 0, 42, uuid.Nil, nil))); rc != 0 {
		t.Fatalf("HandleInput = %d", rc)
	}
	r := x.replies()
	if len(r) != 1 || !r[0].IsFault() {
		t.Fatalf("replies = %v", r)
	}
	fb, _ := r[0].FaultBody()
	if fb.Status != protocol.StatusOpRangeError {
		t.Fatalf("status = 0x%08x", fb.Status)
	}
	if x.metrics.Counter(control.MetricFaults) != 1 {
		t.Fatal("fault not counted")
	}
}

func TestSecurityProviderStages(t *testing.T) {
	x := newHarness(t)
	x.ssp.Auth3Err = errors.New("bad credentials")
	x.ssp.RequestErr = errors.New("bad signature")

	x.feed(wire(t, bindPDU(1, 0, echoIID)))
	if rc := x.feed(wire(t, protocol.NewAuth3(2, &protocol.AuthVerifier{Type: 10, Level: 2, Value: []byte{1}}))); rc != 0 {
		t.Fatalf("AUTH3 HandleInput = %d, want 0", rc)
	}
	x.st.ClearSentData()
	x.feed(wire(t, protocol.NewRequest(3, 0, 0, uuid.Nil, nil)))
	r := x.replies()
	if len(r) != 1 || !r[0].IsFault() {
		t.Fatalf("replies = %v", r)
	}
	if fb, _ := r[0].FaultBody(); fb.Status != protocol.StatusAccessDenied {
		t.Fatalf("status = 0x%08x", fb.Status)
	}

	y := newHarness(t)
	y.ssp.BindErr = errors.New("no")
	y.feed(wire(t, bindPDU(1, 0, echoIID)))
	if r := y.replies(); len(r) != 1 || !r[0].IsBindNak() {
		t.Fatalf("bind with failing validation = %v", r)
	}
}

func TestAlterContextAddsContext(t *testing.T) {
	x := newHarness(t)
	x.feed(wire(t, bindPDU(1, 0, echoIID)))
	x.st.ClearSentData()

	alter := protocol.NewAlterContext(2, protocol.BindBody{
		Contexts: []protocol.PresentationContext{{
			ID:               1,
			AbstractSyntax:   protocol.SyntaxID{UUID: echoIID, Version: 1},
			TransferSyntaxes: []protocol.SyntaxID{protocol.NDRSyntax},
		}},
	})
	if rc := x.feed(wire(t, alter)); rc != 0 {
		t.Fatalf("HandleInput = %d", rc)
	}
	r := x.replies()
	if len(r) != 1 || !r[0].IsAlterContextResp() {
		t.Fatalf("replies = %v", r)
	}
	if _, ok := x.h.Context(1); !ok {
		t.Fatal("altered context not recorded")
	}
}

func TestBigEndianPeerGetsBigEndianReply(t *testing.T) {
	x := newHarness(t)
	bind := bindPDU(1, 0, echoIID)
	bind.SetDataRep(protocol.BigEndianDrep)
	x.feed(wire(t, bind))
	r := x.replies()
	if len(r) != 1 || r[0].DataRep() != protocol.BigEndianDrep {
		t.Fatalf("reply drep = %v", r)
	}
	if ack, err := r[0].BindAckBody(); err != nil || ack.AssocGroupID != x.h.AssocGroupID() {
		t.Fatalf("ack = %+v, %v", ack, err)
	}
}

func TestUnsupportedTransferSyntaxIsRejectedInAck(t *testing.T) {
	x := newHarness(t)
	bind := protocol.NewBind(1, protocol.BindBody{
		Contexts: []protocol.PresentationContext{{
			ID:               0,
			AbstractSyntax:   protocol.SyntaxID{UUID: echoIID, Version: 1},
			TransferSyntaxes: []protocol.SyntaxID{{UUID: uuid.New(), Version: 1}},
		}},
	})
	x.feed(wire(t, bind))
	r := x.replies()
	if len(r) != 1 || !r[0].IsBindAck() {
		t.Fatalf("replies = %v", r)
	}
	ack, _ := r[0].BindAckBody()
	if ack.Results[0].Result != protocol.ResultProviderRejection || ack.Results[0].Reason != protocol.ReasonTransferSyntaxes {
		t.Fatalf("result = %+v", ack.Results[0])
	}
	if _, ok := x.h.Context(0); ok {
		t.Fatal("context with unsupported transfer syntax recorded")
	}
}

func TestChannelAddFailureRefusesConnection(t *testing.T) {
	r, err := reactor.New()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ssp := fake.NewSecurityProvider()
	ssp.AddErr = errors.New("full")
	srv := rpc.NewIfServer(rpc.NewDispatcher(fake.NewDispatchTable()), rpc.WithSecurityProvider(ssp))
	defer srv.Close()

	st := fake.NewStream()
	if _, err := srv.Adopt(st, r); err == nil {
		t.Fatal("Adopt succeeded although ChannelAdd failed")
	}
	if !st.Closed() || srv.Connections() != 0 {
		t.Fatal("refused connection not released")
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPooledHandoffUnregistersWhileWorkerOwnsConnection(t *testing.T) {
	x := newHarness(t, rpc.WithStrategy(rpc.ThreadPooled), rpc.WithThreadPool(1, 1))
	handle := x.h.Handle()
	registered := func() bool {
		h, ok := x.r.HandlerFind(handle)
		return ok && h == x.h
	}
	if !registered() {
		t.Fatal("adopted connection not registered for reads")
	}

	if rc := x.feed(wire(t, bindPDU(1, 0, echoIID))); rc != 0 {
		t.Fatalf("hand-off HandleInput = %d", rc)
	}
	eventually(t, "re-arm after bind", registered)
	eventually(t, "bind reply", func() bool { return len(x.st.GetSentData()) == 1 })
	if r := x.replies(); !r[0].IsBindAck() {
		t.Fatalf("reply = %s", r[0])
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	x.table.Stub = func(c *rpc.Call) ([]byte, error) {
		close(entered)
		<-release
		return c.StubData, nil
	}
	if rc := x.feed(wire(t, protocol.NewRequest(2, 0, 0, uuid.Nil, []byte("held")))); rc != 0 {
		t.Fatalf("hand-off HandleInput = %d", rc)
	}
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("worker never ran the request")
	}
	if registered() {
		t.Fatal("connection still registered while a worker owns it")
	}
	if mask := x.r.Mask(handle); mask != reactor.NullMask {
		t.Fatalf("mask while owned = %s", mask)
	}
	close(release)

	eventually(t, "re-arm after request", registered)
	eventually(t, "request reply", func() bool { return len(x.st.GetSentData()) == 2 })
	r := x.replies()
	if !r[1].IsResponse() || r[1].CallID() != 2 {
		t.Fatalf("reply = %s", r[1])
	}
	if n := x.metrics.Counter(control.MetricBinds); n != 1 {
		t.Fatalf("binds = %d, want exactly one", n)
	}
	if _, ok := x.h.Context(0); !ok {
		t.Fatal("context 0 not bound")
	}
}
