// File: rpc/dispatcher_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rpc_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/momentics/hioload-rpc/internal/concurrency"
	"github.com/momentics/hioload-rpc/protocol"
	"github.com/momentics/hioload-rpc/rpc"
)

type recordingPolicy struct {
	modified []uuid.UUID
	restored []int
}

func (p *recordingPolicy) Modify(clsid uuid.UUID) (int, bool) {
	p.modified = append(p.modified, clsid)
	return 7, true
}

func (p *recordingPolicy) Restore(token int) {
	p.restored = append(p.restored, token)
}

func inbound(t *testing.T, out *protocol.PDU) *protocol.PDU {
	t.Helper()
	b, err := out.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	p, err := protocol.Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return p
}

func newEchoRegistry(t *testing.T, stubs ...rpc.StubFunc) *rpc.Registry {
	t.Helper()
	reg := rpc.NewRegistry()
	if len(stubs) == 0 {
		stubs = []rpc.StubFunc{echoStub}
	}
	if err := reg.RegisterInterface(echoIID, stubs); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterObject(uuid.Nil, echoIID, echoCLS, "target"); err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestDispatchResponse(t *testing.T) {
	policy := &recordingPolicy{}
	var seen *rpc.Call
	reg := newEchoRegistry(t, func(c *rpc.Call) ([]byte, error) {
		seen = c
		return append([]byte("re:"), c.StubData...), nil
	})
	d := rpc.NewDispatcher(reg, rpc.WithPriorityPolicy(policy))

	req := inbound(t, protocol.NewRequest(5, 3, 0, uuid.Nil, []byte("hi")))
	reply := &protocol.PDU{}
	if err := d.Dispatch(req, reply, 17, echoIID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !reply.IsResponse() {
		t.Fatalf("reply type %s", protocol.PtypeName(reply.Type()))
	}
	body, err := inbound(t, reply).ResponseBody()
	if err != nil || string(body.StubData) != "re:hi" || body.ContextID != 3 {
		t.Fatalf("ResponseBody = %+v, %v", body, err)
	}
	if seen == nil || seen.ChannelID != 17 || seen.Target != "target" || seen.IID != echoIID {
		t.Fatalf("stub saw %+v", seen)
	}
	if len(policy.modified) != 1 || policy.modified[0] != echoCLS || len(policy.restored) != 1 || policy.restored[0] != 7 {
		t.Fatalf("policy bracket = %v / %v", policy.modified, policy.restored)
	}
}

func TestDispatchStubFault(t *testing.T) {
	reg := newEchoRegistry(t, func(*rpc.Call) ([]byte, error) {
		return nil, rpc.NewFault(0x8007000e)
	})
	d := rpc.NewDispatcher(reg)
	reply := &protocol.PDU{}
	if err := d.Dispatch(inbound(t, protocol.NewRequest(1, 0, 0, uuid.Nil, nil)), reply, 1, echoIID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	fb, err := inbound(t, reply).FaultBody()
	if err != nil || fb.Status != 0x8007000e {
		t.Fatalf("FaultBody = %+v, %v", fb, err)
	}
}

func TestDispatchResolutionErrors(t *testing.T) {
	d := rpc.NewDispatcher(newEchoRegistry(t))
	cases := []struct {
		iid    uuid.UUID
		opnum  uint16
		object uuid.UUID
		status uint32
	}{
		{otherIID, 0, uuid.Nil, protocol.StatusUnknownIf},
		{echoIID, 9, uuid.Nil, protocol.StatusOpRangeError},
		{echoIID, 0, uuid.New(), protocol.StatusInvalidObject},
	}
	for _, tc := range cases {
		req := inbound(t, protocol.NewRequest(1, 0, tc.opnum, tc.object, nil))
		err := d.Dispatch(req, &protocol.PDU{}, 1, tc.iid)
		if err == nil {
			t.Fatalf("Dispatch(%s, %d) succeeded", tc.iid, tc.opnum)
		}
		if got := rpc.FaultStatus(err); got != tc.status {
			t.Errorf("FaultStatus(%v) = 0x%08x, want 0x%08x", err, got, tc.status)
		}
	}
}

func TestDispatchStubPanicBecomesFault(t *testing.T) {
	reg := newEchoRegistry(t, func(*rpc.Call) ([]byte, error) { panic("boom") })
	d := rpc.NewDispatcher(reg)
	reply := &protocol.PDU{}
	if err := d.Dispatch(inbound(t, protocol.NewRequest(1, 0, 0, uuid.Nil, nil)), reply, 1, echoIID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !reply.IsFault() {
		t.Fatal("panicking stub did not produce a FAULT")
	}
}

func TestDispatchPlainStubError(t *testing.T) {
	sentinel := errors.New("backend down")
	reg := newEchoRegistry(t, func(*rpc.Call) ([]byte, error) { return nil, sentinel })
	err := rpc.NewDispatcher(reg).Dispatch(inbound(t, protocol.NewRequest(1, 0, 0, uuid.Nil, nil)), &protocol.PDU{}, 1, echoIID)
	if !errors.Is(err, sentinel) {
		t.Fatalf("Dispatch = %v, want wrapped sentinel", err)
	}
	if rpc.FaultStatus(err) != protocol.StatusFaultUnspec {
		t.Fatalf("FaultStatus = 0x%08x", rpc.FaultStatus(err))
	}
}

func TestThreadPriorityPolicyReportsStrandedThread(t *testing.T) {
	logger, hook := logrustest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	policy := rpc.NewThreadPriorityPolicy()
	policy.SetLogger(logrus.NewEntry(logger))

	type outcome struct{ modified, restored bool }
	res := make(chan outcome, 1)
	// the goroutine owns whatever thread Modify locks, so a stranded thread
	// is discarded when it returns
	go func() {
		cur, err := concurrency.ThreadPriority()
		if err != nil {
			res <- outcome{}
			return
		}
		policy.Set(echoCLS, cur+1)
		prev, ok := policy.Modify(echoCLS)
		if !ok {
			res <- outcome{}
			return
		}
		policy.Restore(prev)
		now, err := concurrency.ThreadPriority()
		res <- outcome{modified: true, restored: err == nil && now == prev}
	}()
	out := <-res
	if !out.modified {
		t.Skip("thread priorities not adjustable here")
	}

	if out.restored {
		if policy.Stranded() != 0 || len(hook.AllEntries()) != 0 {
			t.Fatalf("restored thread reported stranded: %d, %v", policy.Stranded(), hook.AllEntries())
		}
		return
	}
	if policy.Stranded() != 1 {
		t.Fatalf("Stranded = %d, want 1", policy.Stranded())
	}
	e := hook.LastEntry()
	if e == nil || e.Level != logrus.DebugLevel || !strings.Contains(e.Message, "not restored") {
		t.Fatalf("stranded thread not logged: %v", e)
	}
}
