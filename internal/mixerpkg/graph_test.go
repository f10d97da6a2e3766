package mixerpkg

import (
	"testing"

	"github.com/flowpbx/flowpbx/internal/frame"
)

func TestConnectionRejectsSecondInboundEdge(t *testing.T) {
	conn := newNode("conn-1", NodeConnection, "client-a")
	peerA := newNode("conf-a", NodeConference, "client-a")
	peerB := newNode("conf-b", NodeConference, "client-a")

	if err := conn.Attach(peerA, DirSendRecv, 100); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := conn.Attach(peerB, DirSendRecv, 100); err == nil {
		t.Fatal("expected second inbound edge on a Connection to be rejected")
	}
}

func TestConnectionAllowsSendOnlyAfterSendRecv(t *testing.T) {
	conn := newNode("conn-1", NodeConnection, "client-a")
	conf := newNode("conf-a", NodeConference, "client-a")
	other := newNode("conf-b", NodeConference, "client-a")

	if err := conn.Attach(conf, DirSendRecv, 100); err != nil {
		t.Fatalf("attach: %v", err)
	}
	// A second edge that only sends (does not add another inbound leg) must
	// still be permitted.
	if err := conn.Attach(other, DirSendOnly, 100); err != nil {
		t.Fatalf("sendonly attach should not trip the inbound-edge invariant: %v", err)
	}
}

func TestAttachRejectsDuplicateEdge(t *testing.T) {
	a := newNode("a", NodeConnection, "client-a")
	b := newNode("b", NodeConference, "client-a")

	if err := a.Attach(b, DirSendRecv, 100); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := a.Attach(b, DirSendRecv, 100); err != ErrAlreadyJoined {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
}

func TestModifyRequiresExistingEdge(t *testing.T) {
	a := newNode("a", NodeConnection, "client-a")
	b := newNode("b", NodeConference, "client-a")

	if err := a.Modify(b, DirSendRecv, 50); err != ErrNotJoined {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
}

func TestDetachRemovesEdgeAndCounts(t *testing.T) {
	a := newNode("a", NodeConnection, "client-a")
	b := newNode("b", NodeConference, "client-a")

	if err := a.Attach(b, DirSendRecv, 100); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := a.Detach(b.ID); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if a.EdgeTo(b.ID) != nil {
		t.Fatal("edge should be gone after detach")
	}
	if a.inboundCount != 0 || a.outboundCount != 0 {
		t.Fatalf("counts after detach = in %d out %d, want 0/0", a.inboundCount, a.outboundCount)
	}
	// Detaching again must fail: unjoin is not idempotent at the node level,
	// and Package.unjoin passes the error on as 409.
	if err := a.Detach(b.ID); err != ErrNotJoined {
		t.Fatalf("expected ErrNotJoined on second detach, got %v", err)
	}
}

func TestTakeInboxClearsAfterRead(t *testing.T) {
	n := newNode("a", NodeConnection, "client-a")
	if n.TakeInbox() != nil {
		t.Fatal("expected nil inbox before any frame arrives")
	}
	n.SetInbox(&frame.PCM{})
	if n.TakeInbox() == nil {
		t.Fatal("expected a frame")
	}
	if n.TakeInbox() != nil {
		t.Fatal("expected inbox to be cleared after TakeInbox")
	}
}
