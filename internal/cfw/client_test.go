package cfw

import (
	"bufio"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/flowpbx/flowpbx/internal/cfwproto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestClient wires a Client to one end of a net.Pipe and returns the AS
// side, a reader for responses, and a teardown func.
func newTestClient(t *testing.T, registry *Registry) (*Client, *bufio.Reader, net.Conn) {
	t.Helper()
	asSide, msSide := net.Pipe()

	lost := make(chan string, 1)
	c := NewClient("dialog-1", "", 0, nil, false, registry, testLogger(), func(id string) { lost <- id })
	if err := c.Attach(msSide); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(func() { asSide.Close() })
	return c, bufio.NewReader(asSide), asSide
}

func writeFrame(t *testing.T, conn net.Conn, raw string) {
	t.Helper()
	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func TestClient_SyncSuccess(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubPackage{name: "msc-ivr", version: "1.0", mime: "application/mediaservercontrol+xml"})

	_, r, as := newTestClient(t, registry)

	writeFrame(t, as, "CFW a1b2 SYNC\r\nDialog-ID: d9\r\nKeep-Alive: 30\r\nPackages: msc-ivr/1.0\r\n\r\n")

	first := readLine(t, r)
	if first != "CFW a1b2 200 OK" {
		t.Fatalf("first line = %q", first)
	}
}

func TestClient_SyncUnknownPackage(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubPackage{name: "msc-ivr", version: "1.0", mime: "text/plain"})

	_, r, as := newTestClient(t, registry)
	writeFrame(t, as, "CFW a1b2 SYNC\r\nDialog-ID: d9\r\nKeep-Alive: 30\r\nPackages: msc-bogus/1.0\r\n\r\n")

	first := readLine(t, r)
	if !strings.HasPrefix(first, "CFW a1b2 422") {
		t.Fatalf("first line = %q, want 422", first)
	}
}

func TestClient_KAliveBeforeAuth(t *testing.T) {
	registry := NewRegistry()
	_, r, as := newTestClient(t, registry)

	writeFrame(t, as, "CFW k1 K-ALIVE\r\n\r\n")
	first := readLine(t, r)
	if !strings.HasPrefix(first, "CFW k1 403") {
		t.Fatalf("first line = %q, want 403", first)
	}
}

func TestClient_ControlDispatch(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubPackage{name: "msc-ivr", version: "1.0", mime: "application/mediaservercontrol+xml"})

	_, r, as := newTestClient(t, registry)

	writeFrame(t, as, "CFW s1 SYNC\r\nDialog-ID: d9\r\nKeep-Alive: 30\r\nPackages: msc-ivr/1.0\r\n\r\n")
	readLine(t, r) // sync response

	writeFrame(t, as, "CFW c1 CONTROL\r\nControl-Package: msc-ivr\r\nContent-Type: application/mediaservercontrol+xml\r\nContent-Length: 0\r\n\r\n")

	done := make(chan string, 1)
	go func() {
		done <- readLine(t, r)
	}()

	select {
	case line := <-done:
		if !strings.HasPrefix(line, "CFW c1 200") {
			t.Fatalf("first line = %q, want 200", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control response")
	}
}

func TestClient_ControlUnknownPackage(t *testing.T) {
	registry := NewRegistry()
	_, r, as := newTestClient(t, registry)

	writeFrame(t, as, "CFW s1 SYNC\r\nDialog-ID: d9\r\nKeep-Alive: 30\r\nPackages: \r\n\r\n")
	readLine(t, r) // 421 missing Packages value

	writeFrame(t, as, "CFW c1 CONTROL\r\nControl-Package: msc-bogus\r\n\r\n")
	line := readLine(t, r)
	if !strings.HasPrefix(line, "CFW c1 403") {
		t.Fatalf("first line = %q, want 403 (client never authenticated)", line)
	}
}

func TestClient_DuplicateTID(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubPackage{name: "msc-ivr", version: "1.0", mime: "text/plain"})

	c, r, as := newTestClient(t, registry)
	writeFrame(t, as, "CFW s1 SYNC\r\nDialog-ID: d9\r\nKeep-Alive: 30\r\nPackages: msc-ivr/1.0\r\n\r\n")
	readLine(t, r)

	if _, err := c.tm.begin("dup1", cfwproto.MethodControl, dirInbound); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := c.tm.begin("dup1", cfwproto.MethodControl, dirInbound); err != errDuplicateTID {
		t.Fatalf("begin duplicate: got %v, want errDuplicateTID", err)
	}
}
