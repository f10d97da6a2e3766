package cfwproto

import (
	"strconv"
	"strings"
	"testing"
)

func TestReadMessageSync(t *testing.T) {
	raw := "CFW a1b2 SYNC\r\nDialog-ID: d9\r\nKeep-Alive: 30\r\nPackages: msc-ivr/1.0,msc-mixer/1.0\r\n\r\n"
	r := NewReader(strings.NewReader(raw))

	msg, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.TID != "a1b2" {
		t.Errorf("TID = %q, want a1b2", msg.TID)
	}
	if msg.Method != MethodSync {
		t.Errorf("Method = %q, want SYNC", msg.Method)
	}
	if msg.Header("Dialog-ID") != "d9" {
		t.Errorf("Dialog-ID = %q, want d9", msg.Header("Dialog-ID"))
	}
	if msg.Header("Keep-Alive") != "30" {
		t.Errorf("Keep-Alive = %q, want 30", msg.Header("Keep-Alive"))
	}
}

func TestReadMessageControlWithBody(t *testing.T) {
	body := "<mscivr><dialogstart/></mscivr>"
	raw := "CFW t1 CONTROL\r\nControl-Package: msc-ivr/1.0\r\nContent-Type: application/msc-ivr+xml\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
	r := NewReader(strings.NewReader(raw))

	msg, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(msg.Body) != body {
		t.Errorf("Body = %q, want %q", msg.Body, body)
	}
	if msg.Header("Control-Package") != "msc-ivr/1.0" {
		t.Errorf("Control-Package = %q", msg.Header("Control-Package"))
	}
}

func TestReadMessageResponse(t *testing.T) {
	raw := "CFW a1b2 200 OK\r\nKeep-Alive: 30\r\n\r\n"
	r := NewReader(strings.NewReader(raw))

	msg, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.IsRequest() {
		t.Errorf("IsRequest() = true, want false")
	}
	if msg.Code != 200 {
		t.Errorf("Code = %d, want 200", msg.Code)
	}
}

func TestReadMessageBadTID(t *testing.T) {
	raw := "CFW bad!tid SYNC\r\n\r\n"
	r := NewReader(strings.NewReader(raw))

	if _, err := r.ReadMessage(); err == nil {
		t.Fatal("expected error for invalid tid")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	msg := NewRequest("xyz1", MethodSync)
	msg.SetHeader("Dialog-ID", "d1")
	msg.SetHeader("Keep-Alive", "30")
	msg.SetHeader("Packages", "msc-ivr/1.0")

	wire := msg.Serialize()
	r := NewReader(strings.NewReader(string(wire)))
	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("round trip parse: %v", err)
	}
	if got.TID != msg.TID || got.Method != msg.Method {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, msg)
	}
	if got.Header("Dialog-ID") != "d1" {
		t.Errorf("Dialog-ID lost in round trip")
	}
}

func TestSerializeHeaderOrder(t *testing.T) {
	msg := NewResponse("t1", Status202, "")
	msg.SetHeader("Timeout", "10")
	msg.SetHeader("Seq", "1")
	wire := string(msg.Serialize())
	if !strings.Contains(wire, "CFW t1 202") {
		t.Errorf("missing status line: %q", wire)
	}
	if !strings.Contains(wire, "Timeout: 10\r\n") {
		t.Errorf("missing Timeout header: %q", wire)
	}
	if i := strings.Index(wire, "Seq: 1"); i < 0 || i > strings.Index(wire, "Timeout: 10") {
		t.Errorf("Seq must be serialized before Timeout (canonical order): %q", wire)
	}
}
