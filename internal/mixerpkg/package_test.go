package mixerpkg

import (
	"log/slog"
	"testing"

	"github.com/flowpbx/flowpbx/internal/endpoint"
	"github.com/flowpbx/flowpbx/internal/frame"
)

type recordingSink struct {
	notifications []string
}

func (r *recordingSink) Notify(clientID, pkgName, mime string, body []byte) {
	r.notifications = append(r.notifications, string(body))
}

func newTestPackage() (*Package, *endpoint.Adapter, *recordingSink) {
	adapter := endpoint.NewAdapter()
	sink := &recordingSink{}
	p := New(adapter, sink, slog.Default())
	return p, adapter, sink
}

func tone(amplitude int16) frame.PCM {
	var f frame.PCM
	for i := range f.Samples {
		f.Samples[i] = amplitude
	}
	return f
}

func TestCreateConferenceRequiresAudioMixing(t *testing.T) {
	p, _, _ := newTestPackage()
	body := []byte(`<mscmixer><createconference id="conf1"/></mscmixer>`)
	code, _, err := p.Control("client-a", body)
	if err == nil || code != 421 {
		t.Fatalf("expected 421/ErrAudioMixingMissing, got code=%d err=%v", code, err)
	}
}

func TestCreateJoinMixAndEchoCancellation(t *testing.T) {
	p, adapter, _ := newTestPackage()

	createBody := []byte(`<mscmixer><createconference id="conf1"><audio-mixing type="nbest" n="3"/></createconference></mscmixer>`)
	if code, _, err := p.Control("client-a", createBody); err != nil || code != 200 {
		t.Fatalf("createconference: code=%d err=%v", code, err)
	}

	adapter.ProvisionConnection("connA", 0)
	adapter.ProvisionConnection("connB", 0)

	joinA := []byte(`<mscmixer><join id1="connA" id2="conf1"><stream media="audio" direction="sendrecv"><volume controltype="setgain" value="-3"/></stream></join></mscmixer>`)
	if code, _, err := p.Control("client-a", joinA); err != nil || code != 200 {
		t.Fatalf("join A: code=%d err=%v", code, err)
	}
	joinB := []byte(`<mscmixer><join id1="connB" id2="conf1"><stream media="audio" direction="sendrecv"/></join></mscmixer>`)
	if code, _, err := p.Control("client-a", joinB); err != nil || code != 200 {
		t.Fatalf("join B: code=%d err=%v", code, err)
	}

	// Stop the background ticker so the test drives mixTick deterministically.
	cr, ok := p.conferences["conf1"]
	if !ok {
		t.Fatal("conference runtime missing")
	}
	cr.ticker.Stop()

	connANode := p.connections["connA"]
	connBNode := p.connections["connB"]
	aFrame := tone(1000)
	connANode.SetInbox(&aFrame)
	bFrame := tone(2000)
	connBNode.SetInbox(&bFrame)

	p.mixTick("conf1", cr)

	// B should hear A's contribution scaled to 50% (1000 * 0.5 = 500), and
	// should not hear any part of its own contribution (echo cancellation).
	// A should hear B's unscaled contribution (2000) and none of its own.
	// SendFrame is a no-op on the reference adapter, so assert indirectly
	// via the mix math instead by recomputing what mixTick should have
	// produced from the node state directly.
	if connANode.TakeInbox() != nil {
		t.Fatal("expected connA inbox to be drained by the tick")
	}
	if connBNode.TakeInbox() != nil {
		t.Fatal("expected connB inbox to be drained by the tick")
	}

	edgeA := connANode.EdgeTo("conf1")
	edgeB := connBNode.EdgeTo("conf1")
	if edgeA == nil || edgeB == nil || edgeA.GainPercent != 50 {
		t.Fatalf("edges after join: A=%+v B=%+v, want A at 50%%", edgeA, edgeB)
	}
	scaledA := frame.Scale(&aFrame, gainFactor(edgeA.GainPercent))
	scaledB := frame.Scale(&bFrame, gainFactor(edgeB.GainPercent))
	contributions := map[string]*frame.PCM{"connA": &scaledA, "connB": &scaledB}
	if toB := frame.MixExcluding(contributions, "connB"); toB.Samples[0] != 500 {
		t.Errorf("mix heard by B = %d, want 500", toB.Samples[0])
	}
	if toA := frame.MixExcluding(contributions, "connA"); toA.Samples[0] != 2000 {
		t.Errorf("mix heard by A = %d, want 2000", toA.Samples[0])
	}
}

func TestJoinRejectsSecondInboundLegOnConnection(t *testing.T) {
	p, adapter, _ := newTestPackage()

	for _, id := range []string{"conf1", "conf2"} {
		createBody := []byte(`<mscmixer><createconference id="` + id + `"><audio-mixing type="nbest" n="3"/></createconference></mscmixer>`)
		if code, _, err := p.Control("client-a", createBody); err != nil || code != 200 {
			t.Fatalf("createconference %s: code=%d err=%v", id, code, err)
		}
	}
	adapter.ProvisionConnection("connA", 0)

	join1 := []byte(`<mscmixer><join id1="connA" id2="conf1"><stream media="audio" direction="recvonly"/></join></mscmixer>`)
	if code, _, err := p.Control("client-a", join1); err != nil || code != 200 {
		t.Fatalf("join 1: code=%d err=%v", code, err)
	}
	join2 := []byte(`<mscmixer><join id1="connA" id2="conf2"><stream media="audio" direction="recvonly"/></join></mscmixer>`)
	if code, _, err := p.Control("client-a", join2); err == nil || code != 411 {
		t.Fatalf("expected 411 ErrCannotJoin for second inbound leg, got code=%d err=%v", code, err)
	}
}

func TestUnjoinThenRejoinSucceeds(t *testing.T) {
	p, adapter, _ := newTestPackage()
	createBody := []byte(`<mscmixer><createconference id="conf1"><audio-mixing type="nbest" n="3"/></createconference></mscmixer>`)
	if code, _, err := p.Control("client-a", createBody); err != nil || code != 200 {
		t.Fatalf("createconference: code=%d err=%v", code, err)
	}
	adapter.ProvisionConnection("connA", 0)

	joinBody := []byte(`<mscmixer><join id1="connA" id2="conf1"/></mscmixer>`)
	if code, _, err := p.Control("client-a", joinBody); err != nil || code != 200 {
		t.Fatalf("join: code=%d err=%v", code, err)
	}

	unjoinBody := []byte(`<mscmixer><unjoin id1="connA" id2="conf1"/></mscmixer>`)
	if code, _, err := p.Control("client-a", unjoinBody); err != nil || code != 200 {
		t.Fatalf("unjoin: code=%d err=%v", code, err)
	}

	if code, _, err := p.Control("client-a", joinBody); err != nil || code != 200 {
		t.Fatalf("rejoin after unjoin: code=%d err=%v", code, err)
	}
}

func TestDestroyConferenceForbiddenForNonOwner(t *testing.T) {
	p, _, _ := newTestPackage()
	createBody := []byte(`<mscmixer><createconference id="conf1"><audio-mixing type="nbest" n="3"/></createconference></mscmixer>`)
	if code, _, err := p.Control("client-a", createBody); err != nil || code != 200 {
		t.Fatalf("createconference: code=%d err=%v", code, err)
	}
	destroyBody := []byte(`<mscmixer><destroyconference id="conf1"/></mscmixer>`)
	if code, _, err := p.Control("client-b", destroyBody); err == nil || code != 403 {
		t.Fatalf("expected 403 for non-owner destroy, got code=%d err=%v", code, err)
	}
}
