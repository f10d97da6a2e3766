package ivrpkg

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flowpbx/flowpbx/internal/endpoint"
	"github.com/flowpbx/flowpbx/internal/promptcache"
)

type recordingSink struct {
	notifications chan []byte
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notifications: make(chan []byte, 8)}
}

func (r *recordingSink) Notify(clientID, pkgName, mime string, body []byte) {
	r.notifications <- body
}

func newTestPackage(t *testing.T) (*Package, *endpoint.Adapter, *recordingSink, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("clip-bytes"))
	}))
	decode := func(body []byte) (promptcache.Prompt, error) {
		return promptcache.Prompt{Frames: [][]int16{{0}, {0}, {0}}}, nil
	}
	cache := promptcache.New(srv.Client(), decode, 4, slog.Default())
	adapter := endpoint.NewAdapter()
	sink := newRecordingSink()
	dir := t.TempDir()
	p := New(adapter, cache, sink, dir, slog.Default())
	return p, adapter, sink, srv
}

func TestDialogPrepareRejectsCollectAndRecordTogether(t *testing.T) {
	p, _, _, srv := newTestPackage(t)
	defer srv.Close()

	body := []byte(`<mscivr><dialogprepare id="d1"><dialog><collect maxdigits="1"/><record/></dialog></dialogprepare></mscivr>`)
	code, _, err := p.Control("client-a", body)
	if err == nil || code != 433 {
		t.Fatalf("expected 433 ErrCollectRecordBoth, got code=%d err=%v", code, err)
	}
}

func TestDialogPrepareRejectsControlWithoutPrompt(t *testing.T) {
	p, _, _, srv := newTestPackage(t)
	defer srv.Close()

	body := []byte(`<mscivr><dialogprepare id="d1"><dialog><control stopkey="#"/></dialog></dialogprepare></mscivr>`)
	code, _, err := p.Control("client-a", body)
	if err == nil || code != 435 {
		t.Fatalf("expected 435 ErrControlNeedsPrompt, got code=%d err=%v", code, err)
	}
}

func TestDialogPrepareAndStartRunsPromptToCompletion(t *testing.T) {
	p, adapter, sink, srv := newTestPackage(t)
	defer srv.Close()

	adapter.ProvisionConnection("connA", 0)

	prepareBody := []byte(`<mscivr><dialogprepare id="d1"><dialog><prompt><media loc="` + srv.URL + `"/></prompt></dialog></dialogprepare></mscivr>`)
	if code, _, err := p.Control("client-a", prepareBody); err != nil || code != 200 {
		t.Fatalf("dialogprepare: code=%d err=%v", code, err)
	}

	startBody := []byte(`<mscivr><dialogstart preparedid="d1" connectionid="connA"/></mscivr>`)
	if code, _, err := p.Control("client-a", startBody); err != nil || code != 200 {
		t.Fatalf("dialogstart: code=%d err=%v", code, err)
	}

	select {
	case body := <-sink.notifications:
		if !strings.Contains(string(body), "dialogexit") {
			t.Errorf("expected dialogexit event, got %s", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dialogexit event")
	}
}

func TestDialogTerminateImmediateEndsPromptEarly(t *testing.T) {
	p, adapter, sink, srv := newTestPackage(t)
	defer srv.Close()

	adapter.ProvisionConnection("connA", 0)

	prepareBody := []byte(`<mscivr><dialogprepare id="d1"><dialog><prompt><media loc="` + srv.URL + `"/></prompt></dialog></dialogprepare></mscivr>`)
	if code, _, err := p.Control("client-a", prepareBody); err != nil || code != 200 {
		t.Fatalf("dialogprepare: code=%d err=%v", code, err)
	}
	startBody := []byte(`<mscivr><dialogstart preparedid="d1" connectionid="connA"/></mscivr>`)
	if code, _, err := p.Control("client-a", startBody); err != nil || code != 200 {
		t.Fatalf("dialogstart: code=%d err=%v", code, err)
	}

	terminateBody := []byte(`<mscivr><dialogterminate id="d1" immediate="true"/></mscivr>`)
	if code, _, err := p.Control("client-a", terminateBody); err != nil || code != 200 {
		t.Fatalf("dialogterminate: code=%d err=%v", code, err)
	}

	select {
	case body := <-sink.notifications:
		if !strings.Contains(string(body), `status="0"`) {
			t.Errorf("expected dialog-terminate status 0, got %s", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dialogexit event")
	}
}

func TestAuditUnknownDialog(t *testing.T) {
	p, _, _, srv := newTestPackage(t)
	defer srv.Close()

	body := []byte(`<mscivr><audit dialogid="missing"/></mscivr>`)
	if code, _, err := p.Control("client-a", body); err == nil || code != 406 {
		t.Fatalf("expected 406 ErrUnknownDialog, got code=%d err=%v", code, err)
	}
}
