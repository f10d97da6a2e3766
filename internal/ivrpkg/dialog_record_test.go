package ivrpkg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestRecordNoInputLeavesNoMediaFile exercises §8 scenario 6: a vadinitial
// record that never hears voice before its timeout reports termmode=noinput
// and leaves no file on disk.
func TestRecordNoInputLeavesNoMediaFile(t *testing.T) {
	p, adapter, sink, srv := newTestPackage(t)
	defer srv.Close()

	adapter.ProvisionConnection("connA", 0)
	dest := filepath.Join(t.TempDir(), "rec.wav")

	body := []byte(`<mscivr><dialogstart connectionid="connA"><dialog>` +
		`<record vadinitial="true" timeout="40" dest="` + dest + `"/>` +
		`</dialog></dialogstart></mscivr>`)
	if code, _, err := p.Control("client-a", body); err != nil || code != 200 {
		t.Fatalf("dialogstart: code=%d err=%v", code, err)
	}

	select {
	case out := <-sink.notifications:
		if !strings.Contains(string(out), `termmode="noinput"`) {
			t.Errorf("expected termmode=noinput, got %s", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dialogexit event")
	}

	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("expected no media file at %s, stat err=%v", dest, err)
	}
}

// TestAuditReportsDecimalCounts guards against the %q-on-int bug: counts in
// an <auditresponse> must render as plain decimal digits.
func TestAuditReportsDecimalCounts(t *testing.T) {
	p, _, _, srv := newTestPackage(t)
	defer srv.Close()

	body, err := p.audit(&auditOp{})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !strings.Contains(string(body), `dialogs="0"`) {
		t.Errorf("expected dialogs=\"0\", got %s", body)
	}
}
