// Package ivrpkg's Package type dispatches CONTROL bodies to dialog
// operations and owns every active Dialog (§4.8).
package ivrpkg

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/flowpbx/flowpbx/internal/endpoint"
	"github.com/flowpbx/flowpbx/internal/frame"
	"github.com/flowpbx/flowpbx/internal/promptcache"
	"github.com/flowpbx/flowpbx/internal/recording"
)

// Package is the IVR control package instance, serving every Client.
type Package struct {
	adapter *endpoint.Adapter
	cache   *promptcache.Cache
	events  EventSink
	logger  *slog.Logger

	recordingDir string

	mu      sync.Mutex
	dialogs map[string]*Dialog
}

// New creates an IVR package bound to the given endpoint adapter and prompt
// cache. recordingDir is where <record> sinks are written.
func New(adapter *endpoint.Adapter, cache *promptcache.Cache, events EventSink, recordingDir string, logger *slog.Logger) *Package {
	return &Package{
		adapter:      adapter,
		cache:        cache,
		events:       events,
		recordingDir: recordingDir,
		logger:       logger.With("subsystem", "ivr-package"),
		dialogs:      map[string]*Dialog{},
	}
}

func (p *Package) Name() string    { return PackageName }
func (p *Package) Version() string { return PackageVersion }
func (p *Package) MIME() string    { return MIMEType }

// ActiveDialogCount reports the number of live dialogs, for the
// metrics.DialogCounter hook.
func (p *Package) ActiveDialogCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, d := range p.dialogs {
		if d.state != stateTerminated {
			n++
		}
	}
	return n
}

// Control dispatches one CONTROL body for clientID (§4.4).
func (p *Package) Control(clientID string, body []byte) (statusCode int, respBody []byte, err error) {
	msg, perr := parseControlBody(body)
	if perr != nil {
		return 420, nil, fmt.Errorf("%w: %v", ErrBadDialogXML, perr)
	}

	var opErr error
	switch {
	case msg.DialogPrepare != nil:
		opErr = p.dialogPrepare(clientID, msg.DialogPrepare)
	case msg.DialogStart != nil:
		opErr = p.dialogStart(clientID, msg.DialogStart)
	case msg.DialogTerminate != nil:
		opErr = p.dialogTerminate(clientID, msg.DialogTerminate)
	case msg.Audit != nil:
		var body []byte
		body, opErr = p.audit(msg.Audit)
		if opErr == nil {
			return 200, body, nil
		}
	default:
		return 420, nil, fmt.Errorf("%w: no recognized operation", ErrBadDialogXML)
	}

	code := StatusCode(opErr)
	reason := ""
	if opErr != nil {
		reason = opErr.Error()
	}
	out, merr := xml.Marshal(response{Code: code, Reason: reason})
	if merr != nil {
		return 500, nil, fmt.Errorf("ivrpkg: marshaling response: %w", merr)
	}
	return code, out, opErr
}

func (p *Package) dialogPrepare(clientID string, op *dialogPrepare) error {
	if op.Dialog == nil {
		return fmt.Errorf("%w: dialogprepare has no dialog element", ErrBadDialogXML)
	}

	id := op.ID
	if id == "" {
		id = uuid.NewString()
	}

	p.mu.Lock()
	if _, exists := p.dialogs[id]; exists {
		p.mu.Unlock()
		return ErrIDCollision
	}
	p.mu.Unlock()

	fetch := p.fetchFuncFor(op.Dialog.Prompt)
	d, err := newDialog(id, clientID, op.Dialog, fetch)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.dialogs[id] = d
	p.mu.Unlock()

	p.logger.Info("dialog prepared", "id", id, "client", clientID)
	return nil
}

// fetchFuncFor builds the prompt-cache-backed fetch closure used by the
// timeline compiler, resolving relative <media loc> URIs against xml:base.
func (p *Package) fetchFuncFor(prompt *promptElem) fetchFunc {
	base := ""
	if prompt != nil {
		base = prompt.XMLBase
	}
	return func(loc string) ([]frame.PCM, error) {
		resolved := loc
		if base != "" {
			if u, err := url.Parse(base); err == nil {
				if ref, err := u.Parse(loc); err == nil {
					resolved = ref.String()
				}
			}
		}
		prompt, err := p.cache.Get(context.Background(), resolved)
		if err != nil {
			return nil, err
		}
		frames := make([]frame.PCM, 0, len(prompt.Frames))
		for _, samples := range prompt.Frames {
			var f frame.PCM
			copy(f.Samples[:], samples)
			frames = append(frames, f)
		}
		return frames, nil
	}
}

func (p *Package) dialogStart(clientID string, op *dialogStart) error {
	id := op.PreparedID
	var d *Dialog

	p.mu.Lock()
	if id != "" {
		existing, ok := p.dialogs[id]
		if !ok {
			p.mu.Unlock()
			return ErrUnknownDialog
		}
		d = existing
	}
	p.mu.Unlock()

	if d == nil {
		if op.Dialog == nil {
			return fmt.Errorf("%w: dialogstart needs preparedid or inline dialog", ErrBadDialogXML)
		}
		fetch := p.fetchFuncFor(op.Dialog.Prompt)
		newID := op.ID
		if newID == "" {
			newID = uuid.NewString()
		}
		var err error
		d, err = newDialog(newID, clientID, op.Dialog, fetch)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.dialogs[newID] = d
		p.mu.Unlock()
	}

	if d.Owner != clientID {
		return ErrForbidden
	}

	connID := op.ConnectionID
	if connID == "" {
		connID = op.ConferenceID
	}
	if connID == "" {
		return ErrBadStreamConfig
	}
	ep, err := p.adapter.GetConnection(connID)
	if err != nil {
		return ErrNoSuchConnection
	}

	if d.recordCfg != nil {
		sinkPath := d.recordCfg.Dest
		if sinkPath == "" {
			sinkPath = p.recordingDir + "/" + d.ID + ".wav"
		}
		appendExisting := d.recordCfg.Append
		logger := p.logger
		d.setSinkOpener(func() (*recording.Sink, error) {
			return recording.NewSink(sinkPath, appendExisting, logger, nil)
		})
	}

	d.bind(connID, ep, p.adapter, p.events)
	ep.AddPackage(PackageName, d)

	done := d.start()
	go p.awaitCompletion(clientID, connID, d, done)

	p.logger.Info("dialog started", "id", d.ID, "client", clientID, "connection", connID)
	return nil
}

// awaitCompletion waits for the dialog's tick loop to end and emits the
// dialogexit event (§4.8).
func (p *Package) awaitCompletion(clientID, connID string, d *Dialog, done <-chan struct{}) {
	<-done

	if d.sink != nil {
		d.sink.Stop()
	}
	p.adapter.DropConnection(d.ep)
	d.ep.RemovePackage(PackageName)

	p.mu.Lock()
	d.state = stateTerminated
	p.mu.Unlock()

	if p.events != nil {
		p.events.Notify(clientID, PackageName, MIMEType, d.exitEventBody())
	}
}

func (p *Package) dialogTerminate(clientID string, op *dialogTerminate) error {
	p.mu.Lock()
	d, ok := p.dialogs[op.ID]
	p.mu.Unlock()
	if !ok {
		return ErrUnknownDialog
	}
	if d.Owner != clientID {
		return ErrForbidden
	}
	d.requestTerminate(op.Immediate)
	return nil
}

func (p *Package) audit(op *auditOp) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if op.DialogID != "" {
		d, ok := p.dialogs[op.DialogID]
		if !ok {
			return nil, ErrUnknownDialog
		}
		return []byte(fmt.Sprintf(`<mscivr><auditresponse dialogid=%q state="%d"/></mscivr>`, d.ID, d.state)), nil
	}
	return []byte(fmt.Sprintf(`<mscivr><auditresponse dialogs="%d"/></mscivr>`, len(p.dialogs))), nil
}
