package ivrpkg

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flowpbx/flowpbx/internal/clock"
	"github.com/flowpbx/flowpbx/internal/endpoint"
	"github.com/flowpbx/flowpbx/internal/frame"
	"github.com/flowpbx/flowpbx/internal/recording"
)

// EventSink delivers an asynchronous MS->AS notification (dialogexit,
// dtmfnotify) as a new CONTROL transaction on the owning Client.
type EventSink interface {
	Notify(clientID, packageName, mimeType string, body []byte)
}

// dialogState is the lifecycle position of a Dialog (§4.8).
type dialogState int

const (
	stateIdle dialogState = iota
	statePreparing
	statePrepared
	stateStarting
	stateStarted
	stateTerminated
)

// Dialog is one IVR dialog instance: its prompt timeline, collect grammar,
// record sink, and VCR state, driven by a single 20ms tick goroutine per
// §5 ("one task per active Dialog").
type Dialog struct {
	ID    string
	Owner string

	mu    sync.Mutex
	state dialogState

	def         *dialog
	timeline    *Timeline
	collector   *Collector
	recordCfg   *recordElem
	controlCfg  *controlElem
	maxDuration time.Duration

	connID string
	ep     *endpoint.Endpoint
	node   *dialogNode

	// playback position, one cursor per track
	trackPos []int
	paused   bool

	sink       *recording.Sink
	sinkOpener func() (*recording.Sink, error)

	terminateRequested bool
	terminateImmediate bool
	connectionLost     bool

	exitStatus    ExitStatus
	collectResult *CollectResult
	bargein       bool
	recordStarted bool
	recordTermMode string
	lastVoiceAt   time.Time

	startedAt time.Time

	ticker *clock.Ticker
	stop   chan struct{}
	done   chan struct{}

	events EventSink
	sink2adapter *endpoint.Adapter
}

// dialogNode buffers the dialog's own inbound audio frame and pending DTMF
// digits, the same shape as the mixer graph's Node.inbox/DTMF handling
// (§4.6/§4.7), scoped to one dialog instead of one mixer edge.
type dialogNode struct {
	mu       sync.Mutex
	inbox    *frame.PCM
	dtmfChan chan byte
}

func newDialogNode() *dialogNode {
	return &dialogNode{dtmfChan: make(chan byte, 32)}
}

func (n *dialogNode) setInbox(f frame.PCM) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := f
	n.inbox = &cp
}

func (n *dialogNode) takeInbox() *frame.PCM {
	n.mu.Lock()
	defer n.mu.Unlock()
	f := n.inbox
	n.inbox = nil
	return f
}

// validateModel enforces the §4.8 model-combination rules: collect and
// record cannot coexist, control requires prompt.
func validateModel(d *dialog) error {
	if d.Collect != nil && d.Record != nil {
		return ErrCollectRecordBoth
	}
	if d.Control != nil && d.Prompt == nil {
		return ErrControlNeedsPrompt
	}
	return nil
}

// newDialog prepares (but does not start) a dialog from its XML definition.
func newDialog(id, owner string, def *dialog, fetch fetchFunc) (*Dialog, error) {
	if err := validateModel(def); err != nil {
		return nil, err
	}

	d := &Dialog{
		ID:         id,
		Owner:      owner,
		state:      statePrepared,
		def:        def,
		recordCfg:  def.Record,
		controlCfg: def.Control,
	}
	if def.MaxDuration > 0 {
		d.maxDuration = time.Duration(def.MaxDuration) * time.Millisecond
	}

	if def.Prompt != nil {
		tl, err := compileTimeline(fetch, def.Prompt)
		if err != nil {
			return nil, err
		}
		d.timeline = tl
		d.trackPos = make([]int, len(tl.Tracks))
	}
	if def.Collect != nil {
		c, err := NewCollector(def.Collect)
		if err != nil {
			return nil, err
		}
		d.collector = c
	}
	return d, nil
}

// bind attaches the dialog to a connection endpoint ahead of dialogstart.
func (d *Dialog) bind(connID string, ep *endpoint.Endpoint, adapter *endpoint.Adapter, events EventSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connID = connID
	d.ep = ep
	d.sink2adapter = adapter
	d.events = events
	d.node = newDialogNode()
}

// setSinkOpener registers the deferred sink constructor for a <record>
// dialog. Opening the file is deferred to the first frame that actually
// starts recording, so a vadinitial dialog that never sees voice leaves no
// media file on disk (§4.8 Record semantics, noinput).
func (d *Dialog) setSinkOpener(opener func() (*recording.Sink, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinkOpener = opener
}

// IncomingFrame implements endpoint.FramePackage.
func (d *Dialog) IncomingFrame(connID string, f frame.PCM) {
	if d.node != nil {
		d.node.setInbox(f)
	}
}

// IncomingDTMF implements endpoint.FramePackage.
func (d *Dialog) IncomingDTMF(connID string, digit byte) {
	if d.node != nil {
		select {
		case d.node.dtmfChan <- digit:
		default:
		}
	}
}

// ConnectionClosing implements endpoint.FramePackage.
func (d *Dialog) ConnectionClosing(connID, subLabel string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminateRequested = true
	d.terminateImmediate = true
	d.connectionLost = true
}

// start launches the dialog's tick goroutine (§5). Returns once the
// playback/collect/record phase ends, via the returned done channel.
func (d *Dialog) start() <-chan struct{} {
	d.mu.Lock()
	d.state = stateStarted
	d.startedAt = time.Now()
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	if d.collector != nil {
		var prebuffered []byte
		if d.ep != nil {
			for {
				digit, ok := d.ep.NextDTMFBuffer()
				if !ok {
					break
				}
				prebuffered = append(prebuffered, digit)
			}
		}
		d.collector.Start(d.startedAt, prebuffered)
	}
	d.ticker = clock.NewTicker(frame.TickInterval)
	d.mu.Unlock()

	go d.run()
	return d.done
}

func (d *Dialog) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case digit := <-d.node.dtmfChan:
			if d.handleDigit(time.Now(), digit) {
				return
			}
		case now := <-d.ticker.C:
			if d.tick(now) {
				return
			}
		}
	}
}

// tick advances playback/record by one 20ms frame and reports whether the
// dialog has completed (and should terminate).
func (d *Dialog) tick(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.terminateImmediate {
		if d.connectionLost {
			d.exitStatus = ExitConnectionTerminated
		} else {
			d.exitStatus = ExitDialogTerminate
		}
		return true
	}
	if d.maxDuration > 0 && now.Sub(d.startedAt) >= d.maxDuration {
		d.exitStatus = ExitMaxDuration
		return true
	}

	if d.recordCfg != nil {
		return d.tickRecord(now)
	}

	promptDone := true
	if d.timeline != nil && !d.paused {
		promptDone = d.tickPlayback()
	}

	if d.collector != nil {
		if done, res := d.collector.Tick(now); done {
			d.collectResult = &res
			d.exitStatus = ExitSuccess
			return true
		}
	}

	if promptDone && d.collector == nil {
		d.exitStatus = ExitSuccess
		return true
	}
	return false
}

// tickPlayback advances every track by one frame, mixes them at their
// configured sound level, and sends the result to the bound connection. It
// returns true once every track has been exhausted.
func (d *Dialog) tickPlayback() bool {
	mixInputs := make([]*frame.PCM, 0, len(d.timeline.Tracks))
	allDone := true
	for i, track := range d.timeline.Tracks {
		if d.trackPos[i] >= len(track.Frames) {
			continue
		}
		allDone = false
		f := track.Frames[d.trackPos[i]]
		scaled := frame.Scale(&f, float64(track.SoundLevel)/100.0)
		mixInputs = append(mixInputs, &scaled)
		d.trackPos[i]++
	}
	if len(mixInputs) > 0 && d.ep != nil && d.sink2adapter != nil {
		mixed := frame.Mix(mixInputs...)
		d.sink2adapter.SendFrame(d.ep, mixed)
	}
	return allDone
}

// tickRecord pulls the dialog's inbound frame, applies VAD gating, and
// appends to the sink (§4.8 Record semantics). The sink itself is opened
// lazily, the first time recording actually starts, so a vadinitial dialog
// that never hears voice before its noinput timeout leaves no media file.
func (d *Dialog) tickRecord(now time.Time) bool {
	if !d.recordStarted {
		noInputTimeout := DefaultNoInputTimeout
		if d.recordCfg.Timeout > 0 {
			noInputTimeout = time.Duration(d.recordCfg.Timeout) * time.Millisecond
		}
		if now.Sub(d.startedAt) >= noInputTimeout {
			d.exitStatus = ExitSuccess
			d.recordTermMode = "noinput"
			return true
		}
	}

	f := d.node.takeInbox()
	if f == nil {
		return false
	}

	if !d.recordStarted {
		if d.recordCfg.VADInitial && f.Silent() {
			return false
		}
		d.recordStarted = true
		d.lastVoiceAt = now
		if d.sinkOpener != nil {
			sink, err := d.sinkOpener()
			if err != nil {
				d.exitStatus = ExitExecutionError
				return true
			}
			d.sink = sink
		}
	}
	if d.sink == nil {
		return true
	}

	if !f.Silent() {
		d.lastVoiceAt = now
	}
	if err := d.sink.Append(f); err != nil {
		d.exitStatus = ExitExecutionError
		return true
	}

	if d.recordCfg.MaxTime > 0 {
		maxDur := time.Duration(d.recordCfg.MaxTime) * time.Millisecond
		if time.Since(d.startedAt) >= maxDur {
			d.exitStatus = ExitSuccess
			d.recordTermMode = "maxtime"
			return true
		}
	}
	if d.recordCfg.VADFinal && d.recordCfg.FinalSilence > 0 {
		finalSilence := time.Duration(d.recordCfg.FinalSilence) * time.Millisecond
		if now.Sub(d.lastVoiceAt) >= finalSilence {
			d.exitStatus = ExitSuccess
			d.recordTermMode = "finalsilence"
			return true
		}
	}
	return false
}

// handleDigit processes a DTMF arrival: a VCR key in <control>, bargein, a
// collect digit, or (recording with dtmfterm) a recording stop.
func (d *Dialog) handleDigit(now time.Time, digit byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := string(digit)

	if d.recordCfg != nil {
		if d.recordCfg.DTMFTerm {
			d.exitStatus = ExitSuccess
			d.recordTermMode = "dtmf"
			return true
		}
		return false
	}

	if d.controlCfg != nil {
		switch key {
		case d.controlCfg.PauseKey:
			d.paused = true
			return false
		case d.controlCfg.ResumeKey:
			d.paused = false
			return false
		case d.controlCfg.StopKey:
			d.exitStatus = ExitSuccess
			return true
		}
	}

	if d.timeline != nil && d.def.Prompt != nil && d.def.Prompt.Bargein && !d.isVCRKey(key) {
		d.bargein = true
		d.paused = true // stop playback immediately; collect, if any, keeps running
		if d.collector == nil {
			d.exitStatus = ExitSuccess
			return true
		}
	}

	if d.collector != nil {
		if done, res := d.collector.PushDigit(now, digit); done {
			d.collectResult = &res
			d.exitStatus = ExitSuccess
			return true
		}
	}
	return false
}

func (d *Dialog) isVCRKey(key string) bool {
	if d.controlCfg == nil {
		return false
	}
	for _, k := range []string{d.controlCfg.StartKey, d.controlCfg.StopKey, d.controlCfg.PauseKey,
		d.controlCfg.ResumeKey, d.controlCfg.FFKey, d.controlCfg.RWKey,
		d.controlCfg.VolUpKey, d.controlCfg.VolDnKey, d.controlCfg.SpeedUpKey, d.controlCfg.SpeedDnKey} {
		if k != "" && k == key {
			return true
		}
	}
	return false
}

// requestTerminate marks the dialog for destruction; immediate stops the
// tick loop at its next boundary, non-immediate lets the in-flight
// iteration finish naturally (§5 Cancellation and timeouts).
func (d *Dialog) requestTerminate(immediate bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminateRequested = true
	if immediate {
		d.terminateImmediate = true
	}
}

// exitEventBody renders the <dialogexit> event body once the dialog's tick
// loop has returned.
func (d *Dialog) exitEventBody() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	var b strings.Builder
	b.WriteString(`<mscivr><event><dialogexit status="`)
	fmt.Fprintf(&b, "%d", d.exitStatus)
	b.WriteString(`">`)
	if d.bargein {
		b.WriteString(`<promptinfo termmode="bargein"/>`)
	} else if d.timeline != nil {
		b.WriteString(`<promptinfo termmode="completed"/>`)
	}
	if d.collectResult != nil {
		fmt.Fprintf(&b, `<collectinfo dtmf=%q termmode=%q/>`, d.collectResult.Digits, string(d.collectResult.TermMode))
	}
	if d.recordCfg != nil {
		if d.sink != nil {
			fmt.Fprintf(&b, `<recordinfo size=%q termmode=%q/>`, fmt.Sprint(d.sink.DataSize()), d.recordTermMode)
		} else {
			fmt.Fprintf(&b, `<recordinfo termmode=%q/>`, d.recordTermMode)
		}
	}
	b.WriteString(`</dialogexit></event></mscivr>`)
	return []byte(b.String())
}
