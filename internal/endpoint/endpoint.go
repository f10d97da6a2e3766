// Package endpoint implements the collaborator-face adapter described in
// SPEC_FULL.md §4.6: the only point through which the mixer and IVR control
// packages touch the media plane. RTP/RTCP transport and SIP/SDP signaling
// are external collaborators (see §1); this package never parses a wire RTP
// packet, it only ever hands already-decoded PCM frames to packages and
// accepts already-decoded PCM frames from them.
package endpoint

import (
	"errors"
	"sync"

	"github.com/flowpbx/flowpbx/internal/frame"
)

// Kind distinguishes a Connection (one SIP media leg) from a Conference
// (many-leg mix point created by a package's createconference call).
type Kind int

const (
	KindConnection Kind = iota
	KindConference
)

// ErrNotFound is returned when a connection/conference id is unknown.
var ErrNotFound = errors.New("endpoint: not found")

// ErrAlreadyExists is returned by CreateConference on id collision.
var ErrAlreadyExists = errors.New("endpoint: already exists")

// FramePackage is the subset of a control package's capabilities the
// adapter dispatches inbound events to (§4.6 "when a package is attached").
type FramePackage interface {
	// IncomingFrame delivers one decoded 20ms PCM frame from the endpoint.
	IncomingFrame(connID string, f frame.PCM)
	// IncomingDTMF delivers a single detected DTMF digit.
	IncomingDTMF(connID string, digit byte)
	// ConnectionClosing is invoked exactly once when the endpoint is torn
	// down, naming the primary connection id and, if this package was
	// attached to a sub-leg, that sub-leg's label.
	ConnectionClosing(connID, subLabel string)
}

// Endpoint is one media leg or conference mix point. PayloadType and Label
// are relevant to connections; conferences ignore them.
type Endpoint struct {
	ID          string
	Kind        Kind
	MediaType   string // "audio" | "unknown"
	PayloadType int

	mu       sync.Mutex
	refCount int
	packages map[string]FramePackage // keyed by package name
	dtmfBuf  []byte                  // FIFO buffered while no collect is active
}

func newEndpoint(id string, kind Kind, payloadType int) *Endpoint {
	return &Endpoint{
		ID:          id,
		Kind:        kind,
		MediaType:   "audio",
		PayloadType: payloadType,
		packages:    map[string]FramePackage{},
	}
}

// AddPackage attaches a package so it receives inbound callbacks (§4.6).
func (e *Endpoint) AddPackage(name string, pkg FramePackage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.packages[name] = pkg
}

// RemovePackage stops dispatch to the named package.
func (e *Endpoint) RemovePackage(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.packages, name)
}

// ClearDTMFBuffer discards any tones buffered while no collect was active.
func (e *Endpoint) ClearDTMFBuffer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dtmfBuf = e.dtmfBuf[:0]
}

// NextDTMFBuffer pops the oldest buffered tone, or returns ok=false if empty.
func (e *Endpoint) NextDTMFBuffer() (digit byte, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.dtmfBuf) == 0 {
		return 0, false
	}
	digit = e.dtmfBuf[0]
	e.dtmfBuf = e.dtmfBuf[1:]
	return digit, true
}

// deliverFrame fans an inbound frame out to every attached package.
func (e *Endpoint) deliverFrame(f frame.PCM) {
	e.mu.Lock()
	pkgs := make([]FramePackage, 0, len(e.packages))
	for _, p := range e.packages {
		pkgs = append(pkgs, p)
	}
	e.mu.Unlock()
	for _, p := range pkgs {
		p.IncomingFrame(e.ID, f)
	}
}

// deliverDTMF fans an inbound DTMF digit out to every attached package, and
// buffers it if nobody is attached to consume it directly.
func (e *Endpoint) deliverDTMF(digit byte) {
	e.mu.Lock()
	n := len(e.packages)
	if n == 0 {
		e.dtmfBuf = append(e.dtmfBuf, digit)
	}
	pkgs := make([]FramePackage, 0, n)
	for _, p := range e.packages {
		pkgs = append(pkgs, p)
	}
	e.mu.Unlock()
	for _, p := range pkgs {
		p.IncomingDTMF(e.ID, digit)
	}
}

// closing notifies every attached package that the endpoint is going away,
// exactly once each, then detaches them all.
func (e *Endpoint) closing(subLabel string) {
	e.mu.Lock()
	pkgs := make([]FramePackage, 0, len(e.packages))
	for _, p := range e.packages {
		pkgs = append(pkgs, p)
	}
	e.packages = map[string]FramePackage{}
	e.mu.Unlock()
	for _, p := range pkgs {
		p.ConnectionClosing(e.ID, subLabel)
	}
}

// Adapter is the in-process reference implementation of the endpoint
// collaborator face. Real deployments bind the same interface to a live
// RTP/SIP stack; in this implementation SendFrame discards the frame and
// inbound audio enters only through InjectFrame. It is what the mixer/IVR
// packages are driven against in this repository.
type Adapter struct {
	mu          sync.RWMutex
	connections map[string]*Endpoint
}

// NewAdapter creates an empty adapter.
func NewAdapter() *Adapter {
	return &Adapter{connections: map[string]*Endpoint{}}
}

// ProvisionConnection registers a connection endpoint as already negotiated
// by the SIP/SDP collaborator (§3 "created by SIP/SDP negotiation").
func (a *Adapter) ProvisionConnection(connID string, payloadType int) *Endpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	ep := newEndpoint(connID, KindConnection, payloadType)
	a.connections[connID] = ep
	return ep
}

// GetConnection returns a connection endpoint, incrementing its usage count.
func (a *Adapter) GetConnection(connID string) (*Endpoint, error) {
	a.mu.RLock()
	ep, ok := a.connections[connID]
	a.mu.RUnlock()
	if !ok || ep.Kind != KindConnection {
		return nil, ErrNotFound
	}
	ep.mu.Lock()
	ep.refCount++
	ep.mu.Unlock()
	return ep, nil
}

// CreateConference creates a conference endpoint; confId must be unique.
func (a *Adapter) CreateConference(confID string) (*Endpoint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.connections[confID]; exists {
		return nil, ErrAlreadyExists
	}
	ep := newEndpoint(confID, KindConference, 0)
	a.connections[confID] = ep
	return ep, nil
}

// DropConnection decrements the usage count; when it reaches zero for a
// conference, the endpoint is torn down and ConnectionClosing fires.
func (a *Adapter) DropConnection(ep *Endpoint) {
	ep.mu.Lock()
	ep.refCount--
	remaining := ep.refCount
	ep.mu.Unlock()

	if ep.Kind == KindConference && remaining <= 0 {
		a.mu.Lock()
		delete(a.connections, ep.ID)
		a.mu.Unlock()
		ep.closing("")
	}
}

// CloseConnection forcibly tears down a connection (SIP teardown upcall).
func (a *Adapter) CloseConnection(connID string) {
	a.mu.Lock()
	ep, ok := a.connections[connID]
	if ok {
		delete(a.connections, connID)
	}
	a.mu.Unlock()
	if ok {
		ep.closing("")
	}
}

// SendFrame delivers a frame toward the peer. In this reference adapter
// there is no live RTP leg, so the call is a no-op beyond bookkeeping;
// concrete deployments wire this to the RTP relay.
func (a *Adapter) SendFrame(ep *Endpoint, f frame.PCM) {
	_ = ep
	_ = f
}

// InjectFrame simulates an inbound frame arriving from the peer — used by
// tests and by whatever RTP relay a real deployment attaches.
func (a *Adapter) InjectFrame(connID string, f frame.PCM) {
	a.mu.RLock()
	ep, ok := a.connections[connID]
	a.mu.RUnlock()
	if ok {
		ep.deliverFrame(f)
	}
}

// InjectDTMF simulates an inbound telephone-event digit.
func (a *Adapter) InjectDTMF(connID string, digit byte) {
	a.mu.RLock()
	ep, ok := a.connections[connID]
	a.mu.RUnlock()
	if ok {
		ep.deliverDTMF(digit)
	}
}

// GetSubConnection resolves a logical sub-leg by media or label. This
// reference adapter has no sub-leg concept (single-stream connections only),
// so it returns the same endpoint when media=="audio" and ErrNotFound
// otherwise.
func (a *Adapter) GetSubConnection(ep *Endpoint, mediaOrLabel string) (*Endpoint, error) {
	if mediaOrLabel == "" || mediaOrLabel == "audio" {
		return ep, nil
	}
	return nil, ErrNotFound
}
