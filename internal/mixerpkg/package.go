// Package mixerpkg implements the mixer control package described in
// SPEC_FULL.md §4.7 and §4.9: the conference/connection join graph, XML
// CONTROL dispatch, and the per-20ms mixing loop with echo cancellation and
// active-talker notification.
package mixerpkg

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowpbx/flowpbx/internal/clock"
	"github.com/flowpbx/flowpbx/internal/endpoint"
	"github.com/flowpbx/flowpbx/internal/frame"
)

// EventSink delivers an asynchronous MS->AS notification (conferenceexit,
// unjoin-notify, active-talkers-notify) as a new CONTROL transaction on the
// owning Client. Implemented by the transaction manager (internal/cfw).
type EventSink interface {
	Notify(clientID, packageName, mimeType string, body []byte)
}

type conferenceRuntime struct {
	node       *Node
	members    map[string]*Node // member id -> node (Connection or nested Conference)
	ticker     *clock.Ticker
	stop       chan struct{}
	talkerSub  bool
	talkerIval time.Duration
	lastNotify time.Time
}

// Package is the mixer control package instance. One Package serves every
// Client; node ownership (§3) distinguishes which Client may modify which
// node.
type Package struct {
	adapter *endpoint.Adapter
	events  EventSink
	logger  *slog.Logger

	mu          sync.Mutex
	connections map[string]*Node              // connection id -> node
	endpoints   map[string]*endpoint.Endpoint  // connection id -> endpoint, for SendFrame
	conferences map[string]*conferenceRuntime

	ticksProcessed uint64
}

// New creates a mixer package bound to the given endpoint adapter.
func New(adapter *endpoint.Adapter, events EventSink, logger *slog.Logger) *Package {
	return &Package{
		adapter:     adapter,
		events:      events,
		logger:      logger.With("subsystem", "mixer-package"),
		connections: map[string]*Node{},
		endpoints:   map[string]*endpoint.Endpoint{},
		conferences: map[string]*conferenceRuntime{},
	}
}

// Name, Version, MIMEType identify the package for the registry (§4.5).
func (p *Package) Name() string    { return PackageName }
func (p *Package) Version() string { return PackageVersion }
func (p *Package) MIME() string    { return MIMEType }

// TicksProcessed reports the total number of mixing ticks run across every
// conference, for the metrics collector.
func (p *Package) TicksProcessed() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticksProcessed
}

// ActiveConferenceCount reports the number of live conferences, for the
// metrics.ConferenceCounter hook.
func (p *Package) ActiveConferenceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conferences)
}

// Control dispatches one CONTROL body (§4.4) for clientID, returning the
// response status code and serialized <mscmixer><response .../></mscmixer>
// body.
func (p *Package) Control(clientID string, body []byte) (statusCode int, respBody []byte, err error) {
	msg, perr := parseControlBody(body)
	if perr != nil {
		return 400, nil, fmt.Errorf("mixerpkg: parsing control body: %w", perr)
	}

	var opErr error
	var reason string

	switch {
	case msg.CreateConference != nil:
		opErr = p.createConference(clientID, msg.CreateConference)
	case msg.ModifyConference != nil:
		opErr = p.modifyConference(clientID, msg.ModifyConference)
	case msg.DestroyConference != nil:
		opErr = p.destroyConference(clientID, msg.DestroyConference)
	case msg.Join != nil:
		opErr = p.join(clientID, msg.Join, false)
	case msg.ModifyJoin != nil:
		opErr = p.join(clientID, msg.ModifyJoin, true)
	case msg.Unjoin != nil:
		opErr = p.unjoin(clientID, msg.Unjoin)
	case msg.Audit != nil:
		var auditBody []byte
		auditBody, opErr = p.audit(msg.Audit)
		if opErr == nil {
			return 200, auditBody, nil
		}
	default:
		return 420, nil, fmt.Errorf("mixerpkg: no recognized operation in control body")
	}

	if opErr != nil {
		reason = opErr.Error()
	}
	code := StatusCode(opErr)
	resp := response{Code: code, Reason: reason}
	out, merr := xml.Marshal(resp)
	if merr != nil {
		return 500, nil, fmt.Errorf("mixerpkg: marshaling response: %w", merr)
	}
	return code, out, opErr
}

func (p *Package) createConference(clientID string, op *createConference) error {
	if op.AudioMixing == nil {
		return ErrAudioMixingMissing
	}

	id := op.ID
	if id == "" {
		id = uuid.NewString()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.conferences[id]; exists {
		return ErrIDCollision
	}

	confEP, err := p.adapter.CreateConference(id)
	if err != nil {
		return fmt.Errorf("mixerpkg: %w", ErrIDCollision)
	}
	p.endpoints[id] = confEP

	node := newNode(id, NodeConference, clientID)
	cr := &conferenceRuntime{node: node, members: map[string]*Node{}, stop: make(chan struct{})}
	p.conferences[id] = cr

	cr.ticker = clock.NewTicker(frame.TickInterval)
	go p.mixLoop(id, cr)

	p.logger.Info("conference created", "id", id, "client", clientID)
	return nil
}

func (p *Package) modifyConference(clientID string, op *modifyConference) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cr, ok := p.conferences[op.ID]
	if !ok {
		return ErrUnknownConference
	}
	if cr.node.Owner != clientID {
		return ErrForbidden
	}
	return nil
}

func (p *Package) destroyConference(clientID string, op *destroyConference) error {
	p.mu.Lock()
	cr, ok := p.conferences[op.ID]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownConference
	}
	if cr.node.Owner != clientID {
		p.mu.Unlock()
		return ErrForbidden
	}
	delete(p.conferences, op.ID)
	delete(p.endpoints, op.ID)
	p.mu.Unlock()

	close(cr.stop)
	cr.ticker.Stop()
	p.adapter.CloseConnection(op.ID)

	if p.events != nil {
		p.events.Notify(clientID, PackageName, MIMEType, []byte(`<mscmixer><event><conferenceexit conferenceid="`+op.ID+`"/></event></mscmixer>`))
	}
	p.logger.Info("conference destroyed", "id", op.ID, "client", clientID)
	return nil
}

// resolveNode finds the Node for id, which may be a connection (provisioned
// by SIP/SDP and lazily registered here on first reference) or a conference.
func (p *Package) resolveNode(clientID, id string) (*Node, error) {
	if cr, ok := p.conferences[id]; ok {
		return cr.node, nil
	}
	if n, ok := p.connections[id]; ok {
		return n, nil
	}
	ep, err := p.adapter.GetConnection(id)
	if err != nil {
		return nil, ErrNoSuchConnection
	}
	n := newNode(id, NodeConnection, clientID)
	p.connections[id] = n
	p.endpoints[id] = ep
	ep.AddPackage(PackageName, p)
	return n, nil
}

func (p *Package) join(clientID string, op *joinOp, requireExisting bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n1, err := p.resolveNode(clientID, op.ID1)
	if err != nil {
		return err
	}
	n2, err := p.resolveNode(clientID, op.ID2)
	if err != nil {
		return err
	}

	if n1.Owner != "" && n1.Owner != clientID {
		return ErrForbidden
	}
	if n2.Owner != "" && n2.Owner != clientID {
		return ErrForbidden
	}

	dir := DirSendRecv
	gain := 100
	if len(op.Streams) > 0 {
		s := op.Streams[0]
		if s.Media != "" && s.Media != "audio" {
			return ErrStreamConfig
		}
		dir = directionFromStr(s.Direction)
		gain = gainFromVolume(s.Volume)
	}

	existingEdge := n1.EdgeTo(n2.ID)
	if requireExisting && existingEdge == nil {
		return ErrNotJoined
	}
	if !requireExisting && existingEdge != nil {
		return ErrAlreadyJoined
	}

	var err1, err2 error
	if requireExisting {
		err1 = n1.Modify(n2, dir, gain)
		err2 = n2.Modify(n1, complement(dir), gain)
	} else {
		err1 = n1.Attach(n2, dir, gain)
		if err1 == nil {
			err2 = n2.Attach(n1, complement(dir), gain)
			if err2 != nil {
				n1.Detach(n2.ID)
			}
		}
	}
	if err1 != nil {
		return err1
	}
	if err2 != nil {
		return err2
	}

	p.registerMembership(n1, n2)
	p.registerMembership(n2, n1)

	return nil
}

// registerMembership tracks conference membership for the mixing loop when
// one side of a join is a Conference.
func (p *Package) registerMembership(confNode, memberNode *Node) {
	if confNode.Kind != NodeConference {
		return
	}
	if cr, ok := p.conferences[confNode.ID]; ok {
		cr.members[memberNode.ID] = memberNode
	}
}

func (p *Package) unjoin(clientID string, op *unjoinOp) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n1, err := p.resolveNode(clientID, op.ID1)
	if err != nil {
		return err
	}
	n2, err := p.resolveNode(clientID, op.ID2)
	if err != nil {
		return err
	}
	if n1.Owner != "" && n1.Owner != clientID {
		return ErrForbidden
	}

	if err := n1.Detach(n2.ID); err != nil {
		return err
	}
	n2.Detach(n1.ID)

	if cr, ok := p.conferences[n1.ID]; ok {
		delete(cr.members, n2.ID)
	}
	if cr, ok := p.conferences[n2.ID]; ok {
		delete(cr.members, n1.ID)
	}

	if p.events != nil {
		p.events.Notify(clientID, PackageName, MIMEType, []byte(`<mscmixer><event><unjoin-notify id1="`+op.ID1+`" id2="`+op.ID2+`"/></event></mscmixer>`))
	}
	return nil
}

func (p *Package) audit(op *auditOp) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if op.ConferenceID != "" {
		cr, ok := p.conferences[op.ConferenceID]
		if !ok {
			return nil, ErrUnknownConference
		}
		return []byte(fmt.Sprintf(`<mscmixer><auditresponse conferenceid=%q members="%d"/></mscmixer>`, cr.node.ID, len(cr.members))), nil
	}
	return []byte(fmt.Sprintf(`<mscmixer><auditresponse conferences="%d" connections="%d"/></mscmixer>`, len(p.conferences), len(p.connections))), nil
}

func complement(dir Direction) Direction {
	switch dir {
	case DirSendOnly:
		return DirRecvOnly
	case DirRecvOnly:
		return DirSendOnly
	default:
		return dir
	}
}
