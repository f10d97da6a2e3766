package mixerpkg

import (
	"sync"

	"github.com/flowpbx/flowpbx/internal/frame"
)

// NodeKind distinguishes a Connection (one audio endpoint, at most one
// inbound edge) from a Conference (many-leg mix point, no inbound limit).
type NodeKind int

const (
	NodeConnection NodeKind = iota
	NodeConference
)

// Direction mirrors the <stream direction="..."> values (§4.7).
type Direction string

const (
	DirSendRecv Direction = "sendrecv"
	DirSendOnly Direction = "sendonly"
	DirRecvOnly Direction = "recvonly"
	DirInactive Direction = "inactive"
)

func (d Direction) includesSend() bool {
	return d == DirSendRecv || d == DirSendOnly
}

func (d Direction) includesRecv() bool {
	return d == DirSendRecv || d == DirRecvOnly
}

// Edge is one directed join between two nodes, held symmetrically on both
// endpoints' edge tables (§3 "Mixer Node").
type Edge struct {
	Peer        string
	Dir         Direction
	GainPercent int
	Muted       bool
	ClampTones  string
}

func gainFactor(percent int) float64 {
	return float64(percent) / 100.0
}

// Node is a mixer-graph participant: a Connection wrapping one audio
// endpoint, or a Conference mix point. Edge state lives in a central map
// keyed by (node, peer) per the REDESIGN FLAG in SPEC_FULL.md §9 ("mutable
// graph with peer back-references" -> central edge map keyed by stable ids).
type Node struct {
	ID    string
	Kind  NodeKind
	Owner string // client id that created this node (authorization, §3)

	mu            sync.Mutex
	edges         map[string]*Edge // peer id -> edge
	inboundCount  int
	outboundCount int

	// inbox holds the most recently decoded frame from this node's own
	// endpoint, consumed once per mixing tick (§4.7 step 1).
	inbox *frame.PCM

	// announce holds queued announcement frames injected via sendFrame,
	// overlaid at one-third amplitude (§4.7 step 2).
	announce []frame.PCM

	lastTalker bool
}

func newNode(id string, kind NodeKind, owner string) *Node {
	return &Node{ID: id, Kind: kind, Owner: owner, edges: map[string]*Edge{}}
}

// Attach implements the attach(peer, dir, vol) algorithm of §4.9.
func (n *Node) Attach(peer *Node, dir Direction, gainPercent int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.Kind == NodeConnection && dir.includesRecv() && n.inboundCount > 0 {
		return ErrCannotJoin
	}
	if _, exists := n.edges[peer.ID]; exists {
		return ErrAlreadyJoined
	}

	n.edges[peer.ID] = &Edge{Peer: peer.ID, Dir: dir, GainPercent: gainPercent}
	if dir.includesRecv() {
		n.inboundCount++
	}
	if dir.includesSend() {
		n.outboundCount++
	}
	return nil
}

// Modify implements modify(peer, dir, vol): like Attach but the edge must
// already exist; counts are adjusted atomically under the node's mutex so
// the invariant holds at every observation point.
func (n *Node) Modify(peer *Node, dir Direction, gainPercent int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, exists := n.edges[peer.ID]
	if !exists {
		return ErrNotJoined
	}

	wasRecv, wasSend := e.Dir.includesRecv(), e.Dir.includesSend()
	nowRecv, nowSend := dir.includesRecv(), dir.includesSend()

	if n.Kind == NodeConnection && nowRecv && !wasRecv && n.inboundCount > 0 {
		return ErrCannotJoin
	}

	e.Dir = dir
	e.GainPercent = gainPercent

	if wasRecv && !nowRecv {
		n.inboundCount--
	} else if !wasRecv && nowRecv {
		n.inboundCount++
	}
	if wasSend && !nowSend {
		n.outboundCount--
	} else if !wasSend && nowSend {
		n.outboundCount++
	}
	return nil
}

// Detach implements detach(peer): removes the edge and decrements counts.
// It does not touch the node's inbox; the node holds no per-peer frame
// queue, so there is no pending frame to purge. The caller is responsible for
// removing the symmetric edge on the peer node and for emitting
// unjoin-notify.
func (n *Node) Detach(peerID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, exists := n.edges[peerID]
	if !exists {
		return ErrNotJoined
	}
	if e.Dir.includesRecv() {
		n.inboundCount--
	}
	if e.Dir.includesSend() {
		n.outboundCount--
	}
	delete(n.edges, peerID)
	return nil
}

// EdgeTo returns a copy of the edge to peer, or nil if not joined.
func (n *Node) EdgeTo(peerID string) *Edge {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.edges[peerID]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// PeerIDs returns the ids of every node joined to n.
func (n *Node) PeerIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.edges))
	for id := range n.edges {
		ids = append(ids, id)
	}
	return ids
}

// SetInbox stores the most recently decoded frame from this node's own
// endpoint, consumed at the next mixing tick.
func (n *Node) SetInbox(f *frame.PCM) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inbox = f
}

// TakeInbox returns and clears the pending inbound frame, or nil if none has
// arrived since the last tick.
func (n *Node) TakeInbox() *frame.PCM {
	n.mu.Lock()
	defer n.mu.Unlock()
	f := n.inbox
	n.inbox = nil
	return f
}

// QueueAnnouncement enqueues an announcement frame for overlay at one-third
// amplitude on the next mixing tick (sendFrame, §4.6).
func (n *Node) QueueAnnouncement(f frame.PCM) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.announce = append(n.announce, f)
}

// DrainAnnouncements pops and mixes all queued announcement frames into one,
// or returns nil if none are queued.
func (n *Node) DrainAnnouncements() *frame.PCM {
	n.mu.Lock()
	pending := n.announce
	n.announce = nil
	n.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	frames := make([]*frame.PCM, len(pending))
	for i := range pending {
		frames[i] = &pending[i]
	}
	mixed := frame.Mix(frames...)
	return &mixed
}
