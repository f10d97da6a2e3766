package mixerpkg

import "github.com/flowpbx/flowpbx/internal/frame"

// Package implements endpoint.FramePackage so the endpoint adapter can
// deliver decoded media and DTMF straight to the node that owns the
// connection, without either side depending on the other's concrete type.

// IncomingFrame stores the most recent decoded frame for connID, consumed on
// the next mixing tick of whatever conference it is joined to (§4.7 step 1).
func (p *Package) IncomingFrame(connID string, f frame.PCM) {
	p.mu.Lock()
	n, ok := p.connections[connID]
	p.mu.Unlock()
	if !ok {
		return
	}
	cp := f
	n.SetInbox(&cp)
}

// IncomingDTMF is a no-op for the mixer package; DTMF collection belongs to
// the IVR package (§4.8). The mixer ignores it rather than erroring so a
// connection can be joined to both packages' dialogs/conferences.
func (p *Package) IncomingDTMF(connID string, digit byte) {}

// ConnectionClosing unjoins connID from every peer it was attached to and
// drops its bookkeeping, mirroring an explicit <unjoin> for each edge.
func (p *Package) ConnectionClosing(connID, subLabel string) {
	p.mu.Lock()
	n, ok := p.connections[connID]
	if !ok {
		p.mu.Unlock()
		return
	}
	peers := n.PeerIDs()
	delete(p.connections, connID)
	delete(p.endpoints, connID)
	p.mu.Unlock()

	for _, peerID := range peers {
		n.Detach(peerID)
		if peerNode, ok := p.connections[peerID]; ok {
			peerNode.Detach(connID)
		}
		p.mu.Lock()
		if cr, ok := p.conferences[peerID]; ok {
			delete(cr.members, connID)
		}
		p.mu.Unlock()
	}
}
