package mixerpkg

import (
	"fmt"
	"strings"
	"time"

	"github.com/flowpbx/flowpbx/internal/endpoint"
	"github.com/flowpbx/flowpbx/internal/frame"
)

const activeTalkerNotifyInterval = 2 * time.Second

// mixLoop runs the 20ms mixing tick for one conference until cr.stop is
// closed (§4.7: "a per-conference goroutine driven by a drift-compensating
// ticker"). It is started once, from createConference, and torn down from
// destroyConference.
func (p *Package) mixLoop(confID string, cr *conferenceRuntime) {
	for {
		select {
		case <-cr.stop:
			return
		case <-cr.ticker.C:
			p.mixTick(confID, cr)
		}
	}
}

// mixTick performs the four-step tick described in SPEC_FULL.md §4.7:
//  1. pull each member's inbound frame, scaled by that member's own outbound
//     gain, and note which members are actively talking;
//  2. overlay any queued announcement frames at one-third amplitude;
//  3. for each member whose edge permits receiving, mix everyone else's
//     (already-scaled) contribution, excluding the member's own, plus the
//     announcement overlay, and hand it to the endpoint adapter;
//  4. every activeTalkerNotifyInterval while anyone is talking, emit an
//     active-talkers notification; this does not depend on any subscription.
func (p *Package) mixTick(confID string, cr *conferenceRuntime) {
	p.mu.Lock()
	members := make(map[string]*Node, len(cr.members))
	for id, n := range cr.members {
		members[id] = n
	}
	p.ticksProcessed++
	p.mu.Unlock()

	contributions := make(map[string]*frame.PCM, len(members))
	var talkers []string

	for id, member := range members {
		edge := member.EdgeTo(confID)
		if edge == nil || !edge.Dir.includesSend() {
			continue
		}
		raw := member.TakeInbox()
		if raw == nil {
			continue
		}
		scaled := frame.PCM{TxID: raw.TxID}
		if !edge.Muted {
			if !raw.Silent() {
				talkers = append(talkers, id)
			}
			scaled = frame.Scale(raw, gainFactor(edge.GainPercent))
		}
		contributions[id] = &scaled
	}

	announce := cr.node.DrainAnnouncements()
	var overlay frame.PCM
	if announce != nil {
		overlay = frame.Scale(announce, 1.0/3.0)
	}

	p.mu.Lock()
	endpoints := make(map[string]*endpoint.Endpoint, len(members))
	for id := range members {
		endpoints[id] = p.endpoints[id]
	}
	p.mu.Unlock()

	for id, member := range members {
		edge := member.EdgeTo(confID)
		if edge == nil || !edge.Dir.includesRecv() {
			continue
		}
		ep := endpoints[id]
		if ep == nil {
			continue
		}
		mixed := frame.MixExcluding(contributions, id)
		out := frame.Mix(&mixed, &overlay)
		p.adapter.SendFrame(ep, out)
	}

	if len(talkers) > 0 && time.Since(cr.lastNotify) >= activeTalkerNotifyInterval {
		cr.lastNotify = time.Now()
		p.notifyActiveTalkers(confID, cr, talkers)
	}
}

func (p *Package) notifyActiveTalkers(confID string, cr *conferenceRuntime, talkers []string) {
	if p.events == nil {
		return
	}
	body := fmt.Sprintf(`<mscmixer><event><active-talkers-notify conferenceid=%q talkers=%q/></event></mscmixer>`,
		confID, strings.Join(talkers, ","))
	p.events.Notify(cr.node.Owner, PackageName, MIMEType, []byte(body))
}
