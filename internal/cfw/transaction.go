package cfw

import (
	"sync"
	"time"

	"github.com/flowpbx/flowpbx/internal/cfwproto"
	"github.com/flowpbx/flowpbx/internal/clock"
)

// extendedTickInterval is the 8s cadence at which an in-flight CONTROL
// transaction preemptively reports progress (§4.4).
const extendedTickInterval = 8 * time.Second

// sweepInterval is how often the per-Client transaction manager scans its
// transaction table and the keepalive deadline. This is the REDESIGN FLAG
// "per-Client task plus wheel-timer" variant (§9, §5): one goroutine per
// Client sweeps every open transaction instead of one goroutine each.
const sweepInterval = 1 * time.Second

type txDirection int

const (
	dirInbound  txDirection = iota // AS asked, MS answers (SYNC/K-ALIVE/CONTROL)
	dirOutbound                    // MS-initiated event (package Notify), AS must ack
)

type txState int

const (
	txNew txState = iota
	txExtended
	txTerminated
)

func (s txState) String() string {
	switch s {
	case txNew:
		return "new"
	case txExtended:
		return "extended"
	case txTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// transaction is one open tid on a Client, per §4.4's state machine.
type transaction struct {
	tid       string
	method    string
	dir       txDirection
	state     txState
	startedAt time.Time

	extendedTicks int // number of 8s ticks already emitted for this transaction
	seq           int // Seq counter for REPORT update/terminate and outbound events
	acked         bool
}

// transactionManager owns every open transaction for one Client and the
// single sweep goroutine that advances their extended-transaction state and
// the Client's keepalive countdown (§4.4, §5 REDESIGN FLAG).
type transactionManager struct {
	client *Client

	mu      sync.Mutex
	txs     map[string]*transaction
	nextSeq int

	ticker *clock.Ticker
	stop   chan struct{}
	done   chan struct{}
}

func newTransactionManager(c *Client) *transactionManager {
	return &transactionManager{
		client: c,
		txs:    map[string]*transaction{},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (tm *transactionManager) start() {
	tm.ticker = clock.NewTicker(sweepInterval)
	go tm.run()
}

func (tm *transactionManager) run() {
	defer close(tm.done)
	for {
		select {
		case <-tm.stop:
			tm.ticker.Stop()
			return
		case <-tm.ticker.C:
			tm.client.checkKeepalive()
			tm.sweep()
		}
	}
}

func (tm *transactionManager) close() {
	select {
	case <-tm.stop:
	default:
		close(tm.stop)
	}
	<-tm.done
}

// begin registers a new transaction, rejecting a duplicate tid (§4.4, 423).
func (tm *transactionManager) begin(tid, method string, dir txDirection) (*transaction, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if _, exists := tm.txs[tid]; exists {
		return nil, errDuplicateTID
	}
	tx := &transaction{tid: tid, method: method, dir: dir, state: txNew, startedAt: time.Now()}
	tm.txs[tid] = tx
	return tx, nil
}

func (tm *transactionManager) lookup(tid string) (*transaction, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tx, ok := tm.txs[tid]
	return tx, ok
}

func (tm *transactionManager) remove(tid string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.txs, tid)
}

// countsByState is the metrics.TransactionStateCounter hook.
func (tm *transactionManager) countsByState() map[string]int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	out := map[string]int{}
	for _, tx := range tm.txs {
		out[tx.state.String()]++
	}
	return out
}

// sweep advances every open CONTROL transaction's extended-transaction
// timer (§4.4): 8s -> 202, every further 8s -> REPORT update, until the
// package completes and completeControl sends the terminal REPORT.
func (tm *transactionManager) sweep() {
	tm.mu.Lock()
	var due []*transaction
	for _, tx := range tm.txs {
		if tx.dir != dirInbound || tx.method != cfwproto.MethodControl || tx.state == txTerminated {
			continue
		}
		elapsed := time.Since(tx.startedAt)
		wantTicks := int(elapsed / extendedTickInterval)
		if wantTicks > tx.extendedTicks {
			tx.extendedTicks = wantTicks
			tx.state = txExtended
			due = append(due, tx)
		}
	}
	tm.mu.Unlock()

	for _, tx := range due {
		tm.emitExtendedTick(tx)
	}
}

func (tm *transactionManager) emitExtendedTick(tx *transaction) {
	if tx.extendedTicks == 1 {
		msg := cfwproto.NewResponse(tx.tid, cfwproto.Status202, "")
		msg.SetHeader("Timeout", "10")
		tm.client.send(msg)
		return
	}

	tm.mu.Lock()
	tx.seq++
	seq := tx.seq
	tm.mu.Unlock()

	msg := cfwproto.NewRequest(tx.tid, cfwproto.MethodReport)
	msg.SetHeader("Seq", itoa(seq))
	msg.SetHeader("Status", "update")
	msg.SetHeader("Timeout", "10")
	tm.client.send(msg)
}

// completeControl is invoked once a package's Control call returns. Per §7,
// rich application-level codes travel inside the package's own response
// body; the wire-level transaction resolves to 200 (delivered) unless the
// package reported an internal failure (500).
func (tm *transactionManager) completeControl(tx *transaction, pkgCode int, mime string, body []byte, pkgErr error) {
	wireCode := cfwproto.Status200
	if pkgCode == 500 {
		wireCode = cfwproto.Status500
	}

	tm.mu.Lock()
	extended := tx.state == txExtended
	tm.mu.Unlock()

	var msg *cfwproto.Message
	if extended {
		tm.mu.Lock()
		tx.seq++
		seq := tx.seq
		tm.mu.Unlock()
		msg = cfwproto.NewRequest(tx.tid, cfwproto.MethodReport)
		msg.SetHeader("Seq", itoa(seq))
		msg.SetHeader("Status", "terminate")
	} else {
		msg = cfwproto.NewResponse(tx.tid, wireCode, "")
	}
	if len(body) > 0 {
		msg.SetBody(mime, body)
	}
	tm.client.send(msg)

	tm.mu.Lock()
	tx.state = txTerminated
	tm.mu.Unlock()
	tm.remove(tx.tid)

	if pkgErr != nil && wireCode == cfwproto.Status500 {
		tm.client.logger.Warn("control dispatch failed", "tid", tx.tid, "error", pkgErr)
	}
}

// startEvent opens an MS-initiated transaction (a package's asynchronous
// Notify) and ACK-tracks it until a matching 200 arrives (§4.4).
func (tm *transactionManager) startEvent(tid, controlPackage, mime string, body []byte) {
	tm.mu.Lock()
	tx := &transaction{tid: tid, method: cfwproto.MethodControl, dir: dirOutbound, state: txNew, startedAt: time.Now(), seq: 1}
	tm.txs[tid] = tx
	tm.mu.Unlock()

	msg := cfwproto.NewRequest(tid, cfwproto.MethodControl)
	msg.SetHeader("Control-Package", controlPackage)
	msg.SetHeader("Seq", itoa(tx.seq))
	msg.SetBody(mime, body)
	tm.client.send(msg)
}

// handleAck processes an AS response to an MS-initiated event.
func (tm *transactionManager) handleAck(msg *cfwproto.Message) {
	tx, ok := tm.lookup(msg.TID)
	if !ok || tx.dir != dirOutbound {
		return
	}
	if msg.Code == cfwproto.Status200 {
		tm.mu.Lock()
		tx.acked = true
		tx.state = txTerminated
		tm.mu.Unlock()
		tm.remove(msg.TID)
	}
}
