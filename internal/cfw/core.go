// Package cfw implements the Control Framework protocol engine: the
// transport listener, Client sessions, and the per-Client transaction
// manager described in SPEC_FULL.md §4.1-§4.5.
package cfw

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Core ties the transport listener, the compiled-in package Registry, and
// every provisioned Client together. It is the single implementation of
// mixerpkg.EventSink and ivrpkg.EventSink shared by both packages: an event
// is routed to the Client named by clientID.
type Core struct {
	Registry *Registry

	sipRestrict string
	tlsConfig   *tls.Config
	logger      *slog.Logger

	mu       sync.Mutex
	clients  map[string]*Client
	listener net.Listener
}

// NewCore creates a Core. sipRestrict is the dotted-quad allowlist from
// configuration (§6); tlsConfig is nil when the listener accepts plain TCP.
func NewCore(registry *Registry, sipRestrict string, tlsConfig *tls.Config, logger *slog.Logger) *Core {
	return &Core{
		Registry:    registry,
		sipRestrict: sipRestrict,
		tlsConfig:   tlsConfig,
		logger:      logger.With("subsystem", "cfw-core"),
		clients:     map[string]*Client{},
	}
}

// ProvisionClient registers a Client ahead of its socket arriving, as the
// SIP collaborator does on dialog setup (§3, §4.1).
func (co *Core) ProvisionClient(dialogID, ip string, port int, fingerprint []byte, forceKAlive bool) *Client {
	c := NewClient(dialogID, ip, port, fingerprint, forceKAlive, co.Registry, co.logger, co.release)
	co.mu.Lock()
	co.clients[dialogID] = c
	co.mu.Unlock()
	return c
}

func (co *Core) release(dialogID string) {
	co.mu.Lock()
	delete(co.clients, dialogID)
	co.mu.Unlock()
}

// Start opens the transport listener and begins accepting connections. It
// returns once the socket is bound; acceptLoop runs in its own goroutine so
// Start never blocks on per-Client I/O (§4.1).
func (co *Core) Start(addr string) error {
	ln, err := listen(addr, co.tlsConfig)
	if err != nil {
		return fmt.Errorf("cfw: listen on %s: %w", addr, err)
	}
	co.mu.Lock()
	co.listener = ln
	co.mu.Unlock()
	co.logger.Info("cfw listener started", "addr", addr, "tls", co.tlsConfig != nil)
	go co.acceptLoop(ln)
	return nil
}

// Stop closes the listener. In-flight Clients are left running; callers
// that need a full drain should also tear down each provisioned Client.
func (co *Core) Stop() error {
	co.mu.Lock()
	ln := co.listener
	co.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (co *Core) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			co.logger.Info("cfw accept loop ended", "error", err)
			return
		}
		go co.handleAccept(conn)
	}
}

func (co *Core) handleAccept(conn net.Conn) {
	ip, port, err := splitHostPort(conn.RemoteAddr().String())
	if err != nil {
		co.logger.Warn("cfw: bad peer address", "addr", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}
	if !matchRestrict(co.sipRestrict, ip) {
		co.logger.Warn("cfw: peer rejected by sip.restrict", "ip", ip)
		conn.Close()
		return
	}

	client := co.findByAddr(ip, port)
	if client == nil {
		co.logger.Warn("cfw: no provisioned client for peer", "ip", ip, "port", port)
		conn.Close()
		return
	}
	if err := client.Attach(conn); err != nil {
		co.logger.Warn("cfw: attaching client failed", "dialog_id", client.ID, "error", err)
	}
}

func (co *Core) findByAddr(ip string, port int) *Client {
	co.mu.Lock()
	defer co.mu.Unlock()
	for _, c := range co.clients {
		if c.Matches(ip, port) {
			return c
		}
	}
	return nil
}

// Notify implements mixerpkg.EventSink and ivrpkg.EventSink (§4.6): it
// forwards a package's asynchronous event to the named Client as a new
// MS-initiated CONTROL transaction.
func (co *Core) Notify(clientID, packageName, mimeType string, body []byte) {
	co.mu.Lock()
	c, ok := co.clients[clientID]
	co.mu.Unlock()
	if !ok {
		co.logger.Warn("notify: unknown client", "client_id", clientID)
		return
	}
	c.Notify(clientID, packageName, mimeType, body)
}

// ActiveClientCount implements metrics.ClientCounter.
func (co *Core) ActiveClientCount() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return len(co.clients)
}

// TransactionCountsByState implements metrics.TransactionStateCounter,
// summing every Client's open transactions by state.
func (co *Core) TransactionCountsByState() map[string]int {
	co.mu.Lock()
	clients := make([]*Client, 0, len(co.clients))
	for _, c := range co.clients {
		clients = append(clients, c)
	}
	co.mu.Unlock()

	out := map[string]int{}
	for _, c := range clients {
		for state, n := range c.TransactionCounts() {
			out[state] += n
		}
	}
	return out
}
