package cfw

import (
	"bufio"
	"crypto/sha1"
	"crypto/subtle"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flowpbx/flowpbx/internal/cfwproto"
)

// Client is one AS session (§3, §4.2): a Dialog-ID provisioned by the SIP
// collaborator ahead of the TCP accept, later bound to a live socket. Exactly
// one read loop and one transaction manager goroutine serve it.
type Client struct {
	ID          string // Dialog-ID (SDP cfw-id)
	ip          string
	port        int
	fingerprint []byte // expected TLS peer cert SHA-1, nil if not required
	forceKAlive bool

	registry *Registry
	logger   *slog.Logger
	onLost   func(dialogID string)

	mu               sync.Mutex
	conn             net.Conn
	writer           *bufio.Writer
	authenticated    bool
	keepaliveSeconds int
	remaining        time.Duration
	packages         []string
	closed           bool

	tm *transactionManager
}

// NewClient provisions a Client record ahead of its socket arriving.
func NewClient(id, ip string, port int, fingerprint []byte, forceKAlive bool, registry *Registry, logger *slog.Logger, onLost func(string)) *Client {
	return &Client{
		ID:          id,
		ip:          ip,
		port:        port,
		fingerprint: fingerprint,
		forceKAlive: forceKAlive,
		registry:    registry,
		logger:      logger.With("subsystem", "cfw-client", "dialog_id", id),
		onLost:      onLost,
	}
}

// Matches reports whether a just-accepted peer address belongs to this
// Client (§4.1).
func (c *Client) Matches(ip string, port int) bool {
	return c.ip == ip && c.port == port
}

// Attach binds a freshly accepted socket to this Client, completing the TLS
// handshake and fingerprint check when conn is a *tls.Conn (§4.2). The read
// loop and transaction manager start once attach succeeds.
func (c *Client) Attach(conn net.Conn) error {
	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return fmt.Errorf("cfw: tls handshake: %w", err)
		}
		if len(c.fingerprint) > 0 {
			certs := tlsConn.ConnectionState().PeerCertificates
			if len(certs) == 0 {
				conn.Close()
				return errNoPeerCertificate
			}
			sum := sha1.Sum(certs[0].Raw)
			if subtle.ConstantTimeCompare(sum[:], c.fingerprint) != 1 {
				conn.Close()
				return errFingerprintMismatch
			}
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.writer = bufio.NewWriter(conn)
	c.mu.Unlock()

	c.tm = newTransactionManager(c)
	c.tm.start()
	go c.readLoop()
	c.logger.Info("client attached")
	return nil
}

func (c *Client) readLoop() {
	reader := cfwproto.NewReader(c.conn)
	for {
		msg, err := reader.ReadMessage()
		if err != nil {
			c.logger.Info("client read loop ended", "error", err)
			c.teardown()
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg *cfwproto.Message) {
	if !msg.IsRequest() {
		c.tm.handleAck(msg)
		return
	}

	switch msg.Method {
	case cfwproto.MethodSync:
		c.handleSync(msg)
	case cfwproto.MethodKAlive:
		c.handleKAlive(msg)
	case cfwproto.MethodControl:
		c.handleControl(msg)
	case cfwproto.MethodReport:
		// An AS-originated REPORT only ever continues a transaction the MS
		// itself opened; treat it as an informational ack, same as a 200.
		c.tm.handleAck(&cfwproto.Message{TID: msg.TID, Code: cfwproto.Status200})
	default:
		c.send(cfwproto.NewResponse(msg.TID, cfwproto.Status405, ""))
	}
}

func (c *Client) handleSync(msg *cfwproto.Message) {
	dialogID := msg.Header("Dialog-ID")
	keepAlive := msg.Header("Keep-Alive")
	packagesCSV := msg.Header("Packages")
	if dialogID == "" || keepAlive == "" || packagesCSV == "" {
		c.send(cfwproto.NewResponse(msg.TID, cfwproto.Status421, ""))
		return
	}

	ka, err := strconv.Atoi(keepAlive)
	if err != nil || ka <= 0 {
		c.failSync(msg.TID)
		return
	}

	requested := strings.Split(packagesCSV, ",")
	known := c.registry.Names()
	for i, name := range requested {
		requested[i] = strings.TrimSpace(name)
		if base, _, ok := strings.Cut(requested[i], "/"); ok {
			if !known[base] {
				c.failSync(msg.TID)
				return
			}
		} else if !known[requested[i]] {
			c.failSync(msg.TID)
			return
		}
	}

	c.mu.Lock()
	c.authenticated = true
	c.keepaliveSeconds = ka
	c.remaining = time.Duration(ka) * time.Second
	c.packages = requested
	c.mu.Unlock()

	resp := cfwproto.NewResponse(msg.TID, cfwproto.Status200, "")
	resp.SetHeader("Keep-Alive", keepAlive)
	resp.SetHeader("Packages", packagesCSV)
	resp.SetHeader("Supported", c.registry.Supported())
	c.send(resp)
	c.logger.Info("client authenticated", "keep_alive", ka, "packages", packagesCSV)
}

// failSync answers 422 (Packages/Keep-Alive mismatch) and tears the Client
// down rather than leaving an unauthenticated retry window open, matching
// the conservative behavior documented in DESIGN.md.
func (c *Client) failSync(tid string) {
	resp := cfwproto.NewResponse(tid, cfwproto.Status422, "")
	resp.SetHeader("Supported", c.registry.Supported())
	c.send(resp)
	c.teardown()
}

func (c *Client) handleKAlive(msg *cfwproto.Message) {
	if !c.isAuthenticated() {
		c.send(cfwproto.NewResponse(msg.TID, cfwproto.Status403, ""))
		return
	}
	if len(msg.Headers) > 0 {
		c.send(cfwproto.NewResponse(msg.TID, cfwproto.Status400, ""))
		return
	}
	c.refreshKeepalive()
	c.send(cfwproto.NewResponse(msg.TID, cfwproto.Status200, ""))
}

func (c *Client) handleControl(msg *cfwproto.Message) {
	if !c.isAuthenticated() {
		c.send(cfwproto.NewResponse(msg.TID, cfwproto.Status403, ""))
		return
	}

	pkgName := msg.Header("Control-Package")
	if pkgName == "" {
		c.send(cfwproto.NewResponse(msg.TID, cfwproto.Status421, ""))
		return
	}
	name, _, _ := strings.Cut(pkgName, "/")
	pkg, ok := c.registry.Lookup(name)
	if !ok {
		c.send(cfwproto.NewResponse(msg.TID, cfwproto.Status420, ""))
		return
	}
	if ct := msg.Header("Content-Type"); ct != "" && ct != pkg.MIME() {
		c.send(cfwproto.NewResponse(msg.TID, cfwproto.Status420, ""))
		return
	}

	tx, err := c.tm.begin(msg.TID, cfwproto.MethodControl, dirInbound)
	if err != nil {
		c.send(cfwproto.NewResponse(msg.TID, cfwproto.Status423, ""))
		return
	}

	c.refreshKeepalive()
	go func() {
		code, body, ctrlErr := pkg.Control(c.ID, msg.Body)
		c.tm.completeControl(tx, code, pkg.MIME(), body, ctrlErr)
	}()
}

// TransactionCounts reports this Client's open transactions grouped by
// state, for the metrics.TransactionStateCounter hook.
func (c *Client) TransactionCounts() map[string]int {
	if c.tm == nil {
		return nil
	}
	return c.tm.countsByState()
}

// Notify implements mixerpkg.EventSink and ivrpkg.EventSink: it opens a new
// MS-initiated CONTROL transaction carrying the package's event body.
func (c *Client) Notify(clientID, packageName, mimeType string, body []byte) {
	if clientID != c.ID {
		return
	}
	c.tm.startEvent(newEventTID(), packageName, mimeType, body)
}

func (c *Client) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) refreshKeepalive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keepaliveSeconds > 0 {
		c.remaining = time.Duration(c.keepaliveSeconds) * time.Second
	}
}

// checkKeepalive is called once per sweep tick from the transaction
// manager's goroutine (§4.2).
func (c *Client) checkKeepalive() {
	c.mu.Lock()
	if !c.authenticated || c.keepaliveSeconds == 0 {
		c.mu.Unlock()
		return
	}
	c.remaining -= sweepInterval
	expired := c.remaining <= 0
	strict := !c.forceKAlive
	c.mu.Unlock()

	if !expired {
		return
	}
	if strict {
		c.logger.Warn("keepalive expired, ending dialog")
		// teardown() blocks on tm.close(), which waits for this very sweep
		// goroutine to return; run it off-goroutine so run() can exit.
		go c.teardown()
		return
	}
	c.logger.Warn("keepalive expired, lenient mode: resetting")
	c.refreshKeepalive()
}

// send serializes and writes one message, serializing concurrent writers.
func (c *Client) send(msg *cfwproto.Message) {
	c.mu.Lock()
	w := c.writer
	c.mu.Unlock()
	if w == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, err := c.writer.Write(msg.Serialize()); err != nil {
		c.logger.Warn("write failed", "error", err)
		return
	}
	if err := c.writer.Flush(); err != nil {
		c.logger.Warn("flush failed", "error", err)
	}
}

// teardown closes the socket and signals connection loss exactly once.
func (c *Client) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if c.tm != nil {
		c.tm.close()
	}
	if c.onLost != nil {
		c.onLost(c.ID)
	}
}
