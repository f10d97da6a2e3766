// Package cfwproto implements the CFW wire grammar: parsing and serializing
// "CFW <tid> <METHOD-or-code>" framed text messages with CRLF-terminated
// headers and an optional Content-Length-delimited body.
package cfwproto

import (
	"fmt"
	"strconv"
	"strings"
)

// Method names recognized in a request first line. Matching is
// case-insensitive per §4.3.
const (
	MethodSync    = "SYNC"
	MethodControl = "CONTROL"
	MethodReport  = "REPORT"
	MethodKAlive  = "K-ALIVE"
)

// Status codes recognized on the wire (§6).
const (
	Status200 = 200 // OK
	Status202 = 202 // accepted, extended transaction in progress
	Status400 = 400 // bad request
	Status403 = 403 // forbidden (unauthenticated, or wrong owning Client)
	Status405 = 405 // unknown method
	Status420 = 420 // unknown package / Content-Type mismatch
	Status421 = 421 // missing mandatory element
	Status422 = 422 // SYNC Packages/Keep-Alive mismatch
	Status423 = 423 // duplicate tid
	Status481 = 481 // unknown transaction
	Status500 = 500 // internal error
)

// ReasonPhrase returns a short human-readable reason for well-known codes.
func ReasonPhrase(code int) string {
	switch code {
	case Status200:
		return "OK"
	case Status202:
		return "Accepted"
	case Status400:
		return "Bad Request"
	case Status403:
		return "Forbidden"
	case Status405:
		return "Method Not Allowed"
	case Status420:
		return "Bad Package"
	case Status421:
		return "Missing Parameter"
	case Status422:
		return "Unacceptable Parameter"
	case Status423:
		return "Transaction Already Exists"
	case Status481:
		return "Transaction Does Not Exist"
	case Status500:
		return "Internal Server Error"
	default:
		return ""
	}
}

// Message is a single parsed CFW frame: either a request (Method set) or a
// response (Code != 0).
type Message struct {
	TID    string
	Method string // request: SYNC/CONTROL/REPORT/K-ALIVE
	Code   int    // response: 3-digit status
	Reason string

	Headers map[string]string
	Body    []byte
}

// IsRequest reports whether this message is a request rather than a response.
func (m *Message) IsRequest() bool {
	return m.Code == 0
}

// Header returns a header value, case-insensitively, or "".
func (m *Message) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// NewRequest builds a request message.
func NewRequest(tid, method string) *Message {
	return &Message{TID: tid, Method: strings.ToUpper(method), Headers: map[string]string{}}
}

// NewResponse builds a response message.
func NewResponse(tid string, code int, reason string) *Message {
	if reason == "" {
		reason = ReasonPhrase(code)
	}
	return &Message{TID: tid, Code: code, Reason: reason, Headers: map[string]string{}}
}

// SetHeader sets a header, preserving the canonical case used on the wire.
func (m *Message) SetHeader(name, value string) {
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	m.Headers[name] = value
}

// SetBody sets the message body and the Content-Length header accordingly.
// contentType may be empty when the body is empty.
func (m *Message) SetBody(contentType string, body []byte) {
	m.Body = body
	if len(body) > 0 {
		if contentType != "" {
			m.SetHeader("Content-Type", contentType)
		}
		m.SetHeader("Content-Length", strconv.Itoa(len(body)))
	}
}

// headerOrder is the canonical serialization order (§4.3): fields written in
// the order Seq, Status, Timeout, Content-Type, Content-Length, then any
// others, then the body.
var headerOrder = []string{"Seq", "Status", "Timeout", "Content-Type", "Content-Length"}

// Serialize renders the message to wire bytes.
func (m *Message) Serialize() []byte {
	var b strings.Builder
	if m.IsRequest() {
		fmt.Fprintf(&b, "CFW %s %s\r\n", m.TID, m.Method)
	} else {
		if m.Reason != "" {
			fmt.Fprintf(&b, "CFW %s %d %s\r\n", m.TID, m.Code, m.Reason)
		} else {
			fmt.Fprintf(&b, "CFW %s %d\r\n", m.TID, m.Code)
		}
	}

	written := map[string]bool{}
	for _, name := range headerOrder {
		if v, ok := lookupHeader(m.Headers, name); ok {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
			written[strings.ToLower(name)] = true
		}
	}
	for name, v := range m.Headers {
		if written[strings.ToLower(name)] {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", name, v)
	}
	b.WriteString("\r\n")
	if len(m.Body) > 0 {
		b.Write(m.Body)
	}
	return []byte(b.String())
}

func lookupHeader(h map[string]string, name string) (string, bool) {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
