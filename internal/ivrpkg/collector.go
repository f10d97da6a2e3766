package ivrpkg

import (
	"sync"
	"time"
)

// Default collect timing, mirroring the teacher's digitbuf.go constants
// (DefaultFirstDigitTimeout/DefaultInterDigitTimeout) with IVR-package names.
const (
	DefaultNoInputTimeout     = 5 * time.Second
	DefaultInterDigitTimeout  = 3 * time.Second
)

// CollectResult is the outcome of one collect operation, feeding
// <collectinfo dtmf=... termmode=.../>.
type CollectResult struct {
	Digits   string
	TermMode CollectTermMode
}

// Collector accumulates DTMF digits against the timing and grammar
// parameters of a <collect> element. Unlike the teacher's DigitBuffer (which
// blocks on a channel read in its own goroutine), Collector is driven
// synchronously from the dialog's 20ms tick and PushDigit calls, since the
// dialog task owns all timing decisions for a given tick epoch (§5).
type Collector struct {
	cfg     collectElem
	grammar *grammar

	mu                 sync.Mutex
	digits             []byte
	active             bool
	noInputDeadline    time.Time
	interDigitDeadline time.Time
	termDeadline       time.Time
}

// NewCollector compiles the grammar (if any) and prepares a collector for
// cfg. Returns an error if the grammar is unsupported (§4.8, 431).
func NewCollector(cfg *collectElem) (*Collector, error) {
	g, err := compileGrammar(cfg.Grammar)
	if err != nil {
		return nil, err
	}
	return &Collector{cfg: *cfg, grammar: g}, nil
}

// Start begins a collection, discarding any pre-buffered tones when the
// element set cleardigitbuffer=true (they are kept otherwise), and arming the
// no-input timeout.
func (c *Collector) Start(now time.Time, prebuffered []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.digits = c.digits[:0]
	if c.cfg.ClearDigitBuffer {
		prebuffered = nil
	}
	for _, d := range prebuffered {
		c.digits = append(c.digits, d)
	}

	c.active = true
	c.noInputDeadline = now.Add(c.timeoutOr(c.cfg.Timeout, DefaultNoInputTimeout))
	c.interDigitDeadline = time.Time{}
	if c.cfg.TermTimeout > 0 {
		c.termDeadline = now.Add(time.Duration(c.cfg.TermTimeout) * time.Millisecond)
	}
}

func (c *Collector) timeoutOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// PushDigit feeds one DTMF digit into the collector. Returns done=true with
// a result once collection completes (escapekey restarts instead of
// completing).
func (c *Collector) PushDigit(now time.Time, digit byte) (done bool, result CollectResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return false, CollectResult{}
	}

	key := string(digit)
	if c.cfg.EscapeKey != "" && key == c.cfg.EscapeKey {
		c.digits = c.digits[:0]
		c.noInputDeadline = now.Add(c.timeoutOr(c.cfg.Timeout, DefaultNoInputTimeout))
		c.interDigitDeadline = time.Time{}
		return false, CollectResult{}
	}

	if c.cfg.TermChar != "" && key == c.cfg.TermChar {
		c.active = false
		return true, CollectResult{Digits: string(c.digits), TermMode: c.evaluate(string(c.digits))}
	}

	c.digits = append(c.digits, digit)
	c.interDigitDeadline = now.Add(c.timeoutOr(c.cfg.InterDigitTimeout, DefaultInterDigitTimeout))

	if c.cfg.MaxDigits > 0 && len(c.digits) >= c.cfg.MaxDigits {
		c.active = false
		return true, CollectResult{Digits: string(c.digits), TermMode: c.evaluate(string(c.digits))}
	}

	if c.grammar != nil {
		switch c.grammar.match(string(c.digits)) {
		case TermMatch:
			if c.grammarIsUnambiguous(string(c.digits)) {
				c.active = false
				return true, CollectResult{Digits: string(c.digits), TermMode: TermMatch}
			}
		case TermNoMatch:
			c.active = false
			return true, CollectResult{Digits: string(c.digits), TermMode: TermNoMatch}
		}
	}

	return false, CollectResult{}
}

// grammarIsUnambiguous reports whether buffer cannot be extended into a
// longer accepted alternative, so collection can stop as soon as it matches
// rather than waiting out the inter-digit timeout.
func (c *Collector) grammarIsUnambiguous(buffer string) bool {
	for _, alt := range c.grammar.alternatives {
		if alt != buffer && len(alt) > len(buffer) && len(buffer) > 0 && alt[:len(buffer)] == buffer {
			return false
		}
	}
	return true
}

func (c *Collector) evaluate(buffer string) CollectTermMode {
	if c.grammar == nil {
		if buffer == "" {
			return TermNoInput
		}
		return TermMatch
	}
	mode := c.grammar.match(buffer)
	if mode == "" {
		return TermNoMatch
	}
	return mode
}

// Tick checks the armed deadlines against now, completing the collection on
// no-input, inter-digit, or term timeout expiry.
func (c *Collector) Tick(now time.Time) (done bool, result CollectResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return false, CollectResult{}
	}

	if len(c.digits) == 0 {
		if !c.noInputDeadline.IsZero() && !now.Before(c.noInputDeadline) {
			c.active = false
			return true, CollectResult{TermMode: TermNoInput}
		}
		return false, CollectResult{}
	}

	if !c.interDigitDeadline.IsZero() && !now.Before(c.interDigitDeadline) {
		c.active = false
		return true, CollectResult{Digits: string(c.digits), TermMode: c.evaluate(string(c.digits))}
	}
	if !c.termDeadline.IsZero() && !now.Before(c.termDeadline) {
		c.active = false
		return true, CollectResult{Digits: string(c.digits), TermMode: c.evaluate(string(c.digits))}
	}
	return false, CollectResult{}
}

// Peek returns the currently buffered digits without consuming them.
func (c *Collector) Peek() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.digits)
}

// Stop cancels an in-progress collection, reporting stopped.
func (c *Collector) Stop() CollectResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	return CollectResult{Digits: string(c.digits), TermMode: TermStopped}
}
