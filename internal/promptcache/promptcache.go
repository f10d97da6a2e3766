// Package promptcache implements the prompt fetcher described in
// SPEC_FULL.md §4 ("Prompt cache / fetcher") and the invariant in §8: at most
// one in-flight HTTP fetch per URL at any instant, with concurrent callers
// for the same URL coalesced onto the single in-flight fetch.
package promptcache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decoder decodes a fetched prompt body into PCM frames at the canonical
// intermediate format. Real decoding (WAV/codec parsing) is supplied by the
// caller so this package stays agnostic of audio format; audio codec
// plugins are an external collaborator per §1.
type Decoder func(body []byte) (Prompt, error)

// Prompt is a decoded, cached audio resource: an ordered list of frames plus
// metadata needed by the IVR timeline compiler (clipBegin/clipEnd windows,
// duration).
type Prompt struct {
	URL      string
	Frames   [][]int16 // each entry is one 160-sample PCM16 frame
	Duration time.Duration
}

type entry struct {
	done   chan struct{}
	prompt Prompt
	err    error
}

// Cache coalesces concurrent fetches of the same URL and caches the decoded
// result for subsequent callers (§5 "Prompt cache" shared resource).
type Cache struct {
	client  *http.Client
	decode  Decoder
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	hits   int64
	misses int64
}

// New creates a prompt cache. maxConcurrentFetches sets a golang.org/x/time/rate
// limit on fetch starts: at most that many per second, with a burst of the
// same size. It does not cap how many downloads are in progress at once.
func New(client *http.Client, decode Decoder, maxConcurrentFetches int, logger *slog.Logger) *Cache {
	if client == nil {
		client = http.DefaultClient
	}
	return &Cache{
		client:  client,
		decode:  decode,
		limiter: rate.NewLimiter(rate.Limit(maxConcurrentFetches), maxConcurrentFetches),
		logger:  logger.With("subsystem", "prompt-cache"),
		entries: map[string]*entry{},
	}
}

// Get returns the decoded prompt for url, fetching and decoding it at most
// once no matter how many concurrent callers request the same URL.
func (c *Cache) Get(ctx context.Context, url string) (Prompt, error) {
	c.mu.Lock()
	if e, ok := c.entries[url]; ok {
		c.hits++
		c.mu.Unlock()
		<-e.done
		return e.prompt, e.err
	}

	c.misses++
	e := &entry{done: make(chan struct{})}
	c.entries[url] = e
	c.mu.Unlock()

	e.prompt, e.err = c.fetchAndDecode(ctx, url)
	close(e.done)

	if e.err != nil {
		// Don't poison the cache with a failed fetch; let the next caller retry.
		c.mu.Lock()
		delete(c.entries, url)
		c.mu.Unlock()
	}

	return e.prompt, e.err
}

func (c *Cache) fetchAndDecode(ctx context.Context, url string) (Prompt, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Prompt{}, fmt.Errorf("promptcache: rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Prompt{}, fmt.Errorf("promptcache: building request for %s: %w", url, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Prompt{}, fmt.Errorf("promptcache: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Prompt{}, fmt.Errorf("promptcache: fetching %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Prompt{}, fmt.Errorf("promptcache: reading %s: %w", url, err)
	}

	prompt, err := c.decode(body)
	if err != nil {
		return Prompt{}, fmt.Errorf("promptcache: decoding %s: %w", url, err)
	}
	prompt.URL = url

	c.logger.Debug("prompt fetched and decoded", "url", url, "frames", len(prompt.Frames))
	return prompt, nil
}

// Stats returns cumulative hit/miss counters for the metrics collector.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// InFlight reports whether a fetch for url is currently in progress. A URL
// whose fetch has completed (and is cached) reports false.
func (c *Cache) InFlight(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	if !ok {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}
