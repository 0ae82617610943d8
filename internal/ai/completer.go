package ai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

const (
	contextWindow = 8

	// apology is returned when both the primary and the simplified request
	// fail. The bot always answers with something.
	apology = "Sorry, I'm having technical difficulties processing your message " +
		"right now. Please try again in a few moments."
)

var errEmptyResponse = errors.New("empty model response")

// Config carries the completer's upstream settings.
type Config struct {
	Endpoint       string
	Model          string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	CacheTTL       time.Duration
}

type cacheEntry struct {
	response  string
	createdAt time.Time
}

func (e cacheEntry) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.createdAt) > ttl
}

// Completer talks to the text-generation endpoint on behalf of AI rooms.
// Replies are cached by a fingerprint of (system prompt, extracted context)
// so repeated questions inside the TTL are served without an upstream call.
type Completer struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[string]
	log     *zerolog.Logger
	stats   stats.StatsProvider

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry

	counterMu sync.RWMutex
	requests  int
	hits      int
	misses    int
	failures  int
}

func NewCompleter(cfg Config, logger *zerolog.Logger, sp stats.StatsProvider) *Completer {
	c := &Completer{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: cfg.ConnectTimeout,
				}).DialContext,
			},
		},
		log:   logger,
		stats: sp,
		cache: make(map[string]cacheEntry),
	}

	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "ai-upstream",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("ai breaker state change")
		},
	})

	return c
}

// Complete produces the bot's reply for the given room prompt and history
// snapshot. On total upstream failure the reply is a fixed apology so the
// room always hears back; an error is returned only when ctx was cancelled
// before a reply could be produced.
func (c *Completer) Complete(ctx context.Context, prompt, history string) (string, error) {
	requestID := uuid.NewString()
	c.countRequest()
	c.stats.Incr(stats.AIRequests)

	log := c.log.With().Str("request_id", requestID).Logger()

	extracted := extractLatestMessages(history, contextWindow)
	key := fingerprint(prompt, extracted)

	if resp, ok := c.lookup(key); ok {
		c.countHit()
		c.stats.Incr(stats.AICacheHits)
		log.Debug().Msg("serving cached response")
		return resp, nil
	}

	c.countMiss()
	c.stats.Incr(stats.AICacheMisses)

	resp, err := c.breaker.Execute(func() (string, error) {
		return c.primary(ctx, prompt, extracted, &log)
	})
	if err == nil {
		c.store(key, resp)
		return resp, nil
	}

	c.countFailure()
	c.stats.Incr(stats.AIFailures)
	log.Error().Err(err).Msg("primary request failed, retrying simplified")

	resp, err = c.simplified(ctx, history, &log)
	if err != nil {
		log.Error().Err(err).Msg("simplified request failed")
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return apology, nil
	}

	return resp, nil
}

// fingerprint derives the cache key from the prompt and extracted context.
// A NUL separator keeps distinct (prompt, context) splits from colliding.
func fingerprint(prompt, context string) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(context))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Completer) lookup(key string) (string, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()

	entry, ok := c.cache[key]
	if !ok || entry.expired(c.cfg.CacheTTL, time.Now()) {
		return "", false
	}
	return entry.response, true
}

func (c *Completer) store(key, response string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache[key] = cacheEntry{response: response, createdAt: time.Now()}
}

type generateRequest struct {
	Model   string           `json:"model"`
	Prompt  string           `json:"prompt"`
	System  string           `json:"system,omitempty"`
	Stream  bool             `json:"stream"`
	Options *generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *Completer) primary(ctx context.Context, prompt, context string, log *zerolog.Logger) (string, error) {
	req := generateRequest{
		Model:  c.cfg.Model,
		Prompt: buildTranscript(context),
		System: systemPreamble + prompt,
		Stream: false,
		Options: &generateOptions{
			Temperature: 0.8,
			TopP:        0.9,
			TopK:        40,
		},
	}

	log.Debug().Msg("sending primary request")
	return c.send(ctx, req, log)
}

func (c *Completer) simplified(ctx context.Context, history string, log *zerolog.Logger) (string, error) {
	instruction := "Respond naturally and conversationally: "
	if isPortuguese(history) {
		instruction = "Responda de forma natural e conversacional: "
	}

	req := generateRequest{
		Model:  c.cfg.Model,
		Prompt: "<assistant>" + instruction + lastUserLine(history) + "</assistant>",
		Stream: false,
	}

	log.Debug().Msg("sending simplified request")
	return c.send(ctx, req, log)
}

func (c *Completer) send(ctx context.Context, req generateRequest, log *zerolog.Logger) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return "", fmt.Errorf("upstream status %d: %s", httpResp.StatusCode, detail)
	}

	var decoded generateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	cleaned := cleanResponse(decoded.Response)
	if cleaned == "" {
		return "", errEmptyResponse
	}

	log.Debug().Dur("duration", time.Since(start)).Msg("request completed")
	return cleaned, nil
}

func (c *Completer) countRequest() {
	c.counterMu.Lock()
	defer c.counterMu.Unlock()
	c.requests++
}

func (c *Completer) countHit() {
	c.counterMu.Lock()
	defer c.counterMu.Unlock()
	c.hits++
}

func (c *Completer) countMiss() {
	c.counterMu.Lock()
	defer c.counterMu.Unlock()
	c.misses++
}

func (c *Completer) countFailure() {
	c.counterMu.Lock()
	defer c.counterMu.Unlock()
	c.failures++
}

// Stats returns a human-readable usage report.
func (c *Completer) Stats() string {
	c.counterMu.RLock()
	requests, hits, misses, failures := c.requests, c.hits, c.misses, c.failures
	c.counterMu.RUnlock()

	c.cacheMu.RLock()
	size := len(c.cache)
	c.cacheMu.RUnlock()

	hitRate := 0.0
	if requests > 0 {
		hitRate = float64(hits) * 100 / float64(requests)
	}

	return fmt.Sprintf(
		"AI Stats: Requests=%d, Cache Hits=%d, Cache Misses=%d, Failures=%d, Hit Rate=%.1f%%, Cache Size=%d",
		requests, hits, misses, failures, hitRate, size,
	)
}

// PurgeExpired removes entries past their TTL and returns how many went.
func (c *Completer) PurgeExpired() int {
	now := time.Now()

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	removed := 0
	for key, entry := range c.cache {
		if entry.expired(c.cfg.CacheTTL, now) {
			delete(c.cache, key)
			removed++
		}
	}
	return removed
}

// ClearCache drops every cached response.
func (c *Completer) ClearCache() int {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	size := len(c.cache)
	c.cache = make(map[string]cacheEntry)
	return size
}
