package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ppiankov/newsdigest/internal/cache"
	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/ppiankov/newsdigest/internal/worker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const strictInstruction = `Your previous answer was rejected because it did not validate against the JSON Schema.
Reply with exactly one JSON object that validates against the schema. No prose, no markdown fences, no extra keys.`

// ClientConfig is the shared permit, retry and timeout policy for model calls
type ClientConfig struct {
	MaxInFlight       int           // Permit pool size
	RequestsPerMinute int           // 0 disables the RPM limiter
	MaxAttempts       int           // Total attempts for transient failures
	BaseBackoff       time.Duration // First retry delay before jitter
	MaxBackoff        time.Duration // Cap for any single delay
	Timeout           time.Duration // Default per-call timeout
	CacheTTL          time.Duration // TTL for cached responses
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxInFlight:       5,
		RequestsPerMinute: 60,
		MaxAttempts:       3,
		BaseBackoff:       time.Second,
		MaxBackoff:        30 * time.Second,
		Timeout:           45 * time.Second,
		CacheTTL:          6 * time.Hour,
	}
}

// ClientConfigFromModel builds the client policy from the application config
func ClientConfigFromModel(cfg *model.Config) ClientConfig {
	return ClientConfig{
		MaxInFlight:       cfg.Concurrency.MaxInFlight,
		RequestsPerMinute: cfg.Concurrency.RequestsPerMinute,
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseBackoff:       cfg.Retry.BaseBackoff,
		MaxBackoff:        cfg.Retry.MaxBackoff,
		Timeout:           cfg.LLM.Timeout,
		CacheTTL:          cfg.Cache.MemoryTTL,
	}
}

// Call is one structured generation request
type Call struct {
	Name    string        // Log label, usually the stage
	ItemID  string        // Optional id of the item being processed
	System  string        // Instruction block
	Prompt  string        // User content
	Schema  *Schema       // Required output schema
	Timeout time.Duration // Overrides the client default when positive
}

// CallStats reports what a Generate call cost
type CallStats struct {
	Attempts   int
	Retries    int
	Reprompted bool
	Cached     bool
	Latency    time.Duration
}

// Client wraps a Provider with a permit pool, RPM limiting, per-call
// timeouts, retry with backoff, and schema validation. It is safe for
// concurrent use and is shared by every stage of a run.
type Client struct {
	provider Provider
	cfg      ClientConfig
	permits  *semaphore.Weighted
	limiter  *worker.Limiter
	cache    cache.Cache
	logger   zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func() float64
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithLogger sets the structured logger used for per-call records
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithCache enables the response cache
func WithCache(cc cache.Cache) ClientOption {
	return func(c *Client) { c.cache = cc }
}

// WithLimiter replaces the limiter built from RequestsPerMinute
func WithLimiter(l *worker.Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// NewClient creates a Client around provider
func NewClient(provider Provider, cfg ClientConfig, opts ...ClientOption) *Client {
	def := DefaultClientConfig()
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	c := &Client{
		provider: provider,
		cfg:      cfg,
		permits:  semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		logger:   zerolog.Nop(),
		sleep:    sleepContext,
		jitter:   func() float64 { return 0.7 + rand.Float64()*0.6 },
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = worker.NewPerMinuteLimiter(cfg.RequestsPerMinute, cfg.MaxInFlight)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProviderName returns the wrapped provider's name
func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// scope names the provider/model pair that cache entries and rate limits belong to
func (c *Client) scope() string {
	return c.provider.Name() + "/" + c.provider.Model()
}

// Generate runs call and decodes the schema-valid result into out
func (c *Client) Generate(ctx context.Context, call Call, out any) (*CallStats, error) {
	start := time.Now()
	stats := &CallStats{}
	err := c.generate(ctx, call, out, stats)
	stats.Latency = time.Since(start)
	c.logCall(call, stats, err)
	return stats, err
}

func (c *Client) generate(ctx context.Context, call Call, out any, stats *CallStats) error {
	if call.Schema == nil {
		return fmt.Errorf("%s: no output schema", call.Name)
	}
	if err := call.Schema.Compile(); err != nil {
		return err
	}

	key := ""
	if c.cache != nil {
		key = cache.CacheKey(c.scope(), call.Schema.Name(), call.System, call.Prompt)
		if cached, ok := c.cache.Get(key); ok {
			if err := call.Schema.Decode(string(cached), out); err == nil {
				stats.Cached = true
				return nil
			}
			_ = c.cache.Delete(key)
		}
	}

	schemaBlock := "Respond only with JSON that validates against this JSON Schema:\n" + call.Schema.Raw()
	req := Request{
		System: call.System + "\n\n" + schemaBlock,
		Prompt: call.Prompt,
		JSON:   true,
	}
	timeout := call.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	failures := 0
	for {
		stats.Attempts++
		text, err := c.attempt(ctx, req, timeout)
		if err == nil {
			decodeErr := call.Schema.Decode(text, out)
			if decodeErr == nil {
				if key != "" {
					_ = c.cache.Set(key, []byte(text), c.cfg.CacheTTL)
				}
				return nil
			}
			if stats.Reprompted {
				return &ModelError{Kind: KindInvalid, Provider: c.provider.Name(), Err: decodeErr}
			}
			stats.Reprompted = true
			req.System = call.System + "\n\n" + strictInstruction + "\n\n" + schemaBlock
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", call.Name, ctxErr)
		}
		var me *ModelError
		if !errors.As(err, &me) {
			me = newTransportError(c.provider.Name(), err)
			err = me
		}
		if !me.Transient() {
			return err
		}

		failures++
		if failures >= c.cfg.MaxAttempts {
			return fmt.Errorf("retries exhausted after %d attempts: %w", stats.Attempts, err)
		}
		delay := c.backoff(failures, me.RetryAfter)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			return fmt.Errorf("%s: next retry in %s is past the deadline: %w", call.Name, delay, err)
		}
		stats.Retries++
		if err := c.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: backoff: %w", call.Name, err)
		}
	}
}

// attempt performs one provider round trip while holding a permit
func (c *Client) attempt(ctx context.Context, req Request, timeout time.Duration) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.scope()); err != nil {
			return "", err
		}
	}
	if err := c.permits.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.permits.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.provider.Generate(callCtx, req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", &ModelError{Kind: KindTimeout, Provider: c.provider.Name(), Err: err}
		}
		return "", err
	}
	return resp.Text, nil
}

// backoff returns the delay before retry n (1-based). MaxBackoff caps the
// exponential delay only; a provider Retry-After is always honored.
func (c *Client) backoff(n int, retryAfter time.Duration) time.Duration {
	d := c.cfg.BaseBackoff
	for i := 1; i < n && d < c.cfg.MaxBackoff; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * c.jitter())
	if d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}

func (c *Client) logCall(call Call, stats *CallStats, err error) {
	ev := c.logger.Info()
	if err != nil {
		ev = c.logger.Warn().Err(err)
	}
	ev.Str("call", call.Name).
		Str("item", call.ItemID).
		Str("provider", c.provider.Name()).
		Str("model", c.provider.Model()).
		Dur("latency", stats.Latency).
		Int("attempts", stats.Attempts).
		Int("retries", stats.Retries).
		Bool("reprompted", stats.Reprompted).
		Bool("cached", stats.Cached).
		Str("outcome", outcome(err)).
		Msg("model call")
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if kind, ok := KindOf(err); ok {
			return kind.String()
		}
		return "cancelled"
	}
	if kind, ok := KindOf(err); ok {
		return kind.String()
	}
	return "error"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
