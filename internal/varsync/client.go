package varsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/otreward/internal/metrics"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Names lists the variables to fetch. Empty fetches everything.
	Names []string

	// UpdatePeriod is the number of episodes between refreshes.
	UpdatePeriod int

	// Retries is the number of extra attempts after a failed fetch.
	Retries int

	// Backoff is the base delay between retries; attempt n waits n*Backoff.
	Backoff time.Duration

	// WaitInterval is the polling interval while waiting for the first
	// snapshot.
	WaitInterval time.Duration
}

// DefaultClientOptions returns options matching a learner that publishes
// a "policy" variable every few steps.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Names:        []string{"policy"},
		UpdatePeriod: 1,
		Retries:      3,
		Backoff:      200 * time.Millisecond,
		WaitInterval: 500 * time.Millisecond,
	}
}

// Client caches the latest snapshot pulled from a Source. It is owned by a
// single actor and is not safe for concurrent use.
type Client struct {
	source  Source
	opts    ClientOptions
	logger  zerolog.Logger
	metrics *metrics.Collector

	snapshot Snapshot
	ready    bool
	episodes int
	fetches  int
}

// NewClient creates a client for source.
func NewClient(source Source, opts ClientOptions, logger zerolog.Logger) (*Client, error) {
	if source == nil {
		return nil, fmt.Errorf("variable source is required")
	}
	if opts.UpdatePeriod <= 0 {
		return nil, fmt.Errorf("update period must be positive")
	}
	if opts.Retries < 0 {
		return nil, fmt.Errorf("retries must not be negative")
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = DefaultClientOptions().WaitInterval
	}
	return &Client{source: source, opts: opts, logger: logger}, nil
}

// WithMetrics makes the client report installed versions to m.
func (c *Client) WithMetrics(m *metrics.Collector) *Client {
	c.metrics = m
	return c
}

// UpdateAndWait fetches the latest snapshot, blocking until the source has
// published at least once. Transport failures are retried; running out of
// retries returns ErrSyncExhausted.
func (c *Client) UpdateAndWait(ctx context.Context) error {
	for {
		err := c.fetch(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotReady) {
			return err
		}
		c.logger.Debug().Dur("interval", c.opts.WaitInterval).Msg("Waiting for first variable snapshot")
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for variables: %w", ctx.Err())
		case <-time.After(c.opts.WaitInterval):
		}
	}
}

// Update records one finished episode and refreshes the snapshot when the
// update period has elapsed.
func (c *Client) Update(ctx context.Context) error {
	c.episodes++
	if c.episodes%c.opts.UpdatePeriod != 0 {
		return nil
	}
	err := c.fetch(ctx)
	if errors.Is(err, ErrNotReady) && c.ready {
		c.logger.Warn().Int64("version", c.snapshot.Version).Msg("Source has no variables, keeping cached snapshot")
		return nil
	}
	return err
}

// Params returns the cached snapshot, or ErrNotReady before the first
// successful fetch.
func (c *Client) Params() (Snapshot, error) {
	if !c.ready {
		return Snapshot{}, ErrNotReady
	}
	return c.snapshot, nil
}

// Version returns the cached snapshot version, 0 before the first fetch.
func (c *Client) Version() int64 {
	return c.snapshot.Version
}

// Fetches returns how many refreshes have reached the source successfully.
func (c *Client) Fetches() int {
	return c.fetches
}

// Episodes returns how many episodes Update has been told about.
func (c *Client) Episodes() int {
	return c.episodes
}

func (c *Client) fetch(ctx context.Context) error {
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("fetching variables: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * c.opts.Backoff):
			}
		}

		snapshot, err := c.source.Variables(ctx, c.opts.Names)
		if err == nil {
			c.install(snapshot, time.Since(start))
			return nil
		}
		if errors.Is(err, ErrNotReady) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("fetching variables: %w", ctx.Err())
		}
		lastErr = err
		c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Variable fetch failed")
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrSyncExhausted, c.opts.Retries+1, lastErr)
}

func (c *Client) install(snapshot Snapshot, latency time.Duration) {
	c.fetches++
	if c.ready && snapshot.Version <= c.snapshot.Version {
		c.logger.Debug().
			Int64("cached", c.snapshot.Version).
			Int64("fetched", snapshot.Version).
			Msg("Ignoring stale variable snapshot")
		return
	}
	c.snapshot = snapshot
	c.ready = true
	c.logger.Info().Int64("version", snapshot.Version).Msg("Installed variable snapshot")
	if c.metrics != nil {
		c.metrics.ParamsSynced(snapshot.Version, latency)
	}
}
