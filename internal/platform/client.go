package platform

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned for requests abandoned by a client shutdown.
var ErrClosed = errors.New("platform: client closed")

// Request describes one call to the platform API. Immutable once built.
type Request struct {
	Endpoint     string
	Method       string // http.MethodGet or http.MethodPost
	Body         []byte
	RequiresAuth bool
	AllowRetry   bool
}

// TokenSource supplies bearer tokens and can force a refresh. The auth
// package provides the production implementation.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) error
}

// Config assembles a Client. Transport is required; everything else has a
// usable zero value.
type Config struct {
	Transport Transport
	Tokens    TokenSource
	Pacing    *PacingTable
	Backoff   BackoffConfig
	QueueSize int
	Logger    *slog.Logger

	// OnMaintenanceChange is edge-triggered: called once when the platform
	// goes down for maintenance and once when it comes back.
	OnMaintenanceChange func(underMaintenance bool)
}

// Client is the public entry point of the access layer. All calls funnel
// through its sequencer; retry policy lives in one place (execute).
type Client struct {
	transport Transport
	tokens    TokenSource
	pacing    *PacingTable
	backoff   *Backoff
	seq       *Sequencer
	log       *slog.Logger

	onMaintenance func(bool)
	maintMu       sync.Mutex
	inMaintenance bool

	// Test seams; real clock and sleeper in production.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	maxHTTPAttempts      int
	maxTransportAttempts int
	transientBase        time.Duration
}

// NewClient builds a Client from cfg. Call Start before issuing requests.
func NewClient(cfg Config) *Client {
	pacing := cfg.Pacing
	if pacing == nil {
		pacing = NewPacingTable(nil, 0)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		transport:            cfg.Transport,
		tokens:               cfg.Tokens,
		pacing:               pacing,
		backoff:              NewBackoff(cfg.Backoff),
		seq:                  NewSequencer(pacing, cfg.QueueSize),
		log:                  log,
		onMaintenance:        cfg.OnMaintenanceChange,
		now:                  time.Now,
		sleep:                sleepCtx,
		maxHTTPAttempts:      3,
		maxTransportAttempts: 2,
		transientBase:        time.Second,
	}
}

// Start launches the dispatch worker.
func (c *Client) Start(ctx context.Context) {
	c.seq.Start(ctx)
}

// Close stops the dispatch worker.
func (c *Client) Close() {
	c.seq.Close()
}

// Do issues a request and blocks until its final result. The returned bytes
// are the envelope's business payload. On failure the error is (or wraps) a
// *Failure carrying the classified kind and remote code.
//
// Cancelling ctx after admission stops the wait but not the dispatch: the
// sequencer completes the call to keep pacing bookkeeping truthful.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	family := c.pacing.Lookup(req.Endpoint)

	// err keeps ErrClosed when a shutdown abandons the job before dispatch.
	var payload []byte
	err := error(ErrClosed)
	if seqErr := c.seq.Enqueue(ctx, family, func(runCtx context.Context) {
		payload, err = c.execute(runCtx, req, family)
	}); seqErr != nil {
		return nil, seqErr
	}
	return payload, err
}

// ThrottleSeverity reports the backoff controller's current severity. Read
// only; for status surfaces.
func (c *Client) ThrottleSeverity() int {
	return c.backoff.Severity()
}

// QueueDepth reports admitted-but-unfinished requests. Read only.
func (c *Client) QueueDepth() int {
	return c.seq.Depth()
}

// UnderMaintenance reports the last observed maintenance state.
func (c *Client) UnderMaintenance() bool {
	c.maintMu.Lock()
	defer c.maintMu.Unlock()
	return c.inMaintenance
}

func (c *Client) setMaintenance(down bool) {
	c.maintMu.Lock()
	changed := c.inMaintenance != down
	c.inMaintenance = down
	c.maintMu.Unlock()

	if changed {
		c.log.Warn("Platform maintenance state changed", "under_maintenance", down)
		if c.onMaintenance != nil {
			c.onMaintenance(down)
		}
	}
}
