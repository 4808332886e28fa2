// Package request runs cancellable remote calls where only the most recently started
// call for a given call-site may change client state.
package request

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"labportal/client/internal/apperr"
	"labportal/client/internal/logging"
)

// Recorder receives coordinator events. metrics.Registry implements it.
type Recorder interface {
	RequestStarted(site string)
	RequestSuperseded(site string)
	StaleDiscarded(site string)
}

type nopRecorder struct{}

func (nopRecorder) RequestStarted(string)    {}
func (nopRecorder) RequestSuperseded(string) {}
func (nopRecorder) StaleDiscarded(string)    {}

// Coordinator owns one call-site. Starting a request cancels the previous one, and
// Commit applies a result only while its generation is current.
type Coordinator struct {
	name    string
	logger  *zap.Logger
	metrics Recorder

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	inFlight bool
}

func NewCoordinator(name string, logger *zap.Logger, rec Recorder) *Coordinator {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Coordinator{
		name:    name,
		logger:  logging.OrNop(logger).With(zap.String("component", "request"), zap.String("site", name)),
		metrics: rec,
	}
}

func (c *Coordinator) Name() string {
	return c.name
}

// InFlight reports whether the current generation has not settled yet.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Commit runs apply while holding the coordinator lock if gen is still current and
// settles the call-site. A stale generation is discarded and Commit returns false.
func (c *Coordinator) Commit(gen uint64, apply func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.metrics.StaleDiscarded(c.name)
		c.logger.Debug("discarding stale result", zap.Uint64("gen", gen), zap.Uint64("current", c.gen))
		return false
	}
	if apply != nil {
		apply()
	}
	c.settleLocked()
	return true
}

// Teardown cancels whatever is outstanding. Results that arrive later are stale.
func (c *Coordinator) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	c.cancel = nil
	c.inFlight = false
}

func (c *Coordinator) settleLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.inFlight = false
}

func (c *Coordinator) begin(parent context.Context) (context.Context, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.metrics.RequestSuperseded(c.name)
		c.logger.Debug("superseding in-flight request", zap.Uint64("gen", c.gen))
	}
	c.gen++
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.inFlight = true
	c.metrics.RequestStarted(c.name)
	return ctx, c.gen
}

// release settles gen without applying anything; used when a request ends cancelled.
func (c *Coordinator) release(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.settleLocked()
	}
}

// Handle is the caller's view of one started request.
type Handle[T any] struct {
	gen  uint64
	done chan struct{}
	val  T
	err  error
}

func (h *Handle[T]) Generation() uint64 {
	return h.gen
}

func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the request finishes. A superseded, torn down, or parent-cancelled
// request yields a Cancelled error even if the transport ignored cancellation.
func (h *Handle[T]) Wait() (T, error) {
	<-h.done
	return h.val, h.err
}

// Start cancels the call-site's outstanding request and runs op in the background
// under a fresh generation. Cancelled requests settle themselves; any other result
// stays in flight until the caller passes its generation to Commit.
func Start[T any](c *Coordinator, parent context.Context, op func(ctx context.Context) (T, error)) *Handle[T] {
	ctx, gen := c.begin(parent)
	h := &Handle[T]{gen: gen, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		val, err := op(ctx)
		switch {
		case ctx.Err() != nil:
			h.err = apperr.Cancelled(ctx.Err())
			c.release(gen)
		case apperr.IsCancelled(err):
			h.err = err
			c.release(gen)
		case err != nil && apperr.KindOf(err) == "":
			h.err = apperr.Network(c.name, 0, err)
		default:
			h.val, h.err = val, err
		}
	}()
	return h
}

// Run is Start followed by Wait.
func Run[T any](c *Coordinator, parent context.Context, op func(ctx context.Context) (T, error)) (T, uint64, error) {
	h := Start(c, parent, op)
	val, err := h.Wait()
	return val, h.gen, err
}
