// Package feedback keeps a cached, newest-first view of the feedback collection and
// reconciles local create/remove with background refreshes.
package feedback

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"labportal/client/internal/apperr"
	"labportal/client/internal/logging"
	"labportal/client/internal/remote"
	"labportal/client/internal/request"
	"labportal/client/internal/util"
)

const defaultMutationTimeout = 30 * time.Second

// Source is the remote side of the cache. *remote.Client implements it.
type Source interface {
	ListFeedback(ctx context.Context) ([]remote.Feedback, error)
	CreateFeedback(ctx context.Context, f remote.NewFeedback) (remote.Feedback, error)
	DeleteFeedback(ctx context.Context, id remote.ID) error
}

type Recorder interface {
	request.Recorder
	CacheRefresh(result string)
	CacheMutation(op, result string)
}

type nopRecorder struct{}

func (nopRecorder) RequestStarted(string)        {}
func (nopRecorder) RequestSuperseded(string)     {}
func (nopRecorder) StaleDiscarded(string)        {}
func (nopRecorder) CacheRefresh(string)          {}
func (nopRecorder) CacheMutation(string, string) {}

// Entry is an immutable snapshot of the cache. Items must not be modified.
type Entry struct {
	Items []remote.Feedback
	// Tag changes every time Items does.
	Tag       uint64
	Err       error
	Fetching  bool
	UpdatedAt time.Time
}

// Author is who a created item is attributed to.
type Author struct {
	ID   remote.ID
	Name string
}

type Options struct {
	Logger  *zap.Logger
	Metrics Recorder
	// MutationTimeout bounds how long a create/remove key stays reserved if the
	// call never returns.
	MutationTimeout time.Duration
	Now             func() time.Time
}

type Cache struct {
	src     Source
	coord   *request.Coordinator
	logger  *zap.Logger
	metrics Recorder
	now     func() time.Time

	entry     atomic.Pointer[Entry]
	writeMu   sync.Mutex
	refreshMu sync.Mutex
	flight    singleflight.Group

	pending    *gocache.Cache
	pendingTTL time.Duration

	lifetime context.Context
	stop     context.CancelFunc

	changes util.Broadcaster[Entry]
}

func New(src Source, opts Options) *Cache {
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.MutationTimeout <= 0 {
		opts.MutationTimeout = defaultMutationTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := logging.OrNop(opts.Logger)

	lifetime, stop := context.WithCancel(context.Background())
	c := &Cache{
		src:        src,
		coord:      request.NewCoordinator("feedback.list", logger, opts.Metrics),
		logger:     logger.With(zap.String("component", "feedback")),
		metrics:    opts.Metrics,
		now:        opts.Now,
		pending:    gocache.New(opts.MutationTimeout, 2*opts.MutationTimeout),
		pendingTTL: opts.MutationTimeout,
		lifetime:   lifetime,
		stop:       stop,
	}
	c.entry.Store(&Entry{})
	return c
}

// Snapshot never blocks.
func (c *Cache) Snapshot() Entry {
	return *c.entry.Load()
}

// Subscribe registers fn for every published entry. Entries arrive in the order
// they were stored, so the last one fn saw is the current snapshot.
func (c *Cache) Subscribe(fn func(Entry)) (unsubscribe func()) {
	return c.changes.Subscribe(fn)
}

// List returns the cached snapshot and starts a background refresh unless one is
// already running.
func (c *Cache) List(ctx context.Context) Entry {
	c.refreshMu.Lock()
	if c.coord.InFlight() {
		c.refreshMu.Unlock()
		return c.Snapshot()
	}
	h := c.start(ctx)
	c.refreshMu.Unlock()

	go func() { _, _ = c.settle(h) }()
	return c.Snapshot()
}

// Refetch starts a refresh that supersedes any in flight. The channel receives its
// outcome; a superseded refresh reports a Cancelled error.
func (c *Cache) Refetch(ctx context.Context) <-chan error {
	c.refreshMu.Lock()
	h := c.start(ctx)
	c.refreshMu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := c.settle(h)
		done <- err
	}()
	return done
}

// Load refreshes and waits. Concurrent callers share one request, issued with the
// first caller's context.
func (c *Cache) Load(ctx context.Context) (Entry, error) {
	ch := c.flight.DoChan("refresh", func() (any, error) {
		c.refreshMu.Lock()
		h := c.start(ctx)
		c.refreshMu.Unlock()
		return c.settle(h)
	})

	select {
	case res := <-ch:
		entry, _ := res.Val.(Entry)
		return entry, res.Err
	case <-ctx.Done():
		return c.Snapshot(), apperr.Cancelled(ctx.Err())
	}
}

// Create posts a new item and adds the stored record to the cache without a refetch.
func (c *Cache) Create(ctx context.Context, author Author, text string) (remote.Feedback, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return remote.Feedback{}, apperr.Validation("feedback text is required")
	}
	if author.ID == "" {
		return remote.Feedback{}, apperr.ErrUnauthorized
	}

	release, err := c.reserve("create:" + author.ID.String())
	if err != nil {
		c.metrics.CacheMutation("create", "in_progress")
		return remote.Feedback{}, err
	}
	defer release()

	created, err := c.src.CreateFeedback(ctx, remote.NewFeedback{
		Text:     text,
		Date:     c.now().UTC(),
		UserID:   author.ID,
		UserName: author.Name,
	})
	if err != nil {
		err = classify(ctx, "POST /feedbacks", err)
		c.metrics.CacheMutation("create", resultLabel(err))
		c.logger.Warn("create feedback failed", zap.String("user_id", author.ID.String()), zap.Error(err))
		return remote.Feedback{}, err
	}

	c.supersedeInFlight()
	c.publish(func(e *Entry) bool {
		e.Items = upsert(e.Items, created)
		return true
	})
	c.metrics.CacheMutation("create", "ok")
	c.logger.Debug("feedback created", zap.String("id", created.ID.String()))
	return created, nil
}

// Remove deletes id remotely, then locally. Authorization is the caller's job. On
// failure the cache is left as it was.
func (c *Cache) Remove(ctx context.Context, id remote.ID) error {
	release, err := c.reserve("remove:" + id.String())
	if err != nil {
		c.metrics.CacheMutation("remove", "in_progress")
		return err
	}
	defer release()

	if err := c.src.DeleteFeedback(ctx, id); err != nil {
		err = classify(ctx, "DELETE /feedbacks/"+id.String(), err)
		c.metrics.CacheMutation("remove", resultLabel(err))
		c.logger.Warn("remove feedback failed", zap.String("id", id.String()), zap.Error(err))
		return err
	}

	c.supersedeInFlight()
	c.publish(func(e *Entry) bool {
		e.Items = without(e.Items, id)
		return true
	})
	c.metrics.CacheMutation("remove", "ok")
	return nil
}

// Close cancels outstanding refreshes. The last snapshot stays readable.
func (c *Cache) Close() {
	c.stop()
	c.coord.Teardown()
}

func (c *Cache) reserve(key string) (release func(), err error) {
	if err := c.pending.Add(key, struct{}{}, c.pendingTTL); err != nil {
		return nil, apperr.ErrOperationInProgress
	}
	return func() { c.pending.Delete(key) }, nil
}

// supersedeInFlight restarts a running refresh so a response computed before a
// mutation can never overwrite it.
func (c *Cache) supersedeInFlight() {
	c.refreshMu.Lock()
	if !c.coord.InFlight() {
		c.refreshMu.Unlock()
		return
	}
	h := c.start(c.lifetime)
	c.refreshMu.Unlock()

	c.logger.Debug("restarting refresh after local mutation")
	go func() { _, _ = c.settle(h) }()
}

func (c *Cache) start(ctx context.Context) *request.Handle[[]remote.Feedback] {
	c.publish(func(e *Entry) bool {
		e.Fetching = true
		return false
	})
	return request.Start(c.coord, ctx, c.src.ListFeedback)
}

func (c *Cache) settle(h *request.Handle[[]remote.Feedback]) (Entry, error) {
	items, err := h.Wait()
	if apperr.IsCancelled(err) {
		c.metrics.CacheRefresh("cancelled")
		if !c.coord.InFlight() {
			c.publish(func(e *Entry) bool {
				e.Fetching = false
				return false
			})
		}
		return c.Snapshot(), err
	}

	var out Entry
	committed := c.coord.Commit(h.Generation(), func() {
		out = c.store(func(e *Entry) bool {
			e.Fetching = false
			if err != nil {
				e.Err = err
				return false
			}
			e.Items = newestFirst(items)
			e.Err = nil
			e.UpdatedAt = c.now()
			return true
		})
	})
	c.changes.Flush()
	if !committed {
		c.metrics.CacheRefresh("cancelled")
		return c.Snapshot(), apperr.Cancelled(context.Canceled)
	}

	if err != nil {
		c.metrics.CacheRefresh("error")
		c.logger.Warn("feedback refresh failed, keeping cached items", zap.Error(err))
		return out, err
	}
	c.metrics.CacheRefresh("ok")
	return out, nil
}

// publish stores a new entry and delivers it to subscribers.
func (c *Cache) publish(mutate func(e *Entry) bool) Entry {
	next := c.store(mutate)
	c.changes.Flush()
	return next
}

// store applies mutate to a copy of the current entry and queues it for
// subscribers. mutate returns true when it changed Items, which bumps the tag.
func (c *Cache) store(mutate func(e *Entry) bool) Entry {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	next := *c.entry.Load()
	if mutate(&next) {
		next.Tag++
	}
	c.entry.Store(&next)
	c.changes.Queue(next)
	return next
}

func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil && !apperr.IsCancelled(err) {
		return apperr.Cancelled(ctx.Err())
	}
	if apperr.KindOf(err) == "" {
		return apperr.Network(op, 0, err)
	}
	return err
}

func resultLabel(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return string(appErr.Kind)
	}
	return "error"
}

func newestFirst(items []remote.Feedback) []remote.Feedback {
	out := make([]remote.Feedback, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out
}

// upsert returns a new slice with f in date order, replacing any item with its ID.
func upsert(items []remote.Feedback, f remote.Feedback) []remote.Feedback {
	out := make([]remote.Feedback, 0, len(items)+1)
	for _, it := range items {
		if it.ID != f.ID {
			out = append(out, it)
		}
	}
	out = append(out, f)
	return newestFirst(out)
}

func without(items []remote.Feedback, id remote.ID) []remote.Feedback {
	out := make([]remote.Feedback, 0, len(items))
	for _, it := range items {
		if it.ID != id {
			out = append(out, it)
		}
	}
	return out
}
