// Package app wires storage, the remote store, and the client-side services into one
// Client the CLI drives.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"labportal/client/internal/accounts"
	"labportal/client/internal/admin"
	"labportal/client/internal/apperr"
	"labportal/client/internal/config"
	"labportal/client/internal/feedback"
	"labportal/client/internal/guard"
	"labportal/client/internal/logging"
	"labportal/client/internal/metrics"
	"labportal/client/internal/rbac"
	"labportal/client/internal/remote"
	"labportal/client/internal/search"
	"labportal/client/internal/session"
	"labportal/client/internal/store"
)

type Client struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Registry

	kv       store.KV
	remote   *remote.Client
	session  *session.Store
	feedback *feedback.Cache
	accounts *accounts.Service
	admin    *admin.Service
	search   *search.Service
	meili    *search.Meili

	unsubscribe func()
}

// New builds every component from cfg and hydrates the persisted session.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Client, error) {
	logger = logging.OrNop(logger)
	kv, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(ctx, cfg, kv, logger), nil
}

// NewWithStore is New with the session storage supplied by the caller. The client
// closes kv on Close when it implements store.Closer.
func NewWithStore(ctx context.Context, cfg config.Config, kv store.KV, logger *zap.Logger) *Client {
	logger = logging.OrNop(logger)
	reg := metrics.New()
	rc := remote.New(cfg.APIBaseURL, remote.WithLogger(logger), remote.WithTimeout(cfg.RequestTimeout))
	sess := session.New(kv, cfg.SessionKey, logger, reg)
	cache := feedback.New(rc, feedback.Options{
		Logger:          logger,
		Metrics:         reg,
		MutationTimeout: cfg.MutationTimeout,
	})

	var meiliClient *search.Meili
	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey, logger)
		index = meiliClient
	}
	searchService := search.NewService(index, search.NewMemory(func() []remote.Feedback {
		return cache.Snapshot().Items
	}), logger)
	if meiliClient != nil {
		meiliClient.OnRecover(searchService.Reindex)
	}

	c := &Client{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "app")),
		metrics:  reg,
		kv:       kv,
		remote:   rc,
		session:  sess,
		feedback: cache,
		accounts: accounts.NewService(rc, sess, logger, reg),
		admin:    admin.NewService(rc, sess, logger, reg),
		search:   searchService,
		meili:    meiliClient,
	}
	c.unsubscribe = cache.Subscribe(func(e feedback.Entry) {
		searchService.Sync(e.Items)
	})

	sess.Hydrate(ctx)
	return c
}

// OpenStore opens the session storage backend named by cfg.StorageBackend.
func OpenStore(ctx context.Context, cfg config.Config) (store.KV, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		return store.NewMemory(), nil
	case config.BackendFile:
		return store.NewFile(cfg.StorageDir, cfg.StorageSecret)
	case config.BackendRedis:
		return store.NewRedis(cfg.RedisURL)
	case config.BackendPostgres:
		return store.OpenPostgres(ctx, cfg.DatabaseURL)
	case config.BackendS3:
		return store.NewObject(ctx, store.ObjectConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func (c *Client) Session() session.State {
	return c.session.Snapshot()
}

func (c *Client) Accounts() *accounts.Service {
	return c.accounts
}

func (c *Client) Admin() *admin.Service {
	return c.admin
}

func (c *Client) Feedback() *feedback.Cache {
	return c.feedback
}

func (c *Client) Metrics() *metrics.Registry {
	return c.metrics
}

// Navigate resolves path against the current session.
func (c *Client) Navigate(path string) guard.Decision {
	d := guard.Resolve(path, c.session.Snapshot())
	if !d.Allow {
		c.logger.Debug("navigation redirected",
			zap.String("path", d.Path),
			zap.String("redirect", d.Redirect),
			zap.Bool("not_found", d.NotFound))
	}
	return d
}

// CreateFeedback posts text as the logged-in user.
func (c *Client) CreateFeedback(ctx context.Context, text string) (remote.Feedback, error) {
	state := c.session.Snapshot()
	if !state.LoggedIn || !rbac.Can(state.Identity.Role, rbac.ActionPostFeedback) {
		return remote.Feedback{}, apperr.ErrUnauthorized
	}
	return c.feedback.Create(ctx, feedback.Author{ID: state.Identity.ID, Name: state.Identity.Name}, text)
}

// RemoveFeedback deletes an item. Only administrators may; anyone else is refused
// before any network call.
func (c *Client) RemoveFeedback(ctx context.Context, id remote.ID) error {
	state := c.session.Snapshot()
	if !state.IsAdmin() || !rbac.Can(state.Identity.Role, rbac.ActionDeleteFeedback) {
		return apperr.ErrUnauthorized
	}
	return c.feedback.Remove(ctx, id)
}

// RefreshFeedback refetches the collection, superseding any refresh in flight, and
// waits for the result.
func (c *Client) RefreshFeedback(ctx context.Context) (feedback.Entry, error) {
	select {
	case err := <-c.feedback.Refetch(ctx):
		return c.feedback.Snapshot(), err
	case <-ctx.Done():
		return c.feedback.Snapshot(), apperr.Cancelled(ctx.Err())
	}
}

// SearchFeedback loads the collection if the cache is still empty, then searches.
func (c *Client) SearchFeedback(ctx context.Context, q search.Query) (search.Response, error) {
	if snap := c.feedback.Snapshot(); snap.Tag == 0 {
		if _, err := c.feedback.Load(ctx); err != nil {
			return search.Response{}, err
		}
	}
	return c.search.Search(q), nil
}

// Close tears down in-flight work and releases storage.
func (c *Client) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.accounts.Close()
	c.admin.Close()
	c.feedback.Close()
	c.search.Close()
	if c.meili != nil {
		c.meili.Close()
	}

	var errs []error
	if closer, ok := c.kv.(store.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	return errors.Join(errs...)
}
