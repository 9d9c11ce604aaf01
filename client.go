package sessionkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/layer-3/sessionkit/adapters/events"
	"github.com/layer-3/sessionkit/adapters/issuer"
	"github.com/layer-3/sessionkit/adapters/store"
	"github.com/layer-3/sessionkit/config"
	"github.com/layer-3/sessionkit/core"
	"github.com/layer-3/sessionkit/logging"
	"github.com/layer-3/sessionkit/metrics"
	"github.com/layer-3/sessionkit/permission"
	"github.com/layer-3/sessionkit/ports"
	"github.com/layer-3/sessionkit/service"
	httptransport "github.com/layer-3/sessionkit/transport/http"
	"github.com/redis/go-redis/v9"
)

// Client wires the session layer together: credential storage, the
// session manager, single-flight renewal and the authenticated HTTP client.
type Client struct {
	cfg      *config.Config
	manager  *service.SessionManager
	pipeline *httptransport.Pipeline
	http     *http.Client
	logger   logging.Logger
	closers  []func() error
}

type options struct {
	logger    logging.Logger
	issuer    ports.Issuer
	ephemeral ports.Store
	durable   ports.Store
	events    ports.EventPublisher
	metrics   metrics.Recorder
	now       func() time.Time
	transport http.RoundTripper
}

// Option customizes a Client
type Option func(*options)

// WithLogger sets the logger. By default one is built from the log config.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithIssuer replaces the HTTP issuer client
func WithIssuer(i ports.Issuer) Option {
	return func(o *options) { o.issuer = i }
}

// WithEphemeralStore replaces the in-memory ephemeral tier
func WithEphemeralStore(s ports.Store) Option {
	return func(o *options) { o.ephemeral = s }
}

// WithDurableStore replaces the durable tier built from the storage config
func WithDurableStore(s ports.Store) Option {
	return func(o *options) { o.durable = s }
}

// WithEventPublisher sets where session lifecycle events go
func WithEventPublisher(p ports.EventPublisher) Option {
	return func(o *options) { o.events = p }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m metrics.Recorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides the time source used for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTransport sets the transport requests are sent on after the pipeline
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// New creates a client from cfg. A nil cfg uses config.Default(). The
// session starts unauthenticated; call Restore to pick up a stored one.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{
		metrics:   metrics.Nop,
		now:       time.Now,
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{cfg: cfg}

	if o.logger == nil {
		l, err := logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
		o.logger = l
	}
	c.logger = o.logger

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" && (o.durable == nil || (cfg.Events.Enabled && o.events == nil)) {
		redisOpts, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
		c.closers = append(c.closers, redisClient.Close)
	}

	if o.ephemeral == nil {
		o.ephemeral = store.NewMemoryStore()
	}
	if o.durable == nil {
		if redisClient != nil {
			o.durable = store.NewRedisStore(redisClient,
				store.WithPrefix(cfg.Storage.Prefix),
				store.WithTTL(config.Duration(cfg.Storage.TTL, 0)),
			)
		} else {
			o.logger.Warnf("no redis url configured, remembered sessions will not survive restarts")
			o.durable = store.NewMemoryStore()
		}
	}

	if o.events == nil {
		o.events = ports.NopPublisher{}
		if cfg.Events.Enabled {
			if redisClient == nil {
				o.logger.Warnf("session events need a redis url, publishing disabled")
			} else {
				pub, err := redisstream.NewPublisher(
					redisstream.PublisherConfig{Client: redisClient},
					watermill.NewStdLogger(false, false),
				)
				if err != nil {
					_ = c.Close()
					return nil, fmt.Errorf("failed to create event publisher: %w", err)
				}
				c.closers = append(c.closers, pub.Close)
				o.events = events.NewWatermillPublisher(pub, cfg.Events.Topic)
			}
		}
	}

	if o.issuer == nil {
		o.issuer = issuer.NewHTTPIssuer(cfg.Issuer.URL,
			issuer.WithTimeout(config.Duration(cfg.Issuer.Timeout, issuer.DefaultTimeout)))
	}

	vocabulary := make([]permission.Permission, 0, len(cfg.Session.Permissions))
	for _, p := range cfg.Session.Permissions {
		vocabulary = append(vocabulary, permission.Permission(p))
	}
	skew := config.Duration(cfg.Session.Skew, core.DefaultSkew)

	coordinator := service.NewRefreshCoordinator(
		service.WithRenewalTimeout(config.Duration(cfg.Session.RenewalTimeout, service.DefaultRenewalTimeout)),
		service.WithCoordinatorLogger(o.logger),
		service.WithCoordinatorMetrics(o.metrics),
	)

	c.manager = service.NewSessionManager(
		o.issuer,
		service.NewCredentialStore(o.ephemeral, o.durable),
		coordinator,
		service.WithEvents(o.events),
		service.WithEvaluator(permission.NewEvaluator(vocabulary...)),
		service.WithLogger(o.logger),
		service.WithClock(o.now),
		service.WithSkew(skew),
		service.WithVerifyOnRestore(cfg.Session.VerifyOnRestore),
		service.WithLogoutTimeout(config.Duration(cfg.Session.LogoutTimeout, service.DefaultLogoutTimeout)),
	)

	c.pipeline = httptransport.NewPipeline(c.manager,
		httptransport.WithTransport(o.transport),
		httptransport.WithSkew(skew),
		httptransport.WithClock(o.now),
		httptransport.WithLogger(o.logger),
		httptransport.WithMetrics(o.metrics),
	)
	c.http = c.pipeline.Client(config.Duration(cfg.API.Timeout, 30*time.Second))

	return c, nil
}

// Restore picks up a session persisted by an earlier run
func (c *Client) Restore(ctx context.Context) error {
	return c.manager.Restore(ctx)
}

// Login authenticates and establishes a session. remember selects the
// durable credential tier.
func (c *Client) Login(ctx context.Context, username, password string, remember bool) error {
	return c.manager.Login(ctx, username, password, remember)
}

// Logout terminates the session
func (c *Client) Logout(ctx context.Context) error {
	return c.manager.Terminate(ctx)
}

// Snapshot returns a copy of the session record
func (c *Client) Snapshot() core.Session {
	return c.manager.Snapshot()
}

// IsAuthenticated reports whether a usable access credential is held
func (c *Client) IsAuthenticated() bool {
	return c.manager.IsAuthenticated()
}

// Principal returns the authenticated principal, or nil
func (c *Client) Principal() *core.Principal {
	return c.manager.Principal()
}

// Permissions returns the configured permission vocabulary
func (c *Client) Permissions() []permission.Permission {
	return c.manager.Permissions()
}

// HasPermission reports whether the current credential grants p
func (c *Client) HasPermission(p permission.Permission) bool {
	return c.manager.HasPermission(p)
}

// HasAny reports whether the current credential grants any of ps
func (c *Client) HasAny(ps ...permission.Permission) bool {
	return c.manager.HasAny(ps...)
}

// HasAll reports whether the current credential grants all of ps
func (c *Client) HasAll(ps ...permission.Permission) bool {
	return c.manager.HasAll(ps...)
}

// Session exposes the underlying session manager
func (c *Client) Session() *service.SessionManager {
	return c.manager
}

// HTTPClient returns the client whose requests carry the access credential
// and are repaired on expiry
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// NewRequest builds a request against the configured API base URL. A
// non-nil body is sent as JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	url := path
	if base := c.cfg.API.BaseURL; base != "" && !strings.Contains(path, "://") {
		url = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	}

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return nil, &core.APIError{Kind: core.KindBadRequest, Message: "invalid request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Close releases connections held by the client
func (c *Client) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Fetch sends a request through the client's pipeline and decodes the JSON
// response into T. Failures are *core.APIError values.
func Fetch[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		var zero T
		return zero, err
	}
	return httptransport.DoJSON[T](c.http, req)
}
