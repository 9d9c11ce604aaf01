package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/layer-3/sessionkit/core"
	"github.com/layer-3/sessionkit/logging"
	"github.com/layer-3/sessionkit/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/layer-3/sessionkit/transport/http"

const (
	triggerProactive = "proactive"
	triggerReactive  = "reactive"
)

// SessionSource is the view of the session the pipeline needs
type SessionSource interface {
	// AccessCredential returns the credential currently held, if any
	AccessCredential() core.Credential

	// RenewFrom obtains a fresh access credential to replace stale, sharing
	// any renewal already in flight
	RenewFrom(ctx context.Context, stale core.Credential) (core.Credential, error)
}

// Pipeline is an http.RoundTripper that attaches the access credential to
// every request and repairs it when it is expired or rejected.
type Pipeline struct {
	source  SessionSource
	next    http.RoundTripper
	skew    time.Duration
	now     func() time.Time
	logger  logging.Logger
	metrics metrics.Recorder
	tracer  trace.Tracer
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithTransport sets the underlying transport (default http.DefaultTransport)
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Pipeline) { p.next = rt }
}

// WithSkew sets the expiry skew buffer (default core.DefaultSkew)
func WithSkew(skew time.Duration) Option {
	return func(p *Pipeline) { p.skew = skew }
}

// WithClock overrides the time source used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer sets the tracer used for renewal and replay spans
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// NewPipeline creates a pipeline in front of source
func NewPipeline(source SessionSource, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:  source,
		next:    http.DefaultTransport,
		skew:    core.DefaultSkew,
		now:     time.Now,
		logger:  logging.Nop,
		metrics: metrics.Nop,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Client returns an http.Client that sends every request through p.
func (p *Pipeline) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: p, Timeout: timeout}
}

// RoundTrip implements http.RoundTripper.
//
// A request carrying a credential that is expired (minus skew) waits for a
// renewal before it is sent. A 401 on a request sent with a credential is
// replayed exactly once with a renewed credential; the replay's response is
// returned as-is whatever its status.
func (p *Pipeline) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	body, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	access := p.source.AccessCredential()
	if !access.IsZero() && core.IsExpired(access, p.now(), p.skew) {
		p.logger.Debugf("access credential expired before %s, renewing", describe(req))
		access, err = p.renew(ctx, triggerProactive, access)
		if err != nil {
			p.metrics.RequestFailed(core.KindOf(err))
			return nil, err
		}
	}

	resp, err := p.send(req, access, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || access.IsZero() {
		p.observe(resp)
		return resp, nil
	}

	drain(resp)

	// Another trigger may already have renewed while this request was out.
	next := p.source.AccessCredential()
	if next.IsZero() || next == access {
		next, err = p.renew(ctx, triggerReactive, access)
		if err != nil {
			p.metrics.RequestFailed(core.KindOf(err))
			return nil, err
		}
	}

	return p.replay(req, next, body)
}

func (p *Pipeline) renew(ctx context.Context, trigger string, stale core.Credential) (core.Credential, error) {
	ctx, span := p.tracer.Start(ctx, "sessionkit.renew", trace.WithAttributes(
		attribute.String("sessionkit.trigger", trigger),
	))
	defer span.End()

	cred, err := p.source.RenewFrom(ctx, stale)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "renewal failed")
		return "", fmt.Errorf("%s renewal: %w", trigger, err)
	}
	return cred, nil
}

func (p *Pipeline) replay(req *http.Request, access core.Credential, body bodyFactory) (*http.Response, error) {
	_, span := p.tracer.Start(req.Context(), "sessionkit.replay")
	defer span.End()

	p.metrics.RequestReplayed()
	p.logger.Debugf("replaying %s with renewed credential", describe(req))

	resp, err := p.send(req, access, body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	p.observe(resp)
	return resp, nil
}

func (p *Pipeline) send(req *http.Request, access core.Credential, body bodyFactory) (*http.Response, error) {
	out := req.Clone(req.Context())
	if !access.IsZero() {
		out.Header.Set("Authorization", "Bearer "+access.String())
	}

	b, err := body()
	if err != nil {
		return nil, err
	}
	out.Body = b

	resp, err := p.next.RoundTrip(out)
	if err != nil {
		p.metrics.RequestFailed(core.KindNetwork)
		return nil, err
	}
	return resp, nil
}

func (p *Pipeline) observe(resp *http.Response) {
	if kind := core.KindForStatus(resp.StatusCode); kind != core.KindNone {
		p.metrics.RequestFailed(kind)
	}
}

type bodyFactory func() (io.ReadCloser, error)

// replayableBody returns a factory yielding a fresh copy of the request body
// for every send. The original body is consumed and closed.
func replayableBody(req *http.Request) (bodyFactory, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return func() (io.ReadCloser, error) { return http.NoBody, nil }, nil
	}

	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}

	buf, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}, nil
}
