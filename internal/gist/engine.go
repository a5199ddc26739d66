// Package gist evaluates validated query specs against a store: it orders,
// filters, windows and projects flat listings and walks hierarchies.
package gist

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/entityloader"
	"github.com/rpattn/gist/internal/filter"
	"github.com/rpattn/gist/internal/metrics"
	"github.com/rpattn/gist/internal/query"
	"github.com/rpattn/gist/internal/registry"
	"github.com/rpattn/gist/internal/repository"
)

// ErrInternal replaces storage failures in responses. The cause is logged.
var ErrInternal = errors.New("internal error while evaluating query")

// Recorder receives one observation per finished query.
type Recorder interface {
	ObserveQuery(entityType, mode, outcome string, elapsed time.Duration)
}

// Engine answers gist queries. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	registry      *registry.Registry
	store         repository.Reader
	logger        *zap.Logger
	recorder      Recorder
	tracer        trace.Tracer
	options       query.Options
	offlineLevels int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger; storage failures are logged here.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithTracer sets the tracer used for engine spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithQueryOptions sets paging and depth limits.
func WithQueryOptions(opts query.Options) Option {
	return func(e *Engine) {
		e.options = opts
	}
}

// WithOfflineLevels bounds offline traversal depth below each root; zero
// means unlimited.
func WithOfflineLevels(levels int) Option {
	return func(e *Engine) {
		if levels >= 0 {
			e.offlineLevels = levels
		}
	}
}

// NewEngine creates an engine over store for the types of reg.
func NewEngine(reg *registry.Registry, store repository.Reader, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		store:    store,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("github.com/rpattn/gist/internal/gist"),
		options:  query.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the engine validates against.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Parse validates params for typeName without touching storage.
func (e *Engine) Parse(typeName string, params url.Values) (*query.Spec, error) {
	return query.Parse(e.registry, typeName, params, e.options)
}

// Query parses and executes one request.
func (e *Engine) Query(ctx context.Context, typeName string, params url.Values) (*Envelope, error) {
	start := time.Now()
	spec, err := e.Parse(typeName, params)
	if err != nil {
		e.observe(typeName, domain.ModeNone, start, err)
		return nil, err
	}
	return e.Execute(ctx, spec)
}

// Execute evaluates a validated spec.
func (e *Engine) Execute(ctx context.Context, spec *query.Spec) (env *Envelope, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "gist.Query", trace.WithAttributes(
		attribute.String("gist.type", spec.Type.Name),
		attribute.String("gist.mode", spec.Mode.String()),
	))
	defer func() {
		err = e.sanitize(ctx, spec.Type.Name, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.observe(spec.Type.Name, spec.Mode, start, err)
	}()

	lookup := e.lookup(ctx)
	switch spec.Mode {
	case domain.ModeOffline, domain.ModeTree:
		return e.hierarchy(ctx, spec, lookup)
	default:
		return e.flat(ctx, spec, repository.ListQuery{}, lookup)
	}
}

// Object projects a single record. A missing id yields repository.ErrNotFound.
func (e *Engine) Object(ctx context.Context, typeName, id string, params url.Values) (doc Document, err error) {
	start := time.Now()
	defer func() {
		err = e.sanitize(ctx, typeName, err)
		e.observe(typeName, domain.ModeNone, start, err)
	}()

	spec, err := e.Parse(typeName, objectParams(params))
	if err != nil {
		return Document{}, err
	}
	lookup := e.lookup(ctx)
	found, err := lookup.Records(ctx, spec.Type.Name, []string{id})
	if err != nil {
		return Document{}, err
	}
	if len(found) == 0 {
		return Document{}, fmt.Errorf("%s %s: %w", typeName, id, repository.ErrNotFound)
	}
	docs, err := projector{lookup: lookup}.project(ctx, found, spec.Fields)
	if err != nil {
		return Document{}, err
	}
	return docs[0], nil
}

// Property renders one property of a record. To-many properties are listed
// as a paged collection of the target type, shaped by params; any other
// property yields its bare value.
func (e *Engine) Property(ctx context.Context, typeName, id, property string, params url.Values) (result any, err error) {
	start := time.Now()
	defer func() {
		err = e.sanitize(ctx, typeName, err)
		e.observe(typeName, domain.ModeNone, start, err)
	}()

	t, err := e.registry.Describe(typeName)
	if err != nil {
		return nil, err
	}
	chain, err := e.registry.ResolvePath(t, property)
	if err != nil {
		return nil, err
	}
	if len(chain) != 1 {
		return nil, domain.NewQueryError(domain.ErrInvalidField, property,
			"Property `%s` must name a property of %s directly.", property, t.Name)
	}
	p := chain[0]

	lookup := e.lookup(ctx)
	found, err := lookup.Records(ctx, t.Name, []string{id})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%s %s: %w", typeName, id, repository.ErrNotFound)
	}
	owner := found[0]

	if p.Kind != domain.KindToMany {
		return terminalValue(p, owner, query.TransformNone), nil
	}

	spec, err := e.Parse(p.Target.Name, params)
	if err != nil {
		return nil, err
	}
	if spec.Mode != domain.ModeNone {
		return nil, domain.NewQueryError(domain.ErrConflictingHierarchyMode, property,
			"Hierarchy modes cannot be used when listing property `%s`.", property)
	}
	ids := associatedIDs(p, owner)
	if ids == nil {
		ids = []string{}
	}
	env, err := e.flat(ctx, spec, repository.ListQuery{IDs: ids}, lookup)
	if err != nil {
		return nil, err
	}
	env.Collection = p.Name
	return env, nil
}

// flat runs a paged listing; base carries restrictions set by the caller.
func (e *Engine) flat(ctx context.Context, spec *query.Spec, base repository.ListQuery, lookup filter.Lookup) (*Envelope, error) {
	q := base
	q.Type = spec.Type
	q.Filters = spec.Filters
	q.Junction = spec.Junction
	q.Orders = resolveOrder(spec.Type, spec.Orders)
	q.Offset = spec.Offset()
	q.Limit = spec.PageSize

	total, err := e.store.Count(ctx, q)
	if err != nil {
		return nil, err
	}
	var records []domain.Record
	if q.Offset < total {
		if records, err = e.store.List(ctx, q); err != nil {
			return nil, err
		}
	}
	docs, err := projector{lookup: lookup}.project(ctx, records, spec.Fields)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Pager:      newPager(spec.Page, spec.PageSize, total),
		Collection: spec.Type.Collection,
		Keys:       spec.Keys(),
		Items:      docs,
		Headless:   spec.Headless,
	}, nil
}

func (e *Engine) hierarchy(ctx context.Context, spec *query.Spec, lookup filter.Lookup) (*Envelope, error) {
	var (
		nodes []domain.Record
		err   error
	)
	if spec.Mode == domain.ModeTree {
		nodes, err = e.tree(ctx, spec.Type, spec.AnchorID, lookup)
	} else {
		nodes, err = e.offline(ctx, spec.Type)
	}
	if err != nil {
		return nil, err
	}

	nodes, err = filter.NewEvaluator(lookup).Apply(ctx, nodes, spec.Filters, spec.Junction)
	if err != nil {
		return nil, err
	}
	docs, err := projector{lookup: lookup}.project(ctx, nodes, spec.Fields)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Collection: spec.Type.Collection,
		Keys:       spec.Keys(),
		Items:      docs,
		Headless:   spec.Headless,
	}, nil
}

// lookup prefers the request's batching loader and falls back to the store.
func (e *Engine) lookup(ctx context.Context) filter.Lookup {
	if l := entityloader.FromContext(ctx); l != nil {
		return l
	}
	return entityloader.Direct{Store: e.store}
}

// sanitize passes validation, not-found and cancellation errors through and
// replaces everything else with ErrInternal.
func (e *Engine) sanitize(ctx context.Context, typeName string, err error) error {
	if err == nil {
		return nil
	}
	var qe *domain.QueryError
	switch {
	case errors.As(err, &qe):
		return qe
	case errors.Is(err, repository.ErrNotFound):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	e.logger.Error("query evaluation failed",
		zap.String("type", typeName),
		zap.String("trace_id", trace.SpanContextFromContext(ctx).TraceID().String()),
		zap.Error(err))
	return ErrInternal
}

func (e *Engine) observe(typeName string, mode domain.HierarchyMode, start time.Time, err error) {
	if e.recorder == nil {
		return
	}
	if domain.IsQueryError(err, domain.ErrUnknownEntityType) {
		typeName = "unknown"
	}
	e.recorder.ObserveQuery(typeName, mode.String(), outcome(err), time.Since(start))
}

func outcome(err error) string {
	var qe *domain.QueryError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &qe), errors.Is(err, repository.ErrNotFound):
		return metrics.OutcomeInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeInternal
	}
}

// objectParams keeps only the parameters that shape a single document.
func objectParams(params url.Values) url.Values {
	out := url.Values{}
	if fields, ok := params["fields"]; ok {
		out["fields"] = fields
	}
	return out
}
